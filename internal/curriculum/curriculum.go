// ABOUTME: Builds and merges structured lesson plans from uploaded documents
// ABOUTME: A plan is course -> modules -> lessons, derived via the completion provider

package curriculum

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nexuschat/nexus/internal/conversation"
	"github.com/nexuschat/nexus/internal/store"
	"github.com/nexuschat/nexus/internal/strictjson"
)

const (
	maxModules     = 4
	maxLessons     = 2
	maxTitleLength = 40
)

// Plan is the curriculum artifact derived from one or more source documents.
type Plan struct {
	Course  string   `json:"course"`
	Modules []Module `json:"modules"`
}

// Module groups related lessons under one title.
type Module struct {
	Module  string   `json:"module"`
	Lessons []string `json:"lessons"`
}

// TurnSubmitter defines what the builder needs from the conversation layer
type TurnSubmitter interface {
	SubmitTurn(ctx context.Context, req *conversation.SubmitRequest) (string, error)
}

// Builder derives lesson plans from documents through the conversation layer,
// so every derivation is recorded in the group agent's history.
type Builder struct {
	conversations TurnSubmitter
	logger        *slog.Logger
}

// NewBuilder creates a curriculum Builder.
func NewBuilder(conversations TurnSubmitter, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		conversations: conversations,
		logger:        logger.With("component", "curriculum"),
	}
}

// buildPrompt is the fixed instruction submitted alongside each document.
// Limits here must stay in sync with the normalization constants above.
const buildPrompt = `Analyze the attached study material and produce a structured course outline as strict JSON. Respond with JSON only, no surrounding prose or markdown fences.

The JSON must have this exact shape:
{"course": "<course title>", "modules": [{"module": "<module title>", "lessons": ["<lesson title>"]}]}

Rules:
- At most 4 modules.
- At most 2 lessons per module.
- Every title (course, module, lesson) must be 40 characters or fewer.
- Titles should be concrete and descriptive of the material's actual content.`

// BuildFromDocument submits the fixed instructional prompt plus the document
// payload through the group agent's conversation and parses the reply into a
// normalized Plan. The exchange lands in the agent's history, so later chat
// turns can reference the uploaded material.
func (b *Builder) BuildFromDocument(ctx context.Context, agentID string, participants []string, doc *store.Document, payload []byte) (*Plan, error) {
	reply, err := b.conversations.SubmitTurn(ctx, &conversation.SubmitRequest{
		AgentID:      agentID,
		ScopeType:    "group",
		ScopeID:      doc.GroupID,
		Participants: participants,
		SenderName:   "system",
		Parts: []store.Part{
			{InlineData: &store.InlineData{MimeType: doc.ContentType, Data: payload}},
			{Text: buildPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("lesson derivation failed for %q: %w", doc.Filename, err)
	}

	var plan Plan
	if err := strictjson.Unmarshal(reply, &plan); err != nil {
		return nil, fmt.Errorf("unparseable lesson plan for %q: %w", doc.Filename, err)
	}

	normalize(&plan)
	b.logger.Debug("lesson plan built",
		"filename", doc.Filename,
		"course", plan.Course,
		"modules", len(plan.Modules))

	return &plan, nil
}

// normalize enforces the structural limits regardless of what the model
// returned: module and lesson counts are truncated, titles clipped.
func normalize(plan *Plan) {
	plan.Course = clip(plan.Course)
	if len(plan.Modules) > maxModules {
		plan.Modules = plan.Modules[:maxModules]
	}
	for i := range plan.Modules {
		plan.Modules[i].Module = clip(plan.Modules[i].Module)
		if len(plan.Modules[i].Lessons) > maxLessons {
			plan.Modules[i].Lessons = plan.Modules[i].Lessons[:maxLessons]
		}
		for j, lesson := range plan.Modules[i].Lessons {
			plan.Modules[i].Lessons[j] = clip(lesson)
		}
	}
}

func clip(title string) string {
	runes := []rune(title)
	if len(runes) > maxTitleLength {
		return string(runes[:maxTitleLength])
	}
	return title
}

// Merge folds a list of plans into one. The first plan seeds the accumulator;
// for each later plan, a module whose title already exists has its lessons
// unioned in (exact string equality, first-seen order), and a novel module is
// appended wholesale. Module order is first-seen order. The course title of
// the first plan wins.
//
// Merge is the identity on a single plan, and merging the same plan twice
// yields the same module and lesson sets.
func Merge(plans []*Plan) *Plan {
	if len(plans) == 0 {
		return nil
	}

	merged := &Plan{Course: plans[0].Course}
	index := make(map[string]int)
	for _, mod := range plans[0].Modules {
		index[mod.Module] = len(merged.Modules)
		merged.Modules = append(merged.Modules, Module{
			Module:  mod.Module,
			Lessons: append([]string(nil), mod.Lessons...),
		})
	}

	for _, plan := range plans[1:] {
		for _, mod := range plan.Modules {
			i, ok := index[mod.Module]
			if !ok {
				index[mod.Module] = len(merged.Modules)
				merged.Modules = append(merged.Modules, Module{
					Module:  mod.Module,
					Lessons: append([]string(nil), mod.Lessons...),
				})
				continue
			}
			merged.Modules[i].Lessons = unionLessons(merged.Modules[i].Lessons, mod.Lessons)
		}
	}

	return merged
}

func unionLessons(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, l := range existing {
		seen[l] = struct{}{}
	}
	for _, l := range incoming {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		existing = append(existing, l)
	}
	return existing
}

// ParsePlan decodes a stored lesson-plan JSON blob. Returns nil for empty input.
func ParsePlan(raw json.RawMessage) (*Plan, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("decoding stored lesson plan: %w", err)
	}
	return &plan, nil
}

// EncodePlan encodes a plan for storage.
func EncodePlan(plan *Plan) (json.RawMessage, error) {
	data, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("encoding lesson plan: %w", err)
	}
	return data, nil
}
