// ABOUTME: Group endpoints: lifecycle, chat messages, documents, lesson plan, skills
// ABOUTME: Image attachments travel base64-encoded in the JSON message body

package api

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"

	"github.com/nexuschat/nexus/internal/curriculum"
	"github.com/nexuschat/nexus/internal/group"
	"github.com/nexuschat/nexus/internal/identity"
	"github.com/nexuschat/nexus/internal/store"
)

// RegisterGroupRoutes registers the group route tree.
func (h *Handler) RegisterGroupRoutes(r chi.Router) {
	r.Route("/api/groups", func(r chi.Router) {
		r.Post("/", h.CreateGroup)
		r.Get("/", h.ListGroups)
		r.Route("/{groupID}", func(r chi.Router) {
			r.Post("/members", h.AddMembers)
			r.Delete("/members", h.RemoveMembers)
			r.Get("/messages", h.GetMessages)
			r.Post("/messages", h.SendMessage)
			r.Post("/documents", h.UploadDocuments)
			r.Get("/documents/{docID}", h.DownloadDocument)
			r.Get("/lesson", h.GetLessonPlan)
			r.Get("/skills", h.GetSkills)
		})
	})
}

type createGroupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// CreateGroup creates a group with the caller as admin.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		Error(w, http.StatusBadRequest, "name is required")
		return
	}

	created, err := h.groups.Create(r.Context(), req.Name, identity.UserIDFromContext(r.Context()), req.Members)
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusCreated, created)
}

// ListGroups returns every group the caller belongs to.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.ListForUser(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, groups)
}

type membersRequest struct {
	Members []string `json:"members"`
}

// AddMembers adds members to a group; admin only.
func (h *Handler) AddMembers(w http.ResponseWriter, r *http.Request) {
	var req membersRequest
	if err := decode(r, &req); err != nil || len(req.Members) == 0 {
		Error(w, http.StatusBadRequest, "members is required")
		return
	}

	updated, err := h.groups.AddMembers(r.Context(), chi.URLParam(r, "groupID"), identity.UserIDFromContext(r.Context()), req.Members)
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, updated)
}

// RemoveMembers removes members from a group; admin only.
func (h *Handler) RemoveMembers(w http.ResponseWriter, r *http.Request) {
	var req membersRequest
	if err := decode(r, &req); err != nil || len(req.Members) == 0 {
		Error(w, http.StatusBadRequest, "members is required")
		return
	}

	updated, err := h.groups.RemoveMembers(r.Context(), chi.URLParam(r, "groupID"), identity.UserIDFromContext(r.Context()), req.Members)
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, updated)
}

// GetMessages returns a group's chat history with sender display fields.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	grp, err := h.groups.Get(r.Context(), groupID)
	if err != nil {
		h.fail(w, err)
		return
	}
	msgs, err := h.groups.Messages(r.Context(), groupID)
	if err != nil {
		h.fail(w, err)
		return
	}

	byID := make(map[string]*store.User, len(grp.Members))
	for _, m := range grp.Members {
		byID[m.ID] = m
	}

	out := make([]group.MessagePayload, 0, len(msgs))
	for _, msg := range msgs {
		p := group.MessagePayload{GroupMessage: msg}
		if msg.IsAssistant {
			p.SenderName = "Nexus AI"
		} else if sender, ok := byID[msg.SenderID]; ok {
			p.SenderName = sender.Name
			p.SenderProfilePic = sender.ProfilePic
		}
		out = append(out, p)
	}
	JSON(w, http.StatusOK, out)
}

type sendMessageRequest struct {
	Text  string `json:"text"`
	Image string `json:"image,omitempty"` // base64-encoded attachment
}

// SendMessage posts a message to the group chat.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decode(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" && req.Image == "" {
		Error(w, http.StatusBadRequest, "message is empty")
		return
	}

	var image []byte
	if req.Image != "" {
		var err error
		image, err = base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			Error(w, http.StatusBadRequest, "image is not valid base64")
			return
		}
	}

	msg, err := h.groups.SendMessage(r.Context(), chi.URLParam(r, "groupID"), identity.UserIDFromContext(r.Context()), req.Text, image)
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusCreated, msg)
}

// UploadDocuments accepts a multipart batch of study documents.
func (h *Handler) UploadDocuments(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	var files []group.UploadedFile
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			f, err := header.Open()
			if err != nil {
				Error(w, http.StatusBadRequest, fmt.Sprintf("opening %s: %v", header.Filename, err))
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				Error(w, http.StatusBadRequest, fmt.Sprintf("reading %s: %v", header.Filename, err))
				return
			}
			files = append(files, group.UploadedFile{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}

	res, err := h.groups.UploadDocuments(r.Context(), chi.URLParam(r, "groupID"), identity.UserIDFromContext(r.Context()), files)
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// DownloadDocument streams a stored document's bytes.
func (h *Handler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	doc, rc, err := h.groups.OpenDocument(r.Context(), chi.URLParam(r, "docID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", doc.Filename))
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("document stream interrupted", "doc_id", doc.ID, "error", err)
	}
}

// GetLessonPlan returns the group's merged lesson plan, as JSON or as
// rendered HTML when ?format=html is given.
func (h *Handler) GetLessonPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.groups.LessonPlan(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		h.fail(w, err)
		return
	}

	if r.URL.Query().Get("format") == "html" {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(lessonPlanMarkdown(plan)), &buf); err != nil {
			h.fail(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
		return
	}

	JSON(w, http.StatusOK, map[string]*curriculum.Plan{"lessonPlan": plan})
}

// GetSkills returns per-topic quiz scores for the group's members.
func (h *Handler) GetSkills(w http.ResponseWriter, r *http.Request) {
	skills, err := h.study.SkillsMetrics(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"skills": skills})
}

// lessonPlanMarkdown renders a plan as a markdown outline for HTML conversion.
func lessonPlanMarkdown(plan *curriculum.Plan) string {
	if plan == nil {
		return "_No lesson plan has been built yet._"
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", plan.Course)
	for _, m := range plan.Modules {
		fmt.Fprintf(&b, "## %s\n\n", m.Module)
		for _, lesson := range m.Lessons {
			fmt.Fprintf(&b, "- %s\n", lesson)
		}
		b.WriteString("\n")
	}
	return b.String()
}
