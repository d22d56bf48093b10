// ABOUTME: Tests for the two-stage model output parser
// ABOUTME: Covers clean JSON, fenced/prose-wrapped JSON, and unrecoverable input

package strictjson

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Course string `json:"course"`
}

func TestUnmarshal_StrictJSON(t *testing.T) {
	var p payload
	require.NoError(t, Unmarshal(`{"course":"Algebra"}`, &p))
	assert.Equal(t, "Algebra", p.Course)
}

func TestUnmarshal_CodeFence(t *testing.T) {
	raw := "```json\n{\"course\":\"Algebra\"}\n```"

	var p payload
	require.NoError(t, Unmarshal(raw, &p))
	assert.Equal(t, "Algebra", p.Course)
}

func TestUnmarshal_SurroundingProse(t *testing.T) {
	raw := `Sure! Here is the plan you asked for: {"course":"Algebra"} Hope that helps.`

	var p payload
	require.NoError(t, Unmarshal(raw, &p))
	assert.Equal(t, "Algebra", p.Course)
}

func TestUnmarshal_NestedBraces(t *testing.T) {
	raw := `Result: {"outer":{"course":"Algebra"}} done`

	var p struct {
		Outer payload `json:"outer"`
	}
	require.NoError(t, Unmarshal(raw, &p))
	assert.Equal(t, "Algebra", p.Outer.Course)
}

func TestUnmarshal_NoJSONAtAll(t *testing.T) {
	var p payload
	err := Unmarshal("I could not produce a plan for that.", &p)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "I could not produce a plan for that.", parseErr.Raw)
}

func TestUnmarshal_BrokenJSONBetweenBraces(t *testing.T) {
	var p payload
	err := Unmarshal(`prefix {"course": suffix}`, &p)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.NotNil(t, errors.Unwrap(parseErr))
}

func TestUnmarshal_ReversedBraces(t *testing.T) {
	var p payload
	err := Unmarshal(`} nothing here {`, &p)

	var parseErr *ParseError
	assert.ErrorAs(t, err, &parseErr)
}
