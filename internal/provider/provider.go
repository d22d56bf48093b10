// ABOUTME: Completion provider adapter: one opaque generate call over turn history
// ABOUTME: Accepts mixed text/inline-binary parts; no streaming is consumed

package provider

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the provider answers without any usable text
var ErrEmptyResponse = errors.New("provider returned empty response")

// Part is one piece of provider input: text, or an inline binary payload.
// Blob references must be resolved before a part reaches the provider.
type Part struct {
	Text     string
	MimeType string
	Data     []byte
}

// Turn is one role-attributed entry of the ordered history sent with a request
type Turn struct {
	Role  string // "user" or "model"
	Parts []Part
}

// Options tunes a single generate call
type Options struct {
	MaxOutputTokens int
}

// Result is the provider's reply
type Result struct {
	Text string
}

// Provider generates a model response given ordered history plus new turn
// parts. The call is a single round-trip; failures surface to the caller
// unmodified, never replaced with canned text.
type Provider interface {
	Generate(ctx context.Context, history []Turn, parts []Part, opts Options) (*Result, error)
}
