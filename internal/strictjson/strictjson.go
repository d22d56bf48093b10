// ABOUTME: Two-stage JSON parsing for generative model output
// ABOUTME: Strict parse first, then the substring between the outermost braces

package strictjson

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError reports that neither parse stage produced valid JSON
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("response is not valid JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Unmarshal parses raw into v. Models often wrap JSON in prose or code
// fences, so a failed strict parse falls back to the substring between the
// first '{' and the last '}'. If both stages fail, a *ParseError is returned;
// callers must discard v rather than use a partially guessed structure.
func Unmarshal(raw string, v any) error {
	err := json.Unmarshal([]byte(raw), v)
	if err == nil {
		return nil
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return &ParseError{Raw: raw, Err: err}
	}

	if err2 := json.Unmarshal([]byte(raw[start:end+1]), v); err2 != nil {
		return &ParseError{Raw: raw, Err: err2}
	}
	return nil
}
