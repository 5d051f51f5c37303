package services

import (
	"regexp"
	"strings"
)

// EventType names one step of a streamed turn. A stream follows
//
//	chunk* keepalive* chunk* formula_enhanced? content_finished? error? done
//
// where content_finished is replaced by error when the provider failed.
type EventType string

const (
	EventChunk           EventType = "chunk"
	EventKeepalive       EventType = "keepalive"
	EventFormulaEnhanced EventType = "formula_enhanced"
	EventContentFinished EventType = "content_finished"
	EventError           EventType = "error"
	EventDone            EventType = "done"
)

// Event is one message of a streamed turn. Only the fields relevant to Type
// are set.
type Event struct {
	Type EventType `json:"type"`

	// chunk, content_finished
	Content     string `json:"content,omitempty"`
	FullContent string `json:"full_content,omitempty"`
	TokensUsed  *int   `json:"tokens_used,omitempty"`

	// formula_enhanced
	Formulas []string `json:"formulas,omitempty"`

	// error
	Message     string `json:"message,omitempty"`
	Code        string `json:"code,omitempty"`
	Recoverable *bool  `json:"recoverable,omitempty"`
	Partial     *bool  `json:"partial,omitempty"`

	// done
	QuestionID   string `json:"question_id,omitempty"`
	AnswerID     string `json:"answer_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	SessionTitle string `json:"session_title,omitempty"`
}

// Error codes carried by error events.
const (
	CodeStreamInterrupted = "stream_interrupted"
	CodeCorrectionFailed  = "correction_failed"
	CodeStoreFailed       = "store_failed"
)

// Emitter receives the events of a streamed turn. An error means the client
// is gone; no further events are sent but the turn is still persisted.
type Emitter func(Event) error

// emitter guards an Emitter so that the first failure silences the rest.
type emitter struct {
	fn  Emitter
	err error
}

func (e *emitter) send(ev Event) error {
	if e.err != nil {
		return e.err
	}
	if e.fn == nil {
		return nil
	}
	e.err = e.fn(ev)
	return e.err
}

func (e *emitter) gone() bool { return e.err != nil }

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

var formulaRE = regexp.MustCompile(`(?s)\$\$.+?\$\$|\\\[.+?\\\]|\\\(.+?\\\)|\$[^$\n]+\$`)

// ExtractFormulas returns the distinct LaTeX fragments of s in order of
// first appearance, delimiters included.
func ExtractFormulas(s string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range formulaRE.FindAllString(s, -1) {
		m = strings.TrimSpace(m)
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
