// Package correction drives homework correction through the LLM gateway,
// validates the structured reply, and plans the artifacts a successful
// correction produces.
package correction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/prompt"
)

// ErrUnparseable is returned when the reply is still invalid after the
// reformat retry.
var ErrUnparseable = errors.New("correction: reply is not a valid correction result")

const schemaURL = "schema://correction.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(prompt.CorrectionSchema))
		if err != nil {
			schemaErr = fmt.Errorf("parse schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add resource: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// StripFences removes a surrounding Markdown code fence, with or without a
// language tag, and any prose before the first "{" or after the last "}".
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(strings.TrimSpace(s), "json")
		}
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if i, j := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); i >= 0 && j > i {
		s = s[i : j+1]
	}
	return s
}

// Parse decodes raw into a correction result. The reply must satisfy the
// JSON Schema and the cross-field invariants; unanswered items come back
// with a nil student answer.
func Parse(raw string) (*domain.CorrectionResult, error) {
	body := StripFences(raw)
	if body == "" {
		return nil, errors.New("empty reply")
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(inst); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	var r domain.CorrectionResult
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if r.Corrections == nil {
		r.Corrections = []domain.CorrectionItem{}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	r.Normalize()
	return &r, nil
}
