// Package ocr recognizes text in homework photos.
//
// Recognizer wraps an Engine with an image quality gate, a low-confidence
// retry using the alternate recognition kind, and bounded attempts with
// backoff.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind selects the recognition model.
type Kind string

const (
	KindGeneral     Kind = "general"
	KindHandwritten Kind = "handwritten"
	KindTable       Kind = "table"
	KindFormula     Kind = "formula"
)

// ParseKind maps free text to a Kind, defaulting to general.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindHandwritten, KindTable, KindFormula:
		return Kind(s)
	}
	return KindGeneral
}

// alternate returns the fallback kind for low-confidence results.
func (k Kind) alternate() (Kind, bool) {
	switch k {
	case KindGeneral:
		return KindHandwritten, true
	case KindHandwritten:
		return KindGeneral, true
	}
	return "", false
}

// Word is one recognized word with its geometry.
type Word struct {
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Box        [][2]float64 `json:"box,omitempty"`
}

// Result is the recognized content of one image.
type Result struct {
	Text           string        `json:"text"`
	Confidence     float64       `json:"confidence"`
	Words          []Word        `json:"word_info,omitempty"`
	Kind           Kind          `json:"kind"`
	ProcessingTime time.Duration `json:"-"`
}

// Engine performs one recognition call on raw image bytes.
type Engine interface {
	Annotate(ctx context.Context, img []byte, kind Kind) (Result, error)
}

var (
	// ErrQualityReject is matched by every *QualityError.
	ErrQualityReject = errors.New("ocr: image rejected by quality check")

	// ErrExhausted means every attempt failed.
	ErrExhausted = errors.New("ocr: attempts exhausted")

	// ErrDisabled is returned when no engine is configured.
	ErrDisabled = errors.New("ocr: disabled")
)

// QualityError describes why an image was rejected before recognition.
type QualityError struct {
	Reason string
	Value  float64
}

func (e *QualityError) Error() string {
	return fmt.Sprintf("ocr: quality_reject: %s (%.2f)", e.Reason, e.Value)
}

func (e *QualityError) Is(target error) bool { return target == ErrQualityReject }
