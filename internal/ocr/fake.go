package ocr

import (
	"context"
	"sync"
)

// FakeStep is one scripted Annotate outcome.
type FakeStep struct {
	Result Result
	Err    error
}

// FakeEngine is a deterministic Engine for tests. Steps are consumed in
// order; once exhausted it returns Default.
type FakeEngine struct {
	mu      sync.Mutex
	steps   []FakeStep
	Default Result
	Kinds   []Kind
}

// NewFakeEngine creates a FakeEngine with scripted steps.
func NewFakeEngine(steps ...FakeStep) *FakeEngine {
	return &FakeEngine{steps: steps}
}

// Annotate returns the next scripted step and records the kind asked for.
func (f *FakeEngine) Annotate(_ context.Context, _ []byte, kind Kind) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Kinds = append(f.Kinds, kind)
	if len(f.steps) == 0 {
		return f.Default, nil
	}
	s := f.steps[0]
	f.steps = f.steps[1:]
	return s.Result, s.Err
}

// Calls returns how many times Annotate ran.
func (f *FakeEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Kinds)
}
