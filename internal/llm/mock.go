package llm

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"
)

// MockResponse is a canned unary result. A non-nil Err fails the call.
type MockResponse struct {
	Content    string
	TokensUsed int
	Err        error
}

// MockChunk is one scripted stream step. Delay elapses before the step is
// delivered; a non-nil Err is returned from Recv instead of a chunk.
type MockChunk struct {
	Delay        time.Duration
	Content      string
	FinishReason string
	TotalTokens  int
	Err          error
}

// MockStreamScript is a scripted stream. OpenErr fails ChatCompletionStream.
type MockStreamScript struct {
	OpenErr error
	Chunks  []MockChunk
}

// MockCall records one gateway invocation.
type MockCall struct {
	Messages []Message
	Config   Config
	Stream   bool
}

// MockGateway is a deterministic Gateway for tests. Unary responses and
// stream scripts are consumed in FIFO order; an exhausted queue fails with
// ErrProviderUnavailable.
type MockGateway struct {
	mu        sync.Mutex
	responses []MockResponse
	streams   []MockStreamScript
	Calls     []MockCall
}

// NewMockGateway creates a MockGateway with canned unary responses.
func NewMockGateway(responses ...MockResponse) *MockGateway {
	return &MockGateway{responses: responses}
}

// AddResponse appends a canned unary response.
func (m *MockGateway) AddResponse(r MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, r)
}

// AddStream appends a scripted stream.
func (m *MockGateway) AddStream(s MockStreamScript) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams = append(m.streams, s)
}

// AddTextStream scripts a stream that sends parts then a "stop" chunk with tokens.
func (m *MockGateway) AddTextStream(tokens int, parts ...string) {
	chunks := make([]MockChunk, 0, len(parts)+1)
	for _, p := range parts {
		chunks = append(chunks, MockChunk{Content: p})
	}
	chunks = append(chunks, MockChunk{FinishReason: "stop", TotalTokens: tokens})
	m.AddStream(MockStreamScript{Chunks: chunks})
}

// CallCount returns the number of calls made.
func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent call.
func (m *MockGateway) LastCall() MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return MockCall{}
	}
	return m.Calls[len(m.Calls)-1]
}

// Model returns "mock".
func (m *MockGateway) Model() string { return "mock" }

func (m *MockGateway) ChatCompletion(_ context.Context, msgs []Message, cfg Config) (Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Messages: msgs, Config: cfg})
	if len(m.responses) == 0 {
		err := &ErrProviderUnavailable{}
		return Failed("mock", err), err
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	if r.Err != nil {
		return Failed("mock", r.Err), r.Err
	}
	return Completion{Success: true, Content: r.Content, TokensUsed: r.TokensUsed, ModelName: "mock"}, nil
}

func (m *MockGateway) ChatCompletionStream(ctx context.Context, msgs []Message, cfg Config) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Messages: msgs, Config: cfg, Stream: true})
	if len(m.streams) == 0 {
		return nil, &ErrProviderUnavailable{}
	}
	s := m.streams[0]
	m.streams = m.streams[1:]
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	return &mockStream{ctx: ctx, chunks: s.Chunks, closed: make(chan struct{})}, nil
}

type mockStream struct {
	ctx       context.Context
	chunks    []MockChunk
	full      strings.Builder
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *mockStream) Recv() (Chunk, error) {
	if len(s.chunks) == 0 {
		return Chunk{}, io.EOF
	}
	step := s.chunks[0]
	s.chunks = s.chunks[1:]
	if step.Delay > 0 {
		t := time.NewTimer(step.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-s.closed:
			return Chunk{}, io.ErrClosedPipe
		case <-s.ctx.Done():
			return Chunk{}, s.ctx.Err()
		}
	}
	if step.Err != nil {
		s.chunks = nil
		return Chunk{}, step.Err
	}
	s.full.WriteString(step.Content)
	return Chunk{
		Content:      step.Content,
		FullContent:  s.full.String(),
		FinishReason: step.FinishReason,
		TotalTokens:  step.TotalTokens,
	}, nil
}

func (s *mockStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
