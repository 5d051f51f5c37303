package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordedSleeps struct{ waits []time.Duration }

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func retryUnder(mock *MockGateway) (Gateway, *recordedSleeps) {
	rec := &recordedSleeps{}
	cfg := DefaultRetryConfig()
	cfg.Sleep = rec.sleep
	return WithRetry(mock, cfg), rec
}

func TestRetry_SucceedsOnFirstAttempt(t *testing.T) {
	mock := NewMockGateway(MockResponse{Content: "ok", TokensUsed: 3})
	g, rec := retryUnder(mock)

	res, err := g.ChatCompletion(context.Background(), nil, Config{})
	if err != nil || !res.Success || res.Content != "ok" {
		t.Fatalf("unexpected result: %+v, %v", res, err)
	}
	if mock.CallCount() != 1 || len(rec.waits) != 0 {
		t.Fatalf("calls=%d waits=%v", mock.CallCount(), rec.waits)
	}
}

func TestRetry_BacksOffOneThenTwoSeconds(t *testing.T) {
	down := &ErrProviderUnavailable{Err: errors.New("down")}
	mock := NewMockGateway(MockResponse{Err: down}, MockResponse{Err: &ErrRateLimit{Err: errors.New("slow")}}, MockResponse{Content: "third time"})
	g, rec := retryUnder(mock)

	res, err := g.ChatCompletion(context.Background(), nil, Config{})
	if err != nil || res.Content != "third time" {
		t.Fatalf("unexpected result: %+v, %v", res, err)
	}
	if len(rec.waits) != 2 || rec.waits[0] != time.Second || rec.waits[1] != 2*time.Second {
		t.Fatalf("waits = %v; want [1s 2s]", rec.waits)
	}
}

func TestRetry_GivesUpAfterTwoRetries(t *testing.T) {
	down := &ErrProviderUnavailable{Err: errors.New("down")}
	mock := NewMockGateway(MockResponse{Err: down}, MockResponse{Err: down}, MockResponse{Err: down}, MockResponse{Content: "never"})
	g, _ := retryUnder(mock)

	res, err := g.ChatCompletion(context.Background(), nil, Config{})
	var pu *ErrProviderUnavailable
	if !errors.As(err, &pu) {
		t.Fatalf("err = %v; want ErrProviderUnavailable", err)
	}
	if res.Success || res.Error == "" {
		t.Fatalf("failure must carry a message: %+v", res)
	}
	if mock.CallCount() != 3 {
		t.Fatalf("calls = %d; want 3", mock.CallCount())
	}
}

func TestRetry_DoesNotRetryRejectedRequest(t *testing.T) {
	mock := NewMockGateway(MockResponse{Err: &ErrInvalidResponse{Status: 400, Err: errors.New("bad")}}, MockResponse{Content: "never"})
	g, _ := retryUnder(mock)

	if _, err := g.ChatCompletion(context.Background(), nil, Config{}); err == nil {
		t.Fatalf("expected error")
	}
	if mock.CallCount() != 1 {
		t.Fatalf("calls = %d; want 1", mock.CallCount())
	}
}

func TestRetry_StopsWhenContextCancelled(t *testing.T) {
	mock := NewMockGateway(MockResponse{Err: &ErrProviderUnavailable{}}, MockResponse{Content: "never"})
	cfg := DefaultRetryConfig()
	cfg.Sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }
	g := WithRetry(mock, cfg)

	_, err := g.ChatCompletion(context.Background(), nil, Config{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v; want context.Canceled", err)
	}
}

func TestRetry_StreamPassThrough(t *testing.T) {
	mock := NewMockGateway()
	mock.AddTextStream(4, "a", "b")
	g, _ := retryUnder(mock)
	if g.Model() != "mock" {
		t.Fatalf("model = %q", g.Model())
	}
	s, err := g.ChatCompletionStream(context.Background(), nil, Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	res, err := Relay(context.Background(), s, RelayOptions{Keepalive: testKeepalive, IdleTimeout: testIdle})
	if err != nil || res.Content != "ab" || res.TokensUsed != 4 {
		t.Fatalf("relay = %+v, %v", res, err)
	}
}
