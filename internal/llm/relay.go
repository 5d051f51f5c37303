package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/tbourn/homework-tutor-backend/internal/observability"
)

// RelayOptions configures Relay. OnChunk receives every non-empty chunk and
// the terminal chunk; OnKeepalive fires after each Keepalive of silence. A
// callback error aborts the relay with that error.
type RelayOptions struct {
	Keepalive   time.Duration
	IdleTimeout time.Duration
	OnChunk     func(Chunk) error
	OnKeepalive func() error
}

// RelayResult is what was accumulated before the relay returned. It is
// populated on error too so callers can persist partial content.
type RelayResult struct {
	Content      string
	TokensUsed   int
	FinishReason string
	Keepalives   int
}

type recvResult struct {
	chunk Chunk
	err   error
}

// Relay drains s, racing each Recv against the keepalive and idle timers.
// It closes s before returning. The error is nil only when a terminal chunk
// arrived.
func Relay(ctx context.Context, s Stream, opt RelayOptions) (RelayResult, error) {
	defer s.Close()

	var (
		res  RelayResult
		full strings.Builder
	)

	recv := make(chan recvResult)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			c, err := s.Recv()
			select {
			case recv <- recvResult{c, err}:
			case <-done:
				return
			}
			if err != nil || c.Terminal() {
				return
			}
		}
	}()

	keep := time.NewTimer(opt.Keepalive)
	defer keep.Stop()
	idle := time.NewTimer(opt.IdleTimeout)
	defer idle.Stop()

	finish := func(outcome string, err error) (RelayResult, error) {
		res.Content = full.String()
		observability.LLMRequests.WithLabelValues("stream", outcome).Inc()
		if err == nil {
			observability.LLMTokens.Add(float64(res.TokensUsed))
		}
		return res, err
	}

	for {
		select {
		case <-ctx.Done():
			return finish("error", ctx.Err())

		case <-idle.C:
			return finish("truncated", ErrIdleTimeout)

		case <-keep.C:
			res.Keepalives++
			observability.StreamKeepalives.Inc()
			if opt.OnKeepalive != nil {
				if err := opt.OnKeepalive(); err != nil {
					return finish("error", err)
				}
			}
			keep.Reset(opt.Keepalive)

		case r := <-recv:
			if errors.Is(r.err, io.EOF) {
				return finish("truncated", ErrStreamTruncated)
			}
			if r.err != nil {
				return finish("error", r.err)
			}
			c := r.chunk
			full.WriteString(c.Content)
			c.FullContent = full.String()
			if c.Terminal() {
				res.FinishReason = c.FinishReason
				res.TokensUsed = c.TotalTokens
			}
			if opt.OnChunk != nil && (c.Content != "" || c.Terminal()) {
				if err := opt.OnChunk(c); err != nil {
					return finish("error", err)
				}
			}
			if c.Terminal() {
				return finish("ok", nil)
			}
			keep.Reset(opt.Keepalive)
			idle.Reset(opt.IdleTimeout)
		}
	}
}
