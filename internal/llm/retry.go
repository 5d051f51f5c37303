package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/homework-tutor-backend/internal/observability"
)

// RetryConfig controls unary retries. Backoff holds one wait per retry, so
// its length is the number of additional attempts.
type RetryConfig struct {
	Backoff        []time.Duration
	AttemptTimeout time.Duration

	// Sleep waits between attempts; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig is two retries after 1s and 2s, 30s per attempt.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Backoff:        []time.Duration{time.Second, 2 * time.Second},
		AttemptTimeout: 30 * time.Second,
	}
}

type retryGateway struct {
	inner Gateway
	cfg   RetryConfig
}

// WithRetry wraps g so unary calls retry retriable failures on a fixed
// backoff schedule. Streams are opened once and counted in Relay.
func WithRetry(g Gateway, cfg RetryConfig) Gateway {
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &retryGateway{inner: g, cfg: cfg}
}

func (r *retryGateway) Model() string { return r.inner.Model() }

func (r *retryGateway) ChatCompletion(ctx context.Context, msgs []Message, cfg Config) (Completion, error) {
	log := zerolog.Ctx(ctx)
	var (
		res Completion
		err error
	)
	for attempt := 0; ; attempt++ {
		res, err = r.attempt(ctx, msgs, cfg)
		if err == nil {
			observability.LLMRequests.WithLabelValues("unary", "ok").Inc()
			observability.LLMTokens.Add(float64(res.TokensUsed))
			return res, nil
		}
		if attempt >= len(r.cfg.Backoff) || !Retriable(err) || ctx.Err() != nil {
			break
		}
		wait := r.cfg.Backoff[attempt]
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", wait).Msg("llm call failed, retrying")
		if serr := r.cfg.Sleep(ctx, wait); serr != nil {
			err = serr
			break
		}
	}
	observability.LLMRequests.WithLabelValues("unary", "error").Inc()
	if res.Error == "" {
		res = Failed(r.inner.Model(), err)
	}
	res.Success = false
	return res, err
}

func (r *retryGateway) attempt(ctx context.Context, msgs []Message, cfg Config) (Completion, error) {
	if r.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()
	}
	return r.inner.ChatCompletion(ctx, msgs, cfg)
}

func (r *retryGateway) ChatCompletionStream(ctx context.Context, msgs []Message, cfg Config) (Stream, error) {
	s, err := r.inner.ChatCompletionStream(ctx, msgs, cfg)
	if err != nil {
		observability.LLMRequests.WithLabelValues("stream", "error").Inc()
	}
	return s, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
