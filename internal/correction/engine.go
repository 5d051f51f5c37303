package correction

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/llm"
	"github.com/tbourn/homework-tutor-backend/internal/observability"
	"github.com/tbourn/homework-tutor-backend/internal/prompt"
)

// Request is one correction job. OnKeepalive, when set, fires during
// provider silence so a streaming caller can keep its client connected.
type Request struct {
	Subject     string
	Note        string
	ImageURLs   []string
	OCRTexts    []string
	OnKeepalive func() error
}

// Outcome is a successful correction.
type Outcome struct {
	Result     *domain.CorrectionResult
	Raw        string
	TokensUsed int
	Attempts   int
	Model      string
	Elapsed    time.Duration
}

// Engine runs corrections. The zero Keepalive and IdleTimeout take 5s and 90s.
type Engine struct {
	Gateway     llm.Gateway
	Config      llm.Config
	Keepalive   time.Duration
	IdleTimeout time.Duration
}

func NewEngine(g llm.Gateway, cfg llm.Config) *Engine {
	return &Engine{Gateway: g, Config: cfg, Keepalive: 5 * time.Second, IdleTimeout: 90 * time.Second}
}

// Correct sends the images with the correction prompt, parses the reply and
// retries once with a reformat request when the reply is invalid. Upstream
// failures are returned as is; a reply that stays invalid yields
// ErrUnparseable.
func (e *Engine) Correct(ctx context.Context, req Request) (*Outcome, error) {
	ctx, span := observability.Tracer().Start(ctx, "correction.Correct")
	defer span.End()
	span.SetAttributes(attribute.Int("images", len(req.ImageURLs)))

	start := time.Now()
	log := zerolog.Ctx(ctx)
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: prompt.CorrectionSystem()},
		{Role: llm.RoleUser, Content: prompt.CorrectionUser(req.Subject, req.Note, req.OCRTexts), ImageURLs: req.ImageURLs},
	}

	out := &Outcome{Model: e.model()}
	for attempt := 1; attempt <= 2; attempt++ {
		out.Attempts = attempt
		raw, tokens, err := e.complete(ctx, msgs, req.OnKeepalive)
		out.TokensUsed += tokens
		if err != nil {
			observability.Corrections.WithLabelValues("upstream").Inc()
			return nil, fmt.Errorf("correction: %w", err)
		}
		out.Raw = raw
		r, perr := Parse(raw)
		if perr == nil {
			out.Result = r
			out.Elapsed = time.Since(start)
			outcome := "ok"
			if attempt > 1 {
				outcome = "retried"
			}
			observability.Corrections.WithLabelValues(outcome).Inc()
			span.SetAttributes(attribute.Int("questions", r.TotalQuestions), attribute.Int("attempts", attempt))
			return out, nil
		}
		log.Warn().Err(perr).Int("attempt", attempt).Msg("correction reply rejected")
		msgs = append(msgs,
			llm.Message{Role: llm.RoleAssistant, Content: raw},
			llm.Message{Role: llm.RoleUser, Content: prompt.Reformat(perr.Error())},
		)
	}
	observability.Corrections.WithLabelValues("unparseable").Inc()
	return nil, ErrUnparseable
}

func (e *Engine) model() string {
	if e.Config.Model != "" {
		return e.Config.Model
	}
	return e.Gateway.Model()
}

func (e *Engine) complete(ctx context.Context, msgs []llm.Message, onKeepalive func() error) (string, int, error) {
	s, err := e.Gateway.ChatCompletionStream(ctx, msgs, e.Config)
	if err != nil {
		return "", 0, err
	}
	keep, idle := e.Keepalive, e.IdleTimeout
	if keep <= 0 {
		keep = 5 * time.Second
	}
	if idle <= 0 {
		idle = 90 * time.Second
	}
	res, err := llm.Relay(ctx, s, llm.RelayOptions{Keepalive: keep, IdleTimeout: idle, OnKeepalive: onKeepalive})
	if err != nil {
		return "", 0, err
	}
	return res.Content, res.TokensUsed, nil
}
