package ocr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/homework-tutor-backend/internal/observability"
)

// LowConfidence triggers one retry with the alternate kind.
const LowConfidence = 0.6

// Options tunes a Recognizer. Zero values take the defaults.
type Options struct {
	BlurThreshold  float64
	AttemptTimeout time.Duration
	Backoff        []time.Duration // waits between attempts; len+1 attempts at most 3
	MaxBytes       int64
	Client         *http.Client // fetches http(s) pages; nil means PublicClient
	Sleep          func(ctx context.Context, d time.Duration) error
	Now            func() time.Time
}

// Recognizer is safe for concurrent use when its Engine is.
type Recognizer struct {
	engine  Engine
	fetcher Fetcher
	opt     Options
}

// NewRecognizer wires an engine with the quality gate and retry policy.
func NewRecognizer(engine Engine, opt Options) *Recognizer {
	if opt.BlurThreshold <= 0 {
		opt.BlurThreshold = DefaultBlur
	}
	if opt.AttemptTimeout <= 0 {
		opt.AttemptTimeout = 30 * time.Second
	}
	if opt.Backoff == nil {
		opt.Backoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	}
	if opt.Sleep == nil {
		opt.Sleep = sleepCtx
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Client == nil {
		opt.Client = PublicClient(opt.AttemptTimeout)
	}
	return &Recognizer{engine: engine, fetcher: Fetcher{Client: opt.Client, MaxBytes: opt.MaxBytes}, opt: opt}
}

const maxAttempts = 3

// Recognize loads src, runs the quality gate, and recognizes it with up to
// three attempts. A *QualityError is returned without retrying; exhaustion
// wraps ErrExhausted around the last failure.
func (r *Recognizer) Recognize(ctx context.Context, src string, kind Kind) (Result, error) {
	if r == nil || r.engine == nil {
		return Result{}, ErrDisabled
	}
	log := zerolog.Ctx(ctx)
	start := r.opt.Now()

	var (
		img     []byte
		lastErr error
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := r.opt.Backoff[min(attempt-1, len(r.opt.Backoff)-1)]
			log.Warn().Err(lastErr).Str("src", src).Int("attempt", attempt).Dur("backoff", wait).Msg("ocr attempt failed, retrying")
			if err := r.opt.Sleep(ctx, wait); err != nil {
				return Result{}, err
			}
		}

		if img == nil {
			b, err := r.fetcher.Fetch(ctx, src)
			if errors.Is(err, ErrQualityReject) || errors.Is(err, ErrBlockedAddress) {
				return Result{}, err
			}
			if err != nil {
				lastErr = err
				continue
			}
			if err := CheckQuality(b, r.opt.BlurThreshold); err != nil {
				observability.OCRAttempts.WithLabelValues(string(kind), "quality_reject").Inc()
				return Result{}, err
			}
			img = b
		}

		res, err := r.annotate(ctx, img, kind)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			continue
		}

		if alt, ok := kind.alternate(); ok && res.Confidence < LowConfidence {
			if second, err := r.annotate(ctx, img, alt); err == nil && second.Confidence > res.Confidence {
				res = second
			}
		}
		res.ProcessingTime = r.opt.Now().Sub(start)
		return res, nil
	}
	return Result{}, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

func (r *Recognizer) annotate(ctx context.Context, img []byte, kind Kind) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opt.AttemptTimeout)
	defer cancel()
	res, err := r.engine.Annotate(ctx, img, kind)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.OCRAttempts.WithLabelValues(string(kind), outcome).Inc()
	if err == nil && res.Kind == "" {
		res.Kind = kind
	}
	return res, err
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
