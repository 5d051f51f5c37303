// Package services – HomeworkService
//
// This file implements HomeworkService. Submitting homework stores an
// uploaded submission and hands it to a bounded in-process worker pool; the
// caller gets the submission id back immediately and polls for the result.
//
// A worker moves the submission to processing, runs OCR on every page
// (failures are stored on the page and the pipeline continues with empty
// text), asks the correction engine for a graded result, stores the review
// and materializes mistake records. Any correction failure ends the
// submission in failed with a user-facing message.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/tbourn/homework-tutor-backend/internal/correction"
	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/ocr"
	"github.com/tbourn/homework-tutor-backend/internal/observability"
	"github.com/tbourn/homework-tutor-backend/internal/repo"
)

// HomeworkBusyMessage is stored on submissions whose correction failed.
const HomeworkBusyMessage = "批改服务繁忙，请稍后重新提交"

// PageReader recognizes the text of one page. *ocr.Recognizer satisfies it.
type PageReader interface {
	Recognize(ctx context.Context, src string, kind ocr.Kind) (ocr.Result, error)
}

// HomeworkService accepts submissions and corrects them in the background.
type HomeworkService struct {
	DB        *gorm.DB
	Corrector *correction.Engine
	OCR       PageReader // nil skips OCR
	Context   ContextSource

	MaxImages      int
	ProcessTimeout time.Duration
	OCRKind        ocr.Kind
	Now            func() time.Time

	sem  *semaphore.Weighted
	base context.Context
	mu   sync.Mutex
	wg   sync.WaitGroup
}

// NewHomeworkService creates a service running at most workers corrections
// at a time.
func NewHomeworkService(db *gorm.DB, eng *correction.Engine, reader PageReader, workers int) *HomeworkService {
	if workers <= 0 {
		workers = 2
	}
	return &HomeworkService{
		DB:             db,
		Corrector:      eng,
		OCR:            reader,
		MaxImages:      9,
		ProcessTimeout: 5 * time.Minute,
		OCRKind:        ocr.KindHandwritten,
		Now:            time.Now,
		sem:            semaphore.NewWeighted(int64(workers)),
		base:           context.Background(),
	}
}

// Start sets the context background work runs under. Cancelling it stops
// queued jobs from starting; running jobs finish their current step.
func (s *HomeworkService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = ctx
}

func (s *HomeworkService) baseCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base
}

// Wait blocks until every queued job returned or ctx is done.
func (s *HomeworkService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit stores an uploaded submission and queues it for correction.
func (s *HomeworkService) Submit(ctx context.Context, userID, homeworkID string, imageURLs []string) (*domain.HomeworkSubmission, error) {
	ctx, span := observability.Tracer().Start(ctx, "HomeworkService.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("homework.id", homeworkID))

	urls := make([]string, 0, len(imageURLs))
	for _, u := range imageURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, ErrNoImages
	}
	if s.MaxImages > 0 && len(urls) > s.MaxImages {
		return nil, ErrTooManyImages
	}
	if err := domain.ValidateImageURLs(urls); err != nil {
		return nil, ErrInvalidImageURL
	}

	if _, err := repo.GetHomework(ctx, s.DB, homeworkID); err != nil {
		if isNotFound(err) {
			return nil, ErrHomeworkNotFound
		}
		return nil, err
	}
	sub, err := repo.CreateSubmission(ctx, s.DB, userID, homeworkID, urls)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("submission.id", sub.ID))
	s.enqueue(ctx, sub.ID, userID)
	return sub, nil
}

// Get returns a submission owned by userID with its pages.
func (s *HomeworkService) Get(ctx context.Context, userID, id string) (*domain.HomeworkSubmission, error) {
	ctx, span := observability.Tracer().Start(ctx, "HomeworkService.Get")
	defer span.End()
	span.SetAttributes(attribute.String("submission.id", id))

	sub, err := repo.GetSubmission(ctx, s.DB, id, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// Resume queues submissions left uploaded or processing by a previous run.
func (s *HomeworkService) Resume(ctx context.Context) (int, error) {
	pending, err := repo.ListPendingSubmissions(ctx, s.DB, 0)
	if err != nil {
		return 0, err
	}
	for _, p := range pending {
		s.enqueue(ctx, p.ID, p.UserID)
	}
	return len(pending), nil
}

// enqueue runs Process in the background. The request logger is carried
// over; cancellation of the request is not.
func (s *HomeworkService) enqueue(reqCtx context.Context, id, userID string) {
	log := zerolog.Ctx(reqCtx).With().Str("submission_id", id).Logger()
	base := log.WithContext(s.baseCtx())

	observability.HomeworkQueueDepth.Inc()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer observability.HomeworkQueueDepth.Dec()

		if err := s.sem.Acquire(base, 1); err != nil {
			log.Warn().Err(err).Msg("homework job dropped before start")
			return
		}
		defer s.sem.Release(1)

		ctx, cancel := context.WithCancel(base)
		if s.ProcessTimeout > 0 {
			ctx, cancel = context.WithTimeout(base, s.ProcessTimeout)
		}
		defer cancel()
		if err := s.Process(ctx, id, userID); err != nil {
			log.Error().Err(err).Msg("homework correction failed")
		}
	}()
}

// Process corrects one submission. A submission that another worker already
// finished is skipped. Correction failures are recorded on the submission
// and also returned.
func (s *HomeworkService) Process(ctx context.Context, id, userID string) error {
	ctx, span := observability.Tracer().Start(ctx, "HomeworkService.Process")
	defer span.End()
	span.SetAttributes(attribute.String("submission.id", id), attribute.String("user.id", userID))
	log := zerolog.Ctx(ctx)

	err := repo.TransitionSubmission(ctx, s.DB, id, domain.SubmissionProcessing,
		domain.SubmissionUploaded, domain.SubmissionProcessing)
	if isNotFound(err) {
		log.Debug().Msg("submission no longer pending")
		return nil
	}
	if err != nil {
		return err
	}

	sub, err := repo.GetSubmission(ctx, s.DB, id, userID)
	if err != nil {
		return s.fail(ctx, id, fmt.Errorf("load submission: %w", err))
	}
	hw, err := repo.GetHomework(ctx, s.DB, sub.HomeworkID)
	if err != nil {
		return s.fail(ctx, id, fmt.Errorf("load homework: %w", err))
	}

	texts := s.readPages(ctx, sub.Pages)

	if s.Corrector == nil {
		return s.fail(ctx, id, errors.New("no correction engine configured"))
	}
	out, err := s.Corrector.Correct(ctx, correction.Request{
		Subject:   hw.Subject,
		Note:      hw.Title,
		ImageURLs: sub.ImageList(),
		OCRTexts:  texts,
	})
	if err != nil {
		return s.fail(ctx, id, err)
	}

	if err := repo.SaveSubmissionReview(ctx, s.DB, id, correction.Review(out.Result, s.now())); err != nil {
		return s.fail(ctx, id, fmt.Errorf("save review: %w", err))
	}

	created := 0
	planned := correction.Mistakes(correction.Source{
		UserID:  userID,
		Subject: hw.Subject,
		Kind:    domain.SourceHomework,
		ID:      id,
		OCRText: strings.Join(texts, "\n"),
	}, out.Result)
	for _, m := range planned {
		ok, err := repo.CreateMistakeIfAbsent(ctx, s.DB, m)
		if err != nil {
			log.Warn().Err(err).Int("question_number", m.QuestionNumber).Msg("create mistake failed")
			continue
		}
		if ok {
			created++
			observability.MistakesCreated.WithLabelValues(string(domain.SourceHomework)).Inc()
		}
	}
	if s.Context != nil {
		s.Context.Invalidate(ctx, userID, hw.Subject)
	}
	log.Info().
		Int("questions", out.Result.TotalQuestions).
		Float64("score", out.Result.OverallScore).
		Int("mistakes_created", created).
		Int("attempts", out.Attempts).
		Msg("homework reviewed")
	return nil
}

// readPages runs OCR on every page and stores each outcome. Pages that
// could not be read contribute empty text.
func (s *HomeworkService) readPages(ctx context.Context, pages []domain.HomeworkImage) []string {
	if s.OCR == nil || len(pages) == 0 {
		return nil
	}
	log := zerolog.Ctx(ctx)
	kind := s.OCRKind
	if kind == "" {
		kind = ocr.KindHandwritten
	}

	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		res, err := s.OCR.Recognize(ctx, p.URL, kind)
		upd := repo.ImageOCR{Kind: string(kind), Elapsed: res.ProcessingTime}
		if err != nil {
			log.Warn().Err(err).Int("page", p.Position).Msg("ocr failed, continuing without text")
			msg := err.Error()
			upd.Error = &msg
		} else {
			conf := res.Confidence
			upd.Text = res.Text
			upd.Confidence = &conf
			if res.Kind != "" {
				upd.Kind = string(res.Kind)
			}
		}
		if uerr := repo.UpdateImageOCR(ctx, s.DB, p.ID, upd); uerr != nil {
			log.Warn().Err(uerr).Int("page", p.Position).Msg("store ocr result failed")
		}
		texts = append(texts, upd.Text)
	}
	return texts
}

// fail marks the submission failed and returns cause. The store write does
// not depend on ctx so a timed-out job still records its failure.
func (s *HomeworkService) fail(ctx context.Context, id string, cause error) error {
	if err := repo.FailSubmission(context.WithoutCancel(ctx), s.DB, id, HomeworkBusyMessage); err != nil && !isNotFound(err) {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *HomeworkService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
