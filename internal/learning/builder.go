package learning

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/homework-tutor-backend/internal/cache"
	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/lexicon"
	"github.com/tbourn/homework-tutor-backend/internal/observability"
	"github.com/tbourn/homework-tutor-backend/internal/repo"
)

// Mastery sources reported on Context.MasterySource.
const (
	MasteryFromSnapshot = "snapshot"
	MasteryComputed     = "computed"
)

const recentErrorLimit = 10

// Options tunes a Builder. Zero values take the defaults.
type Options struct {
	CacheTTL       time.Duration
	SnapshotMaxAge time.Duration
	Now            func() time.Time
}

// Builder computes learning contexts. It is safe for concurrent use.
type Builder struct {
	DB      *gorm.DB
	Lexicon *lexicon.Lexicon
	Cache   cache.Cache
	opt     Options
}

func NewBuilder(db *gorm.DB, lex *lexicon.Lexicon, c cache.Cache, opt Options) *Builder {
	if lex == nil {
		lex = lexicon.Default()
	}
	if c == nil {
		c = cache.Nop{}
	}
	if opt.SnapshotMaxAge <= 0 {
		opt.SnapshotMaxAge = 7 * day
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Builder{DB: db, Lexicon: lex, Cache: c, opt: opt}
}

func cacheKey(userID, subject string, kind SessionType) string {
	return "learning:" + userID + ":" + subject + ":" + string(kind)
}

// Invalidate drops cached contexts of userID for the blank subject and the
// given subjects.
func (b *Builder) Invalidate(ctx context.Context, userID string, subjects ...string) {
	var keys []string
	for _, s := range append([]string{""}, subjects...) {
		s = normSubject(s)
		keys = append(keys, cacheKey(userID, s, SessionLearning), cacheKey(userID, s, SessionHomework))
	}
	if err := b.Cache.Delete(ctx, keys...); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("learning context cache invalidation failed")
	}
}

// Build returns the context for userID. It never fails: every part that
// cannot be computed falls back to its default.
func (b *Builder) Build(ctx context.Context, userID, subject string, kind SessionType) *Context {
	ctx, span := observability.Tracer().Start(ctx, "learning.Build",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("subject", subject),
		),
	)
	defer span.End()

	subject = normSubject(subject)
	key := cacheKey(userID, subject, kind)
	if c, ok := cache.GetJSON[Context](ctx, b.Cache, key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return &c
	}

	now := b.opt.Now().UTC()
	log := zerolog.Ctx(ctx)
	degraded := func(part string, err error) {
		log.Warn().Err(err).Str("user_id", userID).Str("part", part).Msg("learning context degraded")
	}

	var (
		subs     []domain.HomeworkSubmission
		qs       []domain.Question
		mistakes []domain.MistakeRecord
		total    int64
		snapshot map[string]float64

		subsErr, qsErr, totalErr error
	)

	var g errgroup.Group
	g.SetLimit(4)
	g.Go(func() error {
		subs, subsErr = repo.ListUserSubmissionsSince(ctx, b.DB, userID, now.Add(-HistoryWindow))
		return nil
	})
	g.Go(func() error {
		qs, qsErr = repo.ListUserQuestionsSince(ctx, b.DB, userID, now.Add(-HistoryWindow))
		return nil
	})
	g.Go(func() error {
		total, totalErr = repo.CountUserQuestions(ctx, b.DB, userID)
		return nil
	})
	g.Go(func() error {
		var err error
		mistakes, err = repo.ListUserMistakesSince(ctx, b.DB, userID, now.Add(-ActivityWindow))
		if err != nil {
			degraded("recent_errors", err)
		}
		return nil
	})
	g.Go(func() error {
		snapshot = b.freshSnapshot(ctx, userID, subject, now)
		return nil
	})
	_ = g.Wait()

	out := &Context{
		UserID:              userID,
		Subject:             subject,
		SessionType:         kind,
		GeneratedAt:         now,
		WeakKnowledgePoints: []WeakPoint{},
		LearningPreferences: DefaultPreferences(),
		ContextSummary:      DefaultSummary(),
		KnowledgeMastery:    map[string]float64{},
		MasterySource:       MasteryComputed,
		RecentErrors:        RecentErrors(mistakes, kind, recentErrorLimit),
	}

	if subsErr != nil {
		degraded("submissions", subsErr)
		subs = nil
	}
	if qsErr != nil {
		degraded("questions", qsErr)
		qs = nil
	}
	evidence := append(SubmissionEvidence(subs, subject, b.Lexicon), QuestionEvidence(qs, subject, b.Lexicon)...)
	out.WeakKnowledgePoints = WeakPoints(evidence, now, b.Lexicon)

	if snapshot != nil {
		out.KnowledgeMastery = snapshot
		out.MasterySource = MasteryFromSnapshot
	} else {
		out.KnowledgeMastery = ComputedMastery(evidence, now)
	}

	if totalErr != nil {
		degraded("summary", totalErr)
	} else if qsErr == nil {
		out.LearningPreferences = BuildPreferences(qs, subs, int(total))
		out.ContextSummary = BuildSummary(qs, int(total), out.LearningPreferences.ActiveSubjects, now)
		out.StudyPatterns = BuildPatterns(qs, now)
	}

	span.SetAttributes(attribute.Int("weak_points", len(out.WeakKnowledgePoints)))
	if b.opt.CacheTTL > 0 {
		if err := cache.SetJSON(ctx, b.Cache, key, out, b.opt.CacheTTL); err != nil {
			log.Debug().Err(err).Msg("learning context cache write failed")
		}
	}
	return out
}

// freshSnapshot returns the newest snapshot mastery when it exists and is
// younger than SnapshotMaxAge.
func (b *Builder) freshSnapshot(ctx context.Context, userID, subject string, now time.Time) map[string]float64 {
	s, err := repo.LatestSnapshot(ctx, b.DB, userID, subject)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("snapshot lookup failed")
		}
		return nil
	}
	if now.Sub(s.SnapshotDate.UTC()) > b.opt.SnapshotMaxAge {
		return nil
	}
	m, ok := s.Mastery()
	if !ok {
		zerolog.Ctx(ctx).Warn().Str("snapshot_id", s.ID).Msg("snapshot knowledge points unreadable")
		return nil
	}
	return m
}
