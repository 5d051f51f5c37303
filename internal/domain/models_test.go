package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.TempDir()+"/domain.db"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(All()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		User{}.TableName():                       "users",
		ChatSession{}.TableName():                "chat_sessions",
		Question{}.TableName():                   "questions",
		Answer{}.TableName():                     "answers",
		Homework{}.TableName():                   "homework",
		HomeworkSubmission{}.TableName():         "homework_submissions",
		HomeworkImage{}.TableName():              "homework_images",
		MistakeRecord{}.TableName():              "mistake_records",
		MistakeReview{}.TableName():              "mistake_reviews",
		MistakeKnowledgePoint{}.TableName():      "mistake_knowledge_points",
		UserKnowledgeGraphSnapshot{}.TableName(): "user_knowledge_graph_snapshots",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t)
	m := db.Migrator()

	for _, tbl := range All() {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}
	if !m.HasIndex(&ChatSession{}, "idx_user_sessions") {
		t.Fatalf("expected index idx_user_sessions")
	}
	if !m.HasIndex(&MistakeRecord{}, "ux_mistake_source") {
		t.Fatalf("expected unique index ux_mistake_source")
	}

	now := time.Now().UTC()
	s := &ChatSession{ID: "s1", UserID: "u1", Title: DefaultSessionTitle, Status: SessionActive, ContextEnabled: true, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("insert session: %v", err)
	}
	q := &Question{ID: "q1", SessionID: "s1", UserID: "u1", Content: "1+1?", QuestionType: QuestionConcept}
	if err := db.Omit("Session", "Answer").Create(q).Error; err != nil {
		t.Fatalf("insert question: %v", err)
	}
	a := &Answer{ID: "a1", QuestionID: "q1", Content: "2"}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("insert answer: %v", err)
	}

	// One answer per question.
	if err := db.Create(&Answer{ID: "a2", QuestionID: "q1", Content: "again"}).Error; err == nil {
		t.Fatalf("expected unique violation on answers.question_id")
	}

	// Hard delete the session: questions and answers go with it.
	if err := db.Unscoped().Delete(&ChatSession{}, "id = ?", "s1").Error; err != nil {
		t.Fatalf("delete session: %v", err)
	}
	var n int64
	db.Model(&Question{}).Count(&n)
	if n != 0 {
		t.Fatalf("questions after cascade = %d; want 0", n)
	}
	db.Model(&Answer{}).Count(&n)
	if n != 0 {
		t.Fatalf("answers after cascade = %d; want 0", n)
	}
}

func TestEnum_UnknownValueDegradesToOther(t *testing.T) {
	db := newDomainDB(t)
	if err := db.Exec(`INSERT INTO chat_sessions (id, user_id, title, status, question_count, total_tokens, context_enabled, created_at, updated_at)
		VALUES ('s9', 'u1', 't', 'frozen', 0, 0, 1, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`).Error; err != nil {
		t.Fatalf("raw insert: %v", err)
	}
	var s ChatSession
	if err := db.First(&s, "id = ?", "s9").Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Status != SessionOther {
		t.Fatalf("status = %q; want %q", s.Status, SessionOther)
	}
}

func TestMistakeSourceUniqueness(t *testing.T) {
	db := newDomainDB(t)
	src := "sub-1"
	m1 := &MistakeRecord{ID: "m1", UserID: "u1", Title: "t", SourceKind: SourceHomework, SourceID: &src, QuestionNumber: 2}
	if err := db.Create(m1).Error; err != nil {
		t.Fatalf("insert m1: %v", err)
	}
	m2 := &MistakeRecord{ID: "m2", UserID: "u1", Title: "t", SourceKind: SourceHomework, SourceID: &src, QuestionNumber: 2}
	if err := db.Create(m2).Error; err == nil {
		t.Fatalf("expected duplicate (source_id, question_number) to be rejected")
	}
	m3 := &MistakeRecord{ID: "m3", UserID: "u1", Title: "t", SourceKind: SourceHomework, SourceID: &src, QuestionNumber: 3}
	if err := db.Create(m3).Error; err != nil {
		t.Fatalf("insert m3: %v", err)
	}

	// Manual records carry no source id and never collide.
	for _, id := range []string{"m4", "m5"} {
		if err := db.Create(&MistakeRecord{ID: id, UserID: "u1", Title: "manual", SourceKind: SourceManual}).Error; err != nil {
			t.Fatalf("insert manual %s: %v", id, err)
		}
	}
}

func TestBlobs_InvalidTreatedAsAbsent(t *testing.T) {
	q := Question{ImageURLs: datatypes.JSON(`["https://cdn.example.com/a.png"]`)}
	if got := q.URLs(); len(got) != 1 {
		t.Fatalf("URLs() = %v; want one url", got)
	}
	q.ImageURLs = datatypes.JSON(`["ftp://x/a.png"]`)
	if got := q.URLs(); got != nil {
		t.Fatalf("URLs() = %v; want nil for invalid scheme", got)
	}
	q.ImageURLs = datatypes.JSON(`{not json`)
	if got := q.URLs(); got != nil {
		t.Fatalf("URLs() = %v; want nil for malformed json", got)
	}

	s := HomeworkSubmission{WeakKnowledgePoints: datatypes.JSON(`[{"name":"方程","error_count":3,"total_count":2}]`)}
	if _, ok := s.KnowledgeStats(); ok {
		t.Fatalf("expected stats with error_count > total_count to be rejected")
	}
	s.AIReviewData = datatypes.JSON(`{"total_questions":2,"corrections":[]}`)
	if _, ok := s.ReviewData(); ok {
		t.Fatalf("expected review data violating invariants to be absent")
	}
}

func TestSnapshotMastery_FallsBackToGraphData(t *testing.T) {
	snap := UserKnowledgeGraphSnapshot{
		KnowledgePoints: datatypes.JSON(`garbage`),
		GraphData:       datatypes.JSON(`{"nodes":[{"name":"函数","mastery":0.4}]}`),
	}
	m, ok := snap.Mastery()
	if !ok || m["函数"] != 0.4 {
		t.Fatalf("Mastery() = %v, %v", m, ok)
	}

	snap.GraphData = nil
	if _, ok := snap.Mastery(); ok {
		t.Fatalf("expected absent mastery when both blobs are unusable")
	}
}

func TestSessionStatus_CanTransition(t *testing.T) {
	cases := []struct {
		from, to SessionStatus
		want     bool
	}{
		{SessionActive, SessionClosed, true},
		{SessionActive, SessionArchived, true},
		{SessionClosed, SessionArchived, true},
		{SessionClosed, SessionActive, false},
		{SessionArchived, SessionActive, false},
		{SessionArchived, SessionClosed, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Fatalf("%s -> %s = %v; want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
