package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
)

func TestUsers_CreateLookupAndLogin(t *testing.T) {
	db := newFullDB(t)
	ctx := context.Background()
	phone := "13800000000"

	u := &domain.User{Phone: &phone, DisplayName: "小明", PasswordHash: "salt:hash"}
	if err := CreateUser(ctx, db, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.Role != domain.RoleStudent || !u.IsActive {
		t.Fatalf("defaults not applied: %+v", u)
	}

	err := CreateUser(ctx, db, &domain.User{Phone: &phone})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate phone = %v; want ErrDuplicate", err)
	}

	got, err := GetUserByPhone(ctx, db, phone)
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetUserByPhone = (%+v, %v)", got, err)
	}

	at := time.Now().UTC()
	if err := RecordLogin(ctx, db, u.ID, at, ""); err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}
	if err := RecordLogin(ctx, db, u.ID, at, "newsalt:newhash"); err != nil {
		t.Fatalf("RecordLogin rehash: %v", err)
	}
	got, _ = GetUser(ctx, db, u.ID)
	if got.LoginCount != 2 || got.PasswordHash != "newsalt:newhash" || got.LastLoginAt == nil {
		t.Fatalf("after logins: %+v", got)
	}
	if err := RecordLogin(ctx, db, "missing", at, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RecordLogin(missing) = %v", err)
	}
}

func TestLatestSnapshot(t *testing.T) {
	db := newFullDB(t)
	ctx := context.Background()
	math := "math"
	old := time.Now().UTC().Add(-10 * 24 * time.Hour)

	for _, s := range []*domain.UserKnowledgeGraphSnapshot{
		{UserID: "u1", SnapshotDate: old, Subject: &math, KnowledgePoints: datatypes.JSON(`[{"name":"函数","mastery":0.3}]`)},
		{UserID: "u1", SnapshotDate: time.Now().UTC(), Subject: &math, KnowledgePoints: datatypes.JSON(`[{"name":"函数","mastery":0.8}]`)},
	} {
		if err := CreateSnapshot(ctx, db, s); err != nil {
			t.Fatalf("CreateSnapshot: %v", err)
		}
	}
	s, err := LatestSnapshot(ctx, db, "u1", "math")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if m, ok := s.Mastery(); !ok || m["函数"] != 0.8 {
		t.Fatalf("latest mastery = %v, %v", m, ok)
	}
	if _, err := LatestSnapshot(ctx, db, "u1", "chinese"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing subject = %v", err)
	}
}
