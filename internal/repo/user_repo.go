// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for User accounts
// and knowledge-graph snapshots.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/homework-tutor-backend/internal/domain"
)

// CreateUser inserts u. A taken phone surfaces as an *IntegrityConflict
// matching ErrDuplicate.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = domain.RoleStudent
	}
	if u.GradeLevel == "" {
		u.GradeLevel = domain.GradeOther
	}
	u.IsActive = true
	return wrap("create user", db.WithContext(ctx).Create(u).Error)
}

// GetUser fetches a user by id.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, wrap("get user", err)
	}
	return &u, nil
}

// GetUserByPhone fetches a user by login phone.
func GetUserByPhone(ctx context.Context, db *gorm.DB, phone string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("phone = ?", phone).First(&u).Error; err != nil {
		return nil, wrap("get user by phone", err)
	}
	return &u, nil
}

// RecordLogin bumps login_count and last_login_at. A non-empty newHash
// replaces the stored password hash in the same statement.
func RecordLogin(ctx context.Context, db *gorm.DB, id string, at time.Time, newHash string) error {
	updates := map[string]any{
		"login_count":   gorm.Expr("COALESCE(login_count, 0) + 1"),
		"last_login_at": at,
		"updated_at":    time.Now().UTC(),
	}
	if newHash != "" {
		updates["password_hash"] = newHash
	}
	res := db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return wrap("record login", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestSnapshot returns the user's newest knowledge snapshot, optionally
// restricted to subject.
func LatestSnapshot(ctx context.Context, db *gorm.DB, userID, subject string) (*domain.UserKnowledgeGraphSnapshot, error) {
	var s domain.UserKnowledgeGraphSnapshot
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if subject != "" {
		q = q.Where("subject = ?", subject)
	}
	if err := q.Order("snapshot_date DESC").First(&s).Error; err != nil {
		return nil, wrap("latest snapshot", err)
	}
	return &s, nil
}

// CreateSnapshot inserts a knowledge snapshot.
func CreateSnapshot(ctx context.Context, db *gorm.DB, s *domain.UserKnowledgeGraphSnapshot) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.SnapshotDate.IsZero() {
		s.SnapshotDate = time.Now().UTC()
	}
	return wrap("create snapshot", db.WithContext(ctx).Create(s).Error)
}
