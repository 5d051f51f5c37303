// Package services – AuthService
//
// This file implements phone + password registration and login. New
// credentials are always stored as salt:pbkdf2; legacy bcrypt hashes still
// verify and are upgraded on login only when RehashOnLogin is enabled.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/homework-tutor-backend/internal/auth"
	"github.com/tbourn/homework-tutor-backend/internal/domain"
	"github.com/tbourn/homework-tutor-backend/internal/observability"
	"github.com/tbourn/homework-tutor-backend/internal/repo"
)

// MinPasswordLen is the shortest accepted password in runes.
const MinPasswordLen = 6

var phoneRE = regexp.MustCompile(`^\+?[0-9]{6,20}$`)

// RegisterInput is a new account request.
type RegisterInput struct {
	Phone       string
	Password    string
	DisplayName string
	GradeLevel  string
}

// AuthResult is a signed-in user. Token is empty when no signing secret is
// configured.
type AuthResult struct {
	User      *domain.User `json:"user"`
	Token     string       `json:"access_token,omitempty"`
	TokenType string       `json:"token_type,omitempty"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
}

// AuthService registers and signs in users.
type AuthService struct {
	DB            *gorm.DB
	Hasher        auth.Hasher
	Tokens        *auth.Tokens // nil disables token issuance
	RehashOnLogin bool
	Now           func() time.Time
}

func NewAuthService(db *gorm.DB, h auth.Hasher, tokens *auth.Tokens) *AuthService {
	return &AuthService{DB: db, Hasher: h, Tokens: tokens, Now: time.Now}
}

// Register creates a student account and signs it in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "AuthService.Register")
	defer span.End()

	phone := strings.TrimSpace(in.Phone)
	if !phoneRE.MatchString(phone) {
		return nil, ErrInvalidPhone
	}
	if len([]rune(in.Password)) < MinPasswordLen {
		return nil, ErrWeakPassword
	}
	grade := domain.GradeOther
	if g := strings.TrimSpace(in.GradeLevel); g != "" {
		parsed, ok := domain.ParseGradeLevel(g)
		if !ok {
			return nil, ErrInvalidGrade
		}
		grade = parsed
	}

	hash, err := s.Hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	name := clipGraphemes(normalizeTitle(in.DisplayName), 64)
	u := &domain.User{
		Phone:        &phone,
		DisplayName:  name,
		Role:         domain.RoleStudent,
		GradeLevel:   grade,
		PasswordHash: hash,
	}
	if err := repo.CreateUser(ctx, s.DB, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrPhoneTaken
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	zerolog.Ctx(ctx).Info().Str("user_id", u.ID).Msg("user registered")
	return s.signIn(u)
}

// Login verifies credentials and returns a fresh token. Unknown phones,
// wrong passwords and inactive accounts are indistinguishable to callers.
func (s *AuthService) Login(ctx context.Context, phone, password string) (*AuthResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "AuthService.Login")
	defer span.End()
	log := zerolog.Ctx(ctx)

	u, err := repo.GetUserByPhone(ctx, s.DB, strings.TrimSpace(phone))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	ok, err := s.Hasher.Verify(password, u.PasswordHash)
	if err != nil {
		log.Warn().Err(err).Str("user_id", u.ID).Msg("stored password hash unreadable")
		return nil, ErrInvalidCredentials
	}
	if !ok || !u.IsActive {
		return nil, ErrInvalidCredentials
	}

	var newHash string
	if s.RehashOnLogin && s.Hasher.NeedsRehash(u.PasswordHash) {
		if newHash, err = s.Hasher.Hash(password); err != nil {
			log.Warn().Err(err).Str("user_id", u.ID).Msg("rehash failed, keeping legacy hash")
			newHash = ""
		}
	}
	at := s.now().UTC()
	if err := repo.RecordLogin(ctx, s.DB, u.ID, at, newHash); err != nil {
		return nil, err
	}
	u.LoginCount++
	u.LastLoginAt = &at
	if newHash != "" {
		u.PasswordHash = newHash
		log.Info().Str("user_id", u.ID).Msg("legacy password hash upgraded")
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return s.signIn(u)
}

func (s *AuthService) signIn(u *domain.User) (*AuthResult, error) {
	res := &AuthResult{User: u}
	if s.Tokens == nil {
		return res, nil
	}
	tok, exp, err := s.Tokens.Issue(u.ID, string(u.Role))
	if errors.Is(err, auth.ErrNoSecret) {
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.Token, res.TokenType, res.ExpiresAt = tok, "Bearer", &exp
	return res, nil
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
