package repo

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a unique-constraint violation. *IntegrityConflict
// values caused by a duplicate key match it via errors.Is.
var ErrDuplicate = errors.New("duplicate")

// IntegrityConflict is returned when a write violates a unique, foreign key
// or check constraint.
type IntegrityConflict struct {
	Op        string
	Duplicate bool
	Err       error
}

func (e *IntegrityConflict) Error() string {
	return fmt.Sprintf("repo: %s: integrity conflict: %v", e.Op, e.Err)
}

func (e *IntegrityConflict) Unwrap() error { return e.Err }

func (e *IntegrityConflict) Is(target error) bool {
	return target == ErrDuplicate && e.Duplicate
}

// StoreError wraps any other storage failure (connectivity, missing table,
// driver errors).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("repo: %s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

// isUniqueViolation detects unique violations across drivers.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	low := strings.ToLower(err.Error())
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}

func isConstraintViolation(err error) bool {
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "foreign key constraint") ||
		strings.Contains(low, "check constraint")
}

// wrap classifies err for op. Not-found passes through unchanged so callers
// can keep matching ErrNotFound.
func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return err
	case isUniqueViolation(err):
		return &IntegrityConflict{Op: op, Duplicate: true, Err: err}
	case isConstraintViolation(err):
		return &IntegrityConflict{Op: op, Err: err}
	}
	return &StoreError{Op: op, Err: err}
}

// escapeLike escapes LIKE wildcards so user search text matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// likeContains builds a case-insensitive "contains" pattern.
func likeContains(s string) string {
	return "%" + escapeLike(strings.ToLower(strings.TrimSpace(s))) + "%"
}

// orderClause maps "-field"/"field" onto a whitelisted column. Unknown
// fields fall back to created_at DESC.
func orderClause(order string, allowed map[string]string) string {
	desc := strings.HasPrefix(order, "-")
	field := strings.TrimPrefix(strings.TrimPrefix(order, "-"), "+")
	col, ok := allowed[field]
	if !ok {
		return "created_at DESC, id DESC"
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return col + " " + dir + ", id " + dir
}

// Page is an offset/limit window plus ordering and free-text search.
type Page struct {
	Offset int
	Limit  int
	Order  string // "-created_at" by default
	Search string
}

func (p Page) apply(q *gorm.DB, allowed map[string]string) *gorm.DB {
	q = q.Order(orderClause(p.Order, allowed))
	if p.Offset > 0 {
		q = q.Offset(p.Offset)
	}
	if p.Limit > 0 {
		q = q.Limit(p.Limit)
	}
	return q
}
