// Package store is the persistent row store behind the relay: users,
// friendships, location channels, channel membership and live calls.
package store

import (
	"context"
	"errors"

	"github.com/kasuganosora/walkietalkie/server/apperr"
	"gorm.io/gorm"
)

// Store wraps a *gorm.DB. It holds no business rules beyond the row-level
// conditions each operation documents.
type Store struct {
	db *gorm.DB
}

// New creates a Store over an already migrated database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for collaborators that batch their own
// writes (audit).
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// mapErr translates driver errors into the apperr taxonomy. what names the
// row kind for NotFound messages.
func mapErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound(what + " not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperr.Conflict(what + " already exists")
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.StoreUnavailable(err)
}

// affected turns a zero-row write into NotFound.
func affected(res *gorm.DB, what string) error {
	if res.Error != nil {
		return mapErr(res.Error, what)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound(what + " not found")
	}
	return nil
}
