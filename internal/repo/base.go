package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/wishpot/wishpot-backend/pkg/db"
)

// Base is embedded by domain repositories to share connection handling.
type Base struct {
	db *gorm.DB
}

// NewBase constructs a Base repository backed by the provided GORM connection.
func NewBase(conn *gorm.DB) Base {
	return Base{db: conn}
}

// Rebind returns a Base that runs on tx. A nil tx keeps the current handle.
func (b Base) Rebind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// DB returns the GORM connection bound to the supplied context (if any).
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Locked returns a handle whose next query takes a row lock on Postgres.
func (b Base) Locked(ctx context.Context) *gorm.DB {
	return db.LockForUpdate(b.DB(ctx))
}

// IsNotFound reports gorm's record-not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
