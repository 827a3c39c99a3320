package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"resume-mail-import/internal/backoff"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateActiveRun is returned when the live-run unique index rejects an insert
	ErrDuplicateActiveRun = errors.New("an active run already exists for this job")
)

const (
	storeRetryAttempts = 3
	storeRetryBase     = 50 * time.Millisecond
	storeRetryMax      = 500 * time.Millisecond
)

// Repository is the durable store for runs, items and AI jobs. Every state
// transition is a conditional update; callers check the returned bool, where
// false means another invocation moved the row first.
type Repository struct {
	db   *gorm.DB
	inTx bool
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithinTx runs fn with a repository bound to a single transaction. The whole
// transaction is retried when it fails with a transient store error.
func (r *Repository) WithinTx(ctx context.Context, fn func(tx *Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	return backoff.Retry(ctx, storeRetryAttempts, storeRetryBase, storeRetryMax, IsTransient, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&Repository{db: tx, inTx: true})
		})
	})
}

// do runs a single statement, retrying transient failures outside transactions
func (r *Repository) do(ctx context.Context, fn func(db *gorm.DB) error) error {
	if r.inTx {
		return fn(r.db.WithContext(ctx))
	}
	return backoff.Retry(ctx, storeRetryAttempts, storeRetryBase, storeRetryMax, IsTransient, func() error {
		return fn(r.db.WithContext(ctx))
	})
}

// cas runs a guarded update and reports whether it touched a row
func (r *Repository) cas(ctx context.Context, fn func(db *gorm.DB) *gorm.DB) (bool, error) {
	var affected int64
	err := r.do(ctx, func(db *gorm.DB) error {
		res := fn(db)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// IsTransient reports whether err is a connectivity or lock hiccup worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1205, 1213: // lock wait timeout, deadlock
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1062 {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// StatusCount is one row of a GROUP BY status aggregate
type StatusCount struct {
	Status string
	N      int64
}

func toCounts(rows []StatusCount) map[string]int64 {
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts
}
