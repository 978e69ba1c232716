// Package postgres stores the commerce aggregates in PostgreSQL. Every
// write is a compare-and-swap on the version column.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Zhima-Mochi/minishop-commerce/internal/domain/shared"
)

//go:embed schema.sql
var schema string

var errNilAggregate = shared.NewError(shared.CodeInvalidArgument, "postgres: aggregate is required")

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

type versioned interface {
	CurrentVersion() uint64
	LoadedVersion() uint64
	IsNew() bool
	MarkPersisted()
}

// statement is one SQL command with its arguments.
type statement struct {
	sql  string
	args []any
}

// cas inserts a new aggregate or updates a loaded one. The update must
// carry "version = <loaded>" in its WHERE clause; exists is consulted only
// when no row matched, to tell a stale write from a missing row.
func cas(ctx context.Context, db *pgxpool.Pool, a versioned, what string, insert, update, exists statement) (uint64, error) {
	if a.IsNew() {
		if _, err := db.Exec(ctx, insert.sql, insert.args...); err != nil {
			if isUniqueViolation(err) {
				return 0, shared.ErrConcurrentModification.Detailf("%s already exists", what)
			}
			return 0, fmt.Errorf("postgres: insert %s: %w", what, err)
		}
		a.MarkPersisted()
		return a.CurrentVersion(), nil
	}

	tag, err := db.Exec(ctx, update.sql, update.args...)
	if err != nil {
		return 0, fmt.Errorf("postgres: update %s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		var found bool
		if err := db.QueryRow(ctx, exists.sql, exists.args...).Scan(&found); err != nil {
			return 0, fmt.Errorf("postgres: check %s: %w", what, err)
		}
		if !found {
			return 0, shared.ErrNotFound.Detailf("%s", what)
		}
		return 0, shared.ErrConcurrentModification.Detailf("%s: expected version %d", what, a.LoadedVersion())
	}
	a.MarkPersisted()
	return a.CurrentVersion(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// notFound maps pgx.ErrNoRows to the (nil, false, nil) lookup result.
func notFound(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

func toInt(v uint) int64 { return int64(v) }

func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
