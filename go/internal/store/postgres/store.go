// Package postgres implements store.Store on database/sql with lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/sqlutil"
	"github.com/mcdev12/olympia/go/internal/store"
)

const uniqueViolation = "23505"

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the Postgres-backed store. A Store bound to a transaction has a
// nil db and runs nested InTx calls inline.
type Store struct {
	db *sql.DB
	q  DBTX
}

var _ store.Store = (*Store)(nil)

// New creates a Store over an open connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	err := sqlutil.Run(ctx, s.db,
		func(tx *sql.Tx) *Store { return &Store{q: tx} },
		func(q *Store) error { return fn(q) },
	)
	if err != nil && isUniqueViolation(err) {
		// deferred constraints surface at COMMIT
		return fmt.Errorf("failed to commit: %w", apperr.Wrap(apperr.KindConflict, "duplicate", err, "record already exists"))
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// mapErr translates driver errors into the apperr taxonomy. notFound is
// returned for sql.ErrNoRows.
func mapErr(err error, notFound error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows) && notFound != nil:
		return fmt.Errorf("%s: %w", msg, notFound)
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", msg, apperr.ErrDuplicate)
	default:
		return fmt.Errorf("failed to %s: %w", msg, err)
	}
}

func toJSON(v any) (pqtype.NullRawMessage, error) {
	if v == nil {
		return pqtype.NullRawMessage{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}, err
	}
	if string(raw) == "null" {
		return pqtype.NullRawMessage{}, nil
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}

func fromJSON(raw pqtype.NullRawMessage, v any) error {
	if !raw.Valid || len(raw.RawMessage) == 0 {
		return nil
	}
	return json.Unmarshal(raw.RawMessage, v)
}

func requireRow(res sql.Result, notFound error, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), notFound)
	}
	return nil
}
