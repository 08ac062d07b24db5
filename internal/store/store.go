// Package store persists verification results in PostgreSQL. Persistence is
// optional: the server only constructs a store when a DSN is configured, and
// verification works identically without one.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hifzlab/tasmee/internal/verify"
)

// ErrNotFound is returned by Get when no record exists under the given ID.
var ErrNotFound = errors.New("store: verification not found")

// Record is a persisted verification result. The embedded result fields
// marshal inline, so API responses carry the same shape as a live result
// plus the storage identity.
type Record struct {
	ID string `json:"id"`
	verify.VerificationResult
	CreatedAt time.Time `json:"created_at"`
}

// DB is the database interface used by [Postgres]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// newID produces a random 16-byte hex string using crypto/rand.
// The resulting string is 32 hex characters and is statistically unique.
func newID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
