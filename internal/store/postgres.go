package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hifzlab/tasmee/internal/align"
	"github.com/hifzlab/tasmee/internal/verify"
)

// defaultListLimit caps List when the caller does not set a limit.
const defaultListLimit = 50

// Schema is the SQL DDL for the verifications table. Execute it via
// [Postgres.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS verifications (
    id               TEXT PRIMARY KEY,
    surah            INT NOT NULL,
    from_ayah        INT NOT NULL,
    to_ayah          INT NOT NULL,
    accuracy         DOUBLE PRECISION NOT NULL,
    mismatches       JSONB NOT NULL DEFAULT '[]',
    duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    expected_text    TEXT NOT NULL DEFAULT '',
    transcribed_text TEXT NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_verifications_surah ON verifications(surah);
CREATE INDEX IF NOT EXISTS idx_verifications_created ON verifications(created_at DESC);
`

// Postgres persists verification results in a PostgreSQL database.
// Mismatches are serialised as JSONB with canonical position keys.
type Postgres struct {
	db DB
}

// NewPostgres creates a store that uses the given database connection or
// pool. The caller is responsible for calling [Postgres.Migrate] to ensure
// the schema exists before issuing queries.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// verifications table and indexes if they do not already exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Save inserts a finished verification result under a fresh random ID and
// returns the stored record.
func (s *Postgres) Save(ctx context.Context, res verify.VerificationResult) (*Record, error) {
	id, err := newID()
	if err != nil {
		return nil, fmt.Errorf("store: generate id: %w", err)
	}

	mmJSON, err := json.Marshal(emptyMismatches(res.Mismatches))
	if err != nil {
		return nil, fmt.Errorf("store: marshal mismatches: %w", err)
	}

	const query = `
		INSERT INTO verifications (
			id, surah, from_ayah, to_ayah, accuracy,
			mismatches, duration_seconds, expected_text, transcribed_text
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`

	rec := &Record{ID: id, VerificationResult: res}
	err = s.db.QueryRow(ctx, query,
		id, res.Selection.Surah, res.Selection.FromAyah, res.Selection.ToAyah,
		res.AccuracyPercentage, mmJSON, res.DurationSeconds,
		res.ExpectedText, res.TranscribedText,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: save: %w", err)
	}
	return rec, nil
}

// Get retrieves a stored verification by ID. It returns an error wrapping
// [ErrNotFound] when no record exists under that ID.
func (s *Postgres) Get(ctx context.Context, id string) (*Record, error) {
	const query = `
		SELECT id, surah, from_ayah, to_ayah, accuracy,
		       mismatches, duration_seconds, expected_text, transcribed_text,
		       created_at
		FROM verifications
		WHERE id = $1`

	rec, err := scanRecord(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("store: get %q: %w", id, err)
	}
	return rec, nil
}

// List returns stored verifications newest first. A surah greater than zero
// filters to that surah; limit caps the result count, defaulting to 50.
func (s *Postgres) List(ctx context.Context, surah, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var (
		rows pgx.Rows
		err  error
	)
	if surah > 0 {
		const query = `
			SELECT id, surah, from_ayah, to_ayah, accuracy,
			       mismatches, duration_seconds, expected_text, transcribed_text,
			       created_at
			FROM verifications
			WHERE surah = $1
			ORDER BY created_at DESC
			LIMIT $2`
		rows, err = s.db.Query(ctx, query, surah, limit)
	} else {
		const query = `
			SELECT id, surah, from_ayah, to_ayah, accuracy,
			       mismatches, duration_seconds, expected_text, transcribed_text,
			       created_at
			FROM verifications
			ORDER BY created_at DESC
			LIMIT $1`
		rows, err = s.db.Query(ctx, query, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return recs, nil
}

// scanRecord reads one verifications row. The caller maps pgx.ErrNoRows.
func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var mmJSON []byte

	err := row.Scan(
		&rec.ID, &rec.Selection.Surah, &rec.Selection.FromAyah, &rec.Selection.ToAyah,
		&rec.AccuracyPercentage, &mmJSON, &rec.DurationSeconds,
		&rec.ExpectedText, &rec.TranscribedText, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(mmJSON, &rec.Mismatches); err != nil {
		return nil, fmt.Errorf("unmarshal mismatches: %w", err)
	}
	return &rec, nil
}

// emptyMismatches returns m if non-nil, otherwise an empty non-nil slice.
// This ensures JSON marshalling produces "[]" instead of "null".
func emptyMismatches(m []align.Mismatch) []align.Mismatch {
	if m == nil {
		return []align.Mismatch{}
	}
	return m
}
