package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresmejia3/verity/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection holding the analysis history.
type Store struct {
	conn *pgx.Conn
}

// Record is one stored analysis.
type Record struct {
	ID            uuid.UUID
	VideoID       string
	Path          string
	Output        string
	Confidence    float64
	RawConfidence float64
	Warnings      []string
	CreatedAt     time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			analyzed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS analyses (
			id UUID PRIMARY KEY,
			video_id TEXT REFERENCES video_metadata(id),
			output TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			raw_confidence DOUBLE PRECISION NOT NULL,
			report JSONB NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS analyses_video_id_idx ON analyses (video_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureVideoMetadata registers the video in the database. If it exists, it updates the timestamp.
func (s *Store) EnsureVideoMetadata(ctx context.Context, videoID, path string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO video_metadata (id, path, analyzed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET analyzed_at = NOW(), path = EXCLUDED.path
	`, videoID, path)
	return err
}

// SaveReport stores a finished report for a registered video and returns the analysis ID.
// Previews are not persisted.
func (s *Store) SaveReport(ctx context.Context, videoID string, r *types.Report) (uuid.UUID, error) {
	stored := *r
	stored.FacePreviews = nil
	data, err := json.Marshal(stored)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode report: %w", err)
	}

	id := uuid.New()
	_, err = s.conn.Exec(ctx, `
		INSERT INTO analyses (id, video_id, output, confidence, raw_confidence, report)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, videoID, r.Output, r.Confidence, r.RawConfidence, data)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// GetReport loads the full report of one analysis.
func (s *Store) GetReport(ctx context.Context, id uuid.UUID) (*types.Report, error) {
	var data []byte
	err := s.conn.QueryRow(ctx, "SELECT report FROM analyses WHERE id = $1", id).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("analysis %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	var r types.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("corrupt report for %s: %w", id, err)
	}
	return &r, nil
}

// ListReports returns the most recent analyses first. A limit of 0 returns all of them.
func (s *Store) ListReports(ctx context.Context, limit int) ([]Record, error) {
	query := `
		SELECT a.id, a.video_id, v.path, a.output, a.confidence, a.raw_confidence,
		       a.report->'analysis'->'warning_flags', a.created_at
		FROM analyses a
		JOIN video_metadata v ON v.id = a.video_id
		ORDER BY a.created_at DESC, a.id
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var warnings []byte
		if err := rows.Scan(&rec.ID, &rec.VideoID, &rec.Path, &rec.Output, &rec.Confidence, &rec.RawConfidence, &warnings, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(warnings) > 0 {
			if err := json.Unmarshal(warnings, &rec.Warnings); err != nil {
				return nil, fmt.Errorf("corrupt warnings for %s: %w", rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS analyses CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}
