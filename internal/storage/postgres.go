package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS assignments (
	name            TEXT PRIMARY KEY,
	opens_at        TIMESTAMPTZ NOT NULL,
	due_at          TIMESTAMPTZ NOT NULL,
	requires_header BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE TABLE IF NOT EXISTS grading_groups (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS people (
	pawprint      TEXT PRIMARY KEY,
	grading_group TEXT NOT NULL REFERENCES grading_groups(name)
);
CREATE TABLE IF NOT EXISTS submissions (
	id            UUID PRIMARY KEY,
	pawprint      TEXT NOT NULL,
	assignment    TEXT NOT NULL,
	artifact_path TEXT NOT NULL,
	is_valid      BOOLEAN NOT NULL,
	is_late       BOOLEAN NOT NULL,
	submitted_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS submissions_owner ON submissions (pawprint, assignment);
`

// Querier is the subset of *pgxpool.Pool the store uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore is the multi-host backend, used when several login nodes
// share one course database.
type PostgresStore struct {
	db    Querier
	close func()
}

func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	// One attempt per process: a couple of connections is plenty.
	config.MaxConns = 2
	config.MinConns = 0
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Debug().Msg("connected to PostgreSQL")
	return s, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func (s *PostgresStore) LookupAssignment(ctx context.Context, name string) (Assignment, error) {
	query := `SELECT name, opens_at, due_at, requires_header FROM assignments WHERE name = $1`

	var a Assignment
	err := s.db.QueryRow(ctx, query, name).Scan(&a.Name, &a.OpensAt, &a.DueAt, &a.RequiresHeader)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, fmt.Errorf("assignment %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("querying assignment %s: %w", name, err)
	}
	return a, nil
}

func (s *PostgresStore) LookupGradingGroup(ctx context.Context, identity string) (GradingGroup, error) {
	query := `SELECT grading_group FROM people WHERE pawprint = $1`

	var g GradingGroup
	err := s.db.QueryRow(ctx, query, identity).Scan(&g.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return GradingGroup{}, fmt.Errorf("grading group for %s: %w", identity, ErrNotFound)
	}
	if err != nil {
		return GradingGroup{}, fmt.Errorf("querying grading group for %s: %w", identity, err)
	}
	return g, nil
}

func (s *PostgresStore) InsertSubmission(ctx context.Context, sub Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	query := `
		INSERT INTO submissions (id, pawprint, assignment, artifact_path, is_valid, is_late, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.Exec(ctx, query,
		sub.ID, sub.Identity, sub.Assignment, sub.ArtifactPath,
		sub.IsValid, sub.IsLate, sub.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, identity, assignment string) ([]Submission, error) {
	query := `
		SELECT id::text, pawprint, assignment, artifact_path, is_valid, is_late, submitted_at
		FROM submissions
		WHERE pawprint = $1 AND ($2 = '' OR assignment = $2)
		ORDER BY submitted_at DESC`

	rows, err := s.db.Query(ctx, query, identity, assignment)
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	defer rows.Close()

	var results []Submission
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(
			&sub.ID, &sub.Identity, &sub.Assignment, &sub.ArtifactPath,
			&sub.IsValid, &sub.IsLate, &sub.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning submission row: %w", err)
		}
		results = append(results, sub)
	}
	return results, rows.Err()
}

func (s *PostgresStore) PutAssignment(ctx context.Context, a Assignment) error {
	query := `
		INSERT INTO assignments (name, opens_at, due_at, requires_header) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET opens_at = EXCLUDED.opens_at, due_at = EXCLUDED.due_at,
			requires_header = EXCLUDED.requires_header`
	if _, err := s.db.Exec(ctx, query, a.Name, a.OpensAt, a.DueAt, a.RequiresHeader); err != nil {
		return fmt.Errorf("upserting assignment %s: %w", a.Name, err)
	}
	return nil
}

func (s *PostgresStore) PutMember(ctx context.Context, identity, group string) error {
	if _, err := s.db.Exec(ctx,
		`INSERT INTO grading_groups (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, group); err != nil {
		return fmt.Errorf("inserting grading group %s: %w", group, err)
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO people (pawprint, grading_group) VALUES ($1, $2)
		 ON CONFLICT (pawprint) DO UPDATE SET grading_group = EXCLUDED.grading_group`, identity, group); err != nil {
		return fmt.Errorf("assigning %s to %s: %w", identity, group, err)
	}
	return nil
}
