package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS assignments (
	name            TEXT PRIMARY KEY,
	opens_at        TEXT NOT NULL,
	due_at          TEXT NOT NULL,
	requires_header INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS grading_groups (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS people (
	pawprint      TEXT PRIMARY KEY,
	grading_group TEXT NOT NULL REFERENCES grading_groups(name)
);
CREATE TABLE IF NOT EXISTS submissions (
	id            TEXT PRIMARY KEY,
	pawprint      TEXT NOT NULL,
	assignment    TEXT NOT NULL,
	artifact_path TEXT NOT NULL,
	is_valid      INTEGER NOT NULL,
	is_late       INTEGER NOT NULL,
	submitted_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS submissions_owner ON submissions (pawprint, assignment);
`

// Times are stored as fixed-width UTC text so lexical order is time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore keeps the course database in a single SQLite file shared by
// every mucsmake invocation on the host.
type SQLiteStore struct {
	pool *sqlitex.Pool
	path string
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create %s: %w", filepath.Dir(path), err)
		}
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    2,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", path, err)
	}
	s := &SQLiteStore{pool: pool, path: path}

	if err := s.ensureSchema(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Msg("sqlite store opened")
	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	// Concurrent invocations from other students write to the same file.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)
	if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
		return fmt.Errorf("sqlite: applying schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite: closing %s: %w", s.path, err)
	}
	return nil
}

func (s *SQLiteStore) LookupAssignment(ctx context.Context, name string) (Assignment, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Assignment{}, fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	var (
		a        Assignment
		found    bool
		parseErr error
	)
	err = sqlitex.Execute(conn,
		`SELECT name, opens_at, due_at, requires_header FROM assignments WHERE name = ?`,
		&sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				a.Name = stmt.ColumnText(0)
				a.RequiresHeader = stmt.ColumnInt64(3) != 0
				if a.OpensAt, parseErr = parseSQLiteTime(stmt.ColumnText(1)); parseErr != nil {
					return parseErr
				}
				a.DueAt, parseErr = parseSQLiteTime(stmt.ColumnText(2))
				return parseErr
			},
		})
	if err != nil {
		return Assignment{}, fmt.Errorf("querying assignment %s: %w", name, err)
	}
	if !found {
		return Assignment{}, fmt.Errorf("assignment %s: %w", name, ErrNotFound)
	}
	return a, nil
}

func (s *SQLiteStore) LookupGradingGroup(ctx context.Context, identity string) (GradingGroup, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return GradingGroup{}, fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	var (
		g     GradingGroup
		found bool
	)
	err = sqlitex.Execute(conn,
		`SELECT grading_group FROM people WHERE pawprint = ?`,
		&sqlitex.ExecOptions{
			Args: []any{identity},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				g.Name = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return GradingGroup{}, fmt.Errorf("querying grading group for %s: %w", identity, err)
	}
	if !found {
		return GradingGroup{}, fmt.Errorf("grading group for %s: %w", identity, ErrNotFound)
	}
	return g, nil
}

func (s *SQLiteStore) InsertSubmission(ctx context.Context, sub Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO submissions (id, pawprint, assignment, artifact_path, is_valid, is_late, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				sub.ID, sub.Identity, sub.Assignment, sub.ArtifactPath,
				boolToInt(sub.IsValid), boolToInt(sub.IsLate),
				formatSQLiteTime(sub.SubmittedAt),
			},
		})
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, identity, assignment string) ([]Submission, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	var results []Submission
	err = sqlitex.Execute(conn,
		`SELECT id, pawprint, assignment, artifact_path, is_valid, is_late, submitted_at
		 FROM submissions
		 WHERE pawprint = ? AND (? = '' OR assignment = ?)
		 ORDER BY submitted_at DESC`,
		&sqlitex.ExecOptions{
			Args: []any{identity, assignment, assignment},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				at, err := parseSQLiteTime(stmt.ColumnText(6))
				if err != nil {
					return err
				}
				results = append(results, Submission{
					ID:           stmt.ColumnText(0),
					Identity:     stmt.ColumnText(1),
					Assignment:   stmt.ColumnText(2),
					ArtifactPath: stmt.ColumnText(3),
					IsValid:      stmt.ColumnInt64(4) != 0,
					IsLate:       stmt.ColumnInt64(5) != 0,
					SubmittedAt:  at,
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	return results, nil
}

func (s *SQLiteStore) PutAssignment(ctx context.Context, a Assignment) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO assignments (name, opens_at, due_at, requires_header) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET opens_at = excluded.opens_at, due_at = excluded.due_at,
		   requires_header = excluded.requires_header`,
		&sqlitex.ExecOptions{
			Args: []any{a.Name, formatSQLiteTime(a.OpensAt), formatSQLiteTime(a.DueAt), boolToInt(a.RequiresHeader)},
		})
	if err != nil {
		return fmt.Errorf("upserting assignment %s: %w", a.Name, err)
	}
	return nil
}

func (s *SQLiteStore) PutMember(ctx context.Context, identity, group string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	defer sqlitex.Save(conn)(&err)
	if err := sqlitex.Execute(conn,
		`INSERT INTO grading_groups (name) VALUES (?) ON CONFLICT(name) DO NOTHING`,
		&sqlitex.ExecOptions{Args: []any{group}}); err != nil {
		return fmt.Errorf("inserting grading group %s: %w", group, err)
	}
	if err := sqlitex.Execute(conn,
		`INSERT INTO people (pawprint, grading_group) VALUES (?, ?)
		 ON CONFLICT(pawprint) DO UPDATE SET grading_group = excluded.grading_group`,
		&sqlitex.ExecOptions{Args: []any{identity, group}}); err != nil {
		return fmt.Errorf("assigning %s to %s: %w", identity, group, err)
	}
	return nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t, nil
}
