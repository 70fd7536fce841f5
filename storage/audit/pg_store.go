package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists audit entries in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects and initializes schema.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PGStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS mcp_audit (
  id BIGSERIAL PRIMARY KEY,
  at TIMESTAMPTZ NOT NULL DEFAULT now(),
  kind TEXT NOT NULL,
  session TEXT NOT NULL,
  tool TEXT,
  outcome TEXT,
  duration_ms BIGINT
);
CREATE INDEX IF NOT EXISTS idx_mcp_audit_at ON mcp_audit(at DESC);
CREATE INDEX IF NOT EXISTS idx_mcp_audit_session ON mcp_audit(session);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init audit schema: %w", err)
	}
	return nil
}

func (s *PGStore) Record(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO mcp_audit (at, kind, session, tool, outcome, duration_ms)
VALUES ($1,$2,$3,$4,$5,$6)
`, e.At, e.Kind, e.Session, e.Tool, e.Outcome, e.DurationMS)
	return err
}

// Recent returns up to limit entries, newest first.
func (s *PGStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT at, kind, session, COALESCE(tool,''), COALESCE(outcome,''), COALESCE(duration_ms,0)
FROM mcp_audit
ORDER BY at DESC, id DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.At, &e.Kind, &e.Session, &e.Tool, &e.Outcome, &e.DurationMS); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (s *PGStore) Close() {
	s.pool.Close()
}
