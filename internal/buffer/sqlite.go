package buffer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/mattjoyce/dgw/internal/embed"
)

const statDropped = "dropped"

// SQLite persists buffered records so an outage that outlives the process
// does not lose them. The schema lives in internal/storage.
type SQLite struct {
	db       *sql.DB
	capacity int
	logger   *slog.Logger
}

func NewSQLite(db *sql.DB, capacity int, logger *slog.Logger) *SQLite {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLite{db: db, capacity: capacity, logger: logger}
}

func (s *SQLite) Enqueue(ctx context.Context, rec embed.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enqueue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO delivery_buffer(id, record, created_at)
VALUES(?, ?, ?);
`, uuid.NewString(), string(payload), now); err != nil {
		return fmt.Errorf("enqueue record: %w", err)
	}

	if s.capacity > 0 {
		res, err := tx.ExecContext(ctx, `
DELETE FROM delivery_buffer
WHERE seq IN (
  SELECT seq FROM delivery_buffer
  ORDER BY seq ASC
  LIMIT max((SELECT count(*) FROM delivery_buffer) - ?, 0)
);
`, s.capacity)
		if err != nil {
			return fmt.Errorf("trim buffer: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO delivery_stats(name, value, updated_at) VALUES(?, ?, ?)
ON CONFLICT(name) DO UPDATE SET value = value + excluded.value, updated_at = excluded.updated_at;
`, statDropped, n, now); err != nil {
				return fmt.Errorf("record dropped count: %w", err)
			}
			s.logger.Warn("delivery buffer full, dropped oldest records", "capacity", s.capacity, "dropped", n)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enqueue: %w", err)
	}
	return nil
}

// DrainAll reads and deletes every buffered row in one transaction.
// Rows whose JSON no longer decodes are logged and discarded.
func (s *SQLite) DrainAll(ctx context.Context) ([]embed.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin drain: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT seq, record FROM delivery_buffer ORDER BY seq ASC;`)
	if err != nil {
		return nil, fmt.Errorf("select buffered: %w", err)
	}

	var (
		out     []embed.Record
		lastSeq int64
	)
	for rows.Next() {
		var (
			seq     int64
			payload string
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan buffered: %w", err)
		}
		lastSeq = seq

		var rec embed.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			s.logger.Error("discarding undecodable buffered record", "seq", seq, "error", err)
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate buffered: %w", err)
	}
	_ = rows.Close()

	if lastSeq > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM delivery_buffer WHERE seq <= ?;`, lastSeq); err != nil {
			return nil, fmt.Errorf("delete drained: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit drain: %w", err)
	}
	return out, nil
}

func (s *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM delivery_buffer;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count buffered: %w", err)
	}
	return n, nil
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	n, err := s.Len(ctx)
	if err != nil {
		return Stats{}, err
	}
	var dropped int64
	err = s.db.QueryRowContext(ctx, `SELECT value FROM delivery_stats WHERE name = ?;`, statDropped).Scan(&dropped)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, fmt.Errorf("read dropped count: %w", err)
	}
	return Stats{Buffered: n, Dropped: dropped}, nil
}
