package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/memofeed/service/metrics"
	"github.com/brojonat/memofeed/service/solana"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no archived memo matches.
var ErrNotFound = errors.New("memo not found")

// Store archives assembled memo feeds in Postgres. The feed itself never
// reads from it; it exists for history beyond the signature window.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// ArchivedMemo is a memo as stored for one account and network.
type ArchivedMemo struct {
	solana.Memo
	Account    string    `json:"account"`
	Network    string    `json:"network"`
	ArchivedAt time.Time `json:"archived_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS memos (
	network     TEXT        NOT NULL,
	account     TEXT        NOT NULL,
	signature   TEXT        NOT NULL,
	content     TEXT        NOT NULL,
	block_time  TIMESTAMPTZ NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (network, account, signature)
);
ALTER TABLE memos ADD COLUMN IF NOT EXISTS published_at TIMESTAMPTZ;
CREATE INDEX IF NOT EXISTS memos_account_block_time_idx
	ON memos (network, account, block_time DESC);
CREATE INDEX IF NOT EXISTS memos_pending_idx
	ON memos (network, account, block_time)
	WHERE published_at IS NULL;
`

// EnsureSchema creates the memos table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, schema)
	s.metrics.RecordDBQuery("ensure_schema", "memos", metrics.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// UpsertMemos stores memos for an account. Memos already archived are left
// untouched and counted as skipped; the newly written ones are returned.
func (s *Store) UpsertMemos(ctx context.Context, account, network string, memos []solana.Memo) ([]solana.Memo, int, error) {
	if len(memos) == 0 {
		return nil, 0, nil
	}

	const query = `
		INSERT INTO memos (network, account, signature, content, block_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (network, account, signature) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, m := range memos {
		batch.Queue(query, network, account, m.ID, m.Content, m.Time().UTC())
	}

	start := time.Now()
	results := s.pool.SendBatch(ctx, batch)

	written := make([]solana.Memo, 0, len(memos))
	var execErr error
	for _, m := range memos {
		tag, err := results.Exec()
		if err != nil {
			execErr = fmt.Errorf("failed to upsert memo %s: %w", m.ID, err)
			break
		}
		if tag.RowsAffected() == 1 {
			written = append(written, m)
		}
	}
	if err := results.Close(); err != nil && execErr == nil {
		execErr = fmt.Errorf("failed to upsert memos: %w", err)
	}
	s.metrics.RecordDBQuery("upsert", "memos", metrics.Since(start), execErr)
	if execErr != nil {
		return nil, 0, execErr
	}

	return written, len(memos) - len(written), nil
}

// PendingMemos returns up to limit archived memos whose events have not
// been published yet, oldest first.
func (s *Store) PendingMemos(ctx context.Context, account, network string, limit int32) ([]solana.Memo, error) {
	const query = `
		SELECT signature, content, block_time
		FROM memos
		WHERE network = $1 AND account = $2 AND published_at IS NULL
		ORDER BY block_time, signature
		LIMIT $3
	`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, network, account, limit)
	if err != nil {
		s.metrics.RecordDBQuery("pending", "memos", metrics.Since(start), err)
		return nil, fmt.Errorf("failed to list pending memos: %w", err)
	}
	memos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (solana.Memo, error) {
		var m solana.Memo
		var blockTime time.Time
		err := row.Scan(&m.ID, &m.Content, &blockTime)
		m.Timestamp = blockTime.Unix()
		return m, err
	})
	s.metrics.RecordDBQuery("pending", "memos", metrics.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending memos: %w", err)
	}
	return memos, nil
}

// MarkPublished records that the events for signatures went out. It
// returns how many rows changed.
func (s *Store) MarkPublished(ctx context.Context, account, network string, signatures []string) (int64, error) {
	if len(signatures) == 0 {
		return 0, nil
	}

	const query = `
		UPDATE memos SET published_at = now()
		WHERE network = $1 AND account = $2 AND signature = ANY($3) AND published_at IS NULL
	`

	start := time.Now()
	tag, err := s.pool.Exec(ctx, query, network, account, signatures)
	s.metrics.RecordDBQuery("mark_published", "memos", metrics.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to mark memos published: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListMemos returns an account's archived memos, newest first.
func (s *Store) ListMemos(ctx context.Context, account, network string, limit, offset int32) ([]*ArchivedMemo, error) {
	const query = `
		SELECT signature, content, block_time, account, network, archived_at
		FROM memos
		WHERE network = $1 AND account = $2
		ORDER BY block_time DESC, signature
		LIMIT $3 OFFSET $4
	`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, network, account, limit, offset)
	if err != nil {
		s.metrics.RecordDBQuery("list", "memos", metrics.Since(start), err)
		return nil, fmt.Errorf("failed to list memos: %w", err)
	}
	defer rows.Close()

	var out []*ArchivedMemo
	for rows.Next() {
		m, err := scanMemo(rows)
		if err != nil {
			s.metrics.RecordDBQuery("list", "memos", metrics.Since(start), err)
			return nil, err
		}
		out = append(out, m)
	}
	err = rows.Err()
	s.metrics.RecordDBQuery("list", "memos", metrics.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list memos: %w", err)
	}
	return out, nil
}

// CountMemos returns how many memos are archived for an account.
func (s *Store) CountMemos(ctx context.Context, account, network string) (int64, error) {
	start := time.Now()
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM memos WHERE network = $1 AND account = $2`,
		network, account,
	).Scan(&n)
	s.metrics.RecordDBQuery("count", "memos", metrics.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to count memos: %w", err)
	}
	return n, nil
}

// LatestMemo returns the account's most recent archived memo, or ErrNotFound.
func (s *Store) LatestMemo(ctx context.Context, account, network string) (*ArchivedMemo, error) {
	const query = `
		SELECT signature, content, block_time, account, network, archived_at
		FROM memos
		WHERE network = $1 AND account = $2
		ORDER BY block_time DESC, signature
		LIMIT 1
	`

	start := time.Now()
	m, err := scanMemo(s.pool.QueryRow(ctx, query, network, account))
	if errors.Is(err, pgx.ErrNoRows) {
		s.metrics.RecordDBQuery("latest", "memos", metrics.Since(start), nil)
		return nil, ErrNotFound
	}
	s.metrics.RecordDBQuery("latest", "memos", metrics.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest memo: %w", err)
	}
	return m, nil
}

func scanMemo(row pgx.Row) (*ArchivedMemo, error) {
	var m ArchivedMemo
	var blockTime time.Time
	if err := row.Scan(&m.ID, &m.Content, &blockTime, &m.Account, &m.Network, &m.ArchivedAt); err != nil {
		return nil, err
	}
	m.Timestamp = blockTime.Unix()
	return &m, nil
}
