// server/store/postgres/postgres.go
// Package postgres implements the store on PostgreSQL through pgx. Transactions
// run at SERIALIZABLE isolation and are retried on serialization failures;
// live queries are driven by LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ViniZap4/tagkosha-server/domain"
	"github.com/ViniZap4/tagkosha-server/metrics"
	"github.com/ViniZap4/tagkosha-server/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	noteColumns    = `id, owner_id, title, content, tags, created_at, updated_at`
	counterColumns = `id, owner_id, tag_name, count`
)

type Options struct {
	MaxAttempts int
	Logger      zerolog.Logger
}

type Store struct {
	pool   *pgxpool.Pool
	hub    *store.Hub
	log    zerolog.Logger
	policy store.RetryPolicy

	cancel context.CancelFunc
	done   chan struct{}
}

// Open connects to databaseURL and starts the notification listener.
func Open(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log := opts.Logger.With().Str("component", "postgres").Logger()
	s := &Store{
		pool: pool,
		hub:  store.NewHub(),
		log:  log,
		policy: store.RetryPolicy{
			MaxAttempts: opts.MaxAttempts,
			Retryable:   isRetryable,
			OnRetry:     retryLogger(log),
		},
		done: make(chan struct{}),
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.listenLoop(listenCtx)
	return s, nil
}

func (s *Store) Close() error {
	s.cancel()
	<-s.done
	s.pool.Close()
	return nil
}

func (s *Store) Listen(ownerID string, topics store.Topic) (store.Listener, error) {
	return s.hub.Register(ownerID, topics), nil
}

func (s *Store) GetNote(ctx context.Context, id string) (*domain.Note, error) {
	return getNote(ctx, s.pool, id)
}

func (s *Store) GetCounter(ctx context.Context, id string) (*domain.TagCounter, error) {
	return getCounter(ctx, s.pool, id)
}

func (s *Store) ListCounters(ctx context.Context, ownerID string) ([]*domain.TagCounter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+counterColumns+` FROM tag_counters WHERE owner_id = $1 ORDER BY tag_name COLLATE "C"`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	counters, err := pgx.CollectRows(rows, scanCounter)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	return counters, nil
}

const listOwnersSQL = `SELECT owner_id FROM notes UNION SELECT owner_id FROM tag_counters ORDER BY owner_id`

func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, listOwnersSQL)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	owners, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	return owners, nil
}

func (s *Store) QueryNotes(ctx context.Context, q store.NoteQuery) ([]*domain.Note, error) {
	sql, args := noteQuerySQL(q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	notes, err := pgx.CollectRows(rows, scanNote)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	return notes, nil
}

// noteQuerySQL renders q. "tags && $2" is the array-overlap predicate served
// by the GIN index.
func noteQuerySQL(q store.NoteQuery) (string, []any) {
	sql := `SELECT ` + noteColumns + ` FROM notes WHERE owner_id = $1`
	args := []any{q.OwnerID}
	if len(q.AnyTags) > 0 {
		args = append(args, q.AnyTags)
		sql += fmt.Sprintf(` AND tags && $%d`, len(args))
	}
	sql += ` ORDER BY updated_at DESC, id`
	return sql, args
}

func (s *Store) CountNotesWithTag(ctx context.Context, ownerID, tag string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM notes WHERE owner_id = $1 AND tags @> ARRAY[$2]::text[]`,
		ownerID, tag).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count notes with %s: %w", tag, err)
	}
	return n, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getNote(ctx context.Context, q querier, id string) (*domain.Note, error) {
	var n domain.Note
	err := q.QueryRow(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = $1`, id).
		Scan(&n.ID, &n.OwnerID, &n.Title, &n.Content, &n.Tags, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("note %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get note %s: %w", id, err)
	}
	return &n, nil
}

func getCounter(ctx context.Context, q querier, id string) (*domain.TagCounter, error) {
	var c domain.TagCounter
	err := q.QueryRow(ctx, `SELECT `+counterColumns+` FROM tag_counters WHERE id = $1`, id).
		Scan(&c.ID, &c.OwnerID, &c.TagName, &c.Count)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("counter %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get counter %s: %w", id, err)
	}
	return &c, nil
}

func scanNote(row pgx.CollectableRow) (*domain.Note, error) {
	var n domain.Note
	if err := row.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Content, &n.Tags, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

func scanCounter(row pgx.CollectableRow) (*domain.TagCounter, error) {
	var c domain.TagCounter
	if err := row.Scan(&c.ID, &c.OwnerID, &c.TagName, &c.Count); err != nil {
		return nil, err
	}
	return &c, nil
}

func retryLogger(log zerolog.Logger) func(int, error) {
	return func(attempt int, err error) {
		metrics.TxRetries.WithLabelValues("postgres").Inc()
		log.Debug().Int("attempt", attempt).Err(err).Msg("retrying transaction")
	}
}
