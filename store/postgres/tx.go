// server/store/postgres/tx.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ViniZap4/tagkosha-server/domain"
	"github.com/ViniZap4/tagkosha-server/store"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// isRetryable reports whether err is a conflict the whole transaction can be
// re-run for. A unique violation on counter creation means a concurrent
// transaction created the counter first; the re-run reads it back.
func isRetryable(err error) bool {
	if errors.Is(err, store.ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.UniqueViolation:
		return true
	}
	return false
}

func (s *Store) RunTx(ctx context.Context, fn store.TxFunc) error {
	return s.policy.Run(ctx, func() error {
		return s.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
			ops, err := fn(ctx, txReader{tx: tx})
			if err != nil {
				return err
			}
			return applyOps(ctx, tx, ops)
		})
	})
}

// Batch needs no reads, so READ COMMITTED is enough: every counter update is
// a relative row update.
func (s *Store) Batch(ctx context.Context, ops ...store.Op) error {
	return s.policy.Run(ctx, func() error {
		return s.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
			return applyOps(ctx, tx, ops)
		})
	})
}

func (s *Store) inTx(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type txReader struct {
	tx pgx.Tx
}

func (r txReader) GetNote(ctx context.Context, id string) (*domain.Note, error) {
	return getNote(ctx, r.tx, id)
}

func (r txReader) GetCounter(ctx context.Context, id string) (*domain.TagCounter, error) {
	return getCounter(ctx, r.tx, id)
}

// applyOps sends every write in one round trip and checks that each touched
// the row it meant to.
func applyOps(ctx context.Context, tx pgx.Tx, ops []store.Op) error {
	if len(ops) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, op := range ops {
		sql, args, err := opSQL(op)
		if err != nil {
			return err
		}
		b.Queue(sql, args...)
	}

	br := tx.SendBatch(ctx, b)
	for _, op := range ops {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return fmt.Errorf("%s %s: %w", op.Kind, op.ID, err)
		}
		if tag.RowsAffected() == 0 {
			br.Close()
			return fmt.Errorf("%s %s: %w", op.Kind, op.ID, store.ErrNotFound)
		}
	}
	return br.Close()
}

func opSQL(op store.Op) (string, []any, error) {
	switch op.Kind {
	case store.OpPutNote:
		n := op.Note
		return `INSERT INTO notes (` + noteColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			[]any{n.ID, n.OwnerID, n.Title, n.Content, n.Tags, n.CreatedAt, n.UpdatedAt}, nil
	case store.OpUpdateNote:
		n := op.Note
		return `UPDATE notes SET title = $2, content = $3, tags = $4, updated_at = $5 WHERE id = $1`,
			[]any{op.ID, n.Title, n.Content, n.Tags, n.UpdatedAt}, nil
	case store.OpDeleteNote:
		return `DELETE FROM notes WHERE id = $1`, []any{op.ID}, nil
	case store.OpCreateCounter:
		c := op.Counter
		return `INSERT INTO tag_counters (` + counterColumns + `) VALUES ($1, $2, $3, $4)`,
			[]any{c.ID, c.OwnerID, c.TagName, c.Count}, nil
	case store.OpIncrementCounter:
		return `UPDATE tag_counters SET count = GREATEST(count + $2, 0) WHERE id = $1`,
			[]any{op.ID, op.Value}, nil
	case store.OpSetCounter:
		return `UPDATE tag_counters SET count = $2 WHERE id = $1`, []any{op.ID, op.Value}, nil
	}
	return "", nil, fmt.Errorf("unknown op kind %d", op.Kind)
}
