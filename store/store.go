// server/store/store.go
package store

import (
	"context"
	"errors"

	"github.com/ViniZap4/tagkosha-server/domain"
)

var (
	ErrNotFound         = errors.New("store: not found")
	ErrConflict         = errors.New("store: transaction conflict")
	ErrRetriesExhausted = errors.New("store: transaction retries exhausted")
)

// Topic selects which collection a Listener is woken up for.
type Topic uint8

const (
	TopicNotes Topic = 1 << iota
	TopicTags
)

// NoteQuery selects an owner's notes, newest first. A non-empty AnyTags keeps
// notes sharing at least one tag with it.
type NoteQuery struct {
	OwnerID string
	AnyTags []string
}

// Reader is the read half of the store; inside RunTx it reads through the
// transaction.
type Reader interface {
	GetNote(ctx context.Context, id string) (*domain.Note, error)
	GetCounter(ctx context.Context, id string) (*domain.TagCounter, error)
}

// TxFunc performs the reads of a transaction and returns the writes to
// apply. Writes can only be expressed after every read has completed.
type TxFunc func(ctx context.Context, r Reader) ([]Op, error)

// Listener delivers a coalesced wake-up whenever data of its owner changes.
type Listener interface {
	Changes() <-chan struct{}
	Close()
}

type Store interface {
	Reader

	ListCounters(ctx context.Context, ownerID string) ([]*domain.TagCounter, error)
	// ListOwners returns every owner with at least one note or counter,
	// sorted.
	ListOwners(ctx context.Context) ([]string, error)
	QueryNotes(ctx context.Context, q NoteQuery) ([]*domain.Note, error)
	CountNotesWithTag(ctx context.Context, ownerID, tag string) (int64, error)

	// Batch applies ops atomically.
	Batch(ctx context.Context, ops ...Op) error
	// RunTx runs fn and applies its ops atomically, retrying the whole
	// attempt on conflict.
	RunTx(ctx context.Context, fn TxFunc) error

	Listen(ownerID string, topics Topic) (Listener, error)
	Close() error
}
