// server/engine/engine.go
// Package engine keeps note tags and their counters consistent and turns
// tag selections into note queries. All persistence goes through a
// store.Store; the engine never holds a lock across a store call.
package engine

import (
	"time"

	"github.com/ViniZap4/tagkosha-server/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultTagSanityLimit    = 5000
	DefaultRepairConcurrency = 4
)

type Options struct {
	// TagSanityLimit is the namespace size above which every tag snapshot
	// logs a warning. Zero disables the check.
	TagSanityLimit    int
	RepairConcurrency int
	Now               func() time.Time
	NewID             func() string
}

type Engine struct {
	store store.Store
	log   zerolog.Logger
	opts  Options
}

func New(st store.Store, log zerolog.Logger, opts Options) *Engine {
	if opts.RepairConcurrency <= 0 {
		opts.RepairConcurrency = DefaultRepairConcurrency
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Engine{
		store: st,
		log:   log.With().Str("component", "engine").Logger(),
		opts:  opts,
	}
}

func (e *Engine) Store() store.Store { return e.store }
