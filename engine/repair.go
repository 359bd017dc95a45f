// server/engine/repair.go
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ViniZap4/tagkosha-server/domain"
	"github.com/ViniZap4/tagkosha-server/metrics"
	"github.com/ViniZap4/tagkosha-server/store"
	"github.com/ViniZap4/tagkosha-server/tags"
	"golang.org/x/sync/errgroup"
)

// RepairOutcome reports one drift check.
type RepairOutcome struct {
	Tag      string `json:"tag"`
	Cached   int64  `json:"cached"`
	Actual   int64  `json:"actual"`
	Repaired bool   `json:"repaired"`
	Failed   bool   `json:"failed"`
}

// RepairCount compares cached against the number of notes carrying tag and
// overwrites the counter with that number when they differ. Failures are
// logged and reported in the outcome, never returned.
//
// The write is an absolute overwrite outside any transaction and can lose a
// save that commits between the count and the write; the next check heals it.
func (e *Engine) RepairCount(ctx context.Context, ownerID, tag string, cached int64) RepairOutcome {
	out := RepairOutcome{Tag: tag, Cached: cached}
	log := e.log.With().Str("owner", ownerID).Str("tag", tag).Logger()
	if !tags.ValidOwner(ownerID) {
		out.Failed = true
		metrics.CounterRepairs.WithLabelValues("failed").Inc()
		log.Warn().Err(tags.ErrInvalidOwner).Msg("skipping drift check")
		return out
	}

	actual, err := e.store.CountNotesWithTag(ctx, ownerID, tag)
	if err != nil {
		out.Failed = true
		metrics.CounterRepairs.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Msg("error counting notes for drift check")
		return out
	}
	out.Actual = actual
	if actual == cached {
		metrics.CounterRepairs.WithLabelValues("consistent").Inc()
		return out
	}

	id := tags.CounterID(ownerID, tag)
	err = e.store.Batch(ctx, store.SetCounter(id, actual))
	if errors.Is(err, store.ErrNotFound) {
		err = e.store.Batch(ctx, store.CreateCounter(&domain.TagCounter{
			ID: id, OwnerID: ownerID, TagName: tag, Count: actual,
		}))
	}
	if err != nil {
		out.Failed = true
		metrics.CounterRepairs.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Int64("cached", cached).Int64("actual", actual).Msg("error repairing tag counter")
		return out
	}
	out.Repaired = true
	metrics.CounterRepairs.WithLabelValues("repaired").Inc()
	log.Info().Int64("cached", cached).Int64("actual", actual).Msg("tag counter repaired")
	return out
}

// RepairTag runs RepairCount with the persisted counter value as the cached
// value. A missing counter counts as zero.
func (e *Engine) RepairTag(ctx context.Context, ownerID, tag string) (RepairOutcome, error) {
	if !tags.ValidOwner(ownerID) {
		return RepairOutcome{}, tags.ErrInvalidOwner
	}
	if !tags.Valid(tag) {
		return RepairOutcome{}, domain.NewValidationError("tag", fmt.Sprintf("invalid tag %q", tag))
	}
	var cached int64
	c, err := e.store.GetCounter(ctx, tags.CounterID(ownerID, tag))
	switch {
	case err == nil:
		if err := checkCounter(c, ownerID, tag); err != nil {
			return RepairOutcome{}, err
		}
		cached = c.Count
	case !errors.Is(err, store.ErrNotFound):
		return RepairOutcome{}, err
	}
	return e.RepairCount(ctx, ownerID, tag, cached), nil
}

// RepairAll checks every counter of ownerID, at most RepairConcurrency at a
// time. Only an invalid owner or listing the counters can fail.
func (e *Engine) RepairAll(ctx context.Context, ownerID string) ([]RepairOutcome, error) {
	if !tags.ValidOwner(ownerID) {
		return nil, tags.ErrInvalidOwner
	}
	counters, err := e.store.ListCounters(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}

	outcomes := make([]RepairOutcome, len(counters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.RepairConcurrency)
	for i, c := range counters {
		g.Go(func() error {
			outcomes[i] = e.RepairCount(gctx, ownerID, c.TagName, c.Count)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}
