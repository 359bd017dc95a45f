// server/engine/reconcile.go
package engine

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ReconcileReport summarizes one pass over every owner.
type ReconcileReport struct {
	Owners   int `json:"owners"`
	Checked  int `json:"checked"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

// Reconciler runs RepairAll for every owner on a cron schedule.
type Reconciler struct {
	engine *Engine
	cron   *cron.Cron
	log    zerolog.Logger
}

// NewReconciler schedules a full pass with a standard five-field cron spec
// (or a descriptor such as "@hourly").
func NewReconciler(e *Engine, schedule string) (*Reconciler, error) {
	r := &Reconciler{
		engine: e,
		log:    e.log.With().Str("component", "reconciler").Logger(),
	}
	cl := cronLogger{log: r.log}
	r.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		),
	)
	if _, err := r.cron.AddFunc(schedule, func() {
		if _, err := r.RunOnce(context.Background()); err != nil {
			r.log.Error().Err(err).Msg("reconcile pass failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Reconciler) Start() {
	r.log.Info().Msg("reconciler started")
	r.cron.Start()
}

// Stop waits for a running pass to finish.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
	r.log.Info().Msg("reconciler stopped")
}

// RunOnce runs one full pass right away.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	return r.engine.ReconcileAll(ctx)
}

// ReconcileAll checks the counters of every owner. Per-owner failures are
// logged and counted; only listing the owners aborts the pass.
func (e *Engine) ReconcileAll(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport
	owners, err := e.store.ListOwners(ctx)
	if err != nil {
		return rep, fmt.Errorf("list owners: %w", err)
	}
	for _, owner := range owners {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		outcomes, err := e.RepairAll(ctx, owner)
		if err != nil {
			rep.Failed++
			e.log.Warn().Err(err).Str("owner", owner).Msg("error reconciling owner")
			continue
		}
		rep.Owners++
		for _, o := range outcomes {
			rep.Checked++
			switch {
			case o.Failed:
				rep.Failed++
			case o.Repaired:
				rep.Repaired++
			}
		}
	}
	e.log.Info().
		Int("owners", rep.Owners).
		Int("checked", rep.Checked).
		Int("repaired", rep.Repaired).
		Int("failed", rep.Failed).
		Msg("reconcile pass done")
	return rep, nil
}

// cronLogger routes cron's key/value logging through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
