// server/cmd/root.go
package cmd

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/ViniZap4/tagkosha-server/config"
	"github.com/ViniZap4/tagkosha-server/engine"
	"github.com/ViniZap4/tagkosha-server/store"
	"github.com/ViniZap4/tagkosha-server/store/memstore"
	"github.com/ViniZap4/tagkosha-server/store/postgres"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app is the state shared by every subcommand, filled in by the root
// command's PersistentPreRunE.
type app struct {
	configFile string
	cfg        *config.Config
	log        zerolog.Logger
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "tagkosha",
		Short:        "Hierarchical tag engine for notes",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = newLogger(cfg)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file (yaml, toml or json)")

	root.AddCommand(
		newServeCmd(a),
		newMigrateCmd(a),
		newTokenCmd(a),
		newReconcileCmd(a),
		newImportCmd(a),
		newExportCmd(a),
	)
	return root
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.LogFormat == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

// openStore opens the configured store. The caller closes it.
func (a *app) openStore(ctx context.Context) (store.Store, error) {
	switch a.cfg.Store {
	case config.StoreMemory:
		a.log.Warn().Msg("using the in-memory store, data is lost on exit")
		return memstore.New(memstore.WithMaxAttempts(a.cfg.TxMaxAttempts)), nil
	default:
		return postgres.Open(ctx, a.cfg.DatabaseURL, postgres.Options{
			MaxAttempts: a.cfg.TxMaxAttempts,
			Logger:      a.log,
		})
	}
}

func (a *app) newEngine(st store.Store) *engine.Engine {
	return engine.New(st, a.log, engine.Options{
		TagSanityLimit:    a.cfg.TagSanityLimit,
		RepairConcurrency: a.cfg.RepairConcurrency,
	})
}
