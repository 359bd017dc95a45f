// server/cmd/serve.go
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ViniZap4/tagkosha-server/config"
	"github.com/ViniZap4/tagkosha-server/engine"
	httpserver "github.com/ViniZap4/tagkosha-server/http"
	"github.com/ViniZap4/tagkosha-server/store/postgres"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := a.cfg.RequireSecret()
			if err != nil {
				return err
			}
			ctx, stop := runContext(cmd)
			defer stop()

			if a.cfg.Store == config.StorePostgres && !skipMigrate {
				version, err := postgres.Migrate(a.cfg.DatabaseURL)
				if err != nil {
					return err
				}
				a.log.Info().Uint("version", version).Msg("schema up to date")
			}

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			eng := a.newEngine(st)
			dispatcher := engine.NewDispatcher(eng)
			go dispatcher.Run(ctx)

			if a.cfg.ReconcileSchedule != "" {
				rec, err := engine.NewReconciler(eng, a.cfg.ReconcileSchedule)
				if err != nil {
					return err
				}
				rec.Start()
				defer rec.Stop()
			}

			srv := httpserver.NewServer(eng, dispatcher, secret, a.log)
			errc := make(chan error, 1)
			go func() { errc <- srv.Listen(":" + a.cfg.Port) }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			a.log.Info().Msg("shutting down")
			return srv.Shutdown()
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply schema migrations on start")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := postgres.Migrate(a.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			cmd.Printf("schema at version %d\n", version)
			return nil
		},
	}
}

func runContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
