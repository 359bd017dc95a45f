// server/cmd/notes.go
package cmd

import (
	"fmt"

	"github.com/ViniZap4/tagkosha-server/auth"
	"github.com/ViniZap4/tagkosha-server/filesystem"
	"github.com/spf13/cobra"
)

func newTokenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token <owner-id>",
		Short: "Print an identity token for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := a.cfg.RequireSecret()
			if err != nil {
				return err
			}
			token, err := auth.MintToken(secret, args[0])
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
}

func newReconcileCmd(a *app) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check tag counters against note counts and repair drift",
		Long: `Compare every tag counter with the number of notes carrying the tag and
overwrite the counters that drifted.

Examples:
  tagkosha reconcile --owner u1   # one owner
  tagkosha reconcile              # every owner`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := runContext(cmd)
			defer stop()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			eng := a.newEngine(st)

			if owner == "" {
				rep, err := eng.ReconcileAll(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("owners=%d checked=%d repaired=%d failed=%d\n", rep.Owners, rep.Checked, rep.Repaired, rep.Failed)
				return nil
			}

			outcomes, err := eng.RepairAll(ctx, owner)
			if err != nil {
				return err
			}
			for _, o := range outcomes {
				switch {
				case o.Failed:
					cmd.Printf("%-30s failed\n", o.Tag)
				case o.Repaired:
					cmd.Printf("%-30s %d -> %d\n", o.Tag, o.Cached, o.Actual)
				}
			}
			cmd.Printf("checked %d counters\n", len(outcomes))
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only reconcile this owner")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Import markdown notes with YAML frontmatter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notes, skipped, err := filesystem.ListNotes(args[0])
			if err != nil {
				return err
			}
			for _, s := range skipped {
				a.log.Warn().Err(s.Err).Str("path", s.Path).Msg("skipping unreadable note")
			}

			ctx, stop := runContext(cmd)
			defer stop()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			eng := a.newEngine(st)

			var failed int
			for _, n := range notes {
				if _, err := eng.ImportNote(ctx, owner, n); err != nil {
					failed++
					a.log.Error().Err(err).Str("title", n.Title).Msg("error importing note")
				}
			}
			cmd.Printf("imported %d notes, %d failed, %d skipped\n", len(notes)-failed, failed, len(skipped))
			if failed > 0 {
				return fmt.Errorf("%d notes failed to import", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner of the imported notes")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var owner string
	var tagFilters []string
	cmd := &cobra.Command{
		Use:   "export <dir>",
		Short: "Export notes as markdown files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := runContext(cmd)
			defer stop()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			eng := a.newEngine(st)

			snap, err := eng.QueryNotes(ctx, owner, tagFilters)
			if err != nil {
				return err
			}
			if snap.Truncated {
				a.log.Warn().Msg(snap.Warning)
			}
			n, err := filesystem.ExportNotes(args[0], snap.Notes)
			if err != nil {
				return err
			}
			cmd.Printf("exported %d notes to %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner whose notes are exported")
	cmd.Flags().StringSliceVar(&tagFilters, "tag", nil, "only export notes matching every tag (with descendants)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
