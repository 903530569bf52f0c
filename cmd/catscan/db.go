package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/catscan/internal/config"
	"github.com/dharsanguruparan/catscan/internal/database"
	"github.com/dharsanguruparan/catscan/internal/legacy"
	"github.com/dharsanguruparan/catscan/internal/model"
	"github.com/dharsanguruparan/catscan/internal/repository"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the scans table and indexes in CATSCAN_DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.EnsureSchema(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newImportLegacyCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import-legacy <export.jsonl|->",
		Short: "Import exported scan records with legacy field names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			if dryRun {
				n, err := legacy.ReadJSONL(in, func(*model.Scan) error { return nil })
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d records decoded\n", n)
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := database.EnsureSchema(ctx, pool); err != nil {
				return err
			}
			repo := repository.NewScanRepository(pool)

			var inserted, skipped int
			_, err = legacy.ReadJSONL(in, func(scan *model.Scan) error {
				ok, err := repo.Import(ctx, scan)
				if err != nil {
					return err
				}
				if ok {
					inserted++
				} else {
					skipped++
				}
				return nil
			})
			fmt.Fprintf(cmd.OutOrStdout(), "%d imported, %d already present\n", inserted, skipped)
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Decode and validate without writing")
	return cmd
}
