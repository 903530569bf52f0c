package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "catscan: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catscan",
		Short: "CatScan development and operations CLI",
		Long: `catscan runs the test suite and the service binaries, applies the Postgres
schema and imports scan records exported from earlier deployments.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newTestCmd(),
		newRunCmd(),
		newMigrateCmd(),
		newImportLegacyCmd(),
	)
	return cmd
}
