package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

// binaries maps run subcommands to their main packages.
var binaries = []struct{ name, pkg, short string }{
	{"api", "./cmd/api", "HTTP front end backed by Postgres, MinIO and Redis"},
	{"worker", "./cmd/worker", "asynq detection worker and upload notification bridge"},
	{"server", "./cmd/server", "single-process server with in-memory stores"},
}

func newTestCmd() *cobra.Command {
	var race, cover, short bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), nil, "go", testArgs(args, race, cover, short)...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	cmd.Flags().BoolVar(&short, "short", false, "Skip tests that start containers")
	return cmd
}

func testArgs(pkgs []string, race, cover, short bool) []string {
	args := []string{"test"}
	if race {
		args = append(args, "-race")
	}
	if cover {
		args = append(args, "-cover")
	}
	if short {
		args = append(args, "-short")
	}
	if len(pkgs) == 0 {
		pkgs = []string{"./..."}
	}
	return append(args, pkgs...)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a CatScan binary with go run",
	}
	for _, b := range binaries {
		cmd.AddCommand(newBinaryRunner(b.name, b.pkg, b.short))
	}
	return cmd
}

func newBinaryRunner(name, pkg, short string) *cobra.Command {
	var env []string
	cmd := &cobra.Command{
		Use:   name + " [args...]",
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, kv := range env {
				if !strings.Contains(kv, "=") {
					return fmt.Errorf("--env %q is not KEY=VALUE", kv)
				}
			}
			return runCommand(cmd.Context(), env, "go", append([]string{"run", pkg}, args...)...)
		},
	}
	cmd.Flags().StringArrayVarP(&env, "env", "e", nil, "Extra CATSCAN_* setting as KEY=VALUE (repeatable)")
	return cmd
}

// runCommand runs name with the current environment plus env.
func runCommand(ctx context.Context, env []string, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Env = append(os.Environ(), env...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
