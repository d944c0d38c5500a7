// Package cli assembles the odyssey command tree.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

// Deps supplies the side-effecting entry points for each command.
type Deps struct {
	// Serve runs the HTTP server until ctx is cancelled.
	Serve func(ctx context.Context) error
	// Migrate applies pending schema migrations.
	Migrate func(ctx context.Context) error
	// OpenJobs connects to the queue and returns a close function.
	OpenJobs func() (*JobsCLI, func() error, error)
}

// NewRootCommand builds the odyssey command. Running it without a
// subcommand starts the server.
func NewRootCommand(deps Deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "odyssey",
		Short:         "Odyssey ledger and stock service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, deps)
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, deps)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if deps.Migrate == nil {
				return errors.New("migrate: not configured")
			}
			if err := deps.Migrate(cmd.Context()); err != nil {
				return err
			}
			_, _ = cmd.OutOrStdout().Write([]byte("migrations applied\n"))
			return nil
		},
	})

	open := deps.OpenJobs
	if open == nil {
		open = func() (*JobsCLI, func() error, error) {
			return nil, nil, errors.New("jobs: queue not configured")
		}
	}
	root.AddCommand(newJobsCommand(open))
	return root
}

func runServe(cmd *cobra.Command, deps Deps) error {
	if deps.Serve == nil {
		return errors.New("serve: not configured")
	}
	return deps.Serve(cmd.Context())
}
