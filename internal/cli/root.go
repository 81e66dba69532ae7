// Package cli holds the rental-bot commands.
package cli

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/centromex/rental-bot/internal/config"
	"github.com/centromex/rental-bot/internal/table"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile   string
	TablePath string
	DBPath    string

	// Config is loaded before any subcommand runs.
	Config config.Config
}

// NewRootCommand creates the root command for the rental bot CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rental-bot",
		Short: "Rental request bot",
		Long: "Records #rent and #buy requests from Telegram in a CSV table and replies\n" +
			"to the requester when an operator sets the request's status.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if opts.EnvFile != "" {
				files = append(files, opts.EnvFile)
			}
			cfg, err := config.Load(files...)
			if err != nil {
				return err
			}
			if opts.TablePath != "" {
				cfg.TablePath = opts.TablePath
			}
			if opts.DBPath != "" {
				cfg.DBPath = opts.DBPath
			}
			opts.Config = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file to load (default .env)")
	cmd.PersistentFlags().StringVar(&opts.TablePath, "table", "", "request table path (overrides TABLE_PATH)")
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite database path (overrides DB_PATH)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSetStatusCommand(opts))

	return cmd
}

func openStore(cfg config.Config) *table.Store {
	return table.New(cfg.TablePath, table.Options{
		Attempts: cfg.StoreRetryAttempts,
		Delay:    cfg.StoreRetryDelay,
		Logger:   log.Default(),
	})
}
