package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/centromex/rental-bot/internal/models"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the request table or backfill its missing columns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := openStore(rootOpts.Config)
			if err := store.Initialize(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "table %s is ready\n", store.Path())
			return nil
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every request with its normalized status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := openStore(rootOpts.Config).ReadAll(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPRODUCT\tMODE\tPHONE\tSTATUS\tQUERY")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					orDash(idString(rec)), orDash(rec.Name), orDash(rec.ProductName), orDash(rec.Mode),
					orDash(rec.Phone), orDash(models.NormalizeStatus(rec.Status)), rec.Query)
			}
			return w.Flush()
		},
	}
}

// NewSetStatusCommand creates the set-status command.
func NewSetStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <message-id> <status>",
		Short: "Set a request's status (issued, cancelled, delivered or empty)",
		Long: `Set a request's status the way an operator editing the table would.

The running bot notices the change on its next check and replies to the
requester. Pass "" as the status to clear it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid message id %q: %w", args[0], err)
			}
			status := models.ParseStatus(args[1])
			if status == models.StatusUnrecognized {
				return fmt.Errorf("unknown status %q: must be issued, cancelled, delivered or empty", args[1])
			}

			if err := openStore(rootOpts.Config).UpdateStatus(cmd.Context(), id, string(status)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "message %d status set to %q\n", id, status)
			return nil
		},
	}
}

func idString(rec models.Record) string {
	if !rec.ID.Valid {
		return ""
	}
	return strconv.FormatInt(rec.ID.Int64, 10)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
