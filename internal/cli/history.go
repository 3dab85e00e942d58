package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/ratecheck/internal/history"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect saved runs",
		Long: `Every finished run is saved to a local database unless run is given
--no-history. Runs are listed newest first and can be looked up by ID or
by a unique ID prefix of at least 4 characters.`,
	}
	cmd.PersistentFlags().String("history-db", "", "History database path (default ~/.ratecheck/history.db)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withHistory(a, func(store *history.Store) error {
				records, err := store.List(limit)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(a.stdout, "No runs recorded")
					return nil
				}

				tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCREATED\tNAME\tRESULT\tREQUESTS\tSOURCE")
				for _, rec := range records {
					name, verdict, requests := "", "-", int64(0)
					if rec.Summary != nil {
						name = rec.Summary.Name
						verdict = "FAILED"
						if rec.Summary.Passed {
							verdict = "PASSED"
						}
						if rec.Summary.Interrupted {
							verdict += " (interrupted)"
						}
						requests = rec.Summary.Counters.Requests
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
						rec.ID, rec.CreatedAt.Local().Format("2006-01-02 15:04:05"), name, verdict, requests, rec.Source)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().Int("limit", 20, "Maximum number of runs to list (0 for all)")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(a, func(store *history.Store) error {
				rec, err := store.Get(args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			})
		},
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keep, _ := cmd.Flags().GetInt("keep")
			return withHistory(a, func(store *history.Store) error {
				removed, err := store.Prune(keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "Removed %d run(s)\n", removed)
				return nil
			})
		},
	}
	prune.Flags().Int("keep", 50, "Number of newest runs to keep")

	cmd.AddCommand(list, show, prune)
	return cmd
}

// withHistory opens the history database for the duration of fn.
func withHistory(a *app, fn func(*history.Store) error) error {
	path := a.v.GetString("history-db")
	if path == "" {
		var err error
		if path, err = history.DefaultPath(); err != nil {
			return &CommandError{Code: ExitError, Err: err}
		}
	}

	store, err := history.Open(path)
	if err != nil {
		return &CommandError{Code: ExitError, Err: err}
	}
	defer store.Close()

	if err := fn(store); err != nil {
		return &CommandError{Code: ExitError, Err: err}
	}
	return nil
}
