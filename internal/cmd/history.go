package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chopstack/chopstack/internal/config"
	"github.com/chopstack/chopstack/internal/history"
	"github.com/chopstack/chopstack/internal/models"
)

// NewHistoryCommand creates the history command and its subcommands.
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past runs",
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())

	return cmd
}

func openHistoryStore() (*history.Store, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfigFromDir(cwd)
	if err != nil {
		return nil, err
	}
	return history.NewStore(cfg.HistoryDBPath)
}

func newHistoryListCommand() *cobra.Command {
	var planFile string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List past runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistoryStore()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), planFile, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tJOB\tPLAN\tMODE\tTASKS\tRESULT\tDURATION\tSTARTED")
			for _, run := range runs {
				result := "failed"
				if run.Success {
					result = "ok"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					run.ID, run.JobID, run.PlanName, run.VCSMode, run.TaskCount,
					result, run.Duration.Round(time.Second), run.StartedAt.Local().Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&planFile, "plan", "", "only runs of this plan file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max runs to list (0 = all)")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its task results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}

			store, err := openHistoryStore()
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Printf("run %d (job %s)\n", run.ID, run.JobID)
			fmt.Printf("  plan:     %s (%s)\n", run.PlanName, run.PlanFile)
			fmt.Printf("  vcs mode: %s on %s\n", run.VCSMode, run.TrunkRef)
			fmt.Printf("  started:  %s\n", run.StartedAt.Local().Format(time.RFC1123))
			fmt.Printf("  duration: %s\n", run.Duration.Round(time.Second))

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tSTATUS\tRETRIES\tCOMMIT\tERROR")
			for _, task := range run.Tasks {
				commit := task.CommitHash
				if len(commit) > 8 {
					commit = commit[:8]
				}
				errMsg := task.ErrorMessage
				if task.Status == models.StatusSuccess {
					errMsg = ""
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					task.TaskID, task.Status, task.RetryCount, commit, errMsg)
			}
			return w.Flush()
		},
	}

	return cmd
}
