package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hdrcam/capture-shot/internal/utils"
	"github.com/hdrcam/capture-shot/pkg/config"
	"github.com/hdrcam/capture-shot/pkg/storage"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the runs recorded in the journal.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cfg.Journal.Disabled {
			return fmt.Errorf("the run journal is disabled in %s", cfg.File)
		}
		path, err := utils.GetAbsJournalPath(cfg.Journal.Path)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("journal file not found: %s", path)
		}

		db, err := storage.Open(path)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		if olderThan, _ := cmd.Flags().GetDuration("prune"); olderThan > 0 {
			n, err := db.Prune(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Pruned %d runs older than %s.\n", n, olderThan)
			return nil
		}

		if stats, _ := cmd.Flags().GetBool("stats"); stats {
			return printPhaseStats(cmd, db, out)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := db.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "STARTED\tPHASE\tFRAMES\tPUBLISHED\tSYNCED\tDURATION\t")
		for _, r := range runs {
			phase := r.Phase
			if r.SolarFallback {
				phase += "*"
			}
			synced := "no"
			switch {
			case r.Synced:
				synced = "yes"
			case r.SyncErr != "":
				synced = "failed"
			}
			published := strings.Join(r.Published, ",")
			if published == "" {
				published = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t\n",
				r.StartedAt.In(cfg.TZ()).Format("2006-01-02 15:04:05"), phase, r.FrameCount, published, synced,
				(time.Duration(r.DurationMS) * time.Millisecond).String())
		}
		return w.Flush()
	},
}

func printPhaseStats(cmd *cobra.Command, db *storage.DB, out io.Writer) error {
	stats, err := db.GetPhaseStats(cmd.Context())
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Fprintln(out, "No data in the journal to generate stats.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "PHASE\tRUNS\tFAILED SHOTS\tSYNC FAILURES\t")

	var totalRuns, totalFailed, totalSync int
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t\n", s.Phase, s.Runs, s.FailedShots, s.SyncFailed)
		totalRuns += s.Runs
		totalFailed += s.FailedShots
		totalSync += s.SyncFailed
	}

	fmt.Fprintln(w, " \t \t \t \t")
	fmt.Fprintf(w, "TOTAL\t%d\t%d\t%d\t\n", totalRuns, totalFailed, totalSync)

	return w.Flush()
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().Int("limit", 20, "number of runs to list, newest first")
	historyCmd.Flags().Bool("stats", false, "print per-phase statistics instead of the run list")
	historyCmd.Flags().Duration("prune", 0, "delete runs older than this duration, e.g. 720h")
}
