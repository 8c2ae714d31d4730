package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hdrcam/capture-shot/pkg/capture"
	"github.com/hdrcam/capture-shot/pkg/config"
	"github.com/hdrcam/capture-shot/pkg/pipeline"
	"github.com/hdrcam/capture-shot/pkg/plan"
)

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the capture plan for a given instant without running it.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		at, _ := cmd.Flags().GetString("at")
		instant, err := parseInstant(at, cfg)
		if err != nil {
			return err
		}

		phase, _, err := pipeline.PhaseAt(cfg, instant)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Phase:  %s (fallback: %v)\n", phase, err)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Phase:  %s\n", phase)
		}
		specs, err := plan.Build(phase, cfg.FrameTable())
		if err != nil {
			return err
		}
		layout := capture.NewLayout(cfg.Fswebcam.Dir, cfg.Fswebcam.Ext, instant)
		fmt.Fprintf(cmd.OutOrStdout(), "Stem:   %s\n\n", layout.Stem())

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "TAG\tEXPOSURE\tFRAMES\tOUTPUT\t")
		for _, s := range specs {
			exposure := "-"
			if s.Mode == plan.Manual {
				exposure = fmt.Sprintf("%d", s.Exposure)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t\n", capture.Tag(s), exposure, s.FrameCount, layout.OutputPath(s))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().String("at", "", "instant to plan for, RFC3339 (default now)")
}

// parseInstant reads an RFC3339 instant, or returns now, in the configured timezone.
func parseInstant(at string, cfg *config.Config) (time.Time, error) {
	if at == "" {
		return time.Now().In(cfg.TZ()).Truncate(time.Second), nil
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at value: %w", err)
	}
	return t.In(cfg.TZ()), nil
}
