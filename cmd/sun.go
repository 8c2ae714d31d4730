package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hdrcam/capture-shot/pkg/config"
	"github.com/hdrcam/capture-shot/pkg/pipeline"
)

var sunCmd = &cobra.Command{
	Use:   "sun",
	Short: "Print dawn, sunrise, sunset and dusk for the configured location.",
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

		loc := cfg.Location
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Location:\t%s, %s (%.4f, %.4f, %d m)\n", loc.Name, loc.Country, loc.Latitude, loc.Longitude, loc.Elevation)
		fmt.Fprintf(w, "Date:\t%s (%s)\n", instant.Format("2006-01-02"), cfg.TZ())

		phase, ev, err := pipeline.PhaseAt(cfg, instant)
		if err != nil {
			fmt.Fprintf(w, "Events:\t%v\n", err)
			fmt.Fprintf(w, "Phase at %s:\t%s (fallback)\n", instant.Format(time.TimeOnly), phase)
			return w.Flush()
		}
		for _, e := range []struct {
			name string
			t    time.Time
		}{
			{"Dawn", ev.Dawn},
			{"Sunrise", ev.Sunrise},
			{"Sunset", ev.Sunset},
			{"Dusk", ev.Dusk},
		} {
			fmt.Fprintf(w, "%s:\t%s\n", e.name, e.t.In(cfg.TZ()).Format(time.TimeOnly))
		}
		fmt.Fprintf(w, "Phase at %s:\t%s\n", instant.Format(time.TimeOnly), phase)
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(sunCmd)
	sunCmd.Flags().String("at", "", "instant to classify, RFC3339 (default now)")
}
