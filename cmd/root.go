package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hdrcam/capture-shot/internal/utils"
	"github.com/hdrcam/capture-shot/pkg/config"
	"github.com/hdrcam/capture-shot/pkg/notify"
	"github.com/hdrcam/capture-shot/pkg/pipeline"
	"github.com/hdrcam/capture-shot/pkg/runner"
	"github.com/hdrcam/capture-shot/pkg/storage"
)

var (
	cfgFile        string
	logFile        string
	verbose        bool
	debug          bool
	dryRun         bool
	preserveManual bool

	logCloser io.Closer
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "capture-shot",
	Short: "Capture a bracketed webcam series and publish it with an HDR composite.",
	Long: `capture-shot takes one pass of webcam captures: two automatic exposures and a
manual bracket sized for the current day phase, fuses the bracket into an HDR
image, promotes the best manual exposure and publishes the results, optionally
syncing them to a remote host.

Run it from cron every few minutes.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		utils.SetLogLevel(utils.LevelFromFlags(verbose, debug))
		if logFile != "" {
			closer, err := utils.AddLogFile(logFile)
			if err != nil {
				return err
			}
			logCloser = closer
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
			logCloser = nil
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return runCapture(cmd, cfg)
	},
}

// Execute runs the root command with signal handling and version output.
// This is called by main.main().
func Execute(version string) error {
	return fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./capture-shot.conf, then capture-shot.{json,yaml,toml})")
	rootCmd.PersistentFlags().StringVarP(&logFile, "log", "l", "", "also append log output to this file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log progress at info level")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "log at debug level")

	rootCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "print every command in plan order without running anything")
	rootCmd.Flags().BoolVarP(&preserveManual, "preserve-manual", "p", false, "keep the per-exposure manual files")
}

func runCapture(cmd *cobra.Command, cfg *config.Config) error {
	opts := pipeline.Options{
		Config:         cfg,
		DryRun:         dryRun,
		PreserveManual: preserveManual,
		Log:            utils.Log,
	}

	if dryRun {
		opts.Runner = runner.NewDryRun(cmd.OutOrStdout())
	} else {
		opts.Runner = runner.Exec{}

		lock, err := utils.NewRunLock(lockBase(cfg))
		if err != nil {
			return err
		}
		locked, err := lock.TryLock()
		if err != nil {
			return err
		}
		if !locked {
			utils.Log.Warnf("Another capture-shot run holds %s, skipping this pass", lock.Path())
			return nil
		}
		defer lock.Unlock()

		if db := openJournal(cfg); db != nil {
			defer db.Close()
			opts.Journal = db
		}
		if cfg.Notify.URL != "" {
			opts.Notifier = notify.NewHeartbeat(cfg.Notify.URL)
		}
	}

	sum, err := pipeline.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}
	utils.Log.Infof("Run %s finished in %s: %d/%d shots, published %v, synced %t",
		sum.Layout.Stem(), sum.Duration.Round(time.Millisecond), len(sum.Results)-sum.Failed(), len(sum.Results), sum.Publish.Published, sum.Publish.Synced)
	return nil
}

// lockBase is the path the run lock is placed next to: the journal, or the
// output tree when the journal is disabled.
func lockBase(cfg *config.Config) string {
	if cfg.Journal.Disabled {
		return filepath.Join(cfg.Fswebcam.Dir, ".capture-shot")
	}
	return cfg.Journal.Path
}

// openJournal opens the run journal. Failures are logged and disable it.
func openJournal(cfg *config.Config) *storage.DB {
	if cfg.Journal.Disabled {
		return nil
	}
	path, err := utils.GetAbsJournalPath(cfg.Journal.Path)
	if err == nil {
		err = os.MkdirAll(filepath.Dir(path), 0o755)
	}
	var db *storage.DB
	if err == nil {
		db, err = storage.Open(path)
	}
	if err != nil {
		utils.Log.Warnf("Run journal unavailable: %v", err)
		return nil
	}
	return db
}
