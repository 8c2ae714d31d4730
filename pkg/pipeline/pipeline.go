package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hdrcam/capture-shot/pkg/capture"
	"github.com/hdrcam/capture-shot/pkg/compose"
	"github.com/hdrcam/capture-shot/pkg/config"
	"github.com/hdrcam/capture-shot/pkg/logging"
	"github.com/hdrcam/capture-shot/pkg/notify"
	"github.com/hdrcam/capture-shot/pkg/plan"
	"github.com/hdrcam/capture-shot/pkg/publish"
	"github.com/hdrcam/capture-shot/pkg/runner"
	"github.com/hdrcam/capture-shot/pkg/solar"
	"github.com/hdrcam/capture-shot/pkg/storage"
)

// Journal stores finished runs.
type Journal interface {
	RecordRun(ctx context.Context, r storage.Run) (int64, error)
}

// Options holds everything Run needs for a single capture pass.
type Options struct {
	Config         *config.Config
	Runner         runner.Runner
	DryRun         bool
	PreserveManual bool
	Selector       compose.Selector // optional; defaults to compose.LargestFile
	Journal        Journal          // optional; nil = no journal
	Notifier       notify.Notifier  // optional; nil = no heartbeat
	Log            logging.Logger   // optional; nil = no logging
	Now            func() time.Time // optional; defaults to time.Now

	// SyncSleep waits between sync attempts. Nil uses a real timer.
	SyncSleep func(ctx context.Context, d time.Duration) error
}

// Summary is the outcome of one capture pass.
type Summary struct {
	Start  time.Time
	Layout capture.Layout
	Phase  solar.DayPhase
	Events solar.Events
	// SolarErr is set when the phase is the polar fallback.
	SolarErr error
	Plan     []plan.CaptureSpec
	Results  []capture.Result
	Compose  compose.Outcome
	// Artifacts lists the canonical artifacts this run produced.
	Artifacts publish.Artifacts
	Publish   publish.Report
	DryRun    bool
	Duration  time.Duration
	JournalID int64
}

// Failed counts the shots the capture backend did not take.
func (s *Summary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

// PhaseAt classifies instant for the configured location, applying the
// fallback phase when the sun never rises or sets on that day.
func PhaseAt(cfg *config.Config, instant time.Time) (solar.DayPhase, solar.Events, error) {
	phase, events, err := solar.ClassifyAt(cfg.SolarLocation(), instant)
	phase, ferr := solar.PhaseOrFallback(phase, err)
	if ferr != nil {
		return phase, events, ferr
	}
	return phase, events, err
}

// Run performs one capture pass: classify, plan, capture, compose, publish.
// Backend failures are recorded in the summary; only setup errors and
// cancellation are returned.
func Run(ctx context.Context, opts Options) (*Summary, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("pipeline: configuration is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("pipeline: runner is required")
	}
	log := logging.OrNop(opts.Log)
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	clock := time.Now()
	start := now().In(cfg.TZ()).Truncate(time.Second)
	sum := &Summary{
		Start:  start,
		Layout: capture.NewLayout(cfg.Fswebcam.Dir, cfg.Fswebcam.Ext, start),
		DryRun: opts.DryRun,
	}

	phase, events, err := PhaseAt(cfg, start)
	var noEvent *solar.NoSolarEventError
	switch {
	case errors.As(err, &noEvent):
		sum.SolarErr = err
		log.Warnf("Solar computation failed (%v), falling back to %s", err, phase)
	case err != nil:
		return nil, err
	}
	sum.Phase, sum.Events = phase, events

	specs, err := plan.Build(phase, cfg.FrameTable())
	if err != nil {
		return nil, err
	}
	sum.Plan = specs
	log.Infof("Phase %s at %s: %d shots, %d frames each", phase, start.Format(time.RFC3339), len(specs), specs[0].FrameCount)

	params, err := capture.ParseParams(cfg.Fswebcam.Params)
	if err != nil {
		return nil, err
	}
	if !opts.DryRun {
		if err := os.MkdirAll(sum.Layout.Dir(), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", sum.Layout.Dir(), err)
		}
	}

	executor := &capture.Executor{
		Bin:     cfg.Fswebcam.Bin,
		Params:  params,
		Timeout: cfg.Timeouts.Capture,
		Runner:  opts.Runner,
		Metadata: capture.MetadataWriter{
			Bin:     cfg.Exiv2.Bin,
			Runner:  opts.Runner,
			Timeout: cfg.Timeouts.Metadata,
		},
		Log: log,
	}
	sum.Results = executor.Execute(ctx, specs, sum.Layout)
	if err := ctx.Err(); err != nil {
		sum.Duration = time.Since(clock)
		return sum, err
	}

	composer := &compose.Composer{
		Blender:        compose.Blender{Bin: cfg.Enfuse.Bin, Runner: opts.Runner, Timeout: cfg.Timeouts.Blend},
		Selector:       opts.Selector,
		Runner:         opts.Runner,
		CopyTimeout:    cfg.Timeouts.Copy,
		PreserveManual: opts.PreserveManual,
		DryRun:         opts.DryRun,
		Log:            log,
	}
	sum.Compose = composer.Compose(ctx, sum.Results, sum.Layout)
	sum.Artifacts = collectArtifacts(sum)

	publisher := &publish.Publisher{
		Layout:      sum.Layout,
		Runner:      opts.Runner,
		CopyTimeout: cfg.Timeouts.Copy,
		SyncTimeout: cfg.Timeouts.Sync,
		Log:         log,
		Sleep:       opts.SyncSleep,
	}
	if cfg.Remote.Enabled() {
		publisher.Remote = &publish.Remote{
			Hostname:   cfg.Remote.Hostname,
			Dir:        cfg.Remote.Dir,
			Template:   cfg.Remote.Rsync,
			Retries:    cfg.Remote.Retries,
			BackoffMin: cfg.Remote.BackoffMin,
			BackoffMax: cfg.Remote.BackoffMax,
		}
	}
	sum.Publish = publisher.Publish(ctx, sum.Artifacts)
	sum.Duration = time.Since(clock)

	record(ctx, opts, sum, log)
	return sum, ctx.Err()
}

func collectArtifacts(sum *Summary) publish.Artifacts {
	a := publish.Artifacts{}
	for _, r := range sum.Results {
		if r.Success && r.Spec.Mode != plan.Manual {
			a[r.Spec.Mode.String()] = r.OutputPath
		}
	}
	if sum.Compose.Canonical != "" {
		a[capture.TagManual] = sum.Compose.Canonical
	}
	if sum.Compose.HDR != "" {
		a[capture.TagHDR] = sum.Compose.HDR
	}
	return a
}

func record(ctx context.Context, opts Options, sum *Summary, log logging.Logger) {
	if opts.Journal != nil && !opts.DryRun {
		id, err := opts.Journal.RecordRun(ctx, JournalRun(sum))
		if err != nil {
			log.Warnf("Could not write run journal: %v", err)
		} else {
			sum.JournalID = id
		}
	}
	if opts.Notifier != nil && !opts.DryRun {
		if err := opts.Notifier.Notify(ctx, HeartbeatPayload(sum)); err != nil {
			log.Warnf("Heartbeat failed: %v", err)
		}
	}
}

// JournalRun converts a summary into its journal record.
func JournalRun(sum *Summary) storage.Run {
	r := storage.Run{
		StartedAt:     sum.Start,
		Stem:          sum.Layout.Stem(),
		Phase:         sum.Phase.String(),
		DryRun:        sum.DryRun,
		SolarFallback: sum.SolarErr != nil,
		Canonical:     sum.Compose.Canonical,
		HDR:           sum.Compose.HDR,
		Published:     sum.Publish.Published,
		Synced:        sum.Publish.Synced,
		DurationMS:    sum.Duration.Milliseconds(),
	}
	if len(sum.Plan) > 0 {
		r.FrameCount = sum.Plan[0].FrameCount
	}
	if sum.Publish.SyncErr != nil {
		r.SyncErr = sum.Publish.SyncErr.Error()
	}
	for _, res := range sum.Results {
		s := storage.Shot{
			Tag:        capture.Tag(res.Spec),
			Exposure:   res.Spec.Exposure,
			FrameCount: res.Spec.FrameCount,
			Path:       res.OutputPath,
			Success:    res.Success,
		}
		if res.Err != nil {
			s.Error = res.Err.Error()
		}
		r.Shots = append(r.Shots, s)
	}
	return r
}

// HeartbeatPayload converts a summary into the heartbeat body.
func HeartbeatPayload(sum *Summary) notify.Payload {
	p := notify.Payload{
		Stem:      sum.Layout.Stem(),
		StartedAt: sum.Start,
		Phase:     sum.Phase.String(),
		Shots:     len(sum.Results),
		Failed:    sum.Failed(),
		Canonical: sum.Compose.Canonical,
		HDR:       sum.Compose.HDR != "",
		Published: sum.Publish.Published,
		Synced:    sum.Publish.Synced,
		DryRun:    sum.DryRun,
	}
	if len(sum.Plan) > 0 {
		p.FrameCount = sum.Plan[0].FrameCount
	}
	if sum.Publish.SyncErr != nil {
		p.Error = sum.Publish.SyncErr.Error()
	}
	return p
}
