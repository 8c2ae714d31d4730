package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hdrcam/capture-shot/pkg/capture"
	"github.com/hdrcam/capture-shot/pkg/config"
	"github.com/hdrcam/capture-shot/pkg/notify"
	"github.com/hdrcam/capture-shot/pkg/plan"
	"github.com/hdrcam/capture-shot/pkg/runner"
	"github.com/hdrcam/capture-shot/pkg/runner/runnertest"
	"github.com/hdrcam/capture-shot/pkg/solar"
	"github.com/hdrcam/capture-shot/pkg/storage"
)

var (
	equinoxNoon     = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	equinoxMidnight = time.Date(2024, 3, 20, 0, 30, 0, 0, time.UTC)
)

func testConfig(dir string) *config.Config {
	return &config.Config{
		Location: config.Location{Latitude: 45, Longitude: 0, Name: "Test", Country: "Nowhere", Timezone: "UTC"},
		Fswebcam: config.Fswebcam{Bin: "fswebcam", Params: "-r 640x480", Dir: dir, Ext: "jpg"},
		Remote:   config.Remote{Hostname: "web", Dir: "/var/www", Rsync: "rsync -a ./ {hostname}:{dir}", Retries: 2},
		Exiv2:    config.Tool{Bin: "exiv2"},
		Enfuse:   config.Tool{Bin: "enfuse"},
	}
}

func fixed(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type memJournal struct {
	runs []storage.Run
	err  error
}

func (j *memJournal) RecordRun(_ context.Context, r storage.Run) (int64, error) {
	if j.err != nil {
		return 0, j.err
	}
	j.runs = append(j.runs, r)
	return int64(len(j.runs)), nil
}

type memNotifier struct{ payloads []notify.Payload }

func (n *memNotifier) Notify(_ context.Context, p notify.Payload) error {
	n.payloads = append(n.payloads, p)
	return nil
}

type recordingLog struct {
	mu    sync.Mutex
	warns []string
}

func (l *recordingLog) Infof(string, ...interface{})  {}
func (l *recordingLog) Debugf(string, ...interface{}) {}
func (l *recordingLog) Errorf(string, ...interface{}) {}
func (l *recordingLog) Warnf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprintf(format, args...))
}

func noSleep(context.Context, time.Duration) error { return nil }

// fakeCamera writes every captured file with a size growing per call, so the
// longest manual exposure is the largest file.
func fakeCamera(t *testing.T) *runnertest.Recorder {
	var mu sync.Mutex
	size := 0
	return runnertest.New().
		OnName("fswebcam", runnertest.Response{Effect: func(c runner.Command) {
			mu.Lock()
			size += 16
			n := size
			mu.Unlock()
			require.NoError(t, os.WriteFile(c.Args[len(c.Args)-1], bytes.Repeat([]byte{0xff}, n), 0o644))
		}}).
		OnName("enfuse", runnertest.Response{Effect: func(c runner.Command) {
			require.NoError(t, os.WriteFile(c.Args[4], []byte("hdr"), 0o644))
		}}).
		OnName("cp", runnertest.Response{Effect: func(c runner.Command) {
			data, err := os.ReadFile(c.Args[1])
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(c.Args[2], data, 0o644))
		}})
}

func TestRun_DryRunEmitsEveryStepInOrder(t *testing.T) {
	dir := t.TempDir()
	rec := runnertest.New()
	journal := &memJournal{}
	notifier := &memNotifier{}

	sum, err := Run(context.Background(), Options{
		Config:   testConfig(dir),
		Runner:   rec,
		DryRun:   true,
		Journal:  journal,
		Notifier: notifier,
		Now:      fixed(equinoxNoon),
	})
	require.NoError(t, err)
	assert.Equal(t, solar.Daylight, sum.Phase)
	assert.Equal(t, 10, sum.Plan[0].FrameCount)

	names := make([]string, len(rec.Commands))
	for i, c := range rec.Commands {
		names[i] = c.Name
	}
	want := []string{"fswebcam", "fswebcam"}
	for range plan.ManualBracket() {
		want = append(want, "fswebcam", "exiv2")
	}
	want = append(want, "enfuse", "cp", "cp", "cp", "cp", "cp", "rsync")
	assert.Equal(t, want, names)

	for i, spec := range sum.Plan {
		assert.Equal(t, spec, sum.Results[i].Spec)
	}

	_, statErr := os.Stat(sum.Layout.Dir())
	assert.True(t, os.IsNotExist(statErr), "dry-run creates nothing")
	assert.Empty(t, journal.runs)
	assert.Empty(t, notifier.payloads)
}

func TestRun_DryRunPrintsShellLines(t *testing.T) {
	var buf bytes.Buffer
	sum, err := Run(context.Background(), Options{
		Config: testConfig("/srv/webcam"),
		Runner: runner.NewDryRun(&buf),
		DryRun: true,
		Now:    fixed(equinoxNoon),
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 33)
	assert.Equal(t, "fswebcam -F 10 -s 'Exposure, Auto=Aperture Priority Mode' -s 'Exposure, Auto Priority=False' -r 640x480 "+
		sum.Layout.Dated(capture.TagAutoFalse), lines[0])
	assert.True(t, strings.HasPrefix(lines[27], "cp -f "), lines[27])
	assert.Contains(t, lines[27], "manual-*.jpg")
	assert.Contains(t, lines, "cp -f "+sum.Layout.Dated(capture.TagManual)+" "+sum.Layout.Current(capture.TagManual))
	assert.Equal(t, "cd /srv/webcam && rsync -a ./ web:/var/www", lines[32])
	assert.Contains(t, sum.Publish.Published, capture.TagManual)
}

func TestRun_FullPass(t *testing.T) {
	dir := t.TempDir()
	rec := fakeCamera(t)
	journal := &memJournal{}
	notifier := &memNotifier{}

	sum, err := Run(context.Background(), Options{
		Config:    testConfig(dir),
		Runner:    rec,
		Journal:   journal,
		Notifier:  notifier,
		Now:       fixed(equinoxMidnight),
		SyncSleep: noSleep,
	})
	require.NoError(t, err)
	assert.Equal(t, solar.Night, sum.Phase)
	assert.Equal(t, 0, sum.Failed())

	assert.Equal(t, sum.Layout.OutputPath(plan.CaptureSpec{Mode: plan.Manual, Exposure: 5000}), sum.Compose.Selected)
	assert.Len(t, sum.Compose.Removed, 12)
	assert.Equal(t, capture.PublishedTags, sum.Publish.Published)
	assert.True(t, sum.Publish.Synced)
	for _, tag := range capture.PublishedTags {
		assert.FileExists(t, sum.Layout.Current(tag))
	}

	require.Len(t, journal.runs, 1)
	run := journal.runs[0]
	assert.Equal(t, "night", run.Phase)
	assert.Equal(t, 100, run.FrameCount)
	assert.Equal(t, "20240320-003000", run.Stem)
	assert.Len(t, run.Shots, 14)
	assert.Equal(t, int64(1), sum.JournalID)

	require.Len(t, notifier.payloads, 1)
	assert.True(t, notifier.payloads[0].HDR)
	assert.Equal(t, 14, notifier.payloads[0].Shots)
}

func TestRun_BackendFailuresAreNotFatal(t *testing.T) {
	dir := t.TempDir()
	rec := fakeCamera(t)
	failing := runnertest.New().
		OnArg("Auto Priority=True", runnertest.Response{Result: runner.Result{ExitCode: 1, Stderr: "no device"}}).
		OnName("rsync", runnertest.Response{Err: errors.New("connection refused")})
	both := runnerChain{failing, rec}
	log := &recordingLog{}

	sum, err := Run(context.Background(), Options{
		Config:    testConfig(dir),
		Runner:    both,
		Journal:   &memJournal{err: errors.New("database is locked")},
		Log:       log,
		Now:       fixed(equinoxMidnight),
		SyncSleep: noSleep,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed())
	assert.NotContains(t, sum.Artifacts, capture.TagAutoTrue)
	assert.Equal(t, []string{capture.TagAutoFalse, capture.TagManual, capture.TagHDR}, sum.Publish.Published)
	assert.False(t, sum.Publish.Synced)
	assert.Equal(t, 2, sum.Publish.Attempts)
	assert.Zero(t, sum.JournalID)

	joined := strings.Join(log.warns, "\n")
	assert.Contains(t, joined, "database is locked")
}

// runnerChain lets the first recorder fail a command; anything it accepts is
// passed on to the second.
type runnerChain []*runnertest.Recorder

func (c runnerChain) Run(ctx context.Context, cmd runner.Command) (runner.Result, error) {
	res, err := c[0].Run(ctx, cmd)
	if err != nil || res.ExitCode != 0 {
		return res, err
	}
	return c[1].Run(ctx, cmd)
}

func TestRun_PolarFallback(t *testing.T) {
	cfg := testConfig("/srv/webcam")
	cfg.Location.Latitude, cfg.Location.Longitude = 78.22, 15.65
	log := &recordingLog{}

	sum, err := Run(context.Background(), Options{
		Config: cfg,
		Runner: runnertest.New(),
		DryRun: true,
		Log:    log,
		Now:    fixed(time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	assert.Equal(t, solar.FallbackPhase, sum.Phase)
	assert.Error(t, sum.SolarErr)
	assert.Equal(t, 100, sum.Plan[0].FrameCount)
	require.NotEmpty(t, log.warns)
	assert.Contains(t, log.warns[0], "falling back to night")
}

func TestRun_Cancelled(t *testing.T) {
	rec := runnertest.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := Run(ctx, Options{Config: testConfig(t.TempDir()), Runner: rec, Now: fixed(equinoxNoon)})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	assert.Empty(t, rec.Commands)
	assert.Equal(t, 14, sum.Failed())
}

func TestRun_RequiresConfigAndRunner(t *testing.T) {
	_, err := Run(context.Background(), Options{Runner: runnertest.New()})
	assert.Error(t, err)
	_, err = Run(context.Background(), Options{Config: testConfig("/tmp")})
	assert.Error(t, err)
}

func TestRun_RemoteDisabledSkipsSync(t *testing.T) {
	cfg := testConfig("/srv/webcam")
	cfg.Remote = config.Remote{}
	rec := runnertest.New()

	sum, err := Run(context.Background(), Options{Config: cfg, Runner: rec, DryRun: true, Now: fixed(equinoxNoon)})
	require.NoError(t, err)
	assert.Empty(t, rec.Named("rsync"))
	assert.False(t, sum.Publish.Synced)
	assert.NoError(t, sum.Publish.SyncErr)
}
