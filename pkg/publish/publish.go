package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/kballard/go-shellquote"

	"github.com/hdrcam/capture-shot/pkg/capture"
	"github.com/hdrcam/capture-shot/pkg/logging"
	"github.com/hdrcam/capture-shot/pkg/runner"
)

// ErrSyncBackend marks a failed transfer to the remote host. Local
// publication is never rolled back.
var ErrSyncBackend = errors.New("sync backend failed")

// Artifacts maps an artifact tag to its dated path. Only produced
// artifacts are present.
type Artifacts map[string]string

// Remote describes the sync target and the retry policy.
type Remote struct {
	Hostname string
	Dir      string
	// Template is the transfer command; {hostname} and {dir} are substituted
	// in every argument.
	Template   string
	Retries    int
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// Command renders the transfer command, run from workDir.
func (r Remote) Command(workDir string, timeout time.Duration) (runner.Command, error) {
	words, err := shellquote.Split(r.Template)
	if err != nil {
		return runner.Command{}, fmt.Errorf("rsync template: %w", err)
	}
	if len(words) == 0 {
		return runner.Command{}, errors.New("rsync template is empty")
	}
	repl := strings.NewReplacer("{hostname}", r.Hostname, "{dir}", r.Dir)
	for i, w := range words {
		words[i] = repl.Replace(w)
	}
	return runner.Command{Name: words[0], Args: words[1:], Dir: workDir, Timeout: timeout}, nil
}

// Report is the outcome of one publication.
type Report struct {
	Published []string // tags copied to current-*
	CopyErrs  map[string]error
	Synced    bool
	SyncErr   error
	Attempts  int
}

// Publisher copies the canonical artifacts to their current-* names and
// pushes the publish root to the remote.
type Publisher struct {
	Layout      capture.Layout
	Runner      runner.Runner
	Remote      *Remote // nil disables syncing
	CopyTimeout time.Duration
	SyncTimeout time.Duration
	Log         logging.Logger
	// Sleep waits between sync attempts; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Publish is best effort: a failed copy skips that artifact only, and a
// failed sync leaves the local copies in place.
func (p *Publisher) Publish(ctx context.Context, artifacts Artifacts) Report {
	log := logging.OrNop(p.Log)
	rep := Report{CopyErrs: map[string]error{}}

	for _, tag := range capture.PublishedTags {
		src, ok := artifacts[tag]
		if !ok {
			log.Warnf("Not publishing %s: artifact was not produced", tag)
			continue
		}
		cp := runner.Command{Name: "cp", Args: []string{"-f", src, p.Layout.Current(tag)}, Timeout: p.CopyTimeout}
		if _, err := runner.RunChecked(ctx, p.Runner, cp); err != nil {
			rep.CopyErrs[tag] = err
			log.Errorf("Could not publish %s: %v", tag, err)
			continue
		}
		rep.Published = append(rep.Published, tag)
	}

	if p.Remote == nil {
		log.Debugf("No remote configured, skipping sync")
		return rep
	}
	rep.Attempts, rep.SyncErr = p.sync(ctx)
	rep.Synced = rep.SyncErr == nil
	if rep.SyncErr != nil {
		log.Errorf("%v", rep.SyncErr)
	}
	return rep
}

func (p *Publisher) sync(ctx context.Context) (int, error) {
	log := logging.OrNop(p.Log)
	cmd, err := p.Remote.Command(p.Layout.Root, p.SyncTimeout)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSyncBackend, err)
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	attempts := p.Remote.Retries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		_, lastErr = runner.RunChecked(ctx, p.Runner, cmd)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == attempts || ctx.Err() != nil {
			return attempt, fmt.Errorf("%w after %d attempt(s): %v", ErrSyncBackend, attempt, lastErr)
		}
		wait := retryablehttp.DefaultBackoff(p.Remote.BackoffMin, p.Remote.BackoffMax, attempt-1, nil)
		log.Warnf("Sync attempt %d/%d failed: %v (retrying in %s)", attempt, attempts, lastErr, wait)
		if err := sleep(ctx, wait); err != nil {
			return attempt, fmt.Errorf("%w: %v", ErrSyncBackend, err)
		}
	}
	return attempts, fmt.Errorf("%w: %v", ErrSyncBackend, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
