package compose

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hdrcam/capture-shot/pkg/capture"
	"github.com/hdrcam/capture-shot/pkg/logging"
	"github.com/hdrcam/capture-shot/pkg/plan"
	"github.com/hdrcam/capture-shot/pkg/runner"
)

// ErrBlendBackend marks a failed exposure fusion. Only the HDR artifact is lost.
var ErrBlendBackend = errors.New("blend backend failed")

// Fixed enfuse parameters.
const (
	ExposureOptimum = "0.7"
	Compression     = "80"
)

// Blender fuses the manual bracket with enfuse.
type Blender struct {
	Bin     string
	Runner  runner.Runner
	Timeout time.Duration
}

// Command is the enfuse invocation writing output from inputs.
func (b Blender) Command(inputs []string, output string) runner.Command {
	bin := b.Bin
	if bin == "" {
		bin = "enfuse"
	}
	args := []string{
		"--exposure-optimum=" + ExposureOptimum,
		"--hard-mask",
		"--compression=" + Compression,
		"-o", output,
	}
	return runner.Command{Name: bin, Args: append(args, inputs...), Timeout: b.Timeout}
}

// Blend fuses inputs into output.
func (b Blender) Blend(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("%w: no manual exposures to fuse", ErrBlendBackend)
	}
	if _, err := runner.RunChecked(ctx, b.Runner, b.Command(inputs, output)); err != nil {
		return fmt.Errorf("%w: %v", ErrBlendBackend, err)
	}
	return nil
}

// DryRunSource stands in for the selected exposure when no file was captured.
// It names the largest file matching the run's manual glob.
func DryRunSource(layout capture.Layout) string {
	return "{largest of " + layout.ManualGlob() + "}"
}

// Outcome is what Compose produced.
type Outcome struct {
	// HDR is the composite path, empty when blending failed.
	HDR      string
	BlendErr error
	// Selected is the manual exposure chosen as canonical, Canonical its
	// copy under the "manual" tag. Both are empty when nothing was selectable.
	Selected  string
	Canonical string
	SelectErr error
	// Removed lists the per-exposure files deleted by cleanup.
	Removed []string
}

// Composer turns the manual results of a run into the HDR and manual artifacts.
type Composer struct {
	Blender  Blender
	Selector Selector
	Runner   runner.Runner
	// CopyTimeout bounds the cp invocation promoting the canonical file.
	CopyTimeout    time.Duration
	PreserveManual bool
	// DryRun skips cleanup and promotes DryRunSource when nothing was
	// captured; the files were never written.
	DryRun bool
	Log    logging.Logger
}

// Compose blends the successful manual exposures, selects the canonical one
// and removes the per-exposure files unless they are preserved.
func (c *Composer) Compose(ctx context.Context, results []capture.Result, layout capture.Layout) Outcome {
	log := logging.OrNop(c.Log)
	var out Outcome

	manual := capture.Succeeded(results, plan.Manual)
	inputs := make([]string, 0, len(manual))
	for _, r := range manual {
		inputs = append(inputs, r.OutputPath)
	}
	if len(inputs) == 0 {
		out.BlendErr = fmt.Errorf("%w: no manual exposures to fuse", ErrBlendBackend)
		out.SelectErr = ErrNoCandidate
		log.Errorf("No manual exposure succeeded, skipping HDR and canonical selection")
		return out
	}

	hdr := layout.Dated(capture.TagHDR)
	if err := c.Blender.Blend(ctx, inputs, hdr); err != nil {
		out.BlendErr = err
		log.Errorf("%v", err)
	} else {
		out.HDR = hdr
	}

	selector := c.Selector
	if selector == nil {
		selector = LargestFile{}
	}
	selected, err := selector.Select(inputs)
	if err != nil && c.DryRun {
		selected, err = DryRunSource(layout), nil
	}
	if err != nil {
		out.SelectErr = err
		log.Errorf("Canonical selection failed: %v", err)
	} else {
		out.Selected = selected
		canonical := layout.Dated(capture.TagManual)
		cp := runner.Command{Name: "cp", Args: []string{"-f", selected, canonical}, Timeout: c.CopyTimeout}
		if _, err := runner.RunChecked(ctx, c.Runner, cp); err != nil {
			out.SelectErr = fmt.Errorf("promote %s: %w", selected, err)
			log.Errorf("%v", out.SelectErr)
		} else {
			out.Canonical = canonical
			log.Infof("Canonical manual exposure: %s", selected)
		}
	}

	if c.PreserveManual || c.DryRun {
		return out
	}
	if out.Canonical == "" && out.HDR == "" {
		log.Warnf("Keeping manual exposures: neither HDR nor canonical image was produced")
		return out
	}
	for _, p := range inputs {
		if out.Canonical == "" && p == out.Selected {
			log.Warnf("Keeping %s: it was selected but never promoted", p)
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warnf("Could not remove %s: %v", p, err)
			continue
		}
		out.Removed = append(out.Removed, p)
	}
	return out
}
