package capture

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/hdrcam/capture-shot/pkg/logging"
	"github.com/hdrcam/capture-shot/pkg/plan"
	"github.com/hdrcam/capture-shot/pkg/runner"
)

// ErrCaptureBackend marks a shot the capture backend failed to take.
var ErrCaptureBackend = errors.New("capture backend failed")

// Result is the outcome of one planned shot.
type Result struct {
	Spec       plan.CaptureSpec
	OutputPath string
	Success    bool
	Err        error
	// MetadataErr is set when the shot succeeded but EXIF stamping did not.
	MetadataErr error
}

// modeFlags are the fixed fswebcam control templates per exposure mode.
var modeFlags = map[plan.Mode]func(spec plan.CaptureSpec) []string{
	plan.AutoFalse: func(plan.CaptureSpec) []string {
		return []string{"-s", "Exposure, Auto=Aperture Priority Mode", "-s", "Exposure, Auto Priority=False"}
	},
	plan.AutoTrue: func(plan.CaptureSpec) []string {
		return []string{"-s", "Exposure, Auto=Aperture Priority Mode", "-s", "Exposure, Auto Priority=True"}
	},
	plan.Manual: func(spec plan.CaptureSpec) []string {
		return []string{"-s", "Exposure, Auto=Manual Mode", "-s", fmt.Sprintf("Exposure (Absolute)=%d", spec.Exposure)}
	},
}

// Executor takes shots with fswebcam and stamps manual ones with exiv2.
type Executor struct {
	Bin      string
	Params   []string
	Timeout  time.Duration
	Runner   runner.Runner
	Metadata MetadataWriter
	Log      logging.Logger
}

// ParseParams splits the configured extra fswebcam parameters shell-style.
func ParseParams(params string) ([]string, error) {
	args, err := shellquote.Split(params)
	if err != nil {
		return nil, fmt.Errorf("fswebcam params: %w", err)
	}
	return args, nil
}

// Command composes <bin> <mode flags> <params> <outputPath>.
func (e *Executor) Command(spec plan.CaptureSpec, outputPath string) (runner.Command, error) {
	flags, ok := modeFlags[spec.Mode]
	if !ok {
		return runner.Command{}, fmt.Errorf("unknown capture mode %s", spec.Mode)
	}
	args := []string{"-F", strconv.Itoa(spec.FrameCount)}
	args = append(args, flags(spec)...)
	args = append(args, e.Params...)
	args = append(args, outputPath)
	return runner.Command{Name: e.Bin, Args: args, Timeout: e.Timeout}, nil
}

// Capture takes one shot. A failed shot is reported in the result, never as
// a panic or early exit.
func (e *Executor) Capture(ctx context.Context, spec plan.CaptureSpec, outputPath string) Result {
	log := logging.OrNop(e.Log)
	res := Result{Spec: spec, OutputPath: outputPath}

	cmd, err := e.Command(spec, outputPath)
	if err != nil {
		res.Err = err
		return res
	}
	log.Debugf("Capturing %s: %s", Tag(spec), cmd)
	if _, err := runner.RunChecked(ctx, e.Runner, cmd); err != nil {
		res.Err = fmt.Errorf("%w: %s: %v", ErrCaptureBackend, Tag(spec), err)
		log.Errorf("%v", res.Err)
		return res
	}
	res.Success = true

	if spec.Mode == plan.Manual {
		if err := e.Metadata.WriteExposureTime(ctx, outputPath, spec.Exposure); err != nil {
			res.MetadataErr = err
			log.Warnf("Could not stamp exposure time on %s: %v", outputPath, err)
		}
	}
	return res
}

// Execute runs the whole plan in order and never stops early, except when
// the context is cancelled.
func (e *Executor) Execute(ctx context.Context, specs []plan.CaptureSpec, layout Layout) []Result {
	log := logging.OrNop(e.Log)
	results := make([]Result, 0, len(specs))
	for i, spec := range specs {
		if err := ctx.Err(); err != nil {
			log.Warnf("Run cancelled, skipping %d remaining shots", len(specs)-i)
			for _, rest := range specs[i:] {
				results = append(results, Result{Spec: rest, OutputPath: layout.OutputPath(rest), Err: err})
			}
			break
		}
		results = append(results, e.Capture(ctx, spec, layout.OutputPath(spec)))
	}
	return results
}

// Succeeded filters the successful results of a mode.
func Succeeded(results []Result, mode plan.Mode) []Result {
	var out []Result
	for _, r := range results {
		if r.Success && r.Spec.Mode == mode {
			out = append(out, r)
		}
	}
	return out
}
