package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
)

// Command is one external process invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string        // working directory, empty for the current one
	Timeout time.Duration // zero means no limit beyond the parent context
}

// String renders the command as a shell line, quoting arguments where needed.
func (c Command) String() string {
	line := shellquote.Join(append([]string{c.Name}, c.Args...)...)
	if c.Dir != "" {
		return "cd " + shellquote.Join(c.Dir) + " && " + line
	}
	return line
}

// Result is what a finished process left behind.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes external commands. Implementations return an error only
// when the process could not run to completion; a non-zero exit status is
// reported through Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExitError reports a command that finished with a non-zero status.
type ExitError struct {
	Command Command
	Result  Result
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command.Name, e.Result.ExitCode)
	if stderr := strings.TrimSpace(e.Result.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Check folds a non-zero exit status into an *ExitError.
func Check(cmd Command, res Result, err error) error {
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &ExitError{Command: cmd, Result: res}
	}
	return nil
}

// RunChecked runs cmd and returns an error for any failure, including a
// non-zero exit status.
func RunChecked(ctx context.Context, r Runner, cmd Command) (Result, error) {
	res, err := r.Run(ctx, cmd)
	return res, Check(cmd, res, err)
}

// Exec runs commands on the host with os/exec.
type Exec struct{}

func (Exec) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.Name == "" {
		return Result{ExitCode: -1}, errors.New("binary is required")
	}

	execCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(execCtx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := Result{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		return res, nil
	}

	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.ExitCode = -1
		return res, fmt.Errorf("%s killed after %s timeout", cmd.Name, cmd.Timeout)
	case ctx.Err() != nil:
		res.ExitCode = -1
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	res.ExitCode = -1
	return res, err
}

// DryRun prints every command instead of executing it, and reports success.
type DryRun struct {
	mu  sync.Mutex
	Out io.Writer
}

func NewDryRun(out io.Writer) *DryRun {
	return &DryRun{Out: out}
}

func (d *DryRun) Run(_ context.Context, cmd Command) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := fmt.Fprintln(d.Out, cmd.String()); err != nil {
		return Result{ExitCode: -1}, err
	}
	return Result{}, nil
}
