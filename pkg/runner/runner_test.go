package runner

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
}

func TestExec_Success(t *testing.T) {
	skipWithoutShell(t)
	res, err := Exec{}.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo out; echo err >&2"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
}

func TestExec_NonZeroExit(t *testing.T) {
	skipWithoutShell(t)
	cmd := Command{Name: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}}
	res, err := Exec{}.Run(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)

	err = Check(cmd, res, nil)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Result.ExitCode)
	assert.Contains(t, err.Error(), "broken")
}

func TestExec_WorkingDirectory(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	res, err := Exec{}.Run(context.Background(), Command{Name: "pwd", Dir: dir})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(res.Stdout), strings.TrimPrefix(dir, "/private")))
}

func TestExec_Timeout(t *testing.T) {
	skipWithoutShell(t)
	start := time.Now()
	_, err := Exec{}.Run(context.Background(), Command{Name: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestExec_Cancelled(t *testing.T) {
	skipWithoutShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Exec{}.Run(ctx, Command{Name: "sleep", Args: []string{"5"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExec_MissingBinary(t *testing.T) {
	_, err := Exec{}.Run(context.Background(), Command{Name: "definitely-not-a-binary-on-path"})
	assert.Error(t, err)

	_, err = Exec{}.Run(context.Background(), Command{})
	assert.Error(t, err)
}

func TestDryRun_PrintsInOrder(t *testing.T) {
	var buf bytes.Buffer
	d := NewDryRun(&buf)
	cmds := []Command{
		{Name: "fswebcam", Args: []string{"-F", "10", "out.jpg"}},
		{Name: "rsync", Args: []string{"-a", "./", "host:/srv"}, Dir: "/data"},
	}
	for _, c := range cmds {
		res, err := d.Run(context.Background(), c)
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
	}
	assert.Equal(t, cmds[0].String()+"\n"+cmds[1].String()+"\n", buf.String())
	assert.Equal(t, "fswebcam -F 10 out.jpg", cmds[0].String())
	assert.True(t, strings.HasPrefix(cmds[1].String(), "cd /data && rsync"))
}

func TestCommand_StringQuotesSpaces(t *testing.T) {
	c := Command{Name: "fswebcam", Args: []string{"-s", "Exposure, Auto=Manual Mode"}}
	assert.NotEqual(t, "fswebcam -s Exposure, Auto=Manual Mode", c.String())
}

func TestRunChecked(t *testing.T) {
	boom := errors.New("boom")
	_, err := RunChecked(context.Background(), failing{err: boom}, Command{Name: "x"})
	assert.ErrorIs(t, err, boom)

	_, err = RunChecked(context.Background(), failing{code: 2}, Command{Name: "x"})
	var exitErr *ExitError
	assert.ErrorAs(t, err, &exitErr)
}

type failing struct {
	code int
	err  error
}

func (f failing) Run(context.Context, Command) (Result, error) {
	return Result{ExitCode: f.code}, f.err
}
