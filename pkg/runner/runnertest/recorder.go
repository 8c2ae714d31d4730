// Package runnertest provides a scripted Runner for tests.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"github.com/hdrcam/capture-shot/pkg/runner"
)

// Response is the scripted outcome of a matching command.
type Response struct {
	Result runner.Result
	Err    error
	// Effect runs before the response is returned, e.g. to create the file a
	// real backend would have written.
	Effect func(cmd runner.Command)
}

type rule struct {
	match    func(runner.Command) bool
	response Response
}

// Recorder records every command it is given and answers with the first
// matching rule, or success when nothing matches.
type Recorder struct {
	mu       sync.Mutex
	rules    []rule
	Commands []runner.Command
}

func New() *Recorder {
	return &Recorder{}
}

// On registers a response for commands accepted by match.
func (r *Recorder) On(match func(runner.Command) bool, resp Response) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{match: match, response: resp})
	return r
}

// OnName registers a response for every command running the named binary.
func (r *Recorder) OnName(name string, resp Response) *Recorder {
	return r.On(func(c runner.Command) bool { return c.Name == name }, resp)
}

// OnContains registers a response for commands whose rendered line contains s.
func (r *Recorder) OnContains(s string, resp Response) *Recorder {
	return r.On(func(c runner.Command) bool { return strings.Contains(c.String(), s) }, resp)
}

// OnArg registers a response for commands having an argument that contains s.
func (r *Recorder) OnArg(s string, resp Response) *Recorder {
	return r.On(func(c runner.Command) bool {
		for _, a := range c.Args {
			if strings.Contains(a, s) {
				return true
			}
		}
		return false
	}, resp)
}

func (r *Recorder) Run(_ context.Context, cmd runner.Command) (runner.Result, error) {
	r.mu.Lock()
	r.Commands = append(r.Commands, cmd)
	var resp Response
	for _, rl := range r.rules {
		if rl.match(cmd) {
			resp = rl.response
			break
		}
	}
	r.mu.Unlock()

	if resp.Effect != nil {
		resp.Effect(cmd)
	}
	return resp.Result, resp.Err
}

// Lines returns the rendered command lines in call order.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Commands))
	for i, c := range r.Commands {
		out[i] = c.String()
	}
	return out
}

// Named returns the recorded commands that ran the named binary.
func (r *Recorder) Named(name string) []runner.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []runner.Command
	for _, c := range r.Commands {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
