// Package moduletest provides a scripted CommandRunner so module logic can
// be exercised without touching the host.
package moduletest

import (
	"context"
	"fmt"
	"strings"
)

// Response scripts the outcome of one expected command.
type Response struct {
	Stdout string
	Stderr string
	Rc     int
	Err    error
}

// Runner replays scripted responses keyed by the joined command line and
// records every invocation for assertions.
type Runner struct {
	Responses map[string]Response
	// DefaultRc is returned for unscripted commands (with an empty stdout).
	DefaultRc int
	// Missing lists binaries LookPath should report as absent.
	Missing map[string]bool

	Calls []string
}

// NewRunner builds an empty scripted runner.
func NewRunner() *Runner {
	return &Runner{Responses: map[string]Response{}, Missing: map[string]bool{}}
}

// On scripts a response for the given command line.
func (r *Runner) On(cmdline string, resp Response) *Runner {
	r.Responses[cmdline] = resp
	return r
}

// Run implements module.CommandRunner.
func (r *Runner) Run(_ context.Context, name string, args ...string) (string, string, int, error) {
	cmdline := strings.Join(append([]string{name}, args...), " ")
	r.Calls = append(r.Calls, cmdline)
	if resp, ok := r.Responses[cmdline]; ok {
		return resp.Stdout, resp.Stderr, resp.Rc, resp.Err
	}
	return "", "", r.DefaultRc, nil
}

// LookPath implements module.CommandRunner.
func (r *Runner) LookPath(name string) (string, error) {
	if r.Missing[name] {
		return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
	}
	return "/usr/bin/" + name, nil
}

// Ran reports whether a command line was executed.
func (r *Runner) Ran(cmdline string) bool {
	for _, call := range r.Calls {
		if call == cmdline {
			return true
		}
	}
	return false
}
