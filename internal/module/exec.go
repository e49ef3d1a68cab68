package module

import (
	"bytes"
	"context"
	"os/exec"
)

// CommandRunner abstracts process execution so module logic can be tested
// without touching the host.
type CommandRunner interface {
	// Run executes the command and returns stdout, stderr, and the exit code.
	// A non-zero exit code is not an error; err is reserved for failures to
	// start the process at all.
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, rc int, err error)
	// LookPath reports whether the named binary is available.
	LookPath(name string) (string, error)
}

// LocalRunner executes commands on the local host.
type LocalRunner struct{}

// Run implements CommandRunner.
func (LocalRunner) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	rc := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			rc = exitErr.ExitCode()
			err = nil
		} else {
			rc = -1
		}
	}
	return stdout.String(), stderr.String(), rc, err
}

// LookPath implements CommandRunner.
func (LocalRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
