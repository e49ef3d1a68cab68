package module

import (
	"context"
	"fmt"

	"github.com/kingrea/converge/internal/contracts"
)

// Info describes a module's identity and intent.
type Info struct {
	ID          string
	Name        string
	Description string
	Version     string
}

// Validate ensures the info block is well-formed.
func (i Info) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("module: id is required")
	}
	if i.Name == "" {
		return fmt.Errorf("module: name is required for %s", i.ID)
	}
	if i.Version == "" {
		return fmt.Errorf("module: version is required for %s", i.ID)
	}
	return nil
}

// Module is one idempotent unit of host state management. Run must be safe
// to call repeatedly: it queries current state, compares against the desired
// state in params, and only then mutates. In check mode it must not mutate
// at all, only report what would change.
type Module interface {
	Info() Info
	Spec() contracts.Spec
	Run(ctx *RunContext, params map[string]any) Result
}

// Result captures the outcome of a module execution on one host.
type Result struct {
	Changed bool
	Failed  bool
	Skipped bool
	Msg     string
	// Rc/Stdout/Stderr are populated by modules that shell out.
	Rc     int
	Stdout string
	Stderr string
	// Facts are merged into the host's variables under the register name.
	Facts map[string]any
}

// Failf builds a failed result with a formatted message.
func Failf(format string, args ...any) Result {
	return Result{Failed: true, Msg: fmt.Sprintf(format, args...)}
}

// Okf builds an unchanged result with a formatted message.
func Okf(format string, args ...any) Result {
	return Result{Msg: fmt.Sprintf(format, args...)}
}

// Changedf builds a changed result with a formatted message.
func Changedf(format string, args ...any) Result {
	return Result{Changed: true, Msg: fmt.Sprintf(format, args...)}
}

// RunContext carries shared runtime dependencies into every module run.
type RunContext struct {
	Context context.Context
	// Host is the inventory name of the host the task targets.
	Host string
	// CheckMode forbids mutation; modules report the would-be change.
	CheckMode bool
	// Vars is the flattened variable view for the host at task time.
	Vars map[string]any
	// Exec runs commands on the target. Injectable for tests.
	Exec CommandRunner
	// Log receives diagnostic lines. It matches logging.Logger's signature.
	Log Logger
}

// Logger records module diagnostics.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// NewRunContext builds a context with working defaults.
func NewRunContext(ctx context.Context, host string) *RunContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &RunContext{
		Context: ctx,
		Host:    host,
		Vars:    map[string]any{},
		Exec:    LocalRunner{},
		Log:     nopLogger{},
	}
}

// WithCheckMode returns a copy that forbids mutation.
func (c *RunContext) WithCheckMode(check bool) *RunContext {
	clone := *c
	clone.CheckMode = check
	return &clone
}

// WithVars returns a copy carrying the provided variable view.
func (c *RunContext) WithVars(vars map[string]any) *RunContext {
	clone := *c
	clone.Vars = vars
	return &clone
}
