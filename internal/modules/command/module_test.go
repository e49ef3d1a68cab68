package command

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kingrea/converge/internal/module"
	"github.com/kingrea/converge/internal/module/moduletest"
)

func run(t *testing.T, runner *moduletest.Runner, check bool, params map[string]any) module.Result {
	t.Helper()
	mod, err := New()
	if err != nil {
		t.Fatal(err)
	}
	ctx := module.NewRunContext(context.Background(), "localhost").WithCheckMode(check)
	ctx.Exec = runner
	return mod.Run(ctx, params)
}

func TestRunsAndReportsChanged(t *testing.T) {
	runner := moduletest.NewRunner().
		On("mkfs.ext4 /dev/loop0", moduletest.Response{Stdout: "done\n"})
	res := run(t, runner, false, map[string]any{"cmd": "mkfs.ext4 /dev/loop0"})
	if !res.Changed || res.Failed || res.Msg != "done" {
		t.Fatalf("result = %+v", res)
	}
}

func TestShellRunsThroughSh(t *testing.T) {
	runner := moduletest.NewRunner().
		On("sh -c echo hi > /tmp/out", moduletest.Response{Stdout: ""})
	res := run(t, runner, false, map[string]any{"cmd": "echo hi > /tmp/out", "shell": true})
	if !res.Changed || res.Failed {
		t.Fatalf("result = %+v", res)
	}
	if !runner.Ran("sh -c echo hi > /tmp/out") {
		t.Fatalf("calls = %v", runner.Calls)
	}
}

func TestNonZeroRcFails(t *testing.T) {
	runner := moduletest.NewRunner().
		On("false", moduletest.Response{Rc: 1, Stderr: "boom\n"})
	res := run(t, runner, false, map[string]any{"cmd": "false"})
	if !res.Failed || res.Changed || res.Rc != 1 || res.Msg != "boom" {
		t.Fatalf("result = %+v", res)
	}
}

func TestCreatesGuardSkipsExecution(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "done.marker")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	runner := moduletest.NewRunner()
	res := run(t, runner, false, map[string]any{"cmd": "expensive-setup", "creates": marker})
	if res.Changed || res.Failed {
		t.Fatalf("result = %+v", res)
	}
	if len(runner.Calls) != 0 {
		t.Fatalf("guarded command still ran: %v", runner.Calls)
	}
}

func TestRemovesGuardSkipsWhenTargetMissing(t *testing.T) {
	runner := moduletest.NewRunner()
	res := run(t, runner, false, map[string]any{
		"cmd":     "cleanup-tool",
		"removes": filepath.Join(t.TempDir(), "never-existed"),
	})
	if res.Changed || len(runner.Calls) != 0 {
		t.Fatalf("result = %+v calls = %v", res, runner.Calls)
	}
}

func TestCheckModeSkips(t *testing.T) {
	runner := moduletest.NewRunner()
	res := run(t, runner, true, map[string]any{"cmd": "anything"})
	if !res.Skipped || len(runner.Calls) != 0 {
		t.Fatalf("result = %+v calls = %v", res, runner.Calls)
	}
}
