package service

import (
	"context"
	"strings"
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

func TestStartInactiveService(t *testing.T) {
	runner := moduletest.NewRunner().
		On("systemctl is-active nginx", moduletest.Response{Stdout: "inactive\n", Rc: 3})
	res := run(t, runner, false, map[string]any{"name": "nginx", "state": "started"})
	if !res.Changed || res.Failed {
		t.Fatalf("result = %+v", res)
	}
	if !runner.Ran("systemctl start nginx") {
		t.Fatalf("calls = %v", runner.Calls)
	}
}

func TestStartActiveServiceIsNoOp(t *testing.T) {
	runner := moduletest.NewRunner().
		On("systemctl is-active nginx", moduletest.Response{Stdout: "active\n"})
	res := run(t, runner, false, map[string]any{"name": "nginx", "state": "started"})
	if res.Changed || res.Failed {
		t.Fatalf("result = %+v", res)
	}
	if runner.Ran("systemctl start nginx") {
		t.Fatal("start should not run for an active unit")
	}
}

func TestStopActiveServiceMessage(t *testing.T) {
	runner := moduletest.NewRunner().
		On("systemctl is-active nginx", moduletest.Response{Stdout: "active\n"})
	res := run(t, runner, false, map[string]any{"name": "nginx", "state": "stopped"})
	if !res.Changed || !runner.Ran("systemctl stop nginx") {
		t.Fatalf("result = %+v calls = %v", res, runner.Calls)
	}
	if !strings.Contains(res.Msg, "stopped") || strings.Contains(res.Msg, "stoped") {
		t.Fatalf("msg = %q", res.Msg)
	}
}

func TestRestartAlwaysChanges(t *testing.T) {
	runner := moduletest.NewRunner().
		On("systemctl is-active nginx", moduletest.Response{Stdout: "active\n"})
	res := run(t, runner, false, map[string]any{"name": "nginx", "state": "restarted"})
	if !res.Changed || !runner.Ran("systemctl restart nginx") {
		t.Fatalf("result = %+v calls = %v", res, runner.Calls)
	}
}

func TestEnableDisabledService(t *testing.T) {
	runner := moduletest.NewRunner().
		On("systemctl is-enabled nginx", moduletest.Response{Stdout: "disabled\n", Rc: 1})
	res := run(t, runner, false, map[string]any{"name": "nginx", "enabled": true})
	if !res.Changed || !runner.Ran("systemctl enable nginx") {
		t.Fatalf("result = %+v calls = %v", res, runner.Calls)
	}
}

func TestCheckModeReportsWithoutActing(t *testing.T) {
	runner := moduletest.NewRunner().
		On("systemctl is-active nginx", moduletest.Response{Stdout: "inactive\n", Rc: 3}).
		On("systemctl is-enabled nginx", moduletest.Response{Stdout: "disabled\n", Rc: 1})
	res := run(t, runner, true, map[string]any{"name": "nginx", "state": "started", "enabled": true})
	if !res.Changed || res.Failed {
		t.Fatalf("result = %+v", res)
	}
	for _, call := range runner.Calls {
		if call == "systemctl start nginx" || call == "systemctl enable nginx" {
			t.Fatalf("check mode mutated: %v", runner.Calls)
		}
	}
}

func TestRequiresStateOrEnabled(t *testing.T) {
	res := run(t, moduletest.NewRunner(), false, map[string]any{"name": "nginx"})
	if !res.Failed {
		t.Fatalf("result = %+v", res)
	}
}
