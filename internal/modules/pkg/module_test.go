package pkg

import (
	"context"
	"testing"

	"github.com/kingrea/converge/internal/contracts"
	"github.com/kingrea/converge/internal/module"
	"github.com/kingrea/converge/internal/module/moduletest"
)

func run(t *testing.T, runner *moduletest.Runner, check bool, params map[string]any) module.Result {
	t.Helper()
	mod, err := New()
	if err != nil {
		t.Fatal(err)
	}
	report := contracts.Check(ID, mod.Spec(), params)
	if !report.IsValid() {
		t.Fatalf("params invalid: %s", report.Summary())
	}
	ctx := module.NewRunContext(context.Background(), "localhost").WithCheckMode(check)
	ctx.Exec = runner
	return mod.Run(ctx, report.Params)
}

func TestInstallMissingPackageViaApt(t *testing.T) {
	runner := moduletest.NewRunner().
		On("dpkg-query -W -f=${Status} curl", moduletest.Response{Rc: 1})
	res := run(t, runner, false, map[string]any{"name": "curl"})
	if !res.Changed || res.Failed {
		t.Fatalf("result = %+v", res)
	}
	if !runner.Ran("apt-get install -y curl") {
		t.Fatalf("calls = %v", runner.Calls)
	}
}

func TestInstalledPackageIsNoOp(t *testing.T) {
	runner := moduletest.NewRunner().
		On("dpkg-query -W -f=${Status} curl", moduletest.Response{Stdout: "install ok installed"})
	res := run(t, runner, false, map[string]any{"name": "curl"})
	if res.Changed || res.Failed {
		t.Fatalf("result = %+v", res)
	}
}

func TestFallsBackToDnfWhenAptMissing(t *testing.T) {
	runner := moduletest.NewRunner().
		On("rpm -q curl", moduletest.Response{Rc: 1})
	runner.Missing["apt-get"] = true
	res := run(t, runner, false, map[string]any{"name": "curl"})
	if res.Failed {
		t.Fatalf("result = %+v", res)
	}
	if !runner.Ran("dnf install -y curl") {
		t.Fatalf("calls = %v", runner.Calls)
	}
}

func TestNoManagerFails(t *testing.T) {
	runner := moduletest.NewRunner()
	for _, name := range []string{"apt-get", "dnf", "yum"} {
		runner.Missing[name] = true
	}
	res := run(t, runner, false, map[string]any{"name": "curl"})
	if !res.Failed {
		t.Fatalf("result = %+v", res)
	}
}

func TestCheckModeReportsInstall(t *testing.T) {
	runner := moduletest.NewRunner().
		On("dpkg-query -W -f=${Status} curl", moduletest.Response{Rc: 1})
	res := run(t, runner, true, map[string]any{"name": "curl"})
	if !res.Changed || res.Failed {
		t.Fatalf("result = %+v", res)
	}
	if runner.Ran("apt-get install -y curl") {
		t.Fatal("check mode installed the package")
	}
}

func TestAbsentRemoves(t *testing.T) {
	runner := moduletest.NewRunner().
		On("dpkg-query -W -f=${Status} curl", moduletest.Response{Stdout: "install ok installed"})
	res := run(t, runner, false, map[string]any{"name": "curl", "state": "absent"})
	if !res.Changed || !runner.Ran("apt-get remove -y curl") {
		t.Fatalf("result = %+v calls = %v", res, runner.Calls)
	}
}
