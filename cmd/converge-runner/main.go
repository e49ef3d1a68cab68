// cmd/converge-runner/main.go
//
// A tiny harness for exercising a single module against localhost without a
// playbook. Handy when writing a new module or debugging plugin definitions:
// pass the module id and its arguments, get the raw result back.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/converge/internal/config"
	"github.com/kingrea/converge/internal/module"
	"github.com/kingrea/converge/internal/modules"
	"github.com/kingrea/converge/plugins"
)

func main() {
	moduleID := flag.String("module", "", "module identifier to execute (e.g. pkg)")
	projectDir := flag.String("project", "", "path to the project directory (defaults to cwd)")
	checkMode := flag.Bool("check", false, "run in check mode (no changes)")
	argsFile := flag.String("args-file", "", "path to a YAML file with module arguments")
	host := flag.String("host", "localhost", "inventory hostname to report as")
	args := keyValueFlag{}
	flag.Var(&args, "set", "module argument (key=value, repeatable)")
	flag.Parse()

	if strings.TrimSpace(*moduleID) == "" {
		die("--module is required")
	}

	project := *projectDir
	if project == "" {
		var err error
		project, err = os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
	}
	absoluteProject, err := filepath.Abs(project)
	if err != nil {
		die("resolve project dir: %v", err)
	}
	if err := config.InitConvergeDir(absoluteProject); err != nil {
		die("init .converge: %v", err)
	}
	cfg, err := config.NewConfig(absoluteProject)
	if err != nil {
		die("load config: %v", err)
	}

	reg := module.NewRegistry()
	modules.RegisterBuiltins(reg)
	if err := plugins.RegisterPlugins(reg, cfg); err != nil {
		die("load plugins: %v", err)
	}

	params, err := buildParams(*argsFile, args)
	if err != nil {
		die("load arguments: %v", err)
	}

	ctx := module.NewRunContext(context.Background(), *host).WithCheckMode(*checkMode)
	result, err := reg.Invoke(ctx, *moduleID, params)
	if err != nil {
		die("invoke module: %v", err)
	}

	switch {
	case result.Failed:
		fmt.Printf("failed: %s\n", result.Msg)
	case result.Skipped:
		fmt.Printf("skipped: %s\n", result.Msg)
	case result.Changed:
		fmt.Printf("changed: %s\n", result.Msg)
	default:
		fmt.Printf("ok: %s\n", result.Msg)
	}
	if result.Rc != 0 || result.Stdout != "" || result.Stderr != "" {
		fmt.Printf("rc: %d\n", result.Rc)
	}
	if result.Stdout != "" {
		fmt.Printf("stdout:\n%s\n", strings.TrimRight(result.Stdout, "\n"))
	}
	if result.Stderr != "" {
		fmt.Printf("stderr:\n%s\n", strings.TrimRight(result.Stderr, "\n"))
	}
	if result.Failed {
		os.Exit(2)
	}
}

// buildParams merges the args file (lowest) with the repeatable --arg flags.
func buildParams(path string, overrides keyValueFlag) (map[string]any, error) {
	params := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &params); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	for key, value := range overrides {
		params[key] = value
	}
	return params, nil
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	var pairs []string
	for key, value := range *kv {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, value))
	}
	return strings.Join(pairs, ", ")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return fmt.Errorf("argument key is empty in %q", value)
	}
	if *kv == nil {
		*kv = keyValueFlag{}
	}
	(*kv)[key] = parts[1]
	return nil
}
