package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/converge/internal/eventbridge"
	"github.com/kingrea/converge/internal/logbook"
	"github.com/kingrea/converge/internal/logging"
	"github.com/kingrea/converge/internal/playbook"
	"github.com/kingrea/converge/internal/report"
	"github.com/kingrea/converge/internal/roles"
	"github.com/kingrea/converge/internal/runner"
)

var (
	runInventory    string
	runTags         []string
	runSkipTags     []string
	runLimit        string
	runForks        int
	runCheck        bool
	runExtraVars    []string
	runVaultIDs     []string
	runPasswordFile string
	runAskVaultPass bool
	runListTags     bool
	runListTasks    bool
	runSyntaxCheck  bool
)

var runCmd = &cobra.Command{
	Use:   "run <playbook>",
	Short: "Run a playbook against the inventory",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	flags := runCmd.Flags()
	flags.StringVarP(&runInventory, "inventory", "i", "", "inventory file (default: project config)")
	flags.StringArrayVarP(&runTags, "tags", "t", nil, "only run tasks tagged with these tags")
	flags.StringArrayVar(&runSkipTags, "skip-tags", nil, "skip tasks tagged with these tags")
	flags.StringVarP(&runLimit, "limit", "l", "", "limit matched hosts to this pattern")
	flags.IntVarP(&runForks, "forks", "f", 0, "parallel host count per task (default: project config)")
	flags.BoolVarP(&runCheck, "check", "C", false, "report changes without applying them")
	flags.StringArrayVarP(&runExtraVars, "extra-vars", "e", nil, "extra variables (key=value or @file.yml, repeatable)")
	flags.StringArrayVar(&runVaultIDs, "vault-id", nil, "vault identity [label@]source (repeatable)")
	flags.StringVar(&runPasswordFile, "vault-password-file", "", "vault password file")
	flags.BoolVar(&runAskVaultPass, "ask-vault-pass", false, "prompt for the vault password")
	flags.BoolVar(&runListTags, "list-tags", false, "list all tags and exit")
	flags.BoolVar(&runListTasks, "list-tasks", false, "list tasks that would run and exit")
	flags.BoolVar(&runSyntaxCheck, "syntax-check", false, "validate the playbook and exit")
}

func runRun(cmd *cobra.Command, args []string) error {
	path := args[0]
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.ProjectDir, path)
	}
	pb, err := playbook.Load(path)
	if err != nil {
		return err
	}

	if runSyntaxCheck {
		return reportLint(pb)
	}
	if runListTags {
		for _, tag := range pb.ListTags() {
			fmt.Println(tag)
		}
		return nil
	}

	filter := playbook.TagFilter{
		Select: splitList(runTags),
		Skip:   splitList(runSkipTags),
	}
	if runListTasks {
		listTasks(pb, filter)
		return nil
	}

	keyring, err := buildKeyring(runVaultIDs, runPasswordFile, runAskVaultPass)
	if err != nil {
		return err
	}
	inv, err := loadInventory(runInventory)
	if err != nil {
		return err
	}
	registry, err := buildRegistry()
	if err != nil {
		return err
	}
	extraVars, err := parseExtraVars(runExtraVars)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.ProjectDir)
	if err != nil {
		return err
	}
	defer logger.Close()
	lb, _ := logbook.New(cfg.LogbookPath())

	forks := runForks
	if forks <= 0 {
		forks = cfg.Forks()
	}

	bridgeLog := logger.Named("bridge")
	router := eventbridge.NewRouter(eventbridge.RouterWithLogger(bridgeLog))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	events, closeBridge := connectBridge(ctx, router, bridgeLog)
	defer closeBridge()

	r, err := runner.New(runner.Options{
		Playbook:  pb,
		Inventory: inv,
		Registry:  registry,
		Roles:     roles.NewLoader(filepath.Join(filepath.Dir(path), "roles"), cfg.RolesDir()),
		Keyring:   keyring,
		Tags:      filter,
		Limit:     runLimit,
		Forks:     forks,
		CheckMode: runCheck,
		ExtraVars: extraVars,
		Log:       logger.Named("runner"),
		Events:    events,
		Store:     report.NewStore(cfg.RunsDir()),
		Output:    cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	lb.Info("run started: %s", pb.Path)
	rep, err := r.Run(ctx)
	if err != nil {
		lb.Error("run aborted: %v", err)
		return err
	}
	runLog := lb.Scoped(rep.RunID)
	if rep.Failed() {
		runLog.Warn("failed on: %s", strings.Join(rep.FailedHosts(), ", "))
		return fmt.Errorf("run failed on %d host(s), see %s",
			len(rep.FailedHosts()), report.RetryPath(pb.Path))
	}
	runLog.Info("completed")
	return nil
}

// connectBridge wires run events to the configured bridge. When no other
// process holds the bridge address this run serves it; when one does,
// typically a converge dash, events are forwarded to it over HTTP on top of
// the local dispatch. Bridge problems never fail the run.
func connectBridge(ctx context.Context, router *eventbridge.Router, logger *logging.Logger) (eventbridge.EventProcessor, func()) {
	settings := eventbridge.SettingsFromConfig(cfg)
	if !settings.Enabled {
		return router, func() {}
	}
	server := eventbridge.NewServer(settings,
		eventbridge.WithProcessor(router),
		eventbridge.WithLogger(logger))
	err := server.Start(ctx)
	if err == nil {
		return router, func() { _ = server.Shutdown(context.Background()) }
	}
	if eventbridge.PingBridge(ctx, settings.URL()) {
		logger.Printf("forwarding events to the bridge at %s", settings.URL())
		forwarder := eventbridge.NewForwarder(settings.URL(),
			eventbridge.ForwarderWithLogger(logger))
		return eventbridge.Fanout{router, forwarder}, func() { _ = forwarder.Flush() }
	}
	logger.Printf("event bridge unavailable: %v", err)
	return router, func() {}
}

func reportLint(pb *playbook.Playbook) error {
	problems := pb.Lint()
	if len(problems) == 0 {
		fmt.Printf("playbook %s: syntax OK\n", pb.Path)
		return nil
	}
	for _, problem := range problems {
		fmt.Fprintf(os.Stderr, "%v\n", problem)
	}
	return fmt.Errorf("%d problem(s) found", len(problems))
}

func listTasks(pb *playbook.Playbook, filter playbook.TagFilter) {
	for _, play := range pb.Plays {
		name := play.Name
		if name == "" {
			name = play.Hosts
		}
		fmt.Printf("play: %s\n", name)
		for _, ref := range play.Roles {
			fmt.Printf("  role: %s\n", ref.Name)
		}
		for _, task := range play.Tasks {
			if !filter.ShouldRun(task.Tags) {
				continue
			}
			label := task.Name
			if label == "" {
				label = task.Module
			}
			if len(task.Tags) > 0 {
				fmt.Printf("  %s\t[%s]\n", label, strings.Join(task.Tags, ", "))
			} else {
				fmt.Printf("  %s\n", label)
			}
		}
	}
}

// parseExtraVars accepts key=value pairs and @file references to YAML files.
func parseExtraVars(values []string) (map[string]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := map[string]any{}
	for _, value := range values {
		if strings.HasPrefix(value, "@") {
			path := strings.TrimPrefix(value, "@")
			if !filepath.IsAbs(path) {
				path = filepath.Join(cfg.ProjectDir, path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("extra-vars: %w", err)
			}
			var vars map[string]any
			if err := yaml.Unmarshal(data, &vars); err != nil {
				return nil, fmt.Errorf("extra-vars %s: %w", path, err)
			}
			for k, v := range vars {
				out[k] = v
			}
			continue
		}
		key, val, ok := strings.Cut(value, "=")
		if !ok {
			return nil, fmt.Errorf("extra-vars: %q is not key=value or @file", value)
		}
		out[strings.TrimSpace(key)] = val
	}
	return out, nil
}
