package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/converge/internal/eventbridge"
	"github.com/kingrea/converge/internal/logbook"
	"github.com/kingrea/converge/internal/logging"
	"github.com/kingrea/converge/internal/tui"
)

var dashRunID string

var dashCmd = &cobra.Command{
	Use:   "dash",
	Short: "Watch runs live in a terminal dashboard",
	Long: `dash starts the event bridge and renders incoming run events as a
live dashboard. Runs started with the bridge enabled post their events here;
by default every run is shown as it arrives.`,
	RunE: runDash,
}

func init() {
	dashCmd.Flags().StringVar(&dashRunID, "run-id", "", "only show events for this run")
}

func runDash(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(cfg.ProjectDir)
	if err != nil {
		return err
	}
	defer logger.Close()

	router := eventbridge.NewRouter(eventbridge.RouterWithLogger(logger))

	settings := eventbridge.SettingsFromConfig(cfg)
	if !settings.Enabled {
		return fmt.Errorf("dash: the event bridge is disabled in this project's config")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	server := eventbridge.NewServer(settings,
		eventbridge.WithProcessor(router),
		eventbridge.WithLogger(logger))
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("dash: start bridge: %w", err)
	}
	defer server.Shutdown(context.Background())

	runID := dashRunID
	if runID == "" {
		runID = eventbridge.RunWildcard
	}
	sub := router.Subscribe(runID)
	defer sub.Close()

	lb, _ := logbook.New(cfg.LogbookPath())

	fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s\n", server.BaseURL())
	program := tea.NewProgram(tui.NewDash(sub.Events, lb), tea.WithAltScreen())
	model, err := program.Run()
	if err != nil {
		return err
	}
	if dash, ok := model.(*tui.Dash); ok && !dash.Done() {
		fmt.Fprintln(cmd.ErrOrStderr(), "closed before a run recap arrived")
	}
	return nil
}
