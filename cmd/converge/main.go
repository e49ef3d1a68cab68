// cmd/converge/main.go
//
// Entry point for the converge CLI. Every invocation resolves the project
// directory, makes sure the .converge tree exists, and hands off to the
// subcommands defined in the cmd_*.go files next to this one.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/converge/internal/config"
	"github.com/kingrea/converge/internal/inventory"
	"github.com/kingrea/converge/internal/module"
	"github.com/kingrea/converge/internal/modules"
	"github.com/kingrea/converge/internal/vault"
	"github.com/kingrea/converge/plugins"
)

var (
	projectFlag string

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "converge",
	Short: "Agentless configuration management with encrypted secrets",
	Long: `converge applies declarative playbooks to hosts through idempotent
check-then-apply modules, with vault-encrypted secrets, tag-filtered runs,
and per-run report artifacts under .converge/runs.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		project := projectFlag
		if project == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("determine working directory: %w", err)
			}
			project = cwd
		}
		absolute, err := filepath.Abs(project)
		if err != nil {
			return fmt.Errorf("resolve project dir: %w", err)
		}
		if err := config.InitConvergeDir(absolute); err != nil {
			return fmt.Errorf("init .converge: %w", err)
		}
		cfg, err = config.NewConfig(absolute)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", "", "project directory (default: current)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(vaultCmd)
	rootCmd.AddCommand(inventoryCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(dashCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildRegistry assembles the builtin modules plus any project plugins.
func buildRegistry() (*module.Registry, error) {
	reg := module.NewRegistry()
	modules.RegisterBuiltins(reg)
	if err := plugins.RegisterPlugins(reg, cfg); err != nil {
		return nil, err
	}
	return reg, nil
}

// loadInventory reads the inventory named by the flag, falling back to the
// project config.
func loadInventory(path string) (*inventory.Inventory, error) {
	if path == "" {
		path = cfg.InventoryPath()
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.ProjectDir, path)
	}
	return inventory.Load(path)
}

// buildKeyring loads vault identities from the flags plus the project config.
// askPass adds an interactive prompt identity, passwordFile a file-backed one.
func buildKeyring(vaultIDs []string, passwordFile string, askPass bool) (*vault.Keyring, error) {
	args := append([]string{}, cfg.Project.VaultIDs...)
	args = append(args, vaultIDs...)
	if passwordFile != "" {
		args = append(args, passwordFile)
	}
	if askPass {
		args = append(args, "prompt")
	}
	if len(args) == 0 {
		return nil, nil
	}
	keyring, err := vault.LoadKeyring(args, vault.TerminalPrompt)
	if err != nil {
		return nil, err
	}
	return keyring, nil
}

// splitList splits comma-separated flag values, dropping empties.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
