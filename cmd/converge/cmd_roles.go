package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kingrea/converge/internal/roles"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Manage role sources",
}

var rolesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch the role sources declared in the project config",
	RunE: func(cmd *cobra.Command, args []string) error {
		refs := cfg.Project.Roles
		if len(refs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No role sources configured.")
			return nil
		}
		syncer := roles.NewSyncer(cfg.RolesDir())
		if err := syncer.Sync(refs, cfg.ProjectDir); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Synced %d role source(s) into %s\n", len(refs), cfg.RolesDir())
		return nil
	},
}

var rolesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List roles resolvable from this project",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := roles.NewLoader(cfg.RolesDir())
		for _, ref := range cfg.Project.Roles {
			role, err := loader.Load(ref.Name)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t(not synced: %v)\n", ref.Name, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d task(s)\n", role.Name, len(role.Tasks))
		}
		return nil
	},
}

func init() {
	rolesCmd.AddCommand(rolesSyncCmd)
	rolesCmd.AddCommand(rolesListCmd)
}
