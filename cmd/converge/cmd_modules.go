package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kingrea/converge/internal/contracts"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List available modules and their arguments",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := buildRegistry()
		if err != nil {
			return err
		}
		verbose, err := cmd.Flags().GetBool("verbose")
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		defer w.Flush()
		for _, id := range registry.IDs() {
			mod, err := registry.Resolve(id)
			if err != nil {
				return err
			}
			info := mod.Info()
			fmt.Fprintf(w, "%s\t%s\t%s\n", info.ID, info.Version, info.Description)
			if verbose {
				printSpec(w, mod.Spec())
			}
		}
		return nil
	},
}

func init() {
	modulesCmd.Flags().BoolP("verbose", "v", false, "include each module's argument spec")
}

func printSpec(w *tabwriter.Writer, spec contracts.Spec) {
	names := make([]string, 0, len(spec.Params))
	for name := range spec.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		param := spec.Params[name]
		attrs := string(param.Type)
		if param.Required {
			attrs += ", required"
		} else if param.Default != nil {
			attrs += fmt.Sprintf(", default=%v", param.Default)
		}
		if len(param.Choices) > 0 {
			attrs += fmt.Sprintf(", choices=%v", param.Choices)
		}
		fmt.Fprintf(w, "  %s\t(%s)\t\n", name, attrs)
	}
}
