package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kingrea/converge/internal/playbook"
)

var lintCmd = &cobra.Command{
	Use:   "lint <playbook>...",
	Short: "Check playbooks for structural problems without running them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			if !filepath.IsAbs(path) {
				path = filepath.Join(cfg.ProjectDir, path)
			}
			pb, err := playbook.Load(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
				failed++
				continue
			}
			problems := pb.Lint()
			if len(problems) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
				continue
			}
			failed++
			for _, problem := range problems {
				fmt.Fprintf(os.Stderr, "%s: %v\n", path, problem)
			}
		}
		if failed > 0 {
			return fmt.Errorf("lint: %d playbook(s) with problems", failed)
		}
		return nil
	},
}
