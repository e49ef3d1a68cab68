package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kingrea/converge/internal/inventory"
)

var (
	invFile  string
	invList  bool
	invGraph bool
	invHost  string
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Inspect the host and group graph",
	RunE:  runInventoryCmd,
}

func init() {
	flags := inventoryCmd.Flags()
	flags.StringVarP(&invFile, "inventory", "i", "", "inventory file (default: project config)")
	flags.BoolVar(&invList, "list", false, "dump all groups, hosts, and vars as JSON")
	flags.BoolVar(&invGraph, "graph", false, "print the group tree")
	flags.StringVar(&invHost, "host", "", "print the merged vars for one host")
}

func runInventoryCmd(cmd *cobra.Command, args []string) error {
	inv, err := loadInventory(invFile)
	if err != nil {
		return err
	}
	switch {
	case invHost != "":
		return printJSON(cmd, inv.Vars(invHost))
	case invGraph:
		printGroupTree(cmd, inv, "all", "")
		return nil
	case invList:
		return printInventoryList(cmd, inv)
	default:
		return fmt.Errorf("inventory: pass --list, --graph, or --host")
	}
}

func printInventoryList(cmd *cobra.Command, inv *inventory.Inventory) error {
	type groupDump struct {
		Hosts    []string       `json:"hosts,omitempty"`
		Children []string       `json:"children,omitempty"`
		Vars     map[string]any `json:"vars,omitempty"`
	}
	dump := map[string]groupDump{}
	for _, name := range inv.Groups() {
		grp, ok := inv.Group(name)
		if !ok {
			continue
		}
		dump[name] = groupDump{
			Hosts:    grp.Hosts,
			Children: grp.Children,
			Vars:     grp.Vars,
		}
	}
	hostvars := map[string]map[string]any{}
	for _, host := range inv.Hosts() {
		hostvars[host] = inv.Vars(host)
	}
	return printJSON(cmd, map[string]any{
		"groups":   dump,
		"hostvars": hostvars,
	})
}

func printGroupTree(cmd *cobra.Command, inv *inventory.Inventory, name, indent string) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s@%s:\n", indent, name)
	grp, ok := inv.Group(name)
	if !ok {
		return
	}
	child := indent + "  "
	for _, sub := range grp.Children {
		printGroupTree(cmd, inv, sub, child)
	}
	for _, host := range grp.Hosts {
		fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", child, host)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
