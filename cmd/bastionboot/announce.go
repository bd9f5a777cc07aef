package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eniac111/bastionboot/internal/inventory"
	"github.com/eniac111/bastionboot/internal/types"
)

var announceFromInventory bool

var announceCmd = &cobra.Command{
	Use:   "announce",
	Short: "Print ssh -J commands for every private host",
	Long: `Print one ssh command per private host, jumping through the proxy.
Addresses come from the terraform outputs, or from the inventory file with
--from-inventory.`,
	RunE: runAnnounce,
}

func init() {
	announceCmd.Flags().BoolVar(&announceFromInventory, "from-inventory", false, "read hosts from the inventory file instead of terraform outputs")
	rootCmd.AddCommand(announceCmd)
}

func runAnnounce(cmd *cobra.Command, args []string) error {
	var proxy string
	var private []string
	if announceFromInventory {
		inv, err := inventory.ReadFile(cfg.Inventory.Path)
		if err != nil {
			return err
		}
		proxy, private = inv.ProxyHost(), inv.Private.Hosts
	} else {
		var err error
		proxy, private, err = newTerraform(cfg).Hosts(cmd.Context())
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nAccess your private hosts using the following SSH commands:")
	fmt.Fprintln(out)
	for _, line := range announceLines(cfg.Deploy.User, proxy, private) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out)
	return nil
}

func announceLines(user, proxy string, private []string) []string {
	jump := types.Endpoint{Host: inventory.NormalizeHost(proxy), User: user}
	lines := make([]string, 0, len(private))
	for i, host := range private {
		target := types.Endpoint{Host: inventory.NormalizeHost(host), User: user}
		lines = append(lines, fmt.Sprintf("ssh -J %s %s   # private-%d", jump, target, i))
	}
	return lines
}
