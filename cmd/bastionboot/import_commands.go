package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var importCommandsCmd = &cobra.Command{
	Use:   "import-commands",
	Short: "Print terraform import commands for the current deployment",
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, err := newTerraform(cfg).ImportCommands(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "\n# ---- Terraform import commands ----")
		fmt.Fprintln(out)
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCommandsCmd)
}
