package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eniac111/bastionboot/internal/config"
	"github.com/eniac111/bastionboot/internal/ui"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Run terraform init and apply with the required credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		err := newTerraform(cfg).Apply(cmd.Context())
		if errors.Is(err, config.ErrMissingCredential) {
			fmt.Fprint(os.Stderr, ui.FormatError("Missing credentials", err.Error(), "export the listed TF_VAR_* variables or add them to .env"))
			return reported(err)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(applyCmd)
}
