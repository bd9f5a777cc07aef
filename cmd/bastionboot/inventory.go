package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/eniac111/bastionboot/internal/inventory"
)

var inventoryList bool

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Generate the ansible inventory from terraform outputs",
	Long: `Write hosts.ini (and the YAML inventory when inventory.yaml_path is set)
from the terraform outputs. With --list, print the dynamic-inventory JSON
to stdout instead, so the binary can serve as an ansible inventory script.`,
	RunE: runInventory,
}

func init() {
	inventoryCmd.Flags().BoolVar(&inventoryList, "list", false, "print dynamic inventory JSON instead of writing files")
	rootCmd.AddCommand(inventoryCmd)
}

func runInventory(cmd *cobra.Command, args []string) error {
	proxy, private, err := newTerraform(cfg).Hosts(cmd.Context())
	if err != nil {
		return err
	}
	inv, err := inventory.FromOutputs(proxy, private, cfg.Deploy.User)
	if err != nil {
		return err
	}

	if inventoryList {
		data, err := inv.MarshalDynamic()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	if err := inventory.WriteFile(cfg.Inventory.Path, inv); err != nil {
		return err
	}
	slog.Info("Inventory written", "path", cfg.Inventory.Path, "proxy", inv.ProxyHost(), "private", len(inv.Private.Hosts))

	if cfg.Inventory.YAMLPath != "" {
		data, err := inv.EncodeYAML()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Inventory.YAMLPath), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(cfg.Inventory.YAMLPath, data, 0o644); err != nil {
			return fmt.Errorf("write YAML inventory: %w", err)
		}
		slog.Info("YAML inventory written", "path", cfg.Inventory.YAMLPath)
	}
	return nil
}
