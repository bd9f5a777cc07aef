package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/eniac111/bastionboot/internal/config"
	"github.com/eniac111/bastionboot/internal/ui"
)

var (
	cfgFile  string
	logLevel string

	// cfg is loaded once per invocation, before any subcommand runs.
	cfg   *config.Config
	runID string
)

var rootCmd = &cobra.Command{
	Use:   "bastionboot",
	Short: "Bootstrap SSH trust and reachability for a fleet behind a proxy",
	Long: `bastionboot provisions a fleet of private hosts behind a single proxy,
records their host keys, waits until every private host answers through the
proxy, and hands the fleet to ansible-playbook.

Exit status: 0 ready, 2 partially ready, 1 failed.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.Version = AppVersion
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: bastionboot.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: ERROR, WARNING, INFO or DEBUG")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprint(os.Stderr, ui.FormatError("Failed to load config", err.Error(), "check --config or bastionboot.yaml"))
		return reported(err)
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	cfg = c
	runID = uuid.NewString()
	initLogger(os.Stderr, cfg.Log.Level, runID)
	return nil
}
