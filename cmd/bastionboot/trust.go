package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eniac111/bastionboot/internal/bootstrap"
	"github.com/eniac111/bastionboot/internal/inventory"
	"github.com/eniac111/bastionboot/internal/ui"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Record host keys for the proxy and, through it, every private host",
	Long: `Run only the trust stages: replace the proxy's host keys in the trust
store, then scan each private host through the proxy and replace its keys.
Private hosts are handled one at a time in inventory order.`,
	RunE: runTrust,
}

func init() {
	rootCmd.AddCommand(trustCmd)
}

func runTrust(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	inv, err := inventory.ReadFile(cfg.Inventory.Path)
	if err != nil {
		fmt.Fprint(os.Stderr, ui.FormatStageError(string(bootstrap.StageStart), "", err, stageHint(bootstrap.StageStart)))
		return reported(err)
	}
	store, err := openTrustStore(cfg)
	if err != nil {
		return err
	}
	mgr := newTrustManager(cfg, store)

	proxy := inv.ProxyHost()
	n, err := mgr.EstablishDirectTrust(ctx, proxy)
	if err == nil && n == 0 {
		err = bootstrap.ErrNoHostKeys
	}
	if err != nil {
		fmt.Fprint(os.Stderr, ui.FormatStageError(string(bootstrap.StageProxyTrust), proxy, err, stageHint(bootstrap.StageProxyTrust)))
		return reported(err)
	}
	ui.HostOK(out, proxy, fmt.Sprintf("proxy, %d key(s)", n))

	proxyUser := cfg.Deploy.ProxyUser
	if proxyUser == "" {
		proxyUser = inv.User()
	}
	var failed []error
	for _, host := range inv.Private.Hosts {
		n, err := mgr.EstablishTrustViaProxy(ctx, host, proxyUser, proxy)
		if err == nil && n == 0 {
			err = bootstrap.ErrNoHostKeys
		}
		if err != nil {
			ui.HostExcluded(out, host, err)
			failed = append(failed, err)
			continue
		}
		ui.HostOK(out, host, fmt.Sprintf("%d key(s)", n))
	}

	switch {
	case len(failed) == 0:
		ui.Success(out, fmt.Sprintf("Trusted proxy and %d private host(s)", len(inv.Private.Hosts)))
		return nil
	case len(failed) == len(inv.Private.Hosts):
		err := &bootstrap.StageError{Stage: bootstrap.StagePrivateTrust, Err: errors.Join(failed...)}
		fmt.Fprint(os.Stderr, ui.FormatStageError(string(err.Stage), "", bootstrap.ErrNoReachableHosts, stageHint(err.Stage)))
		return reported(err)
	default:
		ui.Warn(out, fmt.Sprintf("%d of %d private host(s) could not be trusted", len(failed), len(inv.Private.Hosts)))
		return errPartial
	}
}
