package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/eniac111/bastionboot/internal/bootstrap"
	"github.com/eniac111/bastionboot/internal/inventory"
	"github.com/eniac111/bastionboot/internal/ui"
)

var (
	allowPartial bool
	skipPlaybook bool
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Trust, probe and hand the fleet to ansible-playbook",
	Long: `Run the full bootstrap: trust the proxy, trust every private host through
it, load the deployment key into an agent, wait until each private host
answers through the proxy, then run the playbook.

A partially ready fleet exits with status 2. With --allow-partial the
playbook still runs, limited to the proxy and the reachable hosts, and the
run still exits with status 2.`,
	RunE: runBootstrap,
}

func init() {
	bootstrapCmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "run the playbook against the reachable hosts of a partial fleet")
	bootstrapCmd.Flags().BoolVar(&skipPlaybook, "skip-playbook", false, "stop after the fleet is ready")
	rootCmd.AddCommand(bootstrapCmd)
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if err := cfg.ValidateDeploy(); err != nil {
		fmt.Fprint(os.Stderr, ui.FormatError("Missing deployment settings", err.Error(), stageHint(bootstrap.StageAgentReady)))
		return reported(err)
	}
	policy, err := probePolicy(cfg.Probe)
	if err != nil {
		return err
	}
	store, err := openTrustStore(cfg)
	if err != nil {
		return err
	}

	orch := &bootstrap.Orchestrator{
		Inventory: func() (*inventory.Inventory, error) {
			return inventory.ReadFile(cfg.Inventory.Path)
		},
		Trust:       newTrustManager(cfg, store),
		StartAgent:  startAgent(cfg),
		NewProber:   newProber(cfg, store),
		Policy:      policy,
		Concurrency: cfg.Probe.Concurrency,
		User:        cfg.Deploy.User,
		ProxyUser:   cfg.Deploy.ProxyUser,
		Logger:      slog.Default(),
	}

	res, err := orch.Run(ctx)
	printSummary(out, res)
	if err != nil {
		var serr *bootstrap.StageError
		if errors.As(err, &serr) {
			fmt.Fprint(os.Stderr, ui.FormatStageError(string(serr.Stage), serr.Host, serr.Err, stageHint(serr.Stage)))
		}
		return reported(err)
	}
	defer func() {
		if err := res.Agent.Close(); err != nil {
			slog.Warn("Failed to stop agent", "error", err)
		}
	}()

	partial := res.Status == bootstrap.StatusPartial
	if partial && !allowPartial {
		ui.Warn(out, "fleet is partially ready; rerun with --allow-partial to configure the reachable hosts")
		return errPartial
	}

	if !skipPlaybook {
		var limit []string
		if partial {
			limit = handoffLimit(res)
		}
		if err := newPlaybook(cfg).Run(ctx, cfg.Inventory.Path, res.User, res.Agent.Socket(), limit); err != nil {
			fmt.Fprint(os.Stderr, ui.FormatError("Playbook failed", err.Error(), ""))
			return reported(err)
		}
	}

	if partial {
		return errPartial
	}
	ui.Success(out, "Fleet ready")
	return nil
}

// handoffLimit lists the hosts a partial fleet hands to the playbook:
// the proxy, then the reachable private hosts in inventory order.
func handoffLimit(res *bootstrap.Result) []string {
	inv := res.ReachableInventory()
	if inv == nil {
		return nil
	}
	return append(append([]string(nil), inv.Proxy.Hosts...), inv.Private.Hosts...)
}

func printSummary(w io.Writer, res *bootstrap.Result) {
	if res == nil || res.Inventory == nil {
		return
	}
	fmt.Fprintln(w, ui.Bold("Bootstrap summary"))
	if res.ProxyTrusted {
		ui.HostOK(w, res.Proxy, "proxy trusted")
	}
	for _, host := range res.Inventory.Private.Hosts {
		if reason, ok := res.Excluded[host]; ok {
			ui.HostExcluded(w, host, reason)
			continue
		}
		if n, ok := res.Attempts[host]; ok {
			ui.HostOK(w, host, fmt.Sprintf("reachable after %d attempt(s)", n))
		}
	}
	fmt.Fprintf(w, "%s %s\n", ui.Dim("status:"), res.Status)
}

func stageHint(stage bootstrap.Stage) string {
	switch stage {
	case bootstrap.StageStart:
		return "generate the inventory with 'bastionboot inventory'"
	case bootstrap.StageProxyTrust:
		return "check that the proxy accepts SSH and the trust store is writable"
	case bootstrap.StagePrivateTrust:
		return "check that the proxy can reach the private network"
	case bootstrap.StageAgentReady:
		return "set ANSIBLE_USER and ANSIBLE_PRIVATE_KEY (deploy.user, deploy.key_path)"
	case bootstrap.StageProbing:
		return "raise probe.max_attempts or probe.timeout, or check the private hosts"
	default:
		return ""
	}
}
