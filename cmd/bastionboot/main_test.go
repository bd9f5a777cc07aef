package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eniac111/bastionboot/internal/bootstrap"
	"github.com/eniac111/bastionboot/internal/config"
	"github.com/eniac111/bastionboot/internal/inventory"
	"github.com/eniac111/bastionboot/internal/reach"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 2, exitCode(errPartial))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
	assert.Equal(t, 1, exitCode(reported(&bootstrap.StageError{Stage: bootstrap.StageProxyTrust, Err: errors.New("refused")})))
	assert.Equal(t, 2, exitCode(fmt.Errorf("trust: %w", errPartial)))
}

func TestAnnounceLines(t *testing.T) {
	lines := announceLines("funmicra", "'203.0.113.10'", []string{"10.0.1.1", "10.0.1.2"})
	assert.Equal(t, []string{
		"ssh -J funmicra@203.0.113.10 funmicra@10.0.1.1   # private-0",
		"ssh -J funmicra@203.0.113.10 funmicra@10.0.1.2   # private-1",
	}, lines)
}

func TestProbePolicy(t *testing.T) {
	p, err := probePolicy(config.ProbeConfig{MaxAttempts: 5, Interval: 2 * time.Second, AttemptTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, reach.Constant(2*time.Second), p.Backoff)
	assert.True(t, p.Bounded())

	p, err = probePolicy(config.ProbeConfig{Backoff: "exponential", Interval: time.Second, MaxInterval: 8 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, reach.Exponential{Initial: time.Second, Max: 8 * time.Second, Factor: 2}, p.Backoff)

	_, err = probePolicy(config.ProbeConfig{Backoff: "fibonacci"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestInitLoggerCarriesRunID(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	initLogger(&buf, "INFO", "run-123")
	slog.Debug("hidden")
	slog.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "run_id=run-123")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestPrintSummary(t *testing.T) {
	inv, err := inventory.FromOutputs("10.0.0.1", []string{"10.0.1.1", "10.0.1.2"}, "deploy")
	require.NoError(t, err)

	res := &bootstrap.Result{
		Status:           bootstrap.StatusPartial,
		Inventory:        inv,
		Proxy:            "10.0.0.1",
		ProxyTrusted:     true,
		PrivateReachable: []string{"10.0.1.1"},
		Excluded:         map[string]error{"10.0.1.2": errors.New("10.0.1.2 unreachable after 30 attempt(s)")},
		Attempts:         map[string]int{"10.0.1.1": 2, "10.0.1.2": 30},
	}

	var buf bytes.Buffer
	printSummary(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "10.0.0.1 proxy trusted")
	assert.Contains(t, out, "10.0.1.1 reachable after 2 attempt(s)")
	assert.Contains(t, out, "10.0.1.2: 10.0.1.2 unreachable after 30 attempt(s)")
	assert.Contains(t, out, "status: partial")

	buf.Reset()
	printSummary(&buf, &bootstrap.Result{})
	assert.Empty(t, buf.String())
}

func TestStageHintCoversFatalStages(t *testing.T) {
	for _, stage := range []bootstrap.Stage{
		bootstrap.StageStart,
		bootstrap.StageProxyTrust,
		bootstrap.StagePrivateTrust,
		bootstrap.StageAgentReady,
		bootstrap.StageProbing,
	} {
		assert.NotEmpty(t, stageHint(stage), stage)
	}
}

func TestHandoffLimitFollowsInventoryOrder(t *testing.T) {
	inv, err := inventory.FromOutputs("10.0.0.1", []string{"10.0.1.1", "10.0.1.2", "10.0.1.3"}, "deploy")
	require.NoError(t, err)

	res := &bootstrap.Result{
		Status:           bootstrap.StatusPartial,
		Inventory:        inv,
		Proxy:            "10.0.0.1",
		PrivateReachable: []string{"10.0.1.3", "10.0.1.1"},
	}
	assert.Equal(t, []string{"10.0.0.1", "10.0.1.1", "10.0.1.3"}, handoffLimit(res))
	assert.Equal(t, []string{"10.0.1.1", "10.0.1.2", "10.0.1.3"}, inv.Private.Hosts, "inventory must not be modified")

	assert.Nil(t, handoffLimit(&bootstrap.Result{}))
}
