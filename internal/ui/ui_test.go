package ui

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatError(t *testing.T) {
	out := FormatError("Failed to load config", "no such file", "pass --config")
	assert.Contains(t, out, "Error: Failed to load config")
	assert.Contains(t, out, "no such file")
	assert.Contains(t, out, "Hint: pass --config")

	assert.NotContains(t, FormatError("x", "", ""), "Hint:")
}

func TestFormatStageError(t *testing.T) {
	out := FormatStageError("proxy-trust", "10.0.0.1", errors.New("connection refused"), "")
	assert.Contains(t, out, "bootstrap failed at proxy-trust (host 10.0.0.1)")
	assert.Contains(t, out, "connection refused")

	out = FormatStageError("probing", "", errors.New("no private host is reachable"), "")
	assert.NotContains(t, out, "(host")
}

func TestHostLines(t *testing.T) {
	var buf bytes.Buffer
	HostOK(&buf, "10.0.1.1", "1 attempt(s)")
	HostExcluded(&buf, "10.0.1.2", errors.New("unreachable"))

	assert.Contains(t, buf.String(), "10.0.1.1")
	assert.Contains(t, buf.String(), "1 attempt(s)")
	assert.Contains(t, buf.String(), "10.0.1.2: unreachable")
}
