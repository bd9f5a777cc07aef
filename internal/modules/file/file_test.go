package file

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	created, err := EnsureDirectory(dir, 0o700)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = EnsureDirectory(dir, 0o700)
	require.NoError(t, err)
	assert.False(t, created)

	f := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(f, nil, 0o600))
	_, err = EnsureDirectory(f, 0o700)
	assert.Error(t, err)
}

func TestSetAttributesMode(t *testing.T) {
	f := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(f, nil, 0o644))

	changed, err := SetAttributes(f, Attributes{Mode: 0o600})
	require.NoError(t, err)
	assert.True(t, changed)

	info, err := os.Stat(f)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	changed, err = SetAttributes(f, Attributes{Mode: 0o600})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSetAttributesCurrentOwner(t *testing.T) {
	f := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(f, nil, 0o600))

	changed, err := SetAttributes(f, Attributes{
		Owner: strconv.Itoa(os.Getuid()),
		Group: strconv.Itoa(os.Getgid()),
	})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestSetAttributesUnknownUser(t *testing.T) {
	f := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(f, nil, 0o600))

	_, err := SetAttributes(f, Attributes{Owner: "no-such-user-bastionboot"})
	assert.Error(t, err)
}

func TestSetAttributesMissingPath(t *testing.T) {
	_, err := SetAttributes(filepath.Join(t.TempDir(), "missing"), Attributes{Mode: 0o600})
	assert.Error(t, err)
}
