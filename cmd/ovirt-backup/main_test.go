package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ovirt-backup/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func emptyEnvFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "empty.env")
	require.NoError(t, os.WriteFile(path, nil, 0600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)

	out, err = execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}

func TestBackupRequiresVMName(t *testing.T) {
	_, err := execute(t, "backup")
	assert.Error(t, err)
}

func TestBackupValidation(t *testing.T) {
	for _, env := range []string{"OVIRTPASS", "OVIRTCA", "OVIRTURL"} {
		t.Setenv(env, "")
	}
	_, err := execute(t, "backup", "web01", "--env-file", emptyEnvFile(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrMissing))
	assert.Contains(t, err.Error(), "--password")
}

func TestRestoreValidation(t *testing.T) {
	for _, env := range []string{"OVIRTSD", "OVIRTCLUSTER"} {
		t.Setenv(env, "")
	}
	_, err := execute(t, "restore", "web01-20240501020000.tar.gz",
		"--env-file", emptyEnvFile(t),
		"-p", "secret", "-c", "/etc/pki/ca.pem", "-a", "https://engine/ovirt-engine/api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--storage-domain")
	assert.Contains(t, err.Error(), "--cluster")
}

func TestMissingEnvFileNamedExplicitly(t *testing.T) {
	_, err := execute(t, "backup", "web01", "--env-file", filepath.Join(t.TempDir(), "none.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "env file")
}
