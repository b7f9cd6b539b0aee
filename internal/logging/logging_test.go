package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log", "backup.log")
	var stdout bytes.Buffer

	logger, closer, err := Setup(Options{File: path, Stdout: &stdout})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	logger.WithField("run", "abc").Info("starting")
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "starting")
	assert.Contains(t, string(data), "run=abc")
	assert.NotContains(t, string(data), "hidden")
	assert.Empty(t, stdout.String())
}

func TestSetupDebugMirrorsStdout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.log")
	var stdout bytes.Buffer

	logger, closer, err := Setup(Options{File: path, Debug: true, Stdout: &stdout})
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("attaching disk")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.Contains(t, stdout.String(), "attaching disk")
}

func TestSetupWithoutFile(t *testing.T) {
	var stdout bytes.Buffer
	logger, closer, err := Setup(Options{Stdout: &stdout})
	require.NoError(t, err)
	require.NoError(t, closer.Close())

	logger.Info("hello")
	assert.Contains(t, stdout.String(), "hello")
}
