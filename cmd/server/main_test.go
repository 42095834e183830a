package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kbats183/simple-media-server/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLoggerTeesToFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "server.log")
	log, closeLog, err := setupLogger(config.LogConfig{Level: "debug", Format: "json", File: file})
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
	log.Info("hello")
	closeLog()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestSetupLoggerRejectsUnknownLevel(t *testing.T) {
	_, _, err := setupLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"config", "bind", "rtmp-port", "http-port", "record-path", "segment-duration", "log-level"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}
