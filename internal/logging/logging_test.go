package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/nifty_condor/internal/config"
)

func TestNew_JSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(config.EnvironmentConfig{LogLevel: "warn", LogFormat: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	logger.Info("dropped")
	logger.WithField("strategy", "straddle").Warn("kept")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "straddle", line["strategy"])
}

func TestNew_TeesToRotatedFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	logger, closer, err := New(config.EnvironmentConfig{LogFile: path, LogMaxSizeMB: 1}, &buf)
	require.NoError(t, err)

	logger.Info("cycle complete")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "cycle complete")
	assert.Contains(t, buf.String(), "cycle complete")
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, _, err := New(config.EnvironmentConfig{LogLevel: "chatty"}, nil)
	assert.Error(t, err)
}
