package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemd.toml")

	cfg, exists, err := LoadOrDefault(path)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, LinkTCP, cfg.Link.Kind)
	assert.Equal(t, path, cfg.ConfigPath())
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxInterval())
}

func TestLoadOrDefaultFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemd.toml")
	writeConfig(t, path, `
[link]
kind = "SERIAL"
port = "/dev/ttyACM0"

[foxglove]
enabled = true
ws_addr = "0.0.0.0:9000"
topic_prefix = "/dev"
`)

	cfg, exists, err := LoadOrDefault(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, LinkSerial, cfg.Link.Kind)
	assert.Equal(t, 115200, cfg.Link.Baud)
	assert.Equal(t, time.Second, cfg.ReconnectInterval())
	assert.Equal(t, 0xFFFF, cfg.Link.MaxPacket)
	assert.Equal(t, "/dev/", cfg.Foxglove.TopicPrefix)
	assert.Equal(t, "telemd", cfg.Foxglove.Name)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestPathsResolveRelativeToConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "site", "telemd.toml")
	writeConfig(t, path, `
[recorder]
enabled = true
path = "data/history"

[log]
path = "events.jsonl"
`)

	cfg, exists, err := LoadOrDefault(path)
	require.NoError(t, err)
	require.True(t, exists)

	base, err := filepath.Abs(filepath.Join(dir, "site"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "data", "history"), cfg.RecorderPath())
	assert.Equal(t, filepath.Join(base, "events.jsonl"), cfg.LogPath())

	cfg.Log.Path = ""
	assert.Empty(t, cfg.LogPath())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Link.Kind = "can"
	cfg.Link.Reconnect = "soon"
	cfg.Link.ReconnectMax = "later"
	cfg.Link.MaxPacket = 70000
	cfg.API.Addr = ""
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 6)
	assert.Contains(t, err.Error(), "link.kind")
	assert.Contains(t, err.Error(), "link.reconnect_max")
	assert.Contains(t, err.Error(), "link.reconnect")
	assert.Contains(t, err.Error(), "link.max_packet")
	assert.Contains(t, err.Error(), "api.addr")
	assert.Contains(t, err.Error(), "log.level")
}

func TestReconnectMax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemd.toml")
	writeConfig(t, path, "[link]\nreconnect = \"500ms\"\nreconnect_max = \"5s\"\n")
	cfg, _, err := LoadOrDefault(path)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectInterval())
	assert.Equal(t, 5*time.Second, cfg.ReconnectMaxInterval())

	cfg.Link.ReconnectMax = "100ms"
	assert.ErrorContains(t, cfg.Validate(), "link.reconnect_max 100ms is below link.reconnect 500ms")
}

func TestValidateSerialNeedsPort(t *testing.T) {
	cfg := Default()
	cfg.Link.Kind = LinkSerial
	assert.ErrorContains(t, cfg.Validate(), "link.port")

	cfg.Link.Port = "COM3"
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemd.toml")

	writeConfig(t, path, "[link\n")
	_, _, err := LoadOrDefault(path)
	assert.ErrorContains(t, err, "parse config")

	writeConfig(t, path, "[link]\nreconnect = \"-1s\"\n")
	_, exists, err := LoadOrDefault(path)
	assert.True(t, exists)
	assert.ErrorContains(t, err, "link.reconnect must be positive")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "telemd.toml")

	cfg := Default()
	cfg.Link.Addr = "192.168.1.20:19021"
	cfg.Recorder.Enabled = true
	cfg.Log.Level = "debug"
	require.NoError(t, cfg.Save(path))

	loaded, exists, err := LoadOrDefault(path)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, cfg.Link, loaded.Link)
	assert.Equal(t, cfg.Recorder, loaded.Recorder)
	assert.Equal(t, "debug", loaded.Log.Level)
}

func TestSaveRejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.Link.ReadBuf = -1
	path := filepath.Join(t.TempDir(), "telemd.toml")
	assert.ErrorContains(t, cfg.Save(path), "link.read_buf")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
