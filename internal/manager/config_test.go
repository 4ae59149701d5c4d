package manager

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hoppxi/wmlink/internal/assert"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestConfigYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
compositor: niri
log:
  level: debug
sinks:
  eww:
    enabled: false
    variables:
      WORKSPACES: ws
  dbus:
    enabled: true
workspaces:
  filter: "windows > 0"
  persistent: [mail, music]
retry_interval: 5s
`)
	s, err := NewConfigManager(path).Load()
	assert.NoError(t, err)
	assert.Equal(t, s.Compositor, "niri")
	assert.Equal(t, s.Log.Level, "debug")
	assert.False(t, s.Sinks.Eww.Enabled)
	assert.Equal(t, s.Sinks.Eww.Variables["workspaces"], "ws")
	assert.True(t, s.Sinks.Dbus.Enabled)
	assert.Equal(t, s.Workspaces.Filter, "windows > 0")
	assert.DeepEqual(t, s.Workspaces.Persistent, []string{"mail", "music"})
	assert.Equal(t, s.RetryInterval, 5*time.Second)
}

func TestConfigJSONC(t *testing.T) {
	path := writeConfig(t, "config.jsonc", `{
	// talk to sway even when other sockets are around
	"compositor": "sway",
	"socket": "/run/user/1000/sway-ipc.sock",
	"workspaces": {
		"persistent": ["1", "2",], /* trailing commas are fine */
	},
}`)
	s, err := NewConfigManager(path).Load()
	assert.NoError(t, err)
	assert.Equal(t, s.Compositor, "sway")
	assert.Equal(t, s.Socket, "/run/user/1000/sway-ipc.sock")
	assert.DeepEqual(t, s.Workspaces.Persistent, []string{"1", "2"})
	assert.True(t, s.Sinks.Eww.Enabled)
}

func TestConfigDefaults(t *testing.T) {
	s, err := NewConfigManager(filepath.Join(t.TempDir(), "config.yaml")).Load()
	assert.NoError(t, err)
	d := DefaultSettings()
	assert.Equal(t, s.Compositor, d.Compositor)
	assert.Equal(t, s.Log.Level, "info")
	assert.True(t, s.Sinks.Eww.Enabled)
	assert.False(t, s.Sinks.Dbus.Enabled)
	assert.Equal(t, s.RetryInterval, 2*time.Second)
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("WMLINK_COMPOSITOR", "hyprland")
	t.Setenv("WMLINK_LOG_LEVEL", "warn")
	path := writeConfig(t, "config.yaml", "compositor: niri\n")
	s, err := NewConfigManager(path).Load()
	assert.NoError(t, err)
	assert.Equal(t, s.Compositor, "hyprland")
	assert.Equal(t, s.Log.Level, "warn")
}

func TestConfigReload(t *testing.T) {
	path := writeConfig(t, "config.yaml", "compositor: niri\n")
	c := NewConfigManager(path)
	s, err := c.Load()
	assert.NoError(t, err)
	assert.Equal(t, s.Compositor, "niri")

	assert.NoError(t, os.WriteFile(path, []byte("compositor: wayfire\nretry_interval: 1s\n"), 0o644))
	s, err = c.Reload()
	assert.NoError(t, err)
	assert.Equal(t, s.Compositor, "wayfire")
	assert.Equal(t, s.RetryInterval, time.Second)

	assert.NoError(t, os.WriteFile(path, []byte("compositor: [unterminated\n"), 0o644))
	_, err = c.Reload()
	assert.Error(t, err)
}

func TestConfigBroken(t *testing.T) {
	path := writeConfig(t, "config.jsonc", `{"compositor": }`)
	_, err := NewConfigManager(path).Load()
	assert.Error(t, err)
}

func TestConfigOverridesSurviveReload(t *testing.T) {
	path := writeConfig(t, "config.yaml", "compositor: niri\nsocket: /run/niri.sock\n")
	c := NewConfigManager(path)
	c.Set("socket", "/tmp/nested-niri.sock")
	s, err := c.Load()
	assert.NoError(t, err)
	assert.Equal(t, s.Compositor, "niri")
	assert.Equal(t, s.Socket, "/tmp/nested-niri.sock")

	assert.NoError(t, os.WriteFile(path, []byte("compositor: sway\nsocket: /run/sway.sock\n"), 0o644))
	s, err = c.Reload()
	assert.NoError(t, err)
	assert.Equal(t, s.Compositor, "sway")
	assert.Equal(t, s.Socket, "/tmp/nested-niri.sock")

	// set after the first load
	c.Set("compositor", "wayfire")
	s, err = c.Reload()
	assert.NoError(t, err)
	assert.Equal(t, s.Compositor, "wayfire")
}
