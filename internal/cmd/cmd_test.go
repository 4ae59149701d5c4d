package cmd

import (
	"bufio"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hoppxi/wmlink/internal/assert"
	"github.com/hoppxi/wmlink/internal/manager"
	"github.com/hoppxi/wmlink/pkg/ipc/hyprland"
	"github.com/hoppxi/wmlink/pkg/ipc/niri"
	"github.com/hoppxi/wmlink/pkg/ipc/sway"
	"github.com/hoppxi/wmlink/pkg/ipc/wayfire"
)

func TestRawRequest(t *testing.T) {
	defer func() { msgType = "" }()

	f, err := rawRequest(sway.New(), []string{"workspace", "2"})
	assert.NoError(t, err)
	assert.Equal(t, f.Type, sway.Command)
	assert.Equal(t, string(f.Payload), "workspace 2")

	msgType = "get_tree"
	f, err = rawRequest(sway.New(), nil)
	assert.NoError(t, err)
	assert.Equal(t, f.Type, sway.GetTree)
	msgType = "101"
	f, err = rawRequest(sway.New(), nil)
	assert.NoError(t, err)
	assert.Equal(t, f.Type, sway.GetSeats)
	msgType = "get_everything"
	_, err = rawRequest(sway.New(), nil)
	assert.Error(t, err)
	msgType = ""

	f, err = rawRequest(hyprland.New(), []string{"j/clients"})
	assert.NoError(t, err)
	assert.Equal(t, string(f.Payload), "j/clients")

	f, err = rawRequest(niri.New(), []string{"Outputs"})
	assert.NoError(t, err)
	assert.Equal(t, string(f.Payload), `"Outputs"`)
	f, err = rawRequest(niri.New(), []string{`{"Action":{"FocusWorkspace":{"reference":{"Index":2}}}}`})
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(f.Payload), `{"Action"`))

	f, err = rawRequest(wayfire.New(), []string{"window-rules/list-views"})
	assert.NoError(t, err)
	assert.Equal(t, f.Get("method").String(), "window-rules/list-views")
	f, err = rawRequest(wayfire.New(), []string{"vswitch/set-workspace", `{"x":1,`, `"y":0}`})
	assert.NoError(t, err)
	assert.Equal(t, f.Get("data.x").Int(), int64(1))
	_, err = rawRequest(wayfire.New(), []string{"m", "{broken"})
	assert.Error(t, err)
	_, err = rawRequest(wayfire.New(), nil)
	assert.Error(t, err)
}

func TestWriteConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wmlink", "config.yaml")
	conf := manager.DefaultSettings()
	conf.Compositor = "niri"
	conf.Sinks.Dbus.Enabled = true
	conf.Workspaces.Persistent = []string{"mail"}
	conf.RetryInterval = 3 * time.Second
	assert.NoError(t, writeConfig(path, conf))

	got, err := manager.NewConfigManager(path).Load()
	assert.NoError(t, err)
	assert.Equal(t, got.Compositor, "niri")
	assert.True(t, got.Sinks.Dbus.Enabled)
	assert.True(t, got.Sinks.Eww.Enabled)
	assert.DeepEqual(t, got.Workspaces.Persistent, []string{"mail"})
	assert.Equal(t, got.RetryInterval, 3*time.Second)
}

func TestPrompt(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("\nsway\nyes\nn\n"))
	assert.Equal(t, prompt(r, "Compositor", "auto"), "auto")
	assert.Equal(t, prompt(r, "Compositor", "auto"), "sway")
	assert.True(t, confirm(r, "eww?"))
	assert.False(t, confirm(r, "dbus?"))
	assert.False(t, confirm(r, "eof"))
}
