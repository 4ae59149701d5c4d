package detect

import (
	"testing"

	"github.com/hoppxi/wmlink/internal/assert"
	"github.com/hoppxi/wmlink/pkg/ipc"
)

var discovery = []string{
	"HYPRLAND_INSTANCE_SIGNATURE", "NIRI_SOCKET", "WAYFIRE_SOCKET",
	"SWAYSOCK", "I3SOCK", "XDG_CURRENT_DESKTOP",
}

func clearEnv(t *testing.T) {
	for _, v := range discovery {
		t.Setenv(v, "")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"nothing", nil, ""},
		{"sway", map[string]string{"SWAYSOCK": "/run/user/1000/sway-ipc.sock"}, "sway"},
		{"i3", map[string]string{"I3SOCK": "/tmp/i3.sock"}, "sway"},
		{"hyprland wins over a stale swaysock", map[string]string{
			"SWAYSOCK":                    "/run/user/1000/sway-ipc.sock",
			"HYPRLAND_INSTANCE_SIGNATURE": "abc",
		}, "hyprland"},
		{"niri", map[string]string{"NIRI_SOCKET": "/run/user/1000/niri.sock"}, "niri"},
		{"wayfire", map[string]string{"WAYFIRE_SOCKET": "/tmp/wayfire-wayland-1.socket"}, "wayfire"},
		{"desktop fallback", map[string]string{"XDG_CURRENT_DESKTOP": "GNOME:Niri"}, "niri"},
		{"unknown desktop", map[string]string{"XDG_CURRENT_DESKTOP": "KDE"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, FromEnv(), tt.want)
		})
	}
}

func TestNew(t *testing.T) {
	for _, name := range Names {
		p, err := New(name, "", nil)
		assert.NoError(t, err)
		assert.Equal(t, p.Name(), name)
	}
	p, err := New("i3", "/tmp/i3.sock", nil)
	assert.NoError(t, err)
	ep, err := p.Resolve()
	assert.NoError(t, err)
	assert.Equal(t, ep.Command, "/tmp/i3.sock")

	_, err = New("river", "", nil)
	assert.Error(t, err)
}

func TestDetect(t *testing.T) {
	clearEnv(t)
	_, err := Detect("auto", "", nil)
	assert.ErrorIs(t, err, ipc.ErrUnavailable)

	t.Setenv("NIRI_SOCKET", "/run/user/1000/niri.sock")
	p, err := Detect("", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, p.Name(), "niri")

	p, err = Detect("sway", "", nil)
	assert.NoError(t, err)
	assert.Equal(t, p.Name(), "sway")
}
