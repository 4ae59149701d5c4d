package testutil

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

// SocketDir returns a short temporary directory for Unix sockets.
// t.TempDir paths can exceed the 108-byte sun_path limit.
func SocketDir(t testing.TB) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "wml")
	if err != nil {
		t.Fatalf("creating socket dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// Listen opens a Unix listener called name in a fresh socket dir.
func Listen(t testing.TB, name string) (string, net.Listener) {
	t.Helper()
	path := filepath.Join(SocketDir(t), name)
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listening on %s: %v", path, err)
	}
	t.Cleanup(func() { l.Close() })
	return path, l
}
