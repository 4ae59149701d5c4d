package ipc

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// RuntimeDir returns $XDG_RUNTIME_DIR, falling back to /run/user/<uid>.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return filepath.Join("/run/user", strconv.Itoa(unix.Getuid()))
}

// SocketFromEnv returns the first non-empty variable among names.
func SocketFromEnv(names ...string) (string, error) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	return "", &EnvError{Names: names}
}

// EnvError reports that none of the discovery variables is set.
type EnvError struct {
	Names []string
}

func (e *EnvError) Error() string {
	if len(e.Names) == 1 {
		return e.Names[0] + " is not set"
	}
	return "none of " + strings.Join(e.Names, ", ") + " is set"
}
