package watchers

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/goccy/go-json"
)

// EwwSink runs `eww update VAR=value` for every change.
type EwwSink struct {
	// Rename maps lower-cased variable names onto eww variable names.
	Rename map[string]string
	// Run executes the eww command line; tests replace it.
	Run func(name string, args ...string) error
}

// NewEwwSink takes the renames as configured. Keys match regardless of
// case since viper lower-cases them.
func NewEwwSink(rename map[string]string) *EwwSink {
	s := &EwwSink{Rename: make(map[string]string, len(rename)), Run: runCommand}
	for k, v := range rename {
		s.Rename[strings.ToLower(k)] = v
	}
	return s
}

func runCommand(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil && len(out) > 0 {
		return fmt.Errorf("%w: %s", err, out)
	}
	return err
}

func (s *EwwSink) Name() string { return "eww" }

func (s *EwwSink) Update(variable string, value any) error {
	if name, ok := s.Rename[strings.ToLower(variable)]; ok && name != "" {
		variable = name
	}
	if str, ok := value.(string); ok {
		return s.Run("eww", "update", fmt.Sprintf("%s=%s", variable, str))
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Run("eww", "update", variable+"="+string(data))
}
