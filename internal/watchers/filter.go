package watchers

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hoppxi/wmlink/pkg/ipc"
	"github.com/knetic/govaluate"
)

var filterFunctions = map[string]govaluate.ExpressionFunction{
	"startsWith": func(args ...any) (any, error) {
		s, prefix, err := twoStrings("startsWith", args)
		return strings.HasPrefix(s, prefix), err
	},
	"endsWith": func(args ...any) (any, error) {
		s, suffix, err := twoStrings("endsWith", args)
		return strings.HasSuffix(s, suffix), err
	},
	"contains": func(args ...any) (any, error) {
		s, sub, err := twoStrings("contains", args)
		return strings.Contains(s, sub), err
	},
	"matches": func(args ...any) (any, error) {
		s, pattern, err := twoStrings("matches", args)
		if err != nil {
			return false, err
		}
		return regexp.MatchString(pattern, s)
	},
}

func twoStrings(fn string, args []any) (string, string, error) {
	if len(args) != 2 {
		return "", "", fmt.Errorf("%s takes 2 arguments, got %d", fn, len(args))
	}
	a, ok1 := args[0].(string)
	b, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return "", "", fmt.Errorf("%s takes strings", fn)
	}
	return a, b, nil
}

// Filter selects workspaces with a boolean expression such as
//
//	output == 'DP-1' && startsWith(name, 'special') == false
//
// Variables are name, output, id, index, windows, active, focused, urgent
// and persistent.
type Filter struct {
	src  string
	expr *govaluate.EvaluableExpression
}

// NewFilter compiles src. An empty src yields a nil Filter, which keeps
// everything.
func NewFilter(src string) (*Filter, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(src, filterFunctions)
	if err != nil {
		return nil, fmt.Errorf("workspace filter %q: %w", src, err)
	}
	return &Filter{src: src, expr: expr}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.src
}

func workspaceParams(w ipc.Workspace) map[string]any {
	return map[string]any{
		"name":       w.Name,
		"output":     w.Output,
		"id":         float64(w.ID),
		"index":      float64(w.Index),
		"windows":    float64(w.Windows),
		"active":     w.Active,
		"focused":    w.Focused,
		"urgent":     w.Urgent,
		"persistent": w.Persistent,
	}
}

// Match evaluates the expression for w.
func (f *Filter) Match(w ipc.Workspace) (bool, error) {
	if f == nil {
		return true, nil
	}
	res, err := f.expr.Evaluate(workspaceParams(w))
	if err != nil {
		return false, err
	}
	keep, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("workspace filter %q yields %T, not a boolean", f.src, res)
	}
	return keep, nil
}

// Apply keeps the workspaces that match. A workspace the expression cannot
// be evaluated for is kept and the first such error returned.
func (f *Filter) Apply(ws []ipc.Workspace) ([]ipc.Workspace, error) {
	if f == nil {
		return ws, nil
	}
	var firstErr error
	out := make([]ipc.Workspace, 0, len(ws))
	for _, w := range ws {
		keep, err := f.Match(w)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			keep = true
		}
		if keep {
			out = append(out, w)
		}
	}
	return out, firstErr
}
