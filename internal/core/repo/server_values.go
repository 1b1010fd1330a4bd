package repo

import (
	"fmt"

	"github.com/zeusync/treesync/internal/core/tree"
)

// serverValueKey marks a placeholder the server fills in, for example
// {".sv": "timestamp"}.
const serverValueKey = ".sv"

func (r *Repo) serverValues() map[string]any {
	return map[string]any{"timestamp": r.now().UnixMilli()}
}

// resolveServerValues replaces every placeholder in value with the local
// estimate from values. Placeholders naming an unknown value are an error.
func resolveServerValues(value any, values map[string]any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		if name, ok := v[serverValueKey]; ok {
			key, _ := name.(string)
			resolved, known := values[key]
			if !known {
				return nil, fmt.Errorf("%w: %v", ErrUnknownServerValue, name)
			}
			return resolved, nil
		}
		out := make(map[string]any, len(v))
		for name, child := range v {
			resolved, err := resolveServerValues(child, values)
			if err != nil {
				return nil, err
			}
			out[name] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			resolved, err := resolveServerValues(child, values)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	}
	return value, nil
}

// resolvedNode converts value to a node after resolving placeholders.
func (r *Repo) resolvedNode(value any) (tree.Node, error) {
	resolved, err := resolveServerValues(value, r.serverValues())
	if err != nil {
		return nil, err
	}
	return toNode(resolved)
}

func hasExplicitPriority(value any) bool {
	m, ok := value.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m[tree.PriorityKey]
	return ok
}
