package source

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Environment exposes process environment variables as a configuration
// layer. Variable names are lower-cased and split on underscores into
// nested trees, so DATABASE_HOST becomes database.host. With a prefix,
// only variables starting with PREFIX_ contribute, and the prefix is
// stripped first.
type Environment struct {
	prefix string
}

// NewEnvironment builds an environment source. An empty prefix admits every
// variable.
func NewEnvironment(prefix string) *Environment {
	return &Environment{prefix: prefix}
}

func (e *Environment) String() string {
	if e.prefix == "" {
		return "environment"
	}
	return fmt.Sprintf("environment (prefix %q)", e.prefix)
}

func (e *Environment) Layer(_ context.Context) (map[string]any, error) {
	layer := map[string]any{}
	for _, entry := range os.Environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if e.prefix != "" {
			stripped, found := strings.CutPrefix(name, e.prefix+"_")
			if !found {
				continue
			}
			name = stripped
		}
		if name == "" {
			continue
		}
		insertNested(layer, strings.Split(strings.ToLower(name), "_"), value)
	}
	return layer, nil
}

// Watch is a no-op: the process environment cannot change underneath us.
func (e *Environment) Watch(context.Context, *Notifier) error { return nil }

// insertNested writes value at the given key path, creating intermediate
// trees. A scalar already occupying an intermediate key is displaced.
func insertNested(tree map[string]any, path []string, value any) {
	for i, key := range path {
		if i == len(path)-1 {
			tree[key] = value
			return
		}
		next, ok := tree[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			tree[key] = next
		}
		tree = next
	}
}
