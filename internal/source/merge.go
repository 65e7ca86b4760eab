package source

import (
	"fmt"

	"dario.cat/mergo"
)

// Merge layers src on top of dst. Nested maps merge recursively with src
// winning on conflicts; sequences and scalars are replaced outright, never
// concatenated. dst is mutated and returned.
func Merge(dst, src map[string]any) (map[string]any, error) {
	if dst == nil {
		dst = map[string]any{}
	}
	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge layer: %w", err)
	}
	return dst, nil
}
