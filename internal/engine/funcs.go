package engine

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// filterFuncs returns the template functions shipped on top of sprig:
// encoding helpers that accept strings or raw byte values (as produced by
// secret sources), and parsers for embedding structured documents.
func filterFuncs() template.FuncMap {
	return template.FuncMap{
		"base64encode": base64encode,
		"hexencode":    hexencode,
		"fromJson":     fromJSON,
		"fromYaml":     fromYAML,
		"fromToml":     fromTOML,
	}
}

func valueAsBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case string:
		return []byte(t), nil
	case []byte:
		return t, nil
	case []any:
		out := make([]byte, len(t))
		for i, item := range t {
			n, ok := item.(int)
			if !ok || n < 0 || n > 255 {
				return nil, fmt.Errorf("invalid byte sequence element %v", item)
			}
			out[i] = byte(n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot encode %T as bytes", v)
	}
}

func base64encode(v any) (string, error) {
	b, err := valueAsBytes(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func hexencode(v any) (string, error) {
	b, err := valueAsBytes(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func fromJSON(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("fromJson: %w", err)
	}
	return v, nil
}

func fromYAML(s string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("fromYaml: %w", err)
	}
	return v, nil
}

func fromTOML(s string) (any, error) {
	v := map[string]any{}
	if err := toml.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("fromToml: %w", err)
	}
	return v, nil
}
