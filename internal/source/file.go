package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

// File reads one configuration file, with the format chosen by its
// extension (json, toml, yaml, yml). Every failure here is fatal: corrupt
// or unreadable local state should fail fast rather than be skipped.
type File struct {
	path string
	log  logr.Logger
}

// NewFile builds a file source for the given path.
func NewFile(log logr.Logger, path string) *File {
	return &File{path: path, log: log}
}

func (f *File) String() string { return fmt.Sprintf("file %q", f.path) }

func (f *File) Layer(_ context.Context) (map[string]any, error) {
	ext := strings.ToLower(filepath.Ext(f.path))
	if ext == "" {
		return nil, Fatal(fmt.Errorf("unknown file type: %q has no extension", f.path))
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, Fatal(fmt.Errorf("read %q: %w", f.path, err))
	}

	layer := map[string]any{}
	switch ext {
	case ".json":
		err = json.Unmarshal(data, &layer)
	case ".toml":
		err = toml.Unmarshal(data, &layer)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &layer)
	default:
		return nil, Fatal(fmt.Errorf("unknown file extension: %q", ext))
	}
	if err != nil {
		return nil, Fatal(fmt.Errorf("parse %q: %w", f.path, err))
	}
	return normalizeTree(layer), nil
}

// Watch registers a filesystem watcher on the exact path and notifies on
// create, write, and remove events.
func (f *File) Watch(ctx context.Context, notify *Notifier) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(f.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %q: %w", f.path, err)
	}

	desc := f.String()
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Remove) {
					notify.Notify(desc)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.log.Info("file watch error", "path", f.path, "error", err.Error())
			}
		}
	}()
	return nil
}

// normalizeTree rewrites nested containers into map[string]any / []any so
// layers from different parsers merge uniformly.
func normalizeTree(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeTree(t)
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	default:
		return v
	}
}
