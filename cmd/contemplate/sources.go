// sources.go turns datasource flags and the CONTEMPLATE_DATASOURCES
// environment variable into an ordered source registry. Order matters:
// later sources win merge conflicts, so the original left-to-right flag
// order is preserved even when different flag types interleave.
package main

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	"github.com/infrarun/contemplate/internal/source"
)

const (
	sourceTypeFile        = "file"
	sourceTypeEnvironment = "environment"
	sourceTypeConfigMap   = "k8s-configmap"
	sourceTypeSecret      = "k8s-secret"

	datasourcesEnv = "CONTEMPLATE_DATASOURCES"
	namespaceEnv   = "CONTEMPLATE_K8S_NAMESPACE"
)

// sourceSpec is one parsed datasource request: a type plus its argument
// (path, prefix, or object name).
type sourceSpec struct {
	kind string
	arg  string
}

// sourceFlag is a pflag.Value that appends to a shared ordered spec list,
// so the relative position of interleaved -f/-e/--k8s-configmap flags is
// observable after parsing.
type sourceFlag struct {
	kind  string
	specs *[]sourceSpec
}

func newSourceFlag(kind string, specs *[]sourceSpec) *sourceFlag {
	return &sourceFlag{kind: kind, specs: specs}
}

func (f *sourceFlag) Set(value string) error {
	*f.specs = append(*f.specs, sourceSpec{kind: f.kind, arg: value})
	return nil
}

func (f *sourceFlag) Type() string { return "string" }

func (f *sourceFlag) String() string { return "" }

// parseDatasourcesEnv parses the aggregate environment variable: a
// comma-separated list of type:arg pairs, merged before any flag-supplied
// source.
func parseDatasourcesEnv(value string) ([]sourceSpec, error) {
	var specs []sourceSpec
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kind, arg, _ := strings.Cut(entry, ":")
		switch kind {
		case sourceTypeFile, sourceTypeEnvironment, sourceTypeConfigMap, sourceTypeSecret:
		default:
			return nil, fmt.Errorf("%s: unknown source type %q", datasourcesEnv, kind)
		}
		specs = append(specs, sourceSpec{kind: kind, arg: arg})
	}
	return specs, nil
}

// buildRegistry materializes the ordered specs into sources. Environment
// variable sources come first, flag sources after, each group in its own
// order.
func buildRegistry(log logr.Logger, envSpecs, flagSpecs []sourceSpec, namespace string) (*source.Registry, error) {
	specs := append(append([]sourceSpec{}, envSpecs...), flagSpecs...)
	sources := make([]source.Source, 0, len(specs))
	for _, spec := range specs {
		switch spec.kind {
		case sourceTypeFile:
			if spec.arg == "" {
				return nil, fmt.Errorf("file source requires a path")
			}
			sources = append(sources, source.NewFile(log, spec.arg))
		case sourceTypeEnvironment:
			prefix := spec.arg
			if prefix == allEnvPrefix {
				prefix = ""
			}
			sources = append(sources, source.NewEnvironment(prefix))
		case sourceTypeConfigMap:
			if spec.arg == "" {
				return nil, fmt.Errorf("k8s-configmap source requires an object name")
			}
			sources = append(sources, source.NewConfigMap(log, spec.arg, source.DefaultKubeClient(namespace)))
		case sourceTypeSecret:
			if spec.arg == "" {
				return nil, fmt.Errorf("k8s-secret source requires an object name")
			}
			sources = append(sources, source.NewSecret(log, spec.arg, source.DefaultKubeClient(namespace)))
		}
	}
	return source.NewRegistry(log, sources...), nil
}
