// run.go wires the source registry, the execution plan, and the reload
// controller into the one-shot pass and the optional watch loop.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"

	"github.com/infrarun/contemplate/internal/engine"
	"github.com/infrarun/contemplate/internal/logging"
	"github.com/infrarun/contemplate/internal/plan"
	"github.com/infrarun/contemplate/internal/reload"
	"github.com/infrarun/contemplate/internal/source"
)

func run(ctx context.Context, opts *options, args []string) error {
	log := logging.New(opts.verbose - opts.quiet)

	envSpecs, err := parseDatasourcesEnv(os.Getenv(datasourcesEnv))
	if err != nil {
		return err
	}
	namespace := opts.k8sNamespace
	if namespace == "" {
		namespace = os.Getenv(namespaceEnv)
	}
	registry, err := buildRegistry(log, envSpecs, opts.sourceSpecs, namespace)
	if err != nil {
		return err
	}

	ops, err := buildOperations(opts, args)
	if err != nil {
		return err
	}
	p := plan.New(log, ops...)

	eng := engine.New()
	if err := p.EnsureCached(eng); err != nil {
		return fmt.Errorf("caching templates: %w", err)
	}

	// Initial pass: strict, the first failure is loud.
	snapshot, err := registry.Snapshot(ctx)
	if err != nil {
		return err
	}
	if _, err := p.TryExecute(eng, snapshot, opts.dryRun, opts.diff); err != nil {
		return err
	}

	if !opts.watch {
		if len(opts.andThenExec) > 0 {
			return execReplace(opts.andThenExec)
		}
		return nil
	}

	action, err := opts.reloadAction()
	if err != nil {
		return err
	}
	controller := reload.NewController(log, action)

	if len(opts.andThenExec) > 0 {
		pid, err := spawnSuccessor(log, opts.andThenExec)
		if err != nil {
			return err
		}
		controller.SetParentPID(pid)
	}

	log.Info("starting to watch for changes")
	return registry.Watch(ctx, func(reg *source.Registry) {
		reconcile(ctx, log, reg, p, eng, controller, opts)
	})
}

// reconcile is one watch-triggered cycle: re-merge, re-render, and notify
// when anything changed. Failures degrade gracefully: a fatal assembly
// error aborts only this cycle, and the next change gets a fresh attempt.
func reconcile(ctx context.Context, log logr.Logger, reg *source.Registry, p *plan.Plan, eng *engine.Engine, controller *reload.Controller, opts *options) {
	snapshot, err := reg.Snapshot(ctx)
	if err != nil {
		log.Error(err, "could not assemble configuration, not reloading")
		return
	}
	changed := p.Execute(eng, snapshot, opts.dryRun, opts.diff)
	if len(changed) == 0 {
		return
	}
	paths := make([]string, 0, len(changed))
	for _, op := range changed {
		paths = append(paths, op.Dest.Path())
	}
	if err := controller.Execute(paths); err != nil {
		log.Error(err, "on-reload notification failed", "paths", strings.Join(paths, ","))
	}
}

// buildOperations assembles the plan's operations from --template flags,
// positional inputs, and --output. An empty plan defaults to templating
// stdin to stdout.
func buildOperations(opts *options, args []string) ([]*plan.TemplateOperation, error) {
	var ops []*plan.TemplateOperation

	for _, spec := range opts.templates {
		input, output, explicit := strings.Cut(spec, "=")
		if input == "" {
			return nil, fmt.Errorf("--template requires an input path")
		}
		switch {
		case explicit:
			ops = append(ops, plan.NewOperation(plan.NewTemplateSource(input), plan.NewTemplateDestination(output)))
		case opts.inPlace:
			ops = append(ops, plan.NewInPlace(input, opts.backupSuffix))
		default:
			ops = append(ops, plan.NewOperation(plan.NewTemplateSource(input), plan.NewTemplateDestination(plan.StdioName)))
		}
	}

	if len(opts.templates) == 0 {
		switch {
		case len(args) == 0:
			if opts.output != "" {
				ops = append(ops, plan.NewOperation(plan.NewTemplateSource(plan.StdioName), plan.NewTemplateDestination(opts.output)))
			}
		default:
			output := opts.output
			if output == "" {
				output = plan.StdioName
			}
			for _, input := range args {
				if opts.inPlace {
					ops = append(ops, plan.NewInPlace(input, opts.backupSuffix))
				} else {
					ops = append(ops, plan.NewOperation(plan.NewTemplateSource(input), plan.NewTemplateDestination(output)))
				}
			}
		}
	}

	if len(ops) == 0 {
		ops = append(ops, plan.Stdio())
	}
	return ops, nil
}
