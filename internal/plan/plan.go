package plan

import (
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/infrarun/contemplate/internal/engine"
)

// Plan is an ordered sequence of template operations sharing one engine
// cache. Destinations are expected to be pairwise distinct; the CLI layer
// enforces that before a plan is built.
type Plan struct {
	ops []*TemplateOperation
	log logr.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// New builds a plan over the given operations, wired to the process
// standard streams.
func New(log logr.Logger, ops ...*TemplateOperation) *Plan {
	return &Plan{
		ops:    ops,
		log:    log,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// SetStreams replaces the standard streams, mainly for tests.
func (p *Plan) SetStreams(stdin io.Reader, stdout, stderr io.Writer) {
	p.stdin = stdin
	p.stdout = stdout
	p.stderr = stderr
}

// Operations returns the plan's operations in order.
func (p *Plan) Operations() []*TemplateOperation { return p.ops }

// EnsureCached compiles every operation's template into the engine,
// aborting on the first failure.
func (p *Plan) EnsureCached(eng *engine.Engine) error {
	for _, op := range p.ops {
		if err := op.Source.EnsureCached(eng, p.stdin); err != nil {
			return err
		}
	}
	return nil
}

// Execute applies every operation best-effort: per-operation failures are
// logged and skipped. Returns the operations that changed their
// destination. This is the watch-mode execution path.
func (p *Plan) Execute(eng *engine.Engine, ctx map[string]any, dryRun, logDiff bool) []*TemplateOperation {
	run := runtime{dryRun: dryRun, logDiff: logDiff, stdin: p.stdin, stdout: p.stdout, stderr: p.stderr}
	var changed []*TemplateOperation
	for _, op := range p.ops {
		ok, err := op.apply(eng, ctx, run)
		if err != nil {
			p.log.Info("could not apply template operation", "operation", op.String(), "error", err.Error())
			continue
		}
		if ok {
			changed = append(changed, op)
		}
	}
	return changed
}

// TryExecute applies every operation, aborting and propagating on the
// first failure. Returns the operations that changed before the failure.
// This is the one-shot execution path, where a failure should be loud.
func (p *Plan) TryExecute(eng *engine.Engine, ctx map[string]any, dryRun, logDiff bool) ([]*TemplateOperation, error) {
	run := runtime{dryRun: dryRun, logDiff: logDiff, stdin: p.stdin, stdout: p.stdout, stderr: p.stderr}
	var changed []*TemplateOperation
	for _, op := range p.ops {
		ok, err := op.apply(eng, ctx, run)
		if err != nil {
			return changed, err
		}
		if ok {
			changed = append(changed, op)
		}
	}
	return changed, nil
}
