// root.go builds the contemplate root command: flag plumbing, environment
// binding, and validation, all ahead of the actual run.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/infrarun/contemplate/internal/reload"
)

// options holds every CLI-configurable knob.
type options struct {
	sourceSpecs  []sourceSpec
	templates    []string
	output       string
	inPlace      bool
	backupSuffix string
	k8sNamespace string

	diff   bool
	dryRun bool
	watch  bool

	onReloadCommand      string
	onReloadExec         string
	onReloadSignal       string
	onReloadSignalTarget string
	andThenExec          []string

	verbose int
	quiet   int
}

// allEnvPrefix is the sentinel an optional-value -e flag expands to: admit
// every environment variable, no prefix stripping.
const allEnvPrefix = "*"

func newRootCommand() *cobra.Command {
	opts := &options{}
	long := "contemplate renders templates against layered configuration from files,\n" +
		"environment variables, and Kubernetes objects, writes outputs only when\n" +
		"they change, and can watch its sources to keep outputs current."
	cmd := &cobra.Command{
		Use:           "contemplate [TEMPLATE...]",
		Short:         "The friendly cloud-native config templating tool",
		Long:          long,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFlags(opts, args); err != nil {
				return err
			}
			return run(cmd.Context(), opts, args)
		},
	}

	flags := cmd.Flags()

	flags.VarP(newSourceFlag(sourceTypeFile, &opts.sourceSpecs), "file", "f",
		"Add a file as a data source (json, toml, yaml, or yml by extension; repeatable)")
	envFlag := flags.VarPF(newSourceFlag(sourceTypeEnvironment, &opts.sourceSpecs), "environment", "e",
		"Take values from environment variables, optionally only those with the given prefix (-e=PREFIX; repeatable)")
	envFlag.NoOptDefVal = allEnvPrefix
	flags.Var(newSourceFlag(sourceTypeConfigMap, &opts.sourceSpecs), "k8s-configmap",
		"Add a Kubernetes ConfigMap as a data source (repeatable)")
	flags.Var(newSourceFlag(sourceTypeSecret, &opts.sourceSpecs), "k8s-secret",
		"Add a Kubernetes Secret as a data source (repeatable)")
	flags.StringVar(&opts.k8sNamespace, "k8s-namespace", "",
		"Namespace for Kubernetes data sources (defaults to the client configuration's namespace)")

	flags.StringArrayVarP(&opts.templates, "template", "t", nil,
		"Template a file: INPUT renders to stdout (or in place), INPUT=OUTPUT to the given path (repeatable)")
	flags.StringVarP(&opts.output, "output", "o", "",
		"Output file ('-' for stdout)")
	flags.BoolVarP(&opts.inPlace, "in-place", "i", false,
		"Overwrite input files with their rendered output")
	flags.StringVar(&opts.backupSuffix, "backup", "",
		"With --in-place, keep a backup of each input as <file>.<SUFFIX>")

	flags.BoolVar(&opts.diff, "diff", false, "Log diffs of changed outputs to standard error")
	flags.BoolVarP(&opts.dryRun, "dry-run", "n", false, "Don't write to any files")
	flags.BoolVarP(&opts.watch, "watch", "w", false, "Re-render templates when data sources change")

	flags.StringVarP(&opts.onReloadCommand, "on-reload-command", "r", "",
		"Shell command to execute when watched outputs change ("+reload.ChangedFilesEnv+" lists the changed paths)")
	flags.StringVarP(&opts.onReloadExec, "on-reload-exec", "R", "",
		"Executable to run (without a shell) when watched outputs change")
	flags.StringVar(&opts.onReloadSignal, "on-reload-signal", "",
		"Signal to send when watched outputs change (number, HUP, or SIGHUP)")
	flags.StringVar(&opts.onReloadSignalTarget, "on-reload-signal-target", "",
		"Signal target: a PID, a process name, or ':parent' (the default)")
	flags.StringArrayVarP(&opts.andThenExec, "and-then-exec", "x", nil,
		"Execute the given program (with arguments) instead of exiting; repeat the flag for arguments")

	flags.CountVarP(&opts.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	flags.CountVarP(&opts.quiet, "quiet", "q", "Decrease verbosity (repeatable)")

	cmd.MarkFlagsMutuallyExclusive("template", "output")
	cmd.MarkFlagsMutuallyExclusive("template", "in-place")
	cmd.MarkFlagsMutuallyExclusive("output", "in-place")
	cmd.MarkFlagsMutuallyExclusive("on-reload-command", "on-reload-exec", "on-reload-signal")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	bindEnv(cmd)
	return cmd
}

// bindEnv lets CONTEMPLATE_<FLAG> environment variables stand in for
// unset flags. Datasource flags are excluded: CONTEMPLATE_DATASOURCES is
// their dedicated, ordered pathway.
func bindEnv(cmd *cobra.Command) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("CONTEMPLATE")
	v.AutomaticEnv()

	skip := map[string]bool{
		"file":          true,
		"environment":   true,
		"k8s-configmap": true,
		"k8s-secret":    true,
		"template":      true,
	}

	existing := cmd.PersistentPreRunE
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if existing != nil {
			if err := existing(cmd, args); err != nil {
				return err
			}
		}
		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed || skip[f.Name] || !v.IsSet(f.Name) {
				return
			}
			if val := fmt.Sprintf("%v", v.Get(f.Name)); val != "" {
				_ = f.Value.Set(val)
			}
		})
		return nil
	}
}

// validateFlags enforces the invariants the core relies on: unique
// destinations and no stdout destination in watch mode.
func validateFlags(opts *options, args []string) error {
	if len(opts.templates) > 0 && len(args) > 0 {
		return fmt.Errorf("positional template arguments cannot be combined with --template")
	}
	if opts.backupSuffix != "" && !opts.inPlace {
		return fmt.Errorf("--backup requires --in-place")
	}

	ops, err := buildOperations(opts, args)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, op := range ops {
		dest := op.Dest.Path()
		if seen[dest] {
			return fmt.Errorf("template destinations are not unique: %q is written more than once", dest)
		}
		seen[dest] = true
		if opts.watch && !op.Dest.SupportsWatch() {
			return fmt.Errorf("watch mode does not support stdout destinations (%s)", op)
		}
	}
	if _, err := opts.reloadAction(); err != nil {
		return err
	}
	if _, err := parseDatasourcesEnv(os.Getenv(datasourcesEnv)); err != nil {
		return err
	}
	return nil
}

// reloadAction resolves the on-reload flags into a single action.
func (o *options) reloadAction() (reload.Action, error) {
	switch {
	case o.onReloadCommand != "":
		return reload.ShellCommand(o.onReloadCommand), nil
	case o.onReloadExec != "":
		return reload.Executable(o.onReloadExec), nil
	case o.onReloadSignal != "":
		sig, err := reload.ParseSignal(o.onReloadSignal)
		if err != nil {
			return reload.None(), err
		}
		return reload.SignalAction(sig, reload.ParseTarget(o.onReloadSignalTarget)), nil
	case o.onReloadSignalTarget != "":
		return reload.None(), fmt.Errorf("--on-reload-signal-target requires --on-reload-signal")
	}
	return reload.None(), nil
}
