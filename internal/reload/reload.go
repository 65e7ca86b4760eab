// Package reload notifies a dependent process after a reconciliation
// changed rendered output, by signal or by (re)executing a hook process.
package reload

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// ChangedFilesEnv names the environment variable carrying the
// comma-joined destination paths that changed in the triggering cycle.
// Spawned hook processes receive it.
const ChangedFilesEnv = "CONTEMPLATED_FILES"

// ActionKind enumerates the reload actions.
type ActionKind int

const (
	// ActionNone performs no reload notification.
	ActionNone ActionKind = iota
	// ActionShellCommand runs a command through /bin/sh -c.
	ActionShellCommand
	// ActionExecutable runs an executable directly.
	ActionExecutable
	// ActionSignal delivers a signal to the configured target.
	ActionSignal
)

// Action describes what happens after a cycle changed output.
type Action struct {
	Kind    ActionKind
	Command string
	Signal  unix.Signal
	Target  Target
}

// None returns the no-op action.
func None() Action { return Action{Kind: ActionNone} }

// ShellCommand returns an action running cmd through a shell.
func ShellCommand(cmd string) Action {
	return Action{Kind: ActionShellCommand, Command: cmd}
}

// Executable returns an action running the executable directly.
func Executable(path string) Action {
	return Action{Kind: ActionExecutable, Command: path}
}

// SignalAction returns an action delivering sig to target.
func SignalAction(sig unix.Signal, target Target) Action {
	return Action{Kind: ActionSignal, Signal: sig, Target: target}
}

// TargetKind enumerates signal targets.
type TargetKind int

const (
	// TargetParent signals the current process's parent.
	TargetParent TargetKind = iota
	// TargetPid signals a literal PID.
	TargetPid
	// TargetProcessName signals every process with an exactly matching name.
	TargetProcessName
)

// Target identifies the process(es) that receive a reload signal.
type Target struct {
	Kind TargetKind
	Pid  int
	Name string
}

// ParseTarget interprets a target token: ":parent" or an empty string mean
// the parent process, an integer is a PID, anything else is a process name.
func ParseTarget(s string) Target {
	if s == "" || s == ":parent" {
		return Target{Kind: TargetParent}
	}
	if pid, err := strconv.Atoi(s); err == nil {
		return Target{Kind: TargetPid, Pid: pid}
	}
	return Target{Kind: TargetProcessName, Name: s}
}

// ParseSignal accepts a signal number, a bare name like HUP, or a full
// name like SIGHUP.
func ParseSignal(s string) (unix.Signal, error) {
	if num, err := strconv.Atoi(s); err == nil {
		sig := unix.Signal(num)
		if name := unix.SignalName(sig); name == "" {
			return 0, fmt.Errorf("invalid signal number %d", num)
		}
		return sig, nil
	}
	upper := strings.ToUpper(s)
	if sig := unix.SignalNum(upper); sig != 0 {
		return sig, nil
	}
	if sig := unix.SignalNum("SIG" + upper); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("invalid signal %q", s)
}

// Controller owns the reload action and, for process-spawning actions, at
// most one tracked child. Execute is only ever invoked from the serialized
// reconciliation path, so the mutex guards nothing but the slot itself.
type Controller struct {
	action Action
	log    logr.Logger

	mu        sync.Mutex
	child     *exec.Cmd
	parentPid int
}

// NewController builds a controller for the given action.
func NewController(log logr.Logger, action Action) *Controller {
	return &Controller{action: action, log: log}
}

// SetParentPID overrides what the parent target resolves to. Used when the
// orchestrator spawned a successor process that stands in for the parent.
func (c *Controller) SetParentPID(pid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parentPid = pid
}

// Execute performs the configured action, exposing the changed destination
// paths to spawned processes via ChangedFilesEnv.
func (c *Controller) Execute(changedPaths []string) error {
	joined := strings.Join(changedPaths, ",")

	switch c.action.Kind {
	case ActionNone:
		return nil
	case ActionShellCommand:
		return c.spawn(exec.Command("/bin/sh", "-c", c.action.Command), joined)
	case ActionExecutable:
		return c.spawn(exec.Command(c.action.Command), joined)
	case ActionSignal:
		return c.signal()
	default:
		return fmt.Errorf("unknown reload action %d", c.action.Kind)
	}
}

// spawn interrupts a still-running previous child, reaps it in the
// background, and starts cmd as the new tracked child. The interrupt is a
// deliberate debounce hook: a long-running downstream script can catch
// SIGINT and sleep briefly to coalesce rapid successive reloads.
func (c *Controller) spawn(cmd *exec.Cmd, changedFiles string) error {
	cmd.Env = append(os.Environ(), ChangedFilesEnv+"="+changedFiles)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	c.mu.Lock()
	defer c.mu.Unlock()

	if prev := c.child; prev != nil && prev.Process != nil {
		if err := prev.Process.Signal(unix.SIGINT); err != nil {
			c.log.V(1).Info("could not interrupt previous reload hook", "error", err.Error())
		}
		go func() { _ = prev.Wait() }()
	}
	c.child = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn reload hook: %w", err)
	}
	c.child = cmd
	return nil
}

func (c *Controller) signal() error {
	sig := c.action.Signal
	switch c.action.Target.Kind {
	case TargetPid:
		c.log.V(1).Info("sending signal", "signal", unix.SignalName(sig), "pid", c.action.Target.Pid)
		if err := unix.Kill(c.action.Target.Pid, sig); err != nil {
			return fmt.Errorf("signal pid %d: %w", c.action.Target.Pid, err)
		}
	case TargetParent:
		pid := c.resolveParent()
		c.log.V(1).Info("sending signal to parent", "signal", unix.SignalName(sig), "pid", pid)
		if err := unix.Kill(pid, sig); err != nil {
			return fmt.Errorf("signal parent pid %d: %w", pid, err)
		}
	case TargetProcessName:
		procs, err := process.Processes()
		if err != nil {
			return fmt.Errorf("enumerate processes: %w", err)
		}
		for _, p := range procs {
			name, err := p.Name()
			if err != nil || name != c.action.Target.Name {
				continue
			}
			c.log.V(1).Info("sending signal", "signal", unix.SignalName(sig), "process", name, "pid", p.Pid)
			if err := unix.Kill(int(p.Pid), sig); err != nil {
				return fmt.Errorf("signal %s (pid %d): %w", name, p.Pid, err)
			}
		}
	}
	return nil
}

func (c *Controller) resolveParent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.parentPid != 0 {
		return c.parentPid
	}
	return os.Getppid()
}
