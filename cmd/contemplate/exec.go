// exec.go hands control to a successor process for --and-then-exec,
// intended for scratch containers where an entrypoint script cannot start
// the real entrypoint.
package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"
)

// execReplace replaces the current process with the given program. Only
// reachable without watch mode; it does not return on success.
func execReplace(argv []string) error {
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("cannot find executable %q: %w", argv[0], err)
	}
	if err := unix.Exec(path, argv, os.Environ()); err != nil {
		return fmt.Errorf("exec %q: %w", path, err)
	}
	return nil
}

// spawnSuccessor starts the successor as a child process with inherited
// stdio and returns its PID. Go cannot fork-and-continue the way the
// parent-exec trick would need, so in watch mode the successor runs as a
// child and stands in as the parent signal target.
func spawnSuccessor(log logr.Logger, argv []string) (int, error) {
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return 0, fmt.Errorf("cannot find executable %q: %w", argv[0], err)
	}
	cmd := exec.Command(path, argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %q: %w", path, err)
	}
	log.Info("started successor process", "pid", cmd.Process.Pid, "path", path)
	go func() { _ = cmd.Wait() }()
	return cmd.Process.Pid, nil
}
