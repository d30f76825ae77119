// Package shell runs build-action commands through a subshell, capturing
// stdout and stderr and reporting nonzero exits as a structured error.
package shell

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"golang.org/x/xerrors"
)

// Error is returned when a command exits nonzero. It carries the command
// and both captured streams so callers can surface a useful diagnostic.
type Error struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *Error) Error() string {
	return xerrors.Errorf("command %q exited with status %d:\n%s", e.Command, e.ExitCode, e.Stderr).Error()
}

// Run executes command in a subshell ("/bin/sh -c command"), with the given
// working directory and environment, and returns its captured stdout and
// stderr. A nonzero exit produces an *Error.
func Run(ctx context.Context, cwd string, env []string, command string) (stdout, stderr string, err error) {
	command = strings.TrimSpace(unindent(command))
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = cwd
	cmd.Env = env
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	runErr := cmd.Run()
	stdout, stderr = outBuf.String(), errBuf.String()
	if runErr != nil {
		exitCode := -1
		if ee, ok := runErr.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return stdout, stderr, &Error{
			Command:  command,
			ExitCode: exitCode,
			Stdout:   stdout,
			Stderr:   stderr,
		}
	}
	return stdout, stderr, nil
}

// unindent strips the minimum common leading whitespace from every
// non-empty line, so callers can write shell scripts as indented Go string
// literals without the indentation ending up in the script itself.
func unindent(script string) string {
	lines := strings.Split(script, "\n")
	minIndent := -1
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(trimmed)
		if minIndent == -1 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent <= 0 {
		return script
	}
	for i, line := range lines {
		if len(line) >= minIndent {
			lines[i] = line[minIndent:]
		}
	}
	return strings.Join(lines, "\n")
}
