package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// InterruptGrace is how long a cancelled subprocess has to exit after SIGINT
// before it is killed.
var InterruptGrace = 5 * time.Second

// CommandError reports a failed subprocess together with its exit code and
// its stderr, unmodified.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s execution failed (exit %d): %v\n%s Error: %s",
		filepath.Base(e.Name), e.ExitCode, e.Err, filepath.Base(e.Name), strings.TrimSpace(e.Stderr))
}

func (e *CommandError) Unwrap() error { return e.Err }

// RunCommand runs name with args, writing stdout to the given writer (nil
// discards it). When ctx is done the process receives SIGINT, then SIGKILL
// after InterruptGrace; the returned error then wraps ctx.Err().
func RunCommand(ctx context.Context, stdout io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = InterruptGrace

	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", filepath.Base(name), ctxErr)
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return &CommandError{
		Name:     name,
		Args:     args,
		ExitCode: exitCode,
		Stderr:   stderr.String(),
		Err:      err,
	}
}

// StderrOf returns the verbatim stderr carried by err, if any.
func StderrOf(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Stderr
	}
	return ""
}
