package release

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"termsync/pkg/domain"
)

// Command is one external process invocation.
type Command struct {
	// Label names the step in errors, e.g. "Download LOINC terminology".
	Label string
	Dir   string
	Argv  []string
}

// Runner executes commands and returns their trimmed standard output.
type Runner interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// TailBytes caps how much stderr is attached to a failure. Zero means 2048.
	TailBytes int
}

// Run starts cmd and waits for it. A wait cut short by ctx yields an error
// wrapping domain.ErrInterrupted; a non-zero exit carries the stderr tail.
func (r ExecRunner) Run(ctx context.Context, cmd Command) (string, error) {
	if len(cmd.Argv) == 0 {
		return "", domain.NewServiceError("%s: empty command", cmd.Label)
	}
	c := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := c.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("%s: %w: %w", cmd.Label, domain.ErrInterrupted, ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%s failed with exit code %d: %s", cmd.Label, exitErr.ExitCode(), tail(stderr.String(), r.tailBytes()))
		}
		return "", fmt.Errorf("%s: %w", cmd.Label, err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (r ExecRunner) tailBytes() int {
	if r.TailBytes <= 0 {
		return 2048
	}
	return r.TailBytes
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
