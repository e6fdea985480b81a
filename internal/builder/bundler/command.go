package bundler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// DefaultCommandTimeout bounds one bundler subprocess.
const DefaultCommandTimeout = time.Minute

// CommandOptions configures the subprocess bundler.
type CommandOptions struct {
	// Path is the executable to run.
	Path string

	// Args are passed before the config file path.
	Args []string

	// Env is appended to the inherited environment.
	Env []string

	Timeout time.Duration
}

// Command runs an external bundler. The request is written to the workspace
// as JSON and its path is passed as the last argument. Success requires a
// zero exit status and an existing output file; output text is captured for
// diagnostics only.
type Command struct {
	path    string
	args    []string
	env     []string
	timeout time.Duration
}

// NewCommand creates a new subprocess bundler.
func NewCommand(opts CommandOptions) (*Command, error) {
	if opts.Path == "" {
		return nil, ErrNoCommand
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Command{
		path:    opts.Path,
		args:    append([]string(nil), opts.Args...),
		env:     append([]string(nil), opts.Env...),
		timeout: timeout,
	}, nil
}

// Name returns the bundler kind.
func (c *Command) Name() string {
	return KindCommand
}

// ExitError describes a failed bundler subprocess.
type ExitError struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("bundler exited with status %d: %v", e.ExitCode, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Output returns the captured stdout and stderr.
func (e *ExitError) Output() string {
	if e.Stdout == "" {
		return e.Stderr
	}
	if e.Stderr == "" {
		return e.Stdout
	}
	return e.Stdout + "\n" + e.Stderr
}

// Bundle writes the request config and runs the command against it.
func (c *Command) Bundle(ctx context.Context, req *Request) (string, error) {
	if len(req.Modules) == 0 {
		return "", ErrNoModules
	}

	configPath, err := req.WriteConfig()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append(append([]string(nil), c.args...), configPath)
	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Dir = req.Workspace
	cmd.Env = append(os.Environ(), c.env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitErr := &ExitError{
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Err:      err,
		}
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			exitErr.ExitCode = ee.ExitCode()
		}
		if ctx.Err() != nil {
			exitErr.Err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return "", exitErr
	}

	if _, err := os.Stat(req.OutputPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoOutput, req.OutputPath)
	}
	return req.OutputPath, nil
}
