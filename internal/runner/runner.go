// Package runner interpolates and executes the user's command when a watched
// path changes.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Placeholder is the literal token replaced with the changed path in every
// command argument.
const Placeholder = "{}"

// ErrEmptyCommand is returned when a Runner is built with no command tokens.
var ErrEmptyCommand = errors.New("runner: command is empty")

// Runner executes one shell command per change event, substituting the
// changed path for every placeholder token.
type Runner struct {
	tokens []string
	logger *slog.Logger
}

// New builds a Runner for the given command tokens.
func New(tokens []string, logger *slog.Logger) (*Runner, error) {
	if len(tokens) == 0 {
		return nil, ErrEmptyCommand
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{tokens: tokens, logger: logger}, nil
}

// Interpolate returns the command tokens with every placeholder occurrence
// replaced by path. The placeholder may appear anywhere inside a token, any
// number of times.
func (r *Runner) Interpolate(path string) []string {
	out := make([]string, len(r.tokens))
	for i, tok := range r.tokens {
		out[i] = strings.ReplaceAll(tok, Placeholder, path)
	}
	return out
}

// Run interpolates path into the command, joins the tokens with shell
// quoting, and executes the result via the platform shell with stdout and
// stderr inherited. It returns the child's exit code; a non-zero exit is not
// an error. The error return covers only failures to start or signal-killed
// children.
func (r *Runner) Run(ctx context.Context, path string) (int, error) {
	line := shellquote.Join(r.Interpolate(path)...)
	r.logger.Debug("runner: executing", slog.String("command", line))

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", line)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("runner: run %q: %w", line, err)
}

// CommandLine returns the uninterpolated command as a single shell-quoted
// string, for display.
func (r *Runner) CommandLine() string {
	return shellquote.Join(r.tokens...)
}
