// Package bridge performs the external side effect: driving the desktop
// messaging application through its scripting interface. The scripts
// themselves come from a collaborator; this package only executes them.
// There is no return value correlating a dispatched script to a row in
// the history database, which is why reconciliation exists at all.
package bridge

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ScriptSource supplies ready-to-run scripting-bridge program text.
// Implementations own template construction and injection-safe escaping.
type ScriptSource interface {
	TextScript(targetKey, text string) (string, error)
	AttachmentScript(targetKey, path string) (string, error)
}

// SendError is a typed delivery failure from the scripting bridge.
type SendError struct {
	Target string
	Stderr string
	Err    error
}

func (e *SendError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("bridge: send to %s failed: %v (stderr: %s)", e.Target, e.Err, e.Stderr)
	}
	return fmt.Sprintf("bridge: send to %s failed: %v", e.Target, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// runScript executes one program; swapped out in tests.
type runScript func(ctx context.Context, script string) (stderr string, err error)

// Executor runs scripting-bridge programs against the messaging app.
type Executor struct {
	scripts ScriptSource
	run     runScript
	timeout time.Duration
	logger  *zap.Logger
}

// NewExecutor creates an executor using the host's script interpreter.
func NewExecutor(scripts ScriptSource, timeout time.Duration, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		scripts: scripts,
		run:     runOsascript,
		timeout: timeout,
		logger:  logger,
	}
}

// SendText dispatches a text message. The context is checked before the
// script runs; once dispatched the side effect cannot be cancelled.
func (x *Executor) SendText(ctx context.Context, targetKey, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	script, err := x.scripts.TextScript(targetKey, text)
	if err != nil {
		return fmt.Errorf("bridge: build text script: %w", err)
	}
	return x.dispatch(ctx, targetKey, script)
}

// SendAttachment dispatches a file.
func (x *Executor) SendAttachment(ctx context.Context, targetKey, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	script, err := x.scripts.AttachmentScript(targetKey, path)
	if err != nil {
		return fmt.Errorf("bridge: build attachment script: %w", err)
	}
	return x.dispatch(ctx, targetKey, script)
}

func (x *Executor) dispatch(ctx context.Context, targetKey, script string) error {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	start := time.Now()
	stderr, err := x.run(ctx, script)
	if err != nil {
		return &SendError{Target: targetKey, Stderr: strings.TrimSpace(stderr), Err: err}
	}

	x.logger.Debug("script dispatched",
		zap.String("target", targetKey),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func runOsascript(ctx context.Context, script string) (string, error) {
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}
