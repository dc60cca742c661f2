// SPDX-License-Identifier: MIT

// Package mediatool drives the external media processor binary: subtitle
// stripping, subtitle conversion, muxing with font attachment, and frame
// extraction.
package mediatool

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/heavenlysubs/submux/internal/log"
	"github.com/heavenlysubs/submux/internal/logtail"
	"github.com/heavenlysubs/submux/internal/metrics"
	"github.com/heavenlysubs/submux/internal/procgroup"
)

// ErrTimeout reports that a run exceeded its deadline and was killed.
var ErrTimeout = errors.New("media tool timed out")

// killGrace is how long a terminated run may linger before the whole
// process group is force-killed.
const killGrace = 5 * time.Second

// stderrTailLines bounds how much diagnostic output is retained per run.
const stderrTailLines = 64

// ToolError carries the exit status and the tail of the tool's diagnostic
// output.
type ToolError struct {
	Op       string
	ExitCode int
	Tail     string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s failed (exit %d): %s", e.Op, e.ExitCode, e.Tail)
}

// Runner executes media tool invocations with timeout and group reaping.
type Runner struct {
	BinPath string
	Timeout time.Duration

	logger zerolog.Logger
}

// NewRunner builds a Runner for the given binary. A zero timeout falls back
// to 30 minutes.
func NewRunner(binPath string, timeout time.Duration) *Runner {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Runner{
		BinPath: binPath,
		Timeout: timeout,
		logger:  log.WithComponent("mediatool"),
	}
}

// Run executes one invocation. op labels the operation for logs and
// metrics. The process group receives SIGTERM on deadline or ctx cancel,
// then SIGKILL after a short grace.
func (r *Runner) Run(ctx context.Context, op string, args []string) error {
	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.Command(r.BinPath, args...) // #nosec G204 -- args are built internally
	procgroup.Set(cmd)

	tail := logtail.New(stderrTailLines)
	cmd.Stderr = tail
	cmd.Stdout = tail

	start := time.Now()
	if err := cmd.Start(); err != nil {
		metrics.MediaToolRuns.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("starting %s: %w", op, err)
	}
	r.logger.Debug().Str("op", op).Int("pid", cmd.Process.Pid).Strs("args", args).Msg("media tool started")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err == nil {
			metrics.MediaToolRuns.WithLabelValues(op, "ok").Inc()
			r.logger.Debug().Str("op", op).Dur("elapsed", time.Since(start)).Msg("media tool finished")
			return nil
		}
		metrics.MediaToolRuns.WithLabelValues(op, "error").Inc()
		return &ToolError{Op: op, ExitCode: cmd.ProcessState.ExitCode(), Tail: tailOf(tail)}
	case <-runCtx.Done():
	}

	// Deadline or caller cancel: escalate SIGTERM then SIGKILL.
	if err := procgroup.Terminate(cmd); err != nil {
		r.logger.Warn().Err(err).Str("op", op).Msg("terminating media tool group")
	}
	select {
	case <-done:
	case <-time.After(killGrace):
		if err := procgroup.ForceKill(cmd); err != nil {
			r.logger.Warn().Err(err).Str("op", op).Msg("force-killing media tool group")
		}
		<-done
	}

	if ctx.Err() != nil {
		metrics.MediaToolRuns.WithLabelValues(op, "cancelled").Inc()
		return ctx.Err()
	}
	metrics.MediaToolRuns.WithLabelValues(op, "timeout").Inc()
	r.logger.Error().Str("op", op).Dur("timeout", r.Timeout).Msg("media tool timed out")
	return fmt.Errorf("%w after %s: %s", ErrTimeout, r.Timeout, tailOf(tail))
}

func tailOf(ring *logtail.Ring) string {
	const maxTail = 4096
	s := ring.Dump()
	if len(s) > maxTail {
		s = s[len(s)-maxTail:]
	}
	return s
}
