// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kataweights

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
)

// Policy says what a failing external command means for the run.
type Policy int

const (
	// Fatal failures abort the pipeline.
	Fatal Policy = iota
	// BestEffort failures are reported and otherwise ignored.
	BestEffort
)

func (p Policy) String() string {
	if p == BestEffort {
		return "best-effort"
	}
	return "fatal"
}

// Invocation describes one external command.
type Invocation struct {
	Name   string
	Args   []string
	Policy Policy
	// Capture collects stdout into CommandResult.Output instead of passing
	// it through to the user.
	Capture bool
}

// CommandResult is the outcome of one Invocation.
type CommandResult struct {
	ExitCode int
	Output   string
	// Err is non-nil when the command could not start or exited nonzero.
	Err error
}

// OK reports whether the command ran and exited zero.
func (r CommandResult) OK() bool { return r.Err == nil }

// Executor runs external commands.
type Executor interface {
	Run(ctx context.Context, inv Invocation) CommandResult
}

// OSExecutor runs commands on the host. Uncaptured output goes to Stdout and
// Stderr, which default to the process streams.
type OSExecutor struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Run implements Executor.
func (e OSExecutor) Run(ctx context.Context, inv Invocation) CommandResult {
	cmd := exec.CommandContext(ctx, inv.Name, inv.Args...)
	var out bytes.Buffer
	if inv.Capture {
		cmd.Stdout = &out
		cmd.Stderr = io.Discard
	} else {
		cmd.Stdout = writerOr(e.Stdout, os.Stdout)
		cmd.Stderr = writerOr(e.Stderr, os.Stderr)
	}

	err := cmd.Run()
	res := CommandResult{Output: out.String()}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			res.ExitCode = ee.ExitCode()
			res.Err = &CommandError{Name: inv.Name, ExitCode: res.ExitCode}
		} else {
			res.ExitCode = -1
			res.Err = &CommandError{Name: inv.Name, ExitCode: -1, Err: err}
		}
	}
	return res
}

func writerOr(w, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}
