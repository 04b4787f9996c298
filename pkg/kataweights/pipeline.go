// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kataweights

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// ConfirmFunc asks the user a yes/no question.
type ConfirmFunc func(prompt string) (bool, error)

// LineConfirm prints prompt to w and reads one line from r. Only "y" or "Y"
// counts as yes.
func LineConfirm(r io.Reader, w io.Writer) ConfirmFunc {
	br := bufio.NewReader(r)
	return func(prompt string) (bool, error) {
		fmt.Fprintln(w, prompt)
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		return strings.EqualFold(strings.TrimRight(line, "\r\n"), "y"), nil
	}
}

// Pipeline wires the resolve, download and post-processing steps together.
// Zero-valued fields fall back to host defaults.
type Pipeline struct {
	Settings   Settings
	HTTPClient *http.Client
	Exec       Executor
	// Fetcher overrides the one chosen by Settings.Fetcher.
	Fetcher  Fetcher
	Threads  ThreadsTable
	Confirm  ConfirmFunc
	Progress ProgressFunc
}

// Run resolves job and downloads the weights with default collaborators,
// confirming on stdin when the fallback destination is used.
func Run(ctx context.Context, job Job, cfg Settings, progress ProgressFunc) (Target, error) {
	p := &Pipeline{Settings: cfg, Progress: progress}
	return p.Run(ctx, job)
}

// Resolve classifies the selector, resolves the URL and picks the local path
// without downloading anything.
func (p *Pipeline) Resolve(ctx context.Context, job Job) (Target, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := p.Settings.withDefaults()
	emit := emitter(p.Progress)

	raw := strings.TrimSpace(job.Selector)
	if raw == "" {
		raw = string(PresetAuto)
	}
	sel, err := Classify(raw)
	if err != nil {
		return Target{}, err
	}
	emit(ProgressEvent{Event: "resolve_start", Message: fmt.Sprintf("%s (%s)", raw, sel.Kind)})

	r, err := NewResolver(p.HTTPClient, cfg, p.Progress)
	if err != nil {
		return Target{}, err
	}
	modelURL, err := r.ResolveURL(ctx, sel)
	if err != nil {
		return Target{}, err
	}
	emit(ProgressEvent{Event: "resolved", URL: modelURL})

	t, err := r.Describe(ctx, modelURL, sel.Block)
	if err != nil {
		return Target{}, err
	}
	emit(ProgressEvent{Event: "model_name", URL: modelURL, Message: t.ModelName})

	t.Path, _ = destination(cfg, t)
	return t, nil
}

// Run resolves job, downloads the file and post-processes the engine config.
func (p *Pipeline) Run(ctx context.Context, job Job) (Target, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := p.Settings.withDefaults()
	emit := emitter(p.Progress)

	t, err := p.Resolve(ctx, job)
	if err != nil {
		emit(ProgressEvent{Level: "error", Event: "error", Message: err.Error()})
		return t, err
	}

	if _, fallback := destination(cfg, t); fallback && !cfg.AssumeYes {
		ok, err := p.confirm()(destinationPrompt(t.Path))
		if err != nil {
			return t, err
		}
		if !ok {
			return t, ErrDeclined
		}
	}

	exec := p.executor()
	if err := p.fetcher(cfg, exec).Fetch(ctx, t.URL, t.Path); err != nil {
		emit(ProgressEvent{Level: "error", Event: "error", Path: t.Path, Message: err.Error()})
		return t, err
	}
	emit(ProgressEvent{Event: "file_done", Path: t.Path})

	threads := p.Threads
	if threads.threads == nil {
		threads = DefaultThreadsTable()
	}
	PostProcessor{Exec: exec, Threads: threads, Settings: cfg, Progress: p.Progress}.Run(ctx, t, job.Backend)

	emit(ProgressEvent{Event: "done", Path: t.Path, Message: "download complete"})
	return t, nil
}

func (p *Pipeline) executor() Executor {
	if p.Exec != nil {
		return p.Exec
	}
	return OSExecutor{}
}

func (p *Pipeline) confirm() ConfirmFunc {
	if p.Confirm != nil {
		return p.Confirm
	}
	return LineConfirm(os.Stdin, os.Stdout)
}

func (p *Pipeline) fetcher(cfg Settings, exec Executor) Fetcher {
	if p.Fetcher != nil {
		return p.Fetcher
	}
	if strings.EqualFold(cfg.Fetcher, "native") {
		return HTTPFetcher{Client: p.HTTPClient, Progress: p.Progress}
	}
	return CommandFetcher{Exec: exec}
}

// destination returns the local path for t and whether it is the
// fallback location outside the weights directory.
func destination(cfg Settings, t Target) (string, bool) {
	name := t.BaseName + "." + t.Extension
	if isDir(cfg.WeightsDir) {
		return filepath.Join(cfg.WeightsDir, name), false
	}
	return filepath.Join(cfg.FallbackDir, name), true
}

func destinationPrompt(path string) string {
	if _, err := os.Stat(path); err == nil {
		return fmt.Sprintf("%q already exists. Overwrite it? (Y/N) ", path)
	}
	return fmt.Sprintf("The file will be downloaded to %q. Continue? (Y/N) ", path)
}
