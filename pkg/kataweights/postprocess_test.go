// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kataweights

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// fakeExec records invocations and answers from a table keyed by command name.
type fakeExec struct {
	mu      sync.Mutex
	calls   []Invocation
	results map[string]CommandResult
}

func (f *fakeExec) Run(ctx context.Context, inv Invocation) CommandResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, inv)
	if res, ok := f.results[inv.Name]; ok {
		return res
	}
	return CommandResult{}
}

func (f *fakeExec) called(name string) []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Invocation
	for _, c := range f.calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func postSettings(dir string) Settings {
	return Settings{
		GTPConfig:    filepath.Join(dir, "data", "configs", "default_gtp.cfg"),
		ConfigScript: filepath.Join(dir, "change-config.sh"),
		ScriptConfig: filepath.Join(dir, "config", "conf.yaml"),
	}
}

func TestThreadsTable_Lookup(t *testing.T) {
	tbl := DefaultThreadsTable()
	tests := []struct {
		gpu, backend string
		block        int
		want         int
		ok           bool
	}{
		{TeslaT4, "CUDA", 18, 18, true},
		{TeslaT4, "cuda", 28, 9, true},
		{TeslaT4, "TENSORRT", 6, 28, true},
		{TeslaT4, "TENSORRT", 15, 20, true},
		{TeslaT4, "OPENCL", 18, 0, false},
		{TeslaT4, "CUDA", 41, 0, false},
		{TeslaT4, "", 18, 0, false},
		{"NVIDIA A100-SXM4-40GB", "CUDA", 18, 0, false},
		{"", "CUDA", 18, 0, false},
	}
	for _, tt := range tests {
		got, ok := tbl.Lookup(tt.gpu, tt.backend, tt.block)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Lookup(%q, %q, %d) = %d, %v; want %d, %v", tt.gpu, tt.backend, tt.block, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPostProcessor_UnknownGPULeavesConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := postSettings(dir)
	writeFile(t, cfg.GTPConfig, "maxVisits = 500\nnumSearchThreads = 6\n")

	ex := &fakeExec{results: map[string]CommandResult{
		"nvidia-smi": {Output: "NVIDIA GeForce RTX 3090\n"},
	}}
	var lines []string
	pp := PostProcessor{Exec: ex, Threads: DefaultThreadsTable(), Settings: cfg, Progress: func(ev ProgressEvent) {
		if ev.Event == "threads" {
			lines = append(lines, ev.Message)
		}
	}}
	pp.Run(context.Background(), Target{BaseName: "18b", Block: 18, Path: "x"}, "CUDA")

	if calls := ex.called("sed"); len(calls) != 0 {
		t.Errorf("expected no substitution, got %v", calls)
	}
	if len(lines) != 1 || lines[0] != "numSearchThreads = 6" {
		t.Errorf("threads lines = %v", lines)
	}
}

func TestPostProcessor_GPUDetectionFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := postSettings(dir)
	writeFile(t, cfg.GTPConfig, "numSearchThreads = 6\n")

	ex := &fakeExec{results: map[string]CommandResult{
		"nvidia-smi": {ExitCode: -1, Err: &CommandError{Name: "nvidia-smi", ExitCode: -1, Err: errors.New("not found")}},
	}}
	pp := PostProcessor{Exec: ex, Threads: DefaultThreadsTable(), Settings: cfg}
	pp.Run(context.Background(), Target{Block: 18}, "CUDA")

	if calls := ex.called("sed"); len(calls) != 0 {
		t.Errorf("expected no substitution, got %v", calls)
	}
}

func TestPostProcessor_TunesThreadsOnT4(t *testing.T) {
	dir := t.TempDir()
	cfg := postSettings(dir)
	writeFile(t, cfg.GTPConfig, "numSearchThreads = 6\n")

	ex := &fakeExec{results: map[string]CommandResult{
		"nvidia-smi": {Output: "Tesla T4\nTesla T4\n"},
	}}
	var gpu string
	pp := PostProcessor{Exec: ex, Threads: DefaultThreadsTable(), Settings: cfg, Progress: func(ev ProgressEvent) {
		if ev.Event == "gpu" {
			gpu = ev.Message
		}
	}}
	pp.Run(context.Background(), Target{BaseName: "40b", Block: 40}, "TENSORRT")

	if gpu != TeslaT4 {
		t.Errorf("gpu = %q", gpu)
	}
	calls := ex.called("sed")
	if len(calls) != 1 {
		t.Fatalf("expected one sed call, got %d", len(calls))
	}
	args := strings.Join(calls[0].Args, " ")
	if !strings.Contains(args, `s/^(numSearchThreads =).*/\1 12/`) || !strings.HasSuffix(args, cfg.GTPConfig) {
		t.Errorf("unexpected sed args: %s", args)
	}
	if calls[0].Policy != BestEffort {
		t.Errorf("sed should be best-effort, got %s", calls[0].Policy)
	}
}

func TestPostProcessor_ConfigScript(t *testing.T) {
	t.Run("runs when script and config exist", func(t *testing.T) {
		dir := t.TempDir()
		cfg := postSettings(dir)
		writeFile(t, cfg.ConfigScript, "#!/bin/sh\n")
		writeFile(t, cfg.ScriptConfig, "model: x\n")

		ex := &fakeExec{results: map[string]CommandResult{
			"sh": {ExitCode: 3, Err: &CommandError{Name: "sh", ExitCode: 3}},
		}}
		pp := PostProcessor{Exec: ex, Threads: DefaultThreadsTable(), Settings: cfg}
		pp.Run(context.Background(), Target{BaseName: "18b", Path: "data/weights/18b.bin.gz"}, "")

		calls := ex.called("sh")
		if len(calls) != 1 {
			t.Fatalf("expected one script call, got %d", len(calls))
		}
		want := []string{cfg.ConfigScript, "18b", "data/weights/18b.bin.gz"}
		if strings.Join(calls[0].Args, "|") != strings.Join(want, "|") {
			t.Errorf("args = %v, want %v", calls[0].Args, want)
		}
		if len(ex.called("nvidia-smi")) != 0 {
			t.Error("GPU detection ran without a GTP config")
		}
	})

	t.Run("skipped without companion config", func(t *testing.T) {
		dir := t.TempDir()
		cfg := postSettings(dir)
		writeFile(t, cfg.ConfigScript, "#!/bin/sh\n")

		ex := &fakeExec{}
		PostProcessor{Exec: ex, Threads: DefaultThreadsTable(), Settings: cfg}.Run(context.Background(), Target{}, "")
		if len(ex.calls) != 0 {
			t.Errorf("expected no calls, got %v", ex.calls)
		}
	})
}
