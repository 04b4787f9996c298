// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kataweights

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// TeslaT4 is the GPU identity the stock thread table was tuned on.
const TeslaT4 = "Tesla T4"

type threadsKey struct {
	Backend string
	Block   int
}

// ThreadsTable holds recommended numSearchThreads per backend and block
// count for one GPU model.
type ThreadsTable struct {
	GPU     string
	threads map[threadsKey]int
}

// DefaultThreadsTable returns the Tesla T4 recommendations for the CUDA and
// TENSORRT backends.
func DefaultThreadsTable() ThreadsTable {
	return ThreadsTable{
		GPU: TeslaT4,
		threads: map[threadsKey]int{
			{"CUDA", 28}: 9,
			{"CUDA", 18}: 18,
			{"CUDA", 60}: 8,
			{"CUDA", 40}: 10,
			{"CUDA", 30}: 10,
			{"CUDA", 20}: 13,
			{"CUDA", 15}: 18,
			{"CUDA", 10}: 22,
			{"CUDA", 6}:  28,

			{"TENSORRT", 28}: 13,
			{"TENSORRT", 18}: 18,
			{"TENSORRT", 60}: 10,
			{"TENSORRT", 40}: 12,
			{"TENSORRT", 30}: 14,
			{"TENSORRT", 20}: 13,
			{"TENSORRT", 15}: 20,
			{"TENSORRT", 10}: 23,
			{"TENSORRT", 6}:  28,
		},
	}
}

// Lookup returns the thread count for gpu, backend and block. Only the
// table's own GPU has entries.
func (t ThreadsTable) Lookup(gpu, backend string, block int) (int, bool) {
	if gpu == "" || gpu != t.GPU {
		return 0, false
	}
	n, ok := t.threads[threadsKey{Backend: strings.ToUpper(strings.TrimSpace(backend)), Block: block}]
	return n, ok
}

// PostProcessor runs the optional config script and tunes the GTP config.
type PostProcessor struct {
	Exec     Executor
	Threads  ThreadsTable
	Settings Settings
	Progress ProgressFunc
}

// Run applies every post-download step that is configured on this host.
// All steps are best-effort; failures only produce events.
func (p PostProcessor) Run(ctx context.Context, t Target, backend string) {
	emit := emitter(p.Progress)
	cfg := p.Settings.withDefaults()

	if isFile(cfg.ConfigScript) && isFile(cfg.ScriptConfig) {
		res := p.Exec.Run(ctx, Invocation{
			Name:   "sh",
			Args:   []string{cfg.ConfigScript, t.BaseName, t.Path},
			Policy: BestEffort,
		})
		msg := "ok"
		if !res.OK() {
			msg = res.Err.Error()
		}
		emit(ProgressEvent{Event: "config_script", Path: cfg.ConfigScript, Message: msg})
	}

	if !isFile(cfg.GTPConfig) {
		return
	}
	gpu := p.DetectGPU(ctx)
	emit(ProgressEvent{Event: "gpu", Message: gpu})

	if n, ok := p.Threads.Lookup(gpu, backend, t.Block); ok {
		res := p.Exec.Run(ctx, Invocation{
			Name:   "sed",
			Args:   []string{"-i", "-E", fmt.Sprintf(`s/^(numSearchThreads =).*/\1 %d/`, n), cfg.GTPConfig},
			Policy: BestEffort,
		})
		if !res.OK() {
			emit(ProgressEvent{Level: "warn", Event: "warn", Path: cfg.GTPConfig, Message: "numSearchThreads not updated: " + res.Err.Error()})
		}
	}

	lines, err := threadLines(cfg.GTPConfig)
	if err != nil {
		emit(ProgressEvent{Level: "warn", Event: "warn", Path: cfg.GTPConfig, Message: err.Error()})
		return
	}
	for _, l := range lines {
		emit(ProgressEvent{Event: "threads", Path: cfg.GTPConfig, Message: l})
	}
}

// DetectGPU returns the first GPU name reported by nvidia-smi, or "" when
// the tool is missing or fails.
func (p PostProcessor) DetectGPU(ctx context.Context) string {
	res := p.Exec.Run(ctx, Invocation{
		Name:    "nvidia-smi",
		Args:    []string{"--query-gpu=name", "--format=csv,noheader"},
		Policy:  BestEffort,
		Capture: true,
	})
	if !res.OK() {
		return ""
	}
	for _, line := range strings.Split(res.Output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// threadLines returns the lines of path that start with numSearchThreads.
func threadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "numSearchThreads") {
			out = append(out, sc.Text())
		}
	}
	return out, sc.Err()
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
