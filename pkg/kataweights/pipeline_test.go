// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kataweights

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const payload = "fake network weights"

// newWeightsServer serves a strongest-network preset and the file it names.
func newWeightsServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/networks/get_strongest/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Network{
			Name:      "kata1-b18c384nbt-s1-d2",
			ModelFile: srv.URL + "/files/kata1-b18c384nbt-s1-d2.bin.gz",
		})
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testPipeline(t *testing.T, srv *httptest.Server, dir string, ex Executor) *Pipeline {
	t.Helper()
	cfg := postSettings(dir)
	cfg.Endpoint = srv.URL
	cfg.WeightsDir = filepath.Join(dir, "data", "weights")
	cfg.FallbackDir = dir
	cfg.Fetcher = "native"
	cfg.Timeout = "2s"
	return &Pipeline{
		Settings:   cfg,
		HTTPClient: srv.Client(),
		Exec:       ex,
		Confirm: func(string) (bool, error) {
			t.Fatal("unexpected confirmation prompt")
			return false, nil
		},
	}
}

func TestPipeline_Run(t *testing.T) {
	srv := newWeightsServer(t)
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "data", "weights"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "data", "configs", "default_gtp.cfg"), "numSearchThreads = 6\n")

	ex := &fakeExec{results: map[string]CommandResult{"nvidia-smi": {Output: "Tesla T4\n"}}}
	p := testPipeline(t, srv, dir, ex)
	var events []string
	p.Progress = func(ev ProgressEvent) { events = append(events, ev.Event) }

	tgt, err := p.Run(context.Background(), Job{Backend: "CUDA"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := filepath.Join(dir, "data", "weights", "18b.bin.gz")
	if tgt.Path != want {
		t.Errorf("path = %s, want %s", tgt.Path, want)
	}
	b, err := os.ReadFile(want)
	if err != nil || string(b) != payload {
		t.Errorf("downloaded file = %q, %v", b, err)
	}
	if _, err := os.Stat(want + ".part"); !os.IsNotExist(err) {
		t.Error("partial file left behind")
	}

	sed := ex.called("sed")
	if len(sed) != 1 || !strings.Contains(strings.Join(sed[0].Args, " "), `\1 18/`) {
		t.Errorf("expected sed to set 18 threads, got %v", sed)
	}

	joined := strings.Join(events, ",")
	for _, ev := range []string{"resolve_start", "resolved", "model_name", "file_done", "gpu", "threads", "done"} {
		if !strings.Contains(joined, ev) {
			t.Errorf("missing %s event in %s", ev, joined)
		}
	}
}

func TestPipeline_FallbackDestination(t *testing.T) {
	srv := newWeightsServer(t)

	t.Run("declined", func(t *testing.T) {
		dir := t.TempDir()
		p := testPipeline(t, srv, dir, &fakeExec{})
		var prompt string
		p.Confirm = func(s string) (bool, error) { prompt = s; return false, nil }

		_, err := p.Run(context.Background(), Job{Selector: "AUTO"})
		if !errors.Is(err, ErrDeclined) {
			t.Fatalf("expected ErrDeclined, got %v", err)
		}
		if !strings.Contains(prompt, "Continue?") {
			t.Errorf("prompt = %q", prompt)
		}
		if _, err := os.Stat(filepath.Join(dir, "18b.bin.gz")); !os.IsNotExist(err) {
			t.Error("file was downloaded after declining")
		}
	})

	t.Run("overwrite confirmed", func(t *testing.T) {
		dir := t.TempDir()
		dst := filepath.Join(dir, "18b.bin.gz")
		writeFile(t, dst, "old")
		p := testPipeline(t, srv, dir, &fakeExec{})
		var prompt string
		p.Confirm = func(s string) (bool, error) { prompt = s; return true, nil }

		if _, err := p.Run(context.Background(), Job{Selector: "auto"}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if !strings.Contains(prompt, "Overwrite it?") {
			t.Errorf("prompt = %q", prompt)
		}
		if b, _ := os.ReadFile(dst); string(b) != payload {
			t.Errorf("file content = %q", b)
		}
	})

	t.Run("assume yes", func(t *testing.T) {
		dir := t.TempDir()
		p := testPipeline(t, srv, dir, &fakeExec{})
		p.Settings.AssumeYes = true
		if _, err := p.Run(context.Background(), Job{}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	})
}

func TestPipeline_DownloadFailure(t *testing.T) {
	srv := newWeightsServer(t)
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "data", "weights"), 0o755)

	ex := &fakeExec{results: map[string]CommandResult{
		"wget": {ExitCode: 4, Err: &CommandError{Name: "wget", ExitCode: 4}},
	}}
	p := testPipeline(t, srv, dir, ex)
	p.Settings.Fetcher = "wget"

	_, err := p.Run(context.Background(), Job{})
	if !errors.Is(err, ErrDownloadFailed) {
		t.Fatalf("expected ErrDownloadFailed, got %v", err)
	}
	calls := ex.called("wget")
	if len(calls) != 1 {
		t.Fatalf("expected one wget call, got %d", len(calls))
	}
	args := strings.Join(calls[0].Args, " ")
	if !strings.HasPrefix(args, "--retry-on-host-error --retry-connrefused -t3 -L ") {
		t.Errorf("unexpected wget args: %s", args)
	}
	if len(ex.called("nvidia-smi")) != 0 {
		t.Error("post-processing ran after a failed download")
	}
}

func TestPipeline_ResolveDoesNotDownload(t *testing.T) {
	srv := newWeightsServer(t)
	dir := t.TempDir()
	ex := &fakeExec{}
	p := testPipeline(t, srv, dir, ex)

	tgt, err := p.Resolve(context.Background(), Job{Selector: "AUTO"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if tgt.Path != filepath.Join(dir, "18b.bin.gz") || tgt.Block != 18 {
		t.Errorf("unexpected target %+v", tgt)
	}
	if len(ex.calls) != 0 {
		t.Errorf("unexpected commands: %v", ex.calls)
	}
}

func TestPipeline_InvalidSelector(t *testing.T) {
	srv := newWeightsServer(t)
	p := testPipeline(t, srv, t.TempDir(), &fakeExec{})
	if _, err := p.Run(context.Background(), Job{Selector: "strongest"}); !errors.Is(err, ErrInvalidBlockSpec) {
		t.Errorf("expected ErrInvalidBlockSpec, got %v", err)
	}
}

func TestLineConfirm(t *testing.T) {
	tests := map[string]bool{
		"y\n":   true,
		"Y\r\n": true,
		"Y":     true,
		"yes\n": false,
		"n\n":   false,
		"":      false,
	}
	for in, want := range tests {
		var out bytes.Buffer
		got, err := LineConfirm(strings.NewReader(in), &out)("Continue? (Y/N) ")
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Errorf("%q: got %v, want %v", in, got, want)
		}
		if !strings.Contains(out.String(), "Continue?") {
			t.Errorf("prompt not written: %q", out.String())
		}
	}
}
