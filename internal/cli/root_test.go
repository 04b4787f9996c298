// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

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

	"github.com/bodaay/katago-weights/pkg/kataweights"
)

func newStrongestServer(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/networks/get_strongest/" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"name":       "kata1-b18c384nbt-s1-d2",
			"model_file": srv.URL + "/files/kata1-b18c384nbt-s1-d2.bin.gz",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cmd := newRootCmd(context.Background(), "1.2.3-test")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRoot_TooManyArguments(t *testing.T) {
	_, err := run(t, "18b", "CUDA", "extra")
	if !errors.Is(err, kataweights.ErrUsage) {
		t.Fatalf("expected ErrUsage, got %v", err)
	}
}

func TestRoot_DryRun(t *testing.T) {
	srv := newStrongestServer(t)
	dir := t.TempDir()

	out, err := run(t, "--endpoint", srv.URL, "--weights-dir", dir, "--dry-run")
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	for _, want := range []string{
		"model_url: " + srv.URL + "/files/kata1-b18c384nbt-s1-d2.bin.gz",
		"model_name: kata1-b18c384nbt-s1-d2.bin.gz",
		"destination: " + filepath.Join(dir, "18b.bin.gz"),
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("dry run wrote files: %v", entries)
	}
}

func TestRoot_DryRunJSON(t *testing.T) {
	srv := newStrongestServer(t)
	dir := t.TempDir()

	out, err := run(t, "--json", "--endpoint", srv.URL, "--weights-dir", dir, "--dry-run", "AUTO")
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	// event lines come first, the target is the trailing indented object
	i := strings.Index(out, "{\n")
	if i < 0 {
		t.Fatalf("no target object in output:\n%s", out)
	}
	var tgt kataweights.Target
	if err := json.Unmarshal([]byte(out[i:]), &tgt); err != nil {
		t.Fatalf("decode target: %v\n%s", err, out[i:])
	}
	if tgt.Block != 18 || tgt.Path != filepath.Join(dir, "18b.bin.gz") {
		t.Errorf("unexpected target %+v", tgt)
	}
	if !strings.Contains(out[:i], `"event":"resolved"`) {
		t.Errorf("expected JSON events before the target:\n%s", out[:i])
	}
}

func TestRoot_ConfigFileDefaults(t *testing.T) {
	srv := newStrongestServer(t)
	dir := t.TempDir()
	weights := filepath.Join(dir, "weights")
	if err := os.MkdirAll(weights, 0o755); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "kataweights.yaml")
	cfg := "endpoint: " + srv.URL + "\nweights-dir: " + filepath.Join(dir, "missing") + "\nattempts: 1\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("config applies", func(t *testing.T) {
		out, err := run(t, "--config", cfgPath, "--fallback-dir", dir, "--dry-run")
		if err != nil {
			t.Fatalf("dry run failed: %v", err)
		}
		if !strings.Contains(out, "destination: "+filepath.Join(dir, "18b.bin.gz")) {
			t.Errorf("expected fallback destination:\n%s", out)
		}
	})

	t.Run("flags win", func(t *testing.T) {
		out, err := run(t, "--config", cfgPath, "--weights-dir", weights, "--dry-run")
		if err != nil {
			t.Fatalf("dry run failed: %v", err)
		}
		if !strings.Contains(out, "destination: "+filepath.Join(weights, "18b.bin.gz")) {
			t.Errorf("expected flag destination:\n%s", out)
		}
	})

	t.Run("invalid file", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		os.WriteFile(bad, []byte("{"), 0o644)
		if _, err := run(t, "--config", bad, "--dry-run"); err == nil || !strings.Contains(err.Error(), "invalid JSON") {
			t.Errorf("expected invalid JSON error, got %v", err)
		}
	})
}

func TestRoot_InvalidSelector(t *testing.T) {
	srv := newStrongestServer(t)
	_, err := run(t, "--endpoint", srv.URL, "--dry-run", "strongest")
	if !errors.Is(err, kataweights.ErrInvalidBlockSpec) {
		t.Errorf("expected ErrInvalidBlockSpec, got %v", err)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version", "--short")
	if err != nil {
		t.Fatal(err)
	}
	if out != "1.2.3-test\n" {
		t.Errorf("got %q", out)
	}

	out, err = run(t, "--json", "version")
	if err != nil {
		t.Fatal(err)
	}
	var info BuildInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil || info.Version != "1.2.3-test" {
		t.Errorf("got %+v, %v", info, err)
	}
}

func TestConfigCmd(t *testing.T) {
	home := t.TempDir()
	exec := func(args ...string) string {
		t.Helper()
		t.Setenv("HOME", home)
		cmd := newRootCmd(context.Background(), "test")
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(args)
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		return out.String()
	}

	if got := exec("config", "path"); strings.TrimSpace(got) != filepath.Join(home, ".config", "kataweights.json") {
		t.Errorf("config path = %q", got)
	}
	if got := exec("config", "show"); !strings.Contains(got, "No config file found.") {
		t.Errorf("config show = %q", got)
	}

	exec("config", "init", "--yaml")
	want := filepath.Join(home, ".config", "kataweights.yaml")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("config init did not write %s: %v", want, err)
	}
	if got := strings.TrimSpace(exec("config", "path")); got != want {
		t.Errorf("config path after init = %q", got)
	}
	got := exec("config", "show")
	if !strings.Contains(got, "weights-dir: ./data/weights") || !strings.Contains(got, "fetcher: wget") {
		t.Errorf("config show = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", "", "warn", "error"} {
		if _, err := parseLevel(s); err != nil {
			t.Errorf("parseLevel(%q): %v", s, err)
		}
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
