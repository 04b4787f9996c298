// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bodaay/katago-weights/internal/tui"
	"github.com/bodaay/katago-weights/pkg/kataweights"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	JSONOut  bool
	Quiet    bool
	Verbose  bool
	Config   string
	LogFile  string
	LogLevel string
}

var (
	warnColor   = color.New(color.FgYellow, color.Bold)
	errorColor  = color.New(color.FgRed)
	promptColor = color.New(color.ReverseVideo)
)

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := newRootCmd(ctx, version)
	if err := root.ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "Interrupted by user.")
		} else {
			fmt.Fprintln(os.Stderr, errorColor.Sprint("error:"), err)
			if isUsage(err) {
				fmt.Fprintln(os.Stderr, "usage:", root.UseLine())
			}
		}
		return err
	}
	return nil
}

func newRootCmd(ctx context.Context, version string) *cobra.Command {
	ro := &RootOpts{}
	job := &kataweights.Job{}
	cfg := &kataweights.Settings{}
	var dryRun bool

	root := &cobra.Command{
		Use:   "kataweights [SELECTOR [BACKEND]]",
		Short: "Resolve and download KataGo network weights",
		Long: `Resolve a weight selector to a KataGo network and download it.

SELECTOR is one of:
  AUTO, NEW               strongest or newest network (default AUTO)
  18b, b18, 18, 18-new    block count, optionally the newest such network
  18b8526, b18s8526       block count and sample count
  /REGEX/                 first network whose name matches
  https://...             direct download URL
  id=FILEID, drive link   Google Drive file

BACKEND (e.g. CUDA, TENSORRT) tunes numSearchThreads in the GTP config.`,
		Args:          usageArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applySettingsDefaults(cmd, ro, cfg, job)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			finalJob, finalCfg := finalize(args, job, cfg)
			out := cmd.OutOrStdout()

			logger, closeLog, err := newLogger(ro, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			var display kataweights.ProgressFunc
			var ui *tui.LiveRenderer
			switch {
			case ro.JSONOut:
				display = jsonProgress(out)
			default:
				display = cliProgress(ro, out, cmd.ErrOrStderr())
				if !ro.Quiet && !dryRun && strings.EqualFold(finalCfg.Fetcher, "native") {
					if lr := tui.NewLiveRenderer(out, display); lr.Supported() {
						ui = lr
						display = lr.Handler()
					}
				}
			}
			if ui != nil {
				defer ui.Close()
			}
			progress := chainProgress(logProgress(logger), display)

			p := &kataweights.Pipeline{
				Settings: finalCfg,
				Progress: progress,
				Confirm:  reverseConfirm(kataweights.LineConfirm(cmd.InOrStdin(), out)),
			}

			if dryRun {
				t, err := p.Resolve(ctx, finalJob)
				if err != nil {
					return err
				}
				if ro.JSONOut {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(t)
				}
				fmt.Fprintf(out, "destination: %s\n", t.Path)
				return nil
			}

			_, err = p.Run(ctx, finalJob)
			return err
		},
	}

	// Global flags
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (warnings and result only)")
	root.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose logs (debug details on stderr)")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&ro.LogFile, "log-file", "", "Write logs to file")
	root.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")

	// Settings flags
	d := kataweights.DefaultSettings()
	root.Flags().StringVar(&cfg.Endpoint, "endpoint", d.Endpoint, "KataGo training site base URL")
	root.Flags().StringVarP(&cfg.WeightsDir, "weights-dir", "o", d.WeightsDir, "Directory that receives the weights")
	root.Flags().StringVar(&cfg.FallbackDir, "fallback-dir", d.FallbackDir, "Directory used when --weights-dir is missing")
	root.Flags().StringVar(&cfg.GTPConfig, "gtp-config", d.GTPConfig, "GTP config whose numSearchThreads is tuned")
	root.Flags().StringVar(&cfg.ConfigScript, "config-script", d.ConfigScript, "Script run after download with <base_name> <model_path>")
	root.Flags().StringVar(&cfg.ScriptConfig, "script-config", d.ScriptConfig, "Config file that must exist for --config-script to run")
	root.Flags().StringVar(&cfg.Fetcher, "fetcher", d.Fetcher, "Download implementation: wget|native")
	root.Flags().StringVar(&cfg.Timeout, "timeout", d.Timeout, "Timeout per HTTP request")
	root.Flags().IntVar(&cfg.Attempts, "attempts", d.Attempts, "Attempts per HTTP request")
	root.Flags().BoolVarP(&cfg.AssumeYes, "yes", "y", false, "Do not ask before downloading outside --weights-dir")

	// CLI-only flags
	root.Flags().BoolVar(&dryRun, "dry-run", false, "Resolve and print the target without downloading")

	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newConfigCmd())
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	return root
}

func usageArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 2 {
		return fmt.Errorf("%w: expected [SELECTOR [BACKEND]], got %d arguments", kataweights.ErrUsage, len(args))
	}
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func finalize(args []string, job *kataweights.Job, cfg *kataweights.Settings) (kataweights.Job, kataweights.Settings) {
	j := *job
	c := *cfg

	if len(args) > 0 {
		j.Selector = args[0]
	}
	if len(args) > 1 {
		j.Backend = args[1]
	}
	if strings.TrimSpace(j.Selector) == "" {
		j.Selector = string(kataweights.PresetAuto)
	}
	return j, c
}

// findConfig returns the first existing default config file, or "".
func findConfig() string {
	home, _ := os.UserHomeDir()
	for _, name := range []string{"kataweights.json", "kataweights.yaml", "kataweights.yml"} {
		p := filepath.Join(home, ".config", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func loadConfig(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML config file: %w", err)
		}
	default: // .json or unknown
		if err := json.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON config file: %w", err)
		}
	}
	return cfg, nil
}

func applySettingsDefaults(cmd *cobra.Command, ro *RootOpts, dst *kataweights.Settings, job *kataweights.Job) error {
	path := ro.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	setStr := func(flagName string, set func(string)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			set(fmt.Sprint(v))
		}
	}
	setInt := func(flagName string, set func(int)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			var x int
			fmt.Sscan(fmt.Sprint(v), &x)
			set(x)
		}
	}

	setStr("endpoint", func(v string) { dst.Endpoint = v })
	setStr("weights-dir", func(v string) { dst.WeightsDir = v })
	setStr("fallback-dir", func(v string) { dst.FallbackDir = v })
	setStr("gtp-config", func(v string) { dst.GTPConfig = v })
	setStr("config-script", func(v string) { dst.ConfigScript = v })
	setStr("script-config", func(v string) { dst.ScriptConfig = v })
	setStr("fetcher", func(v string) { dst.Fetcher = v })
	setStr("timeout", func(v string) { dst.Timeout = v })
	setInt("attempts", func(v int) { dst.Attempts = v })

	// positional BACKEND wins over the config key
	if v, ok := cfg["backend"]; ok && v != nil {
		job.Backend = fmt.Sprint(v)
	}

	return nil
}

// cliProgress returns a plain-text progress handler.
func cliProgress(ro *RootOpts, out, errOut io.Writer) kataweights.ProgressFunc {
	var mu sync.Mutex
	return func(ev kataweights.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Event {
		case "warn":
			fmt.Fprintf(errOut, "%s %s\n", warnColor.Sprint("WARN:"), ev.Message)
		case "error":
			fmt.Fprintf(errOut, "%s %s\n", errorColor.Sprint("error:"), ev.Message)
		case "done":
			fmt.Fprintf(out, "saved: %s\n", ev.Path)
		}
		if ro.Quiet {
			return
		}
		switch ev.Event {
		case "resolved":
			fmt.Fprintf(out, "model_url: %s\n", ev.URL)
		case "model_name":
			fmt.Fprintf(out, "model_name: %s\n", ev.Message)
		case "retry":
			fmt.Fprintf(out, "retry %s (attempt %d): %s\n", defaultStr(ev.URL, ev.Path), ev.Attempt, ev.Message)
		case "file_start":
			fmt.Fprintf(out, "downloading: %s (%d bytes)\n", ev.Path, ev.Total)
		case "config_script":
			fmt.Fprintf(out, "config script: %s\n", ev.Message)
		case "threads":
			fmt.Fprintln(out, ev.Message)
		}
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) kataweights.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev kataweights.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}

func chainProgress(fns ...kataweights.ProgressFunc) kataweights.ProgressFunc {
	return func(ev kataweights.ProgressEvent) {
		for _, fn := range fns {
			if fn != nil {
				fn(ev)
			}
		}
	}
}

// reverseConfirm shows the prompt in reverse video.
func reverseConfirm(base kataweights.ConfirmFunc) kataweights.ConfirmFunc {
	return func(prompt string) (bool, error) {
		return base(promptColor.Sprint(prompt))
	}
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// isUsage reports whether err should be followed by the usage text.
func isUsage(err error) bool {
	return errors.Is(err, kataweights.ErrUsage)
}
