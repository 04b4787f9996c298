// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bodaay/katago-weights/pkg/kataweights"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() map[string]any {
	d := kataweights.DefaultSettings()
	return map[string]any{
		"endpoint":      d.Endpoint,
		"weights-dir":   d.WeightsDir,
		"fallback-dir":  d.FallbackDir,
		"gtp-config":    d.GTPConfig,
		"config-script": d.ConfigScript,
		"script-config": d.ScriptConfig,
		"fetcher":       d.Fetcher,
		"timeout":       d.Timeout,
		"attempts":      d.Attempts,
		"backend":       "",
	}
}

// defaultConfigPath is where "config init" writes when no file exists yet.
func defaultConfigPath(ext string) string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "kataweights"+ext)
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		useYAML bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Creates a default configuration file at ~/.config/kataweights.json (or .yaml)

The configuration file sets default values for the download flags and the
BACKEND argument. CLI flags and arguments always override config file values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ext := ".json"
			if useYAML {
				ext = ".yaml"
			}
			configPath := defaultConfigPath(ext)

			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
			}
			if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
				return fmt.Errorf("could not create config directory: %w", err)
			}

			cfg := DefaultConfig()
			var (
				data []byte
				err  error
			)
			if useYAML {
				data, err = yaml.Marshal(cfg)
			} else {
				data, err = json.MarshalIndent(cfg, "", "  ")
			}
			if err != nil {
				return err
			}

			if err := os.WriteFile(configPath, data, 0o644); err != nil {
				return fmt.Errorf("could not write config file: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Created config file: %s\n", configPath)
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Edit this file to set your defaults. For example:")
			fmt.Fprintln(out, "  - Point weights-dir at your KataGo data directory")
			fmt.Fprintln(out, "  - Set backend to CUDA or TENSORRT")
			fmt.Fprintln(out, "  - Switch fetcher to native when wget is not installed")

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")
	cmd.Flags().BoolVar(&useYAML, "yaml", false, "Create YAML config instead of JSON")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			configPath := findConfig()
			if configPath == "" {
				fmt.Fprintln(out, "No config file found.")
				fmt.Fprintf(out, "Run 'kataweights config init' to create one at:\n  %s\n", defaultConfigPath(".json"))
				return nil
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			merged := DefaultConfig()
			for k, v := range cfg {
				merged[k] = v
			}
			data, err := yaml.Marshal(merged)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Config file: %s\n\n", configPath)
			fmt.Fprint(out, string(data))

			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			p := findConfig()
			if p == "" {
				p = defaultConfigPath(".json")
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
		},
	}
}
