// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kataweights

import "time"

// Job defines which weights to fetch.
//
// Example:
//
//	job := kataweights.Job{
//	    Selector: "18b-new",
//	    Backend:  "CUDA",
//	}
type Job struct {
	// Selector is the raw weight-file argument. Empty means "AUTO".
	//
	// Examples:
	//   - "AUTO", "NEW"
	//   - "18b", "b18", "18", "18b-new", "18b8526", "b18s8526"
	//   - "/b18.*uec/" (regular expression, first match)
	//   - "https://example.org/kata1-b18c384nbt.bin.gz"
	//   - "id=1AbC..." or a drive.google.com share link
	Selector string

	// Backend is the KataGo backend name (e.g. "CUDA", "TENSORRT") used
	// to look up a recommended numSearchThreads. Optional.
	Backend string
}

// Settings configures resolution, download and post-processing.
//
// All fields have defaults; see DefaultSettings.
type Settings struct {
	// Endpoint is the base URL of the KataGo training site.
	// If empty, defaults to DefaultEndpoint.
	Endpoint string

	// WeightsDir receives the download when it exists as a directory.
	// If empty, defaults to "./data/weights".
	WeightsDir string

	// FallbackDir receives the download when WeightsDir is missing.
	// The user is asked to confirm first unless AssumeYes is set.
	// If empty, defaults to ".".
	FallbackDir string

	// GTPConfig is the engine config whose numSearchThreads may be tuned.
	GTPConfig string

	// ConfigScript and ScriptConfig must both exist for the script to run
	// as: sh <ConfigScript> <base_name> <model_path>.
	ConfigScript string
	ScriptConfig string

	// Fetcher selects the download implementation: "wget" (default) or "native".
	Fetcher string

	// Timeout bounds each HTTP request. Accepts duration strings.
	// If empty, defaults to "8s".
	Timeout string

	// Attempts is the number of tries per HTTP request.
	// If <= 0, defaults to 2.
	Attempts int

	// AssumeYes skips the interactive destination confirmation.
	AssumeYes bool
}

// DefaultEndpoint is the public KataGo training site.
const DefaultEndpoint = "https://katagotraining.org"

// DefaultSettings returns Settings with the stock paths and limits.
func DefaultSettings() Settings {
	return Settings{
		Endpoint:     DefaultEndpoint,
		WeightsDir:   "./data/weights",
		FallbackDir:  ".",
		GTPConfig:    "./data/configs/default_gtp.cfg",
		ConfigScript: "./change-config.sh",
		ScriptConfig: "./config/conf.yaml",
		Fetcher:      "wget",
		Timeout:      "8s",
		Attempts:     2,
	}
}

// withDefaults fills every empty field from DefaultSettings.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	s.Endpoint = defaultString(s.Endpoint, d.Endpoint)
	s.WeightsDir = defaultString(s.WeightsDir, d.WeightsDir)
	s.FallbackDir = defaultString(s.FallbackDir, d.FallbackDir)
	s.GTPConfig = defaultString(s.GTPConfig, d.GTPConfig)
	s.ConfigScript = defaultString(s.ConfigScript, d.ConfigScript)
	s.ScriptConfig = defaultString(s.ScriptConfig, d.ScriptConfig)
	s.Fetcher = defaultString(s.Fetcher, d.Fetcher)
	s.Timeout = defaultString(s.Timeout, d.Timeout)
	if s.Attempts <= 0 {
		s.Attempts = d.Attempts
	}
	return s
}

// ProgressEvent represents a step of the pipeline.
//
// The Event field indicates the type of event:
//   - "resolve_start": selector classified, resolution begins
//   - "retry": a request failed and is tried again
//   - "resolved": the download URL is known (URL)
//   - "model_name": the file name is known (Message)
//   - "warn": a non-fatal problem (Message)
//   - "file_start", "file_progress", "file_done": download progress
//   - "config_script": the config script ran (Message holds its status)
//   - "gpu": detected GPU name (Message), empty when unknown
//   - "threads": a numSearchThreads line from the GTP config (Message)
//   - "error": a fatal error (Message)
//   - "done": pipeline finished
type ProgressEvent struct {
	Time       time.Time `json:"time"`
	Level      string    `json:"level,omitempty"`
	Event      string    `json:"event"`
	URL        string    `json:"url,omitempty"`
	Path       string    `json:"path,omitempty"`
	Bytes      int64     `json:"bytes,omitempty"`
	Total      int64     `json:"total,omitempty"`
	Downloaded int64     `json:"downloaded,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// ProgressFunc is a callback for receiving progress events.
// It may be called from the download goroutine and should be thread-safe.
type ProgressFunc func(ProgressEvent)

// Target is the resolved download: where it comes from and where it goes.
type Target struct {
	URL       string `json:"url"`
	ModelName string `json:"modelName"`
	// Block is the detected block count; 0 when unknown.
	Block     int    `json:"block,omitempty"`
	BaseName  string `json:"baseName"`
	Extension string `json:"extension"`
	Path      string `json:"path"`
}
