// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package kataweights resolves KataGo network selectors into download URLs,
fetches the weight file and tunes the engine's GTP config.

# Selectors

Classify recognizes, in this order:

  - drive share links, or a bare "id=<file id>"
  - direct http/https URLs
  - "/regex/" patterns, matched case-insensitively against network names
  - the presets AUTO (strongest network) and NEW (newest network)
  - block shorthands: "18b", "b18", "18", "18b-new", "18b8526", "b18s8526"

A plain block count downloads the strongest network of that size, "-new"
the newest, and a sample number that exact snapshot. Block counts with a
pinned final release (6, 10, 15, 20, 30, 60) skip the listing entirely.

# Quick Start

	job := kataweights.Job{Selector: "18b", Backend: "CUDA"}
	t, err := kataweights.Run(ctx, job, kataweights.DefaultSettings(), func(e kataweights.ProgressEvent) {
		fmt.Printf("[%s] %s%s\n", e.Event, e.URL, e.Message)
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("saved to", t.Path)

# Searching

Selectors that need a search scan the JSON network listing. The page holding
the first name match is located through the full low-detail listing, then a
small window of pages from there is fetched concurrently (2 pages for
first-match searches, 5 when ranking by strength).

# Destination

Files are saved as <block>b.<ext> ("my_model.<ext>" when the block count is
unknown) in Settings.WeightsDir if it exists. Otherwise they go to
Settings.FallbackDir after the user confirms.

# Post-processing

After the download an optional config script is run, and when the GTP
config exists numSearchThreads is set from the ThreadsTable for the
detected GPU and the given backend. These steps never fail the run.
*/
package kataweights
