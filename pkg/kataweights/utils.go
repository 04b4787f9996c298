// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kataweights

import "time"

// emitter wraps progress so callers can emit without nil checks and events
// always carry a timestamp.
func emitter(progress ProgressFunc) func(ProgressEvent) {
	return func(ev ProgressEvent) {
		if progress == nil {
			return
		}
		if ev.Time.IsZero() {
			ev.Time = time.Now().UTC()
		}
		progress(ev)
	}
}

// defaultString returns s if non-empty, otherwise def.
func defaultString(s string, def string) string {
	if s == "" {
		return def
	}
	return s
}
