// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kataweights

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind discriminates the selector variants.
type Kind int

const (
	KindURL Kind = iota
	KindDrive
	KindRegex
	KindPreset
	KindShorthand
)

func (k Kind) String() string {
	switch k {
	case KindURL:
		return "url"
	case KindDrive:
		return "drive"
	case KindRegex:
		return "regex"
	case KindPreset:
		return "preset"
	case KindShorthand:
		return "shorthand"
	default:
		return "unknown"
	}
}

// Preset names a single-call shortcut.
type Preset string

const (
	PresetAuto Preset = "AUTO"
	PresetNew  Preset = "NEW"
)

// Selector is the classified form of the user's weight-file argument.
//
// Only the fields belonging to Kind are set:
//   - KindURL:       URL
//   - KindDrive:     FileID
//   - KindRegex:     Pattern
//   - KindPreset:    Preset
//   - KindShorthand: Block, Sample, New
type Selector struct {
	Raw  string `json:"raw"`
	Kind Kind   `json:"kind"`

	URL     string `json:"url,omitempty"`
	FileID  string `json:"fileId,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Preset  Preset `json:"preset,omitempty"`

	// Block is the residual block count; 0 means not given.
	Block int `json:"block,omitempty"`
	// Sample is the training-sample counter, kept as digits.
	Sample string `json:"sample,omitempty"`
	// New asks for the newest network of the given block count.
	New bool `json:"new,omitempty"`
}

var (
	reDriveHost  = regexp.MustCompile(`(?i)drive\.google\.com|^id=`)
	reDriveIDs   = []*regexp.Regexp{regexp.MustCompile(`(?i)id=([^&/?]*)`), regexp.MustCompile(`(?i)/file.*/d/([^&/?]*)`)}
	reHTTP       = regexp.MustCompile(`(?i)^http`)
	reRegexArg   = regexp.MustCompile(`^/(.+)/$`)
	reBlockForms = []*regexp.Regexp{
		regexp.MustCompile(`(?i)([0-9]+)b`),
		regexp.MustCompile(`(?i)b([0-9]+)`),
		regexp.MustCompile(`(?i)^([0-9]{1,2})(-new|s[0-9]+)?$`),
	}
	reSample = regexp.MustCompile(`([0-9]{3,})`)
	reNewTag = regexp.MustCompile(`(?i)-new`)
)

// Classify determines the selector variant of raw. The checks run in a fixed
// order and the first one that applies wins.
func Classify(raw string) (Selector, error) {
	sel := Selector{Raw: raw}

	switch {
	case reDriveHost.MatchString(raw):
		sel.Kind = KindDrive
		for _, re := range reDriveIDs {
			if id := group1(re, raw); id != "" {
				sel.FileID = id
				return sel, nil
			}
		}
		return sel, fmt.Errorf("%w: no file ID found in %q", ErrInvalidSelector, raw)

	case reHTTP.MatchString(raw):
		sel.Kind = KindURL
		sel.URL = raw
		return sel, nil

	case reRegexArg.MatchString(raw):
		sel.Kind = KindRegex
		sel.Pattern = reRegexArg.FindStringSubmatch(raw)[1]
		if _, err := compileFold(sel.Pattern); err != nil {
			return sel, fmt.Errorf("%w: %v", ErrInvalidSelector, err)
		}
		return sel, nil
	}

	if p := Preset(strings.ToUpper(raw)); p == PresetAuto || p == PresetNew {
		sel.Kind = KindPreset
		sel.Preset = p
		return sel, nil
	}

	sel.Kind = KindShorthand
	var block string
	for _, re := range reBlockForms {
		if block = group1(re, raw); block != "" {
			break
		}
	}
	if block == "" {
		return sel, fmt.Errorf("%w: %q", ErrInvalidBlockSpec, raw)
	}
	n, err := strconv.Atoi(block)
	if err != nil || n <= 0 {
		return sel, fmt.Errorf("%w: %q", ErrInvalidBlockSpec, raw)
	}
	sel.Block = n
	sel.Sample = group1(reSample, raw)
	sel.New = reNewTag.MatchString(raw)
	return sel, nil
}

// FirstMatch reports whether a search for this selector stops at the first
// matching network instead of ranking the whole window.
func (s Selector) FirstMatch() bool {
	return s.Kind == KindRegex || s.New || s.Sample != ""
}

// SearchPattern is the case-insensitive name pattern used to scan listings.
func (s Selector) SearchPattern() string {
	switch {
	case s.Kind == KindRegex:
		return s.Pattern
	case s.Sample != "":
		return fmt.Sprintf("-b%dc.*s%s", s.Block, s.Sample)
	default:
		return fmt.Sprintf("-b%dc", s.Block)
	}
}

func group1(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func compileFold(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}
