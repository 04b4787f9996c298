// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kataweights

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// driveDownloadURL is the direct-download endpoint for shared drive files.
const driveDownloadURL = "https://drive.usercontent.google.com/download"

const mediaBase = "https://media.katagotraining.org/uploaded/networks/models/kata1/"

// legacyNetworks maps commonly requested block counts to their final
// published networks so a plain "20b" needs no listing scan.
var legacyNetworks = map[int]string{
	60: mediaBase + "kata1-b60c320-s9356080896-d3824355768.bin.gz",
	30: "https://github.com/lightvector/KataGo/releases/download/v1.4.5/g170-b30c320x2-s4824661760-d1229536699.bin.gz",
	20: mediaBase + "kata1-b20c256x2-s5303129600-d1228401921.bin.gz",
	15: mediaBase + "kata1-b15c192-s1672170752-d466197061.txt.gz",
	10: mediaBase + "kata1-b10c128-s1141046784-d204142634.txt.gz",
	6:  mediaBase + "kata1-b6c96-s175395328-d26788732.txt.gz",
}

// LegacyURL returns the pinned download for a plain block count, if any.
func LegacyURL(block int) (string, bool) {
	u, ok := legacyNetworks[block]
	return u, ok
}

// Resolver turns a classified selector into a download URL and names the
// file it points at.
type Resolver struct {
	c *client
}

// NewResolver creates a Resolver talking to cfg.Endpoint. A nil httpc uses a
// default client; progress may be nil.
func NewResolver(httpc *http.Client, cfg Settings, progress ProgressFunc) (*Resolver, error) {
	cfg = cfg.withDefaults()
	c, err := newClient(httpc, cfg, emitter(progress))
	if err != nil {
		return nil, err
	}
	return &Resolver{c: c}, nil
}

// ResolveURL produces the model URL for sel.
func (r *Resolver) ResolveURL(ctx context.Context, sel Selector) (string, error) {
	switch sel.Kind {
	case KindDrive:
		return driveDownloadURL + "?id=" + url.QueryEscape(sel.FileID) + "&confirm=t", nil
	case KindURL:
		return sel.URL, nil
	case KindPreset:
		return r.preset(ctx, sel.Preset)
	case KindShorthand:
		if sel.Sample == "" && !sel.New {
			if u, ok := LegacyURL(sel.Block); ok {
				return u, nil
			}
		}
	}
	return r.search(ctx, sel)
}

func (r *Resolver) preset(ctx context.Context, p Preset) (string, error) {
	path := "/api/networks/get_strongest/?format=json"
	if p == PresetNew {
		path = "/api/networks/newest_training/?format=json"
	}
	var n Network
	if err := r.c.getJSON(ctx, r.c.apiURL(path), &n); err != nil {
		return "", err
	}
	if strings.TrimSpace(n.ModelFile) == "" {
		return "", fmt.Errorf("%w: %s network has no model file", ErrNoMatch, strings.ToLower(string(p)))
	}
	return n.ModelFile, nil
}

// search scans the listing window that starts at the first name match.
func (r *Resolver) search(ctx context.Context, sel Selector) (string, error) {
	pattern := sel.SearchPattern()
	re, err := compileFold(pattern)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSelector, err)
	}
	firstMatch := sel.FirstMatch()

	page, total, err := r.c.locatePage(ctx, re)
	if err != nil {
		return "", err
	}
	pages, err := r.c.fetchPages(ctx, searchWindow(page, total, firstMatch))
	if err != nil {
		return "", err
	}

	var window []Network
	for _, p := range pages {
		window = append(window, p...)
	}
	n, ok := pickNetwork(window, re, firstMatch)
	if !ok || n.ModelFile == "" {
		return "", fmt.Errorf("%w: no URLs for weights matching %q", ErrNoMatch, pattern)
	}
	return n.ModelFile, nil
}
