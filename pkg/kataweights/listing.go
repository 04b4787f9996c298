// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kataweights

import (
	"context"
	"fmt"
	"regexp"

	"golang.org/x/sync/errgroup"
)

// The training site serves its network list 20 entries per page.
const pageSize = 20

// Scan windows, counted from the page holding the first name match.
const (
	firstMatchPages = 2
	bestMatchPages  = 5
	pageWorkers     = 5
)

// Network is one entry of the training site's network listing.
type Network struct {
	Name      string `json:"name"`
	ModelFile string `json:"model_file"`
	// LowerConfidence is the rating minus its uncertainty; networks are
	// ranked by it when looking for the strongest of a block count.
	LowerConfidence float64 `json:"log_gamma_lower_confidence"`
}

type networkPage struct {
	Count   int       `json:"count"`
	Results []Network `json:"results"`
}

// locatePage finds the 1-based page holding the first network whose name
// matches re, along with the total page count.
func (c *client) locatePage(ctx context.Context, re *regexp.Regexp) (page, total int, err error) {
	var all []Network
	if err := c.getJSON(ctx, c.apiURL("/api/networks-for-elo/?format=json"), &all); err != nil {
		return 0, 0, err
	}
	if len(all) == 0 {
		return 0, 0, fmt.Errorf("%w: listing is empty", ErrNoMatch)
	}
	total = (len(all)-1)/pageSize + 1
	for i, n := range all {
		if re.MatchString(n.Name) {
			return i/pageSize + 1, total, nil
		}
	}
	return 0, total, fmt.Errorf("%w: no weights matching %q", ErrNoMatch, re.String())
}

// fetchPages downloads the given listing pages concurrently and returns them
// in the order requested.
func (c *client) fetchPages(ctx context.Context, pages []int) ([][]Network, error) {
	out := make([][]Network, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pageWorkers)
	for i, p := range pages {
		i, p := i, p
		g.Go(func() error {
			var np networkPage
			u := c.apiURL(fmt.Sprintf("/api/networks/?format=json&page=%d", p))
			if err := c.getJSON(gctx, u, &np); err != nil {
				return err
			}
			out[i] = np.Results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// searchWindow returns the pages to scan starting at page, capped at total.
func searchWindow(page, total int, firstMatch bool) []int {
	n := bestMatchPages
	if firstMatch {
		n = firstMatchPages
	}
	if remaining := total - page + 1; remaining < n {
		n = remaining
	}
	pages := make([]int, 0, n)
	for p := page; p < page+n; p++ {
		pages = append(pages, p)
	}
	return pages
}

// pickNetwork scans networks in order. With firstMatch it returns the first
// name match; otherwise the match with the highest LowerConfidence, where
// only a strictly greater value displaces the current pick.
func pickNetwork(networks []Network, re *regexp.Regexp, firstMatch bool) (Network, bool) {
	var best Network
	found := false
	for _, n := range networks {
		if !re.MatchString(n.Name) {
			continue
		}
		if firstMatch {
			return n, true
		}
		if !found || n.LowerConfidence > best.LowerConfidence {
			best = n
			found = true
		}
	}
	return best, found
}
