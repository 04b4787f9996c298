// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kataweights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Some mirrors refuse non-browser agents.
const userAgent = "Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// buildHTTPClient creates an HTTP client with sensible defaults.
func buildHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

// client performs the small GET requests the resolver needs.
// Every request gets its own timeout and a fixed number of attempts.
type client struct {
	httpc    *http.Client
	endpoint string
	timeout  time.Duration
	attempts int
	emit     func(ProgressEvent)
}

func newClient(httpc *http.Client, cfg Settings, emit func(ProgressEvent)) (*client, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout %q: %w", cfg.Timeout, err)
	}
	if httpc == nil {
		httpc = buildHTTPClient()
	}
	if emit == nil {
		emit = func(ProgressEvent) {}
	}
	return &client{
		httpc:    httpc,
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		timeout:  timeout,
		attempts: cfg.Attempts,
		emit:     emit,
	}, nil
}

// apiURL joins path onto the configured endpoint.
func (c *client) apiURL(path string) string {
	return c.endpoint + path
}

// getJSON fetches urlStr and decodes the body into v.
func (c *client) getJSON(ctx context.Context, urlStr string, v any) error {
	return c.do(ctx, urlStr, func(resp *http.Response) error {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("decode %s: %w", urlStr, err)
		}
		return nil
	})
}

// headers fetches only the response headers of urlStr. A GET is used rather
// than HEAD because file hosts often answer HEAD without the disposition, and
// the body is closed unread.
func (c *client) headers(ctx context.Context, urlStr string) (http.Header, error) {
	var h http.Header
	err := c.do(ctx, urlStr, func(resp *http.Response) error {
		h = resp.Header.Clone()
		return nil
	})
	return h, err
}

func (c *client) do(ctx context.Context, urlStr string, handle func(*http.Response) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		lastErr = c.once(ctx, urlStr, handle)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < c.attempts {
			c.emit(ProgressEvent{Level: "warn", Event: "retry", URL: urlStr, Attempt: attempt, Message: lastErr.Error()})
		}
	}
	return &NetworkError{URL: urlStr, Attempts: c.attempts, Err: lastErr}
}

func (c *client) once(ctx context.Context, urlStr string, handle func(*http.Response) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, URL: urlStr}
	}
	if err := handle(resp); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("timeout reading %s: %w", urlStr, err)
		}
		return err
	}
	return nil
}
