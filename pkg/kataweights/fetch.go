// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kataweights

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Fetcher downloads url to the local path dst.
type Fetcher interface {
	Fetch(ctx context.Context, url, dst string) error
}

// CommandFetcher delegates the transfer to wget.
type CommandFetcher struct {
	Exec Executor
}

// Fetch implements Fetcher.
func (f CommandFetcher) Fetch(ctx context.Context, url, dst string) error {
	res := f.Exec.Run(ctx, Invocation{
		Name:   "wget",
		Args:   []string{"--retry-on-host-error", "--retry-connrefused", "-t3", "-L", url, "-O", dst},
		Policy: Fatal,
	})
	if !res.OK() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrDownloadFailed, res.Err)
	}
	return nil
}

// progressReader wraps an io.Reader and emits progress events during reads.
type progressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	path       string
	emit       func(ProgressEvent)
	lastEmit   time.Time
	interval   time.Duration
}

func newProgressReader(r io.Reader, total int64, path string, emit func(ProgressEvent)) *progressReader {
	return &progressReader{
		reader:   r,
		total:    total,
		path:     path,
		emit:     emit,
		lastEmit: time.Now(),
		interval: 200 * time.Millisecond,
	}
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	pr.downloaded += int64(n)
	if (n > 0 && time.Since(pr.lastEmit) >= pr.interval) || err == io.EOF {
		pr.emit(ProgressEvent{
			Event:      "file_progress",
			Path:       pr.path,
			Downloaded: pr.downloaded,
			Total:      pr.total,
		})
		pr.lastEmit = time.Now()
	}
	return n, err
}

// HTTPFetcher downloads in-process, streaming into dst+".part" and renaming
// it into place once complete.
type HTTPFetcher struct {
	Client   *http.Client
	Attempts int
	Progress ProgressFunc
}

// Fetch implements Fetcher.
func (f HTTPFetcher) Fetch(ctx context.Context, url, dst string) error {
	httpc := f.Client
	if httpc == nil {
		httpc = buildHTTPClient()
	}
	attempts := f.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	emit := emitter(f.Progress)

	tmp := dst + ".part"
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = f.once(ctx, httpc, url, tmp, dst, emit)
		if lastErr == nil {
			return os.Rename(tmp, dst)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < attempts {
			emit(ProgressEvent{Level: "warn", Event: "retry", Path: dst, Attempt: attempt, Message: lastErr.Error()})
		}
	}
	_ = os.Remove(tmp)
	return fmt.Errorf("%w: %v", ErrDownloadFailed, lastErr)
}

func (f HTTPFetcher) once(ctx context.Context, httpc *http.Client, url, tmp, dst string, emit func(ProgressEvent)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, URL: url}
	}

	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer out.Close()

	emit(ProgressEvent{Event: "file_start", Path: dst, Total: resp.ContentLength})
	pr := newProgressReader(resp.Body, resp.ContentLength, dst, emit)
	if _, err := io.Copy(out, pr); err != nil {
		return err
	}
	return out.Close()
}
