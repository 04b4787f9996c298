// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package kataweights

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the library.
var (
	// ErrUsage is returned when the command line has the wrong shape.
	ErrUsage = errors.New("too many arguments")

	// ErrInvalidSelector is returned when a share link carries no file ID
	// or a /regex/ selector does not compile.
	ErrInvalidSelector = errors.New("invalid selector")

	// ErrInvalidBlockSpec is returned when no block count can be read from a basic selector.
	ErrInvalidBlockSpec = errors.New("block number matching failed")

	// ErrNetwork is returned when a request failed on every attempt.
	ErrNetwork = errors.New("network error")

	// ErrNoMatch is returned when no network in the searched window matches.
	ErrNoMatch = errors.New("no matching weights found")

	// ErrExtensionUnrecognized is reported (never returned) when the
	// file name has no known weight extension and "gz" is substituted.
	ErrExtensionUnrecognized = errors.New("invalid extension")

	// ErrDownloadFailed is returned when the fetch step fails.
	ErrDownloadFailed = errors.New("an error occurred during the download process")

	// ErrDeclined is returned when the user does not confirm the local destination.
	ErrDeclined = errors.New("download declined")
)

// APIError represents a non-2xx response from the training site.
type APIError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d (%s) for %s", e.StatusCode, strings.TrimSpace(e.Status), e.URL)
}

// Is implements errors.Is for common error comparisons.
func (e *APIError) Is(target error) bool {
	return target == ErrNetwork
}

// NetworkError wraps the last failure of a request that ran out of attempts.
type NetworkError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("GET %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// CommandError is returned when an external command exits nonzero or cannot start.
type CommandError struct {
	Name     string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("%s exited with status %d", e.Name, e.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
