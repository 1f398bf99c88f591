// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package provider

import (
	"context"
	"errors"
	"time"
)

// Provider fetches media for a URL. Implementations are thin adapters
// over an external fetcher (a binary, a library client, or a paid HTTP
// API) and must honor ctx cancellation and the given constraints.
type Provider interface {
	Name() string
	Attempt(ctx context.Context, url string, c Constraints) (*MediaResult, error)
}

// Constraints bound what an attempt may fetch. Zero values mean
// unlimited.
type Constraints struct {
	MaxDuration  time.Duration
	MaxSizeBytes int64

	// WorkDir is where the adapter writes the downloaded file. The
	// caller owns cleanup.
	WorkDir string
}

// MediaResult describes a successfully downloaded file on local disk.
type MediaResult struct {
	Path     string
	Width    int
	Height   int
	Duration time.Duration
	Bytes    int64
	Title    string
}

// Failure carries the raw upstream error surface of a failed attempt.
// RawMessage is fetcher output (stderr, response body fragment) and is
// for classification and operator logs only, never for end users.
type Failure struct {
	RawMessage string
	StatusCode int
}

func (f *Failure) Error() string {
	return f.RawMessage
}

// AsFailure unwraps a Failure from an attempt error, if one is present.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
