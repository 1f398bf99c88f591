// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saveninja/saveninja/internal/provider"
	"github.com/saveninja/saveninja/internal/store"
)

// fakeProvider scripts attempt outcomes and records the call order.
type fakeProvider struct {
	name    string
	attempt func(ctx context.Context, url string, c provider.Constraints) (*provider.MediaResult, error)

	mu    sync.Mutex
	calls []string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Attempt(ctx context.Context, url string, c provider.Constraints) (*provider.MediaResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	return f.attempt(ctx, url, c)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func succeeding(name string) *fakeProvider {
	return &fakeProvider{name: name, attempt: func(context.Context, string, provider.Constraints) (*provider.MediaResult, error) {
		return &provider.MediaResult{Path: "/tmp/" + name + ".mp4", Bytes: 1024}, nil
	}}
}

func failing(name, rawMessage string) *fakeProvider {
	return &fakeProvider{name: name, attempt: func(context.Context, string, provider.Constraints) (*provider.MediaResult, error) {
		return nil, &provider.Failure{RawMessage: rawMessage}
	}}
}

// testClock is a mutable time source shared by orchestrator and stores.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const testCategory = "youtube_full"

// newTestEngine builds a registry from the given providers, a shared
// default chain over all of them, memory stores, and an orchestrator on
// a controllable clock.
func newTestEngine(t *testing.T, clock *testClock, opts Options, providers ...*fakeProvider) (*Orchestrator, *store.Stores) {
	t.Helper()

	reg := NewRegistry()
	chain := make([]string, 0, len(providers))
	for _, p := range providers {
		require.NoError(t, reg.Register(&Descriptor{
			Name:          p.name,
			Categories:    []string{testCategory},
			MaxConcurrent: 4,
			Timeout:       30 * time.Second,
		}, p))
		chain = append(chain, p.name)
	}
	require.NoError(t, reg.SetDefaultChain(testCategory, chain))

	stores := store.NewMemoryStores(time.Hour)
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	o := NewOrchestrator(reg, stores, opts)
	o.SetNowFunc(clock.Now)
	if mh, ok := stores.Health.(interface{ SetNowFunc(func() time.Time) }); ok {
		mh.SetNowFunc(clock.Now)
	}
	return o, stores
}
