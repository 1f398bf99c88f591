// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package store

import (
	"sync"
	"time"

	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// Options carries backend-independent store construction parameters.
type Options struct {
	// DataPath is the directory holding backend files (sqlite databases).
	DataPath string
	// RollingWindow is the trailing window over which health counters
	// are maintained. Zero means the one-hour default.
	RollingWindow time.Duration
}

// DefaultRollingWindow is the trailing window for health counters when
// the configuration does not set one.
const DefaultRollingWindow = time.Hour

// Factory creates all stores for a named backend.
type Factory func(opts Options) (*Stores, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named storage backend.
// Backend packages call this from init(). Goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// New creates the stores for the configured backend, defaulting to
// "sqlite" when the backend name is empty.
func New(backend string, opts Options) (*Stores, error) {
	if backend == "" {
		backend = "sqlite"
	}
	if opts.RollingWindow <= 0 {
		opts.RollingWindow = DefaultRollingWindow
	}

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, snerr.Errorf(snerr.CodeStoreBackendUnsupported,
			"unsupported storage backend: %q", backend)
	}

	return factory(opts)
}

func init() {
	// The in-memory backend lives in this package; it has no external
	// resources and is always available.
	RegisterBackend("memory", func(opts Options) (*Stores, error) {
		return NewMemoryStores(opts.RollingWindow), nil
	})
}
