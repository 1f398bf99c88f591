// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package source

import (
	"context"
	"net/http"
	"time"

	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// DefaultMaxRedirects bounds a short-link expansion chain.
const DefaultMaxRedirects = 5

// DefaultExpandTimeout bounds the whole expansion round trip.
const DefaultExpandTimeout = 10 * time.Second

// Expander follows a short link's redirect chain with HEAD requests and
// returns the final URL. Bodies are never fetched.
type Expander struct {
	client  *http.Client
	timeout time.Duration
}

// NewExpander builds an Expander. client may be nil for a default one;
// a provided client's redirect policy is replaced with the bounded one.
func NewExpander(client *http.Client, maxRedirects int, timeout time.Duration) *Expander {
	if client == nil {
		client = &http.Client{}
	}
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	if timeout <= 0 {
		timeout = DefaultExpandTimeout
	}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return snerr.Errorf(snerr.CodeSourceURLInvalid,
				"redirect chain longer than %d hops", maxRedirects)
		}
		return nil
	}
	return &Expander{client: client, timeout: timeout}
}

// Expand returns the URL the redirect chain lands on. A short link that
// does not redirect expands to itself.
func (e *Expander) Expand(ctx context.Context, shortURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, shortURL, nil)
	if err != nil {
		return "", snerr.Wrap(err, snerr.CodeSourceURLInvalid,
			"building expansion request", snerr.FieldURL(shortURL))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", snerr.Wrap(err, snerr.CodeSourceURLInvalid,
			"following short link", snerr.FieldURL(shortURL))
	}
	resp.Body.Close()

	return resp.Request.URL.String(), nil
}
