// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// DefaultRapidAPIHost is the download-all-in-one API host.
const DefaultRapidAPIHost = "social-download-all-in-one.p.rapidapi.com"

// RapidAPI is the paid fallback: the resolve endpoint turns a social
// URL into direct media links, which the adapter then fetches itself.
type RapidAPI struct {
	host    string
	apiKey  string
	client  *http.Client
	baseURL string // overridable for tests
}

// NewRapidAPI creates the adapter. host may be empty for the default;
// apiKey must be the resolved secret, not a secret reference.
func NewRapidAPI(host, apiKey string, client *http.Client) (*RapidAPI, error) {
	if apiKey == "" {
		return nil, snerr.New(snerr.CodeConfigValidateInvalidValue,
			"rapidapi adapter requires an api key")
	}
	if host == "" {
		host = DefaultRapidAPIHost
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RapidAPI{
		host:    host,
		apiKey:  apiKey,
		client:  client,
		baseURL: "https://" + host,
	}, nil
}

func (r *RapidAPI) Name() string { return "rapidapi" }

type rapidMedia struct {
	URL       string `json:"url"`
	Type      string `json:"type"`
	Quality   string `json:"quality"`
	Extension string `json:"extension"`
}

type rapidResponse struct {
	Error    bool         `json:"error"`
	Message  string       `json:"message"`
	Title    string       `json:"title"`
	Duration int          `json:"duration"`
	Medias   []rapidMedia `json:"medias"`
}

func (r *RapidAPI) Attempt(ctx context.Context, url string, c Constraints) (*MediaResult, error) {
	info, err := r.resolve(ctx, url)
	if err != nil {
		return nil, err
	}

	duration := time.Duration(info.Duration) * time.Second
	if c.MaxDuration > 0 && duration > c.MaxDuration {
		return nil, snerr.Errorf(snerr.CodeProviderConstraints,
			"content runs %s, limit is %s", duration, c.MaxDuration)
	}

	media := bestVideo(info.Medias)
	if media == nil {
		return nil, &Failure{RawMessage: "malformed response: no video media in medias"}
	}

	path, size, err := r.fetch(ctx, media, c)
	if err != nil {
		return nil, err
	}

	return &MediaResult{
		Path:     path,
		Duration: duration,
		Bytes:    size,
		Title:    info.Title,
	}, nil
}

// resolve calls the autolink endpoint.
func (r *RapidAPI) resolve(ctx context.Context, url string) (*rapidResponse, error) {
	body, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return nil, snerr.Wrap(err, snerr.CodeProviderAttemptFailure, "encoding resolve request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/v1/social/autolink", bytes.NewReader(body))
	if err != nil {
		return nil, snerr.Wrap(err, snerr.CodeProviderAttemptFailure, "building resolve request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-RapidAPI-Host", r.host)
	req.Header.Set("X-RapidAPI-Key", r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &Failure{RawMessage: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Failure{RawMessage: "incomplete read: " + err.Error(), StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Failure{RawMessage: string(raw), StatusCode: resp.StatusCode}
	}

	var parsed rapidResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Failure{RawMessage: "malformed response: " + err.Error(), StatusCode: resp.StatusCode}
	}
	if parsed.Error {
		return nil, &Failure{RawMessage: parsed.Message, StatusCode: resp.StatusCode}
	}
	return &parsed, nil
}

// fetch downloads the chosen rendition into the work dir.
func (r *RapidAPI) fetch(ctx context.Context, media *rapidMedia, c Constraints) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, media.URL, nil)
	if err != nil {
		return "", 0, snerr.Wrap(err, snerr.CodeProviderAttemptFailure, "building media request")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", 0, &Failure{RawMessage: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, &Failure{RawMessage: "media fetch failed", StatusCode: resp.StatusCode}
	}
	if c.MaxSizeBytes > 0 && resp.ContentLength > c.MaxSizeBytes {
		return "", 0, snerr.Errorf(snerr.CodeProviderConstraints,
			"media is %d bytes, limit is %d", resp.ContentLength, c.MaxSizeBytes)
	}

	ext := media.Extension
	if ext == "" {
		ext = "mp4"
	}
	path := filepath.Join(c.WorkDir, uuid.NewString()+"."+ext)

	body := io.Reader(resp.Body)
	if c.MaxSizeBytes > 0 {
		// Guard against missing or lying Content-Length.
		body = io.LimitReader(resp.Body, c.MaxSizeBytes+1)
	}
	written, err := writeStream(path, body)
	if err != nil {
		return "", 0, err
	}
	if c.MaxSizeBytes > 0 && written > c.MaxSizeBytes {
		os.Remove(path)
		return "", 0, snerr.Errorf(snerr.CodeProviderConstraints,
			"media exceeded the %d byte limit mid-download", c.MaxSizeBytes)
	}
	return path, written, nil
}

var qualityRe = regexp.MustCompile(`(\d+)p`)

// bestVideo prefers the highest labeled resolution; unlabeled videos
// rank last but still beat nothing.
func bestVideo(medias []rapidMedia) *rapidMedia {
	var (
		best     *rapidMedia
		bestRank int = -1
	)
	for i := range medias {
		m := &medias[i]
		if m.Type != "video" {
			continue
		}
		rank := 0
		if match := qualityRe.FindStringSubmatch(strings.ToLower(m.Quality)); match != nil {
			rank, _ = strconv.Atoi(match[1])
		}
		if best == nil || rank > bestRank {
			best = m
			bestRank = rank
		}
	}
	return best
}

// String implements fmt.Stringer for log output without leaking the key.
func (r *RapidAPI) String() string {
	return fmt.Sprintf("rapidapi(%s)", r.host)
}
