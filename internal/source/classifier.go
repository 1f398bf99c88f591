// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

// Package source maps incoming URLs to routing categories. A category
// is an opaque stable string combining a platform and a content-shape
// bucket ("youtube_full", "instagram_reel"). The bucketing taxonomy
// lives in configuration so platforms and buckets can evolve without an
// engine change.
package source

import (
	"context"
	"net/url"
	"strings"
	"time"

	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// Hints carry caller-known metadata that bucket rules may use before
// any provider is contacted.
type Hints struct {
	// Duration of the content, when the caller knows it. Zero means
	// unknown; duration rules don't match on unknown.
	Duration time.Duration
}

// BucketRule maps URL shape or duration to a category. Rules are
// evaluated in order; the first match wins. A rule matches when any
// path marker is contained in the URL path, or when a duration ceiling
// is set and the hinted duration fits under it.
type BucketRule struct {
	Category     string        `mapstructure:"category"`
	PathContains []string      `mapstructure:"path_contains"`
	MaxDuration  time.Duration `mapstructure:"max_duration"`
}

// Platform describes one supported content platform.
type Platform struct {
	Name string `mapstructure:"name"`

	// Hosts matched by suffix against the URL hostname.
	Hosts []string `mapstructure:"hosts"`

	// ShortHosts are redirector domains whose targets must be expanded
	// before bucketing.
	ShortHosts []string `mapstructure:"short_hosts"`

	Buckets []BucketRule `mapstructure:"buckets"`

	// DefaultCategory applies when no bucket rule matches.
	DefaultCategory string `mapstructure:"default_category"`
}

// Classifier resolves URLs to categories.
type Classifier struct {
	platforms []Platform
	expander  *Expander
}

// NewClassifier builds a classifier over the configured platforms.
// expander may be nil to disable short-link expansion.
func NewClassifier(platforms []Platform, expander *Expander) (*Classifier, error) {
	if len(platforms) == 0 {
		return nil, snerr.New(snerr.CodeConfigValidateInvalidValue,
			"classifier requires at least one platform")
	}
	for _, p := range platforms {
		if p.Name == "" || len(p.Hosts) == 0 || p.DefaultCategory == "" {
			return nil, snerr.Errorf(snerr.CodeConfigValidateInvalidValue,
				"platform %q needs a name, hosts, and a default category", p.Name)
		}
	}
	return &Classifier{platforms: platforms, expander: expander}, nil
}

// Classify maps a URL to its routing category. Unknown platforms
// return a coded unsupported-URL error the bot turns into an
// "unsupported link" reply.
func (c *Classifier) Classify(ctx context.Context, rawURL string, hints Hints) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", snerr.New(snerr.CodeSourceURLInvalid,
			"not a usable http(s) url", snerr.FieldURL(rawURL))
	}

	if p := c.shortHostPlatform(u.Hostname()); p != nil && c.expander != nil {
		expanded, err := c.expander.Expand(ctx, u.String())
		if err != nil {
			return "", snerr.Wrap(err, snerr.CodeSourceURLInvalid,
				"expanding short link", snerr.FieldURL(rawURL))
		}
		u, err = url.Parse(expanded)
		if err != nil || u.Host == "" {
			return "", snerr.New(snerr.CodeSourceURLInvalid,
				"short link expanded to an unusable url", snerr.FieldURL(expanded))
		}
	}

	platform := c.hostPlatform(u.Hostname())
	if platform == nil {
		return "", snerr.New(snerr.CodeSourceURLUnsupported,
			"unsupported platform", snerr.FieldURL(u.String()))
	}

	path := strings.ToLower(u.Path)
	for _, rule := range platform.Buckets {
		for _, marker := range rule.PathContains {
			if strings.Contains(path, marker) {
				return rule.Category, nil
			}
		}
		if rule.MaxDuration > 0 && hints.Duration > 0 && hints.Duration <= rule.MaxDuration {
			return rule.Category, nil
		}
	}
	return platform.DefaultCategory, nil
}

func (c *Classifier) hostPlatform(host string) *Platform {
	host = strings.ToLower(host)
	for i := range c.platforms {
		if matchHost(host, c.platforms[i].Hosts) || matchHost(host, c.platforms[i].ShortHosts) {
			return &c.platforms[i]
		}
	}
	return nil
}

func matchHost(host string, candidates []string) bool {
	for _, h := range candidates {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (c *Classifier) shortHostPlatform(host string) *Platform {
	host = strings.ToLower(host)
	for i := range c.platforms {
		if matchHost(host, c.platforms[i].ShortHosts) {
			return &c.platforms[i]
		}
	}
	return nil
}

// shortsDurationCeiling is the duration under which a YouTube video is
// bucketed as a short.
const shortsDurationCeiling = 300 * time.Second

// DefaultPlatforms is the compiled-in taxonomy, overridable from
// configuration.
func DefaultPlatforms() []Platform {
	return []Platform{
		{
			Name:  "youtube",
			Hosts: []string{"youtube.com", "youtu.be", "m.youtube.com"},
			Buckets: []BucketRule{
				{Category: "youtube_shorts", PathContains: []string{"/shorts/"}},
				{Category: "youtube_shorts", MaxDuration: shortsDurationCeiling},
			},
			DefaultCategory: "youtube_full",
		},
		{
			Name:       "instagram",
			Hosts:      []string{"instagram.com"},
			ShortHosts: []string{"instagr.am"},
			Buckets: []BucketRule{
				{Category: "instagram_reel", PathContains: []string{"/reel/", "/reels/"}},
				{Category: "instagram_story", PathContains: []string{"/stories/"}},
				{Category: "instagram_post", PathContains: []string{"/p/"}},
			},
			DefaultCategory: "instagram_post",
		},
		{
			Name:            "tiktok",
			Hosts:           []string{"tiktok.com"},
			ShortHosts:      []string{"vm.tiktok.com", "vt.tiktok.com"},
			DefaultCategory: "tiktok_video",
		},
		{
			Name:            "pinterest",
			Hosts:           []string{"pinterest.com"},
			ShortHosts:      []string{"pin.it"},
			DefaultCategory: "pinterest_pin",
		},
	}
}
