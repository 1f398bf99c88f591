// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package provider

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kkdai/youtube/v2"

	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// YouTube is a library-client adapter for YouTube links. Lighter than
// the generic scraper: no subprocess, no merge step, mp4-only.
type YouTube struct {
	client youtube.Client
}

// NewYouTube creates the adapter.
func NewYouTube() *YouTube {
	return &YouTube{}
}

func (y *YouTube) Name() string { return "youtube" }

func (y *YouTube) Attempt(ctx context.Context, url string, c Constraints) (*MediaResult, error) {
	video, err := y.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, &Failure{RawMessage: err.Error()}
	}

	if c.MaxDuration > 0 && video.Duration > c.MaxDuration {
		return nil, snerr.Errorf(snerr.CodeProviderConstraints,
			"content runs %s, limit is %s", video.Duration, c.MaxDuration)
	}

	format, err := pickFormat(video, c)
	if err != nil {
		return nil, err
	}

	stream, size, err := y.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, &Failure{RawMessage: err.Error()}
	}
	defer stream.Close()

	if c.MaxSizeBytes > 0 && size > c.MaxSizeBytes {
		return nil, snerr.Errorf(snerr.CodeProviderConstraints,
			"stream is %d bytes, limit is %d", size, c.MaxSizeBytes)
	}

	path := filepath.Join(c.WorkDir, video.ID+".mp4")
	written, err := writeStream(path, stream)
	if err != nil {
		return nil, err
	}

	return &MediaResult{
		Path:     path,
		Width:    format.Width,
		Height:   format.Height,
		Duration: video.Duration,
		Bytes:    written,
		Title:    video.Title,
	}, nil
}

// pickFormat picks the best progressive mp4 with audio that fits the
// size constraint. Adaptive formats would need a merge step this
// adapter deliberately avoids.
func pickFormat(video *youtube.Video, c Constraints) (*youtube.Format, error) {
	candidates := video.Formats.WithAudioChannels()

	var best *youtube.Format
	for i := range candidates {
		f := &candidates[i]
		if !strings.Contains(f.MimeType, "mp4") {
			continue
		}
		if c.MaxSizeBytes > 0 && f.ContentLength > c.MaxSizeBytes {
			continue
		}
		if best == nil || f.Width > best.Width {
			best = f
		}
	}
	if best == nil {
		return nil, &Failure{RawMessage: "no mp4 format with audio fits the constraints"}
	}
	return best, nil
}

func writeStream(path string, stream io.Reader) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, snerr.Wrap(err, snerr.CodeProviderAttemptFailure, "creating output file")
	}

	written, err := io.Copy(out, stream)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return 0, &Failure{RawMessage: err.Error()}
	}
	return written, nil
}
