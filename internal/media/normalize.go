// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

// Package media normalizes downloaded video files before delivery.
// Platforms hand out H.264/HEVC with broken sample-aspect-ratio
// metadata and moov atoms at the end of the file, both of which break
// inline playback on mobile clients. The normalizer probes with
// ffprobe and rewrites with ffmpeg when needed.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// Default binary names used when the configuration does not override
// them.
const (
	DefaultFfprobeBin = "ffprobe"
	DefaultFfmpegBin  = "ffmpeg"
)

// Result describes a file that is ready to deliver. When Normalized is
// false the path is the untouched input file; a rewrite was either not
// needed or failed, and the raw file is still playable.
type Result struct {
	Path       string
	Width      int
	Height     int
	Duration   time.Duration
	Bytes      int64
	Normalized bool
}

// Normalizer is an exec-based black box around ffprobe and ffmpeg.
type Normalizer struct {
	ffprobeBin string
	ffmpegBin  string

	// runCommand is swappable for tests.
	runCommand func(ctx context.Context, bin string, args ...string) (stdout, stderr []byte, err error)
}

// NewNormalizer creates a normalizer. Empty binary paths fall back to
// the default names resolved via PATH.
func NewNormalizer(ffprobeBin, ffmpegBin string) *Normalizer {
	if ffprobeBin == "" {
		ffprobeBin = DefaultFfprobeBin
	}
	if ffmpegBin == "" {
		ffmpegBin = DefaultFfmpegBin
	}
	return &Normalizer{
		ffprobeBin: ffprobeBin,
		ffmpegBin:  ffmpegBin,
		runCommand: runCommand,
	}
}

// probeOutput is the subset of ffprobe -of json output the normalizer
// reads.
type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	Width             int    `json:"width"`
	Height            int    `json:"height"`
	CodecName         string `json:"codec_name"`
	SampleAspectRatio string `json:"sample_aspect_ratio"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

// Normalize probes path and rewrites it when the codec or aspect-ratio
// metadata would break playback. A probe failure is an error since the
// caller learns nothing about the file. A rewrite failure is not: the
// raw file is returned with Normalized false so delivery can proceed.
func (n *Normalizer) Normalize(ctx context.Context, path string) (*Result, error) {
	probe, err := n.probe(ctx, path)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Path:     path,
		Width:    probe.width,
		Height:   probe.height,
		Duration: probe.duration,
	}

	fixed, width, height, err := n.rewrite(ctx, path, probe)
	if err == nil && fixed != "" {
		res.Path = fixed
		res.Width = width
		res.Height = height
		res.Normalized = true
		_ = os.Remove(path)
	}

	info, statErr := os.Stat(res.Path)
	if statErr != nil {
		return nil, snerr.Wrap(statErr, snerr.CodeMediaNormalizeFailure,
			"normalized file missing", snerr.Field("path", res.Path))
	}
	res.Bytes = info.Size()
	return res, nil
}

type probeInfo struct {
	width    int
	height   int
	codec    string
	sarNum   int
	sarDen   int
	duration time.Duration
}

func (n *Normalizer) probe(ctx context.Context, path string) (*probeInfo, error) {
	stdout, stderr, err := n.runCommand(ctx, n.ffprobeBin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,codec_name,sample_aspect_ratio",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return nil, snerr.New(snerr.CodeMediaProbeFailure,
			processError(stderr, err), snerr.Field("path", path))
	}

	var out probeOutput
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &out); err != nil {
		return nil, snerr.Wrap(err, snerr.CodeMediaProbeFailure,
			"malformed ffprobe output", snerr.Field("path", path))
	}
	if len(out.Streams) == 0 {
		return nil, snerr.New(snerr.CodeMediaProbeFailure,
			"no video stream found", snerr.Field("path", path))
	}

	stream := out.Streams[0]
	if stream.Width <= 0 || stream.Height <= 0 {
		return nil, snerr.New(snerr.CodeMediaProbeFailure,
			fmt.Sprintf("invalid dimensions %dx%d", stream.Width, stream.Height),
			snerr.Field("path", path))
	}

	info := &probeInfo{
		width:  stream.Width,
		height: stream.Height,
		codec:  stream.CodecName,
		sarNum: 1,
		sarDen: 1,
	}
	info.sarNum, info.sarDen = parseAspectRatio(stream.SampleAspectRatio)
	if seconds, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64); err == nil {
		info.duration = time.Duration(seconds * float64(time.Second))
	}
	return info, nil
}

// parseAspectRatio turns "9:10" or "9/10" into a ratio, treating
// missing and malformed values as square pixels.
func parseAspectRatio(sar string) (num, den int) {
	sar = strings.ReplaceAll(strings.TrimSpace(sar), "/", ":")
	if sar == "" || sar == "N/A" {
		return 1, 1
	}
	parts := strings.SplitN(sar, ":", 2)
	num, err := strconv.Atoi(parts[0])
	if err != nil || num <= 0 {
		return 1, 1
	}
	den = 1
	if len(parts) == 2 {
		den, err = strconv.Atoi(parts[1])
		if err != nil || den <= 0 {
			return 1, 1
		}
	}
	return num, den
}

// rewrite produces a normalized copy next to path and returns its
// location with the final dimensions. An empty path with a nil error
// means the file was already fine apart from the moov position, which
// a stream-copy remux fixes in place of a transcode.
func (n *Normalizer) rewrite(ctx context.Context, path string, probe *probeInfo) (string, int, int, error) {
	output := strings.TrimSuffix(path, filepath.Ext(path)) + ".norm.mp4"
	squarePixels := probe.sarNum == probe.sarDen

	var args []string
	width, height := probe.width, probe.height
	switch {
	case probe.codec == "h264" && squarePixels:
		// Stream copy is enough, only the moov atom moves.
		args = []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-i", path,
			"-c", "copy",
			"-movflags", "+faststart",
			output,
		}
	case squarePixels:
		args = []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-i", path,
			"-c:v", "libx264",
			"-preset", "fast",
			"-crf", "20",
			"-c:a", "aac",
			"-b:a", "128k",
			"-movflags", "+faststart",
			output,
		}
	default:
		// Non-square pixels get scaled for real. iOS ignores the SAR
		// metadata and renders raw pixels, so fixing the header alone
		// is not enough.
		width = evenDimension(probe.width * probe.sarNum / probe.sarDen)
		height = evenDimension(probe.height)
		args = []string{
			"-y", "-hide_banner", "-loglevel", "error",
			"-i", path,
			"-vf", fmt.Sprintf("scale=%d:%d,setsar=1:1", width, height),
			"-c:v", "libx264",
			"-preset", "fast",
			"-crf", "20",
			"-c:a", "aac",
			"-b:a", "128k",
			"-movflags", "+faststart",
			output,
		}
	}

	_, stderr, err := n.runCommand(ctx, n.ffmpegBin, args...)
	if err != nil {
		_ = os.Remove(output)
		return "", 0, 0, snerr.New(snerr.CodeMediaNormalizeFailure,
			processError(stderr, err), snerr.Field("path", path))
	}
	if _, statErr := os.Stat(output); statErr != nil {
		return "", 0, 0, snerr.New(snerr.CodeMediaNormalizeFailure,
			"ffmpeg produced no output", snerr.Field("path", path))
	}
	return output, width, height, nil
}

// evenDimension rounds up to the next even value, which H.264 encoders
// require.
func evenDimension(v int) int {
	return v + v%2
}

// processError prefers captured stderr over the exec error since the
// ff tools write their real failure reason there.
func processError(stderr []byte, err error) string {
	if msg := strings.TrimSpace(string(stderr)); msg != "" {
		return msg
	}
	return err.Error()
}

func runCommand(ctx context.Context, bin string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
