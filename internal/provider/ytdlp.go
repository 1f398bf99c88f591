// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// DefaultYtdlpBin is used when the configuration does not name a
// binary path.
const DefaultYtdlpBin = "yt-dlp"

// Ytdlp shells out to the yt-dlp binary: a metadata probe first, then
// the download. It is the generic scraper that covers every platform
// the binary supports.
type Ytdlp struct {
	bin      string
	proxyURL string

	// runCommand is swappable for tests.
	runCommand func(ctx context.Context, bin string, args ...string) (stdout, stderr []byte, err error)
}

// ytdlpProbe is the subset of --dump-single-json output the adapter
// reads.
type ytdlpProbe struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Ext      string  `json:"ext"`
}

// NewYtdlp creates the adapter. bin may be empty for the default
// binary name; proxyURL may be empty for a direct connection.
func NewYtdlp(bin, proxyURL string) *Ytdlp {
	if bin == "" {
		bin = DefaultYtdlpBin
	}
	return &Ytdlp{
		bin:        bin,
		proxyURL:   proxyURL,
		runCommand: runCommand,
	}
}

func (y *Ytdlp) Name() string { return "ytdlp" }

func (y *Ytdlp) Attempt(ctx context.Context, url string, c Constraints) (*MediaResult, error) {
	probe, err := y.probe(ctx, url)
	if err != nil {
		return nil, err
	}

	duration := time.Duration(probe.Duration * float64(time.Second))
	if c.MaxDuration > 0 && duration > c.MaxDuration {
		return nil, snerr.New(snerr.CodeProviderConstraints,
			fmt.Sprintf("content runs %s, limit is %s", duration, c.MaxDuration),
			snerr.FieldURL(url))
	}

	path, err := y.download(ctx, url, probe.ID, c)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, snerr.Wrap(err, snerr.CodeProviderAttemptFailure,
			"downloaded file missing", snerr.FieldURL(url))
	}

	return &MediaResult{
		Path:     path,
		Width:    probe.Width,
		Height:   probe.Height,
		Duration: duration,
		Bytes:    info.Size(),
		Title:    probe.Title,
	}, nil
}

func (y *Ytdlp) probe(ctx context.Context, url string) (*ytdlpProbe, error) {
	args := y.commonArgs()
	args = append(args, "--dump-single-json", "--no-download", url)

	stdout, stderr, err := y.runCommand(ctx, y.bin, args...)
	if err != nil {
		return nil, &Failure{RawMessage: rawProcessError(stderr, err)}
	}

	var probe ytdlpProbe
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &probe); err != nil {
		return nil, &Failure{RawMessage: "malformed response: " + err.Error()}
	}
	return &probe, nil
}

func (y *Ytdlp) download(ctx context.Context, url, id string, c Constraints) (string, error) {
	template := filepath.Join(c.WorkDir, "%(id)s.%(ext)s")

	args := y.commonArgs()
	args = append(args,
		"-f", "bv*[ext=mp4]+ba[ext=m4a]/b[ext=mp4]/b",
		"--merge-output-format", "mp4",
		"-o", template,
		"--print", "after_move:filepath",
		"--no-simulate",
	)
	if c.MaxSizeBytes > 0 {
		args = append(args, "--max-filesize", fmt.Sprintf("%d", c.MaxSizeBytes))
	}
	args = append(args, url)

	stdout, stderr, err := y.runCommand(ctx, y.bin, args...)
	if err != nil {
		return "", &Failure{RawMessage: rawProcessError(stderr, err)}
	}

	path := strings.TrimSpace(string(stdout))
	if path == "" {
		// --max-filesize makes yt-dlp skip the file without a non-zero
		// exit; treat a silent skip as a constraint refusal.
		return "", snerr.New(snerr.CodeProviderConstraints,
			"download skipped, likely over the size limit", snerr.FieldURL(url), snerr.Field("id", id))
	}
	return path, nil
}

func (y *Ytdlp) commonArgs() []string {
	args := []string{"--no-playlist", "--no-progress", "--no-warnings", "--quiet"}
	if y.proxyURL != "" {
		args = append(args, "--proxy", y.proxyURL)
	}
	return args
}

// rawProcessError prefers captured stderr over the exec error since
// yt-dlp writes its real failure reason there.
func rawProcessError(stderr []byte, err error) string {
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
