// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

// Package bot runs the Telegram front door. It long-polls for updates,
// classifies incoming links, walks the provider chain through the
// engine, normalizes the result, and uploads it back into the chat.
// Users only ever see the outcome messages defined in messages.go; raw
// provider output stays in the logs.
package bot

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/saveninja/saveninja/internal/engine"
	"github.com/saveninja/saveninja/internal/media"
	"github.com/saveninja/saveninja/internal/provider"
	"github.com/saveninja/saveninja/internal/source"
	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// API is the slice of tgbotapi.BotAPI the bot depends on.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Config holds per-download limits handed to providers.
type Config struct {
	// WorkDir is the parent directory for per-request scratch dirs.
	WorkDir string

	MaxSizeBytes int64
	MaxDuration  time.Duration

	Logger *slog.Logger
}

// Bot wires the Telegram update loop to the routing engine.
type Bot struct {
	api        API
	classifier *source.Classifier
	engine     *engine.Orchestrator
	normalizer *media.Normalizer
	cfg        Config
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[int64]bool
	wg       sync.WaitGroup
}

// New builds a Bot. The normalizer may be nil to skip normalization.
func New(api API, classifier *source.Classifier, orch *engine.Orchestrator, normalizer *media.Normalizer, cfg Config) *Bot {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &Bot{
		api:        api,
		classifier: classifier,
		engine:     orch,
		normalizer: normalizer,
		cfg:        cfg,
		logger:     logger,
		inflight:   make(map[int64]bool),
	}
}

// Run long-polls until the context is cancelled, then stops the update
// stream and waits for in-flight downloads to finish. Downloads share
// the run context, so cancellation also aborts active chain walks and
// releases their gate slots.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return nil
		case upd, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return nil
			}
			if upd.Message == nil || upd.Message.Chat == nil {
				continue
			}
			b.dispatch(ctx, upd.Message)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		b.sendText(chatID, msgWelcome)
		return
	case "help":
		b.sendText(chatID, msgHelp)
		return
	}

	url := extractURL(msg)
	if url == "" {
		if msg.Text != "" {
			b.sendText(chatID, msgNoLink)
		}
		return
	}

	if !b.tryAcquire(chatID) {
		b.logger.Debug("chat already has a download in flight", "chat", chatID)
		b.sendText(chatID, msgBusy)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.release(chatID)
		b.handleURL(ctx, chatID, url)
	}()
}

func (b *Bot) handleURL(ctx context.Context, chatID int64, url string) {
	category, err := b.classifier.Classify(ctx, url, source.Hints{})
	if err != nil {
		b.logger.Info("link rejected", "chat", chatID, "error", err)
		b.sendText(chatID, msgUnsupported)
		return
	}

	b.chatAction(chatID, tgbotapi.ChatUploadVideo)

	dir, err := os.MkdirTemp(b.cfg.WorkDir, "saveninja-*")
	if err != nil {
		b.logger.Error("scratch dir creation failed", "error", err)
		b.sendText(chatID, msgTryLater)
		return
	}
	defer func() { _ = os.RemoveAll(dir) }()

	res, err := b.engine.Run(ctx, url, category, provider.Constraints{
		MaxDuration:  b.cfg.MaxDuration,
		MaxSizeBytes: b.cfg.MaxSizeBytes,
		WorkDir:      dir,
	})
	if err != nil {
		reason := engine.ReasonOf(err)
		b.logger.Warn("download failed",
			"chat", chatID, "category", category, "reason", string(reason), "error", err)
		b.sendText(chatID, outcomeMessage(reason))
		return
	}

	b.deliver(ctx, chatID, res)
}

// deliver normalizes and uploads a finished download. Normalization
// failures degrade to sending the raw file.
func (b *Bot) deliver(ctx context.Context, chatID int64, res *engine.Result) {
	path := res.Media.Path
	duration := res.Media.Duration

	if b.normalizer != nil {
		norm, err := b.normalizer.Normalize(ctx, path)
		if err != nil {
			b.logger.Warn("normalization failed, sending raw file",
				"path", path, "error", err)
		} else {
			path = norm.Path
			if norm.Duration > 0 {
				duration = norm.Duration
			}
		}
	}

	video := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(path))
	video.Duration = int(duration.Seconds())
	video.SupportsStreaming = true
	video.Caption = res.Media.Title

	if _, err := b.api.Send(video); err != nil {
		err = snerr.Wrap(err, snerr.CodeBotUploadFailure, "uploading video",
			snerr.FieldProvider(res.Provider))
		b.logger.Error("upload failed", "chat", chatID, "error", err)
		b.sendText(chatID, msgTryLater)
		return
	}

	b.logger.Info("delivered",
		"chat", chatID, "provider", res.Provider, "attempts", res.Attempts)
}

func (b *Bot) sendText(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error("send failed", "chat", chatID,
			"error", snerr.Wrap(err, snerr.CodeBotAPIFailure, "sending message"))
	}
}

func (b *Bot) chatAction(chatID int64, action string) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, action)); err != nil {
		b.logger.Debug("chat action failed", "chat", chatID, "error", err)
	}
}

func (b *Bot) tryAcquire(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inflight[chatID] {
		return false
	}
	b.inflight[chatID] = true
	return true
}

func (b *Bot) release(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight, chatID)
}

// extractURL pulls the first http(s) link out of a message, preferring
// Telegram's own entity annotations over text scanning. Entity offsets
// are UTF-16 code units.
func extractURL(msg *tgbotapi.Message) string {
	text := msg.Text
	entities := msg.Entities
	if text == "" {
		text = msg.Caption
		entities = msg.CaptionEntities
	}

	units := utf16.Encode([]rune(text))
	for _, e := range entities {
		switch e.Type {
		case "text_link":
			if e.URL != "" {
				return e.URL
			}
		case "url":
			if e.Offset < 0 || e.Offset+e.Length > len(units) {
				continue
			}
			return string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
		}
	}

	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			return field
		}
	}
	return ""
}
