// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package bot

import "github.com/saveninja/saveninja/internal/engine"

// User-facing replies. Raw provider error text never appears here; the
// engine's terminal reason picks between a permanent refusal and a
// retry suggestion.
const (
	msgWelcome = "Send me a link and I'll fetch the video.\n\n" +
		"Supported: YouTube, Instagram, TikTok, Pinterest."

	msgHelp = "Paste a video link and I'll download it for you.\n\n" +
		"Supported platforms:\n" +
		"- YouTube (youtube.com, youtu.be)\n" +
		"- Instagram (posts, reels, stories)\n" +
		"- TikTok (tiktok.com, vm.tiktok.com)\n" +
		"- Pinterest (pinterest.com, pin.it)"

	msgNoLink = "Send me a video link to get started. " +
		"Supported: YouTube, Instagram, TikTok, Pinterest."

	msgUnsupported = "I can't download from that link. " +
		"Supported: YouTube, Instagram, TikTok, Pinterest."

	msgBusy = "Still working on your previous link. " +
		"Send the next one once it's done."

	msgCantFetch = "Sorry, this content can't be fetched. " +
		"It may be private, removed, or region locked."

	msgTryLater = "Downloads are temporarily unavailable, try again later."
)

// outcomeMessage maps the engine's terminal reason to a reply.
func outcomeMessage(reason engine.ErrorKind) string {
	if reason.Retryable() {
		return msgTryLater
	}
	return msgCantFetch
}
