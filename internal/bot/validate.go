// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package bot

import (
	"context"
	"io"
	"net/http"

	snerr "github.com/saveninja/saveninja/pkg/errors"
)

// ValidateToken calls Telegram's getMe endpoint to verify the bot token
// before the update loop starts, so a bad token fails fast at startup.
func ValidateToken(ctx context.Context, client *http.Client, token string) error {
	return validateTokenURL(ctx, client, "https://api.telegram.org/bot"+token+"/getMe")
}

func validateTokenURL(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return snerr.Errorf(snerr.CodeBotTokenCheckFailed, "building Telegram validation request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return snerr.Errorf(snerr.CodeBotTokenCheckFailed, "validating Telegram token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return snerr.Errorf(snerr.CodeBotTokenInvalid, "invalid Telegram bot token (HTTP %d)", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return snerr.Errorf(snerr.CodeBotTokenCheckFailed, "Telegram validation failed (HTTP %d)", resp.StatusCode)
	}

	return nil
}
