// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SaveNinja Contributors

package engine

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/saveninja/saveninja/internal/provider"
)

// ErrorKind classifies a failed attempt. The first five kinds come from
// provider behavior; the last three are orchestration-level outcomes
// that never originate from a provider's raw error.
type ErrorKind string

const (
	KindFatal          ErrorKind = "fatal"
	KindRateLimited    ErrorKind = "rate_limited"
	KindTransientStall ErrorKind = "transient_stall"
	KindProviderBug    ErrorKind = "provider_bug"
	KindBudgetExceeded ErrorKind = "budget_exceeded"

	KindGateSaturated      ErrorKind = "gate_saturated"
	KindNoEligibleProvider ErrorKind = "no_eligible_provider"
	KindChainTimeExceeded  ErrorKind = "chain_time_exceeded"
)

// Retryable reports whether a terminal outcome of this kind should read
// to the end user as "temporarily unavailable" rather than "this
// content can't be fetched".
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindFatal, KindNoEligibleProvider:
		return false
	default:
		return true
	}
}

// Substring tables matched against lowercased raw provider output.
// Sourced from observed fetcher failure modes; order of table checks
// matters because some stall phrasing overlaps rate-limit phrasing.
var (
	fatalPatterns = []string{
		"sign in to confirm",
		"login required",
		"private video",
		"private account",
		"age-restricted",
		"video unavailable",
		"content unavailable",
		"has been removed",
		"does not exist",
		"not found",
	}

	rateLimitPatterns = []string{
		"429",
		"too many requests",
		"403 forbidden",
		"rate limit",
		"quota exceeded",
		"ssl: unexpected_eof",
		"tls handshake",
		"ip address has been blocked",
	}

	stallPatterns = []string{
		"download stalled",
		"no progress",
		"connection timeout",
		"connection timed out",
		"timed out",
		"deadline exceeded",
		"connection reset",
		"broken pipe",
		"incomplete read",
		"incompleteread",
		"partial read",
		"server disconnected",
		"unexpected eof",
	}

	providerBugPatterns = []string{
		"malformed response",
		"unexpected schema",
		"invalid json",
		"unmarshal",
		"decode response",
		"missing field",
	}
)

// Classify maps a failed attempt error to an ErrorKind. The second
// return value is false when no known pattern matched, in which case
// the kind defaults to TransientStall so unknown failures fail open
// toward retry rather than toward disablement. Callers bump the
// unclassified counter on a false return.
func Classify(err error) (ErrorKind, bool) {
	if err == nil {
		return KindTransientStall, false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientStall, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransientStall, true
	}

	var (
		msg    string
		status int
	)
	if f, ok := provider.AsFailure(err); ok {
		msg = strings.ToLower(f.RawMessage)
		status = f.StatusCode
	} else {
		msg = strings.ToLower(err.Error())
	}

	// Fatal messages win over status codes: "private video" style
	// refusals sometimes arrive with a 403 attached.
	if matchAny(msg, fatalPatterns) {
		return KindFatal, true
	}

	switch status {
	case 401, 404, 410:
		return KindFatal, true
	case 403, 429:
		return KindRateLimited, true
	}
	if matchAny(msg, rateLimitPatterns) {
		return KindRateLimited, true
	}
	if matchAny(msg, providerBugPatterns) {
		return KindProviderBug, true
	}
	if matchAny(msg, stallPatterns) {
		return KindTransientStall, true
	}

	return KindTransientStall, false
}

func matchAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
