// Package provider contains the translation backends. Every backend sits
// behind the same Provider interface and reports failures as typed Errors so
// that callers can decide what is worth retrying.
package provider

import (
	"context"
	"fmt"
	"time"
)

// Provider IDs as accepted on the command line and stored in cache keys.
const (
	IDUnofficial  = "unofficial"
	IDOfficial    = "official"
	IDGoogleCloud = "googlecloud"
	IDLocal       = "local"
)

// Code classifies a provider failure.
type Code string

const (
	CodeNetworkError    Code = "network_error"
	CodeRateLimited     Code = "rate_limited"
	CodeBlocked         Code = "blocked"
	CodeInvalidResponse Code = "invalid_response"
	CodeInvalidAPIKey   Code = "invalid_api_key"
	CodeInvalidInput    Code = "invalid_input"
)

// Error is a typed provider failure.
type Error struct {
	Code    Code
	Message string
}

func (e Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether the failure is transient. Only network-level
// failures and rate limiting qualify; everything else repeats identically on
// the next attempt.
func (e Error) Retryable() bool {
	return e.Code == CodeNetworkError || e.Code == CodeRateLimited
}

// Provider performs a single translation round trip against one backend.
type Provider interface {
	ID() string
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

const defaultHTTPTimeout = 30 * time.Second
