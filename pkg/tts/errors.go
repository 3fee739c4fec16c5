package tts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"google.golang.org/genai"
)

// FailureKind classifies a provider failure for the fallback chain. Every
// kind advances the chain; the split between retry-worthy and rejected only
// decides how loudly the failure is logged.
type FailureKind string

const (
	KindRateLimited  FailureKind = "rate_limited"
	KindAuthFailure  FailureKind = "auth_failure"
	KindTimeout      FailureKind = "timeout"
	KindInvalidVoice FailureKind = "invalid_voice"
	KindTransient    FailureKind = "transient"
	KindPermanent    FailureKind = "permanent"
)

// Retryable reports whether the failure is the passing sort that another
// attempt elsewhere may not hit, as opposed to a rejection such as a bad
// credential or an unknown voice.
func (k FailureKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindTransient:
		return true
	default:
		return false
	}
}

// ProviderError is a classified failure from a single speech provider.
type ProviderError struct {
	Provider string
	Kind     FailureKind
	Status   int // HTTP status when one was observed, 0 otherwise
	Err      error
}

var _ error = (*ProviderError)(nil)

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Retryable() bool {
	return e.Kind.Retryable()
}

// AllProvidersFailedError reports that every provider in the chain was
// attempted and none produced audio.
type AllProvidersFailedError struct {
	Attempts []*ProviderError
}

var _ error = (*AllProvidersFailedError)(nil)

func (e *AllProvidersFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return "all tts providers failed"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%s)", attempt.Provider, attempt.Kind))
	}
	return "all tts providers failed: " + strings.Join(parts, ", ")
}

// ClassifyStatus maps an HTTP status code onto the failure taxonomy.
func ClassifyStatus(status int) FailureKind {
	switch {
	case status == 401 || status == 403:
		return KindAuthFailure
	case status == 404 || status == 422:
		return KindInvalidVoice
	case status == 429:
		return KindRateLimited
	case status == 408:
		return KindTimeout
	case status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

var statusCodeRegex = regexp.MustCompile(`\b([45]\d{2})\b`)

// Classify wraps err as a *ProviderError for the named provider. Errors the
// adapters already classified pass through untouched; for the rest the
// status code is recovered from known SDK error types or, failing that, from
// the error message itself.
func Classify(provider string, err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}

	classified := &ProviderError{Provider: provider, Kind: KindPermanent, Err: err}

	if errors.Is(err, context.DeadlineExceeded) {
		classified.Kind = KindTimeout
		return classified
	}

	var apiErr *genai.APIError
	var netErr net.Error
	switch {
	case errors.As(err, &apiErr):
		classified.Status = apiErr.Code
	case errors.As(err, &netErr) && netErr.Timeout():
		classified.Kind = KindTimeout
		return classified
	default:
		if match := statusCodeRegex.FindStringSubmatch(err.Error()); len(match) > 1 {
			classified.Status, _ = strconv.Atoi(match[1])
		}
	}

	if classified.Status != 0 {
		classified.Kind = ClassifyStatus(classified.Status)
	}
	return classified
}
