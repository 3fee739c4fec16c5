package tts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   FailureKind
	}{
		{401, KindAuthFailure},
		{403, KindAuthFailure},
		{404, KindInvalidVoice},
		{422, KindInvalidVoice},
		{429, KindRateLimited},
		{408, KindTimeout},
		{500, KindTransient},
		{503, KindTransient},
		{400, KindPermanent},
		{418, KindPermanent},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ClassifyStatus(tt.status))
		})
	}
}

func TestClassifyPassesThroughProviderError(t *testing.T) {
	t.Parallel()

	original := &ProviderError{Provider: "hf", Kind: KindRateLimited, Status: 429, Err: errors.New("slow down")}
	wrapped := fmt.Errorf("attempt failed: %w", original)

	assert.Same(t, original, Classify("other", wrapped))
}

func TestClassifyDeadlineExceeded(t *testing.T) {
	t.Parallel()

	classified := Classify("edge", fmt.Errorf("stream read: %w", context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, classified.Kind)
	assert.Equal(t, "edge", classified.Provider)
}

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return false }

func TestClassifyNetTimeout(t *testing.T) {
	t.Parallel()

	classified := Classify("google", fmt.Errorf("fetch: %w", timeoutNetError{}))
	assert.Equal(t, KindTimeout, classified.Kind)
}

func TestClassifyStatusFromMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		kind   FailureKind
		status int
	}{
		{"rate limited", errors.New("upstream returned status 429"), KindRateLimited, 429},
		{"server error", errors.New("got 503 Service Unavailable"), KindTransient, 503},
		{"unauthorized", errors.New("API error 401: invalid key"), KindAuthFailure, 401},
		{"no status", errors.New("connection reset by peer"), KindPermanent, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			classified := Classify("p", tt.err)
			assert.Equal(t, tt.kind, classified.Kind)
			assert.Equal(t, tt.status, classified.Status)
		})
	}
}

func TestFailureKindRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, KindRateLimited.Retryable())
	assert.True(t, KindTimeout.Retryable())
	assert.True(t, KindTransient.Retryable())
	assert.False(t, KindAuthFailure.Retryable())
	assert.False(t, KindInvalidVoice.Retryable())
	assert.False(t, KindPermanent.Retryable())
}

func TestAllProvidersFailedError(t *testing.T) {
	t.Parallel()

	err := &AllProvidersFailedError{Attempts: []*ProviderError{
		{Provider: "gemini", Kind: KindAuthFailure, Err: errors.New("no key")},
		{Provider: "edge", Kind: KindTimeout, Err: errors.New("slow")},
	}}
	assert.Equal(t, "all tts providers failed: gemini (auth_failure), edge (timeout)", err.Error())

	empty := &AllProvidersFailedError{}
	assert.Equal(t, "all tts providers failed", empty.Error())
}

func TestProviderErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := &ProviderError{Provider: "hf", Kind: KindTransient, Err: cause}
	assert.ErrorIs(t, err, cause)
}
