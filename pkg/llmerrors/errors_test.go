package llmerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableBlocklist(t *testing.T) {
	assert.False(t, (&Error{Type: ErrorTypeAuth}).IsRetryable())
	assert.False(t, (&Error{Type: ErrorTypeBadPrompt}).IsRetryable())
	assert.False(t, (&Error{Type: ErrorTypeServiceUnavailable}).IsRetryable())
	assert.True(t, (&Error{Type: ErrorTypeRateLimit}).IsRetryable())
	assert.True(t, (&Error{Type: ErrorTypeTransient}).IsRetryable())
	assert.True(t, (&Error{Type: ErrorTypeUnknown}).IsRetryable())
}

func TestIsAndTypeOf(t *testing.T) {
	err := NewError(ErrorTypeRateLimit, "too many requests")
	assert.True(t, Is(err, ErrorTypeRateLimit))
	assert.False(t, Is(err, ErrorTypeAuth))
	assert.Equal(t, ErrorTypeRateLimit, TypeOf(err))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain error")))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewErrorWithCause(ErrorTypeTransient, cause, "transport failed")
	assert.ErrorIs(t, err, cause)
}

func TestNewServiceUnavailableErrorIsNotRetryable(t *testing.T) {
	err := NewServiceUnavailableError(errors.New("429 again"), 6)
	require.True(t, IsServiceUnavailable(err))
	assert.False(t, err.IsRetryable())
	assert.Contains(t, err.Error(), "6 retry attempts")
}

func TestSanitizePromptTruncatesLongText(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	out := SanitizePrompt(string(long), 100)
	assert.Contains(t, out, "chars")
	assert.Contains(t, out, "hash:")
	assert.Less(t, len(out), len(long))
}

func TestSanitizePromptLeavesShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "hello", SanitizePrompt("hello", 100))
}

func TestErrorMessageFormatsByAvailableField(t *testing.T) {
	withMessage := &Error{Type: ErrorTypeAuth, Message: "bad key"}
	assert.Contains(t, withMessage.Error(), "bad key")

	withStatus := &Error{Type: ErrorTypeRateLimit, StatusCode: 429}
	assert.Contains(t, withStatus.Error(), "429")
}
