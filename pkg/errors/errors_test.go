package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "timeout: worker did not reply", Timeout("worker did not reply").Error())

	err := Navigation("goto feed", stderrors.New("net::ERR_NAME_NOT_RESOLVED"))
	assert.Equal(t, "navigation: goto feed: net::ERR_NAME_NOT_RESOLVED", err.Error())
}

func TestIsAndAs(t *testing.T) {
	wrapped := fmt.Errorf("run: %w", Timeout("timeout"))

	assert.True(t, stderrors.Is(wrapped, ErrTimeout))
	assert.False(t, stderrors.Is(wrapped, ErrAlreadyRunning))
	assert.Equal(t, ErrorTypeTimeout, TypeOf(wrapped))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(stderrors.New("plain")))
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Persistence("upsert posts", cause)
	assert.True(t, stderrors.Is(err, cause))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    bool
	}{
		{ErrorTypeNavigation, true},
		{ErrorTypeTimeout, true},
		{ErrorTypeRateLimit, true},
		{ErrorTypeParsing, false},
		{ErrorTypePersistence, false},
		{ErrorTypeEligibility, false},
		{ErrorTypeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.errType))
		})
	}

	assert.True(t, IsRetryableError(Navigation("x", nil)))
	assert.False(t, IsRetryableError(nil))
}
