package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorFormatsDetails(t *testing.T) {
	err := NewError(ErrContentTooLong, 5000)

	assert.Equal(t, ErrContentTooLong, err.Code)
	assert.Equal(t, "Content is too long (max 5000 bytes).", err.Message)
	assert.Equal(t, http.StatusOK, err.Status)
}

func TestNewErrorUnknownCodeFallsBack(t *testing.T) {
	err := NewError(424242)

	assert.Equal(t, ErrUnknown, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
}

func TestNewErrorKeepsMappedStatus(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, NewError(ErrRateLimitExceeded).Status)
	assert.Equal(t, http.StatusUnauthorized, NewError(ErrUnauthorized).Status)
}

func TestHasCodeAndErrorsIs(t *testing.T) {
	wrapped := fmt.Errorf("register alice: %w", NewError(ErrAlreadyConnected))

	require.True(t, HasCode(wrapped, ErrAlreadyConnected))
	assert.False(t, HasCode(wrapped, ErrMalformedEvent))
	assert.False(t, HasCode(errors.New("plain"), ErrAlreadyConnected))

	assert.ErrorIs(t, wrapped, NewError(ErrAlreadyConnected))
	assert.NotErrorIs(t, wrapped, NewError(ErrNotJoined))
}
