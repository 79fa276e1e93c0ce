package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"orderbroker/internal/apperr"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesByKind(t *testing.T) {
	err := apperr.InvalidState("bid already accepted")
	wrapped := fmt.Errorf("accept: %w", err)

	require.True(t, errors.Is(wrapped, apperr.ErrInvalidState))
	require.False(t, errors.Is(wrapped, apperr.ErrConflict))
	require.Equal(t, apperr.KindInvalidState, apperr.KindOf(wrapped))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := apperr.Transient(cause, "classification provider unavailable")

	require.ErrorIs(t, err, cause)
	require.True(t, apperr.Retryable(err))
	require.Contains(t, err.Error(), "dial tcp")
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Validation("bad"), http.StatusBadRequest},
		{apperr.NotFound("missing"), http.StatusNotFound},
		{apperr.InvalidState("nope"), http.StatusConflict},
		{apperr.Conflict("dup"), http.StatusConflict},
		{apperr.Forbidden("role"), http.StatusForbidden},
		{apperr.Transient(nil, "later"), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		require.Equal(t, c.want, apperr.HTTPStatus(c.err), c.err.Error())
	}
}

func TestMessageHidesUntypedErrors(t *testing.T) {
	require.Equal(t, "internal error", apperr.Message(errors.New("pq: connection refused")))
	require.Equal(t, "request not found", apperr.Message(apperr.NotFound("request not found")))
}
