package db

import (
	"database/sql"
	"errors"
	"net/http"
	"testing"

	"orderbroker/internal/apperr"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestMapErr(t *testing.T) {
	require.NoError(t, mapErr(nil))
	require.ErrorIs(t, mapErr(sql.ErrNoRows), ErrNotFound)

	dup := mapErr(&pq.Error{Code: "23505", Constraint: "bids_one_pending_per_supplier"})
	require.ErrorIs(t, dup, ErrDuplicate)
	require.True(t, IsDuplicate(dup))
	require.False(t, IsAborted(dup))

	other := errors.New("connection reset")
	require.Equal(t, other, mapErr(other))
}

func TestMapErrDeadlockIsConflict(t *testing.T) {
	for _, code := range []pq.ErrorCode{"40P01", "40001"} {
		err := mapErr(&pq.Error{Code: code, Message: "deadlock detected"})
		require.ErrorIs(t, err, apperr.ErrConflict, string(code))
		require.True(t, IsAborted(err))
		require.False(t, IsDuplicate(err))
		require.Equal(t, http.StatusConflict, apperr.HTTPStatus(err))
		require.Equal(t, "concurrent update, retry the operation", apperr.Message(err))
	}
}
