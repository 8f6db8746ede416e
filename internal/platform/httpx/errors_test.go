package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func TestRespondErrorMapsSharedKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		title  string
	}{
		{shared.ErrNotFound, http.StatusNotFound, "Not Found"},
		{shared.ErrForbidden, http.StatusForbidden, "Forbidden"},
		{shared.ErrInvalidOperation, http.StatusBadRequest, "Invalid Operation"},
		{shared.ErrIdempotencyConflict, http.StatusConflict, "Duplicate Request"},
		{shared.ErrInternal, http.StatusInternalServerError, "Internal Error"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, fmt.Errorf("create order: %w", tc.err))
		require.Equal(t, tc.status, rec.Code)

		var body ProblemDetail
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Equal(t, tc.title, body.Title)
		require.Equal(t, tc.status, body.Status)
	}
}

func TestRespondErrorHidesUnknownDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("pool exhausted"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Empty(t, body.Detail)
}
