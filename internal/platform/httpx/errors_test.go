package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rolegate/rolegate/internal/shared"
)

func respond(t *testing.T, err error) (int, ProblemDetail) {
	t.Helper()
	rec := httptest.NewRecorder()
	RespondError(rec, err)
	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return rec.Code, problem
}

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", shared.NotFound("role", "abc"), http.StatusNotFound},
		{"conflict", shared.Conflict("role", "super role already exists"), http.StatusConflict},
		{"validation", shared.Invalid("parent_role_id", "cycle"), http.StatusBadRequest},
		{"transport", &shared.TransportError{Op: "get user", Err: errors.New("timeout")}, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped not found", fmt.Errorf("handler: %w", shared.NotFound("user", "u1")), http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, problem := respond(t, tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.status, problem.Status)
		})
	}
}

func TestRespondErrorSyncFailureCarriesType(t *testing.T) {
	err := &shared.SyncError{UserID: "user_1", Err: errors.New("provider 500")}
	status, problem := respond(t, err)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, ProblemTypeSyncFailed, problem.Type)
}

func TestRespondErrorSyncFailureDominatesWrappedKind(t *testing.T) {
	// A sync failure can wrap a provider-side caller error; the response
	// must still say the store write committed and only the mirror is stale.
	err := &shared.SyncError{UserID: "user_1", Err: shared.Invalid("request", "metadata too large")}
	status, problem := respond(t, err)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, ProblemTypeSyncFailed, problem.Type)
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	_, problem := respond(t, errors.New("pq: syntax error at line 3"))
	assert.Empty(t, problem.Detail, "internal errors must not leak details")
}
