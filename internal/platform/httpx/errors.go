package httpx

import (
	"net/http"

	"github.com/rolegate/rolegate/internal/shared"
)

// ProblemTypeSyncFailed marks responses where the database write committed
// but the identity mirror is stale. Clients retry the sync step alone.
const ProblemTypeSyncFailed = "urn:rolegate:problem:mirror-sync-failed"

// RespondError maps domain errors to HTTP responses using RFC7807.
//
// SyncError deliberately gets its own problem type: the relational write
// succeeded and must not be re-run, only the mirror sync.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	// SyncError first: it can wrap any provider error, and the committed
	// store write is the fact the client needs to know about.
	case shared.IsSyncError(err):
		ProblemTyped(w, http.StatusBadGateway, ProblemTypeSyncFailed, "Mirror Sync Failed", err.Error())
	case shared.IsNotFound(err):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case shared.IsConflict(err):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case shared.IsValidation(err):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case shared.IsTransport(err):
		Problem(w, http.StatusServiceUnavailable, "Upstream Unavailable", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
