package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/samplestore"
)

// maxRunLimit caps the limit query parameter of the runs endpoint.
const maxRunLimit = 500

// syncAccepted is the body of an asynchronous sync request.
type syncAccepted struct {
	Status     string `json:"status"`
	ResourceID string `json:"resource_id"`
}

// syncFailure is the body of a failed synchronous sync. Result carries the
// chunks that were stored before the failure.
type syncFailure struct {
	Error
	Result *backfill.Result `json:"result,omitempty"`
}

// handleListStatuses returns the status of every channel.
func (s *Server) handleListStatuses(w http.ResponseWriter, _ *http.Request) {
	statuses := s.history.Statuses()
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": statuses,
		"count":    len(statuses),
	})
}

// handleGetStatus returns the status of one channel.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resource")

	st, err := s.history.Status(resourceID)
	if err != nil {
		s.writeHistoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleListRuns returns the latest finished runs of a channel.
//
// Query parameters:
//   - limit: number of runs, 1-500 (default 20)
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resource")

	if _, err := s.history.Status(resourceID); err != nil {
		s.writeHistoryError(w, r, err)
		return
	}
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "run log not available")
		return
	}

	limit := samplestore.DefaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRunLimit {
			writeBadRequest(w, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := s.runs.Recent(r.Context(), resourceID, limit)
	if err != nil {
		s.requestLogger(r).Error("listing history runs failed", "resource_id", resourceID, "error", err)
		writeInternalError(w, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleSync requests a synchronisation of one channel.
//
// Without wait the run is queued on the channel's own loop and 202 is
// returned at once. With wait=true the run happens on this request and the
// result is returned; runs already in progress for the resource finish first.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	resourceID := chi.URLParam(r, "resource")

	wait := false
	if raw := r.URL.Query().Get("wait"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(w, "wait must be a boolean")
			return
		}
		wait = v
	}

	if !wait {
		if err := s.history.Trigger(resourceID); err != nil {
			s.writeHistoryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, syncAccepted{Status: "accepted", ResourceID: resourceID})
		return
	}

	res, err := s.history.SyncNow(r.Context(), resourceID)
	if err != nil {
		status, code := syncErrorStatus(err)
		body := syncFailure{Error: Error{Status: status, Code: code, Message: err.Error()}}
		if !errors.Is(err, backfill.ErrUnknownResource) {
			body.Result = &res
		}
		s.requestLogger(r).Warn("on-demand history sync failed",
			"resource_id", resourceID,
			"status", status,
			"error", err,
		)
		writeJSON(w, status, body)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeHistoryError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, backfill.ErrUnknownResource) {
		writeNotFound(w, "unknown resource "+strconv.Quote(chi.URLParam(r, "resource")))
		return
	}
	s.requestLogger(r).Error("history request failed", "path", r.URL.Path, "error", err)
	writeInternalError(w, "history request failed")
}
