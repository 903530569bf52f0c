package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/dharsanguruparan/catscan/internal/model"
)

const msgScanNotFound = "Scan not found"

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	debug, _ := strconv.ParseBool(r.URL.Query().Get("debug"))
	s.writeStatus(w, r, debug)
}

// handleDebug serves the full label list regardless of the query string.
func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r, true)
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, debug bool) {
	id := chi.URLParam(r, "scanID")
	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusNotFound, msgScanNotFound)
		return
	}

	scan, err := s.lookup(r, id)
	if errors.Is(err, model.ErrNotFound) {
		respondError(w, http.StatusNotFound, msgScanNotFound)
		return
	}
	if err != nil {
		s.logger.Error("load scan failed", "scan_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch scan status")
		return
	}
	s.metrics.ObserveStatusRead(string(scan.Status))
	respondJSON(w, http.StatusOK, project(scan, debug))
}

// lookup serves terminal records from the cache; they never change again.
func (s *Server) lookup(r *http.Request, id string) (*model.Scan, error) {
	if cached, ok := s.finished.Get(id); ok {
		return cached.(*model.Scan), nil
	}
	scan, err := s.records.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if scan.Status.Terminal() {
		s.finished.Set(id, scan, cache.DefaultExpiration)
	}
	return scan, nil
}

// project builds the client view of a record. Result fields appear only on
// COMPLETED records and the error message only on FAILED ones.
func project(scan *model.Scan, debug bool) map[string]interface{} {
	out := map[string]interface{}{
		"scan_id":    scan.ID,
		"status":     scan.Status,
		"created_at": scan.CreatedAt,
		"updated_at": scan.UpdatedAt,
	}
	switch scan.Status {
	case model.StatusCompleted:
		res := scan.Result
		if res == nil {
			res = &model.Result{}
		}
		answer := "No"
		if res.CatsFound {
			answer = "Yes"
		}
		out["cats_found"] = res.CatsFound
		out["answer"] = answer
		out["cat_count"] = res.CatCount
		out["highest_confidence"] = res.HighestConfidence
		out["total_labels"] = len(res.Labels)
		if scan.CompletedAt != nil {
			out["completed_at"] = *scan.CompletedAt
		}
		if debug {
			out["labels"] = nonNil(res.Labels)
			out["cat_labels"] = nonNil(res.CatLabels)
		}
	case model.StatusFailed:
		out["error_message"] = scan.ErrorMessage
		if scan.CompletedAt != nil {
			out["completed_at"] = *scan.CompletedAt
		}
	case model.StatusPending, model.StatusProcessing:
	}
	return out
}

func nonNil(labels []model.Label) []model.Label {
	if labels == nil {
		return []model.Label{}
	}
	return labels
}
