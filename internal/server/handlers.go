package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/apiwatch/apiwatch/pkg/canonical"
	"github.com/apiwatch/apiwatch/pkg/classify"
	"github.com/apiwatch/apiwatch/pkg/diff"
	"github.com/apiwatch/apiwatch/pkg/storage"
)

// handleListChanges serves stored changelog entries; it never re-runs the
// diff engine.
func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.EntryFilter{}

	if v := q.Get("target"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "bad target id", http.StatusBadRequest)
			return
		}
		filter.TargetID = id
	}
	if v := q.Get("severity"); v != "" {
		sev, err := classify.ParseSeverity(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.MinSeverity = sev
	}
	if v := q.Get("breaking"); v != "" {
		b := v == "true"
		filter.Breaking = &b
	}
	var err error
	if filter.Since, err = parseTimeParam(q.Get("since")); err != nil {
		http.Error(w, "bad since timestamp", http.StatusBadRequest)
		return
	}
	if filter.Until, err = parseTimeParam(q.Get("until")); err != nil {
		http.Error(w, "bad until timestamp", http.StatusBadRequest)
		return
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	entries, err := s.DB.ListEntries(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, entries)
}

func (s *Server) handleGetChange(w http.ResponseWriter, r *http.Request) {
	entry, err := s.DB.GetEntry(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrEntryNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, entry)
}

// handleCompare diffs two arbitrary stored snapshots on demand. The result
// is computed, not persisted.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	fromID, err1 := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	toID, err2 := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "from and to snapshot ids required", http.StatusBadRequest)
		return
	}

	from, err := s.DB.GetSnapshot(r.Context(), fromID)
	if err != nil {
		httpStatus := http.StatusInternalServerError
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			httpStatus = http.StatusNotFound
		}
		http.Error(w, err.Error(), httpStatus)
		return
	}
	to, err := s.DB.GetSnapshot(r.Context(), toID)
	if err != nil {
		httpStatus := http.StatusInternalServerError
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			httpStatus = http.StatusNotFound
		}
		http.Error(w, err.Error(), httpStatus)
		return
	}
	if from.TargetID != to.TargetID {
		http.Error(w, "snapshots belong to different targets", http.StatusBadRequest)
		return
	}

	fromDoc, err := canonical.Parse([]byte(from.Doc))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	toDoc, err := canonical.Parse([]byte(to.Doc))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	records := classify.ClassifyAll(diff.Diff(fromDoc.Root, toDoc.Root))
	severity, breaking := classify.Aggregate(records)
	resp := struct {
		TargetID int64                       `json:"target_id"`
		From     int64                       `json:"from_snapshot"`
		To       int64                       `json:"to_snapshot"`
		Severity string                      `json:"severity,omitempty"`
		Breaking bool                        `json:"breaking"`
		Records  []classify.ClassifiedRecord `json:"records"`
	}{from.TargetID, fromID, toID, "", breaking, records}
	if severity != 0 {
		resp.Severity = severity.String()
	}
	writeJSON(w, resp)
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.DB.ListTargets(r.Context(), r.URL.Query().Get("all") != "true")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, targets)
}

type addTargetRequest struct {
	Name            string `json:"name"`
	URL             string `json:"url"`
	IntervalSeconds int64  `json:"interval_seconds"`
}

func (s *Server) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	var req addTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	target, err := s.DB.AddTarget(r.Context(), req.Name, req.URL, time.Duration(req.IntervalSeconds)*time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, target)
}

func (s *Server) handleDeactivateTarget(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "bad target id", http.StatusBadRequest)
		return
	}
	if err := s.DB.DeactivateTarget(r.Context(), id); err != nil {
		httpStatus := http.StatusInternalServerError
		if errors.Is(err, storage.ErrTargetNotFound) {
			httpStatus = http.StatusNotFound
		}
		http.Error(w, err.Error(), httpStatus)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	since, err := parseTimeParam(r.URL.Query().Get("since"))
	if err != nil {
		http.Error(w, "bad since timestamp", http.StatusBadRequest)
		return
	}
	stats, err := s.DB.Stats(r.Context(), since)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	subID, err := strconv.ParseInt(r.URL.Query().Get("subscriber"), 10, 64)
	if err != nil {
		http.Error(w, "subscriber id required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	feed, err := s.DB.ListFeed(r.Context(), subID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, feed)
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
