package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/dwizi/rapport/internal/agenterr"
	"github.com/dwizi/rapport/internal/classifier"
)

func (r *router) handleProfile(w http.ResponseWriter, req *http.Request) {
	if r.deps.Profiles == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "profiles are unavailable"})
		return
	}
	visitorID := strings.TrimSpace(req.PathValue("id"))
	current, err := r.deps.Profiles.Get(req.Context(), visitorID)
	if err != nil {
		r.writeError(w, err)
		return
	}
	view, err := r.deps.Profiles.Strategy(req.Context(), visitorID)
	if err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile":  current,
		"strategy": view,
	})
}

func (r *router) handleClassify(w http.ResponseWriter, req *http.Request) {
	if r.deps.Classifier == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "classifier is unavailable"})
		return
	}
	var payload classifier.Input
	if !decodeJSON(w, req, &payload) {
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		r.writeError(w, agenterr.ErrMessageRequired)
		return
	}
	if payload.MessageOrdinal < 1 {
		payload.MessageOrdinal = 1
	}
	writeJSON(w, http.StatusOK, r.deps.Classifier.Classify(req.Context(), payload))
}

func (r *router) handleDecay(w http.ResponseWriter, req *http.Request) {
	if r.deps.Decay == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "decay is unavailable"})
		return
	}
	switch req.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, r.deps.Decay.LastRun())
	case http.MethodPost:
		started := time.Now()
		report, err := r.deps.Decay.RunOnce(req.Context())
		if err != nil {
			r.writeError(w, err)
			return
		}
		r.logger.Info("manual decay finished", "scanned", report.Scanned, "tombstoned", report.Tombstoned, "duration", time.Since(started))
		writeJSON(w, http.StatusOK, report)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}
