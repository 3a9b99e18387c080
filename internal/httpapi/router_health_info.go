package httpapi

import (
	"net/http"
	"strings"
)

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *router) handleReady(w http.ResponseWriter, req *http.Request) {
	if r.deps.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": "store is unavailable"})
		return
	}
	if err := r.deps.Store.Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": err.Error()})
		return
	}
	if r.deps.Heartbeat != nil && len(r.deps.RequiredComponents) > 0 {
		snapshot := r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter)
		if ok, failing := snapshot.Ready(r.deps.RequiredComponents...); !ok {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not-ready",
				"error":  "components not ready: " + strings.Join(failing, ", "),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (r *router) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	if r.deps.Heartbeat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "heartbeat is disabled",
		})
		return
	}
	snapshot := r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter)
	writeJSON(w, http.StatusOK, snapshot)
}

func (r *router) handleInfo(w http.ResponseWriter, req *http.Request) {
	cfg := r.deps.Config
	payload := map[string]any{
		"name":           "rapport",
		"environment":    cfg.Environment,
		"llm_provider":   cfg.LLMProvider,
		"embed_provider": cfg.EmbedProvider,
		"vector_backend": cfg.VectorBackend,
	}
	if r.deps.Policy != nil {
		payload["policy_hash"] = r.deps.Policy.Hash()
	}
	writeJSON(w, http.StatusOK, payload)
}
