package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/dwizi/rapport/internal/agenterr"
	"github.com/dwizi/rapport/internal/orchestrator"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func (r *router) handleTurn(w http.ResponseWriter, req *http.Request) {
	if r.deps.Turns == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "orchestrator is unavailable"})
		return
	}
	var payload orchestrator.TurnRequest
	if !decodeJSON(w, req, &payload) {
		return
	}
	response, err := r.deps.Turns.HandleTurn(req.Context(), payload)
	if err != nil {
		r.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// handleTurnSocket serves one conversation per connection. Each text frame
// carries a TurnRequest and is answered with a TurnResponse, or with an
// {"error": ...} frame when the request is rejected.
func (r *router) handleTurnSocket(w http.ResponseWriter, req *http.Request) {
	if r.deps.Turns == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "orchestrator is unavailable"})
		return
	}
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxBodyBytes)

	ctx := req.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		var payload orchestrator.TurnRequest
		if err := json.Unmarshal(data, &payload); err != nil {
			if writeErr := conn.WriteJSON(map[string]string{"error": "invalid payload"}); writeErr != nil {
				return
			}
			continue
		}
		response, err := r.deps.Turns.HandleTurn(ctx, payload)
		if err != nil {
			message := "internal error"
			if errors.Is(err, agenterr.ErrVisitorRequired) || errors.Is(err, agenterr.ErrMessageRequired) {
				message = err.Error()
			} else {
				r.logger.Error("websocket turn failed", "error", err, "visitor_id", payload.VisitorID)
			}
			if writeErr := conn.WriteJSON(map[string]string{"error": message}); writeErr != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(response); err != nil {
			r.logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}
