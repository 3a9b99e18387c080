package adminclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dwizi/rapport/internal/orchestrator"
)

// TurnStream is a websocket session against /api/v1/turn/ws. Send is
// request/response; concurrent callers are serialized.
type TurnStream struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

type streamFrame struct {
	orchestrator.TurnResponse
	Error string `json:"error,omitempty"`
}

func (c *Client) DialTurns(ctx context.Context) (*TurnStream, error) {
	endpoint, err := socketURL(c.baseURL, "/api/v1/turn/ws")
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
		TLSClientConfig:  c.tls,
	}
	conn, res, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if res != nil {
			defer res.Body.Close()
			return nil, decodeAPIError(res.StatusCode, res.Status, res.Body)
		}
		return nil, fmt.Errorf("dial turn stream: %w", err)
	}
	return &TurnStream{conn: conn}, nil
}

func (s *TurnStream) Send(ctx context.Context, request orchestrator.TurnRequest) (orchestrator.TurnResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
		_ = s.conn.SetReadDeadline(deadline)
		defer func() {
			_ = s.conn.SetWriteDeadline(time.Time{})
			_ = s.conn.SetReadDeadline(time.Time{})
		}()
	}
	if err := s.conn.WriteJSON(request); err != nil {
		return orchestrator.TurnResponse{}, fmt.Errorf("send turn: %w", err)
	}
	var frame streamFrame
	if err := s.conn.ReadJSON(&frame); err != nil {
		return orchestrator.TurnResponse{}, fmt.Errorf("read turn: %w", err)
	}
	if frame.Error != "" {
		return orchestrator.TurnResponse{}, errors.New(frame.Error)
	}
	return frame.TurnResponse, nil
}

func (s *TurnStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = s.conn.WriteMessage(websocket.CloseMessage, message)
	return s.conn.Close()
}

func socketURL(baseURL, path string) (string, error) {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + path, nil
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + path, nil
	default:
		return "", fmt.Errorf("unsupported api url %q", baseURL)
	}
}
