package adminclient

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dwizi/rapport/internal/agenterr"
	"github.com/dwizi/rapport/internal/httpapi"
	"github.com/dwizi/rapport/internal/orchestrator"
)

type echoTurns struct{}

func (echoTurns) HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnResponse, error) {
	if req.VisitorID == "" {
		return orchestrator.TurnResponse{}, agenterr.ErrVisitorRequired
	}
	return orchestrator.TurnResponse{Reply: "you said " + req.Message, DelayMs: 1800}, nil
}

func TestTurnStreamRoundTrip(t *testing.T) {
	server := httptest.NewServer(httpapi.NewRouter(httpapi.Dependencies{
		Turns:  echoTurns{},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}))
	defer server.Close()

	client := &Client{baseURL: server.URL, http: server.Client()}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.DialTurns(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer stream.Close()

	response, err := stream.Send(ctx, orchestrator.TurnRequest{VisitorID: "v1", Message: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if response.Reply != "you said hello" || response.DelayMs != 1800 {
		t.Fatalf("unexpected response %+v", response)
	}

	_, err = stream.Send(ctx, orchestrator.TurnRequest{Message: "anonymous"})
	if err == nil || err.Error() != agenterr.ErrVisitorRequired.Error() {
		t.Fatalf("expected visitor error frame, got %v", err)
	}

	response, err = stream.Send(ctx, orchestrator.TurnRequest{VisitorID: "v1", Message: "still here"})
	if err != nil || response.Reply != "you said still here" {
		t.Fatalf("expected stream to survive error frame, got %+v %v", response, err)
	}
}

func TestSocketURL(t *testing.T) {
	for input, want := range map[string]string{
		"http://localhost:8080": "ws://localhost:8080/api/v1/turn/ws",
		"https://rapport.local": "wss://rapport.local/api/v1/turn/ws",
	} {
		got, err := socketURL(input, "/api/v1/turn/ws")
		if err != nil || got != want {
			t.Fatalf("socketURL(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := socketURL("localhost:8080", "/x"); err == nil {
		t.Fatal("expected error for url without scheme")
	}
}
