// Package mcp exposes the conversation pipeline as Model Context Protocol
// tools so operators can drive and inspect it from MCP-capable clients.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dwizi/rapport/internal/classifier"
	"github.com/dwizi/rapport/internal/memory"
	"github.com/dwizi/rapport/internal/orchestrator"
	"github.com/dwizi/rapport/internal/profile"
)

const (
	ServerName    = "rapport"
	profileScheme = "rapport://visitors/"
)

type Classifier interface {
	Classify(ctx context.Context, in classifier.Input) classifier.Result
}

type Profiles interface {
	Get(ctx context.Context, visitorID string) (profile.Profile, error)
	Strategy(ctx context.Context, visitorID string) (profile.StrategyView, error)
}

type TurnHandler interface {
	HandleTurn(ctx context.Context, req orchestrator.TurnRequest) (orchestrator.TurnResponse, error)
}

type DecayRunner interface {
	RunOnce(ctx context.Context) (memory.DecayReport, error)
}

// Tools are the backends the server can reach. A nil field leaves the
// matching tool unregistered.
type Tools struct {
	Classifier Classifier
	Profiles   Profiles
	Turns      TurnHandler
	Decay      DecayRunner
}

func NewServer(tools Tools, version string, logger *slog.Logger) *sdkmcp.Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp")
	server := sdkmcp.NewServer(&sdkmcp.Implementation{Name: ServerName, Version: version}, nil)

	if tools.Classifier != nil {
		server.AddTool(&sdkmcp.Tool{
			Name:        "classify_message",
			Description: "Classify a visitor message into a conversational category with confidence and indicators.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message":          map[string]any{"type": "string"},
					"previousQuestion": map[string]any{"type": "string"},
					"messageOrdinal":   map[string]any{"type": "integer", "minimum": 1},
					"hourOfDay":        map[string]any{"type": "integer", "minimum": 0, "maximum": 23},
				},
				"required": []string{"message"},
			},
		}, func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
			var input classifier.Input
			if err := decodeArgs(req, &input); err != nil {
				return toolError(err), nil
			}
			if strings.TrimSpace(input.Message) == "" {
				return toolError(errors.New("message is required")), nil
			}
			if input.MessageOrdinal < 1 {
				input.MessageOrdinal = 1
			}
			return jsonResult(tools.Classifier.Classify(ctx, input))
		})
	}

	if tools.Profiles != nil {
		server.AddTool(&sdkmcp.Tool{
			Name:        "visitor_profile",
			Description: "Return the stored profile and strategy summary for a visitor.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"visitorId": map[string]any{"type": "string"},
				},
				"required": []string{"visitorId"},
			},
		}, func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
			var args struct {
				VisitorID string `json:"visitorId"`
			}
			if err := decodeArgs(req, &args); err != nil {
				return toolError(err), nil
			}
			view, err := profileView(ctx, tools.Profiles, args.VisitorID)
			if err != nil {
				return toolError(err), nil
			}
			return jsonResult(view)
		})
		server.AddResourceTemplate(&sdkmcp.ResourceTemplate{
			Name:        "visitor_profile",
			URITemplate: profileScheme + "{id}/profile",
			MIMEType:    "application/json",
			Description: "Visitor profile and strategy summary",
		}, func(ctx context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			if req == nil || req.Params == nil {
				return nil, errors.New("resource uri is required")
			}
			visitorID, ok := visitorFromURI(req.Params.URI)
			if !ok {
				return nil, fmt.Errorf("unsupported resource uri %q", req.Params.URI)
			}
			view, err := profileView(ctx, tools.Profiles, visitorID)
			if err != nil {
				return nil, err
			}
			raw, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return nil, err
			}
			return &sdkmcp.ReadResourceResult{Contents: []*sdkmcp.ResourceContents{{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(raw),
			}}}, nil
		})
	}

	if tools.Turns != nil {
		server.AddTool(&sdkmcp.Tool{
			Name:        "converse",
			Description: "Run one conversation turn for a visitor and return the reply with its pacing delay.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"visitorId":      map[string]any{"type": "string"},
					"message":        map[string]any{"type": "string"},
					"pendingProbeId": map[string]any{"type": "string"},
					"debug":          map[string]any{"type": "boolean"},
				},
				"required": []string{"visitorId", "message"},
			},
		}, func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
			var request orchestrator.TurnRequest
			if err := decodeArgs(req, &request); err != nil {
				return toolError(err), nil
			}
			response, err := tools.Turns.HandleTurn(ctx, request)
			if err != nil {
				return toolError(err), nil
			}
			return jsonResult(response)
		})
	}

	if tools.Decay != nil {
		server.AddTool(&sdkmcp.Tool{
			Name:        "memory_decay",
			Description: "Run one memory decay pass now and report how many vectors were tombstoned.",
			InputSchema: map[string]any{"type": "object"},
		}, func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
			report, err := tools.Decay.RunOnce(ctx)
			if err != nil {
				logger.Warn("decay tool failed", "error", err)
				return toolError(err), nil
			}
			return jsonResult(report)
		})
	}
	return server
}

// Handler serves the server over streamable HTTP.
func Handler(server *sdkmcp.Server) http.Handler {
	return sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server { return server }, nil)
}

// ServeStdio blocks until the client disconnects or ctx is cancelled.
func ServeStdio(ctx context.Context, server *sdkmcp.Server) error {
	if err := server.Run(ctx, &sdkmcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve mcp stdio: %w", err)
	}
	return nil
}

func profileView(ctx context.Context, profiles Profiles, visitorID string) (map[string]any, error) {
	current, err := profiles.Get(ctx, visitorID)
	if err != nil {
		return nil, err
	}
	view, err := profiles.Strategy(ctx, visitorID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"profile": current, "strategy": view}, nil
}

func visitorFromURI(uri string) (string, bool) {
	if !strings.HasPrefix(uri, profileScheme) || !strings.HasSuffix(uri, "/profile") {
		return "", false
	}
	visitorID := strings.TrimSuffix(strings.TrimPrefix(uri, profileScheme), "/profile")
	if visitorID == "" || strings.Contains(visitorID, "/") {
		return "", false
	}
	return visitorID, true
}

func decodeArgs(req *sdkmcp.CallToolRequest, target any) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, target); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func jsonResult(payload any) (*sdkmcp.CallToolResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &sdkmcp.CallToolResult{Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: string(raw)}}}, nil
}

func toolError(err error) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		IsError: true,
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: err.Error()}},
	}
}
