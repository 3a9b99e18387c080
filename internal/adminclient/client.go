package adminclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dwizi/rapport/internal/classifier"
	"github.com/dwizi/rapport/internal/config"
	"github.com/dwizi/rapport/internal/heartbeat"
	"github.com/dwizi/rapport/internal/memory"
	"github.com/dwizi/rapport/internal/orchestrator"
	"github.com/dwizi/rapport/internal/profile"
	"github.com/dwizi/rapport/internal/scheduler"
)

type Client struct {
	baseURL string
	http    *http.Client
	tls     *tls.Config
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

type VisitorProfile struct {
	Profile  profile.Profile      `json:"profile"`
	Strategy profile.StrategyView `json:"strategy"`
}

func New(cfg config.Config) (*Client, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.APITLSSkipVerify,
	}
	if cfg.APITLSCAFile != "" {
		caBytes, err := os.ReadFile(cfg.APITLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read api tls ca file: %w", err)
		}
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM(caBytes); !ok {
			return nil, errors.New("parse api tls ca file")
		}
		tlsConfig.RootCAs = certPool
	}
	if cfg.APITLSCertFile != "" || cfg.APITLSKeyFile != "" {
		if cfg.APITLSCertFile == "" || cfg.APITLSKeyFile == "" {
			return nil, errors.New("both RAPPORT_API_TLS_CERT_FILE and RAPPORT_API_TLS_KEY_FILE are required")
		}
		clientCert, err := tls.LoadX509KeyPair(cfg.APITLSCertFile, cfg.APITLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load api tls client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	timeout := time.Duration(cfg.APITimeoutSec) * time.Second
	if timeout < time.Second {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		http: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
			Timeout: timeout,
		},
		tls: tlsConfig,
	}, nil
}

func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	if timeout < time.Second {
		return c
	}
	clone := *c
	if c.http == nil {
		clone.http = &http.Client{Timeout: timeout}
		return &clone
	}
	httpClone := *c.http
	httpClone.Timeout = timeout
	clone.http = &httpClone
	return &clone
}

func (c *Client) Turn(ctx context.Context, request orchestrator.TurnRequest) (orchestrator.TurnResponse, error) {
	request.VisitorID = strings.TrimSpace(request.VisitorID)
	if request.VisitorID == "" {
		return orchestrator.TurnResponse{}, errors.New("visitor id is required")
	}
	if strings.TrimSpace(request.Message) == "" {
		return orchestrator.TurnResponse{}, errors.New("message is required")
	}
	var response orchestrator.TurnResponse
	if err := c.postJSON(ctx, "/api/v1/turn", request, &response); err != nil {
		return orchestrator.TurnResponse{}, err
	}
	return response, nil
}

func (c *Client) Profile(ctx context.Context, visitorID string) (VisitorProfile, error) {
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return VisitorProfile{}, errors.New("visitor id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/visitors/"+url.PathEscape(visitorID)+"/profile", nil)
	if err != nil {
		return VisitorProfile{}, err
	}
	var response VisitorProfile
	if err := c.doJSON(req, &response); err != nil {
		return VisitorProfile{}, err
	}
	return response, nil
}

func (c *Client) Classify(ctx context.Context, input classifier.Input) (classifier.Result, error) {
	if strings.TrimSpace(input.Message) == "" {
		return classifier.Result{}, errors.New("message is required")
	}
	var response classifier.Result
	if err := c.postJSON(ctx, "/api/v1/classify", input, &response); err != nil {
		return classifier.Result{}, err
	}
	return response, nil
}

func (c *Client) Decay(ctx context.Context) (memory.DecayReport, error) {
	var response memory.DecayReport
	if err := c.postJSON(ctx, "/api/v1/decay", struct{}{}, &response); err != nil {
		return memory.DecayReport{}, err
	}
	return response, nil
}

func (c *Client) LastDecay(ctx context.Context) (scheduler.Run, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/decay", nil)
	if err != nil {
		return scheduler.Run{}, err
	}
	var response scheduler.Run
	if err := c.doJSON(req, &response); err != nil {
		return scheduler.Run{}, err
	}
	return response, nil
}

func (c *Client) Heartbeat(ctx context.Context) (heartbeat.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/heartbeat", nil)
	if err != nil {
		return heartbeat.Snapshot{}, err
	}
	var response heartbeat.Snapshot
	if err := c.doJSON(req, &response); err != nil {
		return heartbeat.Snapshot{}, err
	}
	return response, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(requestBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(res.StatusCode, res.Status, res.Body)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(code int, status string, body io.Reader) error {
	var apiError struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(body).Decode(&apiError)
	message := strings.TrimSpace(apiError.Error)
	if message == "" {
		message = status
	}
	return &APIError{StatusCode: code, Message: message}
}
