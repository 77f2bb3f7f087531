// ABOUTME: Streaming client for the Gemini streamGenerateContent API.
// ABOUTME: Classifies upstream failures into auth, quota, and unclassified errors.

package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultModel is used when no model selector is supplied or the selector
// is unknown.
const DefaultModel = "gemini-1.5-flash-latest"

// modelAliases maps client-facing model selectors to concrete upstream
// model identifiers.
var modelAliases = map[string]string{
	"flash": "gemini-1.5-flash-latest",
	"pro":   "gemini-1.5-pro-latest",
}

// ResolveModel maps a model selector to a concrete model id. Unknown or
// empty selectors fall back to DefaultModel.
func ResolveModel(selector string) string {
	if model, ok := modelAliases[selector]; ok {
		return model
	}
	return DefaultModel
}

// Classified upstream errors
var (
	// ErrInvalidAPIKey means the credential was rejected by the API.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrQuotaExhausted means the caller's rate or quota limit was exceeded.
	ErrQuotaExhausted = errors.New("api quota exhausted")
)

// Role constants in the Gemini wire vocabulary
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is one prior exchange entry sent as context with a request.
type Turn struct {
	Role string // "user" or "model"
	Text string
}

// StreamRequest contains everything needed to open a generation stream.
type StreamRequest struct {
	APIKey  string // sensitive, never logged
	Model   string // concrete model id (already resolved)
	Prompt  string
	History []Turn
}

// Chunk is one unit of streamed output. A Chunk carries either fragment
// text or a terminal mid-stream error, never both.
type Chunk struct {
	Text string
	Err  error
}

// Client talks to the Gemini generative language API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client against the production Gemini endpoint.
func NewClient() *Client {
	return NewClientWithBaseURL(defaultBaseURL)
}

// NewClientWithBaseURL creates a client against a specific endpoint.
// Used by tests to point at a local server.
func NewClientWithBaseURL(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			// No overall timeout: generation streams are long-lived and
			// bounded by the request context instead.
			Timeout: 0,
		},
		logger: slog.Default().With("component", "gemini"),
	}
}

// Wire types for the streamGenerateContent request/response
type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Stream opens a generation stream for the given request. Failures detected
// before any output (bad credential, quota, transport) are returned
// synchronously; after that, fragments arrive on the returned channel in
// upstream order. A mid-stream failure is delivered as a final Chunk with
// Err set. The channel is closed when the stream ends for any reason.
func (c *Client) Stream(ctx context.Context, req *StreamRequest) (<-chan Chunk, error) {
	contents := make([]content, 0, len(req.History)+1)
	for _, turn := range req.History {
		contents = append(contents, content{
			Role:  turn.Role,
			Parts: []part{{Text: turn.Text}},
		})
	}
	contents = append(contents, content{
		Role:  RoleUser,
		Parts: []part{{Text: req.Prompt}},
	})

	body, err := json.Marshal(generateRequest{Contents: contents})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// The key travels in a header, not the URL, so it cannot leak into
	// access logs.
	httpReq.Header.Set("x-goog-api-key", req.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling gemini: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.classifyStatus(resp)
	}

	c.logger.Debug("stream opened",
		"model", req.Model,
		"history_len", len(req.History),
		"connect_ms", time.Since(start).Milliseconds())

	ch := make(chan Chunk)
	go c.readStream(resp.Body, ch)
	return ch, nil
}

// classifyStatus maps an upstream error response to a classified error.
func (c *Client) classifyStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	detail := ""
	var e apiError
	if err := json.Unmarshal(raw, &e); err == nil {
		detail = e.Error.Message
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrInvalidAPIKey, resp.StatusCode, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrQuotaExhausted, detail)
	default:
		return fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, detail)
	}
}

// readStream parses the SSE-framed response body and forwards text
// fragments. Runs in its own goroutine; always closes the body and the
// channel.
func (c *Client) readStream(body io.ReadCloser, ch chan<- Chunk) {
	defer close(ch)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var chunk generateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Keep-alive or unrecognized frame
			continue
		}
		for _, cand := range chunk.Candidates {
			for _, p := range cand.Content.Parts {
				if p.Text != "" {
					ch <- Chunk{Text: p.Text}
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		ch <- Chunk{Err: fmt.Errorf("reading stream: %w", err)}
	}
}
