package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/chadiek/shop-assist/internal/conversation"
)

// ErrBusy is returned when Send is called while a dispatch is still
// outstanding. The controller's Thinking state should make this unreachable.
var ErrBusy = errors.New("dispatch: a request is already outstanding")

// Reply is a successful structured response from the reasoning backend.
type Reply struct {
	Text        string
	ContextType string
	Results     []conversation.ResultItem
}

type chatRequest struct {
	Query       string `json:"query"`
	ContextHint string `json:"contextHint"`
}

type chatResponse struct {
	ResponseText string                    `json:"responseText"`
	ContextType  string                    `json:"contextType"`
	ResultsFound int                       `json:"resultsFound"`
	Results      []conversation.ResultItem `json:"results"`
	Success      bool                      `json:"success"`
}

// Client issues single request/response calls to the backend reasoning
// endpoint. It performs no retries; failures surface immediately.
type Client struct {
	HTTPClient *http.Client
	Endpoint   string
	logger     *zap.Logger
	busy       atomic.Bool
}

// NewClient constructs a Client for the given endpoint URL.
func NewClient(endpoint string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		Endpoint:   endpoint,
		logger:     logger,
	}
}

// Send posts the user text plus an advisory context hint and decodes the
// structured reply. A non-2xx status, malformed payload, or success=false in
// the body are all reported as errors. At most one call may be in flight.
func (c *Client) Send(ctx context.Context, query string) (*Reply, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.busy.Store(false)

	if c.Endpoint == "" {
		return nil, fmt.Errorf("dispatch: backend endpoint not configured")
	}
	hint := ClassifyContext(query)
	body, _ := json.Marshal(chatRequest{Query: query, ContextHint: hint})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dispatch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("dispatch: backend status=%d body=%s", resp.StatusCode, string(b))
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("dispatch: decode response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("dispatch: backend reported failure")
	}
	c.logger.Debug("dispatch complete",
		zap.String("contextHint", hint),
		zap.String("contextType", out.ContextType),
		zap.Int("results", len(out.Results)),
		zap.Duration("elapsed", time.Since(start)))
	return &Reply{
		Text:        strings.TrimSpace(out.ResponseText),
		ContextType: out.ContextType,
		Results:     out.Results,
	}, nil
}
