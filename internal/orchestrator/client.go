package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/peonhq/dashboard/internal/models"
	"github.com/peonhq/dashboard/pkg/logger"
	"github.com/peonhq/dashboard/pkg/metrics"
)

// APIKeyHeader carries the orchestrator credential on every upstream call.
const APIKeyHeader = "X-Api-Key"

const maxResponseBytes = 16 << 20

// Timeouts bounds each class of upstream call.
type Timeouts struct {
	Request time.Duration
	Stats   time.Duration
	Deploy  time.Duration
	Logs    time.Duration
	Probe   time.Duration
	Dial    time.Duration
}

// DefaultTimeouts returns the standard upstream bounds.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Request: 30 * time.Second,
		Stats:   10 * time.Second,
		Deploy:  60 * time.Second,
		Logs:    10 * time.Second,
		Probe:   10 * time.Second,
		Dial:    10 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	def := DefaultTimeouts()
	if t.Request <= 0 {
		t.Request = def.Request
	}
	if t.Stats <= 0 {
		t.Stats = def.Stats
	}
	if t.Deploy <= 0 {
		t.Deploy = def.Deploy
	}
	if t.Logs <= 0 {
		t.Logs = def.Logs
	}
	if t.Probe <= 0 {
		t.Probe = def.Probe
	}
	if t.Dial <= 0 {
		t.Dial = def.Dial
	}
	return t
}

// Options configures a Client.
type Options struct {
	Timeouts   Timeouts
	Rewriter   *URLRewriter
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Client talks to remote orchestrators over their /api/v1 REST surface and console websocket.
type Client struct {
	http     *http.Client
	dialer   *websocket.Dialer
	rewriter *URLRewriter
	timeouts Timeouts
	log      *zap.Logger
}

// NewClient constructs an upstream client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	dialer := opts.Dialer
	if dialer == nil {
		cpy := *websocket.DefaultDialer
		dialer = &cpy
	}
	return &Client{
		http:     httpClient,
		dialer:   dialer,
		rewriter: opts.Rewriter,
		timeouts: opts.Timeouts.withDefaults(),
		log:      logger.WithModule("orchestrator"),
	}
}

// Timeouts exposes the configured call bounds.
func (c *Client) Timeouts() Timeouts {
	return c.timeouts
}

// Response is a fully read upstream reply.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the body into dst.
func (r *Response) Decode(dst any) error {
	if err := json.Unmarshal(r.Body, dst); err != nil {
		return fmt.Errorf("orchestrator: decode response: %w", err)
	}
	return nil
}

// Payload returns the body as JSON when it parses, otherwise {"result": text}.
func (r *Response) Payload() any {
	var decoded any
	if len(bytes.TrimSpace(r.Body)) > 0 && json.Unmarshal(r.Body, &decoded) == nil {
		return decoded
	}
	return map[string]any{"result": string(r.Body)}
}

// StatusError builds the error describing a non-success reply.
func (r *Response) StatusError() *StatusError {
	return &StatusError{StatusCode: r.StatusCode, Detail: extractDetail(r.Body)}
}

// Request describes one upstream REST call relative to {base}/api/v1/.
type Request struct {
	Operation string
	Method    string
	Path      string
	Query     url.Values
	Body      any
	Timeout   time.Duration
}

// Do executes req against orch. Non-2xx statuses are returned as a Response, not an error;
// errors are ErrTimeout or *TransportError.
func (c *Client) Do(ctx context.Context, orch *models.Orchestrator, req Request) (*Response, error) {
	if orch == nil {
		return nil, errors.New("orchestrator: target is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeouts.Request
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.endpoint(orch.BaseURL, req.Path, req.Query)

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: build request: %w", err)
	}
	httpReq.Header.Set(APIKeyHeader, orch.APIKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	op := req.Operation
	if op == "" {
		op = "passthrough"
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.classify(ctx, op, orch, err, started)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.classify(ctx, op, orch, err, started)
	}

	metrics.UpstreamLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
	result := &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        payload,
	}
	if result.OK() {
		metrics.UpstreamRequests.WithLabelValues(op, "ok").Inc()
	} else {
		metrics.UpstreamRequests.WithLabelValues(op, "status").Inc()
	}
	return result, nil
}

// ListServers fetches the orchestrator's full server list.
func (c *Client) ListServers(ctx context.Context, orch *models.Orchestrator) ([]Server, error) {
	return c.ListServersWithTimeout(ctx, orch, c.timeouts.Request)
}

// ListServersWithTimeout fetches the server list under a caller supplied bound.
func (c *Client) ListServersWithTimeout(ctx context.Context, orch *models.Orchestrator, timeout time.Duration) ([]Server, error) {
	resp, err := c.Do(ctx, orch, Request{Operation: "list_servers", Path: "servers", Timeout: timeout})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, resp.StatusError()
	}

	var servers []Server
	if err := resp.Decode(&servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// Logs fetches the last lines of a server's console output.
func (c *Client) Logs(ctx context.Context, orch *models.Orchestrator, uid string, lines int, timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		timeout = c.timeouts.Logs
	}
	resp, err := c.Do(ctx, orch, Request{
		Operation: "logs",
		Path:      "server/logs/" + url.PathEscape(uid),
		Query:     url.Values{"lines": []string{strconv.Itoa(lines)}},
		Timeout:   timeout,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, resp.StatusError()
	}

	var payload struct {
		Logs []string `json:"logs"`
	}
	if err := resp.Decode(&payload); err != nil {
		return nil, err
	}
	return payload.Logs, nil
}

// ProbeStatus classifies a connection test.
type ProbeStatus string

const (
	ProbeSuccess           ProbeStatus = "success"
	ProbeInvalidCredential ProbeStatus = "invalid_credential"
	ProbeUnreachable       ProbeStatus = "unreachable"
	ProbeFailed            ProbeStatus = "failed"
)

// ProbeResult reports the outcome of Probe.
type ProbeResult struct {
	Status  ProbeStatus `json:"status"`
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Version string      `json:"version,omitempty"`
}

// Probe checks that baseURL answers GET /api/v1/orchestrator with apiKey.
func (c *Client) Probe(ctx context.Context, baseURL, apiKey string) ProbeResult {
	target := &models.Orchestrator{BaseURL: baseURL, APIKey: apiKey}
	resp, err := c.Do(ctx, target, Request{Operation: "probe", Path: "orchestrator", Timeout: c.timeouts.Probe})
	switch {
	case IsTimeout(err):
		return ProbeResult{Status: ProbeUnreachable, Message: "Connection timeout"}
	case err != nil:
		return ProbeResult{Status: ProbeUnreachable, Message: fmt.Sprintf("Connection error: %v", errors.Unwrap(err))}
	case resp.StatusCode == http.StatusOK:
		var info struct {
			Version string `json:"version"`
		}
		_ = resp.Decode(&info)
		version := info.Version
		if version == "" {
			version = "Unknown"
		}
		return ProbeResult{
			Status:  ProbeSuccess,
			Success: true,
			Message: "Connected successfully! Version: " + version,
			Version: info.Version,
		}
	case resp.StatusCode == http.StatusUnauthorized:
		return ProbeResult{Status: ProbeInvalidCredential, Message: "Invalid API key"}
	default:
		return ProbeResult{Status: ProbeFailed, Message: fmt.Sprintf("Connection failed: HTTP %d", resp.StatusCode)}
	}
}

// DialConsole opens the orchestrator's live console stream for uid.
func (c *Client) DialConsole(ctx context.Context, orch *models.Orchestrator, uid string) (*websocket.Conn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	wsURL, err := consoleURL(c.rewriter.Resolve(orch.BaseURL), uid)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Dial)
	defer cancel()

	header := http.Header{}
	header.Set(APIKeyHeader, orch.APIKey)

	started := time.Now()
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, c.classify(ctx, "console_dial", orch, err, started)
	}
	metrics.UpstreamRequests.WithLabelValues("console_dial", "ok").Inc()
	return conn, nil
}

func (c *Client) endpoint(baseURL, path string, query url.Values) string {
	base := strings.TrimRight(c.rewriter.Resolve(strings.TrimSpace(baseURL)), "/")
	endpoint := base + "/api/v1/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + query.Encode()
	}
	return endpoint
}

func (c *Client) classify(ctx context.Context, op string, orch *models.Orchestrator, err error, started time.Time) error {
	metrics.UpstreamLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())

	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		metrics.UpstreamRequests.WithLabelValues(op, "timeout").Inc()
		c.log.Warn("orchestrator request timed out",
			zap.String("operation", op),
			zap.String("orchestrator", orch.Name),
		)
		return ErrTimeout
	}

	metrics.UpstreamRequests.WithLabelValues(op, "error").Inc()
	c.log.Debug("orchestrator request failed",
		zap.String("operation", op),
		zap.String("orchestrator", orch.Name),
		zap.Error(err),
	)
	return &TransportError{Err: err}
}

func consoleURL(baseURL, uid string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("orchestrator: parse base url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("orchestrator: unsupported base url scheme %q", parsed.Scheme)
	}
	basePath := strings.TrimRight(parsed.Path, "/")
	parsed.Path = basePath + "/api/v1/ws/console/" + uid
	parsed.RawPath = basePath + "/api/v1/ws/console/" + url.PathEscape(uid)
	return parsed.String(), nil
}
