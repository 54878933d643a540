package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/peonhq/dashboard/internal/auth"
	"github.com/peonhq/dashboard/internal/models"
	"github.com/peonhq/dashboard/internal/orchestrator"
	apperrors "github.com/peonhq/dashboard/pkg/errors"
	"github.com/peonhq/dashboard/pkg/logger"
	"github.com/peonhq/dashboard/pkg/metrics"
)

// Session modes reported on the console gauge.
const (
	ModeRelay   = "relay"
	ModePolling = "polling"
)

const closeWait = time.Second

// PrincipalAuthenticator resolves the token presented on the websocket query string.
type PrincipalAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, *auth.Claims, error)
}

// ServerResolver authorises a principal for one server and returns its orchestrator.
type ServerResolver interface {
	ResolveServer(ctx context.Context, principal *models.User, orchestratorID, uid string) (*models.Orchestrator, error)
}

// Upstream is the orchestrator surface the bridge needs.
type Upstream interface {
	DialConsole(ctx context.Context, orch *models.Orchestrator, uid string) (*websocket.Conn, error)
	Logs(ctx context.Context, orch *models.Orchestrator, uid string, lines int, timeout time.Duration) ([]string, error)
}

// Options tunes the polling fallback.
type Options struct {
	PollInterval time.Duration
	ErrorBackoff time.Duration
	InitialLines int
	FetchLines   int
	FetchTimeout time.Duration
}

// DefaultOptions returns the production polling parameters.
func DefaultOptions() Options {
	return Options{
		PollInterval: 5 * time.Second,
		ErrorBackoff: 10 * time.Second,
		InitialLines: 20,
		FetchLines:   50,
		FetchTimeout: 10 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = def.ErrorBackoff
	}
	if o.InitialLines <= 0 {
		o.InitialLines = def.InitialLines
	}
	if o.FetchLines <= 0 {
		o.FetchLines = def.FetchLines
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = def.FetchTimeout
	}
	return o
}

// Bridge connects a dashboard console socket to an orchestrator's live stream,
// degrading to log polling when the orchestrator cannot stream.
type Bridge struct {
	authn    PrincipalAuthenticator
	resolver ServerResolver
	upstream Upstream
	opts     Options
	log      *zap.Logger
}

// NewBridge constructs a Bridge.
func NewBridge(authn PrincipalAuthenticator, resolver ServerResolver, upstream Upstream, opts Options) (*Bridge, error) {
	if authn == nil || resolver == nil || upstream == nil {
		return nil, errors.New("console bridge: authenticator, resolver and upstream are required")
	}
	return &Bridge{
		authn:    authn,
		resolver: resolver,
		upstream: upstream,
		opts:     opts.withDefaults(),
		log:      logger.WithModule("console"),
	}, nil
}

// Serve runs one console session on an already upgraded client socket. It
// returns when the session is over; the client socket is always closed.
func (b *Bridge) Serve(ctx context.Context, client *websocket.Conn, orchestratorID, uid, token string) {
	if ctx == nil {
		ctx = context.Background()
	}
	defer closeSocket(client)

	if token == "" {
		sendError(client, "Authentication required")
		return
	}
	principal, _, err := b.authn.Authenticate(ctx, token)
	switch {
	case errors.Is(err, auth.ErrInactivePrincipal):
		sendError(client, "Invalid user")
		return
	case err != nil:
		sendError(client, fmt.Sprintf("Authentication failed: %v", err))
		return
	}

	orch, err := b.resolver.ResolveServer(ctx, principal, orchestratorID, uid)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			sendError(client, "Orchestrator not found")
		} else {
			sendError(client, "Access denied")
		}
		return
	}

	if err := client.WriteJSON(map[string]any{
		"type":       "connected",
		"server_uid": uid,
		"message":    "Console stream connected",
	}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	upstream, err := b.upstream.DialConsole(ctx, orch, uid)
	if err != nil {
		b.log.Debug("console stream unavailable, polling",
			zap.String("orchestrator", orch.Name),
			zap.String("server", uid),
			zap.Error(err),
		)
		b.poll(ctx, client, orch, uid)
		return
	}
	b.relay(ctx, cancel, client, upstream)
}

func (b *Bridge) relay(ctx context.Context, cancel context.CancelFunc, client, upstream *websocket.Conn) {
	metrics.ConsoleSessions.WithLabelValues(ModeRelay).Inc()
	defer metrics.ConsoleSessions.WithLabelValues(ModeRelay).Dec()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		for {
			kind, payload, err := upstream.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		for {
			kind, payload, err := client.ReadMessage()
			if err != nil {
				return
			}
			if err := upstream.WriteMessage(kind, payload); err != nil {
				return
			}
		}
	}()

	<-ctx.Done()
	closeSocket(upstream)
	closeSocket(client)
	wg.Wait()
}

func (b *Bridge) poll(ctx context.Context, client *websocket.Conn, orch *models.Orchestrator, uid string) {
	metrics.ConsoleSessions.WithLabelValues(ModePolling).Inc()
	defer metrics.ConsoleSessions.WithLabelValues(ModePolling).Dec()

	if err := client.WriteJSON(map[string]any{
		"type":    "info",
		"message": "Real-time streaming not available, using polling mode",
	}); err != nil {
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sent := 0
	for {
		select {
		case <-gone:
			return
		case <-ctx.Done():
			return
		default:
		}

		wait := b.opts.PollInterval
		logs, err := b.upstream.Logs(ctx, orch, uid, b.opts.FetchLines, b.opts.FetchTimeout)
		switch {
		case err == nil:
			fresh := NewLines(logs, sent, b.opts.InitialLines)
			for _, line := range fresh {
				if err := client.WriteJSON(map[string]any{"type": "log", "data": line}); err != nil {
					return
				}
			}
			if len(logs) > sent {
				sent = len(logs)
			}
		case isStatus(err):
			// orchestrator has no usable logs endpoint right now; keep polling quietly
		default:
			if err := client.WriteJSON(map[string]any{
				"type":    "error",
				"message": fmt.Sprintf("Log fetch error: %v", err),
			}); err != nil {
				return
			}
			wait = b.opts.ErrorBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-gone:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// NewLines returns the lines of logs not yet emitted. On the first batch only
// the last initial lines are returned.
func NewLines(logs []string, sent, initial int) []string {
	if len(logs) <= sent {
		return nil
	}
	if sent > 0 {
		return logs[sent:]
	}
	if initial > 0 && len(logs) > initial {
		return logs[len(logs)-initial:]
	}
	return logs
}

func isStatus(err error) bool {
	_, ok := orchestrator.AsStatus(err)
	return ok
}

func sendError(conn *websocket.Conn, message string) {
	_ = conn.WriteJSON(map[string]string{"error": message})
}

func closeSocket(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWait))
	_ = conn.Close()
}
