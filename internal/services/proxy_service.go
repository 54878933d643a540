package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/peonhq/dashboard/internal/models"
	"github.com/peonhq/dashboard/internal/orchestrator"
	"github.com/peonhq/dashboard/internal/permissions"
	apperrors "github.com/peonhq/dashboard/pkg/errors"
	"github.com/peonhq/dashboard/pkg/logger"
	"github.com/peonhq/dashboard/pkg/validator"
)

// AccessResolver answers grant questions for a principal.
type AccessResolver interface {
	CanAccessInstance(ctx context.Context, principal *models.User, orchestratorID string) (bool, error)
	CanAccessServer(ctx context.Context, principal *models.User, orchestratorID, serverUID string) (bool, error)
	AllowedServerIDs(ctx context.Context, principal *models.User, orchestratorID string) (map[string]struct{}, bool, error)
}

// DefaultLogLines is the number of console lines returned when the caller does not ask for a count.
const DefaultLogLines = 100

// ServerList is the filtered result of a live server listing.
type ServerList struct {
	Servers    []orchestrator.Server `json:"servers"`
	LastSynced time.Time             `json:"last_synced"`
}

// DeployRequest asks an orchestrator to create a new server.
type DeployRequest struct {
	GameUID     string         `json:"game_uid" validate:"required"`
	ServerName  string         `json:"server_name" validate:"required"`
	Environment map[string]any `json:"environment"`
}

// DeployResult acknowledges that a deployment was accepted upstream.
type DeployResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// RelayResult is an upstream reply relayed as-is.
type RelayResult struct {
	StatusCode int
	Payload    any
}

// LogsResult is the non-streaming console view.
type LogsResult struct {
	Logs      []string `json:"logs"`
	ServerUID string   `json:"server_uid"`
	Lines     int      `json:"lines"`
	Note      string   `json:"note,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ProxyOptions configures a ProxyService.
type ProxyOptions struct {
	PlansDir string
	Clock    func() time.Time
}

// ProxyService authorises dashboard calls and relays them to the owning orchestrator.
// The access check always runs before any upstream traffic.
type ProxyService struct {
	orchestrators *OrchestratorService
	access        AccessResolver
	client        *orchestrator.Client
	snapshots     *SnapshotStore
	audit         Auditor
	plansDir      string
	now           func() time.Time
	log           *zap.Logger
}

// NewProxyService constructs a ProxyService.
func NewProxyService(orchestrators *OrchestratorService, access AccessResolver, client *orchestrator.Client, snapshots *SnapshotStore, audit Auditor, opts ProxyOptions) (*ProxyService, error) {
	switch {
	case orchestrators == nil:
		return nil, errors.New("proxy service: orchestrator service is required")
	case access == nil:
		return nil, errors.New("proxy service: access resolver is required")
	case client == nil:
		return nil, errors.New("proxy service: orchestrator client is required")
	case snapshots == nil:
		return nil, errors.New("proxy service: snapshot store is required")
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &ProxyService{
		orchestrators: orchestrators,
		access:        access,
		client:        client,
		snapshots:     snapshots,
		audit:         audit,
		plansDir:      strings.TrimSpace(opts.PlansDir),
		now:           now,
		log:           logger.WithModule("proxy"),
	}, nil
}

// ListServers fetches the live server list, filters it to what principal may
// see and refreshes the cached snapshot with the full fetched list.
func (s *ProxyService) ListServers(ctx context.Context, principal *models.User, orchestratorID string) (*ServerList, error) {
	ctx = ensureContext(ctx)

	if err := s.requireInstance(ctx, principal, orchestratorID, "Access denied to this orchestrator"); err != nil {
		return nil, err
	}
	orch, err := s.orchestrators.GetActive(ctx, orchestratorID)
	if err != nil {
		return nil, err
	}

	servers, err := s.client.ListServers(ctx, orch)
	if err != nil {
		return nil, upstreamError(err, "Failed to fetch servers")
	}

	now := s.now().UTC()
	if err := s.snapshots.ReplaceSnapshot(ctx, orch.ID, servers, now); err != nil {
		s.log.Warn("failed to refresh snapshot from live listing",
			zap.String("orchestrator", orch.Name),
			zap.Error(err),
		)
	}

	allowed, all, err := s.access.AllowedServerIDs(ctx, principal, orch.ID)
	if err != nil {
		return nil, fmt.Errorf("proxy service: resolve allowed servers: %w", err)
	}
	visible := permissions.FilterServers(servers, allowed, all, orchestrator.Server.UID)
	if visible == nil {
		visible = []orchestrator.Server{}
	}

	return &ServerList{Servers: visible, LastSynced: now}, nil
}

// ServerInfo returns the upstream detail record for one server.
func (s *ProxyService) ServerInfo(ctx context.Context, principal *models.User, orchestratorID, uid string) (any, error) {
	ctx = ensureContext(ctx)

	orch, err := s.authorisedServer(ctx, principal, orchestratorID, uid)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(ctx, orch, orchestrator.Request{
		Operation: "server_info",
		Path:      "server/get/" + url.PathEscape(uid),
	})
	if err != nil {
		return nil, upstreamError(err, "")
	}
	if !resp.OK() {
		return nil, upstreamError(resp.StatusError(), "Failed to get server info")
	}
	return resp.Payload(), nil
}

// ServerStats returns resource stats, deriving a minimal view from the info
// record when the orchestrator has no usable stats endpoint.
func (s *ProxyService) ServerStats(ctx context.Context, principal *models.User, orchestratorID, uid string) (any, error) {
	ctx = ensureContext(ctx)

	orch, err := s.authorisedServer(ctx, principal, orchestratorID, uid)
	if err != nil {
		return nil, err
	}

	timeout := s.client.Timeouts().Stats
	resp, err := s.client.Do(ctx, orch, orchestrator.Request{
		Operation: "server_stats",
		Path:      "server/stats/" + url.PathEscape(uid),
		Timeout:   timeout,
	})
	if err != nil {
		return nil, upstreamError(err, "")
	}
	if resp.StatusCode == http.StatusOK {
		return resp.Payload(), nil
	}

	info, err := s.client.Do(ctx, orch, orchestrator.Request{
		Operation: "server_info",
		Path:      "server/get/" + url.PathEscape(uid),
		Timeout:   timeout,
	})
	if err != nil {
		return nil, upstreamError(err, "")
	}
	if info.StatusCode != http.StatusOK {
		return statsUnavailable(), nil
	}

	var record map[string]any
	if err := info.Decode(&record); err != nil {
		return statsUnavailable(), nil
	}
	return statsFromInfo(record), nil
}

// Deploy asks the orchestrator to create a server. Admin only. The response
// acknowledges acceptance, not completion.
func (s *ProxyService) Deploy(ctx context.Context, principal *models.User, orchestratorID string, req DeployRequest) (*DeployResult, error) {
	ctx = ensureContext(ctx)

	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	if err := validator.ValidateStruct(req); err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}
	orch, err := s.orchestrators.Get(ctx, orchestratorID)
	if err != nil {
		return nil, err
	}

	payload := make(map[string]any, len(req.Environment)+2)
	for key, value := range req.Environment {
		payload[key] = value
	}
	payload["game_uid"] = req.GameUID
	payload["servername"] = req.ServerName

	resp, err := s.client.Do(ctx, orch, orchestrator.Request{
		Operation: "deploy",
		Method:    http.MethodPost,
		Path:      "server/create",
		Body:      payload,
		Timeout:   s.client.Timeouts().Deploy,
	})
	if err != nil {
		return nil, upstreamError(err, "")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, upstreamError(resp.StatusError(), "Deploy failed")
	}

	uid := orchestrator.ServerUID(req.GameUID, req.ServerName)
	recordAudit(s.audit, ctx, AuditEntry{
		Action:     "create",
		Category:   AuditCategoryServer,
		TargetType: "server",
		TargetID:   uid,
		Details:    fmt.Sprintf("Deployed server %s on %s", uid, orch.Name),
	})

	return &DeployResult{
		Success: true,
		Message: "Server deployment initiated",
		Data:    resp.Payload(),
	}, nil
}

// ServerAction runs a lifecycle verb on one server. Control verbs need the
// admin role whatever the grants say; every verb needs server access.
func (s *ProxyService) ServerAction(ctx context.Context, principal *models.User, orchestratorID, action, uid, mode string) (any, error) {
	ctx = ensureContext(ctx)

	action = strings.ToLower(strings.TrimSpace(action))
	if validator.IsServerAction(action) {
		if err := requireAdmin(principal); err != nil {
			return nil, apperrors.ErrAdminRequired.WithMessage("Server control requires admin access")
		}
	}

	orch, err := s.authorisedServer(ctx, principal, orchestratorID, uid)
	if err != nil {
		return nil, err
	}

	var body any
	if action == "update" {
		if strings.TrimSpace(mode) == "" {
			mode = "full"
		}
		body = map[string]string{"mode": strings.TrimSpace(mode)}
	}

	resp, err := s.client.Do(ctx, orch, orchestrator.Request{
		Operation: "server_action",
		Method:    http.MethodPut,
		Path:      "server/" + url.PathEscape(action) + "/" + url.PathEscape(uid),
		Body:      body,
	})
	if err != nil {
		return nil, upstreamError(err, "")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(resp.StatusError(), "Action failed")
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:     "action",
		Category:   AuditCategoryServer,
		TargetType: "server",
		TargetID:   uid,
		Details:    fmt.Sprintf("Executed %s on server %s (%s)", action, uid, orch.Name),
	})
	return resp.Payload(), nil
}

// Passthrough relays an arbitrary call under /api/v1/. Paths naming a control
// verb anywhere require the admin role. Principals limited to specific servers
// may only reach paths naming one of them, and see a filtered server listing.
func (s *ProxyService) Passthrough(ctx context.Context, principal *models.User, orchestratorID, method, path string, body []byte) (*RelayResult, error) {
	ctx = ensureContext(ctx)

	method = strings.ToUpper(strings.TrimSpace(method))
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return nil, apperrors.New("METHOD_NOT_ALLOWED", "Method not allowed", http.StatusMethodNotAllowed)
	}

	path = strings.TrimLeft(path, "/")
	if mentionsControlAction(path) {
		if err := requireAdmin(principal); err != nil {
			return nil, apperrors.ErrAdminRequired.WithMessage("Server control requires admin access")
		}
	}
	if err := s.requireInstance(ctx, principal, orchestratorID, "Access denied"); err != nil {
		return nil, err
	}

	req := orchestrator.Request{Operation: "passthrough", Method: method}
	req.Path, req.Query = splitQuery(path)

	allowed, all, err := s.access.AllowedServerIDs(ctx, principal, orchestratorID)
	if err != nil {
		return nil, fmt.Errorf("proxy service: resolve allowed servers: %w", err)
	}
	listing := method == http.MethodGet && strings.Trim(req.Path, "/") == "servers"
	if !all && !listing && !namesAllowedServer(req.Path, allowed) {
		return nil, apperrors.ErrForbidden.WithMessage("Access denied")
	}

	if method == http.MethodPost || method == http.MethodPut {
		if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
			if !json.Valid(body) {
				return nil, apperrors.NewBadRequest("request body must be valid JSON")
			}
			req.Body = json.RawMessage(body)
		}
	}

	orch, err := s.orchestrators.Get(ctx, orchestratorID)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(ctx, orch, req)
	if err != nil {
		return nil, upstreamError(err, "")
	}
	if listing && !all && resp.OK() {
		var servers []orchestrator.Server
		if err := resp.Decode(&servers); err != nil {
			servers = nil
		}
		visible := permissions.FilterServers(servers, allowed, false, orchestrator.Server.UID)
		return &RelayResult{StatusCode: resp.StatusCode, Payload: visible}, nil
	}
	return &RelayResult{StatusCode: resp.StatusCode, Payload: resp.Payload()}, nil
}

// namesAllowedServer reports whether any segment of path is a granted server uid.
func namesAllowedServer(path string, allowed map[string]struct{}) bool {
	for _, segment := range strings.Split(path, "/") {
		if decoded, err := url.PathUnescape(segment); err == nil {
			segment = decoded
		}
		if _, ok := allowed[segment]; ok && segment != "" {
			return true
		}
	}
	return false
}

// Logs returns recent console lines. Orchestrators without a logs endpoint, or
// that cannot be reached, yield an explanatory placeholder instead of an error.
func (s *ProxyService) Logs(ctx context.Context, principal *models.User, orchestratorID, uid string, lines int) (*LogsResult, error) {
	ctx = ensureContext(ctx)

	if lines <= 0 {
		lines = DefaultLogLines
	}
	orch, err := s.authorisedServer(ctx, principal, orchestratorID, uid)
	if err != nil {
		return nil, err
	}

	logs, err := s.client.Logs(ctx, orch, uid, lines, s.client.Timeouts().Request)
	switch {
	case err == nil:
		if logs == nil {
			logs = []string{}
		}
		return &LogsResult{Logs: logs, ServerUID: uid, Lines: lines}, nil
	case orchestrator.IsTimeout(err):
		return nil, apperrors.ErrGatewayTimeout.WithInternal(err)
	case isStatus(err):
		return &LogsResult{
			Logs: []string{
				fmt.Sprintf("[INFO] Server %s console logs", uid),
				"[INFO] Logs streaming is available when the orchestrator supports it",
				"[INFO] Contact your orchestrator administrator to enable this feature",
			},
			ServerUID: uid,
			Lines:     lines,
			Note:      "Live logs require an orchestrator with a logs endpoint",
		}, nil
	default:
		return &LogsResult{
			Logs: []string{
				fmt.Sprintf("[WARNING] Could not fetch logs: %v", err),
				"[INFO] This may be due to orchestrator configuration",
			},
			ServerUID: uid,
			Lines:     lines,
			Error:     err.Error(),
		}, nil
	}
}

// Plans lists the game plans found under the plans directory as <game_uid>/plan.json.
func (s *ProxyService) Plans(ctx context.Context) ([]map[string]any, error) {
	plans := []map[string]any{}
	if s.plansDir == "" {
		return plans, nil
	}

	entries, err := os.ReadDir(s.plansDir)
	if errors.Is(err, os.ErrNotExist) {
		return plans, nil
	}
	if err != nil {
		return nil, fmt.Errorf("proxy service: read plans dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if ctx != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !entry.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.plansDir, entry.Name(), "plan.json"))
		if err != nil {
			continue
		}
		var plan map[string]any
		if err := json.Unmarshal(raw, &plan); err != nil {
			s.log.Debug("skipping unreadable plan", zap.String("game_uid", entry.Name()), zap.Error(err))
			continue
		}
		plan["game_uid"] = entry.Name()
		plans = append(plans, plan)
	}
	return plans, nil
}

// ResolveServer authorises principal for one server and returns its orchestrator.
// The console bridge uses it before opening any upstream channel.
func (s *ProxyService) ResolveServer(ctx context.Context, principal *models.User, orchestratorID, uid string) (*models.Orchestrator, error) {
	return s.authorisedServer(ensureContext(ctx), principal, orchestratorID, uid)
}

func (s *ProxyService) requireInstance(ctx context.Context, principal *models.User, orchestratorID, message string) error {
	if principal == nil {
		return apperrors.ErrUnauthorized
	}
	ok, err := s.access.CanAccessInstance(ctx, principal, orchestratorID)
	if err != nil {
		return fmt.Errorf("proxy service: check instance access: %w", err)
	}
	if !ok {
		return apperrors.ErrForbidden.WithMessage(message)
	}
	return nil
}

func (s *ProxyService) authorisedServer(ctx context.Context, principal *models.User, orchestratorID, uid string) (*models.Orchestrator, error) {
	if principal == nil {
		return nil, apperrors.ErrUnauthorized
	}
	if strings.TrimSpace(uid) == "" {
		return nil, apperrors.NewBadRequest("server uid is required")
	}
	ok, err := s.access.CanAccessServer(ctx, principal, orchestratorID, uid)
	if err != nil {
		return nil, fmt.Errorf("proxy service: check server access: %w", err)
	}
	if !ok {
		return nil, apperrors.ErrForbidden.WithMessage("Access denied")
	}
	return s.orchestrators.Get(ctx, orchestratorID)
}

func mentionsControlAction(path string) bool {
	lower := strings.ToLower(path)
	for action := range validator.ServerActions {
		if strings.Contains(lower, action) {
			return true
		}
	}
	return false
}

func splitQuery(path string) (string, url.Values) {
	base, rawQuery, found := strings.Cut(path, "?")
	if !found {
		return base, nil
	}
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return base, nil
	}
	return base, query
}

func isStatus(err error) bool {
	_, ok := orchestrator.AsStatus(err)
	return ok
}

func statsUnavailable() map[string]any {
	return map[string]any{"message": "Stats not available"}
}

func statsFromInfo(record map[string]any) map[string]any {
	stats := map[string]any{}
	if uptime, ok := record["time"]; ok && uptime != nil && uptime != "" {
		stats["uptime"] = uptime
	}
	if cfg, ok := record["server_config"].(map[string]any); ok {
		if players, ok := cfg["players"]; ok {
			stats["players"] = players
		}
		if maxPlayers, ok := cfg["max_players"]; ok {
			stats["max_players"] = maxPlayers
		}
	}
	if state, _ := record["container_state"].(string); state == "running" {
		stats["health"] = "healthy"
	} else {
		stats["health"] = "stopped"
	}
	return stats
}
