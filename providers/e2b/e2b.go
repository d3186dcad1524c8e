// Package e2b adapts the E2B container sandbox platform to the
// provider contract. Sandboxes are driven over E2B's REST control
// plane with an API key.
package e2b

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sandflow/sandflow/backend"
	"github.com/sandflow/sandflow/providers"
	"github.com/sandflow/sandflow/telemetry"
	"github.com/sandflow/sandflow/tracker"
	"github.com/sandflow/sandflow/types"
)

const (
	// DefaultEndpoint is E2B's hosted control plane.
	DefaultEndpoint = "https://api.e2b.dev"

	defaultTemplate = "base"
	logPollInterval = time.Second
	maxCodeSnippet  = 100
)

// nativeLanguages run through the sandbox code runtime directly; any
// other language is executed as a shell command.
var nativeLanguages = map[string]bool{
	"python":     true,
	"javascript": true,
	"typescript": true,
}

// Provider drives E2B sandboxes. It owns the in-memory map of active
// resources; the tracker owns their persisted records.
type Provider struct {
	mu      sync.RWMutex
	config  types.ProviderConfig
	client  *backend.Client
	tracker *tracker.Tracker
	active  map[string]*types.Resource
	logger  zerolog.Logger
}

var (
	_ providers.Provider   = (*Provider)(nil)
	_ providers.Reconciler = (*Provider)(nil)
)

// New builds an E2B provider rooted at dataDir. The API key must be
// resolved before the call; New fails with a configuration error when
// it is missing.
func New(config types.ProviderConfig, dataDir string, logger zerolog.Logger, opts ...tracker.Option) (*Provider, error) {
	apiKey := config.ResolveAPIKey()
	if apiKey == "" {
		return nil, types.NewFlowError("missing_api_key",
			"e2b provider requires an API key", types.CategoryConfiguration)
	}

	endpoint := config.BaseEndpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if config.Template == "" {
		config.Template = defaultTemplate
	}

	client := backend.NewClient(backend.Config{
		BaseURL:    endpoint,
		APIKey:     apiKey,
		AuthHeader: "X-API-Key",
		Timeout:    config.RequestTimeout,
	}, logger)

	tr, err := tracker.New(dataDir, "e2b", logger, opts...)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		config:  config,
		client:  client,
		tracker: tr,
		active:  restoreActive(tr),
		logger:  logger.With().Str("provider", "e2b").Logger(),
	}
	if len(p.active) > 0 {
		p.logger.Info().Int("count", len(p.active)).Msg("restored active sandboxes from tracker")
	}
	return p, nil
}

// restoreActive rebuilds the active map from tracked records, so
// sandboxes created by a previous process stay addressable.
func restoreActive(tr *tracker.Tracker) map[string]*types.Resource {
	active := make(map[string]*types.Resource)
	for _, resource := range tr.Live() {
		r := resource
		active[r.ID] = &r
	}
	return active
}

type createSandboxRequest struct {
	TemplateID string            `json:"templateID"`
	Timeout    int               `json:"timeout,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type createSandboxResponse struct {
	SandboxID  string `json:"sandboxID"`
	TemplateID string `json:"templateID"`
}

type sandboxInfo struct {
	SandboxID string    `json:"sandboxID"`
	StartedAt time.Time `json:"startedAt"`
	State     string    `json:"state"`
}

type executeRequest struct {
	Code      string `json:"code,omitempty"`
	Language  string `json:"language,omitempty"`
	Command   string `json:"command,omitempty"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
}

type executeResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// Initialize verifies the control plane is reachable and returns the
// declared capabilities.
func (p *Provider) Initialize(ctx context.Context) (providers.Capabilities, error) {
	var probe []sandboxInfo
	if err := p.client.Request(ctx, "GET", "/v2/sandboxes?limit=1", nil, &probe); err != nil {
		return providers.Capabilities{}, types.NewFlowError("init_failed",
			"e2b control plane unreachable", types.CategoryConnection).WithCause(err)
	}
	p.logger.Info().Msg("e2b provider initialized")
	return p.GetCapabilities(), nil
}

// CreateResource provisions a sandbox from the merged configuration.
// The remote sandbox is kept even if local bookkeeping fails.
func (p *Provider) CreateResource(ctx context.Context, config types.ProviderConfig) (types.ResourceView, error) {
	merged := config.MergeOver(p.config)

	req := createSandboxRequest{
		TemplateID: merged.Template,
		Metadata:   map[string]string{"sandflow": "true"},
	}
	if merged.RequestTimeout > 0 {
		req.Timeout = int(merged.RequestTimeout.Seconds())
	}

	var resp createSandboxResponse
	if err := p.client.Request(ctx, "POST", "/sandboxes", req, &resp); err != nil {
		return types.ResourceView{}, err
	}
	if resp.SandboxID == "" {
		return types.ResourceView{}, types.NewFlowError("invalid_creation_response",
			"invalid creation response: missing sandbox id", types.CategoryAPI)
	}

	resource := &types.Resource{
		ID:        resp.SandboxID,
		Type:      types.ResourceSandbox,
		Provider:  "e2b",
		Status:    types.StatusReady,
		Template:  merged.Template,
		CreatedAt: time.Now(),
		Config:    merged,
		Metadata:  map[string]string{},
	}

	p.mu.Lock()
	p.active[resource.ID] = resource
	p.mu.Unlock()

	p.tracker.Track(*resource)
	telemetry.RecordCreate(ctx, "e2b", int64(p.activeCount()))

	p.logger.Info().
		Str("sandbox_id", resource.ID).
		Str("template", merged.Template).
		Msg("sandbox created")
	return resource.View(), nil
}

// UpdateResource merges metadata into the resource. Fields the backend
// cannot mutate in place are warned about and skipped, not failed.
func (p *Provider) UpdateResource(ctx context.Context, id string, updates map[string]string) (types.ResourceView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resource, ok := p.active[id]
	if !ok {
		return types.ResourceView{}, notFoundError(id)
	}

	for key, value := range updates {
		if key == "template" {
			p.logger.Warn().
				Str("sandbox_id", id).
				Msg("sandbox template is immutable, ignoring update")
			continue
		}
		if resource.Metadata == nil {
			resource.Metadata = map[string]string{}
		}
		resource.Metadata[key] = value
	}

	view := resource.View()
	if err := p.tracker.Update(id, func(r *types.ResourceRecord) {
		r.Resource.Metadata = view.Metadata
	}); err != nil {
		p.logger.Warn().Err(err).Str("sandbox_id", id).Msg("record update failed")
	}
	return view, nil
}

// DeleteResource kills a sandbox. Unknown ids return success without a
// remote call so deletes are safe to retry. The in-memory entry is
// removed before the remote call; a concurrent execute on the same id
// fails fast instead of racing the delete.
func (p *Provider) DeleteResource(ctx context.Context, id string) error {
	p.mu.Lock()
	_, existed := p.active[id]
	delete(p.active, id)
	p.mu.Unlock()

	if !existed {
		p.logger.Debug().Str("sandbox_id", id).Msg("delete of unknown sandbox, nothing to do")
		return nil
	}

	if err := p.DeleteRemote(ctx, id); err != nil {
		// Record stays tracked so the cleaner retries the kill
		return err
	}

	record, err := p.tracker.Untrack(id)
	if err != nil {
		p.logger.Warn().Err(err).Str("sandbox_id", id).Msg("untrack failed")
	} else {
		telemetry.RecordDestroy(ctx, "e2b", record.Lifetime(time.Now()), int64(p.activeCount()))
	}
	p.logger.Info().Str("sandbox_id", id).Msg("sandbox deleted")
	return nil
}

// GetResourceStatus probes sandbox liveness. Unknown ids report
// not_found without error. A failed probe reports terminated, never
// assumes the sandbox is still alive.
func (p *Provider) GetResourceStatus(ctx context.Context, id string) (types.ResourceView, error) {
	p.mu.RLock()
	resource, ok := p.active[id]
	p.mu.RUnlock()

	if !ok {
		return types.ResourceView{ID: id, Provider: "e2b", Status: types.StatusNotFound}, nil
	}

	var info sandboxInfo
	if err := p.client.Request(ctx, "GET", "/sandboxes/"+id, nil, &info); err != nil {
		p.logger.Warn().Err(err).Str("sandbox_id", id).Msg("liveness probe failed, marking terminated")
		p.markTerminated(id)
		view := resource.View()
		view.Status = types.StatusTerminated
		return view, nil
	}

	return resource.View(), nil
}

// ListResources snapshots the active sandboxes.
func (p *Provider) ListResources(ctx context.Context) ([]types.ResourceView, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	views := make([]types.ResourceView, 0, len(p.active))
	for _, resource := range p.active {
		views = append(views, resource.View())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views, nil
}

// ExecuteAction runs code inside a sandbox. Only the execute action is
// supported. Native languages go through the code runtime; everything
// else runs as a shell command.
func (p *Provider) ExecuteAction(ctx context.Context, id, action string, params providers.ExecParams) (providers.Execution, error) {
	if action != "execute" {
		return providers.Execution{}, executionError(id, action, params.Code,
			"unsupported_action", fmt.Sprintf("unsupported action %q", action))
	}
	if params.Code == "" {
		return providers.Execution{}, executionError(id, action, params.Code,
			"missing_code", "missing code")
	}

	p.mu.RLock()
	_, ok := p.active[id]
	p.mu.RUnlock()
	if !ok {
		return providers.Execution{}, notFoundError(id)
	}

	req := executeRequest{}
	path := "/sandboxes/" + id + "/commands"
	if nativeLanguages[params.Language] {
		path = "/sandboxes/" + id + "/code"
		req.Code = params.Code
		req.Language = params.Language
	} else {
		req.Command = params.Code
	}
	if params.Timeout > 0 {
		req.TimeoutMs = params.Timeout.Milliseconds()
	}

	start := time.Now()
	var resp executeResponse
	err := p.client.Request(ctx, "POST", path, req, &resp)
	duration := time.Since(start)

	entry := types.ExecutionLogEntry{
		ID:         uuid.NewString(),
		Timestamp:  start,
		DurationMs: duration.Milliseconds(),
		Language:   params.Language,
		ExitCode:   resp.ExitCode,
		Success:    err == nil && resp.ExitCode == 0,
		Output:     resp.Stdout,
		Error:      resp.Stderr,
	}
	if logErr := p.tracker.LogExecution(id, entry); logErr != nil {
		p.logger.Warn().Err(logErr).Str("sandbox_id", id).Msg("execution log failed")
	}
	telemetry.RecordExecution(ctx, "e2b", params.Language, entry.Success, duration)

	if err != nil {
		return providers.Execution{}, executionError(id, action, params.Code,
			"execution_failed", "execution request failed").WithCause(err)
	}

	execution := providers.Execution{
		Stdout:     resp.Stdout,
		Stderr:     resp.Stderr,
		ExitCode:   resp.ExitCode,
		DurationMs: duration.Milliseconds(),
		Output:     resp.Stdout,
	}
	if resp.ExitCode != 0 {
		return execution, executionError(id, action, params.Code,
			"nonzero_exit", fmt.Sprintf("execution exited with code %d", resp.ExitCode)).
			WithDetail("exitCode", resp.ExitCode)
	}
	return execution, nil
}

// GetResourceLogs returns stored execution and log history.
func (p *Provider) GetResourceLogs(id string, opts types.LogOptions) ([]types.LogEntry, error) {
	return p.tracker.Logs(id, opts)
}

// StreamResourceLogs polls stored logs every second and emits new
// entries in chronological order until ctx is done. The backend has no
// push-log API; this is a documented approximation.
func (p *Provider) StreamResourceLogs(ctx context.Context, id string, fn func(types.LogEntry)) error {
	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()

	last := time.Time{}
	for {
		entries, err := p.tracker.Logs(id, types.LogOptions{Since: last.Add(time.Nanosecond)})
		if err != nil {
			return err
		}
		// Logs come back newest first; emit oldest first
		for i := len(entries) - 1; i >= 0; i-- {
			fn(entries[i])
			if entries[i].Timestamp.After(last) {
				last = entries[i].Timestamp
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// HealthCheck probes the control plane. Failures are folded into the
// result, never raised.
func (p *Provider) HealthCheck(ctx context.Context) providers.Health {
	health := providers.Health{
		Metrics:         p.tracker.Metrics(),
		ActiveResources: p.activeCount(),
	}

	var probe []sandboxInfo
	if err := p.client.Request(ctx, "GET", "/v2/sandboxes?limit=1", nil, &probe); err != nil {
		health.Status = "unhealthy"
		health.Error = err.Error()
		return health
	}

	health.Success = true
	health.Status = "healthy"
	return health
}

// GetCapabilities is a static descriptor. Pure, no I/O.
func (p *Provider) GetCapabilities() providers.Capabilities {
	return providers.Capabilities{
		SupportedLanguages:   []string{"python", "javascript", "typescript", "bash"},
		Features:             []string{"code-execution", "shell-execution", "filesystem"},
		MaxConcurrent:        p.config.MaxConcurrent,
		MaxExecutionTimeout:  "5m",
		SupportsLogStreaming: false,
	}
}

// GetMetrics returns the aggregate metrics for this backend.
func (p *Provider) GetMetrics() types.AggregateMetrics {
	return p.tracker.Metrics()
}

// Cleanup deletes every active sandbox best-effort, collecting
// failures instead of stopping at the first one.
func (p *Provider) Cleanup(ctx context.Context) providers.BatchResult {
	p.mu.RLock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	sort.Strings(ids)

	result := providers.BatchResult{}
	for _, id := range ids {
		if err := p.DeleteResource(ctx, id); err != nil {
			p.logger.Warn().Err(err).Str("sandbox_id", id).Msg("cleanup delete failed")
			result.Failed = append(result.Failed, providers.BatchFailure{ResourceID: id, Error: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

// ListRemote lists sandboxes as the backend sees them, bypassing local
// tracking. Used for untracked reconciliation.
func (p *Provider) ListRemote(ctx context.Context) ([]providers.RemoteResource, error) {
	var infos []sandboxInfo
	if err := p.client.Request(ctx, "GET", "/v2/sandboxes", nil, &infos); err != nil {
		return nil, err
	}

	remote := make([]providers.RemoteResource, 0, len(infos))
	for _, info := range infos {
		remote = append(remote, providers.RemoteResource{
			ID:        info.SandboxID,
			CreatedAt: info.StartedAt,
		})
	}
	return remote, nil
}

// DeleteRemote kills a sandbox directly. A 404 means the sandbox is
// already gone and counts as success.
func (p *Provider) DeleteRemote(ctx context.Context, id string) error {
	err := p.client.Request(ctx, "DELETE", "/sandboxes/"+id, nil, nil)
	if err == nil {
		return nil
	}
	if fe, ok := types.AsFlowError(err); ok {
		if status, found := fe.Details["status"]; found && status == 404 {
			return nil
		}
	}
	return err
}

// Tracker exposes the resource manager for the cleaner and tests.
func (p *Provider) Tracker() *tracker.Tracker {
	return p.tracker
}

func (p *Provider) activeCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active)
}

func (p *Provider) markTerminated(id string) {
	p.mu.Lock()
	if resource, ok := p.active[id]; ok {
		resource.Status = types.StatusTerminated
	}
	p.mu.Unlock()

	if err := p.tracker.SetStatus(id, types.StatusTerminated); err != nil {
		p.logger.Warn().Err(err).Str("sandbox_id", id).Msg("status update failed")
	}
}

func notFoundError(id string) *types.FlowError {
	return types.NewFlowError("resource_not_found",
		fmt.Sprintf("sandbox %s not found", id),
		types.CategoryResource).WithDetail("resourceId", id)
}

func executionError(id, action, code, errCode, message string) *types.FlowError {
	return types.NewFlowError(errCode, message, types.CategoryExecution).
		WithDetail("resourceId", id).
		WithDetail("action", action).
		WithDetail("code", snippet(code))
}

func snippet(code string) string {
	if len(code) <= maxCodeSnippet {
		return code
	}
	return code[:maxCodeSnippet]
}
