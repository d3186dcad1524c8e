// Package lambda adapts AWS Lambda to the provider contract. Each
// resource is one function running the sandflow execution runner;
// executeAction invokes it synchronously.
package lambda

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sandflow/sandflow/providers"
	"github.com/sandflow/sandflow/telemetry"
	"github.com/sandflow/sandflow/tracker"
	"github.com/sandflow/sandflow/types"
)

const (
	functionPrefix  = "sandflow-"
	defaultRuntime  = "python3.12"
	logPollInterval = time.Second
	maxCodeSnippet  = 100

	// lastModifiedLayout is the timestamp format Lambda reports.
	lastModifiedLayout = "2006-01-02T15:04:05.000-0700"
)

// Provider drives sandflow functions on AWS Lambda.
type Provider struct {
	mu      sync.RWMutex
	api     API
	config  types.ProviderConfig
	roleArn string
	tracker *tracker.Tracker
	active  map[string]*types.Resource
	logger  zerolog.Logger
}

var (
	_ providers.Provider   = (*Provider)(nil)
	_ providers.Reconciler = (*Provider)(nil)
)

// New builds a Lambda provider using the default AWS credential chain.
// The execution role ARN must be supplied in Extras["role_arn"].
func New(config types.ProviderConfig, dataDir string, logger zerolog.Logger, opts ...tracker.Option) (*Provider, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if config.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(config.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, types.NewFlowError("aws_config_failed",
			"cannot load AWS configuration", types.CategoryConfiguration).WithCause(err)
	}
	return NewWithAPI(awslambda.NewFromConfig(awsCfg), config, dataDir, logger, opts...)
}

// NewWithAPI builds a provider over an explicit Lambda API, used by
// tests to substitute a mock.
func NewWithAPI(api API, config types.ProviderConfig, dataDir string, logger zerolog.Logger, opts ...tracker.Option) (*Provider, error) {
	roleArn := config.Extras["role_arn"]
	if roleArn == "" {
		return nil, types.NewFlowError("missing_role_arn",
			"lambda provider requires extras.role_arn", types.CategoryConfiguration)
	}
	if config.Template == "" {
		config.Template = defaultRuntime
	}

	tr, err := tracker.New(dataDir, "lambda", logger, opts...)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		api:     api,
		config:  config,
		roleArn: roleArn,
		tracker: tr,
		active:  restoreActive(tr),
		logger:  logger.With().Str("provider", "lambda").Logger(),
	}
	if len(p.active) > 0 {
		p.logger.Info().Int("count", len(p.active)).Msg("restored active functions from tracker")
	}
	return p, nil
}

// restoreActive rebuilds the active map from tracked records, so
// functions deployed by a previous process stay addressable.
func restoreActive(tr *tracker.Tracker) map[string]*types.Resource {
	active := make(map[string]*types.Resource)
	for _, resource := range tr.Live() {
		r := resource
		active[r.ID] = &r
	}
	return active
}

// Initialize performs one ListFunctions round-trip to verify
// credentials and returns the declared capabilities.
func (p *Provider) Initialize(ctx context.Context) (providers.Capabilities, error) {
	_, err := p.api.ListFunctions(ctx, &awslambda.ListFunctionsInput{MaxItems: aws.Int32(1)})
	if err != nil {
		return providers.Capabilities{}, types.NewFlowError("init_failed",
			"lambda API unreachable", types.CategoryConnection).WithCause(mapAWSError(err, "ListFunctions"))
	}
	p.logger.Info().Msg("lambda provider initialized")
	return p.GetCapabilities(), nil
}

// CreateResource deploys a runner function and waits for it to become
// active.
func (p *Provider) CreateResource(ctx context.Context, config types.ProviderConfig) (types.ResourceView, error) {
	merged := config.MergeOver(p.config)

	archive, err := runnerZip()
	if err != nil {
		return types.ResourceView{}, types.NewFlowError("runner_build_failed",
			"cannot package execution runner", types.CategoryConfiguration).WithCause(err)
	}

	name := functionPrefix + uuid.NewString()
	input := &awslambda.CreateFunctionInput{
		FunctionName: aws.String(name),
		Role:         aws.String(p.roleArn),
		Runtime:      lambdatypes.Runtime(merged.Template),
		Handler:      aws.String("handler.main"),
		Code:         &lambdatypes.FunctionCode{ZipFile: archive},
		Tags:         map[string]string{"sandflow": "true"},
	}
	if merged.RequestTimeout > 0 {
		input.Timeout = aws.Int32(int32(merged.RequestTimeout.Seconds()))
	}

	out, err := p.api.CreateFunction(ctx, input)
	if err != nil {
		return types.ResourceView{}, mapAWSError(err, "CreateFunction")
	}
	if out.FunctionName == nil || *out.FunctionName == "" {
		return types.ResourceView{}, types.NewFlowError("invalid_creation_response",
			"invalid creation response: missing function name", types.CategoryAPI)
	}

	waiter := awslambda.NewFunctionActiveV2Waiter(p.api)
	if err := waiter.Wait(ctx, &awslambda.GetFunctionInput{
		FunctionName: out.FunctionName,
	}, time.Minute); err != nil {
		p.logger.Warn().Err(err).Str("function", *out.FunctionName).
			Msg("function did not reach active state in time")
	}

	resource := &types.Resource{
		ID:        *out.FunctionName,
		Type:      types.ResourceFunction,
		Provider:  "lambda",
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
	telemetry.RecordCreate(ctx, "lambda", int64(p.activeCount()))

	p.logger.Info().
		Str("function", resource.ID).
		Str("runtime", merged.Template).
		Msg("function created")
	return resource.View(), nil
}

// UpdateResource merges metadata. The runtime and deployed code are
// immutable per resource; updates naming them are warned and skipped.
func (p *Provider) UpdateResource(ctx context.Context, id string, updates map[string]string) (types.ResourceView, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resource, ok := p.active[id]
	if !ok {
		return types.ResourceView{}, notFoundError(id)
	}

	for key, value := range updates {
		if key == "template" || key == "runtime" {
			p.logger.Warn().
				Str("function", id).
				Str("field", key).
				Msg("function runtime is immutable, ignoring update")
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
		p.logger.Warn().Err(err).Str("function", id).Msg("record update failed")
	}
	return view, nil
}

// DeleteResource removes the function. Unknown ids succeed without a
// remote call; local state goes first so concurrent executes fail fast.
func (p *Provider) DeleteResource(ctx context.Context, id string) error {
	p.mu.Lock()
	_, existed := p.active[id]
	delete(p.active, id)
	p.mu.Unlock()

	if !existed {
		p.logger.Debug().Str("function", id).Msg("delete of unknown function, nothing to do")
		return nil
	}

	if err := p.DeleteRemote(ctx, id); err != nil {
		return err
	}

	record, err := p.tracker.Untrack(id)
	if err != nil {
		p.logger.Warn().Err(err).Str("function", id).Msg("untrack failed")
	} else {
		telemetry.RecordDestroy(ctx, "lambda", record.Lifetime(time.Now()), int64(p.activeCount()))
	}
	p.logger.Info().Str("function", id).Msg("function deleted")
	return nil
}

// GetResourceStatus probes the function. Unknown ids report not_found;
// a failed probe reports terminated.
func (p *Provider) GetResourceStatus(ctx context.Context, id string) (types.ResourceView, error) {
	p.mu.RLock()
	resource, ok := p.active[id]
	p.mu.RUnlock()

	if !ok {
		return types.ResourceView{ID: id, Provider: "lambda", Status: types.StatusNotFound}, nil
	}

	if _, err := p.api.GetFunction(ctx, &awslambda.GetFunctionInput{
		FunctionName: aws.String(id),
	}); err != nil {
		p.logger.Warn().Err(err).Str("function", id).Msg("liveness probe failed, marking terminated")
		p.markTerminated(id)
		view := resource.View()
		view.Status = types.StatusTerminated
		return view, nil
	}

	return resource.View(), nil
}

// ListResources snapshots the active functions.
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

type runnerRequest struct {
	Code      string `json:"code"`
	Language  string `json:"language,omitempty"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
}

type runnerResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// ExecuteAction invokes the runner function synchronously with the
// submitted code.
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

	payload, err := json.Marshal(runnerRequest{
		Code:      params.Code,
		Language:  params.Language,
		TimeoutMs: params.Timeout.Milliseconds(),
	})
	if err != nil {
		return providers.Execution{}, executionError(id, action, params.Code,
			"payload_encode_failed", "cannot encode execution payload").WithCause(err)
	}

	start := time.Now()
	out, invokeErr := p.api.Invoke(ctx, &awslambda.InvokeInput{
		FunctionName: aws.String(id),
		Payload:      payload,
	})
	duration := time.Since(start)

	var resp runnerResponse
	if invokeErr == nil && out != nil {
		if out.FunctionError != nil {
			invokeErr = fmt.Errorf("function error: %s", *out.FunctionError)
		} else if err := json.Unmarshal(out.Payload, &resp); err != nil {
			invokeErr = fmt.Errorf("malformed runner response: %w", err)
		}
	}

	entry := types.ExecutionLogEntry{
		ID:         uuid.NewString(),
		Timestamp:  start,
		DurationMs: duration.Milliseconds(),
		Language:   params.Language,
		ExitCode:   resp.ExitCode,
		Success:    invokeErr == nil && resp.ExitCode == 0,
		Output:     resp.Stdout,
		Error:      resp.Stderr,
	}
	if logErr := p.tracker.LogExecution(id, entry); logErr != nil {
		p.logger.Warn().Err(logErr).Str("function", id).Msg("execution log failed")
	}
	telemetry.RecordExecution(ctx, "lambda", params.Language, entry.Success, duration)

	if invokeErr != nil {
		return providers.Execution{}, executionError(id, action, params.Code,
			"execution_failed", "function invocation failed").WithCause(invokeErr)
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

// StreamResourceLogs polls stored logs once per second. Lambda has no
// push channel for invocation results here; this mirrors the container
// backend's approximation.
func (p *Provider) StreamResourceLogs(ctx context.Context, id string, fn func(types.LogEntry)) error {
	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()

	last := time.Time{}
	for {
		entries, err := p.tracker.Logs(id, types.LogOptions{Since: last.Add(time.Nanosecond)})
		if err != nil {
			return err
		}
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

// HealthCheck probes the Lambda API. Failures are folded into the
// result, never raised.
func (p *Provider) HealthCheck(ctx context.Context) providers.Health {
	health := providers.Health{
		Metrics:         p.tracker.Metrics(),
		ActiveResources: p.activeCount(),
	}

	if _, err := p.api.ListFunctions(ctx, &awslambda.ListFunctionsInput{MaxItems: aws.Int32(1)}); err != nil {
		health.Status = "unhealthy"
		health.Error = mapAWSError(err, "ListFunctions").Error()
		return health
	}

	health.Success = true
	health.Status = "healthy"
	return health
}

// GetCapabilities is a static descriptor. Pure, no I/O.
func (p *Provider) GetCapabilities() providers.Capabilities {
	return providers.Capabilities{
		SupportedLanguages:   []string{"python", "bash"},
		Features:             []string{"code-execution", "shell-execution", "serverless"},
		MaxConcurrent:        p.config.MaxConcurrent,
		MaxExecutionTimeout:  "15m",
		SupportsLogStreaming: false,
	}
}

// GetMetrics returns the aggregate metrics for this backend.
func (p *Provider) GetMetrics() types.AggregateMetrics {
	return p.tracker.Metrics()
}

// Cleanup deletes every active function best-effort.
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
			p.logger.Warn().Err(err).Str("function", id).Msg("cleanup delete failed")
			result.Failed = append(result.Failed, providers.BatchFailure{ResourceID: id, Error: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

// ListRemote lists sandflow functions as the backend sees them.
// Functions without the sandflow name prefix are ignored; the
// reconciler must never touch functions it does not own.
func (p *Provider) ListRemote(ctx context.Context) ([]providers.RemoteResource, error) {
	var remote []providers.RemoteResource

	paginator := awslambda.NewListFunctionsPaginator(p.api, &awslambda.ListFunctionsInput{})
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapAWSError(err, "ListFunctions")
		}
		for _, fn := range out.Functions {
			name := aws.ToString(fn.FunctionName)
			if !strings.HasPrefix(name, functionPrefix) {
				continue
			}
			created := time.Time{}
			if fn.LastModified != nil {
				if t, err := time.Parse(lastModifiedLayout, *fn.LastModified); err == nil {
					created = t
				}
			}
			remote = append(remote, providers.RemoteResource{
				ID:        name,
				Name:      name,
				CreatedAt: created,
			})
		}
	}
	return remote, nil
}

// DeleteRemote removes a function directly. A missing function counts
// as success.
func (p *Provider) DeleteRemote(ctx context.Context, id string) error {
	_, err := p.api.DeleteFunction(ctx, &awslambda.DeleteFunctionInput{
		FunctionName: aws.String(id),
	})
	if err == nil || isNotFound(err) {
		return nil
	}
	return mapAWSError(err, "DeleteFunction")
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
		p.logger.Warn().Err(err).Str("function", id).Msg("status update failed")
	}
}

func notFoundError(id string) *types.FlowError {
	return types.NewFlowError("resource_not_found",
		fmt.Sprintf("function %s not found", id),
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
