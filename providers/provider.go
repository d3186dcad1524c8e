// Package providers defines the capability contract every compute
// backend implements, plus the registry that catalogs, validates, and
// constructs them.
package providers

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sandflow/sandflow/types"
)

// Provider is the uniform lifecycle contract over one compute backend.
// Implementations own an in-memory map of active resources and compose
// a backend client with a tracker.
type Provider interface {
	// Initialize validates credentials, performs one backend
	// round-trip, and returns the declared capabilities.
	Initialize(ctx context.Context) (Capabilities, error)

	CreateResource(ctx context.Context, config types.ProviderConfig) (types.ResourceView, error)
	UpdateResource(ctx context.Context, id string, updates map[string]string) (types.ResourceView, error)
	// DeleteResource is idempotent: unknown ids return nil without a
	// remote call.
	DeleteResource(ctx context.Context, id string) error
	// GetResourceStatus returns status not_found for unknown ids
	// without error. A failed liveness probe reports terminated.
	GetResourceStatus(ctx context.Context, id string) (types.ResourceView, error)
	ListResources(ctx context.Context) ([]types.ResourceView, error)

	ExecuteAction(ctx context.Context, id, action string, params ExecParams) (Execution, error)
	GetResourceLogs(id string, opts types.LogOptions) ([]types.LogEntry, error)
	// StreamResourceLogs polls stored logs at a fixed interval and
	// invokes fn for each new entry until ctx is done.
	StreamResourceLogs(ctx context.Context, id string, fn func(types.LogEntry)) error

	// HealthCheck never returns an error; failures are folded into
	// the returned Health.
	HealthCheck(ctx context.Context) Health
	GetCapabilities() Capabilities
	GetMetrics() types.AggregateMetrics

	// Cleanup deletes every tracked resource best-effort and reports
	// the partial-failure sets.
	Cleanup(ctx context.Context) BatchResult
}

// Reconciler lists and deletes resources directly against the remote
// backend, bypassing local tracking. The cleaner uses it to find
// untracked resources left behind by tracking loss.
type Reconciler interface {
	ListRemote(ctx context.Context) ([]RemoteResource, error)
	// DeleteRemote treats "not found" as success.
	DeleteRemote(ctx context.Context, id string) error
}

// RemoteResource is the minimal remote-side description used for
// untracked reconciliation.
type RemoteResource struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ExecParams carries one execution request.
type ExecParams struct {
	Code     string        `json:"code"`
	Language string        `json:"language,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Execution is the result of one completed execution.
type Execution struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	Output     string `json:"output"`
}

// Capabilities is the static descriptor of what a backend supports.
// Pure data, no I/O.
type Capabilities struct {
	SupportedLanguages   []string `json:"supported_languages"`
	Features             []string `json:"features"`
	MaxConcurrent        int      `json:"max_concurrent"`
	MaxExecutionTimeout  string   `json:"max_execution_timeout,omitempty"`
	SupportsLogStreaming bool     `json:"supports_log_streaming"`
}

// Health is the never-throwing health check result.
type Health struct {
	Success         bool                   `json:"success"`
	Status          string                 `json:"status"`
	Error           string                 `json:"error,omitempty"`
	Metrics         types.AggregateMetrics `json:"metrics"`
	ActiveResources int                    `json:"active_resources"`
}

// BatchFailure names one resource that failed inside a batch operation.
type BatchFailure struct {
	ResourceID string `json:"resource_id"`
	Error      string `json:"error"`
}

// BatchResult is the typed outcome of a fan-out operation. Batch
// operations collect failures instead of failing fast.
type BatchResult struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

// Success reports whether the whole batch went through.
func (b BatchResult) Success() bool {
	return len(b.Failed) == 0
}

// Auth describes how a provider authenticates.
type Auth struct {
	Type   string `json:"type"`
	EnvVar string `json:"env_var,omitempty"`
}

// Factory constructs a provider from a fully merged configuration.
type Factory func(config types.ProviderConfig, logger zerolog.Logger) (Provider, error)

// Definition is one static catalog entry. Read-only after load; the
// factory is resolved lazily on first use.
type Definition struct {
	Key         string
	DisplayName string
	BackendType types.ResourceType
	Loader      func() (Factory, error)
	Defaults    types.ProviderConfig
	Features    []string
	Auth        Auth
	Metadata    map[string]string
}

// HasFeatures reports whether the definition's feature list is a
// superset of required.
func (d Definition) HasFeatures(required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range d.Features {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
