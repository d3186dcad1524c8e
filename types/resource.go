package types

import "time"

// ResourceType identifies the kind of remote execution unit.
type ResourceType string

const (
	ResourceSandbox  ResourceType = "sandbox"
	ResourceFunction ResourceType = "function"
)

// ResourceStatus is the lifecycle state of a resource.
// A resource only ever moves ready -> terminated; it never goes back.
type ResourceStatus string

const (
	StatusReady      ResourceStatus = "ready"
	StatusTerminated ResourceStatus = "terminated"
	StatusNotFound   ResourceStatus = "not_found"
)

// Resource is the live handle to a remote sandbox or function.
// It is owned exclusively by the provider instance that created it.
type Resource struct {
	ID        string            `json:"id"`
	Type      ResourceType      `json:"type"`
	Provider  string            `json:"provider"`
	Status    ResourceStatus    `json:"status"`
	Template  string            `json:"template"`
	CreatedAt time.Time         `json:"created_at"`
	Config    ProviderConfig    `json:"config"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Credentials carries explicit API credentials supplied by the caller.
type Credentials struct {
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// ProviderConfig is the per-provider configuration supplied by the
// caller and merged over the provider definition's defaults.
type ProviderConfig struct {
	APIKey         string            `json:"-" yaml:"api_key,omitempty"`
	Credentials    Credentials       `json:"-" yaml:"credentials,omitempty"`
	BaseEndpoint   string            `json:"base_endpoint,omitempty" yaml:"base_endpoint,omitempty"`
	Template       string            `json:"template,omitempty" yaml:"template,omitempty"`
	RequestTimeout time.Duration     `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	MaxConcurrent  int               `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
	Region         string            `json:"region,omitempty" yaml:"region,omitempty"`
	GPU            bool              `json:"gpu,omitempty" yaml:"gpu,omitempty"`
	Extras         map[string]string `json:"extras,omitempty" yaml:"extras,omitempty"`
}

// MergeOver returns c merged over defaults: any zero-valued field in c
// is filled from defaults, extras are unioned with c winning conflicts.
func (c ProviderConfig) MergeOver(defaults ProviderConfig) ProviderConfig {
	merged := c
	if merged.APIKey == "" {
		merged.APIKey = defaults.APIKey
	}
	if merged.Credentials.APIKey == "" {
		merged.Credentials = defaults.Credentials
	}
	if merged.BaseEndpoint == "" {
		merged.BaseEndpoint = defaults.BaseEndpoint
	}
	if merged.Template == "" {
		merged.Template = defaults.Template
	}
	if merged.RequestTimeout == 0 {
		merged.RequestTimeout = defaults.RequestTimeout
	}
	if merged.MaxConcurrent == 0 {
		merged.MaxConcurrent = defaults.MaxConcurrent
	}
	if merged.Region == "" {
		merged.Region = defaults.Region
	}
	if !merged.GPU {
		merged.GPU = defaults.GPU
	}
	if len(defaults.Extras) > 0 {
		extras := make(map[string]string, len(defaults.Extras)+len(merged.Extras))
		for k, v := range defaults.Extras {
			extras[k] = v
		}
		for k, v := range merged.Extras {
			extras[k] = v
		}
		merged.Extras = extras
	}
	return merged
}

// ResolveAPIKey returns the effective API key, checking the explicit
// key first, then credentials, in that order. The environment variable
// fallback is applied by the registry, which knows the declared variable.
func (c ProviderConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return c.Credentials.APIKey
}

// ResourceView is the reduced, caller-safe view of a resource. It
// carries no credentials and no backend handle.
type ResourceView struct {
	ID        string            `json:"id"`
	Type      ResourceType      `json:"type"`
	Provider  string            `json:"provider"`
	Status    ResourceStatus    `json:"status"`
	Template  string            `json:"template"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// View returns the reduced view of r handed back to callers.
func (r *Resource) View() ResourceView {
	meta := make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		meta[k] = v
	}
	return ResourceView{
		ID:        r.ID,
		Type:      r.Type,
		Provider:  r.Provider,
		Status:    r.Status,
		Template:  r.Template,
		CreatedAt: r.CreatedAt,
		Metadata:  meta,
	}
}

// Age returns how long the resource has existed relative to now.
func (r *Resource) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// ResourceFilter selects resources for list and reconcile operations.
type ResourceFilter struct {
	Type     ResourceType   `json:"type,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Status   ResourceStatus `json:"status,omitempty"`
	IDs      []string       `json:"ids,omitempty"`
}

// Matches reports whether r satisfies every set criterion of filter.
func (r *Resource) Matches(filter ResourceFilter) bool {
	if filter.Type != "" && r.Type != filter.Type {
		return false
	}
	if filter.Provider != "" && r.Provider != filter.Provider {
		return false
	}
	if filter.Status != "" && r.Status != filter.Status {
		return false
	}
	if len(filter.IDs) == 0 {
		return true
	}
	for _, id := range filter.IDs {
		if r.ID == id {
			return true
		}
	}
	return false
}
