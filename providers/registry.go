package providers

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sandflow/sandflow/types"
)

// Registry catalogs provider definitions and constructs providers on
// demand. It is an explicit instance owned by the caller, not a
// process-wide singleton, so tests get isolated registries.
type Registry struct {
	mu         sync.Mutex
	defs       []Definition
	index      map[string]int
	factories  map[string]Factory
	defaultKey string
	logger     zerolog.Logger
}

// Validation is the result of config validation. All problems are
// collected so the caller can present them at once.
type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// NewRegistry builds a registry over an ordered catalog. The order is
// significant: recommendation ties break toward earlier entries.
func NewRegistry(logger zerolog.Logger, defaultKey string, defs []Definition) (*Registry, error) {
	r := &Registry{
		defs:       defs,
		index:      make(map[string]int, len(defs)),
		factories:  make(map[string]Factory),
		defaultKey: defaultKey,
		logger:     logger.With().Str("component", "registry").Logger(),
	}
	for i, def := range defs {
		if def.Key == "" {
			return nil, fmt.Errorf("definition %d has no key", i)
		}
		if _, dup := r.index[def.Key]; dup {
			return nil, fmt.Errorf("duplicate provider key %q", def.Key)
		}
		r.index[def.Key] = i
	}
	if defaultKey != "" {
		if _, ok := r.index[defaultKey]; !ok {
			return nil, fmt.Errorf("default provider %q not in catalog", defaultKey)
		}
	}
	return r, nil
}

// Definitions returns the catalog in declaration order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Definition returns one catalog entry by key.
func (r *Registry) Definition(key string) (Definition, error) {
	i, ok := r.index[key]
	if !ok {
		return Definition{}, types.NewFlowError("unknown_provider",
			fmt.Sprintf("provider %s not found in catalog", key),
			types.CategoryConfiguration).WithDetail("provider", key)
	}
	return r.defs[i], nil
}

// LoadFactory lazily resolves and caches a provider's factory.
// Unknown keys are a configuration error; loader failures are wrapped
// with their cause.
func (r *Registry) LoadFactory(key string) (Factory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if factory, ok := r.factories[key]; ok {
		return factory, nil
	}

	def, err := r.Definition(key)
	if err != nil {
		return nil, err
	}

	factory, err := def.Loader()
	if err != nil {
		return nil, types.NewFlowError("factory_load_failed",
			fmt.Sprintf("failed to load provider %s", key),
			types.CategoryConfiguration).WithDetail("provider", key).WithCause(err)
	}

	r.factories[key] = factory
	r.logger.Debug().Str("provider", key).Msg("provider factory loaded")
	return factory, nil
}

// CreateProvider merges config over the definition's defaults and
// hands off to the factory.
func (r *Registry) CreateProvider(key string, config types.ProviderConfig) (Provider, error) {
	def, err := r.Definition(key)
	if err != nil {
		return nil, err
	}
	factory, err := r.LoadFactory(key)
	if err != nil {
		return nil, err
	}

	merged := config.MergeOver(def.Defaults)
	if merged.APIKey == "" && merged.Credentials.APIKey == "" && def.Auth.EnvVar != "" {
		merged.APIKey = os.Getenv(def.Auth.EnvVar)
	}

	provider, err := factory(merged, r.logger)
	if err != nil {
		return nil, err
	}
	r.logger.Info().Str("provider", key).Msg("provider created")
	return provider, nil
}

// ValidateConfig checks the configuration against the definition's
// auth requirements. It collects problems instead of erroring so the
// caller sees everything at once. Key precedence: config.APIKey, then
// config.Credentials.APIKey, then the declared environment variable.
func (r *Registry) ValidateConfig(key string, config types.ProviderConfig) Validation {
	def, err := r.Definition(key)
	if err != nil {
		return Validation{Errors: []string{err.Error()}}
	}

	var problems []string
	if def.Auth.Type == "api_key" {
		resolved := config.ResolveAPIKey()
		if resolved == "" && def.Auth.EnvVar != "" {
			resolved = os.Getenv(def.Auth.EnvVar)
		}
		if resolved == "" {
			msg := fmt.Sprintf("provider %s requires an API key", key)
			if def.Auth.EnvVar != "" {
				msg = fmt.Sprintf("%s (set %s or provide credentials)", msg, def.Auth.EnvVar)
			}
			problems = append(problems, msg)
		}
	}

	return Validation{Valid: len(problems) == 0, Errors: problems}
}

// CheckHealth builds the provider and runs its health check. Loading
// or construction failures become an unhealthy result; health
// checking never propagates errors.
func (r *Registry) CheckHealth(ctx context.Context, key string, config types.ProviderConfig) Health {
	provider, err := r.CreateProvider(key, config)
	if err != nil {
		return Health{Success: false, Status: "unhealthy", Error: err.Error()}
	}
	return provider.HealthCheck(ctx)
}

// CheckAllHealth runs CheckHealth for every catalog entry, using the
// per-provider config when one is supplied.
func (r *Registry) CheckAllHealth(ctx context.Context, configs map[string]types.ProviderConfig) map[string]Health {
	results := make(map[string]Health, len(r.defs))
	for _, def := range r.defs {
		results[def.Key] = r.CheckHealth(ctx, def.Key, configs[def.Key])
	}
	return results
}

// Recommend returns the first catalog entry whose feature list covers
// every required feature, falling back to the default provider when
// none qualifies. Deterministic by catalog order.
func (r *Registry) Recommend(requiredFeatures []string) (string, error) {
	if len(requiredFeatures) == 0 && r.defaultKey != "" {
		return r.defaultKey, nil
	}
	for _, def := range r.defs {
		if def.HasFeatures(requiredFeatures) {
			return def.Key, nil
		}
	}
	if r.defaultKey != "" {
		return r.defaultKey, nil
	}
	return "", types.NewFlowError("no_provider",
		fmt.Sprintf("no provider supports features %v and no default is configured", requiredFeatures),
		types.CategoryConfiguration)
}
