package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandflow/sandflow/types"
)

// fakeProvider implements just enough of Provider for registry tests.
type fakeProvider struct {
	Provider
	health Health
}

func (f *fakeProvider) HealthCheck(ctx context.Context) Health { return f.health }

func fakeFactory(health Health) Factory {
	return func(config types.ProviderConfig, logger zerolog.Logger) (Provider, error) {
		return &fakeProvider{health: health}, nil
	}
}

func testCatalog(t *testing.T) []Definition {
	t.Helper()
	return []Definition{
		{
			Key:         "e2b",
			DisplayName: "E2B Sandboxes",
			BackendType: types.ResourceSandbox,
			Loader: func() (Factory, error) {
				return fakeFactory(Health{Success: true, Status: "healthy"}), nil
			},
			Defaults: types.ProviderConfig{BaseEndpoint: "https://api.e2b.example", Template: "base"},
			Features: []string{"code-execution", "filesystem"},
			Auth:     Auth{Type: "api_key", EnvVar: "E2B_API_KEY"},
		},
		{
			Key:         "lambda",
			DisplayName: "AWS Lambda",
			BackendType: types.ResourceFunction,
			Loader: func() (Factory, error) {
				return fakeFactory(Health{Success: true, Status: "healthy"}), nil
			},
			Defaults: types.ProviderConfig{Region: "us-east-1"},
			Features: []string{"code-execution", "gpu-compute"},
			Auth:     Auth{Type: "aws_credentials"},
		},
	}
}

func TestNewRegistry_RejectsDuplicateKeys(t *testing.T) {
	defs := testCatalog(t)
	defs[1].Key = "e2b"

	_, err := NewRegistry(zerolog.Nop(), "", defs)
	assert.Error(t, err)
}

func TestNewRegistry_RejectsUnknownDefault(t *testing.T) {
	_, err := NewRegistry(zerolog.Nop(), "missing", testCatalog(t))
	assert.Error(t, err)
}

func TestLoadFactory_UnknownKeyIsConfigurationError(t *testing.T) {
	r, err := NewRegistry(zerolog.Nop(), "e2b", testCatalog(t))
	require.NoError(t, err)

	_, err = r.LoadFactory("nope")
	require.Error(t, err)
	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, types.CategoryConfiguration, fe.Category)
}

func TestLoadFactory_CachesAfterFirstLoad(t *testing.T) {
	loads := 0
	defs := testCatalog(t)
	defs[0].Loader = func() (Factory, error) {
		loads++
		return fakeFactory(Health{Success: true}), nil
	}

	r, err := NewRegistry(zerolog.Nop(), "", defs)
	require.NoError(t, err)

	_, err = r.LoadFactory("e2b")
	require.NoError(t, err)
	_, err = r.LoadFactory("e2b")
	require.NoError(t, err)

	assert.Equal(t, 1, loads)
}

func TestLoadFactory_WrapsLoaderFailure(t *testing.T) {
	defs := testCatalog(t)
	cause := errors.New("module missing")
	defs[0].Loader = func() (Factory, error) { return nil, cause }

	r, err := NewRegistry(zerolog.Nop(), "", defs)
	require.NoError(t, err)

	_, err = r.LoadFactory("e2b")
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
}

func TestCreateProvider_MergesDefaults(t *testing.T) {
	var got types.ProviderConfig
	defs := testCatalog(t)
	defs[0].Loader = func() (Factory, error) {
		return func(config types.ProviderConfig, logger zerolog.Logger) (Provider, error) {
			got = config
			return &fakeProvider{}, nil
		}, nil
	}

	r, err := NewRegistry(zerolog.Nop(), "", defs)
	require.NoError(t, err)

	_, err = r.CreateProvider("e2b", types.ProviderConfig{APIKey: "sk-test"})
	require.NoError(t, err)

	assert.Equal(t, "sk-test", got.APIKey)
	assert.Equal(t, "https://api.e2b.example", got.BaseEndpoint)
	assert.Equal(t, "base", got.Template)
}

func TestValidateConfig_APIKeyPrecedence(t *testing.T) {
	r, err := NewRegistry(zerolog.Nop(), "", testCatalog(t))
	require.NoError(t, err)

	tests := []struct {
		name   string
		config types.ProviderConfig
		env    string
		valid  bool
	}{
		{"explicit key", types.ProviderConfig{APIKey: "sk-1"}, "", true},
		{"credentials key", types.ProviderConfig{Credentials: types.Credentials{APIKey: "sk-2"}}, "", true},
		{"env fallback", types.ProviderConfig{}, "sk-3", true},
		{"nothing", types.ProviderConfig{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv("E2B_API_KEY", tt.env)
			} else {
				t.Setenv("E2B_API_KEY", "")
			}
			result := r.ValidateConfig("e2b", tt.config)
			assert.Equal(t, tt.valid, result.Valid, "errors: %v", result.Errors)
		})
	}
}

func TestValidateConfig_UnknownProvider(t *testing.T) {
	r, err := NewRegistry(zerolog.Nop(), "", testCatalog(t))
	require.NoError(t, err)

	result := r.ValidateConfig("nope", types.ProviderConfig{})
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}

func TestCheckHealth_LoaderFailureBecomesUnhealthy(t *testing.T) {
	defs := testCatalog(t)
	defs[0].Loader = func() (Factory, error) { return nil, errors.New("boom") }

	r, err := NewRegistry(zerolog.Nop(), "", defs)
	require.NoError(t, err)

	health := r.CheckHealth(context.Background(), "e2b", types.ProviderConfig{})
	assert.False(t, health.Success)
	assert.Equal(t, "unhealthy", health.Status)
	assert.NotEmpty(t, health.Error)
}

func TestCheckAllHealth_CoversCatalog(t *testing.T) {
	r, err := NewRegistry(zerolog.Nop(), "", testCatalog(t))
	require.NoError(t, err)

	results := r.CheckAllHealth(context.Background(), nil)
	require.Len(t, results, 2)
	assert.True(t, results["e2b"].Success)
	assert.True(t, results["lambda"].Success)
}

func TestRecommend_FeatureSupersetScan(t *testing.T) {
	r, err := NewRegistry(zerolog.Nop(), "e2b", testCatalog(t))
	require.NoError(t, err)

	key, err := r.Recommend([]string{"gpu-compute"})
	require.NoError(t, err)
	assert.Equal(t, "lambda", key)

	key, err = r.Recommend(nil)
	require.NoError(t, err)
	assert.Equal(t, "e2b", key, "empty requirements return the configured default")

	key, err = r.Recommend([]string{"quantum"})
	require.NoError(t, err)
	assert.Equal(t, "e2b", key, "falls back to the configured default")
}

func TestRecommend_NoDefaultNoMatch(t *testing.T) {
	r, err := NewRegistry(zerolog.Nop(), "", testCatalog(t))
	require.NoError(t, err)

	_, err = r.Recommend([]string{"quantum"})
	require.Error(t, err)
	fe, ok := types.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, types.CategoryConfiguration, fe.Category)
}
