// Package catalog declares the built-in provider definitions. The
// declaration order is the recommendation order.
package catalog

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/sandflow/sandflow/providers"
	"github.com/sandflow/sandflow/providers/e2b"
	"github.com/sandflow/sandflow/providers/lambda"
	"github.com/sandflow/sandflow/storage"
	"github.com/sandflow/sandflow/tracker"
	"github.com/sandflow/sandflow/types"
)

// Definitions returns the provider catalog. Trackers are rooted under
// dataDir, one subdirectory per provider, with untracked records
// archived to a shared bolt database.
func Definitions(dataDir string) []providers.Definition {
	// One archive per data directory, shared across providers.
	openArchive := sync.OnceValues(func() (*storage.Archive, error) {
		return storage.Open(dataDir)
	})

	return []providers.Definition{
		{
			Key:         "e2b",
			DisplayName: "E2B Sandboxes",
			BackendType: types.ResourceSandbox,
			Loader: func() (providers.Factory, error) {
				return func(config types.ProviderConfig, logger zerolog.Logger) (providers.Provider, error) {
					return e2b.New(config, dataDir, logger, archiveOption(openArchive, logger)...)
				}, nil
			},
			Defaults: types.ProviderConfig{
				BaseEndpoint: e2b.DefaultEndpoint,
				Template:     "base",
			},
			Features: []string{"code-execution", "shell-execution", "filesystem"},
			Auth:     providers.Auth{Type: "api_key", EnvVar: "E2B_API_KEY"},
			Metadata: map[string]string{"stability": "stable", "docs": "https://e2b.dev/docs"},
		},
		{
			Key:         "lambda",
			DisplayName: "AWS Lambda",
			BackendType: types.ResourceFunction,
			Loader: func() (providers.Factory, error) {
				return func(config types.ProviderConfig, logger zerolog.Logger) (providers.Provider, error) {
					return lambda.New(config, dataDir, logger, archiveOption(openArchive, logger)...)
				}, nil
			},
			Defaults: types.ProviderConfig{
				Template: "python3.12",
				Region:   "us-east-1",
			},
			Features: []string{"code-execution", "shell-execution", "serverless"},
			Auth:     providers.Auth{Type: "aws_credentials"},
			Metadata: map[string]string{"stability": "stable", "docs": "https://docs.aws.amazon.com/lambda/"},
		},
	}
}

// archiveOption returns the tracker archive option, or nothing when
// the archive cannot be opened. Losing untracked-record retention is
// acceptable, losing the provider is not.
func archiveOption(open func() (*storage.Archive, error), logger zerolog.Logger) []tracker.Option {
	archive, err := open()
	if err != nil {
		logger.Warn().Err(err).Msg("archive unavailable, untracked records will not be retained")
		return nil
	}
	return []tracker.Option{tracker.WithArchive(archive)}
}

// NewRegistry builds a registry over the built-in catalog with the
// given default provider.
func NewRegistry(logger zerolog.Logger, defaultKey, dataDir string) (*providers.Registry, error) {
	return providers.NewRegistry(logger, defaultKey, Definitions(dataDir))
}
