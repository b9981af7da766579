package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/metrics"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
	"github.com/davidthor/catalogctl/pkg/state"
	"github.com/davidthor/catalogctl/pkg/state/backend"
)

// Environment variable names for state backend configuration.
const (
	// EnvStateBackend sets the state backend type (local, s3, gcs, azurerm).
	EnvStateBackend = "CATALOGCTL_STATE_BACKEND"

	// EnvStatePrefix is the prefix for backend-specific config environment variables.
	// For example, CATALOGCTL_STATE_PATH sets the "path" config for the local backend,
	// CATALOGCTL_STATE_BUCKET sets the "bucket" config for S3/GCS backends.
	EnvStatePrefix = "CATALOGCTL_STATE_"
)

// stateConfig resolves the backend configuration for a project.
//
// Configuration precedence (highest to lowest):
//  1. CLI flags (--backend, --backend-config)
//  2. Environment variables (CATALOGCTL_STATE_BACKEND, CATALOGCTL_STATE_*)
//  3. The backend named in ~/.catalogctl/config.yaml
//  4. The catalog's settings.state block
//  5. Local backend under <project>/.deployer/state
func stateConfig(c *catalog.Catalog, flagBackend string, flagConfig []string) backend.Config {
	// Start with the project default
	effectiveBackend := "local"
	effectiveConfig := map[string]string{
		"path": filepath.Join(c.Root, catalog.DefinitionDir, "state"),
	}

	// Catalog settings replace the default wholesale
	if c.Settings.State.Backend != "" {
		effectiveBackend = c.Settings.State.Backend
		effectiveConfig = make(map[string]string, len(c.Settings.State.Config))
		for k, v := range c.Settings.State.Config {
			effectiveConfig[k] = v
		}
	}

	if configBackend := viper.GetString("backend"); configBackend != "" && flagBackend == "" {
		effectiveBackend = configBackend
	}

	// Apply environment variables
	if envBackend := os.Getenv(EnvStateBackend); envBackend != "" {
		effectiveBackend = envBackend
	}

	// Check for backend-specific env vars (CATALOGCTL_STATE_PATH, CATALOGCTL_STATE_BUCKET, etc.)
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, EnvStatePrefix) && !strings.HasPrefix(env, EnvStateBackend+"=") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				// Convert CATALOGCTL_STATE_PATH to "path", CATALOGCTL_STATE_BUCKET to "bucket", etc.
				key := strings.ToLower(strings.TrimPrefix(parts[0], EnvStatePrefix))
				effectiveConfig[key] = parts[1]
			}
		}
	}

	// Apply CLI flags (highest priority)
	if flagBackend != "" {
		effectiveBackend = flagBackend
	}

	for _, c := range flagConfig {
		parts := strings.SplitN(c, "=", 2)
		if len(parts) == 2 {
			effectiveConfig[parts[0]] = parts[1]
		}
	}

	return backend.Config{
		Type:   effectiveBackend,
		Config: effectiveConfig,
	}
}

// createStore opens the state store for a project. Commit retries are
// counted in m when given.
func createStore(c *catalog.Catalog, m *metrics.Metrics) (state.Store, error) {
	cfg := stateConfig(c, backendType, backendConfig)
	store, err := state.NewStoreFromConfig(cfg, state.WithRetryHook(m.StateRetry))
	if err != nil {
		return nil, errors.BackendError(cfg.Type, "open", err)
	}
	return store, nil
}
