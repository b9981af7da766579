package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeConfigKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
		ok   bool
	}{
		{"default-environment", ConfigKeyDefaultEnvironment, true},
		{"default_environment", ConfigKeyDefaultEnvironment, true},
		{"backend", "backend", true},
		{"log-level", "log-level", true},
		{"colour", "", false},
	}
	for _, tt := range tests {
		got, ok := normalizeConfigKey(tt.key)
		assert.Equal(t, tt.ok, ok, tt.key)
		assert.Equal(t, tt.want, got, tt.key)
	}
}

func TestResolveEnvironment(t *testing.T) {
	t.Cleanup(func() { viper.Set(ConfigKeyDefaultEnvironment, "") })

	t.Run("flag wins", func(t *testing.T) {
		t.Setenv(EnvDefaultEnvironment, "from-env")
		viper.Set(ConfigKeyDefaultEnvironment, "from-config")
		env, err := resolveEnvironment("from-flag")
		require.NoError(t, err)
		assert.Equal(t, "from-flag", env)
	})

	t.Run("environment variable beats config", func(t *testing.T) {
		t.Setenv(EnvDefaultEnvironment, "from-env")
		viper.Set(ConfigKeyDefaultEnvironment, "from-config")
		env, err := resolveEnvironment("")
		require.NoError(t, err)
		assert.Equal(t, "from-env", env)
	})

	t.Run("config file", func(t *testing.T) {
		t.Setenv(EnvDefaultEnvironment, "")
		viper.Set(ConfigKeyDefaultEnvironment, "from-config")
		env, err := resolveEnvironment("")
		require.NoError(t, err)
		assert.Equal(t, "from-config", env)
	})

	t.Run("none", func(t *testing.T) {
		t.Setenv(EnvDefaultEnvironment, "")
		viper.Set(ConfigKeyDefaultEnvironment, "")
		_, err := resolveEnvironment("")
		require.Error(t, err)
		assert.Equal(t, ExitValidation, ExitCode(err))
	})
}

func TestConfigSetAndGet(t *testing.T) {
	t.Cleanup(func() { viper.Set(ConfigKeyDefaultEnvironment, "") })
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := execute(t, "--config", path, "config", "set", "default-environment", "staging")
	require.NoError(t, err)
	assert.Contains(t, out, "Set default-environment = staging")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "default_environment: staging")

	out, err = execute(t, "--config", path, "config", "get", "default-environment")
	require.NoError(t, err)
	assert.Equal(t, "staging\n", out)
}

func TestConfigSet_UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := execute(t, "--config", path, "config", "set", "colour", "blue")
	require.Error(t, err)
	assert.Equal(t, ExitValidation, ExitCode(err))
}
