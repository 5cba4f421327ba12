package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearQueryAgentEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"QUERYAGENT_CONFIG", "QUERYAGENT_WAREHOUSE_DSN", "QUERYAGENT_WAREHOUSE_DRIVER",
		"QUERYAGENT_LLM_PROVIDER", "QUERYAGENT_LLM_MODEL", "QUERYAGENT_LLM_API_KEY", "OPENAI_API_KEY",
		"QUERYAGENT_LLM_BASE_URL", "QUERYAGENT_SEMANTIC_ENTITIES_DIR", "QUERYAGENT_SEMANTIC_CATALOG_PATH",
		"QUERYAGENT_TRANSPORT", "QUERYAGENT_PORT", "QUERYAGENT_HOST", "QUERYAGENT_CORS_ORIGINS",
		"QUERYAGENT_LOG_LEVEL", "QUERYAGENT_CACHE_MAX_ENTRIES", "QUERYAGENT_CACHE_TTL_SECONDS",
		"QUERYAGENT_RETRY_MAX_ATTEMPTS",
	} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoad_RequiresWarehouseDSN(t *testing.T) {
	clearQueryAgentEnv(t)
	t.Setenv("QUERYAGENT_LLM_API_KEY", "sk-test")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse dsn is required")
}

func TestLoad_RequiresLLMAPIKey(t *testing.T) {
	clearQueryAgentEnv(t)
	t.Setenv("QUERYAGENT_WAREHOUSE_DSN", "user:pass@account/db/schema")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm api key is required")
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearQueryAgentEnv(t)
	t.Setenv("QUERYAGENT_WAREHOUSE_DSN", "user:pass@account/db/schema")
	t.Setenv("QUERYAGENT_LLM_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "snowflake", cfg.Warehouse.Driver)
	assert.Equal(t, []string{"analytics", "crm", "main"}, cfg.Warehouse.AllowedSchemas)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "stdio", cfg.Transport.Mode)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearQueryAgentEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "queryagent.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[warehouse]
dsn = "from-file"

[llm]
api_key = "from-file-key"
model = "gpt-4o-mini"
`), 0o644))

	t.Setenv("QUERYAGENT_LLM_MODEL", "gpt-4.1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Warehouse.DSN)
	assert.Equal(t, "from-file-key", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4.1", cfg.LLM.Model, "env var must win over file value")
}

func TestLoad_InvalidTransportMode(t *testing.T) {
	clearQueryAgentEnv(t)
	t.Setenv("QUERYAGENT_WAREHOUSE_DSN", "user:pass@account/db/schema")
	t.Setenv("QUERYAGENT_LLM_API_KEY", "sk-test")
	t.Setenv("QUERYAGENT_TRANSPORT", "carrier-pigeon")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid transport mode")
}

func TestLoad_RetryAttemptsCappedAtFive(t *testing.T) {
	clearQueryAgentEnv(t)
	t.Setenv("QUERYAGENT_WAREHOUSE_DSN", "user:pass@account/db/schema")
	t.Setenv("QUERYAGENT_LLM_API_KEY", "sk-test")
	t.Setenv("QUERYAGENT_RETRY_MAX_ATTEMPTS", "9")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
}
