package config_test

import (
	"testing"
	"time"

	"github.com/UnknownOlympus/hermes/internal/config"
	"github.com/stretchr/testify/assert"
)

func Test_MustLoadFromEnv(t *testing.T) {
	t.Setenv("HERMES_ENV", "local")
	t.Setenv("HERMES_PROVIDER_TYPE", "visicom")
	t.Setenv("HERMES_PROVIDER_KEY", "testAPIKey")
	t.Setenv("HERMES_PROVIDER_RATE", "3")
	t.Setenv("HERMES_GEOCODE_DELAY", "250ms")
	t.Setenv("DB_HOST", "testHost")
	t.Setenv("DB_PORT", "12345")
	t.Setenv("DB_USERNAME", "admin")
	t.Setenv("DB_PASSWORD", "adminpass")
	t.Setenv("DB_NAME", "testName")

	cfg := config.MustLoad()

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "visicom", cfg.ProviderType)
	assert.Equal(t, "testAPIKey", cfg.APIKey)
	assert.Equal(t, 3, cfg.RateLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.GeocodeDelay)
	assert.Equal(t, 10*time.Second, cfg.GeocodeTimeout)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, config.StorePostgres, cfg.Store)
	assert.Equal(t, "testHost", cfg.Database.Host)
	assert.Equal(t, "12345", cfg.Database.Port)
	assert.Equal(t, "admin", cfg.Database.User)
	assert.Equal(t, "adminpass", cfg.Database.Password)
	assert.Equal(t, "testName", cfg.Database.Name)
}

func TestMustLoad_SQLite(t *testing.T) {
	t.Setenv("HERMES_STORE", "sqlite")
	t.Setenv("HERMES_SQLITE_PATH", "/tmp/hermes-test.db")

	cfg := config.MustLoad()

	assert.Equal(t, config.StoreSQLite, cfg.Store)
	assert.Equal(t, "/tmp/hermes-test.db", cfg.SQLitePath)
}

func TestMustLoad_Errors(t *testing.T) {
	tests := []struct {
		key   string
		value string
		panic string
	}{
		{"HERMES_PORT", "error_value", "failed to parse server port from configuration"},
		{
			"HERMES_PROVIDER_RATE", "fast",
			"failed to parse provider rate limit from configuration, must be an integer type",
		},
		{"HERMES_GEOCODE_TIMEOUT", "soon", "failed to parse geocode timeout from configuration"},
		{"HERMES_GEOCODE_DELAY", "later", "failed to parse geocode delay from configuration"},
		{"HERMES_STORE", "mongo", "unsupported store in configuration, must be postgres or sqlite"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			assert.PanicsWithValue(t, tt.panic, func() {
				config.MustLoad()
			})
		})
	}
}
