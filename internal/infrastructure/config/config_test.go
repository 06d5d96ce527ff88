package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stashEnv saves the given variables, registers their restoration on test
// cleanup and returns a func that unsets them all.
func stashEnv(t *testing.T, keys ...string) (clearEnv func()) {
	t.Helper()

	saved := make(map[string]string, len(keys))
	for _, k := range keys {
		saved[k] = os.Getenv(k)
	}
	t.Cleanup(func() {
		for k, v := range saved {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	})

	return func() {
		for k := range saved {
			os.Unsetenv(k)
		}
	}
}

func TestLoad(t *testing.T) {
	clearEnv := stashEnv(t,
		"FACTURIO_APP_NAME",
		"FACTURIO_APP_ENV",
		"FACTURIO_APP_PORT",
		"FACTURIO_DATABASE_HOST",
		"FACTURIO_DATABASE_PORT",
		"FACTURIO_DATABASE_USER",
		"FACTURIO_DATABASE_PASSWORD",
		"FACTURIO_DATABASE_DBNAME",
		"FACTURIO_DATABASE_SSLMODE",
		"FACTURIO_DATABASE_MAX_OPEN_CONNS",
		"FACTURIO_DATABASE_MAX_IDLE_CONNS",
		"FACTURIO_AUTH_JWT_SECRET",
		"FACTURIO_EXTRACTION_BASE_URL",
	)

	t.Run("loads default values when env vars not set", func(t *testing.T) {
		clearEnv()

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "facturio-backend", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "8080", cfg.App.Port)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, "postgres", cfg.Database.User)
		assert.Equal(t, "facturio", cfg.Database.DBName)
		assert.Equal(t, "disable", cfg.Database.SSLMode)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 5, cfg.Database.MaxIdleConns)
		assert.Equal(t, "eur", cfg.Stripe.DefaultCurrency)
		assert.Equal(t, "facturio-documents", cfg.Storage.Bucket)
		assert.Equal(t, 60, cfg.Extraction.TimeoutSeconds)
		assert.Equal(t, int64(10<<20), cfg.HTTP.MaxBodySize)
	})

	t.Run("loads values from environment variables with FACTURIO prefix", func(t *testing.T) {
		clearEnv()
		os.Setenv("FACTURIO_APP_NAME", "test-app")
		os.Setenv("FACTURIO_APP_ENV", "testing")
		os.Setenv("FACTURIO_APP_PORT", "9000")
		os.Setenv("FACTURIO_DATABASE_HOST", "testdb.local")
		os.Setenv("FACTURIO_DATABASE_PORT", "5433")
		os.Setenv("FACTURIO_DATABASE_USER", "testuser")
		os.Setenv("FACTURIO_DATABASE_PASSWORD", "testpass")
		os.Setenv("FACTURIO_DATABASE_DBNAME", "testdb")
		os.Setenv("FACTURIO_DATABASE_SSLMODE", "require")
		os.Setenv("FACTURIO_DATABASE_MAX_OPEN_CONNS", "50")
		os.Setenv("FACTURIO_DATABASE_MAX_IDLE_CONNS", "10")
		os.Setenv("FACTURIO_EXTRACTION_BASE_URL", "https://extract.internal")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "test-app", cfg.App.Name)
		assert.Equal(t, "testing", cfg.App.Env)
		assert.Equal(t, "9000", cfg.App.Port)
		assert.Equal(t, "testdb.local", cfg.Database.Host)
		assert.Equal(t, 5433, cfg.Database.Port)
		assert.Equal(t, "testuser", cfg.Database.User)
		assert.Equal(t, "testpass", cfg.Database.Password)
		assert.Equal(t, "testdb", cfg.Database.DBName)
		assert.Equal(t, "require", cfg.Database.SSLMode)
		assert.Equal(t, 50, cfg.Database.MaxOpenConns)
		assert.Equal(t, 10, cfg.Database.MaxIdleConns)
		assert.Equal(t, "https://extract.internal", cfg.Extraction.BaseURL)
	})

	t.Run("validates MaxIdleConns cannot exceed MaxOpenConns", func(t *testing.T) {
		clearEnv()
		os.Setenv("FACTURIO_DATABASE_MAX_OPEN_CONNS", "10")
		os.Setenv("FACTURIO_DATABASE_MAX_IDLE_CONNS", "20")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_idle_conns")
		assert.Contains(t, err.Error(), "cannot exceed")
	})

	t.Run("zero MaxOpenConns uses default", func(t *testing.T) {
		clearEnv()
		os.Setenv("FACTURIO_DATABASE_MAX_OPEN_CONNS", "0")

		cfg, err := Load()
		require.NoError(t, err)
		// 0 is treated as "not set", so default (25) is used
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	})

	t.Run("validates MaxIdleConns cannot be negative", func(t *testing.T) {
		clearEnv()
		os.Setenv("FACTURIO_DATABASE_MAX_IDLE_CONNS", "-1")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_idle_conns cannot be negative")
	})
}

func TestLoad_ProductionValidation(t *testing.T) {
	clearEnv := stashEnv(t,
		"FACTURIO_APP_ENV",
		"FACTURIO_AUTH_JWT_SECRET",
		"FACTURIO_AUTH_DEV_HEADER_ENABLED",
		"FACTURIO_DATABASE_PASSWORD",
		"FACTURIO_DATABASE_SSLMODE",
		"FACTURIO_STRIPE_WEBHOOK_SECRET",
		"FACTURIO_SWAGGER_ENABLED",
		"FACTURIO_SWAGGER_REQUIRE_AUTH",
	)

	setValidProductionBase := func() {
		os.Setenv("FACTURIO_APP_ENV", "production")
		os.Setenv("FACTURIO_AUTH_JWT_SECRET", "this-is-a-very-secure-jwt-secret-key-32chars")
		os.Setenv("FACTURIO_DATABASE_PASSWORD", "secure-password")
		os.Setenv("FACTURIO_DATABASE_SSLMODE", "require")
		os.Setenv("FACTURIO_STRIPE_WEBHOOK_SECRET", "whsec_production_secret")
		os.Setenv("FACTURIO_SWAGGER_ENABLED", "false")
	}

	// Each case starts from a valid production config, breaks exactly one
	// setting and expects the matching validation error.
	failures := []struct {
		name    string
		breakIt func()
		wantErr string
	}{
		{
			name:    "requires auth.jwt_secret",
			breakIt: func() { os.Unsetenv("FACTURIO_AUTH_JWT_SECRET") },
			wantErr: "auth.jwt_secret is required in production",
		},
		{
			name:    "requires auth.jwt_secret at least 32 characters",
			breakIt: func() { os.Setenv("FACTURIO_AUTH_JWT_SECRET", "short-secret") },
			wantErr: "auth.jwt_secret must be at least 32 characters",
		},
		{
			name:    "rejects dev header auth",
			breakIt: func() { os.Setenv("FACTURIO_AUTH_DEV_HEADER_ENABLED", "true") },
			wantErr: "auth.dev_header_enabled must be false in production",
		},
		{
			name:    "requires database.password",
			breakIt: func() { os.Unsetenv("FACTURIO_DATABASE_PASSWORD") },
			wantErr: "database.password is required in production",
		},
		{
			name:    "requires SSL enabled",
			breakIt: func() { os.Setenv("FACTURIO_DATABASE_SSLMODE", "disable") },
			wantErr: "database.sslmode cannot be 'disable' in production",
		},
		{
			name:    "requires stripe.webhook_secret",
			breakIt: func() { os.Unsetenv("FACTURIO_STRIPE_WEBHOOK_SECRET") },
			wantErr: "stripe.webhook_secret is required in production",
		},
		{
			name: "rejects swagger enabled without protection",
			breakIt: func() {
				os.Setenv("FACTURIO_SWAGGER_ENABLED", "true")
				os.Setenv("FACTURIO_SWAGGER_REQUIRE_AUTH", "false")
			},
			wantErr: "swagger endpoint must be disabled, require authentication, or have IP restriction",
		},
	}

	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv()
			setValidProductionBase()
			tt.breakIt()

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("passes validation with valid production config", func(t *testing.T) {
		clearEnv()
		setValidProductionBase()

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "production", cfg.App.Env)
	})

	t.Run("passes with swagger enabled and require_auth", func(t *testing.T) {
		clearEnv()
		setValidProductionBase()
		os.Setenv("FACTURIO_SWAGGER_ENABLED", "true")
		os.Setenv("FACTURIO_SWAGGER_REQUIRE_AUTH", "true")

		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.Swagger.Enabled)
		assert.True(t, cfg.Swagger.RequireAuth)
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("generates valid DSN", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "testuser",
			Password: "testpass",
			DBName:   "testdb",
			SSLMode:  "disable",
		}

		dsn := cfg.DSN()
		assert.Contains(t, dsn, "localhost")
		assert.Contains(t, dsn, "5432")
		assert.Contains(t, dsn, "testuser")
		assert.Contains(t, dsn, "testdb")
		assert.Contains(t, dsn, "sslmode=disable")
	})

	t.Run("escapes special characters in password", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "user",
			Password: "pass@word#123",
			DBName:   "db",
			SSLMode:  "disable",
		}

		assert.Contains(t, cfg.DSN(), "pass%40word%23123")
	})

	t.Run("handles empty password", func(t *testing.T) {
		cfg := DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "user",
			DBName:  "db",
			SSLMode: "disable",
		}

		assert.NotEmpty(t, cfg.DSN())
	})
}
