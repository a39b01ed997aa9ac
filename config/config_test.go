package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apettas/adeies/org"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leave.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	// GIVEN: Only the required secret
	cfg, err := load([]string{"--jwt-secret", "s3cret"}, env(nil))

	// THEN: Defaults fill the rest
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, DriverSQLite, cfg.Server.DBDriver)
	assert.Equal(t, "leave.db", cfg.Server.DB)
	assert.Equal(t, DefaultRolloverSchedule, cfg.Server.RolloverSchedule)
	assert.Equal(t, org.DefaultConfig().SecretarialCategories, cfg.Org.SecretarialCategories)
}

func TestLoad_Precedence(t *testing.T) {
	// GIVEN: A file, environment and a flag all setting addr
	path := writeFile(t, `
server:
  addr: ":7000"
  db: file.db
  log_level: debug
  cors_origins: ["https://leave.example"]
org:
  root_department_id: central
  directorate_id: primary
`)
	vars := map[string]string{
		"LEAVE_ADDR":       ":7100",
		"LEAVE_JWT_SECRET": "from-env",
	}

	// WHEN: Loading with --addr given
	cfg, err := load([]string{"--config", path, "--addr", ":7200"}, env(vars))

	// THEN: Flag beats env beats file beats default
	require.NoError(t, err)
	assert.Equal(t, ":7200", cfg.Server.Addr)
	assert.Equal(t, "from-env", cfg.Server.JWTSecret)
	assert.Equal(t, "file.db", cfg.Server.DB)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, []string{"https://leave.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, org.DepartmentID("central"), cfg.Org.RootDepartmentID)
	assert.Equal(t, org.DepartmentID("primary"), cfg.Org.DirectorateID)
	// category defaults survive a partial org section
	assert.Equal(t, org.CategorySupportCenter, cfg.Org.SupportCenterCategory)
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	path := writeFile(t, "server:\n  db_driver: memory\n  jwt_secret: x\n")

	cfg, err := load(nil, env(map[string]string{"LEAVE_CONFIG": path}))

	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Server.DBDriver)
}

func TestLoad_EnvLists(t *testing.T) {
	cfg, err := load(nil, env(map[string]string{
		"LEAVE_JWT_SECRET":   "x",
		"LEAVE_CORS_ORIGINS": "https://a, https://b,",
		"LEAVE_LOG_PRETTY":   "true",
		"LEAVE_DEMO":         "1",
	}))

	require.NoError(t, err)
	assert.Equal(t, []string{"https://a", "https://b"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Server.LogPretty)
	assert.True(t, cfg.Server.Demo)
}

func TestLoad_DemoFlagOverridesEnv(t *testing.T) {
	cfg, err := load([]string{"--jwt-secret", "x", "--demo=false"}, env(map[string]string{"LEAVE_DEMO": "true"}))

	require.NoError(t, err)
	assert.False(t, cfg.Server.Demo)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		vars map[string]string
	}{
		{"missing secret", nil, nil},
		{"unknown driver", []string{"--jwt-secret", "x", "--db-driver", "mongo"}, nil},
		{"empty dsn", []string{"--jwt-secret", "x", "--db", ""}, nil},
		{"bad schedule", []string{"--jwt-secret", "x", "--rollover-schedule", "every year"}, nil},
		{"bad bool", []string{"--jwt-secret", "x"}, map[string]string{"LEAVE_LOG_PRETTY": "maybe"}},
		{"bad org", []string{"--jwt-secret", "x"}, map[string]string{"LEAVE_ORG_ROOT": "a", "LEAVE_ORG_DIRECTORATE": "a"}},
		{"positional", []string{"--jwt-secret", "x", "serve"}, nil},
		{"unknown flag", []string{"--port", "80"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(tt.args, env(tt.vars))
			assert.Error(t, err)
		})
	}
}

func TestLoad_EmptyScheduleDisablesRollover(t *testing.T) {
	cfg, err := load([]string{"--jwt-secret", "x", "--rollover-schedule", ""}, env(nil))

	require.NoError(t, err)
	assert.Empty(t, cfg.Server.RolloverSchedule)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}, env(nil))
	assert.ErrorContains(t, err, "read config")
}
