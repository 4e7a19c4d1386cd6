package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// clearEnv blanks the overrides so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	for _, k := range []string{"GUARD_DB", "GUARD_PORT", "GUARD_LOG_LEVEL", "GUARD_LOG_FORMAT", "GUARD_RECONCILE_INTERVAL"} {
		t.Setenv(k, "")
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, 5, cfg.Ledger.EntitlementPerGuard)
	assert.Equal(t, 6, cfg.Ledger.PersonalLeaveAnnual)
	assert.Equal(t, 22, cfg.Ledger.VacationAnnual)
	assert.True(t, cfg.Ledger.ExcludeWeekendsFromVacation)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, time.Hour, cfg.Scheduler.IntervalDuration())
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "guard.toml", `
[server]
port = 9090

[storage]
driver = "memory"

[ledger]
entitlement_per_guard = 4
exclude_weekends_from_vacation = false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 4, cfg.Ledger.EntitlementPerGuard)
	assert.False(t, cfg.Ledger.ExcludeWeekendsFromVacation)
	assert.Equal(t, 22, cfg.Ledger.VacationAnnual, "unset keys keep their default")
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "guard.yaml", `
log:
  level: debug
  format: json
ledger:
  personal_leave_annual: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, FormatJSON, cfg.Log.Format)
	assert.Equal(t, 3, cfg.Ledger.PersonalLeaveAnnual)
	assert.Equal(t, 5, cfg.Ledger.EntitlementPerGuard)
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "guard.ini", "port=1")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidLedger(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "guard.toml", "[ledger]\nentitlement_per_guard = 0\n")

	_, err := Load(path)
	assert.ErrorContains(t, err, "entitlement_per_guard")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"GUARD_DB":        "/tmp/other.db",
		"GUARD_PORT":      "7000",
		"GUARD_LOG_LEVEL": "warn",
	}
	cfg := Default()

	require.NoError(t, cfg.applyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, "/tmp/other.db", cfg.Storage.Path)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Log.Level)

	env["GUARD_PORT"] = "not-a-port"
	assert.Error(t, cfg.applyEnv(func(k string) string { return env[k] }))
}

func TestNewLogger_JSON(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = FormatJSON
	cfg.Log.Level = "warn"
	var buf bytes.Buffer

	log := cfg.NewLogger(&buf)
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
}

func TestLoad_SchedulerInterval(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "guard.toml", "[scheduler]\ninterval = \"15m\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.IntervalDuration())

	t.Setenv("GUARD_RECONCILE_INTERVAL", "soon")
	_, err = Load(path)
	assert.ErrorContains(t, err, "scheduler.interval")
}

func TestValidate_DisabledSchedulerIgnoresInterval(t *testing.T) {
	cfg := Default()
	cfg.Scheduler = SchedulerConfig{Enabled: false, Interval: ""}

	assert.NoError(t, cfg.Validate())
}
