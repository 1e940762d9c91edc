package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "disabled", cfg.Cron.Driver)
	assert.False(t, cfg.Events.Enabled)
	assert.False(t, cfg.Spawner.Enabled)
	assert.Equal(t, 20, cfg.Push.HeartbeatIntervalSeconds)
	assert.Equal(t, 90, cfg.Push.LivenessTimeoutSeconds)
	assert.Equal(t, 60, cfg.Push.ClaimGraceSeconds)
	assert.Equal(t, 30, cfg.Queue.SweepIntervalSeconds)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DISPATCHD_CRON_DRIVER", "app")
	t.Setenv("DISPATCHD_EVENTS_ENABLED", "true")
	t.Setenv("DISPATCHD_EVENTS_BUS_URL", "http://broker.local/events")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "app", cfg.Cron.Driver)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, "http://broker.local/events", cfg.Events.BusURL)
}

func TestValidate_RejectsUnknownCronDriver(t *testing.T) {
	cfg := &Config{Cron: CronConfig{Driver: "sidereal"}}
	assert.Error(t, validate(cfg))
}

func TestValidate_RequiresBusURLWhenEventsEnabled(t *testing.T) {
	cfg := &Config{
		Cron:   CronConfig{Driver: "disabled"},
		Events: EventsConfig{Enabled: true},
	}
	assert.Error(t, validate(cfg))

	cfg.Events.BusURL = "http://broker.local/events"
	assert.NoError(t, validate(cfg))
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "dispatchd", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/dispatchd?sslmode=disable", d.DSN())
}
