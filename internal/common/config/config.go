// Package config loads the control plane's configuration from the
// environment via viper: one sub-config per component, defaults applied
// before binding, validation after.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config aggregates every component's settings.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Events   EventsConfig   `mapstructure:"events"`
	Spawner  SpawnerConfig  `mapstructure:"spawner"`
	Cron     CronConfig     `mapstructure:"cron"`
	Routing  RoutingConfig  `mapstructure:"routing"`
	Push     PushConfig     `mapstructure:"push"`
	Queue    QueueConfig    `mapstructure:"queue"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// DSN builds the Postgres connection string pgxpool expects.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type EventsConfig struct {
	BusURL  string `mapstructure:"bus_url"`
	Enabled bool   `mapstructure:"enabled"`
	NATSURL string `mapstructure:"nats_url"`
}

type SpawnerConfig struct {
	Enabled                bool   `mapstructure:"enabled"`
	Namespace              string `mapstructure:"namespace"`
	TemplateConfigMap      string `mapstructure:"template_configmap"`
	IdleMaxAgeHours        int    `mapstructure:"idle_max_age_hours"`
	CleanupIntervalMinutes int    `mapstructure:"cleanup_interval_minutes"`
}

type CronConfig struct {
	Driver              string `mapstructure:"driver"` // app|knative|disabled
	InternalToken       string `mapstructure:"internal_token"`
	DefaultNamespace    string `mapstructure:"default_namespace"`
	AllowCrossNamespace bool   `mapstructure:"allow_cross_namespace"`
	AppTickInterval     string `mapstructure:"app_tick_interval"`
	TriggerBaseURL      string `mapstructure:"trigger_base_url"`
}

type RoutingConfig struct {
	AutoModel             bool                `mapstructure:"auto_model"`
	ModelPerTier          map[string]string   `mapstructure:"model_per_tier"`
	PersonalityToAgent    map[string]string   `mapstructure:"personality_to_agent"`
	PersonalityToModel    map[string]string   `mapstructure:"personality_to_model"`
	AgentTypeCapabilities map[string][]string `mapstructure:"agent_type_capabilities"`

	// Worker-side model-resolver settings, served to workers verbatim;
	// the control plane itself never resolves subcall models.
	DefaultSubcallModelRef    string   `mapstructure:"default_subcall_model_ref"`
	FallbackChain             []string `mapstructure:"fallback_chain"`
	ControllerFallbackAllowed bool     `mapstructure:"controller_fallback_allowed"`
}

type PushConfig struct {
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds"`
	LivenessTimeoutSeconds   int `mapstructure:"liveness_timeout_seconds"`
	ClaimGraceSeconds        int `mapstructure:"claim_grace_seconds"`
	ChannelBufferSize        int `mapstructure:"channel_buffer_size"`
}

type QueueConfig struct {
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
}

// Load reads configuration from the environment, applying defaults and
// returning a validated Config.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DISPATCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "dispatchd")
	v.SetDefault("database.name", "dispatchd")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")

	v.SetDefault("events.enabled", false)

	v.SetDefault("spawner.enabled", false)
	v.SetDefault("spawner.namespace", "default")
	v.SetDefault("spawner.template_configmap", "dispatchd-session-templates")
	v.SetDefault("spawner.idle_max_age_hours", 24)
	v.SetDefault("spawner.cleanup_interval_minutes", 60)

	v.SetDefault("cron.driver", "disabled")
	v.SetDefault("cron.default_namespace", "default")
	v.SetDefault("cron.allow_cross_namespace", false)
	v.SetDefault("cron.app_tick_interval", "30s")

	v.SetDefault("routing.auto_model", false)

	v.SetDefault("push.heartbeat_interval_seconds", 20)
	v.SetDefault("push.liveness_timeout_seconds", 90)
	v.SetDefault("push.claim_grace_seconds", 60)
	v.SetDefault("push.channel_buffer_size", 64)

	v.SetDefault("queue.sweep_interval_seconds", 30)
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("database.host", "DISPATCHD_DATABASE_HOST")
	_ = v.BindEnv("database.port", "DISPATCHD_DATABASE_PORT")
	_ = v.BindEnv("database.user", "DISPATCHD_DATABASE_USER")
	_ = v.BindEnv("database.password", "DISPATCHD_DATABASE_PASSWORD")
	_ = v.BindEnv("database.name", "DISPATCHD_DATABASE_NAME")
	_ = v.BindEnv("events.bus_url", "DISPATCHD_EVENTS_BUS_URL")
	_ = v.BindEnv("events.enabled", "DISPATCHD_EVENTS_ENABLED")
	_ = v.BindEnv("events.nats_url", "DISPATCHD_EVENTS_NATS_URL")
	_ = v.BindEnv("cron.driver", "DISPATCHD_CRON_DRIVER")
	_ = v.BindEnv("cron.internal_token", "DISPATCHD_CRON_INTERNAL_TOKEN")
	_ = v.BindEnv("spawner.enabled", "DISPATCHD_SPAWNER_ENABLED")
}

func validate(cfg *Config) error {
	var errs []string
	switch cfg.Cron.Driver {
	case "app", "knative", "disabled":
	default:
		errs = append(errs, fmt.Sprintf("cron.driver: unknown mode %q", cfg.Cron.Driver))
	}
	if cfg.Events.Enabled && cfg.Events.BusURL == "" {
		errs = append(errs, "events.bus_url: required when events.enabled is true")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}
