package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Port     int    `mapstructure:"port"`
		LogLevel string `mapstructure:"log_level"`
		Env      string `mapstructure:"env"`
	} `mapstructure:"server"`

	Discord struct {
		PublicKey string `mapstructure:"public_key"`
	} `mapstructure:"discord"`

	Router struct {
		RequestTimeoutMs int `mapstructure:"request_timeout_ms"`
	} `mapstructure:"router"`

	Registry struct {
		StaleAfterSeconds   int `mapstructure:"stale_after_seconds"`
		ReapIntervalSeconds int `mapstructure:"reap_interval_seconds"`
	} `mapstructure:"registry"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Campaigns struct {
		ROTR LegacyCampaign `mapstructure:"rotr"`
		SNS  LegacyCampaign `mapstructure:"sns"`
		TEST LegacyCampaign `mapstructure:"test"`
		File string         `mapstructure:"file"`

		// Extra holds the entries read from File.
		Extra []Campaign `mapstructure:"-"`
	} `mapstructure:"campaigns"`
}

// LegacyCampaign is one of the campaigns wired through dedicated env vars.
type LegacyCampaign struct {
	ChannelID string `mapstructure:"channel_id"`
	Endpoint  string `mapstructure:"endpoint"`
}

// Campaign is a statically configured campaign backend.
type Campaign struct {
	Name      string `yaml:"name"`
	ChannelID string `yaml:"channel_id"`
	Endpoint  string `yaml:"endpoint"`
}

// env var names used by existing deployments
var legacyEnv = map[string][]string{
	"server.port":                    {"PORT"},
	"server.log_level":               {"LOG_LEVEL"},
	"server.env":                     {"APP_ENV", "NODE_ENV"},
	"discord.public_key":             {"DISCORD_PUBLIC_KEY"},
	"router.request_timeout_ms":      {"REQUEST_TIMEOUT"},
	"registry.stale_after_seconds":   {"REGISTRY_STALE_AFTER_SECONDS"},
	"registry.reap_interval_seconds": {"REGISTRY_REAP_INTERVAL_SECONDS"},
	"postgres.host":                  {"PG_HOST"},
	"postgres.port":                  {"PG_PORT"},
	"postgres.user":                  {"PG_USER"},
	"postgres.password":              {"PG_PASSWORD"},
	"postgres.db_name":               {"PG_DBNAME"},
	"postgres.ssl_mode":              {"PG_SSLMODE"},
	"postgres.max_open_conns":        {"PG_MAX_CONNS"},
	"listener.channel":               {"LISTEN_CHANNEL"},
	"listener.reconnect_seconds":     {"LISTEN_RECONNECT_SECONDS"},
	"campaigns.rotr.channel_id":      {"ROTR_CHANNEL_ID"},
	"campaigns.rotr.endpoint":        {"ROTR_API_ENDPOINT"},
	"campaigns.sns.channel_id":       {"SNS_CHANNEL_ID"},
	"campaigns.sns.endpoint":         {"SNS_API_ENDPOINT"},
	"campaigns.test.channel_id":      {"TEST_CHANNEL_ID"},
	"campaigns.test.endpoint":        {"TEST_API_ENDPOINT"},
	"campaigns.file":                 {"CAMPAIGNS_FILE"},
}

// Load reads the optional config file at path (or configs/application.yaml when
// path is empty) and applies environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("application")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		_ = v.ReadInConfig() // optional; env can fully configure
	}

	for key, names := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	validate(&cfg)

	if cfg.Campaigns.File != "" {
		extra, err := LoadCampaignsFile(cfg.Campaigns.File)
		if err != nil {
			return Config{}, err
		}
		cfg.Campaigns.Extra = extra
	}
	return cfg, nil
}

func validate(c *Config) {
	if c.Server.Port == 0 { c.Server.Port = 3000 }
	if c.Server.Env == "" { c.Server.Env = "development" }
	if c.Router.RequestTimeoutMs <= 0 { c.Router.RequestTimeoutMs = 2500 }
	if c.Registry.StaleAfterSeconds < 0 { c.Registry.StaleAfterSeconds = 0 }
	if c.Registry.ReapIntervalSeconds <= 0 { c.Registry.ReapIntervalSeconds = 30 }
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns == 0 { c.Postgres.MaxOpenConns = 10 }
	if c.Postgres.MaxIdleConns == 0 { c.Postgres.MaxIdleConns = 2 }
	if c.Listener.Channel == "" { c.Listener.Channel = "campaign_registrations_changed" }
	if c.Listener.ReconnectSeconds <= 0 { c.Listener.ReconnectSeconds = 5 }
	if c.Campaigns.ROTR.Endpoint == "" { c.Campaigns.ROTR.Endpoint = "http://localhost:5000/api" }
	if c.Campaigns.SNS.Endpoint == "" { c.Campaigns.SNS.Endpoint = "http://localhost:5001/api" }
	if c.Campaigns.TEST.Endpoint == "" { c.Campaigns.TEST.Endpoint = "http://localhost:5002/api" }
}

// StaticCampaigns returns the legacy campaigns followed by the file entries.
// Entries without a channel ID are kept so status output can report them.
func (c Config) StaticCampaigns() []Campaign {
	out := []Campaign{
		{Name: "ROTR", ChannelID: c.Campaigns.ROTR.ChannelID, Endpoint: c.Campaigns.ROTR.Endpoint},
		{Name: "SNS", ChannelID: c.Campaigns.SNS.ChannelID, Endpoint: c.Campaigns.SNS.Endpoint},
		{Name: "TEST", ChannelID: c.Campaigns.TEST.ChannelID, Endpoint: c.Campaigns.TEST.Endpoint},
	}
	return append(out, c.Campaigns.Extra...)
}

func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Server.Port) }

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Router.RequestTimeoutMs) * time.Millisecond
}

func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Registry.StaleAfterSeconds) * time.Second
}

func (c Config) ReapInterval() time.Duration {
	return time.Duration(c.Registry.ReapIntervalSeconds) * time.Second
}

// PostgresEnabled reports whether durable registrations are configured.
func (c Config) PostgresEnabled() bool { return c.Postgres.Host != "" }

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }
