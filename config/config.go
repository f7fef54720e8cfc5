package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingCredentials is returned when the selected storage backend has no
// connection details.
var ErrMissingCredentials = errors.New("missing storage credentials")

// Config holds all configuration for the receiver
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	LogLevel string `mapstructure:"log_level"`
}

var logLevels = []string{"debug", "info", "warn", "error"}

func (g GeneralConfig) Normalize() GeneralConfig {
	g.LogLevel = strings.ToLower(strings.TrimSpace(g.LogLevel))
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	return g
}

func (g GeneralConfig) Validate() error {
	if !slices.Contains(logLevels, g.LogLevel) {
		return fmt.Errorf("general.log_level must be one of %s", strings.Join(logLevels, ", "))
	}
	return nil
}

// Debug reports whether [DEBUG] lines such as record previews are logged.
func (g GeneralConfig) Debug() bool {
	return g.LogLevel == "debug"
}

// FeedConfig locates the captured SWIM document.
type FeedConfig struct {
	XMLPath         string `mapstructure:"xml_path"`
	LastSuccessPath string `mapstructure:"last_success_path"`
	PreviewCount    int    `mapstructure:"preview_count"`
}

func (f FeedConfig) Normalize() FeedConfig {
	f.XMLPath = expandHome(strings.TrimSpace(f.XMLPath))
	f.LastSuccessPath = expandHome(strings.TrimSpace(f.LastSuccessPath))
	if f.PreviewCount < 0 {
		f.PreviewCount = 0
	}
	return f
}

func (f FeedConfig) Validate() error {
	if f.XMLPath == "" {
		return fmt.Errorf("feed.xml_path required")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

func (s StorageConfig) Validate() error {
	switch s.Driver {
	case "postgres":
		if err := s.Postgres.Validate(); err != nil {
			return err
		}
	case "sqlite":
		if strings.TrimSpace(s.SQLite.Path) == "" {
			return fmt.Errorf("storage.sqlite.path required: %w", ErrMissingCredentials)
		}
	default:
		return fmt.Errorf("storage.driver must be postgres or sqlite, got %q", s.Driver)
	}
	if s.Redis.Enabled {
		return s.Redis.Validate()
	}
	return nil
}

// Target returns the DSN or file path handed to store.Open.
func (s StorageConfig) Target() string {
	if s.Driver == "sqlite" {
		return s.SQLite.Path
	}
	return s.Postgres.DSN()
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided: %w", ErrMissingCredentials)
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided: %w", ErrMissingCredentials)
	}
	return nil
}

// DSN returns the URL when set, otherwise builds one from the parts.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   p.Host,
		Path:   "/" + p.DBName,
	}
	if p.Port != "" {
		u.Host = p.Host + ":" + p.Port
	}
	if p.User != "" {
		if p.Password != "" {
			u.User = url.UserPassword(p.User, p.Password)
		} else {
			u.User = url.User(p.User)
		}
	}
	q := url.Values{}
	if p.SSLMode != "" {
		q.Set("sslmode", p.SSLMode)
	}
	if p.Timeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(p.Timeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// SQLiteConfig points at the local database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	if strings.TrimSpace(r.Stream) == "" {
		return fmt.Errorf("storage.redis.stream required")
	}
	return nil
}

// Addr is host:port for go-redis.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// ServerConfig contains the monitoring and control HTTP settings
type ServerConfig struct {
	Address              string `mapstructure:"address"`
	ControlToken         string `mapstructure:"control_token"`
	ServiceName          string `mapstructure:"service_name"`
	Systemctl            string `mapstructure:"systemctl"`
	LiveLogPath          string `mapstructure:"live_log_path"`
	DiskPath             string `mapstructure:"disk_path"`
	ControlRatePerMinute int    `mapstructure:"control_rate_per_minute"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address required")
	}
	if strings.TrimSpace(s.ServiceName) == "" {
		return fmt.Errorf("server.service_name required")
	}
	if s.ControlRatePerMinute < 0 {
		return fmt.Errorf("server.control_rate_per_minute cannot be negative")
	}
	return nil
}

// SchedulerConfig drives periodic ingestion.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Cron     string        `mapstructure:"cron"`
	Tick     time.Duration `mapstructure:"tick"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	Debounce time.Duration `mapstructure:"debounce"`
}

func (s SchedulerConfig) Validate() error {
	if s.Enabled && strings.TrimSpace(s.Cron) == "" {
		return fmt.Errorf("scheduler.cron required when scheduler is enabled")
	}
	if s.Tick <= 0 {
		return fmt.Errorf("scheduler.tick must be > 0")
	}
	return nil
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ServiceName    string        `mapstructure:"service_name"`
	OTLPEndpoint   string        `mapstructure:"otlp_endpoint"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
}

func (t TelemetryConfig) Validate() error {
	if t.OTLPEndpoint != "" && t.ExportInterval <= 0 {
		return fmt.Errorf("telemetry.export_interval must be > 0 when otlp_endpoint is set")
	}
	return nil
}

// Load reads configuration from path (or the default search paths), the env
// file named by SWIMCTL_ENV and the process environment.
func Load(path string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(exe))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("SWIMCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.General = cfg.General.Normalize()
	cfg.Feed = cfg.Feed.Normalize()
	cfg.Storage.SQLite.Path = expandHome(cfg.Storage.SQLite.Path)
	cfg.Server.LiveLogPath = expandHome(cfg.Server.LiveLogPath)
	if cfg.Server.LiveLogPath == "" {
		cfg.Server.LiveLogPath = cfg.Feed.XMLPath
	}

	for _, validate := range []func() error{
		cfg.General.Validate,
		cfg.Feed.Validate,
		cfg.Storage.Validate,
		cfg.Server.Validate,
		cfg.Scheduler.Validate,
		cfg.Telemetry.Validate,
	} {
		if err := validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "debug")
	v.SetDefault("feed.xml_path", "~/swim_data/swim.xml")
	v.SetDefault("feed.last_success_path", "~/swim_data/last_success.txt")
	v.SetDefault("feed.preview_count", 3)
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.postgres.sslmode", "require")
	v.SetDefault("storage.postgres.timeout", 30*time.Second)
	v.SetDefault("storage.sqlite.path", "~/swim_data/flights.db")
	v.SetDefault("storage.redis.enabled", false)
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.stream", "swim:flights")
	v.SetDefault("storage.redis.max_len", 100000)
	v.SetDefault("server.address", ":8129")
	v.SetDefault("server.service_name", "swim-receiver.service")
	v.SetDefault("server.systemctl", "/bin/systemctl")
	v.SetDefault("server.disk_path", "/")
	v.SetDefault("server.control_rate_per_minute", 6)
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.cron", "*/5 * * * *")
	v.SetDefault("scheduler.tick", 30*time.Second)
	v.SetDefault("scheduler.lock_ttl", 4*time.Minute)
	v.SetDefault("scheduler.debounce", 2*time.Second)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "swimctl")
	v.SetDefault("telemetry.export_interval", 15*time.Second)

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"storage.postgres.url", "storage.postgres.host", "storage.postgres.user",
		"storage.postgres.password", "storage.postgres.dbname",
		"storage.redis.host", "storage.redis.password",
		"server.control_token", "server.live_log_path", "telemetry.otlp_endpoint",
	} {
		v.SetDefault(key, "")
	}
}

// bindLegacyEnv lets the variable names used before swimctl existed keep
// working. Prefixed SWIMCTL_ variables take precedence.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("feed.xml_path", "SWIMCTL_FEED_XML_PATH", "SWIM_XML_PATH")
	_ = v.BindEnv("server.control_token", "SWIMCTL_SERVER_CONTROL_TOKEN", "SWIMCTL_TOKEN")
	_ = v.BindEnv("storage.postgres.url", "SWIMCTL_STORAGE_POSTGRES_URL", "DATABASE_URL")
}

// loadEnvFile loads the env file without overriding variables already set.
func loadEnvFile() error {
	path := os.Getenv("SWIMCTL_ENV")
	if path == "" {
		path = "~/.swimctl_env"
	}
	path = expandHome(path)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
