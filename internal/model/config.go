package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Driver is "sqlite" or "mongo".
	Driver string `mapstructure:"driver" yaml:"driver"`

	// Path is the SQLite database file.
	Path string `mapstructure:"path" yaml:"path"`

	MongoURI      string `mapstructure:"mongo_uri" yaml:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database" yaml:"mongo_database"`
}

// ServerConfig holds the HTTP API listener settings.
type ServerConfig struct {
	Host               string `mapstructure:"host" yaml:"host"`
	Port               int    `mapstructure:"port" yaml:"port"`
	ShutdownTimeoutSec int    `mapstructure:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
}

// Addr returns the host:port the server listens on.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig controls session tokens and role resolution.
type AuthConfig struct {
	JWTIssuer   string   `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTSecret   string   `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	TokenTTLMin int      `mapstructure:"token_ttl_min" yaml:"token_ttl_min"`
	StaffDomain string   `mapstructure:"staff_domain" yaml:"staff_domain"`
	AdminEmails []string `mapstructure:"admin_emails" yaml:"admin_emails"`
}

// ExpertConfig describes an expert customers can address a task to.
type ExpertConfig struct {
	Email string `mapstructure:"email" yaml:"email"`
	Name  string `mapstructure:"name" yaml:"name"`
	Type  string `mapstructure:"type" yaml:"type"`
}

// SMTPConfig holds outbound mail settings for expert notifications.
type SMTPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	From     string `mapstructure:"from" yaml:"from"`
}

// NotifyConfig holds the best-effort notification targets.
type NotifyConfig struct {
	TeamsWebhookURL string     `mapstructure:"teams_webhook_url" yaml:"teams_webhook_url"`
	TimeoutSec      int        `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	SMTP            SMTPConfig `mapstructure:"smtp" yaml:"smtp"`
}

// AttachmentConfig selects where uploaded task files are stored.
type AttachmentConfig struct {
	// Driver is "local" or "s3".
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Dir       string `mapstructure:"dir" yaml:"dir"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme          string `mapstructure:"theme" yaml:"theme"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// LogConfig selects the log level profile and destination.
type LogConfig struct {
	// Env is "local", "dev" or "prod".
	Env  string `mapstructure:"env" yaml:"env"`
	Path string `mapstructure:"path" yaml:"path"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Store       StoreConfig      `mapstructure:"store" yaml:"store"`
	Server      ServerConfig     `mapstructure:"server" yaml:"server"`
	Auth        AuthConfig       `mapstructure:"auth" yaml:"auth"`
	Experts     []ExpertConfig   `mapstructure:"experts" yaml:"experts"`
	Notify      NotifyConfig     `mapstructure:"notify" yaml:"notify"`
	Attachments AttachmentConfig `mapstructure:"attachments" yaml:"attachments"`
	Display     DisplayConfig    `mapstructure:"display" yaml:"display"`
	Log         LogConfig        `mapstructure:"log" yaml:"log"`
}

// FindExpert returns the configured expert with the given email.
func (c *AppConfig) FindExpert(email string) (ExpertConfig, bool) {
	for _, e := range c.Experts {
		if strings.EqualFold(e.Email, email) {
			return e, true
		}
	}
	return ExpertConfig{}, false
}

// ConfigDir returns ~/.config/expertdesk, falling back to the working directory.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "expertdesk")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/expertdesk/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	dir := ConfigDir()
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", filepath.Join(dir, "expertdesk.db"))
	v.SetDefault("store.mongo_database", "expertdesk")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_sec", 10)
	v.SetDefault("auth.jwt_issuer", "expertdesk")
	v.SetDefault("auth.token_ttl_min", 720)
	v.SetDefault("notify.timeout_sec", 10)
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("attachments.driver", "local")
	v.SetDefault("attachments.dir", filepath.Join(dir, "attachments"))
	v.SetDefault("display.theme", "default")
	v.SetDefault("display.poll_interval_ms", 1000)
	v.SetDefault("log.env", "local")
	v.SetDefault("log.path", filepath.Join(dir, "expertdesk.log"))

	// Unset keys are invisible to Unmarshal, so register the ones that are
	// usually supplied through the environment.
	for _, key := range []string{
		"store.mongo_uri",
		"auth.jwt_secret",
		"auth.staff_domain",
		"notify.teams_webhook_url",
		"notify.smtp.host",
		"notify.smtp.username",
		"notify.smtp.password",
		"notify.smtp.from",
		"attachments.base_url",
		"attachments.bucket",
		"attachments.region",
		"attachments.endpoint",
		"attachments.access_key",
		"attachments.secret_key",
	} {
		v.SetDefault(key, "")
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with EXPERTDESK_ override file values
// (EXPERTDESK_SERVER_PORT for server.port). A missing file yields defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("EXPERTDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. Secrets are not written; they
// belong in the keyring.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	auth := cfg.Auth
	auth.JWTSecret = ""
	notify := cfg.Notify
	notify.TeamsWebhookURL = ""
	notify.SMTP.Password = ""
	attachments := cfg.Attachments
	attachments.SecretKey = ""

	v.Set("store", cfg.Store)
	v.Set("server", cfg.Server)
	v.Set("auth", auth)
	v.Set("experts", cfg.Experts)
	v.Set("notify", notify)
	v.Set("attachments", attachments)
	v.Set("display", cfg.Display)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
