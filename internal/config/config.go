package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sungwon/notification-relay/internal/auth"
)

// Config holds all application configuration.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Mail     MailConfig     `mapstructure:"mail"`
	Database DatabaseConfig `mapstructure:"database"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// HTTPConfig holds the control surface listener configuration.
type HTTPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// APIKeyHash is a bcrypt hash; when set, POST /send requires the
	// matching bearer key.
	APIKeyHash string `mapstructure:"api_key_hash"`
	// CORSOrigins lists browser origins allowed to call the API. "*" allows
	// any origin; an empty list turns CORS off.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// MailConfig holds the outbound SMTP account. User and Password are not
// validated at load time; the transport reports them missing on first send.
type MailConfig struct {
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	TLS      string        `mapstructure:"tls"` // mandatory, opportunistic, none
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	PoolMin        int32         `mapstructure:"pool_min"`
	PoolMax        int32         `mapstructure:"pool_max"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// BrokerConfig selects and configures the inbound queue.
type BrokerConfig struct {
	// Type selects the backend: "amqp" (default), "redis" or "sqs".
	Type               string        `mapstructure:"type"`
	URL                string        `mapstructure:"url"`
	Queue              string        `mapstructure:"queue"`
	ConsumerTag        string        `mapstructure:"consumer_tag"`
	Prefetch           int           `mapstructure:"prefetch"`
	DeadLetterExchange string        `mapstructure:"dead_letter_exchange"`
	ProcessTimeout     time.Duration `mapstructure:"process_timeout"`
	ReconnectMin       time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax       time.Duration `mapstructure:"reconnect_max"`

	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisGroup    string        `mapstructure:"redis_group"`
	BlockTimeout  time.Duration `mapstructure:"block_timeout"`

	SQSQueueURL   string `mapstructure:"sqs_queue_url"`
	SQSDLQueueURL string `mapstructure:"sqs_dlq_url"`
	SQSRegion     string `mapstructure:"sqs_region"`
	SQSWaitTime   int32  `mapstructure:"sqs_wait_time"`
	SQSVisTimeout int32  `mapstructure:"sqs_visibility_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// legacyEnv maps config keys to the environment names used by existing
// deployments of the relay.
var legacyEnv = map[string]string{
	"mail.user":     "EMAIL_USER",
	"mail.password": "EMAIL_PASS",
	"database.url":  "DATABASE_URL",
	"broker.url":    "RABBITMQ_URL",
	"http.port":     "PORT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 5000)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 30*time.Second)
	v.SetDefault("http.cors_origins", []string{"*"})

	v.SetDefault("mail.user", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.host", "smtp.gmail.com")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.tls", "mandatory")
	v.SetDefault("mail.timeout", 15*time.Second)

	v.SetDefault("database.url", "postgres://localhost:5432/email_service?sslmode=disable")
	v.SetDefault("database.pool_min", 1)
	v.SetDefault("database.pool_max", 5)
	v.SetDefault("database.connect_timeout", 5*time.Second)

	v.SetDefault("broker.type", "amqp")
	v.SetDefault("broker.url", "amqp://localhost:5672/")
	v.SetDefault("broker.queue", "order.created")
	v.SetDefault("broker.consumer_tag", "notification-relay")
	v.SetDefault("broker.prefetch", 1)
	v.SetDefault("broker.dead_letter_exchange", "")
	v.SetDefault("broker.process_timeout", 60*time.Second)
	v.SetDefault("broker.reconnect_min", time.Second)
	v.SetDefault("broker.reconnect_max", 30*time.Second)
	v.SetDefault("broker.redis_addr", "localhost:6379")
	v.SetDefault("broker.redis_password", "")
	v.SetDefault("broker.redis_db", 0)
	v.SetDefault("broker.redis_group", "notification-relay")
	v.SetDefault("broker.block_timeout", 5*time.Second)
	v.SetDefault("broker.sqs_queue_url", "")
	v.SetDefault("broker.sqs_dlq_url", "")
	v.SetDefault("broker.sqs_region", "us-east-1")
	v.SetDefault("broker.sqs_wait_time", 20)
	v.SetDefault("broker.sqs_visibility_timeout", 90)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 5)
}

// Load reads configuration from an optional config.yaml in configPath and the
// environment. Environment variables with prefix RELAY_ override file values
// (RELAY_BROKER_QUEUE overrides broker.queue). The legacy names EMAIL_USER,
// EMAIL_PASS, DATABASE_URL, RABBITMQ_URL and PORT are honoured as well.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		prefixed := "RELAY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks structural settings. Missing mail credentials are allowed
// here and surface on the first send attempt instead.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.HTTP.APIKeyHash != "" {
		if err := auth.ValidateHash(c.HTTP.APIKeyHash); err != nil {
			errs = append(errs, fmt.Errorf("http.api_key_hash: %w", err))
		}
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Broker.Queue == "" {
		errs = append(errs, errors.New("broker.queue is required"))
	}
	if c.Broker.Prefetch < 1 {
		errs = append(errs, fmt.Errorf("broker.prefetch must be at least 1, got %d", c.Broker.Prefetch))
	}

	switch c.Broker.Type {
	case "amqp":
		if c.Broker.URL == "" {
			errs = append(errs, errors.New("broker.url is required for amqp"))
		}
	case "redis":
		if c.Broker.RedisAddr == "" {
			errs = append(errs, errors.New("broker.redis_addr is required for redis"))
		}
	case "sqs":
		if c.Broker.SQSQueueURL == "" {
			errs = append(errs, errors.New("broker.sqs_queue_url is required for sqs"))
		}
		// A message must stay hidden for the whole processing window or a
		// second receive sends it again.
		vis := time.Duration(c.Broker.SQSVisTimeout) * time.Second
		if vis <= c.Broker.ProcessTimeout {
			errs = append(errs, fmt.Errorf("broker.sqs_visibility_timeout (%s) must exceed broker.process_timeout (%s)", vis, c.Broker.ProcessTimeout))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown broker type %q", c.Broker.Type))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// MailCredentialsSet reports whether both mail account values are present.
func (c *Config) MailCredentialsSet() bool {
	return c.Mail.User != "" && c.Mail.Password != ""
}
