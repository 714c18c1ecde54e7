package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config groups settings by section. Each section tag is the key prefix and
// field keys are derived from field names, so every key is fully qualified
// (CLICKHOUSE_PORT, VALKEY_PORT) and bare names such as PORT or USER from the
// host environment are never consulted.
type Config struct {
	Service    Service    `envconfig:"SERVICE"`
	Log        Log        `envconfig:"LOG"`
	Broker     Broker     `envconfig:"BROKER"`
	MQTT       MQTT       `envconfig:"MQTT"`
	SQS        SQS        `envconfig:"SQS"`
	ClickHouse ClickHouse `envconfig:"CLICKHOUSE"`
	Mongo      Mongo      `envconfig:"MONGO"`
	Consumer   Consumer   `envconfig:"CONSUMER"`
	Alerting   Alerting   `envconfig:"ALERTING"`
	Valkey     Valkey     `envconfig:"VALKEY"`
	SMTP       SMTP       `envconfig:"SMTP"`
}

type Service struct {
	Environment string `split_words:"true" required:"true"`
	APIPort     string `split_words:"true" default:"8080"`
	Host        string `split_words:"true" default:"localhost:8080"`
}

// Log configures the optional rotating file sink. Stdout logging is always on.
type Log struct {
	File       string `split_words:"true"`
	MaxSizeMB  int    `split_words:"true" default:"100"`
	MaxBackups int    `split_words:"true" default:"5"`
	MaxAgeDays int    `split_words:"true" default:"14"`
}

type Broker struct {
	Transport string `split_words:"true" default:"mqtt"`
	Namespace string `split_words:"true" default:"aquatech"`
}

type MQTT struct {
	URL                  string        `split_words:"true" default:"tcp://localhost:1883"`
	ClientIDPrefix       string        `split_words:"true" default:"telemetry-consumer"`
	Username             string        `split_words:"true"`
	Password             string        `split_words:"true"`
	CACertFile           string        `split_words:"true"`
	ClientCertFile       string        `split_words:"true"`
	ClientKeyFile        string        `split_words:"true"`
	InsecureSkipVerify   bool          `split_words:"true" default:"false"`
	QOS                  byte          `split_words:"true" default:"1"`
	KeepAlive            time.Duration `split_words:"true" default:"60s"`
	ConnectTimeout       time.Duration `split_words:"true" default:"10s"`
	ReconnectInterval    time.Duration `split_words:"true" default:"5s"`
	MaxReconnectInterval time.Duration `split_words:"true" default:"1m"`
}

type SQS struct {
	Endpoint string `split_words:"true"`
	QueueURL string `split_words:"true"`
	Region   string `split_words:"true" default:"eu-central-1"`
}

type ClickHouse struct {
	Host               string `split_words:"true" required:"true"`
	Port               string `split_words:"true" default:"9000"`
	DB                 string `split_words:"true" required:"true"`
	User               string `split_words:"true" default:""`
	Password           string `split_words:"true" default:""`
	UseTLS             bool   `split_words:"true" default:"false"`
	MaxOpenConns       int    `split_words:"true" default:"5"`
	MaxIdleConns       int    `split_words:"true" default:"2"`
	ConnMaxLifetimeSec int    `split_words:"true" default:"3600"`
}

type Mongo struct {
	URI      string        `split_words:"true" required:"true"`
	Database string        `split_words:"true" default:"aquatech"`
	Timeout  time.Duration `split_words:"true" default:"5s"`
	MaxPool  uint64        `split_words:"true" default:"50"`
	MinPool  uint64        `split_words:"true" default:"10"`
}

type Consumer struct {
	Workers         int           `split_words:"true" default:"8"`
	BufferSize      int           `split_words:"true" default:"100"`
	HandleTimeout   time.Duration `split_words:"true" default:"15s"`
	HealthCheckPort string        `split_words:"true" default:"8081"`
	RegistrationTTL time.Duration `split_words:"true" default:"1h"`
}

type Alerting struct {
	Workers                int           `split_words:"true" default:"4"`
	QueueSize              int           `split_words:"true" default:"1024"`
	TaskTimeout            time.Duration `split_words:"true" default:"30s"`
	DedupWindow            time.Duration `split_words:"true" default:"5m"`
	DedupPruneThreshold    int           `split_words:"true" default:"1024"`
	DedupBackend           string        `split_words:"true" default:"memory"`
	DefaultSeverity        string        `split_words:"true" default:"preventivo"`
	DefaultCooldownMinutes int           `split_words:"true" default:"10"`
	DefaultMaxPerDay       int           `split_words:"true" default:"5"`
	Timezone               string        `split_words:"true" default:"Local"`
	StoreURLPrefix         string        `split_words:"true" default:"/puntoVenta/"`
}

type Valkey struct {
	Host     string `split_words:"true" default:"localhost"`
	Port     string `split_words:"true" default:"6379"`
	Password string `split_words:"true"`
	DB       int    `split_words:"true" default:"0"`
	FailOpen bool   `split_words:"true" default:"true"`
}

type SMTP struct {
	Host     string        `split_words:"true"`
	Port     int           `split_words:"true" default:"587"`
	Username string        `split_words:"true"`
	Password string        `split_words:"true"`
	From     string        `split_words:"true" default:"alertas@aquatech.local"`
	FromName string        `split_words:"true" default:"Aquatech Alertas"`
	Timeout  time.Duration `split_words:"true" default:"10s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	c.Broker.Transport = strings.ToLower(c.Broker.Transport)
	switch c.Broker.Transport {
	case "mqtt":
		if c.MQTT.URL == "" {
			return fmt.Errorf("MQTT_URL is required for mqtt transport")
		}
	case "sqs":
		if c.SQS.QueueURL == "" {
			return fmt.Errorf("SQS_QUEUE_URL is required for sqs transport")
		}
	default:
		return fmt.Errorf("unsupported broker transport: %s (supported: mqtt, sqs)", c.Broker.Transport)
	}

	c.Alerting.DedupBackend = strings.ToLower(c.Alerting.DedupBackend)
	if c.Alerting.DedupBackend != "memory" && c.Alerting.DedupBackend != "valkey" {
		return fmt.Errorf("unsupported dedup backend: %s (supported: memory, valkey)", c.Alerting.DedupBackend)
	}

	if c.Consumer.Workers < 1 || c.Alerting.Workers < 1 {
		return fmt.Errorf("worker counts must be positive")
	}

	if c.Broker.Namespace == "" {
		return fmt.Errorf("BROKER_NAMESPACE must not be empty")
	}

	return nil
}

// Location resolves the timezone used for daily email caps.
func (a Alerting) Location() (*time.Location, error) {
	if a.Timezone == "" || a.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}
