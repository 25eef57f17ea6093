package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override, e.g. ROOMBOOKING_DATABASE_HOST.
const EnvPrefix = "ROOMBOOKING"

type Config struct {
	HTTP         HTTPConfig         `yaml:"http"`
	GRPC         GRPCConfig         `yaml:"grpc"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Messaging    MessagingConfig    `yaml:"messaging"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Booking      BookingConfig      `yaml:"booking"`
	Pricing      PricingConfig      `yaml:"pricing"`
	Weather      WeatherConfig      `yaml:"weather"`
	Payment      PaymentConfig      `yaml:"payment"`
	Notification NotificationConfig `yaml:"notification"`
	Auth         AuthConfig         `yaml:"auth"`
	Worker       WorkerConfig       `yaml:"worker"`
	Log          LogConfig          `yaml:"log"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

type HTTPConfig struct {
	Address     string   `yaml:"address"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type GRPCConfig struct {
	Address string `yaml:"address"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

const (
	DriverKafka    = "kafka"
	DriverRabbitMQ = "rabbitmq"
)

type MessagingConfig struct {
	Driver              string `yaml:"driver"`
	PaymentRequestTopic string `yaml:"payment_request_topic"`
	RefundRequestTopic  string `yaml:"refund_request_topic"`
	BookingEventsTopic  string `yaml:"booking_events_topic"`
	DeadLetterSuffix    string `yaml:"dead_letter_suffix"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Prefetch int    `yaml:"prefetch"`
}

const (
	LockRedis = "redis"
	LockLocal = "local"
)

type BookingConfig struct {
	HoldTTL        time.Duration `yaml:"hold_ttl"`
	LockBackend    string        `yaml:"lock_backend"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
	LockWait       time.Duration `yaml:"lock_wait"`
	Currency       string        `yaml:"currency"`
	ReminderWindow time.Duration `yaml:"reminder_window"`
	RoomsCacheTTL  time.Duration `yaml:"rooms_cache_ttl"`
}

// Bracket is one surcharge step. A nil MaxDeviation closes the schedule.
type Bracket struct {
	MaxDeviation     *float64 `yaml:"max_deviation"`
	SurchargePercent int      `yaml:"surcharge_percent"`
}

type PricingConfig struct {
	OptimumTemperature float64       `yaml:"optimum_temperature"`
	DefaultTemperature float64       `yaml:"default_temperature"`
	WeatherTimeout     time.Duration `yaml:"weather_timeout"`
	Brackets           []Bracket     `yaml:"brackets" ignored:"true"`
}

type WeatherConfig struct {
	BaseURL  string        `yaml:"base_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

const (
	GatewayOmise   = "omise"
	GatewaySandbox = "sandbox"
)

type PaymentConfig struct {
	Gateway        string        `yaml:"gateway"`
	OmisePublicKey string        `yaml:"omise_public_key"`
	OmiseSecretKey string        `yaml:"omise_secret_key"`
	ChargeTimeout  time.Duration `yaml:"charge_timeout"`
	SnowflakeNode  int64         `yaml:"snowflake_node"`
}

const (
	ChannelSMTP = "smtp"
	ChannelLog  = "log"
)

type NotificationConfig struct {
	Channel    string `yaml:"channel"`
	FromEmail  string `yaml:"from_email"`
	AdminEmail string `yaml:"admin_email"`
	SMTPHost   string `yaml:"smtp_host"`
	SMTPPort   int    `yaml:"smtp_port"`
	SMTPUser   string `yaml:"smtp_user"`
	SMTPPass   string `yaml:"smtp_password"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	ExpirationSweep time.Duration `yaml:"expiration_sweep"`
	ReminderSweep   time.Duration `yaml:"reminder_sweep"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Environment  string `yaml:"environment"`
}

// LoadConfig reads the YAML file, then applies .env and ROOMBOOKING_* overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// .env необязателен
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Address: ":8080"},
		GRPC: GRPCConfig{Address: ":9090"},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Messaging: MessagingConfig{
			Driver:              DriverKafka,
			PaymentRequestTopic: "room.payment_requests",
			RefundRequestTopic:  "room.refund_requests",
			BookingEventsTopic:  "room.booking_events",
			DeadLetterSuffix:    ".dlq",
		},
		Kafka:    KafkaConfig{GroupID: "roombooking-worker"},
		RabbitMQ: RabbitMQConfig{Exchange: "roombooking", Prefetch: 8},
		Booking: BookingConfig{
			HoldTTL:        30 * time.Minute,
			LockBackend:    LockRedis,
			LockTTL:        10 * time.Second,
			LockWait:       5 * time.Second,
			Currency:       "USD",
			ReminderWindow: 24 * time.Hour,
			RoomsCacheTTL:  time.Minute,
		},
		Pricing: PricingConfig{
			OptimumTemperature: 21,
			DefaultTemperature: 20,
			WeatherTimeout:     2 * time.Second,
			Brackets:           DefaultBrackets(),
		},
		Weather: WeatherConfig{CacheTTL: time.Hour},
		Payment: PaymentConfig{
			Gateway:       GatewaySandbox,
			ChargeTimeout: 15 * time.Second,
			SnowflakeNode: 1,
		},
		Notification: NotificationConfig{
			Channel:    ChannelLog,
			FromEmail:  "noreply@conferencerooms.com",
			AdminEmail: "admin@conferencerooms.com",
			SMTPPort:   587,
		},
		Worker: WorkerConfig{
			Concurrency:     2,
			MaxAttempts:     5,
			InitialBackoff:  200 * time.Millisecond,
			MaxBackoff:      10 * time.Second,
			ExpirationSweep: time.Minute,
			ReminderSweep:   10 * time.Minute,
		},
		Log:     LogConfig{Level: "info", Format: "json"},
		Tracing: TracingConfig{ServiceName: "roombooking", Environment: "dev"},
	}
}

// DefaultBrackets is the documented surcharge schedule: ≤2→0%, ≤5→10%, ≤10→20%, else→30%.
func DefaultBrackets() []Bracket {
	return []Bracket{
		{MaxDeviation: ptr(2), SurchargePercent: 0},
		{MaxDeviation: ptr(5), SurchargePercent: 10},
		{MaxDeviation: ptr(10), SurchargePercent: 20},
		{MaxDeviation: nil, SurchargePercent: 30},
	}
}

func (c *Config) Validate() error {
	if err := ValidateBrackets(c.Pricing.Brackets); err != nil {
		return fmt.Errorf("invalid pricing brackets: %w", err)
	}
	switch c.Messaging.Driver {
	case DriverKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka.brokers is required")
		}
	case DriverRabbitMQ:
		if c.RabbitMQ.URL == "" {
			return errors.New("rabbitmq.url is required")
		}
	default:
		return fmt.Errorf("unknown messaging driver %q", c.Messaging.Driver)
	}
	switch c.Booking.LockBackend {
	case LockRedis, LockLocal:
	default:
		return fmt.Errorf("unknown lock backend %q", c.Booking.LockBackend)
	}
	switch c.Payment.Gateway {
	case GatewaySandbox:
	case GatewayOmise:
		if c.Payment.OmisePublicKey == "" || c.Payment.OmiseSecretKey == "" {
			return errors.New("omise keys are required for the omise gateway")
		}
	default:
		return fmt.Errorf("unknown payment gateway %q", c.Payment.Gateway)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Worker.MaxAttempts < 1 {
		return errors.New("worker.max_attempts must be at least 1")
	}
	return nil
}

// ValidateBrackets requires strictly ascending bounds and a final open bracket.
func ValidateBrackets(brackets []Bracket) error {
	if len(brackets) == 0 {
		return errors.New("at least one bracket is required")
	}
	prev := -1.0
	for i, b := range brackets {
		if b.SurchargePercent < 0 {
			return fmt.Errorf("bracket %d: negative surcharge", i)
		}
		if b.MaxDeviation == nil {
			if i != len(brackets)-1 {
				return fmt.Errorf("bracket %d: open bracket must be last", i)
			}
			return nil
		}
		if *b.MaxDeviation <= prev {
			return fmt.Errorf("bracket %d: bounds must be ascending", i)
		}
		prev = *b.MaxDeviation
	}
	return errors.New("last bracket must be open-ended")
}

func ptr(v float64) *float64 {
	return &v
}
