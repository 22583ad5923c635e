package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type DBConfig struct {
	DSN             string        `envconfig:"DB_DSN" required:"true"`
	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	MaxConnIdleTime time.Duration `envconfig:"DB_MAX_CONN_IDLE_TIME" default:"5m"`
}

type APIConfig struct {
	DBConfig
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	CounterBackend string `envconfig:"COUNTER_BACKEND" default:"postgres"`
	RedisAddr      string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	HTMLFormatting bool `envconfig:"HTML_FORMATTING" default:"true"`

	// welcome email queued for every new lead
	WelcomeEnabled bool          `envconfig:"WELCOME_ENABLED" default:"true"`
	WelcomeSubject string        `envconfig:"WELCOME_SUBJECT" default:"Welcome, {name}"`
	WelcomeBody    string        `envconfig:"WELCOME_BODY" default:"Hi {name},\n\nThanks for joining us!\n\n<a href='/unsubscribe?id={id}'>Unsubscribe</a>"`
	WelcomeDelay   time.Duration `envconfig:"WELCOME_DELAY" default:"5m"`
}

type DispatcherConfig struct {
	DBConfig
	Port        string `envconfig:"PORT" default:"8081"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9091"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// daily counters: postgres, redis or memory
	CounterBackend string `envconfig:"COUNTER_BACKEND" default:"postgres"`
	RedisAddr      string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	SelectionPolicy string        `envconfig:"SELECTION_POLICY" default:"round_robin"`
	BatchSize       int           `envconfig:"BATCH_SIZE" default:"50"`
	Workers         int           `envconfig:"WORKERS" default:"1"`
	Interval        time.Duration `envconfig:"INTERVAL" default:"5s"`
	ClaimTTL        time.Duration `envconfig:"CLAIM_TTL" default:"10m"`
	HTMLFormatting  bool          `envconfig:"HTML_FORMATTING" default:"true"`

	RetryBase        time.Duration `envconfig:"RETRY_BASE" default:"1h"`
	RetryMax         time.Duration `envconfig:"RETRY_MAX" default:"24h"`
	RetryExponential bool          `envconfig:"RETRY_EXPONENTIAL" default:"false"`
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"10"`

	// 32-byte hex key sealing stored refresh tokens and SMTP passwords
	CredentialKey      string `envconfig:"CREDENTIAL_KEY" required:"true"`
	GoogleClientID     string `envconfig:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `envconfig:"GOOGLE_CLIENT_SECRET"`
	GoogleTokenURL     string `envconfig:"GOOGLE_TOKEN_URL" default:"https://oauth2.googleapis.com/token"`
	GmailBaseURL       string `envconfig:"GMAIL_BASE_URL" default:"https://gmail.googleapis.com"`
	SMTPSkipVerify     bool   `envconfig:"SMTP_INSECURE_SKIP_VERIFY" default:"false"`

	SendRPSPerAccount float64       `envconfig:"SEND_RPS_PER_ACCOUNT" default:"1"`
	SendBurst         int           `envconfig:"SEND_BURST" default:"2"`
	SendTimeout       time.Duration `envconfig:"SEND_TIMEOUT" default:"30s"`
	BreakerTripAfter  uint32        `envconfig:"BREAKER_TRIP_AFTER" default:"10"`
	BreakerOpenFor    time.Duration `envconfig:"BREAKER_OPEN_FOR" default:"30s"`

	// dispatch events: none, sqs or kafka
	EventsSink         string   `envconfig:"EVENTS_SINK" default:"none"`
	AWSRegion          string   `envconfig:"AWS_REGION" default:"us-east-1"`
	SQSQueueURL        string   `envconfig:"SQS_QUEUE_URL"`
	LocalstackEndpoint string   `envconfig:"LOCALSTACK_ENDPOINT"`
	KafkaBrokers       []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic         string   `envconfig:"KAFKA_TOPIC" default:"outreach.dispatch"`
}

type MockGmailConfig struct {
	Port      string `envconfig:"PORT" default:"8089"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	// fixed, round_robin or random over Outcomes
	OutcomeMode string `envconfig:"MOCK_OUTCOME_MODE" default:"fixed"`
	// ok, rate_limit, server_error, bad_request, timeout, auth
	Outcomes     []string      `envconfig:"MOCK_OUTCOMES" default:"ok"`
	Delay        time.Duration `envconfig:"MOCK_DELAY" default:"0s"`
	TimeoutDelay time.Duration `envconfig:"MOCK_TIMEOUT_DELAY" default:"12s"`
}

// Validate checks the combinations envconfig tags cannot express.
func (c DispatcherConfig) Validate() error {
	switch c.CounterBackend {
	case "postgres", "redis", "memory":
	default:
		return fmt.Errorf("COUNTER_BACKEND %q: want postgres, redis or memory", c.CounterBackend)
	}
	switch c.EventsSink {
	case "none":
	case "sqs":
		if c.SQSQueueURL == "" {
			return fmt.Errorf("EVENTS_SINK=sqs requires SQS_QUEUE_URL")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("EVENTS_SINK=kafka requires KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("EVENTS_SINK %q: want none, sqs or kafka", c.EventsSink)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive")
	}
	return nil
}

func load(cfg any) {
	// a missing .env is normal outside local dev
	_ = godotenv.Load()
	if err := envconfig.Process("", cfg); err != nil {
		panic(err)
	}
}

// LoadDB reads only the database settings, for commands that touch nothing else.
func LoadDB() DBConfig {
	var cfg DBConfig
	load(&cfg)
	return cfg
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	load(&cfg)
	return cfg
}

func LoadDispatcher() DispatcherConfig {
	var cfg DispatcherConfig
	load(&cfg)
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func LoadMockGmail() MockGmailConfig {
	var cfg MockGmailConfig
	load(&cfg)
	return cfg
}
