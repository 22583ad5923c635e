package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDispatcherDefaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/outreach")
	t.Setenv("CREDENTIAL_KEY", "00")

	cfg := LoadDispatcher()
	assert.Equal(t, "postgres://localhost/outreach", cfg.DSN)
	assert.Equal(t, int32(10), cfg.MaxConns)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, time.Hour, cfg.RetryBase)
	assert.Equal(t, "round_robin", cfg.SelectionPolicy)
	assert.Equal(t, "none", cfg.EventsSink)
	assert.True(t, cfg.HTMLFormatting)
}

func TestLoadDispatcherOverrides(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/outreach")
	t.Setenv("CREDENTIAL_KEY", "00")
	t.Setenv("WORKERS", "8")
	t.Setenv("EVENTS_SINK", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("RETRY_EXPONENTIAL", "true")

	cfg := LoadDispatcher()
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.RetryExponential)
}

func TestLoadDispatcherPanicsOnMissingOrInvalid(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/outreach")
	t.Setenv("CREDENTIAL_KEY", "")
	require.NoError(t, os.Unsetenv("CREDENTIAL_KEY"))
	assert.Panics(t, func() { LoadDispatcher() })

	t.Setenv("CREDENTIAL_KEY", "00")
	t.Setenv("EVENTS_SINK", "sqs")
	assert.Panics(t, func() { LoadDispatcher() })
}

func TestValidate(t *testing.T) {
	base := DispatcherConfig{CounterBackend: "redis", EventsSink: "none", BatchSize: 10}
	require.NoError(t, base.Validate())

	bad := base
	bad.CounterBackend = "etcd"
	assert.Error(t, bad.Validate())

	bad = base
	bad.BatchSize = 0
	assert.Error(t, bad.Validate())
}

func TestLoadAPIAndMock(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/outreach")
	api := LoadAPI()
	assert.Equal(t, "8080", api.Port)

	t.Setenv("MOCK_OUTCOMES", "ok,rate_limit")
	mock := LoadMockGmail()
	assert.Equal(t, []string{"ok", "rate_limit"}, mock.Outcomes)
	assert.Equal(t, "fixed", mock.OutcomeMode)
}

func TestLoadAPIWelcome(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/outreach")

	cfg := LoadAPI()
	assert.True(t, cfg.WelcomeEnabled)
	assert.Equal(t, "Welcome, {name}", cfg.WelcomeSubject)
	assert.Equal(t, "Hi {name},\n\nThanks for joining us!\n\n<a href='/unsubscribe?id={id}'>Unsubscribe</a>", cfg.WelcomeBody)
	assert.Equal(t, 5*time.Minute, cfg.WelcomeDelay)
	assert.Equal(t, "info", cfg.LogLevel)

	t.Setenv("WELCOME_DELAY", "1h")
	t.Setenv("WELCOME_ENABLED", "false")
	cfg = LoadAPI()
	assert.False(t, cfg.WelcomeEnabled)
	assert.Equal(t, time.Hour, cfg.WelcomeDelay)
}
