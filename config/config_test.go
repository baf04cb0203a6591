package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_current, whsec_previous")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, []string{"whsec_current", "whsec_previous"}, cfg.WebhookSecrets())
	assert.False(t, cfg.CheckoutEnabled())
	assert.Equal(t, int64(14), cfg.TrialDays)
	assert.Equal(t, 72*time.Hour, cfg.GracePeriod)
	assert.Equal(t, 7*24*time.Hour, cfg.EventTTL)
	assert.Equal(t, 10*time.Second, cfg.CheckoutTimeout)
	assert.Equal(t, slog.LevelInfo, cfg.Level())
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SETTLE_PORT", "9000")
	t.Setenv("SETTLE_BIND_ADDRESS", "127.0.0.1")
	t.Setenv("STRIPE_API_KEY", "sk_test_123")
	t.Setenv("SETTLE_CHECKOUT_SUCCESS_URL", "https://app.example.com/billing/success")
	t.Setenv("SETTLE_CHECKOUT_CANCEL_URL", "https://app.example.com/billing")
	t.Setenv("SETTLE_GRACE_PERIOD", "48h")
	t.Setenv("SETTLE_TRIAL_DAYS", "7")
	t.Setenv("SETTLE_REDIS_ADDR", "localhost:6379")
	t.Setenv("SETTLE_LOG_LEVEL", "debug")
	t.Setenv("SETTLE_LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.True(t, cfg.CheckoutEnabled())
	assert.Equal(t, 48*time.Hour, cfg.GracePeriod)
	assert.Equal(t, int64(7), cfg.TrialDays)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing webhook secret",
			env:  map[string]string{"STRIPE_WEBHOOK_SECRET": " , "},
			want: "STRIPE_WEBHOOK_SECRET",
		},
		{
			name: "checkout without redirect urls",
			env:  map[string]string{"STRIPE_API_KEY": "sk_test_123"},
			want: "SETTLE_CHECKOUT_SUCCESS_URL, SETTLE_CHECKOUT_CANCEL_URL",
		},
		{
			name: "bad port",
			env:  map[string]string{"SETTLE_PORT": "http"},
			want: "SETTLE_PORT must be a valid integer",
		},
		{
			name: "port out of range",
			env:  map[string]string{"SETTLE_PORT": "70000"},
			want: "SETTLE_PORT must be between 1 and 65535",
		},
		{
			name: "bad grace period",
			env:  map[string]string{"SETTLE_GRACE_PERIOD": "three days"},
			want: "SETTLE_GRACE_PERIOD must be a valid duration",
		},
		{
			name: "zero trial",
			env:  map[string]string{"SETTLE_TRIAL_DAYS": "0"},
			want: "SETTLE_TRIAL_DAYS must be greater than 0",
		},
		{
			name: "redirect url without scheme",
			env: map[string]string{
				"STRIPE_API_KEY":              "sk_test_123",
				"SETTLE_CHECKOUT_SUCCESS_URL": "app.example.com/ok",
				"SETTLE_CHECKOUT_CANCEL_URL":  "https://app.example.com",
			},
			want: "SETTLE_CHECKOUT_SUCCESS_URL must use http or https scheme",
		},
		{
			name: "unknown log format",
			env:  map[string]string{"SETTLE_LOG_FORMAT": "xml"},
			want: "SETTLE_LOG_FORMAT must be json or text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLevelFallsBackToInfo(t *testing.T) {
	cfg := &Config{LogLevel: "verbose"}
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}
