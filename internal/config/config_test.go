package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "0.05", cfg.DefaultFeeRate.String())
	assert.Equal(t, 14*24*time.Hour, cfg.HoldPeriod)
	assert.Equal(t, "10.00", cfg.EscrowMinAmount.String())
	assert.Equal(t, "1000000.00", cfg.EscrowMaxAmount.String())
	assert.Equal(t, 30*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, time.Minute, cfg.TimerInterval)
	assert.Equal(t, 24*time.Hour, cfg.TimerStuckAfter)
	assert.False(t, cfg.TimerStuckPromote)
	assert.Equal(t, 5*time.Second, cfg.PayoutInterval)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.Len(t, cfg.AllowedOrigins, 2)
}

func TestFromEnv_TimerIntervalClamped(t *testing.T) {
	t.Setenv("TIMER_INTERVAL", "10s")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, MinTimerInterval, cfg.TimerInterval)

	t.Setenv("TIMER_INTERVAL", "3h")
	cfg, err = FromEnv()
	require.NoError(t, err)
	assert.Equal(t, MaxTimerInterval, cfg.TimerInterval)
}

func TestFromEnv_Production(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "short")

	_, err := FromEnv()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	_, err = FromEnv()
	require.Error(t, err, "без ключей Stripe")

	t.Setenv("STRIPE_SECRET_KEY", "sk_live_x")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_x")
	_, err = FromEnv()
	require.Error(t, err, "без CORS_ALLOWED_ORIGINS")

	t.Setenv("CORS_ALLOWED_ORIGINS", "https://homepro.example, https://admin.homepro.example")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://homepro.example", "https://admin.homepro.example"}, cfg.AllowedOrigins)
}

func TestFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PLATFORM_FEE_DEFAULT_RATE", "1.5"},
		{"ESCROW_MIN_AMOUNT", "-1.00"},
		{"ESCROW_MAX_AMOUNT", "10.001"},
		{"GATEWAY_TIMEOUT", "soon"},
		{"TIMER_STUCK_PROMOTE", "maybe"},
		{"ESCROW_HOLD_DAYS", "-3"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
