package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "USD", cfg.Fare.Currency)
	assert.Equal(t, int64(5), cfg.Fare.RoundingIncrement)
	assert.Equal(t, time.UTC, cfg.Fare.Location)
	assert.ElementsMatch(t, []time.Weekday{time.Saturday, time.Sunday}, cfg.Fare.WeekendDays)
	require.Len(t, cfg.Fare.Classes, len(ClassNames))
	assert.Equal(t, int64(400), cfg.Fare.Classes["standard"].MinimumFare)
	assert.Equal(t, int64(2500), cfg.Fare.Classes["standard"].NightSurchargeBps)
	assert.Equal(t, 5*time.Second, cfg.Channel.ConnectTimeout)
	assert.True(t, cfg.Settlement.AutoSettle)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FARE_CURRENCY", "eur")
	t.Setenv("FARE_WEEKEND_DAYS", "friday,saturday")
	t.Setenv("FARE_HOLIDAYS", "2026-01-01, 2026-12-25")
	t.Setenv("FARE_CLASSES_PREMIUM_PER_KM", "260")
	t.Setenv("DISPATCH_DEFAULT_RADIUS_KM", "2.5")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("NEW_RELIC_APP_NAME", "rideflow-staging")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "EUR", cfg.Fare.Currency)
	assert.Equal(t, []time.Weekday{time.Friday, time.Saturday}, cfg.Fare.WeekendDays)
	assert.Equal(t, []string{"2026-01-01", "2026-12-25"}, cfg.Fare.Holidays)
	assert.Equal(t, int64(260), cfg.Fare.Classes["premium"].PerKm)
	assert.Equal(t, 2.5, cfg.Dispatch.DefaultRadiusKm)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "rideflow-staging", cfg.NewRelic.AppName)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rideflow.yaml")
	content := []byte(`
fare:
  currency: gbp
  timezone: Europe/London
  rounding_increment: 10
settlement:
  ceiling_minor: 5000
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("RIDEFLOW_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "GBP", cfg.Fare.Currency)
	assert.Equal(t, "Europe/London", cfg.Fare.Location.String())
	assert.Equal(t, int64(10), cfg.Fare.RoundingIncrement)
	assert.Equal(t, int64(5000), cfg.Settlement.CeilingMinor)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown timezone", "FARE_TIMEZONE", "Mars/Olympus"},
		{"zero rounding increment", "FARE_ROUNDING_INCREMENT", "0"},
		{"unknown weekday", "FARE_WEEKEND_DAYS", "caturday"},
		{"malformed holiday", "FARE_HOLIDAYS", "25/12/2026"},
		{"negative rate", "FARE_CLASSES_SHARED_PER_KM", "-1"},
		{"zero speed", "DISPATCH_AVERAGE_SPEED_KMH", "0"},
		{"negative retries", "CHANNEL_MAX_RETRIES", "-1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
