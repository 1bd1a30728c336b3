package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rideflow/internal/config"
	"rideflow/internal/domain"
	"rideflow/internal/service"
)

func TestFarePolicy_QuotesWithConfiguredRates(t *testing.T) {
	t.Setenv("FARE_CURRENCY", "eur")
	t.Setenv("FARE_TIMEZONE", "Africa/Tunis")
	cfg, err := config.Load()
	require.NoError(t, err)

	policy := FarePolicy(cfg.Fare)
	assert.Equal(t, "EUR", policy.Currency)
	assert.Equal(t, "Africa/Tunis", policy.Location.String())
	require.Len(t, policy.Rates, len(config.ClassNames))
	assert.Equal(t, int64(250), policy.Rates[domain.RideClassStandard].BaseFare)

	engine := service.NewFareEngine(policy)
	quote, err := engine.Quote(
		domain.GeoPoint{Lat: 36.8065, Lng: 10.1815},
		domain.GeoPoint{Lat: 36.8510, Lng: 10.2270},
		domain.RideClassShared,
		time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	assert.Equal(t, "EUR", quote.Total.Currency)
	assert.Zero(t, quote.Total.Amount%cfg.Fare.RoundingIncrement)
}

func TestChannelConfig(t *testing.T) {
	cc := ChannelConfig(config.ChannelConfig{
		ConnectTimeout: 3 * time.Second,
		MaxRetries:     4,
		BaseBackoff:    100 * time.Millisecond,
		MaxBackoff:     time.Second,
	})

	assert.Equal(t, 3*time.Second, cc.ConnectTimeout)
	assert.Equal(t, 4, cc.Backoff.MaxRetries)
	assert.Equal(t, time.Second, cc.Backoff.MaxDelay)
	assert.GreaterOrEqual(t, cc.Backoff.Delay(1), 200*time.Millisecond)
	assert.LessOrEqual(t, cc.Backoff.Delay(10), time.Second+100*time.Millisecond)
}

func TestMatcherConfig(t *testing.T) {
	mc := MatcherConfig(config.DispatchConfig{DefaultRadiusKm: 3, AverageSpeedKmh: 25, MaxResults: 4})
	assert.Equal(t, service.MatcherConfig{DefaultRadiusKm: 3, AverageSpeedKmh: 25, MaxResults: 4}, mc)
}
