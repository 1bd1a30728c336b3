package app

import (
	"rideflow/internal/channel"
	"rideflow/internal/config"
	"rideflow/internal/domain"
	"rideflow/internal/retry"
	"rideflow/internal/service"
)

// FarePolicy converts the fare configuration into the engine's policy.
func FarePolicy(cfg config.FareConfig) service.FarePolicy {
	rates := make(map[domain.RideClass]service.RateTable, len(cfg.Classes))
	for name, rt := range cfg.Classes {
		rates[domain.RideClass(name)] = service.RateTable{
			BaseFare:            rt.BaseFare,
			PerKm:               rt.PerKm,
			PerMinute:           rt.PerMinute,
			MinimumFare:         rt.MinimumFare,
			NightSurchargeBps:   rt.NightSurchargeBps,
			WeekendSurchargeBps: rt.WeekendSurchargeBps,
		}
	}
	return service.FarePolicy{
		Currency:          cfg.Currency,
		RoundingIncrement: cfg.RoundingIncrement,
		Location:          cfg.Location,
		WeekendDays:       cfg.WeekendDays,
		Holidays:          cfg.Holidays,
		Rates:             rates,
	}
}

// MatcherConfig converts the dispatch configuration.
func MatcherConfig(cfg config.DispatchConfig) service.MatcherConfig {
	return service.MatcherConfig{
		DefaultRadiusKm: cfg.DefaultRadiusKm,
		AverageSpeedKmh: cfg.AverageSpeedKmh,
		MaxResults:      cfg.MaxResults,
	}
}

// ChannelConfig converts the client channel configuration. Reconnect delays
// double from BaseBackoff up to MaxBackoff.
func ChannelConfig(cfg config.ChannelConfig) channel.Config {
	return channel.Config{
		ConnectTimeout: cfg.ConnectTimeout,
		Backoff: retry.Config{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.BaseBackoff,
			MaxDelay:   cfg.MaxBackoff,
			Multiplier: 2,
			Jitter:     true,
		},
	}
}
