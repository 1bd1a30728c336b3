package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	NewRelic   NewRelicConfig
	Log        LogConfig
	Fare       FareConfig
	Dispatch   DispatchConfig
	Channel    ChannelConfig
	Settlement SettlementConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
// When Enabled is false the service keeps its state in memory.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string
	Format string
}

// RateTable prices one ride class. Money values are minor units,
// surcharges are basis points (2500 = 25%).
type RateTable struct {
	BaseFare            int64
	PerKm               int64
	PerMinute           int64
	MinimumFare         int64
	NightSurchargeBps   int64
	WeekendSurchargeBps int64
}

// FareConfig holds the fare policy.
type FareConfig struct {
	Currency          string
	RoundingIncrement int64
	Timezone          string
	Location          *time.Location
	WeekendDays       []time.Weekday
	Holidays          []string
	Classes           map[string]RateTable
}

// DispatchConfig holds matcher configuration.
type DispatchConfig struct {
	DefaultRadiusKm  float64
	AverageSpeedKmh  float64
	MaxResults       int
	GeohashPrecision uint
}

// ChannelConfig holds real-time channel client configuration.
type ChannelConfig struct {
	URL            string
	ConnectTimeout time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	WriteTimeout   time.Duration
}

// SettlementConfig holds payment settlement configuration.
type SettlementConfig struct {
	CeilingMinor int64
	LockTTL      time.Duration
	AutoSettle   bool
}

// ClassNames lists the ride classes that must have a rate table.
var ClassNames = []string{"standard", "premium", "shared"}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Load loads configuration from defaults, an optional YAML file named by
// RIDEFLOW_CONFIG, and environment variables (e.g. FARE_CURRENCY).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindLegacyEnv(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("RIDEFLOW_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "rideflow")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("newrelic.app_name", "rideflow")
	v.SetDefault("newrelic.license_key", "")
	v.SetDefault("newrelic.enabled", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("fare.currency", "USD")
	v.SetDefault("fare.rounding_increment", 5)
	v.SetDefault("fare.timezone", "UTC")
	v.SetDefault("fare.weekend_days", []string{"saturday", "sunday"})
	v.SetDefault("fare.holidays", []string{})

	defaultRates := map[string]RateTable{
		"standard": {BaseFare: 250, PerKm: 120, PerMinute: 20, MinimumFare: 400, NightSurchargeBps: 2500, WeekendSurchargeBps: 1000},
		"premium":  {BaseFare: 400, PerKm: 200, PerMinute: 35, MinimumFare: 900, NightSurchargeBps: 3000, WeekendSurchargeBps: 1500},
		"shared":   {BaseFare: 150, PerKm: 80, PerMinute: 10, MinimumFare: 300, NightSurchargeBps: 2000, WeekendSurchargeBps: 1000},
	}
	for name, rt := range defaultRates {
		prefix := "fare.classes." + name + "."
		v.SetDefault(prefix+"base_fare", rt.BaseFare)
		v.SetDefault(prefix+"per_km", rt.PerKm)
		v.SetDefault(prefix+"per_minute", rt.PerMinute)
		v.SetDefault(prefix+"minimum_fare", rt.MinimumFare)
		v.SetDefault(prefix+"night_surcharge_bps", rt.NightSurchargeBps)
		v.SetDefault(prefix+"weekend_surcharge_bps", rt.WeekendSurchargeBps)
	}

	v.SetDefault("dispatch.default_radius_km", 5.0)
	v.SetDefault("dispatch.average_speed_kmh", 30.0)
	v.SetDefault("dispatch.max_results", 10)
	v.SetDefault("dispatch.geohash_precision", 6)

	v.SetDefault("channel.url", "ws://localhost:8080/v1/events/ws")
	v.SetDefault("channel.connect_timeout", 5*time.Second)
	v.SetDefault("channel.max_retries", 5)
	v.SetDefault("channel.base_backoff", 200*time.Millisecond)
	v.SetDefault("channel.max_backoff", 10*time.Second)
	v.SetDefault("channel.write_timeout", 5*time.Second)

	v.SetDefault("settlement.ceiling_minor", 100000)
	v.SetDefault("settlement.lock_ttl", 30*time.Second)
	v.SetDefault("settlement.auto_settle", true)
}

// bindLegacyEnv keeps the short variable names of earlier deployments working.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("database.host", "DATABASE_HOST", "DB_HOST")
	_ = v.BindEnv("database.port", "DATABASE_PORT", "DB_PORT")
	_ = v.BindEnv("database.user", "DATABASE_USER", "DB_USER")
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD", "DB_PASSWORD")
	_ = v.BindEnv("database.name", "DATABASE_NAME", "DB_NAME")
	_ = v.BindEnv("database.sslmode", "DATABASE_SSLMODE", "DB_SSLMODE")
	_ = v.BindEnv("newrelic.app_name", "NEWRELIC_APP_NAME", "NEW_RELIC_APP_NAME")
	_ = v.BindEnv("newrelic.license_key", "NEWRELIC_LICENSE_KEY", "NEW_RELIC_LICENSE_KEY")
	_ = v.BindEnv("newrelic.enabled", "NEWRELIC_ENABLED", "NEW_RELIC_ENABLED")
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("server.port"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
		},
		Database: DatabaseConfig{
			Enabled:  v.GetBool("database.enabled"),
			Host:     v.GetString("database.host"),
			Port:     v.GetString("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.name"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		NewRelic: NewRelicConfig{
			AppName:    v.GetString("newrelic.app_name"),
			LicenseKey: v.GetString("newrelic.license_key"),
			Enabled:    v.GetBool("newrelic.enabled"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Fare: FareConfig{
			Currency:          strings.ToUpper(v.GetString("fare.currency")),
			RoundingIncrement: v.GetInt64("fare.rounding_increment"),
			Timezone:          v.GetString("fare.timezone"),
			Holidays:          splitList(v.GetStringSlice("fare.holidays")),
			Classes:           make(map[string]RateTable, len(ClassNames)),
		},
		Dispatch: DispatchConfig{
			DefaultRadiusKm:  v.GetFloat64("dispatch.default_radius_km"),
			AverageSpeedKmh:  v.GetFloat64("dispatch.average_speed_kmh"),
			MaxResults:       v.GetInt("dispatch.max_results"),
			GeohashPrecision: v.GetUint("dispatch.geohash_precision"),
		},
		Channel: ChannelConfig{
			URL:            v.GetString("channel.url"),
			ConnectTimeout: v.GetDuration("channel.connect_timeout"),
			MaxRetries:     v.GetInt("channel.max_retries"),
			BaseBackoff:    v.GetDuration("channel.base_backoff"),
			MaxBackoff:     v.GetDuration("channel.max_backoff"),
			WriteTimeout:   v.GetDuration("channel.write_timeout"),
		},
		Settlement: SettlementConfig{
			CeilingMinor: v.GetInt64("settlement.ceiling_minor"),
			LockTTL:      v.GetDuration("settlement.lock_ttl"),
			AutoSettle:   v.GetBool("settlement.auto_settle"),
		},
	}

	for _, name := range ClassNames {
		prefix := "fare.classes." + name + "."
		cfg.Fare.Classes[name] = RateTable{
			BaseFare:            v.GetInt64(prefix + "base_fare"),
			PerKm:               v.GetInt64(prefix + "per_km"),
			PerMinute:           v.GetInt64(prefix + "per_minute"),
			MinimumFare:         v.GetInt64(prefix + "minimum_fare"),
			NightSurchargeBps:   v.GetInt64(prefix + "night_surcharge_bps"),
			WeekendSurchargeBps: v.GetInt64(prefix + "weekend_surcharge_bps"),
		}
	}

	for _, day := range splitList(v.GetStringSlice("fare.weekend_days")) {
		wd, ok := weekdays[strings.ToLower(day)]
		if !ok {
			return nil, fmt.Errorf("invalid fare.weekend_days entry %q", day)
		}
		cfg.Fare.WeekendDays = append(cfg.Fare.WeekendDays, wd)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	loc, err := time.LoadLocation(c.Fare.Timezone)
	if err != nil {
		return fmt.Errorf("invalid fare.timezone %q: %w", c.Fare.Timezone, err)
	}
	c.Fare.Location = loc

	if c.Fare.Currency == "" {
		return errors.New("fare.currency must not be empty")
	}
	if c.Fare.RoundingIncrement <= 0 {
		return fmt.Errorf("fare.rounding_increment must be positive, got %d", c.Fare.RoundingIncrement)
	}
	for _, d := range c.Fare.Holidays {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return fmt.Errorf("invalid fare.holidays entry %q: %w", d, err)
		}
	}
	for name, rt := range c.Fare.Classes {
		if rt.BaseFare < 0 || rt.PerKm < 0 || rt.PerMinute < 0 || rt.MinimumFare < 0 ||
			rt.NightSurchargeBps < 0 || rt.WeekendSurchargeBps < 0 {
			return fmt.Errorf("fare.classes.%s: rates must not be negative", name)
		}
	}

	if c.Dispatch.DefaultRadiusKm <= 0 {
		return fmt.Errorf("dispatch.default_radius_km must be positive, got %v", c.Dispatch.DefaultRadiusKm)
	}
	if c.Dispatch.AverageSpeedKmh <= 0 {
		return fmt.Errorf("dispatch.average_speed_kmh must be positive, got %v", c.Dispatch.AverageSpeedKmh)
	}
	if c.Dispatch.GeohashPrecision < 1 || c.Dispatch.GeohashPrecision > 12 {
		return fmt.Errorf("dispatch.geohash_precision must be within 1..12, got %d", c.Dispatch.GeohashPrecision)
	}

	if c.Channel.MaxRetries < 0 {
		return fmt.Errorf("channel.max_retries must not be negative, got %d", c.Channel.MaxRetries)
	}
	if c.Settlement.CeilingMinor <= 0 {
		return fmt.Errorf("settlement.ceiling_minor must be positive, got %d", c.Settlement.CeilingMinor)
	}
	return nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
