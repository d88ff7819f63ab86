package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Supply   SupplyConfig   `mapstructure:"supply"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Payout   PayoutConfig   `mapstructure:"payout"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres, mysql, sqlite; empty keeps the ledger in memory
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	EventsChannel string        `mapstructure:"eventsChannel"`
	SnapshotTTL   time.Duration `mapstructure:"snapshotTTL"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int    `mapstructure:"expire"` // hours
}

// AdminConfig seeds the first operator account on an empty database.
type AdminConfig struct {
	DefaultUsername string `mapstructure:"defaultUsername"`
	DefaultPassword string `mapstructure:"defaultPassword"`
}

// SupplyConfig describes the capped currency.
type SupplyConfig struct {
	MaxSupply      int64 `mapstructure:"maxSupply"`
	TreasuryUserID int64 `mapstructure:"treasuryUserID"`
}

type EngineConfig struct {
	TurnTimeout      time.Duration `mapstructure:"turnTimeout"`
	PauseBudget      time.Duration `mapstructure:"pauseBudget"`
	SweepInterval    time.Duration `mapstructure:"sweepInterval"`
	SweepConcurrency int           `mapstructure:"sweepConcurrency"`
	ReservationTTL   time.Duration `mapstructure:"reservationTTL"`
	SettleRetries    int           `mapstructure:"settleRetries"`
	CodeLength       int           `mapstructure:"codeLength"`
	AdvisoryThrottle time.Duration `mapstructure:"advisoryThrottle"`
}

// PayoutConfig is the pooled-win split in percent. Must sum to 100.
type PayoutConfig struct {
	WinnerPct  int64 `mapstructure:"winnerPct"`
	HostPct    int64 `mapstructure:"hostPct"`
	SponsorPct int64 `mapstructure:"sponsorPct"`
}

var GlobalConfig *Config

// Default returns the engine defaults. LoadConfig starts from these, so a
// config file only needs the keys it changes.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Mode: "debug"},
		Redis: RedisConfig{
			EventsChannel: "gameroom:events",
			SnapshotTTL:   24 * time.Hour,
		},
		JWT:    JWTConfig{Expire: 72},
		Supply: SupplyConfig{MaxSupply: 1_000_000, TreasuryUserID: 1},
		Engine: EngineConfig{
			TurnTimeout:      30 * time.Second,
			PauseBudget:      30 * time.Second,
			SweepInterval:    time.Second,
			SweepConcurrency: 8,
			ReservationTTL:   45 * time.Second,
			SettleRetries:    3,
			CodeLength:       6,
			AdvisoryThrottle: 2 * time.Second,
		},
		Payout: PayoutConfig{WinnerPct: 70, HostPct: 20, SponsorPct: 10},
	}
}

func LoadConfig(path string) {
	def := Default()
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GAMEROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, def)

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file, %s", err)
	}

	cfg := *def
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config, %v", err)
	}
	GlobalConfig = &cfg
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	p := c.Payout
	if p.WinnerPct < 0 || p.HostPct < 0 || p.SponsorPct < 0 || p.WinnerPct+p.HostPct+p.SponsorPct != 100 {
		return fmt.Errorf("payout split %d/%d/%d must be non-negative and sum to 100", p.WinnerPct, p.HostPct, p.SponsorPct)
	}
	if c.Supply.MaxSupply <= 0 {
		return fmt.Errorf("supply.maxSupply must be positive")
	}
	if c.Supply.TreasuryUserID <= 0 {
		return fmt.Errorf("supply.treasuryUserID must be positive")
	}
	e := c.Engine
	if e.TurnTimeout <= 0 || e.PauseBudget < 0 || e.SweepInterval <= 0 || e.ReservationTTL <= 0 {
		return fmt.Errorf("engine durations must be positive")
	}
	if e.CodeLength < 4 {
		return fmt.Errorf("engine.codeLength %d is too short", e.CodeLength)
	}
	switch c.Database.Driver {
	case "", "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent
// from the file.
func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.mode", def.Server.Mode)
	v.SetDefault("database.driver", def.Database.Driver)
	v.SetDefault("database.dsn", def.Database.DSN)
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.password", def.Redis.Password)
	v.SetDefault("redis.db", def.Redis.DB)
	v.SetDefault("redis.eventsChannel", def.Redis.EventsChannel)
	v.SetDefault("redis.snapshotTTL", def.Redis.SnapshotTTL)
	v.SetDefault("jwt.secret", def.JWT.Secret)
	v.SetDefault("jwt.expire", def.JWT.Expire)
	v.SetDefault("admin.defaultUsername", def.Admin.DefaultUsername)
	v.SetDefault("admin.defaultPassword", def.Admin.DefaultPassword)
	v.SetDefault("supply.maxSupply", def.Supply.MaxSupply)
	v.SetDefault("supply.treasuryUserID", def.Supply.TreasuryUserID)
	v.SetDefault("engine.turnTimeout", def.Engine.TurnTimeout)
	v.SetDefault("engine.pauseBudget", def.Engine.PauseBudget)
	v.SetDefault("engine.sweepInterval", def.Engine.SweepInterval)
	v.SetDefault("engine.sweepConcurrency", def.Engine.SweepConcurrency)
	v.SetDefault("engine.reservationTTL", def.Engine.ReservationTTL)
	v.SetDefault("engine.settleRetries", def.Engine.SettleRetries)
	v.SetDefault("engine.codeLength", def.Engine.CodeLength)
	v.SetDefault("engine.advisoryThrottle", def.Engine.AdvisoryThrottle)
	v.SetDefault("payout.winnerPct", def.Payout.WinnerPct)
	v.SetDefault("payout.hostPct", def.Payout.HostPct)
	v.SetDefault("payout.sponsorPct", def.Payout.SponsorPct)
}
