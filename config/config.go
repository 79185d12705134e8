package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Battle   BattleConfig   `mapstructure:"battle"`
	War      WarConfig      `mapstructure:"war"`
}

type ServerConfig struct {
	Port     int      `mapstructure:"port"`
	Debug    bool     `mapstructure:"debug"`
	AdminKey string   `mapstructure:"admin_key"` // empty disables /api/admin
	AdminIPs []string `mapstructure:"admin_ips"` // empty allows any client
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"` // empty = stdout only
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type BattleConfig struct {
	MaxRounds    int           `mapstructure:"max_rounds"`
	RoundTimeout time.Duration `mapstructure:"round_timeout"`
	// MinHPRatio is the fraction of max hp a player needs to start a fight.
	MinHPRatio   float64       `mapstructure:"min_hp_ratio"`
	ChallengeTTL time.Duration `mapstructure:"challenge_ttl"`
}

type WarConfig struct {
	Timezone        string        `mapstructure:"timezone"`
	Hours           []int         `mapstructure:"hours"`
	AnnounceLead    time.Duration `mapstructure:"announce_lead"`
	RestoreDelay    time.Duration `mapstructure:"restore_delay"`
	ActiveWindow    time.Duration `mapstructure:"active_window"`
	LootRatio       float64       `mapstructure:"loot_ratio"`
	PenaltyRatio    float64       `mapstructure:"penalty_ratio"`
	MultiAttackBuff float64       `mapstructure:"multi_attack_buff"`
	ExpPerLevel     float64       `mapstructure:"exp_per_level"`
	Kingdoms        []string      `mapstructure:"kingdoms"`
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (w WarConfig) Location() *time.Location {
	if w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultBattle returns the battle settings used when no config file is loaded.
func DefaultBattle() BattleConfig {
	return BattleConfig{
		MaxRounds:    10,
		RoundTimeout: 50 * time.Second,
		MinHPRatio:   0.3,
		ChallengeTTL: 2 * time.Minute,
	}
}

// DefaultWar returns the war settings used when no config file is loaded.
func DefaultWar() WarConfig {
	return WarConfig{
		Timezone:        "Asia/Tashkent",
		Hours:           []int{8, 13, 18},
		AnnounceLead:    30 * time.Minute,
		RestoreDelay:    5 * time.Minute,
		ActiveWindow:    30 * time.Minute,
		LootRatio:       0.4,
		PenaltyRatio:    0.4,
		MultiAttackBuff: 1.3,
		ExpPerLevel:     75,
		Kingdoms:        []string{"north", "west", "east", "south"},
	}
}

// Load reads config from the given YAML file path.
// Every key can be overridden by an environment variable such as KW_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("KW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	b := DefaultBattle()
	w := DefaultWar()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/game.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("battle.max_rounds", b.MaxRounds)
	v.SetDefault("battle.round_timeout", b.RoundTimeout)
	v.SetDefault("battle.min_hp_ratio", b.MinHPRatio)
	v.SetDefault("battle.challenge_ttl", b.ChallengeTTL)
	v.SetDefault("war.timezone", w.Timezone)
	v.SetDefault("war.hours", w.Hours)
	v.SetDefault("war.announce_lead", w.AnnounceLead)
	v.SetDefault("war.restore_delay", w.RestoreDelay)
	v.SetDefault("war.active_window", w.ActiveWindow)
	v.SetDefault("war.loot_ratio", w.LootRatio)
	v.SetDefault("war.penalty_ratio", w.PenaltyRatio)
	v.SetDefault("war.multi_attack_buff", w.MultiAttackBuff)
	v.SetDefault("war.exp_per_level", w.ExpPerLevel)
	v.SetDefault("war.kingdoms", w.Kingdoms)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
