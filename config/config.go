package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Solax     SolaxConfig      `mapstructure:"solax"`
	Inverters []InverterConfig `mapstructure:"inverters"`
	Collector CollectorConfig  `mapstructure:"collector"`
	History   HistoryConfig    `mapstructure:"history"`
	API       APIConfig        `mapstructure:"api"`
	MQTT      MQTTConfig       `mapstructure:"mqtt"`
}

type SolaxConfig struct {
	TokenID string        `mapstructure:"token_id"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// InverterConfig identifies one inverter by its Wi-Fi dongle serial.
type InverterConfig struct {
	SerialNumber string `mapstructure:"serial_number"`
	Name         string `mapstructure:"name"`
}

type CollectorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Enabled  bool          `mapstructure:"enabled"`
}

type HistoryConfig struct {
	Window time.Duration `mapstructure:"window"`
}

type APIConfig struct {
	Port        int      `mapstructure:"port"`
	Enabled     bool     `mapstructure:"enabled"`
	DistPath    string   `mapstructure:"dist_path"`
	PublicPath  string   `mapstructure:"public_path"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/solax-monitor")
	}

	// Set defaults
	v.SetDefault("solax.token_id", "")
	v.SetDefault("solax.base_url", "https://global.solaxcloud.com")
	v.SetDefault("solax.timeout", "10s")
	v.SetDefault("collector.interval", "30s")
	v.SetDefault("collector.enabled", true)
	v.SetDefault("history.window", "10m")
	v.SetDefault("api.port", 8787)
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.dist_path", "./dist")
	v.SetDefault("api.public_path", "./public")
	v.SetDefault("api.cors_origins", []string{})
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.topic_prefix", "solax")
	v.SetDefault("mqtt.client_id", "solax-monitor")

	// Environment names used by the original Node deployment
	v.BindEnv("solax.token_id", "SOLAX_TOKEN_ID")
	v.BindEnv("sn", "SOLAX_SN")
	v.BindEnv("api.port", "PORT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// SOLAX_SN configures a single inverter when the file lists none.
	if len(cfg.Inverters) == 0 {
		if sn := strings.TrimSpace(v.GetString("sn")); sn != "" {
			cfg.Inverters = []InverterConfig{{SerialNumber: sn}}
		}
	}
	cfg.applyNames()

	return &cfg, nil
}

// LoadAndValidate loads the config and rejects settings the collector
// cannot run with.
func LoadAndValidate(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Solax.TokenID) == "" {
		return errors.New("solax.token_id is required (or set SOLAX_TOKEN_ID)")
	}
	if len(c.Inverters) == 0 {
		return errors.New("at least one inverter is required (inverters or SOLAX_SN)")
	}

	seen := make(map[string]bool, len(c.Inverters))
	for i, inv := range c.Inverters {
		sn := strings.TrimSpace(inv.SerialNumber)
		if sn == "" {
			return fmt.Errorf("inverters[%d].serial_number is required", i)
		}
		if seen[sn] {
			return fmt.Errorf("inverter %s is configured more than once", sn)
		}
		seen[sn] = true
	}

	if c.Collector.Interval <= 0 {
		return fmt.Errorf("collector.interval must be positive, got %s", c.Collector.Interval)
	}
	if c.History.Window <= 0 {
		return fmt.Errorf("history.window must be positive, got %s", c.History.Window)
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("api.port %d is out of range", c.API.Port)
	}
	return nil
}

// applyNames trims serials and falls back to the serial as display name.
func (c *Config) applyNames() {
	for i := range c.Inverters {
		inv := &c.Inverters[i]
		inv.SerialNumber = strings.TrimSpace(inv.SerialNumber)
		inv.Name = strings.TrimSpace(inv.Name)
		if inv.Name == "" {
			inv.Name = inv.SerialNumber
		}
	}
}
