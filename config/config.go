// Package config loads server and client configuration from TOML files
// and environment variables, with sensible defaults for a LAN deployment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/nuran-nahadi/Networking-Project/adapt"
)

// ServerConfig configures the streaming server process.
type ServerConfig struct {
	ControlAddr     string `mapstructure:"control_addr"`
	VideoBindAddr   string `mapstructure:"video_bind_addr"`
	ClientVideoPort int    `mapstructure:"client_video_port"`
	Ladder          string `mapstructure:"ladder"`
	InitialTier     string `mapstructure:"initial_tier"`
	FrameRate       int    `mapstructure:"frame_rate"`
	MTU             int    `mapstructure:"mtu"`
	MetricsAddr     string `mapstructure:"metrics_addr"`
	LogLevel        string `mapstructure:"log_level"`
}

// ClientConfig configures the streaming client process.
type ClientConfig struct {
	ServerAddr    string `mapstructure:"server_addr"`
	VideoBindAddr string `mapstructure:"video_bind_addr"`
	Ladder        string `mapstructure:"ladder"`
	InitialTier   string `mapstructure:"initial_tier"`
	MetricsAddr   string `mapstructure:"metrics_addr"`
	Dashboard     bool   `mapstructure:"dashboard"`
	LogLevel      string `mapstructure:"log_level"`
}

// LoadServerConfig reads server.toml (or configPath if given), applying
// environment overrides with the STREAM_SERVER prefix.
func LoadServerConfig(configPath string) (*ServerConfig, error) {
	v, err := initViper(configPath, "server", "STREAM_SERVER")
	if err != nil {
		return nil, err
	}

	v.SetDefault("control_addr", ":9000")
	v.SetDefault("video_bind_addr", ":0")
	v.SetDefault("client_video_port", 9001)
	v.SetDefault("ladder", "default")
	v.SetDefault("initial_tier", "medium")
	v.SetDefault("frame_rate", 30)
	v.SetDefault("mtu", 1400)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")

	var cfg ServerConfig
	if err := readInto(v, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClientConfig reads client.toml (or configPath if given), applying
// environment overrides with the STREAM_CLIENT prefix.
func LoadClientConfig(configPath string) (*ClientConfig, error) {
	v, err := initViper(configPath, "client", "STREAM_CLIENT")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server_addr", "127.0.0.1:9000")
	v.SetDefault("video_bind_addr", ":9001")
	v.SetDefault("ladder", "default")
	v.SetDefault("initial_tier", "low")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("dashboard", true)
	v.SetDefault("log_level", "info")

	var cfg ClientConfig
	if err := readInto(v, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveLadder maps a ladder name to its tier set.
func ResolveLadder(name string) (adapt.Ladder, error) {
	switch strings.ToLower(name) {
	case "", "default":
		return adapt.DefaultLadder(), nil
	case "extended":
		return adapt.ExtendedLadder(), nil
	default:
		return nil, fmt.Errorf("unknown ladder %q", name)
	}
}

// ResolveTier maps a tier name to its index on the given ladder.
func ResolveTier(ladder adapt.Ladder, name string) (adapt.Tier, error) {
	for i, tc := range ladder {
		if strings.EqualFold(tc.Name, name) {
			return adapt.Tier(i), nil
		}
	}
	return 0, fmt.Errorf("tier %q not on ladder", name)
}

func initViper(configPath, defaultName, envPrefix string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".streamnet"))
		}
		v.AddConfigPath(".")
		v.SetConfigName(defaultName)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func readInto(v *viper.Viper, out any) error {
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}
