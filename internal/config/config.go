package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Hardware    HardwareConfig    `mapstructure:"hardware"`
	Measurement MeasurementConfig `mapstructure:"measurement"`
	Plans       PlansConfig       `mapstructure:"plans"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type HardwareConfig struct {
	StageURL       string        `mapstructure:"stage_url"`
	AnalyzerURL    string        `mapstructure:"analyzer_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type MeasurementConfig struct {
	MotionTimeout      time.Duration `mapstructure:"motion_timeout"`
	AlignmentTimeout   time.Duration `mapstructure:"alignment_timeout"`
	SweepTimeout       time.Duration `mapstructure:"sweep_timeout"`
	MotionPollInterval time.Duration `mapstructure:"motion_poll_interval"`
	SweepPollInterval  time.Duration `mapstructure:"sweep_poll_interval"`
	StatusRetention    time.Duration `mapstructure:"status_retention"`
	MinPowerDBM        float64       `mapstructure:"min_power_dbm"`
	StageSpeedUMPerS   float64       `mapstructure:"stage_speed_um_per_s"`
}

type PlansConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")
	viper.SetDefault("hardware.stage_url", "http://localhost:8001")
	viper.SetDefault("hardware.analyzer_url", "http://localhost:8002")
	viper.SetDefault("hardware.request_timeout", "30s")

	// Sweeps get the largest budget, motion the smallest
	viper.SetDefault("measurement.motion_timeout", "60s")
	viper.SetDefault("measurement.alignment_timeout", "180s")
	viper.SetDefault("measurement.sweep_timeout", "300s")
	viper.SetDefault("measurement.motion_poll_interval", "300ms")
	viper.SetDefault("measurement.sweep_poll_interval", "500ms")
	viper.SetDefault("measurement.status_retention", "10m")
	viper.SetDefault("measurement.min_power_dbm", -30.0)
	viper.SetDefault("measurement.stage_speed_um_per_s", 500.0)

	viper.SetDefault("plans.search_paths", []string{"plans"})

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PF")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}
