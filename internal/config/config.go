package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is assembled from flags first; a YAML file given with
// -config overlays the fields it sets.
type AppConfig struct {
	Port           int           `yaml:"port"`
	SensorEndpoint string        `yaml:"sensor_endpoint"`
	SensorControl  string        `yaml:"sensor_control"`
	FrameWidth     int           `yaml:"frame_width"`
	FrameHeight    int           `yaml:"frame_height"`
	FrameRate      float64       `yaml:"frame_rate"`
	Workers        int           `yaml:"workers"`
	Interface      string        `yaml:"interface"`
	ClientScript   string        `yaml:"wifi_client_script"`
	APScript       string        `yaml:"wifi_ap_script"`
	MDNSName       string        `yaml:"mdns_name"`
	MDNSDisabled   bool          `yaml:"mdns_disabled"`
	StatusRate     time.Duration `yaml:"status_rate"`
}

// LoadFile merges the YAML file at path over cfg.
func LoadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
