package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the single YAML configuration file this binary loads, per
// the ambient configuration design: coordination-store raft wiring, the
// IP pool's subnet, the metrics listen address, and the client identity
// used for container-host certificates. SensorInterval and CallTimeout are
// parsed but not applied: the sensor refreshes every 10s and the host
// client times calls out after 30s whatever they say.
type Config struct {
	NodeID   string `yaml:"node_id"`
	BindAddr string `yaml:"bind_addr"`
	DataDir  string `yaml:"data_dir"`

	Subnet string `yaml:"subnet"`

	SensorInterval  time.Duration `yaml:"sensor_interval"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	ClientID        string        `yaml:"client_id"`
}

func defaultConfig() Config {
	return Config{
		NodeID:         "tarantool-1",
		BindAddr:       "127.0.0.1:7946",
		DataDir:        "./data",
		Subnet:         "10.20.0.0/24",
		SensorInterval: 10 * time.Second,
		CallTimeout:    30 * time.Second,
		MetricsAddr:    "127.0.0.1:9191",
		ClientID:       "tarantoolctl",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
