// Package config loads the supervisor's YAML configuration file on top of
// built-in defaults; cmd/supervisor applies command-line flag overrides to
// the result.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orbitsup/supervisor/internal/fslayout"
	"github.com/orbitsup/supervisor/internal/manager"
	"github.com/orbitsup/supervisor/internal/obslog"
)

// Config is the on-disk shape of the supervisor's YAML config file, every
// field optional with a documented default.
type Config struct {
	StatePath     string   `yaml:"state_path"`
	StatePrefix   string   `yaml:"state_prefix"`
	ServiceGroup  string   `yaml:"service_group"`
	Organization  string   `yaml:"organization"`
	PackageRoot   string   `yaml:"package_root"`
	GossipBind    string   `yaml:"gossip_bind"`
	GossipPort    int      `yaml:"gossip_port"`
	GossipSeeds   []string `yaml:"gossip_seeds"`
	EventSinks    []string `yaml:"event_sinks"`
	TickInterval  Duration `yaml:"tick_interval"`
	LogLevel      string   `yaml:"log_level"`
	LogJSON       bool     `yaml:"log_json"`
	MetricsListen string   `yaml:"metrics_listen"`
}

// Duration wraps time.Duration with YAML text (un)marshaling so config
// files write "5s" instead of a raw integer nanosecond count.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns a Config with every field at its documented default.
func Default() Config {
	return Config{
		StatePrefix:  "/var/lib/supervisor",
		PackageRoot:  "/var/lib/supervisor/pkgs",
		GossipPort:   9638,
		TickInterval: Duration(1 * time.Second),
		LogLevel:     "info",
	}
}

// Load reads and parses the YAML file at path, starting from Default()
// so a partial file only overrides what it sets.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LogConfig projects the obslog.Config this configuration implies.
func (c Config) LogConfig() obslog.Config {
	return obslog.Config{Level: obslog.Level(c.LogLevel), JSONOutput: c.LogJSON}
}

// ManagerConfig projects the manager.Config this configuration implies.
func (c Config) ManagerConfig() manager.Config {
	return manager.Config{
		Layout: fslayout.Config{
			Custom: c.StatePath,
			Prefix: c.StatePrefix,
			Name:   c.ServiceGroup,
		},
		GossipBindAddr:     c.GossipBind,
		GossipBindPort:     c.GossipPort,
		GossipSeeds:        c.GossipSeeds,
		EventSinkEndpoints: c.EventSinks,
		PackageRoot:        c.PackageRoot,
		Organization:       c.Organization,
		TickInterval:       time.Duration(c.TickInterval),
	}
}
