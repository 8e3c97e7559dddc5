package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from a YAML string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// Service describes a single monitored service.
type Service struct {
	ID      uint64 `yaml:"id"`
	Name    string `yaml:"name"`
	Info    string `yaml:"info"`
	Command string `yaml:"command"`
}

// Category groups services for display.
type Category struct {
	Name     string    `yaml:"name"`
	Services []Service `yaml:"services"`
}

// Server groups categories for display.
type Server struct {
	Name       string     `yaml:"name"`
	Categories []Category `yaml:"categories"`
}

// WebhookConfig holds alert webhook settings.
type WebhookConfig struct {
	URL      string   `yaml:"url"`
	Cooldown Duration `yaml:"cooldown"`
}

// AlertsConfig holds all alert configuration.
type AlertsConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// Config is the root application configuration.
type Config struct {
	Port         int          `yaml:"port"`
	Bind         string       `yaml:"bind"`
	Database     string       `yaml:"database"`
	CheckTimeout Duration     `yaml:"check_timeout"`
	HistoryDays  int          `yaml:"history_days"`
	Alerts       AlertsConfig `yaml:"alerts"`
	Servers      []Server     `yaml:"servers"`
}

// Address returns the listen address of the read API.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// Services returns every configured service in server, category, service order.
func (c *Config) Services() []Service {
	var out []Service
	for _, srv := range c.Servers {
		for _, cat := range srv.Categories {
			out = append(out, cat.Services...)
		}
	}
	return out
}

// Load reads, parses, and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Durations stay strings here so errors can name the offending key.
	type rawConfig struct {
		Port         int          `yaml:"port"`
		Bind         string       `yaml:"bind"`
		Database     string       `yaml:"database"`
		CheckTimeout string       `yaml:"check_timeout"`
		HistoryDays  int          `yaml:"history_days"`
		Alerts       AlertsConfig `yaml:"alerts"`
		Servers      []Server     `yaml:"servers"`
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply defaults.
	if raw.Port == 0 {
		raw.Port = 8080
	}
	if raw.Bind == "" {
		raw.Bind = "127.0.0.1"
	}
	if raw.Database == "" {
		raw.Database = "statusd.db"
	}
	if raw.HistoryDays == 0 {
		raw.HistoryDays = 180
	}

	if raw.Port < 1 || raw.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d (must be 1-65535)", raw.Port)
	}
	if raw.HistoryDays < 0 {
		return nil, fmt.Errorf("invalid history_days %d (must be positive)", raw.HistoryDays)
	}
	if len(raw.Servers) == 0 {
		return nil, fmt.Errorf("at least one server must be configured")
	}

	cfg := &Config{
		Port:        raw.Port,
		Bind:        raw.Bind,
		Database:    raw.Database,
		HistoryDays: raw.HistoryDays,
		Alerts:      raw.Alerts,
		Servers:     raw.Servers,
	}

	if raw.CheckTimeout == "" {
		cfg.CheckTimeout = Duration{30 * time.Second}
	} else {
		d, err := time.ParseDuration(raw.CheckTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid check_timeout %q: %w", raw.CheckTimeout, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("invalid check_timeout %q: must not be negative", raw.CheckTimeout)
		}
		cfg.CheckTimeout = Duration{d}
	}

	if err := validateServers(cfg.Servers); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateServers(servers []Server) error {
	ids := make(map[uint64]string)
	for i, srv := range servers {
		if srv.Name == "" {
			return fmt.Errorf("server[%d]: name is required", i)
		}
		for j, cat := range srv.Categories {
			if cat.Name == "" {
				return fmt.Errorf("server %q: category[%d]: name is required", srv.Name, j)
			}
			for k, svc := range cat.Services {
				if svc.Name == "" {
					return fmt.Errorf("server %q: category %q: service[%d]: name is required", srv.Name, cat.Name, k)
				}
				if svc.Command == "" {
					return fmt.Errorf("service %q: command is required", svc.Name)
				}
				if prev, ok := ids[svc.ID]; ok {
					return fmt.Errorf("duplicate service id %d (%q and %q)", svc.ID, prev, svc.Name)
				}
				ids[svc.ID] = svc.Name
			}
		}
	}
	return nil
}
