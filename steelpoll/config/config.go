// Package config loads poll targets and poller settings from INI or YAML
// target files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/steelcutops/steelpoll/steelpoll/poller"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort = 22

	EnvUsername = "STEELPOLL_USERNAME"
	EnvPassword = "STEELPOLL_PASSWORD"

	pollerSection = "poller"
)

// Settings tunes the poller. Zero durations leave the poller defaults.
type Settings struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Timeout        time.Duration `yaml:"timeout"`
}

// Target is one named host to poll.
type Target struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Task     string `yaml:"task"`
}

// Input converts the target into a poll request.
func (t Target) Input() poller.Input {
	return poller.Input{
		Server: t.Host,
		Port:   t.Port,
		Credentials: poller.Credentials{
			Username: t.Username,
			Password: t.Password,
		},
		Task: t.Task,
	}
}

type Config struct {
	Poller  Settings `yaml:"poller"`
	Targets []Target `yaml:"targets"`
}

// Load reads a target file. Files ending in .yaml or .yml are parsed as
// YAML, anything else as INI. Credentials missing from a target are taken
// from STEELPOLL_USERNAME and STEELPOLL_PASSWORD.
func Load(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = loadYAML(path)
	default:
		cfg, err = loadINI(path)
	}
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// loadINI treats the [poller] section as Settings and every other section
// as a target. Keys in the unnamed default section apply to all targets.
func loadINI(path string) (*Config, error) {
	// Passwords may contain '#' and ';'.
	file, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := &Config{}
	defaults := file.Section(ini.DefaultSection)

	if file.HasSection(pollerSection) {
		sec := file.Section(pollerSection)
		if cfg.Poller.ConnectTimeout, err = durationKey(sec, "connect_timeout"); err != nil {
			return nil, err
		}
		if cfg.Poller.Timeout, err = durationKey(sec, "timeout"); err != nil {
			return nil, err
		}
	}

	for _, section := range file.Sections() {
		name := section.Name()
		if name == ini.DefaultSection || name == pollerSection {
			continue
		}

		value := func(key string) *ini.Key {
			if section.HasKey(key) {
				return section.Key(key)
			}
			return defaults.Key(key)
		}

		port := 0
		if raw := value("port").String(); raw != "" {
			port, err = value("port").Int()
			if err != nil {
				return nil, fmt.Errorf("target %s: invalid port %q: %w", name, raw, err)
			}
		}

		cfg.Targets = append(cfg.Targets, Target{
			Name:     name,
			Host:     value("host").String(),
			Port:     port,
			Username: value("username").String(),
			Password: value("password").String(),
			Task:     value("task").String(),
		})
	}

	return cfg, nil
}

func durationKey(sec *ini.Section, key string) (time.Duration, error) {
	if !sec.HasKey(key) {
		return 0, nil
	}
	d, err := sec.Key(key).Duration()
	if err != nil {
		return 0, fmt.Errorf("%s.%s: invalid duration %q: %w", sec.Name(), key, sec.Key(key).String(), err)
	}
	return d, nil
}

// ApplyEnv fills missing credentials from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	username, hasUser := lookup(EnvUsername)
	password, hasPassword := lookup(EnvPassword)

	for i := range c.Targets {
		if hasUser && c.Targets[i].Username == "" {
			c.Targets[i].Username = username
		}
		if hasPassword && c.Targets[i].Password == "" {
			c.Targets[i].Password = password
		}
	}
}

func (c *Config) applyDefaults() {
	for i := range c.Targets {
		if c.Targets[i].Port == 0 {
			c.Targets[i].Port = DefaultPort
		}
		if c.Targets[i].Name == "" {
			c.Targets[i].Name = c.Targets[i].Host
		}
	}
}

// Validate reports every target without a host and every duplicated name.
// Full input validation happens in the poller.
func (c *Config) Validate() error {
	var result *multierror.Error
	seen := make(map[string]bool, len(c.Targets))

	for i, t := range c.Targets {
		if t.Host == "" {
			result = multierror.Append(result, fmt.Errorf("target %d (%s): host is required", i, t.Name))
		}
		if t.Name != "" && seen[t.Name] {
			result = multierror.Append(result, fmt.Errorf("target %s: duplicate name", t.Name))
		}
		seen[t.Name] = true
	}

	return result.ErrorOrNil()
}
