package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/standardbeagle/wincc-debug-proxy/internal/target"
)

// Defaults used when neither a config file nor a flag sets a value
const (
	DefaultTargetHost   = "localhost"
	DefaultTargetPort   = 9222
	DefaultDynamicsPort = 9230
	DefaultEventsPort   = 9231
	DefaultPollInterval = 5 * time.Second
	DefaultSettleDelay  = 200 * time.Millisecond
	DefaultConfigFile   = ".wincc-proxy.toml"
)

// StyleguideVersions are the TIA Portal / WinCC Unified releases accepted
// for --styleguide.
var StyleguideVersions = []string{"v17", "v18", "v19", "v20", "v21"}

// Config is the immutable input snapshot handed to every component at
// construction time.
type Config struct {
	TargetHost        string        `toml:"target_host" yaml:"target_host"`
	TargetPort        int           `toml:"target_port" yaml:"target_port"`
	DynamicsPort      int           `toml:"dynamics_port" yaml:"dynamics_port"`
	EventsPort        int           `toml:"events_port" yaml:"events_port"`
	PollInterval      time.Duration `toml:"-" yaml:"-"`
	PollSeconds       int           `toml:"poll_interval" yaml:"poll_interval"`
	Verbose           bool          `toml:"verbose" yaml:"verbose"`
	VeryVerbose       bool          `toml:"very_verbose" yaml:"very_verbose"`
	LongPaths         bool          `toml:"long_paths" yaml:"long_paths"`
	DumpDir           string        `toml:"dump" yaml:"dump"`
	StyleguideVersion string        `toml:"styleguide" yaml:"styleguide"`

	// SettleDelay is how long clients get to close after the disconnect
	// broadcast before the listener is stopped.
	SettleDelay time.Duration `toml:"-" yaml:"-"`
}

// Default returns the configuration used when the binary runs without a
// subcommand.
func Default() Config {
	return Config{
		TargetHost:   DefaultTargetHost,
		TargetPort:   DefaultTargetPort,
		DynamicsPort: DefaultDynamicsPort,
		EventsPort:   DefaultEventsPort,
		PollInterval: DefaultPollInterval,
		PollSeconds:  int(DefaultPollInterval / time.Second),
		SettleDelay:  DefaultSettleDelay,
	}
}

// Load reads a TOML or YAML file over the defaults. The format is picked by
// extension; a missing file is not an error.
func Load(path string) (Config, error) {
	return LoadInto(Default(), path)
}

// LoadInto is Load with a caller supplied base snapshot, so subcommands with
// their own defaults can still be overridden by the file.
func LoadInto(cfg Config, path string) (Config, error) {
	if cfg.PollSeconds == 0 {
		cfg.PollSeconds = int(cfg.PollInterval / time.Second)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse yaml config %s: %w", path, err)
		}
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse toml config %s: %w", path, err)
		}
	}

	if cfg.PollSeconds > 0 {
		cfg.PollInterval = time.Duration(cfg.PollSeconds) * time.Second
	}
	return cfg, nil
}

// Validate checks that the snapshot describes a usable proxy
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.TargetHost) == "" {
		errs = append(errs, errors.New("target host must not be empty"))
	}
	ports := []struct {
		name string
		port int
	}{
		{"target port", c.TargetPort},
		{"dynamics port", c.DynamicsPort},
		{"events port", c.EventsPort},
	}
	for _, p := range ports {
		if p.port <= 0 || p.port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", p.name, p.port))
		}
	}
	if c.DynamicsPort == c.EventsPort {
		errs = append(errs, fmt.Errorf("dynamics and events ports must differ (both %d)", c.DynamicsPort))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.StyleguideVersion != "" && !isStyleguideVersion(c.StyleguideVersion) {
		errs = append(errs, fmt.Errorf("unknown styleguide version %q (want one of %s)",
			c.StyleguideVersion, strings.Join(StyleguideVersions, ", ")))
	}

	return errors.Join(errs...)
}

func isStyleguideVersion(v string) bool {
	for _, s := range StyleguideVersions {
		if s == v {
			return true
		}
	}
	return false
}

// TargetAddr returns host:port of the upstream debug endpoint
func (c Config) TargetAddr() string {
	return net.JoinHostPort(c.TargetHost, strconv.Itoa(c.TargetPort))
}

// Port returns the local listening port of a category
func (c Config) Port(category target.Category) int {
	if category == target.Events {
		return c.EventsPort
	}
	return c.DynamicsPort
}

// Settle returns the drain settle delay, falling back to the default
func (c Config) Settle() time.Duration {
	if c.SettleDelay <= 0 {
		return DefaultSettleDelay
	}
	return c.SettleDelay
}
