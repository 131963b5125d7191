// Package config loads and validates the heartio configuration file.
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

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/heartio/internal/heartrate"
	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up next to the executable.
const FileName = "heartio.yaml"

// Config holds application configuration
type Config struct {
	OSC     OSCConfig     `yaml:"osc"`
	Device  DeviceConfig  `yaml:"device"`
	Sources SourcesConfig `yaml:"sources"`
	HTTP    HTTPConfig    `yaml:"http"`
	Store   StoreConfig   `yaml:"store"`
	UI      UIConfig      `yaml:"ui"`
	// Labels maps an exclusive bpm upper bound to chatbox templates containing {{bpm}}.
	Labels map[string][]string `yaml:"labels"`
}

type OSCConfig struct {
	Host string `yaml:"host" default:"127.0.0.1"`
	Port int    `yaml:"port" default:"9000"`
}

type DeviceConfig struct {
	Name    string `yaml:"name,omitempty"`
	Address string `yaml:"address,omitempty"`
}

type SourcesConfig struct {
	XiaomiBand  bool   `yaml:"xiaomi_band"`
	AppleWatch  bool   `yaml:"apple_watch"`
	ProductName string `yaml:"product_name" default:"Xiaomi Smart Band"`
}

type HTTPConfig struct {
	Host string `yaml:"host" default:"0.0.0.0"`
	Port int    `yaml:"port" default:"2333"`
}

type StoreConfig struct {
	// Path of the SQLite file; empty means <user cache dir>/heartio/data.sqlite.
	Path string `yaml:"path,omitempty"`
}

type UIConfig struct {
	Console bool `yaml:"console" default:"true"`
	// Listen is the address of the live feed and metrics server when the
	// HTTP ingest source is not active. Empty disables it.
	Listen string `yaml:"listen" default:"127.0.0.1:2334"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Labels = heartrate.DefaultLabels()
	return cfg
}

// DefaultPath returns heartio.yaml in the directory of the running executable.
func DefaultPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), FileName), nil
}

// Load reads the config file at path. A missing file is created with defaults.
func Load(path string, logger *logrus.Logger) (*Config, error) {
	if logger == nil {
		logger = logrus.New()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		logger.WithField("path", path).Info("Created default configuration")
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	logger.WithField("path", path).Info("Loaded configuration")
	return cfg, nil
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = heartrate.DefaultLabels()
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the configuration and returns *ValidationError on failure.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.OSC.Host) == "" {
		problems = append(problems, "osc.host is empty")
	}
	if !validPort(c.OSC.Port) {
		problems = append(problems, fmt.Sprintf("osc.port %d is out of range", c.OSC.Port))
	}
	if c.Sources.AppleWatch && !validPort(c.HTTP.Port) {
		problems = append(problems, fmt.Sprintf("http.port %d is out of range", c.HTTP.Port))
	}
	if c.Sources.XiaomiBand && strings.TrimSpace(c.Sources.ProductName) == "" {
		problems = append(problems, "sources.product_name is empty")
	}
	if c.UI.Listen != "" {
		if _, _, err := net.SplitHostPort(c.UI.Listen); err != nil {
			problems = append(problems, fmt.Sprintf("ui.listen %q: %v", c.UI.Listen, err))
		}
	}
	if _, err := heartrate.ParseThresholdTable(c.Labels); err != nil {
		problems = append(problems, fmt.Sprintf("labels: %v", err))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Thresholds returns the parsed label table.
func (c *Config) Thresholds() (*heartrate.ThresholdTable, error) {
	return heartrate.ParseThresholdTable(c.Labels)
}

// OSCAddress returns host:port of the chatbox receiver.
func (c *Config) OSCAddress() string {
	return net.JoinHostPort(c.OSC.Host, strconv.Itoa(c.OSC.Port))
}

// StorePath returns the SQLite file location, resolving the default under the user cache dir.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve cache directory: %w", err)
	}
	return filepath.Join(dir, "heartio", "data.sqlite"), nil
}

// SourceKind enumerates the mutually exclusive heart-rate sources.
type SourceKind int

const (
	NamedBluetooth SourceKind = iota
	AddressedBluetooth
	HeuristicBluetooth
	AdvertisementScan
	HTTPIngest
)

func (k SourceKind) String() string {
	switch k {
	case NamedBluetooth:
		return "bluetooth-name"
	case AddressedBluetooth:
		return "bluetooth-address"
	case HeuristicBluetooth:
		return "bluetooth-heuristic"
	case AdvertisementScan:
		return "advertisement"
	case HTTPIngest:
		return "http"
	default:
		return fmt.Sprintf("source(%d)", int(k))
	}
}

// UsesBluetooth reports whether the source needs the BLE adapter.
func (k SourceKind) UsesBluetooth() bool {
	return k != HTTPIngest
}

// Source is the single heart-rate source selected for a run.
type Source struct {
	Kind        SourceKind
	Name        string
	Address     string
	ProductName string
	Listen      string
	// DedupWindow applies to advertisement scanning.
	DedupWindow time.Duration
}

// Source selects the active source. Precedence: advertisement scan, HTTP
// ingest, device name, device address, then heuristic discovery.
func (c *Config) Source() Source {
	switch {
	case c.Sources.XiaomiBand:
		return Source{Kind: AdvertisementScan, ProductName: c.Sources.ProductName, DedupWindow: time.Second}
	case c.Sources.AppleWatch:
		return Source{Kind: HTTPIngest, Listen: net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))}
	case strings.TrimSpace(c.Device.Name) != "":
		return Source{Kind: NamedBluetooth, Name: strings.TrimSpace(c.Device.Name)}
	case strings.TrimSpace(c.Device.Address) != "":
		return Source{Kind: AddressedBluetooth, Address: strings.TrimSpace(c.Device.Address)}
	default:
		return Source{Kind: HeuristicBluetooth}
	}
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
