package memexpose

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/outofforest/memexpose/chardev"
)

const (
	// DefaultWindowSize is the default size of the window backed by the peer.
	DefaultWindowSize = 1 << 30

	// DefaultMonitorMaxMessageSize is the default limit of monitor message size.
	DefaultMonitorMaxMessageSize = 64 * 1024
)

// Config is the configuration of the device.
type Config struct {
	Mem     MemConfig     `yaml:"mem"`
	Intr    IntrConfig    `yaml:"intr"`
	Monitor MonitorConfig `yaml:"monitor"`
}

// MemConfig configures memory channel.
type MemConfig struct {
	Chardev chardev.Config `yaml:"chardev"`

	// Priority of requests sent by this side. Sides must use different priorities.
	Priority   uint8          `yaml:"priority"`
	WindowSize uint64         `yaml:"window_size"`
	Regions    []RegionConfig `yaml:"regions"`
}

// RegionConfig configures RAM region exposed to the peer.
type RegionConfig struct {
	Name        string `yaml:"name"`
	Start       uint64 `yaml:"start"`
	Size        uint64 `yaml:"size"`
	ReadOnly    bool   `yaml:"read_only"`
	NonVolatile bool   `yaml:"non_volatile"`

	// Private regions are served by requests only and never offered for mapping.
	Private bool `yaml:"private"`
}

// IntrConfig configures interrupt channel.
type IntrConfig struct {
	Chardev   chardev.Config `yaml:"chardev"`
	QueueSize int            `yaml:"queue_size"`
}

// MonitorConfig configures monitor service.
type MonitorConfig struct {
	Listen         string `yaml:"listen"`
	MaxMessageSize uint64 `yaml:"max_message_size"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Mem: MemConfig{
			WindowSize: DefaultWindowSize,
		},
		Intr: IntrConfig{
			QueueSize: DefaultIntrQueueSize,
		},
		Monitor: MonitorConfig{
			MaxMessageSize: DefaultMonitorMaxMessageSize,
		},
	}
}

// LoadConfig loads configuration from YAML file. Missing values are taken from DefaultConfig.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.WithStack(err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return Config{}, errors.Wrapf(err, "parsing config %q failed", path)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate verifies the configuration.
func (c Config) Validate() error {
	if c.Mem.Chardev.Path == "" {
		return errors.New("mem chardev path is not specified")
	}
	if c.Intr.Chardev.Path == "" {
		return errors.New("intr chardev path is not specified")
	}
	if c.Mem.Chardev.Path == c.Intr.Chardev.Path {
		return errors.New("mem and intr chardevs must use different paths")
	}
	if c.Mem.WindowSize == 0 {
		return errors.New("window size must be positive")
	}
	if c.Intr.QueueSize <= 0 {
		return errors.New("interrupt queue size must be positive")
	}
	for i, r := range c.Mem.Regions {
		if r.Size == 0 {
			return errors.Errorf("region %d has zero size", i)
		}
		if r.Start+r.Size < r.Start {
			return errors.Errorf("region %d overflows address space", i)
		}
	}
	return nil
}
