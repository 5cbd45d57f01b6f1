package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang/geo/r3"
	"gopkg.in/yaml.v3"

	"github.com/mbocsi/skybridge/adapters"
	"github.com/mbocsi/skybridge/client"
)

// Config is the full bridge configuration. Zero values are filled from Default when loading.
type Config struct {
	Rosbridge RosbridgeConfig  `yaml:"rosbridge"`
	HTTP      HTTPConfig       `yaml:"http"`
	MCP       MCPConfig        `yaml:"mcp"`
	Discovery DiscoveryConfig  `yaml:"discovery"`
	Log       LogConfig        `yaml:"log"`
	Odometry  []OdometryConfig `yaml:"odometry"`
	Status    []TopicConfig    `yaml:"status"`
	LEDs      []TopicConfig    `yaml:"leds"`
}

type RosbridgeConfig struct {
	URL               string  `yaml:"url"`
	QueryParam        string  `yaml:"query_param"`
	BrowserPort       int     `yaml:"browser_port"`
	PageURL           string  `yaml:"page_url"` // Treat the bridge as embedded in this page
	RetryCount        int     `yaml:"retry_count"`
	RetryDelaySeconds float64 `yaml:"retry_delay_seconds"`
	QueueSize         int     `yaml:"queue_size"`
	AutoConnect       bool    `yaml:"auto_connect"`
	FrameRate         float64 `yaml:"frame_rate"` // Adapter ticks per second
}

type HTTPConfig struct {
	Addr string `yaml:"addr"` // Empty disables the HTTP control surface
}

type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

type DiscoveryConfig struct {
	Enabled bool          `yaml:"enabled"`
	Service string        `yaml:"service"`
	Timeout time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Vector struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

// Euler angles in degrees.
type Euler struct {
	Roll  float64 `yaml:"roll"`
	Pitch float64 `yaml:"pitch"`
	Yaw   float64 `yaml:"yaw"`
}

type OdometryConfig struct {
	Name           string  `yaml:"name"`
	Topic          string  `yaml:"topic"`
	Type           string  `yaml:"type"`
	PositionOffset Vector  `yaml:"position_offset"`
	RotationOffset Euler   `yaml:"rotation_offset"`
	Smoothing      float64 `yaml:"smoothing"`
}

type TopicConfig struct {
	Name  string `yaml:"name"`
	Topic string `yaml:"topic"`
	Type  string `yaml:"type"`
}

func Default() *Config {
	return &Config{
		Rosbridge: RosbridgeConfig{
			URL:               client.DefaultURL,
			QueryParam:        "rosbridge",
			BrowserPort:       9090,
			RetryCount:        3,
			RetryDelaySeconds: 2.0,
			QueueSize:         256,
			AutoConnect:       true,
			FrameRate:         60,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Discovery: DiscoveryConfig{
			Service: client.DefaultDiscoveryService,
			Timeout: 5 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Odometry: []OdometryConfig{
			{
				Name:      "vehicle",
				Topic:     "/fmu/out/vehicle_odometry",
				Type:      adapters.DefaultOdometryType,
				Smoothing: adapters.DefaultSmoothing,
			},
		},
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Rosbridge.URL != "" {
		u, err := url.Parse(c.Rosbridge.URL)
		if err != nil {
			errs = append(errs, fmt.Errorf("rosbridge.url: %w", err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("rosbridge.url %q must use ws or wss", c.Rosbridge.URL))
		}
	}
	if c.Rosbridge.BrowserPort < 0 || c.Rosbridge.BrowserPort > 65535 {
		errs = append(errs, fmt.Errorf("rosbridge.browser_port %d out of range", c.Rosbridge.BrowserPort))
	}
	if c.Rosbridge.RetryCount < 0 {
		errs = append(errs, errors.New("rosbridge.retry_count must be >= 0"))
	}
	if c.Rosbridge.RetryDelaySeconds < 0 {
		errs = append(errs, errors.New("rosbridge.retry_delay_seconds must be >= 0"))
	}
	if c.Rosbridge.QueueSize < 0 {
		errs = append(errs, errors.New("rosbridge.queue_size must be >= 0"))
	}
	if c.Rosbridge.FrameRate <= 0 {
		errs = append(errs, errors.New("rosbridge.frame_rate must be > 0"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, text", c.Log.Format))
	}

	// Adapter names share one namespace across odometry, status and leds.
	names := make(map[string]string)
	claim := func(section string, i int, name, topic string) {
		if name == "" {
			name = topic
		}
		if name == "" {
			return
		}
		where := fmt.Sprintf("%s[%d]", section, i)
		if prev, dup := names[name]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate name %q (already used by %s)", where, name, prev))
			return
		}
		names[name] = where
	}

	for i, o := range c.Odometry {
		if o.Topic == "" {
			errs = append(errs, fmt.Errorf("odometry[%d].topic is required", i))
		}
		if o.Smoothing < 0 || o.Smoothing > 1 {
			errs = append(errs, fmt.Errorf("odometry[%d].smoothing must be within [0, 1]", i))
		}
		claim("odometry", i, o.Name, o.Topic)
	}
	for i, s := range c.Status {
		if s.Topic == "" || s.Type == "" {
			errs = append(errs, fmt.Errorf("status[%d]: topic and type are required", i))
		}
		claim("status", i, s.Name, s.Topic)
	}
	for i, l := range c.LEDs {
		if l.Topic == "" {
			errs = append(errs, fmt.Errorf("leds[%d].topic is required", i))
		}
		claim("leds", i, l.Name, l.Topic)
	}

	return errors.Join(errs...)
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Rosbridge.RetryDelaySeconds * float64(time.Second))
}

func (c *Config) Endpoint() client.EndpointConfig {
	return client.EndpointConfig{
		URL:         c.Rosbridge.URL,
		QueryParam:  c.Rosbridge.QueryParam,
		BrowserPort: c.Rosbridge.BrowserPort,
	}
}

// Adapter converts the entry to the adapter's configuration.
func (o OdometryConfig) Adapter() adapters.OdometryConfig {
	return adapters.OdometryConfig{
		Name:           o.Name,
		Topic:          o.Topic,
		MessageType:    o.Type,
		PositionOffset: r3.Vector{X: o.PositionOffset.X, Y: o.PositionOffset.Y, Z: o.PositionOffset.Z},
		RotationOffset: adapters.EulerDegrees(o.RotationOffset.Roll, o.RotationOffset.Pitch, o.RotationOffset.Yaw),
		Smoothing:      o.Smoothing,
	}
}
