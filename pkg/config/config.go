package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceSerial = "serial"
	SourceMock   = "mock"
	SourceDead   = "dead"
)

// DefaultDeadSourceMessage is shown when the sensors stop reporting.
const DefaultDeadSourceMessage = "The sensors seem to have stopped responding, " +
	"you may need to restart the bike by removing power momentarily"

// Config represents the application configuration.
type Config struct {
	Source     SourceConfig     `yaml:"source"`
	Smoothing  SmoothingConfig  `yaml:"smoothing"`
	Outlier    OutlierConfig    `yaml:"outlier"`
	Resistance ResistanceConfig `yaml:"resistance"`
	Watchdog   WatchdogConfig   `yaml:"watchdog"`
	Mock       MockConfig       `yaml:"mock"`
	Log        LogConfig        `yaml:"log"`
	Redis      RedisConfig      `yaml:"redis"`
	Influx     InfluxConfig     `yaml:"influx"`
	HUD        HUDConfig        `yaml:"hud"`
}

// SourceConfig selects where raw frames come from.
type SourceConfig struct {
	Kind       string `yaml:"kind"` // serial, mock or dead
	Port       string `yaml:"port"`
	BaudRate   int    `yaml:"baud_rate"`
	BufferSize int    `yaml:"buffer_size"`
}

// SmoothingConfig contains Kalman filter tuning.
type SmoothingConfig struct {
	ProcessNoise     float64       `yaml:"process_noise"`
	SensorNoise      string        `yaml:"sensor_noise"` // heavy, normal, light, minimal or a number
	EstimatedError   float64       `yaml:"estimated_error"`
	ParameterTimeout time.Duration `yaml:"parameter_timeout"` // Reset filter after this long without a change
}

// OutlierConfig contains the spurious power reading rejector parameters.
type OutlierConfig struct {
	Threshold     float64 `yaml:"threshold"`
	Delta         float64 `yaml:"delta"`
	MaxRejections int     `yaml:"max_rejections"`
}

// ResistanceConfig contains resistance channel filtering.
type ResistanceConfig struct {
	WindowSize int `yaml:"window_size"` // Lowest of the last N readings is shown
}

// WatchdogConfig contains dead source detection parameters.
type WatchdogConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Cooldown time.Duration `yaml:"cooldown"`
	Message  string        `yaml:"message"`
}

// MockConfig contains mock source configuration.
type MockConfig struct {
	SampleRate time.Duration `yaml:"sample_rate"`
	Power      float64       `yaml:"power"`      // Peak power (W)
	Cadence    float64       `yaml:"cadence"`    // Peak cadence (rpm)
	Resistance float64       `yaml:"resistance"` // Peak resistance (%)
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// RedisConfig contains the redis publisher configuration. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`     // Hash holding the latest readings
	Channel  string `yaml:"channel"` // Pub/sub channel for updates
}

// InfluxConfig contains the influxdb recorder configuration. Empty URL disables it.
type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// HUDConfig contains the websocket HUD feed and metrics endpoint configuration.
// Empty Addr disables it.
type HUDConfig struct {
	Addr           string        `yaml:"addr"`
	UpdatePeriod   time.Duration `yaml:"update_period"`
	SpeedUnit      string        `yaml:"speed_unit"` // mph or kph
	EnableMetrics  bool          `yaml:"enable_metrics"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Kind:       SourceSerial,
			Port:       "/dev/ttyUSB0",
			BaudRate:   115200,
			BufferSize: 100,
		},
		Smoothing: SmoothingConfig{
			ProcessNoise:     5,
			SensorNoise:      "normal",
			EstimatedError:   20,
			ParameterTimeout: 30 * time.Second,
		},
		Outlier: OutlierConfig{
			Threshold:     40,
			Delta:         100,
			MaxRejections: 30,
		},
		Resistance: ResistanceConfig{
			WindowSize: 2,
		},
		Watchdog: WatchdogConfig{
			Timeout:  10 * time.Second,
			Cooldown: 5 * time.Minute,
			Message:  DefaultDeadSourceMessage,
		},
		Mock: MockConfig{
			SampleRate: 100 * time.Millisecond,
			Power:      200,
			Cadence:    150,
			Resistance: 110,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Redis: RedisConfig{
			Key:     "grupetto",
			Channel: "grupetto",
		},
		Influx: InfluxConfig{
			Measurement: "bike",
		},
		HUD: HUDConfig{
			Addr:          ":8080",
			UpdatePeriod:  200 * time.Millisecond,
			SpeedUnit:     "mph",
			EnableMetrics: true,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceSerial, SourceMock, SourceDead:
	default:
		return fmt.Errorf("invalid source kind %q", c.Source.Kind)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"smoothing parameter_timeout", c.Smoothing.ParameterTimeout},
		{"watchdog timeout", c.Watchdog.Timeout},
		{"watchdog cooldown", c.Watchdog.Cooldown},
		{"mock sample_rate", c.Mock.SampleRate},
		{"hud update_period", c.HUD.UpdatePeriod},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("invalid %s %s: must be positive", d.name, d.value)
		}
	}

	if c.Outlier.Threshold < 0 {
		return fmt.Errorf("invalid outlier threshold %v", c.Outlier.Threshold)
	}
	if c.Outlier.Delta < 0 {
		return fmt.Errorf("invalid outlier delta %v", c.Outlier.Delta)
	}
	if c.Outlier.MaxRejections < 0 {
		return fmt.Errorf("invalid outlier max_rejections %d", c.Outlier.MaxRejections)
	}
	if c.Resistance.WindowSize < 1 {
		return fmt.Errorf("invalid resistance window_size %d", c.Resistance.WindowSize)
	}

	switch c.HUD.SpeedUnit {
	case "mph", "kph":
	default:
		return fmt.Errorf("invalid hud speed_unit %q", c.HUD.SpeedUnit)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Source.Kind == "" {
		c.Source.Kind = def.Source.Kind
	}
	if c.Source.Port == "" {
		c.Source.Port = def.Source.Port
	}
	if c.Source.BaudRate == 0 {
		c.Source.BaudRate = def.Source.BaudRate
	}
	if c.Source.BufferSize == 0 {
		c.Source.BufferSize = def.Source.BufferSize
	}

	if c.Smoothing.SensorNoise == "" {
		c.Smoothing.SensorNoise = def.Smoothing.SensorNoise
	}
	if c.Smoothing.EstimatedError == 0 {
		c.Smoothing.EstimatedError = def.Smoothing.EstimatedError
	}
	if c.Smoothing.ParameterTimeout == 0 {
		c.Smoothing.ParameterTimeout = def.Smoothing.ParameterTimeout
	}

	if c.Resistance.WindowSize == 0 {
		c.Resistance.WindowSize = def.Resistance.WindowSize
	}

	if c.Watchdog.Timeout == 0 {
		c.Watchdog.Timeout = def.Watchdog.Timeout
	}
	if c.Watchdog.Cooldown == 0 {
		c.Watchdog.Cooldown = def.Watchdog.Cooldown
	}
	if c.Watchdog.Message == "" {
		c.Watchdog.Message = def.Watchdog.Message
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}

	if c.Redis.Key == "" {
		c.Redis.Key = def.Redis.Key
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = def.Redis.Channel
	}
	if c.Influx.Measurement == "" {
		c.Influx.Measurement = def.Influx.Measurement
	}

	if c.HUD.UpdatePeriod == 0 {
		c.HUD.UpdatePeriod = def.HUD.UpdatePeriod
	}
	if c.HUD.SpeedUnit == "" {
		c.HUD.SpeedUnit = def.HUD.SpeedUnit
	}
}
