package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration values.
type Config struct {
	// I2C hardware
	I2CBus     string `yaml:"i2c_bus"` // periph bus name, "" opens the first bus
	MPUI2CAddr uint16 `yaml:"mpu_i2c_addr"`
	MagI2CAddr uint16 `yaml:"mag_i2c_addr"`

	// Accelerometer
	// Range: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	AccelRange byte   `yaml:"accel_range"`
	AccelUnits string `yaml:"accel_units"` // "g" or "si"

	// Magnetometer
	MagOutputBits  int  `yaml:"mag_output_bits"` // 14 or 16
	MagMode        byte `yaml:"mag_mode"`        // CNTL1 measurement mode
	MagModeDelayMS int  `yaml:"mag_mode_delay_ms"`

	// Magnetometer calibration
	MagCalSamples int    `yaml:"mag_cal_samples"`
	MagCalDelayMS int    `yaml:"mag_cal_delay_ms"`
	MagCalFile    string `yaml:"mag_cal_file"`

	// MQTT
	MQTTBroker           string `yaml:"mqtt_broker"`
	MQTTClientIDProducer string `yaml:"mqtt_client_id_producer"`
	MQTTClientIDConsole  string `yaml:"mqtt_client_id_console"`
	MQTTClientIDDisplay  string `yaml:"mqtt_client_id_display"`

	// Topics
	TopicAccel       string `yaml:"topic_accel"`
	TopicMag         string `yaml:"topic_mag"`
	TopicCalibration string `yaml:"topic_calibration"`

	// Timing
	SampleIntervalMS int `yaml:"sample_interval_ms"`

	// Web server
	WebServerPort int `yaml:"web_server_port"`

	// Display
	DisplayI2CAddr          uint16 `yaml:"display_i2c_addr"`
	DisplayUpdateIntervalMS int    `yaml:"display_update_interval_ms"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() *Config {
	return &Config{
		MPUI2CAddr: 0x68,
		MagI2CAddr: 0x0C,

		AccelRange: 0,
		AccelUnits: "si",

		MagOutputBits:  16,
		MagMode:        0x06,
		MagModeDelayMS: 1,

		MagCalSamples: 500,
		MagCalDelayMS: 20,
		MagCalFile:    "mag_calibration.json",

		MQTTBroker:           "tcp://localhost:1883",
		MQTTClientIDProducer: "ninedof-producer",
		MQTTClientIDConsole:  "ninedof-console",
		MQTTClientIDDisplay:  "ninedof-display",

		TopicAccel:       "ninedof/accel",
		TopicMag:         "ninedof/mag",
		TopicCalibration: "ninedof/mag/calibration",

		SampleIntervalMS: 100,
		WebServerPort:    8080,

		DisplayI2CAddr:          0x3C,
		DisplayUpdateIntervalMS: 500,

		LogLevel: "info",
	}
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
// Files ending in .yaml or .yml are decoded as YAML, anything else as
// KEY=VALUE lines.
func Load(configPath string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		return loadYAML(configPath)
	}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadYAML(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// I2C hardware
	case "I2C_BUS":
		c.I2CBus = value
	case "MPU_I2C_ADDR":
		addr, err := parseAddr(key, value)
		if err != nil {
			return err
		}
		c.MPUI2CAddr = addr
	case "MAG_I2C_ADDR":
		addr, err := parseAddr(key, value)
		if err != nil {
			return err
		}
		c.MagI2CAddr = addr

	// Accelerometer
	case "ACCEL_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid ACCEL_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.AccelRange = byte(rangeVal)
	case "ACCEL_UNITS":
		c.AccelUnits = strings.ToLower(value)

	// Magnetometer
	case "MAG_OUTPUT_BITS":
		bits, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MAG_OUTPUT_BITS %q: %w", value, err)
		}
		c.MagOutputBits = bits
	case "MAG_MODE":
		mode, err := strconv.ParseUint(value, 0, 8)
		if err != nil {
			return fmt.Errorf("invalid MAG_MODE %q: %w", value, err)
		}
		c.MagMode = byte(mode)
	case "MAG_MODE_DELAY_MS":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MAG_MODE_DELAY_MS %q: %w", value, err)
		}
		c.MagModeDelayMS = ms

	// Magnetometer calibration
	case "MAG_CAL_SAMPLES":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MAG_CAL_SAMPLES %q: %w", value, err)
		}
		c.MagCalSamples = n
	case "MAG_CAL_DELAY_MS":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MAG_CAL_DELAY_MS %q: %w", value, err)
		}
		c.MagCalDelayMS = ms
	case "MAG_CAL_FILE":
		c.MagCalFile = value

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_ACCEL":
		c.TopicAccel = value
	case "TOPIC_MAG":
		c.TopicMag = value
	case "TOPIC_CALIBRATION":
		c.TopicCalibration = value

	// Timing
	case "SAMPLE_INTERVAL_MS":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SAMPLE_INTERVAL_MS %q: %w", value, err)
		}
		c.SampleIntervalMS = interval

	// Web server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// Display
	case "DISPLAY_I2C_ADDR":
		addr, err := parseAddr(key, value)
		if err != nil {
			return err
		}
		c.DisplayI2CAddr = addr
	case "DISPLAY_UPDATE_INTERVAL_MS":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL_MS %q: %w", value, err)
		}
		c.DisplayUpdateIntervalMS = interval

	case "LOG_LEVEL":
		c.LogLevel = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func parseAddr(key, value string) (uint16, error) {
	addr, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return uint16(addr), nil
}

// validate checks ranges and the values other packages rely on.
func (c *Config) validate() error {
	for _, a := range []struct {
		key  string
		addr uint16
	}{
		{"MPU_I2C_ADDR", c.MPUI2CAddr},
		{"MAG_I2C_ADDR", c.MagI2CAddr},
		{"DISPLAY_I2C_ADDR", c.DisplayI2CAddr},
	} {
		if a.addr == 0 || a.addr > 0x7F {
			return fmt.Errorf("%s must be a 7-bit address, got 0x%X", a.key, a.addr)
		}
	}
	if c.AccelRange > 3 {
		return fmt.Errorf("ACCEL_RANGE must be 0-3, got %d", c.AccelRange)
	}
	if c.AccelUnits != "g" && c.AccelUnits != "si" {
		return fmt.Errorf("ACCEL_UNITS must be g or si, got %q", c.AccelUnits)
	}
	if c.MagOutputBits != 14 && c.MagOutputBits != 16 {
		return fmt.Errorf("MAG_OUTPUT_BITS must be 14 or 16, got %d", c.MagOutputBits)
	}
	switch c.MagMode {
	case 0x01, 0x02, 0x04, 0x06:
	default:
		return fmt.Errorf("MAG_MODE must be a measurement mode (0x01, 0x02, 0x04 or 0x06), got 0x%02X", c.MagMode)
	}
	if c.MagModeDelayMS < 0 {
		return fmt.Errorf("MAG_MODE_DELAY_MS must not be negative, got %d", c.MagModeDelayMS)
	}
	if c.MagCalSamples <= 0 {
		return fmt.Errorf("MAG_CAL_SAMPLES must be positive, got %d", c.MagCalSamples)
	}
	if c.MagCalDelayMS < 0 {
		return fmt.Errorf("MAG_CAL_DELAY_MS must not be negative, got %d", c.MagCalDelayMS)
	}
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.SampleIntervalMS <= 0 {
		return fmt.Errorf("SAMPLE_INTERVAL_MS must be positive, got %d", c.SampleIntervalMS)
	}
	if c.DisplayUpdateIntervalMS <= 0 {
		return fmt.Errorf("DISPLAY_UPDATE_INTERVAL_MS must be positive, got %d", c.DisplayUpdateIntervalMS)
	}
	if c.WebServerPort <= 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT out of range: %d", c.WebServerPort)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// SampleInterval returns SAMPLE_INTERVAL_MS as a duration.
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMS) * time.Millisecond
}

func (c *Config) MagModeDelay() time.Duration {
	return time.Duration(c.MagModeDelayMS) * time.Millisecond
}

func (c *Config) MagCalDelay() time.Duration {
	return time.Duration(c.MagCalDelayMS) * time.Millisecond
}

func (c *Config) DisplayUpdateInterval() time.Duration {
	return time.Duration(c.DisplayUpdateIntervalMS) * time.Millisecond
}

// ApplyLogLevel sets the logrus level from LOG_LEVEL.
func (c *Config) ApplyLogLevel() {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// InitGlobal initializes the global configuration from file.
// Only the first call loads anything; later calls return the first result.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
