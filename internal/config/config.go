// Package config loads the survey station settings: which instrument to
// drive, where the database lives and the field defaults a session starts
// from. Values come from a JSON file and may be overridden per process by
// SHOOTPOINTS_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/banshee-data/shootpoints/internal/atmos"
	"github.com/banshee-data/shootpoints/internal/serialmux"
	"github.com/banshee-data/shootpoints/internal/station"
	"github.com/banshee-data/shootpoints/internal/units"
)

// DefaultConfigPath is the canonical defaults file, relative to the repo root.
const DefaultConfigPath = "config/shootpoints.defaults.json"

// SurveyConfig is the root configuration. Every field is optional; the
// Get* methods supply defaults for anything left unset.
type SurveyConfig struct {
	// Instrument link
	Port     *string `json:"port,omitempty" env:"SHOOTPOINTS_PORT"`
	Model    *string `json:"model,omitempty" env:"SHOOTPOINTS_MODEL"`
	BaudRate *int    `json:"baud_rate,omitempty" env:"SHOOTPOINTS_BAUD_RATE"`
	DataBits *int    `json:"data_bits,omitempty" env:"SHOOTPOINTS_DATA_BITS"`
	StopBits *int    `json:"stop_bits,omitempty" env:"SHOOTPOINTS_STOP_BITS"`
	Parity   *string `json:"parity,omitempty" env:"SHOOTPOINTS_PARITY"`

	MeasureTimeout *string `json:"measure_timeout,omitempty" env:"SHOOTPOINTS_MEASURE_TIMEOUT"` // duration string like "30s"
	SimulatorDelay *string `json:"simulator_delay,omitempty" env:"SHOOTPOINTS_SIMULATOR_DELAY"`

	// Storage and serving
	DBPath *string `json:"db_path,omitempty" env:"SHOOTPOINTS_DB"`
	Listen *string `json:"listen,omitempty" env:"SHOOTPOINTS_LISTEN"`

	// Field defaults
	BacksightLimitCM *float64 `json:"backsight_limit_cm,omitempty" env:"SHOOTPOINTS_BACKSIGHT_LIMIT_CM"`
	Pressure         *float64 `json:"pressure,omitempty" env:"SHOOTPOINTS_PRESSURE"`
	Temperature      *float64 `json:"temperature,omitempty" env:"SHOOTPOINTS_TEMPERATURE"`
	PressureUnit     *string  `json:"pressure_unit,omitempty" env:"SHOOTPOINTS_PRESSURE_UNIT"`
	TemperatureUnit  *string  `json:"temperature_unit,omitempty" env:"SHOOTPOINTS_TEMPERATURE_UNIT"`
}

// Defaults applied by the getters.
const (
	defaultPort           = "demo"
	defaultDBPath         = "shootpoints.db"
	defaultListen         = "localhost:8765"
	defaultMeasureTimeout = 30 * time.Second
	defaultSimulatorDelay = 4 * time.Second
)

// Load reads a SurveyConfig from a JSON file. The file must have a .json
// extension and be under 1MB. Fields omitted from the file keep their
// defaults, so partial configs are safe.
func Load(path string) (*SurveyConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &SurveyConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadWithEnv loads path (if non-empty) and then applies environment
// overrides.
func LoadWithEnv(path string) (*SurveyConfig, error) {
	cfg := &SurveyConfig{}
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SHOOTPOINTS_* environment variables.
// Unset variables leave the field untouched.
func (c *SurveyConfig) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return c.Validate()
}

// Validate checks the values that are set.
func (c *SurveyConfig) Validate() error {
	if c.Model != nil && *c.Model != "" {
		known := false
		for _, m := range atmos.Models() {
			if m == *c.Model {
				known = true
			}
		}
		if !known {
			return fmt.Errorf("unknown model %q (known: %s)", *c.Model, strings.Join(atmos.Models(), ", "))
		}
	}
	if _, err := c.PortOptions().Normalize(); err != nil {
		return err
	}
	for name, v := range map[string]*string{
		"measure_timeout": c.MeasureTimeout,
		"simulator_delay": c.SimulatorDelay,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, d)
		}
	}
	if c.BacksightLimitCM != nil && *c.BacksightLimitCM <= 0 {
		return fmt.Errorf("backsight_limit_cm must be positive, got %f", *c.BacksightLimitCM)
	}
	if c.PressureUnit != nil && !units.IsValidPressure(*c.PressureUnit) {
		return fmt.Errorf("invalid pressure_unit %q: expected one of %v", *c.PressureUnit, units.ValidPressureUnits)
	}
	if c.TemperatureUnit != nil && !units.IsValidTemperature(*c.TemperatureUnit) {
		return fmt.Errorf("invalid temperature_unit %q: expected one of %v", *c.TemperatureUnit, units.ValidTemperatureUnits)
	}
	if c.Pressure != nil || c.Temperature != nil {
		if err := atmos.ValidateConditions(c.GetPressure(), c.GetTemperature()); err != nil {
			return err
		}
	}
	return nil
}

// GetPort returns the serial device path, or "demo" for the simulator.
func (c *SurveyConfig) GetPort() string {
	if c.Port == nil || *c.Port == "" {
		return defaultPort
	}
	return *c.Port
}

// GetModel returns the instrument model slug, empty meaning the default
// for the port.
func (c *SurveyConfig) GetModel() string {
	if c.Model == nil {
		return ""
	}
	return *c.Model
}

// PortOptions returns the serial settings. Unset fields are left zero for
// PortOptions.Normalize to fill in.
func (c *SurveyConfig) PortOptions() serialmux.PortOptions {
	var o serialmux.PortOptions
	if c.BaudRate != nil {
		o.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		o.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		o.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		o.Parity = *c.Parity
	}
	return o
}

func duration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetMeasureTimeout returns how long a measurement may take.
func (c *SurveyConfig) GetMeasureTimeout() time.Duration {
	return duration(c.MeasureTimeout, defaultMeasureTimeout)
}

// GetSimulatorDelay returns how long the demo instrument takes per shot.
func (c *SurveyConfig) GetSimulatorDelay() time.Duration {
	return duration(c.SimulatorDelay, defaultSimulatorDelay)
}

func (c *SurveyConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return defaultDBPath
	}
	return *c.DBPath
}

func (c *SurveyConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return defaultListen
	}
	return *c.Listen
}

// GetBacksightLimitCM returns the accepted backsight distance mismatch.
func (c *SurveyConfig) GetBacksightLimitCM() float64 {
	if c.BacksightLimitCM == nil {
		return station.DefaultBacksightLimitCM
	}
	return *c.BacksightLimitCM
}

// GetPressureUnit returns the unit readings are entered in.
func (c *SurveyConfig) GetPressureUnit() string {
	if c.PressureUnit == nil || *c.PressureUnit == "" {
		return units.MMHG
	}
	return strings.ToLower(*c.PressureUnit)
}

func (c *SurveyConfig) GetTemperatureUnit() string {
	if c.TemperatureUnit == nil || *c.TemperatureUnit == "" {
		return units.Celsius
	}
	return strings.ToLower(*c.TemperatureUnit)
}

// GetPressure returns the starting pressure in mmHg, converting from the
// configured unit.
func (c *SurveyConfig) GetPressure() float64 {
	if c.Pressure == nil {
		return atmos.ReferencePressure
	}
	return units.ToMMHg(*c.Pressure, c.GetPressureUnit())
}

// GetTemperature returns the starting temperature in °C.
func (c *SurveyConfig) GetTemperature() float64 {
	if c.Temperature == nil {
		return atmos.ReferenceTemperature
	}
	return units.ToCelsius(*c.Temperature, c.GetTemperatureUnit())
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching up from the
// working directory. It panics if the file cannot be found and is intended
// for tests.
func MustLoadDefaultConfig() *SurveyConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}
