package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/shootpoints/internal/serialmux"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shootpoints.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := &SurveyConfig{}

	if got := cfg.GetPort(); got != "demo" {
		t.Errorf("GetPort() = %q, want demo", got)
	}
	if got := cfg.GetModel(); got != "" {
		t.Errorf("GetModel() = %q, want empty", got)
	}
	if got := cfg.GetMeasureTimeout(); got != 30*time.Second {
		t.Errorf("GetMeasureTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetSimulatorDelay(); got != 4*time.Second {
		t.Errorf("GetSimulatorDelay() = %v, want 4s", got)
	}
	if got := cfg.GetDBPath(); got != "shootpoints.db" {
		t.Errorf("GetDBPath() = %q", got)
	}
	if got := cfg.GetListen(); got != "localhost:8765" {
		t.Errorf("GetListen() = %q", got)
	}
	if got := cfg.GetBacksightLimitCM(); got != 3.0 {
		t.Errorf("GetBacksightLimitCM() = %v, want 3", got)
	}
	if got := cfg.GetPressure(); got != 760 {
		t.Errorf("GetPressure() = %v, want 760", got)
	}
	if got := cfg.GetTemperature(); got != 15 {
		t.Errorf("GetTemperature() = %v, want 15", got)
	}
	if cfg.PortOptions() != (serialmux.PortOptions{}) {
		t.Errorf("PortOptions() = %+v, want zero", cfg.PortOptions())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on empty config: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
  "port": "/dev/ttyUSB0",
  "model": "topcon-gts-300",
  "baud_rate": 9600,
  "parity": "none",
  "measure_timeout": "45s",
  "pressure": 29.92,
  "pressure_unit": "inHg",
  "temperature": 68,
  "temperature_unit": "F"
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GetPort() != "/dev/ttyUSB0" {
		t.Errorf("GetPort() = %q", cfg.GetPort())
	}
	if cfg.GetMeasureTimeout() != 45*time.Second {
		t.Errorf("GetMeasureTimeout() = %v", cfg.GetMeasureTimeout())
	}
	opts, err := cfg.PortOptions().Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if opts.String() != "9600 7N1" {
		t.Errorf("port options = %s, want 9600 7N1", opts)
	}
	if p := cfg.GetPressure(); p < 759.9 || p > 760.0 {
		t.Errorf("GetPressure() = %v, want ~759.97 mmHg", p)
	}
	if temp := cfg.GetTemperature(); temp != 20 {
		t.Errorf("GetTemperature() = %v, want 20", temp)
	}
	// Unset fields keep their defaults.
	if cfg.GetDBPath() != "shootpoints.db" {
		t.Errorf("GetDBPath() = %q", cfg.GetDBPath())
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr string
	}{
		{
			name: "wrong extension",
			path: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "config.yaml")
				os.WriteFile(p, []byte("{}"), 0644)
				return p
			},
			wantErr: ".json extension",
		},
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.json") },
			wantErr: "failed to stat",
		},
		{
			name:    "bad json",
			path:    func(t *testing.T) string { return writeConfig(t, `{"port": `) },
			wantErr: "failed to parse",
		},
		{
			name:    "unknown model",
			path:    func(t *testing.T) string { return writeConfig(t, `{"model": "leica-tc307"}`) },
			wantErr: "unknown model",
		},
		{
			name:    "bad duration",
			path:    func(t *testing.T) string { return writeConfig(t, `{"measure_timeout": "soon"}`) },
			wantErr: "measure_timeout",
		},
		{
			name:    "bad parity",
			path:    func(t *testing.T) string { return writeConfig(t, `{"parity": "X"}`) },
			wantErr: "parity",
		},
		{
			name:    "bad backsight limit",
			path:    func(t *testing.T) string { return writeConfig(t, `{"backsight_limit_cm": 0}`) },
			wantErr: "backsight_limit_cm",
		},
		{
			name:    "bad pressure unit",
			path:    func(t *testing.T) string { return writeConfig(t, `{"pressure_unit": "psi"}`) },
			wantErr: "pressure_unit",
		},
		{
			name:    "pressure out of range",
			path:    func(t *testing.T) string { return writeConfig(t, `{"pressure": 1013}`) },
			wantErr: "pressure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path(t))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	path := writeConfig(t, `{"port": "/dev/ttyUSB0", "db_path": "file.db"}`)

	t.Setenv("SHOOTPOINTS_PORT", "demo")
	t.Setenv("SHOOTPOINTS_BAUD_RATE", "4800")
	t.Setenv("SHOOTPOINTS_SIMULATOR_DELAY", "10ms")

	cfg, err := LoadWithEnv(path)
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if cfg.GetPort() != "demo" {
		t.Errorf("environment should override port, got %q", cfg.GetPort())
	}
	if cfg.GetDBPath() != "file.db" {
		t.Errorf("unset variable should keep file value, got %q", cfg.GetDBPath())
	}
	if cfg.PortOptions().BaudRate != 4800 {
		t.Errorf("BaudRate = %d, want 4800", cfg.PortOptions().BaudRate)
	}
	if cfg.GetSimulatorDelay() != 10*time.Millisecond {
		t.Errorf("GetSimulatorDelay() = %v", cfg.GetSimulatorDelay())
	}
	if cfg.Model != nil {
		t.Errorf("Model should stay unset, got %q", *cfg.Model)
	}
}

func TestApplyEnvErrors(t *testing.T) {
	t.Setenv("SHOOTPOINTS_BAUD_RATE", "fast")
	if _, err := LoadWithEnv(""); err == nil {
		t.Error("expected parse error for non-numeric baud rate")
	}
}

func TestApplyEnvValidates(t *testing.T) {
	t.Setenv("SHOOTPOINTS_STOP_BITS", "3")
	if _, err := LoadWithEnv(""); err == nil {
		t.Error("expected validation error for 3 stop bits")
	}
}

func TestDefaultsFile(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetPort() != "demo" {
		t.Errorf("defaults file port = %q, want demo", cfg.GetPort())
	}
	if cfg.GetModel() != "topcon-gts-300" {
		t.Errorf("defaults file model = %q", cfg.GetModel())
	}
	opts, err := cfg.PortOptions().Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if opts != (serialmux.PortOptions{BaudRate: 1200, DataBits: 7, StopBits: 1, Parity: "E"}) {
		t.Errorf("defaults file port options = %+v", opts)
	}
}
