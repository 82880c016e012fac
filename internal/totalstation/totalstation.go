// Package totalstation defines the instrument contract and its drivers: the
// Topcon GTS-300 series over a serial link and a simulator for demo mode.
package totalstation

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/shootpoints/internal/atmos"
	"github.com/banshee-data/shootpoints/internal/geometry"
	"github.com/banshee-data/shootpoints/internal/monitoring"
	"github.com/banshee-data/shootpoints/internal/serialmux"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
	"github.com/banshee-data/shootpoints/internal/timeutil"
)

// DemoPort is the port name that selects the simulator.
const DemoPort = "demo"

// DefaultMeasureTimeout bounds a measurement when the caller passes zero.
const DefaultMeasureTimeout = 30 * time.Second

var logf = monitoring.Component("totalstation")

// Reading is one raw measurement. The distance is uncorrected.
type Reading struct {
	SlopeDistance   float64 `json:"slope_distance"`   // metres
	ZenithAngle     float64 `json:"zenith_angle"`     // degrees from zenith
	HorizontalAngle float64 `json:"horizontal_angle"` // degrees clockwise from the zeroed reference
	Status          int     `json:"status"`
}

// Polar returns the reading as a geometry sighting.
func (r Reading) Polar() geometry.Polar {
	return geometry.Polar{
		SlopeDistance:   r.SlopeDistance,
		ZenithAngle:     r.ZenithAngle,
		HorizontalAngle: r.HorizontalAngle,
	}
}

// Instrument is implemented by every supported total station and by the
// simulator. Only one command may be outstanding: a second Measure while
// one is in flight fails with surveyerr.ErrBusy.
type Instrument interface {
	// Model returns the registry slug, which is also the atmospheric
	// correction model tag.
	Model() string
	// Measure triggers a measurement and waits at most timeout for it.
	// Cancelling ctx aborts the wait and returns ctx.Err().
	Measure(ctx context.Context, timeout time.Duration) (Reading, error)
	// SetHorizontalAngle sets the horizontal circle to degrees for the
	// current pointing.
	SetHorizontalAngle(ctx context.Context, degrees float64) error
	// Link exposes the frame link for the admin debug routes.
	Link() serialmux.Link
	Close() error
}

// PortConfig selects the port and instrument family.
type PortConfig struct {
	Port  string `json:"port"`
	Model string `json:"model"`
	serialmux.PortOptions
}

// Deps carries the collaborators a driver needs. Zero fields get
// production defaults.
type Deps struct {
	Factory   serialmux.SerialPortFactory
	Clock     timeutil.Clock
	Metrics   *monitoring.Metrics
	Simulator SimulatorConfig
}

func (d Deps) withDefaults() Deps {
	if d.Factory == nil {
		d.Factory = serialmux.RealSerialPortFactory{}
	}
	if d.Clock == nil {
		d.Clock = timeutil.RealClock{}
	}
	return d
}

// Model describes a supported instrument family.
type Model struct {
	Slug        string                `json:"slug"`
	DisplayName string                `json:"display_name"`
	Simulated   bool                  `json:"simulated"`
	Defaults    serialmux.PortOptions `json:"defaults"`
	Description string                `json:"description"`

	open func(cfg PortConfig, deps Deps) (Instrument, error)
}

// Models is the registry of supported instrument families, keyed by slug.
var Models = map[string]Model{
	atmos.ModelGTS300: {
		Slug:        atmos.ModelGTS300,
		DisplayName: "Topcon GTS-300 series",
		Defaults: serialmux.PortOptions{
			BaudRate: serialmux.DefaultBaudRate,
			DataBits: serialmux.DefaultDataBits,
			StopBits: serialmux.DefaultStopBits,
			Parity:   serialmux.DefaultParity,
		},
		Description: "Serial total station reporting slope distance, zenith and horizontal angle",
		open:        openGTS300,
	},
	atmos.ModelDemo: {
		Slug:        atmos.ModelDemo,
		DisplayName: "Simulated total station",
		Simulated:   true,
		Description: "Plausible readings with no hardware attached",
		open: func(cfg PortConfig, deps Deps) (Instrument, error) {
			return NewSimulator(deps.Clock, deps.Simulator, deps.Metrics), nil
		},
	},
}

// GetModel looks up a model by slug.
func GetModel(slug string) (Model, bool) {
	m, ok := Models[slug]
	return m, ok
}

// AllModels returns the registry sorted by slug.
func AllModels() []Model {
	out := make([]Model, 0, len(Models))
	for _, m := range Models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Open connects to the instrument described by cfg. Port "demo" always
// selects the simulator; an empty model means the GTS-300.
func Open(cfg PortConfig, deps Deps) (Instrument, error) {
	deps = deps.withDefaults()

	slug := strings.ToLower(strings.TrimSpace(cfg.Model))
	if strings.EqualFold(cfg.Port, DemoPort) {
		slug = atmos.ModelDemo
	}
	if slug == "" {
		slug = atmos.ModelGTS300
	}
	m, ok := GetModel(slug)
	if !ok {
		return nil, surveyerr.NewValidation("unknown instrument model %q", cfg.Model)
	}
	if !m.Simulated && strings.TrimSpace(cfg.Port) == "" {
		return nil, surveyerr.NewValidation("a serial port is required for %s", m.DisplayName)
	}

	inst, err := m.open(cfg, deps)
	if err != nil {
		return nil, err
	}
	logf("opened %s on %s", m.DisplayName, cfg.Port)
	return inst, nil
}

func openGTS300(cfg PortConfig, deps Deps) (Instrument, error) {
	opts, err := cfg.PortOptions.Normalize()
	if err != nil {
		return nil, surveyerr.NewValidation("serial options: %v", err)
	}
	port, err := deps.Factory.Open(cfg.Port, opts)
	if err != nil {
		return nil, surveyerr.NewConnection("failed to open "+cfg.Port, err)
	}
	return NewGTS300(serialmux.NewSerialMux(port), deps.Clock, deps.Metrics), nil
}
