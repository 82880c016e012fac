package totalstation

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/shootpoints/internal/atmos"
	"github.com/banshee-data/shootpoints/internal/geometry"
	"github.com/banshee-data/shootpoints/internal/monitoring"
	"github.com/banshee-data/shootpoints/internal/serialmux"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
	"github.com/banshee-data/shootpoints/internal/timeutil"
	"github.com/banshee-data/shootpoints/internal/units"
)

// SimulatorConfig shapes the simulated readings. Target is the prism
// position relative to the instrument; each reading lands uniformly within
// Jitter (horizontal) and VerticalJitter of it.
type SimulatorConfig struct {
	Delay          time.Duration  `json:"delay"`
	Target         geometry.Point `json:"target"`
	Jitter         float64        `json:"jitter"`
	VerticalJitter float64        `json:"vertical_jitter"`
	Seed           uint64         `json:"seed"`
}

// DefaultSimulatorConfig places the prism roughly 58 m away, north-east
// and a little above the instrument.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Delay:          4 * time.Second,
		Target:         geometry.Point{Northing: 49.6337, Easting: 31.1930, Elevation: 9.5802},
		Jitter:         5,
		VerticalJitter: 1,
		Seed:           1,
	}
}

// Simulator satisfies Instrument without hardware.
type Simulator struct {
	clock   timeutil.Clock
	cfg     SimulatorConfig
	metrics *monitoring.Metrics
	link    *serialmux.DisabledSerialMux

	busy atomic.Bool

	mu     sync.Mutex
	rng    *rand.Rand
	offset float64 // added to the true bearing to give the circle reading
	closed bool
}

// NewSimulator returns a simulator on clock. A zero cfg takes the defaults.
func NewSimulator(clock timeutil.Clock, cfg SimulatorConfig, metrics *monitoring.Metrics) *Simulator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg == (SimulatorConfig{}) {
		cfg = DefaultSimulatorConfig()
	}
	return &Simulator{
		clock:   clock,
		cfg:     cfg,
		metrics: metrics,
		link:    serialmux.NewDisabledSerialMux(),
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5eed)),
	}
}

func (s *Simulator) Model() string { return atmos.ModelDemo }

func (s *Simulator) Link() serialmux.Link { return s.link }

// Measure waits cfg.Delay on the clock and returns a reading near the target.
func (s *Simulator) Measure(ctx context.Context, timeout time.Duration) (Reading, error) {
	if !s.busy.CompareAndSwap(false, true) {
		s.metrics.ObserveMeasurement(s.Model(), "busy", 0)
		return Reading{}, surveyerr.ErrBusy
	}
	defer s.busy.Store(false)

	if s.isClosed() {
		return Reading{}, surveyerr.NewConnection("simulator closed", serialmux.ErrClosed)
	}
	if timeout <= 0 {
		timeout = DefaultMeasureTimeout
	}

	start := s.clock.Now()
	r, err := s.wait(ctx, timeout)
	s.metrics.ObserveMeasurement(s.Model(), outcome(err), s.clock.Since(start))
	return r, err
}

func (s *Simulator) wait(ctx context.Context, timeout time.Duration) (Reading, error) {
	done := s.clock.NewTimer(s.cfg.Delay)
	defer done.Stop()
	deadline := s.clock.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Reading{}, surveyerr.NewTimeout("measure", ctx.Err())
		}
		return Reading{}, ctx.Err()
	case <-deadline.C():
		return Reading{}, surveyerr.NewTimeout("measure", context.DeadlineExceeded)
	case <-done.C():
		return s.reading(), nil
	}
}

func (s *Simulator) reading() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.cfg.Target.Add(geometry.Point{
		Northing:  s.jitter(s.cfg.Jitter),
		Easting:   s.jitter(s.cfg.Jitter),
		Elevation: s.jitter(s.cfg.VerticalJitter),
	})
	p := geometry.Sight(geometry.Point{}, target, 0, 0, 0)
	return Reading{
		SlopeDistance:   p.SlopeDistance,
		ZenithAngle:     p.ZenithAngle,
		HorizontalAngle: units.Normalize(p.HorizontalAngle + s.offset),
	}
}

func (s *Simulator) jitter(max float64) float64 {
	if max <= 0 {
		return 0
	}
	return (s.rng.Float64()*2 - 1) * max
}

// SetHorizontalAngle makes the nominal target read degrees on the circle.
func (s *Simulator) SetHorizontalAngle(ctx context.Context, degrees float64) error {
	if !s.busy.CompareAndSwap(false, true) {
		return surveyerr.ErrBusy
	}
	defer s.busy.Store(false)
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = units.Normalize(degrees - geometry.Bearing(geometry.Point{}, s.cfg.Target))
	return nil
}

func (s *Simulator) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.link.Close()
}
