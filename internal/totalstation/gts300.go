package totalstation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/shootpoints/internal/atmos"
	"github.com/banshee-data/shootpoints/internal/monitoring"
	"github.com/banshee-data/shootpoints/internal/serialmux"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
	"github.com/banshee-data/shootpoints/internal/timeutil"
	"github.com/banshee-data/shootpoints/internal/units"
)

// GTS-300 commands, before their block check is appended.
const (
	cmdPolarMode      = "Z34" // output slope distance, zenith and horizontal angle
	cmdHorizontalMode = "Z12" // V/H mode, horizontal right; also interrupts a measurement
	cmdMeasure        = "C"
	cmdSetAngle       = "J"
)

// interruptWait is how long an interrupted exchange waits for the
// instrument to acknowledge before stale frames are drained.
const interruptWait = 200 * time.Millisecond

// GTS300 drives a Topcon GTS-300 series instrument over a framed link.
type GTS300 struct {
	link    serialmux.Link
	clock   timeutil.Clock
	metrics *monitoring.Metrics

	busy      atomic.Bool
	cancel    context.CancelFunc
	monitored chan struct{}
	closeOnce sync.Once
}

// NewGTS300 starts monitoring link and returns a driver for it.
func NewGTS300(link serialmux.Link, clock timeutil.Clock, metrics *monitoring.Metrics) *GTS300 {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &GTS300{
		link:      link,
		clock:     clock,
		metrics:   metrics,
		cancel:    cancel,
		monitored: make(chan struct{}),
	}
	go func() {
		defer close(g.monitored)
		if err := link.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logf("gts-300 link monitor stopped: %v", err)
		}
	}()
	return g
}

func (g *GTS300) Model() string { return atmos.ModelGTS300 }

func (g *GTS300) Link() serialmux.Link { return g.link }

// Measure runs the measurement exchange: polar output mode, trigger, then
// the data frame, which is acknowledged.
func (g *GTS300) Measure(ctx context.Context, timeout time.Duration) (Reading, error) {
	if !g.busy.CompareAndSwap(false, true) {
		g.metrics.ObserveMeasurement(g.Model(), "busy", 0)
		return Reading{}, surveyerr.ErrBusy
	}
	defer g.busy.Store(false)

	if timeout <= 0 {
		timeout = DefaultMeasureTimeout
	}
	start := g.clock.Now()
	r, err := g.run(ctx, "measure", timeout, g.measure)
	g.metrics.ObserveMeasurement(g.Model(), outcome(err), g.clock.Since(start))
	return r, err
}

func (g *GTS300) measure(ctx context.Context) (Reading, error) {
	if err := g.exchange(ctx, WithBCC(cmdPolarMode)); err != nil {
		return Reading{}, err
	}
	if err := g.exchange(ctx, WithBCC(cmdMeasure)); err != nil {
		return Reading{}, err
	}
	frame, err := g.link.Await(ctx)
	if err != nil {
		return Reading{}, g.linkError(err)
	}
	if err := g.link.SendCommand(ackFrame); err != nil {
		return Reading{}, surveyerr.NewConnection("failed to acknowledge measurement", err)
	}
	return ParseFrame(frame)
}

// SetHorizontalAngle puts the instrument in horizontal-right mode and
// loads degrees onto the horizontal circle.
func (g *GTS300) SetHorizontalAngle(ctx context.Context, degrees float64) error {
	if !g.busy.CompareAndSwap(false, true) {
		return surveyerr.ErrBusy
	}
	defer g.busy.Store(false)

	angle := units.FormatPacked(units.Normalize(degrees))
	_, err := g.run(ctx, "set horizontal angle", DefaultMeasureTimeout, func(ctx context.Context) (Reading, error) {
		if err := g.exchange(ctx, WithBCC(cmdHorizontalMode)); err != nil {
			return Reading{}, err
		}
		if err := g.exchange(ctx, WithBCC(cmdSetAngle)); err != nil {
			return Reading{}, err
		}
		return Reading{}, g.exchange(ctx, WithBCC("J+"+angle+"d"))
	})
	return err
}

// run bounds fn by timeout and leaves the link clean whichever way it ends.
func (g *GTS300) run(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) (Reading, error)) (Reading, error) {
	if n := g.link.Drain(); n > 0 {
		logf("discarded %d stale frames before %s", n, op)
	}

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r, err := fn(opCtx)
	if err == nil {
		return r, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		g.interrupt()
		return Reading{}, surveyerr.NewTimeout(op, ctx.Err())
	case ctx.Err() != nil:
		g.interrupt()
		return Reading{}, ctx.Err()
	case errors.Is(opCtx.Err(), context.DeadlineExceeded):
		g.interrupt()
		return Reading{}, surveyerr.NewTimeout(op, opCtx.Err())
	case surveyerr.Is(err, surveyerr.Protocol):
		g.interrupt()
	}
	return Reading{}, err
}

// exchange sends one command and expects the instrument's ACK.
func (g *GTS300) exchange(ctx context.Context, cmd string) error {
	if err := g.link.SendCommand(cmd); err != nil {
		return surveyerr.NewConnection("failed to send "+cmd, err)
	}
	reply, err := g.link.Await(ctx)
	if err != nil {
		return g.linkError(err)
	}
	if reply != ackFrame {
		return surveyerr.NewProtocol("expected ACK after %q, got %q", cmd, reply)
	}
	return nil
}

func (g *GTS300) linkError(err error) error {
	if errors.Is(err, serialmux.ErrClosed) {
		return surveyerr.NewConnection("instrument link closed", err)
	}
	// context errors are classified by run
	return err
}

// interrupt issues the harmless mode command that stops a measurement in
// progress, then throws away whatever the instrument says in reply.
func (g *GTS300) interrupt() {
	if err := g.link.SendCommand(WithBCC(cmdHorizontalMode)); err != nil {
		logf("failed to interrupt instrument: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), interruptWait)
	defer cancel()
	for {
		reply, err := g.link.Await(ctx)
		if err != nil || reply == ackFrame {
			break
		}
	}
	g.link.Drain()
}

func (g *GTS300) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.cancel()
		err = g.link.Close()
		<-g.monitored
	})
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case surveyerr.Is(err, surveyerr.Timeout):
		return "timeout"
	case surveyerr.Is(err, surveyerr.Protocol):
		return "protocol"
	case surveyerr.Is(err, surveyerr.Busy):
		return "busy"
	default:
		return "error"
	}
}
