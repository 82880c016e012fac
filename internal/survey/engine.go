// Package survey is the control core: it gates each survey operation on
// the current phase, drives the instrument, applies the atmospheric
// correction and station frame to every reading, and hands accepted shots
// to storage.
//
// All mutable survey state lives in one Engine. Operations that change it
// take the engine lock; measurements run outside the lock behind an
// in-flight flag so that a slow instrument never blocks Adjust or Current.
package survey

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/shootpoints/internal/atmos"
	"github.com/banshee-data/shootpoints/internal/db"
	"github.com/banshee-data/shootpoints/internal/geometry"
	"github.com/banshee-data/shootpoints/internal/monitoring"
	"github.com/banshee-data/shootpoints/internal/station"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
	"github.com/banshee-data/shootpoints/internal/timeutil"
	"github.com/banshee-data/shootpoints/internal/totalstation"
)

var logf = monitoring.Component("survey")

// Phase is where the survey stands. Each phase unlocks the next set of
// operations.
type Phase string

const (
	PhaseNoSite                Phase = "no_site"
	PhaseSitesAndStationsReady Phase = "sites_and_stations_ready"
	PhaseSessionActive         Phase = "session_active"
	PhaseGroupingActive        Phase = "grouping_active"
)

// Store is the storage the engine needs. *db.DB implements it.
type Store interface {
	CountSites(ctx context.Context) (int, error)
	CountStations(ctx context.Context) (int, error)
	GetStation(ctx context.Context, id int64) (*db.Station, error)

	CreateSession(ctx context.Context, s *db.Session) error
	CreateSessionWithStation(ctx context.Context, st *db.Station, s *db.Session) error
	GetSession(ctx context.Context, id int64) (*db.Session, error)
	EndSession(ctx context.Context, id int64, at time.Time) error

	CreateGrouping(ctx context.Context, g *db.Grouping) error
	GetGrouping(ctx context.Context, id int64) (*db.Grouping, error)

	CountShots(ctx context.Context, groupingID int64) (int, error)
	InsertShot(ctx context.Context, s *db.Shot) error

	LoadSavedState(ctx context.Context) (*db.SavedState, error)
	SaveState(ctx context.Context, st *db.SavedState) error
}

var _ Store = (*db.DB)(nil)

// Conditions is the session-scoped state a shot is resolved with. It is
// replaced as a whole value, never field by field.
type Conditions struct {
	Pressure    float64          `json:"pressure"`    // mmHg
	Temperature float64          `json:"temperature"` // °C
	Offsets     geometry.Offsets `json:"offsets"`
}

// DefaultConditions are the instrument reference atmosphere with no
// prism offset.
func DefaultConditions() Conditions {
	return Conditions{Pressure: atmos.ReferencePressure, Temperature: atmos.ReferenceTemperature}
}

// State is a snapshot of the engine's cursor.
type State struct {
	Session    *db.Session             `json:"session,omitempty"`
	Frame      *geometry.Frame         `json:"frame,omitempty"`
	Grouping   *db.Grouping            `json:"grouping,omitempty"`
	Conditions Conditions              `json:"conditions"`
	Pending    *geometry.ShotCandidate `json:"pending,omitempty"`
}

// Options tune an Engine. Zero values take defaults.
type Options struct {
	MeasureTimeout   time.Duration
	BacksightLimitCM float64
	Conditions       *Conditions
	Clock            timeutil.Clock
	Metrics          *monitoring.Metrics
}

// Engine owns the survey state for one instrument.
type Engine struct {
	store   Store
	inst    totalstation.Instrument
	clock   timeutil.Clock
	metrics *monitoring.Metrics

	measureTimeout   time.Duration
	backsightLimitCM float64

	busy atomic.Bool

	mu    sync.Mutex
	state State
}

// New returns an engine with no current session. Call Restore to pick up
// the state saved by a previous process.
func New(store Store, inst totalstation.Instrument, opts Options) *Engine {
	e := &Engine{
		store:            store,
		inst:             inst,
		clock:            opts.Clock,
		metrics:          opts.Metrics,
		measureTimeout:   opts.MeasureTimeout,
		backsightLimitCM: opts.BacksightLimitCM,
	}
	if e.clock == nil {
		e.clock = timeutil.RealClock{}
	}
	if e.measureTimeout <= 0 {
		e.measureTimeout = totalstation.DefaultMeasureTimeout
	}
	if e.backsightLimitCM <= 0 {
		e.backsightLimitCM = station.DefaultBacksightLimitCM
	}
	e.state.Conditions = DefaultConditions()
	if opts.Conditions != nil {
		e.state.Conditions = *opts.Conditions
	}
	return e
}

// Phase reports the current phase. Before any session it consults storage
// to tell an empty database from one with sites and stations.
func (e *Engine) Phase(ctx context.Context) (Phase, error) {
	e.mu.Lock()
	hasSession, hasGrouping := e.state.Session != nil, e.state.Grouping != nil
	e.mu.Unlock()

	switch {
	case hasGrouping:
		return PhaseGroupingActive, nil
	case hasSession:
		return PhaseSessionActive, nil
	}
	ready, err := e.sitesAndStationsReady(ctx)
	if err != nil {
		return "", err
	}
	if ready {
		return PhaseSitesAndStationsReady, nil
	}
	return PhaseNoSite, nil
}

func (e *Engine) sitesAndStationsReady(ctx context.Context) (bool, error) {
	sites, err := e.store.CountSites(ctx)
	if err != nil {
		return false, err
	}
	stations, err := e.store.CountStations(ctx)
	if err != nil {
		return false, err
	}
	return sites > 0 && stations > 0, nil
}

// Current returns a copy of the engine state.
func (e *Engine) Current() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

func (s State) clone() State {
	out := State{Conditions: s.Conditions}
	if s.Session != nil {
		v := *s.Session
		out.Session = &v
	}
	if s.Frame != nil {
		v := *s.Frame
		out.Frame = &v
	}
	if s.Grouping != nil {
		v := *s.Grouping
		out.Grouping = &v
	}
	if s.Pending != nil {
		v := *s.Pending
		out.Pending = &v
	}
	return out
}

// Restore reloads the cursor and conditions saved by a previous process.
// A saved session that has since ended, or a grouping that no longer
// belongs to it, is dropped rather than resumed.
func (e *Engine) Restore(ctx context.Context) error {
	saved, err := e.store.LoadSavedState(ctx)
	if err != nil {
		return err
	}

	// A row that was never written keeps the configured conditions.
	next := State{Conditions: e.Current().Conditions}
	if !saved.UpdatedAt.IsZero() {
		next.Conditions = Conditions{
			Pressure:    saved.Pressure,
			Temperature: saved.Temperature,
			Offsets:     saved.Offsets,
		}
	}
	if err := atmos.ValidateConditions(next.Conditions.Pressure, next.Conditions.Temperature); err != nil {
		logf("saved conditions rejected, using reference atmosphere: %v", err)
		next.Conditions = DefaultConditions()
	}

	if saved.SessionID != nil {
		sess, err := e.store.GetSession(ctx, *saved.SessionID)
		switch {
		case surveyerr.Is(err, surveyerr.NotFound):
		case err != nil:
			return err
		case sess.Active():
			occ, err := e.store.GetStation(ctx, sess.OccupiedStationID)
			if err != nil {
				return err
			}
			next.Session = sess
			next.Frame = frameOf(sess, occ)
		}
	}
	if next.Session != nil && saved.GroupingID != nil {
		g, err := e.store.GetGrouping(ctx, *saved.GroupingID)
		switch {
		case surveyerr.Is(err, surveyerr.NotFound):
		case err != nil:
			return err
		case g.SessionID == next.Session.ID:
			next.Grouping = g
		}
	}

	e.mu.Lock()
	e.state = next
	e.mu.Unlock()

	if next.Session != nil {
		logf("resumed session %d (grouping %v)", next.Session.ID, saved.GroupingID)
	}
	return nil
}

func frameOf(s *db.Session, occupied *db.Station) *geometry.Frame {
	return &geometry.Frame{
		Occupied:         occupied.Point(),
		Azimuth:          s.Azimuth,
		InstrumentHeight: s.InstrumentHeight,
	}
}

// saveStateLocked writes the cursor and conditions. Callers hold e.mu.
func (e *Engine) saveStateLocked(ctx context.Context, s State) error {
	saved := &db.SavedState{
		Pressure:    s.Conditions.Pressure,
		Temperature: s.Conditions.Temperature,
		Offsets:     s.Conditions.Offsets,
	}
	if s.Session != nil {
		id := s.Session.ID
		saved.SessionID = &id
	}
	if s.Grouping != nil {
		id := s.Grouping.ID
		saved.GroupingID = &id
	}
	return e.store.SaveState(ctx, saved)
}

// persistLocked saves the current state, logging rather than failing: the
// transition it records has already been committed.
func (e *Engine) persistLocked(ctx context.Context) {
	if err := e.saveStateLocked(ctx, e.state); err != nil {
		logf("failed to save state: %v", err)
	}
}

// measure takes one reading and returns it with the distance corrected for
// the given conditions. The caller holds the in-flight flag.
func (e *Engine) measure(ctx context.Context, cond Conditions) (raw, corrected geometry.Polar, err error) {
	r, err := e.inst.Measure(ctx, e.measureTimeout)
	if err != nil {
		return geometry.Polar{}, geometry.Polar{}, err
	}
	raw = r.Polar()
	if err := raw.Validate(); err != nil {
		return geometry.Polar{}, geometry.Polar{}, surveyerr.NewProtocol("instrument returned an impossible reading: %v", err)
	}
	corrected = raw
	corrected.SlopeDistance, err = atmos.Correct(raw.SlopeDistance, cond.Pressure, cond.Temperature, e.inst.Model())
	if err != nil {
		return geometry.Polar{}, geometry.Polar{}, err
	}
	return raw, corrected, nil
}

// acquire claims the instrument for one operation.
func (e *Engine) acquire() (release func(), err error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, surveyerr.ErrBusy
	}
	return func() { e.busy.Store(false) }, nil
}
