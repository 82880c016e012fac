package survey

import (
	"context"
	"fmt"
	"strings"

	"github.com/banshee-data/shootpoints/internal/atmos"
	"github.com/banshee-data/shootpoints/internal/db"
	"github.com/banshee-data/shootpoints/internal/geometry"
	"github.com/banshee-data/shootpoints/internal/station"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
	"github.com/banshee-data/shootpoints/internal/units"
)

// SessionConfig describes a new instrument setup. Which fields are read
// depends on Mode.
type SessionConfig struct {
	Label    string       `json:"label"`
	Surveyor string       `json:"surveyor"`
	Mode     station.Mode `json:"mode"`

	// OccupiedStationID is the station under the instrument (azimuth and
	// backsight modes).
	OccupiedStationID int64 `json:"occupied_station_id,omitempty"`
	// Azimuth is the grid azimuth, as degrees minutes seconds, of the
	// landmark the circle is zeroed on (azimuth mode).
	Azimuth string `json:"azimuth,omitempty"`
	// InstrumentHeight is measured by tape (azimuth and resection modes).
	InstrumentHeight float64 `json:"instrument_height,omitempty"`

	BacksightStationID int64 `json:"backsight_station_id,omitempty"`
	// PrismHeight is the prism height over the known stations (backsight
	// and resection modes).
	PrismHeight float64 `json:"prism_height,omitempty"`

	LeftStationID  int64 `json:"left_station_id,omitempty"`
	RightStationID int64 `json:"right_station_id,omitempty"`
	// NewStationName names the station record a resection creates.
	NewStationName string `json:"new_station_name,omitempty"`

	// Prompt is called before each instrument step so the surveyor can
	// aim. A non-nil error aborts the setup.
	Prompt func(ctx context.Context, step string) error `json:"-"`
}

// sessionPlan is a validated SessionConfig with its stations loaded.
type sessionPlan struct {
	cfg       SessionConfig
	azimuth   units.DMS
	occupied  *db.Station
	backsight *db.Station
	left      *db.Station
	right     *db.Station
}

// plan validates cfg against storage. It never touches the instrument.
func (e *Engine) plan(ctx context.Context, cfg SessionConfig) (*sessionPlan, error) {
	cfg.Label = strings.TrimSpace(cfg.Label)
	cfg.Surveyor = strings.TrimSpace(cfg.Surveyor)
	cfg.NewStationName = strings.TrimSpace(cfg.NewStationName)
	switch {
	case cfg.Label == "":
		return nil, surveyerr.NewValidation("session label is required")
	case cfg.Surveyor == "":
		return nil, surveyerr.NewValidation("surveyor is required")
	case !cfg.Mode.Valid():
		return nil, surveyerr.NewValidation("unknown setup mode %q", cfg.Mode)
	}

	p := &sessionPlan{cfg: cfg}
	var err error
	switch cfg.Mode {
	case station.ModeAzimuth:
		if p.azimuth, err = units.ParseDMS(cfg.Azimuth); err != nil {
			return nil, err
		}
		if err := station.ValidateInstrumentHeight(cfg.InstrumentHeight); err != nil {
			return nil, err
		}
		if p.occupied, err = e.store.GetStation(ctx, cfg.OccupiedStationID); err != nil {
			return nil, err
		}

	case station.ModeBacksight:
		if cfg.OccupiedStationID == cfg.BacksightStationID {
			return nil, surveyerr.NewValidation("the occupied and backsight stations must differ")
		}
		if err := station.ValidateTargetHeight(cfg.PrismHeight); err != nil {
			return nil, err
		}
		if p.occupied, err = e.store.GetStation(ctx, cfg.OccupiedStationID); err != nil {
			return nil, err
		}
		if p.backsight, err = e.store.GetStation(ctx, cfg.BacksightStationID); err != nil {
			return nil, err
		}
		if p.occupied.SiteID != p.backsight.SiteID {
			return nil, surveyerr.NewValidation("stations %q and %q belong to different sites", p.occupied.Name, p.backsight.Name)
		}

	case station.ModeResection:
		if cfg.LeftStationID == cfg.RightStationID {
			return nil, surveyerr.NewValidation("the left and right stations must differ")
		}
		if cfg.NewStationName == "" {
			return nil, surveyerr.NewValidation("a name for the resected station is required")
		}
		if err := station.ValidateInstrumentHeight(cfg.InstrumentHeight); err != nil {
			return nil, err
		}
		if err := station.ValidateTargetHeight(cfg.PrismHeight); err != nil {
			return nil, err
		}
		if p.left, err = e.store.GetStation(ctx, cfg.LeftStationID); err != nil {
			return nil, err
		}
		if p.right, err = e.store.GetStation(ctx, cfg.RightStationID); err != nil {
			return nil, err
		}
		if p.left.SiteID != p.right.SiteID {
			return nil, surveyerr.NewValidation("stations %q and %q belong to different sites", p.left.Name, p.right.Name)
		}
	}
	return p, nil
}

func (p *sessionPlan) prompt(ctx context.Context, step string) error {
	if p.cfg.Prompt == nil {
		return ctx.Err()
	}
	return p.cfg.Prompt(ctx, step)
}

// StartSession establishes a new frame and makes it the current session.
// Everything in cfg is checked before the instrument is contacted, and a
// failed setup leaves no session behind. The previous session, if any, is
// ended.
func (e *Engine) StartSession(ctx context.Context, cfg SessionConfig) (*db.Session, error) {
	ready, err := e.sitesAndStationsReady(ctx)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, surveyerr.NewPrerequisiteNotMet("a site and at least one station are needed before starting a session")
	}
	p, err := e.plan(ctx, cfg)
	if err != nil {
		return nil, err
	}

	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	cond := e.Current().Conditions
	var sol station.Solution
	switch p.cfg.Mode {
	case station.ModeAzimuth:
		sol, err = e.setupAzimuth(ctx, p)
	case station.ModeBacksight:
		sol, err = e.setupBacksight(ctx, p, cond)
	case station.ModeResection:
		sol, err = e.setupResection(ctx, p, cond)
	}
	if err != nil {
		logf("%s setup failed: %v", p.cfg.Mode, err)
		return nil, err
	}

	sess := &db.Session{
		Label:            p.cfg.Label,
		Surveyor:         p.cfg.Surveyor,
		SetupMode:        sol.Mode,
		Azimuth:          sol.Azimuth,
		InstrumentHeight: sol.InstrumentHeight,
		Pressure:         cond.Pressure,
		Temperature:      cond.Temperature,
		Started:          e.clock.Now().UTC(),
	}
	switch sol.Mode {
	case station.ModeBacksight:
		bs, v := p.backsight.ID, sol.BacksightVarianceCM
		sess.BacksightStationID, sess.BacksightVarianceCM = &bs, &v
	case station.ModeResection:
		l, r := p.left.ID, p.right.ID
		sess.ResectionLeftID, sess.ResectionRightID = &l, &r
	}

	if sol.Mode == station.ModeResection {
		p.occupied = resectedStation(p, sol.Occupied)
		err = e.store.CreateSessionWithStation(ctx, p.occupied, sess)
	} else {
		sess.OccupiedStationID = p.occupied.ID
		err = e.store.CreateSession(ctx, sess)
	}
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.state.Session = sess
	e.state.Frame = frameOf(sess, p.occupied)
	e.state.Grouping = nil
	e.state.Pending = nil
	e.persistLocked(ctx)
	out := *sess
	e.mu.Unlock()

	e.metrics.SessionStarted(string(sol.Mode), sol.BacksightVarianceCM)
	logf("session %d started on %q: %s, azimuth %s, ih %.3f m",
		sess.ID, p.occupied.Name, sol.Mode, units.FromDecimal(sess.Azimuth), sess.InstrumentHeight)
	return &out, nil
}

// setupAzimuth zeroes the circle on the landmark whose azimuth the
// surveyor entered.
func (e *Engine) setupAzimuth(ctx context.Context, p *sessionPlan) (station.Solution, error) {
	if err := p.prompt(ctx, fmt.Sprintf("aim at the landmark at azimuth %s", p.azimuth)); err != nil {
		return station.Solution{}, err
	}
	if err := e.inst.SetHorizontalAngle(ctx, 0); err != nil {
		return station.Solution{}, err
	}
	return station.Azimuth(p.occupied.Point(), p.azimuth, p.cfg.InstrumentHeight)
}

// setupBacksight zeroes the circle on the backsight station and measures
// to it.
func (e *Engine) setupBacksight(ctx context.Context, p *sessionPlan, cond Conditions) (station.Solution, error) {
	if err := p.prompt(ctx, fmt.Sprintf("aim at the prism on backsight station %q", p.backsight.Name)); err != nil {
		return station.Solution{}, err
	}
	if err := e.inst.SetHorizontalAngle(ctx, 0); err != nil {
		return station.Solution{}, err
	}
	_, m, err := e.measure(ctx, cond)
	if err != nil {
		return station.Solution{}, err
	}
	return station.Backsight(p.occupied.Point(), p.backsight.Point(), m, p.cfg.PrismHeight, e.backsightLimitCM)
}

// setupResection measures the left then the right known station.
func (e *Engine) setupResection(ctx context.Context, p *sessionPlan, cond Conditions) (station.Solution, error) {
	var m [2]geometry.Polar
	for i, st := range []*db.Station{p.left, p.right} {
		side := "left"
		if i == 1 {
			side = "right"
		}
		if err := p.prompt(ctx, fmt.Sprintf("aim at the prism on %s station %q", side, st.Name)); err != nil {
			return station.Solution{}, err
		}
		_, corrected, err := e.measure(ctx, cond)
		if err != nil {
			return station.Solution{}, err
		}
		m[i] = corrected
	}
	return station.Resect(p.left.Point(), p.right.Point(), m[0], m[1], p.cfg.InstrumentHeight, p.cfg.PrismHeight)
}

// resectedStation is the record for a solved occupied point, placed in the
// left station's site and grid.
func resectedStation(p *sessionPlan, pt geometry.Point) *db.Station {
	st := &db.Station{
		SiteID:    p.left.SiteID,
		Name:      p.cfg.NewStationName,
		Northing:  pt.Northing,
		Easting:   pt.Easting,
		Elevation: pt.Elevation,
	}
	if p.left.UTMZone == nil {
		return st
	}
	zone, err := geometry.ParseZone(*p.left.UTMZone)
	if err != nil {
		return st
	}
	lat, lon, err := geometry.ToLatLon(pt.Northing, pt.Easting, zone)
	if err != nil {
		logf("resected station %q has no lat/lon: %v", st.Name, err)
		return st
	}
	z := zone.String()
	st.UTMZone, st.Latitude, st.Longitude = &z, &lat, &lon
	return st
}

// EndSession closes the current session. Its data stays in storage.
func (e *Engine) EndSession(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Session == nil {
		return surveyerr.NewPrerequisiteNotMet("there is no active session to end")
	}
	id := e.state.Session.ID
	if err := e.store.EndSession(ctx, id, e.clock.Now().UTC()); err != nil {
		return err
	}
	e.state.Session = nil
	e.state.Frame = nil
	e.state.Grouping = nil
	e.state.Pending = nil
	e.persistLocked(ctx)

	e.metrics.SessionEnded()
	logf("session %d ended", id)
	return nil
}

// Atmosphere is a pressure (mmHg) and temperature (°C) reading.
type Atmosphere struct {
	Pressure    float64 `json:"pressure"`
	Temperature float64 `json:"temperature"`
}

// Adjustment changes the conditions later shots are resolved with. Nil
// fields are left as they are.
type Adjustment struct {
	Atmosphere *Atmosphere       `json:"atmosphere,omitempty"`
	Offsets    *geometry.Offsets `json:"offsets,omitempty"`
}

// Adjust replaces the current conditions. The session frame is never
// affected. A shot already being measured keeps the conditions it started
// with.
func (e *Engine) Adjust(ctx context.Context, adj Adjustment) error {
	if adj.Atmosphere != nil {
		if err := atmos.ValidateConditions(adj.Atmosphere.Pressure, adj.Atmosphere.Temperature); err != nil {
			return err
		}
	}
	if adj.Offsets != nil {
		if err := adj.Offsets.Validate(); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.state
	if adj.Atmosphere != nil {
		next.Conditions.Pressure = adj.Atmosphere.Pressure
		next.Conditions.Temperature = adj.Atmosphere.Temperature
	}
	if adj.Offsets != nil {
		next.Conditions.Offsets = *adj.Offsets
	}
	if err := e.saveStateLocked(ctx, next); err != nil {
		return err
	}
	e.state.Conditions = next.Conditions
	return nil
}

// GroupingConfig describes a new grouping in the current session.
type GroupingConfig struct {
	Label       string          `json:"label"`
	Geometry    db.GeometryKind `json:"geometry"`
	ClassID     int64           `json:"class_id"`
	SubclassID  int64           `json:"subclass_id"`
	Description string          `json:"description,omitempty"`
}

// StartGrouping creates a grouping in the current session and makes it
// current. Any pending shot is dropped.
func (e *Engine) StartGrouping(ctx context.Context, cfg GroupingConfig) (*db.Grouping, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Session == nil {
		return nil, surveyerr.NewPrerequisiteNotMet("start a session before starting a grouping")
	}
	g := &db.Grouping{
		SessionID:  e.state.Session.ID,
		Geometry:   cfg.Geometry,
		ClassID:    cfg.ClassID,
		SubclassID: cfg.SubclassID,
		Label:      cfg.Label,
	}
	if d := strings.TrimSpace(cfg.Description); d != "" {
		g.Description = &d
	}
	if err := e.store.CreateGrouping(ctx, g); err != nil {
		return nil, err
	}
	e.state.Grouping = g
	e.state.Pending = nil
	e.persistLocked(ctx)

	logf("grouping %d %q (%s) started", g.ID, g.Label, g.Geometry)
	out := *g
	return &out, nil
}
