package survey

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/banshee-data/shootpoints/internal/db"
	"github.com/banshee-data/shootpoints/internal/geometry"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
)

// TakeShot measures to the prism and resolves the reading into site
// coordinates. The result is held as the pending shot until SaveShot or
// DiscardShot; nothing is written to storage here.
//
// Cancelling ctx aborts the measurement. The instrument is then free for
// the next shot.
func (e *Engine) TakeShot(ctx context.Context) (*geometry.ShotCandidate, error) {
	e.mu.Lock()
	g, frame, cond := e.state.Grouping, e.state.Frame, e.state.Conditions
	e.mu.Unlock()

	if g == nil || frame == nil {
		return nil, surveyerr.NewPrerequisiteNotMet("start a grouping before taking shots")
	}
	if g.Geometry == db.IsolatedPoint {
		n, err := e.store.CountShots(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, surveyerr.NewGeometryCapacity(g.ID, string(g.Geometry))
		}
	}

	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	raw, corrected, err := e.measure(ctx, cond)
	if err != nil {
		return nil, err
	}
	res, err := geometry.Resolve(corrected, *frame, 0, cond.Offsets)
	if err != nil {
		return nil, err
	}

	c := &geometry.ShotCandidate{
		ID:                uuid.New(),
		GroupingID:        g.ID,
		Reading:           raw,
		CorrectedDistance: corrected.SlopeDistance,
		Pressure:          cond.Pressure,
		Temperature:       cond.Temperature,
		Offsets:           cond.Offsets,
		Result:            res,
		TakenAt:           e.clock.Now().UTC(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Grouping == nil || e.state.Grouping.ID != g.ID {
		return nil, surveyerr.NewPrerequisiteNotMet("grouping %d is no longer current", g.ID)
	}
	e.state.Pending = c
	out := *c
	return &out, nil
}

// SaveShot stores the pending shot with an optional comment and returns
// its id. c must be the candidate the last TakeShot returned.
func (e *Engine) SaveShot(ctx context.Context, c *geometry.ShotCandidate, comment string) (int64, error) {
	if c == nil {
		return 0, surveyerr.NewValidation("no shot to save")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.state.Pending
	if p == nil || p.ID != c.ID {
		return 0, surveyerr.NewValidation("shot %s is not the pending shot", c.ID)
	}

	s := &db.Shot{
		GroupingID:  p.GroupingID,
		Reading:     p.Reading,
		Deltas:      p.Deltas,
		Point:       p.Point,
		Offsets:     p.Offsets,
		Pressure:    p.Pressure,
		Temperature: p.Temperature,
		TakenAt:     p.TakenAt,
	}
	if comment = strings.TrimSpace(comment); comment != "" {
		s.Comment = &comment
	}
	if err := e.store.InsertShot(ctx, s); err != nil {
		if surveyerr.Is(err, surveyerr.GeometryCapacity) {
			e.state.Pending = nil
		}
		return 0, err
	}
	e.state.Pending = nil

	kind := e.state.Grouping.Geometry
	e.metrics.ShotSaved(string(kind))
	if s.Sequence != nil {
		logf("saved shot %d (#%d in grouping %d)", s.ID, *s.Sequence, s.GroupingID)
	} else {
		logf("saved shot %d in grouping %d", s.ID, s.GroupingID)
	}
	return s.ID, nil
}

// DiscardShot drops the pending shot. It reports whether there was one.
func (e *Engine) DiscardShot() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	had := e.state.Pending != nil
	e.state.Pending = nil
	return had
}
