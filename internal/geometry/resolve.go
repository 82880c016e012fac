package geometry

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/shootpoints/internal/surveyerr"
	"github.com/banshee-data/shootpoints/internal/units"
)

// Offsets describe where the point of interest lies relative to the prism.
// Signs: vertical up, latitude north, longitude east, radial away from the
// instrument, tangent to the right as seen from the instrument, wedge
// clockwise around the instrument.
type Offsets struct {
	Vertical  float64 `json:"vertical_distance"`
	Latitude  float64 `json:"latitude_distance"`
	Longitude float64 `json:"longitude_distance"`
	Radial    float64 `json:"radial_distance"`
	Tangent   float64 `json:"tangent_distance"`
	Wedge     float64 `json:"wedge_distance"`
}

// Validate checks that every component is a finite number.
func (o Offsets) Validate() error {
	for name, v := range map[string]float64{
		"vertical":  o.Vertical,
		"latitude":  o.Latitude,
		"longitude": o.Longitude,
		"radial":    o.Radial,
		"tangent":   o.Tangent,
		"wedge":     o.Wedge,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return surveyerr.NewValidation("%s offset %v is not a finite number", name, v)
		}
	}
	return nil
}

// IsZero reports whether no offset is set.
func (o Offsets) IsZero() bool { return o == Offsets{} }

// Frame fixes the session's coordinate system: where the instrument stands,
// the grid azimuth of its circle zero and its height above the station.
type Frame struct {
	Occupied         Point   `json:"occupied"`
	Azimuth          float64 `json:"azimuth"`
	InstrumentHeight float64 `json:"instrument_height"`
}

// Result is a resolved shot.
type Result struct {
	Bearing    float64 `json:"bearing"`
	Horizontal float64 `json:"horizontal_distance"`
	Deltas     Point   `json:"deltas"`
	Point      Point   `json:"point"`
}

// Resolve converts a corrected polar reading into a site coordinate.
// targetHeight is the height of the prism above the sighted point; offsets
// are then applied relative to the raw prism position.
func Resolve(p Polar, f Frame, targetHeight float64, o Offsets) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if err := o.Validate(); err != nil {
		return Result{}, err
	}

	horiz := p.HorizontalDistance()
	bearing := units.Normalize(f.Azimuth + p.HorizontalAngle)
	b := units.Radians(bearing)
	sinB, cosB := math.Sin(b), math.Cos(b)

	raw := Point{
		Northing:  horiz * cosB,
		Easting:   horiz * sinB,
		Elevation: p.VerticalDistance() + f.InstrumentHeight - targetHeight,
	}

	d := raw
	d.Elevation += o.Vertical
	d.Northing += o.Latitude
	d.Easting += o.Longitude
	d.Northing += o.Radial * cosB
	d.Easting += o.Radial * sinB
	d.Northing += -o.Tangent * sinB
	d.Easting += o.Tangent * cosB

	if o.Wedge != 0 {
		wn, we, err := wedge(horiz, b, o.Wedge)
		if err != nil {
			return Result{}, err
		}
		d.Northing += wn - raw.Northing
		d.Easting += we - raw.Easting
	}

	return Result{
		Bearing:    bearing,
		Horizontal: horiz,
		Deltas:     d,
		Point:      f.Occupied.Add(d),
	}, nil
}

// wedge rotates the prism about the instrument, keeping its plan distance,
// until the chord between old and new positions equals |w|.
func wedge(horiz, bearing, w float64) (n, e float64, err error) {
	if horiz <= 0 {
		return 0, 0, surveyerr.NewValidation("wedge offset %.3f m needs a non-zero horizontal distance", w)
	}
	if math.Abs(w) > 2*horiz {
		return 0, 0, surveyerr.NewValidation("wedge offset %.3f m exceeds twice the horizontal distance (%.3f m)", w, horiz)
	}
	theta := 2 * math.Asin(w/(2*horiz))
	return horiz * math.Cos(bearing+theta), horiz * math.Sin(bearing+theta), nil
}

// ShotCandidate is a resolved shot awaiting the surveyor's decision. Its ID
// is a one-time token for the save call, not a storage identity.
type ShotCandidate struct {
	ID                uuid.UUID `json:"id"`
	GroupingID        int64     `json:"grouping_id"`
	Reading           Polar     `json:"reading"`
	CorrectedDistance float64   `json:"corrected_distance"`
	Pressure          float64   `json:"pressure"`
	Temperature       float64   `json:"temperature"`
	Offsets           Offsets   `json:"offsets"`
	Result
	TakenAt time.Time `json:"taken_at"`
}
