// Package station solves the session frame: where the instrument stands,
// which grid azimuth its circle zero points along and how high it is.
//
// All solvers are pure functions of stored coordinates and corrected
// readings. Driving the instrument is the caller's business.
package station

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/shootpoints/internal/geometry"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
	"github.com/banshee-data/shootpoints/internal/units"
)

// Mode names how a session's frame was established.
type Mode string

const (
	ModeAzimuth   Mode = "azimuth"
	ModeBacksight Mode = "backsight"
	ModeResection Mode = "resection"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeAzimuth, ModeBacksight, ModeResection:
		return true
	}
	return false
}

const (
	// DefaultBacksightLimitCM is the accepted difference between the stored
	// and measured backsight distance.
	DefaultBacksightLimitCM = 3.0

	// MaxInstrumentHeight bounds a believable tripod setup.
	MaxInstrumentHeight = 2.0

	// ResectionCollinearTolerance is the minimum offset of the occupied
	// point from the line through the two known stations.
	ResectionCollinearTolerance = 0.001 // m

	// ResectionDistanceTolerance is how far the two distance circles may
	// miss each other and still count as touching.
	ResectionDistanceTolerance = 0.01 // m

	// ResectionAngleTolerance is the largest accepted difference between
	// the measured and computed angle from left to right station.
	ResectionAngleTolerance = 60.0 / 3600 // degrees
)

// Solution is a solved frame plus the quality figure of the solve.
type Solution struct {
	geometry.Frame
	Mode Mode `json:"mode"`
	// BacksightVarianceCM is |expected - measured| horizontal distance.
	BacksightVarianceCM float64 `json:"backsight_variance_cm,omitempty"`
	// ResectionResidual is the angular misclosure in degrees.
	ResectionResidual float64 `json:"resection_residual,omitempty"`
}

// ValidateInstrumentHeight checks 0 <= ih < 2 m.
func ValidateInstrumentHeight(ih float64) error {
	switch {
	case math.IsNaN(ih):
		return surveyerr.NewValidation("instrument height is not a number")
	case ih < 0:
		return surveyerr.NewValidation("instrument height %.3f m is negative", ih)
	case ih >= MaxInstrumentHeight:
		return surveyerr.NewValidation("instrument height %.3f m is unrealistically high", ih)
	}
	return nil
}

// ValidateTargetHeight checks the prism height above the sighted point.
func ValidateTargetHeight(th float64) error {
	if math.IsNaN(th) || th < 0 {
		return surveyerr.NewValidation("invalid prism height %v m", th)
	}
	return nil
}

// Azimuth builds a frame from a surveyor-entered azimuth to a landmark,
// assuming the circle has been zeroed on that landmark.
func Azimuth(occupied geometry.Point, azimuth units.DMS, ih float64) (Solution, error) {
	if err := azimuth.Validate(); err != nil {
		return Solution{}, err
	}
	if err := ValidateInstrumentHeight(ih); err != nil {
		return Solution{}, err
	}
	return Solution{
		Frame: geometry.Frame{Occupied: occupied, Azimuth: azimuth.Decimal(), InstrumentHeight: ih},
		Mode:  ModeAzimuth,
	}, nil
}

// Backsight solves azimuth and instrument height from one corrected
// reading to a known station. th is the prism height on the backsight.
func Backsight(occupied, backsight geometry.Point, m geometry.Polar, th, limitCM float64) (Solution, error) {
	if geometry.HorizontalDistance(occupied, backsight) < ResectionCollinearTolerance {
		return Solution{}, surveyerr.NewValidation("the occupied point and backsight station are the same point")
	}
	if err := m.Validate(); err != nil {
		return Solution{}, err
	}
	if err := ValidateTargetHeight(th); err != nil {
		return Solution{}, err
	}
	if limitCM <= 0 {
		limitCM = DefaultBacksightLimitCM
	}

	expected := geometry.HorizontalDistance(occupied, backsight)
	variance := math.Abs(expected-m.HorizontalDistance()) * 100
	// The limit itself is already out of tolerance.
	if variance >= limitCM {
		return Solution{}, surveyerr.NewValidation(
			"the measured distance to the backsight differs from the stored distance by %.1f cm (limit %.1f cm)", variance, limitCM)
	}

	ih := backsight.Elevation - occupied.Elevation - m.VerticalDistance() + th
	if err := ValidateInstrumentHeight(ih); err != nil {
		return Solution{}, err
	}

	return Solution{
		Frame: geometry.Frame{
			Occupied:         occupied,
			Azimuth:          units.Normalize(geometry.Bearing(occupied, backsight) - m.HorizontalAngle),
			InstrumentHeight: ih,
		},
		Mode:                ModeBacksight,
		BacksightVarianceCM: variance,
	}, nil
}

// Resect locates the occupied point from corrected readings to two known
// stations, left then right as seen from the instrument. The instrument
// height is measured by the surveyor; th is the prism height used on both
// known stations.
func Resect(left, right geometry.Point, ml, mr geometry.Polar, ih, th float64) (Solution, error) {
	if err := ml.Validate(); err != nil {
		return Solution{}, err
	}
	if err := mr.Validate(); err != nil {
		return Solution{}, err
	}
	if err := ValidateInstrumentHeight(ih); err != nil {
		return Solution{}, err
	}
	if err := ValidateTargetHeight(th); err != nil {
		return Solution{}, err
	}

	p0 := r2.Vec{X: left.Easting, Y: left.Northing}
	p1 := r2.Vec{X: right.Easting, Y: right.Northing}
	base := r2.Sub(p1, p0)
	d := r2.Norm(base)
	if d < ResectionCollinearTolerance {
		return Solution{}, surveyerr.NewAmbiguousResection("the two known stations are the same point")
	}

	r0 := ml.HorizontalDistance()
	r1 := mr.HorizontalDistance()
	if r0+r1 < d-ResectionDistanceTolerance || math.Abs(r0-r1) > d+ResectionDistanceTolerance {
		return Solution{}, surveyerr.NewAmbiguousResection(
			"measured distances %.3f m and %.3f m cannot meet across the %.3f m baseline", r0, r1, d)
	}

	// Intersection of two circles, after Paul Bourke.
	a := (r0*r0 - r1*r1 + d*d) / (2 * d)
	h := math.Sqrt(math.Max(r0*r0-a*a, 0))
	if h < ResectionCollinearTolerance {
		return Solution{}, surveyerr.NewAmbiguousResection("the occupied point is in line with the two known stations")
	}
	mid := r2.Add(p0, r2.Scale(a/d, base))
	perp := r2.Scale(h/d, r2.Vec{X: -base.Y, Y: base.X})
	candidates := [2]r2.Vec{r2.Add(mid, perp), r2.Sub(mid, perp)}

	measured := units.Normalize(mr.HorizontalAngle - ml.HorizontalAngle)
	best, residual := geometry.Point{}, math.Inf(1)
	for _, c := range candidates {
		pt := geometry.Point{Northing: c.Y, Easting: c.X}
		computed := units.Normalize(geometry.Bearing(pt, right) - geometry.Bearing(pt, left))
		if r := math.Abs(units.AngleDiff(computed, measured)); r < residual {
			best, residual = pt, r
		}
	}
	if residual > ResectionAngleTolerance {
		return Solution{}, surveyerr.NewAmbiguousResection(
			"measured angle between stations misses the solved geometry by %.0f\"", residual*3600)
	}

	zl := left.Elevation + th - ih - ml.VerticalDistance()
	zr := right.Elevation + th - ih - mr.VerticalDistance()
	best.Elevation = (zl + zr) / 2

	return Solution{
		Frame: geometry.Frame{
			Occupied:         best,
			Azimuth:          units.Normalize(geometry.Bearing(best, left) - ml.HorizontalAngle),
			InstrumentHeight: ih,
		},
		Mode:              ModeResection,
		ResectionResidual: residual,
	}, nil
}
