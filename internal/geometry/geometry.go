// Package geometry turns polar total-station readings into rectangular
// site coordinates.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/floats/scalar"

	"github.com/banshee-data/shootpoints/internal/surveyerr"
	"github.com/banshee-data/shootpoints/internal/units"
)

// Point is a position in the site grid, in meters.
type Point struct {
	Northing  float64 `json:"northing"`
	Easting   float64 `json:"easting"`
	Elevation float64 `json:"elevation"`
}

// Add returns p shifted by d.
func (p Point) Add(d Point) Point {
	return Point{p.Northing + d.Northing, p.Easting + d.Easting, p.Elevation + d.Elevation}
}

// Sub returns the vector from q to p.
func (p Point) Sub(q Point) Point {
	return Point{p.Northing - q.Northing, p.Easting - q.Easting, p.Elevation - q.Elevation}
}

// ApproxEqual reports whether every coordinate differs by at most tol.
func (p Point) ApproxEqual(q Point, tol float64) bool {
	return scalar.EqualWithinAbs(p.Northing, q.Northing, tol) &&
		scalar.EqualWithinAbs(p.Easting, q.Easting, tol) &&
		scalar.EqualWithinAbs(p.Elevation, q.Elevation, tol)
}

// Rounded returns p rounded to the millimetre, the precision stored.
func (p Point) Rounded() Point {
	return Point{RoundMM(p.Northing), RoundMM(p.Easting), RoundMM(p.Elevation)}
}

// RoundMM rounds meters to three decimals.
func RoundMM(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Polar is one raw sighting: slope distance in meters, zenith angle and
// horizontal circle reading in decimal degrees.
type Polar struct {
	SlopeDistance   float64 `json:"slope_distance"`
	ZenithAngle     float64 `json:"zenith_angle"`
	HorizontalAngle float64 `json:"horizontal_angle"`
}

// Validate rejects readings no instrument can produce.
func (p Polar) Validate() error {
	if math.IsNaN(p.SlopeDistance) || p.SlopeDistance < 0 {
		return surveyerr.NewValidation("slope distance %v must be non-negative", p.SlopeDistance)
	}
	if math.IsNaN(p.ZenithAngle) || p.ZenithAngle < 0 || p.ZenithAngle > 180 {
		return surveyerr.NewValidation("zenith angle %v is outside 0 to 180 degrees", p.ZenithAngle)
	}
	if math.IsNaN(p.HorizontalAngle) || math.IsInf(p.HorizontalAngle, 0) {
		return surveyerr.NewValidation("horizontal angle %v is not finite", p.HorizontalAngle)
	}
	return nil
}

// HorizontalDistance is the plan distance d*sin(z). At z = 0 or 180 the
// result is zero (within rounding) and nothing divides by it.
func (p Polar) HorizontalDistance() float64 {
	return p.SlopeDistance * math.Sin(units.Radians(p.ZenithAngle))
}

// VerticalDistance is d*cos(z), positive upward.
func (p Polar) VerticalDistance() float64 {
	return p.SlopeDistance * math.Cos(units.Radians(p.ZenithAngle))
}

// Bearing returns the grid azimuth from a to b in [0, 360), clockwise from north.
func Bearing(from, to Point) float64 {
	return units.Normalize(units.Degrees(math.Atan2(to.Easting-from.Easting, to.Northing-from.Northing)))
}

// HorizontalDistance returns the plan distance between two points.
func HorizontalDistance(a, b Point) float64 {
	return math.Hypot(b.Northing-a.Northing, b.Easting-a.Easting)
}

// Sight returns the polar reading an instrument at from, oriented so that
// circle zero points along azimuth, would take of a prism at to.
func Sight(from, to Point, azimuth, instrumentHeight, targetHeight float64) Polar {
	horiz := HorizontalDistance(from, to)
	dz := (to.Elevation + targetHeight) - (from.Elevation + instrumentHeight)
	return Polar{
		SlopeDistance:   math.Hypot(horiz, dz),
		ZenithAngle:     units.Degrees(math.Atan2(horiz, dz)),
		HorizontalAngle: units.Normalize(Bearing(from, to) - azimuth),
	}
}
