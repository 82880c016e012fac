package units

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/banshee-data/shootpoints/internal/surveyerr"
)

const secondsPerCircle = 360 * 3600

// DMS is an angle expressed in whole degrees, minutes and seconds.
type DMS struct {
	Degrees int `json:"degrees"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// Validate checks the ranges accepted for a horizontal circle reading:
// 0-359 degrees, 0-59 minutes, 0-59 seconds.
func (d DMS) Validate() error {
	if d.Degrees < 0 || d.Degrees > 359 {
		return surveyerr.NewValidation("degrees entered (%d) is out of range (0 to 359)", d.Degrees)
	}
	if d.Minutes < 0 || d.Minutes > 59 {
		return surveyerr.NewValidation("minutes entered (%d) is out of range (0 to 59)", d.Minutes)
	}
	if d.Seconds < 0 || d.Seconds > 59 {
		return surveyerr.NewValidation("seconds entered (%d) is out of range (0 to 59)", d.Seconds)
	}
	return nil
}

// Decimal returns the angle in decimal degrees.
func (d DMS) Decimal() float64 {
	return float64(d.Degrees) + float64(d.Minutes)/60 + float64(d.Seconds)/3600
}

func (d DMS) String() string {
	return fmt.Sprintf("%d°%02d'%02d\"", d.Degrees, d.Minutes, d.Seconds)
}

// FromDecimal converts decimal degrees to the nearest whole second,
// normalised to [0, 360).
func FromDecimal(deg float64) DMS {
	total := int(math.Round(Normalize(deg) * 3600))
	if total >= secondsPerCircle {
		total -= secondsPerCircle
	}
	return DMS{
		Degrees: total / 3600,
		Minutes: (total % 3600) / 60,
		Seconds: total % 60,
	}
}

var dmsPattern = regexp.MustCompile(`^\s*(\d{1,3})\s*(?:°|\s|-|d)\s*(\d{1,2})\s*(?:'|′|\s|-|m)\s*(\d{1,2})\s*(?:"|″|s)?\s*$`)

// ParseDMS accepts `123°45'06"`, `123 45 06` and `123-45-06`. Decimal
// degrees are rejected so that 123.4506 is never mistaken for DMS.
func ParseDMS(s string) (DMS, error) {
	m := dmsPattern.FindStringSubmatch(s)
	if m == nil {
		return DMS{}, surveyerr.NewValidation("cannot parse %q as degrees, minutes and seconds", s)
	}
	var d DMS
	d.Degrees, _ = strconv.Atoi(m[1])
	d.Minutes, _ = strconv.Atoi(m[2])
	d.Seconds, _ = strconv.Atoi(m[3])
	if err := d.Validate(); err != nil {
		return DMS{}, err
	}
	return d, nil
}

// Normalize maps any angle in degrees into [0, 360).
func Normalize(deg float64) float64 {
	n := math.Mod(deg, 360)
	if n < 0 {
		n += 360
	}
	if n >= 360 {
		n = 0
	}
	return n
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return deg * math.Pi / 180 }

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad * 180 / math.Pi }

// AngleDiff returns the signed difference a-b folded into (-180, 180].
func AngleDiff(a, b float64) float64 {
	d := Normalize(a - b)
	if d > 180 {
		d -= 360
	}
	return d
}

// ParsePacked decodes the instrument's seven digit dddmmss angle field.
func ParsePacked(s string) (float64, error) {
	if len(s) != 7 {
		return 0, fmt.Errorf("packed angle %q: want 7 digits", s)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("packed angle %q: non-digit %q", s, c)
		}
	}
	deg, _ := strconv.Atoi(s[0:3])
	min, _ := strconv.Atoi(s[3:5])
	sec, _ := strconv.Atoi(s[5:7])
	if deg > 359 || min > 59 || sec > 59 {
		return 0, fmt.Errorf("packed angle %q out of range", s)
	}
	return DMS{Degrees: deg, Minutes: min, Seconds: sec}.Decimal(), nil
}

// FormatPacked encodes an angle as dddmmss, rounded to the nearest second.
func FormatPacked(deg float64) string {
	d := FromDecimal(deg)
	return fmt.Sprintf("%03d%02d%02d", d.Degrees, d.Minutes, d.Seconds)
}
