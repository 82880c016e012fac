package geometry

import (
	"fmt"
	"strconv"
	"strings"

	UTM "github.com/im7mortal/UTM"

	"github.com/banshee-data/shootpoints/internal/surveyerr"
)

const zoneLetters = "CDEFGHJKLMNPQRSTUVWX"

// Zone is a UTM zone such as 17T.
type Zone struct {
	Number int
	Letter string
}

func (z Zone) String() string { return fmt.Sprintf("%d%s", z.Number, z.Letter) }

// Northern reports whether the zone letter lies north of the equator.
func (z Zone) Northern() bool { return z.Letter >= "N" }

// ParseZone parses "17T" or "17 t".
func ParseZone(s string) (Zone, error) {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if len(s) < 2 {
		return Zone{}, surveyerr.NewValidation("UTM zone %q is missing its number or letter", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return Zone{}, surveyerr.NewValidation("non-numeric UTM zone number in %q", s)
	}
	if n < 1 || n > 60 {
		return Zone{}, surveyerr.NewValidation("invalid UTM zone number %d", n)
	}
	letter := s[len(s)-1:]
	if !strings.Contains(zoneLetters, letter) {
		return Zone{}, surveyerr.NewValidation("invalid UTM zone letter %q", letter)
	}
	return Zone{Number: n, Letter: letter}, nil
}

// ValidateUTM checks the ranges accepted for a UTM station.
func ValidateUTM(northing, easting float64) error {
	if northing < 0 || northing > 10000000 {
		return surveyerr.NewValidation("northing %.3f is out of range (0 to 10000000 m)", northing)
	}
	if easting < 100000 || easting > 999999 {
		return surveyerr.NewValidation("easting %.3f is out of range (100000 to 999999 m)", easting)
	}
	return nil
}

// ValidateLatLon checks latitude and longitude ranges.
func ValidateLatLon(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return surveyerr.NewValidation("latitude %.6f is out of range (±90°)", lat)
	}
	if lon < -180 || lon > 180 {
		return surveyerr.NewValidation("longitude %.6f is out of range (±180°)", lon)
	}
	return nil
}

// FromLatLon projects a WGS84 position into UTM, returning northing and
// easting rounded to the millimetre along with the zone.
func FromLatLon(lat, lon float64) (northing, easting float64, zone Zone, err error) {
	if err := ValidateLatLon(lat, lon); err != nil {
		return 0, 0, Zone{}, err
	}
	// northern=false keeps the latitude band letter; true would replace it
	// with a hemisphere marker.
	e, n, number, letter, err := UTM.FromLatLon(lat, lon, false)
	if err != nil {
		return 0, 0, Zone{}, surveyerr.NewValidation("cannot project %.6f, %.6f: %v", lat, lon, err)
	}
	return RoundMM(n), RoundMM(e), Zone{Number: number, Letter: letter}, nil
}

// ToLatLon converts UTM coordinates back to WGS84.
func ToLatLon(northing, easting float64, zone Zone) (lat, lon float64, err error) {
	if err := ValidateUTM(northing, easting); err != nil {
		return 0, 0, err
	}
	lat, lon, err = UTM.ToLatLon(easting, northing, zone.Number, zone.Letter)
	if err != nil {
		return 0, 0, surveyerr.NewValidation("cannot convert %s %.3f %.3f: %v", zone, easting, northing, err)
	}
	return lat, lon, nil
}
