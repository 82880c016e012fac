package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shootpoints/internal/surveyerr"
)

func TestLatLonRoundTrip(t *testing.T) {
	cases := []struct {
		lat, lon float64
		zone     string
	}{
		{43.6532, -79.3832, "17T"},
		{-33.8568, 151.2153, "56H"},
		{37.9715, 23.7257, "34S"},
	}
	for _, c := range cases {
		n, e, zone, err := FromLatLon(c.lat, c.lon)
		require.NoError(t, err)
		assert.Equal(t, c.zone, zone.String())
		lat, lon, err := ToLatLon(n, e, zone)
		require.NoError(t, err)
		assert.InDelta(t, c.lat, lat, 1e-6)
		assert.InDelta(t, c.lon, lon, 1e-6)
	}
}

func TestFromLatLon_KeepsLatitudeBand(t *testing.T) {
	// Bands N and S are real bands; a hemisphere marker must not leak in.
	cases := []struct {
		lat, lon float64
		zone     string
		northern bool
	}{
		{43.6532, -79.3832, "17T", true},
		{1.0, 10.0, "32N", true},
		{-1.0, 10.0, "32M", false},
		{-20.0, 25.0, "35K", false},
	}
	for _, c := range cases {
		n, _, zone, err := FromLatLon(c.lat, c.lon)
		require.NoError(t, err)
		assert.Equal(t, c.zone, zone.String())
		assert.Equal(t, c.northern, zone.Northern(), zone.String())
		if !c.northern {
			assert.Greater(t, n, 5000000.0, "southern northings carry the false northing")
		}
	}
}

func TestParseZone(t *testing.T) {
	z, err := ParseZone(" 17t ")
	require.NoError(t, err)
	assert.Equal(t, Zone{17, "T"}, z)
	assert.True(t, z.Northern())

	for _, bad := range []string{"", "T", "0T", "61T", "17I", "17O", "xxT"} {
		_, err := ParseZone(bad)
		assert.True(t, surveyerr.Is(err, surveyerr.Validation), "ParseZone(%q) = %v", bad, err)
	}
}

func TestValidateRanges(t *testing.T) {
	assert.Error(t, ValidateUTM(-1, 500000))
	assert.Error(t, ValidateUTM(100, 50000))
	assert.NoError(t, ValidateUTM(4834000, 630000))
	assert.Error(t, ValidateLatLon(91, 0))
	assert.Error(t, ValidateLatLon(0, 181))
	assert.NoError(t, ValidateLatLon(-45, -170))
}
