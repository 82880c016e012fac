package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shootpoints/internal/surveyerr"
)

func TestStationInput(t *testing.T) {
	t.Run("site grid", func(t *testing.T) {
		st, err := StationInput{Name: " DP2 ", Northing: 10, Easting: 20, Elevation: 3}.Station()
		require.NoError(t, err)
		assert.Equal(t, "DP2", st.Name)
		assert.Nil(t, st.UTMZone)
		assert.Nil(t, st.Latitude)
	})

	t.Run("utm", func(t *testing.T) {
		st, err := StationInput{
			Name: "GPS1", System: SystemUTM, Zone: "33t",
			Northing: 5000000, Easting: 500000, Elevation: 120,
		}.Station()
		require.NoError(t, err)
		require.NotNil(t, st.UTMZone)
		assert.Equal(t, "33T", *st.UTMZone)
		assert.InDelta(t, 15.0, *st.Longitude, 1e-6)
		assert.InDelta(t, 45.1, *st.Latitude, 0.1)
		assert.Equal(t, 5000000.0, st.Northing)
	})

	t.Run("lat lon", func(t *testing.T) {
		st, err := StationInput{Name: "GPS2", System: SystemLatLon, Latitude: 45, Longitude: 15, Elevation: 80}.Station()
		require.NoError(t, err)
		require.NotNil(t, st.UTMZone)
		assert.Equal(t, "33T", *st.UTMZone)
		assert.InDelta(t, 500000, st.Easting, 0.001)
		assert.InDelta(t, 4982950, st.Northing, 1)
	})

	errCases := []StationInput{
		{Name: ""},
		{Name: "bad zone", System: SystemUTM, Zone: "61T", Northing: 5000000, Easting: 500000},
		{Name: "bad easting", System: SystemUTM, Zone: "33T", Northing: 5000000, Easting: 50},
		{Name: "bad lat", System: SystemLatLon, Latitude: 91},
		{Name: "bad system", System: "polar"},
	}
	for _, in := range errCases {
		t.Run("rejects "+in.Name, func(t *testing.T) {
			_, err := in.Station()
			assert.True(t, surveyerr.Is(err, surveyerr.Validation), "got %v", err)
		})
	}
}

func TestStationCRUD(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	site := &Site{Name: "Ashkelon"}
	require.NoError(t, db.CreateSite(ctx, site))

	dp1 := &Station{SiteID: site.ID, Name: "DP1", Northing: 100.00049, Easting: 200, Elevation: 10}
	require.NoError(t, db.CreateStation(ctx, dp1))
	assert.Equal(t, 100.0, dp1.Northing, "stored to the millimetre")

	got, err := db.GetStation(ctx, dp1.ID)
	require.NoError(t, err)
	assert.Equal(t, dp1.Point(), got.Point())

	dp2 := &Station{SiteID: site.ID, Name: "DP2", Northing: 150, Easting: 200, Elevation: 10}
	require.NoError(t, db.CreateStation(ctx, dp2))

	list, err := db.ListStations(ctx, site.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "DP1", list[0].Name)

	n, err := db.CountStations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, db.DeleteStation(ctx, dp2.ID))
	_, err = db.GetStation(ctx, dp2.ID)
	assert.True(t, surveyerr.Is(err, surveyerr.NotFound))
	assert.True(t, surveyerr.Is(db.DeleteStation(ctx, dp2.ID), surveyerr.NotFound))
}

func TestStationConflicts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	f := seed(t, db)

	near := &Station{SiteID: f.site.ID, Name: "DP1b", Northing: 1000.05, Easting: 2000.05, Elevation: 0}
	err := db.CreateStation(ctx, near)
	assert.True(t, surveyerr.Is(err, surveyerr.Conflict), "within 0.1 m: %v", err)

	dup := &Station{SiteID: f.site.ID, Name: "dp1", Northing: 0, Easting: 0, Elevation: 0}
	err = db.CreateStation(ctx, dup)
	assert.True(t, surveyerr.Is(err, surveyerr.Conflict), "duplicate name: %v", err)

	// The same coordinates are fine on another site.
	other := &Site{Name: "Other"}
	require.NoError(t, db.CreateSite(ctx, other))
	require.NoError(t, db.CreateStation(ctx, &Station{SiteID: other.ID, Name: "DP1", Northing: 1000, Easting: 2000, Elevation: 50}))

	err = db.DeleteStation(ctx, f.station.ID)
	assert.True(t, surveyerr.Is(err, surveyerr.Conflict), "station used by a session: %v", err)

	err = db.CreateStation(ctx, &Station{SiteID: 999, Name: "Orphan", Northing: 5, Easting: 5})
	assert.True(t, surveyerr.Is(err, surveyerr.Conflict), "missing site: %v", err)
}
