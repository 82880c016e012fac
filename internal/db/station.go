package db

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/shootpoints/internal/geometry"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
)

// StationProximity is how close in plan two stations of the same site may
// be before they are treated as the same mark.
const StationProximity = 0.1 // metres

// CoordinateSystem says how a station's position was entered.
type CoordinateSystem string

const (
	SystemSite   CoordinateSystem = "site"   // local grid northing/easting
	SystemUTM    CoordinateSystem = "utm"    // UTM northing/easting plus zone
	SystemLatLon CoordinateSystem = "latlon" // WGS84 latitude/longitude
)

// Station is a surveyed mark that the instrument can occupy or sight.
// Stations are never updated once created; sessions refer to them.
type Station struct {
	ID          int64     `json:"id"`
	SiteID      int64     `json:"site_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	Northing    float64   `json:"northing"`
	Easting     float64   `json:"easting"`
	Elevation   float64   `json:"elevation"`
	UTMZone     *string   `json:"utm_zone"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
	CreatedAt   time.Time `json:"created_at"`
}

// Point returns the station's grid position.
func (s Station) Point() geometry.Point {
	return geometry.Point{Northing: s.Northing, Easting: s.Easting, Elevation: s.Elevation}
}

// StationInput is a station as the surveyor enters it, in any supported
// coordinate system.
type StationInput struct {
	SiteID      int64
	Name        string
	Description *string
	System      CoordinateSystem
	Northing    float64
	Easting     float64
	Elevation   float64
	Zone        string
	Latitude    float64
	Longitude   float64
}

// Station validates the input and fills in the derived coordinates: UTM
// input gains latitude/longitude and lat/lon input is projected to UTM.
func (in StationInput) Station() (*Station, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, surveyerr.NewValidation("station name is required")
	}
	for label, v := range map[string]float64{"northing": in.Northing, "easting": in.Easting, "elevation": in.Elevation} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, surveyerr.NewValidation("%s %v is not a number", label, v)
		}
	}
	st := &Station{
		SiteID:      in.SiteID,
		Name:        name,
		Description: in.Description,
		Elevation:   in.Elevation,
	}

	switch in.System {
	case SystemSite, "":
		st.Northing, st.Easting = in.Northing, in.Easting
	case SystemUTM:
		zone, err := geometry.ParseZone(in.Zone)
		if err != nil {
			return nil, err
		}
		lat, lon, err := geometry.ToLatLon(in.Northing, in.Easting, zone)
		if err != nil {
			return nil, err
		}
		z := zone.String()
		st.Northing, st.Easting = in.Northing, in.Easting
		st.UTMZone, st.Latitude, st.Longitude = &z, &lat, &lon
	case SystemLatLon:
		n, e, zone, err := geometry.FromLatLon(in.Latitude, in.Longitude)
		if err != nil {
			return nil, err
		}
		z := zone.String()
		lat, lon := in.Latitude, in.Longitude
		st.Northing, st.Easting = n, e
		st.UTMZone, st.Latitude, st.Longitude = &z, &lat, &lon
	default:
		return nil, surveyerr.NewValidation("unknown coordinate system %q", in.System)
	}
	return st, nil
}

// CreateStation inserts a station after checking that no station of the
// same site lies within StationProximity of it.
func (db *DB) CreateStation(ctx context.Context, st *Station) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return createStationTx(ctx, tx, st)
	})
}

func createStationTx(ctx context.Context, tx *sql.Tx, st *Station) error {
	st.Name = strings.TrimSpace(st.Name)
	if st.Name == "" {
		return surveyerr.NewValidation("station name is required")
	}

	var clash string
	err := tx.QueryRowContext(ctx, `
		SELECT name FROM stations
		WHERE site_id = ?
		  AND ABS(northing - ?) < ? AND ABS(easting - ?) < ?
		LIMIT 1`,
		st.SiteID, st.Northing, StationProximity, st.Easting, StationProximity,
	).Scan(&clash)
	switch {
	case err == nil:
		return surveyerr.NewConflict("station %q is within %.1f m of %q", st.Name, StationProximity, clash)
	case !errors.Is(err, sql.ErrNoRows):
		return storeError("check station proximity", err)
	}

	st.Northing = geometry.RoundMM(st.Northing)
	st.Easting = geometry.RoundMM(st.Easting)
	st.Elevation = geometry.RoundMM(st.Elevation)
	st.CreatedAt = time.Now().UTC().Truncate(time.Second)
	result, err := tx.ExecContext(ctx, `
		INSERT INTO stations (
			site_id, name, description, northing, easting, elevation,
			utm_zone, latitude, longitude, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.SiteID, st.Name, st.Description,
		st.Northing, st.Easting, st.Elevation,
		st.UTMZone, st.Latitude, st.Longitude, st.CreatedAt.Unix(),
	)
	if err != nil {
		return storeError("create station", err)
	}
	st.ID, err = result.LastInsertId()
	return err
}

const stationColumns = `id, site_id, name, description, northing, easting, elevation,
	utm_zone, latitude, longitude, created_at`

func scanStation(row interface{ Scan(...any) error }) (*Station, error) {
	var st Station
	var created int64
	err := row.Scan(&st.ID, &st.SiteID, &st.Name, &st.Description,
		&st.Northing, &st.Easting, &st.Elevation,
		&st.UTMZone, &st.Latitude, &st.Longitude, &created)
	if err != nil {
		return nil, err
	}
	st.CreatedAt = time.Unix(created, 0).UTC()
	return &st, nil
}

func (db *DB) GetStation(ctx context.Context, id int64) (*Station, error) {
	st, err := scanStation(db.QueryRowContext(ctx, `SELECT `+stationColumns+` FROM stations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, surveyerr.NewNotFound("station", id)
	}
	if err != nil {
		return nil, storeError("get station", err)
	}
	return st, nil
}

// ListStations returns the stations of a site ordered by name.
func (db *DB) ListStations(ctx context.Context, siteID int64) ([]Station, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+stationColumns+` FROM stations WHERE site_id = ? ORDER BY name`, siteID)
	if err != nil {
		return nil, storeError("list stations", err)
	}
	defer rows.Close()

	var out []Station
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, storeError("scan station", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// DeleteStation removes a station no session refers to.
func (db *DB) DeleteStation(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM stations WHERE id = ?`, id)
	if err != nil {
		return storeError("delete station", err)
	}
	return requireRow(result, "station", id)
}

// CountStations counts stations across all sites.
func (db *DB) CountStations(ctx context.Context) (int, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM stations`)
}
