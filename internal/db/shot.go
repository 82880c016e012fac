package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/banshee-data/shootpoints/internal/geometry"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
)

// Shot is a saved measurement. Reading holds the raw instrument values;
// Deltas and Point are the resolved offsets from the occupied station and
// the resulting site coordinate.
type Shot struct {
	ID          int64            `json:"id"`
	GroupingID  int64            `json:"grouping_id"`
	Sequence    *int64           `json:"sequence,omitempty"`
	Reading     geometry.Polar   `json:"reading"`
	Deltas      geometry.Point   `json:"deltas"`
	Point       geometry.Point   `json:"point"`
	Offsets     geometry.Offsets `json:"offsets"`
	Pressure    float64          `json:"pressure"`
	Temperature float64          `json:"temperature"`
	Comment     *string          `json:"comment,omitempty"`
	TakenAt     time.Time        `json:"taken_at"`
}

// InsertShot appends a shot to its grouping. In one transaction it checks
// the grouping's capacity and, for sequential geometries, assigns the next
// sequence number. Coordinates are stored to the millimetre.
func (db *DB) InsertShot(ctx context.Context, s *Shot) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var kind string
		err := tx.QueryRowContext(ctx, `SELECT geometry FROM groupings WHERE id = ?`, s.GroupingID).Scan(&kind)
		if errors.Is(err, sql.ErrNoRows) {
			return surveyerr.NewNotFound("grouping", s.GroupingID)
		}
		if err != nil {
			return storeError("read grouping", err)
		}

		s.Sequence = nil
		switch GeometryKind(kind) {
		case IsolatedPoint:
			var n int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM shots WHERE grouping_id = ?`, s.GroupingID).Scan(&n); err != nil {
				return storeError("count shots", err)
			}
			if n > 0 {
				return surveyerr.NewGeometryCapacity(s.GroupingID, kind)
			}
		case OpenPolygon, ClosedPolygon:
			var next int64
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(sequence), 0) + 1 FROM shots WHERE grouping_id = ?`, s.GroupingID).Scan(&next); err != nil {
				return storeError("next sequence", err)
			}
			s.Sequence = &next
		}

		s.Deltas = s.Deltas.Rounded()
		s.Point = s.Point.Rounded()
		if s.TakenAt.IsZero() {
			s.TakenAt = time.Now().UTC()
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO shots (
				grouping_id, sequence, slope_distance, zenith_angle, horizontal_angle,
				delta_n, delta_e, delta_z, northing, easting, elevation,
				prism_vertical, prism_latitude, prism_longitude, prism_radial, prism_tangent, prism_wedge,
				pressure, temperature, comment, taken_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.GroupingID, s.Sequence, s.Reading.SlopeDistance, s.Reading.ZenithAngle, s.Reading.HorizontalAngle,
			s.Deltas.Northing, s.Deltas.Easting, s.Deltas.Elevation,
			s.Point.Northing, s.Point.Easting, s.Point.Elevation,
			s.Offsets.Vertical, s.Offsets.Latitude, s.Offsets.Longitude,
			s.Offsets.Radial, s.Offsets.Tangent, s.Offsets.Wedge,
			s.Pressure, s.Temperature, s.Comment, unixSeconds(s.TakenAt),
		)
		if err != nil {
			return storeError("insert shot", err)
		}
		s.ID, err = result.LastInsertId()
		return err
	})
}

// CountShots returns how many shots a grouping holds.
func (db *DB) CountShots(ctx context.Context, groupingID int64) (int, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM shots WHERE grouping_id = ?`, groupingID)
}

const shotColumns = `s.id, s.grouping_id, s.sequence, s.slope_distance, s.zenith_angle, s.horizontal_angle,
	s.delta_n, s.delta_e, s.delta_z, s.northing, s.easting, s.elevation,
	s.prism_vertical, s.prism_latitude, s.prism_longitude, s.prism_radial, s.prism_tangent, s.prism_wedge,
	s.pressure, s.temperature, s.comment, s.taken_at`

func scanShot(row interface{ Scan(...any) error }) (*Shot, error) {
	var s Shot
	var taken float64
	err := row.Scan(&s.ID, &s.GroupingID, &s.Sequence,
		&s.Reading.SlopeDistance, &s.Reading.ZenithAngle, &s.Reading.HorizontalAngle,
		&s.Deltas.Northing, &s.Deltas.Easting, &s.Deltas.Elevation,
		&s.Point.Northing, &s.Point.Easting, &s.Point.Elevation,
		&s.Offsets.Vertical, &s.Offsets.Latitude, &s.Offsets.Longitude,
		&s.Offsets.Radial, &s.Offsets.Tangent, &s.Offsets.Wedge,
		&s.Pressure, &s.Temperature, &s.Comment, &taken)
	if err != nil {
		return nil, err
	}
	s.TakenAt = fromUnixSeconds(taken)
	return &s, nil
}

func (db *DB) queryShots(ctx context.Context, query string, args ...any) ([]Shot, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list shots", err)
	}
	defer rows.Close()

	var out []Shot
	for rows.Next() {
		s, err := scanShot(rows)
		if err != nil {
			return nil, storeError("scan shot", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListShots returns a grouping's shots in the order they were taken.
func (db *DB) ListShots(ctx context.Context, groupingID int64) ([]Shot, error) {
	return db.queryShots(ctx,
		`SELECT `+shotColumns+` FROM shots s WHERE s.grouping_id = ? ORDER BY s.id`, groupingID)
}

// ListSessionShots returns every shot of a session, grouped by grouping.
func (db *DB) ListSessionShots(ctx context.Context, sessionID int64) ([]Shot, error) {
	return db.queryShots(ctx, `
		SELECT `+shotColumns+`
		FROM shots s JOIN groupings g ON g.id = s.grouping_id
		WHERE g.session_id = ?
		ORDER BY s.grouping_id, s.id`, sessionID)
}
