package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/banshee-data/shootpoints/internal/surveyerr"
)

// GeometryKind is how the shots of a grouping relate to each other.
type GeometryKind string

const (
	IsolatedPoint GeometryKind = "isolated_point"
	PointCloud    GeometryKind = "point_cloud"
	OpenPolygon   GeometryKind = "open_polygon"
	ClosedPolygon GeometryKind = "closed_polygon"
)

// GeometryKinds lists every kind in display order.
var GeometryKinds = []GeometryKind{IsolatedPoint, PointCloud, OpenPolygon, ClosedPolygon}

// Valid reports whether k is a known kind.
func (k GeometryKind) Valid() bool {
	switch k {
	case IsolatedPoint, PointCloud, OpenPolygon, ClosedPolygon:
		return true
	}
	return false
}

// Sequential reports whether shot order matters, i.e. the shots are
// vertices of a line or polygon.
func (k GeometryKind) Sequential() bool {
	return k == OpenPolygon || k == ClosedPolygon
}

// ParseGeometryKind accepts the stored name or a human spelling such as
// "Open Polygon" or "point-cloud".
func ParseGeometryKind(s string) (GeometryKind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	k := GeometryKind(norm)
	if !k.Valid() {
		return "", surveyerr.NewValidation("unknown geometry %q", s)
	}
	return k, nil
}

// Grouping collects the shots describing one archaeological feature.
type Grouping struct {
	ID          int64        `json:"id"`
	SessionID   int64        `json:"session_id"`
	Geometry    GeometryKind `json:"geometry"`
	ClassID     int64        `json:"class_id"`
	SubclassID  int64        `json:"subclass_id"`
	Label       string       `json:"label"`
	Description *string      `json:"description"`
	CreatedAt   time.Time    `json:"created_at"`
}

// CreateGrouping inserts a grouping under an active session. The subclass
// must belong to the given class.
func (db *DB) CreateGrouping(ctx context.Context, g *Grouping) error {
	g.Label = strings.TrimSpace(g.Label)
	if g.Label == "" {
		return surveyerr.NewValidation("grouping label is required")
	}
	if !g.Geometry.Valid() {
		return surveyerr.NewValidation("unknown geometry %q", g.Geometry)
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		var classID int64
		err := tx.QueryRowContext(ctx, `SELECT class_id FROM subclasses WHERE id = ?`, g.SubclassID).Scan(&classID)
		if errors.Is(err, sql.ErrNoRows) {
			return surveyerr.NewNotFound("subclass", g.SubclassID)
		}
		if err != nil {
			return storeError("check subclass", err)
		}
		if classID != g.ClassID {
			return surveyerr.NewValidation("subclass %d does not belong to class %d", g.SubclassID, g.ClassID)
		}

		var ended sql.NullFloat64
		err = tx.QueryRowContext(ctx, `SELECT ended FROM sessions WHERE id = ?`, g.SessionID).Scan(&ended)
		if errors.Is(err, sql.ErrNoRows) {
			return surveyerr.NewNotFound("session", g.SessionID)
		}
		if err != nil {
			return storeError("check session", err)
		}
		if ended.Valid {
			return surveyerr.NewPrerequisiteNotMet("session %d has ended", g.SessionID)
		}

		if g.CreatedAt.IsZero() {
			g.CreatedAt = time.Now().UTC()
		}
		result, err := tx.ExecContext(ctx, `
			INSERT INTO groupings (session_id, geometry, class_id, subclass_id, label, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			g.SessionID, string(g.Geometry), g.ClassID, g.SubclassID, g.Label, g.Description, unixSeconds(g.CreatedAt),
		)
		if err != nil {
			return storeError("create grouping", err)
		}
		g.ID, err = result.LastInsertId()
		return err
	})
}

const groupingColumns = `id, session_id, geometry, class_id, subclass_id, label, description, created_at`

func scanGrouping(row interface{ Scan(...any) error }) (*Grouping, error) {
	var g Grouping
	var kind string
	var created float64
	if err := row.Scan(&g.ID, &g.SessionID, &kind, &g.ClassID, &g.SubclassID, &g.Label, &g.Description, &created); err != nil {
		return nil, err
	}
	g.Geometry = GeometryKind(kind)
	g.CreatedAt = fromUnixSeconds(created)
	return &g, nil
}

func (db *DB) GetGrouping(ctx context.Context, id int64) (*Grouping, error) {
	g, err := scanGrouping(db.QueryRowContext(ctx, `SELECT `+groupingColumns+` FROM groupings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, surveyerr.NewNotFound("grouping", id)
	}
	if err != nil {
		return nil, storeError("get grouping", err)
	}
	return g, nil
}

// ListGroupings returns a session's groupings in creation order.
func (db *DB) ListGroupings(ctx context.Context, sessionID int64) ([]Grouping, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+groupingColumns+` FROM groupings WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, storeError("list groupings", err)
	}
	defer rows.Close()

	var out []Grouping
	for rows.Next() {
		g, err := scanGrouping(rows)
		if err != nil {
			return nil, storeError("scan grouping", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}
