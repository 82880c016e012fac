// Package export turns a stored session into GeoJSON for GIS tools.
package export

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/banshee-data/shootpoints/internal/db"
	"github.com/banshee-data/shootpoints/internal/geometry"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
)

// Source is the read side of storage an export needs. *db.DB implements it.
type Source interface {
	GetSession(ctx context.Context, id int64) (*db.Session, error)
	GetStation(ctx context.Context, id int64) (*db.Station, error)
	GetClass(ctx context.Context, id int64) (*db.Class, error)
	GetSubclass(ctx context.Context, id int64) (*db.Subclass, error)
	ListGroupings(ctx context.Context, sessionID int64) ([]db.Grouping, error)
	ListShots(ctx context.Context, groupingID int64) ([]db.Shot, error)
}

var _ Source = (*db.DB)(nil)

// CRS values reported in the "crs" property of every feature.
const (
	CRSWGS84    = "EPSG:4326"
	CRSSiteGrid = "site-grid"
)

// projector maps a grid point onto GeoJSON x/y.
type projector func(p geometry.Point) (orb.Point, error)

// SessionGeoJSON exports the occupied station and every grouping of a
// session. When the occupied station carries a UTM zone, coordinates are
// WGS84 longitude/latitude; otherwise they are site grid easting/northing.
// Elevations travel in the feature properties.
func SessionGeoJSON(ctx context.Context, src Source, sessionID int64) (*geojson.FeatureCollection, error) {
	sess, err := src.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	occupied, err := src.GetStation(ctx, sess.OccupiedStationID)
	if err != nil {
		return nil, err
	}

	crs, project := CRSSiteGrid, projector(gridPoint)
	if occupied.UTMZone != nil {
		zone, err := geometry.ParseZone(*occupied.UTMZone)
		if err != nil {
			return nil, err
		}
		crs, project = CRSWGS84, utmPoint(zone)
	}

	fc := geojson.NewFeatureCollection()

	at, err := project(occupied.Point())
	if err != nil {
		return nil, err
	}
	sf := geojson.NewFeature(at)
	sf.Properties = geojson.Properties{
		"kind":       "station",
		"crs":        crs,
		"name":       occupied.Name,
		"elevation":  occupied.Elevation,
		"session":    sess.Label,
		"surveyor":   sess.Surveyor,
		"setup_mode": string(sess.SetupMode),
	}
	fc.Append(sf)

	groupings, err := src.ListGroupings(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, g := range groupings {
		shots, err := src.ListShots(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		if len(shots) == 0 {
			continue
		}
		f, err := groupingFeature(g, shots, project)
		if err != nil {
			return nil, fmt.Errorf("grouping %d: %w", g.ID, err)
		}
		f.Properties["crs"] = crs
		c, err := src.GetClass(ctx, g.ClassID)
		switch {
		case err == nil:
			f.Properties["class"] = c.Name
		case !surveyerr.Is(err, surveyerr.NotFound):
			return nil, fmt.Errorf("grouping %d: %w", g.ID, err)
		}
		sc, err := src.GetSubclass(ctx, g.SubclassID)
		switch {
		case err == nil:
			f.Properties["subclass"] = sc.Name
		case !surveyerr.Is(err, surveyerr.NotFound):
			return nil, fmt.Errorf("grouping %d: %w", g.ID, err)
		}
		fc.Append(f)
	}
	return fc, nil
}

func groupingFeature(g db.Grouping, shots []db.Shot, project projector) (*geojson.Feature, error) {
	pts := make([]orb.Point, 0, len(shots))
	elevations := make([]float64, 0, len(shots))
	ids := make([]int64, 0, len(shots))
	for _, s := range shots {
		p, err := project(s.Point)
		if err != nil {
			return nil, err
		}
		pts = append(pts, p)
		elevations = append(elevations, s.Point.Elevation)
		ids = append(ids, s.ID)
	}

	var geom orb.Geometry
	switch {
	case g.Geometry == db.IsolatedPoint:
		geom = pts[0]
	case g.Geometry == db.PointCloud:
		geom = orb.MultiPoint(pts)
	case g.Geometry == db.ClosedPolygon && len(pts) >= 3:
		ring := orb.Ring(append(pts, pts[0]))
		geom = orb.Polygon{ring}
	case len(pts) >= 2:
		geom = orb.LineString(pts)
	default:
		// A polygon with a single vertex so far.
		geom = pts[0]
	}

	f := geojson.NewFeature(geom)
	f.ID = g.ID
	f.Properties = geojson.Properties{
		"kind":       "grouping",
		"label":      g.Label,
		"geometry":   string(g.Geometry),
		"shots":      ids,
		"elevations": elevations,
	}
	if g.Description != nil {
		f.Properties["description"] = *g.Description
	}
	return f, nil
}

func gridPoint(p geometry.Point) (orb.Point, error) {
	return orb.Point{p.Easting, p.Northing}, nil
}

func utmPoint(zone geometry.Zone) projector {
	return func(p geometry.Point) (orb.Point, error) {
		lat, lon, err := geometry.ToLatLon(p.Northing, p.Easting, zone)
		if err != nil {
			return orb.Point{}, err
		}
		return orb.Point{lon, lat}, nil
	}
}
