package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/banshee-data/shootpoints/internal/surveyerr"
)

// Site is a named excavation or survey area. Names are unique regardless of case.
type Site struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateSite creates a new site in the database
func (db *DB) CreateSite(ctx context.Context, site *Site) error {
	site.Name = strings.TrimSpace(site.Name)
	if site.Name == "" {
		return surveyerr.NewValidation("site name is required")
	}

	site.CreatedAt = time.Now().UTC().Truncate(time.Second)
	result, err := db.ExecContext(ctx,
		`INSERT INTO sites (name, description, created_at) VALUES (?, ?, ?)`,
		site.Name, site.Description, site.CreatedAt.Unix(),
	)
	if err != nil {
		return storeError("create site", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storeError("get last insert ID", err)
	}
	site.ID = id
	return nil
}

const siteColumns = `id, name, description, created_at`

func scanSite(row interface{ Scan(...any) error }) (*Site, error) {
	var s Site
	var created int64
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &created); err != nil {
		return nil, err
	}
	s.CreatedAt = time.Unix(created, 0).UTC()
	return &s, nil
}

// GetSite retrieves a site by ID
func (db *DB) GetSite(ctx context.Context, id int64) (*Site, error) {
	site, err := scanSite(db.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, surveyerr.NewNotFound("site", id)
	}
	if err != nil {
		return nil, storeError("get site", err)
	}
	return site, nil
}

// ListSites returns every site ordered by name.
func (db *DB) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+siteColumns+` FROM sites ORDER BY name`)
	if err != nil {
		return nil, storeError("list sites", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		s, err := scanSite(rows)
		if err != nil {
			return nil, storeError("scan site", err)
		}
		sites = append(sites, *s)
	}
	return sites, rows.Err()
}

// UpdateSite renames a site or changes its description.
func (db *DB) UpdateSite(ctx context.Context, site *Site) error {
	site.Name = strings.TrimSpace(site.Name)
	if site.Name == "" {
		return surveyerr.NewValidation("site name is required")
	}
	result, err := db.ExecContext(ctx,
		`UPDATE sites SET name = ?, description = ? WHERE id = ?`,
		site.Name, site.Description, site.ID,
	)
	if err != nil {
		return storeError("update site", err)
	}
	return requireRow(result, "site", site.ID)
}

// DeleteSite removes a site. Sites that still hold stations cannot be deleted.
func (db *DB) DeleteSite(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM sites WHERE id = ?`, id)
	if err != nil {
		return storeError("delete site", err)
	}
	return requireRow(result, "site", id)
}

// CountSites returns how many sites exist.
func (db *DB) CountSites(ctx context.Context) (int, error) {
	return db.count(ctx, `SELECT COUNT(*) FROM sites`)
}

func (db *DB) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storeError("count", err)
	}
	return n, nil
}

func requireRow(result sql.Result, kind string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return storeError("check affected rows", err)
	}
	if n == 0 {
		return surveyerr.NewNotFound(kind, id)
	}
	return nil
}
