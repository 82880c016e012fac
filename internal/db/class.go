package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/banshee-data/shootpoints/internal/surveyerr"
)

// Class is the top level of the feature taxonomy, e.g. "Architecture".
type Class struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// Subclass refines a Class, e.g. "Wall" under "Architecture".
type Subclass struct {
	ID          int64   `json:"id"`
	ClassID     int64   `json:"class_id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

func (db *DB) CreateClass(ctx context.Context, c *Class) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return surveyerr.NewValidation("class name is required")
	}
	result, err := db.ExecContext(ctx, `INSERT INTO classes (name, description) VALUES (?, ?)`, c.Name, c.Description)
	if err != nil {
		return storeError("create class", err)
	}
	c.ID, err = result.LastInsertId()
	return err
}

func (db *DB) GetClass(ctx context.Context, id int64) (*Class, error) {
	var c Class
	err := db.QueryRowContext(ctx, `SELECT id, name, description FROM classes WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, surveyerr.NewNotFound("class", id)
	}
	if err != nil {
		return nil, storeError("get class", err)
	}
	return &c, nil
}

func (db *DB) ListClasses(ctx context.Context) ([]Class, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, description FROM classes ORDER BY name`)
	if err != nil {
		return nil, storeError("list classes", err)
	}
	defer rows.Close()

	var out []Class
	for rows.Next() {
		var c Class
		if err := rows.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, storeError("scan class", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteClass fails with a conflict while subclasses or groupings use it.
func (db *DB) DeleteClass(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM classes WHERE id = ?`, id)
	if err != nil {
		return storeError("delete class", err)
	}
	return requireRow(result, "class", id)
}

func (db *DB) CreateSubclass(ctx context.Context, s *Subclass) error {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return surveyerr.NewValidation("subclass name is required")
	}
	if _, err := db.GetClass(ctx, s.ClassID); err != nil {
		return err
	}
	result, err := db.ExecContext(ctx,
		`INSERT INTO subclasses (class_id, name, description) VALUES (?, ?, ?)`,
		s.ClassID, s.Name, s.Description)
	if err != nil {
		return storeError("create subclass", err)
	}
	s.ID, err = result.LastInsertId()
	return err
}

func (db *DB) GetSubclass(ctx context.Context, id int64) (*Subclass, error) {
	var s Subclass
	err := db.QueryRowContext(ctx, `SELECT id, class_id, name, description FROM subclasses WHERE id = ?`, id).
		Scan(&s.ID, &s.ClassID, &s.Name, &s.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, surveyerr.NewNotFound("subclass", id)
	}
	if err != nil {
		return nil, storeError("get subclass", err)
	}
	return &s, nil
}

// ListSubclasses returns the subclasses of one class ordered by name.
func (db *DB) ListSubclasses(ctx context.Context, classID int64) ([]Subclass, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, class_id, name, description FROM subclasses WHERE class_id = ? ORDER BY name`, classID)
	if err != nil {
		return nil, storeError("list subclasses", err)
	}
	defer rows.Close()

	var out []Subclass
	for rows.Next() {
		var s Subclass
		if err := rows.Scan(&s.ID, &s.ClassID, &s.Name, &s.Description); err != nil {
			return nil, storeError("scan subclass", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (db *DB) DeleteSubclass(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM subclasses WHERE id = ?`, id)
	if err != nil {
		return storeError("delete subclass", err)
	}
	return requireRow(result, "subclass", id)
}
