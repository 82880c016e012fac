package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/banshee-data/shootpoints/internal/station"
	"github.com/banshee-data/shootpoints/internal/surveyerr"
)

// Session is one instrument setup. Its frame (occupied station, azimuth
// and instrument height) is fixed when the row is written.
type Session struct {
	ID                  int64        `json:"id"`
	Label               string       `json:"label"`
	Surveyor            string       `json:"surveyor"`
	SetupMode           station.Mode `json:"setup_mode"`
	OccupiedStationID   int64        `json:"occupied_station_id"`
	BacksightStationID  *int64       `json:"backsight_station_id,omitempty"`
	ResectionLeftID     *int64       `json:"resection_left_station_id,omitempty"`
	ResectionRightID    *int64       `json:"resection_right_station_id,omitempty"`
	Azimuth             float64      `json:"azimuth"`
	InstrumentHeight    float64      `json:"instrument_height"`
	BacksightVarianceCM *float64     `json:"backsight_variance_cm,omitempty"`
	Pressure            float64      `json:"pressure"`
	Temperature         float64      `json:"temperature"`
	Started             time.Time    `json:"started"`
	Ended               *time.Time   `json:"ended,omitempty"`
}

// Active reports whether the session has not been ended.
func (s Session) Active() bool { return s.Ended == nil }

func (s *Session) validate() error {
	s.Label = strings.TrimSpace(s.Label)
	s.Surveyor = strings.TrimSpace(s.Surveyor)
	switch {
	case s.Label == "":
		return surveyerr.NewValidation("session label is required")
	case s.Surveyor == "":
		return surveyerr.NewValidation("surveyor is required")
	case !s.SetupMode.Valid():
		return surveyerr.NewValidation("unknown setup mode %q", s.SetupMode)
	}
	return station.ValidateInstrumentHeight(s.InstrumentHeight)
}

// CreateSession inserts a session whose occupied station already exists.
// Any session still open is ended in the same transaction.
func (db *DB) CreateSession(ctx context.Context, s *Session) error {
	if err := s.validate(); err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return createSessionTx(ctx, tx, s)
	})
}

// CreateSessionWithStation writes a newly solved occupied station and the
// session standing on it atomically, so a failed insert leaves neither.
func (db *DB) CreateSessionWithStation(ctx context.Context, st *Station, s *Session) error {
	if err := s.validate(); err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := createStationTx(ctx, tx, st); err != nil {
			return err
		}
		s.OccupiedStationID = st.ID
		return createSessionTx(ctx, tx, s)
	})
}

func createSessionTx(ctx context.Context, tx *sql.Tx, s *Session) error {
	if s.Started.IsZero() {
		s.Started = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET ended = ? WHERE ended IS NULL`, unixSeconds(s.Started)); err != nil {
		return storeError("end open sessions", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (
			label, surveyor, setup_mode, occupied_station_id,
			backsight_station_id, resection_left_station_id, resection_right_station_id,
			azimuth, instrument_height, backsight_variance_cm,
			pressure, temperature, started
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Label, s.Surveyor, string(s.SetupMode), s.OccupiedStationID,
		s.BacksightStationID, s.ResectionLeftID, s.ResectionRightID,
		s.Azimuth, s.InstrumentHeight, s.BacksightVarianceCM,
		s.Pressure, s.Temperature, unixSeconds(s.Started),
	)
	if err != nil {
		return storeError("create session", err)
	}
	s.ID, err = result.LastInsertId()
	return err
}

const sessionColumns = `id, label, surveyor, setup_mode, occupied_station_id,
	backsight_station_id, resection_left_station_id, resection_right_station_id,
	azimuth, instrument_height, backsight_variance_cm,
	pressure, temperature, started, ended`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	var mode string
	var started float64
	var ended sql.NullFloat64
	err := row.Scan(&s.ID, &s.Label, &s.Surveyor, &mode, &s.OccupiedStationID,
		&s.BacksightStationID, &s.ResectionLeftID, &s.ResectionRightID,
		&s.Azimuth, &s.InstrumentHeight, &s.BacksightVarianceCM,
		&s.Pressure, &s.Temperature, &started, &ended)
	if err != nil {
		return nil, err
	}
	s.SetupMode = station.Mode(mode)
	s.Started = fromUnixSeconds(started)
	s.Ended = timePtr(ended)
	return &s, nil
}

func (db *DB) GetSession(ctx context.Context, id int64) (*Session, error) {
	s, err := scanSession(db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, surveyerr.NewNotFound("session", id)
	}
	if err != nil {
		return nil, storeError("get session", err)
	}
	return s, nil
}

// ListSessions returns sessions newest first.
func (db *DB) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started DESC, id DESC`)
	if err != nil {
		return nil, storeError("list sessions", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, storeError("scan session", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// EndSession stamps the session's end time. Ending an ended session is a
// no-op.
func (db *DB) EndSession(ctx context.Context, id int64, at time.Time) error {
	result, err := db.ExecContext(ctx,
		`UPDATE sessions SET ended = COALESCE(ended, ?) WHERE id = ?`, unixSeconds(at), id)
	if err != nil {
		return storeError("end session", err)
	}
	return requireRow(result, "session", id)
}
