package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/shootpoints/internal/geometry"
)

// SavedState is what the control process needs to pick up where it left
// off after a restart: the current session and grouping plus the
// session-scoped conditions.
type SavedState struct {
	SessionID   *int64           `json:"session_id"`
	GroupingID  *int64           `json:"grouping_id"`
	Pressure    float64          `json:"pressure"`
	Temperature float64          `json:"temperature"`
	Offsets     geometry.Offsets `json:"offsets"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// LoadSavedState reads the single saved-state row. References to sessions
// or groupings that were removed come back as nil.
func (db *DB) LoadSavedState(ctx context.Context) (*SavedState, error) {
	var st SavedState
	var offsets string
	var updated float64
	err := db.QueryRowContext(ctx, `
		SELECT session_id, grouping_id, pressure, temperature, offsets, updated_at
		FROM saved_state WHERE id = 1`,
	).Scan(&st.SessionID, &st.GroupingID, &st.Pressure, &st.Temperature, &offsets, &updated)
	if err != nil {
		return nil, storeError("load saved state", err)
	}
	if err := json.Unmarshal([]byte(offsets), &st.Offsets); err != nil {
		return nil, fmt.Errorf("failed to decode saved offsets: %w", err)
	}
	if updated > 0 {
		st.UpdatedAt = fromUnixSeconds(updated)
	}
	return &st, nil
}

// SaveState overwrites the saved-state row.
func (db *DB) SaveState(ctx context.Context, st *SavedState) error {
	offsets, err := json.Marshal(st.Offsets)
	if err != nil {
		return fmt.Errorf("failed to encode offsets: %w", err)
	}
	st.UpdatedAt = time.Now().UTC()
	_, err = db.ExecContext(ctx, `
		INSERT INTO saved_state (id, session_id, grouping_id, pressure, temperature, offsets, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			session_id = excluded.session_id,
			grouping_id = excluded.grouping_id,
			pressure = excluded.pressure,
			temperature = excluded.temperature,
			offsets = excluded.offsets,
			updated_at = excluded.updated_at`,
		st.SessionID, st.GroupingID, st.Pressure, st.Temperature, string(offsets), unixSeconds(st.UpdatedAt),
	)
	if err != nil {
		return storeError("save state", err)
	}
	return nil
}
