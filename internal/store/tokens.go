package store

import (
	"database/sql"
	"fmt"

	"github.com/discoveryd/engine/internal/model"
)

// tokenTableFor maps a controller name to its token table. Unknown
// controllers are rejected rather than interpolated.
func tokenTableFor(controller string) (string, error) {
	switch controller {
	case "samsung":
		return "samsung_tokens", nil
	case "lg":
		return "lg_tokens", nil
	case "lg_thinq":
		return "lg_thinq_auth", nil
	default:
		return "", fmt.Errorf("store: unknown controller %q", controller)
	}
}

// SaveControlToken persists a pairing credential. Called only once a
// pairing flow reaches the Paired state.
func (s *Store) SaveControlToken(t model.DeviceControlToken) error {
	table, err := tokenTableFor(t.Controller)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO `+table+` (endpoint_id, state, token, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(endpoint_id) DO UPDATE SET state = excluded.state, token = excluded.token, updated_at = excluded.updated_at`,
		t.EndpointID, string(t.State), t.Token, t.UpdatedAt)
	return err
}

// GetControlToken loads the stored credential for an endpoint/controller
// pair, or (zero, false) when none exists.
func (s *Store) GetControlToken(endpointID int64, controller string) (model.DeviceControlToken, bool, error) {
	table, err := tokenTableFor(controller)
	if err != nil {
		return model.DeviceControlToken{}, false, err
	}

	row := s.db.QueryRow(`SELECT state, token, updated_at FROM `+table+` WHERE endpoint_id = ?`, endpointID)
	t := model.DeviceControlToken{EndpointID: endpointID, Controller: controller}
	var state string
	if err := row.Scan(&state, &t.Token, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.DeviceControlToken{}, false, nil
		}
		return model.DeviceControlToken{}, false, err
	}
	t.State = model.DeviceControlState(state)
	return t, true, nil
}
