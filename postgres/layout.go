package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/meikuraledutech/flowchain"
)

// layoutDoc is the JSONB payload of a flow_layouts row.
type layoutDoc struct {
	Positions   map[string]flowchain.Position `json:"positions"`
	Edges       []flowchain.Edge              `json:"edges"`
	CustomNodes []flowchain.Node              `json:"customNodes"`
}

func encodeLayout(l *flowchain.Layout) (json.RawMessage, error) {
	doc := layoutDoc{Positions: l.Positions, Edges: l.Edges, CustomNodes: l.CustomNodes}
	if doc.Positions == nil {
		doc.Positions = map[string]flowchain.Position{}
	}
	if doc.Edges == nil {
		doc.Edges = []flowchain.Edge{}
	}
	if doc.CustomNodes == nil {
		doc.CustomNodes = []flowchain.Node{}
	}
	return json.Marshal(doc)
}

func decodeLayout(payload []byte, l *flowchain.Layout) error {
	var doc layoutDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return err
	}
	l.Positions = doc.Positions
	l.Edges = doc.Edges
	l.CustomNodes = doc.CustomNodes
	if l.Positions == nil {
		l.Positions = map[string]flowchain.Position{}
	}
	if l.Edges == nil {
		l.Edges = []flowchain.Edge{}
	}
	if l.CustomNodes == nil {
		l.CustomNodes = []flowchain.Node{}
	}
	return nil
}

// GetLayout fetches the layout of (workRequestID, userID).
// Returns nil, nil if the user never saved one.
func (s *PGStore) GetLayout(ctx context.Context, workRequestID, userID int64) (*flowchain.Layout, error) {
	l := flowchain.Layout{WorkRequestID: workRequestID, UserID: userID}
	var payload json.RawMessage
	err := s.db.QueryRow(ctx,
		`SELECT team_id, payload, version, created_at, updated_at
		 FROM flow_layouts WHERE work_request_id = $1 AND user_id = $2`,
		workRequestID, userID,
	).Scan(&l.TeamID, &payload, &l.Version, &l.CreatedAt, &l.UpdatedAt)

	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flowchain: get layout: %w", err)
	}
	if err := decodeLayout(payload, &l); err != nil {
		return nil, fmt.Errorf("flowchain: decode layout: %w", err)
	}
	return &l, nil
}

// SaveLayout writes l only if the stored version still equals
// expectedVersion. Version 0 inserts the row; concurrent first saves race
// on the (work_request_id, user_id) unique key and only one wins.
func (s *PGStore) SaveLayout(ctx context.Context, l *flowchain.Layout, expectedVersion int64) (*flowchain.Layout, error) {
	if l.Version != expectedVersion+1 {
		return nil, fmt.Errorf("flowchain: layout version %d does not follow %d", l.Version, expectedVersion)
	}
	payload, err := encodeLayout(l)
	if err != nil {
		return nil, fmt.Errorf("flowchain: encode layout: %w", err)
	}

	saved := *l
	if expectedVersion == 0 {
		err = s.db.QueryRow(ctx,
			`INSERT INTO flow_layouts (id, work_request_id, user_id, team_id, payload, version)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (work_request_id, user_id) DO NOTHING
			 RETURNING created_at, updated_at`,
			uuid.NewString(), l.WorkRequestID, l.UserID, l.TeamID, payload, l.Version,
		).Scan(&saved.CreatedAt, &saved.UpdatedAt)
	} else {
		err = s.db.QueryRow(ctx,
			`UPDATE flow_layouts SET team_id = $1, payload = $2, version = $3, updated_at = NOW()
			 WHERE work_request_id = $4 AND user_id = $5 AND version = $6
			 RETURNING created_at, updated_at`,
			l.TeamID, payload, l.Version, l.WorkRequestID, l.UserID, expectedVersion,
		).Scan(&saved.CreatedAt, &saved.UpdatedAt)
	}

	if err != nil {
		if isNoRows(err) {
			return nil, s.conflict(ctx, l.WorkRequestID, l.UserID, expectedVersion)
		}
		return nil, fmt.Errorf("flowchain: save layout: %w", err)
	}
	return &saved, nil
}

// conflict builds the ConflictError for a lost compare-and-set, reading the
// version that won.
func (s *PGStore) conflict(ctx context.Context, workRequestID, userID, expected int64) error {
	var current int64
	err := s.db.QueryRow(ctx,
		`SELECT version FROM flow_layouts WHERE work_request_id = $1 AND user_id = $2`,
		workRequestID, userID,
	).Scan(&current)
	if err != nil && !isNoRows(err) {
		return fmt.Errorf("flowchain: read current layout version: %w", err)
	}
	return &flowchain.ConflictError{Expected: expected, Current: current}
}
