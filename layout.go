package flowchain

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxLayoutEntries = 5000

// GetFlowUIState returns the caller's saved layout for the work request, or
// an empty layout at version 0 if none was saved yet. It never writes.
func (s *Service) GetFlowUIState(ctx context.Context, caller Caller, workRequestID int64) (*Layout, error) {
	if _, err := s.describeRoot(ctx, caller, workRequestID); err != nil {
		return nil, err
	}
	l, err := s.layouts.GetLayout(ctx, workRequestID, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("flowchain: get layout: %w", err)
	}
	if l == nil {
		return EmptyLayout(workRequestID, caller.UserID, caller.TeamID), nil
	}
	if l.TeamID != caller.TeamID {
		return nil, fmt.Errorf("%w: layout of work request %d", ErrNotFound, workRequestID)
	}
	return l, nil
}

// SaveFlowUIState stores the caller's layout if req.ExpectedVersion matches
// the stored version, then notifies subscribers of the work request.
// A stale version yields a *ConflictError and changes nothing.
func (s *Service) SaveFlowUIState(ctx context.Context, caller Caller, workRequestID int64, req SaveLayoutRequest) (*Layout, error) {
	if err := normalizeLayout(&req); err != nil {
		return nil, err
	}
	if _, err := s.describeRoot(ctx, caller, workRequestID); err != nil {
		return nil, err
	}

	l := &Layout{
		WorkRequestID: workRequestID,
		UserID:        caller.UserID,
		TeamID:        caller.TeamID,
		Positions:     req.Positions,
		Edges:         req.Edges,
		CustomNodes:   req.CustomNodes,
		Version:       req.ExpectedVersion + 1,
	}
	saved, err := s.layouts.SaveLayout(ctx, l, req.ExpectedVersion)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			s.metrics.layoutSaved("conflict")
			s.logger.Info("flow layout conflict",
				zap.Int64("work_request_id", workRequestID),
				zap.Int64("user_id", caller.UserID),
				zap.Int64("expected_version", req.ExpectedVersion),
				zap.Error(err))
			return nil, err
		}
		s.metrics.layoutSaved("error")
		return nil, fmt.Errorf("flowchain: save layout: %w", err)
	}

	s.metrics.layoutSaved("ok")
	s.logger.Debug("flow layout saved",
		zap.Int64("work_request_id", workRequestID),
		zap.Int64("user_id", caller.UserID),
		zap.Int64("version", saved.Version))

	s.publishUpdated(ctx, workRequestID, caller.UserID)
	return saved, nil
}

// normalizeLayout validates req and fills in derived ids and defaults.
func normalizeLayout(req *SaveLayoutRequest) error {
	if req.ExpectedVersion < 0 {
		return fmt.Errorf("%w: expectedVersion must not be negative", ErrBadRequest)
	}
	if len(req.Positions) > maxLayoutEntries || len(req.Edges) > maxLayoutEntries || len(req.CustomNodes) > maxLayoutEntries {
		return fmt.Errorf("%w: layout exceeds %d entries", ErrBadRequest, maxLayoutEntries)
	}

	if req.Positions == nil {
		req.Positions = map[string]Position{}
	}
	for id, p := range req.Positions {
		if id == "" {
			return fmt.Errorf("%w: position with empty node id", ErrBadRequest)
		}
		if !finite(p.X) || !finite(p.Y) {
			return fmt.Errorf("%w: position of %s is not finite", ErrBadRequest, id)
		}
	}

	if req.Edges == nil {
		req.Edges = []Edge{}
	}
	edgeIDs := make(map[string]bool, len(req.Edges))
	for i := range req.Edges {
		e := &req.Edges[i]
		if e.Source == "" || e.Target == "" {
			return fmt.Errorf("%w: edge %d needs source and target", ErrBadRequest, i)
		}
		if e.Source == e.Target {
			return fmt.Errorf("%w: edge %d loops on %s", ErrBadRequest, i, e.Source)
		}
		if e.ID == "" {
			e.ID = EdgeID(e.Source, e.Target)
		}
		if edgeIDs[e.ID] {
			return fmt.Errorf("%w: duplicate edge %s", ErrBadRequest, e.ID)
		}
		edgeIDs[e.ID] = true
	}

	if req.CustomNodes == nil {
		req.CustomNodes = []Node{}
	}
	nodeIDs := make(map[string]bool, len(req.CustomNodes))
	for i := range req.CustomNodes {
		n := &req.CustomNodes[i]
		if n.NodeType == "" {
			n.NodeType = NodeCustom
		}
		t, err := ParseNodeType(string(n.NodeType))
		if err != nil {
			return err
		}
		n.NodeType = t
		if n.ID == "" {
			n.ID = "custom-" + uuid.NewString()
		}
		if nodeIDs[n.ID] {
			return fmt.Errorf("%w: duplicate custom node %s", ErrBadRequest, n.ID)
		}
		nodeIDs[n.ID] = true
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
