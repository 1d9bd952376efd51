package flowchain

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const maxTitleLen = 200

// CreateFlowItem creates a new artifact of req.ItemType linked under the
// parent node and returns the node and edge to append to the client's graph.
//
// Parents at the depth limit, and chains at the node limit, are refused with
// ErrBadRequest since the new node would not be rendered.
//
// The artifact and its link are written in two steps. If linking fails the
// artifact stays behind without an edge and the returned error wraps
// ErrUnlinkedArtifact.
func (s *Service) CreateFlowItem(ctx context.Context, caller Caller, rootID int64, req ItemRequest) (*ItemFragment, error) {
	var err error
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrBadRequest)
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return nil, fmt.Errorf("%w: title exceeds %d characters", ErrBadRequest, maxTitleLen)
	}
	if req.ParentID <= 0 {
		return nil, fmt.Errorf("%w: parentId must be positive", ErrBadRequest)
	}
	if req.ItemType, err = ParseNodeType(string(req.ItemType)); err != nil {
		return nil, err
	}
	if req.ParentType, err = ParseNodeType(string(req.ParentType)); err != nil {
		return nil, err
	}
	itemKind, err := s.kinds.mustKind(req.ItemType)
	if err != nil {
		return nil, err
	}
	parentKind, err := s.kinds.mustKind(req.ParentType)
	if err != nil {
		return nil, err
	}

	t, err := s.derive(ctx, caller, rootID)
	if err != nil {
		return nil, err
	}
	parentNodeID := NodeID(req.ParentType, req.ParentID)
	parentDepth, ok := t.depth[parentNodeID]
	if !ok {
		return nil, fmt.Errorf("%w: node %s is not part of work request %d", ErrNotFound, parentNodeID, rootID)
	}
	// The new node must show up in the next chain, so refuse where the
	// traversal limits would hide it.
	if parentDepth >= s.maxDepth {
		return nil, fmt.Errorf("%w: node %s is at the flow chain depth limit of %d", ErrBadRequest, parentNodeID, s.maxDepth)
	}
	if len(t.chain.Nodes) >= s.maxNodes {
		return nil, fmt.Errorf("%w: flow chain of work request %d is at its limit of %d nodes", ErrBadRequest, rootID, s.maxNodes)
	}

	parent, err := parentKind.Describe(ctx, req.ParentID)
	if err != nil {
		return nil, fmt.Errorf("flowchain: describe parent %s: %w", parentNodeID, err)
	}
	if parent == nil {
		return nil, fmt.Errorf("%w: node %s", ErrNotFound, parentNodeID)
	}

	created, err := itemKind.Create(ctx, ParentContext{
		TeamID:      parent.TeamID,
		RequesterID: parent.RequesterID,
		ActorID:     caller.UserID,
		ParentType:  req.ParentType,
		ParentID:    req.ParentID,
	}, title)
	if err != nil {
		return nil, fmt.Errorf("flowchain: create %s: %w", req.ItemType, err)
	}

	if _, err := parentKind.AddRef(ctx, req.ParentID, req.ItemType, created.ID); err != nil {
		s.logger.Error("flow item created without link",
			zap.String("parent", parentNodeID),
			zap.String("orphan", NodeID(created.Type, created.ID)),
			zap.Int64("work_request_id", rootID),
			zap.Int64("actor_id", caller.UserID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s under %s: %w", ErrUnlinkedArtifact,
			NodeID(created.Type, created.ID), parentNodeID, err)
	}

	node := created.Node()
	frag := &ItemFragment{Node: node, Edge: NewEdge(parentNodeID, node.ID)}

	s.metrics.itemCreated(req.ItemType)
	s.logger.Info("flow item created",
		zap.Int64("work_request_id", rootID),
		zap.String("node", node.ID),
		zap.String("parent", parentNodeID))

	s.publishUpdated(ctx, rootID, caller.UserID)
	return frag, nil
}
