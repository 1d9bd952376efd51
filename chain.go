package flowchain

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// GetFlowChain derives the graph of artifacts reachable from the root work
// request by breadth-first traversal of RelatedRef links.
//
// Each artifact appears once; the edge that first discovers it is the only
// edge emitted for it. Display fields are read fresh from every kind.
// Truncated is set when the node or depth limit leaves out a renderable artifact.
// Returns ErrNotFound if the root is missing or belongs to another team.
func (s *Service) GetFlowChain(ctx context.Context, caller Caller, rootID int64) (*Chain, error) {
	t, err := s.derive(ctx, caller, rootID)
	if err != nil {
		return nil, err
	}
	return t.chain, nil
}

// traversal is a derived chain plus what CreateFlowItem needs to know about
// where it was cut.
type traversal struct {
	chain *Chain
	// depth is the number of links between the root and each node.
	depth map[string]int
	// full is set when the node limit stopped the traversal.
	full bool
}

func (s *Service) derive(ctx context.Context, caller Caller, rootID int64) (*traversal, error) {
	root, err := s.describeRoot(ctx, caller, rootID)
	if err != nil {
		return nil, err
	}

	rootNode := root.Node()
	t := &traversal{
		chain: &Chain{Nodes: []Node{rootNode}, Edges: []Edge{}},
		depth: map[string]int{rootNode.ID: 0},
	}
	queue := []*Artifact{root}

traverse:
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		source := NodeID(cur.Type, cur.ID)
		curDepth := t.depth[source]

		owner, ok := s.kinds.Kind(cur.Type)
		if !ok {
			continue
		}
		refs, err := owner.Refs(ctx, cur.ID)
		if err != nil {
			return nil, fmt.Errorf("flowchain: refs of %s: %w", source, err)
		}
		sortRefs(refs)

		for _, ref := range refs {
			art, err := s.linked(ctx, root.TeamID, source, ref, t.depth)
			if err != nil {
				return nil, err
			}
			if art == nil {
				continue
			}
			// Breadth-first order means nothing shallower is left to find
			// this artifact, so a cut here really hides it.
			if curDepth >= s.maxDepth {
				t.chain.Truncated = true
				break
			}
			if len(t.chain.Nodes) >= s.maxNodes {
				t.chain.Truncated = true
				t.full = true
				break traverse
			}

			node := art.Node()
			t.depth[node.ID] = curDepth + 1
			t.chain.Nodes = append(t.chain.Nodes, node)
			t.chain.Edges = append(t.chain.Edges, NewEdge(source, node.ID))
			queue = append(queue, art)
		}
	}

	if t.chain.Truncated {
		s.logger.Warn("flow chain truncated",
			zap.Int64("work_request_id", rootID),
			zap.Int("max_nodes", s.maxNodes),
			zap.Int("max_depth", s.maxDepth),
			zap.Bool("node_limit", t.full))
	}
	s.metrics.chainDerived(len(t.chain.Nodes))
	return t, nil
}

// linked resolves ref into the artifact it would add to the chain, or nil if
// the ref is not rendered: unknown type, already visited, dangling, or owned
// by another team.
func (s *Service) linked(ctx context.Context, teamID int64, source string, ref RelatedRef, visited map[string]int) (*Artifact, error) {
	kind, ok := s.kinds.Kind(ref.RefType)
	if !ok {
		return nil, nil
	}
	id := NodeID(ref.RefType, ref.RefID)
	if _, seen := visited[id]; seen {
		return nil, nil
	}

	art, err := kind.Describe(ctx, ref.RefID)
	if err != nil {
		return nil, fmt.Errorf("flowchain: describe %s: %w", id, err)
	}
	if art == nil {
		s.logger.Debug("skipping dangling ref",
			zap.String("source", source),
			zap.String("target", id))
		return nil, nil
	}
	if art.TeamID != teamID {
		s.logger.Debug("skipping ref outside team",
			zap.String("source", source),
			zap.String("target", id),
			zap.Int64("team_id", art.TeamID))
		return nil, nil
	}
	return art, nil
}

// CheckAccess returns ErrNotFound unless the work request exists and belongs
// to the caller's team.
func (s *Service) CheckAccess(ctx context.Context, caller Caller, workRequestID int64) error {
	_, err := s.describeRoot(ctx, caller, workRequestID)
	return err
}

// describeRoot loads the root work request and checks it is visible to caller.
func (s *Service) describeRoot(ctx context.Context, caller Caller, rootID int64) (*Artifact, error) {
	if rootID <= 0 {
		return nil, fmt.Errorf("%w: work request %d", ErrNotFound, rootID)
	}
	kind, err := s.kinds.mustKind(NodeWorkRequest)
	if err != nil {
		return nil, err
	}
	root, err := kind.Describe(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("flowchain: describe work request %d: %w", rootID, err)
	}
	if root == nil || root.TeamID != caller.TeamID {
		return nil, fmt.Errorf("%w: work request %d", ErrNotFound, rootID)
	}
	return root, nil
}

// sortRefs orders refs by type priority, then sort order, then target id.
func sortRefs(refs []RelatedRef) {
	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if pa, pb := a.RefType.priority(), b.RefType.priority(); pa != pb {
			return pa < pb
		}
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.RefID < b.RefID
	})
}
