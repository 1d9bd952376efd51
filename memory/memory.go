// Package memory is a process-local flowchain store. It backs the service in
// tests and in single-node development setups without PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meikuraledutech/flowchain"
)

type layoutKey struct {
	workRequestID int64
	userID        int64
}

// Store holds artifacts, their links, and layouts in maps guarded by one mutex.
type Store struct {
	mu        sync.Mutex
	nextID    map[flowchain.NodeType]int64
	artifacts map[flowchain.NodeType]map[int64]flowchain.Artifact
	refs      map[flowchain.NodeType]map[int64][]flowchain.RelatedRef
	layouts   map[layoutKey]flowchain.Layout
	now       func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		nextID:    make(map[flowchain.NodeType]int64),
		artifacts: make(map[flowchain.NodeType]map[int64]flowchain.Artifact),
		refs:      make(map[flowchain.NodeType]map[int64][]flowchain.RelatedRef),
		layouts:   make(map[layoutKey]flowchain.Layout),
		now:       time.Now,
	}
}

// Kinds returns one ArtifactKind per artifact type, all backed by s.
func (s *Store) Kinds() []flowchain.ArtifactKind {
	kinds := make([]flowchain.ArtifactKind, 0, len(flowchain.ArtifactTypes))
	for _, t := range flowchain.ArtifactTypes {
		kinds = append(kinds, s.Kind(t))
	}
	return kinds
}

// Kind returns the ArtifactKind for t.
func (s *Store) Kind(t flowchain.NodeType) *Kind {
	return &Kind{store: s, typ: t}
}

// Put stores a with a fixed id, replacing any artifact with the same type and id.
// It is meant for seeding.
func (s *Store) Put(a flowchain.Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifacts[a.Type] == nil {
		s.artifacts[a.Type] = make(map[int64]flowchain.Artifact)
	}
	s.artifacts[a.Type][a.ID] = a
	if a.ID > s.nextID[a.Type] {
		s.nextID[a.Type] = a.ID
	}
}

// Link appends a ref from (ownerType, ownerID) to (refType, refID), including
// ref types the flow chain does not render.
func (s *Store) Link(ownerType flowchain.NodeType, ownerID int64, refType flowchain.NodeType, refID int64) flowchain.RelatedRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link(ownerType, ownerID, refType, refID)
}

func (s *Store) link(ownerType flowchain.NodeType, ownerID int64, refType flowchain.NodeType, refID int64) flowchain.RelatedRef {
	if s.refs[ownerType] == nil {
		s.refs[ownerType] = make(map[int64][]flowchain.RelatedRef)
	}
	existing := s.refs[ownerType][ownerID]
	for _, r := range existing {
		if r.RefType == refType && r.RefID == refID {
			return r
		}
	}
	next := 0
	for _, r := range existing {
		if r.SortOrder >= next {
			next = r.SortOrder + 1
		}
	}
	ref := flowchain.RelatedRef{OwnerID: ownerID, RefType: refType, RefID: refID, SortOrder: next}
	s.refs[ownerType][ownerID] = append(existing, ref)
	return ref
}

// GetLayout implements flowchain.LayoutStore.
func (s *Store) GetLayout(_ context.Context, workRequestID, userID int64) (*flowchain.Layout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layouts[layoutKey{workRequestID, userID}]
	if !ok {
		return nil, nil
	}
	return cloneLayout(&l), nil
}

// SaveLayout implements flowchain.LayoutStore with a compare-and-set on version.
func (s *Store) SaveLayout(_ context.Context, l *flowchain.Layout, expectedVersion int64) (*flowchain.Layout, error) {
	if l.Version != expectedVersion+1 {
		return nil, fmt.Errorf("memory: layout version %d does not follow %d", l.Version, expectedVersion)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := layoutKey{l.WorkRequestID, l.UserID}
	stored, exists := s.layouts[key]
	var current int64
	if exists {
		current = stored.Version
	}
	if current != expectedVersion {
		return nil, &flowchain.ConflictError{Expected: expectedVersion, Current: current}
	}

	now := s.now().UTC()
	saved := cloneLayout(l)
	saved.UpdatedAt = now
	saved.CreatedAt = now
	if exists {
		saved.CreatedAt = stored.CreatedAt
	}
	s.layouts[key] = *saved
	return cloneLayout(saved), nil
}

func cloneLayout(l *flowchain.Layout) *flowchain.Layout {
	c := *l
	c.Positions = make(map[string]flowchain.Position, len(l.Positions))
	for k, v := range l.Positions {
		c.Positions[k] = v
	}
	c.Edges = append([]flowchain.Edge{}, l.Edges...)
	c.CustomNodes = append([]flowchain.Node{}, l.CustomNodes...)
	return &c
}

// Kind is the in-memory domain service of one artifact type.
type Kind struct {
	store *Store
	typ   flowchain.NodeType
}

func (k *Kind) Type() flowchain.NodeType { return k.typ }

// Create stores a new artifact with the next id of its type.
func (k *Kind) Create(_ context.Context, parent flowchain.ParentContext, title string) (*flowchain.Artifact, error) {
	s := k.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID[k.typ]++
	id := s.nextID[k.typ]
	a := flowchain.Artifact{
		ID:          id,
		Type:        k.typ,
		TeamID:      parent.TeamID,
		RequesterID: parent.RequesterID,
		DocNo:       fmt.Sprintf("%s%06d", k.typ.Tag(), id),
		Title:       title,
		Status:      "OPEN",
		Priority:    "MEDIUM",
	}
	if s.artifacts[k.typ] == nil {
		s.artifacts[k.typ] = make(map[int64]flowchain.Artifact)
	}
	s.artifacts[k.typ][id] = a
	return &a, nil
}

// Describe returns nil, nil for unknown ids.
func (k *Kind) Describe(_ context.Context, id int64) (*flowchain.Artifact, error) {
	s := k.store
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[k.typ][id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// Refs returns a copy of the owner's links in sort order.
func (k *Kind) Refs(_ context.Context, ownerID int64) ([]flowchain.RelatedRef, error) {
	s := k.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]flowchain.RelatedRef{}, s.refs[k.typ][ownerID]...), nil
}

func (k *Kind) AddRef(_ context.Context, ownerID int64, refType flowchain.NodeType, refID int64) (*flowchain.RelatedRef, error) {
	s := k.store
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := s.link(k.typ, ownerID, refType, refID)
	return &ref, nil
}
