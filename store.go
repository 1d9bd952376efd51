package flowchain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("flowchain: not found")
	ErrBadRequest       = errors.New("flowchain: bad request")
	ErrVersionConflict  = errors.New("flowchain: layout version conflict")
	ErrUnlinkedArtifact = errors.New("flowchain: artifact created but not linked")
)

// ConflictError reports a layout write against a stale version.
type ConflictError struct {
	Expected int64
	Current  int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("flowchain: layout version conflict: expected %d, current %d", e.Expected, e.Current)
}

func (e *ConflictError) Unwrap() error { return ErrVersionConflict }

// ArtifactKind is the domain service for one artifact type.
type ArtifactKind interface {
	Type() NodeType

	// Create persists a new artifact of this kind.
	Create(ctx context.Context, parent ParentContext, title string) (*Artifact, error)
	// Describe returns the artifact's current state, or nil, nil if it does not exist.
	Describe(ctx context.Context, id int64) (*Artifact, error)

	// Refs lists the RelatedRef rows owned by the artifact, in sort order.
	Refs(ctx context.Context, ownerID int64) ([]RelatedRef, error)
	// AddRef appends a link from ownerID to (refType, refID).
	// Adding an existing link returns the existing row.
	AddRef(ctx context.Context, ownerID int64, refType NodeType, refID int64) (*RelatedRef, error)
}

// LayoutStore persists flow layouts keyed by (work request, user).
type LayoutStore interface {
	// GetLayout returns nil, nil if the user never saved a layout.
	GetLayout(ctx context.Context, workRequestID, userID int64) (*Layout, error)
	// SaveLayout writes l if the stored version equals expectedVersion
	// (0 meaning no row yet). On mismatch it returns a *ConflictError and
	// leaves the stored row untouched. l.Version must be expectedVersion+1.
	SaveLayout(ctx context.Context, l *Layout, expectedVersion int64) (*Layout, error)
}

// Publisher sends a message on a topic. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg []byte) error
}
