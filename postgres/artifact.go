package postgres

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/flowchain"
)

// defaultStatus is the status a newly created artifact starts in.
var defaultStatus = map[flowchain.NodeType]string{
	flowchain.NodeWorkRequest:  "REQUESTED",
	flowchain.NodeTechTask:     "TODO",
	flowchain.NodeTestScenario: "DRAFT",
	flowchain.NodeDefect:       "OPEN",
	flowchain.NodeDeployment:   "PLANNED",
}

const defaultPriority = "MEDIUM"

// Kind is the PostgreSQL-backed domain service for one artifact type.
type Kind struct {
	store  *PGStore
	typ    flowchain.NodeType
	tables tables
}

// Kind returns the ArtifactKind for t, or an error if t is not an artifact type.
func (s *PGStore) Kind(t flowchain.NodeType) (*Kind, error) {
	tb, ok := kindTables[t]
	if !ok {
		return nil, fmt.Errorf("flowchain: no tables for %q", t)
	}
	return &Kind{store: s, typ: t, tables: tb}, nil
}

// Kinds returns one ArtifactKind per artifact type.
func (s *PGStore) Kinds() []flowchain.ArtifactKind {
	kinds := make([]flowchain.ArtifactKind, 0, len(flowchain.ArtifactTypes))
	for _, t := range flowchain.ArtifactTypes {
		k, _ := s.Kind(t)
		kinds = append(kinds, k)
	}
	return kinds
}

func (k *Kind) Type() flowchain.NodeType { return k.typ }

// Create inserts a new artifact and assigns its document number in one transaction.
func (k *Kind) Create(ctx context.Context, parent flowchain.ParentContext, title string) (*flowchain.Artifact, error) {
	tx, err := k.store.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("flowchain: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	a := &flowchain.Artifact{
		Type:        k.typ,
		TeamID:      parent.TeamID,
		RequesterID: parent.RequesterID,
		Title:       title,
		Status:      defaultStatus[k.typ],
		Priority:    defaultPriority,
	}
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (team_id, requester_id, title, status, priority)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`, k.tables.artifacts),
		a.TeamID, a.RequesterID, a.Title, a.Status, a.Priority,
	).Scan(&a.ID)
	if err != nil {
		return nil, fmt.Errorf("flowchain: insert %s: %w", k.typ, err)
	}

	a.DocNo = docNo(k.typ, a.ID)
	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET doc_no = $1 WHERE id = $2`, k.tables.artifacts),
		a.DocNo, a.ID,
	); err != nil {
		return nil, fmt.Errorf("flowchain: set doc no: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("flowchain: commit: %w", err)
	}
	return a, nil
}

// Describe fetches a single artifact by its ID.
// Returns nil, nil if not found.
func (k *Kind) Describe(ctx context.Context, id int64) (*flowchain.Artifact, error) {
	a := flowchain.Artifact{Type: k.typ}
	err := k.store.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, team_id, requester_id, doc_no, title, status, priority, assignee_name, version
		 FROM %s WHERE id = $1`, k.tables.artifacts), id,
	).Scan(&a.ID, &a.TeamID, &a.RequesterID, &a.DocNo, &a.Title, &a.Status, &a.Priority, &a.AssigneeName, &a.Version)

	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flowchain: get %s: %w", k.typ, err)
	}

	return &a, nil
}

// Refs returns the owner's RelatedRef rows ordered by sort_order.
// Returns an empty slice (not nil) if none found.
func (k *Kind) Refs(ctx context.Context, ownerID int64) ([]flowchain.RelatedRef, error) {
	rows, err := k.store.db.Query(ctx,
		fmt.Sprintf(`SELECT owner_id, ref_type, ref_id, sort_order FROM %s
		 WHERE owner_id = $1 ORDER BY sort_order, id`, k.tables.refs), ownerID)
	if err != nil {
		return nil, fmt.Errorf("flowchain: list refs: %w", err)
	}
	defer rows.Close()

	refs := []flowchain.RelatedRef{}
	for rows.Next() {
		var (
			r       flowchain.RelatedRef
			refType string
		)
		if err := rows.Scan(&r.OwnerID, &refType, &r.RefID, &r.SortOrder); err != nil {
			return nil, fmt.Errorf("flowchain: scan ref: %w", err)
		}
		r.RefType = flowchain.NodeType(refType)
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flowchain: rows refs: %w", err)
	}

	return refs, nil
}

// AddRef appends a link after the owner's last one. Re-adding an existing
// link returns it with its original sort order.
//
// The owner row is locked for the transaction so concurrent links on one
// owner get distinct, increasing sort orders.
func (k *Kind) AddRef(ctx context.Context, ownerID int64, refType flowchain.NodeType, refID int64) (*flowchain.RelatedRef, error) {
	tx, err := k.store.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("flowchain: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked int64
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE id = $1 FOR UPDATE`, k.tables.artifacts), ownerID,
	).Scan(&locked)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", flowchain.ErrNotFound, flowchain.NodeID(k.typ, ownerID))
		}
		return nil, fmt.Errorf("flowchain: lock %s: %w", flowchain.NodeID(k.typ, ownerID), err)
	}

	r := flowchain.RelatedRef{OwnerID: ownerID, RefType: refType, RefID: refID}
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %[1]s (owner_id, ref_type, ref_id, sort_order)
		 VALUES ($1, $2, $3, (SELECT COALESCE(MAX(sort_order) + 1, 0) FROM %[1]s WHERE owner_id = $1))
		 ON CONFLICT (owner_id, ref_type, ref_id) DO UPDATE SET ref_type = EXCLUDED.ref_type
		 RETURNING sort_order`, k.tables.refs),
		ownerID, string(refType), refID,
	).Scan(&r.SortOrder)
	if err != nil {
		return nil, fmt.Errorf("flowchain: insert ref: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("flowchain: commit: %w", err)
	}
	return &r, nil
}

// docNo renders the display number of an artifact, e.g. "TT000042".
func docNo(t flowchain.NodeType, id int64) string {
	return fmt.Sprintf("%s%06d", t.Tag(), id)
}
