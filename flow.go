package flowchain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NodeType identifies the kind of artifact a node stands for.
type NodeType string

const (
	NodeWorkRequest  NodeType = "WORK_REQUEST"
	NodeTechTask     NodeType = "TECH_TASK"
	NodeTestScenario NodeType = "TEST_SCENARIO"
	NodeDefect       NodeType = "DEFECT"
	NodeDeployment   NodeType = "DEPLOYMENT"
	NodeCustom       NodeType = "CUSTOM"
)

// ArtifactTypes lists the persisted artifact types in traversal priority order.
var ArtifactTypes = []NodeType{
	NodeWorkRequest,
	NodeTechTask,
	NodeTestScenario,
	NodeDefect,
	NodeDeployment,
}

var nodeTags = map[NodeType]string{
	NodeWorkRequest:  "WR",
	NodeTechTask:     "TT",
	NodeTestScenario: "TS",
	NodeDefect:       "DF",
	NodeDeployment:   "DP",
}

// Tag returns the short prefix used in node ids, e.g. "WR" for work requests.
// Custom and unknown types have no tag.
func (t NodeType) Tag() string {
	return nodeTags[t]
}

// IsArtifact reports whether t names a persisted artifact type.
func (t NodeType) IsArtifact() bool {
	_, ok := nodeTags[t]
	return ok
}

// priority is the position of t in ArtifactTypes; unknown types sort last.
func (t NodeType) priority() int {
	for i, at := range ArtifactTypes {
		if at == t {
			return i
		}
	}
	return len(ArtifactTypes)
}

// ParseNodeType normalises s (case-insensitive) into a NodeType.
func ParseNodeType(s string) (NodeType, error) {
	t := NodeType(strings.ToUpper(strings.TrimSpace(s)))
	if t.IsArtifact() || t == NodeCustom {
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown node type %q", ErrBadRequest, s)
}

// NodeID builds the composite node id for an artifact, e.g. "WR-15".
func NodeID(t NodeType, entityID int64) string {
	return t.Tag() + "-" + strconv.FormatInt(entityID, 10)
}

// EdgeID builds the deterministic id of the edge source -> target.
func EdgeID(source, target string) string {
	return "edge-" + source + "-" + target
}

// Node is a vertex of the flow chain.
// Display fields are copied from the owning artifact on every read.
// Data is only carried by custom nodes stored inside a layout.
type Node struct {
	ID           string          `json:"id"`
	EntityID     int64           `json:"entityId"`
	NodeType     NodeType        `json:"nodeType"`
	DocNo        string          `json:"docNo,omitempty"`
	Title        string          `json:"title,omitempty"`
	Status       string          `json:"status,omitempty"`
	Priority     string          `json:"priority,omitempty"`
	AssigneeName string          `json:"assigneeName,omitempty"`
	Version      string          `json:"version,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Edge is a directed connection between two nodes.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// NewEdge returns the edge source -> target with its derived id.
func NewEdge(source, target string) Edge {
	return Edge{ID: EdgeID(source, target), Source: source, Target: target}
}

// Chain is the graph derived for one root work request.
type Chain struct {
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Has reports whether the chain contains the node id.
func (c *Chain) Has(nodeID string) bool {
	for _, n := range c.Nodes {
		if n.ID == nodeID {
			return true
		}
	}
	return false
}

// Position is a node's coordinate on the canvas.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Layout is one user's visual arrangement of a work request's flow chain.
type Layout struct {
	WorkRequestID int64               `json:"workRequestId"`
	UserID        int64               `json:"userId"`
	TeamID        int64               `json:"teamId"`
	Positions     map[string]Position `json:"positions"`
	Edges         []Edge              `json:"edges"`
	CustomNodes   []Node              `json:"customNodes"`
	Version       int64               `json:"version"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// EmptyLayout is the layout served before a user's first save.
func EmptyLayout(workRequestID, userID, teamID int64) *Layout {
	return &Layout{
		WorkRequestID: workRequestID,
		UserID:        userID,
		TeamID:        teamID,
		Positions:     map[string]Position{},
		Edges:         []Edge{},
		CustomNodes:   []Node{},
	}
}

// Artifact is the display record of a persisted work artifact as supplied by
// its owning domain service.
type Artifact struct {
	ID           int64
	Type         NodeType
	TeamID       int64
	RequesterID  int64
	DocNo        string
	Title        string
	Status       string
	Priority     string
	AssigneeName string
	Version      string
}

// Node projects the artifact into a chain node.
func (a *Artifact) Node() Node {
	return Node{
		ID:           NodeID(a.Type, a.ID),
		EntityID:     a.ID,
		NodeType:     a.Type,
		DocNo:        a.DocNo,
		Title:        a.Title,
		Status:       a.Status,
		Priority:     a.Priority,
		AssigneeName: a.AssigneeName,
		Version:      a.Version,
	}
}

// RelatedRef is a link row owned by an artifact pointing at another artifact.
// RefType may name types the chain does not render (ideas, meeting notes...).
type RelatedRef struct {
	OwnerID   int64
	RefType   NodeType
	RefID     int64
	SortOrder int
}

// ParentContext carries what a new artifact inherits from its parent.
type ParentContext struct {
	TeamID      int64
	RequesterID int64
	ActorID     int64
	ParentType  NodeType
	ParentID    int64
}

// Caller is the authenticated user on whose behalf an operation runs.
type Caller struct {
	UserID int64
	TeamID int64
}

// ItemRequest asks for a new artifact linked under an existing chain node.
type ItemRequest struct {
	ParentType NodeType `json:"parentType"`
	ParentID   int64    `json:"parentId"`
	ItemType   NodeType `json:"itemType"`
	Title      string   `json:"title"`
}

// ItemFragment is the graph delta produced by creating a flow item.
type ItemFragment struct {
	Node Node `json:"node"`
	Edge Edge `json:"edge"`
}

// SaveLayoutRequest is a layout write guarded by the version the client last read.
type SaveLayoutRequest struct {
	ExpectedVersion int64               `json:"expectedVersion"`
	Positions       map[string]Position `json:"positions"`
	Edges           []Edge              `json:"edges"`
	CustomNodes     []Node              `json:"customNodes"`
}
