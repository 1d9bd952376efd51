package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/meikuraledutech/flowchain"
)

// tables names the artifact table and its RelatedRef table for one kind.
type tables struct {
	artifacts string
	refs      string
}

var kindTables = map[flowchain.NodeType]tables{
	flowchain.NodeWorkRequest:  {"work_requests", "work_request_refs"},
	flowchain.NodeTechTask:     {"tech_tasks", "tech_task_refs"},
	flowchain.NodeTestScenario: {"test_scenarios", "test_scenario_refs"},
	flowchain.NodeDefect:       {"defects", "defect_refs"},
	flowchain.NodeDeployment:   {"deployments", "deployment_refs"},
}

const artifactSchemaSQL = `
CREATE TABLE IF NOT EXISTS %[1]s (
    id            BIGSERIAL PRIMARY KEY,
    team_id       BIGINT NOT NULL,
    requester_id  BIGINT NOT NULL DEFAULT 0,
    doc_no        TEXT NOT NULL DEFAULT '',
    title         TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT '',
    priority      TEXT NOT NULL DEFAULT '',
    assignee_name TEXT NOT NULL DEFAULT '',
    version       TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS %[2]s (
    id         BIGSERIAL PRIMARY KEY,
    owner_id   BIGINT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
    ref_type   TEXT NOT NULL,
    ref_id     BIGINT NOT NULL,
    sort_order INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (owner_id, ref_type, ref_id)
);

CREATE INDEX IF NOT EXISTS idx_%[2]s_owner ON %[2]s(owner_id, sort_order);
`

const layoutSchemaSQL = `
CREATE TABLE IF NOT EXISTS flow_layouts (
    id              TEXT PRIMARY KEY,
    work_request_id BIGINT NOT NULL,
    user_id         BIGINT NOT NULL,
    team_id         BIGINT NOT NULL,
    payload         JSONB NOT NULL DEFAULT '{}',
    version         BIGINT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (work_request_id, user_id)
);
`

func schemaSQL() string {
	var b strings.Builder
	for _, t := range flowchain.ArtifactTypes {
		tb := kindTables[t]
		fmt.Fprintf(&b, artifactSchemaSQL, tb.artifacts, tb.refs)
	}
	b.WriteString(layoutSchemaSQL)
	return b.String()
}

// CreateSchema creates the artifact, ref and flow_layouts tables if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL())
	return err
}

// DropSchema drops every table CreateSchema creates.
func (s *PGStore) DropSchema(ctx context.Context) error {
	names := []string{"flow_layouts"}
	for _, t := range flowchain.ArtifactTypes {
		names = append(names, kindTables[t].refs, kindTables[t].artifacts)
	}
	_, err := s.db.Exec(ctx, "DROP TABLE IF EXISTS "+strings.Join(names, ", ")+" CASCADE;")
	return err
}
