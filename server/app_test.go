package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/flowchain"
	"github.com/meikuraledutech/flowchain/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app   *fiber.App
	store *memory.Store
	svc   *flowchain.Service
}

type envOptions struct {
	kinds   []flowchain.ArtifactKind
	layouts flowchain.LayoutStore
	deps    appDeps
}

// newTestEnv serves a memory store seeded with WR-15 owned by team 1.
func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	store := memory.New()
	store.Put(flowchain.Artifact{
		ID: 15, Type: flowchain.NodeWorkRequest, TeamID: 1, RequesterID: 42,
		DocNo: "WR000015", Title: "결제 모듈 개선", Status: "REQUESTED",
	})

	kinds := opts.kinds
	if kinds == nil {
		kinds = store.Kinds()
	}
	var layouts flowchain.LayoutStore = store
	if opts.layouts != nil {
		layouts = opts.layouts
	}
	registry, err := flowchain.NewRegistry(kinds...)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	svc := flowchain.NewService(registry, layouts, flowchain.WithMetrics(flowchain.NewMetrics(reg)))

	deps := opts.deps
	deps.svc = svc
	deps.gatherer = reg
	return &testEnv{app: newApp(deps), store: store, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

var member = map[string]string{headerUserID: "7", headerTeamID: "1"}

func decode(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m), string(raw))
	return m
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	resp, raw := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func TestRequireCaller(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"no headers", nil},
		{"missing team", map[string]string{headerUserID: "7"}},
		{"non numeric user", map[string]string{headerUserID: "abc", headerTeamID: "1"}},
		{"zero team", map[string]string{headerUserID: "7", headerTeamID: "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, raw := env.do(t, http.MethodGet, "/api/work-requests/15/flow-chain", "", tt.headers)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "UNAUTHORIZED", decode(t, raw)["kind"])
		})
	}
}

func TestGetFlowChainRoute(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	t.Run("ok", func(t *testing.T) {
		resp, raw := env.do(t, http.MethodGet, "/api/work-requests/15/flow-chain", "", member)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var chain flowchain.Chain
		require.NoError(t, json.Unmarshal(raw, &chain))
		require.Len(t, chain.Nodes, 1)
		assert.Equal(t, "WR-15", chain.Nodes[0].ID)
		assert.Equal(t, "WR000015", chain.Nodes[0].DocNo)
		assert.Empty(t, chain.Edges)
		assert.NotContains(t, string(raw), "truncated")
	})

	t.Run("other team", func(t *testing.T) {
		resp, raw := env.do(t, http.MethodGet, "/api/work-requests/15/flow-chain", "",
			map[string]string{headerUserID: "7", headerTeamID: "2"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decode(t, raw)["kind"])
	})

	t.Run("non numeric id", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodGet, "/api/work-requests/abc/flow-chain", "", member)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestCreateFlowItemRoute(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, raw := env.do(t, http.MethodPost, "/api/work-requests/15/flow-chain/items",
		`{"parentType":"WORK_REQUEST","parentId":15,"itemType":"TECH_TASK","title":"신규 기술과제"}`, member)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	body := decode(t, raw)
	assert.Equal(t, "TECH_TASK", body["nodeType"])
	assert.Equal(t, "신규 기술과제", body["title"])
	assert.Equal(t, "WR-15", body["edgeSource"])
	assert.Equal(t, body["nodeId"], body["edgeTarget"])
	assert.Equal(t, "edge-WR-15-"+body["nodeId"].(string), body["edgeId"])
	assert.NotEmpty(t, body["docNo"])
	assert.NotEmpty(t, body["status"])

	_, raw = env.do(t, http.MethodGet, "/api/work-requests/15/flow-chain", "", member)
	var chain flowchain.Chain
	require.NoError(t, json.Unmarshal(raw, &chain))
	assert.Equal(t, []flowchain.Edge{flowchain.NewEdge("WR-15", body["nodeId"].(string))}, chain.Edges)

	t.Run("invalid body", func(t *testing.T) {
		resp, raw := env.do(t, http.MethodPost, "/api/work-requests/15/flow-chain/items", `{"title":`, member)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "BAD_REQUEST", decode(t, raw)["kind"])
	})

	t.Run("empty title", func(t *testing.T) {
		resp, raw := env.do(t, http.MethodPost, "/api/work-requests/15/flow-chain/items",
			`{"parentType":"WORK_REQUEST","parentId":15,"itemType":"DEFECT","title":""}`, member)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "BAD_REQUEST", decode(t, raw)["kind"])
	})

	t.Run("parent outside chain", func(t *testing.T) {
		resp, raw := env.do(t, http.MethodPost, "/api/work-requests/15/flow-chain/items",
			`{"parentType":"DEFECT","parentId":3,"itemType":"DEPLOYMENT","title":"배포"}`, member)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", decode(t, raw)["kind"])
	})
}

type unlinkable struct {
	flowchain.ArtifactKind
}

func (unlinkable) AddRef(context.Context, int64, flowchain.NodeType, int64) (*flowchain.RelatedRef, error) {
	return nil, errors.New("link table locked")
}

func TestCreateFlowItemRoute_PartialCreate(t *testing.T) {
	store := memory.New()
	kinds := []flowchain.ArtifactKind{unlinkable{store.Kind(flowchain.NodeWorkRequest)}}
	for _, typ := range flowchain.ArtifactTypes[1:] {
		kinds = append(kinds, store.Kind(typ))
	}
	env := newTestEnv(t, envOptions{kinds: kinds})
	// The custom kinds read from their own store; seed the root there too.
	store.Put(flowchain.Artifact{ID: 15, Type: flowchain.NodeWorkRequest, TeamID: 1})

	resp, raw := env.do(t, http.MethodPost, "/api/work-requests/15/flow-chain/items",
		`{"parentType":"WORK_REQUEST","parentId":15,"itemType":"TECH_TASK","title":"orphan"}`, member)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decode(t, raw)
	assert.Equal(t, "PARTIAL_CREATE", body["kind"])
	assert.NotContains(t, body["error"], "locked")
}

func TestFlowUIRoutes(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	const path = "/api/work-requests/15/flow-ui"

	resp, raw := env.do(t, http.MethodGet, path, "", member)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"version":0,"positions":{},"edges":[],"customNodes":[]}`, string(raw))

	resp, raw = env.do(t, http.MethodPut, path,
		`{"expectedVersion":0,"positions":{"WR-15":{"x":100,"y":200}},"edges":[],"customNodes":[]}`, member)
	require.Equal(t, http.StatusNoContent, resp.StatusCode, string(raw))
	assert.Empty(t, raw)

	resp, raw = env.do(t, http.MethodGet, path, "", member)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, raw)
	assert.Equal(t, float64(1), body["version"])
	assert.Equal(t, map[string]any{"WR-15": map[string]any{"x": float64(100), "y": float64(200)}}, body["positions"])
	assert.Contains(t, body, "updatedAt")

	t.Run("stale version", func(t *testing.T) {
		resp, raw := env.do(t, http.MethodPut, path, `{"expectedVersion":0}`, member)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		body := decode(t, raw)
		assert.Equal(t, "CONFLICT", body["kind"])
		assert.Equal(t, float64(1), body["currentVersion"])
		assert.NotEmpty(t, body["error"])
	})

	t.Run("negative version", func(t *testing.T) {
		resp, raw := env.do(t, http.MethodPut, path, `{"expectedVersion":-1}`, member)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "BAD_REQUEST", decode(t, raw)["kind"])
	})

	t.Run("other team", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPut, path, `{"expectedVersion":1}`,
			map[string]string{headerUserID: "7", headerTeamID: "2"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, raw := env.do(t, http.MethodGet, "/metrics", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(raw), `flowchain_layout_saves_total{result="ok"} 1`)
		assert.Contains(t, string(raw), `flowchain_layout_saves_total{result="conflict"} 1`)
	})
}

// brokenLayouts fails every call.
type brokenLayouts struct{}

func (brokenLayouts) GetLayout(context.Context, int64, int64) (*flowchain.Layout, error) {
	return nil, errors.New("connection reset by peer")
}

func (brokenLayouts) SaveLayout(context.Context, *flowchain.Layout, int64) (*flowchain.Layout, error) {
	return nil, errors.New("connection reset by peer")
}

func TestInternalError(t *testing.T) {
	env := newTestEnv(t, envOptions{layouts: brokenLayouts{}})

	resp, raw := env.do(t, http.MethodGet, "/api/work-requests/15/flow-ui", "", member)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decode(t, raw)
	assert.Equal(t, "INTERNAL", body["kind"])
	assert.NotContains(t, string(raw), "connection reset")
}

func TestFlowUIEvents_NoBroker(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	resp, raw := env.do(t, http.MethodGet, "/api/work-requests/15/flow-ui/events", "", member)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "UNAVAILABLE", decode(t, raw)["kind"])
}
