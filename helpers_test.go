package flowchain_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meikuraledutech/flowchain"
	"github.com/meikuraledutech/flowchain/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	teamID      = int64(1)
	otherTeamID = int64(2)
	userID      = int64(7)
	requesterID = int64(42)
	rootID      = int64(15)
)

var (
	caller    = flowchain.Caller{UserID: userID, TeamID: teamID}
	fixedTime = time.UnixMilli(1_700_000_000_000)
)

type published struct {
	topic string
	msg   []byte
}

// recordingPublisher keeps every message; if err is set it fails instead.
type recordingPublisher struct {
	mu   sync.Mutex
	err  error
	msgs []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic: topic, msg: msg})
	return nil
}

func (p *recordingPublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published{}, p.msgs...)
}

type fixture struct {
	store *memory.Store
	svc   *flowchain.Service
	pub   *recordingPublisher
	logs  *observer.ObservedLogs
	reg   *prometheus.Registry
}

// newFixture seeds WR-15 in teamID and returns a service over a memory store.
func newFixture(t *testing.T, opts ...flowchain.Option) *fixture {
	t.Helper()
	store := memory.New()
	registry, err := flowchain.NewRegistry(store.Kinds()...)
	require.NoError(t, err)
	return newFixtureWith(t, store, registry, opts...)
}

func newFixtureWith(t *testing.T, store *memory.Store, registry *flowchain.Registry, opts ...flowchain.Option) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{
		store: store,
		pub:   &recordingPublisher{},
		logs:  logs,
		reg:   prometheus.NewRegistry(),
	}
	base := []flowchain.Option{
		flowchain.WithLogger(zap.New(core)),
		flowchain.WithPublisher(f.pub),
		flowchain.WithMetrics(flowchain.NewMetrics(f.reg)),
		flowchain.WithClock(func() time.Time { return fixedTime }),
	}
	f.svc = flowchain.NewService(registry, store, append(base, opts...)...)
	f.put(flowchain.NodeWorkRequest, rootID, teamID, "결제 모듈 개선")
	return f
}

func (f *fixture) put(t flowchain.NodeType, id, team int64, title string) {
	f.store.Put(flowchain.Artifact{
		ID:          id,
		Type:        t,
		TeamID:      team,
		RequesterID: requesterID,
		DocNo:       flowchain.NodeID(t, id),
		Title:       title,
		Status:      "OPEN",
		Priority:    "MEDIUM",
	})
}

func (f *fixture) link(ownerType flowchain.NodeType, ownerID int64, refType flowchain.NodeType, refID int64) {
	f.store.Link(ownerType, ownerID, refType, refID)
}

func nodeIDs(c *flowchain.Chain) []string {
	ids := make([]string, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func edgePairs(c *flowchain.Chain) [][2]string {
	pairs := make([][2]string, 0, len(c.Edges))
	for _, e := range c.Edges {
		pairs = append(pairs, [2]string{e.Source, e.Target})
	}
	return pairs
}

// assertAcyclic walks the chain's edges depth-first and fails on a back edge.
func assertAcyclic(t *testing.T, c *flowchain.Chain) {
	t.Helper()
	adj := make(map[string][]string)
	for _, e := range c.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int)

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				return false
			case white:
				if !visit(next) {
					return false
				}
			}
		}
		color[id] = black
		return true
	}

	for _, n := range c.Nodes {
		if color[n.ID] == white {
			require.True(t, visit(n.ID), "cycle through %s", n.ID)
		}
	}
}

// counterValue reads a counter from reg by metric name and single label value.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
