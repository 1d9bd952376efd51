package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/meikuraledutech/flowchain"
	"github.com/meikuraledutech/flowchain/memory"
	"github.com/meikuraledutech/flowchain/postgres"
)

func main() {
	ctx := context.Background()

	// Use PostgreSQL when DATABASE_URL is set, otherwise the in-memory store.
	var (
		kinds   []flowchain.ArtifactKind
		layouts flowchain.LayoutStore
		rootID  int64
	)
	parent := flowchain.ParentContext{TeamID: 1, RequesterID: 42}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := postgres.Connect(ctx, dbURL, 0)
		if err != nil {
			log.Fatalf("connect: %v", err)
		}
		defer pool.Close()

		store := postgres.New(pool)
		if err := store.CreateSchema(ctx); err != nil {
			log.Fatalf("schema: %v", err)
		}
		fmt.Println("schema created")

		wr, err := store.Kind(flowchain.NodeWorkRequest)
		if err != nil {
			log.Fatalf("kind: %v", err)
		}
		root, err := wr.Create(ctx, parent, "결제 모듈 개선")
		if err != nil {
			log.Fatalf("create work request: %v", err)
		}
		kinds, layouts, rootID = store.Kinds(), store, root.ID
	} else {
		store := memory.New()
		store.Put(flowchain.Artifact{
			ID: 15, Type: flowchain.NodeWorkRequest, TeamID: parent.TeamID, RequesterID: parent.RequesterID,
			DocNo: "WR000015", Title: "결제 모듈 개선", Status: "REQUESTED",
		})
		kinds, layouts, rootID = store.Kinds(), store, 15
	}

	registry, err := flowchain.NewRegistry(kinds...)
	if err != nil {
		log.Fatalf("registry: %v", err)
	}
	svc := flowchain.NewService(registry, layouts)
	caller := flowchain.Caller{UserID: 7, TeamID: parent.TeamID}

	// ── Grow the chain ────────────────────────────────────────────────
	task, err := svc.CreateFlowItem(ctx, caller, rootID, flowchain.ItemRequest{
		ParentType: flowchain.NodeWorkRequest,
		ParentID:   rootID,
		ItemType:   flowchain.NodeTechTask,
		Title:      "신규 기술과제",
	})
	if err != nil {
		log.Fatalf("create tech task: %v", err)
	}
	fmt.Printf("created %s under %s\n", task.Node.ID, task.Edge.Source)

	scenario, err := svc.CreateFlowItem(ctx, caller, rootID, flowchain.ItemRequest{
		ParentType: flowchain.NodeTechTask,
		ParentID:   task.Node.EntityID,
		ItemType:   flowchain.NodeTestScenario,
		Title:      "결제 실패 시나리오",
	})
	if err != nil {
		log.Fatalf("create test scenario: %v", err)
	}
	fmt.Printf("created %s under %s\n", scenario.Node.ID, scenario.Edge.Source)

	// ── Derive ────────────────────────────────────────────────────────
	chain, err := svc.GetFlowChain(ctx, caller, rootID)
	if err != nil {
		log.Fatalf("flow chain: %v", err)
	}
	fmt.Println("\nflow chain:")
	printJSON(chain)

	// ── Layout ────────────────────────────────────────────────────────
	state, err := svc.GetFlowUIState(ctx, caller, rootID)
	if err != nil {
		log.Fatalf("get layout: %v", err)
	}
	positions := make(map[string]flowchain.Position, len(chain.Nodes))
	for i, n := range chain.Nodes {
		positions[n.ID] = flowchain.Position{X: 100, Y: float64(100 + i*120)}
	}
	saved, err := svc.SaveFlowUIState(ctx, caller, rootID, flowchain.SaveLayoutRequest{
		ExpectedVersion: state.Version,
		Positions:       positions,
		CustomNodes:     []flowchain.Node{{Title: "배포 전 확인"}},
	})
	if err != nil {
		log.Fatalf("save layout: %v", err)
	}
	fmt.Printf("\nlayout saved at version %d\n", saved.Version)

	// A second save from the same stale version loses.
	_, err = svc.SaveFlowUIState(ctx, caller, rootID, flowchain.SaveLayoutRequest{ExpectedVersion: state.Version})
	fmt.Printf("stale save: %v\n", err)
}

func printJSON(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}
