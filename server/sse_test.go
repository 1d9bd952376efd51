package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/flowchain"
	"github.com/meikuraledutech/flowchain/memory"
	"github.com/meikuraledutech/flowchain/realtime"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

// serveSSE runs the app on a loopback listener with a NATS broker behind
// both the service and the event stream.
func serveSSE(t *testing.T) (baseURL string, svc *flowchain.Service) {
	t.Helper()
	srv := startTestNATSServer(t)
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	broker := realtime.NewNATS(nc, nil)
	t.Cleanup(func() { _ = broker.Close() })

	store := memory.New()
	store.Put(flowchain.Artifact{ID: 15, Type: flowchain.NodeWorkRequest, TeamID: 1})
	registry, err := flowchain.NewRegistry(store.Kinds()...)
	require.NoError(t, err)
	svc = flowchain.NewService(registry, store, flowchain.WithPublisher(broker))

	app := newApp(appDeps{svc: svc, events: broker, heartbeat: 50 * time.Millisecond})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
	}()
	t.Cleanup(func() { _ = app.ShutdownWithTimeout(2 * time.Second) })

	return "http://" + ln.Addr().String(), svc
}

func openStream(t *testing.T, url string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set(headerUserID, "7")
	req.Header.Set(headerTeamID, "1")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))
	return bufio.NewReader(resp.Body)
}

// readUntil returns the first line with the prefix, skipping everything before it.
func readUntil(t *testing.T, r *bufio.Reader, prefix string) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
}

func TestFlowUIEvents_Stream(t *testing.T) {
	baseURL, svc := serveSSE(t)
	stream := openStream(t, baseURL+"/api/work-requests/15/flow-ui/events")
	readUntil(t, stream, ": connected")

	colleague := flowchain.Caller{UserID: 8, TeamID: 1}
	_, err := svc.SaveFlowUIState(context.Background(), colleague, 15, flowchain.SaveLayoutRequest{})
	require.NoError(t, err)

	readUntil(t, stream, "event: flow-ui")
	data := readUntil(t, stream, "data: ")

	var ev flowchain.FlowUIEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &ev))
	assert.Equal(t, int64(15), ev.WorkRequestID)
	assert.Equal(t, int64(8), ev.ActorUserID)
	assert.NotZero(t, ev.SyncedAtEpochMs)
}

func TestFlowUIEvents_Heartbeat(t *testing.T) {
	baseURL, _ := serveSSE(t)
	stream := openStream(t, baseURL+"/api/work-requests/15/flow-ui/events")
	readUntil(t, stream, ": connected")
	readUntil(t, stream, ": heartbeat")
}

func TestFlowUIEvents_OtherTeam(t *testing.T) {
	baseURL, _ := serveSSE(t)

	req, err := http.NewRequest(http.MethodGet, baseURL+"/api/work-requests/15/flow-ui/events", nil)
	require.NoError(t, err)
	req.Header.Set(headerUserID, "7")
	req.Header.Set(headerTeamID, "2")

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
