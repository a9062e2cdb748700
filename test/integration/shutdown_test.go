package integration

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/4RD4024N/secure-voice-app/internal/server"
	"github.com/4RD4024N/secure-voice-app/test/testhelpers"
)

// TestGracefulShutdown verifies that the hub shuts down cleanly when idle.
func TestGracefulShutdown(t *testing.T) {
	hub := server.NewHub()
	go hub.Run()

	time.Sleep(50 * time.Millisecond)

	if err := hub.Shutdown(5 * time.Second); err != nil {
		t.Errorf("Hub shutdown failed: %v", err)
	}
}

// TestGracefulShutdownWithClients verifies that active client connections
// are properly closed during graceful shutdown.
func TestGracefulShutdownWithClients(t *testing.T) {
	cfg := server.NewConfig()
	server.SetConfig(cfg)
	defer server.SetConfig(nil)

	hub := server.NewHub()
	go hub.Run()

	ts := testhelpers.CreateTestServer(server.SetupRoutes(hub))
	wsURL := testhelpers.WebSocketURL(ts)

	numClients := 5
	clients := make([]*websocket.Conn, 0, numClients)
	for i := 0; i < numClients; i++ {
		clients = append(clients, testhelpers.ConnectWebSocket(t, wsURL))
	}

	// Give the hub time to register every connection.
	time.Sleep(100 * time.Millisecond)

	if err := hub.Shutdown(5 * time.Second); err != nil {
		t.Errorf("Hub shutdown failed: %v", err)
	}
	ts.Close()

	// Every client should observe its connection closing.
	for i, conn := range clients {
		if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatalf("Failed to set read deadline for client %d: %v", i, err)
		}
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Errorf("Client %d still receiving after shutdown", i)
		}
		_ = conn.Close()
	}
}

// TestUpgradeAfterShutdownClosesConnection verifies that an upgrade racing
// hub shutdown does not strand the handler goroutine: the connection is
// closed instead of waiting on a hub loop that no longer drains registrations.
func TestUpgradeAfterShutdownClosesConnection(t *testing.T) {
	cfg := server.NewConfig()
	server.SetConfig(cfg)
	defer server.SetConfig(nil)

	hub := server.NewHub()
	go hub.Run()

	ts := testhelpers.CreateTestServer(server.SetupRoutes(hub))
	defer ts.Close()

	if err := hub.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Hub shutdown failed: %v", err)
	}

	// The upgrade itself still succeeds; the handler then closes the
	// connection rather than blocking on register.
	conn := testhelpers.ConnectWebSocket(t, testhelpers.WebSocketURL(ts))
	defer func() { _ = conn.Close() }()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected connection to be closed after shutdown")
	}
}

// TestShutdownWithInflightFrames verifies that clients still streaming frames
// cannot wedge shutdown: read pumps holding a frame for the hub loop must
// unblock once the loop exits.
func TestShutdownWithInflightFrames(t *testing.T) {
	cfg := server.NewConfig()
	server.SetConfig(cfg)
	defer server.SetConfig(nil)

	hub := server.NewHub()
	go hub.Run()

	ts := testhelpers.CreateTestServer(server.SetupRoutes(hub))
	defer ts.Close()

	numClients := 3
	stop := make(chan struct{})
	for i := 0; i < numClients; i++ {
		conn := testhelpers.ConnectWebSocket(t, testhelpers.WebSocketURL(ts))
		go func(conn *websocket.Conn) {
			defer func() { _ = conn.Close() }()
			frame := []byte(`{"event":"get-rooms"}`)
			for {
				select {
				case <-stop:
					return
				default:
				}
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}(conn)
	}
	defer close(stop)

	// Let the writers get going before tearing the hub down.
	time.Sleep(100 * time.Millisecond)

	if err := hub.Shutdown(5 * time.Second); err != nil {
		t.Errorf("Hub shutdown failed with in-flight frames: %v", err)
	}
}

// TestShutdownDoesNotDisruptOtherHubs verifies that hubs are isolated: one
// hub shutting down leaves a second hub's clients connected.
func TestShutdownDoesNotDisruptOtherHubs(t *testing.T) {
	cfg := server.NewConfig()
	server.SetConfig(cfg)
	defer server.SetConfig(nil)

	first := server.NewHub()
	go first.Run()
	firstTS := testhelpers.CreateTestServer(server.SetupRoutes(first))

	second := server.NewHub()
	go second.Run()
	secondTS := testhelpers.CreateTestServer(server.SetupRoutes(second))
	t.Cleanup(func() {
		_ = second.Shutdown(5 * time.Second)
		secondTS.Close()
	})

	survivor := testhelpers.ConnectWebSocket(t, testhelpers.WebSocketURL(secondTS))
	defer func() { _ = survivor.Close() }()

	doomed := testhelpers.ConnectWebSocket(t, testhelpers.WebSocketURL(firstTS))
	defer func() { _ = doomed.Close() }()

	time.Sleep(100 * time.Millisecond)
	if err := first.Shutdown(5 * time.Second); err != nil {
		t.Errorf("First hub shutdown failed: %v", err)
	}
	firstTS.Close()

	// The surviving hub still answers queries.
	testhelpers.SendEvent(t, survivor, "get-rooms", nil)
	testhelpers.ReadUntil(t, survivor, "room-list", 2*time.Second)
}
