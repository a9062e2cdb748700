// Package testhelpers provides common utilities and helper functions for
// testing the voice room coordinator.
//
// This package contains reusable test utilities that are shared across unit
// and integration tests: creating test servers, dialing WebSocket clients,
// and exchanging protocol envelopes.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/4RD4024N/secure-voice-app/internal/server"
)

// TestOrigin is the origin header accepted by the default configuration.
const TestOrigin = "http://localhost:3000"

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// WebSocketURL derives the ws:// endpoint URL from a test server.
func WebSocketURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

// ConnectWebSocket creates a WebSocket connection to the specified URL with
// an origin header the default configuration accepts.
func ConnectWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}
	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect websocket: %v", err)
	}
	return conn
}

// SendEvent writes one protocol envelope to the connection.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	var raw json.RawMessage
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("Failed to marshal %q payload: %v", event, err)
		}
		raw = payload
	}
	if err := conn.WriteJSON(server.Envelope{Event: event, Data: raw}); err != nil {
		t.Fatalf("Failed to send %q event: %v", event, err)
	}
}

// ReadEvent reads the next protocol envelope from the connection, failing
// the test if none arrives before the timeout.
func ReadEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) server.Envelope {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var env server.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	return env
}

// ReadUntil reads envelopes until one with the given event name arrives,
// skipping unrelated pushes, and fails the test on timeout.
func ReadUntil(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) server.Envelope {
	t.Helper()

	env, ok := TryReadUntil(conn, event, timeout)
	if !ok {
		t.Fatalf("Timed out waiting for %q event", event)
	}
	return env
}

// TryReadUntil reads envelopes until one with the given event name arrives
// or the timeout elapses. Unlike ReadUntil it reports absence instead of
// failing the test.
func TryReadUntil(conn *websocket.Conn, event string, timeout time.Duration) (server.Envelope, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return server.Envelope{}, false
		}
		var env server.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return server.Envelope{}, false
		}
		if env.Event == event {
			return env, true
		}
	}
}

// DecodeData unmarshals an envelope's payload into v.
func DecodeData(t *testing.T, env server.Envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("Failed to decode %q payload: %v", env.Event, err)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
