// Package testhelpers provides common utilities and helper functions for testing the chat server.
//
// It holds HTTP and WebSocket helpers shared by package tests so request
// plumbing and assertions are not repeated in every test file.
package testhelpers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the origin sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest executes a request with an optional JSON body and cookies,
// failing the test if it cannot be sent.
func MakeRequest(t *testing.T, method, url, body string, cookies ...*http.Cookie) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// DecodeJSON decodes the response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
}

// ConnectWebSocket dials url with the test origin and an optional session
// cookie. The handshake response is returned for failed upgrades.
func ConnectWebSocket(url string, cookies ...*http.Cookie) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)
	for _, c := range cookies {
		headers.Add("Cookie", c.Name+"="+c.Value)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// SendMessage sends a text message payload.
func SendMessage(conn *websocket.Conn, content string) error {
	return conn.WriteJSON(map[string]string{"content": content, "type": "text"})
}

// ReceiveMessage reads one JSON message within timeout.
func ReceiveMessage(conn *websocket.Conn, timeout time.Duration) (map[string]any, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var message map[string]any
	err := conn.ReadJSON(&message)
	return message, err
}

// ExpectClose reads until the peer closes and checks the close code.
func ExpectClose(t *testing.T, conn *websocket.Conn, code int, timeout time.Duration) *websocket.CloseError {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		ce, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("Expected close frame %d, got %v", code, err)
		}
		if ce.Code != code {
			t.Errorf("Expected close code %d, got %d (%s)", code, ce.Code, ce.Text)
		}
		return ce
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

// AssertMessageContent checks if the received message has the expected content.
func AssertMessageContent(t *testing.T, message map[string]any, expectedContent string) {
	t.Helper()

	content, ok := message["content"]
	if !ok {
		t.Error("Message does not contain 'content' field")
		return
	}

	contentStr, ok := content.(string)
	if !ok {
		t.Error("Message content is not a string")
		return
	}

	if contentStr != expectedContent {
		t.Errorf("Expected content %q, got %q", expectedContent, contentStr)
	}
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}
