// Package testutil provides shared test fakes, most notably a scriptable
// in-process obs-websocket v5 server.
package testutil

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// ReceivedRequest is one op=6 frame the mock server saw.
type ReceivedRequest struct {
	RequestType string
	RequestID   string
	RequestData json.RawMessage
}

// MockResponse is what a scripted handler returns for a request type.
type MockResponse struct {
	Result  bool
	Code    int
	Comment string
	Data    any
}

// MockOBSServer speaks enough of the obs-websocket v5 protocol to exercise
// the client end to end: Hello (optionally demanding auth), Identify
// verification, Identified, and scripted request/response handling.
// Requests without a scripted handler succeed with empty response data.
type MockOBSServer struct {
	*httptest.Server
	T *testing.T

	// Password, when non-empty, makes Hello demand authentication with
	// the fixed Salt and Challenge below.
	Password  string
	Salt      string
	Challenge string

	Handlers map[string]func(data json.RawMessage) MockResponse

	mu       sync.Mutex
	requests []ReceivedRequest
	conns    []*websocket.Conn
}

// NewMockOBSServer starts the mock. Close is registered as test cleanup.
func NewMockOBSServer(t *testing.T, password string) *MockOBSServer {
	t.Helper()
	m := &MockOBSServer{
		T:         t,
		Password:  password,
		Salt:      "c2FsdA==",
		Challenge: "Y2hhbGxlbmdl",
		Handlers:  make(map[string]func(json.RawMessage) MockResponse),
	}
	upgrader := websocket.Upgrader{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.mu.Lock()
		m.conns = append(m.conns, conn)
		m.mu.Unlock()
		m.serve(conn)
	}))
	t.Cleanup(m.Close)
	return m
}

// WSURL returns the ws:// address clients should dial.
func (m *MockOBSServer) WSURL() string {
	return "ws" + strings.TrimPrefix(m.Server.URL, "http")
}

// Requests returns a copy of every op=6 frame received so far.
func (m *MockOBSServer) Requests() []ReceivedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ReceivedRequest(nil), m.requests...)
}

// DropConnections closes every live socket, simulating a transport failure.
func (m *MockOBSServer) DropConnections() {
	m.mu.Lock()
	conns := m.conns
	m.conns = nil
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

type frame struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

func (m *MockOBSServer) write(conn *websocket.Conn, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	b, err := json.Marshal(frame{Op: op, D: raw})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (m *MockOBSServer) serve(conn *websocket.Conn) {
	hello := map[string]any{
		"obsWebSocketVersion": "5.3.0",
		"rpcVersion":          1,
	}
	if m.Password != "" {
		hello["authentication"] = map[string]string{
			"challenge": m.Challenge,
			"salt":      m.Salt,
		}
	}
	if err := m.write(conn, 0, hello); err != nil {
		return
	}

	// Identify
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Op != 1 {
		m.T.Errorf("mock obs: expected Identify (op 1), got %s", raw)
		_ = conn.Close()
		return
	}
	var identify struct {
		RPCVersion     int    `json:"rpcVersion"`
		Authentication string `json:"authentication"`
	}
	if err := json.Unmarshal(f.D, &identify); err != nil {
		m.T.Errorf("mock obs: bad Identify payload: %v", err)
		_ = conn.Close()
		return
	}
	if m.Password != "" {
		if identify.Authentication != authDigest(m.Password, m.Salt, m.Challenge) {
			// Real servers close with code 4009 on auth failure.
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(4009, "authentication failed"))
			_ = conn.Close()
			return
		}
	} else if identify.Authentication != "" {
		m.T.Error("mock obs: unexpected authentication field in Identify")
	}
	if err := m.write(conn, 2, map[string]any{"negotiatedRpcVersion": 1}); err != nil {
		return
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Op != 6 {
			continue
		}
		var req struct {
			RequestType string          `json:"requestType"`
			RequestID   string          `json:"requestId"`
			RequestData json.RawMessage `json:"requestData"`
		}
		if err := json.Unmarshal(f.D, &req); err != nil {
			continue
		}
		m.mu.Lock()
		m.requests = append(m.requests, ReceivedRequest{
			RequestType: req.RequestType,
			RequestID:   req.RequestID,
			RequestData: req.RequestData,
		})
		handler := m.Handlers[req.RequestType]
		m.mu.Unlock()

		resp := MockResponse{Result: true, Code: 100}
		if handler != nil {
			resp = handler(req.RequestData)
		}
		status := map[string]any{"result": resp.Result, "code": resp.Code}
		if resp.Comment != "" {
			status["comment"] = resp.Comment
		}
		d := map[string]any{
			"requestType":   req.RequestType,
			"requestId":     req.RequestID,
			"requestStatus": status,
		}
		if resp.Data != nil {
			d["responseData"] = resp.Data
		}
		if err := m.write(conn, 7, d); err != nil {
			return
		}
	}
}

// authDigest is an independent reference implementation of the
// challenge-response scheme, kept separate from the client's so the two
// can be checked against each other.
func authDigest(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	b64 := base64.StdEncoding.EncodeToString(secret[:])
	resp := sha256.Sum256([]byte(b64 + challenge))
	return base64.StdEncoding.EncodeToString(resp[:])
}
