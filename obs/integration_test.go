package obs_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/highlight-relay/obs"
	"github.com/onnwee/highlight-relay/testutil"
)

type memSettings struct {
	mu sync.Mutex
	cs obs.ConnectSettings
	hs obs.HighlightSettings
}

func (s *memSettings) ConnectSettings(context.Context) (obs.ConnectSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cs, nil
}

func (s *memSettings) HighlightSettings(context.Context) (obs.HighlightSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hs, nil
}

func newLiveClient(t *testing.T, srv *testutil.MockOBSServer, password string) *obs.Client {
	t.Helper()
	settings := &memSettings{
		cs: obs.ConnectSettings{URL: srv.WSURL(), Password: password},
		hs: obs.HighlightSettings{Target: "TwitchHighlight", Duration: 8 * time.Second},
	}
	c := obs.NewClient(obs.Options{
		Settings:      settings,
		ReconnectStep: 20 * time.Millisecond,
	})
	t.Cleanup(c.Close)
	if err := c.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

func waitReady(t *testing.T, c *obs.Client) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st := c.Status(); st.Connected && st.Authenticated {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never became ready; status %+v", c.Status())
}

func TestLiveHandshakeAndRequest(t *testing.T) {
	srv := testutil.NewMockOBSServer(t, "hunter2")
	srv.Handlers["GetVersion"] = func(json.RawMessage) testutil.MockResponse {
		return testutil.MockResponse{Result: true, Code: 100, Data: map[string]string{"obsVersion": "30.1.2"}}
	}
	c := newLiveClient(t, srv, "hunter2")
	waitReady(t, c)

	resp, err := c.Request(t.Context(), "GetVersion", nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	var ver struct {
		OBSVersion string `json:"obsVersion"`
	}
	if err := json.Unmarshal(resp, &ver); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if ver.OBSVersion != "30.1.2" {
		t.Errorf("obsVersion = %q, want 30.1.2", ver.OBSVersion)
	}
}

func TestLiveHighlightFlow(t *testing.T) {
	srv := testutil.NewMockOBSServer(t, "")
	var mu sync.Mutex
	var pushedURL string
	srv.Handlers["GetInputSettings"] = func(json.RawMessage) testutil.MockResponse {
		return testutil.MockResponse{Result: true, Code: 100, Data: map[string]any{
			"inputSettings": map[string]any{"url": "http://localhost:3000/overlay"},
		}}
	}
	srv.Handlers["SetInputSettings"] = func(data json.RawMessage) testutil.MockResponse {
		var req struct {
			InputSettings struct {
				URL string `json:"url"`
			} `json:"inputSettings"`
		}
		_ = json.Unmarshal(data, &req)
		mu.Lock()
		pushedURL = req.InputSettings.URL
		mu.Unlock()
		return testutil.MockResponse{Result: true, Code: 100}
	}

	c := newLiveClient(t, srv, "")
	waitReady(t, c)

	ev := obs.MessageEvent{
		Username:  "viewer42",
		Message:   "clip it",
		Color:     "#1E90FF",
		Timestamp: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := c.Highlight(t.Context(), ev); err != nil {
		t.Fatalf("Highlight: %v", err)
	}

	mu.Lock()
	u, err := url.Parse(pushedURL)
	mu.Unlock()
	if err != nil {
		t.Fatalf("pushed url unparseable: %v", err)
	}
	q := u.Query()
	if q.Get("username") != "viewer42" || q.Get("message") != "clip it" || q.Get("duration") != "8" {
		t.Errorf("pushed query = %v", q)
	}

	var types []string
	for _, r := range srv.Requests() {
		types = append(types, r.RequestType)
	}
	want := []string{"GetInputSettings", "SetInputSettings", "PressInputPropertiesButton"}
	if len(types) != len(want) {
		t.Fatalf("request sequence = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("request sequence = %v, want %v", types, want)
		}
	}
}

func TestLiveMissingTarget(t *testing.T) {
	srv := testutil.NewMockOBSServer(t, "")
	srv.Handlers["GetInputSettings"] = func(json.RawMessage) testutil.MockResponse {
		return testutil.MockResponse{Result: false, Code: 600, Comment: "No source was found"}
	}
	c := newLiveClient(t, srv, "")
	waitReady(t, c)

	err := c.Highlight(t.Context(), obs.MessageEvent{Username: "u", Message: "m"})
	var te *obs.TargetError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TargetError", err)
	}
}

func TestLiveReconnectAfterDrop(t *testing.T) {
	srv := testutil.NewMockOBSServer(t, "hunter2")
	c := newLiveClient(t, srv, "hunter2")
	waitReady(t, c)

	srv.DropConnections()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && c.Status().Connected {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Status().Connected {
		t.Fatal("client never noticed the dropped connection")
	}

	// The supervisor re-authenticates on its own.
	waitReady(t, c)
	if _, err := c.Request(t.Context(), "GetSceneList", nil); err != nil {
		t.Fatalf("request after reconnect: %v", err)
	}
}

func TestLiveDisconnectStopsRetrying(t *testing.T) {
	srv := testutil.NewMockOBSServer(t, "")
	c := newLiveClient(t, srv, "")
	waitReady(t, c)

	c.Disconnect()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && c.Status().Connected {
		time.Sleep(5 * time.Millisecond)
	}
	if c.Status().Connected {
		t.Fatal("still connected after Disconnect")
	}
	if _, err := c.Request(t.Context(), "GetVersion", nil); !errors.Is(err, obs.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}

	// No new sessions appear after an explicit disconnect.
	before := len(srv.Requests())
	time.Sleep(150 * time.Millisecond)
	if after := len(srv.Requests()); after != before {
		t.Errorf("saw %d new requests after Disconnect", after-before)
	}
}
