package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/highlight-relay/obs"
)

type recordingHighlighter struct {
	mu     sync.Mutex
	events []obs.MessageEvent
	err    error
	got    chan struct{}
}

func newRecordingHighlighter() *recordingHighlighter {
	return &recordingHighlighter{got: make(chan struct{}, 16)}
}

func (r *recordingHighlighter) Highlight(ctx context.Context, ev obs.MessageEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.got <- struct{}{}
	return r.err
}

func (r *recordingHighlighter) all() []obs.MessageEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]obs.MessageEvent(nil), r.events...)
}

func newTestObserver(h Highlighter) *Observer {
	o := &Observer{
		Channel:         "somechannel",
		Highlighter:     h,
		DispatchTimeout: time.Second,
		log:             slog.Default(),
	}
	o.byID = make(map[string]obs.MessageEvent)
	o.lastByUser = make(map[string]string)
	return o
}

func chatLine(id, user, text string) twitch.PrivateMessage {
	return twitch.PrivateMessage{
		ID:      id,
		Message: text,
		Time:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		User: twitch.User{
			Name:        user,
			DisplayName: user,
			Color:       "#FF0000",
		},
	}
}

func modLine(id, user, text string) twitch.PrivateMessage {
	msg := chatLine(id, user, text)
	msg.User.Badges = map[string]int{"moderator": 1}
	return msg
}

func waitEvent(t *testing.T, h *recordingHighlighter) {
	t.Helper()
	select {
	case <-h.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for highlight dispatch")
	}
}

func TestReplyFlagHighlightsOriginalMessage(t *testing.T) {
	h := newRecordingHighlighter()
	o := newTestObserver(h)

	o.handleMessage(t.Context(), chatLine("m1", "viewer", "what a play!"))

	flag := modLine("m2", "themod", "!highlight")
	flag.Reply = &twitch.Reply{ParentMsgID: "m1"}
	o.handleMessage(t.Context(), flag)
	waitEvent(t, h)

	events := h.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Username != "viewer" || ev.Message != "what a play!" || ev.Color != "#FF0000" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestReplyFlagFallsBackToReplyTags(t *testing.T) {
	h := newRecordingHighlighter()
	o := newTestObserver(h)

	// Original message was never seen (evicted or pre-dating the observer).
	flag := modLine("m2", "themod", "!highlight")
	flag.Reply = &twitch.Reply{
		ParentMsgID:     "gone",
		ParentUserLogin: "viewer",
		ParentMsgBody:   "the lost message",
	}
	o.handleMessage(t.Context(), flag)
	waitEvent(t, h)

	events := h.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Message != "the lost message" || events[0].Username != "viewer" {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestUsernameFlagHighlightsLastMessage(t *testing.T) {
	h := newRecordingHighlighter()
	o := newTestObserver(h)

	o.handleMessage(t.Context(), chatLine("m1", "viewer", "first"))
	o.handleMessage(t.Context(), chatLine("m2", "viewer", "second"))
	o.handleMessage(t.Context(), modLine("m3", "themod", "!highlight @Viewer"))
	waitEvent(t, h)

	events := h.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Message != "second" {
		t.Errorf("flag resolved to %q, want the user's most recent line", events[0].Message)
	}
}

func TestNonModeratorCannotFlag(t *testing.T) {
	h := newRecordingHighlighter()
	o := newTestObserver(h)

	o.handleMessage(t.Context(), chatLine("m1", "viewer", "hello"))
	flag := chatLine("m2", "randomuser", "!highlight")
	flag.Reply = &twitch.Reply{ParentMsgID: "m1"}
	o.handleMessage(t.Context(), flag)

	time.Sleep(50 * time.Millisecond)
	if got := len(h.all()); got != 0 {
		t.Errorf("got %d events from non-moderator flag, want 0", got)
	}
}

func TestFlagWithoutTargetIsIgnored(t *testing.T) {
	h := newRecordingHighlighter()
	o := newTestObserver(h)

	o.handleMessage(t.Context(), modLine("m1", "themod", "!highlight"))
	o.handleMessage(t.Context(), modLine("m2", "themod", "!highlight @nobodyseen"))

	time.Sleep(50 * time.Millisecond)
	if got := len(h.all()); got != 0 {
		t.Errorf("got %d events, want 0", got)
	}
}

func TestRingEviction(t *testing.T) {
	h := newRecordingHighlighter()
	o := newTestObserver(h)

	for i := 0; i < recentLimit+10; i++ {
		o.handleMessage(t.Context(), chatLine(fmt.Sprintf("m%d", i), "viewer", fmt.Sprintf("line %d", i)))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.recent) != recentLimit {
		t.Errorf("ring holds %d entries, want %d", len(o.recent), recentLimit)
	}
	if _, ok := o.byID["m0"]; ok {
		t.Error("oldest entry was not evicted from the id index")
	}
	if _, ok := o.byID[fmt.Sprintf("m%d", recentLimit+9)]; !ok {
		t.Error("newest entry missing from the id index")
	}
}

func TestUserIndexEvictedWithRing(t *testing.T) {
	h := newRecordingHighlighter()
	o := newTestObserver(h)

	// One line from the quiet user, then enough traffic to push it out.
	o.handleMessage(t.Context(), chatLine("q1", "quietuser", "only line"))
	for i := 0; i < recentLimit; i++ {
		o.handleMessage(t.Context(), chatLine(fmt.Sprintf("n%d", i), fmt.Sprintf("user%d", i), "noise"))
	}

	o.mu.Lock()
	_, indexed := o.lastByUser["quietuser"]
	size := len(o.lastByUser)
	o.mu.Unlock()
	if indexed {
		t.Error("evicted user still present in the per-user index")
	}
	if size > recentLimit {
		t.Errorf("per-user index holds %d entries, want at most %d", size, recentLimit)
	}

	// A flag naming the evicted user no longer resolves.
	o.handleMessage(t.Context(), modLine("f1", "themod", "!highlight @quietuser"))
	time.Sleep(50 * time.Millisecond)
	if got := len(h.all()); got != 0 {
		t.Errorf("got %d events for an evicted user, want 0", got)
	}
}
