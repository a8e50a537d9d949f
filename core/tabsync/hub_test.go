package tabsync

import (
	"encoding/json"
	"testing"
	"time"

	"EchoFM/model"
)

func newTestTab(h *Hub, userID int64, tabID string) *Tab {
	return &Tab{
		Hub:    h,
		Send:   make(chan []byte, 16),
		UserID: userID,
		TabID:  tabID,
	}
}

// readMsg waits for the next message delivered to a tab.
func readMsg(t *testing.T, tab *Tab) *WSMessage {
	t.Helper()
	select {
	case data, ok := <-tab.Send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal message: %v", err)
		}
		return &msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func expectNoMsg(t *testing.T, tab *Tab) {
	t.Helper()
	select {
	case data := <-tab.Send:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func TestRegister_FirstTabGetsHelloAndOutput(t *testing.T) {
	h := startHub(t)
	tab := newTestTab(h, 1, "a")
	h.Register(tab)

	msg := readMsg(t, tab)
	if msg.Type != MsgTypeHello {
		t.Fatalf("first message type = %s, want hello", msg.Type)
	}
	var hello HelloData
	if err := json.Unmarshal(msg.Data, &hello); err != nil {
		t.Fatalf("unmarshal hello: %v", err)
	}
	if hello.HasSession {
		t.Error("hello.HasSession = true for a fresh user")
	}

	if msg := readMsg(t, tab); msg.Type != MsgTypeOutputGrant {
		t.Errorf("second message type = %s, want output_grant", msg.Type)
	}
}

func TestRegister_LateTabAdoptsSession(t *testing.T) {
	h := startHub(t)
	first := newTestTab(h, 1, "a")
	h.Register(first)
	readMsg(t, first) // hello
	readMsg(t, first) // output_grant

	snap := &model.Snapshot{
		CurrentTrack: &model.Track{ID: 5, Title: "five"},
		IsPlaying:    true,
		UpdatedAt:    100,
	}
	h.PublishSnapshot(1, snap, "")
	readMsg(t, first) // state broadcast

	second := newTestTab(h, 1, "b")
	h.Register(second)

	msg := readMsg(t, second)
	if msg.Type != MsgTypeHello {
		t.Fatalf("message type = %s, want hello", msg.Type)
	}
	var hello HelloData
	if err := json.Unmarshal(msg.Data, &hello); err != nil {
		t.Fatalf("unmarshal hello: %v", err)
	}
	if !hello.HasSession || hello.Snapshot == nil || hello.Snapshot.CurrentTrack.ID != 5 {
		t.Errorf("hello = %+v, want the live session snapshot", hello)
	}
	// The second tab must not become the output.
	expectNoMsg(t, second)
}

func TestPublishSnapshot_LatestWins(t *testing.T) {
	h := startHub(t)
	tab := newTestTab(h, 1, "a")
	h.Register(tab)
	readMsg(t, tab) // hello
	readMsg(t, tab) // output_grant

	h.PublishSnapshot(1, &model.Snapshot{UpdatedAt: 200, Volume: 70}, "")
	if msg := readMsg(t, tab); msg.Type != MsgTypeState {
		t.Fatalf("message type = %s, want state", msg.Type)
	}

	// An older snapshot arriving later is dropped.
	h.PublishSnapshot(1, &model.Snapshot{UpdatedAt: 100, Volume: 10}, "")
	expectNoMsg(t, tab)

	if got := h.LatestSnapshot(1); got == nil || got.Volume != 70 {
		t.Errorf("LatestSnapshot() = %+v, want the newer snapshot", got)
	}
}

func TestPublishSnapshot_ExcludesSourceTab(t *testing.T) {
	h := startHub(t)
	source := newTestTab(h, 1, "a")
	other := newTestTab(h, 1, "b")
	h.Register(source)
	readMsg(t, source) // hello
	readMsg(t, source) // output_grant
	h.Register(other)
	readMsg(t, other) // hello

	h.PublishSnapshot(1, &model.Snapshot{UpdatedAt: 50}, "a")

	if msg := readMsg(t, other); msg.Type != MsgTypeState {
		t.Errorf("other tab message type = %s, want state", msg.Type)
	}
	expectNoMsg(t, source)
}

func TestUnregister_PromotesSurvivingTabToOutput(t *testing.T) {
	h := startHub(t)
	first := newTestTab(h, 1, "a")
	second := newTestTab(h, 1, "b")
	h.Register(first)
	readMsg(t, first) // hello
	readMsg(t, first) // output_grant
	h.Register(second)
	readMsg(t, second) // hello

	h.Unregister(first)

	if msg := readMsg(t, second); msg.Type != MsgTypeOutputGrant {
		t.Errorf("surviving tab message type = %s, want output_grant", msg.Type)
	}
	if h.TabCount(1) != 1 {
		t.Errorf("TabCount(1) = %d, want 1", h.TabCount(1))
	}
}

func TestRegister_SameTabIDReplacesOldConnection(t *testing.T) {
	h := startHub(t)
	old := newTestTab(h, 1, "a")
	h.Register(old)
	readMsg(t, old) // hello
	readMsg(t, old) // output_grant

	replacement := newTestTab(h, 1, "a")
	h.Register(replacement)
	readMsg(t, replacement) // hello

	// The old connection's channel was closed by the hub.
	select {
	case _, ok := <-old.Send:
		if ok {
			t.Error("old tab received a message instead of being closed")
		}
	case <-time.After(time.Second):
		t.Error("old tab send channel was not closed")
	}

	if got := h.GetTab(1, "a"); got != replacement {
		t.Error("GetTab did not return the replacement connection")
	}
}

func TestBroadcast_EvictsStuckTabAndKeepsHubRunning(t *testing.T) {
	h := startHub(t)

	// A one-slot buffer: hello fills it and the tab never drains it again,
	// so the next broadcast cannot be delivered to this tab.
	stuck := &Tab{Hub: h, Send: make(chan []byte, 1), UserID: 1, TabID: "a"}
	h.Register(stuck)

	healthy := newTestTab(h, 1, "b")
	h.Register(healthy)
	readMsg(t, healthy) // hello

	if err := h.BroadcastWSMessage(1, &WSMessage{Type: MsgTypeState}, ""); err != nil {
		t.Fatalf("BroadcastWSMessage() error = %v", err)
	}
	if msg := readMsg(t, healthy); msg.Type != MsgTypeState {
		t.Fatalf("message type = %s, want state", msg.Type)
	}

	// The stuck tab held the output; evicting it moves the grant over.
	if msg := readMsg(t, healthy); msg.Type != MsgTypeOutputGrant {
		t.Fatalf("message type = %s, want output_grant after eviction", msg.Type)
	}

	<-stuck.Send // drain the buffered hello
	if _, ok := <-stuck.Send; ok {
		t.Error("stuck tab send channel was not closed")
	}
	if h.TabCount(1) != 1 {
		t.Errorf("TabCount(1) = %d, want 1", h.TabCount(1))
	}

	// The hub loop must still serve registrations after the eviction.
	late := newTestTab(h, 1, "c")
	h.Register(late)
	if msg := readMsg(t, late); msg.Type != MsgTypeHello {
		t.Errorf("late tab message type = %s, want hello", msg.Type)
	}
}

func TestBroadcast_OnlyTargetUser(t *testing.T) {
	h := startHub(t)
	mine := newTestTab(h, 1, "a")
	theirs := newTestTab(h, 2, "z")
	h.Register(mine)
	readMsg(t, mine) // hello
	readMsg(t, mine) // output_grant
	h.Register(theirs)
	readMsg(t, theirs) // hello
	readMsg(t, theirs) // output_grant

	if err := h.BroadcastWSMessage(1, &WSMessage{Type: MsgTypeState}, ""); err != nil {
		t.Fatalf("BroadcastWSMessage() error = %v", err)
	}

	if msg := readMsg(t, mine); msg.Type != MsgTypeState {
		t.Errorf("message type = %s, want state", msg.Type)
	}
	expectNoMsg(t, theirs)
}
