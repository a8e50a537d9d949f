package player

import (
	"fmt"
	"testing"

	"EchoFM/model"
)

func makeTracks(n int) []*model.Track {
	tracks := make([]*model.Track, n)
	for i := range tracks {
		tracks[i] = &model.Track{
			ID:       int64(i + 1),
			Title:    fmt.Sprintf("track %d", i+1),
			AudioURL: fmt.Sprintf("https://cdn.example.com/%d.mp3", i+1),
		}
	}
	return tracks
}

func ids(tracks []*model.Track) []int64 {
	out := make([]int64, len(tracks))
	for i, t := range tracks {
		out[i] = t.ID
	}
	return out
}

func sameIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestQueue_PopAndPeek(t *testing.T) {
	q := NewQueue()
	q.Add(makeTracks(3)...)

	if got := q.Peek(); got == nil || got.ID != 1 {
		t.Fatalf("Peek() = %v, want track 1", got)
	}
	if q.Len() != 3 {
		t.Errorf("Peek changed the length to %d", q.Len())
	}

	if got := q.Pop(); got == nil || got.ID != 1 {
		t.Fatalf("Pop() = %v, want track 1", got)
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d after one pop, want 2", q.Len())
	}
}

func TestQueue_PopEmpty(t *testing.T) {
	q := NewQueue()
	if got := q.Pop(); got != nil {
		t.Errorf("Pop() on empty queue = %v, want nil", got)
	}
	if got := q.Peek(); got != nil {
		t.Errorf("Peek() on empty queue = %v, want nil", got)
	}
}

func TestQueue_PlayNext(t *testing.T) {
	q := NewQueue()
	q.Add(makeTracks(3)...)
	q.PlayNext(&model.Track{ID: 99})

	want := []int64{1, 99, 2, 3}
	if got := ids(q.Tracks()); !sameIDs(got, want) {
		t.Errorf("order after PlayNext = %v, want %v", got, want)
	}
}

func TestQueue_PlayNextOnEmpty(t *testing.T) {
	q := NewQueue()
	q.PlayNext(&model.Track{ID: 99})
	if got := q.Peek(); got == nil || got.ID != 99 {
		t.Errorf("Peek() = %v, want track 99", got)
	}
}

func TestQueue_RemoveAt(t *testing.T) {
	q := NewQueue()
	q.Add(makeTracks(3)...)

	q.RemoveAt(1)
	if got := ids(q.Tracks()); !sameIDs(got, []int64{1, 3}) {
		t.Errorf("order after RemoveAt(1) = %v, want [1 3]", got)
	}

	// Out-of-range indexes are ignored.
	q.RemoveAt(-1)
	q.RemoveAt(10)
	if q.Len() != 2 {
		t.Errorf("Len() = %d after out-of-range removals, want 2", q.Len())
	}
}

func TestQueue_ShuffleRoundTrip(t *testing.T) {
	q := NewQueue()
	q.Add(makeTracks(10)...)
	before := ids(q.Tracks())

	if on := q.ToggleShuffle(); !on {
		t.Fatal("ToggleShuffle() = false, want true")
	}
	if !q.IsShuffled() {
		t.Fatal("IsShuffled() = false after toggle")
	}
	shuffled := ids(q.Tracks())
	if len(shuffled) != len(before) {
		t.Fatalf("shuffle changed length: %d -> %d", len(before), len(shuffled))
	}
	// Same multiset, possibly different order.
	seen := make(map[int64]bool)
	for _, id := range shuffled {
		seen[id] = true
	}
	for _, id := range before {
		if !seen[id] {
			t.Fatalf("track %d lost during shuffle", id)
		}
	}

	if on := q.ToggleShuffle(); on {
		t.Fatal("ToggleShuffle() = true, want false")
	}
	if got := ids(q.Tracks()); !sameIDs(got, before) {
		t.Errorf("order after unshuffle = %v, want original %v", got, before)
	}
}

func TestQueue_ReplaceKeepsShuffleMode(t *testing.T) {
	q := NewQueue()
	q.Add(makeTracks(3)...)
	q.ToggleShuffle()

	q.Replace(makeTracks(5))
	if !q.IsShuffled() {
		t.Error("Replace dropped shuffle mode")
	}
	if q.Len() != 5 {
		t.Errorf("Len() = %d after Replace, want 5", q.Len())
	}

	// Unshuffling restores the replacement set's original order.
	q.ToggleShuffle()
	if got := ids(q.Tracks()); !sameIDs(got, []int64{1, 2, 3, 4, 5}) {
		t.Errorf("order after unshuffle = %v, want [1 2 3 4 5]", got)
	}
}

func TestQueue_Clear(t *testing.T) {
	q := NewQueue()
	q.Add(makeTracks(4)...)
	q.ToggleShuffle()

	q.Clear()
	if q.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", q.Len())
	}
	if q.IsShuffled() {
		t.Error("Clear must reset shuffle mode")
	}
}
