package player

import (
	"math/rand"
	"sync"
	"time"

	"EchoFM/model"
)

// Queue is the engine's play queue. Shuffle keeps a snapshot of the
// pre-shuffle order so toggling shuffle off restores it exactly.
type Queue struct {
	mu       sync.Mutex
	items    []*model.Track
	original []*model.Track // pre-shuffle order, nil when not shuffled
	shuffled bool
	rng      *rand.Rand
}

func NewQueue() *Queue {
	return &Queue{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Add appends tracks to the tail of the queue.
func (q *Queue) Add(tracks ...*model.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, tracks...)
}

// PlayNext inserts a track right after the current head.
func (q *Queue) PlayNext(track *model.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		q.items = append(q.items, track)
		return
	}
	q.items = append(q.items[:1], append([]*model.Track{track}, q.items[1:]...)...)
}

// RemoveAt deletes the track at index i. Out-of-range indexes are ignored.
func (q *Queue) RemoveAt(i int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.items) {
		return
	}
	q.items = append(q.items[:i], q.items[i+1:]...)
}

// Replace swaps the queue contents wholesale (e.g. a generated smart
// queue). The shuffle snapshot is discarded; a shuffled queue gets the
// new contents reshuffled.
func (q *Queue) Replace(tracks []*model.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]*model.Track(nil), tracks...)
	if q.shuffled {
		q.original = append([]*model.Track(nil), tracks...)
		q.rng.Shuffle(len(q.items), func(i, j int) {
			q.items[i], q.items[j] = q.items[j], q.items[i]
		})
	} else {
		q.original = nil
	}
}

func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.original = nil
	q.shuffled = false
}

// Pop removes and returns the head, or nil when the queue is empty.
func (q *Queue) Pop() *model.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head
}

// Peek returns the head without removing it.
func (q *Queue) Peek() *model.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Tracks returns a copy of the current order.
func (q *Queue) Tracks() []*model.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*model.Track(nil), q.items...)
}

func (q *Queue) IsShuffled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuffled
}

// ToggleShuffle flips shuffle mode and returns the new state. Turning it
// on snapshots the current order (only once, so repeated shuffles of an
// already-shuffled queue keep the earliest snapshot) and does a uniform
// Fisher-Yates pass; turning it off restores the snapshot.
func (q *Queue) ToggleShuffle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shuffled {
		if q.original != nil {
			q.items = q.original
			q.original = nil
		}
		q.shuffled = false
		return false
	}
	q.original = append([]*model.Track(nil), q.items...)
	q.rng.Shuffle(len(q.items), func(i, j int) {
		q.items[i], q.items[j] = q.items[j], q.items[i]
	})
	q.shuffled = true
	return true
}
