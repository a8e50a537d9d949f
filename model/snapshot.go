package model

// Snapshot is the now-playing state broadcast to every attached tab and
// persisted by the sync worker so a reload can resume where it left off.
type Snapshot struct {
	CurrentTrack *Track   `json:"currentTrack"`
	Queue        []*Track `json:"queue"`
	IsPlaying    bool     `json:"isPlaying"`
	Position     float64  `json:"position"` // seconds into the current track
	Volume       int      `json:"volume"`
	AdBreak      bool     `json:"adBreak"`
	UpdatedAt    int64    `json:"updatedAt"` // unix millis, latest wins
}
