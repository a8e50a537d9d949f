package model

// TrackKind distinguishes the two playable catalog types. Resolution and
// UI behavior (bookmark vs like) branch on it, nothing else does.
type TrackKind string

const (
	KindSong    TrackKind = "song"
	KindPodcast TrackKind = "podcast"
)

// DefaultCoverURL is shown whenever a track carries no cover art.
const DefaultCoverURL = "/static/covers/default.jpg"

// Track represents a playable item from the catalog. A Track is treated as
// immutable once a play attempt starts; ResolvedURL is the only field the
// playback engine fills in, and it must be set before the track reaches
// the audio output.
type Track struct {
	ID       int64     `json:"id,omitempty"` // zero for ad-hoc payloads
	Title    string    `json:"title"`
	Artist   string    `json:"artist"`
	ArtistID int64     `json:"artistId,omitempty"`
	AudioURL string    `json:"audioUrl"` // raw stored reference, may need resolution
	CoverURL string    `json:"coverUrl"`
	Duration float64   `json:"duration,omitempty"` // seconds, display only
	Kind     TrackKind `json:"type"`

	// ResolvedURL is the directly fetchable URL produced by the resolver.
	ResolvedURL string `json:"-"`
}

// Normalize fills display defaults for missing metadata.
func (t *Track) Normalize() {
	if t.Title == "" {
		t.Title = "Unknown"
	}
	if t.Artist == "" {
		t.Artist = "Unknown"
	}
	if t.CoverURL == "" {
		t.CoverURL = DefaultCoverURL
	}
	if t.Kind == "" {
		t.Kind = KindSong
	}
}
