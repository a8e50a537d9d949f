package player

import (
	"context"
	"errors"
	"testing"

	"EchoFM/model"
)

// fakeCatalog serves canned results per lookup path; nil slices mean the
// tier has nothing.
type fakeCatalog struct {
	tracks     map[int64]*model.Track
	byArtist   []*model.Track
	artistErr  error
	genres     []string
	byGenre    []*model.Track
	related    []*model.Track
	popular    []*model.Track
	playCounts map[int64]int
}

func (c *fakeCatalog) GetTrackByID(id int64) (*model.Track, error) {
	return c.tracks[id], nil
}

func (c *fakeCatalog) GetTracksByArtist(artistID, excludeTrackID int64, limit int) ([]*model.Track, error) {
	if c.artistErr != nil {
		return nil, c.artistErr
	}
	return c.byArtist, nil
}

func (c *fakeCatalog) GetArtistGenres(artistID int64) ([]string, error) {
	return c.genres, nil
}

func (c *fakeCatalog) GetTracksByGenres(genres []string, excludeArtistID int64, limit int) ([]*model.Track, error) {
	return c.byGenre, nil
}

func (c *fakeCatalog) GetRelatedTracks(trackID int64, limit int) ([]*model.Track, error) {
	return c.related, nil
}

func (c *fakeCatalog) GetPopularTracks(limit int) ([]*model.Track, error) {
	return c.popular, nil
}

func (c *fakeCatalog) IncrementPlayCount(id int64) error {
	if c.playCounts == nil {
		c.playCounts = make(map[int64]int)
	}
	c.playCounts[id]++
	return nil
}

// stubResolver resolves everything except references listed in fail.
type stubResolver struct {
	fail map[string]bool
}

func (r *stubResolver) Resolve(_ context.Context, ref string, _ model.TrackKind, _ string) (string, error) {
	if r.fail[ref] {
		return "", errors.New("unresolvable")
	}
	return "https://cdn.example.com/" + ref, nil
}

func newSmartQueueFor(catalog *fakeCatalog, resolver *stubResolver) *SmartQueue {
	return NewSmartQueue(DefaultStrategies(catalog, 20), resolver)
}

func seedTrack() *model.Track {
	return &model.Track{ID: 999, Title: "seed", ArtistID: 10, AudioURL: "seed.mp3"}
}

func TestGenerate_SameArtistFirst(t *testing.T) {
	catalog := &fakeCatalog{
		byArtist: makeTracks(3),
		popular:  makeTracks(5),
	}
	sq := newSmartQueueFor(catalog, &stubResolver{})

	got, err := sq.Generate(context.Background(), seedTrack())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d tracks, want 3 from the same-artist tier", len(got))
	}
}

func TestGenerate_FallsThroughToGenres(t *testing.T) {
	catalog := &fakeCatalog{
		genres:  []string{"jazz"},
		byGenre: makeTracks(4),
	}
	sq := newSmartQueueFor(catalog, &stubResolver{})

	got, err := sq.Generate(context.Background(), seedTrack())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(got) != 4 {
		t.Errorf("got %d tracks, want 4 from the genre tier", len(got))
	}
}

func TestGenerate_StrategyErrorIsSkipped(t *testing.T) {
	catalog := &fakeCatalog{
		artistErr: errors.New("db down"),
		popular:   makeTracks(2),
	}
	sq := newSmartQueueFor(catalog, &stubResolver{})

	got, err := sq.Generate(context.Background(), seedTrack())
	if err != nil {
		t.Fatalf("Generate() error = %v, a failing tier must fall through", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d tracks, want 2 from the popular tier", len(got))
	}
}

func TestGenerate_DropsUnresolvableCandidates(t *testing.T) {
	tracks := makeTracks(3)
	catalog := &fakeCatalog{byArtist: tracks}
	resolver := &stubResolver{fail: map[string]bool{tracks[1].AudioURL: true}}
	sq := newSmartQueueFor(catalog, resolver)

	got, err := sq.Generate(context.Background(), seedTrack())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d tracks, want 2 playable", len(got))
	}
	for _, track := range got {
		if track.ID == tracks[1].ID {
			t.Errorf("unresolvable track %d leaked into the result", track.ID)
		}
	}
}

func TestGenerate_ExcludesSeed(t *testing.T) {
	seed := seedTrack()
	tracks := makeTracks(3)
	tracks[0].ID = seed.ID
	catalog := &fakeCatalog{byArtist: tracks}
	sq := newSmartQueueFor(catalog, &stubResolver{})

	got, err := sq.Generate(context.Background(), seed)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d tracks, want 2 after excluding the seed", len(got))
	}
	for _, track := range got {
		if track.ID == seed.ID {
			t.Error("seed track leaked into the result")
		}
	}
}

func TestGenerate_AllTiersEmpty(t *testing.T) {
	sq := newSmartQueueFor(&fakeCatalog{}, &stubResolver{})

	_, err := sq.Generate(context.Background(), seedTrack())
	if !errors.Is(err, ErrSmartQueueEmpty) {
		t.Errorf("Generate() error = %v, want ErrSmartQueueEmpty", err)
	}
}

func TestGenerate_NilSeed(t *testing.T) {
	sq := newSmartQueueFor(&fakeCatalog{popular: makeTracks(2)}, &stubResolver{})

	_, err := sq.Generate(context.Background(), nil)
	if !errors.Is(err, ErrSmartQueueFailed) {
		t.Errorf("Generate() error = %v, want ErrSmartQueueFailed", err)
	}
}
