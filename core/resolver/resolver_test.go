package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"EchoFM/model"
)

type fakeSigner struct {
	err    error
	bucket string
	object string
}

func (s *fakeSigner) SignedURL(_ context.Context, bucket, object string, _ time.Duration) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.bucket = bucket
	s.object = object
	return "https://storage.local/" + bucket + "/" + object + "?signature=abc", nil
}

type fakeEpisodes struct {
	byTitle map[string]*model.Episode
	err     error
}

func (f *fakeEpisodes) GetEpisodeByTitle(title string) (*model.Episode, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byTitle[title], nil
}

func newTestResolver(signer Signer, eps EpisodeLookup) *Resolver {
	return New(signer, eps, "storage.local:9000", time.Hour)
}

func TestResolve_ExternalURLPassesThrough(t *testing.T) {
	r := newTestResolver(&fakeSigner{}, nil)

	got, err := r.Resolve(context.Background(), "https://cdn.example.com/clip.mp3", model.KindSong, "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "https://cdn.example.com/clip.mp3" {
		t.Errorf("Resolve() = %q, want pass-through", got)
	}
}

func TestResolve_StorageReferenceGetsSigned(t *testing.T) {
	signer := &fakeSigner{}
	r := newTestResolver(signer, nil)

	got, err := r.Resolve(context.Background(), "http://storage.local:9000/echofm/audio/42.mp3", model.KindSong, "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if signer.bucket != "echofm" || signer.object != "audio/42.mp3" {
		t.Errorf("signer got bucket=%q object=%q", signer.bucket, signer.object)
	}
	if !strings.Contains(got, "signature=") {
		t.Errorf("Resolve() = %q, want signed URL", got)
	}
}

func TestResolve_SigningFailure(t *testing.T) {
	r := newTestResolver(&fakeSigner{err: errors.New("backend down")}, nil)

	_, err := r.Resolve(context.Background(), "http://storage.local:9000/echofm/audio/42.mp3", model.KindSong, "")
	if !errors.Is(err, ErrSigning) {
		t.Errorf("Resolve() error = %v, want ErrSigning", err)
	}
}

func TestResolve_RelativeReferenceFails(t *testing.T) {
	r := newTestResolver(&fakeSigner{}, nil)

	for _, ref := range []string{"audio/42.mp3", "/echofm/audio/42.mp3", ""} {
		_, err := r.Resolve(context.Background(), ref, model.KindSong, "")
		if !errors.Is(err, ErrUnresolvable) {
			t.Errorf("Resolve(%q) error = %v, want ErrUnresolvable", ref, err)
		}
	}
}

func TestResolve_MalformedStoragePathFails(t *testing.T) {
	r := newTestResolver(&fakeSigner{}, nil)

	_, err := r.Resolve(context.Background(), "http://storage.local:9000/onlybucket", model.KindSong, "")
	if !errors.Is(err, ErrUnresolvable) {
		t.Errorf("Resolve() error = %v, want ErrUnresolvable", err)
	}
}

func TestResolve_PodcastPrefersCanonicalURL(t *testing.T) {
	eps := &fakeEpisodes{byTitle: map[string]*model.Episode{
		"Episode 12": {Title: "Episode 12", AudioURL: "https://feeds.example.com/ep12.mp3"},
	}}
	r := newTestResolver(&fakeSigner{}, eps)

	got, err := r.Resolve(context.Background(), "https://old.example.com/ep12.mp3", model.KindPodcast, "Episode 12")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "https://feeds.example.com/ep12.mp3" {
		t.Errorf("Resolve() = %q, want canonical episode URL", got)
	}
}

func TestResolve_PodcastFallsBackOnLookupFailure(t *testing.T) {
	eps := &fakeEpisodes{err: errors.New("db down")}
	r := newTestResolver(&fakeSigner{}, eps)

	got, err := r.Resolve(context.Background(), "https://feeds.example.com/ep.mp3", model.KindPodcast, "Some Episode")
	if err != nil {
		t.Fatalf("Resolve() error = %v, lookup failure must not block", err)
	}
	if got != "https://feeds.example.com/ep.mp3" {
		t.Errorf("Resolve() = %q, want stored reference", got)
	}
}

func TestResolve_PodcastUnknownTitlePassesThrough(t *testing.T) {
	eps := &fakeEpisodes{byTitle: map[string]*model.Episode{}}
	r := newTestResolver(&fakeSigner{}, eps)

	got, err := r.Resolve(context.Background(), "https://feeds.example.com/ep.mp3", model.KindPodcast, "Nope")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "https://feeds.example.com/ep.mp3" {
		t.Errorf("Resolve() = %q, want pass-through", got)
	}
}
