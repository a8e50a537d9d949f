package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"EchoFM/logger"
	"EchoFM/model"
)

// Resolution failures. ErrUnresolvable means the reference can never
// produce a playable URL; ErrSigning means the storage backend refused to
// issue one. Callers treat both as "track unavailable".
var (
	ErrUnresolvable = fmt.Errorf("audio reference is not resolvable")
	ErrSigning      = fmt.Errorf("storage signing failed")
)

// Signer issues time-limited URLs for objects in managed storage.
type Signer interface {
	SignedURL(ctx context.Context, bucket, object string, ttl time.Duration) (string, error)
}

// EpisodeLookup lets the resolver prefer a canonical episode URL over the
// stored reference. Lookup failure is never fatal.
type EpisodeLookup interface {
	GetEpisodeByTitle(title string) (*model.Episode, error)
}

// Resolver turns stored audio references into directly fetchable URLs.
// Stateless; safe for concurrent use.
type Resolver struct {
	signer      Signer
	episodes    EpisodeLookup
	storageHost string // host:port of the managed storage endpoint
	ttl         time.Duration
}

// New creates a resolver. episodes may be nil when no podcast catalog is
// available.
func New(signer Signer, episodes EpisodeLookup, storageHost string, ttl time.Duration) *Resolver {
	return &Resolver{
		signer:      signer,
		episodes:    episodes,
		storageHost: storageHost,
		ttl:         ttl,
	}
}

// Resolve converts ref into a playable URL or fails.
//
//   - podcast refs are treated as already playable; a known episode with a
//     matching title supplies a canonical URL, otherwise the ref passes
//     through untouched
//   - absolute URLs outside managed storage pass through as-is
//   - storage-backed refs are exchanged for a presigned URL
//   - relative or malformed refs fail with ErrUnresolvable
func (r *Resolver) Resolve(ctx context.Context, ref string, kind model.TrackKind, title string) (string, error) {
	if ref == "" {
		return "", ErrUnresolvable
	}

	if kind == model.KindPodcast {
		return r.resolvePodcast(ref, title), nil
	}

	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", ErrUnresolvable
	}

	if u.Host != r.storageHost {
		// Already playable, e.g. externally hosted ad creative.
		return ref, nil
	}

	bucket, object, ok := splitObjectPath(u.Path)
	if !ok {
		return "", ErrUnresolvable
	}

	signed, err := r.signer.SignedURL(ctx, bucket, object, r.ttl)
	if err != nil {
		return "", fmt.Errorf("%w: %s/%s: %v", ErrSigning, bucket, object, err)
	}
	return signed, nil
}

// resolvePodcast prefers the catalog's canonical URL but never blocks on a
// lookup failure.
func (r *Resolver) resolvePodcast(ref, title string) string {
	if r.episodes == nil || title == "" {
		return ref
	}

	ep, err := r.episodes.GetEpisodeByTitle(title)
	if err != nil {
		logger.Warn("episode lookup failed, falling back to stored reference",
			logger.ErrorField(err),
			logger.String("title", title))
		return ref
	}
	if ep != nil && ep.AudioURL != "" {
		return ep.AudioURL
	}
	return ref
}

// splitObjectPath extracts "/bucket/path/to/object" into its parts.
func splitObjectPath(p string) (bucket, object string, ok bool) {
	p = strings.TrimPrefix(p, "/")
	parts := strings.SplitN(p, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
