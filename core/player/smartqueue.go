package player

import (
	"context"

	"EchoFM/logger"
	"EchoFM/model"
)

// Catalog is the track lookup surface the engine and smart queue need.
// The repository layer satisfies it.
type Catalog interface {
	GetTrackByID(id int64) (*model.Track, error)
	GetTracksByArtist(artistID, excludeTrackID int64, limit int) ([]*model.Track, error)
	GetArtistGenres(artistID int64) ([]string, error)
	GetTracksByGenres(genres []string, excludeArtistID int64, limit int) ([]*model.Track, error)
	GetRelatedTracks(trackID int64, limit int) ([]*model.Track, error)
	GetPopularTracks(limit int) ([]*model.Track, error)
}

// Resolver turns a stored audio reference into a playable URL.
type Resolver interface {
	Resolve(ctx context.Context, ref string, kind model.TrackKind, title string) (string, error)
}

// Strategy produces candidate tracks similar to a seed. Strategies are
// tried in order; the first one that yields playable candidates wins.
type Strategy interface {
	Name() string
	Candidates(ctx context.Context, seed *model.Track) ([]*model.Track, error)
}

type sameArtistStrategy struct {
	catalog Catalog
	limit   int
}

func (s *sameArtistStrategy) Name() string { return "same-artist" }

func (s *sameArtistStrategy) Candidates(_ context.Context, seed *model.Track) ([]*model.Track, error) {
	if seed.ArtistID == 0 {
		return nil, nil
	}
	return s.catalog.GetTracksByArtist(seed.ArtistID, seed.ID, s.limit)
}

type sharedGenreStrategy struct {
	catalog Catalog
	limit   int
}

func (s *sharedGenreStrategy) Name() string { return "shared-genre" }

func (s *sharedGenreStrategy) Candidates(_ context.Context, seed *model.Track) ([]*model.Track, error) {
	if seed.ArtistID == 0 {
		return nil, nil
	}
	genres, err := s.catalog.GetArtistGenres(seed.ArtistID)
	if err != nil || len(genres) == 0 {
		return nil, err
	}
	// Exclude the seed artist so this tier widens the pool instead of
	// repeating the first one.
	return s.catalog.GetTracksByGenres(genres, seed.ArtistID, s.limit)
}

type relatedStrategy struct {
	catalog Catalog
	limit   int
}

func (s *relatedStrategy) Name() string { return "related" }

func (s *relatedStrategy) Candidates(_ context.Context, seed *model.Track) ([]*model.Track, error) {
	if seed.ID == 0 {
		return nil, nil
	}
	return s.catalog.GetRelatedTracks(seed.ID, s.limit)
}

type popularStrategy struct {
	catalog Catalog
	limit   int
}

func (s *popularStrategy) Name() string { return "popular" }

func (s *popularStrategy) Candidates(_ context.Context, _ *model.Track) ([]*model.Track, error) {
	return s.catalog.GetPopularTracks(s.limit)
}

// DefaultStrategies 返回智能队列的回退策略链
func DefaultStrategies(catalog Catalog, limit int) []Strategy {
	return []Strategy{
		&sameArtistStrategy{catalog: catalog, limit: limit},
		&sharedGenreStrategy{catalog: catalog, limit: limit},
		&relatedStrategy{catalog: catalog, limit: limit},
		&popularStrategy{catalog: catalog, limit: limit},
	}
}

// SmartQueue generates a queue of tracks similar to a seed by walking a
// chain of fallback strategies. Candidates whose audio reference fails to
// resolve are dropped, so callers never receive an unplayable track.
type SmartQueue struct {
	strategies []Strategy
	resolver   Resolver
}

func NewSmartQueue(strategies []Strategy, resolver Resolver) *SmartQueue {
	return &SmartQueue{strategies: strategies, resolver: resolver}
}

// Generate returns the first non-empty playable candidate set. A strategy
// error is logged and treated as an empty result; only when every tier
// comes back empty does Generate fail with ErrSmartQueueEmpty.
func (s *SmartQueue) Generate(ctx context.Context, seed *model.Track) ([]*model.Track, error) {
	if seed == nil {
		return nil, ErrSmartQueueFailed
	}

	for _, strat := range s.strategies {
		candidates, err := strat.Candidates(ctx, seed)
		if err != nil {
			logger.Warn("smart queue strategy failed",
				logger.String("strategy", strat.Name()),
				logger.ErrorField(err))
			continue
		}

		playable := s.filterPlayable(ctx, seed, candidates)
		if len(playable) > 0 {
			logger.Info("smart queue generated",
				logger.String("strategy", strat.Name()),
				logger.Int("tracks", len(playable)))
			return playable, nil
		}
	}

	return nil, ErrSmartQueueEmpty
}

func (s *SmartQueue) filterPlayable(ctx context.Context, seed *model.Track, candidates []*model.Track) []*model.Track {
	playable := make([]*model.Track, 0, len(candidates))
	for _, t := range candidates {
		if t == nil || t.ID == seed.ID {
			continue
		}
		if _, err := s.resolver.Resolve(ctx, t.AudioURL, t.Kind, t.Title); err != nil {
			logger.Debug("dropping unresolvable candidate",
				logger.Int64("track", t.ID),
				logger.ErrorField(err))
			continue
		}
		t.Normalize()
		playable = append(playable, t)
	}
	return playable
}
