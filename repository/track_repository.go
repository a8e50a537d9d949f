package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"EchoFM/db"
	"EchoFM/model"
)

// TrackRepository defines the catalog queries the playback core consumes.
// Ordering contracts matter here: by-artist and popular results come back
// popularity-descending, genre results are a random sample.
type TrackRepository interface {
	GetTrackByID(id int64) (*model.Track, error)
	GetTracksByArtist(artistID, excludeTrackID int64, limit int) ([]*model.Track, error)
	GetArtistGenres(artistID int64) ([]string, error)
	GetTracksByGenres(genres []string, excludeArtistID int64, limit int) ([]*model.Track, error)
	GetRelatedTracks(trackID int64, limit int) ([]*model.Track, error)
	GetPopularTracks(limit int) ([]*model.Track, error)
	IncrementPlayCount(trackID int64) error
}

// mysqlTrackRepository implements TrackRepository for MySQL.
type mysqlTrackRepository struct {
	DB *sql.DB
}

// NewMySQLTrackRepository creates a new instance of mysqlTrackRepository.
func NewMySQLTrackRepository() TrackRepository {
	return &mysqlTrackRepository{DB: db.DB}
}

const trackColumns = `id, title, artist, artist_id, audio_url, cover_url, duration, kind`

func scanTrack(row interface{ Scan(...interface{}) error }) (*model.Track, error) {
	track := &model.Track{}
	var artist, coverURL sql.NullString
	var artistID sql.NullInt64
	var duration sql.NullFloat64
	err := row.Scan(&track.ID, &track.Title, &artist, &artistID, &track.AudioURL, &coverURL, &duration, &track.Kind)
	if err != nil {
		return nil, err
	}
	track.Artist = artist.String
	track.ArtistID = artistID.Int64
	track.CoverURL = coverURL.String
	track.Duration = duration.Float64
	track.Normalize()
	return track, nil
}

// GetTrackByID retrieves a track by its ID.
func (r *mysqlTrackRepository) GetTrackByID(id int64) (*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ?`
	track, err := scanTrack(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Track not found
		}
		return nil, fmt.Errorf("failed to scan track by ID %d: %w", id, err)
	}
	return track, nil
}

// GetTracksByArtist retrieves published tracks for an artist ordered by
// descending popularity, excluding the seed track.
func (r *mysqlTrackRepository) GetTracksByArtist(artistID, excludeTrackID int64, limit int) ([]*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks
	           WHERE artist_id = ? AND id <> ? AND published = 1
	           ORDER BY play_count DESC LIMIT ?`
	rows, err := r.DB.Query(query, artistID, excludeTrackID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks for artist ID %d: %w", artistID, err)
	}
	return collectTracks(rows, "GetTracksByArtist")
}

// GetArtistGenres returns the genre tags attached to an artist.
func (r *mysqlTrackRepository) GetArtistGenres(artistID int64) ([]string, error) {
	var genres sql.NullString
	err := r.DB.QueryRow(`SELECT genres FROM artists WHERE id = ?`, artistID).Scan(&genres)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query genres for artist ID %d: %w", artistID, err)
	}
	if !genres.Valid || strings.TrimSpace(genres.String) == "" {
		return nil, nil
	}
	var out []string
	for _, g := range strings.Split(genres.String, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out, nil
}

// GetTracksByGenres samples published tracks whose artist shares at least
// one of the given genre tags. Random order on purpose.
func (r *mysqlTrackRepository) GetTracksByGenres(genres []string, excludeArtistID int64, limit int) ([]*model.Track, error) {
	if len(genres) == 0 {
		return nil, nil
	}

	conds := make([]string, 0, len(genres))
	args := make([]interface{}, 0, len(genres)+2)
	for _, g := range genres {
		conds = append(conds, "FIND_IN_SET(?, a.genres) > 0")
		args = append(args, g)
	}
	args = append(args, excludeArtistID, limit)

	query := `SELECT t.id, t.title, t.artist, t.artist_id, t.audio_url, t.cover_url, t.duration, t.kind
	           FROM tracks t JOIN artists a ON t.artist_id = a.id
	           WHERE (` + strings.Join(conds, " OR ") + `) AND t.artist_id <> ? AND t.published = 1
	           ORDER BY RAND() LIMIT ?`
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks by genres: %w", err)
	}
	return collectTracks(rows, "GetTracksByGenres")
}

// GetRelatedTracks retrieves tracks contextually related to the seed:
// same album, or overlapping free-text tags.
func (r *mysqlTrackRepository) GetRelatedTracks(trackID int64, limit int) ([]*model.Track, error) {
	query := `SELECT t.id, t.title, t.artist, t.artist_id, t.audio_url, t.cover_url, t.duration, t.kind
	           FROM tracks t JOIN tracks seed ON seed.id = ?
	           WHERE t.id <> seed.id AND t.published = 1
	             AND ((seed.album_id IS NOT NULL AND t.album_id = seed.album_id)
	               OR (seed.tags IS NOT NULL AND seed.tags <> '' AND t.tags REGEXP REPLACE(seed.tags, ',', '|')))
	           ORDER BY t.play_count DESC LIMIT ?`
	rows, err := r.DB.Query(query, trackID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query related tracks for ID %d: %w", trackID, err)
	}
	return collectTracks(rows, "GetRelatedTracks")
}

// GetPopularTracks retrieves the globally most played published tracks.
func (r *mysqlTrackRepository) GetPopularTracks(limit int) ([]*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE published = 1
	           ORDER BY play_count DESC LIMIT ?`
	rows, err := r.DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query popular tracks: %w", err)
	}
	return collectTracks(rows, "GetPopularTracks")
}

// IncrementPlayCount bumps a track's popularity counter.
func (r *mysqlTrackRepository) IncrementPlayCount(trackID int64) error {
	_, err := r.DB.Exec(`UPDATE tracks SET play_count = play_count + 1 WHERE id = ?`, trackID)
	if err != nil {
		return fmt.Errorf("failed to increment play count for track ID %d: %w", trackID, err)
	}
	return nil
}

func collectTracks(rows *sql.Rows, op string) ([]*model.Track, error) {
	defer rows.Close()

	tracks := make([]*model.Track, 0)
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track in %s: %w", op, err)
		}
		tracks = append(tracks, track)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in %s: %w", op, err)
	}

	return tracks, nil
}
