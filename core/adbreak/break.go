package adbreak

import (
	"context"
	"fmt"

	"EchoFM/logger"
	"EchoFM/model"

	"github.com/google/uuid"
)

// ErrBreakFailed means a clip could not be played to completion. Missing
// inventory is NOT a failure; an empty break is a successful no-op.
var ErrBreakFailed = fmt.Errorf("ad break failed")

// Inventory supplies active ad creatives, least-played first.
type Inventory interface {
	GetActiveAds(limit int) ([]*model.Ad, error)
	IncrementPlayCount(adID int64) error
}

// Output is the slice of the audio output the break player needs. The
// engine lends it its own output for the duration of the break.
type Output interface {
	Load(url string) error
	Play() error
	Seek(pos float64) error
	Position() float64
	SetOnEnded(fn func())
	SetOnSeek(fn func(from, to float64))
}

// ResolveFunc converts an ad's stored audio reference into a playable URL.
type ResolveFunc func(ctx context.Context, ref string) (string, error)

// Progress describes the visible state of a running break.
type Progress struct {
	BreakID string
	Index   int // 1-based clip index
	Total   int
	Ad      *model.Ad
}

// Player plays a batch of ad clips back-to-back with seeking disabled.
type Player struct {
	inventory  Inventory
	resolve    ResolveFunc
	out        Output
	maxAds     int
	onProgress func(Progress)
}

// NewPlayer 创建广告播放器
func NewPlayer(inventory Inventory, resolve ResolveFunc, out Output, maxAds int) *Player {
	if maxAds <= 0 {
		maxAds = 4
	}
	return &Player{
		inventory: inventory,
		resolve:   resolve,
		out:       out,
		maxAds:    maxAds,
	}
}

// SetOnProgress registers the progress indicator callback.
func (p *Player) SetOnProgress(fn func(Progress)) {
	p.onProgress = fn
}

// Run plays up to maxAds clips sequentially. While a clip plays, any seek
// on the output is snapped back to where it was, so skipping ahead is a
// no-op. Returns nil when every selected clip played to natural
// completion, or when there was no inventory to play at all.
func (p *Player) Run(ctx context.Context) error {
	breakID := uuid.NewString()

	ads, err := p.inventory.GetActiveAds(p.maxAds)
	if err != nil {
		// No inventory must never block normal playback.
		logger.Warn("failed to fetch ad inventory, skipping break",
			logger.ErrorField(err),
			logger.String("break", breakID))
		return nil
	}
	if len(ads) == 0 {
		logger.Debug("no active ads, break is a no-op", logger.String("break", breakID))
		return nil
	}

	defer func() {
		p.out.SetOnEnded(nil)
		p.out.SetOnSeek(nil)
	}()

	for i, ad := range ads {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrBreakFailed, ctx.Err())
		default:
		}

		if err := p.playClip(ctx, ad); err != nil {
			return fmt.Errorf("%w: clip %d/%d (ad %d): %v", ErrBreakFailed, i+1, len(ads), ad.ID, err)
		}

		if p.onProgress != nil {
			p.onProgress(Progress{BreakID: breakID, Index: i + 1, Total: len(ads), Ad: ad})
		}
		if err := p.inventory.IncrementPlayCount(ad.ID); err != nil {
			logger.Warn("failed to increment ad play count",
				logger.ErrorField(err),
				logger.Int64("ad", ad.ID))
		}
	}

	logger.Info("ad break completed",
		logger.String("break", breakID),
		logger.Int("clips", len(ads)))
	return nil
}

// playClip plays one creative to its natural end.
func (p *Player) playClip(ctx context.Context, ad *model.Ad) error {
	url, err := p.resolve(ctx, ad.AudioURL)
	if err != nil {
		return fmt.Errorf("resolve creative: %v", err)
	}

	ended := make(chan struct{}, 1)
	p.out.SetOnEnded(func() {
		select {
		case ended <- struct{}{}:
		default:
		}
	})
	// Seek prevention: any attempt lands back at the pre-seek position.
	p.out.SetOnSeek(func(from, to float64) {
		if err := p.out.Seek(from); err != nil {
			logger.Warn("failed to correct ad seek", logger.ErrorField(err))
		}
	})

	if err := p.out.Load(url); err != nil {
		return fmt.Errorf("load creative: %v", err)
	}
	if err := p.out.Play(); err != nil {
		return fmt.Errorf("play creative: %v", err)
	}

	select {
	case <-ended:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
