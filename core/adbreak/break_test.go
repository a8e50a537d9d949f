package adbreak

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"EchoFM/model"
)

type fakeInventory struct {
	ads        []*model.Ad
	err        error
	playCounts map[int64]int
}

func (f *fakeInventory) GetActiveAds(limit int) ([]*model.Ad, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > len(f.ads) {
		limit = len(f.ads)
	}
	return f.ads[:limit], nil
}

func (f *fakeInventory) IncrementPlayCount(adID int64) error {
	if f.playCounts == nil {
		f.playCounts = make(map[int64]int)
	}
	f.playCounts[adID]++
	return nil
}

// fakeClipOutput completes every clip synchronously inside Play, unless a
// clip index is marked as failing.
type fakeClipOutput struct {
	loads      []string
	seeks      []float64
	onEnded    func()
	onSeek     func(from, to float64)
	failAtLoad int // 1-based load index that fails, 0 = never
	seekDuring bool
}

func (o *fakeClipOutput) Load(url string) error {
	o.loads = append(o.loads, url)
	if o.failAtLoad > 0 && len(o.loads) == o.failAtLoad {
		return errors.New("network error")
	}
	return nil
}

func (o *fakeClipOutput) Play() error {
	if o.seekDuring && o.onSeek != nil {
		o.onSeek(5, 42) // listener tries to skip ahead mid-clip
	}
	if o.onEnded != nil {
		o.onEnded()
	}
	return nil
}

func (o *fakeClipOutput) Seek(pos float64) error {
	o.seeks = append(o.seeks, pos)
	return nil
}

func (o *fakeClipOutput) Position() float64 { return 0 }

func (o *fakeClipOutput) SetOnEnded(fn func()) { o.onEnded = fn }

func (o *fakeClipOutput) SetOnSeek(fn func(from, to float64)) { o.onSeek = fn }

func passthroughResolve(_ context.Context, ref string) (string, error) {
	return ref, nil
}

func makeAds(n int) []*model.Ad {
	ads := make([]*model.Ad, n)
	for i := range ads {
		ads[i] = &model.Ad{
			ID:       int64(i + 1),
			Title:    fmt.Sprintf("ad %d", i+1),
			AudioURL: fmt.Sprintf("https://ads.example.com/%d.mp3", i+1),
			Active:   true,
		}
	}
	return ads
}

func TestRun_PlaysUpToMaxClips(t *testing.T) {
	inv := &fakeInventory{ads: makeAds(6)}
	out := &fakeClipOutput{}
	p := NewPlayer(inv, passthroughResolve, out, 4)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out.loads) != 4 {
		t.Errorf("loaded %d clips, want 4", len(out.loads))
	}
	for id := int64(1); id <= 4; id++ {
		if inv.playCounts[id] != 1 {
			t.Errorf("play count for ad %d = %d, want 1", id, inv.playCounts[id])
		}
	}
}

func TestRun_EmptyInventoryIsSuccessfulNoop(t *testing.T) {
	inv := &fakeInventory{}
	out := &fakeClipOutput{}
	p := NewPlayer(inv, passthroughResolve, out, 4)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v, empty inventory must not fail", err)
	}
	if len(out.loads) != 0 {
		t.Errorf("loaded %d clips, want 0", len(out.loads))
	}
}

func TestRun_InventoryFetchFailureIsSuccessfulNoop(t *testing.T) {
	inv := &fakeInventory{err: errors.New("db down")}
	out := &fakeClipOutput{}
	p := NewPlayer(inv, passthroughResolve, out, 4)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v, missing inventory must never block playback", err)
	}
}

func TestRun_ClipFailureFailsTheBreak(t *testing.T) {
	inv := &fakeInventory{ads: makeAds(3)}
	out := &fakeClipOutput{failAtLoad: 2}
	p := NewPlayer(inv, passthroughResolve, out, 4)

	err := p.Run(context.Background())
	if !errors.Is(err, ErrBreakFailed) {
		t.Fatalf("Run() error = %v, want ErrBreakFailed", err)
	}
	// The first clip still counted.
	if inv.playCounts[1] != 1 {
		t.Errorf("play count for ad 1 = %d, want 1", inv.playCounts[1])
	}
}

func TestRun_SeekDuringClipIsCorrected(t *testing.T) {
	inv := &fakeInventory{ads: makeAds(1)}
	out := &fakeClipOutput{seekDuring: true}
	p := NewPlayer(inv, passthroughResolve, out, 4)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out.seeks) != 1 || out.seeks[0] != 5 {
		t.Errorf("seeks = %v, want the clip snapped back to position 5", out.seeks)
	}
}

func TestRun_ResolveFailureFailsTheBreak(t *testing.T) {
	inv := &fakeInventory{ads: makeAds(1)}
	out := &fakeClipOutput{}
	failingResolve := func(_ context.Context, _ string) (string, error) {
		return "", errors.New("unresolvable")
	}
	p := NewPlayer(inv, failingResolve, out, 4)

	if err := p.Run(context.Background()); !errors.Is(err, ErrBreakFailed) {
		t.Fatalf("Run() error = %v, want ErrBreakFailed", err)
	}
}

func TestRun_ProgressEvents(t *testing.T) {
	inv := &fakeInventory{ads: makeAds(2)}
	out := &fakeClipOutput{}
	p := NewPlayer(inv, passthroughResolve, out, 4)

	var seen []Progress
	p.SetOnProgress(func(pr Progress) { seen = append(seen, pr) })

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("got %d progress events, want 2", len(seen))
	}
	if seen[0].Index != 1 || seen[0].Total != 2 || seen[1].Index != 2 {
		t.Errorf("progress events = %+v", seen)
	}
}
