package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"EchoFM/core/adbreak"
	"EchoFM/logger"
	"EchoFM/model"
)

// State 播放器状态机
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateEnded   State = "ended"
)

// EpisodeLookup resolves podcast episode metadata by id.
type EpisodeLookup interface {
	GetEpisodeByID(id int64) (*model.Episode, error)
}

// Engine owns one user's playback session: the current track, the queue,
// the audio output, and the ad policy hook points. All entry points are
// safe for concurrent use; only one track load runs at a time, and any
// play request arriving while a load or ad break is active is a silent
// no-op rather than queued.
type Engine struct {
	out      Output
	queue    *Queue
	catalog  Catalog
	resolver Resolver
	episodes EpisodeLookup
	policy   *adbreak.Policy
	smart    *SmartQueue

	mu           sync.Mutex
	state        State
	resumeState  State // state to fall back to when a load fails
	current      *model.Track
	pending      *model.Track // track deferred behind a running ad break
	pendingStart float64
	loading      bool
	loadSeq      uint64 // monotonic token, stale loads are discarded
	repeat       bool
	onChange     func(model.Snapshot)
}

// NewEngine 创建播放引擎并接管音频输出的事件
func NewEngine(out Output, queue *Queue, catalog Catalog, resolver Resolver, episodes EpisodeLookup, policy *adbreak.Policy, smart *SmartQueue) *Engine {
	e := &Engine{
		out:      out,
		queue:    queue,
		catalog:  catalog,
		resolver: resolver,
		episodes: episodes,
		policy:   policy,
		smart:    smart,
		state:    StateIdle,
	}
	e.attachOutputHandlers()
	policy.SetOnBreakChange(func(active bool) {
		e.broadcast()
	})
	return e
}

// OnChange registers the callback that receives a fresh snapshot after
// every observable state change. The sync hub hangs off this.
func (e *Engine) OnChange(fn func(model.Snapshot)) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

// attachOutputHandlers points the output's events back at the engine. The
// ad break player borrows the output and swaps these out for the duration
// of a break, so the engine re-attaches after every break.
func (e *Engine) attachOutputHandlers() {
	e.out.SetOnEnded(e.handleTrackEnded)
	e.out.SetOnError(e.handleOutputError)
	e.out.SetOnSeek(nil)
}

// PlayTrack starts playback of the given track at startTime seconds. A
// call while another load or an ad break is in flight is ignored.
func (e *Engine) PlayTrack(ctx context.Context, track *model.Track, startTime float64) error {
	if track == nil {
		return ErrTrackUnavailable
	}
	seq, ok := e.claimLoad()
	if !ok {
		logger.Debug("play request ignored, a load or ad break is already active",
			logger.String("title", track.Title))
		return nil
	}
	return e.load(ctx, seq, track, startTime)
}

// Next pops the queue head and plays it, counting the skip toward the ad
// policy. When the skip threshold triggers a break, the popped track is
// deferred behind the break and played once it ends.
func (e *Engine) Next(ctx context.Context) error {
	seq, ok := e.claimLoad()
	if !ok {
		return nil
	}
	next := e.queue.Pop()
	if next == nil {
		logger.Debug("next requested with an empty queue")
		e.releaseLoad(seq)
		return nil
	}

	e.policy.RecordSkip()
	e.setPending(next, 0)
	if e.policy.CheckForAds(ctx, adbreak.ReasonSkip) {
		e.attachOutputHandlers()
	}
	e.clearPending()

	return e.load(ctx, seq, next, 0)
}

// Prev restarts the current track from the beginning. There is no play
// history, so this is the whole behavior regardless of position.
func (e *Engine) Prev() error {
	if e.policy.InProgress() {
		return nil
	}
	e.mu.Lock()
	cur := e.current
	paused := e.state == StatePaused
	e.mu.Unlock()
	if cur == nil {
		return nil
	}

	if err := e.out.Seek(0); err != nil {
		return fmt.Errorf("failed to restart track: %w", err)
	}
	if !paused {
		if err := e.out.Play(); err != nil {
			return fmt.Errorf("failed to restart track: %w", err)
		}
		e.mu.Lock()
		e.state = StatePlaying
		e.mu.Unlock()
	}
	e.broadcast()
	return nil
}

// Pause halts playback. No-op during an ad break; breaks lock the
// transport controls.
func (e *Engine) Pause() error {
	if e.policy.InProgress() {
		return nil
	}
	if err := e.out.Pause(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.state == StatePlaying {
		e.state = StatePaused
	}
	e.mu.Unlock()
	e.broadcast()
	return nil
}

// Resume continues a paused track.
func (e *Engine) Resume() error {
	if e.policy.InProgress() {
		return nil
	}
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	if err := e.out.Play(); err != nil {
		return err
	}
	e.mu.Lock()
	e.state = StatePlaying
	e.mu.Unlock()
	e.broadcast()
	return nil
}

// SeekTo moves the playhead. Ignored during ad breaks (and even if a tab
// bypasses this, the break player snaps the position back).
func (e *Engine) SeekTo(pos float64) error {
	if e.policy.InProgress() {
		return nil
	}
	if err := e.out.Seek(pos); err != nil {
		return err
	}
	e.broadcast()
	return nil
}

// SetVolume adjusts the output volume, clamped to 0-100. Volume stays
// adjustable during ad breaks.
func (e *Engine) SetVolume(v int) error {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	if err := e.out.SetVolume(v); err != nil {
		return err
	}
	e.broadcast()
	return nil
}

// SetRepeat toggles single-track repeat. A repeating track ends and
// restarts without consulting the ad policy.
func (e *Engine) SetRepeat(on bool) {
	e.mu.Lock()
	e.repeat = on
	e.mu.Unlock()
	e.broadcast()
}

func (e *Engine) Repeat() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.repeat
}

// ToggleShuffle flips queue shuffle and returns the new state.
func (e *Engine) ToggleShuffle() bool {
	on := e.queue.ToggleShuffle()
	e.broadcast()
	return on
}

// GenerateSmartQueue replaces the queue with tracks similar to whatever
// is currently playing.
func (e *Engine) GenerateSmartQueue(ctx context.Context) error {
	e.mu.Lock()
	seed := e.current
	e.mu.Unlock()
	if seed == nil {
		return ErrSmartQueueFailed
	}

	tracks, err := e.smart.Generate(ctx, seed)
	if err != nil {
		return err
	}
	e.queue.Replace(tracks)
	e.broadcast()
	return nil
}

// Restore rebuilds the session from a persisted snapshot, e.g. after the
// last tab reconnects.
func (e *Engine) Restore(ctx context.Context, snap *model.Snapshot) error {
	if snap == nil {
		return nil
	}
	e.queue.Replace(snap.Queue)
	if snap.Volume > 0 {
		if err := e.out.SetVolume(snap.Volume); err != nil {
			logger.Warn("failed to restore volume", logger.ErrorField(err))
		}
	}
	if snap.CurrentTrack == nil {
		e.broadcast()
		return nil
	}
	if !snap.IsPlaying {
		e.mu.Lock()
		e.current = snap.CurrentTrack
		e.state = StatePaused
		e.mu.Unlock()
		e.broadcast()
		return nil
	}
	return e.PlayTrack(ctx, snap.CurrentTrack, snap.Position)
}

// Current returns the track currently loaded in the output, nil when idle.
func (e *Engine) Current() *model.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Pending returns the track deferred behind a running ad break, nil
// outside breaks.
func (e *Engine) Pending() *model.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

func (e *Engine) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Queue() *Queue {
	return e.queue
}

// Snapshot captures the full observable session state.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.Lock()
	snap := model.Snapshot{
		CurrentTrack: e.current,
		IsPlaying:    e.state == StatePlaying,
		AdBreak:      e.policy.InProgress(),
		UpdatedAt:    time.Now().UnixMilli(),
	}
	e.mu.Unlock()
	snap.Queue = e.queue.Tracks()
	snap.Position = e.out.Position()
	snap.Volume = e.out.Volume()
	return snap
}

// handleTrackEnded is the output's natural-completion event. Repeat
// restarts in place; otherwise the queue head is consulted, with an
// interval ad check sitting between the ended track and the next one.
func (e *Engine) handleTrackEnded() {
	ctx := context.Background()

	e.mu.Lock()
	if e.repeat && e.current != nil {
		e.mu.Unlock()
		if err := e.out.Seek(0); err == nil {
			if err := e.out.Play(); err != nil {
				logger.Warn("failed to repeat track", logger.ErrorField(err))
			}
		}
		e.broadcast()
		return
	}
	e.state = StateEnded
	e.mu.Unlock()
	e.broadcast()

	seq, ok := e.claimLoad()
	if !ok {
		return
	}
	next := e.queue.Peek()
	if next == nil {
		e.releaseLoad(seq)
		return
	}

	// Interval consult peeks rather than pops: the head stays queued
	// while a break plays, so a crashed break loses nothing.
	e.setPending(next, 0)
	if e.policy.CheckForAds(ctx, adbreak.ReasonInterval) {
		e.attachOutputHandlers()
	}
	e.clearPending()

	popped := e.queue.Pop()
	if popped == nil {
		e.releaseLoad(seq)
		return
	}
	if err := e.load(ctx, seq, popped, 0); err != nil {
		logger.Warn("failed to start next track",
			logger.String("title", popped.Title),
			logger.ErrorField(err))
	}
}

// handleOutputError is the output's asynchronous failure event. The
// session drops back to idle; any in-flight load is invalidated.
func (e *Engine) handleOutputError(err error) {
	logger.Error("audio output error", logger.ErrorField(err))
	e.mu.Lock()
	e.current = nil
	e.state = StateIdle
	e.loading = false
	e.loadSeq++
	e.mu.Unlock()
	e.broadcast()
}

// claimLoad reserves the single load slot and mints a sequence token.
func (e *Engine) claimLoad() (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loading || e.policy.InProgress() {
		return 0, false
	}
	e.loading = true
	e.resumeState = e.state
	e.state = StateLoading
	e.loadSeq++
	return e.loadSeq, true
}

// releaseLoad abandons a claimed load without an error.
func (e *Engine) releaseLoad(seq uint64) {
	e.mu.Lock()
	if seq == e.loadSeq && e.loading {
		e.loading = false
		e.state = e.resumeState
	}
	e.mu.Unlock()
}

// load runs the full pipeline for one claimed load: metadata fill, the
// preemptive ad consult, resolution, and output start.
func (e *Engine) load(ctx context.Context, seq uint64, track *model.Track, start float64) error {
	t := *track // the attempt works on its own copy
	if err := e.fillMetadata(&t); err != nil {
		e.failLoad(seq, err)
		return err
	}
	t.Normalize()

	if e.policy.BeforeTrackDue() {
		e.setPending(&t, start)
		if e.policy.CheckForAds(ctx, adbreak.ReasonForce) {
			e.attachOutputHandlers()
		}
		if p, ps := e.takePending(); p != nil {
			return e.startPlayback(ctx, seq, p, ps)
		}
	}

	return e.startPlayback(ctx, seq, &t, start)
}

// fillMetadata completes a sparse track (id only) from the catalog, or
// from the episode table for podcasts.
func (e *Engine) fillMetadata(t *model.Track) error {
	if t.AudioURL != "" {
		return nil
	}
	if t.ID == 0 {
		return fmt.Errorf("%w: no audio reference and no id", ErrTrackUnavailable)
	}

	if t.Kind == model.KindPodcast && e.episodes != nil {
		ep, err := e.episodes.GetEpisodeByID(t.ID)
		if err != nil {
			return fmt.Errorf("%w: failed to fetch episode %d: %v", ErrTrackUnavailable, t.ID, err)
		}
		if ep == nil {
			return fmt.Errorf("%w: episode %d not found", ErrTrackUnavailable, t.ID)
		}
		t.AudioURL = ep.AudioURL
		if t.Title == "" {
			t.Title = ep.Title
		}
		if t.CoverURL == "" {
			t.CoverURL = ep.CoverURL
		}
		if t.Duration == 0 {
			t.Duration = ep.Duration
		}
		return nil
	}

	full, err := e.catalog.GetTrackByID(t.ID)
	if err != nil {
		return fmt.Errorf("%w: failed to fetch track %d: %v", ErrTrackUnavailable, t.ID, err)
	}
	if full == nil {
		return fmt.Errorf("%w: track %d not found", ErrTrackUnavailable, t.ID)
	}
	t.AudioURL = full.AudioURL
	if t.Title == "" {
		t.Title = full.Title
	}
	if t.Artist == "" {
		t.Artist = full.Artist
	}
	if t.ArtistID == 0 {
		t.ArtistID = full.ArtistID
	}
	if t.CoverURL == "" {
		t.CoverURL = full.CoverURL
	}
	if t.Duration == 0 {
		t.Duration = full.Duration
	}
	if t.Kind == "" {
		t.Kind = full.Kind
	}
	return nil
}

// startPlayback resolves the audio reference and hands it to the output.
func (e *Engine) startPlayback(ctx context.Context, seq uint64, t *model.Track, start float64) error {
	resolved, err := e.resolver.Resolve(ctx, t.AudioURL, t.Kind, t.Title)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrTrackUnavailable, err)
		e.failLoad(seq, wrapped)
		return wrapped
	}

	e.mu.Lock()
	if seq != e.loadSeq {
		// Superseded while resolving; discard silently.
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	t.ResolvedURL = resolved
	if err := e.out.Load(resolved); err != nil {
		wrapped := mapOutputErr(err)
		e.failLoad(seq, wrapped)
		return wrapped
	}
	if start > 0 {
		if err := e.out.Seek(start); err != nil {
			logger.Warn("failed to seek to resume position",
				logger.Float64("position", start),
				logger.ErrorField(err))
		}
	}
	if err := e.out.Play(); err != nil {
		wrapped := mapOutputErr(err)
		e.failLoad(seq, wrapped)
		return wrapped
	}

	e.mu.Lock()
	e.current = t
	e.state = StatePlaying
	e.loading = false
	e.mu.Unlock()

	if pc, ok := e.catalog.(interface{ IncrementPlayCount(int64) error }); ok && t.ID != 0 && t.Kind == model.KindSong {
		if err := pc.IncrementPlayCount(t.ID); err != nil {
			logger.Warn("failed to increment play count",
				logger.Int64("track", t.ID),
				logger.ErrorField(err))
		}
	}

	logger.Info("track playing",
		logger.Int64("track", t.ID),
		logger.String("title", t.Title))
	e.broadcast()
	return nil
}

// failLoad abandons a claimed load with an error and restores the
// pre-load state.
func (e *Engine) failLoad(seq uint64, err error) {
	e.mu.Lock()
	if seq == e.loadSeq && e.loading {
		e.loading = false
		e.state = e.resumeState
	}
	e.mu.Unlock()
	logger.Warn("track load failed", logger.ErrorField(err))
	e.broadcast()
}

func (e *Engine) setPending(t *model.Track, start float64) {
	e.mu.Lock()
	e.pending = t
	e.pendingStart = start
	e.mu.Unlock()
}

func (e *Engine) clearPending() {
	e.mu.Lock()
	e.pending = nil
	e.pendingStart = 0
	e.mu.Unlock()
}

// takePending atomically claims and clears the deferred track.
func (e *Engine) takePending() (*model.Track, float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ps := e.pending, e.pendingStart
	e.pending, e.pendingStart = nil, 0
	return p, ps
}

func (e *Engine) broadcast() {
	e.mu.Lock()
	fn := e.onChange
	e.mu.Unlock()
	if fn != nil {
		fn(e.Snapshot())
	}
}

func mapOutputErr(err error) error {
	if errors.Is(err, ErrUnreachable) {
		return fmt.Errorf("%w: %v", ErrTrackUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrPlaybackStart, err)
}
