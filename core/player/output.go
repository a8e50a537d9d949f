package player

// Output is the single audio sink the engine owns. In production it is
// the WebSocket bridge to the controlling tab's audio element; tests use
// an in-memory fake. No component other than the engine (and the ad break
// player, which borrows it for the duration of a break) may touch it.
//
// Load/Play/Pause report synchronous command failures; asynchronous
// playback failures arrive through the OnError callback. Outputs should
// surface fetch failures as errors wrapping ErrUnreachable so the engine
// can tell "resource unreachable" apart from generic failures.
type Output interface {
	Load(url string) error
	Play() error
	Pause() error
	Stop() error
	Seek(pos float64) error
	Position() float64
	SetVolume(v int) error
	Volume() int

	SetOnEnded(fn func())
	SetOnError(fn func(err error))
	SetOnSeek(fn func(from, to float64))
}
