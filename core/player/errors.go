package player

import "errors"

// Playback failure taxonomy. Deep I/O errors (resolver, catalog, output)
// are converted to one of these at the engine boundary; raw network
// errors never reach the UI layer.
var (
	// ErrTrackUnavailable: no resolvable audio URL after every fallback
	// lookup.
	ErrTrackUnavailable = errors.New("track unavailable")

	// ErrPlaybackStart: the audio output rejected a resolved URL.
	ErrPlaybackStart = errors.New("playback start failed")

	// ErrUnreachable is returned by outputs when the resolved resource
	// itself cannot be fetched (network/codec), as opposed to a generic
	// output failure.
	ErrUnreachable = errors.New("audio resource unreachable")

	// ErrSmartQueueEmpty: every fallback strategy came back empty.
	ErrSmartQueueEmpty = errors.New("no similar tracks found")

	// ErrSmartQueueFailed: smart queue generation could not run at all,
	// e.g. nothing is playing.
	ErrSmartQueueFailed = errors.New("could not generate smart queue")
)

// UserMessage maps an engine error to the transient notification text the
// view layer shows. Anything unrecognized gets the generic message.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrTrackUnavailable), errors.Is(err, ErrUnreachable):
		return "This track is currently unavailable."
	case errors.Is(err, ErrSmartQueueEmpty):
		return "No similar tracks found"
	case errors.Is(err, ErrSmartQueueFailed):
		return "Could not generate Smart Queue"
	default:
		return "Unable to play this track. Please try again later."
	}
}
