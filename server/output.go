package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"EchoFM/core/player"
	"EchoFM/core/tabsync"
)

// outputCmd 服务端发给输出标签页的音频指令
type outputCmd struct {
	Op       string  `json:"op"` // load | play | pause | stop | seek | volume
	URL      string  `json:"url,omitempty"`
	Position float64 `json:"position,omitempty"`
	Volume   int     `json:"volume,omitempty"`
}

// outputEvent 输出标签页上报的音频元素事件
type outputEvent struct {
	Event    string  `json:"event"` // ended | error | seek | position
	Position float64 `json:"position,omitempty"`
	From     float64 `json:"from,omitempty"`
	To       float64 `json:"to,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// wsOutput bridges the engine's audio output to whichever tab currently
// holds the output grant. Commands travel as output_cmd messages; the tab
// reports its audio element's events back as output_event, which the
// handler feeds into HandleEvent. Position is whatever the tab last
// reported, so it lags real playback by one report interval.
type wsOutput struct {
	hub    *tabsync.Hub
	userID int64

	mu       sync.Mutex
	position float64
	volume   int
	onEnded  func()
	onError  func(error)
	onSeek   func(from, to float64)
}

func newWSOutput(hub *tabsync.Hub, userID int64) *wsOutput {
	return &wsOutput{
		hub:    hub,
		userID: userID,
		volume: 100,
	}
}

func (o *wsOutput) send(cmd outputCmd) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return o.hub.SendToOutput(o.userID, &tabsync.WSMessage{
		Type: tabsync.MsgTypeOutputCmd,
		Data: data,
	})
}

func (o *wsOutput) Load(url string) error {
	o.mu.Lock()
	o.position = 0
	o.mu.Unlock()
	return o.send(outputCmd{Op: "load", URL: url})
}

func (o *wsOutput) Play() error {
	return o.send(outputCmd{Op: "play"})
}

func (o *wsOutput) Pause() error {
	return o.send(outputCmd{Op: "pause"})
}

func (o *wsOutput) Stop() error {
	o.mu.Lock()
	o.position = 0
	o.mu.Unlock()
	return o.send(outputCmd{Op: "stop"})
}

func (o *wsOutput) Seek(pos float64) error {
	o.mu.Lock()
	o.position = pos
	o.mu.Unlock()
	return o.send(outputCmd{Op: "seek", Position: pos})
}

func (o *wsOutput) Position() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.position
}

func (o *wsOutput) SetVolume(v int) error {
	o.mu.Lock()
	o.volume = v
	o.mu.Unlock()
	return o.send(outputCmd{Op: "volume", Volume: v})
}

func (o *wsOutput) Volume() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

func (o *wsOutput) SetOnEnded(fn func()) {
	o.mu.Lock()
	o.onEnded = fn
	o.mu.Unlock()
}

func (o *wsOutput) SetOnError(fn func(err error)) {
	o.mu.Lock()
	o.onError = fn
	o.mu.Unlock()
}

func (o *wsOutput) SetOnSeek(fn func(from, to float64)) {
	o.mu.Lock()
	o.onSeek = fn
	o.mu.Unlock()
}

// HandleEvent applies one event reported by the output tab. Callbacks
// fire without the mutex held; the engine's handlers take their own lock.
func (o *wsOutput) HandleEvent(ev *outputEvent) {
	switch ev.Event {
	case "position":
		o.mu.Lock()
		o.position = ev.Position
		o.mu.Unlock()

	case "ended":
		o.mu.Lock()
		fn := o.onEnded
		o.mu.Unlock()
		if fn != nil {
			fn()
		}

	case "error":
		o.mu.Lock()
		fn := o.onError
		o.mu.Unlock()
		if fn != nil {
			fn(mapTabError(ev.Message))
		}

	case "seek":
		o.mu.Lock()
		o.position = ev.To
		fn := o.onSeek
		o.mu.Unlock()
		if fn != nil {
			fn(ev.From, ev.To)
		}
	}
}

// mapTabError turns the tab's free-text media error into something the
// engine can classify. Network-flavored failures count as unreachable.
func mapTabError(msg string) error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "network") || strings.Contains(lower, "fetch") || strings.Contains(lower, "src") {
		return fmt.Errorf("%w: %s", player.ErrUnreachable, msg)
	}
	return fmt.Errorf("audio element error: %s", msg)
}
