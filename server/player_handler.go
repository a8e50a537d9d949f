package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"EchoFM/config"
	"EchoFM/core/adbreak"
	"EchoFM/core/auth"
	"EchoFM/core/player"
	"EchoFM/core/resolver"
	"EchoFM/core/tabsync"
	"EchoFM/logger"
	"EchoFM/model"
	"EchoFM/repository"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// smartQueueLimit 每个相似度策略最多取的候选数
const smartQueueLimit = 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// session 一个用户在本实例上的播放会话
type session struct {
	engine *player.Engine
	out    *wsOutput
}

// PlayerHandler owns the WebSocket endpoint and one playback engine per
// connected user. Engines are built lazily on the first tab and torn down
// when the last tab disconnects; the persisted snapshot covers restarts.
type PlayerHandler struct {
	hub      *tabsync.Hub
	worker   *tabsync.Worker
	cfg      *config.Config
	tracks   repository.TrackRepository
	episodes repository.EpisodeRepository
	ads      repository.AdRepository
	policies repository.PolicyRepository
	resolver *resolver.Resolver

	mu       sync.Mutex
	sessions map[int64]*session
}

// NewPlayerHandler 创建播放器 WebSocket 处理器
func NewPlayerHandler(
	hub *tabsync.Hub,
	worker *tabsync.Worker,
	cfg *config.Config,
	tracks repository.TrackRepository,
	episodes repository.EpisodeRepository,
	ads repository.AdRepository,
	policies repository.PolicyRepository,
	res *resolver.Resolver,
) *PlayerHandler {
	return &PlayerHandler{
		hub:      hub,
		worker:   worker,
		cfg:      cfg,
		tracks:   tracks,
		episodes: episodes,
		ads:      ads,
		policies: policies,
		resolver: res,
		sessions: make(map[int64]*session),
	}
}

// ServeWS 升级一个标签页连接。浏览器的 WebSocket API 无法携带
// Authorization 头，所以认证走 token 查询参数
func (h *PlayerHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Missing token", http.StatusUnauthorized)
		return
	}
	claims, err := auth.ParseToken(token, h.cfg.JWTSecret)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	tabID := r.URL.Query().Get("tab")
	if tabID == "" {
		tabID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed",
			logger.ErrorField(err),
			logger.Int64("user", claims.UserID))
		return
	}

	tab := &tabsync.Tab{
		Hub:    h.hub,
		Conn:   conn,
		Send:   make(chan []byte, 64),
		UserID: claims.UserID,
		TabID:  tabID,
	}

	firstTab := h.hub.TabCount(claims.UserID) == 0
	h.hub.Register(tab)

	s := h.session(claims.UserID)
	if firstTab {
		go h.restore(s, claims.UserID)
	}

	go tab.WritePump()
	tab.ReadPump(r.Context(), h.dispatch)

	// 最后一个标签页断开后释放引擎；持久化的快照负责下次恢复
	if h.hub.TabCount(claims.UserID) == 0 {
		h.mu.Lock()
		delete(h.sessions, claims.UserID)
		h.mu.Unlock()
	}
}

// session returns the user's engine, building the full stack on first
// use: output bridge, break player, policy, smart queue, engine.
func (h *PlayerHandler) session(userID int64) *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[userID]; ok {
		return s
	}

	out := newWSOutput(h.hub, userID)

	breakPlayer := adbreak.NewPlayer(h.ads, func(ctx context.Context, ref string) (string, error) {
		return h.resolver.Resolve(ctx, ref, model.KindSong, "")
	}, out, h.cfg.MaxAdsPerBreak)
	breakPlayer.SetOnProgress(func(p adbreak.Progress) {
		data, err := json.Marshal(p)
		if err != nil {
			return
		}
		if err := h.hub.BroadcastWSMessage(userID, &tabsync.WSMessage{
			Type: tabsync.MsgTypeAdProgress,
			Data: data,
		}, ""); err != nil {
			logger.Warn("failed to broadcast ad progress", logger.ErrorField(err))
		}
	})

	policy := adbreak.NewPolicy(userID, h.policies, breakPlayer, adbreak.Options{
		Interval:      h.cfg.AdInterval,
		GracePeriod:   h.cfg.AdGracePeriod,
		SkipWindow:    h.cfg.SkipWindow,
		SkipThreshold: h.cfg.SkipThreshold,
		MaxFailures:   h.cfg.MaxAdFailures,
	})

	smart := player.NewSmartQueue(player.DefaultStrategies(h.tracks, smartQueueLimit), h.resolver)
	engine := player.NewEngine(out, player.NewQueue(), h.tracks, h.resolver, h.episodes, policy, smart)
	engine.OnChange(func(snap model.Snapshot) {
		h.hub.PublishSnapshot(userID, &snap, "")
		h.worker.Enqueue(userID, snap)
	})

	s := &session{engine: engine, out: out}
	h.sessions[userID] = s
	logger.Info("playback session created", logger.Int64("user", userID))
	return s
}

// restore resumes a session from the persisted snapshot when a user's
// first tab connects.
func (h *PlayerHandler) restore(s *session, userID int64) {
	ctx := context.Background()
	snap, err := h.worker.LoadSnapshot(ctx, userID)
	if err != nil {
		logger.Warn("failed to load persisted session",
			logger.ErrorField(err),
			logger.Int64("user", userID))
		return
	}
	if snap == nil {
		return
	}
	if err := s.engine.Restore(ctx, snap); err != nil {
		logger.Warn("failed to restore session",
			logger.ErrorField(err),
			logger.Int64("user", userID))
	}
}

// dispatch routes one tab message to the engine.
//
// Engine calls that can run a full ad break (play, next, the ended event)
// must leave the read loop: the break waits for ended events that arrive
// through this very loop, so running them inline would deadlock.
func (h *PlayerHandler) dispatch(ctx context.Context, tab *tabsync.Tab, msg *tabsync.WSMessage) {
	s := h.session(tab.UserID)

	run := func(fn func() error) {
		go func() {
			if err := fn(); err != nil {
				h.sendError(tab, err)
			}
		}()
	}

	switch msg.Type {
	case tabsync.MsgTypeOutputEvent:
		var ev outputEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Warn("invalid output event", logger.ErrorField(err))
			return
		}
		// ended 可能触发下一首加载甚至整个广告时段
		go s.out.HandleEvent(&ev)

	case tabsync.MsgTypePlay:
		var req struct {
			Track     *model.Track `json:"track"`
			StartTime float64      `json:"startTime"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			logger.Warn("invalid play payload", logger.ErrorField(err))
			return
		}
		run(func() error {
			return s.engine.PlayTrack(context.Background(), req.Track, req.StartTime)
		})

	case tabsync.MsgTypePause:
		run(s.engine.Pause)

	case tabsync.MsgTypeResume:
		run(s.engine.Resume)

	case tabsync.MsgTypeSeek:
		var req struct {
			Position float64 `json:"position"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		run(func() error { return s.engine.SeekTo(req.Position) })

	case tabsync.MsgTypeNext:
		run(func() error { return s.engine.Next(context.Background()) })

	case tabsync.MsgTypePrev:
		run(s.engine.Prev)

	case tabsync.MsgTypeVolume:
		var req struct {
			Volume int `json:"volume"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		run(func() error { return s.engine.SetVolume(req.Volume) })

	case tabsync.MsgTypeShuffle:
		go s.engine.ToggleShuffle()

	case tabsync.MsgTypeRepeat:
		var req struct {
			On bool `json:"on"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		s.engine.SetRepeat(req.On)

	case tabsync.MsgTypeSmartQueue:
		run(func() error { return s.engine.GenerateSmartQueue(context.Background()) })

	case tabsync.MsgTypeQueueAdd:
		var req struct {
			Tracks   []*model.Track `json:"tracks"`
			PlayNext bool           `json:"playNext"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil || len(req.Tracks) == 0 {
			return
		}
		if req.PlayNext {
			for i := len(req.Tracks) - 1; i >= 0; i-- {
				s.engine.Queue().PlayNext(req.Tracks[i])
			}
		} else {
			s.engine.Queue().Add(req.Tracks...)
		}
		h.publish(s, tab.UserID)

	case tabsync.MsgTypeQueueRemove:
		var req struct {
			Index int `json:"index"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		s.engine.Queue().RemoveAt(req.Index)
		h.publish(s, tab.UserID)

	case tabsync.MsgTypeQueueClear:
		s.engine.Queue().Clear()
		h.publish(s, tab.UserID)

	case tabsync.MsgTypeAdClick:
		var req struct {
			AdID int64 `json:"adId"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return
		}
		go func() {
			if err := h.ads.IncrementClickCount(req.AdID); err != nil {
				logger.Warn("failed to record ad click",
					logger.Int64("ad", req.AdID),
					logger.ErrorField(err))
			}
		}()

	default:
		logger.Warn("unknown message type",
			logger.String("type", string(msg.Type)),
			logger.Int64("user", tab.UserID))
	}
}

// publish fans out the session state after a queue mutation, which does
// not go through the engine's own change notification.
func (h *PlayerHandler) publish(s *session, userID int64) {
	snap := s.engine.Snapshot()
	h.hub.PublishSnapshot(userID, &snap, "")
	h.worker.Enqueue(userID, snap)
}

// sendError reports a failure back to the tab that issued the command,
// with the user-facing message alongside the raw error.
func (h *PlayerHandler) sendError(tab *tabsync.Tab, err error) {
	logger.Warn("playback command failed",
		logger.ErrorField(err),
		logger.Int64("user", tab.UserID),
		logger.String("tab", tab.TabID))

	data, merr := json.Marshal(map[string]string{
		"message": player.UserMessage(err),
	})
	if merr != nil {
		return
	}
	if serr := tab.SendMessage(&tabsync.WSMessage{Type: tabsync.MsgTypeError, Data: data}); serr != nil {
		logger.Warn("failed to send error to tab", logger.ErrorField(serr))
	}
}
