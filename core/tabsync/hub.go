package tabsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"EchoFM/logger"
	"EchoFM/model"

	"github.com/gorilla/websocket"
)

// MessageType 消息类型
type MessageType string

const (
	// 系统消息
	MsgTypeHello MessageType = "hello" // 新标签页接入，携带会话快照
	MsgTypeError MessageType = "error" // 错误消息
	MsgTypePing  MessageType = "ping"  // 心跳
	MsgTypePong  MessageType = "pong"  // 心跳响应
	MsgTypeState MessageType = "state" // 会话快照广播

	// 播放控制消息（任意标签页 -> 服务端）
	MsgTypePlay       MessageType = "play"
	MsgTypePause      MessageType = "pause"
	MsgTypeResume     MessageType = "resume"
	MsgTypeSeek       MessageType = "seek"
	MsgTypeNext       MessageType = "next"
	MsgTypePrev       MessageType = "prev"
	MsgTypeVolume     MessageType = "volume"
	MsgTypeShuffle    MessageType = "shuffle"
	MsgTypeRepeat     MessageType = "repeat"
	MsgTypeSmartQueue MessageType = "smart_queue"

	// 队列操作消息
	MsgTypeQueueAdd    MessageType = "queue_add"
	MsgTypeQueueRemove MessageType = "queue_remove"
	MsgTypeQueueClear  MessageType = "queue_clear"

	// 输出标签页消息（音频元素所在的标签页）
	MsgTypeOutputGrant MessageType = "output_grant" // 指定该标签页接管音频输出
	MsgTypeOutputCmd   MessageType = "output_cmd"   // 服务端 -> 输出标签页的音频指令
	MsgTypeOutputEvent MessageType = "output_event" // 输出标签页 -> 服务端的音频事件

	// 广告消息
	MsgTypeAdProgress MessageType = "ad_progress" // 广告进度（第 n/m 条）
	MsgTypeAdClick    MessageType = "ad_click"    // 广告点击
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType     `json:"type"`
	TabID     string          `json:"tabId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// HelloData is the registration reply: whether a live session exists and
// its latest snapshot if so.
type HelloData struct {
	HasSession bool            `json:"hasSession"`
	Snapshot   *model.Snapshot `json:"snapshot,omitempty"`
}

// Tab 一个用户打开的一个浏览器标签页
type Tab struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	UserID int64
	TabID  string

	// isOutput marks the tab whose audio element the engine drives.
	// Guarded by the hub mutex.
	isOutput bool
}

// BroadcastMessage 广播消息
type BroadcastMessage struct {
	UserID     int64
	Message    []byte
	ExcludeTab string // 不回发给发送方标签页
}

// Hub fans session state out to every tab a user has open and routes
// commands back. One hub serves all users on this server instance.
type Hub struct {
	// 用户 -> 标签页集合
	users map[int64]map[*Tab]bool

	// userID:tabID -> 标签页
	tabs map[string]*Tab

	// 每个用户最新的会话快照（latest wins）
	snapshots map[int64]*model.Snapshot

	register   chan *Tab
	unregister chan *Tab
	broadcast  chan *BroadcastMessage

	mu   sync.RWMutex
	done chan struct{}
}

// NewHub 创建同步 Hub
func NewHub() *Hub {
	return &Hub{
		users:      make(map[int64]map[*Tab]bool),
		tabs:       make(map[string]*Tab),
		snapshots:  make(map[int64]*model.Snapshot),
		register:   make(chan *Tab),
		unregister: make(chan *Tab),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case tab := <-h.register:
			h.registerTab(tab)

		case tab := <-h.unregister:
			h.unregisterTab(tab)

		case msg := <-h.broadcast:
			h.broadcastToUser(msg)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub
func (h *Hub) Stop() {
	close(h.done)
}

// registerTab 注册标签页
func (h *Hub) registerTab(tab *Tab) {
	h.mu.Lock()

	tabKey := h.tabKey(tab.UserID, tab.TabID)

	// 同一个 tabId 重复连接时踢掉旧连接（页面刷新）
	if old, exists := h.tabs[tabKey]; exists {
		h.removeTab(old)
	}

	if h.users[tab.UserID] == nil {
		h.users[tab.UserID] = make(map[*Tab]bool)
	}
	h.users[tab.UserID][tab] = true
	h.tabs[tabKey] = tab

	// 用户还没有输出标签页时，这个标签页接管音频输出
	grantOutput := h.outputTabLocked(tab.UserID) == nil
	if grantOutput {
		tab.isOutput = true
	}
	snap := h.snapshots[tab.UserID]
	h.mu.Unlock()

	hello := &HelloData{HasSession: snap != nil, Snapshot: snap}
	if data, err := json.Marshal(hello); err == nil {
		tab.sendMessage(&WSMessage{Type: MsgTypeHello, Data: data})
	}
	if grantOutput {
		tab.sendMessage(&WSMessage{Type: MsgTypeOutputGrant})
	}

	logger.Info("tab registered",
		logger.Int64("user", tab.UserID),
		logger.String("tab", tab.TabID),
		logger.Bool("output", grantOutput))
}

// unregisterTab 注销标签页
func (h *Hub) unregisterTab(tab *Tab) {
	h.mu.Lock()
	promoted := h.removeTab(tab)
	h.mu.Unlock()

	if promoted != nil {
		promoted.sendMessage(&WSMessage{Type: MsgTypeOutputGrant})
		logger.Info("output moved to surviving tab",
			logger.Int64("user", tab.UserID),
			logger.String("tab", promoted.TabID))
	}

	logger.Info("tab unregistered",
		logger.Int64("user", tab.UserID),
		logger.String("tab", tab.TabID))
}

// removeTab 移除标签页（内部方法，需要持有锁）。如果被移除的是输出
// 标签页且用户还有其他标签页，返回被提升为新输出的那个。
func (h *Hub) removeTab(tab *Tab) *Tab {
	tabKey := h.tabKey(tab.UserID, tab.TabID)

	tabs, ok := h.users[tab.UserID]
	if !ok || !tabs[tab] {
		return nil
	}
	delete(tabs, tab)
	close(tab.Send)
	delete(h.tabs, tabKey)

	if len(tabs) == 0 {
		delete(h.users, tab.UserID)
		return nil
	}

	if !tab.isOutput {
		return nil
	}
	// 输出标签页关闭了，随便挑一个幸存的标签页接管
	for survivor := range tabs {
		survivor.isOutput = true
		return survivor
	}
	return nil
}

// broadcastToUser 向用户的所有标签页广播消息
func (h *Hub) broadcastToUser(msg *BroadcastMessage) {
	h.mu.RLock()
	tabs, ok := h.users[msg.UserID]
	if !ok {
		h.mu.RUnlock()
		return
	}

	// 复制标签页列表以避免长时间持有锁
	tabList := make([]*Tab, 0, len(tabs))
	for tab := range tabs {
		tabList = append(tabList, tab)
	}
	h.mu.RUnlock()

	var stuck []*Tab
	for _, tab := range tabList {
		if msg.ExcludeTab != "" && tab.TabID == msg.ExcludeTab {
			continue
		}
		select {
		case tab.Send <- msg.Message:
		default:
			// 发送缓冲区满，标签页已经不消费消息了。不能往 unregister
			// 通道回写：它的唯一读者就是当前这个循环。
			stuck = append(stuck, tab)
		}
	}

	for _, tab := range stuck {
		h.mu.Lock()
		promoted := h.removeTab(tab)
		h.mu.Unlock()

		if promoted != nil {
			promoted.sendMessage(&WSMessage{Type: MsgTypeOutputGrant})
		}
		logger.Warn("dropped stuck tab",
			logger.Int64("user", tab.UserID),
			logger.String("tab", tab.TabID))
	}
}

// cleanup 清理所有连接
func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, tabs := range h.users {
		for tab := range tabs {
			close(tab.Send)
		}
	}
	h.users = make(map[int64]map[*Tab]bool)
	h.tabs = make(map[string]*Tab)
	h.snapshots = make(map[int64]*model.Snapshot)
}

func (h *Hub) tabKey(userID int64, tabID string) string {
	return fmt.Sprintf("%d:%s", userID, tabID)
}

// outputTabLocked 返回当前的输出标签页（需要持有锁）
func (h *Hub) outputTabLocked(userID int64) *Tab {
	for tab := range h.users[userID] {
		if tab.isOutput {
			return tab
		}
	}
	return nil
}

// Register 注册标签页
func (h *Hub) Register(tab *Tab) {
	h.register <- tab
}

// Unregister 注销标签页
func (h *Hub) Unregister(tab *Tab) {
	h.unregister <- tab
}

// Broadcast 广播消息到用户的所有标签页
func (h *Hub) Broadcast(userID int64, message []byte, excludeTab string) {
	h.broadcast <- &BroadcastMessage{
		UserID:     userID,
		Message:    message,
		ExcludeTab: excludeTab,
	}
}

// BroadcastWSMessage 广播 WSMessage
func (h *Hub) BroadcastWSMessage(userID int64, msg *WSMessage, excludeTab string) error {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.Broadcast(userID, data, excludeTab)
	return nil
}

// PublishSnapshot caches and fans out a session snapshot. Stale snapshots
// (older UpdatedAt than the cached one) are dropped: latest wins.
func (h *Hub) PublishSnapshot(userID int64, snap *model.Snapshot, sourceTab string) {
	if snap == nil {
		return
	}

	h.mu.Lock()
	if cached, ok := h.snapshots[userID]; ok && cached.UpdatedAt > snap.UpdatedAt {
		h.mu.Unlock()
		logger.Debug("dropping stale snapshot",
			logger.Int64("user", userID),
			logger.Int64("cached", cached.UpdatedAt),
			logger.Int64("incoming", snap.UpdatedAt))
		return
	}
	h.snapshots[userID] = snap
	h.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		logger.Warn("failed to marshal snapshot", logger.ErrorField(err))
		return
	}
	if err := h.BroadcastWSMessage(userID, &WSMessage{Type: MsgTypeState, Data: data}, sourceTab); err != nil {
		logger.Warn("failed to broadcast snapshot", logger.ErrorField(err))
	}
}

// LatestSnapshot 获取用户最新的会话快照
func (h *Hub) LatestSnapshot(userID int64) *model.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snapshots[userID]
}

// TabCount 获取用户在线标签页数量
func (h *Hub) TabCount(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// GetTab 获取指定标签页
func (h *Hub) GetTab(userID int64, tabID string) *Tab {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tabs[h.tabKey(userID, tabID)]
}

// SendToOutput 发送消息给用户的输出标签页
func (h *Hub) SendToOutput(userID int64, msg *WSMessage) error {
	h.mu.RLock()
	tab := h.outputTabLocked(userID)
	h.mu.RUnlock()

	if tab == nil {
		return fmt.Errorf("no output tab for user %d", userID)
	}
	return tab.SendMessage(msg)
}

// ========== Tab 方法 ==========

// ReadPump 读取消息循环
func (t *Tab) ReadPump(ctx context.Context, handler func(ctx context.Context, tab *Tab, msg *WSMessage)) {
	defer func() {
		t.Hub.Unregister(t)
		t.Conn.Close()
	}()

	t.Conn.SetReadLimit(16384) // 16KB, snapshots carry the whole queue
	t.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	t.Conn.SetPongHandler(func(string) error {
		t.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, message, err := t.Conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.Warn("websocket read error",
						logger.ErrorField(err),
						logger.Int64("user", t.UserID),
						logger.String("tab", t.TabID))
				}
				return
			}

			var msg WSMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				logger.Warn("invalid message format",
					logger.ErrorField(err),
					logger.Int64("user", t.UserID))
				continue
			}

			// 处理心跳
			if msg.Type == MsgTypePing {
				pong := &WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()}
				if data, err := json.Marshal(pong); err == nil {
					select {
					case t.Send <- data:
					default:
					}
				}
				continue
			}

			handler(ctx, t, &msg)
		}
	}
}

// WritePump 写入消息循环
func (t *Tab) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		t.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-t.Send:
			t.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub 关闭了通道
				t.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := t.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 合并发送队列中的消息
			n := len(t.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-t.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			t.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := t.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage 发送消息给标签页
func (t *Tab) SendMessage(msg *WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case t.Send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full for tab %s", t.TabID)
	}
}

// sendMessage 发送消息，缓冲区满时静默丢弃
func (t *Tab) sendMessage(msg *WSMessage) {
	if err := t.SendMessage(msg); err != nil {
		logger.Warn("failed to send to tab",
			logger.ErrorField(err),
			logger.Int64("user", t.UserID),
			logger.String("tab", t.TabID))
	}
}
