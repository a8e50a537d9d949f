package tabsync

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"EchoFM/cache"
	"EchoFM/config"
	"EchoFM/logger"
	"EchoFM/model"

	"github.com/redis/go-redis/v9"
)

const snapshotChannelPrefix = "player:events:"

// snapshotItem pairs a snapshot with its owner for the worker queue.
type snapshotItem struct {
	userID int64
	snap   model.Snapshot
}

// Worker persists session snapshots and relays them across server
// instances over Redis pub/sub. Persistence makes a reload resume where
// playback left off; pub/sub keeps tabs attached to other instances in
// sync.
type Worker struct {
	rdb  *redis.Client
	hub  *Hub
	ch   chan snapshotItem
	done chan struct{}
}

// NewWorker 创建同步 Worker 并建立 Redis 连接
func NewWorker(cfg *config.Config, hub *Hub) (*Worker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis for sync worker: %w", err)
	}

	return &Worker{
		rdb:  rdb,
		hub:  hub,
		ch:   make(chan snapshotItem, 256),
		done: make(chan struct{}),
	}, nil
}

// Enqueue hands a snapshot to the worker. Never blocks the engine: when
// the queue is full the snapshot is dropped, a newer one is always on the
// way.
func (w *Worker) Enqueue(userID int64, snap model.Snapshot) {
	select {
	case w.ch <- snapshotItem{userID: userID, snap: snap}:
	default:
		logger.Debug("sync worker queue full, dropping snapshot",
			logger.Int64("user", userID))
	}
}

// Run drains the snapshot queue: persist, then publish. Blocks until Stop.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case item := <-w.ch:
			w.flush(ctx, item)

		case <-w.done:
			return

		case <-ctx.Done():
			return
		}
	}
}

// Stop 停止 Worker
func (w *Worker) Stop() {
	close(w.done)
	if err := w.rdb.Close(); err != nil {
		logger.Warn("failed to close sync worker redis connection", logger.ErrorField(err))
	}
}

func (w *Worker) flush(ctx context.Context, item snapshotItem) {
	if err := cache.SaveSnapshot(ctx, item.userID, &item.snap); err != nil {
		logger.Warn("failed to persist session snapshot",
			logger.ErrorField(err),
			logger.Int64("user", item.userID))
	}

	data, err := json.Marshal(&item.snap)
	if err != nil {
		logger.Warn("failed to marshal snapshot for publish", logger.ErrorField(err))
		return
	}
	channel := snapshotChannelPrefix + strconv.FormatInt(item.userID, 10)
	if err := w.rdb.Publish(ctx, channel, data).Err(); err != nil {
		logger.Warn("failed to publish session snapshot",
			logger.ErrorField(err),
			logger.Int64("user", item.userID))
	}
}

// Subscribe relays snapshots published by other server instances to the
// tabs attached here. Blocks until the context is cancelled.
func (w *Worker) Subscribe(ctx context.Context) {
	sub := w.rdb.PSubscribe(ctx, snapshotChannelPrefix+"*")
	defer sub.Close()

	logger.Info("sync worker subscribed", logger.String("pattern", snapshotChannelPrefix+"*"))

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.relay(msg)

		case <-ctx.Done():
			return

		case <-w.done:
			return
		}
	}
}

func (w *Worker) relay(msg *redis.Message) {
	userID, err := strconv.ParseInt(strings.TrimPrefix(msg.Channel, snapshotChannelPrefix), 10, 64)
	if err != nil {
		logger.Warn("unparseable snapshot channel", logger.String("channel", msg.Channel))
		return
	}
	if w.hub.TabCount(userID) == 0 {
		return // no local tabs for this user
	}

	var snap model.Snapshot
	if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
		logger.Warn("invalid snapshot payload",
			logger.ErrorField(err),
			logger.Int64("user", userID))
		return
	}
	// The hub's latest-wins check discards echoes of our own publishes.
	w.hub.PublishSnapshot(userID, &snap, "")
}

// LoadSnapshot 读取用户最近一次持久化的会话快照
func (w *Worker) LoadSnapshot(ctx context.Context, userID int64) (*model.Snapshot, error) {
	return cache.LoadSnapshot(ctx, userID)
}
