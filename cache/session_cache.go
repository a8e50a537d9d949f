package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"EchoFM/model"

	"github.com/go-redis/redis/v8"
)

// 会话快照在 Redis 中的保留时长。超过这个时间没有任何播放活动，
// 刷新页面就从空播放器开始
const snapshotTTL = 24 * time.Hour

// GetSnapshotKey 根据用户ID生成会话快照的Redis键
func GetSnapshotKey(userID int64) string {
	return fmt.Sprintf("player:snapshot:%d", userID)
}

// SaveSnapshot 保存用户当前的播放快照
func SaveSnapshot(ctx context.Context, userID int64, snap *model.Snapshot) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := RedisClient.Set(ctx, GetSnapshotKey(userID), data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot 读取用户最近一次的播放快照，没有则返回 nil
func LoadSnapshot(ctx context.Context, userID int64) (*model.Snapshot, error) {
	if RedisClient == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	data, err := RedisClient.Get(ctx, GetSnapshotKey(userID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// ClearSnapshot 删除用户的播放快照
func ClearSnapshot(ctx context.Context, userID int64) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return RedisClient.Del(ctx, GetSnapshotKey(userID)).Err()
}
