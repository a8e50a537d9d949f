package repository

import (
	"fmt"
	"time"

	"EchoFM/db"
	"EchoFM/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PolicyRepository persists per-user ad policy state. First use creates
// the row (upsert semantics); a page refresh must never reset the clocks.
type PolicyRepository interface {
	GetState(userID int64) (*model.AdPolicyState, error)
	PutState(state *model.AdPolicyState) error
}

// gormPolicyRepository 基于 GORM 的 PolicyRepository 实现
type gormPolicyRepository struct {
	db *gorm.DB
}

// NewGormPolicyRepository 创建策略状态仓库实例
func NewGormPolicyRepository() PolicyRepository {
	return &gormPolicyRepository{db: db.GormDB}
}

// GetState 读取用户的策略状态，不存在时惰性创建零值记录
func (r *gormPolicyRepository) GetState(userID int64) (*model.AdPolicyState, error) {
	var state model.AdPolicyState
	err := r.db.First(&state, "user_id = ?", userID).Error
	if err == nil {
		return &state, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to query policy state for user %d: %w", userID, err)
	}

	state = model.AdPolicyState{UserID: userID, UpdatedAt: time.Now()}
	if err := r.db.Create(&state).Error; err != nil {
		return nil, fmt.Errorf("failed to create policy state for user %d: %w", userID, err)
	}
	return &state, nil
}

// PutState 写回策略状态（upsert）
func (r *gormPolicyRepository) PutState(state *model.AdPolicyState) error {
	state.UpdatedAt = time.Now()
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_ad_time", "grace_period_end", "updated_at"}),
	}).Create(state).Error
	if err != nil {
		return fmt.Errorf("failed to put policy state for user %d: %w", state.UserID, err)
	}
	return nil
}
