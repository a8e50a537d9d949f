package repository

import (
	"fmt"

	"EchoFM/db"
	"EchoFM/model"

	"gorm.io/gorm"
)

// AdRepository 广告库存数据操作接口。
// GetActiveAds 按播放次数升序返回，保证最少播放的素材先被消耗
type AdRepository interface {
	GetActiveAds(limit int) ([]*model.Ad, error)
	GetAdByID(id int64) (*model.Ad, error)
	CreateAd(ad *model.Ad) error
	IncrementPlayCount(adID int64) error
	IncrementClickCount(adID int64) error
}

// gormAdRepository 基于 GORM 的 AdRepository 实现
type gormAdRepository struct {
	db *gorm.DB
}

// NewGormAdRepository 创建广告仓库实例
func NewGormAdRepository() AdRepository {
	return &gormAdRepository{db: db.GormDB}
}

// GetActiveAds 获取启用状态的广告，播放次数升序
func (r *gormAdRepository) GetActiveAds(limit int) ([]*model.Ad, error) {
	var ads []*model.Ad
	err := r.db.Where("active = ?", true).
		Order("play_count ASC").
		Limit(limit).
		Find(&ads).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query active ads: %w", err)
	}
	return ads, nil
}

// GetAdByID 按ID获取广告
func (r *gormAdRepository) GetAdByID(id int64) (*model.Ad, error) {
	var ad model.Ad
	err := r.db.First(&ad, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query ad by ID %d: %w", id, err)
	}
	return &ad, nil
}

// CreateAd 新增广告素材（投放 worker 注册新素材时默认 inactive）
func (r *gormAdRepository) CreateAd(ad *model.Ad) error {
	if err := r.db.Create(ad).Error; err != nil {
		return fmt.Errorf("failed to create ad: %w", err)
	}
	return nil
}

// IncrementPlayCount 播放计数+1
func (r *gormAdRepository) IncrementPlayCount(adID int64) error {
	err := r.db.Model(&model.Ad{}).Where("id = ?", adID).
		UpdateColumn("play_count", gorm.Expr("play_count + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to increment play count for ad %d: %w", adID, err)
	}
	return nil
}

// IncrementClickCount 点击计数+1，不影响播放
func (r *gormAdRepository) IncrementClickCount(adID int64) error {
	err := r.db.Model(&model.Ad{}).Where("id = ?", adID).
		UpdateColumn("click_count", gorm.Expr("click_count + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to increment click count for ad %d: %w", adID, err)
	}
	return nil
}
