package repository

import (
	"fmt"

	"EchoFM/db"
	"EchoFM/model"

	"gorm.io/gorm"
)

// EpisodeRepository 播客单集目录。解析器用标题匹配优选标准音频地址
type EpisodeRepository interface {
	GetEpisodeByTitle(title string) (*model.Episode, error)
	GetEpisodeByID(id int64) (*model.Episode, error)
}

// gormEpisodeRepository 基于 GORM 的 EpisodeRepository 实现
type gormEpisodeRepository struct {
	db *gorm.DB
}

// NewGormEpisodeRepository 创建单集仓库实例
func NewGormEpisodeRepository() EpisodeRepository {
	return &gormEpisodeRepository{db: db.GormDB}
}

// GetEpisodeByTitle 按标题精确匹配单集，未找到返回 nil
func (r *gormEpisodeRepository) GetEpisodeByTitle(title string) (*model.Episode, error) {
	var ep model.Episode
	err := r.db.First(&ep, "title = ?", title).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query episode by title %q: %w", title, err)
	}
	return &ep, nil
}

// GetEpisodeByID 按ID获取单集
func (r *gormEpisodeRepository) GetEpisodeByID(id int64) (*model.Episode, error) {
	var ep model.Episode
	err := r.db.First(&ep, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query episode by ID %d: %w", id, err)
	}
	return &ep, nil
}
