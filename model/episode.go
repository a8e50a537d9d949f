package model

import "time"

// Episode is a podcast episode known to the catalog. Episode audio is
// hosted on external feeds, so AudioURL here is already playable; the
// resolver only uses this table to prefer a canonical URL over whatever
// reference the caller handed in.
type Episode struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	ShowID    int64     `json:"showId"`
	Title     string    `json:"title" gorm:"index"`
	AudioURL  string    `json:"audioUrl"`
	CoverURL  string    `json:"coverUrl,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Episode) TableName() string {
	return "episodes"
}
