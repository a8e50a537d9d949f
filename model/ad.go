package model

import "time"

// Ad 广告素材记录。播放次数升序排列，让最少播放的素材优先出场
type Ad struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	Title      string    `json:"title"`
	AudioURL   string    `json:"audioUrl"`
	TargetURL  string    `json:"targetUrl,omitempty"` // click-through destination
	PlayCount  int64     `json:"playCount"`
	ClickCount int64     `json:"clickCount"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Ad) TableName() string {
	return "ads"
}

// AdPolicyState 广告策略的持久化状态，按用户维度存储。
// 页面刷新不能重置广告计时，所以这两个时钟必须落库；
// 熔断计数不落库，进程重启后恢复投放。
type AdPolicyState struct {
	UserID         int64     `json:"userId" gorm:"primaryKey;autoIncrement:false"`
	LastAdTime     time.Time `json:"lastAdTime"`
	GracePeriodEnd time.Time `json:"gracePeriodEnd"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (AdPolicyState) TableName() string {
	return "ad_policy_states"
}
