package models

import "time"

// ReferralClick 推荐链接点击记录
type ReferralClick struct {
	ID                uint      `gorm:"primarykey" json:"id"`                                       // 主键
	ReferralCodeID    uint      `gorm:"not null;index" json:"referral_code_id"`                     // 推荐码ID
	ReferralCode      string    `gorm:"type:varchar(32);not null;index" json:"referral_code"`       // 推荐码快照（创建后不变）
	VisitorKey        string    `gorm:"type:varchar(128);index" json:"visitor_key"`                 // 访客标识
	IPAddress         string    `gorm:"type:varchar(64)" json:"ip_address"`                         // 客户端IP
	UserAgent         string    `gorm:"type:varchar(1024)" json:"user_agent"`                       // 客户端UA
	ReferrerURL       string    `gorm:"type:varchar(1024)" json:"referrer_url"`                     // 来源地址
	LandingPage       string    `gorm:"type:varchar(512)" json:"landing_page"`                      // 落地页面路径
	Converted         bool      `gorm:"not null;default:false;index" json:"converted"`              // 是否已转化（至多置位一次）
	ConversionOrderNo string    `gorm:"type:varchar(64)" json:"conversion_order_no,omitempty"`      // 关联转化订单号
	ClickedAt         time.Time `gorm:"index;not null;default:CURRENT_TIMESTAMP" json:"clicked_at"` // 点击时间

	Referral ReferralCode `gorm:"foreignKey:ReferralCodeID" json:"referral,omitempty"` // 推荐码
}

// TableName 指定表名
func (ReferralClick) TableName() string {
	return "referral_clicks"
}
