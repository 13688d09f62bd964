package models

import (
	"time"

	"gorm.io/gorm"
)

// ReferralCode 用户推荐码（含累计统计口径）
type ReferralCode struct {
	ID           uint           `gorm:"primarykey" json:"id"`                                       // 主键
	UserID       uint           `gorm:"not null;uniqueIndex" json:"user_id"`                        // 归属用户ID（一人一码）
	Code         string         `gorm:"type:varchar(32);not null;uniqueIndex" json:"code"`          // 推荐码（统一大写存储）
	Clicks       int64          `gorm:"not null;default:0" json:"clicks"`                           // 累计点击数
	Conversions  int64          `gorm:"not null;default:0" json:"conversions"`                      // 累计转化数
	TotalRevenue Money          `gorm:"type:decimal(20,2);not null;default:0" json:"total_revenue"` // 累计带单金额
	TotalRewards Money          `gorm:"type:decimal(20,2);not null;default:0" json:"total_rewards"` // 累计奖励金额
	Active       bool           `gorm:"not null;default:true;index" json:"active"`                  // 是否启用
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`                                    // 创建时间
	UpdatedAt    time.Time      `gorm:"index" json:"updated_at"`                                    // 更新时间
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`                                             // 软删除时间

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"` // 归属用户
}

// TableName 指定表名
func (ReferralCode) TableName() string {
	return "referral_codes"
}
