package models

import (
	"time"

	"gorm.io/gorm"
)

// ReferralConversion 推荐转化记录（奖励台账）
// 奖励金额在创建时按当时配置快照写入，后续配置变更不回溯。
type ReferralConversion struct {
	ID               uint           `gorm:"primarykey" json:"id"`                                                                  // 主键
	ReferralCodeID   uint           `gorm:"not null;index;index:idx_referral_conversion_unique,unique" json:"referral_code_id"`    // 推荐码ID
	ReferralCode     string         `gorm:"type:varchar(32);not null;index" json:"referral_code"`                                  // 推荐码快照
	ReferrerUserID   uint           `gorm:"not null;index" json:"referrer_user_id"`                                                // 推荐人用户ID
	ReferredUserID   *uint          `gorm:"index" json:"referred_user_id,omitempty"`                                               // 被推荐用户ID（游客下单为空）
	OrderNo          string         `gorm:"type:varchar(64);not null;index:idx_referral_conversion_unique,unique" json:"order_no"` // 订单号
	OrderTotal       Money          `gorm:"type:decimal(20,2);not null;default:0" json:"order_total"`                              // 订单金额
	ReferrerReward   Money          `gorm:"type:decimal(20,2);not null;default:0" json:"referrer_reward"`                          // 推荐人奖励（快照）
	ReferredDiscount Money          `gorm:"type:decimal(20,2);not null;default:0" json:"referred_discount"`                        // 被推荐人优惠（快照）
	RewardStatus     string         `gorm:"type:varchar(32);not null;index" json:"reward_status"`                                  // 奖励状态
	ConvertedAt      time.Time      `gorm:"index;not null" json:"converted_at"`                                                    // 转化时间
	ProcessedAt      *time.Time     `gorm:"index" json:"processed_at,omitempty"`                                                   // 奖励成熟处理时间
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`                                                               // 创建时间
	UpdatedAt        time.Time      `gorm:"index" json:"updated_at"`                                                               // 更新时间
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`                                                                        // 软删除时间

	Referral ReferralCode `gorm:"foreignKey:ReferralCodeID" json:"referral,omitempty"` // 推荐码
}

// TableName 指定表名
func (ReferralConversion) TableName() string {
	return "referral_conversions"
}
