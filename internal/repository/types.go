package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferralCodeListFilter 查询推荐码列表的过滤条件
type ReferralCodeListFilter struct {
	UserID   uint
	Code     string
	Active   *bool
	Keyword  string
	Page     int
	PageSize int
}

// ReferralClickListFilter 查询点击记录的过滤条件
type ReferralClickListFilter struct {
	ReferralCodeID uint
	VisitorKey     string
	Converted      *bool
	ClickedFrom    *time.Time
	ClickedTo      *time.Time
	Page           int
	PageSize       int
}

// ReferralConversionListFilter 查询转化记录的过滤条件
type ReferralConversionListFilter struct {
	ReferralCodeID uint
	ReferrerUserID uint
	OrderNo        string
	RewardStatus   string
	Keyword        string
	ConvertedFrom  *time.Time
	ConvertedTo    *time.Time
	Page           int
	PageSize       int
}

// UserListFilter 查询用户列表的过滤条件
type UserListFilter struct {
	Status   string
	Keyword  string
	Page     int
	PageSize int
}

// ReferralProgramTotals 全局推荐计划统计汇总
type ReferralProgramTotals struct {
	TotalCodes       int64
	ActiveCodes      int64
	TotalClicks      int64
	TotalConversions int64
	PendingReward    decimal.Decimal
	ApprovedReward   decimal.Decimal
	PaidReward       decimal.Decimal
	TotalRevenue     decimal.Decimal
}

// ReferralCodeStatsAggregate 推荐码维度统计汇总
type ReferralCodeStatsAggregate struct {
	ClickCount      int64
	ConversionCount int64
	PendingReward   decimal.Decimal
	ApprovedReward  decimal.Decimal
	PaidReward      decimal.Decimal
	TotalRevenue    decimal.Decimal
}
