package constants

// 奖励状态
const (
	RewardStatusPending  = "pending"  // 待成熟（退款保护期内）
	RewardStatusApproved = "approved" // 已成熟，等待结算
	RewardStatusPaid     = "paid"     // 已结算
)

// 推荐人奖励类型
const (
	RewardTypeFixed      = "fixed"      // 固定金额
	RewardTypePercentage = "percentage" // 订单金额百分比
	RewardTypeCredit     = "credit"     // 固定金额，以站内余额发放
)

// 被推荐人折扣类型
const (
	DiscountTypeFixed      = "fixed"
	DiscountTypePercentage = "percentage"
)

// 用户状态
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// 配置存储键
const (
	SettingKeyReferralConfig = "referral_config"
)

// 队列名称
const (
	QueueDefault  = "default"
	QueueCritical = "critical"
	QueueLow      = "low"
)

// 异步任务类型
const (
	TaskConversionRecord = "referral:conversion_record"
	TaskRewardReadyEmail = "referral:reward_ready_email"
)

// 游客展示名（推荐码归属用户缺失时的降级文案）
const (
	DisplayNameGuest   = "Guest"
	DisplayNameUnknown = "Unknown"
)
