package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/referral-next/internal/cache"
	"github.com/referral-next/internal/constants"
	"github.com/referral-next/internal/models"
	"github.com/shopspring/decimal"
)

const (
	referralPercentMin      = 0
	referralPercentMax      = 100
	referralDelayDaysMin    = 0
	referralDelayDaysMax    = 3650
	referralTermsMaxRune    = 2000
	referralSettingCacheKey = "setting:referral_config"
	referralSettingCacheTTL = 5 * time.Minute
)

// ReferralSetting 推荐返利配置
// reward_type：fixed 固定金额 / percentage 订单比例 / credit 站内余额
type ReferralSetting struct {
	Enabled                bool    `json:"enabled"`
	RewardType             string  `json:"reward_type"`
	RewardAmount           float64 `json:"reward_amount"`
	ReferredDiscountType   string  `json:"referred_discount_type"`
	ReferredDiscountAmount float64 `json:"referred_discount_amount"`
	MinimumOrderValue      float64 `json:"minimum_order_value"`
	RewardDelayDays        int     `json:"reward_delay_days"`
	TermsText              string  `json:"terms_text"`
}

// ReferralSettingPatch 推荐返利配置的稀疏更新输入
// nil 字段表示不修改，保留当前存储值
type ReferralSettingPatch struct {
	Enabled                *bool    `json:"enabled"`
	RewardType             *string  `json:"reward_type"`
	RewardAmount           *float64 `json:"reward_amount"`
	ReferredDiscountType   *string  `json:"referred_discount_type"`
	ReferredDiscountAmount *float64 `json:"referred_discount_amount"`
	MinimumOrderValue      *float64 `json:"minimum_order_value"`
	RewardDelayDays        *int     `json:"reward_delay_days"`
	TermsText              *string  `json:"terms_text"`
}

func (p ReferralSettingPatch) applyTo(base ReferralSetting) ReferralSetting {
	if p.Enabled != nil {
		base.Enabled = *p.Enabled
	}
	if p.RewardType != nil {
		base.RewardType = *p.RewardType
	}
	if p.RewardAmount != nil {
		base.RewardAmount = *p.RewardAmount
	}
	if p.ReferredDiscountType != nil {
		base.ReferredDiscountType = *p.ReferredDiscountType
	}
	if p.ReferredDiscountAmount != nil {
		base.ReferredDiscountAmount = *p.ReferredDiscountAmount
	}
	if p.MinimumOrderValue != nil {
		base.MinimumOrderValue = *p.MinimumOrderValue
	}
	if p.RewardDelayDays != nil {
		base.RewardDelayDays = *p.RewardDelayDays
	}
	if p.TermsText != nil {
		base.TermsText = *p.TermsText
	}
	return base
}

// ReferralSettingReplaceAll 将完整配置转换为覆盖全部字段的更新输入
func ReferralSettingReplaceAll(setting ReferralSetting) ReferralSettingPatch {
	return ReferralSettingPatch{
		Enabled:                &setting.Enabled,
		RewardType:             &setting.RewardType,
		RewardAmount:           &setting.RewardAmount,
		ReferredDiscountType:   &setting.ReferredDiscountType,
		ReferredDiscountAmount: &setting.ReferredDiscountAmount,
		MinimumOrderValue:      &setting.MinimumOrderValue,
		RewardDelayDays:        &setting.RewardDelayDays,
		TermsText:              &setting.TermsText,
	}
}

// ReferralDefaultSetting 默认推荐返利配置
func ReferralDefaultSetting() ReferralSetting {
	return NormalizeReferralSetting(ReferralSetting{
		Enabled:                false,
		RewardType:             constants.RewardTypePercentage,
		RewardAmount:           0,
		ReferredDiscountType:   constants.DiscountTypeFixed,
		ReferredDiscountAmount: 0,
		MinimumOrderValue:      0,
		RewardDelayDays:        0,
		TermsText:              "",
	})
}

// NormalizeReferralSetting 归一化推荐返利配置
func NormalizeReferralSetting(setting ReferralSetting) ReferralSetting {
	setting.RewardType = strings.ToLower(strings.TrimSpace(setting.RewardType))
	switch setting.RewardType {
	case constants.RewardTypeFixed, constants.RewardTypePercentage, constants.RewardTypeCredit:
	default:
		setting.RewardType = constants.RewardTypePercentage
	}

	setting.ReferredDiscountType = strings.ToLower(strings.TrimSpace(setting.ReferredDiscountType))
	switch setting.ReferredDiscountType {
	case constants.DiscountTypeFixed, constants.DiscountTypePercentage:
	default:
		setting.ReferredDiscountType = constants.DiscountTypeFixed
	}

	setting.RewardAmount = roundReferralDecimal(setting.RewardAmount)
	if setting.RewardAmount < 0 {
		setting.RewardAmount = 0
	}
	if setting.RewardType == constants.RewardTypePercentage && setting.RewardAmount > referralPercentMax {
		setting.RewardAmount = referralPercentMax
	}

	setting.ReferredDiscountAmount = roundReferralDecimal(setting.ReferredDiscountAmount)
	if setting.ReferredDiscountAmount < 0 {
		setting.ReferredDiscountAmount = 0
	}
	if setting.ReferredDiscountType == constants.DiscountTypePercentage && setting.ReferredDiscountAmount > referralPercentMax {
		setting.ReferredDiscountAmount = referralPercentMax
	}

	setting.MinimumOrderValue = roundReferralDecimal(setting.MinimumOrderValue)
	if setting.MinimumOrderValue < 0 {
		setting.MinimumOrderValue = 0
	}

	if setting.RewardDelayDays < referralDelayDaysMin {
		setting.RewardDelayDays = referralDelayDaysMin
	}
	if setting.RewardDelayDays > referralDelayDaysMax {
		setting.RewardDelayDays = referralDelayDaysMax
	}

	setting.TermsText = truncateRunes(strings.TrimSpace(setting.TermsText), referralTermsMaxRune)
	return setting
}

// ValidateReferralSetting 校验推荐返利配置
func ValidateReferralSetting(setting ReferralSetting) error {
	switch strings.ToLower(strings.TrimSpace(setting.RewardType)) {
	case constants.RewardTypeFixed, constants.RewardTypePercentage, constants.RewardTypeCredit:
	default:
		return fmt.Errorf("%w: 奖励类型必须是 fixed/percentage/credit", ErrReferralConfigInvalid)
	}
	switch strings.ToLower(strings.TrimSpace(setting.ReferredDiscountType)) {
	case constants.DiscountTypeFixed, constants.DiscountTypePercentage:
	default:
		return fmt.Errorf("%w: 折扣类型必须是 fixed/percentage", ErrReferralConfigInvalid)
	}
	if setting.RewardAmount < 0 {
		return fmt.Errorf("%w: 奖励金额不能小于 0", ErrReferralConfigInvalid)
	}
	if strings.EqualFold(setting.RewardType, constants.RewardTypePercentage) &&
		setting.RewardAmount > referralPercentMax {
		return fmt.Errorf("%w: 奖励比例必须在 0-100 之间", ErrReferralConfigInvalid)
	}
	if setting.ReferredDiscountAmount < 0 {
		return fmt.Errorf("%w: 折扣金额不能小于 0", ErrReferralConfigInvalid)
	}
	if strings.EqualFold(setting.ReferredDiscountType, constants.DiscountTypePercentage) &&
		setting.ReferredDiscountAmount > referralPercentMax {
		return fmt.Errorf("%w: 折扣比例必须在 0-100 之间", ErrReferralConfigInvalid)
	}
	if setting.MinimumOrderValue < 0 {
		return fmt.Errorf("%w: 最低订单金额不能小于 0", ErrReferralConfigInvalid)
	}
	if setting.RewardDelayDays < referralDelayDaysMin || setting.RewardDelayDays > referralDelayDaysMax {
		return fmt.Errorf("%w: 奖励成熟天数必须在 0-3650 之间", ErrReferralConfigInvalid)
	}
	return nil
}

// ReferralSettingToMap 将推荐返利配置转换为 settings 存储结构
func ReferralSettingToMap(setting ReferralSetting) map[string]interface{} {
	normalized := NormalizeReferralSetting(setting)
	return map[string]interface{}{
		"enabled":                  normalized.Enabled,
		"reward_type":              normalized.RewardType,
		"reward_amount":            normalized.RewardAmount,
		"referred_discount_type":   normalized.ReferredDiscountType,
		"referred_discount_amount": normalized.ReferredDiscountAmount,
		"minimum_order_value":      normalized.MinimumOrderValue,
		"reward_delay_days":        normalized.RewardDelayDays,
		"terms_text":               normalized.TermsText,
	}
}

func referralSettingFromJSON(raw models.JSON, fallback ReferralSetting) ReferralSetting {
	result := fallback

	if enabledRaw, ok := raw["enabled"]; ok {
		result.Enabled = parseSettingBool(enabledRaw)
	}
	if typeRaw, ok := raw["reward_type"]; ok {
		result.RewardType = normalizeSettingText(typeRaw)
	}
	if amountRaw, ok := raw["reward_amount"]; ok {
		if parsed, err := parseSettingFloat(amountRaw); err == nil {
			result.RewardAmount = parsed
		}
	}
	if typeRaw, ok := raw["referred_discount_type"]; ok {
		result.ReferredDiscountType = normalizeSettingText(typeRaw)
	}
	if amountRaw, ok := raw["referred_discount_amount"]; ok {
		if parsed, err := parseSettingFloat(amountRaw); err == nil {
			result.ReferredDiscountAmount = parsed
		}
	}
	if minRaw, ok := raw["minimum_order_value"]; ok {
		if parsed, err := parseSettingFloat(minRaw); err == nil {
			result.MinimumOrderValue = parsed
		}
	}
	if delayRaw, ok := raw["reward_delay_days"]; ok {
		if parsed, err := parseSettingInt(delayRaw); err == nil {
			result.RewardDelayDays = parsed
		}
	}
	if termsRaw, ok := raw["terms_text"]; ok {
		result.TermsText = normalizeSettingText(termsRaw)
	}

	return NormalizeReferralSetting(result)
}

// ComputeReferrerReward 按配置计算推荐人奖励
// fixed 和 credit 均为固定金额，credit 表示以站内余额发放
func (setting ReferralSetting) ComputeReferrerReward(orderTotal decimal.Decimal) decimal.Decimal {
	amount := decimal.NewFromFloat(setting.RewardAmount)
	var reward decimal.Decimal
	switch setting.RewardType {
	case constants.RewardTypePercentage:
		reward = orderTotal.Mul(amount).Div(decimal.NewFromInt(100))
	default:
		reward = amount
	}
	reward = reward.Round(2)
	if reward.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	return reward
}

// ComputeReferredDiscount 按配置计算被推荐人折扣，不超过订单金额
func (setting ReferralSetting) ComputeReferredDiscount(orderTotal decimal.Decimal) decimal.Decimal {
	amount := decimal.NewFromFloat(setting.ReferredDiscountAmount)
	var discount decimal.Decimal
	switch setting.ReferredDiscountType {
	case constants.DiscountTypePercentage:
		discount = orderTotal.Mul(amount).Div(decimal.NewFromInt(100))
	default:
		discount = amount
	}
	discount = discount.Round(2)
	if discount.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if discount.GreaterThan(orderTotal) {
		return orderTotal.Round(2)
	}
	return discount
}

// GetReferralSetting 获取推荐返利设置，配置缺失时回退默认值（展示路径）
func (s *SettingService) GetReferralSetting() (ReferralSetting, error) {
	fallback := ReferralDefaultSetting()
	if s == nil {
		return fallback, nil
	}

	ctx := context.Background()
	var cached ReferralSetting
	if hit, err := cache.GetJSON(ctx, referralSettingCacheKey, &cached); err == nil && hit {
		return NormalizeReferralSetting(cached), nil
	}

	value, err := s.GetByKey(constants.SettingKeyReferralConfig)
	if err != nil {
		return fallback, err
	}
	if value == nil {
		return fallback, nil
	}
	setting := referralSettingFromJSON(value, fallback)
	_ = cache.SetJSON(ctx, referralSettingCacheKey, setting, referralSettingCacheTTL)
	return setting, nil
}

// GetReferralSettingStrict 获取推荐返利设置，配置缺失时直接报错
// 转化入账等资金路径必须走这里，不允许落到隐式默认值
func (s *SettingService) GetReferralSettingStrict() (ReferralSetting, error) {
	if s == nil {
		return ReferralSetting{}, ErrReferralSettingsMissing
	}

	ctx := context.Background()
	var cached ReferralSetting
	if hit, err := cache.GetJSON(ctx, referralSettingCacheKey, &cached); err == nil && hit {
		return NormalizeReferralSetting(cached), nil
	}

	value, err := s.GetByKey(constants.SettingKeyReferralConfig)
	if err != nil {
		return ReferralSetting{}, err
	}
	if value == nil {
		return ReferralSetting{}, ErrReferralSettingsMissing
	}
	setting := referralSettingFromJSON(value, ReferralDefaultSetting())
	_ = cache.SetJSON(ctx, referralSettingCacheKey, setting, referralSettingCacheTTL)
	return setting, nil
}

// UpdateReferralSetting 稀疏更新推荐返利设置
// 仅覆盖请求中出现的字段，未出现的字段保留当前存储值
func (s *SettingService) UpdateReferralSetting(patch ReferralSettingPatch) (ReferralSetting, error) {
	current, err := s.GetReferralSetting()
	if err != nil {
		return ReferralDefaultSetting(), err
	}
	merged := patch.applyTo(current)
	// 先校验原始输入再归一化，归一化会把非法值收敛掉
	if err := ValidateReferralSetting(merged); err != nil {
		return ReferralDefaultSetting(), err
	}
	normalized := NormalizeReferralSetting(merged)
	if _, err := s.Update(constants.SettingKeyReferralConfig, ReferralSettingToMap(normalized)); err != nil {
		return ReferralDefaultSetting(), err
	}
	_ = cache.Del(context.Background(), referralSettingCacheKey)
	return normalized, nil
}

func roundReferralDecimal(value float64) float64 {
	return math.Round(value*100) / 100
}

func truncateRunes(text string, maxRuneCount int) string {
	if text == "" || maxRuneCount <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxRuneCount {
		return text
	}
	return string(runes[:maxRuneCount])
}
