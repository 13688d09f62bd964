package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/referral-next/internal/cache"
	"github.com/referral-next/internal/constants"
	"github.com/referral-next/internal/models"
	"github.com/referral-next/internal/repository"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	referralCodeMaxLength     = 20
	referralCodeBaseMaxLength = 10
	referralCodeGenMaxRetry   = 8
	referralDashboardRecent   = 10
)

var referralCodePattern = regexp.MustCompile(`^[A-Z0-9]{3,20}$`)

// ReferralService 推荐返利业务服务
type ReferralService struct {
	repo             repository.ReferralRepository
	userRepo         repository.UserRepository
	settingService   *SettingService
	clickDedupWindow time.Duration
}

// NewReferralService 创建推荐返利服务
func NewReferralService(
	repo repository.ReferralRepository,
	userRepo repository.UserRepository,
	settingService *SettingService,
	clickDedupWindow time.Duration,
) *ReferralService {
	return &ReferralService{
		repo:             repo,
		userRepo:         userRepo,
		settingService:   settingService,
		clickDedupWindow: clickDedupWindow,
	}
}

// ReferralTrackClickInput 推荐点击记录输入
type ReferralTrackClickInput struct {
	Code        string
	VisitorKey  string
	IPAddress   string
	UserAgent   string
	ReferrerURL string
	LandingPage string
}

// ReferralRecordConversionInput 推荐转化登记输入
type ReferralRecordConversionInput struct {
	Code           string
	OrderNo        string
	OrderTotal     decimal.Decimal
	ReferredUserID *uint
	VisitorKey     string
}

// ReferralStats 推荐码统计数据
type ReferralStats struct {
	ClickCount      int64        `json:"click_count"`
	ConversionCount int64        `json:"conversion_count"`
	ConversionRate  float64      `json:"conversion_rate"`
	PendingReward   models.Money `json:"pending_reward"`
	ApprovedReward  models.Money `json:"approved_reward"`
	PaidReward      models.Money `json:"paid_reward"`
	TotalRevenue    models.Money `json:"total_revenue"`
}

// ReferralConversionItem 转化记录展示项
type ReferralConversionItem struct {
	ID             uint         `json:"id"`
	OrderNo        string       `json:"order_no"`
	OrderTotal     models.Money `json:"order_total"`
	ReferrerReward models.Money `json:"referrer_reward"`
	RewardStatus   string       `json:"reward_status"`
	ReferredName   string       `json:"referred_name"`
	ConvertedAt    time.Time    `json:"converted_at"`
}

// ReferralDashboard 用户推荐中心数据
type ReferralDashboard struct {
	HasCode           bool                     `json:"has_code"`
	Code              string                   `json:"code"`
	SharePath         string                   `json:"share_path"`
	Active            bool                     `json:"active"`
	Stats             ReferralStats            `json:"stats"`
	RecentConversions []ReferralConversionItem `json:"recent_conversions"`
}

// ReferralAdminCodeItem 后台推荐码列表项
type ReferralAdminCodeItem struct {
	Code      models.ReferralCode `json:"code"`
	OwnerName string              `json:"owner_name"`
	Stats     ReferralStats       `json:"stats"`
}

// ReferralProgramStats 后台推荐计划总览
type ReferralProgramStats struct {
	TotalCodes       int64        `json:"total_codes"`
	ActiveCodes      int64        `json:"active_codes"`
	TotalClicks      int64        `json:"total_clicks"`
	TotalConversions int64        `json:"total_conversions"`
	ConversionRate   float64      `json:"conversion_rate"`
	PendingReward    models.Money `json:"pending_reward"`
	ApprovedReward   models.Money `json:"approved_reward"`
	PaidReward       models.Money `json:"paid_reward"`
	TotalRevenue     models.Money `json:"total_revenue"`
}

// OpenReferral 为用户开通推荐码（幂等）
// explicitCode 为空时按用户昵称生成，冲突时重试
func (s *ReferralService) OpenReferral(userID uint, explicitCode string) (*models.ReferralCode, error) {
	if userID == 0 || s.repo == nil || s.userRepo == nil {
		return nil, ErrNotFound
	}

	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	if strings.TrimSpace(user.Status) == constants.UserStatusDisabled {
		return nil, ErrUserDisabled
	}

	existing, err := s.repo.GetCodeByUserID(userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if explicit := normalizeReferralCode(explicitCode); explicit != "" {
		if !referralCodePattern.MatchString(explicit) {
			return nil, ErrReferralCodeInvalid
		}
		row := &models.ReferralCode{
			UserID: userID,
			Code:   explicit,
			Active: true,
		}
		if err := s.repo.CreateCode(row); err != nil {
			if isUniqueViolation(err) {
				return nil, ErrReferralCodeTaken
			}
			return nil, err
		}
		return s.repo.GetCodeByID(row.ID)
	}

	base := buildReferralCodeBase(user.DisplayName)
	for i := 0; i < referralCodeGenMaxRetry; i++ {
		// 前几次附加两位随机数字，冲突后加宽为三位
		digits := 2
		if i >= 3 {
			digits = 3
		}
		code, genErr := appendRandomDigits(base, digits)
		if genErr != nil {
			return nil, genErr
		}
		row := &models.ReferralCode{
			UserID: userID,
			Code:   code,
			Active: true,
		}
		if err := s.repo.CreateCode(row); err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return nil, err
		}
		return s.repo.GetCodeByID(row.ID)
	}
	return nil, ErrReferralCodeTaken
}

// GetCodeByCode 按推荐码查询（大小写不敏感）
func (s *ReferralService) GetCodeByCode(code string) (*models.ReferralCode, error) {
	if s.repo == nil {
		return nil, ErrNotFound
	}
	row, err := s.repo.GetCodeByCode(code)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return row, nil
}

// TrackClick 记录推荐点击
func (s *ReferralService) TrackClick(input ReferralTrackClickInput) error {
	if s.repo == nil {
		return ErrNotFound
	}
	code := normalizeReferralCode(input.Code)
	if code == "" {
		return ErrReferralCodeInvalid
	}

	setting, err := s.settingService.GetReferralSetting()
	if err != nil {
		return err
	}
	if !setting.Enabled {
		return ErrReferralDisabled
	}

	row, err := s.repo.GetCodeByCode(code)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrReferralCodeInvalid
	}
	if !row.Active {
		return ErrReferralCodeInactive
	}

	visitorKey := strings.TrimSpace(input.VisitorKey)
	if s.clickDedupWindow > 0 && visitorKey != "" {
		dedupKey := fmt.Sprintf("click_dedup:%d:%s", row.ID, visitorKey)
		fresh, err := cache.SetNX(context.Background(), dedupKey, s.clickDedupWindow)
		if err == nil && !fresh {
			return nil
		}
	}

	click := &models.ReferralClick{
		ReferralCodeID: row.ID,
		ReferralCode:   row.Code,
		VisitorKey:     visitorKey,
		IPAddress:      strings.TrimSpace(input.IPAddress),
		UserAgent:      strings.TrimSpace(input.UserAgent),
		ReferrerURL:    strings.TrimSpace(input.ReferrerURL),
		LandingPage:    strings.TrimSpace(input.LandingPage),
		ClickedAt:      time.Now(),
	}
	return s.repo.Transaction(func(tx *gorm.DB) error {
		repoTx := s.repo.WithTx(tx)
		if err := repoTx.CreateClick(click); err != nil {
			return err
		}
		return repoTx.BumpCodeClicks(row.ID)
	})
}

// RecordConversion 登记推荐转化并计算奖励
// 插入转化、累计推荐码统计、回填点击归因在同一事务内完成；
// 同推荐码同订单号重复登记返回已有记录
func (s *ReferralService) RecordConversion(input ReferralRecordConversionInput) (*models.ReferralConversion, error) {
	if s.repo == nil {
		return nil, ErrNotFound
	}
	code := normalizeReferralCode(input.Code)
	orderNo := strings.TrimSpace(input.OrderNo)
	if code == "" {
		return nil, ErrReferralCodeInvalid
	}
	if orderNo == "" || input.OrderTotal.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidParams
	}

	setting, err := s.settingService.GetReferralSettingStrict()
	if err != nil {
		return nil, err
	}
	if !setting.Enabled {
		return nil, ErrReferralDisabled
	}

	row, err := s.repo.GetCodeByCode(code)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrReferralCodeInvalid
	}
	if !row.Active {
		return nil, ErrReferralCodeInactive
	}

	if existing, err := s.repo.GetConversionByCodeAndOrder(row.ID, orderNo); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	orderTotal := input.OrderTotal.Round(2)
	minimum := decimal.NewFromFloat(setting.MinimumOrderValue)
	if orderTotal.LessThan(minimum) {
		return nil, ErrOrderBelowMinimum
	}

	reward := setting.ComputeReferrerReward(orderTotal)
	discount := setting.ComputeReferredDiscount(orderTotal)

	var createdID uint
	err = s.repo.Transaction(func(tx *gorm.DB) error {
		repoTx := s.repo.WithTx(tx)

		locked, err := repoTx.GetCodeByCodeForUpdate(code)
		if err != nil {
			return err
		}
		if locked == nil {
			return ErrReferralCodeInvalid
		}
		if !locked.Active {
			return ErrReferralCodeInactive
		}

		// 锁内复查，并发重复提交时直接采用已有记录
		if existing, err := repoTx.GetConversionByCodeAndOrder(locked.ID, orderNo); err != nil {
			return err
		} else if existing != nil {
			createdID = existing.ID
			return nil
		}

		now := time.Now()
		conversion := &models.ReferralConversion{
			ReferralCodeID:   locked.ID,
			ReferralCode:     locked.Code,
			OrderNo:          orderNo,
			ReferrerUserID:   locked.UserID,
			ReferredUserID:   input.ReferredUserID,
			OrderTotal:       models.NewMoneyFromDecimal(orderTotal),
			ReferrerReward:   models.NewMoneyFromDecimal(reward),
			ReferredDiscount: models.NewMoneyFromDecimal(discount),
			RewardStatus:     constants.RewardStatusPending,
			ConvertedAt:      now,
		}
		if err := repoTx.CreateConversion(conversion); err != nil {
			if isUniqueViolation(err) {
				existing, getErr := repoTx.GetConversionByCodeAndOrder(locked.ID, orderNo)
				if getErr != nil {
					return getErr
				}
				if existing != nil {
					createdID = existing.ID
					return nil
				}
			}
			return err
		}
		if err := repoTx.ApplyConversionTotals(locked.ID, orderTotal, reward); err != nil {
			return err
		}

		// 点击归因：优先同访客，退回最新未转化点击；没有可归因点击不阻塞入账
		click, err := repoTx.GetNewestUnconvertedClick(locked.ID, strings.TrimSpace(input.VisitorKey))
		if err != nil {
			return err
		}
		if click != nil {
			if err := repoTx.MarkClickConverted(click.ID, orderNo); err != nil {
				return err
			}
		}

		createdID = conversion.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetConversionByID(createdID)
}

// GetUserDashboard 获取用户推荐中心数据
func (s *ReferralService) GetUserDashboard(userID uint) (ReferralDashboard, error) {
	dashboard := ReferralDashboard{
		Stats:             emptyReferralStats(),
		RecentConversions: []ReferralConversionItem{},
	}
	if userID == 0 || s.repo == nil {
		return dashboard, nil
	}

	row, err := s.repo.GetCodeByUserID(userID)
	if err != nil {
		return dashboard, err
	}
	if row == nil {
		return dashboard, nil
	}

	statsMap, err := s.repo.GetCodeStatsBatch([]uint{row.ID})
	if err != nil {
		return dashboard, err
	}
	dashboard.HasCode = true
	dashboard.Code = row.Code
	dashboard.SharePath = "/?ref=" + row.Code
	dashboard.Active = row.Active
	dashboard.Stats = buildReferralStats(statsMap[row.ID])

	rows, _, err := s.repo.ListConversions(repository.ReferralConversionListFilter{
		ReferralCodeID: row.ID,
		Page:           1,
		PageSize:       referralDashboardRecent,
	})
	if err != nil {
		return dashboard, err
	}
	dashboard.RecentConversions = s.buildConversionItems(rows, constants.DisplayNameGuest)
	return dashboard, nil
}

// ListAdminCodes 后台查询推荐码列表
func (s *ReferralService) ListAdminCodes(filter repository.ReferralCodeListFilter) ([]ReferralAdminCodeItem, int64, error) {
	if s.repo == nil {
		return []ReferralAdminCodeItem{}, 0, nil
	}
	rows, total, err := s.repo.ListCodes(filter)
	if err != nil {
		return nil, 0, err
	}
	codeIDs := make([]uint, 0, len(rows))
	for _, row := range rows {
		if row.ID == 0 {
			continue
		}
		codeIDs = append(codeIDs, row.ID)
	}
	statsMap, err := s.repo.GetCodeStatsBatch(codeIDs)
	if err != nil {
		return nil, 0, err
	}

	result := make([]ReferralAdminCodeItem, 0, len(rows))
	for _, row := range rows {
		owner := constants.DisplayNameUnknown
		if row.User.ID != 0 {
			if name := strings.TrimSpace(row.User.DisplayName); name != "" {
				owner = name
			} else if email := strings.TrimSpace(row.User.Email); email != "" {
				owner = email
			}
		}
		result = append(result, ReferralAdminCodeItem{
			Code:      row,
			OwnerName: owner,
			Stats:     buildReferralStats(statsMap[row.ID]),
		})
	}
	return result, total, nil
}

// ListAdminConversions 后台查询转化记录
func (s *ReferralService) ListAdminConversions(filter repository.ReferralConversionListFilter) ([]models.ReferralConversion, int64, error) {
	if s.repo == nil {
		return []models.ReferralConversion{}, 0, nil
	}
	return s.repo.ListConversions(filter)
}

// ListAdminClicks 后台查询点击记录
func (s *ReferralService) ListAdminClicks(filter repository.ReferralClickListFilter) ([]models.ReferralClick, int64, error) {
	if s.repo == nil {
		return []models.ReferralClick{}, 0, nil
	}
	return s.repo.ListClicks(filter)
}

// GetProgramStats 后台推荐计划总览
func (s *ReferralService) GetProgramStats() (ReferralProgramStats, error) {
	stats := ReferralProgramStats{
		PendingReward:  models.NewMoneyFromDecimal(decimal.Zero),
		ApprovedReward: models.NewMoneyFromDecimal(decimal.Zero),
		PaidReward:     models.NewMoneyFromDecimal(decimal.Zero),
		TotalRevenue:   models.NewMoneyFromDecimal(decimal.Zero),
	}
	if s.repo == nil {
		return stats, nil
	}
	totals, err := s.repo.GetProgramTotals()
	if err != nil {
		return stats, err
	}
	stats.TotalCodes = totals.TotalCodes
	stats.ActiveCodes = totals.ActiveCodes
	stats.TotalClicks = totals.TotalClicks
	stats.TotalConversions = totals.TotalConversions
	stats.ConversionRate = calcReferralConversionRate(totals.TotalConversions, totals.TotalClicks)
	stats.PendingReward = models.NewMoneyFromDecimal(totals.PendingReward)
	stats.ApprovedReward = models.NewMoneyFromDecimal(totals.ApprovedReward)
	stats.PaidReward = models.NewMoneyFromDecimal(totals.PaidReward)
	stats.TotalRevenue = models.NewMoneyFromDecimal(totals.TotalRevenue)
	return stats, nil
}

// UpdateCodeActive 管理端启停推荐码
func (s *ReferralService) UpdateCodeActive(codeID uint, active bool) (*models.ReferralCode, error) {
	if codeID == 0 || s.repo == nil {
		return nil, ErrNotFound
	}
	row, err := s.repo.GetCodeByID(codeID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	if row.Active == active {
		return row, nil
	}
	if err := s.repo.UpdateCodeActive(codeID, active, time.Now()); err != nil {
		return nil, err
	}
	return s.repo.GetCodeByID(codeID)
}

// ProcessPendingRewards 奖励成熟巡检
// 将退款保护期已过的 pending 转化批量置为 approved，返回本次晋升的记录ID；
// 截止点之后的记录不动，重复执行无副作用
func (s *ReferralService) ProcessPendingRewards(now time.Time, batchSize int) ([]uint, error) {
	if s.repo == nil {
		return nil, nil
	}
	setting, err := s.settingService.GetReferralSettingStrict()
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-time.Duration(setting.RewardDelayDays) * 24 * time.Hour)

	var promoted []uint
	err = s.repo.Transaction(func(tx *gorm.DB) error {
		repoTx := s.repo.WithTx(tx)
		ids, err := repoTx.ListDueConversionIDs(cutoff, batchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if _, err := repoTx.BatchApproveRewards(ids, now); err != nil {
			return err
		}
		promoted = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

// MarkRewardPaid 管理端结算奖励
// 仅允许 approved -> paid 的状态迁移
func (s *ReferralService) MarkRewardPaid(conversionID uint) (*models.ReferralConversion, error) {
	if conversionID == 0 || s.repo == nil {
		return nil, ErrNotFound
	}
	err := s.repo.Transaction(func(tx *gorm.DB) error {
		repoTx := s.repo.WithTx(tx)
		row, err := repoTx.GetConversionByIDForUpdate(conversionID)
		if err != nil {
			return err
		}
		if row == nil {
			return ErrNotFound
		}
		if row.RewardStatus != constants.RewardStatusApproved {
			return ErrRewardStatusInvalid
		}
		now := time.Now()
		row.RewardStatus = constants.RewardStatusPaid
		row.ProcessedAt = &now
		row.UpdatedAt = now
		return repoTx.UpdateConversion(row)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetConversionByID(conversionID)
}

func (s *ReferralService) buildConversionItems(rows []models.ReferralConversion, fallbackName string) []ReferralConversionItem {
	userIDs := make([]uint, 0, len(rows))
	seen := make(map[uint]struct{})
	for _, row := range rows {
		if row.ReferredUserID == nil || *row.ReferredUserID == 0 {
			continue
		}
		if _, ok := seen[*row.ReferredUserID]; ok {
			continue
		}
		seen[*row.ReferredUserID] = struct{}{}
		userIDs = append(userIDs, *row.ReferredUserID)
	}

	nameByID := make(map[uint]string, len(userIDs))
	if s.userRepo != nil && len(userIDs) > 0 {
		// 身份补全失败只降级展示名，不影响数据本身
		if users, err := s.userRepo.ListByIDs(userIDs); err == nil {
			for _, user := range users {
				if name := strings.TrimSpace(user.Email); name != "" {
					nameByID[user.ID] = name
				}
			}
		}
	}

	result := make([]ReferralConversionItem, 0, len(rows))
	for _, row := range rows {
		name := fallbackName
		if row.ReferredUserID != nil {
			if resolved, ok := nameByID[*row.ReferredUserID]; ok {
				name = resolved
			}
		}
		result = append(result, ReferralConversionItem{
			ID:             row.ID,
			OrderNo:        row.OrderNo,
			OrderTotal:     row.OrderTotal,
			ReferrerReward: row.ReferrerReward,
			RewardStatus:   row.RewardStatus,
			ReferredName:   name,
			ConvertedAt:    row.ConvertedAt,
		})
	}
	return result
}

func emptyReferralStats() ReferralStats {
	return ReferralStats{
		PendingReward:  models.NewMoneyFromDecimal(decimal.Zero),
		ApprovedReward: models.NewMoneyFromDecimal(decimal.Zero),
		PaidReward:     models.NewMoneyFromDecimal(decimal.Zero),
		TotalRevenue:   models.NewMoneyFromDecimal(decimal.Zero),
	}
}

func buildReferralStats(agg repository.ReferralCodeStatsAggregate) ReferralStats {
	return ReferralStats{
		ClickCount:      agg.ClickCount,
		ConversionCount: agg.ConversionCount,
		ConversionRate:  calcReferralConversionRate(agg.ConversionCount, agg.ClickCount),
		PendingReward:   models.NewMoneyFromDecimal(agg.PendingReward.Round(2)),
		ApprovedReward:  models.NewMoneyFromDecimal(agg.ApprovedReward.Round(2)),
		PaidReward:      models.NewMoneyFromDecimal(agg.PaidReward.Round(2)),
		TotalRevenue:    models.NewMoneyFromDecimal(agg.TotalRevenue.Round(2)),
	}
}

func calcReferralConversionRate(conversions, clicks int64) float64 {
	if clicks <= 0 || conversions <= 0 {
		return 0
	}
	value := (float64(conversions) / float64(clicks)) * 100
	return math.Round(value*100) / 100
}

func normalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// buildReferralCodeBase 从用户昵称提取推荐码主干
// 仅保留字母数字并取大写，空结果退回随机主干
func buildReferralCodeBase(displayName string) string {
	var builder strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(displayName)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
		}
		if builder.Len() >= referralCodeBaseMaxLength {
			break
		}
	}
	base := builder.String()
	if base != "" {
		return base
	}
	random, err := randomReferralText(6)
	if err != nil {
		return "REF"
	}
	return random
}

func appendRandomDigits(base string, count int) (string, error) {
	const digits = "0123456789"
	var builder strings.Builder
	builder.Grow(len(base) + count)
	builder.WriteString(base)
	max := big.NewInt(int64(len(digits)))
	for i := 0; i < count; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		builder.WriteByte(digits[n.Int64()])
	}
	code := builder.String()
	if len(code) > referralCodeMaxLength {
		code = code[len(code)-referralCodeMaxLength:]
	}
	return code, nil
}

func randomReferralText(length int) (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	var builder strings.Builder
	builder.Grow(length)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		builder.WriteByte(alphabet[n.Int64()])
	}
	return builder.String(), nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
