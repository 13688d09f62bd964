package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/referral-next/internal/constants"
	"github.com/referral-next/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReferralRepository 推荐返利数据访问接口
type ReferralRepository interface {
	Transaction(fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) ReferralRepository

	CreateCode(code *models.ReferralCode) error
	GetCodeByID(id uint) (*models.ReferralCode, error)
	GetCodeByUserID(userID uint) (*models.ReferralCode, error)
	GetCodeByCode(code string) (*models.ReferralCode, error)
	GetCodeByCodeForUpdate(code string) (*models.ReferralCode, error)
	UpdateCode(code *models.ReferralCode) error
	UpdateCodeActive(id uint, active bool, updatedAt time.Time) error
	ListCodes(filter ReferralCodeListFilter) ([]models.ReferralCode, int64, error)
	BumpCodeClicks(id uint) error
	ApplyConversionTotals(id uint, revenue, reward decimal.Decimal) error

	CreateClick(click *models.ReferralClick) error
	GetNewestUnconvertedClick(codeID uint, visitorKey string) (*models.ReferralClick, error)
	MarkClickConverted(clickID uint, orderNo string) error
	ListClicks(filter ReferralClickListFilter) ([]models.ReferralClick, int64, error)
	CountClicksByCode(codeID uint) (int64, error)

	CreateConversion(conversion *models.ReferralConversion) error
	GetConversionByID(id uint) (*models.ReferralConversion, error)
	GetConversionByIDForUpdate(id uint) (*models.ReferralConversion, error)
	GetConversionByCodeAndOrder(codeID uint, orderNo string) (*models.ReferralConversion, error)
	UpdateConversion(conversion *models.ReferralConversion) error
	ListConversions(filter ReferralConversionListFilter) ([]models.ReferralConversion, int64, error)
	ListDueConversionIDs(before time.Time, limit int) ([]uint, error)
	BatchApproveRewards(ids []uint, now time.Time) (int64, error)

	GetCodeStatsBatch(codeIDs []uint) (map[uint]ReferralCodeStatsAggregate, error)
	GetProgramTotals() (ReferralProgramTotals, error)
}

// GormReferralRepository GORM 推荐返利仓储
type GormReferralRepository struct {
	db *gorm.DB
}

// NewReferralRepository 创建推荐返利仓储
func NewReferralRepository(db *gorm.DB) *GormReferralRepository {
	return &GormReferralRepository{db: db}
}

// WithTx 绑定事务
func (r *GormReferralRepository) WithTx(tx *gorm.DB) ReferralRepository {
	if tx == nil {
		return r
	}
	return &GormReferralRepository{db: tx}
}

// Transaction 执行事务
func (r *GormReferralRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// CreateCode 创建推荐码
func (r *GormReferralRepository) CreateCode(code *models.ReferralCode) error {
	return r.db.Create(code).Error
}

// GetCodeByID 按ID获取推荐码
func (r *GormReferralRepository) GetCodeByID(id uint) (*models.ReferralCode, error) {
	if id == 0 {
		return nil, nil
	}
	var code models.ReferralCode
	if err := r.db.Preload("User").First(&code, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &code, nil
}

// GetCodeByUserID 按用户ID获取推荐码
func (r *GormReferralRepository) GetCodeByUserID(userID uint) (*models.ReferralCode, error) {
	if userID == 0 {
		return nil, nil
	}
	var code models.ReferralCode
	if err := r.db.Preload("User").Where("user_id = ?", userID).First(&code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &code, nil
}

// GetCodeByCode 按推荐码查询，匹配不区分大小写
// 入库时推荐码统一为大写，这里归一化后精确匹配即可
func (r *GormReferralRepository) GetCodeByCode(code string) (*models.ReferralCode, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, nil
	}
	var row models.ReferralCode
	if err := r.db.Preload("User").Where("code = ?", normalized).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// GetCodeByCodeForUpdate 按推荐码锁定查询
func (r *GormReferralRepository) GetCodeByCodeForUpdate(code string) (*models.ReferralCode, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, nil
	}
	var row models.ReferralCode
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", normalized).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// UpdateCode 更新推荐码
func (r *GormReferralRepository) UpdateCode(code *models.ReferralCode) error {
	return r.db.Save(code).Error
}

// UpdateCodeActive 更新推荐码启用状态
func (r *GormReferralRepository) UpdateCodeActive(id uint, active bool, updatedAt time.Time) error {
	if id == 0 {
		return nil
	}
	return r.db.Model(&models.ReferralCode{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"active":     active,
			"updated_at": updatedAt,
		}).Error
}

// ListCodes 查询推荐码列表
func (r *GormReferralRepository) ListCodes(filter ReferralCodeListFilter) ([]models.ReferralCode, int64, error) {
	query := r.db.Model(&models.ReferralCode{}).Preload("User")
	if filter.UserID != 0 {
		query = query.Where("referral_codes.user_id = ?", filter.UserID)
	}
	if code := strings.TrimSpace(filter.Code); code != "" {
		query = query.Where("referral_codes.code = ?", strings.ToUpper(code))
	}
	if filter.Active != nil {
		query = query.Where("referral_codes.active = ?", *filter.Active)
	}
	if keyword := strings.TrimSpace(filter.Keyword); keyword != "" {
		like := "%" + keyword + "%"
		query = query.
			Joins("LEFT JOIN users ON users.id = referral_codes.user_id").
			Where("(users.email LIKE ? OR users.display_name LIKE ? OR referral_codes.code LIKE ?)", like, like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var rows []models.ReferralCode
	if err := query.Order("referral_codes.id desc").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// BumpCodeClicks 点击计数自增
// 用 SQL 表达式累加，避免读改写丢更新
func (r *GormReferralRepository) BumpCodeClicks(id uint) error {
	if id == 0 {
		return nil
	}
	return r.db.Model(&models.ReferralCode{}).
		Where("id = ?", id).
		Update("clicks", gorm.Expr("clicks + 1")).Error
}

// ApplyConversionTotals 转化计数与金额累计
func (r *GormReferralRepository) ApplyConversionTotals(id uint, revenue, reward decimal.Decimal) error {
	if id == 0 {
		return nil
	}
	return r.db.Model(&models.ReferralCode{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"conversions":   gorm.Expr("conversions + 1"),
			"total_revenue": gorm.Expr("total_revenue + ?", revenue),
			"total_rewards": gorm.Expr("total_rewards + ?", reward),
		}).Error
}

// CreateClick 创建点击记录
func (r *GormReferralRepository) CreateClick(click *models.ReferralClick) error {
	return r.db.Create(click).Error
}

// GetNewestUnconvertedClick 查询最近一条未转化点击
// 传入 visitorKey 时优先返回该访客的记录，否则退回该推荐码下最新一条
func (r *GormReferralRepository) GetNewestUnconvertedClick(codeID uint, visitorKey string) (*models.ReferralClick, error) {
	if codeID == 0 {
		return nil, nil
	}
	if key := strings.TrimSpace(visitorKey); key != "" {
		var click models.ReferralClick
		err := r.db.Where("referral_code_id = ? AND visitor_key = ? AND converted = ?", codeID, key, false).
			Order("clicked_at DESC, id DESC").
			First(&click).Error
		if err == nil {
			return &click, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var click models.ReferralClick
	err := r.db.Where("referral_code_id = ? AND converted = ?", codeID, false).
		Order("clicked_at DESC, id DESC").
		First(&click).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &click, nil
}

// MarkClickConverted 标记点击已转化并关联订单号
func (r *GormReferralRepository) MarkClickConverted(clickID uint, orderNo string) error {
	if clickID == 0 {
		return nil
	}
	return r.db.Model(&models.ReferralClick{}).
		Where("id = ?", clickID).
		Updates(map[string]interface{}{
			"converted":           true,
			"conversion_order_no": strings.TrimSpace(orderNo),
		}).Error
}

// ListClicks 查询点击记录列表
func (r *GormReferralRepository) ListClicks(filter ReferralClickListFilter) ([]models.ReferralClick, int64, error) {
	query := r.db.Model(&models.ReferralClick{})
	if filter.ReferralCodeID != 0 {
		query = query.Where("referral_code_id = ?", filter.ReferralCodeID)
	}
	if key := strings.TrimSpace(filter.VisitorKey); key != "" {
		query = query.Where("visitor_key = ?", key)
	}
	if filter.Converted != nil {
		query = query.Where("converted = ?", *filter.Converted)
	}
	if filter.ClickedFrom != nil {
		query = query.Where("clicked_at >= ?", *filter.ClickedFrom)
	}
	if filter.ClickedTo != nil {
		query = query.Where("clicked_at <= ?", *filter.ClickedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var rows []models.ReferralClick
	if err := query.Order("id desc").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// CountClicksByCode 统计推荐码点击数
func (r *GormReferralRepository) CountClicksByCode(codeID uint) (int64, error) {
	if codeID == 0 {
		return 0, nil
	}
	var total int64
	if err := r.db.Model(&models.ReferralClick{}).
		Where("referral_code_id = ?", codeID).
		Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// CreateConversion 创建转化记录
func (r *GormReferralRepository) CreateConversion(conversion *models.ReferralConversion) error {
	return r.db.Create(conversion).Error
}

// GetConversionByID 按ID查询转化记录
func (r *GormReferralRepository) GetConversionByID(id uint) (*models.ReferralConversion, error) {
	if id == 0 {
		return nil, nil
	}
	var row models.ReferralConversion
	if err := r.db.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// GetConversionByIDForUpdate 按ID锁定查询转化记录
func (r *GormReferralRepository) GetConversionByIDForUpdate(id uint) (*models.ReferralConversion, error) {
	if id == 0 {
		return nil, nil
	}
	var row models.ReferralConversion
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// GetConversionByCodeAndOrder 按推荐码和订单号查询转化记录
func (r *GormReferralRepository) GetConversionByCodeAndOrder(codeID uint, orderNo string) (*models.ReferralConversion, error) {
	no := strings.TrimSpace(orderNo)
	if codeID == 0 || no == "" {
		return nil, nil
	}
	var row models.ReferralConversion
	if err := r.db.Where("referral_code_id = ? AND order_no = ?", codeID, no).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// UpdateConversion 更新转化记录
func (r *GormReferralRepository) UpdateConversion(conversion *models.ReferralConversion) error {
	return r.db.Save(conversion).Error
}

// ListConversions 查询转化记录列表
func (r *GormReferralRepository) ListConversions(filter ReferralConversionListFilter) ([]models.ReferralConversion, int64, error) {
	query := r.db.Model(&models.ReferralConversion{})
	if filter.ReferralCodeID != 0 {
		query = query.Where("referral_conversions.referral_code_id = ?", filter.ReferralCodeID)
	}
	if filter.ReferrerUserID != 0 {
		query = query.Where("referral_conversions.referrer_user_id = ?", filter.ReferrerUserID)
	}
	if orderNo := strings.TrimSpace(filter.OrderNo); orderNo != "" {
		query = query.Where("referral_conversions.order_no LIKE ?", "%"+orderNo+"%")
	}
	if status := strings.TrimSpace(filter.RewardStatus); status != "" {
		query = query.Where("referral_conversions.reward_status = ?", status)
	}
	if keyword := strings.TrimSpace(filter.Keyword); keyword != "" {
		like := "%" + keyword + "%"
		query = query.
			Joins("LEFT JOIN users u ON u.id = referral_conversions.referrer_user_id").
			Where("(u.email LIKE ? OR u.display_name LIKE ? OR referral_conversions.referral_code LIKE ?)", like, like, like)
	}
	if filter.ConvertedFrom != nil {
		query = query.Where("referral_conversions.converted_at >= ?", *filter.ConvertedFrom)
	}
	if filter.ConvertedTo != nil {
		query = query.Where("referral_conversions.converted_at <= ?", *filter.ConvertedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var rows []models.ReferralConversion
	if err := query.Order("referral_conversions.id desc").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ListDueConversionIDs 查询退款保护期已过的待成熟转化ID
func (r *GormReferralRepository) ListDueConversionIDs(before time.Time, limit int) ([]uint, error) {
	query := r.db.Model(&models.ReferralConversion{}).
		Where("reward_status = ? AND converted_at <= ?", constants.RewardStatusPending, before).
		Order("id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var ids []uint
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// BatchApproveRewards 批量将待成熟奖励转为已成熟
// 带状态条件，重复执行不会二次改写
func (r *GormReferralRepository) BatchApproveRewards(ids []uint, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.ReferralConversion{}).
		Where("id IN ? AND reward_status = ?", ids, constants.RewardStatusPending).
		Updates(map[string]interface{}{
			"reward_status": constants.RewardStatusApproved,
			"processed_at":  now,
			"updated_at":    now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// GetProgramTotals 全局推荐计划统计
func (r *GormReferralRepository) GetProgramTotals() (ReferralProgramTotals, error) {
	totals := ReferralProgramTotals{
		PendingReward:  decimal.Zero,
		ApprovedReward: decimal.Zero,
		PaidReward:     decimal.Zero,
		TotalRevenue:   decimal.Zero,
	}

	if err := r.db.Model(&models.ReferralCode{}).Count(&totals.TotalCodes).Error; err != nil {
		return totals, err
	}
	if err := r.db.Model(&models.ReferralCode{}).
		Where("active = ?", true).
		Count(&totals.ActiveCodes).Error; err != nil {
		return totals, err
	}
	if err := r.db.Model(&models.ReferralClick{}).Count(&totals.TotalClicks).Error; err != nil {
		return totals, err
	}

	var revenueRow struct {
		Total   int64           `gorm:"column:total"`
		Revenue decimal.Decimal `gorm:"column:revenue"`
	}
	if err := r.db.Model(&models.ReferralConversion{}).
		Select("COUNT(*) AS total, COALESCE(SUM(order_total), 0) AS revenue").
		Scan(&revenueRow).Error; err != nil {
		return totals, err
	}
	totals.TotalConversions = revenueRow.Total
	totals.TotalRevenue = revenueRow.Revenue.Round(2)

	var rewardRows []struct {
		RewardStatus string          `gorm:"column:reward_status"`
		Total        decimal.Decimal `gorm:"column:total"`
	}
	if err := r.db.Model(&models.ReferralConversion{}).
		Select("reward_status, COALESCE(SUM(referrer_reward), 0) AS total").
		Group("reward_status").
		Scan(&rewardRows).Error; err != nil {
		return totals, err
	}
	for _, row := range rewardRows {
		switch row.RewardStatus {
		case constants.RewardStatusPending:
			totals.PendingReward = row.Total.Round(2)
		case constants.RewardStatusApproved:
			totals.ApprovedReward = row.Total.Round(2)
		case constants.RewardStatusPaid:
			totals.PaidReward = row.Total.Round(2)
		}
	}
	return totals, nil
}

// GetCodeStatsBatch 批量汇总推荐码统计信息
func (r *GormReferralRepository) GetCodeStatsBatch(codeIDs []uint) (map[uint]ReferralCodeStatsAggregate, error) {
	result := make(map[uint]ReferralCodeStatsAggregate, len(codeIDs))
	if len(codeIDs) == 0 {
		return result, nil
	}

	for _, id := range codeIDs {
		if id == 0 {
			continue
		}
		result[id] = ReferralCodeStatsAggregate{
			PendingReward:  decimal.Zero,
			ApprovedReward: decimal.Zero,
			PaidReward:     decimal.Zero,
			TotalRevenue:   decimal.Zero,
		}
	}

	var clickRows []struct {
		ReferralCodeID uint  `gorm:"column:referral_code_id"`
		Total          int64 `gorm:"column:total"`
	}
	if err := r.db.Model(&models.ReferralClick{}).
		Select("referral_code_id, COUNT(*) AS total").
		Where("referral_code_id IN ?", codeIDs).
		Group("referral_code_id").
		Scan(&clickRows).Error; err != nil {
		return nil, err
	}
	for _, row := range clickRows {
		item := result[row.ReferralCodeID]
		item.ClickCount = row.Total
		result[row.ReferralCodeID] = item
	}

	var conversionRows []struct {
		ReferralCodeID uint            `gorm:"column:referral_code_id"`
		Total          int64           `gorm:"column:total"`
		Revenue        decimal.Decimal `gorm:"column:revenue"`
	}
	if err := r.db.Model(&models.ReferralConversion{}).
		Select("referral_code_id, COUNT(*) AS total, COALESCE(SUM(order_total), 0) AS revenue").
		Where("referral_code_id IN ?", codeIDs).
		Group("referral_code_id").
		Scan(&conversionRows).Error; err != nil {
		return nil, err
	}
	for _, row := range conversionRows {
		item := result[row.ReferralCodeID]
		item.ConversionCount = row.Total
		item.TotalRevenue = row.Revenue.Round(2)
		result[row.ReferralCodeID] = item
	}

	for _, status := range []string{
		constants.RewardStatusPending,
		constants.RewardStatusApproved,
		constants.RewardStatusPaid,
	} {
		var rewardRows []struct {
			ReferralCodeID uint            `gorm:"column:referral_code_id"`
			Total          decimal.Decimal `gorm:"column:total"`
		}
		if err := r.db.Model(&models.ReferralConversion{}).
			Select("referral_code_id, COALESCE(SUM(referrer_reward), 0) AS total").
			Where("referral_code_id IN ? AND reward_status = ?", codeIDs, status).
			Group("referral_code_id").
			Scan(&rewardRows).Error; err != nil {
			return nil, err
		}
		for _, row := range rewardRows {
			item := result[row.ReferralCodeID]
			switch status {
			case constants.RewardStatusPending:
				item.PendingReward = row.Total.Round(2)
			case constants.RewardStatusApproved:
				item.ApprovedReward = row.Total.Round(2)
			case constants.RewardStatusPaid:
				item.PaidReward = row.Total.Round(2)
			}
			result[row.ReferralCodeID] = item
		}
	}

	return result, nil
}
