package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/referral-next/internal/constants"
	"github.com/referral-next/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupReferralRepositoryTest(t *testing.T) (*GormReferralRepository, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:referral_repository_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.ReferralCode{},
		&models.ReferralClick{},
		&models.ReferralConversion{},
	); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return NewReferralRepository(db), db
}

func seedRepoUser(t *testing.T, db *gorm.DB, email, displayName string) *models.User {
	t.Helper()
	user := &models.User{
		Email:        email,
		PasswordHash: "test-hash",
		DisplayName:  displayName,
		Status:       constants.UserStatusActive,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("seed user failed: %v", err)
	}
	return user
}

func seedRepoCode(t *testing.T, db *gorm.DB, userID uint, code string, active bool) *models.ReferralCode {
	t.Helper()
	row := &models.ReferralCode{
		UserID: userID,
		Code:   code,
		Active: active,
	}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("seed code %s failed: %v", code, err)
	}
	return row
}

func seedRepoConversion(t *testing.T, db *gorm.DB, code *models.ReferralCode, orderNo, status string, total string, convertedAt time.Time) *models.ReferralConversion {
	t.Helper()
	amount := decimal.RequireFromString(total)
	row := &models.ReferralConversion{
		ReferralCodeID: code.ID,
		ReferralCode:   code.Code,
		ReferrerUserID: code.UserID,
		OrderNo:        orderNo,
		OrderTotal:     models.NewMoneyFromDecimal(amount),
		ReferrerReward: models.NewMoneyFromDecimal(amount.Mul(decimal.RequireFromString("0.1"))),
		RewardStatus:   status,
		ConvertedAt:    convertedAt,
	}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("seed conversion %s failed: %v", orderNo, err)
	}
	return row
}

func TestListCodesFilters(t *testing.T) {
	repo, db := setupReferralRepositoryTest(t)
	alice := seedRepoUser(t, db, "alice@example.com", "Alice")
	bob := seedRepoUser(t, db, "bob@example.com", "Bob")
	seedRepoCode(t, db, alice.ID, "ALICE1", true)
	seedRepoCode(t, db, bob.ID, "BOB001", false)

	rows, total, err := repo.ListCodes(ReferralCodeListFilter{UserID: alice.ID})
	if err != nil {
		t.Fatalf("list by user failed: %v", err)
	}
	if total != 1 || len(rows) != 1 || rows[0].Code != "ALICE1" {
		t.Fatalf("unexpected user filter result: total=%d rows=%+v", total, rows)
	}
	if rows[0].User.Email != "alice@example.com" {
		t.Fatalf("expected owner preloaded, got %+v", rows[0].User)
	}

	rows, total, err = repo.ListCodes(ReferralCodeListFilter{Code: "bob001"})
	if err != nil {
		t.Fatalf("list by code failed: %v", err)
	}
	if total != 1 || rows[0].Code != "BOB001" {
		t.Fatalf("expected lowercase code filter to match BOB001, got %+v", rows)
	}

	active := true
	_, total, err = repo.ListCodes(ReferralCodeListFilter{Active: &active})
	if err != nil {
		t.Fatalf("list by active failed: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 active code, got %d", total)
	}

	_, total, err = repo.ListCodes(ReferralCodeListFilter{Keyword: "bob@"})
	if err != nil {
		t.Fatalf("list by keyword failed: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected keyword to match owner email, got %d", total)
	}
}

func TestListConversionsFilters(t *testing.T) {
	repo, db := setupReferralRepositoryTest(t)
	user := seedRepoUser(t, db, "seller@example.com", "Seller")
	code := seedRepoCode(t, db, user.ID, "SELL01", true)

	now := time.Now()
	seedRepoConversion(t, db, code, "ORDER-OLD", constants.RewardStatusPaid, "100.00", now.Add(-72*time.Hour))
	seedRepoConversion(t, db, code, "ORDER-NEW", constants.RewardStatusPending, "200.00", now.Add(-time.Hour))

	_, total, err := repo.ListConversions(ReferralConversionListFilter{RewardStatus: constants.RewardStatusPending})
	if err != nil {
		t.Fatalf("list by status failed: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 pending conversion, got %d", total)
	}

	rows, total, err := repo.ListConversions(ReferralConversionListFilter{OrderNo: "OLD"})
	if err != nil {
		t.Fatalf("list by order no failed: %v", err)
	}
	if total != 1 || rows[0].OrderNo != "ORDER-OLD" {
		t.Fatalf("expected partial order match, got %+v", rows)
	}

	from := now.Add(-24 * time.Hour)
	_, total, err = repo.ListConversions(ReferralConversionListFilter{ConvertedFrom: &from})
	if err != nil {
		t.Fatalf("list by time range failed: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 conversion in last day, got %d", total)
	}

	_, total, err = repo.ListConversions(ReferralConversionListFilter{Keyword: "seller@"})
	if err != nil {
		t.Fatalf("list by keyword failed: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected keyword to match referrer email on both rows, got %d", total)
	}
}

func TestListClicksFilters(t *testing.T) {
	repo, db := setupReferralRepositoryTest(t)
	user := seedRepoUser(t, db, "clicker@example.com", "Clicker")
	code := seedRepoCode(t, db, user.ID, "CLK001", true)

	clicks := []models.ReferralClick{
		{ReferralCodeID: code.ID, ReferralCode: code.Code, VisitorKey: "visitor-a", Converted: true, ClickedAt: time.Now().Add(-time.Hour)},
		{ReferralCodeID: code.ID, ReferralCode: code.Code, VisitorKey: "visitor-b", ClickedAt: time.Now()},
	}
	for i := range clicks {
		if err := db.Create(&clicks[i]).Error; err != nil {
			t.Fatalf("seed click failed: %v", err)
		}
	}

	converted := false
	rows, total, err := repo.ListClicks(ReferralClickListFilter{ReferralCodeID: code.ID, Converted: &converted})
	if err != nil {
		t.Fatalf("list unconverted clicks failed: %v", err)
	}
	if total != 1 || rows[0].VisitorKey != "visitor-b" {
		t.Fatalf("unexpected unconverted filter result: %+v", rows)
	}

	_, total, err = repo.ListClicks(ReferralClickListFilter{VisitorKey: "visitor-a"})
	if err != nil {
		t.Fatalf("list by visitor failed: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 click for visitor-a, got %d", total)
	}
}

func TestBatchApproveRewardsStatusGuard(t *testing.T) {
	repo, db := setupReferralRepositoryTest(t)
	user := seedRepoUser(t, db, "guard@example.com", "Guard")
	code := seedRepoCode(t, db, user.ID, "GUARD1", true)

	pending := seedRepoConversion(t, db, code, "ORDER-P", constants.RewardStatusPending, "100.00", time.Now().Add(-time.Hour))
	paid := seedRepoConversion(t, db, code, "ORDER-X", constants.RewardStatusPaid, "100.00", time.Now().Add(-time.Hour))

	now := time.Now()
	affected, err := repo.BatchApproveRewards([]uint{pending.ID, paid.ID}, now)
	if err != nil {
		t.Fatalf("batch approve failed: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected only pending row approved, affected=%d", affected)
	}

	var rows []models.ReferralConversion
	if err := db.Order("id").Find(&rows).Error; err != nil {
		t.Fatalf("reload conversions failed: %v", err)
	}
	if rows[0].RewardStatus != constants.RewardStatusApproved {
		t.Fatalf("expected pending row approved, got %s", rows[0].RewardStatus)
	}
	if rows[1].RewardStatus != constants.RewardStatusPaid {
		t.Fatalf("expected paid row untouched, got %s", rows[1].RewardStatus)
	}
}

func TestListDueConversionIDsCutoff(t *testing.T) {
	repo, db := setupReferralRepositoryTest(t)
	user := seedRepoUser(t, db, "due@example.com", "Due")
	code := seedRepoCode(t, db, user.ID, "DUE001", true)

	now := time.Now()
	old := seedRepoConversion(t, db, code, "ORDER-OLD", constants.RewardStatusPending, "100.00", now.Add(-10*24*time.Hour))
	seedRepoConversion(t, db, code, "ORDER-NEW", constants.RewardStatusPending, "100.00", now.Add(-time.Hour))
	seedRepoConversion(t, db, code, "ORDER-DONE", constants.RewardStatusApproved, "100.00", now.Add(-10*24*time.Hour))

	ids, err := repo.ListDueConversionIDs(now.Add(-7*24*time.Hour), 100)
	if err != nil {
		t.Fatalf("list due ids failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != old.ID {
		t.Fatalf("expected only aged pending conversion due, got %v", ids)
	}

	ids, err = repo.ListDueConversionIDs(now.Add(-7*24*time.Hour), 0)
	if err != nil {
		t.Fatalf("list due ids without limit failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected limit 0 to mean unlimited, got %v", ids)
	}
}

func TestGetProgramTotals(t *testing.T) {
	repo, db := setupReferralRepositoryTest(t)
	alice := seedRepoUser(t, db, "alice@example.com", "Alice")
	bob := seedRepoUser(t, db, "bob@example.com", "Bob")
	activeCode := seedRepoCode(t, db, alice.ID, "ALICE1", true)
	seedRepoCode(t, db, bob.ID, "BOB001", false)

	if err := db.Create(&models.ReferralClick{
		ReferralCodeID: activeCode.ID,
		ReferralCode:   activeCode.Code,
		ClickedAt:      time.Now(),
	}).Error; err != nil {
		t.Fatalf("seed click failed: %v", err)
	}
	seedRepoConversion(t, db, activeCode, "ORDER-1", constants.RewardStatusPending, "100.00", time.Now())
	seedRepoConversion(t, db, activeCode, "ORDER-2", constants.RewardStatusPaid, "300.00", time.Now())

	totals, err := repo.GetProgramTotals()
	if err != nil {
		t.Fatalf("program totals failed: %v", err)
	}
	if totals.TotalCodes != 2 || totals.ActiveCodes != 1 {
		t.Fatalf("unexpected code totals: %+v", totals)
	}
	if totals.TotalClicks != 1 || totals.TotalConversions != 2 {
		t.Fatalf("unexpected traffic totals: %+v", totals)
	}
	if !totals.TotalRevenue.Equal(decimal.RequireFromString("400")) {
		t.Fatalf("expected revenue 400.00, got %s", totals.TotalRevenue)
	}
	if !totals.PendingReward.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("expected pending reward 10.00, got %s", totals.PendingReward)
	}
	if !totals.PaidReward.Equal(decimal.RequireFromString("30")) {
		t.Fatalf("expected paid reward 30.00, got %s", totals.PaidReward)
	}
}

func TestGetCodeStatsBatch(t *testing.T) {
	repo, db := setupReferralRepositoryTest(t)
	alice := seedRepoUser(t, db, "alice@example.com", "Alice")
	bob := seedRepoUser(t, db, "bob@example.com", "Bob")
	first := seedRepoCode(t, db, alice.ID, "ALICE1", true)
	second := seedRepoCode(t, db, bob.ID, "BOB001", true)

	for i := 0; i < 2; i++ {
		if err := db.Create(&models.ReferralClick{
			ReferralCodeID: first.ID,
			ReferralCode:   first.Code,
			VisitorKey:     fmt.Sprintf("visitor-%d", i),
			ClickedAt:      time.Now(),
		}).Error; err != nil {
			t.Fatalf("seed click failed: %v", err)
		}
	}
	seedRepoConversion(t, db, first, "ORDER-A", constants.RewardStatusApproved, "200.00", time.Now())

	stats, err := repo.GetCodeStatsBatch([]uint{first.ID, second.ID})
	if err != nil {
		t.Fatalf("code stats batch failed: %v", err)
	}
	firstStats := stats[first.ID]
	if firstStats.ClickCount != 2 || firstStats.ConversionCount != 1 {
		t.Fatalf("unexpected stats for first code: %+v", firstStats)
	}
	if !firstStats.ApprovedReward.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("expected approved reward 20.00, got %s", firstStats.ApprovedReward)
	}
	if !firstStats.TotalRevenue.Equal(decimal.RequireFromString("200")) {
		t.Fatalf("expected revenue 200.00, got %s", firstStats.TotalRevenue)
	}

	secondStats := stats[second.ID]
	if secondStats.ClickCount != 0 || secondStats.ConversionCount != 0 {
		t.Fatalf("expected zero stats for untouched code, got %+v", secondStats)
	}
}
