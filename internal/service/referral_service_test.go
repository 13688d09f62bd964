package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/referral-next/internal/constants"
	"github.com/referral-next/internal/models"
	"github.com/referral-next/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupReferralServiceTest(t *testing.T) (*ReferralService, *SettingService, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:referral_service_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

	settingSvc := NewSettingService(newMockSettingRepo())
	if _, err := settingSvc.UpdateReferralSetting(ReferralSettingReplaceAll(ReferralSetting{
		Enabled:                true,
		RewardType:             constants.RewardTypePercentage,
		RewardAmount:           10,
		ReferredDiscountType:   constants.DiscountTypeFixed,
		ReferredDiscountAmount: 5,
		MinimumOrderValue:      50,
		RewardDelayDays:        7,
	})); err != nil {
		t.Fatalf("seed referral setting failed: %v", err)
	}

	svc := NewReferralService(
		repository.NewReferralRepository(db),
		repository.NewUserRepository(db),
		settingSvc,
		0,
	)
	return svc, settingSvc, db
}

func createReferralTestUser(t *testing.T, db *gorm.DB, email, displayName string) *models.User {
	t.Helper()
	user := &models.User{
		Email:        email,
		PasswordHash: "test-hash",
		DisplayName:  displayName,
		Status:       constants.UserStatusActive,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create test user failed: %v", err)
	}
	return user
}

func TestOpenReferralIdempotent(t *testing.T) {
	svc, _, db := setupReferralServiceTest(t)
	user := createReferralTestUser(t, db, "jane@example.com", "Jane")

	first, err := svc.OpenReferral(user.ID, "")
	if err != nil {
		t.Fatalf("open referral failed: %v", err)
	}
	if !referralCodePattern.MatchString(first.Code) {
		t.Fatalf("generated code %q does not match expected format", first.Code)
	}
	if !first.Active {
		t.Fatalf("expected new code to be active")
	}

	second, err := svc.OpenReferral(user.ID, "SOMETHINGELSE")
	if err != nil {
		t.Fatalf("reopen referral failed: %v", err)
	}
	if second.ID != first.ID || second.Code != first.Code {
		t.Fatalf("expected same code on reopen, got %q then %q", first.Code, second.Code)
	}
}

func TestOpenReferralExplicitCode(t *testing.T) {
	svc, _, db := setupReferralServiceTest(t)
	owner := createReferralTestUser(t, db, "owner@example.com", "Owner")
	rival := createReferralTestUser(t, db, "rival@example.com", "Rival")

	row, err := svc.OpenReferral(owner.ID, "  jane01 ")
	if err != nil {
		t.Fatalf("open referral with explicit code failed: %v", err)
	}
	if row.Code != "JANE01" {
		t.Fatalf("expected code stored as JANE01, got %q", row.Code)
	}

	if _, err := svc.OpenReferral(rival.ID, "jane01"); !errors.Is(err, ErrReferralCodeTaken) {
		t.Fatalf("expected ErrReferralCodeTaken, got %v", err)
	}
}

func TestOpenReferralRejectsInvalidCode(t *testing.T) {
	svc, _, db := setupReferralServiceTest(t)
	user := createReferralTestUser(t, db, "short@example.com", "Short")

	if _, err := svc.OpenReferral(user.ID, "ab"); !errors.Is(err, ErrReferralCodeInvalid) {
		t.Fatalf("expected ErrReferralCodeInvalid for short code, got %v", err)
	}
	if _, err := svc.OpenReferral(user.ID, "has space"); !errors.Is(err, ErrReferralCodeInvalid) {
		t.Fatalf("expected ErrReferralCodeInvalid for code with space, got %v", err)
	}
}

func TestOpenReferralRejectsDisabledUser(t *testing.T) {
	svc, _, db := setupReferralServiceTest(t)
	user := createReferralTestUser(t, db, "banned@example.com", "Banned")
	if err := db.Model(user).Update("status", constants.UserStatusDisabled).Error; err != nil {
		t.Fatalf("disable user failed: %v", err)
	}

	if _, err := svc.OpenReferral(user.ID, ""); !errors.Is(err, ErrUserDisabled) {
		t.Fatalf("expected ErrUserDisabled, got %v", err)
	}
}

func TestGetCodeByCodeCaseInsensitive(t *testing.T) {
	svc, _, db := setupReferralServiceTest(t)
	user := createReferralTestUser(t, db, "case@example.com", "Case")
	if _, err := svc.OpenReferral(user.ID, "CASE99"); err != nil {
		t.Fatalf("open referral failed: %v", err)
	}

	row, err := svc.GetCodeByCode("  case99 ")
	if err != nil {
		t.Fatalf("lookup by lowercase code failed: %v", err)
	}
	if row.Code != "CASE99" {
		t.Fatalf("expected CASE99, got %q", row.Code)
	}

	if _, err := svc.GetCodeByCode("NOSUCH1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTrackClickRejections(t *testing.T) {
	svc, settingSvc, db := setupReferralServiceTest(t)
	user := createReferralTestUser(t, db, "click@example.com", "Click")
	row, err := svc.OpenReferral(user.ID, "CLICK1")
	if err != nil {
		t.Fatalf("open referral failed: %v", err)
	}

	if err := svc.TrackClick(ReferralTrackClickInput{Code: "NOSUCH1"}); !errors.Is(err, ErrReferralCodeInvalid) {
		t.Fatalf("expected ErrReferralCodeInvalid for unknown code, got %v", err)
	}

	if _, err := svc.UpdateCodeActive(row.ID, false); err != nil {
		t.Fatalf("deactivate code failed: %v", err)
	}
	if err := svc.TrackClick(ReferralTrackClickInput{Code: "CLICK1"}); !errors.Is(err, ErrReferralCodeInactive) {
		t.Fatalf("expected ErrReferralCodeInactive, got %v", err)
	}
	if _, err := svc.UpdateCodeActive(row.ID, true); err != nil {
		t.Fatalf("reactivate code failed: %v", err)
	}

	disabled := false
	if _, err := settingSvc.UpdateReferralSetting(ReferralSettingPatch{Enabled: &disabled}); err != nil {
		t.Fatalf("disable referral program failed: %v", err)
	}
	if err := svc.TrackClick(ReferralTrackClickInput{Code: "CLICK1"}); !errors.Is(err, ErrReferralDisabled) {
		t.Fatalf("expected ErrReferralDisabled, got %v", err)
	}
}

func TestTrackClickBumpsCounter(t *testing.T) {
	svc, _, db := setupReferralServiceTest(t)
	user := createReferralTestUser(t, db, "bump@example.com", "Bump")
	row, err := svc.OpenReferral(user.ID, "BUMP01")
	if err != nil {
		t.Fatalf("open referral failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := svc.TrackClick(ReferralTrackClickInput{
			Code:        "bump01",
			VisitorKey:  fmt.Sprintf("visitor-%d", i),
			IPAddress:   "203.0.113.7",
			UserAgent:   "test-agent",
			LandingPage: "/products/1",
		}); err != nil {
			t.Fatalf("track click %d failed: %v", i, err)
		}
	}

	reloaded, err := svc.GetCodeByCode(row.Code)
	if err != nil {
		t.Fatalf("reload code failed: %v", err)
	}
	if reloaded.Clicks != 3 {
		t.Fatalf("expected 3 clicks, got %d", reloaded.Clicks)
	}

	var stored models.ReferralClick
	if err := db.Where("referral_code_id = ?", row.ID).Order("id").First(&stored).Error; err != nil {
		t.Fatalf("load first click failed: %v", err)
	}
	if stored.ReferralCode != "BUMP01" || stored.VisitorKey != "visitor-0" {
		t.Fatalf("unexpected click row: %+v", stored)
	}
}

func TestRecordConversionMinimumBoundary(t *testing.T) {
	svc, _, db := setupReferralServiceTest(t)
	user := createReferralTestUser(t, db, "min@example.com", "Min")
	if _, err := svc.OpenReferral(user.ID, "MIN001"); err != nil {
		t.Fatalf("open referral failed: %v", err)
	}

	_, err := svc.RecordConversion(ReferralRecordConversionInput{
		Code:       "MIN001",
		OrderNo:    "ORDER-BELOW",
		OrderTotal: decimal.RequireFromString("49.99"),
	})
	if !errors.Is(err, ErrOrderBelowMinimum) {
		t.Fatalf("expected ErrOrderBelowMinimum for 49.99, got %v", err)
	}

	conversion, err := svc.RecordConversion(ReferralRecordConversionInput{
		Code:       "MIN001",
		OrderNo:    "ORDER-AT-MIN",
		OrderTotal: decimal.RequireFromString("50.00"),
	})
	if err != nil {
		t.Fatalf("conversion at minimum failed: %v", err)
	}
	if conversion.RewardStatus != constants.RewardStatusPending {
		t.Fatalf("expected pending reward, got %s", conversion.RewardStatus)
	}
	if !conversion.ReferrerReward.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("expected reward 5.00 on 50.00 order, got %s", conversion.ReferrerReward)
	}
}

func TestRecordConversionSnapshotsReward(t *testing.T) {
	svc, settingSvc, db := setupReferralServiceTest(t)
	user := createReferralTestUser(t, db, "snap@example.com", "Snap")
	referred := createReferralTestUser(t, db, "buyer@example.com", "Buyer")
	if _, err := svc.OpenReferral(user.ID, "SNAP01"); err != nil {
		t.Fatalf("open referral failed: %v", err)
	}

	conversion, err := svc.RecordConversion(ReferralRecordConversionInput{
		Code:           "snap01",
		OrderNo:        "ORDER-200",
		OrderTotal:     decimal.RequireFromString("200.00"),
		ReferredUserID: &referred.ID,
	})
	if err != nil {
		t.Fatalf("record conversion failed: %v", err)
	}
	if !conversion.OrderTotal.Equal(decimal.RequireFromString("200")) {
		t.Fatalf("expected order total 200.00, got %s", conversion.OrderTotal)
	}
	if !conversion.ReferrerReward.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("expected 10%% reward 20.00, got %s", conversion.ReferrerReward)
	}
	if !conversion.ReferredDiscount.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("expected fixed discount 5.00, got %s", conversion.ReferredDiscount)
	}
	if conversion.ReferrerUserID != user.ID {
		t.Fatalf("expected referrer user %d, got %d", user.ID, conversion.ReferrerUserID)
	}

	// 配置调整不回溯已入账的奖励快照
	newAmount := 50.0
	if _, err := settingSvc.UpdateReferralSetting(ReferralSettingPatch{RewardAmount: &newAmount}); err != nil {
		t.Fatalf("update referral setting failed: %v", err)
	}
	var stored models.ReferralConversion
	if err := db.First(&stored, conversion.ID).Error; err != nil {
		t.Fatalf("reload conversion failed: %v", err)
	}
	if !stored.ReferrerReward.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("expected snapshot reward 20.00 after config change, got %s", stored.ReferrerReward)
	}
}

func TestRecordConversionDuplicateOrderIdempotent(t *testing.T) {
	svc, _, db := setupReferralServiceTest(t)
	user := createReferralTestUser(t, db, "dup@example.com", "Dup")
	row, err := svc.OpenReferral(user.ID, "DUP001")
	if err != nil {
		t.Fatalf("open referral failed: %v", err)
	}

	first, err := svc.RecordConversion(ReferralRecordConversionInput{
		Code:       "DUP001",
		OrderNo:    "ORDER-DUP",
		OrderTotal: decimal.RequireFromString("100.00"),
	})
	if err != nil {
		t.Fatalf("first conversion failed: %v", err)
	}
	second, err := svc.RecordConversion(ReferralRecordConversionInput{
		Code:       "DUP001",
		OrderNo:    "  ORDER-DUP  ",
		OrderTotal: decimal.RequireFromString("999.00"),
	})
	if err != nil {
		t.Fatalf("duplicate conversion failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected duplicate order to return existing conversion %d, got %d", first.ID, second.ID)
	}
	if !second.OrderTotal.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected original order total kept, got %s", second.OrderTotal)
	}

	reloaded, err := svc.GetCodeByCode(row.Code)
	if err != nil {
		t.Fatalf("reload code failed: %v", err)
	}
	if reloaded.Conversions != 1 {
		t.Fatalf("expected totals applied once, got %d conversions", reloaded.Conversions)
	}
	if !reloaded.TotalRevenue.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected total revenue 100.00, got %s", reloaded.TotalRevenue)
	}
}

func TestRecordConversionAttributesVisitorClick(t *testing.T) {
	svc, _, db := setupReferralServiceTest(t)
	user := createReferralTestUser(t, db, "attr@example.com", "Attr")
	row, err := svc.OpenReferral(user.ID, "ATTR01")
	if err != nil {
		t.Fatalf("open referral failed: %v", err)
	}

	for _, visitor := range []string{"visitor-a", "visitor-b"} {
		if err := svc.TrackClick(ReferralTrackClickInput{Code: "ATTR01", VisitorKey: visitor}); err != nil {
			t.Fatalf("track click for %s failed: %v", visitor, err)
		}
	}

	if _, err := svc.RecordConversion(ReferralRecordConversionInput{
		Code:       "ATTR01",
		OrderNo:    "ORDER-A",
		OrderTotal: decimal.RequireFromString("60.00"),
		VisitorKey: "visitor-a",
	}); err != nil {
		t.Fatalf("record conversion failed: %v", err)
	}

	var clicks []models.ReferralClick
	if err := db.Where("referral_code_id = ?", row.ID).Order("id").Find(&clicks).Error; err != nil {
		t.Fatalf("load clicks failed: %v", err)
	}
	if len(clicks) != 2 {
		t.Fatalf("expected 2 clicks, got %d", len(clicks))
	}
	for _, click := range clicks {
		if click.VisitorKey == "visitor-a" {
			if !click.Converted || click.ConversionOrderNo != "ORDER-A" {
				t.Fatalf("expected visitor-a click attributed to ORDER-A, got %+v", click)
			}
		} else if click.Converted {
			t.Fatalf("expected visitor-b click untouched, got %+v", click)
		}
	}
}

func TestRecordConversionFallsBackToNewestClick(t *testing.T) {
	svc, _, db := setupReferralServiceTest(t)
	user := createReferralTestUser(t, db, "fall@example.com", "Fall")
	row, err := svc.OpenReferral(user.ID, "FALL01")
	if err != nil {
		t.Fatalf("open referral failed: %v", err)
	}

	old := models.ReferralClick{
		ReferralCodeID: row.ID,
		ReferralCode:   row.Code,
		VisitorKey:     "visitor-old",
		ClickedAt:      time.Now().Add(-2 * time.Hour),
	}
	fresh := models.ReferralClick{
		ReferralCodeID: row.ID,
		ReferralCode:   row.Code,
		VisitorKey:     "visitor-new",
		ClickedAt:      time.Now().Add(-10 * time.Minute),
	}
	if err := db.Create(&old).Error; err != nil {
		t.Fatalf("seed old click failed: %v", err)
	}
	if err := db.Create(&fresh).Error; err != nil {
		t.Fatalf("seed fresh click failed: %v", err)
	}

	if _, err := svc.RecordConversion(ReferralRecordConversionInput{
		Code:       "FALL01",
		OrderNo:    "ORDER-FALL",
		OrderTotal: decimal.RequireFromString("80.00"),
		VisitorKey: "visitor-unseen",
	}); err != nil {
		t.Fatalf("record conversion failed: %v", err)
	}

	var attributed models.ReferralClick
	if err := db.First(&attributed, fresh.ID).Error; err != nil {
		t.Fatalf("reload fresh click failed: %v", err)
	}
	if !attributed.Converted || attributed.ConversionOrderNo != "ORDER-FALL" {
		t.Fatalf("expected newest click attributed, got %+v", attributed)
	}
}

func TestProcessPendingRewardsRespectsDelay(t *testing.T) {
	svc, _, db := setupReferralServiceTest(t)
	user := createReferralTestUser(t, db, "delay@example.com", "Delay")
	if _, err := svc.OpenReferral(user.ID, "DELAY1"); err != nil {
		t.Fatalf("open referral failed: %v", err)
	}
	conversion, err := svc.RecordConversion(ReferralRecordConversionInput{
		Code:       "DELAY1",
		OrderNo:    "ORDER-DELAY",
		OrderTotal: decimal.RequireFromString("100.00"),
	})
	if err != nil {
		t.Fatalf("record conversion failed: %v", err)
	}

	promoted, err := svc.ProcessPendingRewards(time.Now(), 100)
	if err != nil {
		t.Fatalf("sweep inside protection window failed: %v", err)
	}
	if len(promoted) != 0 {
		t.Fatalf("expected no promotion inside 7-day window, got %v", promoted)
	}

	future := time.Now().Add(8 * 24 * time.Hour)
	promoted, err = svc.ProcessPendingRewards(future, 100)
	if err != nil {
		t.Fatalf("sweep after delay failed: %v", err)
	}
	if len(promoted) != 1 || promoted[0] != conversion.ID {
		t.Fatalf("expected conversion %d promoted, got %v", conversion.ID, promoted)
	}

	var stored models.ReferralConversion
	if err := db.First(&stored, conversion.ID).Error; err != nil {
		t.Fatalf("reload conversion failed: %v", err)
	}
	if stored.RewardStatus != constants.RewardStatusApproved {
		t.Fatalf("expected approved status, got %s", stored.RewardStatus)
	}
	if stored.ProcessedAt == nil {
		t.Fatalf("expected processed_at set on approval")
	}

	again, err := svc.ProcessPendingRewards(future, 100)
	if err != nil {
		t.Fatalf("repeated sweep failed: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected repeated sweep to promote nothing, got %v", again)
	}
}

func TestMarkRewardPaidTransitions(t *testing.T) {
	svc, _, db := setupReferralServiceTest(t)
	user := createReferralTestUser(t, db, "paid@example.com", "Paid")
	if _, err := svc.OpenReferral(user.ID, "PAID01"); err != nil {
		t.Fatalf("open referral failed: %v", err)
	}
	conversion, err := svc.RecordConversion(ReferralRecordConversionInput{
		Code:       "PAID01",
		OrderNo:    "ORDER-PAID",
		OrderTotal: decimal.RequireFromString("100.00"),
	})
	if err != nil {
		t.Fatalf("record conversion failed: %v", err)
	}

	if _, err := svc.MarkRewardPaid(conversion.ID); !errors.Is(err, ErrRewardStatusInvalid) {
		t.Fatalf("expected ErrRewardStatusInvalid on pending reward, got %v", err)
	}

	if _, err := svc.ProcessPendingRewards(time.Now().Add(8*24*time.Hour), 100); err != nil {
		t.Fatalf("maturation sweep failed: %v", err)
	}

	paid, err := svc.MarkRewardPaid(conversion.ID)
	if err != nil {
		t.Fatalf("mark reward paid failed: %v", err)
	}
	if paid.RewardStatus != constants.RewardStatusPaid {
		t.Fatalf("expected paid status, got %s", paid.RewardStatus)
	}

	if _, err := svc.MarkRewardPaid(conversion.ID); !errors.Is(err, ErrRewardStatusInvalid) {
		t.Fatalf("expected ErrRewardStatusInvalid on second payout, got %v", err)
	}
	if _, err := svc.MarkRewardPaid(99999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown conversion, got %v", err)
	}

	var stored models.ReferralConversion
	if err := db.First(&stored, conversion.ID).Error; err != nil {
		t.Fatalf("reload conversion failed: %v", err)
	}
	if stored.RewardStatus != constants.RewardStatusPaid {
		t.Fatalf("expected stored status paid, got %s", stored.RewardStatus)
	}
}

func TestGetUserDashboard(t *testing.T) {
	svc, _, db := setupReferralServiceTest(t)
	user := createReferralTestUser(t, db, "dash@example.com", "Dash")

	empty, err := svc.GetUserDashboard(user.ID)
	if err != nil {
		t.Fatalf("dashboard without code failed: %v", err)
	}
	if empty.HasCode {
		t.Fatalf("expected no code before opening referral")
	}

	if _, err := svc.OpenReferral(user.ID, "DASH01"); err != nil {
		t.Fatalf("open referral failed: %v", err)
	}
	for _, visitor := range []string{"visitor-a", "visitor-b"} {
		if err := svc.TrackClick(ReferralTrackClickInput{Code: "DASH01", VisitorKey: visitor}); err != nil {
			t.Fatalf("track click failed: %v", err)
		}
	}
	if _, err := svc.RecordConversion(ReferralRecordConversionInput{
		Code:       "DASH01",
		OrderNo:    "ORDER-DASH",
		OrderTotal: decimal.RequireFromString("200.00"),
		VisitorKey: "visitor-a",
	}); err != nil {
		t.Fatalf("record conversion failed: %v", err)
	}

	dashboard, err := svc.GetUserDashboard(user.ID)
	if err != nil {
		t.Fatalf("dashboard failed: %v", err)
	}
	if !dashboard.HasCode || dashboard.Code != "DASH01" {
		t.Fatalf("unexpected dashboard code: %+v", dashboard)
	}
	if dashboard.SharePath != "/?ref=DASH01" {
		t.Fatalf("unexpected share path %q", dashboard.SharePath)
	}
	if dashboard.Stats.ClickCount != 2 || dashboard.Stats.ConversionCount != 1 {
		t.Fatalf("unexpected stats: %+v", dashboard.Stats)
	}
	if dashboard.Stats.ConversionRate != 50 {
		t.Fatalf("expected 50%% conversion rate, got %v", dashboard.Stats.ConversionRate)
	}
	if !dashboard.Stats.PendingReward.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("expected pending reward 20.00, got %s", dashboard.Stats.PendingReward)
	}
	if len(dashboard.RecentConversions) != 1 || dashboard.RecentConversions[0].OrderNo != "ORDER-DASH" {
		t.Fatalf("unexpected recent conversions: %+v", dashboard.RecentConversions)
	}
}

func TestRecordConversionRequiresConfiguredProgram(t *testing.T) {
	svc, _, db := setupReferralServiceTest(t)
	user := createReferralTestUser(t, db, "strict@example.com", "Strict")
	if _, err := svc.OpenReferral(user.ID, "STRICT"); err != nil {
		t.Fatalf("open referral failed: %v", err)
	}

	bare := NewReferralService(svc.repo, svc.userRepo, NewSettingService(newMockSettingRepo()), 0)
	_, err := bare.RecordConversion(ReferralRecordConversionInput{
		Code:       "STRICT",
		OrderNo:    "ORDER-STRICT",
		OrderTotal: decimal.RequireFromString("100.00"),
	})
	if !errors.Is(err, ErrReferralSettingsMissing) {
		t.Fatalf("expected ErrReferralSettingsMissing without config, got %v", err)
	}
}
