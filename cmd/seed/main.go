package main

import (
	"time"

	"github.com/referral-next/internal/config"
	"github.com/referral-next/internal/constants"
	"github.com/referral-next/internal/logger"
	"github.com/referral-next/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	// 推荐计划配置
	referralConfig := models.JSON{
		"enabled":                  true,
		"reward_type":              constants.RewardTypePercentage,
		"reward_amount":            10.0,
		"referred_discount_type":   constants.DiscountTypeFixed,
		"referred_discount_amount": 5.0,
		"minimum_order_value":      50.0,
		"reward_delay_days":        7,
		"terms_text":               "邀请好友下单，订单金额达到门槛后可获得订单金额 10% 的奖励，奖励 7 天后成熟。",
	}
	var existingSetting models.Setting
	if err := models.DB.Where("key = ?", constants.SettingKeyReferralConfig).First(&existingSetting).Error; err != nil {
		setting := models.Setting{Key: constants.SettingKeyReferralConfig, ValueJSON: referralConfig}
		if err := models.DB.Create(&setting).Error; err != nil {
			stdLog.Printf("Failed to create referral config: %v", err)
		} else {
			stdLog.Printf("Created referral config")
		}
	} else {
		stdLog.Printf("Referral config already exists")
	}

	// 演示用户
	passwordHash, err := bcrypt.GenerateFromPassword([]byte("Referral@2026"), bcrypt.DefaultCost)
	if err != nil {
		stdLog.Fatalf("Failed to hash seed password: %v", err)
	}
	users := []models.User{
		{Email: "jane@example.com", DisplayName: "Jane", Locale: "en-US", Status: constants.UserStatusActive},
		{Email: "ming@example.com", DisplayName: "小明", Locale: "zh-CN", Status: constants.UserStatusActive},
	}
	for i := range users {
		users[i].PasswordHash = string(passwordHash)
		var existing models.User
		if err := models.DB.Where("email = ?", users[i].Email).First(&existing).Error; err != nil {
			if err := models.DB.Create(&users[i]).Error; err != nil {
				stdLog.Printf("Failed to create user %s: %v", users[i].Email, err)
				continue
			}
			stdLog.Printf("Created user: %s", users[i].Email)
		} else {
			users[i] = existing
			stdLog.Printf("User already exists: %s", users[i].Email)
		}
	}

	// 演示推荐码与几笔历史数据
	if len(users) > 0 && users[0].ID != 0 {
		seedReferralHistory(stdLog.Printf, users[0])
	}

	stdLog.Printf("Seed finished")
}

func seedReferralHistory(logf func(format string, v ...interface{}), owner models.User) {
	var code models.ReferralCode
	if err := models.DB.Where("user_id = ?", owner.ID).First(&code).Error; err != nil {
		code = models.ReferralCode{
			UserID: owner.ID,
			Code:   "JANE01",
			Active: true,
		}
		if err := models.DB.Create(&code).Error; err != nil {
			logf("Failed to create referral code: %v", err)
			return
		}
		logf("Created referral code: %s", code.Code)
	} else {
		logf("Referral code already exists: %s", code.Code)
		return
	}

	now := time.Now()
	clicks := []models.ReferralClick{
		{ReferralCodeID: code.ID, ReferralCode: code.Code, VisitorKey: "visitor-a", IPAddress: "203.0.113.10", LandingPage: "/", ClickedAt: now.Add(-72 * time.Hour)},
		{ReferralCodeID: code.ID, ReferralCode: code.Code, VisitorKey: "visitor-b", IPAddress: "203.0.113.11", LandingPage: "/pricing", ClickedAt: now.Add(-48 * time.Hour)},
	}
	for i := range clicks {
		if err := models.DB.Create(&clicks[i]).Error; err != nil {
			logf("Failed to create click: %v", err)
		}
	}

	orderTotal := decimal.NewFromInt(200)
	conversion := models.ReferralConversion{
		ReferralCodeID: code.ID,
		ReferralCode:   code.Code,
		ReferrerUserID: owner.ID,
		OrderNo:        "SEED-ORDER-0001",
		OrderTotal:     models.NewMoneyFromDecimal(orderTotal),
		ReferrerReward: models.NewMoneyFromDecimal(orderTotal.Mul(decimal.NewFromInt(10)).Div(decimal.NewFromInt(100))),
		RewardStatus:   constants.RewardStatusPending,
		ConvertedAt:    now.Add(-24 * time.Hour),
	}
	if err := models.DB.Create(&conversion).Error; err != nil {
		logf("Failed to create conversion: %v", err)
		return
	}
	updates := map[string]interface{}{
		"clicks":        int64(len(clicks)),
		"conversions":   int64(1),
		"total_revenue": conversion.OrderTotal,
		"total_rewards": conversion.ReferrerReward,
	}
	if err := models.DB.Model(&models.ReferralCode{}).Where("id = ?", code.ID).Updates(updates).Error; err != nil {
		logf("Failed to update code totals: %v", err)
	}
	logf("Created demo conversion: %s", conversion.OrderNo)
}
