package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/referral-next/internal/config"
	"github.com/referral-next/internal/models"

	"github.com/shopspring/decimal"
)

func TestBuildRewardReadyContentLocale(t *testing.T) {
	input := RewardReadyEmailInput{
		Code:    "JANE01",
		OrderNo: "ORDER-1",
		Reward:  models.NewMoneyFromDecimal(decimal.RequireFromString("20")),
	}

	subject, body := buildRewardReadyContent(input, "en-US")
	if subject != "Your referral reward is ready" {
		t.Fatalf("unexpected en subject: %q", subject)
	}
	if !strings.Contains(body, "20.00") || !strings.Contains(body, "ORDER-1") || !strings.Contains(body, "JANE01") {
		t.Fatalf("en body missing fields: %q", body)
	}

	subject, body = buildRewardReadyContent(input, "zh-CN")
	if subject != "推荐奖励已成熟" {
		t.Fatalf("unexpected zh subject: %q", subject)
	}
	if !strings.Contains(body, "20.00") || !strings.Contains(body, "JANE01") {
		t.Fatalf("zh body missing fields: %q", body)
	}

	// 空语言偏好走中文
	subject, _ = buildRewardReadyContent(input, "")
	if subject != "推荐奖励已成熟" {
		t.Fatalf("empty locale should use zh subject, got %q", subject)
	}
}

func TestSendRewardReadyEmailConfigGuards(t *testing.T) {
	input := RewardReadyEmailInput{Code: "JANE01", OrderNo: "ORDER-1"}

	disabled := NewEmailService(&config.EmailConfig{Enabled: false})
	if err := disabled.SendRewardReadyEmail("jane@example.com", input, "zh-CN"); !errors.Is(err, ErrEmailServiceDisabled) {
		t.Fatalf("expected ErrEmailServiceDisabled, got %v", err)
	}

	unconfigured := NewEmailService(&config.EmailConfig{Enabled: true})
	if err := unconfigured.SendRewardReadyEmail("jane@example.com", input, "zh-CN"); !errors.Is(err, ErrEmailServiceNotConfigured) {
		t.Fatalf("expected ErrEmailServiceNotConfigured, got %v", err)
	}

	badRecipient := NewEmailService(&config.EmailConfig{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    465,
		From:    "noreply@example.com",
	})
	if err := badRecipient.SendRewardReadyEmail("not-an-address", input, "zh-CN"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}
