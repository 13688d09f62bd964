package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/referral-next/internal/config"
	"github.com/referral-next/internal/constants"
	"github.com/referral-next/internal/models"
	"github.com/referral-next/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupUserAuthServiceTest(t *testing.T) (*UserAuthService, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:user_auth_service_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	cfg := &config.Config{
		UserJWT: config.JWTConfig{
			SecretKey:             "test-user-secret",
			ExpireHours:           24,
			RememberMeExpireHours: 24 * 30,
		},
		Security: config.SecurityConfig{
			PasswordPolicy: config.PasswordPolicyConfig{
				MinLength:     8,
				RequireUpper:  true,
				RequireLower:  true,
				RequireNumber: true,
			},
		},
	}
	return NewUserAuthService(cfg, repository.NewUserRepository(db)), db
}

func TestUserRegisterNormalizesEmail(t *testing.T) {
	svc, _ := setupUserAuthServiceTest(t)

	user, err := svc.Register(UserRegisterInput{
		Email:    "  Jane@Example.COM ",
		Password: "Passw0rd!",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.Email != "jane@example.com" {
		t.Fatalf("expected lowercase email, got %q", user.Email)
	}
	if user.DisplayName != "jane" {
		t.Fatalf("expected display name derived from email, got %q", user.DisplayName)
	}
	if user.Locale != "zh-CN" {
		t.Fatalf("expected default locale zh-CN, got %q", user.Locale)
	}
	if user.Status != constants.UserStatusActive {
		t.Fatalf("expected active status, got %q", user.Status)
	}
}

func TestUserRegisterRejections(t *testing.T) {
	svc, _ := setupUserAuthServiceTest(t)

	if _, err := svc.Register(UserRegisterInput{Email: "not-an-email", Password: "Passw0rd!"}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for bad email, got %v", err)
	}
	if _, err := svc.Register(UserRegisterInput{Email: "jane@example.com", Password: "weak"}); !errors.Is(err, ErrPasswordTooWeak) {
		t.Fatalf("expected ErrPasswordTooWeak, got %v", err)
	}

	if _, err := svc.Register(UserRegisterInput{Email: "jane@example.com", Password: "Passw0rd!"}); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if _, err := svc.Register(UserRegisterInput{Email: "JANE@example.com", Password: "Passw0rd!"}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken for duplicate email, got %v", err)
	}
}

func TestUserLogin(t *testing.T) {
	svc, db := setupUserAuthServiceTest(t)
	user, err := svc.Register(UserRegisterInput{Email: "jane@example.com", Password: "Passw0rd!"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	loggedIn, token, expiresAt, err := svc.Login("jane@example.com", "Passw0rd!", false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if loggedIn.ID != user.ID || token == "" {
		t.Fatalf("unexpected login result: user=%+v token=%q", loggedIn, token)
	}

	claims, err := svc.ParseJWT(token)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if claims.UserID != user.ID || claims.Email != "jane@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	_, _, rememberExpiry, err := svc.Login("jane@example.com", "Passw0rd!", true)
	if err != nil {
		t.Fatalf("remember-me login failed: %v", err)
	}
	if !rememberExpiry.After(expiresAt.Add(24 * time.Hour)) {
		t.Fatalf("expected remember-me expiry beyond default, got %v vs %v", rememberExpiry, expiresAt)
	}

	if _, _, _, err := svc.Login("jane@example.com", "wrong-password", false); !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("expected ErrLoginFailed for wrong password, got %v", err)
	}
	if _, _, _, err := svc.Login("nobody@example.com", "Passw0rd!", false); !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("expected ErrLoginFailed for unknown user, got %v", err)
	}

	if err := db.Model(user).Update("status", constants.UserStatusDisabled).Error; err != nil {
		t.Fatalf("disable user failed: %v", err)
	}
	if _, _, _, err := svc.Login("jane@example.com", "Passw0rd!", false); !errors.Is(err, ErrUserDisabled) {
		t.Fatalf("expected ErrUserDisabled, got %v", err)
	}
}
