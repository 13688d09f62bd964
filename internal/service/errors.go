package service

import "errors"

// 业务层哨兵错误，处理器通过 errors.Is 映射为响应码
var (
	ErrNotFound        = errors.New("record not found")
	ErrInvalidParams   = errors.New("invalid params")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLoginFailed     = errors.New("login failed")
	ErrEmailTaken      = errors.New("email already taken")
	ErrUserDisabled    = errors.New("user disabled")
	ErrCaptchaInvalid  = errors.New("captcha invalid")
	ErrPasswordTooWeak = errors.New("password too weak")

	ErrReferralDisabled        = errors.New("referral program disabled")
	ErrReferralCodeInvalid     = errors.New("referral code invalid")
	ErrReferralCodeInactive    = errors.New("referral code inactive")
	ErrReferralCodeTaken       = errors.New("referral code taken")
	ErrOrderBelowMinimum       = errors.New("order total below reward minimum")
	ErrReferralSettingsMissing = errors.New("referral settings missing")
	ErrReferralConfigInvalid   = errors.New("referral config invalid")
	ErrRewardStatusInvalid     = errors.New("reward status invalid")

	ErrEmailServiceDisabled      = errors.New("email service disabled")
	ErrEmailServiceNotConfigured = errors.New("email service not configured")
	ErrInvalidEmail              = errors.New("invalid email address")
)
