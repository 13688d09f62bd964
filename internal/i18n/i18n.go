package i18n

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
)

// DefaultLocale 默认语言
const DefaultLocale = "zh-CN"

var messages = map[string]map[string]string{
	"zh-CN": {
		"common.success":               "操作成功",
		"error.invalid_params":         "请求参数错误",
		"error.unauthorized":           "未登录或登录已过期",
		"error.forbidden":              "没有操作权限",
		"error.not_found":              "资源不存在",
		"error.internal":               "服务器内部错误",
		"error.rate_limited":           "请求过于频繁，请 %d 秒后重试",
		"error.rate_limit_unavailable": "限流服务暂不可用，请稍后再试",
		"error.auth_header_missing":    "缺少认证信息",
		"error.auth_header_invalid":    "认证信息格式错误",
		"error.token_invalid":          "登录凭证无效",
		"error.token_revoked":          "登录凭证已失效，请重新登录",
		"error.jwt_secret_missing":     "服务端未配置签名密钥",
		"error.login_failed":           "用户名或密码错误",
		"error.captcha_invalid":        "验证码错误或已过期",
		"error.email_taken":            "该邮箱已被注册",
		"error.user_disabled":          "账号已被禁用",
		"referral.disabled":            "推荐功能未开启",
		"referral.code_inactive":       "推荐码已停用",
		"referral.code_taken":          "推荐码已被占用",
		"referral.code_invalid":        "推荐码格式不正确",
		"referral.order_below_min":     "订单金额未达到推荐奖励门槛",
		"referral.settings_missing":    "推荐配置缺失，请联系管理员",
		"referral.conversion_exists":   "该订单已登记过推荐转化",
		"referral.reward_not_payable":  "仅已成熟的奖励可以标记发放",
	},
	"en-US": {
		"common.success":               "OK",
		"error.invalid_params":         "invalid request parameters",
		"error.unauthorized":           "unauthorized or session expired",
		"error.forbidden":              "permission denied",
		"error.not_found":              "resource not found",
		"error.internal":               "internal server error",
		"error.rate_limited":           "too many requests, retry in %d seconds",
		"error.rate_limit_unavailable": "rate limiter unavailable, please retry later",
		"error.auth_header_missing":    "missing authorization header",
		"error.auth_header_invalid":    "malformed authorization header",
		"error.token_invalid":          "invalid token",
		"error.token_revoked":          "token revoked, please sign in again",
		"error.jwt_secret_missing":     "server jwt secret not configured",
		"error.login_failed":           "incorrect username or password",
		"error.captcha_invalid":        "captcha invalid or expired",
		"error.email_taken":            "email already registered",
		"error.user_disabled":          "account disabled",
		"referral.disabled":            "referral program is disabled",
		"referral.code_inactive":       "referral code is inactive",
		"referral.code_taken":          "referral code already taken",
		"referral.code_invalid":        "invalid referral code format",
		"referral.order_below_min":     "order total below referral reward minimum",
		"referral.settings_missing":    "referral settings missing, contact administrator",
		"referral.conversion_exists":   "conversion already recorded for this order",
		"referral.reward_not_payable":  "only matured rewards can be marked as paid",
	},
}

// ResolveLocale 解析请求语言
// 优先级：query 参数 lang > Accept-Language 头 > 默认语言
func ResolveLocale(c *gin.Context) string {
	if c == nil {
		return DefaultLocale
	}
	if lang := normalizeLocale(c.Query("lang")); lang != "" {
		return lang
	}
	header := c.GetHeader("Accept-Language")
	for _, part := range strings.Split(header, ",") {
		tag := part
		if idx := strings.Index(tag, ";"); idx >= 0 {
			tag = tag[:idx]
		}
		if lang := normalizeLocale(tag); lang != "" {
			return lang
		}
	}
	return DefaultLocale
}

// T 按语言取消息文案，找不到时回退默认语言，再退回 key 本身
func T(locale, key string) string {
	if table, ok := messages[normalizeLocale(locale)]; ok {
		if msg, ok := table[key]; ok {
			return msg
		}
	}
	if msg, ok := messages[DefaultLocale][key]; ok {
		return msg
	}
	return key
}

// Sprintf 取带占位符的文案并格式化
func Sprintf(locale, key string, args ...interface{}) string {
	template := T(locale, key)
	if len(args) == 0 {
		return template
	}
	return fmt.Sprintf(template, args...)
}

func normalizeLocale(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "zh"):
		return "zh-CN"
	case strings.HasPrefix(lower, "en"):
		return "en-US"
	}
	return ""
}
