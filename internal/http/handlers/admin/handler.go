package admin

import (
	"errors"
	"strings"
	"time"

	"github.com/referral-next/internal/http/handlers/shared"
	"github.com/referral-next/internal/http/response"
	"github.com/referral-next/internal/provider"
	"github.com/referral-next/internal/service"

	"github.com/gin-gonic/gin"
)

// Handler 后台处理器
type Handler struct {
	*provider.Container
}

// New 创建后台处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}

func respondError(c *gin.Context, code int, key string, err error) {
	shared.RespondError(c, code, key, err)
}

func respondErrorWithMsg(c *gin.Context, code int, msg string, err error) {
	shared.RespondErrorWithMsg(c, code, msg, err)
}

func normalizePagination(page, pageSize int) (int, int) {
	return shared.NormalizePagination(page, pageSize)
}

func getAdminID(c *gin.Context) (uint, bool) {
	return shared.GetContextUint(c, "admin_id")
}

// parseQueryTime 解析查询参数中的时间，支持 RFC3339 和日期两种格式
func parseQueryTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return &parsed
	}
	if parsed, err := time.Parse("2006-01-02", raw); err == nil {
		return &parsed
	}
	return nil
}

// respondReferralError 业务错误到响应码的统一映射
func respondReferralError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrReferralDisabled):
		respondError(c, response.CodeBadRequest, "referral.disabled", nil)
	case errors.Is(err, service.ErrReferralCodeInvalid):
		respondError(c, response.CodeNotFound, "referral.code_invalid", nil)
	case errors.Is(err, service.ErrReferralCodeInactive):
		respondError(c, response.CodeBadRequest, "referral.code_inactive", nil)
	case errors.Is(err, service.ErrReferralCodeTaken):
		respondError(c, response.CodeConflict, "referral.code_taken", nil)
	case errors.Is(err, service.ErrOrderBelowMinimum):
		respondError(c, response.CodeBadRequest, "referral.order_below_min", nil)
	case errors.Is(err, service.ErrReferralSettingsMissing):
		respondError(c, response.CodeInternal, "referral.settings_missing", err)
	case errors.Is(err, service.ErrRewardStatusInvalid):
		respondError(c, response.CodeConflict, "referral.reward_not_payable", nil)
	case errors.Is(err, service.ErrUserDisabled):
		respondError(c, response.CodeForbidden, "error.user_disabled", nil)
	case errors.Is(err, service.ErrInvalidParams):
		respondError(c, response.CodeBadRequest, "error.invalid_params", nil)
	case errors.Is(err, service.ErrNotFound):
		respondError(c, response.CodeNotFound, "error.not_found", nil)
	default:
		respondError(c, response.CodeInternal, "error.internal", err)
	}
}
