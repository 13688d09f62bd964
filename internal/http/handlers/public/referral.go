package public

import (
	"errors"
	"strings"

	"github.com/referral-next/internal/http/response"
	"github.com/referral-next/internal/service"

	"github.com/gin-gonic/gin"
)

// TrackClickRequest 推荐点击上报请求
type TrackClickRequest struct {
	Code        string `json:"code" binding:"required"`
	VisitorKey  string `json:"visitor_key"`
	ReferrerURL string `json:"referrer_url"`
	LandingPage string `json:"landing_page"`
}

// TrackReferralClick 记录推荐点击
func (h *Handler) TrackReferralClick(c *gin.Context) {
	var req TrackClickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.invalid_params", err)
		return
	}

	err := h.ReferralService.TrackClick(service.ReferralTrackClickInput{
		Code:        req.Code,
		VisitorKey:  req.VisitorKey,
		IPAddress:   c.ClientIP(),
		UserAgent:   c.GetHeader("User-Agent"),
		ReferrerURL: req.ReferrerURL,
		LandingPage: req.LandingPage,
	})
	if err != nil {
		respondReferralError(c, err)
		return
	}
	response.Success(c, nil)
}

// GetReferralCodeInfo 查询推荐码信息（落地页展示用）
func (h *Handler) GetReferralCodeInfo(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	row, err := h.ReferralService.GetCodeByCode(code)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			respondError(c, response.CodeNotFound, "referral.code_invalid", nil)
			return
		}
		respondError(c, response.CodeInternal, "error.internal", err)
		return
	}
	if !row.Active {
		respondError(c, response.CodeBadRequest, "referral.code_inactive", nil)
		return
	}

	setting, err := h.SettingService.GetReferralSetting()
	if err != nil {
		respondError(c, response.CodeInternal, "error.internal", err)
		return
	}
	if !setting.Enabled {
		respondError(c, response.CodeBadRequest, "referral.disabled", nil)
		return
	}

	response.Success(c, gin.H{
		"code":                     row.Code,
		"active":                   row.Active,
		"referred_discount_type":   setting.ReferredDiscountType,
		"referred_discount_amount": setting.ReferredDiscountAmount,
		"minimum_order_value":      setting.MinimumOrderValue,
		"terms_text":               setting.TermsText,
	})
}

// OpenReferralRequest 开通推荐码请求
type OpenReferralRequest struct {
	Code string `json:"code"` // 可选，自定义推荐码
}

// OpenReferral 用户开通推荐码
func (h *Handler) OpenReferral(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var req OpenReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		respondError(c, response.CodeBadRequest, "error.invalid_params", err)
		return
	}

	row, err := h.ReferralService.OpenReferral(userID, req.Code)
	if err != nil {
		respondReferralError(c, err)
		return
	}
	response.Success(c, row)
}

// GetReferralDashboard 用户推荐中心数据
func (h *Handler) GetReferralDashboard(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	dashboard, err := h.ReferralService.GetUserDashboard(userID)
	if err != nil {
		respondError(c, response.CodeInternal, "error.internal", err)
		return
	}
	response.Success(c, dashboard)
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
