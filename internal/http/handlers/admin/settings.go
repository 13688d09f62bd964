package admin

import (
	"errors"

	"github.com/referral-next/internal/http/response"
	"github.com/referral-next/internal/service"

	"github.com/gin-gonic/gin"
)

// GetReferralSettings 读取推荐计划配置
func (h *Handler) GetReferralSettings(c *gin.Context) {
	setting, err := h.SettingService.GetReferralSetting()
	if err != nil {
		respondError(c, response.CodeInternal, "error.internal", err)
		return
	}
	response.Success(c, setting)
}

// UpdateReferralSettings 更新推荐计划配置
func (h *Handler) UpdateReferralSettings(c *gin.Context) {
	var req service.ReferralSettingPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.invalid_params", err)
		return
	}

	updated, err := h.SettingService.UpdateReferralSetting(req)
	if err != nil {
		if errors.Is(err, service.ErrReferralConfigInvalid) {
			respondErrorWithMsg(c, response.CodeBadRequest, err.Error(), nil)
			return
		}
		respondError(c, response.CodeInternal, "error.internal", err)
		return
	}
	response.Success(c, updated)
}
