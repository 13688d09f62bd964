package admin

import (
	"strconv"
	"strings"
	"time"

	"github.com/referral-next/internal/http/handlers/shared"
	"github.com/referral-next/internal/http/response"
	"github.com/referral-next/internal/queue"
	"github.com/referral-next/internal/repository"
	"github.com/referral-next/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ListReferralCodes 推荐码列表
func (h *Handler) ListReferralCodes(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	filter := repository.ReferralCodeListFilter{
		Code:     strings.TrimSpace(c.Query("code")),
		Keyword:  strings.TrimSpace(c.Query("keyword")),
		Page:     page,
		PageSize: pageSize,
	}
	if raw := strings.TrimSpace(c.Query("user_id")); raw != "" {
		if userID, err := strconv.ParseUint(raw, 10, 64); err == nil {
			filter.UserID = uint(userID)
		}
	}
	if raw := strings.TrimSpace(c.Query("active")); raw != "" {
		active := raw == "true" || raw == "1"
		filter.Active = &active
	}

	items, total, err := h.ReferralService.ListAdminCodes(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "error.internal", err)
		return
	}
	response.SuccessWithPage(c, items, response.NewPagination(page, pageSize, total))
}

// CreateReferralCodeRequest 后台开通推荐码请求
type CreateReferralCodeRequest struct {
	UserID uint   `json:"user_id" binding:"required"`
	Code   string `json:"code"` // 可选，自定义推荐码
}

// CreateReferralCode 为指定用户开通推荐码
func (h *Handler) CreateReferralCode(c *gin.Context) {
	var req CreateReferralCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.invalid_params", err)
		return
	}
	row, err := h.ReferralService.OpenReferral(req.UserID, req.Code)
	if err != nil {
		respondReferralError(c, err)
		return
	}
	response.Success(c, row)
}

// UpdateReferralCodeActiveRequest 启停推荐码请求
type UpdateReferralCodeActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// UpdateReferralCodeActive 启停推荐码
func (h *Handler) UpdateReferralCodeActive(c *gin.Context) {
	codeID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || codeID == 0 {
		respondError(c, response.CodeBadRequest, "error.invalid_params", err)
		return
	}
	var req UpdateReferralCodeActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.invalid_params", err)
		return
	}
	row, err := h.ReferralService.UpdateCodeActive(uint(codeID), *req.Active)
	if err != nil {
		respondReferralError(c, err)
		return
	}
	response.Success(c, row)
}

// ListReferralConversions 转化记录列表
func (h *Handler) ListReferralConversions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	filter := repository.ReferralConversionListFilter{
		OrderNo:      strings.TrimSpace(c.Query("order_no")),
		RewardStatus: strings.TrimSpace(c.Query("reward_status")),
		Keyword:      strings.TrimSpace(c.Query("keyword")),
		Page:         page,
		PageSize:     pageSize,
	}
	if raw := strings.TrimSpace(c.Query("referral_code_id")); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			filter.ReferralCodeID = uint(id)
		}
	}
	if raw := strings.TrimSpace(c.Query("referrer_user_id")); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			filter.ReferrerUserID = uint(id)
		}
	}
	filter.ConvertedFrom = parseQueryTime(c.Query("converted_from"))
	filter.ConvertedTo = parseQueryTime(c.Query("converted_to"))

	rows, total, err := h.ReferralService.ListAdminConversions(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "error.internal", err)
		return
	}
	response.SuccessWithPage(c, rows, response.NewPagination(page, pageSize, total))
}

// ListReferralClicks 点击记录列表
func (h *Handler) ListReferralClicks(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	filter := repository.ReferralClickListFilter{
		VisitorKey: strings.TrimSpace(c.Query("visitor_key")),
		Page:       page,
		PageSize:   pageSize,
	}
	if raw := strings.TrimSpace(c.Query("referral_code_id")); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			filter.ReferralCodeID = uint(id)
		}
	}
	if raw := strings.TrimSpace(c.Query("converted")); raw != "" {
		converted := raw == "true" || raw == "1"
		filter.Converted = &converted
	}
	filter.ClickedFrom = parseQueryTime(c.Query("clicked_from"))
	filter.ClickedTo = parseQueryTime(c.Query("clicked_to"))

	rows, total, err := h.ReferralService.ListAdminClicks(filter)
	if err != nil {
		respondError(c, response.CodeInternal, "error.internal", err)
		return
	}
	response.SuccessWithPage(c, rows, response.NewPagination(page, pageSize, total))
}

// GetReferralProgramStats 推荐计划整体统计
func (h *Handler) GetReferralProgramStats(c *gin.Context) {
	stats, err := h.ReferralService.GetProgramStats()
	if err != nil {
		respondError(c, response.CodeInternal, "error.internal", err)
		return
	}
	response.Success(c, stats)
}

// RecordConversionRequest 转化入账请求
type RecordConversionRequest struct {
	Code           string `json:"code" binding:"required"`
	OrderNo        string `json:"order_no" binding:"required"`
	OrderTotal     string `json:"order_total" binding:"required"`
	ReferredUserID *uint  `json:"referred_user_id"`
	VisitorKey     string `json:"visitor_key"`
	Async          bool   `json:"async"` // 异步入队处理
}

// RecordConversion 记录一笔转化
// async=true 且队列可用时只做入队，由 worker 落库
func (h *Handler) RecordConversion(c *gin.Context) {
	var req RecordConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.invalid_params", err)
		return
	}
	orderTotal, err := decimal.NewFromString(strings.TrimSpace(req.OrderTotal))
	if err != nil || orderTotal.IsNegative() {
		respondError(c, response.CodeBadRequest, "error.invalid_params", err)
		return
	}

	if req.Async && h.QueueClient.Enabled() {
		err := h.QueueClient.EnqueueConversionRecord(queue.ConversionRecordPayload{
			Code:           req.Code,
			OrderNo:        req.OrderNo,
			OrderTotal:     orderTotal.String(),
			ReferredUserID: req.ReferredUserID,
			VisitorKey:     req.VisitorKey,
		})
		if err != nil {
			respondError(c, response.CodeInternal, "error.internal", err)
			return
		}
		response.Success(c, gin.H{"queued": true})
		return
	}

	conversion, err := h.ReferralService.RecordConversion(service.ReferralRecordConversionInput{
		Code:           req.Code,
		OrderNo:        req.OrderNo,
		OrderTotal:     orderTotal,
		ReferredUserID: req.ReferredUserID,
		VisitorKey:     req.VisitorKey,
	})
	if err != nil {
		respondReferralError(c, err)
		return
	}
	response.Success(c, conversion)
}

// MarkRewardPaid 标记奖励已发放
func (h *Handler) MarkRewardPaid(c *gin.Context) {
	conversionID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || conversionID == 0 {
		respondError(c, response.CodeBadRequest, "error.invalid_params", err)
		return
	}
	conversion, err := h.ReferralService.MarkRewardPaid(uint(conversionID))
	if err != nil {
		respondReferralError(c, err)
		return
	}
	response.Success(c, conversion)
}

// ProcessRewards 手动触发奖励成熟处理
func (h *Handler) ProcessRewards(c *gin.Context) {
	batchSize := h.Config.Referral.SweepBatchSize
	if raw := strings.TrimSpace(c.Query("batch_size")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			batchSize = parsed
		}
	}
	promoted, err := h.ReferralService.ProcessPendingRewards(time.Now(), batchSize)
	if err != nil {
		respondError(c, response.CodeInternal, "error.internal", err)
		return
	}
	for _, conversionID := range promoted {
		// 通知失败不影响状态推进
		if err := h.QueueClient.EnqueueRewardReadyEmail(queue.RewardReadyEmailPayload{ConversionID: conversionID}); err != nil {
			shared.RequestLog(c).Warnw("reward_ready_enqueue_failed", "conversion_id", conversionID, "error", err)
		}
	}
	response.Success(c, gin.H{
		"approved_count": len(promoted),
		"conversion_ids": promoted,
	})
}
