package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/referral-next/internal/logger"
	"github.com/referral-next/internal/provider"
	"github.com/referral-next/internal/queue"
	"github.com/referral-next/internal/service"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskConversionRecord, c.handleConversionRecord)
	mux.HandleFunc(queue.TaskRewardReadyEmail, c.handleRewardReadyEmail)
}

func (c *Consumer) handleConversionRecord(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_conversion_record_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.ConversionRecordPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_conversion_record_unmarshal_failed", "error", err)
		return err
	}
	if strings.TrimSpace(payload.Code) == "" || strings.TrimSpace(payload.OrderNo) == "" {
		logger.Debugw("worker_conversion_record_skip_invalid_payload", "code", payload.Code, "order_no", payload.OrderNo)
		return nil
	}
	orderTotal, err := decimal.NewFromString(strings.TrimSpace(payload.OrderTotal))
	if err != nil {
		logger.Warnw("worker_conversion_record_bad_amount", "order_no", payload.OrderNo, "order_total", payload.OrderTotal, "error", err)
		return nil
	}

	_, err = c.ReferralService.RecordConversion(service.ReferralRecordConversionInput{
		Code:           payload.Code,
		OrderNo:        payload.OrderNo,
		OrderTotal:     orderTotal,
		ReferredUserID: payload.ReferredUserID,
		VisitorKey:     payload.VisitorKey,
	})
	if err != nil {
		// 业务性拒绝不重试，只有基础设施错误才交给 asynq 重投
		switch {
		case errors.Is(err, service.ErrReferralDisabled),
			errors.Is(err, service.ErrReferralCodeInvalid),
			errors.Is(err, service.ErrReferralCodeInactive),
			errors.Is(err, service.ErrOrderBelowMinimum),
			errors.Is(err, service.ErrInvalidParams):
			logger.Debugw("worker_conversion_record_rejected", "order_no", payload.OrderNo, "code", payload.Code, "reason", err)
			return nil
		default:
			logger.Warnw("worker_conversion_record_failed", "order_no", payload.OrderNo, "code", payload.Code, "error", err)
			return err
		}
	}
	return nil
}

func (c *Consumer) handleRewardReadyEmail(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_reward_ready_email_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.RewardReadyEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_reward_ready_email_unmarshal_failed", "error", err)
		return err
	}
	if payload.ConversionID == 0 {
		logger.Debugw("worker_reward_ready_email_skip_invalid_payload", "conversion_id", payload.ConversionID)
		return nil
	}

	conversion, err := c.ReferralRepo.GetConversionByID(payload.ConversionID)
	if err != nil {
		logger.Warnw("worker_reward_ready_email_fetch_failed", "conversion_id", payload.ConversionID, "error", err)
		return err
	}
	if conversion == nil {
		logger.Debugw("worker_reward_ready_email_skip_not_found", "conversion_id", payload.ConversionID)
		return nil
	}
	user, err := c.UserRepo.GetByID(conversion.ReferrerUserID)
	if err != nil {
		logger.Warnw("worker_reward_ready_email_fetch_user_failed", "conversion_id", conversion.ID, "user_id", conversion.ReferrerUserID, "error", err)
		return err
	}
	if user == nil || strings.TrimSpace(user.Email) == "" {
		logger.Debugw("worker_reward_ready_email_skip_empty_receiver", "conversion_id", conversion.ID)
		return nil
	}
	if c.EmailService == nil {
		logger.Warnw("worker_reward_ready_email_skip_email_service_nil", "conversion_id", conversion.ID)
		return nil
	}

	input := service.RewardReadyEmailInput{
		Code:    conversion.ReferralCode,
		OrderNo: conversion.OrderNo,
		Reward:  conversion.ReferrerReward,
	}
	if err := c.EmailService.SendRewardReadyEmail(strings.TrimSpace(user.Email), input, user.Locale); err != nil {
		if errors.Is(err, service.ErrEmailServiceDisabled) || errors.Is(err, service.ErrEmailServiceNotConfigured) {
			logger.Debugw("worker_reward_ready_email_skip_disabled", "conversion_id", conversion.ID)
			return nil
		}
		logger.Warnw("worker_reward_ready_email_send_failed",
			"conversion_id", conversion.ID,
			"order_no", conversion.OrderNo,
			"receiver_email", user.Email,
			"error", err,
		)
		return err
	}
	return nil
}
