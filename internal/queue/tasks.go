package queue

import (
	"encoding/json"

	"github.com/referral-next/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskConversionRecord 转化入账任务
	TaskConversionRecord = constants.TaskConversionRecord
	// TaskRewardReadyEmail 奖励成熟通知任务
	TaskRewardReadyEmail = constants.TaskRewardReadyEmail
)

// ConversionRecordPayload 转化入账任务载荷
// 金额用字符串传递，避免 JSON 浮点精度问题
type ConversionRecordPayload struct {
	Code           string `json:"code"`
	OrderNo        string `json:"order_no"`
	OrderTotal     string `json:"order_total"`
	ReferredUserID *uint  `json:"referred_user_id,omitempty"`
	VisitorKey     string `json:"visitor_key,omitempty"`
}

// RewardReadyEmailPayload 奖励成熟通知任务载荷
type RewardReadyEmailPayload struct {
	ConversionID uint `json:"conversion_id"`
}

// NewConversionRecordTask 创建转化入账任务
func NewConversionRecordTask(payload ConversionRecordPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConversionRecord, body), nil
}

// NewRewardReadyEmailTask 创建奖励成熟通知任务
func NewRewardReadyEmailTask(payload RewardReadyEmailPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRewardReadyEmail, body), nil
}
