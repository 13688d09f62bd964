package worker

import (
	"context"
	"errors"
	"time"

	"github.com/referral-next/internal/config"
	"github.com/referral-next/internal/logger"
	"github.com/referral-next/internal/provider"
	"github.com/referral-next/internal/queue"

	"github.com/go-co-op/gocron/v2"
)

const defaultSweepInterval = 10 * time.Minute

// SweepService 奖励成熟巡检服务
// 周期性把到期的待定奖励推进为已成熟，并为每笔推送通知任务
type SweepService struct {
	name      string
	interval  time.Duration
	batchSize int
	container *provider.Container
	scheduler gocron.Scheduler
	done      chan struct{}
}

// NewSweepService 创建巡检服务
func NewSweepService(cfg *config.ReferralConfig, c *provider.Container) (*SweepService, error) {
	if c == nil || c.ReferralService == nil {
		return nil, errors.New("referral service is nil")
	}
	interval := defaultSweepInterval
	batchSize := 500
	if cfg != nil {
		if cfg.SweepIntervalMinutes > 0 {
			interval = time.Duration(cfg.SweepIntervalMinutes) * time.Minute
		}
		if cfg.SweepBatchSize > 0 {
			batchSize = cfg.SweepBatchSize
		}
	}
	return &SweepService{
		name:      "reward-sweep",
		interval:  interval,
		batchSize: batchSize,
		container: c,
		done:      make(chan struct{}),
	}, nil
}

// Name 服务名称
func (s *SweepService) Name() string {
	if s == nil || s.name == "" {
		return "reward-sweep"
	}
	return s.name
}

// Start 启动巡检
func (s *SweepService) Start(ctx context.Context) error {
	if s == nil || s.container == nil {
		return errors.New("sweep service not initialized")
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	s.scheduler = scheduler

	if _, err := scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.runOnce),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	); err != nil {
		return err
	}
	scheduler.Start()

	select {
	case <-ctx.Done():
	case <-s.done:
	}
	return nil
}

// Stop 停止巡检
func (s *SweepService) Stop(_ context.Context) error {
	if s == nil {
		return nil
	}
	close(s.done)
	if s.scheduler != nil {
		return s.scheduler.Shutdown()
	}
	return nil
}

func (s *SweepService) runOnce() {
	promoted, err := s.container.ReferralService.ProcessPendingRewards(time.Now(), s.batchSize)
	if err != nil {
		logger.Warnw("reward_sweep_failed", "error", err)
		return
	}
	if len(promoted) == 0 {
		return
	}
	logger.Infow("reward_sweep_approved", "count", len(promoted))
	for _, conversionID := range promoted {
		if err := s.container.QueueClient.EnqueueRewardReadyEmail(queue.RewardReadyEmailPayload{ConversionID: conversionID}); err != nil {
			logger.Warnw("reward_sweep_enqueue_failed", "conversion_id", conversionID, "error", err)
		}
	}
}
