package task

import (
	"context"
	"encoding/json"
	"time"

	"feedloop-engagement/services/referral"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	TypeReferralExpiry = "referral:expiry:run"

	taskReferralExpiry = "expire_referrals"
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	asynq *asynq.Client

	referral *referral.Service
}

type Params struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Asynq *asynq.Client

	Referral *referral.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		asynq: p.Asynq,

		referral: p.Referral,
	}
}

type expiryPayload struct {
	JobID      string `json:"job_id"`
	BusinessID string `json:"business_id"`
}

// EnqueueBusinessExpiryJob records a Job row and pushes the sweep onto the
// queue. The job id travels in the payload so the worker reports back on the
// same audit row.
func (s *Service) EnqueueBusinessExpiryJob(ctx context.Context, businessID string) error {
	job := Job{
		ID:         s.node.Generate().String(),
		TaskID:     taskReferralExpiry,
		BusinessID: businessID,
		Status:     "pending",
		CreatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return err
	}

	payload, _ := json.Marshal(expiryPayload{
		JobID:      job.ID,
		BusinessID: businessID,
	})
	t := asynq.NewTask(TypeReferralExpiry, payload)

	if _, err := s.asynq.Enqueue(t, asynq.Queue("default")); err != nil {
		s.db.Model(&job).Update("status", "failed")
		return err
	}

	zap.L().Info("enqueued referral expiry job",
		zap.String("business_id", businessID),
		zap.String("job_id", job.ID),
	)
	return nil
}

// HandleExpiryTask is the Asynq worker entrypoint. It decodes the payload
// and delegates to RunExpiryJob.
func (s *Service) HandleExpiryTask(ctx context.Context, t *asynq.Task) error {
	var payload expiryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid expiry payload", zap.Error(err))
		return err
	}

	zap.L().Info("processing expiry task",
		zap.String("business_id", payload.BusinessID),
		zap.String("job_id", payload.JobID),
	)

	if err := s.RunExpiryJob(ctx, payload.JobID, payload.BusinessID); err != nil {
		zap.L().Error("failed to process expiry job",
			zap.String("business_id", payload.BusinessID),
			zap.Error(err),
		)
		return err
	}

	zap.L().Info("finished expiry task", zap.String("business_id", payload.BusinessID))
	return nil
}

// RunExpiryJob moves the audit row through running → success/failed around
// the sweep. A re-delivered task reuses its row; a direct invocation without
// one gets a fresh row.
func (s *Service) RunExpiryJob(ctx context.Context, jobID, businessID string) error {
	now := time.Now()

	if jobID == "" {
		jobID = s.node.Generate().String()
	}

	res := s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":     "running",
			"started_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		job := Job{
			ID:         jobID,
			TaskID:     taskReferralExpiry,
			BusinessID: businessID,
			Status:     "running",
			StartedAt:  &now,
		}
		if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
			return err
		}
	}

	expired, err := s.referral.ExpireStale(ctx, businessID)
	if err != nil {
		s.db.Model(&Job{}).Where("id = ?", jobID).Updates(map[string]any{
			"status":    "failed",
			"error_msg": err.Error(),
		})
		return err
	}

	meta, _ := json.Marshal(map[string]int64{"expired": expired})
	s.db.Model(&Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"status":       "success",
		"completed_at": time.Now(),
		"metadata":     meta,
	})

	zap.L().Info("expiry job finished",
		zap.String("business_id", businessID),
		zap.Int64("expired", expired),
	)
	return nil
}

// EnqueueAllExpiryJobs fans one sweep job out per known business. Businesses
// come from the settings table; a business we have never configured has no
// referrals to expire.
func (s *Service) EnqueueAllExpiryJobs(ctx context.Context) error {
	var businessIDs []string
	if err := s.db.WithContext(ctx).
		Table("gamification_settings").
		Distinct("business_id").
		Pluck("business_id", &businessIDs).Error; err != nil {
		return err
	}

	if len(businessIDs) == 0 {
		zap.L().Info("no businesses found, nothing to enqueue")
		return nil
	}

	wg := errgroup.Group{}
	wg.SetLimit(10)
	for _, id := range businessIDs {
		businessID := id
		wg.Go(func() error {
			if err := s.EnqueueBusinessExpiryJob(ctx, businessID); err != nil {
				zap.L().Error("failed enqueue expiry job",
					zap.String("business_id", businessID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = wg.Wait()

	zap.L().Info("finished enqueue all expiry jobs", zap.Int("total_businesses", len(businessIDs)))
	return nil
}
