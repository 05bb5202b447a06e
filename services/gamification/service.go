package gamification

import (
	"context"
	"errors"

	"feedloop-engagement/services/settings"

	"github.com/bwmarrin/snowflake"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNegativeAmount = errors.New("award amount must be non-negative")

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    clockwork.Clock
	settings *settings.Service
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Clock    clockwork.Clock
	Settings *settings.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		clock:    p.Clock,
		settings: p.Settings,
	}
}

// Award credits amount to the user's balance and unlocks any newly crossed
// point badges. A zero amount is a no-op, not an error: the amounts come from
// per-business settings and may legitimately be configured to zero.
func (s *Service) Award(ctx context.Context, businessID, userID string, amount int64, reason AwardReason, referenceID string) error {
	if amount < 0 {
		return ErrNegativeAmount
	}

	cfg, err := s.settings.Get(ctx, businessID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.AwardTx(ctx, tx, cfg, businessID, userID, amount, reason, referenceID)
	})
}

// AwardTx is Award inside a caller-owned transaction, so a referral's status
// transition and its point award commit or roll back together. Settings are
// fetched by the caller before the transaction opens; reading them here would
// claim a second pool connection while the transaction holds one.
func (s *Service) AwardTx(ctx context.Context, tx *gorm.DB, cfg *settings.Settings, businessID, userID string, amount int64, reason AwardReason, referenceID string) error {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("business_id", businessID),
		zap.String("user_id", userID),
		zap.String("reason", reason.String()),
	)

	if amount < 0 {
		return ErrNegativeAmount
	}

	if amount == 0 {
		return nil
	}

	now := s.clock.Now()

	// Additive update first: `balance = balance + ?` is a single statement so
	// concurrent awards never lose an increment.
	res := tx.Model(&PointBalance{}).
		Where("business_id = ? AND user_id = ?", businessID, userID).
		Updates(map[string]any{
			"balance":     gorm.Expr("balance + ?", amount),
			"achieved_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected == 0 {
		created := tx.Create(&PointBalance{
			ID:         s.node.Generate().String(),
			BusinessID: businessID,
			UserID:     userID,
			Balance:    amount,
			AchievedAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if created.Error != nil {
			// A concurrent first award may have inserted the row between our
			// update and create; fall back to the additive update.
			retry := tx.Model(&PointBalance{}).
				Where("business_id = ? AND user_id = ?", businessID, userID).
				Updates(map[string]any{
					"balance":     gorm.Expr("balance + ?", amount),
					"achieved_at": now,
					"updated_at":  now,
				})
			if retry.Error != nil {
				return retry.Error
			}
			if retry.RowsAffected == 0 {
				return created.Error
			}
		}
	}

	if err := tx.Create(&PointEvent{
		ID:          s.node.Generate().String(),
		BusinessID:  businessID,
		UserID:      userID,
		Amount:      amount,
		Reason:      reason,
		ReferenceID: referenceID,
		CreatedAt:   now,
	}).Error; err != nil {
		return err
	}

	if err := s.evaluatePointBadges(ctx, tx, cfg, businessID, userID); err != nil {
		return err
	}

	zapLog.Debug("points awarded", zap.Int64("amount", amount))
	return nil
}

// EvaluateReferralBadgesTx unlocks referral-count badges once the referrer's
// completed-referral count crosses a threshold. Called by the completion
// coordinator inside its own transaction, with the settings it fetched
// before opening it.
func (s *Service) EvaluateReferralBadgesTx(ctx context.Context, tx *gorm.DB, cfg *settings.Settings, businessID, userID string, completedCount int64) error {
	rules, err := cfg.Rules()
	if err != nil {
		return err
	}

	for _, rule := range rules {
		if rule.Metric != settings.MetricReferrals {
			continue
		}
		if completedCount < rule.Threshold {
			break
		}
		if err := s.awardBadge(tx, businessID, userID, rule.BadgeKey); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) evaluatePointBadges(ctx context.Context, tx *gorm.DB, cfg *settings.Settings, businessID, userID string) error {
	rules, err := cfg.Rules()
	if err != nil {
		return err
	}

	var balance PointBalance
	if err := tx.Where("business_id = ? AND user_id = ?", businessID, userID).
		First(&balance).Error; err != nil {
		return err
	}

	for _, rule := range rules {
		if rule.Metric != settings.MetricPoints {
			continue
		}
		if balance.Balance < rule.Threshold {
			break
		}
		if err := s.awardBadge(tx, businessID, userID, rule.BadgeKey); err != nil {
			return err
		}
	}

	return nil
}

// awardBadge relies on the unique index: a concurrent crossing of the same
// threshold inserts nothing and is treated as success.
func (s *Service) awardBadge(tx *gorm.DB, businessID, userID, badgeKey string) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Badge{
			ID:         s.node.Generate().String(),
			BusinessID: businessID,
			UserID:     userID,
			BadgeKey:   badgeKey,
			AwardedAt:  s.clock.Now(),
		}).Error
}

// Profile is the caller-facing view of a user's standing.
type Profile struct {
	UserID     string  `json:"user_id"`
	BusinessID string  `json:"business_id"`
	Balance    int64   `json:"balance"`
	Badges     []Badge `json:"badges"`
}

func (s *Service) Profile(ctx context.Context, businessID, userID string) (*Profile, error) {
	profile := &Profile{
		UserID:     userID,
		BusinessID: businessID,
		Badges:     make([]Badge, 0),
	}

	var balance PointBalance
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND user_id = ?", businessID, userID).
		First(&balance).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	profile.Balance = balance.Balance

	if err := s.db.WithContext(ctx).
		Where("business_id = ? AND user_id = ?", businessID, userID).
		Order("awarded_at ASC").
		Find(&profile.Badges).Error; err != nil {
		return nil, err
	}

	return profile, nil
}
