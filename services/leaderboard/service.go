package leaderboard

import (
	"context"
	"errors"
	"fmt"

	"feedloop-engagement/services/referral"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Metric string

const (
	MetricPoints        Metric = "points"
	MetricReferralCount Metric = "referral_count"
)

var (
	ErrInvalidMetric = errors.New("leaderboard: invalid metric")
	ErrInvalidLimit  = errors.New("leaderboard: limit must be positive")
)

const maxLimit = 100

// Entry is one leaderboard row. Rank is dense over the returned page and
// deterministic: ties on Value are broken by who got there first, then by
// user id.
type Entry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Value  int64  `json:"value"`
}

type Service struct {
	db *gorm.DB
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB}
}

// Rank returns up to limit entries for the business ordered by the metric.
func (s *Service) Rank(ctx context.Context, businessID string, metric Metric, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var (
		entries []Entry
		err     error
	)
	switch metric {
	case MetricPoints:
		entries, err = s.rankByPoints(ctx, businessID, limit)
	case MetricReferralCount:
		entries, err = s.rankByReferrals(ctx, businessID, limit)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMetric, metric)
	}
	if err != nil {
		return nil, err
	}

	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func (s *Service) rankByPoints(ctx context.Context, businessID string, limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Table("point_balances").
		Select("user_id, balance AS value").
		Where("business_id = ?", businessID).
		Order("balance DESC, achieved_at ASC, user_id ASC").
		Limit(limit).
		Scan(&entries).Error
	return entries, err
}

func (s *Service) rankByReferrals(ctx context.Context, businessID string, limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Table("referrals").
		Select("referring_user_id AS user_id, COUNT(*) AS value").
		Where("business_id = ? AND status = ?", businessID, referral.StatusCompleted).
		Group("referring_user_id").
		Order("value DESC, MAX(completed_at) ASC, referring_user_id ASC").
		Limit(limit).
		Scan(&entries).Error
	return entries, err
}
