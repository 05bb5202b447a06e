package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrSettingsNotFound indicates a provisioning gap: every valid business
	// must carry a settings row. Callers treat this as a hard error, never a
	// silent default.
	ErrSettingsNotFound = errors.New("gamification settings not found")

	ErrInvalidSettings = errors.New("invalid gamification settings")
)

const (
	defaultPointsPerFeedback  = 10
	defaultPointsPerReferral  = 50
	defaultWelcomeBonusPoints = 25
)

type Service struct {
	db    *gorm.DB
	clock clockwork.Clock
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Clock clockwork.Clock
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		clock: p.Clock,
	}
}

func (s *Service) Get(ctx context.Context, businessID string) (*Settings, error) {
	var cfg Settings
	err := s.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

// UpdateInput carries the full replacement configuration for a business.
type UpdateInput struct {
	ReferralEnabled    bool        `json:"referral_enabled"`
	PointsPerFeedback  int64       `json:"points_per_feedback"`
	PointsPerReferral  int64       `json:"points_per_referral"`
	WelcomeBonusPoints int64       `json:"welcome_bonus_points"`
	BadgeRules         []BadgeRule `json:"badge_rules"`
}

func (s *Service) Update(ctx context.Context, businessID string, in UpdateInput) (*Settings, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	rules := normalizeRules(in.BadgeRules)
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return nil, fmt.Errorf("failed to encode badge rules: %w", err)
	}

	res := s.db.WithContext(ctx).
		Model(&Settings{}).
		Where("business_id = ?", businessID).
		Updates(map[string]any{
			"referral_enabled":     in.ReferralEnabled,
			"points_per_feedback":  in.PointsPerFeedback,
			"points_per_referral":  in.PointsPerReferral,
			"welcome_bonus_points": in.WelcomeBonusPoints,
			"badge_rules":          datatypes.JSON(rulesJSON),
			"updated_at":           s.clock.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrSettingsNotFound
	}

	return s.Get(ctx, businessID)
}

// EnsureDefaults provisions the default settings row for a new business.
// Safe to call repeatedly; an existing row is left untouched.
func (s *Service) EnsureDefaults(ctx context.Context, businessID string) (*Settings, error) {
	if strings.TrimSpace(businessID) == "" {
		return nil, fmt.Errorf("%w: business_id is required", ErrInvalidSettings)
	}

	rulesJSON, err := json.Marshal(DefaultBadgeRules())
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	cfg := &Settings{
		BusinessID:         businessID,
		CreatedAt:          now,
		UpdatedAt:          now,
		ReferralEnabled:    true,
		PointsPerFeedback:  defaultPointsPerFeedback,
		PointsPerReferral:  defaultPointsPerReferral,
		WelcomeBonusPoints: defaultWelcomeBonusPoints,
		BadgeRules:         datatypes.JSON(rulesJSON),
	}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(cfg).Error; err != nil {
		zap.L().Error("failed to provision default settings", zap.String("business_id", businessID), zap.Error(err))
		return nil, err
	}

	return s.Get(ctx, businessID)
}

func validate(in UpdateInput) error {
	if in.PointsPerFeedback < 0 {
		return fmt.Errorf("%w: points_per_feedback must be non-negative", ErrInvalidSettings)
	}
	if in.PointsPerReferral < 0 {
		return fmt.Errorf("%w: points_per_referral must be non-negative", ErrInvalidSettings)
	}
	if in.WelcomeBonusPoints < 0 {
		return fmt.Errorf("%w: welcome_bonus_points must be non-negative", ErrInvalidSettings)
	}

	seen := make(map[string]bool, len(in.BadgeRules))
	last := make(map[BadgeMetric]int64)
	for _, rule := range in.BadgeRules {
		if rule.Metric.String() == "" {
			return fmt.Errorf("%w: unknown badge metric %q", ErrInvalidSettings, string(rule.Metric))
		}
		if rule.Threshold <= 0 {
			return fmt.Errorf("%w: badge threshold must be positive", ErrInvalidSettings)
		}
		if strings.TrimSpace(rule.BadgeKey) == "" {
			return fmt.Errorf("%w: badge_key is required", ErrInvalidSettings)
		}
		if prev, ok := last[rule.Metric]; ok && rule.Threshold <= prev {
			return fmt.Errorf("%w: badge thresholds must be ascending per metric", ErrInvalidSettings)
		}
		last[rule.Metric] = rule.Threshold

		key := slug.Make(rule.BadgeKey)
		if seen[key] {
			return fmt.Errorf("%w: duplicate badge_key %q", ErrInvalidSettings, key)
		}
		seen[key] = true
	}

	return nil
}

func normalizeRules(rules []BadgeRule) []BadgeRule {
	out := make([]BadgeRule, 0, len(rules))
	for _, rule := range rules {
		rule.BadgeKey = slug.Make(rule.BadgeKey)
		out = append(out, rule)
	}
	return out
}
