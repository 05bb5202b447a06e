package settings

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type BadgeMetric string

var (
	MetricPoints    BadgeMetric = "points"
	MetricReferrals BadgeMetric = "referrals"
)

func (m BadgeMetric) String() string {
	switch m {
	case MetricPoints, MetricReferrals:
		return string(m)
	default:
		return ""
	}
}

// BadgeRule unlocks badge_key once the metric crosses the threshold.
// Rules are stored ascending per metric; evaluation relies on that order.
type BadgeRule struct {
	Metric    BadgeMetric `json:"metric"`
	Threshold int64       `json:"threshold"`
	BadgeKey  string      `json:"badge_key"`
	Name      string      `json:"name"`
}

// Settings is the per-business gamification configuration. One row per
// business, created at provisioning and read by every other service.
type Settings struct {
	BusinessID         string         `gorm:"column:business_id;primaryKey;type:varchar(64)" json:"business_id"`
	CreatedAt          time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"column:updated_at" json:"updated_at"`
	ReferralEnabled    bool           `gorm:"column:referral_enabled;default:true" json:"referral_enabled"`
	PointsPerFeedback  int64          `gorm:"column:points_per_feedback;not null" json:"points_per_feedback"`
	PointsPerReferral  int64          `gorm:"column:points_per_referral;not null" json:"points_per_referral"`
	WelcomeBonusPoints int64          `gorm:"column:welcome_bonus_points;not null" json:"welcome_bonus_points"`
	BadgeRules         datatypes.JSON `gorm:"column:badge_rules" json:"badge_rules"`
}

func (Settings) TableName() string {
	return "gamification_settings"
}

// Rules decodes the badge ladder. A missing column decodes to no rules.
func (s *Settings) Rules() ([]BadgeRule, error) {
	if len(s.BadgeRules) == 0 {
		return nil, nil
	}

	var rules []BadgeRule
	if err := json.Unmarshal(s.BadgeRules, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// DefaultBadgeRules is the starter ladder applied when a business is
// provisioned.
func DefaultBadgeRules() []BadgeRule {
	return []BadgeRule{
		{Metric: MetricReferrals, Threshold: 1, BadgeKey: "first-referral", Name: "First Referral"},
		{Metric: MetricReferrals, Threshold: 5, BadgeKey: "super-referrer", Name: "Super Referrer"},
		{Metric: MetricReferrals, Threshold: 25, BadgeKey: "referral-legend", Name: "Referral Legend"},
		{Metric: MetricPoints, Threshold: 100, BadgeKey: "bronze-advocate", Name: "Bronze Advocate"},
		{Metric: MetricPoints, Threshold: 500, BadgeKey: "silver-advocate", Name: "Silver Advocate"},
		{Metric: MetricPoints, Threshold: 1000, BadgeKey: "gold-advocate", Name: "Gold Advocate"},
	}
}
