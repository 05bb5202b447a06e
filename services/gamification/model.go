package gamification

import (
	"time"
)

// PointBalance is the per-user, per-business accumulator. Balance always
// equals the sum of the user's point events; mutations go through Award only.
// AchievedAt records when the balance last changed and drives the
// leaderboard tie-break (earlier achiever of an equal score ranks first).
type PointBalance struct {
	ID         string    `gorm:"column:id;primaryKey;type:varchar(64)"`
	BusinessID string    `gorm:"column:business_id;uniqueIndex:idx_point_balances_business_user;type:varchar(64);not null"`
	UserID     string    `gorm:"column:user_id;uniqueIndex:idx_point_balances_business_user;type:varchar(64);not null"`
	Balance    int64     `gorm:"column:balance;not null"`
	AchievedAt time.Time `gorm:"column:achieved_at;not null"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (PointBalance) TableName() string {
	return "point_balances"
}

type AwardReason string

var (
	ReasonReferralCompleted AwardReason = "referral_completed"
	ReasonFeedbackSubmitted AwardReason = "feedback_submitted"
	ReasonWelcomeBonus      AwardReason = "welcome_bonus"
)

func (r AwardReason) String() string {
	switch r {
	case ReasonReferralCompleted, ReasonFeedbackSubmitted, ReasonWelcomeBonus:
		return string(r)
	default:
		return ""
	}
}

// PointEvent is the append-only audit trail behind PointBalance.
type PointEvent struct {
	ID          string      `gorm:"column:id;primaryKey;type:varchar(64)"`
	BusinessID  string      `gorm:"column:business_id;index;type:varchar(64);not null"`
	UserID      string      `gorm:"column:user_id;index;type:varchar(64);not null"`
	Amount      int64       `gorm:"column:amount;not null"`
	Reason      AwardReason `gorm:"column:reason;type:varchar(30);not null"`
	ReferenceID string      `gorm:"column:reference_id;index;type:varchar(64)"`
	CreatedAt   time.Time   `gorm:"column:created_at"`
}

func (PointEvent) TableName() string {
	return "point_events"
}

// Badge is awarded at most once per (business, user, badge_key); the unique
// index is what makes concurrent threshold crossings collapse to one row.
type Badge struct {
	ID         string    `gorm:"column:id;primaryKey;type:varchar(64)" json:"id"`
	BusinessID string    `gorm:"column:business_id;uniqueIndex:idx_badges_business_user_key;type:varchar(64);not null" json:"business_id"`
	UserID     string    `gorm:"column:user_id;uniqueIndex:idx_badges_business_user_key;type:varchar(64);not null" json:"user_id"`
	BadgeKey   string    `gorm:"column:badge_key;uniqueIndex:idx_badges_business_user_key;type:varchar(100);not null" json:"badge_key"`
	AwardedAt  time.Time `gorm:"column:awarded_at;not null" json:"awarded_at"`
}

func (Badge) TableName() string {
	return "badges"
}
