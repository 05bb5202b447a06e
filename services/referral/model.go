package referral

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

var (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string {
	switch s {
	case StatusPending, StatusCompleted, StatusExpired, StatusCancelled:
		return string(s)
	default:
		return ""
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusCancelled
}

// Referral tracks one introduction from a referring user to a prospective
// user. Rows are never deleted; terminal rows stay for audit and leaderboard
// history. A referral leaves pending exactly once, and completed_at /
// completed_by_user_id are set together in that same transition.
type Referral struct {
	ID                string     `gorm:"column:id;primaryKey;type:varchar(64)"`
	BusinessID        string     `gorm:"column:business_id;index;type:varchar(64);not null"`
	ReferringUserID   string     `gorm:"column:referring_user_id;index;type:varchar(64);not null"`
	ReferredEmail     string     `gorm:"column:referred_email;type:varchar(255);not null"`
	Code              string     `gorm:"column:code;uniqueIndex;type:varchar(32);not null"`
	Status            Status     `gorm:"column:status;type:varchar(20);not null;default:'pending'"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
	ExpiresAt         time.Time  `gorm:"column:expires_at;index;not null"`
	CompletedAt       *time.Time `gorm:"column:completed_at"`
	CompletedByUserID *string    `gorm:"column:completed_by_user_id;type:varchar(64)"`
}

func (Referral) TableName() string {
	return "referrals"
}

// Click is an append-only visit record for a referral's shareable link.
// Clicks never affect referral status; dead links still count for analytics.
type Click struct {
	ID         string         `gorm:"column:id;primaryKey;type:varchar(64)"`
	ReferralID string         `gorm:"column:referral_id;index;type:varchar(64);not null"`
	OccurredAt time.Time      `gorm:"column:occurred_at;not null"`
	Metadata   datatypes.JSON `gorm:"column:metadata"`
}

func (Click) TableName() string {
	return "referral_clicks"
}
