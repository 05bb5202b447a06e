package referral

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Repository describes database operations available for referrals and their
// click trail. Status transitions are expressed as conditional updates so the
// read-check-write sequence is a single statement against the store.
type Repository interface {
	Create(ctx context.Context, ref *Referral) error
	GetByCode(ctx context.Context, code string) (*Referral, error)
	ListByReferrer(ctx context.Context, businessID, userID string) ([]Referral, error)
	HasPendingTo(ctx context.Context, businessID, referringUserID, referredEmail string) (bool, error)

	// FindPendingByEmail returns the oldest pending referral addressed to
	// the email, or nil when none exists.
	FindPendingByEmail(ctx context.Context, businessID, referredEmail string) (*Referral, error)

	CodeInUse(ctx context.Context, code string) (bool, error)

	AppendClick(ctx context.Context, click *Click) error
	ClickCount(ctx context.Context, referralID string) (int64, error)

	// CompletePending transitions pending → completed if and only if the row
	// is still pending, reporting whether this caller won the transition.
	CompletePending(ctx context.Context, tx *gorm.DB, referralID, completedBy string, now time.Time) (bool, error)

	// MarkExpired transitions pending → expired for one referral.
	MarkExpired(ctx context.Context, tx *gorm.DB, referralID string, now time.Time) (bool, error)

	// ExpireStale transitions every pending referral of the business whose
	// expires_at has passed, returning how many rows moved.
	ExpireStale(ctx context.Context, businessID string, now time.Time) (int64, error)

	CountCompletedByReferrer(ctx context.Context, tx *gorm.DB, businessID, userID string) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository returns a gorm backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Create(ctx context.Context, ref *Referral) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(ref).Error
}

func (r *gormRepository) GetByCode(ctx context.Context, code string) (*Referral, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var ref Referral
	err := r.db.WithContext(ctx).
		Where("code = ?", code).
		First(&ref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ref, nil
}

func (r *gormRepository) ListByReferrer(ctx context.Context, businessID, userID string) ([]Referral, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var refs []Referral
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND referring_user_id = ?", businessID, userID).
		Order("created_at DESC").Order("id ASC").
		Find(&refs).Error
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func (r *gormRepository) HasPendingTo(ctx context.Context, businessID, referringUserID, referredEmail string) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&Referral{}).
		Where("business_id = ? AND referring_user_id = ? AND referred_email = ? AND status = ?",
			businessID, referringUserID, referredEmail, StatusPending).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gormRepository) FindPendingByEmail(ctx context.Context, businessID, referredEmail string) (*Referral, error) {
	if r == nil || r.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var ref Referral
	err := r.db.WithContext(ctx).
		Where("business_id = ? AND referred_email = ? AND status = ?",
			businessID, referredEmail, StatusPending).
		Order("created_at ASC, id ASC").
		First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *gormRepository) CodeInUse(ctx context.Context, code string) (bool, error) {
	if r == nil || r.db == nil {
		return false, gorm.ErrInvalidDB
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&Referral{}).
		Where("code = ?", code).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gormRepository) AppendClick(ctx context.Context, click *Click) error {
	if r == nil || r.db == nil {
		return gorm.ErrInvalidDB
	}
	return r.db.WithContext(ctx).Create(click).Error
}

func (r *gormRepository) ClickCount(ctx context.Context, referralID string) (int64, error) {
	if r == nil || r.db == nil {
		return 0, gorm.ErrInvalidDB
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&Click{}).
		Where("referral_id = ?", referralID).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) CompletePending(ctx context.Context, tx *gorm.DB, referralID, completedBy string, now time.Time) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	if tx == nil {
		return false, gorm.ErrInvalidDB
	}

	res := tx.WithContext(ctx).Model(&Referral{}).
		Where("id = ? AND status = ?", referralID, StatusPending).
		Updates(map[string]any{
			"status":               StatusCompleted,
			"completed_at":         now,
			"completed_by_user_id": completedBy,
			"updated_at":           now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) MarkExpired(ctx context.Context, tx *gorm.DB, referralID string, now time.Time) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	if tx == nil {
		return false, gorm.ErrInvalidDB
	}

	res := tx.WithContext(ctx).Model(&Referral{}).
		Where("id = ? AND status = ?", referralID, StatusPending).
		Updates(map[string]any{
			"status":     StatusExpired,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormRepository) ExpireStale(ctx context.Context, businessID string, now time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, gorm.ErrInvalidDB
	}

	res := r.db.WithContext(ctx).Model(&Referral{}).
		Where("business_id = ? AND status = ? AND expires_at < ?", businessID, StatusPending, now).
		Updates(map[string]any{
			"status":     StatusExpired,
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *gormRepository) CountCompletedByReferrer(ctx context.Context, tx *gorm.DB, businessID, userID string) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	if tx == nil {
		return 0, gorm.ErrInvalidDB
	}

	var count int64
	err := tx.WithContext(ctx).Model(&Referral{}).
		Where("business_id = ? AND referring_user_id = ? AND status = ?", businessID, userID, StatusCompleted).
		Count(&count).Error
	return count, err
}
