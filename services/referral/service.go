package referral

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"feedloop-engagement/pkg/config"
	"feedloop-engagement/pkg/sequence"
	"feedloop-engagement/services/gamification"
	"feedloop-engagement/services/settings"

	"github.com/bwmarrin/snowflake"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	clock  clockwork.Clock
	seq    sequence.Generator
	config *config.Config

	repo         Repository
	settings     *settings.Service
	gamification *gamification.Service
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Clock  clockwork.Clock
	Seq    sequence.Generator
	Config *config.Config

	Settings     *settings.Service
	Gamification *gamification.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		node:         p.Node,
		clock:        p.Clock,
		seq:          p.Seq,
		config:       p.Config,
		repo:         NewRepository(p.DB),
		settings:     p.Settings,
		gamification: p.Gamification,
	}
}

type CreateInput struct {
	BusinessID      string
	ReferringUserID string
	ReferringEmail  string
	ReferredEmail   string
}

// Create issues a new pending referral after the settings gate and the
// self-referral and duplicate checks pass.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Referral, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("business_id", in.BusinessID),
		zap.String("referring_user_id", in.ReferringUserID),
	)

	referredEmail := strings.ToLower(strings.TrimSpace(in.ReferredEmail))
	if _, err := mail.ParseAddress(referredEmail); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, in.ReferredEmail)
	}

	if strings.EqualFold(strings.TrimSpace(in.ReferringEmail), referredEmail) {
		return nil, ErrSelfReferral
	}

	cfg, err := s.settings.Get(ctx, in.BusinessID)
	if err != nil {
		return nil, err
	}
	if !cfg.ReferralEnabled {
		return nil, ErrReferralsDisabled
	}

	exists, err := s.repo.HasPendingTo(ctx, in.BusinessID, in.ReferringUserID, referredEmail)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicatePendingReferral
	}

	code, err := s.nextUnusedCode(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	ref := &Referral{
		ID:              s.node.Generate().String(),
		BusinessID:      in.BusinessID,
		ReferringUserID: in.ReferringUserID,
		ReferredEmail:   referredEmail,
		Code:            code,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(time.Duration(s.config.Referral.ValidityDays) * 24 * time.Hour),
	}

	if err := s.repo.Create(ctx, ref); err != nil {
		zapLog.Error("failed to create referral", zap.Error(err))
		return nil, err
	}

	zapLog.Info("referral created", zap.String("referral_id", ref.ID))
	return ref, nil
}

// nextUnusedCode draws random codes until one is free, giving up after the
// configured attempt budget. Exhaustion is a capacity signal, not a
// recoverable state.
func (s *Service) nextUnusedCode(ctx context.Context) (string, error) {
	attempts := s.config.Referral.MaxCodeAttempts
	for i := 0; i < attempts; i++ {
		code, err := s.seq.NextReferralCode(ctx)
		if err != nil {
			return "", err
		}

		inUse, err := s.repo.CodeInUse(ctx, code)
		if err != nil {
			return "", err
		}
		if !inUse {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: gave up after %d attempts", ErrGenerationExhausted, attempts)
}

// GetByCode returns nil, nil when no referral carries the code; absence is a
// normal outcome for callers, not a fault.
func (s *Service) GetByCode(ctx context.Context, code string) (*Referral, error) {
	return s.repo.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

// RecordClick appends a visit to the referral's click trail. Unknown codes
// no-op silently, and clicks on completed or expired referrals still count.
func (s *Service) RecordClick(ctx context.Context, code string, metadata map[string]string) error {
	ref, err := s.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	if ref == nil {
		zap.L().Debug("click on unknown referral code", zap.String("code", code))
		return nil
	}

	var meta datatypes.JSON
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		meta = datatypes.JSON(raw)
	}

	return s.repo.AppendClick(ctx, &Click{
		ID:         s.node.Generate().String(),
		ReferralID: ref.ID,
		OccurredAt: s.clock.Now(),
		Metadata:   meta,
	})
}

// Complete is the at-most-once transition pending → completed. The status
// write is a conditional update, and the point award shares its transaction:
// either the referral is completed and the referrer paid, or neither.
func (s *Service) Complete(ctx context.Context, code, completingUserID string) (*Referral, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("code", code),
		zap.String("completing_user_id", completingUserID),
	)

	ref, err := s.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, ErrReferralNotFound
	}

	if ref.Status != StatusPending {
		return nil, ErrReferralNotPending
	}

	now := s.clock.Now()
	if now.After(ref.ExpiresAt) {
		// Lazy sweep: flip the row on the way out. Losing this conditional
		// update to a concurrent transition is harmless.
		if _, err := s.repo.MarkExpired(ctx, nil, ref.ID, now); err != nil {
			zapLog.Warn("failed to lazily expire referral", zap.Error(err))
		}
		return nil, ErrReferralExpired
	}

	if ref.ReferringUserID == completingUserID {
		return nil, ErrSelfReferral
	}

	cfg, err := s.settings.Get(ctx, ref.BusinessID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := s.repo.CompletePending(ctx, tx, ref.ID, completingUserID, now)
		if err != nil {
			return err
		}
		if !won {
			return ErrReferralNotPending
		}

		if err := s.gamification.AwardTx(ctx, tx, cfg, ref.BusinessID, ref.ReferringUserID,
			cfg.PointsPerReferral, gamification.ReasonReferralCompleted, ref.ID); err != nil {
			return err
		}

		completed, err := s.repo.CountCompletedByReferrer(ctx, tx, ref.BusinessID, ref.ReferringUserID)
		if err != nil {
			return err
		}

		return s.gamification.EvaluateReferralBadgesTx(ctx, tx, cfg, ref.BusinessID, ref.ReferringUserID, completed)
	}); err != nil {
		return nil, err
	}

	zapLog.Info("referral completed", zap.String("referral_id", ref.ID))

	return s.GetByCode(ctx, ref.Code)
}

// CompleteForEmail completes the oldest pending referral addressed to the
// email, for flows where the registering user carries no code.
func (s *Service) CompleteForEmail(ctx context.Context, businessID, email, completingUserID string) (*Referral, error) {
	referredEmail := strings.ToLower(strings.TrimSpace(email))
	if referredEmail == "" {
		return nil, ErrReferralNotFound
	}

	ref, err := s.repo.FindPendingByEmail(ctx, businessID, referredEmail)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, ErrReferralNotFound
	}

	return s.Complete(ctx, ref.Code, completingUserID)
}

// ExpireStale moves every overdue pending referral of the business to
// expired. Running it again immediately transitions nothing.
func (s *Service) ExpireStale(ctx context.Context, businessID string) (int64, error) {
	count, err := s.repo.ExpireStale(ctx, businessID, s.clock.Now())
	if err != nil {
		return 0, err
	}

	if count > 0 {
		zap.L().Info("expired stale referrals",
			zap.String("business_id", businessID),
			zap.Int64("count", count),
		)
	}
	return count, nil
}

func (s *Service) ListByReferrer(ctx context.Context, businessID, userID string) ([]Referral, error) {
	return s.repo.ListByReferrer(ctx, businessID, userID)
}

func (s *Service) ClickCount(ctx context.Context, referralID string) (int64, error) {
	return s.repo.ClickCount(ctx, referralID)
}
