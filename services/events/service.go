package events

import (
	"context"

	"feedloop-engagement/services/gamification"
	"feedloop-engagement/services/referral"
	"feedloop-engagement/services/settings"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service translates product events into engagement outcomes. Point awards
// are the contract of each event; referral completion rides along
// best-effort and never fails the event.
type Service struct {
	settings     *settings.Service
	referral     *referral.Service
	gamification *gamification.Service
}

type ServiceParams struct {
	fx.In
	Settings     *settings.Service
	Referral     *referral.Service
	Gamification *gamification.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		settings:     p.Settings,
		referral:     p.Referral,
		gamification: p.Gamification,
	}
}

type FeedbackSubmittedInput struct {
	BusinessID   string
	UserID       string
	FeedbackID   string
	ReferralCode string
}

// FeedbackSubmitted awards the per-feedback points and, when the submitter
// carries a referral code, tries to complete that referral.
func (s *Service) FeedbackSubmitted(ctx context.Context, in FeedbackSubmittedInput) error {
	cfg, err := s.settings.Get(ctx, in.BusinessID)
	if err != nil {
		return err
	}

	if err := s.gamification.Award(ctx, in.BusinessID, in.UserID,
		cfg.PointsPerFeedback, gamification.ReasonFeedbackSubmitted, in.FeedbackID); err != nil {
		return err
	}

	s.tryComplete(ctx, in.ReferralCode, in.UserID)
	return nil
}

type UserRegisteredInput struct {
	BusinessID   string
	UserID       string
	Email        string
	ReferralCode string
}

// UserRegistered grants the welcome bonus and tries to complete the referral
// the new user signed up through. Without a code, the user's email is matched
// against pending referrals instead.
func (s *Service) UserRegistered(ctx context.Context, in UserRegisteredInput) error {
	cfg, err := s.settings.Get(ctx, in.BusinessID)
	if err != nil {
		return err
	}

	if err := s.gamification.Award(ctx, in.BusinessID, in.UserID,
		cfg.WelcomeBonusPoints, gamification.ReasonWelcomeBonus, in.UserID); err != nil {
		return err
	}

	if in.ReferralCode != "" {
		s.tryComplete(ctx, in.ReferralCode, in.UserID)
	} else {
		s.tryCompleteForEmail(ctx, in.BusinessID, in.Email, in.UserID)
	}
	return nil
}

// tryComplete is best-effort: a dead, expired, or foreign code is an
// expected outcome here, not a failure of the triggering event.
func (s *Service) tryComplete(ctx context.Context, code, userID string) {
	if code == "" {
		return
	}

	if _, err := s.referral.Complete(ctx, code, userID); err != nil {
		zap.L().Info("referral completion skipped",
			zap.String("code", code),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func (s *Service) tryCompleteForEmail(ctx context.Context, businessID, email, userID string) {
	if email == "" {
		return
	}

	if _, err := s.referral.CompleteForEmail(ctx, businessID, email, userID); err != nil {
		zap.L().Info("referral completion skipped",
			zap.String("email", email),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}
