package referral

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"feedloop-engagement/pkg/config"
	"feedloop-engagement/pkg/sequence"
	"feedloop-engagement/services/gamification"
	"feedloop-engagement/services/settings"
	"feedloop-engagement/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	svc      *Service
	settings *settings.Service
	points   *gamification.Service
	db       *gorm.DB
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&settings.Settings{},
		&Referral{},
		&Click{},
		&gamification.PointBalance{},
		&gamification.PointEvent{},
		&gamification.Badge{},
	)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Referral.ValidityDays = 30
	cfg.Referral.CodeLength = 8
	cfg.Referral.MaxCodeAttempts = 10

	settingsSvc := settings.NewService(settings.ServiceParams{
		DB:    db,
		Clock: clock,
	})

	pointsSvc := gamification.NewService(gamification.ServiceParams{
		DB:       db,
		Node:     node,
		Clock:    clock,
		Settings: settingsSvc,
	})

	svc := NewService(ServiceParams{
		DB:           db,
		Node:         node,
		Clock:        clock,
		Seq:          sequence.NewCodeGenerator(sequence.Params{Config: cfg}),
		Config:       cfg,
		Settings:     settingsSvc,
		Gamification: pointsSvc,
	})

	_, err = settingsSvc.EnsureDefaults(context.Background(), "biz-1")
	require.NoError(t, err)

	return &fixture{
		svc:      svc,
		settings: settingsSvc,
		points:   pointsSvc,
		db:       db,
		clock:    clock,
	}
}

func (f *fixture) create(t *testing.T, email string) *Referral {
	t.Helper()

	ref, err := f.svc.Create(context.Background(), CreateInput{
		BusinessID:      "biz-1",
		ReferringUserID: "referrer-1",
		ReferringEmail:  "alice@example.com",
		ReferredEmail:   email,
	})
	require.NoError(t, err)
	return ref
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()

	profile, err := f.points.Profile(context.Background(), "biz-1", userID)
	require.NoError(t, err)
	return profile.Balance
}

func TestService_Create(t *testing.T) {
	f := newFixture(t)

	ref := f.create(t, "Bob@Example.COM")

	require.Equal(t, StatusPending, ref.Status)
	require.Equal(t, "bob@example.com", ref.ReferredEmail)
	require.Len(t, ref.Code, 8)
	require.Equal(t, strings.ToUpper(ref.Code), ref.Code)
	require.Equal(t, f.clock.Now().Add(30*24*time.Hour), ref.ExpiresAt)
}

func TestService_CreateInvalidEmail(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), CreateInput{
		BusinessID:      "biz-1",
		ReferringUserID: "referrer-1",
		ReferringEmail:  "alice@example.com",
		ReferredEmail:   "not-an-email",
	})
	require.ErrorIs(t, err, ErrInvalidEmail)
}

func TestService_CreateSelfReferral(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), CreateInput{
		BusinessID:      "biz-1",
		ReferringUserID: "referrer-1",
		ReferringEmail:  "alice@example.com",
		ReferredEmail:   "ALICE@example.com",
	})
	require.ErrorIs(t, err, ErrSelfReferral)
}

func TestService_CreateWhenDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.settings.Update(ctx, "biz-1", settings.UpdateInput{
		ReferralEnabled:   false,
		PointsPerFeedback: 10,
		PointsPerReferral: 50,
	})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, CreateInput{
		BusinessID:      "biz-1",
		ReferringUserID: "referrer-1",
		ReferringEmail:  "alice@example.com",
		ReferredEmail:   "bob@example.com",
	})
	require.ErrorIs(t, err, ErrReferralsDisabled)
}

func TestService_CreateDuplicatePending(t *testing.T) {
	f := newFixture(t)

	f.create(t, "bob@example.com")

	_, err := f.svc.Create(context.Background(), CreateInput{
		BusinessID:      "biz-1",
		ReferringUserID: "referrer-1",
		ReferringEmail:  "alice@example.com",
		ReferredEmail:   "BOB@example.com",
	})
	require.ErrorIs(t, err, ErrDuplicatePendingReferral)
}

func TestService_CreateAfterCompletionAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref := f.create(t, "bob@example.com")

	_, err := f.svc.Complete(ctx, ref.Code, "bob-user")
	require.NoError(t, err)

	// Once the first referral is terminal a fresh one to the same email is
	// allowed again.
	f.create(t, "bob@example.com")
}

func TestService_GetByCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref := f.create(t, "bob@example.com")

	found, err := f.svc.GetByCode(ctx, strings.ToLower(ref.Code))
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, ref.ID, found.ID)

	missing, err := f.svc.GetByCode(ctx, "NOPE1234")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestService_RecordClick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref := f.create(t, "bob@example.com")

	require.NoError(t, f.svc.RecordClick(ctx, ref.Code, map[string]string{"source": "email"}))
	require.NoError(t, f.svc.RecordClick(ctx, ref.Code, nil))

	count, err := f.svc.ClickCount(ctx, ref.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestService_RecordClickUnknownCode(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.RecordClick(context.Background(), "GHOST123", nil))

	var count int64
	require.NoError(t, f.db.Model(&Click{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestService_RecordClickOnCompletedReferral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref := f.create(t, "bob@example.com")

	_, err := f.svc.Complete(ctx, ref.Code, "bob-user")
	require.NoError(t, err)

	require.NoError(t, f.svc.RecordClick(ctx, ref.Code, nil))

	count, err := f.svc.ClickCount(ctx, ref.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestService_Complete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref := f.create(t, "bob@example.com")

	completed, err := f.svc.Complete(ctx, ref.Code, "bob-user")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	require.NotNil(t, completed.CompletedByUserID)
	require.Equal(t, "bob-user", *completed.CompletedByUserID)

	// Default settings award 50 points per completed referral.
	require.Equal(t, int64(50), f.balance(t, "referrer-1"))

	profile, err := f.points.Profile(ctx, "biz-1", "referrer-1")
	require.NoError(t, err)
	require.Len(t, profile.Badges, 1)
	require.Equal(t, "first-referral", profile.Badges[0].BadgeKey)
}

func TestService_CompleteUnknownCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Complete(context.Background(), "GHOST123", "bob-user")
	require.ErrorIs(t, err, ErrReferralNotFound)
}

func TestService_CompleteTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref := f.create(t, "bob@example.com")

	_, err := f.svc.Complete(ctx, ref.Code, "bob-user")
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, ref.Code, "carol-user")
	require.ErrorIs(t, err, ErrReferralNotPending)

	// The award fired exactly once.
	require.Equal(t, int64(50), f.balance(t, "referrer-1"))
}

func TestService_CompleteSelf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref := f.create(t, "bob@example.com")

	_, err := f.svc.Complete(ctx, ref.Code, "referrer-1")
	require.ErrorIs(t, err, ErrSelfReferral)

	require.Zero(t, f.balance(t, "referrer-1"))
}

func TestService_CompleteExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref := f.create(t, "bob@example.com")

	f.clock.Advance(31 * 24 * time.Hour)

	_, err := f.svc.Complete(ctx, ref.Code, "bob-user")
	require.ErrorIs(t, err, ErrReferralExpired)

	// The stale row was flipped on the way out.
	stored, err := f.svc.GetByCode(ctx, ref.Code)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, stored.Status)

	require.Zero(t, f.balance(t, "referrer-1"))
}

func TestService_CompleteConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref := f.create(t, "bob@example.com")

	const attempts = 8

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Complete(ctx, ref.Code, "bob-user")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrReferralNotPending)
		}
	}
	require.Equal(t, 1, succeeded)

	require.Equal(t, int64(50), f.balance(t, "referrer-1"))
}

func TestService_ExpireStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, "bob@example.com")
	f.create(t, "carol@example.com")
	done := f.create(t, "dave@example.com")

	_, err := f.svc.Complete(ctx, done.Code, "dave-user")
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)

	count, err := f.svc.ExpireStale(ctx, "biz-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	// Completed rows are untouched and a second sweep finds nothing.
	stored, err := f.svc.GetByCode(ctx, done.Code)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)

	count, err = f.svc.ExpireStale(ctx, "biz-1")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestService_ExpireStaleLeavesFreshRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fresh := f.create(t, "bob@example.com")

	count, err := f.svc.ExpireStale(ctx, "biz-1")
	require.NoError(t, err)
	require.Zero(t, count)

	stored, err := f.svc.GetByCode(ctx, fresh.Code)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
}

func TestService_ListByReferrer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, "bob@example.com")
	f.clock.Advance(time.Minute)
	second := f.create(t, "carol@example.com")

	refs, err := f.svc.ListByReferrer(ctx, "biz-1", "referrer-1")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, second.ID, refs[0].ID)

	empty, err := f.svc.ListByReferrer(ctx, "biz-1", "nobody")
	require.NoError(t, err)
	require.Empty(t, empty)
}
