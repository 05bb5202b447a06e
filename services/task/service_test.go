package task

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"feedloop-engagement/pkg/config"
	"feedloop-engagement/pkg/sequence"
	"feedloop-engagement/services/gamification"
	"feedloop-engagement/services/referral"
	"feedloop-engagement/services/settings"
	"feedloop-engagement/services/testutil"
)

type fixture struct {
	svc      *Service
	referral *referral.Service
	db       *gorm.DB
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&settings.Settings{},
		&referral.Referral{},
		&referral.Click{},
		&gamification.PointBalance{},
		&gamification.PointEvent{},
		&gamification.Badge{},
		&Task{},
		&Job{},
	)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Referral.ValidityDays = 30
	cfg.Referral.CodeLength = 8
	cfg.Referral.MaxCodeAttempts = 10

	settingsSvc := settings.NewService(settings.ServiceParams{DB: db, Clock: clock})
	pointsSvc := gamification.NewService(gamification.ServiceParams{
		DB:       db,
		Node:     node,
		Clock:    clock,
		Settings: settingsSvc,
	})
	referralSvc := referral.NewService(referral.ServiceParams{
		DB:           db,
		Node:         node,
		Clock:        clock,
		Seq:          sequence.NewCodeGenerator(sequence.Params{Config: cfg}),
		Config:       cfg,
		Settings:     settingsSvc,
		Gamification: pointsSvc,
	})

	svc := NewService(Params{
		DB:       db,
		Node:     node,
		Referral: referralSvc,
	})

	_, err = settingsSvc.EnsureDefaults(context.Background(), "biz-1")
	require.NoError(t, err)

	return &fixture{
		svc:      svc,
		referral: referralSvc,
		db:       db,
		clock:    clock,
	}
}

func (f *fixture) newStaleReferral(t *testing.T, email string) *referral.Referral {
	t.Helper()

	ref, err := f.referral.Create(context.Background(), referral.CreateInput{
		BusinessID:      "biz-1",
		ReferringUserID: "referrer-1",
		ReferringEmail:  "alice@example.com",
		ReferredEmail:   email,
	})
	require.NoError(t, err)
	return ref
}

func TestService_RunExpiryJobUpdatesEnqueuedRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref := f.newStaleReferral(t, "bob@example.com")
	f.clock.Advance(31 * 24 * time.Hour)

	// Simulate the enqueue-side row the worker must report back on.
	require.NoError(t, f.db.Create(&Job{
		ID:         "job-1",
		TaskID:     "expire_referrals",
		BusinessID: "biz-1",
		Status:     "pending",
	}).Error)

	require.NoError(t, f.svc.RunExpiryJob(ctx, "job-1", "biz-1"))

	stored, err := f.referral.GetByCode(ctx, ref.Code)
	require.NoError(t, err)
	require.Equal(t, referral.StatusExpired, stored.Status)

	// The pending row itself was moved to success; no second row appeared.
	var jobs []Job
	require.NoError(t, f.db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	require.Equal(t, "job-1", jobs[0].ID)
	require.Equal(t, "success", jobs[0].Status)
	require.NotNil(t, jobs[0].StartedAt)
	require.NotNil(t, jobs[0].CompletedAt)
	require.Contains(t, string(jobs[0].Metadata), `"expired":1`)
}

func TestService_RunExpiryJobWithoutEnqueuedRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RunExpiryJob(ctx, "", "biz-1"))

	var jobs []Job
	require.NoError(t, f.db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	require.Equal(t, "success", jobs[0].Status)
	require.Equal(t, "biz-1", jobs[0].BusinessID)
}

func TestService_RunExpiryJobRedelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RunExpiryJob(ctx, "job-1", "biz-1"))
	require.NoError(t, f.svc.RunExpiryJob(ctx, "job-1", "biz-1"))

	var jobs []Job
	require.NoError(t, f.db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	require.Equal(t, "success", jobs[0].Status)
}
