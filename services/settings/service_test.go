package settings

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"feedloop-engagement/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *clockwork.FakeClock) {
	t.Helper()

	db := testutil.NewTestDB(t, &Settings{})
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	svc := NewService(ServiceParams{
		DB:    db,
		Clock: clock,
	})

	return svc, clock
}

func TestService_EnsureDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	cfg, err := svc.EnsureDefaults(ctx, "biz-1")
	require.NoError(t, err)
	require.True(t, cfg.ReferralEnabled)
	require.Equal(t, int64(10), cfg.PointsPerFeedback)
	require.Equal(t, int64(50), cfg.PointsPerReferral)
	require.Equal(t, int64(25), cfg.WelcomeBonusPoints)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 6)
	require.Equal(t, "first-referral", rules[0].BadgeKey)
}

func TestService_EnsureDefaultsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.EnsureDefaults(ctx, "biz-1")
	require.NoError(t, err)

	// Customize, then re-provision: the existing row must survive.
	_, err = svc.Update(ctx, "biz-1", UpdateInput{
		ReferralEnabled:   true,
		PointsPerReferral: 75,
	})
	require.NoError(t, err)

	cfg, err := svc.EnsureDefaults(ctx, "biz-1")
	require.NoError(t, err)
	require.Equal(t, int64(75), cfg.PointsPerReferral)
}

func TestService_EnsureDefaultsRequiresBusinessID(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.EnsureDefaults(context.Background(), "  ")
	require.ErrorIs(t, err, ErrInvalidSettings)
}

func TestService_GetNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrSettingsNotFound)
}

func TestService_Update(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.EnsureDefaults(ctx, "biz-1")
	require.NoError(t, err)

	cfg, err := svc.Update(ctx, "biz-1", UpdateInput{
		ReferralEnabled:    false,
		PointsPerFeedback:  5,
		PointsPerReferral:  100,
		WelcomeBonusPoints: 0,
		BadgeRules: []BadgeRule{
			{Metric: MetricReferrals, Threshold: 3, BadgeKey: "Team Player", Name: "Team Player"},
		},
	})
	require.NoError(t, err)
	require.False(t, cfg.ReferralEnabled)
	require.Equal(t, int64(100), cfg.PointsPerReferral)

	rules, err := cfg.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "team-player", rules[0].BadgeKey)
}

func TestService_UpdateNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Update(context.Background(), "missing", UpdateInput{})
	require.ErrorIs(t, err, ErrSettingsNotFound)
}

func TestService_UpdateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.EnsureDefaults(ctx, "biz-1")
	require.NoError(t, err)

	cases := []struct {
		name string
		in   UpdateInput
	}{
		{
			name: "negative points per feedback",
			in:   UpdateInput{PointsPerFeedback: -1},
		},
		{
			name: "negative welcome bonus",
			in:   UpdateInput{WelcomeBonusPoints: -10},
		},
		{
			name: "unknown metric",
			in: UpdateInput{BadgeRules: []BadgeRule{
				{Metric: "streak", Threshold: 1, BadgeKey: "x"},
			}},
		},
		{
			name: "zero threshold",
			in: UpdateInput{BadgeRules: []BadgeRule{
				{Metric: MetricPoints, Threshold: 0, BadgeKey: "x"},
			}},
		},
		{
			name: "missing badge key",
			in: UpdateInput{BadgeRules: []BadgeRule{
				{Metric: MetricPoints, Threshold: 10, BadgeKey: "   "},
			}},
		},
		{
			name: "descending thresholds",
			in: UpdateInput{BadgeRules: []BadgeRule{
				{Metric: MetricPoints, Threshold: 100, BadgeKey: "a"},
				{Metric: MetricPoints, Threshold: 50, BadgeKey: "b"},
			}},
		},
		{
			name: "duplicate badge key after normalization",
			in: UpdateInput{BadgeRules: []BadgeRule{
				{Metric: MetricPoints, Threshold: 10, BadgeKey: "Top Fan"},
				{Metric: MetricReferrals, Threshold: 1, BadgeKey: "top-fan"},
			}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Update(ctx, "biz-1", tc.in)
			require.ErrorIs(t, err, ErrInvalidSettings)
		})
	}
}

func TestService_UpdateAllowsIndependentMetricLadders(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.EnsureDefaults(ctx, "biz-1")
	require.NoError(t, err)

	// Interleaved metrics are fine as long as each metric's own thresholds
	// ascend.
	_, err = svc.Update(ctx, "biz-1", UpdateInput{
		ReferralEnabled: true,
		BadgeRules: []BadgeRule{
			{Metric: MetricReferrals, Threshold: 1, BadgeKey: "starter"},
			{Metric: MetricPoints, Threshold: 100, BadgeKey: "bronze"},
			{Metric: MetricReferrals, Threshold: 5, BadgeKey: "closer"},
			{Metric: MetricPoints, Threshold: 500, BadgeKey: "silver"},
		},
	})
	require.NoError(t, err)
}
