package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestNextRunTime(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 30, 0, 0, time.UTC)

	next := nextRunTime(now, 1, 0)
	require.Equal(t, time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC), next)

	// Past today's slot: schedule for tomorrow.
	afterSlot := time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)
	next = nextRunTime(afterSlot, 1, 0)
	require.Equal(t, time.Date(2024, 6, 2, 1, 0, 0, 0, time.UTC), next)
}
