package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskpool/taskpool/internal/domain"
)

// seedExecution inserts a resolved execution directly, bypassing the pipeline,
// so suspicion aggregates can be shaped precisely.
func (e *env) seedExecution(t *testing.T, userID, taskID int64, status domain.ExecutionStatus, createdAt time.Time, took time.Duration) {
	t.Helper()
	exec := &domain.TaskExecution{
		TaskID:       taskID,
		UserID:       userID,
		Status:       status,
		RewardAmount: d(10),
		StartedAt:    createdAt,
		CreatedAt:    createdAt,
	}
	if status.IsTerminal() {
		done := createdAt.Add(took)
		exec.CompletedAt = &done
	}
	_, err := e.store.CreateExecution(context.Background(), exec)
	require.NoError(t, err)
}

func TestAnomalyCleanUser(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, 0)
	base := e.clock.Now().Add(-3 * 24 * time.Hour)

	// a handful of ordinary submissions, mixed outcomes, human pace
	for i := 0; i < 5; i++ {
		status := domain.ExecutionStatusCompleted
		if i%2 == 0 {
			status = domain.ExecutionStatusRejected
		}
		e.seedExecution(t, user.ID, int64(1000+i), status, base.Add(time.Duration(i)*7*time.Hour), 4*time.Minute)
	}

	report, err := e.anomaly.ReportFor(context.Background(), user.ID)
	require.NoError(t, err)

	assert.Equal(t, 5, report.SampleSize)
	assert.Empty(t, report.Flags)
	assert.Equal(t, domain.RecommendMonitor, report.Recommendation)
	assert.Zero(t, report.Confidence)
}

func TestAnomalySpeedFlag(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, 0)
	base := e.clock.Now().Add(-24 * time.Hour)

	// 400 executions in a 7-day window is ~57 per day, past the ceiling;
	// spread across hours so the pattern flag stays quiet
	for i := 0; i < 400; i++ {
		e.seedExecution(t, user.ID, int64(1000+i), domain.ExecutionStatusInReview,
			base.Add(time.Duration(i)*3*time.Minute), 0)
	}

	report, err := e.anomaly.ReportFor(context.Background(), user.ID)
	require.NoError(t, err)

	assert.Contains(t, report.Flags, "speed")
	assert.NotContains(t, report.Flags, "pattern")
	assert.Greater(t, report.TasksPerDay, 50.0)
}

func TestAnomalyTimingFlag(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, 0)
	base := e.clock.Now().Add(-2 * 24 * time.Hour)

	for i := 0; i < 5; i++ {
		e.seedExecution(t, user.ID, int64(1000+i), domain.ExecutionStatusCompleted,
			base.Add(time.Duration(i)*9*time.Hour), 2*time.Second)
	}

	report, err := e.anomaly.ReportFor(context.Background(), user.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"timing"}, report.Flags)
	assert.Equal(t, domain.RecommendWarn, report.Recommendation)
	assert.Less(t, report.AvgExecution, 5*time.Second)
}

func TestAnomalyPerfectSuccessRateFlag(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, 0)
	base := e.clock.Now().Add(-6 * 24 * time.Hour)

	// 21 resolved, all accepted, at realistic pace spread across hours
	for i := 0; i < 21; i++ {
		e.seedExecution(t, user.ID, int64(1000+i), domain.ExecutionStatusCompleted,
			base.Add(time.Duration(i)*5*time.Hour), 10*time.Minute)
	}

	report, err := e.anomaly.ReportFor(context.Background(), user.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"success_rate"}, report.Flags)
	assert.Equal(t, 1.0, report.SuccessRate)

	// one rejection clears the flag
	e.seedExecution(t, user.ID, 2000, domain.ExecutionStatusRejected, base.Add(30*time.Minute), 10*time.Minute)
	report, err = e.anomaly.ReportFor(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, report.Flags)
}

func TestAnomalyPatternFlag(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, 0)
	day := time.Date(2025, 5, 29, 0, 0, 0, 0, time.UTC)

	// 9 of 10 submissions inside the same hour of day
	for i := 0; i < 9; i++ {
		e.seedExecution(t, user.ID, int64(1000+i), domain.ExecutionStatusInReview,
			day.Add(time.Duration(i%3)*24*time.Hour).Add(3*time.Hour).Add(time.Duration(i)*5*time.Minute), 0)
	}
	e.seedExecution(t, user.ID, 2000, domain.ExecutionStatusInReview, day.Add(14*time.Hour), 0)

	report, err := e.anomaly.ReportFor(context.Background(), user.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"pattern"}, report.Flags)
}

func TestAnomalyRecommendationEscalates(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, 0)
	base := e.clock.Now().Add(-24 * time.Hour)

	// fast, perfect, bot-timed, high volume: every flag at once
	for i := 0; i < 400; i++ {
		e.seedExecution(t, user.ID, int64(1000+i), domain.ExecutionStatusCompleted,
			base.Add(3*time.Hour).Add(time.Duration(i)*3*time.Second), time.Second)
	}

	report, err := e.anomaly.ReportFor(context.Background(), user.ID)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"speed", "timing", "success_rate", "pattern"}, report.Flags)
	assert.Equal(t, domain.RecommendBan, report.Recommendation)
	assert.Equal(t, 1.0, report.Confidence)
	assert.NotEmpty(t, report.Details)
}

func TestAnomalyConfidenceScalesWithSample(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, 0)
	base := e.clock.Now().Add(-2 * 24 * time.Hour)

	// a single flag over a small sample: low confidence
	for i := 0; i < 5; i++ {
		e.seedExecution(t, user.ID, int64(1000+i), domain.ExecutionStatusCompleted,
			base.Add(time.Duration(i)*9*time.Hour), time.Second)
	}

	report, err := e.anomaly.ReportFor(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"timing"}, report.Flags)
	assert.InDelta(t, 0.0625, report.Confidence, 1e-9) // 0.25 * 1 * 5/20
}

func TestAnomalyIgnoresActivityOutsideWindow(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, 0)
	ancient := e.clock.Now().Add(-30 * 24 * time.Hour)

	for i := 0; i < 40; i++ {
		e.seedExecution(t, user.ID, int64(1000+i), domain.ExecutionStatusCompleted,
			ancient.Add(time.Duration(i)*time.Minute), time.Second)
	}

	report, err := e.anomaly.ReportFor(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Zero(t, report.SampleSize)
	assert.Empty(t, report.Flags)
	assert.Equal(t, domain.RecommendMonitor, report.Recommendation)
}

func TestAnomalyScanRecentOrdersByFlagCount(t *testing.T) {
	e := newEnv(t)
	clean := e.newUser(t, 0)
	warned := e.newUser(t, 0)
	banned := e.newUser(t, 0)
	base := e.clock.Now().Add(-24 * time.Hour)

	e.seedExecution(t, clean.ID, 1000, domain.ExecutionStatusCompleted, base, 10*time.Minute)
	for i := 0; i < 5; i++ {
		e.seedExecution(t, warned.ID, int64(2000+i), domain.ExecutionStatusCompleted,
			base.Add(time.Duration(i)*5*time.Hour), time.Second)
	}
	for i := 0; i < 60; i++ {
		e.seedExecution(t, banned.ID, int64(3000+i), domain.ExecutionStatusCompleted,
			base.Add(3*time.Hour).Add(time.Duration(i)*20*time.Second), time.Second)
	}

	reports, err := e.anomaly.ScanRecent(context.Background())
	require.NoError(t, err)

	require.Len(t, reports, 2)
	assert.Equal(t, banned.ID, reports[0].UserID)
	assert.Equal(t, warned.ID, reports[1].UserID)
}
