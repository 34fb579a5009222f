package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/taskpool/taskpool/internal/config"
	"github.com/taskpool/taskpool/internal/domain"
	"github.com/taskpool/taskpool/internal/repository"
)

// AnomalyService computes advisory suspicion reports over recent executions.
// It reads, aggregates and flags; it never mutates task or execution state
// and stays off the settlement path entirely.
type AnomalyService struct {
	store  repository.Store
	clock  Clock
	window time.Duration
}

func NewAnomalyService(store repository.Store, clock Clock) *AnomalyService {
	return &AnomalyService{store: store, clock: clock, window: config.AnomalyWindow}
}

// ReportFor aggregates one user's trailing window.
func (s *AnomalyService) ReportFor(ctx context.Context, userID int64) (*domain.SuspiciousActivityReport, error) {
	end := s.clock.Now()
	start := end.Add(-s.window)

	execs, err := s.store.ListUserExecutionsSince(ctx, userID, start)
	if err != nil {
		return nil, fmt.Errorf("list user executions: %w", err)
	}
	return buildReport(userID, execs, start, end), nil
}

// ScanRecent reports every user that earned at least one flag in the trailing
// window, most-flagged first.
func (s *AnomalyService) ScanRecent(ctx context.Context) ([]domain.SuspiciousActivityReport, error) {
	end := s.clock.Now()
	start := end.Add(-s.window)

	execs, err := s.store.ListExecutionsSince(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}

	byUser := make(map[int64][]domain.TaskExecution)
	for _, e := range execs {
		byUser[e.UserID] = append(byUser[e.UserID], e)
	}

	var out []domain.SuspiciousActivityReport
	for userID, userExecs := range byUser {
		r := buildReport(userID, userExecs, start, end)
		if r.Flagged() {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Flags) != len(out[j].Flags) {
			return len(out[i].Flags) > len(out[j].Flags)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func buildReport(userID int64, execs []domain.TaskExecution, start, end time.Time) *domain.SuspiciousActivityReport {
	r := &domain.SuspiciousActivityReport{
		UserID:      userID,
		WindowStart: start,
		WindowEnd:   end,
		SampleSize:  len(execs),
	}
	if len(execs) == 0 {
		r.Recommendation = domain.RecommendMonitor
		return r
	}

	days := end.Sub(start).Hours() / 24
	if days < 1 {
		days = 1
	}
	r.TasksPerDay = float64(len(execs)) / days

	var resolved, accepted, timed int
	var totalDuration time.Duration
	hourBuckets := make(map[int]int)
	for _, e := range execs {
		hourBuckets[e.CreatedAt.Hour()]++
		if !e.Status.IsTerminal() {
			continue
		}
		resolved++
		if e.Status.Accepted() {
			accepted++
		}
		if d := e.Duration(); d > 0 {
			totalDuration += d
			timed++
		}
	}
	if timed > 0 {
		r.AvgExecution = totalDuration / time.Duration(timed)
	}
	if resolved > 0 {
		r.SuccessRate = float64(accepted) / float64(resolved)
	}

	var details []string
	if r.TasksPerDay > config.AnomalyMaxTasksPerDay {
		r.Flags = append(r.Flags, "speed")
		details = append(details, fmt.Sprintf("%.1f executions per day", r.TasksPerDay))
	}
	if timed > 0 && r.AvgExecution < config.AnomalyMinExecution {
		r.Flags = append(r.Flags, "timing")
		details = append(details, fmt.Sprintf("average completion %s is implausibly fast", r.AvgExecution))
	}
	if resolved > config.AnomalyPerfectSample && r.SuccessRate == 1.0 {
		r.Flags = append(r.Flags, "success_rate")
		details = append(details, fmt.Sprintf("perfect record over %d resolved executions", resolved))
	}
	if peak, hour := maxBucket(hourBuckets); len(execs) >= 10 && float64(peak)/float64(len(execs)) >= config.AnomalyTimingShare {
		r.Flags = append(r.Flags, "pattern")
		details = append(details, fmt.Sprintf("%d of %d submissions within hour %02d", peak, len(execs), hour))
	}

	r.Details = strings.Join(details, "; ")
	r.Recommendation = recommend(len(r.Flags))
	r.Confidence = confidence(len(r.Flags), len(execs))
	return r
}

func maxBucket(buckets map[int]int) (count, hour int) {
	for h, c := range buckets {
		if c > count || (c == count && h < hour) {
			count, hour = c, h
		}
	}
	return count, hour
}

func recommend(flags int) domain.Recommendation {
	switch {
	case flags >= 3:
		return domain.RecommendBan
	case flags == 2:
		return domain.RecommendRestrict
	case flags == 1:
		return domain.RecommendWarn
	default:
		return domain.RecommendMonitor
	}
}

// confidence grows with both the number of flags and the sample backing them.
func confidence(flags, sample int) float64 {
	if flags == 0 {
		return 0
	}
	sampleFactor := float64(sample) / float64(config.AnomalyPerfectSample)
	if sampleFactor > 1 {
		sampleFactor = 1
	}
	c := 0.25 * float64(flags) * sampleFactor
	if c > 1 {
		c = 1
	}
	return c
}
