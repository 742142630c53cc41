package engine

import (
	"context"
	"math"
	"time"

	"missionctl/internal/domain"
	"missionctl/internal/repo"
)

type LateTaskCounts struct {
	Assigned   int `json:"assigned"`
	InProgress int `json:"in_progress"`
	Review     int `json:"review"`
	Total      int `json:"total"`
}

type DispatchStats struct {
	Attempts       int     `json:"attempts"`
	Failures       int     `json:"failures"`
	SuccessRatePct float64 `json:"success_rate_pct"`
}

type OpsMetrics struct {
	AvgReviewAgeHours float64        `json:"avg_review_age_hours"`
	LateTasks         LateTaskCounts `json:"late_tasks"`
	Dispatch          DispatchStats  `json:"dispatch"`
}

type MetricsReport struct {
	GeneratedAt string     `json:"generated_at"`
	WindowDays  int        `json:"window_days"`
	Metrics     OpsMetrics `json:"metrics"`
}

// MetricsReport summarises review latency, lateness and dispatch health over
// the trailing window. windowDays is clamped to at least 1.
func (e Engine) MetricsReport(ctx context.Context, now time.Time, windowDays int) (MetricsReport, error) {
	if windowDays < 1 {
		windowDays = 1
	}
	stamp := domain.FormatTime(now)
	since := domain.FormatTime(now.Add(-time.Duration(windowDays) * 24 * time.Hour))

	reviewAge, err := e.Repo.AvgReviewAgeHours(ctx, stamp)
	if err != nil {
		return MetricsReport{}, err
	}
	late, err := e.Repo.LateCountsByStatus(ctx, stamp)
	if err != nil {
		return MetricsReport{}, err
	}
	attempts, err := e.Repo.DispatchAttemptsSince(ctx, since)
	if err != nil {
		return MetricsReport{}, err
	}
	failures, err := e.Repo.DispatchFailuresSince(ctx, since)
	if err != nil {
		return MetricsReport{}, err
	}
	rate := 100.0
	if attempts > 0 {
		rate = float64(attempts-failures) / float64(attempts) * 100
	}
	counts := LateTaskCounts{
		Assigned:   late[domain.TaskAssigned],
		InProgress: late[domain.TaskInProgress],
		Review:     late[domain.TaskReview],
	}
	counts.Total = counts.Assigned + counts.InProgress + counts.Review
	return MetricsReport{
		GeneratedAt: stamp,
		WindowDays:  windowDays,
		Metrics: OpsMetrics{
			AvgReviewAgeHours: round2(reviewAge),
			LateTasks:         counts,
			Dispatch: DispatchStats{
				Attempts:       attempts,
				Failures:       failures,
				SuccessRatePct: round2(rate),
			},
		},
	}, nil
}

type StandupTotals struct {
	Open       int `json:"open"`
	DoneWindow int `json:"done_window"`
}

type StandupSections struct {
	Completed   []repo.ReportItem `json:"completed"`
	InProgress  []repo.ReportItem `json:"in_progress"`
	Blocked     []repo.ReportItem `json:"blocked"`
	NeedsReview []repo.ReportItem `json:"needs_review"`
}

type StandupReport struct {
	GeneratedAt string          `json:"generated_at"`
	WindowHours int             `json:"window_hours"`
	Totals      StandupTotals   `json:"totals"`
	Sections    StandupSections `json:"sections"`
}

// StandupReport lists what finished in the window and what is open now.
func (e Engine) StandupReport(ctx context.Context, now time.Time, windowHours int) (StandupReport, error) {
	if windowHours < 1 {
		windowHours = 1
	}
	stamp := domain.FormatTime(now)
	since := domain.FormatTime(now.Add(-time.Duration(windowHours) * time.Hour))

	var (
		rep StandupReport
		err error
	)
	rep.GeneratedAt = stamp
	rep.WindowHours = windowHours
	if rep.Sections.Completed, err = e.Repo.CompletedSince(ctx, since); err != nil {
		return StandupReport{}, err
	}
	if rep.Sections.InProgress, err = e.Repo.InProgressItems(ctx); err != nil {
		return StandupReport{}, err
	}
	if rep.Sections.Blocked, err = e.Repo.BlockedItems(ctx, stamp); err != nil {
		return StandupReport{}, err
	}
	if rep.Sections.NeedsReview, err = e.Repo.ReviewItems(ctx); err != nil {
		return StandupReport{}, err
	}
	if rep.Totals.Open, rep.Totals.DoneWindow, err = e.Repo.OpenAndCompletedTotals(ctx, since); err != nil {
		return StandupReport{}, err
	}
	return rep, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
