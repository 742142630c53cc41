package repo

import (
	"context"
	"database/sql"
)

// ReportItem is a compact task row used by the standup report.
type ReportItem struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Status            string  `json:"status,omitempty"`
	DueDate           *string `json:"due_date,omitempty"`
	AssignedAgentName string  `json:"assigned_agent_name,omitempty"`
}

const reportLimit = 12

// AvgReviewAgeHours is the mean time since tasks in review were last updated.
func (r Repo) AvgReviewAgeHours(ctx context.Context, now string) (float64, error) {
	var v float64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(AVG((julianday(?) - julianday(updated_at)) * 24), 0) FROM tasks WHERE status='review'`, now).Scan(&v)
	return v, err
}

// LateCountsByStatus counts open tasks past due regardless of alert state.
func (r Repo) LateCountsByStatus(ctx context.Context, now string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks
WHERE due_date IS NOT NULL AND due_date <= ? AND status IN ('assigned','in_progress','review')
GROUP BY status`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[status] = n
	}
	return res, rows.Err()
}

// DispatchAttemptsSince sums dispatch_count over tasks touched since the cutoff.
func (r Repo) DispatchAttemptsSince(ctx context.Context, since string) (int, error) {
	var v int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(dispatch_count), 0) FROM tasks WHERE updated_at >= ?`, since).Scan(&v)
	return v, err
}

// DispatchFailuresSince counts the failure activities recorded by the dispatch queue.
func (r Repo) DispatchFailuresSince(ctx context.Context, since string) (int, error) {
	var v int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM task_activities
WHERE activity_type='status_changed' AND message LIKE 'Dispatch failed%' AND created_at >= ?`, since).Scan(&v)
	return v, err
}

func (r Repo) CompletedSince(ctx context.Context, since string) ([]ReportItem, error) {
	return r.reportItems(ctx, `SELECT t.id,t.title,t.status,t.due_date,COALESCE(a.name,''),max(e.created_at) AS completed_at
FROM events e
JOIN tasks t ON t.id=e.task_id
LEFT JOIN agents a ON a.id=t.assigned_agent_id
WHERE e.type='task_completed' AND e.created_at >= ?
GROUP BY t.id
ORDER BY completed_at DESC
LIMIT ?`, since, reportLimit)
}

func (r Repo) InProgressItems(ctx context.Context) ([]ReportItem, error) {
	return r.reportItems(ctx, `SELECT t.id,t.title,t.status,t.due_date,COALESCE(a.name,''),NULL
FROM tasks t LEFT JOIN agents a ON a.id=t.assigned_agent_id
WHERE t.status IN ('assigned','in_progress')
ORDER BY COALESCE(t.due_date,'9999-12-31T23:59:59.999Z') ASC, t.updated_at DESC
LIMIT ?`, reportLimit)
}

func (r Repo) ReviewItems(ctx context.Context) ([]ReportItem, error) {
	return r.reportItems(ctx, `SELECT t.id,t.title,t.status,t.due_date,COALESCE(a.name,''),NULL
FROM tasks t LEFT JOIN agents a ON a.id=t.assigned_agent_id
WHERE t.status='review'
ORDER BY t.updated_at DESC
LIMIT ?`, reportLimit)
}

// BlockedItems lists open tasks already past due, earliest first.
func (r Repo) BlockedItems(ctx context.Context, now string) ([]ReportItem, error) {
	return r.reportItems(ctx, `SELECT t.id,t.title,t.status,t.due_date,COALESCE(a.name,''),NULL
FROM tasks t LEFT JOIN agents a ON a.id=t.assigned_agent_id
WHERE t.status IN ('assigned','in_progress','review') AND t.due_date IS NOT NULL AND t.due_date <= ?
ORDER BY t.due_date ASC
LIMIT ?`, now, reportLimit)
}

// OpenAndCompletedTotals returns the open task count and task_completed events since the cutoff.
func (r Repo) OpenAndCompletedTotals(ctx context.Context, since string) (open int, done int, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT
  (SELECT count(*) FROM tasks WHERE status IN ('inbox','planning','assigned','in_progress','review')),
  (SELECT count(*) FROM events WHERE type='task_completed' AND created_at >= ?)`, since).Scan(&open, &done)
	return open, done, err
}

func (r Repo) reportItems(ctx context.Context, query string, args ...any) ([]ReportItem, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []ReportItem{}
	for rows.Next() {
		var it ReportItem
		var due, extra sql.NullString
		if err := rows.Scan(&it.ID, &it.Title, &it.Status, &due, &it.AssignedAgentName, &extra); err != nil {
			return nil, err
		}
		it.DueDate = stringPtr(due)
		res = append(res, it)
	}
	return res, rows.Err()
}
