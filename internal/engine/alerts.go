package engine

import (
	"context"
	"fmt"
	"time"

	"missionctl/internal/domain"
)

// ScanLateTasks returns open tasks past due that are not inside their alert
// cooldown. A task whose status changed since its last alert is returned
// regardless of cooldown. With mark set, every returned task is stamped with
// now and its current status; updated_at is untouched.
func (e Engine) ScanLateTasks(ctx context.Context, now time.Time, repeatAfterMinutes int, mark bool) (domain.LateScan, error) {
	if repeatAfterMinutes < 1 {
		repeatAfterMinutes = 1
	}
	stamp := domain.FormatTime(now)
	threshold := domain.FormatTime(now.Add(-time.Duration(repeatAfterMinutes) * time.Minute))

	tasks, err := e.Repo.ListLateTasks(ctx, stamp, threshold)
	if err != nil {
		return domain.LateScan{}, fmt.Errorf("list late tasks: %w", err)
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	grouped := make(map[string][]domain.Task, len(domain.LateStatuses))
	for _, status := range domain.LateStatuses {
		grouped[status] = []domain.Task{}
	}
	for _, t := range tasks {
		grouped[t.Status] = append(grouped[t.Status], t)
	}

	if mark && len(tasks) > 0 {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.LateScan{}, err
		}
		defer tx.Rollback()
		for _, t := range tasks {
			if err := e.Repo.MarkLateAlerted(ctx, tx, t.ID, t.Status, stamp); err != nil {
				return domain.LateScan{}, fmt.Errorf("mark late alert %s: %w", t.ID, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return domain.LateScan{}, err
		}
	}
	e.Metrics.ObserveLateScan(grouped)
	if len(tasks) > 0 {
		e.log().Info("late tasks found", "total", len(tasks), "marked", mark)
	}
	return domain.LateScan{
		Now:                stamp,
		RepeatAfterMinutes: repeatAfterMinutes,
		Marked:             mark,
		Total:              len(tasks),
		GroupedByStatus:    grouped,
		Tasks:              tasks,
	}, nil
}
