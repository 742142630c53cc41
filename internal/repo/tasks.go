package repo

import (
	"context"
	"database/sql"
	"strings"

	"missionctl/internal/domain"
)

const taskSelect = `SELECT t.id,t.title,COALESCE(t.description,''),t.status,t.priority,t.due_date,t.assigned_agent_id,COALESCE(a.name,''),
t.dispatch_count,t.late_alerted_at,t.late_alert_status,t.created_at,t.updated_at
FROM tasks t LEFT JOIN agents a ON a.id=t.assigned_agent_id`

func scanTask(row scanner) (domain.Task, error) {
	var t domain.Task
	var due, assignee, alertedAt, alertStatus sql.NullString
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &due, &assignee, &t.AssignedAgentName,
		&t.DispatchCount, &alertedAt, &alertStatus, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.DueDate = stringPtr(due)
	t.AssignedAgentID = stringPtr(assignee)
	t.LateAlertedAt = stringPtr(alertedAt)
	t.LateAlertStatus = stringPtr(alertStatus)
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]domain.Task, error) {
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,title,description,status,priority,due_date,assigned_agent_id,dispatch_count,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.Status, t.Priority, nullableStringPtr(t.DueDate), nullableStringPtr(t.AssignedAgentID),
		t.DispatchCount, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, taskSelect+` WHERE t.id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, taskSelect+` WHERE t.id=?`, id))
}

type TaskFilters struct {
	Status     string
	AssigneeID string
	Limit      int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "t.status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "t.assigned_agent_id=?")
		args = append(args, f.AssigneeID)
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	query := taskSelect + where + ` ORDER BY t.created_at DESC, t.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// AssignTask sets the assignee and advances inbox/planning tasks to assigned.
// Tasks further down the pipeline keep their status.
func (r Repo) AssignTask(ctx context.Context, tx *sql.Tx, taskID, agentID, updatedAt string, dispatchAttempts int) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks
SET assigned_agent_id=?,
    status=CASE WHEN status IN ('inbox','planning') THEN 'assigned' ELSE status END,
    dispatch_count=dispatch_count+?,
    updated_at=?
WHERE id=?`, agentID, dispatchAttempts, updatedAt, taskID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateTaskStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetTaskDueDate(ctx context.Context, tx *sql.Tx, id string, due *string, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET due_date=?, updated_at=? WHERE id=?`, nullableStringPtr(due), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLateTasks returns open tasks due at or before now that have not been
// alerted for their current status since threshold, earliest due first.
func (r Repo) ListLateTasks(ctx context.Context, now, threshold string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, taskSelect+`
WHERE t.due_date IS NOT NULL
  AND t.due_date <= ?
  AND t.status IN ('assigned','in_progress','review')
  AND (
    t.late_alerted_at IS NULL
    OR t.late_alerted_at <= ?
    OR t.late_alert_status IS NULL
    OR t.late_alert_status != t.status
  )
ORDER BY t.due_date ASC, t.id ASC`, now, threshold)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// MarkLateAlerted stamps alert bookkeeping only; updated_at is left alone.
func (r Repo) MarkLateAlerted(ctx context.Context, tx *sql.Tx, id, status, at string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET late_alerted_at=?, late_alert_status=? WHERE id=?`, at, status, id)
	return err
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
