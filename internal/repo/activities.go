package repo

import (
	"context"
	"database/sql"

	"missionctl/internal/domain"
)

const activitySelect = `SELECT ta.id,ta.task_id,ta.agent_id,COALESCE(a.name,''),ta.activity_type,ta.message,COALESCE(ta.metadata,''),ta.created_at
FROM task_activities ta LEFT JOIN agents a ON a.id=ta.agent_id`

func scanActivity(row scanner) (domain.TaskActivity, error) {
	var act domain.TaskActivity
	var agentID sql.NullString
	err := row.Scan(&act.ID, &act.TaskID, &agentID, &act.AgentName, &act.Type, &act.Message, &act.Metadata, &act.CreatedAt)
	if err == sql.ErrNoRows {
		return act, ErrNotFound
	}
	act.AgentID = stringPtr(agentID)
	return act, err
}

// InsertActivity appends to the task log. Activities are never updated.
func (r Repo) InsertActivity(ctx context.Context, tx *sql.Tx, act domain.TaskActivity) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_activities(id,task_id,agent_id,activity_type,message,metadata,created_at) VALUES (?,?,?,?,?,?,?)`,
		act.ID, act.TaskID, nullableStringPtr(act.AgentID), act.Type, act.Message, nullable(act.Metadata), act.CreatedAt)
	return err
}

func (r Repo) GetActivity(ctx context.Context, id string) (domain.TaskActivity, error) {
	return scanActivity(r.DB.QueryRowContext(ctx, activitySelect+` WHERE ta.id=?`, id))
}

// ListActivities returns the task log newest first.
func (r Repo) ListActivities(ctx context.Context, taskID string, limit int) ([]domain.TaskActivity, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.DB.QueryContext(ctx, activitySelect+` WHERE ta.task_id=? ORDER BY ta.created_at DESC, ta.rowid DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskActivity
	for rows.Next() {
		act, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, act)
	}
	return res, rows.Err()
}
