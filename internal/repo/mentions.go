package repo

import (
	"context"
	"database/sql"

	"missionctl/internal/domain"
)

const mentionSelect = `SELECT m.id,m.task_id,m.from_agent_id,COALESCE(a.name,''),m.to_agent_id,m.message,m.created_at,m.read_at
FROM agent_mentions m LEFT JOIN agents a ON a.id=m.from_agent_id`

func (r Repo) InsertMention(ctx context.Context, tx *sql.Tx, m domain.Mention) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agent_mentions(id,task_id,from_agent_id,to_agent_id,message,created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.TaskID, nullableStringPtr(m.FromAgentID), m.ToAgentID, m.Message, m.CreatedAt)
	return err
}

type MentionFilters struct {
	ToAgentID  string
	UnreadOnly bool
	Limit      int
}

// ListMentions returns mentions addressed to one agent, newest first.
func (r Repo) ListMentions(ctx context.Context, f MentionFilters) ([]domain.Mention, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	query := mentionSelect + ` WHERE m.to_agent_id=?`
	args := []any{f.ToAgentID}
	if f.UnreadOnly {
		query += ` AND m.read_at IS NULL`
	}
	query += ` ORDER BY m.created_at DESC, m.rowid DESC LIMIT ?`
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mention
	for rows.Next() {
		var m domain.Mention
		var from, readAt sql.NullString
		if err := rows.Scan(&m.ID, &m.TaskID, &from, &m.FromAgentName, &m.ToAgentID, &m.Message, &m.CreatedAt, &readAt); err != nil {
			return nil, err
		}
		m.FromAgentID = stringPtr(from)
		m.ReadAt = stringPtr(readAt)
		res = append(res, m)
	}
	return res, rows.Err()
}

// UnreadMentionCounts maps agent id to its unread mention count. Agents
// with nothing unread are absent.
func (r Repo) UnreadMentionCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT to_agent_id, count(*) FROM agent_mentions WHERE read_at IS NULL GROUP BY to_agent_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		res[id] = n
	}
	return res, rows.Err()
}

// MarkAllMentionsRead stamps every unread mention of agentID and returns the count changed.
func (r Repo) MarkAllMentionsRead(ctx context.Context, agentID, at string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE agent_mentions SET read_at=? WHERE to_agent_id=? AND read_at IS NULL`, at, agentID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkMentionsRead stamps the given ids. Ids addressed to other agents are ignored.
func (r Repo) MarkMentionsRead(ctx context.Context, agentID string, ids []string, at string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{at, agentID}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE agent_mentions SET read_at=? WHERE to_agent_id=? AND read_at IS NULL AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
