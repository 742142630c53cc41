package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"missionctl/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const agentColumns = `id,name,role,COALESCE(description,''),status,is_master,created_at,updated_at`

func scanAgent(row scanner) (domain.Agent, error) {
	var a domain.Agent
	var master int
	err := row.Scan(&a.ID, &a.Name, &a.Role, &a.Description, &a.Status, &master, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.IsMaster = master != 0
	return a, err
}

func (r Repo) InsertAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agents(id,name,role,description,status,is_master,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, a.Role, nullable(a.Description), a.Status, boolInt(a.IsMaster), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return getAgent(ctx, r.DB, id)
}

func (r Repo) GetAgentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Agent, error) {
	return getAgent(ctx, tx, id)
}

func getAgent(ctx context.Context, q queryer, id string) (domain.Agent, error) {
	return scanAgent(q.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id))
}

// ListAgents returns every agent in listing order (oldest first).
func (r Repo) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	return listAgents(ctx, r.DB, "")
}

// ListAvailableAgents returns agents that are not offline, in listing order.
func (r Repo) ListAvailableAgents(ctx context.Context) ([]domain.Agent, error) {
	return listAgents(ctx, r.DB, `WHERE status != 'offline'`)
}

func (r Repo) ListAgentsTx(ctx context.Context, tx *sql.Tx) ([]domain.Agent, error) {
	return listAgents(ctx, tx, "")
}

func listAgents(ctx context.Context, q queryer, where string) ([]domain.Agent, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents `+where+` ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAgentStatus(ctx context.Context, tx *sql.Tx, id, status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE agents SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestEvents returns events newest first. A positive cursor pages to ids below it.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, evtType, taskID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if taskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, taskID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,type,agent_id,task_id,message,created_at FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var agentID, taskID sql.NullString
		if err := rows.Scan(&e.ID, &e.Type, &agentID, &taskID, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.AgentID = stringPtr(agentID)
		e.TaskID = stringPtr(taskID)
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
