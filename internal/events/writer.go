package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"missionctl/internal/domain"
)

// Writer appends rows to the system-wide events log. It always writes
// through the caller's transaction so an event commits with the change it
// describes.
type Writer struct {
	Now func() time.Time
}

// Entry is one event to append. AgentID and TaskID are optional.
type Entry struct {
	Type    string
	AgentID string
	TaskID  string
	Message string
	At      time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (int64, error) {
	if e.Type == "" {
		return 0, fmt.Errorf("event type required")
	}
	at := e.At
	if at.IsZero() {
		if w.Now == nil {
			w.Now = time.Now
		}
		at = w.Now()
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(type,agent_id,task_id,message,created_at) VALUES (?,?,?,?,?)`,
		e.Type, nullable(e.AgentID), nullable(e.TaskID), e.Message, domain.FormatTime(at))
	if err != nil {
		return 0, fmt.Errorf("append event %s: %w", e.Type, err)
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
