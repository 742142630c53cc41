package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"missionctl/internal/domain"
	"missionctl/internal/mention"
	"missionctl/internal/repo"
)

// ActivityInput is one entry to append to a task's log.
type ActivityInput struct {
	TaskID   string
	AgentID  string
	Type     string
	Message  string
	Metadata map[string]any
	At       time.Time
}

type ActivityResult struct {
	Activity domain.TaskActivity `json:"activity"`
	Mentions []mention.Target    `json:"mentions"`
}

// RecordActivity appends an activity. Comments are scanned for @handles and
// each resolved agent gets a mention row written in the same transaction;
// the resolved list is added to the activity metadata under "mentions".
func (e Engine) RecordActivity(ctx context.Context, in ActivityInput) (ActivityResult, error) {
	in.Type = strings.TrimSpace(in.Type)
	if in.Type == "" || strings.TrimSpace(in.Message) == "" {
		return ActivityResult{}, invalidf("activity_type and message are required")
	}
	at := in.At
	if at.IsZero() {
		at = e.now()
	}
	stamp := domain.FormatTime(at)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ActivityResult{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetTaskTx(ctx, tx, in.TaskID); err != nil {
		return ActivityResult{}, err
	}
	if in.AgentID != "" {
		if _, err := e.Repo.GetAgentTx(ctx, tx, in.AgentID); err != nil {
			return ActivityResult{}, err
		}
	}

	meta := make(map[string]any, len(in.Metadata)+1)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	var targets []mention.Target
	if in.Type == domain.ActivityComment {
		agents, err := e.Repo.ListAgentsTx(ctx, tx)
		if err != nil {
			return ActivityResult{}, fmt.Errorf("list agents: %w", err)
		}
		targets = mention.Resolve(in.Message, agents, e.Config.Mentions.MatchMode)
		for _, target := range targets {
			m := domain.Mention{
				ID:          uuid.NewString(),
				TaskID:      in.TaskID,
				FromAgentID: optional(in.AgentID),
				ToAgentID:   target.ID,
				Message:     in.Message,
				CreatedAt:   stamp,
			}
			if err := e.Repo.InsertMention(ctx, tx, m); err != nil {
				return ActivityResult{}, fmt.Errorf("insert mention: %w", err)
			}
		}
		if len(targets) > 0 {
			meta["mentions"] = targets
		}
	}

	act := domain.TaskActivity{
		ID:        uuid.NewString(),
		TaskID:    in.TaskID,
		AgentID:   optional(in.AgentID),
		Type:      in.Type,
		Message:   in.Message,
		CreatedAt: stamp,
	}
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return ActivityResult{}, invalidf("metadata: %v", err)
		}
		act.Metadata = string(raw)
	}
	if err := e.Repo.InsertActivity(ctx, tx, act); err != nil {
		return ActivityResult{}, fmt.Errorf("insert activity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ActivityResult{}, err
	}
	e.Metrics.ObserveMentions(len(targets))

	stored, err := e.Repo.GetActivity(ctx, act.ID)
	if err != nil {
		return ActivityResult{}, err
	}
	if targets == nil {
		targets = []mention.Target{}
	}
	return ActivityResult{Activity: stored, Mentions: targets}, nil
}

// ListActivities returns a task's log newest first.
func (e Engine) ListActivities(ctx context.Context, taskID string) ([]domain.TaskActivity, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListActivities(ctx, taskID, 0)
}

// RecordDispatchFailure logs a failed gateway delivery on the task. The
// message prefix is what the ops report counts.
func (e Engine) RecordDispatchFailure(ctx context.Context, taskID string, cause error) error {
	_, err := e.RecordActivity(ctx, ActivityInput{
		TaskID:   taskID,
		Type:     domain.ActivityStatusChanged,
		Message:  fmt.Sprintf("Dispatch failed: %v", cause),
		Metadata: map[string]any{"action": "dispatch"},
	})
	return err
}

func (e Engine) ListMentions(ctx context.Context, agentID string, unreadOnly bool) ([]domain.Mention, error) {
	if _, err := e.Repo.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return e.Repo.ListMentions(ctx, repo.MentionFilters{ToAgentID: agentID, UnreadOnly: unreadOnly})
}

// UnreadMentionCounts maps agent id to unread mentions.
func (e Engine) UnreadMentionCounts(ctx context.Context) (map[string]int, error) {
	return e.Repo.UnreadMentionCounts(ctx)
}

// MarkReadOptions selects either every unread mention or an explicit id set.
type MarkReadOptions struct {
	All bool
	IDs []string
}

// MarkMentionsRead stamps read_at and returns how many rows changed.
// Already-read mentions and ids addressed to another agent are left alone.
func (e Engine) MarkMentionsRead(ctx context.Context, agentID string, opts MarkReadOptions, now time.Time) (int64, error) {
	if !opts.All && len(opts.IDs) == 0 {
		return 0, invalidf("provide markAll or mentionIds")
	}
	if _, err := e.Repo.GetAgent(ctx, agentID); err != nil {
		return 0, err
	}
	stamp := domain.FormatTime(now)
	if opts.All {
		return e.Repo.MarkAllMentionsRead(ctx, agentID, stamp)
	}
	return e.Repo.MarkMentionsRead(ctx, agentID, opts.IDs, stamp)
}
