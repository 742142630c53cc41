package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"missionctl/internal/domain"
	"missionctl/internal/events"
	"missionctl/internal/metrics"
	"missionctl/internal/routing"
)

// Route scores every non-offline agent for the task. It never writes.
func (e Engine) Route(ctx context.Context, taskID string) (routing.Result, error) {
	task, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return routing.Result{}, err
	}
	agents, err := e.Repo.ListAvailableAgents(ctx)
	if err != nil {
		return routing.Result{}, fmt.Errorf("list agents: %w", err)
	}
	return routing.Rank(e.Matcher, task, agents)
}

// ApplyOutcome describes a persisted routing decision.
type ApplyOutcome struct {
	Task          domain.Task              `json:"task"`
	Selected      domain.RoutingDecision   `json:"selected"`
	TopCandidates []domain.RoutingDecision `json:"topCandidates"`
	ActivityID    string                   `json:"activityId"`
	EventID       int64                    `json:"eventId"`
	Dispatched    bool                     `json:"dispatched"`
}

type candidateSummary struct {
	AgentID string `json:"agentId"`
	Name    string `json:"name"`
	Score   int    `json:"score"`
}

type routeMetadata struct {
	Action          string             `json:"action"`
	SelectedScore   int                `json:"selectedScore"`
	SelectedReasons []string           `json:"selectedReasons"`
	TopCandidates   []candidateSummary `json:"topCandidates"`
}

// ApplyRoute assigns the task to the selected agent and writes the audit
// trail in one transaction. When dispatch is set and a dispatcher is wired,
// the task is queued for the gateway after commit; the gateway outcome never
// affects the result.
func (e Engine) ApplyRoute(ctx context.Context, res routing.Result, dispatch bool, now time.Time) (ApplyOutcome, error) {
	sel := res.Selected
	task := res.Task
	dispatch = dispatch && e.Dispatch != nil
	attempts := 0
	if dispatch {
		attempts = 1
	}
	top := routing.Top(res.Ranked, e.Config.Routing.TopCandidates)
	stamp := domain.FormatTime(now)

	meta := routeMetadata{
		Action:          "auto_route",
		SelectedScore:   sel.Score,
		SelectedReasons: sel.Reasons,
		TopCandidates:   make([]candidateSummary, 0, len(top)),
	}
	for _, c := range top {
		meta.TopCandidates = append(meta.TopCandidates, candidateSummary{AgentID: c.AgentID, Name: c.AgentName, Score: c.Score})
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return ApplyOutcome{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ApplyOutcome{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.AssignTask(ctx, tx, task.ID, sel.AgentID, stamp, attempts); err != nil {
		return ApplyOutcome{}, fmt.Errorf("assign task: %w", err)
	}
	eventID, err := e.appendEvent(ctx, tx, events.Entry{
		Type:    domain.EventTaskAssigned,
		AgentID: sel.AgentID,
		TaskID:  task.ID,
		Message: fmt.Sprintf("Auto-routed \"%s\" to %s", task.Title, sel.AgentName),
		At:      now,
	})
	if err != nil {
		return ApplyOutcome{}, err
	}
	act := domain.TaskActivity{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		AgentID:   &sel.AgentID,
		Type:      domain.ActivityUpdated,
		Message:   fmt.Sprintf("Auto-routed to %s", sel.AgentName),
		Metadata:  string(metaJSON),
		CreatedAt: stamp,
	}
	if err := e.Repo.InsertActivity(ctx, tx, act); err != nil {
		return ApplyOutcome{}, fmt.Errorf("insert activity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ApplyOutcome{}, err
	}
	e.Metrics.ObserveRoute(metrics.ModeApplied)

	updated, err := e.Repo.GetTask(ctx, task.ID)
	if err != nil {
		return ApplyOutcome{}, err
	}
	out := ApplyOutcome{
		Task:          updated,
		Selected:      sel,
		TopCandidates: top,
		ActivityID:    act.ID,
		EventID:       eventID,
	}
	if dispatch {
		out.Dispatched = e.Dispatch.Enqueue(task.ID)
		if !out.Dispatched {
			if err := e.RecordDispatchFailure(ctx, task.ID, fmt.Errorf("dispatch queue unavailable")); err != nil {
				e.log().Warn("record dispatch failure", "task_id", task.ID, "error", err.Error())
			}
		}
	}
	e.log().Info("task routed", "task_id", task.ID, "agent_id", sel.AgentID, "score", sel.Score, "dispatched", out.Dispatched)
	return out, nil
}

// AutoRouteOptions mirror the auto-route request body. Both default to true.
type AutoRouteOptions struct {
	Apply    bool
	Dispatch bool
}

// AutoRouteResult is a preview (DryRun) or an applied decision.
type AutoRouteResult struct {
	DryRun   bool                     `json:"dryRun"`
	TaskID   string                   `json:"taskId"`
	Selected domain.RoutingDecision   `json:"selected"`
	Ranked   []domain.RoutingDecision `json:"ranked,omitempty"`
	Applied  *ApplyOutcome            `json:"applied,omitempty"`
}

func (e Engine) AutoRoute(ctx context.Context, taskID string, opts AutoRouteOptions, now time.Time) (AutoRouteResult, error) {
	res, err := e.Route(ctx, taskID)
	if err != nil {
		return AutoRouteResult{}, err
	}
	if !opts.Apply {
		e.Metrics.ObserveRoute(metrics.ModePreview)
		return AutoRouteResult{
			DryRun:   true,
			TaskID:   res.Task.ID,
			Selected: res.Selected,
			Ranked:   routing.Top(res.Ranked, e.Config.Routing.PreviewCandidates),
		}, nil
	}
	out, err := e.ApplyRoute(ctx, res, opts.Dispatch, now)
	if err != nil {
		return AutoRouteResult{}, err
	}
	return AutoRouteResult{
		TaskID:   res.Task.ID,
		Selected: res.Selected,
		Applied:  &out,
	}, nil
}
