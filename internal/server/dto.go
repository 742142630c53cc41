package server

import (
	"missionctl/internal/domain"
	"missionctl/internal/engine"
	"missionctl/internal/mention"
)

// Request payloads

type CreateAgentRequest struct {
	Name        string  `json:"name" minLength:"1"`
	Role        string  `json:"role,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      string  `json:"status,omitempty" enum:"standby,working,offline"`
	IsMaster    bool    `json:"is_master,omitempty"`
}

type UpdateAgentRequest struct {
	Status string `json:"status" enum:"standby,working,offline"`
}

type CreateTaskRequest struct {
	Title       string  `json:"title" minLength:"1"`
	Description *string `json:"description,omitempty"`
	Status      string  `json:"status,omitempty" enum:"inbox,planning,assigned,in_progress,review,done"`
	Priority    string  `json:"priority,omitempty" enum:"low,normal,high,urgent"`
	DueDate     *string `json:"due_date,omitempty"`
	AssigneeID  *string `json:"assigned_agent_id,omitempty"`
}

type UpdateTaskRequest struct {
	Status  *string `json:"status,omitempty" enum:"inbox,planning,assigned,in_progress,review,done"`
	DueDate *string `json:"due_date,omitempty" doc:"RFC3339 timestamp; empty string clears the due date"`
	AgentID *string `json:"agent_id,omitempty" doc:"agent performing the change"`
}

type AutoRouteRequest struct {
	Apply    *bool `json:"apply,omitempty" doc:"persist the decision (default true)"`
	Dispatch *bool `json:"dispatch,omitempty" doc:"queue the task for the gateway (default true)"`
}

type CreateActivityRequest struct {
	ActivityType string         `json:"activity_type"`
	Message      string         `json:"message"`
	AgentID      *string        `json:"agent_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type MarkMentionsRequest struct {
	MentionIDs []string `json:"mentionIds,omitempty"`
	MarkAll    bool     `json:"markAll,omitempty"`
}

// Response payloads

type listAgents struct {
	Items []domain.Agent `json:"items"`
}

type listTasks struct {
	Items []domain.Task `json:"items"`
}

type listActivities struct {
	Items []domain.TaskActivity `json:"items"`
}

type listMentions struct {
	Items []domain.Mention `json:"items"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type activityResponse struct {
	domain.TaskActivity
	Mentions []mention.Target `json:"mentions"`
}

type unreadCounts struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

type markMentionsResponse struct {
	Success bool  `json:"success"`
	Marked  int64 `json:"marked"`
}

type autoRouteResponse struct {
	Success bool `json:"success"`
	engine.AutoRouteResult
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
