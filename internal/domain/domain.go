package domain

import (
	"strings"
	"time"
)

// TimeLayout is fixed-width so stored timestamps sort lexicographically.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts TimeLayout and RFC3339 inputs.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

const (
	AgentStandby = "standby"
	AgentWorking = "working"
	AgentOffline = "offline"
)

const (
	TaskInbox      = "inbox"
	TaskPlanning   = "planning"
	TaskAssigned   = "assigned"
	TaskInProgress = "in_progress"
	TaskReview     = "review"
	TaskDone       = "done"
)

// TaskStatuses lists the pipeline in order.
var TaskStatuses = []string{TaskInbox, TaskPlanning, TaskAssigned, TaskInProgress, TaskReview, TaskDone}

// LateStatuses are the open statuses a task can be late in, in report order.
var LateStatuses = []string{TaskAssigned, TaskInProgress, TaskReview}

func ValidAgentStatus(s string) bool {
	switch s {
	case AgentStandby, AgentWorking, AgentOffline:
		return true
	}
	return false
}

func ValidTaskStatus(s string) bool {
	switch s {
	case TaskInbox, TaskPlanning, TaskAssigned, TaskInProgress, TaskReview, TaskDone:
		return true
	}
	return false
}

func ValidPriority(p string) bool {
	switch p {
	case "low", "normal", "high", "urgent":
		return true
	}
	return false
}

const (
	ActivityComment       = "comment"
	ActivityUpdated       = "updated"
	ActivityStatusChanged = "status_changed"
)

const (
	EventTaskAssigned      = "task_assigned"
	EventTaskCreated       = "task_created"
	EventTaskStatusChanged = "task_status_changed"
	EventTaskCompleted     = "task_completed"
	EventAgentCreated      = "agent_joined"
	EventAgentStatus       = "agent_status_changed"
)

type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"standby,working,offline"`
	IsMaster    bool   `json:"is_master"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Description       string  `json:"description,omitempty"`
	Status            string  `json:"status" enum:"inbox,planning,assigned,in_progress,review,done"`
	Priority          string  `json:"priority" enum:"low,normal,high,urgent"`
	DueDate           *string `json:"due_date,omitempty" format:"date-time"`
	AssignedAgentID   *string `json:"assigned_agent_id,omitempty"`
	AssignedAgentName string  `json:"assigned_agent_name,omitempty"`
	DispatchCount     int     `json:"dispatch_count"`
	LateAlertedAt     *string `json:"late_alerted_at,omitempty" format:"date-time"`
	LateAlertStatus   *string `json:"late_alert_status,omitempty"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

// RoutingText is the lower-cased text the matcher scores a task by.
func (t Task) RoutingText() string {
	return strings.ToLower(t.Title + " " + t.Description)
}

type TaskActivity struct {
	ID        string  `json:"id"`
	TaskID    string  `json:"task_id"`
	AgentID   *string `json:"agent_id,omitempty"`
	AgentName string  `json:"agent_name,omitempty"`
	Type      string  `json:"activity_type"`
	Message   string  `json:"message"`
	Metadata  string  `json:"metadata,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Mention struct {
	ID            string  `json:"id"`
	TaskID        string  `json:"task_id"`
	FromAgentID   *string `json:"from_agent_id,omitempty"`
	FromAgentName string  `json:"from_agent_name,omitempty"`
	ToAgentID     string  `json:"to_agent_id"`
	Message       string  `json:"message"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	ReadAt        *string `json:"read_at,omitempty" format:"date-time"`
}

type Event struct {
	ID        int64   `json:"id"`
	Type      string  `json:"type"`
	AgentID   *string `json:"agent_id,omitempty"`
	TaskID    *string `json:"task_id,omitempty"`
	Message   string  `json:"message"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

// RoutingDecision is one scored candidate for a task.
type RoutingDecision struct {
	AgentID   string   `json:"agentId"`
	AgentName string   `json:"agentName"`
	Score     int      `json:"score"`
	Reasons   []string `json:"reasons"`
	IsMaster  bool     `json:"-"`
}

// LateScan is the result of one late-task scan.
type LateScan struct {
	Now                string            `json:"now"`
	RepeatAfterMinutes int               `json:"repeatAfterMinutes"`
	Marked             bool              `json:"marked"`
	Total              int               `json:"total"`
	GroupedByStatus    map[string][]Task `json:"groupedByStatus"`
	Tasks              []Task            `json:"tasks"`
}
