package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"missionctl/internal/config"
	"missionctl/internal/domain"
	"missionctl/internal/events"
	"missionctl/internal/metrics"
	"missionctl/internal/observability"
	"missionctl/internal/repo"
	"missionctl/internal/routing"
)

var (
	// ErrNoCandidates means every agent is offline or none exist.
	ErrNoCandidates = routing.ErrNoCandidates
	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid input")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Dispatcher accepts task ids for asynchronous delivery to the gateway.
type Dispatcher interface {
	Enqueue(taskID string) bool
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Matcher  routing.Matcher
	Dispatch Dispatcher
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{Now: time.Now},
		Config:  cfg,
		Matcher: routing.NewMatcher(cfg.Routing),
		Logger:  observability.Logger(),
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// appendEvent stamps entries with the engine clock unless At is set.
func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, entry events.Entry) (int64, error) {
	if entry.At.IsZero() {
		entry.At = e.now()
	}
	return e.Events.Append(ctx, tx, entry)
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return observability.Logger()
}

// AgentCreateOptions are parameters for registering an agent.
type AgentCreateOptions struct {
	Name        string
	Role        string
	Description string
	Status      string
	IsMaster    bool
}

func (e Engine) CreateAgent(ctx context.Context, opts AgentCreateOptions) (domain.Agent, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return domain.Agent{}, invalidf("name is required")
	}
	if opts.Status == "" {
		opts.Status = domain.AgentStandby
	}
	if !domain.ValidAgentStatus(opts.Status) {
		return domain.Agent{}, invalidf("unknown agent status %q", opts.Status)
	}
	now := domain.FormatTime(e.now())
	a := domain.Agent{
		ID:          uuid.NewString(),
		Name:        opts.Name,
		Role:        strings.TrimSpace(opts.Role),
		Description: strings.TrimSpace(opts.Description),
		Status:      opts.Status,
		IsMaster:    opts.IsMaster,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAgent(ctx, tx, a); err != nil {
		return domain.Agent{}, fmt.Errorf("insert agent: %w", err)
	}
	if _, err := e.appendEvent(ctx, tx, events.Entry{Type: domain.EventAgentCreated, AgentID: a.ID, Message: fmt.Sprintf("%s joined", a.Name)}); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

func (e Engine) SetAgentStatus(ctx context.Context, id, status string) (domain.Agent, error) {
	if !domain.ValidAgentStatus(status) {
		return domain.Agent{}, invalidf("unknown agent status %q", status)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()
	a, err := e.Repo.GetAgentTx(ctx, tx, id)
	if err != nil {
		return domain.Agent{}, err
	}
	if a.Status == status {
		return a, nil
	}
	now := domain.FormatTime(e.now())
	if err := e.Repo.UpdateAgentStatus(ctx, tx, id, status, now); err != nil {
		return domain.Agent{}, fmt.Errorf("update agent status: %w", err)
	}
	if _, err := e.appendEvent(ctx, tx, events.Entry{Type: domain.EventAgentStatus, AgentID: id, Message: fmt.Sprintf("%s is now %s", a.Name, status)}); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	a.Status = status
	a.UpdatedAt = now
	return a, nil
}

func (e Engine) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	return e.Repo.ListAgents(ctx)
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title       string
	Description string
	Status      string
	Priority    string
	DueDate     string
	AssigneeID  string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Task{}, invalidf("title is required")
	}
	if opts.Status == "" {
		opts.Status = domain.TaskInbox
	}
	if !domain.ValidTaskStatus(opts.Status) {
		return domain.Task{}, invalidf("unknown task status %q", opts.Status)
	}
	if opts.Priority == "" {
		opts.Priority = "normal"
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.Task{}, invalidf("unknown priority %q", opts.Priority)
	}
	due, err := normalizeDue(opts.DueDate)
	if err != nil {
		return domain.Task{}, err
	}
	now := domain.FormatTime(e.now())
	t := domain.Task{
		ID:          uuid.NewString(),
		Title:       opts.Title,
		Description: opts.Description,
		Status:      opts.Status,
		Priority:    opts.Priority,
		DueDate:     due,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if opts.AssigneeID != "" {
		a, err := e.Repo.GetAgentTx(ctx, tx, opts.AssigneeID)
		if err != nil {
			return domain.Task{}, err
		}
		t.AssignedAgentID = &a.ID
		t.AssignedAgentName = a.Name
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if _, err := e.appendEvent(ctx, tx, events.Entry{Type: domain.EventTaskCreated, TaskID: t.ID, AgentID: opts.AssigneeID, Message: fmt.Sprintf("New task: %s", t.Title)}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	if f.Status != "" && !domain.ValidTaskStatus(f.Status) {
		return nil, invalidf("unknown task status %q", f.Status)
	}
	return e.Repo.ListTasks(ctx, f)
}

// TaskUpdate is a partial task change. Nil fields are left alone; an empty
// DueDate clears the due date.
type TaskUpdate struct {
	Status  *string
	DueDate *string
	AgentID string
}

// UpdateTask validates every field before writing and applies the whole
// change in one transaction.
func (e Engine) UpdateTask(ctx context.Context, id string, u TaskUpdate) (domain.Task, error) {
	if u.Status == nil && u.DueDate == nil {
		return domain.Task{}, invalidf("status or due_date is required")
	}
	if u.Status != nil && !domain.ValidTaskStatus(*u.Status) {
		return domain.Task{}, invalidf("unknown task status %q", *u.Status)
	}
	var due *string
	if u.DueDate != nil {
		norm, err := normalizeDue(*u.DueDate)
		if err != nil {
			return domain.Task{}, err
		}
		due = norm
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if u.AgentID != "" {
		if _, err := e.Repo.GetAgentTx(ctx, tx, u.AgentID); err != nil {
			return domain.Task{}, err
		}
	}
	at := e.now()
	now := domain.FormatTime(at)
	if u.DueDate != nil {
		if err := e.Repo.SetTaskDueDate(ctx, tx, id, due, now); err != nil {
			return domain.Task{}, fmt.Errorf("set due date: %w", err)
		}
	}
	if u.Status != nil && *u.Status != t.Status {
		if err := e.changeStatusTx(ctx, tx, t, *u.Status, u.AgentID, at); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, id)
}

// UpdateTaskStatus moves a task and logs the change on the task and in the
// event stream. Reaching done also emits task_completed.
func (e Engine) UpdateTaskStatus(ctx context.Context, id, status, agentID string) (domain.Task, error) {
	return e.UpdateTask(ctx, id, TaskUpdate{Status: &status, AgentID: agentID})
}

// SetTaskDueDate sets or clears (empty string) the due timestamp.
func (e Engine) SetTaskDueDate(ctx context.Context, id, due string) (domain.Task, error) {
	return e.UpdateTask(ctx, id, TaskUpdate{DueDate: &due})
}

func (e Engine) changeStatusTx(ctx context.Context, tx *sql.Tx, t domain.Task, status, agentID string, at time.Time) error {
	now := domain.FormatTime(at)
	if err := e.Repo.UpdateTaskStatus(ctx, tx, t.ID, status, now); err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	act := domain.TaskActivity{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		AgentID:   optional(agentID),
		Type:      domain.ActivityStatusChanged,
		Message:   fmt.Sprintf("Status changed from %s to %s", t.Status, status),
		CreatedAt: now,
	}
	if err := e.Repo.InsertActivity(ctx, tx, act); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	if _, err := e.appendEvent(ctx, tx, events.Entry{Type: domain.EventTaskStatusChanged, TaskID: t.ID, AgentID: agentID, Message: fmt.Sprintf("%q moved to %s", t.Title, status), At: at}); err != nil {
		return err
	}
	if status == domain.TaskDone {
		if _, err := e.appendEvent(ctx, tx, events.Entry{Type: domain.EventTaskCompleted, TaskID: t.ID, AgentID: agentID, Message: fmt.Sprintf("Task completed: %s", t.Title), At: at}); err != nil {
			return err
		}
	}
	return nil
}

// LatestEvents pages through the event stream newest first.
func (e Engine) LatestEvents(ctx context.Context, limit int, cursor int64, evtType, taskID string) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, limit, cursor, evtType, taskID)
}

func normalizeDue(due string) (*string, error) {
	due = strings.TrimSpace(due)
	if due == "" {
		return nil, nil
	}
	t, err := domain.ParseTime(due)
	if err != nil {
		return nil, invalidf("due date %q is not RFC3339", due)
	}
	s := domain.FormatTime(t)
	return &s, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
