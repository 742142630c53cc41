package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"missionctl/internal/domain"
	"missionctl/internal/engine"
	"missionctl/internal/observability"
	"missionctl/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"no_candidates"`
	Message string         `json:"message" example:"no available agents"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the mission control API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger)
	hcfg := huma.DefaultConfig("Mission Control API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	e := cfg.Engine
	registerDocs(router, basePath)
	router.Handle("/metrics", e.Metrics.Handler())
	registerHealth(group)
	registerAgents(group, e)
	registerTasks(group, e)
	registerRouting(group, e)
	registerAlerts(group, e)
	registerActivities(group, e)
	registerMentions(group, e)
	registerReports(group, e)
	registerEvents(group, e)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))
		observability.LoggerFromContext(ctx).Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrNoCandidates):
		return newAPIError(http.StatusConflict, "no_candidates", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	default:
		observability.LoggerFromContext(ctx).Error("request failed", "error", err.Error())
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{Description: "Error"}
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Mission Control API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAgents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body listAgents `json:"body"`
	}, error) {
		items, err := e.ListAgents(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if items == nil {
			items = []domain.Agent{}
		}
		return &struct {
			Body listAgents `json:"body"`
		}{Body: listAgents{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-agent",
		Method:        http.MethodPost,
		Path:          "/agents",
		Summary:       "Register agent",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateAgentRequest `json:"body"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		a, err := e.CreateAgent(ctx, engine.AgentCreateOptions{
			Name:        input.Body.Name,
			Role:        input.Body.Role,
			Description: stringOrEmpty(input.Body.Description),
			Status:      input.Body.Status,
			IsMaster:    input.Body.IsMaster,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agent",
		Method:      http.MethodPatch,
		Path:        "/agents/{id}",
		Summary:     "Set agent status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateAgentRequest `json:"body"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		a, err := e.SetAgentStatus(ctx, input.ID, input.Body.Status)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Status:      input.Body.Status,
			Priority:    input.Body.Priority,
			DueDate:     stringOrEmpty(input.Body.DueDate),
			AssigneeID:  stringOrEmpty(input.Body.AssigneeID),
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"inbox,planning,assigned,in_progress,review,done"`
		AssigneeID string `query:"assigned_agent_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body listTasks `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx, repo.TaskFilters{Status: input.Status, AssigneeID: input.AssigneeID, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if items == nil {
			items = []domain.Task{}
		}
		return &struct {
			Body listTasks `json:"body"`
		}{Body: listTasks{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task status or due date",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := e.UpdateTask(ctx, input.ID, engine.TaskUpdate{
			Status:  input.Body.Status,
			DueDate: input.Body.DueDate,
			AgentID: stringOrEmpty(input.Body.AgentID),
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}

func registerRouting(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "auto-route-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/auto-route",
		Summary:     "Score agents for a task and optionally assign and dispatch it",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body *AutoRouteRequest `json:"body" required:"false"`
	}) (*struct {
		Body autoRouteResponse `json:"body"`
	}, error) {
		opts := engine.AutoRouteOptions{Apply: true, Dispatch: true}
		if input.Body != nil {
			opts.Apply = boolOr(input.Body.Apply, true)
			opts.Dispatch = boolOr(input.Body.Dispatch, true)
		}
		res, err := e.AutoRoute(ctx, input.ID, opts, clock(e))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body autoRouteResponse `json:"body"`
		}{Body: autoRouteResponse{Success: true, AutoRouteResult: res}}, nil
	})
}

func registerAlerts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "late-task-alerts",
		Method:      http.MethodGet,
		Path:        "/tasks/alerts/late",
		Summary:     "List late tasks outside their alert cooldown",
	}, func(ctx context.Context, input *struct {
		RepeatAfterMinutes int  `query:"repeatAfterMinutes" default:"60"`
		Mark               bool `query:"mark"`
	}) (*struct {
		Body domain.LateScan `json:"body"`
	}, error) {
		res, err := e.ScanLateTasks(ctx, clock(e), input.RepeatAfterMinutes, input.Mark)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.LateScan `json:"body"`
		}{Body: res}, nil
	})
}

func registerActivities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-task-activities",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/activities",
		Summary:     "List task activities, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body listActivities `json:"body"`
	}, error) {
		items, err := e.ListActivities(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if items == nil {
			items = []domain.TaskActivity{}
		}
		return &struct {
			Body listActivities `json:"body"`
		}{Body: listActivities{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task-activity",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/activities",
		Summary:       "Log a task activity; comments notify @mentioned agents",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body CreateActivityRequest `json:"body"`
	}) (*struct {
		Body activityResponse `json:"body"`
	}, error) {
		res, err := e.RecordActivity(ctx, engine.ActivityInput{
			TaskID:   input.ID,
			AgentID:  stringOrEmpty(input.Body.AgentID),
			Type:     input.Body.ActivityType,
			Message:  input.Body.Message,
			Metadata: input.Body.Metadata,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body activityResponse `json:"body"`
		}{Body: activityResponse{TaskActivity: res.Activity, Mentions: res.Mentions}}, nil
	})
}

func registerMentions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agent-mentions",
		Method:      http.MethodGet,
		Path:        "/agents/{id}/mentions",
		Summary:     "List mentions addressed to an agent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Unread bool   `query:"unread"`
	}) (*struct {
		Body listMentions `json:"body"`
	}, error) {
		items, err := e.ListMentions(ctx, input.ID, input.Unread)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if items == nil {
			items = []domain.Mention{}
		}
		return &struct {
			Body listMentions `json:"body"`
		}{Body: listMentions{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-agent-mentions",
		Method:      http.MethodPatch,
		Path:        "/agents/{id}/mentions",
		Summary:     "Mark mentions read, either all or by id",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body MarkMentionsRequest `json:"body"`
	}) (*struct {
		Body markMentionsResponse `json:"body"`
	}, error) {
		n, err := e.MarkMentionsRead(ctx, input.ID, engine.MarkReadOptions{All: input.Body.MarkAll, IDs: input.Body.MentionIDs}, clock(e))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body markMentionsResponse `json:"body"`
		}{Body: markMentionsResponse{Success: true, Marked: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unread-mention-counts",
		Method:      http.MethodGet,
		Path:        "/mentions/unread",
		Summary:     "Unread mention counts per agent",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body unreadCounts `json:"body"`
	}, error) {
		counts, err := e.UnreadMentionCounts(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := unreadCounts{Counts: counts}
		for _, n := range counts {
			resp.Total += n
		}
		return &struct {
			Body unreadCounts `json:"body"`
		}{Body: resp}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "metrics-report",
		Method:      http.MethodGet,
		Path:        "/reports/metrics",
		Summary:     "Ops metrics over a trailing window",
	}, func(ctx context.Context, input *struct {
		WindowDays int `query:"windowDays" default:"7"`
	}) (*struct {
		Body engine.MetricsReport `json:"body"`
	}, error) {
		rep, err := e.MetricsReport(ctx, clock(e), input.WindowDays)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.MetricsReport `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "standup-report",
		Method:      http.MethodGet,
		Path:        "/reports/standup",
		Summary:     "Daily standup summary",
	}, func(ctx context.Context, input *struct {
		WindowHours int `query:"windowHours" default:"24"`
	}) (*struct {
		Body engine.StandupReport `json:"body"`
	}, error) {
		rep, err := e.StandupReport(ctx, clock(e), input.WindowHours)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.StandupReport `json:"body"`
		}{Body: rep}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		TaskID string `query:"task_id"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.LatestEvents(ctx, limit+1, cursorID, input.Type, input.TaskID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func clock(e engine.Engine) time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
