package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"missionctl/internal/config"
	"missionctl/internal/db"
	"missionctl/internal/dispatch"
	"missionctl/internal/domain"
	"missionctl/internal/engine"
	"missionctl/internal/metrics"
	"missionctl/internal/migrate"
	"missionctl/internal/observability"
	missionctlsdk "missionctl/sdk/go"
)

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu     sync.Mutex
	status int
	hits   []string
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hits = append(g.hits, r.URL.Path)
	w.WriteHeader(g.status)
}

func (g *fakeGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.hits)
}

type testServer struct {
	URL     string
	SDK     *missionctlsdk.Client
	Gateway *fakeGateway
	Engine  engine.Engine
}

func newTestServer(t *testing.T, gatewayStatus int) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	gw := &fakeGateway{status: gatewayStatus}
	gwSrv := httptest.NewServer(gw)

	cfg := config.Default()
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return fixedNow }
	e.Logger = observability.Discard()
	e.Metrics = metrics.NewRecorder()
	queue := dispatch.NewQueue(dispatch.NewHTTPGateway(gwSrv.URL, time.Second), dispatch.Options{
		Workers: 1,
		Logger:  e.Logger,
		Metrics: e.Metrics,
		OnFailure: func(ctx context.Context, taskID string, err error) {
			e.RecordDispatchFailure(ctx, taskID, err)
		},
	})
	e.Dispatch = queue

	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		queue.Close()
		gwSrv.Close()
		conn.Close()
	})
	return &testServer{URL: srv.URL, SDK: missionctlsdk.New(srv.URL), Gateway: gw, Engine: e}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func apiStatus(err error) int {
	var apiErr *missionctlsdk.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func TestAutoRouteAssignsAndDispatches(t *testing.T) {
	srv := newTestServer(t, http.StatusOK)
	ctx := context.Background()
	pbp, err := srv.SDK.CreateAgent(ctx, "Platform Builder Pro", "backend", false)
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if _, err := srv.SDK.CreateAgent(ctx, "News Scout", "research", false); err != nil {
		t.Fatal(err)
	}
	task, err := srv.SDK.CreateTask(ctx, "Fix API deploy script", "", "", "")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	preview, err := srv.SDK.AutoRoute(ctx, task.ID, false, true)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !preview.DryRun || preview.Selected.AgentID != pbp.ID || len(preview.Ranked) != 2 {
		t.Fatalf("unexpected preview %+v", preview)
	}

	res, err := srv.SDK.AutoRoute(ctx, task.ID, true, true)
	if err != nil {
		t.Fatalf("auto-route: %v", err)
	}
	if res.Applied == nil || res.Applied.Task.Status != domain.TaskAssigned || !res.Applied.Dispatched {
		t.Fatalf("unexpected apply result %+v", res)
	}
	waitFor(t, "gateway call", func() bool { return srv.Gateway.count() == 1 })
	if got := srv.Gateway.hits[0]; got != "/api/tasks/"+task.ID+"/dispatch" {
		t.Fatalf("gateway path = %s", got)
	}
}

func TestGatewayFailureIsRecordedNotReturned(t *testing.T) {
	srv := newTestServer(t, http.StatusBadGateway)
	ctx := context.Background()
	if _, err := srv.SDK.CreateAgent(ctx, "Ops Engineer", "ops", false); err != nil {
		t.Fatal(err)
	}
	task, err := srv.SDK.CreateTask(ctx, "Deploy webhook", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := srv.SDK.AutoRoute(ctx, task.ID, true, true); err != nil {
		t.Fatalf("gateway failure must not fail the request: %v", err)
	}
	waitFor(t, "failure activity", func() bool {
		acts, err := srv.SDK.Activities(ctx, task.ID)
		if err != nil {
			return false
		}
		for _, a := range acts {
			if a.ActivityType == domain.ActivityStatusChanged && strings.HasPrefix(a.Message, "Dispatch failed") {
				return true
			}
		}
		return false
	})
}

func TestAutoRouteErrors(t *testing.T) {
	srv := newTestServer(t, http.StatusOK)
	ctx := context.Background()
	if _, err := srv.SDK.AutoRoute(ctx, "missing", true, false); apiStatus(err) != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	task, err := srv.SDK.CreateTask(ctx, "Lonely task", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = srv.SDK.AutoRoute(ctx, task.ID, true, false)
	if apiStatus(err) != http.StatusConflict || !strings.Contains(err.Error(), "no_candidates") {
		t.Fatalf("expected 409 no_candidates, got %v", err)
	}
}

func TestAutoRouteWithoutBodyDefaultsToApply(t *testing.T) {
	srv := newTestServer(t, http.StatusOK)
	ctx := context.Background()
	if _, err := srv.SDK.CreateAgent(ctx, "Editor", "writer", false); err != nil {
		t.Fatal(err)
	}
	task, err := srv.SDK.CreateTask(ctx, "Weekly digest", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v0/tasks/"+task.ID+"/auto-route", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, body)
	}
	got, err := srv.SDK.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TaskAssigned {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestLateAlertsEndpoint(t *testing.T) {
	srv := newTestServer(t, http.StatusOK)
	ctx := context.Background()
	task, err := srv.SDK.CreateTask(ctx, "Overdue report", "", domain.TaskReview, "2024-03-01T08:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	scan, err := srv.SDK.LateTasks(ctx, 0, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if scan.Total != 1 || scan.RepeatAfterMinutes != 60 || !scan.Marked || len(scan.GroupedByStatus[domain.TaskReview]) != 1 {
		t.Fatalf("unexpected scan %+v", scan)
	}
	if len(scan.GroupedByStatus[domain.TaskAssigned]) != 0 {
		t.Fatalf("assigned group should be empty")
	}
	again, err := srv.SDK.LateTasks(ctx, 60, true)
	if err != nil {
		t.Fatal(err)
	}
	if again.Total != 0 {
		t.Fatalf("second scan should be suppressed, got %d", again.Total)
	}
	if _, err := srv.SDK.UpdateTaskStatus(ctx, task.ID, domain.TaskInProgress); err != nil {
		t.Fatal(err)
	}
	third, _ := srv.SDK.LateTasks(ctx, 60, false)
	if third.Total != 1 {
		t.Fatalf("status change should re-alert, got %d", third.Total)
	}
}

func TestCommentMentionsFlow(t *testing.T) {
	srv := newTestServer(t, http.StatusOK)
	ctx := context.Background()
	pbp, _ := srv.SDK.CreateAgent(ctx, "Platform Builder Pro", "backend", false)
	task, _ := srv.SDK.CreateTask(ctx, "Design review", "", "", "")

	act, err := srv.SDK.AddActivity(ctx, task.ID, "", domain.ActivityComment, "ping @PlatformBuilderPro and @unknownzzz")
	if err != nil {
		t.Fatalf("add activity: %v", err)
	}
	if len(act.Mentions) != 1 || act.Mentions[0].ID != pbp.ID {
		t.Fatalf("mentions = %+v", act.Mentions)
	}
	counts, err := srv.SDK.UnreadMentionCounts(ctx)
	if err != nil || counts[pbp.ID] != 1 {
		t.Fatalf("counts = %v (%v)", counts, err)
	}
	mentions, err := srv.SDK.Mentions(ctx, pbp.ID, true)
	if err != nil || len(mentions) != 1 {
		t.Fatalf("mentions = %v (%v)", mentions, err)
	}
	if mentions[0].FromAgentID != nil {
		t.Fatalf("anonymous comment should have no sender")
	}
	n, err := srv.SDK.MarkMentionsRead(ctx, pbp.ID, nil)
	if err != nil || n != 1 {
		t.Fatalf("mark all: %d %v", n, err)
	}
	unread, _ := srv.SDK.Mentions(ctx, pbp.ID, true)
	if len(unread) != 0 {
		t.Fatalf("expected no unread mentions")
	}

	if _, err := srv.SDK.AddActivity(ctx, task.ID, "", domain.ActivityComment, ""); apiStatus(err) != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %v", err)
	}
	if _, err := srv.SDK.Mentions(ctx, "ghost", false); apiStatus(err) != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown agent, got %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, http.StatusOK)
	ctx := context.Background()
	srv.SDK.CreateAgent(ctx, "Ops Engineer", "ops", false)
	task, _ := srv.SDK.CreateTask(ctx, "Fix build", "", "", "")
	if _, err := srv.SDK.AutoRoute(ctx, task.ID, true, false); err != nil {
		t.Fatal(err)
	}
	res, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if !strings.Contains(string(body), `missionctl_route_decisions_total{mode="applied"} 1`) {
		t.Fatalf("metrics missing route counter:\n%s", body)
	}
}

func TestEventsPagination(t *testing.T) {
	srv := newTestServer(t, http.StatusOK)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if _, err := srv.SDK.CreateAgent(ctx, name, "", false); err != nil {
			t.Fatal(err)
		}
	}
	page, err := srv.SDK.EventsPage(ctx, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("first page = %+v", page)
	}
	next, err := srv.SDK.EventsPage(ctx, 2, page.NextCursor)
	if err != nil {
		t.Fatal(err)
	}
	if len(next.Items) != 1 || next.NextCursor != "" {
		t.Fatalf("second page = %+v", next)
	}
}

func TestPatchTaskRejectsBadStatusWithoutWriting(t *testing.T) {
	srv := newTestServer(t, http.StatusOK)
	ctx := context.Background()
	task, err := srv.SDK.CreateTask(ctx, "Quarterly report", "", "", "2024-03-05T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	body := strings.NewReader(`{"due_date":"2024-04-01T00:00:00Z","status":"bogus"}`)
	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/v0/tasks/"+task.ID, body)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", res.StatusCode)
	}
	got, err := srv.SDK.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DueDate == nil || *got.DueDate != "2024-03-05T00:00:00.000Z" {
		t.Fatalf("due date changed by rejected patch: %v", got.DueDate)
	}
}

func TestOpenAPIConcurrentFirstRequests(t *testing.T) {
	srv := newTestServer(t, http.StatusOK)
	var wg sync.WaitGroup
	bodies := make([]string, 8)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := http.Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				return
			}
			b, _ := io.ReadAll(res.Body)
			res.Body.Close()
			bodies[i] = string(b)
		}(i)
	}
	wg.Wait()
	for i, b := range bodies {
		if !strings.Contains(b, `"openapi"`) || b != bodies[0] {
			t.Fatalf("response %d differs or is empty", i)
		}
	}
}
