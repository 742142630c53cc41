package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionctl/internal/metrics"
	"missionctl/internal/observability"
)

func TestHTTPGatewayPostsDispatch(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL+"/", time.Second)
	require.NoError(t, gw.DispatchTask(context.Background(), "task-1"))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/tasks/task-1/dispatch", gotPath)
}

func TestHTTPGatewayReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPGateway(srv.URL, time.Second).DispatchTask(context.Background(), "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestHTTPGatewayTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := NewHTTPGateway(srv.URL, 50*time.Millisecond).DispatchTask(context.Background(), "t")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type gatewayFunc func(ctx context.Context, taskID string) error

func (f gatewayFunc) DispatchTask(ctx context.Context, taskID string) error { return f(ctx, taskID) }

func TestQueueDeliversAndReportsFailures(t *testing.T) {
	rec := metrics.NewRecorder()
	var mu sync.Mutex
	var failed []string
	gw := gatewayFunc(func(ctx context.Context, taskID string) error {
		if taskID == "bad" {
			return errors.New("unreachable")
		}
		return nil
	})
	q := NewQueue(gw, Options{
		Workers: 1,
		Logger:  observability.Discard(),
		Metrics: rec,
		OnFailure: func(ctx context.Context, taskID string, err error) {
			mu.Lock()
			failed = append(failed, taskID)
			mu.Unlock()
		},
	})
	assert.True(t, q.Enqueue("good"))
	assert.True(t, q.Enqueue("bad"))
	q.Close()

	assert.Equal(t, []string{"bad"}, failed)
	assert.False(t, q.Enqueue("late"), "closed queue rejects work")
	// success, failure and dropped series
	assert.Equal(t, 3, testutil.CollectAndCount(rec.Registry(), "missionctl_dispatch_total"))
}

func TestQueueDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	gw := gatewayFunc(func(ctx context.Context, taskID string) error {
		started <- struct{}{}
		<-block
		return nil
	})
	q := NewQueue(gw, Options{Workers: 1, QueueSize: 1, Logger: observability.Discard()})
	require.True(t, q.Enqueue("a"))
	<-started
	require.True(t, q.Enqueue("b"))
	assert.False(t, q.Enqueue("c"))
	close(block)
	q.Close()
}
