package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionctl/internal/domain"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()
	r.ObserveRoute(ModeApplied)
	r.ObserveRoute(ModeApplied)
	r.ObserveRoute(ModePreview)
	r.ObserveDispatch(DispatchFailure)
	r.ObserveMentions(2)
	r.ObserveLateScan(map[string][]domain.Task{domain.TaskReview: {{ID: "t1"}, {ID: "t2"}}})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.routeDecisions.WithLabelValues(ModeApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.routeDecisions.WithLabelValues(ModePreview)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.dispatchResults.WithLabelValues(DispatchFailure)))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.mentionsCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.lateTasks.WithLabelValues(domain.TaskReview)))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.lateTasks.WithLabelValues(domain.TaskAssigned)))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveRoute(ModeApplied)
	r.ObserveDispatch(DispatchSuccess)
	r.ObserveMentions(1)
	r.ObserveLateScan(nil)
}

func TestHandlerServesRegistry(t *testing.T) {
	r := NewRecorder()
	r.ObserveDispatch(DispatchSuccess)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `missionctl_dispatch_total{result="success"} 1`))
}
