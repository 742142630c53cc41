package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"missionctl/internal/domain"
	"missionctl/internal/observability"
)

type fakeScanner struct {
	calls   atomic.Int32
	repeat  int
	mark    bool
	now     time.Time
	err     error
	started chan struct{}
	block   chan struct{}
}

func (f *fakeScanner) ScanLateTasks(ctx context.Context, now time.Time, repeat int, mark bool) (domain.LateScan, error) {
	f.calls.Add(1)
	f.now, f.repeat, f.mark = now, repeat, mark
	if f.started != nil {
		f.started <- struct{}{}
		<-f.block
	}
	if f.err != nil {
		return domain.LateScan{}, f.err
	}
	return domain.LateScan{
		Total:           1,
		Marked:          mark,
		GroupedByStatus: map[string][]domain.Task{domain.TaskReview: {{ID: "t1"}}},
	}, nil
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(&fakeScanner{}, Options{Schedule: "not a schedule"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid alerts schedule")
}

func TestRunOncePassesOptions(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	scanner := &fakeScanner{}
	var seen domain.LateScan
	p, err := New(scanner, Options{
		Schedule:           "@every 1m",
		RepeatAfterMinutes: 30,
		Mark:               true,
		Logger:             observability.Discard(),
		Now:                func() time.Time { return fixed },
		OnScan:             func(res domain.LateScan) { seen = res },
	})
	require.NoError(t, err)

	assert.True(t, p.RunOnce(context.Background()))
	assert.Equal(t, int32(1), scanner.calls.Load())
	assert.Equal(t, 30, scanner.repeat)
	assert.True(t, scanner.mark)
	assert.Equal(t, fixed, scanner.now)
	assert.Equal(t, 1, seen.Total)
}

func TestRunOnceSkipsOverlap(t *testing.T) {
	scanner := &fakeScanner{started: make(chan struct{}), block: make(chan struct{})}
	p, err := New(scanner, Options{Schedule: "@every 1m", Logger: observability.Discard()})
	require.NoError(t, err)

	done := make(chan bool)
	go func() { done <- p.RunOnce(context.Background()) }()
	<-scanner.started

	assert.False(t, p.RunOnce(context.Background()))
	close(scanner.block)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), scanner.calls.Load())
}

func TestRunOnceErrorSkipsCallback(t *testing.T) {
	called := false
	p, err := New(&fakeScanner{err: errors.New("db locked")}, Options{
		Schedule: "*/5 * * * *",
		Logger:   observability.Discard(),
		OnScan:   func(domain.LateScan) { called = true },
	})
	require.NoError(t, err)
	assert.True(t, p.RunOnce(context.Background()))
	assert.False(t, called)
}

func TestStartStop(t *testing.T) {
	p, err := New(&fakeScanner{}, Options{Schedule: "@every 1h", Logger: observability.Discard()})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
	p.Stop()
}
