package report_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/loadgen/internal/engine"
	"github.com/torosent/loadgen/internal/report"
)

func newListener() *report.Listener {
	return report.NewListener(report.WithCPUProbe(func() (float64, error) { return 25, nil }))
}

func ok(latency time.Duration) engine.Response {
	return engine.Response{StatusCode: 200, SentBytes: 10, ReceivedBytes: 100, Latency: latency}
}

func TestListenerAccumulatesUnderConcurrency(t *testing.T) {
	l := newListener()
	begin := time.Now()
	l.OnBegin(begin)

	const workers, perWorker = 64, 500
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				l.OnRequestQueued()
				if (w+i)%50 == 0 {
					l.OnFailure(errors.New("boom"))
					continue
				}
				l.OnResponse(ok(time.Duration(i+1) * time.Millisecond))
			}
		}()
	}
	wg.Wait()
	l.OnComplete(begin.Add(2 * time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rep, err := l.Await(ctx)
	require.NoError(t, err)

	total := int64(workers * perWorker)
	assert.Equal(t, total, rep.RequestCount)
	assert.Equal(t, total, rep.ResponseCount+rep.FailureCount)
	assert.True(t, rep.Reconciled())
	assert.Equal(t, rep.ResponseCount, rep.Responses(2))
	assert.Equal(t, rep.ResponseCount, rep.ResponseTimes.TotalCount())
	assert.Equal(t, rep.FailureCount, rep.FailuresByType["Error"])
	assert.Equal(t, rep.ResponseCount*10, rep.SentBytes)
	assert.Equal(t, rep.ResponseCount*100, rep.ReceivedBytes)
	assert.Equal(t, 2*time.Second, rep.RecordingDuration)
}

func TestListenerWaitsForOutstandingRequests(t *testing.T) {
	l := newListener()
	begin := time.Now()
	l.OnBegin(begin)
	for range 1000 {
		l.OnRequestQueued()
	}
	for range 980 {
		l.OnResponse(ok(time.Millisecond))
	}
	for range 5 {
		l.OnFailure(errors.New("boom"))
	}
	l.OnComplete(begin.Add(time.Second))

	select {
	case <-l.Done():
		t.Fatal("report finalized with requests outstanding")
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Await(ctx)
	require.ErrorIs(t, err, report.ErrFinalizationTimeout)

	var fe *report.FinalizationError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Completed)
	assert.Equal(t, int64(1000), fe.Queued)
	assert.Equal(t, int64(985), fe.Settled)

	for range 15 {
		l.OnFailure(errors.New("late"))
	}

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("report not finalized after the last failure")
	}
	rep, err := l.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rep.RequestCount)
	assert.Equal(t, int64(980), rep.ResponseCount)
	assert.Equal(t, int64(20), rep.FailureCount)
}

func TestListenerDoesNotFinalizeBeforeComplete(t *testing.T) {
	l := newListener()
	l.OnBegin(time.Now())
	l.OnRequestQueued()
	l.OnResponse(ok(time.Millisecond))

	select {
	case <-l.Done():
		t.Fatal("report finalized before OnComplete")
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Await(ctx)
	var fe *report.FinalizationError
	require.ErrorAs(t, err, &fe)
	assert.False(t, fe.Completed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, report.ErrFinalizationTimeout)
}

func TestListenerAwaitReturnsSameReport(t *testing.T) {
	l := newListener()
	begin := time.Now()
	l.OnBegin(begin)
	l.OnRequestQueued()
	l.OnResponse(ok(time.Millisecond))
	l.OnComplete(begin.Add(time.Second))

	first, err := l.Await(context.Background())
	require.NoError(t, err)

	// Events after finalization do not leak into the frozen report.
	l.OnRequestQueued()
	l.OnResponse(ok(time.Millisecond))

	second, err := l.Await(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int64(1), second.RequestCount)
}

func TestListenerStatusClasses(t *testing.T) {
	l := newListener()
	begin := time.Now()
	l.OnBegin(begin)
	for _, code := range []int{100, 204, 302, 404, 418, 503, 99, 600} {
		l.OnRequestQueued()
		l.OnResponse(engine.Response{StatusCode: code, Latency: time.Millisecond})
	}
	l.OnComplete(begin.Add(time.Second))

	rep, err := l.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8), rep.ResponseCount)
	assert.Equal(t, [5]int64{1, 1, 1, 2, 1}, rep.ResponsesByClass)
	assert.Equal(t, int64(2), rep.Responses(4))
	assert.Zero(t, rep.Responses(6))
}

func TestListenerEmptyRun(t *testing.T) {
	l := newListener()
	begin := time.Now()
	l.OnBegin(begin)
	l.OnComplete(begin.Add(500 * time.Millisecond))

	rep, err := l.Await(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.RequestCount)
	assert.Zero(t, rep.ResponseTimes.TotalCount())
	assert.Zero(t, rep.RequestRate())
	assert.Empty(t, rep.FailuresByType)
}

func TestListenerAverageCPU(t *testing.T) {
	l := report.NewListener(
		report.WithCPUProbe(func() (float64, error) { return 50, nil }),
		report.WithCPUSampleInterval(2*time.Millisecond),
	)
	begin := time.Now()
	l.OnBegin(begin)
	time.Sleep(20 * time.Millisecond)
	l.OnComplete(time.Now())

	rep, err := l.Await(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 50.0, rep.AverageCPUPercent, 1e-9)
	assert.Positive(t, rep.CPUCapacityPercent)
	assert.Zero(t, rep.CPUCapacityPercent%100)
}

func TestListenerLive(t *testing.T) {
	l := newListener()
	begin := time.Now()
	l.OnBegin(begin)
	l.OnRequestQueued()
	l.OnRequestQueued()
	l.OnResponse(ok(time.Millisecond))

	c := l.Live()
	assert.Equal(t, begin, c.Begin)
	assert.Equal(t, int64(2), c.Requests)
	assert.Equal(t, int64(1), c.Responses)
	assert.Zero(t, c.Failures)
	assert.False(t, c.Completed)
}

func TestReportRates(t *testing.T) {
	rep := &report.Report{
		RecordingDuration: 2 * time.Second,
		RequestCount:      100,
		ResponseCount:     80,
		SentBytes:         4000,
		ReceivedBytes:     1000,
	}
	assert.InDelta(t, 50.0, rep.RequestRate(), 1e-9)
	assert.InDelta(t, 40.0, rep.ResponseRate(), 1e-9)
	assert.InDelta(t, 2000.0, rep.SentBytesRate(), 1e-9)
	assert.InDelta(t, 500.0, rep.ReceivedBytesRate(), 1e-9)

	sub := &report.Report{RecordingDuration: 900 * time.Microsecond, RequestCount: 3}
	assert.Zero(t, sub.RequestRate())
}

func TestReportFailureTypesOrdering(t *testing.T) {
	rep := &report.Report{FailuresByType: map[string]int64{
		"DNS error":         2,
		"Connection closed": 5,
		"Error":             2,
	}}
	assert.Equal(t, []string{"Connection closed", "DNS error", "Error"}, rep.FailureTypes())
}
