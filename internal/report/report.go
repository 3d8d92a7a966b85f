package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Report is the frozen outcome of a run. It is never mutated after Await
// returns it.
type Report struct {
	BeginInstant      time.Time
	CompleteInstant   time.Time
	RecordingDuration time.Duration

	// AverageCPUPercent is the time-weighted mean process CPU load, where one
	// fully busy core is 100. CPUCapacityPercent is the ceiling, 100 per core.
	AverageCPUPercent  float64
	CPUCapacityPercent int

	RequestCount  int64
	ResponseCount int64
	FailureCount  int64

	// ResponsesByClass counts responses by status class: index 0 is 1xx,
	// index 4 is 5xx. Other status codes count only in ResponseCount.
	ResponsesByClass [5]int64

	SentBytes     int64
	ReceivedBytes int64

	// ResponseTimes holds response latencies in nanoseconds.
	ResponseTimes *hdrhistogram.Histogram

	// FailuresByType counts failures by a human-friendly error type.
	FailuresByType map[string]int64
}

// Responses returns the response count for a status class from 1 to 5.
func (r *Report) Responses(class int) int64 {
	if class < 1 || class > len(r.ResponsesByClass) {
		return 0
	}
	return r.ResponsesByClass[class-1]
}

// RecordingSeconds is the recording duration at millisecond precision.
func (r *Report) RecordingSeconds() float64 {
	return float64(r.RecordingDuration.Milliseconds()) / 1000
}

func (r *Report) perSecond(n int64) float64 {
	secs := r.RecordingSeconds()
	if secs <= 0 {
		return 0
	}
	return float64(n) / secs
}

// RequestRate is requests queued per recorded second.
func (r *Report) RequestRate() float64 { return r.perSecond(r.RequestCount) }

// ResponseRate is responses received per recorded second.
func (r *Report) ResponseRate() float64 { return r.perSecond(r.ResponseCount) }

// SentBytesRate is request bytes written per recorded second.
func (r *Report) SentBytesRate() float64 { return r.perSecond(r.SentBytes) }

// ReceivedBytesRate is response bytes read per recorded second.
func (r *Report) ReceivedBytesRate() float64 { return r.perSecond(r.ReceivedBytes) }

// Reconciled reports whether every request has a recorded outcome.
func (r *Report) Reconciled() bool {
	return r.RequestCount == r.ResponseCount+r.FailureCount
}

// FailureTypes returns the failure types ordered by descending count, then name.
func (r *Report) FailureTypes() []string {
	kinds := make([]string, 0, len(r.FailuresByType))
	for kind := range r.FailuresByType {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool {
		ci, cj := r.FailuresByType[kinds[i]], r.FailuresByType[kinds[j]]
		if ci == cj {
			return kinds[i] < kinds[j]
		}
		return ci > cj
	})
	return kinds
}

func (r *Report) String() string {
	return fmt.Sprintf("Report{begin=%s, complete=%s, recording=%s, requests=%d, responses=%d, failures=%d, 1xx=%d, 2xx=%d, 3xx=%d, 4xx=%d, 5xx=%d, sent=%d, received=%d, cpu=%.3f/%d}",
		r.BeginInstant.Format(time.RFC3339), r.CompleteInstant.Format(time.RFC3339), r.RecordingDuration,
		r.RequestCount, r.ResponseCount, r.FailureCount,
		r.ResponsesByClass[0], r.ResponsesByClass[1], r.ResponsesByClass[2], r.ResponsesByClass[3], r.ResponsesByClass[4],
		r.SentBytes, r.ReceivedBytes, r.AverageCPUPercent, r.CPUCapacityPercent)
}
