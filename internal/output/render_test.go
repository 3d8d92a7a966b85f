package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/loadgen/internal/config"
	"github.com/torosent/loadgen/internal/report"
	"github.com/torosent/loadgen/internal/resource"
)

func pageTree(t *testing.T) *resource.Resource {
	t.Helper()
	tree, err := resource.Compile(resource.Spec{
		Path:     "/index.html",
		Children: []resource.Spec{{Path: "/style.css"}},
	})
	require.NoError(t, err)
	return tree
}

func runConfig(t *testing.T, rate float64) config.RunConfig {
	return config.RunConfig{
		Scheme:    "http",
		Host:      "localhost",
		Port:      8080,
		Transport: config.TransportHTTP1,
		Threads:   1,
		Resource:  pageTree(t),

		UsersPerThread:      1,
		IterationsPerThread: 1,
		ResourceRate:        rate,
	}
}

func sampleReport(withResponses bool) *report.Report {
	begin := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rep := &report.Report{
		BeginInstant:       begin,
		CompleteInstant:    begin.Add(2 * time.Second),
		RecordingDuration:  2 * time.Second,
		AverageCPUPercent:  37.5,
		CPUCapacityPercent: 800,
		RequestCount:       100,
		ResponseTimes:      hdrHistogram(),
		FailuresByType:     map[string]int64{},
	}
	if withResponses {
		rep.ResponseCount = 98
		rep.FailureCount = 2
		rep.ResponsesByClass = [5]int64{0, 90, 3, 4, 1}
		rep.SentBytes = 8000
		rep.ReceivedBytes = 20000
		rep.FailuresByType["Connection closed"] = 2
		for i := range 98 {
			_ = rep.ResponseTimes.RecordValue(int64(time.Duration(i+1) * time.Millisecond))
		}
	}
	return rep
}

func indexOf(lines []string, prefix string) int {
	for i, line := range lines {
		if strings.HasPrefix(line, prefix) {
			return i
		}
	}
	return -1
}

func TestRenderSectionOrder(t *testing.T) {
	lines := Render(runConfig(t, 10), sampleReport(true))

	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, "", lines[0])
	assert.Equal(t, banner, lines[1])
	assert.Equal(t, title, lines[2])
	assert.Equal(t, banner, lines[3])
	assert.Equal(t, "http://localhost:8080 over http/1.1", lines[4])
	assert.Equal(t, "resource tree     : 2 resource(s)", lines[5])
	assert.Equal(t, banner, lines[len(lines)-1])

	order := []string{
		"begin date time   : ",
		"complete date time: ",
		"recording time    : 2.000 s",
		"average cpu load  : 37.500/800",
		"histogram:",
		"nominal resource rate (resources/s): 10.000",
		"nominal request rate (requests/s)  : 20.000",
		"request rate (requests/s)          : 50.000",
		"response rate (responses/s)        : 49.000",
		"send rate (bytes/s)                : 4000.000",
		"receive rate (bytes/s)             : 10000.000",
		"failures          : 2",
		"response 1xx group: 0",
		"response 2xx group: 90",
		"response 3xx group: 3",
		"response 4xx group: 4",
		"response 5xx group: 1",
	}
	last := -1
	for _, prefix := range order {
		i := indexOf(lines, prefix)
		require.NotEqual(t, -1, i, "missing %q", prefix)
		assert.Greater(t, i, last, "%q out of order", prefix)
		last = i
	}
}

func TestRenderTimestampsInLocalZone(t *testing.T) {
	rep := sampleReport(false)
	lines := Render(runConfig(t, 0), rep)

	want := "begin date time   : " + rep.BeginInstant.Local().Format("2006-01-02 15:04:05 MST")
	assert.Contains(t, lines, want)
}

func TestRenderNominalRateZeroWhenUnthrottled(t *testing.T) {
	cfg := runConfig(t, 0)
	assert.Zero(t, NominalRequestRate(cfg))

	lines := Render(cfg, sampleReport(true))
	assert.Contains(t, lines, "nominal request rate (requests/s)  : 0.000")
}

func TestRenderOmitsEmptyHistogram(t *testing.T) {
	lines := Render(runConfig(t, 5), sampleReport(false))

	assert.Equal(t, -1, indexOf(lines, "histogram:"))
	assert.Equal(t, -1, indexOf(lines, "response times"))
	for i := 1; i < len(lines); i++ {
		assert.False(t, lines[i] == "" && lines[i-1] == "", "consecutive blank lines at %d", i)
	}
}

func TestRenderHistogramSection(t *testing.T) {
	lines := Render(runConfig(t, 5), sampleReport(true))

	start := indexOf(lines, "histogram:")
	require.NotEqual(t, -1, start)
	assert.True(t, strings.HasPrefix(lines[start+1], "response times (ms): samples=98"))
	assert.Len(t, lines[start+2:start+2+histogramBuckets], histogramBuckets)
	assert.Equal(t, "", lines[start+2+histogramBuckets])
}

func TestRenderIsDeterministic(t *testing.T) {
	cfg := runConfig(t, 10)
	rep := sampleReport(true)
	assert.Equal(t, Render(cfg, rep), Render(cfg, rep))
}

func TestRenderZeroRecordingDuration(t *testing.T) {
	rep := sampleReport(true)
	rep.RecordingDuration = 0
	lines := Render(runConfig(t, 0), rep)
	assert.Contains(t, lines, "request rate (requests/s)          : 0.000")
	assert.Contains(t, lines, "recording time    : 0.000 s")
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, []string{"a", "", "b"}))
	assert.Equal(t, "a\n\nb\n", buf.String())
}

func TestPrintReportLogsEachLine(t *testing.T) {
	log, hook := test.NewNullLogger()
	lines := Render(runConfig(t, 1), sampleReport(true))

	PrintReport(log, lines)

	entries := hook.AllEntries()
	require.Len(t, entries, len(lines))
	for i, e := range entries {
		assert.Equal(t, logrus.InfoLevel, e.Level)
		assert.Equal(t, lines[i], e.Message)
	}
}

func TestPrintFailureBreakdown(t *testing.T) {
	log, hook := test.NewNullLogger()
	rep := sampleReport(true)
	rep.FailuresByType["DNS error"] = 7

	PrintFailureBreakdown(log, rep)

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, logrus.WarnLevel, entries[0].Level)
	assert.Equal(t, "DNS error", entries[0].Data["type"])
	assert.Equal(t, int64(7), entries[0].Data["count"])
	assert.Equal(t, "Connection closed", entries[1].Data["type"])

	hook.Reset()
	PrintFailureBreakdown(log, sampleReport(false))
	assert.Empty(t, hook.AllEntries())
}
