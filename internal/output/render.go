package output

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torosent/loadgen/internal/config"
	"github.com/torosent/loadgen/internal/report"
)

const (
	banner     = "----------------------------------------------------"
	title      = "-------------  Load Generator Report  --------------"
	timeLayout = "2006-01-02 15:04:05 MST"

	histogramBuckets = 20
)

func nanosToMillis(v int64) float64 {
	return float64(v) / float64(time.Millisecond)
}

// NominalRequestRate is the configured resource rate scaled by the number of
// resources in each iteration.
func NominalRequestRate(cfg config.RunConfig) float64 {
	return cfg.ResourceRate * float64(cfg.Resource.DescendantCount())
}

// Render formats a finalized report as an ordered list of lines. Timestamps
// are shown in the local time zone.
func Render(cfg config.RunConfig, rep *report.Report) []string {
	resources := cfg.Resource.DescendantCount()

	lines := []string{
		"",
		banner,
		title,
		banner,
		fmt.Sprintf("%s://%s:%d over %s", cfg.Scheme, cfg.Host, cfg.Port, cfg.Transport.Describe(cfg.Scheme)),
		fmt.Sprintf("resource tree     : %d resource(s)", resources),
		fmt.Sprintf("begin date time   : %s", rep.BeginInstant.Local().Format(timeLayout)),
		fmt.Sprintf("complete date time: %s", rep.CompleteInstant.Local().Format(timeLayout)),
		fmt.Sprintf("recording time    : %.3f s", rep.RecordingSeconds()),
		fmt.Sprintf("average cpu load  : %.3f/%d", rep.AverageCPUPercent, rep.CPUCapacityPercent),
		"",
	}

	if rep.ResponseTimes != nil && rep.ResponseTimes.TotalCount() > 0 {
		snap := NewHistogramSnapshot(rep.ResponseTimes, histogramBuckets, "response times", "ms", nanosToMillis)
		lines = append(lines, "histogram:")
		lines = append(lines, snap.Lines()...)
		lines = append(lines, "")
	}

	lines = append(lines,
		fmt.Sprintf("nominal resource rate (resources/s): %.3f", cfg.ResourceRate),
		fmt.Sprintf("nominal request rate (requests/s)  : %.3f", NominalRequestRate(cfg)),
		fmt.Sprintf("request rate (requests/s)          : %.3f", rep.RequestRate()),
		fmt.Sprintf("response rate (responses/s)        : %.3f", rep.ResponseRate()),
		fmt.Sprintf("send rate (bytes/s)                : %.3f", rep.SentBytesRate()),
		fmt.Sprintf("receive rate (bytes/s)             : %.3f", rep.ReceivedBytesRate()),
		fmt.Sprintf("failures          : %d", rep.FailureCount),
	)
	for class := 1; class <= 5; class++ {
		lines = append(lines, fmt.Sprintf("response %dxx group: %d", class, rep.Responses(class)))
	}
	return append(lines, banner)
}

// PrintReport logs each line at info level.
func PrintReport(log logrus.FieldLogger, lines []string) {
	for _, line := range lines {
		log.Info(line)
	}
}

// WriteReport writes the lines to w, newline terminated.
func WriteReport(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// PrintFailureBreakdown logs the failure count per error type, most frequent
// first. Nothing is logged for a run without failures.
func PrintFailureBreakdown(log logrus.FieldLogger, rep *report.Report) {
	for _, kind := range rep.FailureTypes() {
		log.WithFields(logrus.Fields{
			"type":  kind,
			"count": rep.FailuresByType[kind],
		}).Warn("request failures")
	}
}
