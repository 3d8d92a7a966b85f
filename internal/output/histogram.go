package output

import (
	"fmt"
	"strings"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// markedPercentiles are annotated on the bucket where the cumulative share
// first reaches them. Ascending.
var markedPercentiles = []float64{50, 90, 99, 99.9}

// HistogramSnapshot is a fixed-bucket text rendering of a histogram. It is
// computed once from the histogram and never changes afterwards.
type HistogramSnapshot struct {
	Title   string
	Unit    string
	Samples int64
	Min     float64
	Max     float64
	Mean    float64
	StdDev  float64
	Buckets []HistogramBucket
}

// HistogramBucket is one linear slice of the recorded range.
type HistogramBucket struct {
	From        float64
	To          float64
	Count       int64
	Percent     float64
	Percentiles []float64
}

// NewHistogramSnapshot splits the range [min, max] of h into at most buckets
// equal-width slices. convert maps recorded values into the display unit.
func NewHistogramSnapshot(h *hdrhistogram.Histogram, buckets int, title, unit string, convert func(int64) float64) HistogramSnapshot {
	snap := HistogramSnapshot{Title: title, Unit: unit, Samples: h.TotalCount()}
	if snap.Samples == 0 || buckets <= 0 {
		return snap
	}

	lo, hi := h.Min(), h.Max()
	snap.Min = convert(lo)
	snap.Max = convert(hi)
	snap.Mean = convert(int64(h.Mean()))
	snap.StdDev = convert(int64(h.StdDev()))

	span := hi - lo + 1
	if int64(buckets) > span {
		buckets = int(span)
	}
	width := (span + int64(buckets) - 1) / int64(buckets)

	index := func(v int64) int {
		i := int((v - lo) / width)
		switch {
		case i < 0:
			return 0
		case i >= buckets:
			return buckets - 1
		}
		return i
	}

	snap.Buckets = make([]HistogramBucket, buckets)
	for i := range snap.Buckets {
		from := lo + int64(i)*width
		snap.Buckets[i].From = convert(from)
		snap.Buckets[i].To = convert(from + width - 1)
	}
	for _, bar := range h.Distribution() {
		if bar.Count == 0 {
			continue
		}
		snap.Buckets[index(bar.From)].Count += bar.Count
	}
	var cumulative int64
	next := 0
	for i := range snap.Buckets {
		b := &snap.Buckets[i]
		b.Percent = float64(b.Count) * 100 / float64(snap.Samples)
		cumulative += b.Count
		reached := float64(cumulative) * 100 / float64(snap.Samples)
		for next < len(markedPercentiles) && reached >= markedPercentiles[next] {
			b.Percentiles = append(b.Percentiles, markedPercentiles[next])
			next++
		}
	}
	return snap
}

// Lines renders the snapshot, one text line per element.
func (s HistogramSnapshot) Lines() []string {
	lines := []string{fmt.Sprintf("%s (%s): samples=%d min=%.3f max=%.3f mean=%.3f stddev=%.3f",
		s.Title, s.Unit, s.Samples, s.Min, s.Max, s.Mean, s.StdDev)}
	for _, b := range s.Buckets {
		line := fmt.Sprintf("%10.3f - %10.3f | %8d (%6.2f%%) %s",
			b.From, b.To, b.Count, b.Percent, bar(b.Percent))
		if len(b.Percentiles) > 0 {
			marks := make([]string, len(b.Percentiles))
			for i, p := range b.Percentiles {
				marks[i] = fmt.Sprintf("^%g%%", p)
			}
			line += " " + strings.Join(marks, " ")
		}
		lines = append(lines, strings.TrimRight(line, " "))
	}
	return lines
}

func (s HistogramSnapshot) String() string {
	return strings.Join(s.Lines(), "\n")
}

// bar draws a proportional bar, one mark per 2.5%.
func bar(percent float64) string {
	return strings.Repeat("*", int(percent/2.5))
}
