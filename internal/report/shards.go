package report

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	shardCount = 16

	// Response times are tracked from 1µs up to 60s, in nanoseconds, with 3
	// significant figures.
	lowestTrackableNanos  = int64(time.Microsecond)
	highestTrackableNanos = int64(60 * time.Second)
	significantFigures    = 3
)

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(lowestTrackableNanos, highestTrackableNanos, significantFigures)
}

// shard holds one slice of the response-time and failure data. Each has its
// own lock so concurrent recorders rarely contend.
type shard struct {
	mu       sync.Mutex
	hist     *hdrhistogram.Histogram
	failures map[string]int64
}

type shardedStats struct {
	shards [shardCount]*shard
}

func newShardedStats() *shardedStats {
	s := &shardedStats{}
	for i := range s.shards {
		s.shards[i] = &shard{
			hist:     newHistogram(),
			failures: make(map[string]int64),
		}
	}
	return s
}

func (s *shardedStats) pick() *shard {
	return s.shards[rand.IntN(shardCount)]
}

func (s *shardedStats) recordLatency(d time.Duration) {
	v := int64(d)
	if v < lowestTrackableNanos {
		v = lowestTrackableNanos
	}
	if v > highestTrackableNanos {
		v = highestTrackableNanos
	}
	sh := s.pick()
	sh.mu.Lock()
	_ = sh.hist.RecordValue(v)
	sh.mu.Unlock()
}

func (s *shardedStats) recordFailure(kind string) {
	sh := s.pick()
	sh.mu.Lock()
	sh.failures[kind]++
	sh.mu.Unlock()
}

// merge combines every shard into a fresh histogram and failure map.
func (s *shardedStats) merge() (*hdrhistogram.Histogram, map[string]int64) {
	hist := newHistogram()
	failures := make(map[string]int64)
	for _, sh := range s.shards {
		sh.mu.Lock()
		hist.Merge(sh.hist)
		for kind, n := range sh.failures {
			failures[kind] += n
		}
		sh.mu.Unlock()
	}
	return hist, failures
}
