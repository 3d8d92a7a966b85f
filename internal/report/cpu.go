package report

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// CPUProbe returns the process CPU utilisation, in percent of one core, since
// its previous call.
type CPUProbe func() (float64, error)

// NewProcessCPUProbe samples the current process through gopsutil. The first
// reading is taken immediately so the probe measures from its creation.
func NewProcessCPUProbe() (CPUProbe, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	if _, err := p.Percent(0); err != nil {
		return nil, err
	}
	return func() (float64, error) {
		return p.Percent(0)
	}, nil
}

// cpuSampler accumulates a time-weighted mean of probe readings.
type cpuSampler struct {
	probe    CPUProbe
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	started  bool
	last     time.Time
	weighted float64 // sum of percent × seconds
	elapsed  float64 // seconds covered by samples
	errs     int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newCPUSampler(probe CPUProbe, interval time.Duration) *cpuSampler {
	return &cpuSampler{
		probe:    probe,
		interval: interval,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *cpuSampler) start() {
	s.mu.Lock()
	s.started = true
	s.last = s.now()
	s.mu.Unlock()
	go s.loop()
}

func (s *cpuSampler) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sample()
		case <-s.stop:
			return
		}
	}
}

func (s *cpuSampler) sample() {
	v, err := s.probe()
	s.mu.Lock()
	defer s.mu.Unlock()
	at := s.now()
	dt := at.Sub(s.last).Seconds()
	s.last = at
	if err != nil {
		s.errs++
		return
	}
	if dt <= 0 {
		return
	}
	s.weighted += v * dt
	s.elapsed += dt
}

// finish takes a last sample covering the partial interval and returns the
// mean. It reports the number of failed probe calls.
func (s *cpuSampler) finish() (mean float64, errs int) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return 0, 0
	}
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.sample()
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.elapsed > 0 {
		mean = s.weighted / s.elapsed
	}
	return mean, s.errs
}
