package acquisition

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SampleInterval is the cadence at which progress is reported to the
// download manager. It matches the observer's polling interval.
const SampleInterval = 200 * time.Millisecond

// rateTimeConstant is the time constant of the rate moving average.
const rateTimeConstant = time.Second

// rateMeter is a time-weighted exponential moving average of a byte counter.
type rateMeter struct {
	tau       float64
	rate      float64
	lastBytes int64
	lastTime  time.Time
	started   bool
}

func newRateMeter(tau time.Duration) *rateMeter {
	return &rateMeter{tau: tau.Seconds()}
}

// Update feeds the cumulative byte count observed at now and returns the
// smoothed rate in bytes per second.
func (m *rateMeter) Update(total int64, now time.Time) float64 {
	if !m.started {
		m.started = true
		m.lastBytes, m.lastTime = total, now
		return 0
	}
	dt := now.Sub(m.lastTime).Seconds()
	if dt <= 0 {
		return m.rate
	}
	inst := float64(total-m.lastBytes) / dt
	if inst < 0 {
		inst = 0
	}
	alpha := 1 - math.Exp(-dt/m.tau)
	m.rate += alpha * (inst - m.rate)
	m.lastBytes, m.lastTime = total, now
	return m.rate
}

// progressReporter accumulates writes from any number of goroutines and
// forwards them to a ProgressFunc at most once per SampleInterval.
type progressReporter struct {
	mu     sync.Mutex
	fn     ProgressFunc
	limit  int64
	done   int64
	meter  *rateMeter
	sample rate.Sometimes
	now    func() time.Time
}

// newProgressReporter returns a reporter clamping bytes to limit when
// limit > 0.
func newProgressReporter(fn ProgressFunc, limit int64) *progressReporter {
	return &progressReporter{
		fn:     fn,
		limit:  limit,
		meter:  newRateMeter(rateTimeConstant),
		sample: rate.Sometimes{Interval: SampleInterval},
		now:    time.Now,
	}
}

// Set replaces the byte count and reports it immediately. The first report
// ends the checking phase.
func (r *progressReporter) Set(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = r.clamp(n)
	r.emit()
}

// Add records n more bytes and reports if the sample interval has elapsed.
func (r *progressReporter) Add(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = r.clamp(r.done + n)
	r.sample.Do(r.emit)
}

func (r *progressReporter) emit() {
	bps := r.meter.Update(r.done, r.now())
	if r.fn != nil {
		r.fn(r.done, bps)
	}
}

func (r *progressReporter) clamp(n int64) int64 {
	if r.limit > 0 && n > r.limit {
		return r.limit
	}
	return n
}
