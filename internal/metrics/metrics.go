// Package metrics keeps the monitor's running numbers: message counts,
// redraw latency and message gaps over a window of recent samples.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/keilerkonzept/live-score-monitor/internal/channel"
)

type durationRing struct {
	buf   []time.Duration
	idx   int
	count int
}

func newDurationRing(n int) *durationRing {
	if n < 1 {
		n = 1
	}
	return &durationRing{buf: make([]time.Duration, n)}
}

func (r *durationRing) add(d time.Duration) {
	r.buf[r.idx] = d
	r.idx = (r.idx + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// DurationStats summarizes the samples currently in a ring.
type DurationStats struct {
	Last time.Duration
	Max  time.Duration
	Avg  time.Duration
	N    int
}

func (r *durationRing) snapshot() DurationStats {
	if r.count == 0 {
		return DurationStats{}
	}
	var sum, max time.Duration
	for _, d := range r.buf[:r.count] {
		sum += d
		if d > max {
			max = d
		}
	}
	last := r.buf[(r.idx-1+len(r.buf))%len(r.buf)]
	return DurationStats{
		Last: last,
		Max:  max,
		Avg:  sum / time.Duration(r.count),
		N:    r.count,
	}
}

// Stats implements animator.Observer. Counters are atomic; the rings are
// guarded by mu because the UI reads them from View.
type Stats struct {
	enabled atomic.Bool

	startedNs   atomic.Int64
	firstMsgNs  atomic.Int64
	lastMsgNs   atomic.Int64
	advances    atomic.Uint64
	unknowns    atomic.Uint64
	frames      atomic.Uint64
	rejected    atomic.Uint64
	lastSlot    atomic.Int64
	lastFrameNs atomic.Int64

	mu     sync.Mutex
	render *durationRing
	gaps   *durationRing

	exporter *Exporter
}

// NewStats keeps window samples per ring. exporter may be nil.
func NewStats(window int, exporter *Exporter) *Stats {
	s := &Stats{
		render:   newDurationRing(window),
		gaps:     newDurationRing(window),
		exporter: exporter,
	}
	s.enabled.Store(true)
	s.startedNs.Store(time.Now().UnixNano())
	s.lastSlot.Store(-1)
	return s
}

func (s *Stats) SetEnabled(v bool) { s.enabled.Store(v) }
func (s *Stats) Enabled() bool     { return s.enabled.Load() }

func (s *Stats) ObserveMessage(kind channel.Kind, now time.Time) {
	if s.exporter != nil {
		s.exporter.messages.WithLabelValues(kind.String()).Inc()
	}
	if !s.Enabled() {
		return
	}
	if now.IsZero() {
		now = time.Now()
	}
	nowNs := now.UnixNano()
	s.firstMsgNs.CompareAndSwap(0, nowNs)
	if prev := s.lastMsgNs.Swap(nowNs); prev != 0 && nowNs > prev {
		s.mu.Lock()
		s.gaps.add(time.Duration(nowNs - prev))
		s.mu.Unlock()
	}
	if kind == channel.Advance {
		s.advances.Add(1)
		return
	}
	s.unknowns.Add(1)
}

func (s *Stats) ObserveFrame(slot int, took time.Duration) {
	if s.exporter != nil {
		s.exporter.frames.Inc()
		s.exporter.renderSeconds.Observe(took.Seconds())
		s.exporter.slot.Set(float64(slot))
	}
	if !s.Enabled() {
		return
	}
	s.frames.Add(1)
	s.lastSlot.Store(int64(slot))
	s.lastFrameNs.Store(time.Now().UnixNano())
	s.mu.Lock()
	s.render.add(took)
	s.mu.Unlock()
}

// ObserveRejected counts a channel candidate that failed the handshake.
func (s *Stats) ObserveRejected() {
	if s.exporter != nil {
		s.exporter.rejected.Inc()
	}
	s.rejected.Add(1)
}

type Snapshot struct {
	Started   time.Time
	Advances  uint64
	Unknowns  uint64
	Frames    uint64
	Rejected  uint64
	LastSlot  int
	LastFrame time.Time
	// PerMinute is the average message rate between the first and last
	// message.
	PerMinute float64
	Render    DurationStats
	Gaps      DurationStats
}

func (s *Stats) Snapshot() Snapshot {
	if !s.Enabled() {
		return Snapshot{LastSlot: -1}
	}
	snap := Snapshot{
		Started:  time.Unix(0, s.startedNs.Load()),
		Advances: s.advances.Load(),
		Unknowns: s.unknowns.Load(),
		Frames:   s.frames.Load(),
		Rejected: s.rejected.Load(),
		LastSlot: int(s.lastSlot.Load()),
	}
	if ns := s.lastFrameNs.Load(); ns != 0 {
		snap.LastFrame = time.Unix(0, ns)
	}
	first, last := s.firstMsgNs.Load(), s.lastMsgNs.Load()
	if first != 0 && last > first {
		active := time.Duration(last - first)
		snap.PerMinute = float64(snap.Advances+snap.Unknowns-1) / active.Minutes()
	}
	s.mu.Lock()
	snap.Render = s.render.snapshot()
	snap.Gaps = s.gaps.snapshot()
	s.mu.Unlock()
	return snap
}
