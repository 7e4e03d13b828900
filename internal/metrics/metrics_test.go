package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keilerkonzept/live-score-monitor/internal/channel"
)

func TestDurationRingWraps(t *testing.T) {
	r := newDurationRing(3)
	assert.Equal(t, DurationStats{}, r.snapshot())

	for _, ms := range []int{1, 2, 3, 10} {
		r.add(time.Duration(ms) * time.Millisecond)
	}
	snap := r.snapshot()
	assert.Equal(t, 3, snap.N)
	assert.Equal(t, 10*time.Millisecond, snap.Last)
	assert.Equal(t, 10*time.Millisecond, snap.Max)
	assert.Equal(t, 5*time.Millisecond, snap.Avg)
}

func TestStatsCounts(t *testing.T) {
	s := NewStats(16, nil)
	base := time.Unix(1000, 0)

	s.ObserveMessage(channel.Advance, base)
	s.ObserveFrame(0, 2*time.Millisecond)
	s.ObserveMessage(channel.Unknown, base.Add(30*time.Second))
	s.ObserveMessage(channel.Advance, base.Add(60*time.Second))
	s.ObserveFrame(1, 4*time.Millisecond)
	s.ObserveRejected()

	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.Advances)
	assert.Equal(t, uint64(1), snap.Unknowns)
	assert.Equal(t, uint64(2), snap.Frames)
	assert.Equal(t, uint64(1), snap.Rejected)
	assert.Equal(t, 1, snap.LastSlot)
	assert.False(t, snap.LastFrame.IsZero())
	assert.InDelta(t, 2.0, snap.PerMinute, 1e-9)
	assert.Equal(t, 3*time.Millisecond, snap.Render.Avg)
	assert.Equal(t, 30*time.Second, snap.Gaps.Max)
}

func TestStatsDisabled(t *testing.T) {
	s := NewStats(4, nil)
	s.SetEnabled(false)
	s.ObserveMessage(channel.Advance, time.Now())
	s.ObserveFrame(0, time.Millisecond)
	assert.Equal(t, Snapshot{LastSlot: -1}, s.Snapshot())
}

func TestExporter(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewStats(4, NewExporter(reg))

	s.ObserveMessage(channel.Advance, time.Now())
	s.ObserveMessage(channel.Unknown, time.Now())
	s.ObserveFrame(3, time.Millisecond)
	s.ObserveRejected()

	assert.Equal(t, 1.0, testutil.ToFloat64(s.exporter.messages.WithLabelValues("advance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.exporter.messages.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.exporter.frames))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.exporter.rejected))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.exporter.slot))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 5)
}
