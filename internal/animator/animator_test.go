package animator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keilerkonzept/live-score-monitor/internal/channel"
	"github.com/keilerkonzept/live-score-monitor/internal/series"
)

type recordingSurface struct {
	ops     []string
	plotted []string
	limits  []Bounds
	closed  int
}

func (s *recordingSurface) Clear() { s.ops = append(s.ops, "clear") }
func (s *recordingSurface) SetLimits(b Bounds) {
	s.ops = append(s.ops, "limits")
	s.limits = append(s.limits, b)
}
func (s *recordingSurface) Plot(ts series.TimeSeries) {
	s.ops = append(s.ops, "plot")
	s.plotted = append(s.plotted, ts.Name)
}
func (s *recordingSurface) Present() error { s.ops = append(s.ops, "present"); return nil }
func (s *recordingSurface) Close() error   { s.closed++; return nil }

func registry(t *testing.T, n int) *series.Registry {
	t.Helper()
	r := series.NewRegistry()
	for i := 0; i < n; i++ {
		_, err := r.Register(series.TimeSeries{
			Name:       fmt.Sprintf("run-%d", i),
			TimePoints: []float64{0, 1},
			Scores:     []float64{1, 2},
		})
		require.NoError(t, err)
	}
	return r
}

func newAnimator(t *testing.T, slots int) (*Animator, *recordingSurface) {
	t.Helper()
	surface := &recordingSurface{}
	a := New(registry(t, slots), surface, nil)
	require.NoError(t, a.Initialize(DefaultBounds))
	return a, surface
}

var (
	advance = channel.Message{Kind: channel.Advance, Payload: "next"}
	unknown = channel.Message{Kind: channel.Unknown, Payload: "checkpoint"}
)

func TestInitializeDrawsEmptyFrame(t *testing.T) {
	a, surface := newAnimator(t, 4)
	assert.Equal(t, []string{"clear", "limits", "present"}, surface.ops)
	assert.Equal(t, []Bounds{DefaultBounds}, surface.limits)
	assert.Equal(t, 0, a.CurrentSlot())
	assert.Equal(t, 4, a.Slots())
	assert.Equal(t, Idle, a.State())
}

func TestInitializeRejects(t *testing.T) {
	a := New(registry(t, 0), &recordingSurface{}, nil)
	assert.Error(t, a.Initialize(DefaultBounds))

	a = New(registry(t, 1), &recordingSurface{}, nil)
	assert.Error(t, a.Initialize(Bounds{XMin: 5, XMax: 5, YMin: 0, YMax: 1}))

	_, err := a.OnMessage(advance)
	assert.True(t, errors.Is(err, ErrNotInitialized))
}

func TestAdvanceCyclesSlots(t *testing.T) {
	a, surface := newAnimator(t, 4)

	var seen []int
	for i := 0; i < 5; i++ {
		frame, err := a.OnMessage(advance)
		require.NoError(t, err)
		assert.True(t, frame.Redrawn)
		seen = append(seen, frame.Slot)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 0}, seen)
	assert.Equal(t, []string{"run-0", "run-1", "run-2", "run-3", "run-0"}, surface.plotted)
	assert.Equal(t, 1, a.CurrentSlot())
}

func TestCursorPeriodIsSlotCount(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 7} {
		a, _ := newAnimator(t, n)
		start := a.CurrentSlot()
		for i := 0; i < n; i++ {
			_, err := a.OnMessage(advance)
			require.NoError(t, err)
		}
		assert.Equal(t, start, a.CurrentSlot(), "slots=%d", n)
	}
}

func TestEveryAdvanceRedrawsFromScratch(t *testing.T) {
	a, surface := newAnimator(t, 2)
	surface.ops = nil

	_, err := a.OnMessage(advance)
	require.NoError(t, err)
	_, err = a.OnMessage(advance)
	require.NoError(t, err)

	frame := []string{"clear", "limits", "plot", "present"}
	assert.Equal(t, append(frame, frame...), surface.ops)
	for _, b := range surface.limits {
		assert.Equal(t, DefaultBounds, b)
	}
	assert.Equal(t, Idle, a.State())
}

func TestUnknownIsNoop(t *testing.T) {
	a, surface := newAnimator(t, 4)
	_, err := a.OnMessage(advance)
	require.NoError(t, err)
	before := len(surface.ops)

	for i := 0; i < 3; i++ {
		frame, err := a.OnMessage(unknown)
		require.NoError(t, err)
		assert.False(t, frame.Redrawn)
		assert.Equal(t, 1, frame.Slot)
	}
	assert.Equal(t, 1, a.CurrentSlot())
	assert.Len(t, surface.ops, before)
}

type countingObserver struct {
	messages map[channel.Kind]int
	frames   []int
}

func (o *countingObserver) ObserveMessage(kind channel.Kind, _ time.Time) {
	if o.messages == nil {
		o.messages = map[channel.Kind]int{}
	}
	o.messages[kind]++
}

func (o *countingObserver) ObserveFrame(slot int, _ time.Duration) {
	o.frames = append(o.frames, slot)
}

func TestObserverSeesMessagesAndFrames(t *testing.T) {
	obs := &countingObserver{}
	a := New(registry(t, 2), &recordingSurface{}, obs)
	require.NoError(t, a.Initialize(DefaultBounds))

	for _, m := range []channel.Message{advance, unknown, advance, advance} {
		_, err := a.OnMessage(m)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, obs.messages[channel.Advance])
	assert.Equal(t, 1, obs.messages[channel.Unknown])
	assert.Equal(t, []int{0, 1, 0}, obs.frames)
}

type scriptedReceiver struct {
	msgs []channel.Message
	end  error
}

func (r *scriptedReceiver) Receive() (channel.Message, error) {
	if len(r.msgs) == 0 {
		return channel.Message{}, r.end
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func TestRunStopsOnChannelClosed(t *testing.T) {
	a, surface := newAnimator(t, 4)
	rx := &scriptedReceiver{
		msgs: []channel.Message{advance, unknown, advance, advance},
		end:  channel.ErrChannelClosed,
	}
	require.NoError(t, Run(context.Background(), a, rx, time.Millisecond))
	assert.Equal(t, []string{"run-0", "run-1", "run-2"}, surface.plotted)
	assert.Equal(t, 1, surface.closed)

	require.NoError(t, a.Close())
	assert.Equal(t, 1, surface.closed)
}

func TestRunReturnsOtherErrors(t *testing.T) {
	a, surface := newAnimator(t, 1)
	boom := errors.New("boom")
	err := Run(context.Background(), a, &scriptedReceiver{end: boom}, 0)
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, surface.closed)
}
