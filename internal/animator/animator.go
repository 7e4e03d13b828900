// Package animator replays registered series on a plotting surface, one
// slot per advance message, cycling through the slots forever.
package animator

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/keilerkonzept/live-score-monitor/internal/channel"
	"github.com/keilerkonzept/live-score-monitor/internal/series"
)

var ErrNotInitialized = errors.New("animator not initialized")

// Bounds are the fixed axis limits of every frame.
type Bounds struct {
	XMin, XMax float64
	YMin, YMax float64
}

var DefaultBounds = Bounds{XMin: 0, XMax: 700, YMin: 0, YMax: 3300}

func (b Bounds) Validate() error {
	if !(b.XMax > b.XMin) {
		return errors.Errorf("x limits [%v, %v] are empty", b.XMin, b.XMax)
	}
	if !(b.YMax > b.YMin) {
		return errors.Errorf("y limits [%v, %v] are empty", b.YMin, b.YMax)
	}
	return nil
}

// Surface is something a frame can be drawn on. Limits do not survive
// Clear and must be applied again for every frame.
type Surface interface {
	Clear()
	SetLimits(b Bounds)
	Plot(s series.TimeSeries)
	Present() error
	Close() error
}

// Source is the read side of the series registry.
type Source interface {
	Get(slot int) (series.TimeSeries, error)
	Len() int
}

// Observer is told about every message and every redraw.
type Observer interface {
	ObserveMessage(kind channel.Kind, now time.Time)
	ObserveFrame(slot int, took time.Duration)
}

type State int

const (
	Idle State = iota
	Rendering
)

func (s State) String() string {
	if s == Rendering {
		return "rendering"
	}
	return "idle"
}

// Frame describes what handling one message did.
type Frame struct {
	Slot    int
	Series  string
	Redrawn bool
	Took    time.Duration
}

type Animator struct {
	src      Source
	surface  Surface
	observer Observer

	bounds      Bounds
	slots       int
	current     int
	state       State
	initialized bool

	closeOnce sync.Once
	closeErr  error
}

func New(src Source, surface Surface, observer Observer) *Animator {
	return &Animator{src: src, surface: surface, observer: observer}
}

// Initialize fixes the axis limits and draws an empty first frame.
func (a *Animator) Initialize(b Bounds) error {
	if err := b.Validate(); err != nil {
		return err
	}
	n := a.src.Len()
	if n == 0 {
		return errors.New("no series registered")
	}
	a.bounds = b
	a.slots = n
	a.current = 0
	a.surface.Clear()
	a.surface.SetLimits(b)
	if err := a.surface.Present(); err != nil {
		return errors.Wrap(err, "initial draw")
	}
	a.initialized = true
	return nil
}

func (a *Animator) CurrentSlot() int { return a.current }
func (a *Animator) State() State     { return a.state }
func (a *Animator) Slots() int       { return a.slots }
func (a *Animator) Bounds() Bounds   { return a.bounds }

// OnMessage handles one control message. Advance redraws the current slot
// from scratch and moves the cursor on, wrapping after the last slot so
// the series replay in a cycle. Anything else leaves the frame alone.
func (a *Animator) OnMessage(msg channel.Message) (Frame, error) {
	if !a.initialized {
		return Frame{}, ErrNotInitialized
	}
	now := time.Now()
	if a.observer != nil {
		a.observer.ObserveMessage(msg.Kind, now)
	}
	if msg.Kind != channel.Advance {
		return Frame{Slot: a.current}, nil
	}

	a.state = Rendering
	defer func() { a.state = Idle }()

	slot := a.current
	a.surface.Clear()
	a.surface.SetLimits(a.bounds)
	s, err := a.src.Get(slot)
	if err != nil {
		return Frame{}, err
	}
	a.surface.Plot(s)
	if err := a.surface.Present(); err != nil {
		return Frame{}, errors.Wrapf(err, "draw slot %d", slot)
	}
	a.current = (a.current + 1) % a.slots

	took := time.Since(now)
	if a.observer != nil {
		a.observer.ObserveFrame(slot, took)
	}
	return Frame{Slot: slot, Series: s.Name, Redrawn: true, Took: took}, nil
}

// Close releases the surface. It is safe to call more than once.
func (a *Animator) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.surface.Close()
	})
	return a.closeErr
}

// Receiver yields control messages; see channel.Conn.
type Receiver interface {
	Receive() (channel.Message, error)
}

// Run receives and renders in turn until the channel closes, pausing after
// every redraw. Closing the receiver's connection is how to stop it early.
// The surface is released on return.
func Run(ctx context.Context, a *Animator, rx Receiver, pause time.Duration) error {
	defer func() {
		if err := a.Close(); err != nil {
			log.WithError(err).Warn("release surface")
		}
	}()
	for {
		msg, err := rx.Receive()
		if err != nil {
			if errors.Is(err, channel.ErrChannelClosed) || errors.Is(err, channel.ErrReceiveTimeout) {
				log.WithError(err).Info("channel finished, stopping")
				return nil
			}
			return err
		}
		frame, err := a.OnMessage(msg)
		if err != nil {
			return err
		}
		entry := log.WithFields(log.Fields{"kind": msg.Kind, "slot": frame.Slot})
		if !frame.Redrawn {
			entry.WithField("payload", msg.Payload).Debug("ignored message")
			continue
		}
		entry.WithField("series", frame.Series).Debug("frame drawn")
		if pause > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pause):
			}
		}
	}
}
