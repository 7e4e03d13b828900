// Package series holds the score-over-time records of training runs and
// the fixed, ordered set of slots the monitor cycles through.
package series

import (
	"slices"

	"github.com/pkg/errors"
)

var (
	// ErrRegistryFrozen is returned by Register once any slot has been read.
	ErrRegistryFrozen = errors.New("series registry is frozen")
	// ErrOutOfRange is returned by Get for a slot outside [0, Len()).
	ErrOutOfRange = errors.New("series slot out of range")
)

// TimeSeries is one run's score record. TimePoints are whole minutes since
// the first sample and are index-aligned with Scores.
type TimeSeries struct {
	Name       string
	TimePoints []float64
	Scores     []float64
}

// Len returns the number of samples.
func (s TimeSeries) Len() int { return len(s.Scores) }

// Validate checks the alignment and ordering invariants.
func (s TimeSeries) Validate() error {
	if len(s.TimePoints) != len(s.Scores) {
		return errors.Errorf("series %q: %d time points but %d scores", s.Name, len(s.TimePoints), len(s.Scores))
	}
	for i := 1; i < len(s.TimePoints); i++ {
		if s.TimePoints[i] < s.TimePoints[i-1] {
			return errors.Errorf("series %q: time point %d (%v) precedes time point %d (%v)",
				s.Name, i, s.TimePoints[i], i-1, s.TimePoints[i-1])
		}
	}
	return nil
}

// Clone returns a copy that shares no backing arrays with s.
func (s TimeSeries) Clone() TimeSeries {
	return TimeSeries{
		Name:       s.Name,
		TimePoints: slices.Clone(s.TimePoints),
		Scores:     slices.Clone(s.Scores),
	}
}

// Span returns the last time point, or 0 for an empty series.
func (s TimeSeries) Span() float64 {
	if len(s.TimePoints) == 0 {
		return 0
	}
	return s.TimePoints[len(s.TimePoints)-1]
}

// Registry maps zero-based slots to series in arrival order.
// Writes happen during startup only; the first Get freezes it, so reads
// need no locking.
type Registry struct {
	slots  []TimeSeries
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends s at the next slot and returns that slot.
func (r *Registry) Register(s TimeSeries) (int, error) {
	if r.frozen {
		return -1, errors.Wrapf(ErrRegistryFrozen, "register %q", s.Name)
	}
	if err := s.Validate(); err != nil {
		return -1, err
	}
	r.slots = append(r.slots, s.Clone())
	return len(r.slots) - 1, nil
}

// Get returns a copy of the series at slot and freezes the registry.
func (r *Registry) Get(slot int) (TimeSeries, error) {
	r.frozen = true
	if slot < 0 || slot >= len(r.slots) {
		return TimeSeries{}, errors.Wrapf(ErrOutOfRange, "slot %d not in [0, %d)", slot, len(r.slots))
	}
	return r.slots[slot].Clone(), nil
}

func (r *Registry) Len() int { return len(r.slots) }

func (r *Registry) Frozen() bool { return r.frozen }

// Names lists series names in slot order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.slots))
	for i, s := range r.slots {
		names[i] = s.Name
	}
	return names
}
