package stash

import (
	"fmt"
	"log/slog"
	"math"

	"mipstash/internal/listing"
)

// RestoreOrder says when a delay-slot companion is restored relative to
// the primary instruction.
type RestoreOrder int

const (
	// RestoreNone means there is no companion.
	RestoreNone RestoreOrder = iota
	// RestoreCompanionFirst is used when the primary has a delay slot; the
	// companion is the instruction in that slot.
	RestoreCompanionFirst
	// RestoreCompanionLast is used when the primary sits in a delay slot;
	// the companion is the instruction owning that slot.
	RestoreCompanionLast
)

func (o RestoreOrder) String() string {
	switch o {
	case RestoreNone:
		return "none"
	case RestoreCompanionFirst:
		return "companion-first"
	case RestoreCompanionLast:
		return "companion-last"
	}
	return fmt.Sprintf("RestoreOrder(%d)", int(o))
}

// State is the lifecycle position of a Stasher.
type State int

const (
	StateFresh State = iota
	StateCaptured
	StateCleared
	StateRestored
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateCaptured:
		return "captured"
	case StateCleared:
		return "cleared"
	case StateRestored:
		return "restored"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stasher clears one instruction and later restores it along with its
// delay-slot companion. A Stasher is single use: Clear and Restore are
// each called once, in that order. Violating that order is a caller error
// and is not detected.
//
// The companion is captured but never cleared. A caller that also needs
// the companion's range cleared must do so itself.
type Stasher struct {
	primary   *Snapshot
	companion *Snapshot
	order     RestoreOrder
	state     State
}

// New captures the instruction containing a and its delay-slot companion,
// if it has one. When no instruction contains a the Stasher holds nothing
// and Clear and Restore do nothing.
func New(p Program, a listing.Address) *Stasher {
	s := &Stasher{state: StateCaptured}
	primary, ok := Capture(p, a)
	if !ok {
		slog.Debug("Nothing to stash", "address", a)
		return s
	}
	s.primary = primary

	proto := primary.Prototype()
	switch {
	case proto.HasDelaySlots() && primary.MaxAddress() < math.MaxUint64:
		if c, ok := Capture(p, primary.MaxAddress()+1); ok {
			s.companion, s.order = c, RestoreCompanionFirst
		}
	case proto.IsInDelaySlot() && primary.MinAddress() > 0:
		if c, ok := Capture(p, primary.MinAddress()-1); ok {
			s.companion, s.order = c, RestoreCompanionLast
		}
	}
	slog.Debug("Captured stash", "address", primary.MinAddress(), "order", s.order)
	return s
}

// Stash captures the instruction containing a and clears it.
func Stash(p Program, a listing.Address) (*Stasher, error) {
	s := New(p, a)
	if err := s.Clear(); err != nil {
		return nil, err
	}
	return s, nil
}

// Primary returns the snapshot of the instruction at the trigger address,
// or nil when there was none.
func (s *Stasher) Primary() *Snapshot { return s.primary }

// Companion returns the snapshot of the delay-slot companion, or nil.
func (s *Stasher) Companion() *Snapshot { return s.companion }

func (s *Stasher) Order() RestoreOrder { return s.order }
func (s *Stasher) State() State        { return s.state }

// Clear removes the primary instruction. The companion is not touched.
func (s *Stasher) Clear() error {
	if s.primary != nil {
		if err := s.primary.Clear(); err != nil {
			return err
		}
	}
	s.state = StateCleared
	return nil
}

// Restore recreates the primary and the companion in the order given by
// Order. It stops at the first failure.
func (s *Stasher) Restore() error {
	return s.restore(s.primary)
}

// RestoreWithLength is Restore with the primary recreated at length
// instead of its captured length. Zero means the prototype's natural
// length. The companion is restored as captured.
func (s *Stasher) RestoreWithLength(length int) error {
	if s.primary == nil {
		return s.restore(nil)
	}
	return s.restore(s.primary.withLength(length))
}

func (s *Stasher) restore(primary *Snapshot) error {
	if primary == nil {
		s.state = StateRestored
		return nil
	}
	var steps []*Snapshot
	switch s.order {
	case RestoreCompanionFirst:
		steps = []*Snapshot{s.companion, primary}
	case RestoreCompanionLast:
		steps = []*Snapshot{primary, s.companion}
	case RestoreNone:
		steps = []*Snapshot{primary}
	}
	for _, snap := range steps {
		if err := snap.Restore(); err != nil {
			return fmt.Errorf("stash at %s: %w", primary.MinAddress(), err)
		}
	}
	s.state = StateRestored
	return nil
}
