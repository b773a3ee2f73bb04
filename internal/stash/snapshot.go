// Package stash removes decoded instructions from a program so that the
// bytes beneath them can be changed, and later recreates those
// instructions together with the annotations a fresh decode would lose:
// flow overrides, fallthrough overrides, length overrides and references
// that were not generated automatically.
//
// Instructions with delay slots are coupled to the instruction in their
// slot. A Stasher captures both halves of such a pair and restores them in
// the order the pairing requires.
//
// Nothing in this package locks. The caller must keep other writers away
// from a stashed range until it has been restored.
package stash

import (
	"fmt"
	"log/slog"
	"slices"

	"mipstash/internal/listing"
)

// Program is the part of the analysis database a stash reads and writes.
// *listing.Program implements it.
type Program interface {
	InstructionContaining(a listing.Address) *listing.Instruction
	ReferencesFrom(a listing.Address) []listing.Reference
	MemBuffer(a listing.Address) listing.MemBuffer

	ClearCodeUnits(start, end listing.Address) error
	CreateInstruction(proto listing.Prototype, buf listing.MemBuffer, length int) (*listing.Instruction, error)
	SetFlowOverride(a listing.Address, o listing.FlowOverride) error
	SetFallThrough(a, to listing.Address) error
	AddReference(ref listing.Reference) error
}

// Snapshot is the restorable state of one instruction. It holds copies of
// everything it needs and never changes after Capture.
type Snapshot struct {
	prog Program

	minAddr listing.Address
	maxAddr listing.Address
	proto   listing.Prototype
	refs    []listing.Reference

	flowOverride   listing.FlowOverride
	fallThrough    listing.Address
	hasFallThrough bool
	length         int
	hasLength      bool
}

// Capture records the instruction containing a. It returns false when no
// instruction contains a; that is a normal outcome, not an error.
//
// Only analyst-set values are recorded as overrides: the default
// fallthrough and the prototype's natural length are not.
func Capture(p Program, a listing.Address) (*Snapshot, bool) {
	inst := p.InstructionContaining(a)
	if inst == nil {
		return nil, false
	}
	s := &Snapshot{
		prog:         p,
		minAddr:      inst.MinAddress(),
		maxAddr:      inst.MaxAddress(),
		proto:        inst.Prototype(),
		refs:         slices.Clone(p.ReferencesFrom(inst.MinAddress())),
		flowOverride: inst.FlowOverride(),
	}
	if inst.IsFallThroughOverridden() {
		s.fallThrough, s.hasFallThrough = inst.FallThrough()
	}
	if inst.IsLengthOverridden() {
		s.length, s.hasLength = inst.Length(), true
	}
	return s, true
}

func (s *Snapshot) MinAddress() listing.Address { return s.minAddr }
func (s *Snapshot) MaxAddress() listing.Address { return s.maxAddr }

// Prototype returns the decoded form replayed by Restore.
func (s *Snapshot) Prototype() listing.Prototype { return s.proto }

// References returns a copy of the references captured from the
// instruction, automatic ones included.
func (s *Snapshot) References() []listing.Reference { return slices.Clone(s.refs) }

func (s *Snapshot) FlowOverride() listing.FlowOverride { return s.flowOverride }

// FallThroughOverride returns the analyst-forced fallthrough, if any.
func (s *Snapshot) FallThroughOverride() (listing.Address, bool) {
	return s.fallThrough, s.hasFallThrough
}

// LengthOverride returns the analyst-forced length, if any.
func (s *Snapshot) LengthOverride() (int, bool) {
	return s.length, s.hasLength
}

// withLength returns a copy of s that restores at length n, or at the
// natural length when n is zero.
func (s *Snapshot) withLength(n int) *Snapshot {
	c := *s
	c.length, c.hasLength = n, n != 0
	return &c
}

// Clear removes the instruction from [MinAddress, MaxAddress]. Calling it
// again before Restore is a caller error.
func (s *Snapshot) Clear() error {
	slog.Debug("Clearing instruction", "min", s.minAddr, "max", s.maxAddr)
	if err := s.prog.ClearCodeUnits(s.minAddr, s.maxAddr); err != nil {
		return fmt.Errorf("clear %s: %w", s.minAddr, err)
	}
	return nil
}

// Restore recreates the instruction at MinAddress from the captured
// prototype and the bytes currently in memory, then reapplies the captured
// overrides and every reference that the program does not generate on its
// own. The first failure is returned as is; the range is left in whatever
// state the program was in at that point.
func (s *Snapshot) Restore() error {
	length := 0
	if s.hasLength {
		length = s.length
	}
	if _, err := s.prog.CreateInstruction(s.proto, s.prog.MemBuffer(s.minAddr), length); err != nil {
		return fmt.Errorf("restore %s: %w", s.minAddr, err)
	}
	if s.flowOverride != listing.FlowOverrideNone {
		if err := s.prog.SetFlowOverride(s.minAddr, s.flowOverride); err != nil {
			return fmt.Errorf("restore %s: %w", s.minAddr, err)
		}
	}
	if s.hasFallThrough {
		if err := s.prog.SetFallThrough(s.minAddr, s.fallThrough); err != nil {
			return fmt.Errorf("restore %s: %w", s.minAddr, err)
		}
	}
	for _, ref := range s.refs {
		if ref.Source == listing.SourceDefault {
			continue
		}
		if err := s.prog.AddReference(ref); err != nil {
			return fmt.Errorf("restore %s: %w", s.minAddr, err)
		}
	}
	slog.Debug("Restored instruction", "address", s.minAddr, "mnemonic", s.proto.Mnemonic())
	return nil
}
