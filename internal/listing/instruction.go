package listing

import "slices"

// Instruction is a decoded instruction placed in a program. Instructions
// are owned by their Program; use the Program's setters to modify them.
type Instruction struct {
	addr   Address
	proto  Prototype
	raw    []byte
	length int

	lengthOverridden      bool
	flowOverride          FlowOverride
	fallThrough           Address
	fallThroughOverridden bool
}

func (i *Instruction) MinAddress() Address { return i.addr }

// MaxAddress returns the last address occupied by the instruction.
func (i *Instruction) MaxAddress() Address { return i.addr.Add(int64(i.length) - 1) }

// Length is the number of bytes the instruction occupies, which differs
// from the prototype length when the length is overridden.
func (i *Instruction) Length() int          { return i.length }
func (i *Instruction) Prototype() Prototype { return i.proto }
func (i *Instruction) Mnemonic() string     { return i.proto.Mnemonic() }

// Bytes returns a copy of the instruction's natural-length encoding.
func (i *Instruction) Bytes() []byte { return slices.Clone(i.raw) }

func (i *Instruction) Operands() string {
	return i.proto.Operands(i.addr, i.raw)
}

func (i *Instruction) IsLengthOverridden() bool { return i.lengthOverridden }

func (i *Instruction) FlowOverride() FlowOverride { return i.flowOverride }

// FlowType returns the flow type after applying any flow override.
func (i *Instruction) FlowType() FlowType {
	return i.flowOverride.Apply(i.proto.FlowType())
}

// Flows returns the static flow targets of the instruction. An
// instruction whose effective flow is a terminator has none.
func (i *Instruction) Flows() []Address {
	if i.FlowType() == FlowTerminator {
		return nil
	}
	return i.proto.Flows(i.addr, i.raw)
}

// DefaultFallThrough is the address execution continues at when the
// fallthrough is not overridden. Instructions with delay slots fall
// through past their delay slot, which is assumed to have the same width.
func (i *Instruction) DefaultFallThrough() (Address, bool) {
	if !i.FlowType().HasFallThrough() {
		return 0, false
	}
	next := i.addr.Add(int64(i.length))
	if i.proto.HasDelaySlots() {
		next = next.Add(int64(i.proto.Length()))
	}
	return next, true
}

// FallThrough returns the effective fallthrough address.
func (i *Instruction) FallThrough() (Address, bool) {
	if i.fallThroughOverridden {
		return i.fallThrough, true
	}
	return i.DefaultFallThrough()
}

func (i *Instruction) IsFallThroughOverridden() bool { return i.fallThroughOverridden }

func (i *Instruction) contains(a Address) bool {
	return a >= i.addr && a <= i.MaxAddress()
}
