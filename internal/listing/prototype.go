package listing

// Prototype is the decoded form of an instruction encoding. It is produced
// once by a Language and can later be replayed against the same bytes to
// recreate the instruction without decoding again. Operand values are
// always read from the instruction's bytes, never from the prototype.
type Prototype interface {
	// Length is the natural length of the instruction in bytes.
	Length() int
	Mnemonic() string
	// HasDelaySlots reports whether the instruction's effect is deferred
	// until the instruction that follows it has executed.
	HasDelaySlots() bool
	// IsInDelaySlot reports whether the prototype was decoded in the delay
	// slot of a preceding instruction.
	IsInDelaySlot() bool
	FlowType() FlowType
	// Flows returns the static flow targets of the instruction at addr.
	Flows(addr Address, raw []byte) []Address
	Operands(addr Address, raw []byte) string
}

// Language decodes instruction bytes into prototypes.
type Language interface {
	Name() string
	// Alignment is the required instruction alignment in bytes.
	Alignment() int
	// Decode decodes the instruction at the start of buf. inDelaySlot
	// selects the delay slot decoding context.
	Decode(buf MemBuffer, inDelaySlot bool) (Prototype, error)
}
