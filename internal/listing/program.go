package listing

import (
	"fmt"
	"slices"
)

// Program is an in-memory analysis database: memory, the instructions
// decoded from it, references and labels.
type Program struct {
	lang   Language
	mem    *Memory
	insts  map[Address]*Instruction
	starts []Address
	refs   map[Address][]Reference
	labels map[Address]string
}

func NewProgram(lang Language, mem *Memory) *Program {
	return &Program{
		lang:   lang,
		mem:    mem,
		insts:  make(map[Address]*Instruction),
		refs:   make(map[Address][]Reference),
		labels: make(map[Address]string),
	}
}

func (p *Program) Language() Language { return p.lang }
func (p *Program) Memory() *Memory     { return p.mem }

// MemBuffer returns a live view of memory anchored at a.
func (p *Program) MemBuffer(a Address) MemBuffer {
	return p.mem.Buffer(a)
}

// InstructionAt returns the instruction starting at a, or nil.
func (p *Program) InstructionAt(a Address) *Instruction {
	return p.insts[a]
}

// InstructionContaining returns the instruction whose range includes a,
// or nil.
func (p *Program) InstructionContaining(a Address) *Instruction {
	idx, found := slices.BinarySearch(p.starts, a)
	if found {
		return p.insts[a]
	}
	if idx == 0 {
		return nil
	}
	inst := p.insts[p.starts[idx-1]]
	if inst.contains(a) {
		return inst
	}
	return nil
}

// Instructions returns all instructions ordered by address.
func (p *Program) Instructions() []*Instruction {
	out := make([]*Instruction, 0, len(p.starts))
	for _, a := range p.starts {
		out = append(out, p.insts[a])
	}
	return out
}

// InstructionsIn returns the instructions that intersect [start, end].
func (p *Program) InstructionsIn(start, end Address) []*Instruction {
	var out []*Instruction
	if first := p.InstructionContaining(start); first != nil && first.addr < start {
		out = append(out, first)
	}
	idx, _ := slices.BinarySearch(p.starts, start)
	for ; idx < len(p.starts) && p.starts[idx] <= end; idx++ {
		out = append(out, p.insts[p.starts[idx]])
	}
	return out
}

// ClearCodeUnits removes every instruction that intersects [start, end]
// together with the references originating from the removed code. An
// instruction with a delay slot and the instruction occupying that slot
// form a group that is always cleared as a unit, so the cleared range
// grows to cover partially selected groups. Other instructions outside the
// range are left untouched.
func (p *Program) ClearCodeUnits(start, end Address) error {
	if end < start {
		return fmt.Errorf("clear %s-%s: %w", start, end, ErrBadRange)
	}
	lo, hi := p.delaySlotGroup(start, end)
	for _, inst := range p.InstructionsIn(lo, hi) {
		lo = min(lo, inst.addr)
		hi = max(hi, inst.MaxAddress())
		p.removeInstruction(inst.addr)
	}
	for from := range p.refs {
		if from >= lo && from <= hi {
			delete(p.refs, from)
		}
	}
	return nil
}

// delaySlotGroup widens [lo, hi] until no delay-slot group straddles
// either edge.
func (p *Program) delaySlotGroup(lo, hi Address) (Address, Address) {
	for {
		grown := false
		insts := p.InstructionsIn(lo, hi)
		if len(insts) == 0 {
			return lo, hi
		}
		first, last := insts[0], insts[len(insts)-1]
		if first.proto.IsInDelaySlot() && first.addr > 0 {
			if prev := p.InstructionContaining(first.addr - 1); prev != nil && prev.proto.HasDelaySlots() {
				lo, grown = prev.addr, true
			}
		}
		if last.proto.HasDelaySlots() && last.MaxAddress() < ^Address(0) {
			if next := p.InstructionContaining(last.MaxAddress() + 1); next != nil && next.proto.IsInDelaySlot() {
				hi, grown = next.MaxAddress(), true
			}
		}
		if !grown {
			return lo, hi
		}
	}
}

func (p *Program) removeInstruction(a Address) {
	delete(p.insts, a)
	if idx, found := slices.BinarySearch(p.starts, a); found {
		p.starts = slices.Delete(p.starts, idx, idx+1)
	}
}

// CreateInstruction places an instruction built from proto at buf's
// anchor address. The bytes are read from buf; the prototype is trusted to
// describe them. A non-zero length forces the instruction to occupy that
// many bytes; it may not exceed the prototype's natural length. Default
// flow references are created for the instruction's static targets.
func (p *Program) CreateInstruction(proto Prototype, buf MemBuffer, length int) (*Instruction, error) {
	addr := buf.Address()
	natural := proto.Length()
	if length < 0 || length > natural {
		return nil, fmt.Errorf("create %s with length %d (natural %d): %w", addr, length, natural, ErrBadLength)
	}
	eff := natural
	if length != 0 {
		eff = length
	}
	end := addr.Add(int64(eff) - 1)
	if end < addr {
		return nil, fmt.Errorf("create %s: %w", addr, ErrBadRange)
	}
	if conflicts := p.InstructionsIn(addr, end); len(conflicts) > 0 {
		return nil, fmt.Errorf("create %s: overlaps instruction at %s: %w", addr, conflicts[0].addr, ErrCodeUnitConflict)
	}
	raw, err := buf.Bytes(0, natural)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", addr, err)
	}

	inst := &Instruction{
		addr:             addr,
		proto:            proto,
		raw:              raw,
		length:           eff,
		lengthOverridden: eff != natural,
	}
	idx, _ := slices.BinarySearch(p.starts, addr)
	p.starts = slices.Insert(p.starts, idx, addr)
	p.insts[addr] = inst
	p.regenerateFlowReferences(inst)
	return inst, nil
}

// SetFlowOverride changes the flow override of the instruction at a and
// regenerates its default flow references.
func (p *Program) SetFlowOverride(a Address, o FlowOverride) error {
	inst := p.insts[a]
	if inst == nil {
		return fmt.Errorf("set flow override at %s: %w", a, ErrNoInstruction)
	}
	inst.flowOverride = o
	p.regenerateFlowReferences(inst)
	return nil
}

// SetFallThrough overrides the fallthrough of the instruction at a.
// Setting the default fallthrough removes the override.
func (p *Program) SetFallThrough(a, to Address) error {
	inst := p.insts[a]
	if inst == nil {
		return fmt.Errorf("set fallthrough at %s: %w", a, ErrNoInstruction)
	}
	if def, ok := inst.DefaultFallThrough(); ok && def == to {
		inst.fallThroughOverridden = false
		inst.fallThrough = 0
		return nil
	}
	inst.fallThrough = to
	inst.fallThroughOverridden = true
	return nil
}

// ClearFallThrough removes any fallthrough override at a.
func (p *Program) ClearFallThrough(a Address) error {
	inst := p.insts[a]
	if inst == nil {
		return fmt.Errorf("clear fallthrough at %s: %w", a, ErrNoInstruction)
	}
	inst.fallThroughOverridden = false
	inst.fallThrough = 0
	return nil
}

// AddReference records ref. A reference with the same origin, operand and
// destination as an existing one replaces it.
func (p *Program) AddReference(ref Reference) error {
	if !p.mem.Contains(ref.From) {
		return fmt.Errorf("add reference from %s: %w", ref.From, ErrUninitialized)
	}
	refs := p.refs[ref.From]
	k := ref.key()
	for i := range refs {
		if refs[i].key() == k {
			refs[i] = ref
			return nil
		}
	}
	refs = append(refs, ref)
	slices.SortFunc(refs, compareReferences)
	p.refs[ref.From] = refs
	return nil
}

// RemoveReference deletes the reference matching ref's origin, operand
// and destination. It reports whether one was removed.
func (p *Program) RemoveReference(ref Reference) bool {
	refs := p.refs[ref.From]
	k := ref.key()
	for i := range refs {
		if refs[i].key() == k {
			p.refs[ref.From] = slices.Delete(refs, i, i+1)
			if len(p.refs[ref.From]) == 0 {
				delete(p.refs, ref.From)
			}
			return true
		}
	}
	return false
}

// ReferencesFrom returns a copy of the references originating in the code
// at a. When an instruction contains a, references from any address in its
// range are returned.
func (p *Program) ReferencesFrom(a Address) []Reference {
	lo, hi := a, a
	if inst := p.InstructionContaining(a); inst != nil {
		lo, hi = inst.addr, inst.MaxAddress()
	}
	var out []Reference
	for from, refs := range p.refs {
		if from >= lo && from <= hi {
			out = append(out, refs...)
		}
	}
	slices.SortFunc(out, compareReferences)
	return out
}

// regenerateFlowReferences replaces the default flow references of inst
// with ones derived from its current effective flow.
func (p *Program) regenerateFlowReferences(inst *Instruction) {
	refs := slices.DeleteFunc(p.refs[inst.addr], func(r Reference) bool {
		return r.Source == SourceDefault && r.Type.IsFlow()
	})
	if len(refs) == 0 {
		delete(p.refs, inst.addr)
	} else {
		p.refs[inst.addr] = refs
	}
	typ, ok := refTypeForFlow(inst.FlowType())
	if !ok {
		return
	}
	for _, to := range inst.Flows() {
		ref := Reference{From: inst.addr, To: to, Operand: MnemonicOperand, Type: typ, Source: SourceDefault}
		if existing, found := p.lookupReference(ref); found && existing.Source != SourceDefault {
			continue
		}
		// Memory at inst.addr is initialized, so this cannot fail.
		_ = p.AddReference(ref)
	}
}

func (p *Program) lookupReference(ref Reference) (Reference, bool) {
	k := ref.key()
	for _, r := range p.refs[ref.From] {
		if r.key() == k {
			return r, true
		}
	}
	return Reference{}, false
}

// SetLabel names address a. An empty name removes the label.
func (p *Program) SetLabel(a Address, name string) {
	if name == "" {
		delete(p.labels, a)
		return
	}
	p.labels[a] = name
}

func (p *Program) Label(a Address) (string, bool) {
	name, ok := p.labels[a]
	return name, ok
}
