// Package arm64 adapts golang.org/x/arch/arm64/arm64asm to the listing
// Language interface. AArch64 has no delay slots.
package arm64

import (
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"

	"mipstash/internal/listing"
)

const instructionLength = 4

type Language struct{}

func New() *Language { return &Language{} }

func (*Language) Name() string   { return "arm64" }
func (*Language) Alignment() int { return instructionLength }

func (*Language) Decode(buf listing.MemBuffer, inDelaySlot bool) (listing.Prototype, error) {
	raw, err := buf.Bytes(0, instructionLength)
	if err != nil {
		return nil, err
	}
	inst, err := arm64asm.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", buf.Address(), err)
	}
	return Prototype{op: inst.Op, flow: classify(inst)}, nil
}

func classify(inst arm64asm.Inst) listing.FlowType {
	switch inst.Op {
	case arm64asm.B:
		if _, ok := inst.Args[0].(arm64asm.Cond); ok {
			return listing.FlowConditionalJump
		}
		return listing.FlowUnconditionalJump
	case arm64asm.BL:
		return listing.FlowUnconditionalCall
	case arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		return listing.FlowConditionalJump
	case arm64asm.BR:
		return listing.FlowComputedJump
	case arm64asm.BLR:
		return listing.FlowComputedCall
	case arm64asm.RET:
		return listing.FlowTerminator
	}
	return listing.FlowFallThrough
}

// Prototype records the opcode and flow class of an AArch64 encoding.
type Prototype struct {
	op   arm64asm.Op
	flow listing.FlowType
}

func (p Prototype) Length() int                { return instructionLength }
func (p Prototype) Mnemonic() string           { return strings.ToLower(p.op.String()) }
func (p Prototype) HasDelaySlots() bool        { return false }
func (p Prototype) IsInDelaySlot() bool        { return false }
func (p Prototype) FlowType() listing.FlowType { return p.flow }

// Flows returns the PC-relative target of a direct branch.
func (p Prototype) Flows(addr listing.Address, raw []byte) []listing.Address {
	if p.flow == listing.FlowFallThrough || p.flow == listing.FlowTerminator {
		return nil
	}
	inst, err := arm64asm.Decode(raw)
	if err != nil {
		return nil
	}
	for _, arg := range inst.Args {
		if rel, ok := arg.(arm64asm.PCRel); ok {
			return []listing.Address{addr.Add(int64(rel))}
		}
	}
	return nil
}

func (p Prototype) Operands(addr listing.Address, raw []byte) string {
	inst, err := arm64asm.Decode(raw)
	if err != nil {
		return ""
	}
	var args []string
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		if rel, ok := arg.(arm64asm.PCRel); ok {
			args = append(args, addr.Add(int64(rel)).String())
			continue
		}
		args = append(args, strings.ToLower(arg.String()))
	}
	return strings.Join(args, ", ")
}
