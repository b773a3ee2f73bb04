// Package allegrex decodes the MIPS32 instruction set as implemented by
// the PSP Allegrex CPU, including its VFPU condition branches. It decodes
// far enough to classify flow and print operands; every branch and jump
// has exactly one delay slot.
package allegrex

import (
	"encoding/binary"
	"errors"
	"fmt"

	"mipstash/internal/listing"
)

const instructionLength = 4

var ErrUnknownInstruction = errors.New("unknown instruction")

// Language decodes 32-bit MIPS words in the configured byte order.
type Language struct {
	name  string
	order binary.ByteOrder
}

// New returns the little-endian Allegrex language.
func New() *Language {
	return &Language{name: "allegrex", order: binary.LittleEndian}
}

// NewBigEndian returns a big-endian MIPS32 language using the same tables.
func NewBigEndian() *Language {
	return &Language{name: "mips", order: binary.BigEndian}
}

func (l *Language) Name() string   { return l.name }
func (l *Language) Alignment() int { return instructionLength }

func (l *Language) Decode(buf listing.MemBuffer, inDelaySlot bool) (listing.Prototype, error) {
	raw, err := buf.Bytes(0, instructionLength)
	if err != nil {
		return nil, err
	}
	w := l.order.Uint32(raw)
	op := lookup(w)
	if op == nil {
		return nil, fmt.Errorf("%s: word %08x: %w", buf.Address(), w, ErrUnknownInstruction)
	}
	return Prototype{op: op, order: l.order, inDelaySlot: inDelaySlot}, nil
}

func lookup(w uint32) *opcode {
	if w == 0 {
		return opNop
	}
	rs, rt := fieldRs(w), fieldRt(w)
	switch opc := w >> 26; opc {
	case 0x00:
		op := special[w&0x3f]
		if op == special[0x08] && rs == regRA {
			return opRet
		}
		return op
	case 0x01:
		if rt == 0x11 && rs == 0 {
			return opBal
		}
		return regimm[rt]
	case 0x04:
		if rs == 0 && rt == 0 {
			return opB
		}
		return primary[opc]
	case 0x11:
		if rs == 0x08 {
			return cop1Branch[rt&3]
		}
		return nil
	case 0x12:
		if rs == 0x08 {
			return vfpuBranch[rt&3]
		}
		return nil
	default:
		return primary[opc]
	}
}

// Prototype is a decoded Allegrex encoding. It is a comparable value.
type Prototype struct {
	op          *opcode
	order       binary.ByteOrder
	inDelaySlot bool
}

func (p Prototype) Length() int                { return instructionLength }
func (p Prototype) Mnemonic() string           { return p.op.name }
func (p Prototype) HasDelaySlots() bool        { return p.op.delay }
func (p Prototype) IsInDelaySlot() bool        { return p.inDelaySlot }
func (p Prototype) FlowType() listing.FlowType { return p.op.flow }

func (p Prototype) word(raw []byte) uint32 {
	if len(raw) < instructionLength {
		return 0
	}
	return p.order.Uint32(raw)
}

// Flows returns the branch or jump target encoded in raw.
func (p Prototype) Flows(addr listing.Address, raw []byte) []listing.Address {
	if !p.op.delay {
		return nil
	}
	w := p.word(raw)
	switch p.op.format {
	case fmtRsRtOff, fmtRsOff, fmtOff, fmtVfpuOff:
		return []listing.Address{branchTarget(addr, w)}
	case fmtTarget:
		return []listing.Address{jumpTarget(addr, w)}
	}
	return nil
}

func (p Prototype) Operands(addr listing.Address, raw []byte) string {
	w := p.word(raw)
	rs, rt, rd := regNames[fieldRs(w)], regNames[fieldRt(w)], regNames[fieldRd(w)]
	switch p.op.format {
	case fmtRdRsRt:
		return fmt.Sprintf("%s, %s, %s", rd, rs, rt)
	case fmtRdRtSa:
		return fmt.Sprintf("%s, %s, %d", rd, rt, (w>>6)&0x1f)
	case fmtRdRtRs:
		return fmt.Sprintf("%s, %s, %s", rd, rt, rs)
	case fmtRsRt:
		return fmt.Sprintf("%s, %s", rs, rt)
	case fmtRdRs:
		if p.op.name == "jalr" && fieldRd(w) == regRA {
			return rs
		}
		return fmt.Sprintf("%s, %s", rd, rs)
	case fmtRd:
		return rd
	case fmtRs:
		return rs
	case fmtRtRsImm:
		return fmt.Sprintf("%s, %s, %s", rt, rs, signedHex(simm(w)))
	case fmtRtRsUimm:
		return fmt.Sprintf("%s, %s, 0x%x", rt, rs, w&0xffff)
	case fmtRtImm:
		return fmt.Sprintf("%s, 0x%x", rt, w&0xffff)
	case fmtRtMem:
		return fmt.Sprintf("%s, %s(%s)", rt, signedHex(simm(w)), rs)
	case fmtFtMem:
		return fmt.Sprintf("f%d, %s(%s)", fieldRt(w), signedHex(simm(w)), rs)
	case fmtRsRtOff:
		return fmt.Sprintf("%s, %s, %s", rs, rt, branchTarget(addr, w))
	case fmtRsOff:
		return fmt.Sprintf("%s, %s", rs, branchTarget(addr, w))
	case fmtOff:
		return branchTarget(addr, w).String()
	case fmtVfpuOff:
		return fmt.Sprintf("%d, %s", (w>>18)&7, branchTarget(addr, w))
	case fmtTarget:
		return jumpTarget(addr, w).String()
	case fmtCode:
		if code := (w >> 6) & 0xfffff; code != 0 {
			return fmt.Sprintf("0x%x", code)
		}
	}
	return ""
}

func fieldRs(w uint32) uint32 { return (w >> 21) & 0x1f }
func fieldRt(w uint32) uint32 { return (w >> 16) & 0x1f }
func fieldRd(w uint32) uint32 { return (w >> 11) & 0x1f }

func simm(w uint32) int32 { return int32(int16(w & 0xffff)) }

func signedHex(v int32) string {
	if v < 0 {
		return fmt.Sprintf("-0x%x", -int64(v))
	}
	return fmt.Sprintf("0x%x", v)
}

// branchTarget is relative to the delay slot.
func branchTarget(addr listing.Address, w uint32) listing.Address {
	return addr.Add(instructionLength + int64(simm(w))<<2)
}

// jumpTarget replaces the low 28 bits of the delay slot address.
func jumpTarget(addr listing.Address, w uint32) listing.Address {
	region := uint64(addr.Add(instructionLength)) &^ 0x0fffffff
	return listing.Address(region | uint64(w&0x03ffffff)<<2)
}
