package listing

import (
	"fmt"
	"strings"
)

// Line is one row of a rendered listing: either a label row or an
// instruction row with its annotations.
type Line struct {
	Address     Address
	Label       string
	Bytes       []byte
	Mnemonic    string
	Operands    string
	Annotations []string
}

// String formats the row with annotations padded to a fixed column.
// It returns plain text; colorization is applied by the caller.
func (l Line) String() string {
	addr := fmt.Sprintf("%08x", uint64(l.Address))
	if l.Label != "" {
		return fmt.Sprintf("%s  %s:", addr, l.Label)
	}
	base := fmt.Sprintf("%-10s %-8x %-8s %-30s", addr, l.Bytes, l.Mnemonic, l.Operands)
	if len(l.Annotations) > 0 {
		return fmt.Sprintf("%s ; %s", base, strings.Join(l.Annotations, ", "))
	}
	return strings.TrimRight(base, " ")
}

// Lines renders the instructions intersecting [start, end].
func (p *Program) Lines(start, end Address) []Line {
	var out []Line
	for _, inst := range p.InstructionsIn(start, end) {
		if name, ok := p.Label(inst.addr); ok {
			out = append(out, Line{Address: inst.addr, Label: name})
		}
		out = append(out, Line{
			Address:     inst.addr,
			Bytes:       inst.raw[:min(len(inst.raw), inst.length)],
			Mnemonic:    inst.Mnemonic(),
			Operands:    inst.Operands(),
			Annotations: p.annotations(inst),
		})
	}
	return out
}

func (p *Program) annotations(inst *Instruction) []string {
	var notes []string
	if inst.proto.IsInDelaySlot() {
		notes = append(notes, "delay slot")
	}
	if inst.flowOverride != FlowOverrideNone {
		notes = append(notes, "flow="+inst.flowOverride.String())
	}
	if inst.fallThroughOverridden {
		notes = append(notes, "ft="+inst.fallThrough.String())
	}
	if inst.lengthOverridden {
		notes = append(notes, fmt.Sprintf("len=%d", inst.length))
	}
	for _, ref := range p.ReferencesFrom(inst.addr) {
		to := ref.To.String()
		if ref.Register != "" {
			to = ref.Register
		}
		if name, ok := p.Label(ref.To); ok && ref.Register == "" {
			to = name
		}
		note := ref.Type.String() + " " + to
		if ref.Source != SourceDefault {
			note += " (" + ref.Source.String() + ")"
		}
		notes = append(notes, note)
	}
	return notes
}
