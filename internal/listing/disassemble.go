package listing

import (
	"fmt"
	"log/slog"
)

type pending struct {
	addr        Address
	inDelaySlot bool
}

// Disassemble decodes instructions by following flow from start until
// every reachable path ends at existing code, uninitialized memory or an
// undecodable encoding. The instruction after one with delay slots is
// decoded in the delay slot context and does not contribute its own
// fallthrough. It returns the number of instructions created; an error is
// returned only when start itself cannot be decoded.
func (p *Program) Disassemble(start Address) (int, error) {
	if p.InstructionContaining(start) != nil {
		return 0, nil
	}
	created := 0
	stack := []pending{{addr: start}}
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.InstructionContaining(next.addr) != nil || !p.mem.Contains(next.addr) {
			continue
		}
		if align := p.lang.Alignment(); align > 1 && uint64(next.addr)%uint64(align) != 0 {
			slog.Debug("Skipping misaligned flow", "address", next.addr)
			continue
		}
		buf := p.mem.Buffer(next.addr)
		proto, err := p.lang.Decode(buf, next.inDelaySlot)
		if err == nil {
			_, err = p.CreateInstruction(proto, buf, 0)
		}
		if err != nil {
			if next.addr == start {
				return created, fmt.Errorf("disassemble %s: %w", start, err)
			}
			slog.Debug("Stopping flow", "address", next.addr, "error", err)
			continue
		}
		created++
		inst := p.insts[next.addr]

		if !next.inDelaySlot {
			if ft, ok := inst.FallThrough(); ok {
				stack = append(stack, pending{addr: ft})
			}
		}
		for _, to := range inst.Flows() {
			stack = append(stack, pending{addr: to})
		}
		if proto.HasDelaySlots() {
			stack = append(stack, pending{addr: inst.MaxAddress() + 1, inDelaySlot: true})
		}
	}
	return created, nil
}
