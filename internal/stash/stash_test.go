package stash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mipstash/internal/arch/allegrex"
	"mipstash/internal/listing"
)

const base = listing.Address(0x08804000)

// Layout of the test program:
//
//	+0x000 addiu sp, sp, -0x20
//	+0x004 jal   +0x100
//	+0x008 addiu a0, zero, 1     (delay slot)
//	+0x00c lw    ra, 0x1c(sp)
//	+0x010 jr    ra
//	+0x014 addiu sp, sp, 0x20    (delay slot)
//	+0x100 jr    ra
//	+0x104 nop                   (delay slot)
func newTestProgram(t *testing.T) *listing.Program {
	t.Helper()
	code := make([]byte, 0x108)
	words := map[int]uint32{
		0x000: 0x27bdffe0,
		0x004: 0x0e201040,
		0x008: 0x24040001,
		0x00c: 0x8fbf001c,
		0x010: 0x03e00008,
		0x014: 0x27bd0020,
		0x100: 0x03e00008,
	}
	for off, w := range words {
		binary.LittleEndian.PutUint32(code[off:], w)
	}
	mem := listing.NewMemory()
	if err := mem.AddBlock("code", base, code); err != nil {
		t.Fatal(err)
	}
	prog := listing.NewProgram(allegrex.New(), mem)
	n, err := prog.Disassemble(base)
	if err != nil {
		t.Fatal(err)
	}
	if n != 8 {
		t.Fatalf("Disassemble created %d instructions, want 8", n)
	}
	return prog
}

// recordingProgram logs the mutating calls made by the engine.
type recordingProgram struct {
	*listing.Program
	calls []string
	added []listing.Reference
}

func (r *recordingProgram) ClearCodeUnits(start, end listing.Address) error {
	r.calls = append(r.calls, fmt.Sprintf("clear %s-%s", start, end))
	return r.Program.ClearCodeUnits(start, end)
}

func (r *recordingProgram) CreateInstruction(proto listing.Prototype, buf listing.MemBuffer, length int) (*listing.Instruction, error) {
	r.calls = append(r.calls, fmt.Sprintf("create %s", buf.Address()))
	return r.Program.CreateInstruction(proto, buf, length)
}

func (r *recordingProgram) AddReference(ref listing.Reference) error {
	r.added = append(r.added, ref)
	return r.Program.AddReference(ref)
}

type instState struct {
	Min, Max              listing.Address
	Mnemonic, Operands    string
	InDelaySlot           bool
	FlowOverride          listing.FlowOverride
	FallThrough           listing.Address
	FallThroughOverridden bool
	Length                int
	LengthOverridden      bool
	Refs                  []listing.Reference
}

func describe(t *testing.T, prog *listing.Program, a listing.Address) instState {
	t.Helper()
	inst := prog.InstructionAt(a)
	if inst == nil {
		t.Fatalf("no instruction at %s", a)
	}
	ft, _ := inst.FallThrough()
	return instState{
		Min:                   inst.MinAddress(),
		Max:                   inst.MaxAddress(),
		Mnemonic:              inst.Mnemonic(),
		Operands:              inst.Operands(),
		InDelaySlot:           inst.Prototype().IsInDelaySlot(),
		FlowOverride:          inst.FlowOverride(),
		FallThrough:           ft,
		FallThroughOverridden: inst.IsFallThroughOverridden(),
		Length:                inst.Length(),
		LengthOverridden:      inst.IsLengthOverridden(),
		Refs:                  prog.ReferencesFrom(a),
	}
}

func TestRoundTripOrdinaryInstruction(t *testing.T) {
	prog := newTestProgram(t)
	userRef := listing.Reference{From: base, To: 0x08900000, Operand: 1, Type: listing.RefRead, Source: listing.SourceUserDefined}
	analysisRef := listing.Reference{From: base, Register: "sp", Operand: 0, Type: listing.RefWrite, Source: listing.SourceAnalysis}
	for _, ref := range []listing.Reference{userRef, analysisRef} {
		if err := prog.AddReference(ref); err != nil {
			t.Fatal(err)
		}
	}
	before := describe(t, prog, base)
	neighbour := describe(t, prog, base+4)

	s, err := Stash(prog, base)
	if err != nil {
		t.Fatalf("Stash failed: %v", err)
	}
	if s.Order() != RestoreNone || s.Companion() != nil {
		t.Errorf("ordinary instruction: order %v, companion %v; want none", s.Order(), s.Companion())
	}
	if s.State() != StateCleared {
		t.Errorf("State() = %v, want cleared", s.State())
	}
	if prog.InstructionContaining(base) != nil {
		t.Fatal("instruction still present after Stash")
	}
	if len(prog.ReferencesFrom(base)) != 0 {
		t.Error("references from the cleared instruction survived")
	}
	if diff := cmp.Diff(neighbour, describe(t, prog, base+4)); diff != "" {
		t.Errorf("neighbouring instruction changed (-want +got):\n%s", diff)
	}

	if err := s.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if s.State() != StateRestored {
		t.Errorf("State() = %v, want restored", s.State())
	}
	if diff := cmp.Diff(before, describe(t, prog, base)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDelaySlotPairingForward(t *testing.T) {
	prog := newTestProgram(t)
	branch, slot := base+4, base+8
	if err := prog.SetFlowOverride(branch, listing.FlowOverrideBranch); err != nil {
		t.Fatal(err)
	}
	wantBranch := describe(t, prog, branch)
	wantSlot := describe(t, prog, slot)

	rec := &recordingProgram{Program: prog}
	s, err := Stash(rec, branch)
	if err != nil {
		t.Fatalf("Stash failed: %v", err)
	}
	if s.Order() != RestoreCompanionFirst {
		t.Fatalf("Order() = %v, want companion-first", s.Order())
	}
	if got := s.Companion().MinAddress(); got != slot {
		t.Errorf("companion at %s, want %s", got, slot)
	}
	if prog.InstructionContaining(slot) != nil {
		t.Error("program should clear the delay slot with its branch")
	}

	if err := s.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	want := []string{
		fmt.Sprintf("clear %s-%s", branch, branch+3),
		fmt.Sprintf("create %s", slot),
		fmt.Sprintf("create %s", branch),
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("call sequence mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantBranch, describe(t, prog, branch)); diff != "" {
		t.Errorf("branch mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantSlot, describe(t, prog, slot)); diff != "" {
		t.Errorf("delay slot mismatch (-want +got):\n%s", diff)
	}
	refs := prog.ReferencesFrom(branch)
	if len(refs) != 1 || refs[0].Type != listing.RefUnconditionalJump {
		t.Errorf("references after restore = %v, want one jump reference", refs)
	}
}

func TestDelaySlotPairingBackward(t *testing.T) {
	prog := newTestProgram(t)
	branch, slot := base+4, base+8
	wantBranch := describe(t, prog, branch)
	wantSlot := describe(t, prog, slot)

	rec := &recordingProgram{Program: prog}
	// Any address inside the delay slot instruction triggers the stash.
	s, err := Stash(rec, slot+2)
	if err != nil {
		t.Fatalf("Stash failed: %v", err)
	}
	if s.Order() != RestoreCompanionLast {
		t.Fatalf("Order() = %v, want companion-last", s.Order())
	}
	if s.Primary().MinAddress() != slot || s.Companion().MinAddress() != branch {
		t.Errorf("primary %s companion %s, want %s and %s",
			s.Primary().MinAddress(), s.Companion().MinAddress(), slot, branch)
	}

	if err := s.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	want := []string{
		fmt.Sprintf("clear %s-%s", slot, slot+3),
		fmt.Sprintf("create %s", slot),
		fmt.Sprintf("create %s", branch),
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("call sequence mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantBranch, describe(t, prog, branch)); diff != "" {
		t.Errorf("branch mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantSlot, describe(t, prog, slot)); diff != "" {
		t.Errorf("delay slot mismatch (-want +got):\n%s", diff)
	}
}

func TestCompanionIsNotClearedByEngine(t *testing.T) {
	prog := newTestProgram(t)
	rec := &recordingProgram{Program: prog}

	s := New(rec, base+4)
	if s.State() != StateCaptured {
		t.Fatalf("State() = %v, want captured", s.State())
	}
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("engine made %d clear calls, want exactly one for the primary: %v", len(rec.calls), rec.calls)
	}
	primary := s.Primary()
	want := fmt.Sprintf("clear %s-%s", primary.MinAddress(), primary.MaxAddress())
	if rec.calls[0] != want {
		t.Errorf("clear call = %q, want %q", rec.calls[0], want)
	}
}

func TestAbsentInstruction(t *testing.T) {
	prog := newTestProgram(t)
	tests := []struct {
		name string
		addr listing.Address
	}{
		{name: "undecoded bytes", addr: base + 0x50},
		{name: "unmapped address", addr: 0x1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if snap, ok := Capture(prog, tt.addr); ok || snap != nil {
				t.Errorf("Capture(%s) = %v, %v; want nil, false", tt.addr, snap, ok)
			}
			rec := &recordingProgram{Program: prog}
			s, err := Stash(rec, tt.addr)
			if err != nil {
				t.Fatalf("Stash failed: %v", err)
			}
			if s.Primary() != nil || s.Companion() != nil || s.Order() != RestoreNone {
				t.Error("degenerate stash should hold nothing")
			}
			if err := s.Restore(); err != nil {
				t.Errorf("Restore failed: %v", err)
			}
			if len(rec.calls) != 0 {
				t.Errorf("degenerate stash touched the program: %v", rec.calls)
			}
		})
	}
}

func TestOverrideFidelity(t *testing.T) {
	prog := newTestProgram(t)
	addr := base + 0xc
	proto := prog.InstructionAt(addr).Prototype()
	if err := prog.ClearCodeUnits(addr, addr+3); err != nil {
		t.Fatal(err)
	}
	if _, err := prog.CreateInstruction(proto, prog.MemBuffer(addr), 2); err != nil {
		t.Fatal(err)
	}
	if err := prog.SetFallThrough(addr, base+0x10); err != nil {
		t.Fatal(err)
	}

	snap, ok := Capture(prog, addr)
	if !ok {
		t.Fatal("Capture found no instruction")
	}
	if n, ok := snap.LengthOverride(); !ok || n != 2 {
		t.Errorf("LengthOverride() = %d, %v; want 2, true", n, ok)
	}
	if ft, ok := snap.FallThroughOverride(); !ok || ft != base+0x10 {
		t.Errorf("FallThroughOverride() = %s, %v; want %s, true", ft, ok, base+0x10)
	}
	if snap.MaxAddress() != addr+1 {
		t.Errorf("MaxAddress() = %s, want %s", snap.MaxAddress(), addr+1)
	}

	if err := snap.Clear(); err != nil {
		t.Fatal(err)
	}
	if err := snap.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	inst := prog.InstructionAt(addr)
	if inst.Length() != 2 || !inst.IsLengthOverridden() {
		t.Errorf("restored length %d (overridden %v), want 2 overridden", inst.Length(), inst.IsLengthOverridden())
	}
	if ft, _ := inst.FallThrough(); ft != base+0x10 || !inst.IsFallThroughOverridden() {
		t.Errorf("restored fallthrough %s (overridden %v), want %s overridden", ft, inst.IsFallThroughOverridden(), base+0x10)
	}

	plain, _ := Capture(prog, base)
	if _, ok := plain.LengthOverride(); ok {
		t.Error("natural length captured as an override")
	}
	if _, ok := plain.FallThroughOverride(); ok {
		t.Error("default fallthrough captured as an override")
	}
	if plain.FlowOverride() != listing.FlowOverrideNone {
		t.Errorf("FlowOverride() = %v, want none", plain.FlowOverride())
	}
}

func TestReferenceFiltering(t *testing.T) {
	prog := newTestProgram(t)
	branch := base + 4
	userRef := listing.Reference{From: branch, To: 0x08900000, Operand: 0, Type: listing.RefData, Source: listing.SourceUserDefined}
	importedRef := listing.Reference{From: branch, To: 0x08900010, Operand: 0, Type: listing.RefRead, Source: listing.SourceImported}
	for _, ref := range []listing.Reference{userRef, importedRef} {
		if err := prog.AddReference(ref); err != nil {
			t.Fatal(err)
		}
	}

	rec := &recordingProgram{Program: prog}
	s, err := Stash(rec, branch)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(s.Primary().References()); got != 3 {
		t.Errorf("captured %d references, want 3", got)
	}
	if err := s.Restore(); err != nil {
		t.Fatal(err)
	}

	for _, ref := range rec.added {
		if ref.Source == listing.SourceDefault {
			t.Errorf("default reference re-added: %v", ref)
		}
	}
	want := []listing.Reference{
		{From: branch, To: base + 0x100, Operand: listing.MnemonicOperand, Type: listing.RefUnconditionalCall, Source: listing.SourceDefault},
		userRef,
		importedRef,
	}
	if diff := cmp.Diff(want, prog.ReferencesFrom(branch)); diff != "" {
		t.Errorf("references mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	prog := newTestProgram(t)
	snap, _ := Capture(prog, base+4)

	refs := snap.References()
	refs[0].To = 0xdead
	if snap.References()[0].To == 0xdead {
		t.Error("References() exposes internal storage")
	}

	if err := prog.SetFlowOverride(base+4, listing.FlowOverrideReturn); err != nil {
		t.Fatal(err)
	}
	if snap.FlowOverride() != listing.FlowOverrideNone {
		t.Error("snapshot observed a later change to the program")
	}
}

func TestRestoreReadsLiveBytes(t *testing.T) {
	prog := newTestProgram(t)
	s, err := Stash(prog, base)
	if err != nil {
		t.Fatal(err)
	}
	patch := binary.LittleEndian.AppendUint32(nil, 0x27bdffc0)
	if err := prog.Memory().Write(base, patch); err != nil {
		t.Fatal(err)
	}
	if err := s.Restore(); err != nil {
		t.Fatal(err)
	}
	if got := prog.InstructionAt(base).Operands(); got != "sp, sp, -0x40" {
		t.Errorf("Operands() = %q, want patched immediate", got)
	}
}

func TestRestoreFailure(t *testing.T) {
	t.Run("primary conflicts", func(t *testing.T) {
		prog := newTestProgram(t)
		s, err := Stash(prog, base)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := prog.Disassemble(base); err != nil {
			t.Fatal(err)
		}
		err = s.Restore()
		if !errors.Is(err, listing.ErrCodeUnitConflict) {
			t.Errorf("Restore() = %v, want ErrCodeUnitConflict", err)
		}
		if s.State() == StateRestored {
			t.Error("failed restore reported as restored")
		}
	})

	t.Run("companion conflicts", func(t *testing.T) {
		prog := newTestProgram(t)
		s, err := Stash(prog, base+4)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := prog.Disassemble(base + 8); err != nil {
			t.Fatal(err)
		}
		if err := s.Restore(); !errors.Is(err, listing.ErrCodeUnitConflict) {
			t.Errorf("Restore() = %v, want ErrCodeUnitConflict", err)
		}
		if prog.InstructionAt(base+4) != nil {
			t.Error("primary restored after the companion failed")
		}
	})
}

func TestRestoreWithLength(t *testing.T) {
	prog := newTestProgram(t)
	jal := base + 4
	userRef := listing.Reference{From: jal, To: 0x08900000, Operand: 0, Type: listing.RefRead, Source: listing.SourceUserDefined}
	if err := prog.AddReference(userRef); err != nil {
		t.Fatal(err)
	}
	rec := &recordingProgram{Program: prog}

	s := New(rec, jal)
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	if err := s.RestoreWithLength(2); err != nil {
		t.Fatalf("RestoreWithLength failed: %v", err)
	}

	want := []string{
		fmt.Sprintf("clear %s-%s", jal, jal+3),
		fmt.Sprintf("create %s", base+8),
		fmt.Sprintf("create %s", jal),
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("call order mismatch (-want +got):\n%s", diff)
	}
	got := describe(t, prog, jal)
	if got.Length != 2 || !got.LengthOverridden {
		t.Errorf("length %d (overridden %v), want 2 overridden", got.Length, got.LengthOverridden)
	}
	found := false
	for _, ref := range got.Refs {
		found = found || ref == userRef
	}
	if !found {
		t.Errorf("user reference lost: %v", got.Refs)
	}
	if n, _ := s.Primary().LengthOverride(); n != 0 {
		t.Errorf("captured snapshot changed: length override %d", n)
	}

	// Pairing follows the instruction extents, so a shortened branch no
	// longer reaches its delay slot.
	if order := New(prog, jal).Order(); order != RestoreNone {
		t.Errorf("order after shortening = %v, want none", order)
	}
	if order := New(prog, base+8).Order(); order != RestoreNone {
		t.Errorf("slot order after shortening = %v, want none", order)
	}
}

func TestRestoreOrderString(t *testing.T) {
	for order, want := range map[RestoreOrder]string{
		RestoreNone:           "none",
		RestoreCompanionFirst: "companion-first",
		RestoreCompanionLast:  "companion-last",
		RestoreOrder(9):       "RestoreOrder(9)",
	} {
		if got := order.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(order), got, want)
		}
	}
}
