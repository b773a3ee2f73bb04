package project

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mipstash/internal/listing"
)

const testProject = `
[program]
arch = "allegrex"
image = "code.bin"
base = 0x08804000

[[label]]
name = "_ZN4Game4tickEv"
address = 0x08804000

[[override]]
address = 0x08804004
length = 2
flow = "branch"

[[override]]
address = 0x0880400c
fallthrough = 0x08804014

[[reference]]
from = 0x08804000
to = 0x08900000
operand = 1
type = "data-read"
`

func writeProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	code := make([]byte, 0x108)
	for off, w := range map[int]uint32{
		0x000: 0x27bdffe0, // addiu sp, sp, -0x20
		0x004: 0x0e201040, // jal 0x08804100
		0x008: 0x24040001, // addiu a0, zero, 1
		0x00c: 0x8fbf001c, // lw ra, 0x1c(sp)
		0x010: 0x03e00008, // jr ra
		0x014: 0x27bd0020, // addiu sp, sp, 0x20
		0x100: 0x03e00008, // jr ra
	} {
		binary.LittleEndian.PutUint32(code[off:], w)
	}
	if err := os.WriteFile(filepath.Join(dir, "code.bin"), code, 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "mipstash.toml")
	if err := os.WriteFile(path, []byte(testProject), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndOpen(t *testing.T) {
	p, err := Load(writeProject(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.Program.Format != "raw" {
		t.Errorf("Format = %q, want raw default", p.Program.Format)
	}
	if p.Program.Base != 0x08804000 {
		t.Errorf("Base = %#x, want 0x08804000", p.Program.Base)
	}

	prog, err := p.Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := len(prog.Instructions()); got != 8 {
		t.Errorf("program has %d instructions, want 8", got)
	}

	branch := prog.InstructionAt(0x08804004)
	if branch == nil {
		t.Fatal("branch missing after length override")
	}
	if branch.Length() != 2 || !branch.IsLengthOverridden() {
		t.Errorf("branch length %d (overridden %v), want 2", branch.Length(), branch.IsLengthOverridden())
	}
	if branch.FlowOverride() != listing.FlowOverrideBranch {
		t.Errorf("branch flow override = %v, want branch", branch.FlowOverride())
	}
	slot := prog.InstructionAt(0x08804008)
	if slot == nil || !slot.Prototype().IsInDelaySlot() {
		t.Error("delay slot instruction lost while overriding its branch")
	}

	lw := prog.InstructionAt(0x0880400c)
	if ft, _ := lw.FallThrough(); ft != 0x08804014 || !lw.IsFallThroughOverridden() {
		t.Errorf("fallthrough = %s (overridden %v), want 0x08804014", ft, lw.IsFallThroughOverridden())
	}

	if name, ok := prog.Label(0x08804000); !ok || name != "_ZN4Game4tickEv" {
		t.Errorf("Label() = %q, %v", name, ok)
	}
	refs := prog.ReferencesFrom(0x08804000)
	if len(refs) != 1 || refs[0].Source != listing.SourceUserDefined || refs[0].Type != listing.RefRead {
		t.Errorf("references = %v, want one user data-read reference", refs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{
			name: "missing image",
			toml: "[program]\narch = \"allegrex\"\n",
			want: "program.image is required",
		},
		{
			name: "raw without arch",
			toml: "[program]\nimage = \"a.bin\"\n",
			want: "program.arch is required",
		},
		{
			name: "unknown arch",
			toml: "[program]\narch = \"z80\"\nimage = \"a.bin\"\n",
			want: "unknown architecture",
		},
		{
			name: "unknown format",
			toml: "[program]\narch = \"mips\"\nimage = \"a.bin\"\nformat = \"coff\"\n",
			want: "must be raw or elf",
		},
		{
			name: "bad flow override",
			toml: "[program]\narch = \"mips\"\nimage = \"a.bin\"\n[[override]]\naddress = 4\nflow = \"jump\"\n",
			want: "unknown flow override",
		},
		{
			name: "bad reference type",
			toml: "[program]\narch = \"mips\"\nimage = \"a.bin\"\n[[reference]]\nfrom = 4\ntype = \"pointer\"\n",
			want: "unknown reference type",
		},
		{
			name: "default source",
			toml: "[program]\narch = \"mips\"\nimage = \"a.bin\"\n[[reference]]\nfrom = 4\ntype = \"data\"\nsource = \"default\"\n",
			want: "default references are generated",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.toml))
			if err == nil {
				t.Fatal("Parse succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestOverrideWithoutInstruction(t *testing.T) {
	path := writeProject(t)
	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	p.Overrides = append(p.Overrides, Override{Address: 0x08804050, Flow: "call"})
	if _, err := p.Open(); err == nil {
		t.Error("Open succeeded with an override on undecoded bytes")
	}
}
