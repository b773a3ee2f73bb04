// Package project handles mipstash.toml project files: which image to
// load, where to start disassembling, and the analyst annotations to
// apply on top of the decoded listing.
package project

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"mipstash/internal/arch"
	"mipstash/internal/elfx"
	"mipstash/internal/listing"
	"mipstash/internal/stash"
)

// Project represents a mipstash.toml project file.
type Project struct {
	Program    Program     `toml:"program" json:"program" jsonschema:"required"`
	Labels     []Label     `toml:"label" json:"label,omitempty"`
	Overrides  []Override  `toml:"override" json:"override,omitempty"`
	References []Reference `toml:"reference" json:"reference,omitempty"`

	// Dir is the directory relative image paths are resolved against (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Program describes the image under analysis.
type Program struct {
	Arch   string   `toml:"arch" json:"arch,omitempty" jsonschema:"title=Architecture,enum=allegrex,enum=mipsel,enum=mips,enum=arm64,enum=aarch64,description=Instruction set; inferred from the ELF header when empty"`
	Image  string   `toml:"image" json:"image" jsonschema:"required,title=Image,description=Path to the raw or ELF image"`
	Format string   `toml:"format" json:"format,omitempty" jsonschema:"title=Format,enum=raw,enum=elf,default=raw"`
	Base   uint64   `toml:"base" json:"base,omitempty" jsonschema:"title=Base,description=Load address of a raw image"`
	Entry  []uint64 `toml:"entry" json:"entry,omitempty" jsonschema:"title=Entry points,description=Addresses to disassemble from"`
}

// Label names an address.
type Label struct {
	Name    string `toml:"name" json:"name" jsonschema:"required"`
	Address uint64 `toml:"address" json:"address" jsonschema:"required"`
}

// Override holds the analyst annotations for one instruction.
type Override struct {
	Address     uint64  `toml:"address" json:"address" jsonschema:"required"`
	Flow        string  `toml:"flow" json:"flow,omitempty" jsonschema:"enum=none,enum=branch,enum=call,enum=call-return,enum=return"`
	FallThrough *uint64 `toml:"fallthrough" json:"fallthrough,omitempty"`
	Length      int     `toml:"length" json:"length,omitempty" jsonschema:"minimum=0"`
}

// Reference is an analyst-supplied reference.
type Reference struct {
	From     uint64 `toml:"from" json:"from" jsonschema:"required"`
	To       uint64 `toml:"to" json:"to,omitempty"`
	Register string `toml:"register" json:"register,omitempty"`
	Operand  int    `toml:"operand" json:"operand"`
	Type     string `toml:"type" json:"type" jsonschema:"required"`
	Source   string `toml:"source" json:"source,omitempty" jsonschema:"enum=analysis,enum=imported,enum=user,default=user"`
}

// Load parses and validates a project file.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	p.Dir = filepath.Dir(path)
	return p, nil
}

// Parse decodes and validates project TOML.
func Parse(data []byte) (*Project, error) {
	var p Project
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Program.Format == "" {
		p.Program.Format = "raw"
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the project for values that cannot be applied.
func (p *Project) Validate() error {
	var errs []error
	if p.Program.Image == "" {
		errs = append(errs, errors.New("program.image is required"))
	}
	switch p.Program.Format {
	case "raw":
		if p.Program.Arch == "" {
			errs = append(errs, errors.New("program.arch is required for raw images"))
		}
	case "elf":
	default:
		errs = append(errs, fmt.Errorf("program.format %q must be raw or elf", p.Program.Format))
	}
	if p.Program.Arch != "" {
		if _, err := arch.Lookup(p.Program.Arch); err != nil {
			errs = append(errs, err)
		}
	}
	for _, l := range p.Labels {
		if l.Name == "" {
			errs = append(errs, fmt.Errorf("label at %#x has no name", l.Address))
		}
	}
	for _, o := range p.Overrides {
		if _, err := listing.ParseFlowOverride(o.Flow); err != nil {
			errs = append(errs, fmt.Errorf("override at %#x: %w", o.Address, err))
		}
		if o.Length < 0 {
			errs = append(errs, fmt.Errorf("override at %#x: negative length", o.Address))
		}
	}
	for _, r := range p.References {
		if _, err := listing.ParseRefType(r.Type); err != nil {
			errs = append(errs, fmt.Errorf("reference from %#x: %w", r.From, err))
		}
		if _, err := listing.ParseSourceType(r.Source); err != nil {
			errs = append(errs, fmt.Errorf("reference from %#x: %w", r.From, err))
		} else if r.Source == "default" {
			errs = append(errs, fmt.Errorf("reference from %#x: default references are generated, not declared", r.From))
		}
	}
	return errors.Join(errs...)
}

// ImagePath returns the image path resolved against the project directory.
func (p *Project) ImagePath() string {
	if filepath.IsAbs(p.Program.Image) {
		return p.Program.Image
	}
	return filepath.Join(p.Dir, p.Program.Image)
}

// Open loads the image, disassembles from every entry point and applies
// the project's labels, overrides and references.
func (p *Project) Open() (*listing.Program, error) {
	mem := listing.NewMemory()
	labels := map[listing.Address]string{}
	archName := p.Program.Arch
	var entries []listing.Address

	switch p.Program.Format {
	case "elf":
		im, err := elfx.Open(p.ImagePath())
		if err != nil {
			return nil, err
		}
		defer im.Close()
		if archName == "" {
			if archName, err = archForELF(im); err != nil {
				return nil, err
			}
		}
		for i, seg := range im.Loads {
			data, ok := im.Segment(seg)
			if !ok || len(data) == 0 {
				continue
			}
			if err := mem.AddBlock(fmt.Sprintf("seg%d", i), listing.Address(seg.Vaddr), data); err != nil {
				return nil, err
			}
		}
		if im.Entry != 0 {
			entries = append(entries, listing.Address(im.Entry))
		}
		for _, fn := range im.Funcs {
			if !im.InText(fn.Addr) {
				continue
			}
			entries = append(entries, listing.Address(fn.Addr))
			labels[listing.Address(fn.Addr)] = fn.Name
		}
	default:
		data, err := os.ReadFile(p.ImagePath())
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		if err := mem.AddBlock("image", listing.Address(p.Program.Base), data); err != nil {
			return nil, err
		}
		if len(p.Program.Entry) == 0 {
			entries = append(entries, listing.Address(p.Program.Base))
		}
	}

	lang, err := arch.Lookup(archName)
	if err != nil {
		return nil, err
	}
	prog := listing.NewProgram(lang, mem)

	for _, e := range p.Program.Entry {
		entries = append(entries, listing.Address(e))
	}
	for _, e := range entries {
		n, err := prog.Disassemble(e)
		if err != nil {
			slog.Warn("Cannot disassemble entry point", "address", e, "error", err)
			continue
		}
		slog.Debug("Disassembled", "entry", e, "instructions", n)
	}

	for a, name := range labels {
		prog.SetLabel(a, name)
	}
	for _, l := range p.Labels {
		prog.SetLabel(listing.Address(l.Address), l.Name)
	}
	for _, o := range p.Overrides {
		if err := applyOverride(prog, o); err != nil {
			return nil, err
		}
	}
	for _, r := range p.References {
		typ, _ := listing.ParseRefType(r.Type)
		src, _ := listing.ParseSourceType(r.Source)
		ref := listing.Reference{
			From:     listing.Address(r.From),
			To:       listing.Address(r.To),
			Register: r.Register,
			Operand:  r.Operand,
			Type:     typ,
			Source:   src,
		}
		if err := prog.AddReference(ref); err != nil {
			return nil, err
		}
	}
	return prog, nil
}

func applyOverride(prog *listing.Program, o Override) error {
	addr := listing.Address(o.Address)
	inst := prog.InstructionAt(addr)
	if inst == nil {
		return fmt.Errorf("override at %s: %w", addr, listing.ErrNoInstruction)
	}
	if o.Length != 0 && o.Length != inst.Length() {
		if err := recreateWithLength(prog, addr, o.Length); err != nil {
			return fmt.Errorf("override at %s: %w", addr, err)
		}
	}
	flow, _ := listing.ParseFlowOverride(o.Flow)
	if flow != listing.FlowOverrideNone {
		if err := prog.SetFlowOverride(addr, flow); err != nil {
			return err
		}
	}
	if o.FallThrough != nil {
		if err := prog.SetFallThrough(addr, listing.Address(*o.FallThrough)); err != nil {
			return err
		}
	}
	return nil
}

// recreateWithLength replaces the instruction at addr with one of the given
// length, keeping its annotations. The program clears delay-slot groups as
// a unit, so the partner instruction comes back too.
func recreateWithLength(prog *listing.Program, addr listing.Address, length int) error {
	s, err := stash.Stash(prog, addr)
	if err != nil {
		return err
	}
	return s.RestoreWithLength(length)
}

func archForELF(im *elfx.Image) (string, error) {
	switch im.Machine {
	case elf.EM_MIPS:
		if im.File.ByteOrder == binary.BigEndian {
			return "mips", nil
		}
		return "allegrex", nil
	case elf.EM_AARCH64:
		return "arm64", nil
	}
	return "", fmt.Errorf("unsupported ELF machine %s", im.Machine)
}
