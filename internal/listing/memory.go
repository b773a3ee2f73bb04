package listing

import (
	"cmp"
	"fmt"
	"slices"
)

// Block is a contiguous run of initialized bytes.
type Block struct {
	Name  string
	Start Address
	Data  []byte
}

// End returns the last address of the block.
func (b *Block) End() Address {
	return b.Start.Add(int64(len(b.Data)) - 1)
}

func (b *Block) contains(a Address) bool {
	return a >= b.Start && a <= b.End()
}

// Memory is the set of initialized blocks of a program.
type Memory struct {
	blocks []*Block
}

func NewMemory() *Memory {
	return &Memory{}
}

// AddBlock maps data at start. Blocks may not overlap.
func (m *Memory) AddBlock(name string, start Address, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("block %q: %w", name, ErrBadRange)
	}
	nb := &Block{Name: name, Start: start, Data: data}
	if nb.End() < start {
		return fmt.Errorf("block %q wraps the address space: %w", name, ErrBadRange)
	}
	for _, b := range m.blocks {
		if nb.Start <= b.End() && b.Start <= nb.End() {
			return fmt.Errorf("block %q overlaps %q: %w", name, b.Name, ErrBadRange)
		}
	}
	m.blocks = append(m.blocks, nb)
	slices.SortFunc(m.blocks, func(a, b *Block) int {
		return cmp.Compare(a.Start, b.Start)
	})
	return nil
}

// Blocks returns the mapped blocks ordered by start address.
func (m *Memory) Blocks() []*Block {
	return slices.Clone(m.blocks)
}

func (m *Memory) block(a Address) *Block {
	for _, b := range m.blocks {
		if b.contains(a) {
			return b
		}
	}
	return nil
}

// Contains reports whether a is initialized.
func (m *Memory) Contains(a Address) bool {
	return m.block(a) != nil
}

func (m *Memory) span(a Address, n int) (*Block, int, error) {
	b := m.block(a)
	if b == nil {
		return nil, 0, fmt.Errorf("%s: %w", a, ErrUninitialized)
	}
	off := int(a - b.Start)
	if n < 0 || off+n > len(b.Data) {
		return nil, 0, fmt.Errorf("%s+%d: %w", a, n, ErrUninitialized)
	}
	return b, off, nil
}

// Read returns a copy of n bytes at a. The range must lie in one block.
func (m *Memory) Read(a Address, n int) ([]byte, error) {
	b, off, err := m.span(a, n)
	if err != nil {
		return nil, err
	}
	return slices.Clone(b.Data[off : off+n]), nil
}

// Write overwrites initialized bytes at a.
func (m *Memory) Write(a Address, data []byte) error {
	b, off, err := m.span(a, len(data))
	if err != nil {
		return err
	}
	copy(b.Data[off:], data)
	return nil
}

// Buffer returns a read view of memory anchored at a.
func (m *Memory) Buffer(a Address) MemBuffer {
	return memBuffer{mem: m, addr: a}
}

// MemBuffer is a view of memory anchored at an address. Reads observe
// the live contents of memory at the time they are made.
type MemBuffer interface {
	Address() Address
	// Bytes returns n bytes starting off bytes past the anchor.
	Bytes(off, n int) ([]byte, error)
}

type memBuffer struct {
	mem  *Memory
	addr Address
}

func (b memBuffer) Address() Address { return b.addr }

func (b memBuffer) Bytes(off, n int) ([]byte, error) {
	return b.mem.Read(b.addr.Add(int64(off)), n)
}

// ByteBuffer is a MemBuffer over a fixed byte slice.
type ByteBuffer struct {
	Addr Address
	Data []byte
}

func (b ByteBuffer) Address() Address { return b.Addr }

func (b ByteBuffer) Bytes(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(b.Data) {
		return nil, fmt.Errorf("%s+%d: %w", b.Addr.Add(int64(off)), n, ErrUninitialized)
	}
	return slices.Clone(b.Data[off : off+n]), nil
}
