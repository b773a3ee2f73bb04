package elfx

import "testing"

func TestVA2Off(t *testing.T) {
	im := &Image{
		All: make([]byte, 0x280),
		Loads: []Seg{
			{Vaddr: 0x08804000, Off: 0x100, Filesz: 0x100},
			{Vaddr: 0x08900000, Off: 0x200, Filesz: 0x80},
		},
		Text: Section{Name: ".text", VA: 0x08804000, Off: 0x100, Size: 0x100},
	}

	tests := []struct {
		name string
		va   uint64
		off  uint64
		ok   bool
	}{
		{name: "segment start", va: 0x08804000, off: 0x100, ok: true},
		{name: "inside second segment", va: 0x08900010, off: 0x210, ok: true},
		{name: "past segment end", va: 0x08804100, ok: false},
		{name: "unmapped", va: 0x1000, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			off, ok := im.VA2Off(tt.va)
			if ok != tt.ok || (ok && off != tt.off) {
				t.Errorf("VA2Off(%#x) = %#x, %v; want %#x, %v", tt.va, off, ok, tt.off, tt.ok)
			}
		})
	}

	if _, ok := im.SliceVA(0x08900070, 0x20); ok {
		t.Error("SliceVA past the end of the file should fail")
	}
	if b, ok := im.Segment(im.Loads[1]); !ok || len(b) != 0x80 {
		t.Errorf("Segment() = %d bytes, %v; want 0x80 bytes", len(b), ok)
	}
	if !im.InText(0x08804010) || im.InText(0x08900000) {
		t.Error("InText misclassified addresses")
	}
}
