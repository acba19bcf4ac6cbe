// Package linker lays compiled blocks out into a single script stream.
package linker

import (
	"github.com/chazu/fieldscript/binio"
)

// ---------------------------------------------------------------------------
// Compiled blocks and relocations
// ---------------------------------------------------------------------------

// Reloc is a 4-byte placeholder at Offset that receives the signed
// displacement from the end of the field to Target.
type Reloc struct {
	Offset int
	Target *Block
}

// Block is a unit of compiled byte-code. Its bytes are written through the
// embedded writer; references to other blocks are recorded as relocations.
type Block struct {
	*binio.Writer
	Name   string
	Relocs []Reloc
}

// NewBlock creates an empty block.
func NewBlock(name string) *Block {
	return &Block{Writer: binio.NewWriter(), Name: name}
}

// FromBytes creates a block holding a copy of code.
func FromBytes(name string, code []byte) *Block {
	b := NewBlock(name)
	b.Write(code)
	return b
}

// Reloc writes a 4-byte placeholder pointing at target.
func (b *Block) Reloc(target *Block) {
	b.Relocs = append(b.Relocs, Reloc{Offset: b.Len(), Target: target})
	b.Uint32(0)
}

// Reachable returns the blocks reachable from roots, depth-first pre-order,
// following relocations in offset order. Each block appears once.
func Reachable(roots []*Block) []*Block {
	seen := make(map[*Block]bool)
	var order []*Block
	var visit func(b *Block)
	visit = func(b *Block) {
		if b == nil || seen[b] {
			return
		}
		seen[b] = true
		order = append(order, b)
		for _, r := range b.Relocs {
			visit(r.Target)
		}
	}
	for _, b := range roots {
		visit(b)
	}
	return order
}
