// Package objfile stores unlinked compiled blocks so separately compiled
// sources can be linked into one script stream later.
package objfile

import (
	"errors"
	"fmt"

	"github.com/chazu/fieldscript/linker"
	"github.com/fxamacker/cbor/v2"
)

// Version is the current object file format version.
const Version = 1

// ErrVersion is returned when decoding an object file of another version.
var ErrVersion = errors.New("unsupported object file version")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("objfile: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireFile is the on-disk form. Blocks are stored in reachability order;
// scripts and relocation targets are indices into Blocks.
type wireFile struct {
	Version byte        `cbor:"1,keyasint"`
	Scripts []int       `cbor:"2,keyasint"`
	Blocks  []wireBlock `cbor:"3,keyasint"`
}

type wireBlock struct {
	Name   string      `cbor:"1,keyasint"`
	Code   []byte      `cbor:"2,keyasint"`
	Relocs []wireReloc `cbor:"3,keyasint,omitempty"`
}

type wireReloc struct {
	Offset int `cbor:"1,keyasint"`
	Target int `cbor:"2,keyasint"`
}

// File is a set of unlinked script blocks in script order.
type File struct {
	Scripts []*linker.Block
}

// Encode serializes the blocks reachable from f's scripts.
func Encode(f *File) ([]byte, error) {
	blocks := linker.Reachable(f.Scripts)
	index := make(map[*linker.Block]int, len(blocks))
	for i, b := range blocks {
		index[b] = i
	}
	w := wireFile{Version: Version}
	for _, s := range f.Scripts {
		w.Scripts = append(w.Scripts, index[s])
	}
	for _, b := range blocks {
		wb := wireBlock{Name: b.Name, Code: b.Bytes()}
		for _, r := range b.Relocs {
			t, ok := index[r.Target]
			if !ok {
				return nil, fmt.Errorf("objfile: %s+%#x: %w", b.Name, r.Offset, linker.ErrUnresolved)
			}
			wb.Relocs = append(wb.Relocs, wireReloc{Offset: r.Offset, Target: t})
		}
		w.Blocks = append(w.Blocks, wb)
	}
	return cborEncMode.Marshal(&w)
}

// Decode rebuilds the block graph from an object file.
func Decode(data []byte) (*File, error) {
	var w wireFile
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("objfile: unmarshal: %w", err)
	}
	if w.Version != Version {
		return nil, fmt.Errorf("objfile: version %d: %w", w.Version, ErrVersion)
	}
	blocks := make([]*linker.Block, len(w.Blocks))
	for i, wb := range w.Blocks {
		blocks[i] = linker.FromBytes(wb.Name, wb.Code)
	}
	for i, wb := range w.Blocks {
		for _, r := range wb.Relocs {
			if r.Target < 0 || r.Target >= len(blocks) {
				return nil, fmt.Errorf("objfile: %s: relocation target %d: %w", wb.Name, r.Target, linker.ErrUnresolved)
			}
			if r.Offset < 0 || r.Offset+4 > len(wb.Code) {
				return nil, fmt.Errorf("objfile: %s: relocation at %#x outside block", wb.Name, r.Offset)
			}
			blocks[i].Relocs = append(blocks[i].Relocs, linker.Reloc{Offset: r.Offset, Target: blocks[r.Target]})
		}
	}
	f := &File{}
	for _, s := range w.Scripts {
		if s < 0 || s >= len(blocks) {
			return nil, fmt.Errorf("objfile: script block %d: %w", s, linker.ErrUnresolved)
		}
		f.Scripts = append(f.Scripts, blocks[s])
	}
	return f, nil
}

// Merge concatenates the scripts of several files, in order.
func Merge(files ...*File) *File {
	out := &File{}
	for _, f := range files {
		out.Scripts = append(out.Scripts, f.Scripts...)
	}
	return out
}
