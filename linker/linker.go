package linker

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/fieldscript/binio"
	"github.com/chazu/fieldscript/isa"
	"github.com/tliron/commonlog"
)

// ErrUnresolved is returned for a relocation without a target.
var ErrUnresolved = errors.New("unresolved relocation")

var log = commonlog.GetLogger("fieldscript.linker")

// Placement records where a block ended up in the stream. Blocks merged into
// another representative share its offset.
type Placement struct {
	Name   string
	Offset int
	Size   int
	Merged []string
}

// Image is a linked script stream.
type Image struct {
	Bytes         []byte
	ScriptOffsets []int // absolute offset of each script's block
	Layout        []Placement
}

// Link deduplicates the blocks reachable from scripts and writes the master
// offset table followed by the representatives, each aligned to 4 bytes.
func Link(scripts []*Block) (*Image, error) {
	for _, s := range scripts {
		if s == nil {
			return nil, fmt.Errorf("link: nil script block: %w", ErrUnresolved)
		}
	}
	blocks := Reachable(scripts)
	for _, b := range blocks {
		for _, r := range b.Relocs {
			if r.Target == nil {
				return nil, fmt.Errorf("link: %s+%#x: %w", b.Name, r.Offset, ErrUnresolved)
			}
			if r.Offset < 0 || r.Offset+4 > b.Len() {
				return nil, fmt.Errorf("link: %s: relocation at %#x outside block", b.Name, r.Offset)
			}
		}
	}

	class := Partition(blocks)
	rep := make(map[int]*Block)
	var reps []*Block
	for _, b := range blocks {
		if _, ok := rep[class[b]]; !ok {
			rep[class[b]] = b
			reps = append(reps, b)
		}
	}
	representative := func(b *Block) *Block { return rep[class[b]] }

	header := 4*len(scripts) + 4
	offsets := make(map[*Block]int, len(reps))
	pos := header
	for _, b := range reps {
		offsets[b] = pos
		pos += b.Len()
		pos = (pos + 3) &^ 3
	}

	w := binio.NewWriter()
	img := &Image{ScriptOffsets: make([]int, len(scripts))}
	for i, s := range scripts {
		off := offsets[representative(s)]
		img.ScriptOffsets[i] = off
		w.Int32(int32(off - (4*i + 4)))
	}
	w.Uint32(isa.TableEnd)

	for _, b := range reps {
		start := w.Len()
		w.Write(b.Bytes())
		for _, r := range b.Relocs {
			target := offsets[representative(r.Target)]
			w.PutInt32(start+r.Offset, int32(target-(start+r.Offset+4)))
		}
		w.Align(4)
	}

	merged := make(map[*Block][]string)
	for _, b := range blocks {
		if r := representative(b); r != b {
			merged[r] = append(merged[r], b.Name)
		}
	}
	for _, b := range reps {
		img.Layout = append(img.Layout, Placement{
			Name:   b.Name,
			Offset: offsets[b],
			Size:   b.Len(),
			Merged: merged[b],
		})
	}
	img.Bytes = w.Bytes()
	log.Debugf("linked %d scripts: %d blocks, %d unique, %d bytes",
		len(scripts), len(blocks), len(reps), len(img.Bytes))
	return img, nil
}

// Partition assigns each block an equivalence class. Two blocks share a
// class when their bytes are equal and every relocation, at the same offset,
// targets blocks of the same class. Classes are numbered in first-seen order.
func Partition(blocks []*Block) map[*Block]int {
	class := make(map[*Block]int, len(blocks))
	n := number(blocks, class, func(b *Block) string {
		var sb strings.Builder
		sb.Write(b.Bytes())
		for _, r := range b.Relocs {
			sb.WriteString("|" + strconv.Itoa(r.Offset))
		}
		return sb.String()
	})
	for {
		prev := class
		class = make(map[*Block]int, len(blocks))
		next := number(blocks, class, func(b *Block) string {
			var sb strings.Builder
			sb.WriteString(strconv.Itoa(prev[b]))
			for _, r := range b.Relocs {
				sb.WriteString("," + strconv.Itoa(prev[r.Target]))
			}
			return sb.String()
		})
		if next == n {
			return class
		}
		n = next
	}
}

// number assigns class ids by key and returns the class count.
func number(blocks []*Block, class map[*Block]int, key func(*Block) string) int {
	ids := make(map[string]int)
	for _, b := range blocks {
		k := key(b)
		id, ok := ids[k]
		if !ok {
			id = len(ids)
			ids[k] = id
		}
		class[b] = id
	}
	return len(ids)
}
