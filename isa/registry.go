// Package isa holds the instruction-set registry consumed by the decompiler
// and the compiler.
//
// A Registry is populated once, typically from one or more instruction-set
// sources (see LoadJSON and LoadTOML), and treated as read-only afterwards.
package isa

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	// MovementEnd terminates a movement sub-stream.
	MovementEnd = 0xFE
	// TableEnd terminates the master offset table. Only the low 16 bits
	// are compared when reading.
	TableEnd = 0xFD13
)

// Registry maps opcodes to instruction definitions, and movement opcodes to
// movement names.
type Registry struct {
	byOpcode map[uint16]*Definition
	byName   map[string]*Definition

	movements      map[uint16]string
	movementByName map[string]uint16
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byOpcode:       make(map[uint16]*Definition),
		byName:         make(map[string]*Definition),
		movements:      make(map[uint16]string),
		movementByName: make(map[string]uint16),
	}
}

// Define registers def under its opcode. A previous definition for the same
// opcode is replaced and its names released. Names already owned by another
// opcode are taken over by def.
func (r *Registry) Define(def *Definition) error {
	if def.Name == "" {
		def.Name = fmt.Sprintf("cmd_%d", def.Opcode)
	}
	for _, idx := range def.Returns {
		if idx < 0 || idx >= len(def.Args) {
			return fmt.Errorf("%s: return index %d out of range", def.Name, idx)
		}
	}
	for _, a := range def.Args {
		if a.Kind == ArgFixed && a.Size != 1 && a.Size != 2 && a.Size != 4 {
			return fmt.Errorf("%s: unsupported argument width %d", def.Name, a.Size)
		}
	}
	sort.Ints(def.Returns)

	if old, ok := r.byOpcode[def.Opcode]; ok {
		for _, n := range old.names() {
			if r.byName[n] == old {
				delete(r.byName, n)
			}
		}
	}
	r.byOpcode[def.Opcode] = def
	for _, n := range def.names() {
		r.byName[n] = def
	}
	return nil
}

func (d *Definition) names() []string {
	return append([]string{d.Name}, d.Aliases...)
}

// Lookup returns the definition for an opcode.
func (r *Registry) Lookup(opcode uint16) (*Definition, bool) {
	d, ok := r.byOpcode[opcode]
	return d, ok
}

// ByName returns the definition registered under name or one of its aliases.
func (r *Registry) ByName(name string) (*Definition, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// First returns the lowest-opcode definition of the given variant for which
// match returns true. A nil match accepts every definition.
func (r *Registry) First(v Variant, match func(*Definition) bool) (*Definition, bool) {
	var best *Definition
	for _, d := range r.byOpcode {
		if d.Variant != v || (match != nil && !match(d)) {
			continue
		}
		if best == nil || d.Opcode < best.Opcode {
			best = d
		}
	}
	return best, best != nil
}

// Len returns the number of defined opcodes.
func (r *Registry) Len() int {
	return len(r.byOpcode)
}

// Names returns all instruction names and aliases, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Movement registry
// ---------------------------------------------------------------------------

// DefineMovement registers a movement name. Redefining an id replaces it.
func (r *Registry) DefineMovement(id uint16, name string) {
	if old, ok := r.movements[id]; ok && r.movementByName[old] == id {
		delete(r.movementByName, old)
	}
	r.movements[id] = name
	r.movementByName[name] = id
}

// Movement returns the display name for a movement id. Unregistered ids
// render as mov_<id>.
func (r *Registry) Movement(id uint16) string {
	if n, ok := r.movements[id]; ok {
		return n
	}
	return fmt.Sprintf("mov_%d", id)
}

// MovementByName resolves a movement name, including the mov_<id> form.
func (r *Registry) MovementByName(name string) (uint16, bool) {
	if id, ok := r.movementByName[name]; ok {
		return id, true
	}
	if rest, ok := strings.CutPrefix(name, "mov_"); ok {
		n, err := strconv.ParseUint(rest, 10, 16)
		if err == nil {
			return uint16(n), true
		}
	}
	return 0, false
}

// MovementNames returns the registered movement names, sorted.
func (r *Registry) MovementNames() []string {
	names := make([]string, 0, len(r.movementByName))
	for n := range r.movementByName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
