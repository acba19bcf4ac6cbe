package isa

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Argument specs
// ---------------------------------------------------------------------------

// ArgKind selects how an argument is encoded.
type ArgKind int

const (
	ArgFixed ArgKind = iota // unsigned integer of Size bytes
	ArgVar                  // 2-byte variable reference
	ArgFlag                 // 2-byte flag reference
)

// ArgSpec describes one argument slot of an instruction.
type ArgSpec struct {
	Kind ArgKind
	Size int // encoded width in bytes
}

// Fixed returns a Fixed(n) argument spec.
func Fixed(n int) ArgSpec { return ArgSpec{Kind: ArgFixed, Size: n} }

// Var is the 2-byte variable reference spec.
var Var = ArgSpec{Kind: ArgVar, Size: 2}

// Flag is the 2-byte flag reference spec.
var Flag = ArgSpec{Kind: ArgFlag, Size: 2}

// IsRef reports whether the slot holds a variable or flag reference.
func (a ArgSpec) IsRef() bool {
	return a.Kind == ArgVar || a.Kind == ArgFlag
}

func (a ArgSpec) String() string {
	switch a.Kind {
	case ArgVar:
		return "var"
	case ArgFlag:
		return "flag"
	}
	return fmt.Sprintf("%d", a.Size)
}

// ParseArgSpec parses the textual form used by instruction-set sources:
// "1", "2", "4", "var" or "flag".
func ParseArgSpec(s string) (ArgSpec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "var":
		return Var, nil
	case "flag":
		return Flag, nil
	case "1":
		return Fixed(1), nil
	case "2":
		return Fixed(2), nil
	case "4":
		return Fixed(4), nil
	}
	return ArgSpec{}, fmt.Errorf("invalid argument spec %q", s)
}

// ---------------------------------------------------------------------------
// Definitions
// ---------------------------------------------------------------------------

// Definition is a single registered instruction.
type Definition struct {
	Opcode      uint16
	Name        string
	Args        []ArgSpec
	Returns     []int // argument positions written by the instruction, ascending
	Aliases     []string
	Variant     Variant
	Value       *bool // End variant only: normal (true) or abnormal (false) termination
	Description string
}

// IsOutput reports whether argument position idx is an output slot.
func (d *Definition) IsOutput(idx int) bool {
	for _, r := range d.Returns {
		if r == idx {
			return true
		}
	}
	return false
}

// NumInputs returns the number of argument slots supplied by the caller.
func (d *Definition) NumInputs() int {
	return len(d.Args) - len(d.Returns)
}

// Signature renders the definition as name(args) -> returns.
func (d *Definition) Signature() string {
	var in, out []string
	for i, a := range d.Args {
		if d.IsOutput(i) {
			out = append(out, a.String())
		} else {
			in = append(in, a.String())
		}
	}
	sig := fmt.Sprintf("%s(%s)", d.Name, strings.Join(in, ", "))
	if len(out) > 0 {
		sig += " -> " + strings.Join(out, ", ")
	}
	return sig
}
