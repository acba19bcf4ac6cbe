package script

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrUnknownName is returned when a reference name cannot be resolved.
var ErrUnknownName = errors.New("unknown name")

// Names maps display names to variable and flag ids. Ids without a name
// render as var_<hex> or flag_<hex>, which always resolve back. A nil
// *Names only knows the synthesized forms.
type Names struct {
	vars      map[string]uint16
	flags     map[string]uint16
	varNames  map[uint16]string
	flagNames map[uint16]string
}

// NewNames creates an empty naming table.
func NewNames() *Names {
	return &Names{
		vars:      make(map[string]uint16),
		flags:     make(map[string]uint16),
		varNames:  make(map[uint16]string),
		flagNames: make(map[uint16]string),
	}
}

// DefineVar names a variable id.
func (n *Names) DefineVar(name string, id uint16) {
	n.vars[name] = id
	n.varNames[id] = name
}

// DefineFlag names a flag id.
func (n *Names) DefineFlag(name string, id uint16) {
	n.flags[name] = id
	n.flagNames[id] = name
}

// Var returns a reference to variable id.
func (n *Names) Var(id uint16) *Ref {
	name := fmt.Sprintf("var_%x", id)
	if n != nil {
		if s, ok := n.varNames[id]; ok {
			name = s
		}
	}
	return &Ref{Kind: VarRef, ID: id, Name: name}
}

// Flag returns a reference to flag id.
func (n *Names) Flag(id uint16) *Ref {
	name := fmt.Sprintf("flag_%x", id)
	if n != nil {
		if s, ok := n.flagNames[id]; ok {
			name = s
		}
	}
	return &Ref{Kind: FlagRef, ID: id, Name: name}
}

// Resolve maps a name to a reference.
func (n *Names) Resolve(name string) (*Ref, error) {
	if n != nil {
		if id, ok := n.vars[name]; ok {
			return &Ref{Kind: VarRef, ID: id, Name: name}, nil
		}
		if id, ok := n.flags[name]; ok {
			return &Ref{Kind: FlagRef, ID: id, Name: name}, nil
		}
	}
	if rest, ok := strings.CutPrefix(name, "var_"); ok {
		if id, err := strconv.ParseUint(rest, 16, 16); err == nil {
			return &Ref{Kind: VarRef, ID: uint16(id), Name: name}, nil
		}
	}
	if rest, ok := strings.CutPrefix(name, "flag_"); ok {
		if id, err := strconv.ParseUint(rest, 16, 16); err == nil {
			return &Ref{Kind: FlagRef, ID: uint16(id), Name: name}, nil
		}
	}
	return nil, fmt.Errorf("%s is not a valid variable name: %w", name, ErrUnknownName)
}

// IsRefName reports whether name resolves to a reference.
func (n *Names) IsRefName(name string) bool {
	_, err := n.Resolve(name)
	return err == nil
}

// All returns every defined variable and flag name, sorted.
func (n *Names) All() []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.vars)+len(n.flags))
	for s := range n.vars {
		out = append(out, s)
	}
	for s := range n.flags {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
