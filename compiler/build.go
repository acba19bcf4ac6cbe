package compiler

import (
	"github.com/chazu/fieldscript/isa"
	"github.com/chazu/fieldscript/linker"
	"github.com/chazu/fieldscript/script"
)

// Build compiles prog and links the result into a script stream.
func Build(prog *script.Program, reg *isa.Registry, opts Options) (*linker.Image, []script.Diagnostic, error) {
	c := New(reg, opts)
	obj, err := c.CompileProgram(prog)
	if err != nil {
		return nil, c.Diagnostics(), err
	}
	img, err := linker.Link(obj.Scripts)
	if err != nil {
		return nil, obj.Diagnostics, err
	}
	return img, obj.Diagnostics, nil
}

// BuildSource parses src and builds it.
func BuildSource(src string, reg *isa.Registry, names *script.Names, opts Options) (*linker.Image, []script.Diagnostic, error) {
	prog, err := Parse(src, names)
	if err != nil {
		return nil, nil, err
	}
	return Build(prog, reg, opts)
}
