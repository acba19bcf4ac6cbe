package compiler

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/fieldscript/isa"
	"github.com/chazu/fieldscript/isa/isatest"
	"github.com/chazu/fieldscript/linker"
	"github.com/chazu/fieldscript/script"
	"github.com/chazu/fieldscript/texts"
)

func compileSource(t *testing.T, reg *isa.Registry, opts Options, src string) (*Object, error) {
	t.Helper()
	prog, err := Parse(src, nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return New(reg, opts).CompileProgram(prog)
}

func hasDiag(diags []script.Diagnostic, kind script.DiagKind) bool {
	for _, d := range diags {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

func TestCompileCallEncoding(t *testing.T) {
	reg := isatest.New()
	if err := reg.Define(&isa.Definition{
		Opcode: 0x40, Name: "Mixed",
		Args:    []isa.ArgSpec{isa.Fixed(1), isa.Var, isa.Fixed(2)},
		Returns: []int{1},
	}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		stmt string
		want []byte
		diag script.DiagKind
	}{
		{"fixed", "PlaySound(0x1234)", []byte{0x49, 0x00, 0x34, 0x12}, -1},
		{"truncated", "Wait(300)", []byte{0x0B, 0x00, 0x2C}, script.ArgumentTruncated},
		{"negative", "Wait(-1)", []byte{0x0B, 0x00, 0xFF}, script.ArgumentTruncated},
		{"var", "SetVar(var_8000, 7)", []byte{0x1A, 0x00, 0x00, 0x80, 0x07, 0x00}, -1},
		{"coerced int", "SetVar(5, 1)", []byte{0x1A, 0x00, 0x05, 0x00, 0x01, 0x00}, script.ReferenceCoerced},
		{"coerced ref", "PlaySound(var_10)", []byte{0x49, 0x00, 0x10, 0x00}, script.ReferenceCoerced},
		{"flag", "Setflag(flag_12)", []byte{0x1F, 0x00, 0x12, 0x00}, -1},
		{"alias", "Msg(3)", []byte{0x2C, 0x00, 0x03}, -1},
		{"outputs", "var_8000, var_8001 = GetPos()", []byte{0x28, 0x00, 0x00, 0x80, 0x01, 0x80}, -1},
		{"interleaved", "var_8000 = Mixed(1, 2)", []byte{0x40, 0x00, 0x01, 0x00, 0x80, 0x02, 0x00}, -1},
		{"raw", "raw 0x7f", []byte{0x7F}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := compileSource(t, reg, Options{}, "script 1 { "+tt.stmt+" }")
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			if got := obj.Scripts[0].Bytes(); !bytes.Equal(got, tt.want) {
				t.Errorf("bytes = % x, want % x", got, tt.want)
			}
			if tt.diag >= 0 && !hasDiag(obj.Diagnostics, tt.diag) {
				t.Errorf("missing %v diagnostic in %v", tt.diag, obj.Diagnostics)
			}
			if tt.diag < 0 && len(obj.Diagnostics) > 0 {
				t.Errorf("unexpected diagnostics %v", obj.Diagnostics)
			}
		})
	}
}

func TestCompileStructureErrors(t *testing.T) {
	reg := isatest.New()
	tests := []struct {
		name string
		stmt string
		want error
	}{
		{"too few targets", "var_8000 = GetPos()", ErrStructure},
		{"missing targets", "GetPos()", ErrStructure},
		{"arity", "Wait(1, 2)", ErrStructure},
		{"unknown", "Dance()", ErrUnknownInstruction},
		{"direct jump", "Jump(0)", ErrStructure},
		{"unknown func", "call func_9", ErrUnknownFunction},
		{"unknown movement", "ApplyMovement(1) { moonwalk(1) }", ErrUnknownInstruction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileSource(t, reg, Options{}, "script 1 { "+tt.stmt+" }")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCompileConditions(t *testing.T) {
	reg := isatest.New()
	tests := []struct {
		name string
		cond string
		want []byte // setup + branch opcode + operator
	}{
		{"int operand", "var_8000 >= 5", []byte{0x11, 0x00, 0x00, 0x80, 0x05, 0x00, 0x1C, 0x00, 0x04}},
		{"var operand", "var_8000 != var_8001", []byte{0x12, 0x00, 0x00, 0x80, 0x01, 0x80, 0x1C, 0x00, 0x05}},
		{"flag", "flag_12", []byte{0x1E, 0x00, 0x12, 0x00, 0x1C, 0x00, 0x01}},
		{"negated flag", "not flag_12", []byte{0x1E, 0x00, 0x12, 0x00, 0x1C, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := compileSource(t, reg, Options{}, "script 1 { if "+tt.cond+" { end false } end }")
			if err != nil {
				t.Fatal(err)
			}
			b := obj.Scripts[0]
			if got := b.Bytes()[:len(tt.want)]; !bytes.Equal(got, tt.want) {
				t.Errorf("bytes = % x, want % x", got, tt.want)
			}
			if len(b.Relocs) != 1 || b.Relocs[0].Offset != len(tt.want) {
				t.Fatalf("relocs = %+v", b.Relocs)
			}
			if taken := b.Relocs[0].Target.Bytes(); !bytes.Equal(taken, []byte{0x03, 0x00}) {
				t.Errorf("taken block = % x", taken)
			}
		})
	}
}

func TestCompileIfShortCircuitsJump(t *testing.T) {
	obj, err := compileSource(t, isatest.New(), Options{}, `
script 1 { if flag_1 { call func_1 } end true }
func 1 { end false }`)
	if err != nil {
		t.Fatal(err)
	}
	if target := obj.Scripts[0].Relocs[0].Target; target != obj.Funcs[1] {
		t.Errorf("branch target = %s, want func_1", target.Name)
	}
}

func TestCompileJump(t *testing.T) {
	obj, err := compileSource(t, isatest.New(), Options{}, `
script 1 { goto { end false } }
script 2 { return call func_4 }
func 4 { end true }`)
	if err != nil {
		t.Fatal(err)
	}
	s1 := obj.Scripts[0]
	if !bytes.Equal(s1.Bytes(), []byte{0x16, 0x00, 0, 0, 0, 0}) {
		t.Errorf("script_1 = % x", s1.Bytes())
	}
	if inline := s1.Relocs[0].Target; inline == obj.Funcs[4] || !bytes.Equal(inline.Bytes(), []byte{0x03, 0x00}) {
		t.Errorf("inline target = %s % x", inline.Name, inline.Bytes())
	}
	if obj.Scripts[1].Relocs[0].Target != obj.Funcs[4] {
		t.Error("script_2 should jump to func_4")
	}
}

func TestCompileMovement(t *testing.T) {
	obj, err := compileSource(t, isatest.New(), Options{}, "script 1 { ApplyMovement(255) { walk_up(2) face_left() mov_9(1) } end }")
	if err != nil {
		t.Fatal(err)
	}
	s := obj.Scripts[0]
	want := []byte{0x5E, 0x00, 0xFF, 0x00, 0, 0, 0, 0, 0x02, 0x00}
	if !bytes.Equal(s.Bytes(), want) {
		t.Errorf("script = % x, want % x", s.Bytes(), want)
	}
	steps := s.Relocs[0].Target.Bytes()
	wantSteps := []byte{0x00, 0x00, 0x02, 0x00, 0x0C, 0x00, 0x01, 0x00, 0x09, 0x00, 0x01, 0x00, 0xFE, 0x00}
	if !bytes.Equal(steps, wantSteps) {
		t.Errorf("steps = % x, want % x", steps, wantSteps)
	}
}

func TestCompileScopeRestoredOnError(t *testing.T) {
	prog, err := Parse("script 1 { ApplyMovement(1) { walk_up(1) moonwalk(1) } }", nil)
	if err != nil {
		t.Fatal(err)
	}
	c := New(isatest.New(), Options{})
	c.funcs = map[int]*linker.Block{}
	b := linker.NewBlock("script_1")
	if err := c.compileRoutine(prog.Scripts[0], b); !errors.Is(err, ErrUnknownInstruction) {
		t.Fatalf("err = %v", err)
	}
	if c.cur != nil || len(c.stack) != 0 {
		t.Errorf("block stack not unwound: cur=%v depth=%d", c.cur, len(c.stack))
	}
	steps := b.Relocs[0].Target.Bytes()
	if n := len(steps); n < 2 || steps[n-2] != 0xFE {
		t.Errorf("movement block not terminated: % x", steps)
	}
}

func TestCompileEndSelection(t *testing.T) {
	reg := isatest.New()
	tests := []struct {
		stmt string
		want byte
		diag bool
	}{
		{"end true", 0x02, false},
		{"end false", 0x03, false},
		{"end", 0x02, true},
	}
	for _, tt := range tests {
		obj, err := compileSource(t, reg, Options{}, "script 1 { "+tt.stmt+" }")
		if err != nil {
			t.Fatal(err)
		}
		if got := obj.Scripts[0].Bytes()[0]; got != tt.want {
			t.Errorf("%s: opcode = %#x, want %#x", tt.stmt, got, tt.want)
		}
		if hasDiag(obj.Diagnostics, script.EndValueAssumed) != tt.diag {
			t.Errorf("%s: diagnostics = %v", tt.stmt, obj.Diagnostics)
		}
	}
}

func TestCompileStubsMissingScripts(t *testing.T) {
	obj, err := compileSource(t, isatest.New(), Options{}, "script 1 { end false } script 3 { end false }")
	if err != nil {
		t.Fatal(err)
	}
	if len(obj.Scripts) != 3 {
		t.Fatalf("scripts = %d, want 3", len(obj.Scripts))
	}
	if got := obj.Scripts[1].Bytes(); !bytes.Equal(got, []byte{0x02, 0x00}) {
		t.Errorf("stub = % x", got)
	}
	if !hasDiag(obj.Diagnostics, script.ScriptStubbed) {
		t.Errorf("diagnostics = %v", obj.Diagnostics)
	}
}

func TestCompileIsolatesFailures(t *testing.T) {
	obj, err := compileSource(t, isatest.New(), Options{}, `
script 1 { Dance() }
script 2 { end true }
func 1 { call func_8 }`)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "script_1") || !strings.Contains(msg, "func_1") {
		t.Errorf("err = %q should name both failing routines", msg)
	}
	if got := obj.Scripts[1].Bytes(); !bytes.Equal(got, []byte{0x02, 0x00}) {
		t.Errorf("script_2 = % x", got)
	}
}

func TestCompileMessageText(t *testing.T) {
	table := texts.NewLines("zero")
	obj, err := compileSource(t, isatest.New(), Options{Texts: table}, `script 1 { Message(0, text="first") Message(3, text="fourth") end }`)
	if err != nil {
		t.Fatal(err)
	}
	if table.Len() != 4 || table.Text(0) != "first" || table.Text(3) != "fourth" {
		t.Errorf("table = %d entries", table.Len())
	}
	if !hasDiag(obj.Diagnostics, script.TextPopulated) {
		t.Errorf("diagnostics = %v", obj.Diagnostics)
	}

	obj, err = compileSource(t, isatest.New(), Options{}, `script 1 { Message(0, text="x") end }`)
	if err != nil {
		t.Fatal(err)
	}
	if !hasDiag(obj.Diagnostics, script.TextNotLoaded) {
		t.Errorf("diagnostics = %v", obj.Diagnostics)
	}
}

func TestBuildDedup(t *testing.T) {
	img, _, err := BuildSource(`
script 1 { PlaySound(3) if flag_1 { end false } end true }
script 2 { PlaySound(3) if flag_1 { end false } end true }`, isatest.New(), nil, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if img.ScriptOffsets[0] != img.ScriptOffsets[1] {
		t.Errorf("script offsets = %v, want shared", img.ScriptOffsets)
	}
	if len(img.Layout) != 2 {
		t.Errorf("layout = %+v, want script block and taken block", img.Layout)
	}
}

func TestCompileIfContinues(t *testing.T) {
	obj, err := compileSource(t, isatest.New(), Options{}, "script 1 { if flag_1 { Wait(1) } end true }")
	if err != nil {
		t.Fatal(err)
	}
	s := obj.Scripts[0]
	want := []byte{0x1E, 0x00, 0x01, 0x00, 0x1C, 0x00, 0x01, 0, 0, 0, 0, 0x16, 0x00, 0, 0, 0, 0}
	if !bytes.Equal(s.Bytes(), want) {
		t.Fatalf("script = % x, want % x", s.Bytes(), want)
	}
	if len(s.Relocs) != 2 {
		t.Fatalf("relocs = %+v", s.Relocs)
	}
	taken, cont := s.Relocs[0].Target, s.Relocs[1].Target
	if !bytes.Equal(cont.Bytes(), []byte{0x02, 0x00}) {
		t.Errorf("continuation = % x", cont.Bytes())
	}
	if !bytes.Equal(taken.Bytes(), []byte{0x0B, 0x00, 0x01, 0x16, 0x00, 0, 0, 0, 0}) {
		t.Errorf("taken block = % x", taken.Bytes())
	}
	if len(taken.Relocs) != 1 || taken.Relocs[0].Target != cont {
		t.Errorf("taken block does not rejoin the continuation: %+v", taken.Relocs)
	}
}

func TestCompileNestedIfContinues(t *testing.T) {
	obj, err := compileSource(t, isatest.New(), Options{}, `
script 1 {
  if flag_1 {
    if flag_2 { Wait(1) }
  }
  end true
}`)
	if err != nil {
		t.Fatal(err)
	}
	s := obj.Scripts[0]
	outer, cont := s.Relocs[0].Target, s.Relocs[1].Target
	if len(outer.Relocs) != 2 || outer.Relocs[1].Target != cont {
		t.Fatalf("outer body relocs = %+v", outer.Relocs)
	}
	inner := outer.Relocs[0].Target
	if len(inner.Relocs) != 1 || inner.Relocs[0].Target != cont {
		t.Errorf("inner body relocs = %+v", inner.Relocs)
	}
}

func TestCompileOutputWidth(t *testing.T) {
	reg := isatest.New()
	for _, def := range []*isa.Definition{
		{Opcode: 0x40, Name: "GetWide", Args: []isa.ArgSpec{isa.Fixed(4)}, Returns: []int{0}},
		{Opcode: 0x41, Name: "GetNarrow", Args: []isa.ArgSpec{isa.Fixed(1)}, Returns: []int{0}},
	} {
		if err := reg.Define(def); err != nil {
			t.Fatal(err)
		}
	}
	tests := []struct {
		stmt string
		want []byte
		diag bool
	}{
		{"var_8000 = GetWide()", []byte{0x40, 0x00, 0x00, 0x80, 0x00, 0x00}, false},
		{"var_12 = GetNarrow()", []byte{0x41, 0x00, 0x12}, false},
		{"var_8000 = GetNarrow()", []byte{0x41, 0x00, 0x00}, true},
	}
	for _, tt := range tests {
		obj, err := compileSource(t, reg, Options{}, "script 1 { "+tt.stmt+" }")
		if err != nil {
			t.Fatalf("%s: %v", tt.stmt, err)
		}
		if got := obj.Scripts[0].Bytes(); !bytes.Equal(got, tt.want) {
			t.Errorf("%s: bytes = % x, want % x", tt.stmt, got, tt.want)
		}
		if got := hasDiag(obj.Diagnostics, script.ArgumentTruncated); got != tt.diag {
			t.Errorf("%s: truncation reported = %v, want %v", tt.stmt, got, tt.diag)
		}
	}
}

func TestTerminates(t *testing.T) {
	end := &script.End{}
	wait := &script.Call{Name: "Wait"}
	tests := []struct {
		name  string
		stmts []script.Stmt
		want  bool
	}{
		{"empty", nil, false},
		{"end", []script.Stmt{wait, end}, true},
		{"jump", []script.Stmt{&script.Jump{Shared: true, Func: 1}}, true},
		{"call last", []script.Stmt{end, wait}, false},
		{"if last", []script.Stmt{&script.If{Body: &script.Block{Stmts: []script.Stmt{end}}}}, false},
		{"block ending in end", []script.Stmt{&script.Block{Stmts: []script.Stmt{end}}}, true},
	}
	for _, tt := range tests {
		if got := terminates(tt.stmts); got != tt.want {
			t.Errorf("%s: terminates = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCompileSplicesPlainBlocks(t *testing.T) {
	cond := script.Condition{Left: &script.Ref{Kind: script.FlagRef, ID: 1}}
	prog := &script.Program{Scripts: []*script.Routine{{
		Kind: script.ScriptKind, ID: 1,
		Body: []script.Stmt{
			&script.Block{Stmts: []script.Stmt{
				&script.If{Cond: cond, Body: &script.Block{Stmts: []script.Stmt{
					&script.Call{Name: "Wait", Args: []script.Expr{&script.Int{Value: 1}}},
				}}},
			}},
			&script.End{Value: script.Bool(true)},
		},
	}}}
	obj, err := New(isatest.New(), Options{}).CompileProgram(prog)
	if err != nil {
		t.Fatal(err)
	}
	s := obj.Scripts[0]
	if len(s.Relocs) != 2 || !bytes.Equal(s.Relocs[1].Target.Bytes(), []byte{0x02, 0x00}) {
		t.Errorf("end true should follow the if in a continuation block: relocs = %+v", s.Relocs)
	}
}
