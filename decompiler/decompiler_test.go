package decompiler

import (
	"errors"
	"testing"
	"time"

	"github.com/chazu/fieldscript/binio"
	"github.com/chazu/fieldscript/isa/isatest"
	"github.com/chazu/fieldscript/linker"
	"github.com/chazu/fieldscript/script"
	"github.com/chazu/fieldscript/texts"
)

func block(name string, fill func(b *linker.Block)) *linker.Block {
	b := linker.NewBlock(name)
	fill(b)
	return b
}

func link(t *testing.T, scripts ...*linker.Block) []byte {
	t.Helper()
	img, err := linker.Link(scripts)
	if err != nil {
		t.Fatal(err)
	}
	return img.Bytes
}

// rawStream builds a table with one script whose code follows the header.
func rawStream(code ...byte) []byte {
	w := binio.NewWriter()
	w.Int32(4)
	w.Uint32(0xFD13)
	w.Write(code)
	return w.Bytes()
}

func TestResync(t *testing.T) {
	prog, diags := Load(rawStream(0xFF, 0x7F, 0x02, 0x00), isatest.New(), Options{})
	body := prog.Scripts[0].Body
	if len(body) != 3 {
		t.Fatalf("body = %s", script.FormatStmts(body))
	}
	if r, ok := body[0].(*script.Raw); !ok || r.Byte != 0xFF {
		t.Errorf("body[0] = %#v", body[0])
	}
	if r, ok := body[1].(*script.Raw); !ok || r.Byte != 0x7F {
		t.Errorf("body[1] = %#v", body[1])
	}
	if e, ok := body[2].(*script.End); !ok || e.Value == nil || !*e.Value {
		t.Errorf("body[2] = %#v", body[2])
	}
	if len(diags) != 1 || diags[0].Kind != script.DecodeResync {
		t.Errorf("diags = %v", diags)
	}
}

func TestTableTermination(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want int
	}{
		{"sentinel only", []byte{0x13, 0xFD, 0x00, 0x00}, 0},
		{"sentinel high bits", []byte{0x13, 0xFD, 0x34, 0x12}, 0},
		{"empty", nil, 0},
		{"short", []byte{0x13, 0xFD}, 0},
		{"runs off the end", []byte{0x10, 0x00, 0x00, 0x00}, 0},
		{"zero entry", []byte{0x04, 0, 0, 0, 0, 0, 0, 0, 0x02, 0x00}, 1},
		{"one script", rawStream(0x02, 0x00), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, _ := Load(tt.data, isatest.New(), Options{})
			if len(prog.Scripts) != tt.want {
				t.Errorf("scripts = %d, want %d", len(prog.Scripts), tt.want)
			}
		})
	}
}

func TestReadTableOffsets(t *testing.T) {
	a := block("script_1", func(b *linker.Block) { b.Uint16(0x02) })
	c := block("script_2", func(b *linker.Block) { b.Uint16(0x03) })
	got := ReadTable(link(t, a, c))
	if len(got) != 2 || got[0] != 12 || got[1] != 16 {
		t.Errorf("ReadTable = %v, want [12 16]", got)
	}
}

func TestEndOfData(t *testing.T) {
	prog, _ := Load(rawStream(0x49, 0x00, 0x05, 0x00, 0x01), isatest.New(), Options{})
	body := prog.Scripts[0].Body
	if len(body) != 2 {
		t.Fatalf("body = %s", script.FormatStmts(body))
	}
	if e, ok := body[1].(*script.End); !ok || e.Value != nil {
		t.Errorf("last = %#v, want valueless end", body[1])
	}
}

func TestTruncatedStreamIsolated(t *testing.T) {
	w := binio.NewWriter()
	w.Int32(8)       // script_1 at 12
	w.Int32(8)       // script_2 at 16
	w.Uint32(0xFD13) // end
	w.Uint16(0x02)   // script_1: End
	w.Uint16(0)      // pad
	w.Uint16(0x49)   // script_2: PlaySound(0x1234)
	w.Uint16(0x1234)
	w.Uint16(0x1A) // SetVar with a missing operand
	w.Uint16(0x8000)
	w.Uint8(0x01)

	prog, _ := Load(w.Bytes(), isatest.New(), Options{})
	if len(prog.Scripts) != 2 {
		t.Fatalf("scripts = %d", len(prog.Scripts))
	}
	if prog.Scripts[0].Err != nil {
		t.Errorf("script_1 err = %v", prog.Scripts[0].Err)
	}
	s2 := prog.Scripts[1]
	if !errors.Is(s2.Err, ErrTruncatedStream) {
		t.Errorf("script_2 err = %v, want ErrTruncatedStream", s2.Err)
	}
	if len(s2.Body) != 1 || s2.Body[0].(*script.Call).Name != "PlaySound" {
		t.Errorf("partial body = %s", script.FormatStmts(s2.Body))
	}
}

func TestJumpOutsideData(t *testing.T) {
	tests := []struct {
		name string
		disp int32
	}{
		{"before the start", -100},
		{"past the end", 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := binio.NewWriter()
			w.Uint16(isatest.OpJump)
			w.Int32(tt.disp)
			data := rawStream(w.Bytes()...)
			target := 14 + int(tt.disp)

			done := make(chan *Batch, 1)
			go func() {
				b := NewBatch(data, isatest.New(), Options{})
				b.Decode(ReadTable(data)[0], "script_1")
				b.Resolve()
				done <- b
			}()
			select {
			case b := <-done:
				e, ok := b.Targets().Get(target)
				if !ok || !errors.Is(e.Err, ErrOffsetOutOfRange) {
					t.Errorf("target %d = %+v, want ErrOffsetOutOfRange", target, e)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("decoding did not finish")
			}

			prog, _ := Load(data, isatest.New(), Options{})
			if body := prog.Scripts[0].Body; len(body) != 1 {
				t.Errorf("body = %s", script.FormatStmts(body))
			}
		})
	}
}

func TestJumpToEndOfData(t *testing.T) {
	w := binio.NewWriter()
	w.Uint16(isatest.OpJump)
	w.Int32(0)
	b := NewBatch(rawStream(w.Bytes()...), isatest.New(), Options{})
	b.Decode(8, "script_1")
	b.Resolve()
	e, ok := b.Targets().Get(14)
	if !ok || e.Err != nil || len(e.Stmts) != 1 {
		t.Fatalf("target = %+v", e)
	}
	if end, ok := e.Stmts[0].(*script.End); !ok || end.Value != nil {
		t.Errorf("target body = %s, want valueless end", script.FormatStmts(e.Stmts))
	}
}

func TestNegation(t *testing.T) {
	tests := []struct {
		op      byte
		negated bool
	}{
		{0, true},
		{1, false},
		{7, false},
	}
	for _, tt := range tests {
		end := block("end", func(b *linker.Block) { b.Uint16(0x03) })
		s := block("script_1", func(b *linker.Block) {
			b.Uint16(isatest.OpCheckflag)
			b.Uint16(0x12)
			b.Uint16(isatest.OpCheckLR)
			b.Uint8(tt.op)
			b.Reloc(end)
			b.Uint16(0x02)
		})
		prog, _ := Load(link(t, s), isatest.New(), Options{})
		r := prog.Scripts[0]
		if r.Err != nil {
			t.Fatalf("op %d: %v", tt.op, r.Err)
		}
		cond := r.Body[0].(*script.If).Cond
		if !cond.Single() || cond.Negated != tt.negated {
			t.Errorf("op %d: cond = %+v, want negated=%v", tt.op, cond, tt.negated)
		}
	}
}

func TestComparisonOperators(t *testing.T) {
	end := block("end", func(b *linker.Block) { b.Uint16(0x03) })
	s := block("script_1", func(b *linker.Block) {
		b.Uint16(isatest.OpIf)
		b.Uint16(0x8000)
		b.Uint16(0x10)
		b.Uint16(isatest.OpCheckLR)
		b.Uint8(4)
		b.Reloc(end)
		b.Uint16(0x02)
	})
	prog, _ := Load(link(t, s), isatest.New(), Options{})
	want := "if var_8000 >= 16 {\n  end false\n}\nend true\n"
	if got := script.FormatStmts(prog.Scripts[0].Body); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestConditionalErrors(t *testing.T) {
	end := block("end", func(b *linker.Block) { b.Uint16(0x03) })
	unknown := block("script_1", func(b *linker.Block) {
		b.Uint16(isatest.OpIf)
		b.Uint16(0x8000)
		b.Uint16(1)
		b.Uint16(isatest.OpCheckLR)
		b.Uint8(6)
		b.Reloc(end)
	})
	missing := block("script_2", func(b *linker.Block) {
		b.Uint16(isatest.OpCheckLR)
		b.Uint8(1)
		b.Reloc(end)
	})
	prog, _ := Load(link(t, unknown, missing), isatest.New(), Options{})
	if err := prog.Scripts[0].Err; !errors.Is(err, ErrUnknownOperator) {
		t.Errorf("script_1 err = %v", err)
	}
	if err := prog.Scripts[1].Err; !errors.Is(err, ErrMissingComparison) {
		t.Errorf("script_2 err = %v", err)
	}
}

func TestPromotionThreshold(t *testing.T) {
	shared := block("shared", func(b *linker.Block) {
		b.Uint16(isatest.OpPlaySound)
		b.Uint16(7)
		b.Uint16(0x02)
	})
	single := block("single", func(b *linker.Block) { b.Uint16(0x03) })
	s1 := block("script_1", func(b *linker.Block) {
		b.Uint16(isatest.OpJump)
		b.Reloc(shared)
	})
	s2 := block("script_2", func(b *linker.Block) {
		b.Uint16(isatest.OpCheckflag)
		b.Uint16(1)
		b.Uint16(isatest.OpCheckLR)
		b.Uint8(1)
		b.Reloc(single)
		b.Uint16(isatest.OpJump)
		b.Reloc(shared)
	})

	prog, _ := Load(link(t, s1, s2), isatest.New(), Options{FunctionStart: 10})
	if len(prog.Funcs) != 1 || prog.Funcs[0].ID != 10 {
		t.Fatalf("funcs = %+v", prog.Funcs)
	}
	want1 := "return call func_10\n"
	if got := script.FormatStmts(prog.Scripts[0].Body); got != want1 {
		t.Errorf("script_1 = %q, want %q", got, want1)
	}
	want2 := "if flag_1 {\n  end false\n}\nreturn call func_10\n"
	if got := script.FormatStmts(prog.Scripts[1].Body); got != want2 {
		t.Errorf("script_2 = %q, want %q", got, want2)
	}
	wantFunc := "PlaySound(7)\nend true\n"
	if got := script.FormatStmts(prog.Funcs[0].Body); got != wantFunc {
		t.Errorf("func_10 = %q, want %q", got, wantFunc)
	}
}

func TestInlineGoto(t *testing.T) {
	tail := block("tail", func(b *linker.Block) { b.Uint16(0x03) })
	s := block("script_1", func(b *linker.Block) {
		b.Uint16(isatest.OpPlaySound)
		b.Uint16(1)
		b.Uint16(isatest.OpJump)
		b.Reloc(tail)
	})
	prog, _ := Load(link(t, s), isatest.New(), Options{})
	want := "PlaySound(1)\ngoto {\n  end false\n}\n"
	if got := script.FormatStmts(prog.Scripts[0].Body); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if len(prog.Funcs) != 0 {
		t.Errorf("funcs = %d, want 0", len(prog.Funcs))
	}
}

func TestCallWithoutReturn(t *testing.T) {
	tail := block("tail", func(b *linker.Block) { b.Uint16(0x02) })
	shared := block("shared", func(b *linker.Block) {
		b.Uint16(isatest.OpPlaySound)
		b.Uint16(2)
		b.Uint16(isatest.OpJump)
		b.Reloc(tail)
	})
	s1 := block("script_1", func(b *linker.Block) {
		b.Uint16(isatest.OpJump)
		b.Reloc(shared)
	})
	s2 := block("script_2", func(b *linker.Block) {
		b.Uint16(isatest.OpWait)
		b.Uint8(5)
		b.Uint16(isatest.OpJump)
		b.Reloc(shared)
	})
	prog, _ := Load(link(t, s1, s2), isatest.New(), Options{})
	if len(prog.Funcs) != 1 {
		t.Fatalf("funcs = %d, want 1", len(prog.Funcs))
	}
	tests := []struct {
		got, want string
	}{
		{script.FormatStmts(prog.Scripts[0].Body), "call func_1\n"},
		{script.FormatStmts(prog.Scripts[1].Body), "Wait(5)\ncall func_1\n"},
		{script.FormatStmts(prog.Funcs[0].Body), "PlaySound(2)\ngoto {\n  end true\n}\n"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestFallThrough(t *testing.T) {
	// The first script has no terminator and runs into the second.
	s1 := block("script_1", func(b *linker.Block) {
		b.Uint16(isatest.OpPlaySound)
		b.Uint16(2)
	})
	s2 := block("script_2", func(b *linker.Block) { b.Uint16(0x03) })
	prog, _ := Load(link(t, s1, s2), isatest.New(), Options{})
	want := "PlaySound(2)\nend false\n"
	if got := script.FormatStmts(prog.Scripts[0].Body); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestMovementDecode(t *testing.T) {
	steps := block("steps", func(b *linker.Block) {
		b.Uint16(0x00)
		b.Uint16(2)
		b.Uint16(0x0C)
		b.Uint16(1)
		b.Uint16(0x33)
		b.Uint16(4)
		b.Uint16(0xFE)
	})
	s := block("script_1", func(b *linker.Block) {
		b.Uint16(isatest.OpApplyMovement)
		b.Uint16(0xFF)
		b.Reloc(steps)
		b.Uint16(0x02)
	})
	prog, _ := Load(link(t, s), isatest.New(), Options{})
	want := "ApplyMovement(0xff) {\n  walk_up(2)\n  face_left(1)\n  mov_51(4)\n}\nend true\n"
	if got := script.FormatStmts(prog.Scripts[0].Body); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestMessageAnnotation(t *testing.T) {
	s := block("script_1", func(b *linker.Block) {
		b.Uint16(isatest.OpMessage)
		b.Uint8(1)
		b.Uint16(isatest.OpMessage)
		b.Uint8(9)
		b.Uint16(0x02)
	})
	table := texts.NewLines("zero", "one")
	prog, diags := Load(link(t, s), isatest.New(), Options{Texts: table})
	body := prog.Scripts[0].Body
	if c := body[0].(*script.Call); c.Text == nil || *c.Text != "one" {
		t.Errorf("first message = %+v", c)
	}
	if c := body[1].(*script.Call); c.Text != nil {
		t.Errorf("second message should not be annotated: %q", *c.Text)
	}
	if len(diags) != 1 || diags[0].Kind != script.TextIndexOutOfRange {
		t.Errorf("diags = %v", diags)
	}
}

func TestAssignAndNames(t *testing.T) {
	names := script.NewNames()
	names.DefineVar("PLAYER_X", 0x8000)
	s := block("script_1", func(b *linker.Block) {
		b.Uint16(isatest.OpGetPos)
		b.Uint16(0x8000)
		b.Uint16(0x8001)
		b.Uint16(0x02)
	})
	prog, _ := Load(link(t, s), isatest.New(), Options{Names: names})
	want := "PLAYER_X, var_8001 = GetPos()\nend true\n"
	if got := script.FormatStmts(prog.Scripts[0].Body); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLooksHex(t *testing.T) {
	tests := []struct {
		v    uint32
		want bool
	}{
		{0, false},
		{5, false},
		{7, false},
		{16, false},
		{0x1f, true},
		{255, true},
		{300, false},
		{0x8000, true},
		{0x4001, true},
		{100, false},
		{1000, true},
	}
	for _, tt := range tests {
		if got := looksHex(tt.v); got != tt.want {
			t.Errorf("looksHex(%d) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestTargetsArena(t *testing.T) {
	ts := NewTargets()
	ts.Reference(0x40)
	ts.Reference(0x20)
	ts.Reference(0x40)
	all := ts.All()
	if len(all) != 2 || all[0].Offset != 0x40 || all[1].Offset != 0x20 {
		t.Fatalf("discovery order = %+v", all)
	}
	if e, _ := ts.Get(0x40); e.Refs != 2 || e.State != Pending {
		t.Errorf("entry = %+v", e)
	}
}
