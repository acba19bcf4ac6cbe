package decompiler

import (
	"fmt"

	"github.com/chazu/fieldscript/binio"
	"github.com/chazu/fieldscript/isa"
	"github.com/chazu/fieldscript/script"
	"github.com/chazu/fieldscript/texts"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("fieldscript.decompiler")

// Options configures a decompilation.
type Options struct {
	Names         *script.Names // display names for variables and flags; may be nil
	Texts         texts.Table   // string table for message annotations; may be nil
	ScriptStart   int           // id of the first script; zero means 1
	FunctionStart int           // id of the first promoted function; zero means 1
}

// Batch decodes the scripts of one stream and the jump targets they share.
type Batch struct {
	reg     *isa.Registry
	opts    Options
	data    []byte
	targets *Targets
	diags   []script.Diagnostic
}

// NewBatch creates a batch over data.
func NewBatch(data []byte, reg *isa.Registry, opts Options) *Batch {
	if opts.ScriptStart == 0 {
		opts.ScriptStart = 1
	}
	if opts.FunctionStart == 0 {
		opts.FunctionStart = 1
	}
	return &Batch{reg: reg, opts: opts, data: data, targets: NewTargets()}
}

// Targets returns the jump target arena.
func (b *Batch) Targets() *Targets {
	return b.targets
}

// Diagnostics returns the recoverable problems reported so far.
func (b *Batch) Diagnostics() []script.Diagnostic {
	return b.diags
}

func (b *Batch) diag(kind script.DiagKind, where, format string, args ...any) {
	d := script.Diagnostic{Kind: kind, Where: where, Message: fmt.Sprintf(format, args...)}
	log.Warningf("%s", d)
	b.diags = append(b.diags, d)
}

// Decode decodes the instruction sequence at offset. Jumps met on the way
// are recorded in the target arena. On error the statements decoded before
// the failure are returned with it. An offset past the end of the data is
// an error; one exactly at the end decodes as a valueless end.
func (b *Batch) Decode(offset int, where string) ([]script.Stmt, error) {
	if offset < 0 || offset > len(b.data) {
		return nil, fmt.Errorf("%#x in %d bytes: %w", offset, len(b.data), ErrOffsetOutOfRange)
	}
	d := &decoder{batch: b, rd: binio.NewReader(b.data), where: where}
	d.rd.Seek(offset)
	return d.run()
}

// ReadTable reads the master offset table at the start of data and returns
// the absolute script offsets. A zero entry or one whose low 16 bits equal
// TableEnd ends the table. A table that runs off the end of data is not a
// script file and yields no offsets.
func ReadTable(data []byte) []int {
	rd := binio.NewReader(data)
	var offsets []int
	for {
		v, err := rd.Uint32()
		if err != nil {
			return nil
		}
		if v == 0 || v&0xFFFF == isa.TableEnd {
			return offsets
		}
		offsets = append(offsets, rd.Pos()+int(int32(v)))
	}
}

// Load decompiles every script in data, resolves jump targets and rewrites
// jump sites. Routines that fail to decode keep their partial bodies and
// carry the error; the rest of the batch is unaffected.
func Load(data []byte, reg *isa.Registry, opts Options) (*script.Program, []script.Diagnostic) {
	b := NewBatch(data, reg, opts)
	prog := &script.Program{}
	for i, off := range ReadTable(data) {
		r := &script.Routine{Kind: script.ScriptKind, ID: b.opts.ScriptStart + i, Offset: off}
		r.Body, r.Err = b.Decode(off, r.Name())
		if r.Err != nil {
			log.Warningf("%s: %v", r.Name(), r.Err)
		}
		prog.Scripts = append(prog.Scripts, r)
	}
	b.Resolve()
	prog.Funcs = b.Promote()
	b.Rewrite(prog)
	log.Debugf("decompiled %d scripts, %d targets, %d functions",
		len(prog.Scripts), b.targets.Len(), len(prog.Funcs))
	return prog, b.diags
}

// Resolve decodes pending targets, including those discovered while doing
// so, until none remain.
func (b *Batch) Resolve() {
	for i := 0; i < len(b.targets.order); i++ {
		t := b.targets.order[i]
		if t.State != Pending {
			continue
		}
		t.Stmts, t.Err = b.Decode(t.Offset, fmt.Sprintf("target@%#x", t.Offset))
		t.State = Resolved
		if t.Err != nil {
			log.Warningf("target@%#x: %v", t.Offset, t.Err)
		}
	}
}

// Promote turns every target with more than one jump site into a shared
// function. Ids are assigned sequentially in discovery order.
func (b *Batch) Promote() []*script.Routine {
	var funcs []*script.Routine
	id := b.opts.FunctionStart
	for _, t := range b.targets.order {
		if t.Refs <= 1 {
			continue
		}
		t.Promoted = true
		t.Func = id
		id++
		funcs = append(funcs, &script.Routine{
			Kind:   script.FuncKind,
			ID:     t.Func,
			Body:   t.Stmts,
			Offset: t.Offset,
			Err:    t.Err,
		})
	}
	return funcs
}

// Rewrite resolves every pending jump in the program and in every target.
// Jumps to promoted targets become function calls; the rest adopt the
// target's statements as their body.
func (b *Batch) Rewrite(prog *script.Program) {
	for _, r := range prog.Scripts {
		b.rewrite(r.Body)
	}
	for _, t := range b.targets.order {
		b.rewrite(t.Stmts)
	}
}

// rewrite does not descend into inline jump bodies; they are target
// statement lists and get rewritten on their own.
func (b *Batch) rewrite(stmts []script.Stmt) {
	for _, s := range stmts {
		switch s := s.(type) {
		case *script.Jump:
			b.resolveJump(s)
		case *script.If:
			b.rewrite(s.Body.Stmts)
			if len(s.Body.Stmts) == 1 {
				if j, ok := s.Body.Stmts[0].(*script.Jump); ok && j.Body != nil {
					s.Body = &script.Block{At: s.Body.At, Stmts: j.Body.Stmts}
				}
			}
		}
	}
}

func (b *Batch) resolveJump(j *script.Jump) {
	if !j.Pending() {
		return
	}
	t, ok := b.targets.Get(j.Offset)
	if !ok {
		return
	}
	if t.Promoted {
		j.Shared = true
		j.Func = t.Func
		j.Return = endsWithValue(t.Stmts)
		return
	}
	j.Body = &script.Block{Stmts: t.Stmts}
}

func endsWithValue(stmts []script.Stmt) bool {
	if len(stmts) == 0 {
		return false
	}
	end, ok := stmts[len(stmts)-1].(*script.End)
	return ok && end.Value != nil
}
