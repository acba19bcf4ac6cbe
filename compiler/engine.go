// Package compiler parses script source and compiles structured statements
// into linkable byte-code blocks.
package compiler

import (
	"errors"
	"fmt"
	"sort"

	"github.com/chazu/fieldscript/isa"
	"github.com/chazu/fieldscript/linker"
	"github.com/chazu/fieldscript/script"
	"github.com/chazu/fieldscript/texts"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Engine: compile structured statements to blocks
// ---------------------------------------------------------------------------

var (
	// ErrStructure is returned for statements whose shape does not match
	// the instruction they use.
	ErrStructure = errors.New("structure error")
	// ErrUnknownInstruction is returned for names missing from the registry.
	ErrUnknownInstruction = errors.New("unknown instruction")
	// ErrUnknownFunction is returned for calls to undefined shared functions.
	ErrUnknownFunction = errors.New("unknown function")
)

var log = commonlog.GetLogger("fieldscript.compiler")

// Options configures a compilation.
type Options struct {
	ScriptStart int           // id of the first script; zero means 1
	Texts       texts.Mutable // receives message text; may be nil
}

// Object is the compiled, unlinked form of a program.
type Object struct {
	Scripts     []*linker.Block // in id order from ScriptStart
	Funcs       map[int]*linker.Block
	Diagnostics []script.Diagnostic
}

// Compiler turns routines into blocks. A Compiler is used for one program.
type Compiler struct {
	reg   *isa.Registry
	opts  Options
	funcs map[int]*linker.Block

	cur    *linker.Block
	stack  []*linker.Block
	where  string
	nested int
	diags  []script.Diagnostic
}

// New creates a compiler for reg.
func New(reg *isa.Registry, opts Options) *Compiler {
	if opts.ScriptStart == 0 {
		opts.ScriptStart = 1
	}
	return &Compiler{reg: reg, opts: opts}
}

// Diagnostics returns the recoverable problems reported so far.
func (c *Compiler) Diagnostics() []script.Diagnostic {
	return c.diags
}

func (c *Compiler) diag(kind script.DiagKind, at script.Position, format string, args ...any) {
	d := script.Diagnostic{Kind: kind, Where: c.where, At: at, Message: fmt.Sprintf(format, args...)}
	log.Warningf("%s", d)
	c.diags = append(c.diags, d)
}

// CompileProgram compiles every function and script. Function blocks exist
// before any routine is compiled so calls resolve regardless of order.
// Missing script ids are filled with a stub that ends normally. A failing
// routine does not stop the others; all failures are joined in the error.
func (c *Compiler) CompileProgram(prog *script.Program) (*Object, error) {
	c.funcs = make(map[int]*linker.Block, len(prog.Funcs))
	var errs []error
	for _, f := range prog.Funcs {
		if _, dup := c.funcs[f.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: defined twice: %w", f.Name(), ErrStructure))
			continue
		}
		c.funcs[f.ID] = linker.NewBlock(f.Name())
	}
	for _, f := range prog.Funcs {
		if err := c.compileRoutine(f, c.funcs[f.ID]); err != nil {
			errs = append(errs, err)
		}
	}

	byID := make(map[int]*script.Routine, len(prog.Scripts))
	last := c.opts.ScriptStart - 1
	for _, s := range prog.Scripts {
		if s.ID < c.opts.ScriptStart {
			errs = append(errs, fmt.Errorf("%s: id below first script %d: %w", s.Name(), c.opts.ScriptStart, ErrStructure))
			continue
		}
		if _, dup := byID[s.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: defined twice: %w", s.Name(), ErrStructure))
			continue
		}
		byID[s.ID] = s
		last = max(last, s.ID)
	}

	obj := &Object{Funcs: c.funcs}
	for id := c.opts.ScriptStart; id <= last; id++ {
		s, ok := byID[id]
		if !ok {
			s = &script.Routine{Kind: script.ScriptKind, ID: id, Body: []script.Stmt{&script.End{Value: script.Bool(true)}}}
			c.where = s.Name()
			c.diag(script.ScriptStubbed, script.Position{}, "no definition, compiled as end true")
		}
		b := linker.NewBlock(s.Name())
		if err := c.compileRoutine(s, b); err != nil {
			errs = append(errs, err)
		}
		obj.Scripts = append(obj.Scripts, b)
	}
	obj.Diagnostics = c.diags
	log.Debugf("compiled %d scripts, %d functions", len(obj.Scripts), len(c.funcs))
	return obj, errors.Join(errs...)
}

func (c *Compiler) compileRoutine(r *script.Routine, b *linker.Block) error {
	c.where = r.Name()
	c.nested = 0
	exit := c.enter(b)
	defer exit()
	if err := c.compileSeq(r.Body, nil); err != nil {
		log.Warningf("%s: %v", r.Name(), err)
		return fmt.Errorf("%s: %w", r.Name(), err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Block stack
// ---------------------------------------------------------------------------

// enter makes b the current block. The returned func restores the previous
// one and must run on every exit path.
func (c *Compiler) enter(b *linker.Block) (exit func()) {
	c.stack = append(c.stack, c.cur)
	c.cur = b
	return func() {
		c.cur = c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]
	}
}

func (c *Compiler) newBlock() *linker.Block {
	c.nested++
	return linker.NewBlock(fmt.Sprintf("%s.%d", c.where, c.nested))
}

// compileBlock compiles stmts into a fresh nested block. When next is set
// and stmts do not terminate, the block jumps to next.
func (c *Compiler) compileBlock(stmts []script.Stmt, next *linker.Block) (*linker.Block, error) {
	b := c.newBlock()
	exit := c.enter(b)
	defer exit()
	return b, c.compileSeq(stmts, next)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// compileSeq compiles stmts into the current block. An if whose body does
// not terminate splits the sequence: the statements after it move to a
// continuation block that both the taken body and the current block jump
// to. next is the continuation of the enclosing sequence, or nil when
// running off the end is the sequence's own shape.
func (c *Compiler) compileSeq(stmts []script.Stmt, next *linker.Block) error {
	stmts = flatten(stmts)
	for i, s := range stmts {
		if f, ok := s.(*script.If); ok && !terminates(f.Body.Stmts) {
			return c.compileSplitIf(f, stmts[i+1:], next)
		}
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	if next != nil && !terminates(stmts) {
		return c.jumpTo(next, script.Position{})
	}
	return nil
}

// flatten splices nested plain blocks into the surrounding sequence.
func flatten(stmts []script.Stmt) []script.Stmt {
	nested := false
	for _, s := range stmts {
		if _, ok := s.(*script.Block); ok {
			nested = true
			break
		}
	}
	if !nested {
		return stmts
	}
	out := make([]script.Stmt, 0, len(stmts))
	for _, s := range stmts {
		if b, ok := s.(*script.Block); ok {
			out = append(out, flatten(b.Stmts)...)
			continue
		}
		out = append(out, s)
	}
	return out
}

// terminates reports whether control never runs past the end of stmts.
func terminates(stmts []script.Stmt) bool {
	if len(stmts) == 0 {
		return false
	}
	switch s := stmts[len(stmts)-1].(type) {
	case *script.End, *script.Jump:
		return true
	case *script.Block:
		return terminates(s.Stmts)
	}
	return false
}

func (c *Compiler) compileStmt(s script.Stmt) error {
	switch s := s.(type) {
	case *script.Call:
		return c.compileCall(s, nil)
	case *script.Assign:
		return c.compileCall(s.Call, s.Targets)
	case *script.If:
		return c.compileIf(s, nil)
	case *script.Block:
		return c.compileSeq(s.Stmts, nil)
	case *script.Jump:
		return c.compileJump(s)
	case *script.End:
		return c.compileEnd(s)
	case *script.Raw:
		c.cur.Uint8(s.Byte)
		return nil
	}
	return fmt.Errorf("%s: unsupported statement %T: %w", s.Pos(), s, ErrStructure)
}

func (c *Compiler) lookup(name string, at script.Position) (*isa.Definition, error) {
	def, ok := c.reg.ByName(name)
	if !ok {
		return nil, fmt.Errorf("%s: %s: %w", at, name, ErrUnknownInstruction)
	}
	return def, nil
}

// compileCall writes an instruction. Targets fill the output slots in
// order; call arguments fill the remaining slots.
func (c *Compiler) compileCall(call *script.Call, targets []*script.Ref) error {
	def, err := c.lookup(call.Name, call.At)
	if err != nil {
		return err
	}
	switch def.Variant {
	case isa.End, isa.Jump, isa.ConditionalJump:
		return fmt.Errorf("%s: %s cannot be called directly: %w", call.At, def.Name, ErrStructure)
	case isa.Movement:
		if len(targets) > 0 {
			return fmt.Errorf("%s: %s has no outputs: %w", call.At, def.Name, ErrStructure)
		}
		return c.compileMovement(def, call)
	}
	if call.Movement != nil {
		return fmt.Errorf("%s: %s takes no movement block: %w", call.At, def.Name, ErrStructure)
	}
	if len(targets) != len(def.Returns) {
		return fmt.Errorf("%s: %s writes %d values, %d targets given: %w",
			call.At, def.Name, len(def.Returns), len(targets), ErrStructure)
	}
	if err := c.writeInstruction(def, call.Args, targets, call.At); err != nil {
		return err
	}
	if def.Variant == isa.Message && call.Text != nil {
		c.storeText(call)
	}
	return nil
}

// writeInstruction writes the opcode and every argument slot of def.
func (c *Compiler) writeInstruction(def *isa.Definition, inputs []script.Expr, targets []*script.Ref, at script.Position) error {
	if len(inputs) != def.NumInputs() {
		return fmt.Errorf("%s: %s takes %d arguments, %d given: %w",
			at, def.Name, def.NumInputs(), len(inputs), ErrStructure)
	}
	c.cur.Uint16(def.Opcode)
	in, out := 0, 0
	for i, spec := range def.Args {
		if def.IsOutput(i) {
			c.writeOutput(def, spec, targets[out])
			out++
			continue
		}
		c.writeArg(def, spec, inputs[in])
		in++
	}
	return nil
}

// writeArg writes one input value. Values that do not fit their field are
// truncated, and values of the wrong kind are coerced; both are reported.
func (c *Compiler) writeArg(def *isa.Definition, spec isa.ArgSpec, e script.Expr) {
	var v int64
	switch e := e.(type) {
	case *script.Int:
		v = e.Value
		if spec.IsRef() {
			c.diag(script.ReferenceCoerced, e.At, "%s: %s where %s expected", def.Name, script.FormatExpr(e), spec)
		}
	case *script.Ref:
		v = int64(e.ID)
		if !spec.IsRef() {
			c.diag(script.ReferenceCoerced, e.At, "%s: %s used as a %d-byte value", def.Name, script.FormatExpr(e), spec.Size)
		}
	}
	size := spec.Size
	if spec.IsRef() {
		size = 2
	}
	truncated := uint32(uint64(v) & (1<<(8*size) - 1))
	if v < 0 || int64(truncated) != v {
		c.diag(script.ArgumentTruncated, e.Pos(), "%s: %d does not fit in %d bytes, written as %#x", def.Name, v, size, truncated)
	}
	c.cur.Uint(truncated, size)
}

// writeOutput writes the variable an output slot stores into, at the
// slot's width.
func (c *Compiler) writeOutput(def *isa.Definition, spec isa.ArgSpec, ref *script.Ref) {
	size := spec.Size
	if spec.IsRef() {
		size = 2
	}
	v := uint32(ref.ID)
	truncated := uint32(uint64(v) & (1<<(8*size) - 1))
	if truncated != v {
		c.diag(script.ArgumentTruncated, ref.At, "%s: %s does not fit in %d bytes, written as %#x",
			def.Name, script.FormatExpr(ref), size, truncated)
	}
	c.cur.Uint(truncated, size)
}

// storeText writes a message's text annotation into the string table.
func (c *Compiler) storeText(call *script.Call) {
	if c.opts.Texts == nil {
		c.diag(script.TextNotLoaded, call.At, "%s: no string table for text %q", call.Name, *call.Text)
		return
	}
	idx, ok := firstInt(call.Args)
	if !ok || idx < 0 {
		c.diag(script.TextIndexOutOfRange, call.At, "%s: text needs a literal index", call.Name)
		return
	}
	if int(idx) >= c.opts.Texts.Len() {
		c.diag(script.TextPopulated, call.At, "%s: string table grown to %d entries", call.Name, idx+1)
	}
	c.opts.Texts.SetText(int(idx), *call.Text)
}

func firstInt(args []script.Expr) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	n, ok := args[0].(*script.Int)
	if !ok {
		return 0, false
	}
	return n.Value, true
}

// compileMovement writes the movement instruction, its subject and a
// relocation to a nested block of steps ending in MovementEnd.
func (c *Compiler) compileMovement(def *isa.Definition, call *script.Call) error {
	if len(call.Args) != 1 {
		return fmt.Errorf("%s: %s takes a single subject: %w", call.At, def.Name, ErrStructure)
	}
	c.cur.Uint16(def.Opcode)
	c.writeArg(def, isa.Fixed(2), call.Args[0])

	steps := c.newBlock()
	c.cur.Reloc(steps)
	exit := c.enter(steps)
	defer func() {
		steps.Uint16(isa.MovementEnd)
		exit()
	}()

	if call.Movement == nil {
		return nil
	}
	for _, s := range call.Movement.Stmts {
		step, ok := s.(*script.Call)
		if !ok {
			return fmt.Errorf("%s: movement blocks hold steps only: %w", s.Pos(), ErrStructure)
		}
		op, ok := c.reg.MovementByName(step.Name)
		if !ok {
			return fmt.Errorf("%s: movement %s: %w", step.At, step.Name, ErrUnknownInstruction)
		}
		count := script.Expr(&script.Int{At: step.At, Value: 1})
		switch len(step.Args) {
		case 0:
		case 1:
			count = step.Args[0]
		default:
			return fmt.Errorf("%s: %s takes a single count: %w", step.At, step.Name, ErrStructure)
		}
		steps.Uint16(op)
		c.writeArg(def, isa.Fixed(2), count)
	}
	return nil
}

// compileSplitIf compiles an if whose body runs on, with rest as the code
// both paths continue into.
func (c *Compiler) compileSplitIf(s *script.If, rest []script.Stmt, next *linker.Block) error {
	cont := next
	if len(rest) > 0 {
		var err error
		if cont, err = c.compileBlock(rest, next); err != nil {
			return err
		}
	}
	if err := c.compileIf(s, cont); err != nil {
		return err
	}
	if cont == nil {
		return nil
	}
	return c.jumpTo(cont, s.At)
}

// compileIf writes the comparison setup, then a conditional jump whose
// relocation points at the taken block. A taken body that runs on jumps to
// next.
func (c *Compiler) compileIf(s *script.If, next *linker.Block) error {
	cond := s.Cond
	if cond.Single() {
		def, ok := c.reg.First(isa.SetCondition, func(d *isa.Definition) bool {
			return len(d.Args) == 1 && d.Args[0].IsRef()
		})
		if !ok {
			return fmt.Errorf("%s: no single-operand condition instruction: %w", s.At, ErrUnknownInstruction)
		}
		if err := c.writeInstruction(def, []script.Expr{cond.Left}, nil, s.At); err != nil {
			return err
		}
	} else {
		if cond.Negated {
			return fmt.Errorf("%s: negated comparison: %w", s.At, ErrStructure)
		}
		_, refRight := cond.Right.(*script.Ref)
		def, ok := c.reg.First(isa.SetCondition, func(d *isa.Definition) bool {
			return len(d.Args) == 2 && d.Args[1].IsRef() == refRight
		})
		if !ok {
			return fmt.Errorf("%s: no two-operand condition instruction: %w", s.At, ErrUnknownInstruction)
		}
		if err := c.writeInstruction(def, []script.Expr{cond.Left, cond.Right}, nil, s.At); err != nil {
			return err
		}
	}

	branch, ok := c.reg.First(isa.ConditionalJump, nil)
	if !ok {
		return fmt.Errorf("%s: no conditional jump instruction: %w", s.At, ErrUnknownInstruction)
	}
	op := byte(cond.Op)
	if cond.Single() {
		op = 1
		if cond.Negated {
			op = 0
		}
	}

	var target *linker.Block
	var err error
	if j, ok := soleJump(s.Body); ok {
		target, err = c.jumpTarget(j)
	} else {
		target, err = c.compileBlock(s.Body.Stmts, next)
	}
	if err != nil {
		return err
	}
	c.cur.Uint16(branch.Opcode)
	c.cur.Uint8(op)
	c.cur.Reloc(target)
	return nil
}

func soleJump(b *script.Block) (*script.Jump, bool) {
	if b == nil || len(b.Stmts) != 1 {
		return nil, false
	}
	j, ok := b.Stmts[0].(*script.Jump)
	return j, ok
}

func (c *Compiler) compileJump(j *script.Jump) error {
	target, err := c.jumpTarget(j)
	if err != nil {
		return err
	}
	return c.jumpTo(target, j.At)
}

// jumpTo writes an unconditional jump to target.
func (c *Compiler) jumpTo(target *linker.Block, at script.Position) error {
	def, ok := c.reg.First(isa.Jump, nil)
	if !ok {
		return fmt.Errorf("%s: no jump instruction: %w", at, ErrUnknownInstruction)
	}
	c.cur.Uint16(def.Opcode)
	c.cur.Reloc(target)
	return nil
}

// jumpTarget returns the block a jump transfers to, compiling inline bodies.
func (c *Compiler) jumpTarget(j *script.Jump) (*linker.Block, error) {
	switch {
	case j.Shared:
		b, ok := c.funcs[j.Func]
		if !ok {
			return nil, fmt.Errorf("%s: func_%d: %w", j.At, j.Func, ErrUnknownFunction)
		}
		return b, nil
	case j.Body != nil:
		return c.compileBlock(j.Body.Stmts, nil)
	}
	return nil, fmt.Errorf("%s: unresolved jump to %#x: %w", j.At, j.Offset, ErrStructure)
}

// compileEnd picks the End instruction matching the statement's value.
func (c *Compiler) compileEnd(s *script.End) error {
	valued := func(want bool) func(*isa.Definition) bool {
		return func(d *isa.Definition) bool { return d.Value != nil && *d.Value == want }
	}
	valueless := func(d *isa.Definition) bool { return d.Value == nil }

	var def *isa.Definition
	var ok bool
	if s.Value == nil {
		if def, ok = c.reg.First(isa.End, valueless); !ok {
			def, ok = c.reg.First(isa.End, valued(true))
			if ok {
				c.diag(script.EndValueAssumed, s.At, "end without value compiled as %s", def.Name)
			}
		}
	} else if def, ok = c.reg.First(isa.End, valued(*s.Value)); !ok {
		def, ok = c.reg.First(isa.End, valueless)
	}
	if !ok {
		return fmt.Errorf("%s: no end instruction: %w", s.At, ErrUnknownInstruction)
	}
	c.cur.Uint16(def.Opcode)
	return nil
}

// FuncIDs returns the ids of the compiled functions, sorted.
func (o *Object) FuncIDs() []int {
	ids := make([]int, 0, len(o.Funcs))
	for id := range o.Funcs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
