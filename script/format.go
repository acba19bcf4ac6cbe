package script

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Format: canonical source text for a program
// ---------------------------------------------------------------------------

// Format renders a program as source text. Scripts come first, then shared
// functions, each in its own block. Parsed comments are kept on their own
// lines ahead of the statement that followed them.
func Format(p *Program) string {
	f := &formatter{buf: &strings.Builder{}, comments: p.Comments}
	first := true
	for _, group := range [][]*Routine{p.Scripts, p.Funcs} {
		for _, r := range group {
			if !first {
				f.newline()
			}
			first = false
			f.formatRoutine(r)
		}
	}
	f.flushAll()
	return f.buf.String()
}

// FormatRoutine renders a single routine.
func FormatRoutine(r *Routine) string {
	f := &formatter{buf: &strings.Builder{}}
	f.formatRoutine(r)
	return f.buf.String()
}

// FormatStmts renders a statement list at the top level, mostly for tests
// and diagnostics.
func FormatStmts(stmts []Stmt) string {
	f := &formatter{buf: &strings.Builder{}}
	f.formatStmts(stmts)
	return f.buf.String()
}

// FormatCondition renders a condition without the surrounding if.
func FormatCondition(c Condition) string {
	if c.Single() {
		if c.Negated {
			return "not " + FormatExpr(c.Left)
		}
		return FormatExpr(c.Left)
	}
	return FormatExpr(c.Left) + " " + c.Op.String() + " " + FormatExpr(c.Right)
}

// FormatExpr renders a single argument or operand.
func FormatExpr(e Expr) string {
	switch e := e.(type) {
	case *Int:
		if e.Hex {
			if e.Value < 0 {
				return fmt.Sprintf("-0x%x", -e.Value)
			}
			return fmt.Sprintf("0x%x", e.Value)
		}
		return strconv.FormatInt(e.Value, 10)
	case *Ref:
		if e.Name != "" {
			return e.Name
		}
		if e.Kind == FlagRef {
			return fmt.Sprintf("flag_%x", e.ID)
		}
		return fmt.Sprintf("var_%x", e.ID)
	case nil:
		return "<nil>"
	}
	return fmt.Sprintf("<%T>", e)
}

type formatter struct {
	indent   int
	buf      *strings.Builder
	comments []Comment
}

// flush writes the pending comments that come before line.
func (f *formatter) flush(line int) {
	if line == 0 {
		return
	}
	for len(f.comments) > 0 && f.comments[0].At.Line < line {
		f.writeln(f.comments[0].Text)
		f.comments = f.comments[1:]
	}
}

func (f *formatter) flushAll() {
	if len(f.comments) == 0 {
		return
	}
	f.indent = 0
	f.newline()
	for _, c := range f.comments {
		f.writeln(c.Text)
	}
	f.comments = nil
}

func (f *formatter) writeln(s string) {
	f.writeIndent()
	f.buf.WriteString(s)
	f.buf.WriteByte('\n')
}

func (f *formatter) newline() {
	f.buf.WriteByte('\n')
}

// writeIndent writes two spaces per level.
func (f *formatter) writeIndent() {
	for i := 0; i < f.indent; i++ {
		f.buf.WriteString("  ")
	}
}

func (f *formatter) formatRoutine(r *Routine) {
	kw := "script"
	if r.Kind == FuncKind {
		kw = "func"
	}
	f.flush(r.At.Line)
	f.writeln(fmt.Sprintf("%s %d {", kw, r.ID))
	f.indent++
	if r.Err != nil {
		f.writeln("# error: " + strings.ReplaceAll(r.Err.Error(), "\n", " "))
	}
	f.formatStmts(r.Body)
	f.flush(r.End.Line)
	f.indent--
	f.writeln("}")
}

func (f *formatter) formatStmts(stmts []Stmt) {
	for _, s := range stmts {
		f.flush(s.Pos().Line)
		f.formatStmt(s)
	}
}

func (f *formatter) formatBlock(head string, b *Block) {
	f.writeln(head + " {")
	f.indent++
	if b != nil {
		f.formatStmts(b.Stmts)
		f.flush(b.End.Line)
	}
	f.indent--
	f.writeln("}")
}

func (f *formatter) formatStmt(s Stmt) {
	switch s := s.(type) {
	case *Call:
		f.formatCall("", s)
	case *Assign:
		names := make([]string, len(s.Targets))
		for i, t := range s.Targets {
			names[i] = FormatExpr(t)
		}
		f.formatCall(strings.Join(names, ", ")+" = ", s.Call)
	case *If:
		f.formatBlock("if "+FormatCondition(s.Cond), s.Body)
	case *Block:
		f.formatStmts(s.Stmts)
	case *Jump:
		switch {
		case s.Shared && s.Return:
			f.writeln(fmt.Sprintf("return call func_%d", s.Func))
		case s.Shared:
			f.writeln(fmt.Sprintf("call func_%d", s.Func))
		case s.Body != nil:
			f.formatBlock("goto", s.Body)
		default:
			f.writeln(fmt.Sprintf("# goto 0x%x", s.Offset))
		}
	case *End:
		switch {
		case s.Value == nil:
			f.writeln("end")
		case *s.Value:
			f.writeln("end true")
		default:
			f.writeln("end false")
		}
	case *Raw:
		f.writeln(fmt.Sprintf("raw 0x%02x", s.Byte))
	default:
		f.writeln(fmt.Sprintf("# unknown statement %T", s))
	}
}

func (f *formatter) formatCall(prefix string, c *Call) {
	args := make([]string, 0, len(c.Args)+1)
	for _, a := range c.Args {
		args = append(args, FormatExpr(a))
	}
	if c.Text != nil {
		args = append(args, "text="+strconv.Quote(*c.Text))
	}
	head := prefix + c.Name + "(" + strings.Join(args, ", ") + ")"
	if c.Movement != nil {
		f.formatBlock(head, c.Movement)
		return
	}
	f.writeln(head)
}
