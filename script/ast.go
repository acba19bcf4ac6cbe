// Package script defines the structured statement model shared by the
// decompiler, the source parser and the compiler engine.
package script

import "fmt"

// ---------------------------------------------------------------------------
// AST: structured statements for field scripts
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

func (p Position) String() string {
	if p.Line == 0 {
		return "-"
	}
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Pos() Position
}

// Expr is an argument or operand value.
type Expr interface {
	Node
	expr() // marker method
}

// Stmt is a statement in a routine body or block.
type Stmt interface {
	Node
	stmt() // marker method
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// Int is an integer argument. Hex only affects how it is displayed.
type Int struct {
	At    Position
	Value int64
	Hex   bool
}

func (n *Int) Pos() Position { return n.At }
func (n *Int) expr()         {}

// RefKind distinguishes variables from flags.
type RefKind int

const (
	VarRef RefKind = iota
	FlagRef
)

// Ref is a variable or flag reference. Two references are the same slot when
// Kind and ID match; Name is for display.
type Ref struct {
	At   Position
	Kind RefKind
	ID   uint16
	Name string
}

func (n *Ref) Pos() Position { return n.At }
func (n *Ref) expr()         {}

// Same reports whether both references designate the same slot.
func (n *Ref) Same(o *Ref) bool {
	return o != nil && n.Kind == o.Kind && n.ID == o.ID
}

// ---------------------------------------------------------------------------
// Comparisons
// ---------------------------------------------------------------------------

// Operator is a comparison operator. Its value is the byte-code encoding.
type Operator int

const (
	OpLess Operator = iota
	OpEqual
	OpGreater
	OpLessEqual
	OpGreaterEqual
	OpNotEqual
)

var operatorStrings = [...]string{"<", "==", ">", "<=", ">=", "!="}

func (o Operator) String() string {
	if o >= 0 && int(o) < len(operatorStrings) {
		return operatorStrings[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// ParseOperator maps source text to an operator.
func ParseOperator(s string) (Operator, bool) {
	for i, t := range operatorStrings {
		if t == s {
			return Operator(i), true
		}
	}
	return 0, false
}

// Condition is the comparison guarding an If. A single-operand condition
// (Right == nil) tests a flag and may be negated; a two-operand condition
// compares Left to Right with Op.
type Condition struct {
	Left    Expr
	Op      Operator
	Right   Expr
	Negated bool
}

// Single reports whether the condition has one operand.
func (c Condition) Single() bool { return c.Right == nil }

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// Call invokes an instruction by name. Text carries the string-table entry a
// message instruction displays; Movement holds the movement steps attached
// to a movement instruction.
type Call struct {
	At       Position
	Name     string
	Args     []Expr
	Text     *string
	Movement *Block
}

func (n *Call) Pos() Position { return n.At }
func (n *Call) stmt()         {}

// Assign binds the output slots of Call to Targets, in slot order.
type Assign struct {
	At      Position
	Targets []*Ref
	Call    *Call
}

func (n *Assign) Pos() Position { return n.At }
func (n *Assign) stmt()         {}

// If runs Body when Cond holds.
type If struct {
	At   Position
	Cond Condition
	Body *Block
}

func (n *If) Pos() Position { return n.At }
func (n *If) stmt()         {}

// MovementScope labels the block attached to a movement instruction.
const MovementScope = "movement"

// Block is a nested statement sequence.
type Block struct {
	At    Position
	End   Position // closing brace, when parsed
	Stmts []Stmt
	Scope string
}

func (n *Block) Pos() Position { return n.At }
func (n *Block) stmt()         {}

// Jump transfers control and does not return. While decompiling it only
// knows the absolute Offset; resolution turns it into either a call to a
// shared function (Shared, Func) or an inline Body.
type Jump struct {
	At     Position
	Offset int
	Shared bool
	Func   int
	Body   *Block
	Return bool // the callee ends with a valued end, so the caller ends with it
}

func (n *Jump) Pos() Position { return n.At }
func (n *Jump) stmt()         {}

// Pending reports whether the jump still waits for resolution.
func (n *Jump) Pending() bool { return !n.Shared && n.Body == nil }

// End terminates the routine. Value distinguishes normal (true) from
// abnormal (false) termination and may be absent.
type End struct {
	At    Position
	Value *bool
}

func (n *End) Pos() Position { return n.At }
func (n *End) stmt()         {}

// Raw is a literal byte that did not decode as an instruction.
type Raw struct {
	At   Position
	Byte byte
}

func (n *Raw) Pos() Position { return n.At }
func (n *Raw) stmt()         {}

// ---------------------------------------------------------------------------
// Routines
// ---------------------------------------------------------------------------

// Kind distinguishes top-level scripts from shared functions.
type Kind int

const (
	ScriptKind Kind = iota
	FuncKind
)

// Routine is a script or shared function body.
type Routine struct {
	At     Position
	End    Position // closing brace, when parsed
	Kind   Kind
	ID     int
	Body   []Stmt
	Offset int   // absolute byte offset when decompiled
	Err    error // decode failure; Body holds what was decoded before it
}

// Name returns script_<id> or func_<id>.
func (r *Routine) Name() string {
	if r.Kind == FuncKind {
		return fmt.Sprintf("func_%d", r.ID)
	}
	return fmt.Sprintf("script_%d", r.ID)
}

// Program is a batch of scripts and shared functions.
type Program struct {
	Scripts  []*Routine
	Funcs    []*Routine
	Comments []Comment // source comments in order; only formatting uses them
}

// Comment is a # line comment. Text includes the leading #.
type Comment struct {
	At   Position
	Text string
}

// Func returns the shared function with the given id.
func (p *Program) Func(id int) *Routine {
	for _, f := range p.Funcs {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// Bool returns a pointer to b, for End values.
func Bool(b bool) *bool { return &b }
