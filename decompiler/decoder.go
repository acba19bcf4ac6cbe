// Package decompiler turns script byte-code back into structured statements.
//
// A Batch decodes every script named by the master offset table, follows
// jumps to their targets until none are left, promotes targets reached from
// more than one site to shared functions and inlines the rest.
package decompiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/fieldscript/binio"
	"github.com/chazu/fieldscript/isa"
	"github.com/chazu/fieldscript/script"
	"github.com/chazu/fieldscript/texts"
)

var (
	// ErrTruncatedStream is returned when the data ends mid-instruction.
	ErrTruncatedStream = errors.New("truncated stream")
	// ErrUnknownOperator is returned for a comparison operator byte above 5.
	ErrUnknownOperator = errors.New("unknown comparison operator")
	// ErrMissingComparison is returned for a conditional jump with no
	// preceding comparison.
	ErrMissingComparison = errors.New("conditional jump without comparison")
	// ErrOffsetOutOfRange is returned for a sequence that starts outside
	// the data.
	ErrOffsetOutOfRange = errors.New("offset outside data")
)

// decoder decodes one instruction sequence. The pending comparison lives
// only as long as the sequence.
type decoder struct {
	batch   *Batch
	rd      *binio.Reader
	where   string
	pending *script.Condition
}

func (d *decoder) run() ([]script.Stmt, error) {
	var stmts []script.Stmt
	for {
		if d.rd.Remaining() < 2 {
			return append(stmts, &script.End{}), nil
		}
		at := d.rd.Pos()
		op, err := d.rd.Uint16()
		if err != nil {
			return stmts, fmt.Errorf("opcode at %#x: %w: %w", at, ErrTruncatedStream, err)
		}
		def, ok := d.batch.reg.Lookup(op)
		if !ok {
			d.batch.diag(script.DecodeResync, d.where, "unknown opcode %#04x at %#x", op, at)
			stmts = append(stmts, &script.Raw{Byte: byte(op)}, &script.Raw{Byte: byte(op >> 8)})
			continue
		}
		stmt, stop, err := d.instruction(def)
		if err != nil {
			if errors.Is(err, binio.ErrTruncated) {
				err = fmt.Errorf("%w: %w", ErrTruncatedStream, err)
			}
			return stmts, fmt.Errorf("%s at %#x: %w", def.Name, at, err)
		}
		if stmt != nil {
			stmts = append(stmts, stmt)
		}
		if stop {
			return stmts, nil
		}
	}
}

// instruction decodes the operands of def. stop is set for instructions
// that end the sequence.
func (d *decoder) instruction(def *isa.Definition) (stmt script.Stmt, stop bool, err error) {
	switch def.Variant {
	case isa.End:
		return &script.End{Value: def.Value}, true, nil

	case isa.Jump:
		target, err := d.rd.Rel32()
		if err != nil {
			return nil, false, err
		}
		d.batch.targets.Reference(target)
		return &script.Jump{Offset: target}, true, nil

	case isa.SetCondition:
		args, err := d.args(def)
		if err != nil {
			return nil, false, err
		}
		cond := &script.Condition{}
		if len(args) > 0 {
			cond.Left = args[0]
		}
		if len(args) > 1 {
			cond.Right = args[1]
		}
		d.pending = cond
		return nil, false, nil

	case isa.ConditionalJump:
		return d.conditionalJump()

	case isa.Movement:
		return d.movement(def)
	}

	args, err := d.args(def)
	if err != nil {
		return nil, false, err
	}
	call := &script.Call{Name: def.Name}
	var targets []*script.Ref
	for i, a := range args {
		if !def.IsOutput(i) {
			call.Args = append(call.Args, a)
			continue
		}
		ref, ok := a.(*script.Ref)
		if !ok {
			ref = d.batch.opts.Names.Var(uint16(a.(*script.Int).Value))
		}
		targets = append(targets, ref)
	}
	if def.Variant == isa.Message {
		d.annotate(call)
	}
	if len(targets) > 0 {
		return &script.Assign{Targets: targets, Call: call}, false, nil
	}
	return call, false, nil
}

// args reads every argument slot of def.
func (d *decoder) args(def *isa.Definition) ([]script.Expr, error) {
	out := make([]script.Expr, 0, len(def.Args))
	for _, spec := range def.Args {
		switch spec.Kind {
		case isa.ArgVar, isa.ArgFlag:
			id, err := d.rd.Uint16()
			if err != nil {
				return nil, err
			}
			if spec.Kind == isa.ArgFlag {
				out = append(out, d.batch.opts.Names.Flag(id))
			} else {
				out = append(out, d.batch.opts.Names.Var(id))
			}
		default:
			v, err := d.rd.Uint(spec.Size)
			if err != nil {
				return nil, err
			}
			out = append(out, intArg(v))
		}
	}
	return out, nil
}

func (d *decoder) conditionalJump() (script.Stmt, bool, error) {
	op, err := d.rd.Uint8()
	if err != nil {
		return nil, false, err
	}
	target, err := d.rd.Rel32()
	if err != nil {
		return nil, false, err
	}
	if d.pending == nil {
		return nil, false, ErrMissingComparison
	}
	cond := *d.pending
	if cond.Single() {
		cond.Negated = op == 0
	} else {
		if op > byte(script.OpNotEqual) {
			return nil, false, fmt.Errorf("%d: %w", op, ErrUnknownOperator)
		}
		cond.Op = script.Operator(op)
	}
	d.batch.targets.Reference(target)
	return &script.If{
		Cond: cond,
		Body: &script.Block{Stmts: []script.Stmt{&script.Jump{Offset: target}}},
	}, false, nil
}

// movement decodes the subject and the step list the instruction points at,
// then returns to the instruction stream.
func (d *decoder) movement(def *isa.Definition) (script.Stmt, bool, error) {
	subject, err := d.rd.Uint16()
	if err != nil {
		return nil, false, err
	}
	target, err := d.rd.Rel32()
	if err != nil {
		return nil, false, err
	}
	call := &script.Call{
		Name:     def.Name,
		Args:     []script.Expr{intArg(uint32(subject))},
		Movement: &script.Block{Scope: script.MovementScope},
	}
	defer d.rd.Seek(d.rd.Seek(target))
	for {
		op, err := d.rd.Uint16()
		if err != nil {
			return nil, false, err
		}
		if op == isa.MovementEnd {
			return call, false, nil
		}
		count, err := d.rd.Uint16()
		if err != nil {
			return nil, false, err
		}
		call.Movement.Stmts = append(call.Movement.Stmts, &script.Call{
			Name: d.batch.reg.Movement(op),
			Args: []script.Expr{&script.Int{Value: int64(count)}},
		})
	}
}

// annotate attaches the string-table entry a message displays.
func (d *decoder) annotate(call *script.Call) {
	table := d.batch.opts.Texts
	if table == nil || len(call.Args) == 0 {
		return
	}
	n, ok := call.Args[0].(*script.Int)
	if !ok {
		return
	}
	if s, ok := texts.Lookup(table, int(n.Value)); ok {
		call.Text = &s
		return
	}
	d.batch.diag(script.TextIndexOutOfRange, d.where, "%s: index %d outside string table of %d entries",
		call.Name, n.Value, table.Len())
}

func intArg(v uint32) *script.Int {
	return &script.Int{Value: int64(v), Hex: looksHex(v)}
}

// looksHex reports whether v reads better in hex: ignoring the lowest
// three bits, its binary digits are mostly zeros or mostly ones.
func looksHex(v uint32) bool {
	bits := strconv.FormatUint(uint64(v), 2)
	if len(bits) <= 3 {
		return false
	}
	bits = bits[:len(bits)-3]
	ones := strings.Count(bits, "1")
	zeros := len(bits) - ones
	return zeros*2 > ones*3 || ones > zeros*3
}
