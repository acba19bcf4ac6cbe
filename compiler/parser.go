package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/fieldscript/script"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for script source
// ---------------------------------------------------------------------------

// Error is a parse error at a source position.
type Error struct {
	Pos script.Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// ErrorList collects parse errors in source order.
type ErrorList []*Error

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "\n")
}

// Parser parses script source into a Program.
type Parser struct {
	lexer     *Lexer
	names     *script.Names
	curToken  Token
	peekToken Token
	errors    ErrorList
}

// NewParser creates a new parser for the given input. Reference names are
// resolved through names, which may be nil.
func NewParser(input string, names *script.Names) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
		names: names,
	}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a complete source file.
func Parse(input string, names *script.Names) (*script.Program, error) {
	p := NewParser(input, names)
	prog := p.ParseProgram()
	if len(p.errors) > 0 {
		return prog, p.errors
	}
	return prog, nil
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// peekTokenIs checks if the peek token is of the given type.
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.describe())
	return false
}

// errorf records a parse error at the current token.
func (p *Parser) errorf(format string, args ...any) {
	p.errors = append(p.errors, &Error{Pos: p.curToken.Pos, Msg: fmt.Sprintf(format, args...)})
}

func (p *Parser) describe() string {
	switch p.curToken.Type {
	case TokenError:
		return p.curToken.Literal
	case TokenEOF:
		return "end of file"
	}
	return fmt.Sprintf("%q", p.curToken.Literal)
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() ErrorList {
	return p.errors
}

// synchronize skips the rest of the line after an error.
func (p *Parser) synchronize(line int) {
	for !p.curTokenIs(TokenEOF) && !p.curTokenIs(TokenRBrace) && p.curToken.Pos.Line == line {
		p.nextToken()
	}
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseProgram parses script and func definitions until EOF.
func (p *Parser) ParseProgram() *script.Program {
	prog := &script.Program{}
	seen := make(map[string]bool)
	for !p.curTokenIs(TokenEOF) {
		if !p.curTokenIs(TokenScript) && !p.curTokenIs(TokenFunc) {
			p.errorf("expected script or func, got %s", p.describe())
			p.nextToken()
			continue
		}
		r := p.parseRoutine()
		if r == nil {
			continue
		}
		if seen[r.Name()] {
			p.errors = append(p.errors, &Error{Pos: r.At, Msg: r.Name() + " redefined"})
			continue
		}
		seen[r.Name()] = true
		if r.Kind == script.FuncKind {
			prog.Funcs = append(prog.Funcs, r)
		} else {
			prog.Scripts = append(prog.Scripts, r)
		}
	}
	prog.Comments = p.lexer.Comments()
	return prog
}

// parseRoutine parses: ("script" | "func") INTEGER "{" statements "}"
func (p *Parser) parseRoutine() *script.Routine {
	r := &script.Routine{At: p.curToken.Pos, Kind: script.ScriptKind}
	if p.curTokenIs(TokenFunc) {
		r.Kind = script.FuncKind
	}
	p.nextToken()

	if !p.curTokenIs(TokenInteger) {
		p.errorf("expected routine id, got %s", p.describe())
		p.synchronize(p.curToken.Pos.Line)
		return nil
	}
	id, err := strconv.Atoi(p.curToken.Literal)
	if err != nil || id < 0 {
		p.errorf("invalid routine id %s", p.curToken.Literal)
	}
	r.ID = id
	p.nextToken()

	if !p.expect(TokenLBrace) {
		return nil
	}
	r.Body = p.parseStatements()
	r.End = p.curToken.Pos
	p.expect(TokenRBrace)
	return r
}

// parseStatements parses statements up to a closing brace or EOF.
func (p *Parser) parseStatements() []script.Stmt {
	var stmts []script.Stmt
	for !p.curTokenIs(TokenEOF) && !p.curTokenIs(TokenRBrace) {
		if p.curTokenIs(TokenSemicolon) {
			p.nextToken()
			continue
		}
		line := p.curToken.Pos.Line
		n := len(p.errors)
		stmt := p.parseStatement()
		if len(p.errors) > n {
			p.synchronize(line)
			continue
		}
		if stmt != nil {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// parseStatement parses a single statement.
func (p *Parser) parseStatement() script.Stmt {
	switch p.curToken.Type {
	case TokenIf:
		return p.parseIf()
	case TokenGoto:
		pos := p.curToken.Pos
		p.nextToken()
		body := p.parseBlock("")
		if body == nil {
			return nil
		}
		return &script.Jump{At: pos, Body: body}
	case TokenCall:
		return p.parseFuncCall(false)
	case TokenReturn:
		p.nextToken()
		if !p.curTokenIs(TokenCall) {
			p.errorf("expected call after return, got %s", p.describe())
			return nil
		}
		return p.parseFuncCall(true)
	case TokenEnd:
		return p.parseEnd()
	case TokenRaw:
		return p.parseRaw()
	case TokenIdentifier:
		switch {
		case p.peekTokenIs(TokenLParen):
			return p.parseCall()
		case p.peekTokenIs(TokenComma), p.peekTokenIs(TokenAssign):
			return p.parseAssign()
		}
		p.errorf("expected call or assignment after %s", p.curToken.Literal)
		return nil
	default:
		p.errorf("unexpected %s", p.describe())
		p.nextToken()
		return nil
	}
}

// parseBlock parses: "{" statements "}"
func (p *Parser) parseBlock(scope string) *script.Block {
	b := &script.Block{At: p.curToken.Pos, Scope: scope}
	if !p.expect(TokenLBrace) {
		return nil
	}
	b.Stmts = p.parseStatements()
	b.End = p.curToken.Pos
	if !p.expect(TokenRBrace) {
		return nil
	}
	return b
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// parseIf parses: "if" ["not"] operand [COMPARE operand] block
func (p *Parser) parseIf() script.Stmt {
	s := &script.If{At: p.curToken.Pos}
	p.nextToken() // consume if

	if p.curTokenIs(TokenNot) {
		s.Cond.Negated = true
		p.nextToken()
	}
	s.Cond.Left = p.parseOperand()
	if s.Cond.Left == nil {
		return nil
	}
	if p.curTokenIs(TokenCompare) {
		if s.Cond.Negated {
			p.errorf("not applies only to a single operand")
			return nil
		}
		op, ok := script.ParseOperator(p.curToken.Literal)
		if !ok {
			p.errorf("unknown comparison %s", p.curToken.Literal)
			return nil
		}
		s.Cond.Op = op
		p.nextToken()
		s.Cond.Right = p.parseOperand()
		if s.Cond.Right == nil {
			return nil
		}
	}
	s.Body = p.parseBlock("")
	if s.Body == nil {
		return nil
	}
	return s
}

// parseFuncCall parses: "call" func_N
func (p *Parser) parseFuncCall(ret bool) script.Stmt {
	j := &script.Jump{At: p.curToken.Pos, Shared: true, Return: ret}
	p.nextToken() // consume call
	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected function name, got %s", p.describe())
		return nil
	}
	id, ok := ParseFuncName(p.curToken.Literal)
	if !ok {
		p.errorf("%s is not a function name", p.curToken.Literal)
		return nil
	}
	j.Func = id
	p.nextToken()
	return j
}

// ParseFuncName extracts N from func_N.
func ParseFuncName(s string) (int, bool) {
	rest, ok := strings.CutPrefix(s, "func_")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// parseEnd parses: "end" ["true" | "false"]
func (p *Parser) parseEnd() script.Stmt {
	s := &script.End{At: p.curToken.Pos}
	p.nextToken()
	switch {
	case p.curTokenIs(TokenTrue):
		s.Value = script.Bool(true)
		p.nextToken()
	case p.curTokenIs(TokenFalse):
		s.Value = script.Bool(false)
		p.nextToken()
	}
	return s
}

// parseRaw parses: "raw" INTEGER
func (p *Parser) parseRaw() script.Stmt {
	pos := p.curToken.Pos
	p.nextToken()
	n := p.parseInt()
	if n == nil {
		return nil
	}
	if n.Value < 0 || n.Value > 0xFF {
		p.errorf("raw byte %d out of range", n.Value)
		return nil
	}
	return &script.Raw{At: pos, Byte: byte(n.Value)}
}

// parseAssign parses: ref {"," ref} "=" call
func (p *Parser) parseAssign() script.Stmt {
	s := &script.Assign{At: p.curToken.Pos}
	for {
		if !p.curTokenIs(TokenIdentifier) {
			p.errorf("expected variable, got %s", p.describe())
			return nil
		}
		ref := p.resolve()
		if ref == nil {
			return nil
		}
		s.Targets = append(s.Targets, ref)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if !p.expect(TokenAssign) {
		return nil
	}
	if !p.curTokenIs(TokenIdentifier) || !p.peekTokenIs(TokenLParen) {
		p.errorf("expected instruction call after =, got %s", p.describe())
		return nil
	}
	call, ok := p.parseCall().(*script.Call)
	if !ok {
		return nil
	}
	s.Call = call
	return s
}

// parseCall parses: name "(" [arg {"," arg}] ")" [block]
func (p *Parser) parseCall() script.Stmt {
	c := &script.Call{At: p.curToken.Pos, Name: p.curToken.Literal}
	p.nextToken() // name
	p.nextToken() // (

	for !p.curTokenIs(TokenRParen) {
		if len(c.Args) > 0 || c.Text != nil {
			if !p.expect(TokenComma) {
				return nil
			}
		}
		if p.curTokenIs(TokenIdentifier) && p.curToken.Literal == "text" && p.peekTokenIs(TokenAssign) {
			if c.Text != nil {
				p.errorf("duplicate text argument")
				return nil
			}
			p.nextToken()
			p.nextToken()
			if !p.curTokenIs(TokenString) {
				p.errorf("expected string after text=, got %s", p.describe())
				return nil
			}
			s, err := strconv.Unquote(p.curToken.Literal)
			if err != nil {
				p.errorf("invalid string %s", p.curToken.Literal)
				return nil
			}
			c.Text = &s
			p.nextToken()
			continue
		}
		if c.Text != nil {
			p.errorf("text must be the last argument")
			return nil
		}
		arg := p.parseOperand()
		if arg == nil {
			return nil
		}
		c.Args = append(c.Args, arg)
	}
	p.nextToken() // )

	if p.curTokenIs(TokenLBrace) {
		c.Movement = p.parseBlock(script.MovementScope)
		if c.Movement == nil {
			return nil
		}
	}
	return c
}

// ---------------------------------------------------------------------------
// Operands
// ---------------------------------------------------------------------------

// parseOperand parses an integer or a variable/flag name.
func (p *Parser) parseOperand() script.Expr {
	switch p.curToken.Type {
	case TokenInteger:
		if n := p.parseInt(); n != nil {
			return n
		}
		return nil
	case TokenIdentifier:
		if r := p.resolve(); r != nil {
			return r
		}
		return nil
	}
	p.errorf("expected value, got %s", p.describe())
	return nil
}

func (p *Parser) parseInt() *script.Int {
	if !p.curTokenIs(TokenInteger) {
		p.errorf("expected integer, got %s", p.describe())
		return nil
	}
	lit := p.curToken.Literal
	n := &script.Int{At: p.curToken.Pos}
	base := 10
	if strings.Contains(lit, "0x") || strings.Contains(lit, "0X") {
		base = 0
		n.Hex = true
	}
	v, err := strconv.ParseInt(lit, base, 64)
	if err != nil {
		p.errorf("invalid integer: %s", lit)
		return nil
	}
	n.Value = v
	p.nextToken()
	return n
}

func (p *Parser) resolve() *script.Ref {
	ref, err := p.names.Resolve(p.curToken.Literal)
	if err != nil {
		p.errorf("%v", err)
		return nil
	}
	ref.At = p.curToken.Pos
	p.nextToken()
	return ref
}
