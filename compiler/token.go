package compiler

import (
	"fmt"

	"github.com/chazu/fieldscript/script"
)

// ---------------------------------------------------------------------------
// Token types for the script source lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger    // 42, 0x2a, -3
	TokenString     // "hello\n"
	TokenIdentifier // Message, var_8000, walk_up

	// Operators and delimiters
	TokenCompare // <, ==, >, <=, >=, !=
	TokenAssign  // =
	TokenLParen  // (
	TokenRParen  // )
	TokenLBrace  // {
	TokenRBrace  // }
	TokenComma   // ,
	TokenSemicolon

	// Reserved words
	TokenScript
	TokenFunc
	TokenIf
	TokenNot
	TokenGoto
	TokenCall
	TokenReturn
	TokenEnd
	TokenRaw
	TokenTrue
	TokenFalse
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenInteger:    "INTEGER",
	TokenString:     "STRING",
	TokenIdentifier: "IDENTIFIER",
	TokenCompare:    "COMPARE",
	TokenAssign:     "=",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBrace:     "{",
	TokenRBrace:     "}",
	TokenComma:      ",",
	TokenSemicolon:  ";",
	TokenScript:     "script",
	TokenFunc:       "func",
	TokenIf:         "if",
	TokenNot:        "not",
	TokenGoto:       "goto",
	TokenCall:       "call",
	TokenReturn:     "return",
	TokenEnd:        "end",
	TokenRaw:        "raw",
	TokenTrue:       "true",
	TokenFalse:      "false",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string          // the raw text
	Pos     script.Position // start position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"script": TokenScript,
	"func":   TokenFunc,
	"if":     TokenIf,
	"not":    TokenNot,
	"goto":   TokenGoto,
	"call":   TokenCall,
	"return": TokenReturn,
	"end":    TokenEnd,
	"raw":    TokenRaw,
	"true":   TokenTrue,
	"false":  TokenFalse,
}

// IsReserved reports whether s is a reserved word.
func IsReserved(s string) bool {
	_, ok := reservedWords[s]
	return ok
}
