package script

import "fmt"

// DiagKind classifies a recoverable problem found during a pass.
type DiagKind int

const (
	DecodeResync        DiagKind = iota // unknown opcode emitted as raw bytes
	ArgumentTruncated                   // value did not fit its field
	ReferenceCoerced                    // non-reference where a reference was expected, or vice versa
	TextIndexOutOfRange                 // message index outside the string table
	TextNotLoaded                       // message text given but no table to hold it
	TextPopulated                       // string table grown to hold message text
	EndValueAssumed                     // end without value compiled as normal end
	ScriptStubbed                       // missing script id filled with a stub
)

var diagKindStrings = [...]string{
	DecodeResync:        "DecodeResync",
	ArgumentTruncated:   "ArgumentTruncated",
	ReferenceCoerced:    "ReferenceCoerced",
	TextIndexOutOfRange: "TextIndexOutOfRange",
	TextNotLoaded:       "TextNotLoaded",
	TextPopulated:       "TextPopulated",
	EndValueAssumed:     "EndValueAssumed",
	ScriptStubbed:       "ScriptStubbed",
}

func (k DiagKind) String() string {
	if k >= 0 && int(k) < len(diagKindStrings) {
		return diagKindStrings[k]
	}
	return fmt.Sprintf("DiagKind(%d)", int(k))
}

// Diagnostic reports a recoverable problem. It never aborts a pass.
type Diagnostic struct {
	Kind    DiagKind
	Where   string // routine name
	At      Position
	Message string
}

func (d Diagnostic) String() string {
	if d.At.Line > 0 {
		return fmt.Sprintf("%s %s: %s: %s", d.Where, d.At, d.Kind, d.Message)
	}
	return fmt.Sprintf("%s: %s: %s", d.Where, d.Kind, d.Message)
}
