// Package server implements a language server for script source files.
package server

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/fieldscript/compiler"
	"github.com/chazu/fieldscript/isa"
	"github.com/chazu/fieldscript/script"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "fieldscript-lsp"

var log = commonlog.GetLogger("fieldscript.server")

// LspServer serves editor features for script source against one
// instruction set.
type LspServer struct {
	reg   *isa.Registry
	names *script.Names
	opts  compiler.Options

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a language server. names may be nil. Message text is never
// written while checking documents, so opts.Texts is ignored.
func NewLSP(reg *isa.Registry, names *script.Names, opts compiler.Options) *LspServer {
	opts.Texts = nil
	s := &LspServer{
		reg:     reg,
		names:   names,
		opts:    opts,
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Infof("initializing with %d instructions", s.reg.Len())

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return s.complete(prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return s.hover(word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	loc := s.definition(uri, text, word)
	if loc == nil {
		return nil, nil
	}
	return loc, nil
}

// --- Registry-backed logic ---

func (s *LspServer) complete(prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)

	add := func(name, detail string, kind protocol.CompletionItemKind) {
		if !strings.HasPrefix(strings.ToLower(name), lowerPrefix) {
			return
		}
		nameCopy := name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &nameCopy,
		})
	}

	// Instructions and aliases
	for _, name := range s.reg.Names() {
		def, _ := s.reg.ByName(name)
		detail := def.Signature()
		if name != def.Name {
			detail = "alias of " + detail
		}
		add(name, detail, protocol.CompletionItemKindFunction)
	}

	// Movement steps
	for _, name := range s.reg.MovementNames() {
		add(name, "movement", protocol.CompletionItemKindEnumMember)
	}

	// Configured variables and flags
	for _, name := range s.names.All() {
		ref, err := s.names.Resolve(name)
		if err != nil {
			continue
		}
		add(name, refDetail(ref), protocol.CompletionItemKindVariable)
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

func (s *LspServer) hover(word string) *protocol.Hover {
	var b strings.Builder
	if def, ok := s.reg.ByName(word); ok {
		fmt.Fprintf(&b, "**%s**\n\n", def.Name)
		fmt.Fprintf(&b, "`%s`\n\n", def.Signature())
		fmt.Fprintf(&b, "opcode `%#04x`, %s", def.Opcode, def.Variant)
		if def.Value != nil {
			fmt.Fprintf(&b, " (%v)", *def.Value)
		}
		if len(def.Aliases) > 0 {
			fmt.Fprintf(&b, "\n\nAliases: `%s`", strings.Join(def.Aliases, "`, `"))
		}
		if def.Description != "" {
			b.WriteString("\n\n---\n\n")
			b.WriteString(def.Description)
		}
	} else if id, ok := s.reg.MovementByName(word); ok {
		fmt.Fprintf(&b, "**%s**\n\nmovement step `%#x`", word, id)
	} else if ref, err := s.names.Resolve(word); err == nil {
		fmt.Fprintf(&b, "**%s**\n\n%s", word, refDetail(ref))
	} else {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// definition locates the header of the function a func_N word names.
func (s *LspServer) definition(uri protocol.DocumentUri, text, word string) *protocol.Location {
	id, ok := compiler.ParseFuncName(word)
	if !ok {
		return nil
	}
	prog := compiler.NewParser(text, s.names).ParseProgram()
	f := prog.Func(id)
	if f == nil {
		return nil
	}
	return &protocol.Location{URI: uri, Range: pointRange(f.At)}
}

func refDetail(ref *script.Ref) string {
	if ref.Kind == script.FlagRef {
		return fmt.Sprintf("flag %#x", ref.ID)
	}
	return fmt.Sprintf("variable %#x", ref.ID)
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := s.diagnose(text)
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// diagnose parses and compiles text. Parse errors stop before compilation.
func (s *LspServer) diagnose(text string) []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}

	p := compiler.NewParser(text, s.names)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		for _, e := range errs {
			diagnostics = append(diagnostics, newDiagnostic(e.Pos, protocol.DiagnosticSeverityError, e.Msg))
		}
		return diagnostics
	}

	obj, err := compiler.New(s.reg, s.opts).CompileProgram(prog)
	if err != nil {
		for _, e := range unjoin(err) {
			at := errorPos(prog, e)
			diagnostics = append(diagnostics, newDiagnostic(at, protocol.DiagnosticSeverityError, e.Error()))
		}
	}
	if obj != nil {
		for _, d := range obj.Diagnostics {
			// Stubs for unused ids are routine and not worth a squiggle.
			if d.Kind == script.ScriptStubbed {
				continue
			}
			diagnostics = append(diagnostics, newDiagnostic(d.At, protocol.DiagnosticSeverityWarning, d.Kind.String()+": "+d.Message))
		}
	}
	return diagnostics
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// errorPos recovers the position of a routine failure. Messages read
// "<routine>: <line>:<col>: ..."; without a position the routine header is
// used.
func errorPos(prog *script.Program, err error) script.Position {
	name, rest, _ := strings.Cut(err.Error(), ": ")
	var line, col int
	if n, _ := fmt.Sscanf(rest, "%d:%d:", &line, &col); n == 2 && line > 0 {
		return script.Position{Line: line, Column: col}
	}
	for _, r := range append(prog.Scripts, prog.Funcs...) {
		if r.Name() == name {
			return r.At
		}
	}
	return script.Position{}
}

func newDiagnostic(at script.Position, severity protocol.DiagnosticSeverity, msg string) protocol.Diagnostic {
	source := lspName
	return protocol.Diagnostic{
		Range:    pointRange(at),
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	}
}

// pointRange converts a 1-based source position to an empty LSP range.
func pointRange(at script.Position) protocol.Range {
	var p protocol.Position
	if at.Line > 0 {
		p.Line = protocol.UInteger(at.Line - 1)
	}
	if at.Column > 0 {
		p.Character = protocol.UInteger(at.Column - 1)
	}
	return protocol.Range{Start: p, End: p}
}

// --- Text extraction helpers ---

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func boolPtr(b bool) *bool {
	return &b
}
