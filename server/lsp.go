package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/loxvm/compiler"
	"github.com/chazu/loxvm/vm"
)

const lspName = "loxvm-lsp"

// natives are the globals every VM defines.
var natives = []string{"clock", "gc"}

// LspServer publishes compile diagnostics for Lox documents. Every check
// compiles on a throwaway heap; nothing is executed.
type LspServer struct {
	gc  vm.GCOptions
	log commonlog.Logger

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates an LSP server whose checks use the given heap options.
func NewLSP(gc vm.GCOptions) *LspServer {
	s := &LspServer{
		gc:      gc,
		log:     commonlog.GetLogger("loxvm.lsp"),
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
	s.log.Info("loxvm LSP initializing")

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
	return complete(text, prefix), nil
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
	return hover(text, word), nil
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
	d, ok := findDeclaration(text, word)
	if !ok {
		return nil, nil
	}
	return []protocol.Location{{URI: uri, Range: d.rng()}}, nil
}

// --- Declarations ---

type declaration struct {
	kind       compiler.TokenType // TokenVar, TokenFun or TokenClass
	name       string
	superclass string
	line       int // 1-based
	column     int // 0-based
}

func (d declaration) rng() protocol.Range {
	line := protocol.UInteger(d.line - 1)
	return protocol.Range{
		Start: protocol.Position{Line: line, Character: protocol.UInteger(d.column)},
		End:   protocol.Position{Line: line, Character: protocol.UInteger(d.column + len(d.name))},
	}
}

func (d declaration) detail() string {
	switch d.kind {
	case compiler.TokenClass:
		if d.superclass != "" {
			return fmt.Sprintf("class %s < %s", d.name, d.superclass)
		}
		return "class " + d.name
	case compiler.TokenFun:
		return "fun " + d.name
	default:
		return "var " + d.name
	}
}

// declarations lists every var, fun and class name in text, in order.
func declarations(text string) []declaration {
	lines := strings.Split(text, "\n")
	tokens := compiler.Tokenize(text)

	var decls []declaration
	for i := 0; i+1 < len(tokens); i++ {
		kind := tokens[i].Type
		if kind != compiler.TokenVar && kind != compiler.TokenFun && kind != compiler.TokenClass {
			continue
		}
		name := tokens[i+1]
		if name.Type != compiler.TokenIdentifier {
			continue
		}
		d := declaration{kind: kind, name: name.Literal, line: name.Line}
		if name.Line-1 < len(lines) {
			d.column = identifierColumn(lines[name.Line-1], name.Literal)
		}
		if kind == compiler.TokenClass && i+3 < len(tokens) &&
			tokens[i+2].Type == compiler.TokenLess && tokens[i+3].Type == compiler.TokenIdentifier {
			d.superclass = tokens[i+3].Literal
		}
		decls = append(decls, d)
	}
	return decls
}

// identifierColumn finds name as a whole word in line.
func identifierColumn(line, name string) int {
	for off := 0; off < len(line); {
		idx := strings.Index(line[off:], name)
		if idx < 0 {
			break
		}
		start := off + idx
		end := start + len(name)
		before := start == 0 || !isIdentChar(rune(line[start-1]))
		after := end == len(line) || !isIdentChar(rune(line[end]))
		if before && after {
			return start
		}
		off = end
	}
	return 0
}

func findDeclaration(text, name string) (declaration, bool) {
	for _, d := range declarations(text) {
		if d.name == name {
			return d, true
		}
	}
	return declaration{}, false
}

func complete(text, prefix string) []protocol.CompletionItem {
	seen := make(map[string]bool)
	var items []protocol.CompletionItem
	add := func(label, detail string, kind protocol.CompletionItemKind) {
		if seen[label] || !strings.HasPrefix(label, prefix) {
			return
		}
		seen[label] = true
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &label,
		})
	}

	for _, d := range declarations(text) {
		kind := protocol.CompletionItemKindVariable
		switch d.kind {
		case compiler.TokenClass:
			kind = protocol.CompletionItemKindClass
		case compiler.TokenFun:
			kind = protocol.CompletionItemKindFunction
		}
		add(d.name, d.detail(), kind)
	}
	for _, name := range natives {
		add(name, "native", protocol.CompletionItemKindFunction)
	}
	keywords := compiler.Keywords()
	sort.Strings(keywords)
	for _, kw := range keywords {
		add(kw, "keyword", protocol.CompletionItemKindKeyword)
	}
	return items
}

func hover(text, word string) *protocol.Hover {
	var value string
	if d, ok := findDeclaration(text, word); ok {
		value = fmt.Sprintf("```lox\n%s\n```\ndeclared on line %d", d.detail(), d.line)
	} else {
		for _, name := range natives {
			if name == word {
				value = fmt.Sprintf("```lox\nfun %s()\n```\nnative", name)
			}
		}
	}
	if value == "" {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

// --- Diagnostics ---

// compileDiagnostics compiles text and converts its errors to LSP form.
func compileDiagnostics(text string, opts vm.GCOptions) []protocol.Diagnostic {
	h := vm.NewHeap(opts)
	defer h.Free()

	_, err := compiler.Compile(h, text)
	if err == nil {
		return []protocol.Diagnostic{}
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	var ce *vm.CompileError
	if !errors.As(err, &ce) {
		return []protocol.Diagnostic{{Severity: &severity, Source: &source, Message: err.Error()}}
	}

	lines := strings.Split(text, "\n")
	diagnostics := make([]protocol.Diagnostic, 0, len(ce.Diagnostics))
	for _, d := range ce.Diagnostics {
		line := d.Line - 1
		if line < 0 {
			line = 0
		}
		end := 0
		if line < len(lines) {
			end = len(lines[line])
		}
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: protocol.UInteger(line), Character: 0},
				End:   protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(end)},
			},
			Severity: &severity,
			Source:   &source,
			Message:  "Error" + d.Where + ": " + d.Message,
		})
	}
	return diagnostics
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := compileDiagnostics(text, s.gc)
	s.log.Debugf("%s: %d diagnostics", uri, len(diagnostics))

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// --- Text extraction helpers ---

func isIdentChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the identifier fragment before the cursor for completion.
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

	start := col
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
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
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isIdentChar(rune(line[end])) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
