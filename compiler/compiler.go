package compiler

import (
	"strconv"

	"github.com/chazu/loxvm/vm"
)

// ---------------------------------------------------------------------------
// Compiler: single-pass Pratt parser emitting bytecode
// ---------------------------------------------------------------------------

// Limits imposed by one-byte operands.
const (
	MaxLocals    = 256
	MaxUpvalues  = 256
	MaxConstants = 256
	MaxArgs      = 255
	maxJump      = 65535
)

// FunctionType distinguishes the bodies the compiler can be inside.
type FunctionType int

const (
	TypeFunction FunctionType = iota
	TypeInitializer
	TypeMethod
	TypeScript
)

type local struct {
	name       string
	depth      int // -1 while the initializer is being compiled
	isCaptured bool
}

type upvalueRef struct {
	index   byte
	isLocal bool
}

// funcState is the per-function compilation state. States form a stack
// through enclosing while nested function bodies are compiled.
type funcState struct {
	enclosing  *funcState
	function   *vm.Function
	ftype      FunctionType
	locals     []local
	upvalues   []upvalueRef
	scopeDepth int
}

type classState struct {
	enclosing     *classState
	hasSuperclass bool
}

// Compiler turns Lox source into a top-level script function.
type Compiler struct {
	heap    *vm.Heap
	scanner *Scanner

	current  Token
	previous Token

	hadError    bool
	panicMode   bool
	diagnostics []vm.Diagnostic

	fn    *funcState
	class *classState
}

// Compile compiles source into a script function allocated on h. On
// failure the error is a *vm.CompileError listing every diagnostic.
func Compile(h *vm.Heap, source string) (*vm.Function, error) {
	c := &Compiler{heap: h, scanner: NewScanner(source)}
	remove := h.AddRoots(c)
	defer remove()

	c.beginFunction(TypeScript)
	c.advance()
	for !c.match(TokenEOF) {
		c.declaration()
	}
	fn, _ := c.endFunction()

	if c.hadError {
		return nil, &vm.CompileError{Diagnostics: c.diagnostics}
	}
	return fn, nil
}

// MarkRoots keeps every function still under construction alive.
func (c *Compiler) MarkRoots(m *vm.Marker) {
	for fs := c.fn; fs != nil; fs = fs.enclosing {
		m.MarkObject(fs.function)
	}
}

// ---------------------------------------------------------------------------
// Token stream
// ---------------------------------------------------------------------------

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.scanner.NextToken()
		if c.current.Type != TokenError {
			return
		}
		c.errorAtCurrent(c.current.Literal)
	}
}

func (c *Compiler) consume(typ TokenType, message string) {
	if c.current.Type == typ {
		c.advance()
		return
	}
	c.errorAtCurrent(message)
}

func (c *Compiler) check(typ TokenType) bool {
	return c.current.Type == typ
}

func (c *Compiler) match(typ TokenType) bool {
	if !c.check(typ) {
		return false
	}
	c.advance()
	return true
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func (c *Compiler) errorAtCurrent(message string) {
	c.errorAt(c.current, message)
}

func (c *Compiler) errorAtPrevious(message string) {
	c.errorAt(c.previous, message)
}

// errorAt records a diagnostic. Once in panic mode further errors are
// suppressed until the parser resynchronizes at a statement boundary.
func (c *Compiler) errorAt(tok Token, message string) {
	if c.panicMode {
		return
	}
	c.panicMode = true

	d := vm.Diagnostic{Line: tok.Line, Message: message}
	switch tok.Type {
	case TokenEOF:
		d.Where = " at end"
	case TokenError:
	default:
		d.Where = " at '" + tok.Literal + "'"
	}
	c.diagnostics = append(c.diagnostics, d)
	c.hadError = true
}

func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != TokenEOF {
		if c.previous.Type == TokenSemicolon {
			return
		}
		switch c.current.Type {
		case TokenClass, TokenFun, TokenVar, TokenFor, TokenIf,
			TokenWhile, TokenPrint, TokenReturn:
			return
		}
		c.advance()
	}
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (c *Compiler) chunk() *vm.Chunk {
	return c.fn.function.Chunk
}

func (c *Compiler) emitByte(b byte) {
	c.chunk().Write(b, c.previous.Line)
}

func (c *Compiler) emitOp(op vm.Opcode) {
	c.chunk().WriteOp(op, c.previous.Line)
}

func (c *Compiler) emitOpByte(op vm.Opcode, b byte) {
	c.emitOp(op)
	c.emitByte(b)
}

func (c *Compiler) emitJump(op vm.Opcode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return c.chunk().Len() - 2
}

func (c *Compiler) patchJump(offset int) {
	// -2 adjusts for the jump operand itself.
	jump := c.chunk().Len() - offset - 2
	if jump > maxJump {
		c.errorAtPrevious("Too much code to jump over.")
	}
	c.chunk().Patch(offset, byte(jump>>8))
	c.chunk().Patch(offset+1, byte(jump))
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(vm.OpLoop)
	offset := c.chunk().Len() - loopStart + 2
	if offset > maxJump {
		c.errorAtPrevious("Loop body too large.")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

func (c *Compiler) emitReturn() {
	if c.fn.ftype == TypeInitializer {
		c.emitOpByte(vm.OpGetLocal, 0)
	} else {
		c.emitOp(vm.OpNil)
	}
	c.emitOp(vm.OpReturn)
}

func (c *Compiler) makeConstant(v vm.Value) byte {
	index := c.heap.AddConstant(c.chunk(), v)
	if index >= MaxConstants {
		c.errorAtPrevious("Too many constants in one chunk.")
		return 0
	}
	return byte(index)
}

func (c *Compiler) emitConstant(v vm.Value) {
	c.emitOpByte(vm.OpConstant, c.makeConstant(v))
}

// ---------------------------------------------------------------------------
// Functions and scopes
// ---------------------------------------------------------------------------

func (c *Compiler) beginFunction(ftype FunctionType) {
	fs := &funcState{
		enclosing: c.fn,
		ftype:     ftype,
		locals:    make([]local, 0, 8),
	}
	fs.function = c.heap.NewFunction()
	// Rooted from here on.
	c.fn = fs
	if ftype != TypeScript {
		fs.function.Name = c.heap.CopyGoString(c.previous.Literal)
	}

	// Slot zero holds the receiver in methods and the callee otherwise.
	slotZero := local{depth: 0}
	if ftype != TypeFunction && ftype != TypeScript {
		slotZero.name = "this"
	}
	fs.locals = append(fs.locals, slotZero)
}

func (c *Compiler) endFunction() (*vm.Function, []upvalueRef) {
	c.emitReturn()
	fs := c.fn
	c.fn = fs.enclosing
	return fs.function, fs.upvalues
}

func (c *Compiler) beginScope() {
	c.fn.scopeDepth++
}

func (c *Compiler) endScope() {
	fs := c.fn
	fs.scopeDepth--
	for len(fs.locals) > 0 && fs.locals[len(fs.locals)-1].depth > fs.scopeDepth {
		if fs.locals[len(fs.locals)-1].isCaptured {
			c.emitOp(vm.OpCloseUpvalue)
		} else {
			c.emitOp(vm.OpPop)
		}
		fs.locals = fs.locals[:len(fs.locals)-1]
	}
}

func (c *Compiler) function(ftype FunctionType) {
	c.beginFunction(ftype)
	c.beginScope()

	c.consume(TokenLeftParen, "Expect '(' after function name.")
	if !c.check(TokenRightParen) {
		for {
			c.fn.function.Arity++
			if c.fn.function.Arity > MaxArgs {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			constant := c.parseVariable("Expect parameter name.")
			c.defineVariable(constant)
			if !c.match(TokenComma) {
				break
			}
		}
	}
	c.consume(TokenRightParen, "Expect ')' after parameters.")
	c.consume(TokenLeftBrace, "Expect '{' before function body.")
	c.block()

	// No endScope: the frame's slots are discarded by OP_RETURN.
	fn, upvalues := c.endFunction()
	c.emitOpByte(vm.OpClosure, c.makeConstant(fn.Value()))
	for _, uv := range upvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(uv.index)
	}
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func (c *Compiler) identifierConstant(name string) byte {
	return c.makeConstant(c.heap.CopyGoString(name).Value())
}

func (c *Compiler) addLocal(name string) {
	if len(c.fn.locals) == MaxLocals {
		c.errorAtPrevious("Too many local variables in function.")
		return
	}
	c.fn.locals = append(c.fn.locals, local{name: name, depth: -1})
}

func (c *Compiler) declareVariable() {
	if c.fn.scopeDepth == 0 {
		return
	}
	name := c.previous.Literal
	for i := len(c.fn.locals) - 1; i >= 0; i-- {
		l := &c.fn.locals[i]
		if l.depth != -1 && l.depth < c.fn.scopeDepth {
			break
		}
		if l.name == name {
			c.errorAtPrevious("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) parseVariable(message string) byte {
	c.consume(TokenIdentifier, message)
	c.declareVariable()
	if c.fn.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous.Literal)
}

func (c *Compiler) markInitialized() {
	if c.fn.scopeDepth == 0 {
		return
	}
	c.fn.locals[len(c.fn.locals)-1].depth = c.fn.scopeDepth
}

func (c *Compiler) defineVariable(global byte) {
	if c.fn.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(vm.OpDefineGlobal, global)
}

func (c *Compiler) resolveLocal(fs *funcState, name string) int {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			if fs.locals[i].depth == -1 {
				c.errorAtPrevious("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (c *Compiler) addUpvalue(fs *funcState, index byte, isLocal bool) int {
	for i, uv := range fs.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(fs.upvalues) == MaxUpvalues {
		c.errorAtPrevious("Too many closure variables in function.")
		return 0
	}
	fs.upvalues = append(fs.upvalues, upvalueRef{index: index, isLocal: isLocal})
	fs.function.UpvalueCount++
	return len(fs.upvalues) - 1
}

func (c *Compiler) resolveUpvalue(fs *funcState, name string) int {
	if fs.enclosing == nil {
		return -1
	}
	if l := c.resolveLocal(fs.enclosing, name); l != -1 {
		fs.enclosing.locals[l].isCaptured = true
		return c.addUpvalue(fs, byte(l), true)
	}
	if uv := c.resolveUpvalue(fs.enclosing, name); uv != -1 {
		return c.addUpvalue(fs, byte(uv), false)
	}
	return -1
}

func (c *Compiler) namedVariable(name string, canAssign bool) {
	var getOp, setOp vm.Opcode
	var arg byte
	if i := c.resolveLocal(c.fn, name); i != -1 {
		arg = byte(i)
		getOp, setOp = vm.OpGetLocal, vm.OpSetLocal
	} else if i := c.resolveUpvalue(c.fn, name); i != -1 {
		arg = byte(i)
		getOp, setOp = vm.OpGetUpvalue, vm.OpSetUpvalue
	} else {
		arg = c.identifierConstant(name)
		getOp, setOp = vm.OpGetGlobal, vm.OpSetGlobal
	}

	if canAssign && c.match(TokenEqual) {
		c.expression()
		c.emitOpByte(setOp, arg)
	} else {
		c.emitOpByte(getOp, arg)
	}
}

// ---------------------------------------------------------------------------
// Declarations and statements
// ---------------------------------------------------------------------------

func (c *Compiler) declaration() {
	switch {
	case c.match(TokenClass):
		c.classDeclaration()
	case c.match(TokenFun):
		c.funDeclaration()
	case c.match(TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) classDeclaration() {
	c.consume(TokenIdentifier, "Expect class name.")
	className := c.previous.Literal
	nameConstant := c.identifierConstant(className)
	c.declareVariable()

	c.emitOpByte(vm.OpClass, nameConstant)
	c.defineVariable(nameConstant)

	cs := &classState{enclosing: c.class}
	c.class = cs

	if c.match(TokenLess) {
		c.consume(TokenIdentifier, "Expect superclass name.")
		c.variable(false)
		if className == c.previous.Literal {
			c.errorAtPrevious("A class can't inherit from itself.")
		}

		c.beginScope()
		c.addLocal("super")
		c.defineVariable(0)

		c.namedVariable(className, false)
		c.emitOp(vm.OpInherit)
		cs.hasSuperclass = true
	}

	c.namedVariable(className, false)
	c.consume(TokenLeftBrace, "Expect '{' before class body.")
	for !c.check(TokenRightBrace) && !c.check(TokenEOF) {
		c.method()
	}
	c.consume(TokenRightBrace, "Expect '}' after class body.")
	c.emitOp(vm.OpPop)

	if cs.hasSuperclass {
		c.endScope()
	}
	c.class = cs.enclosing
}

func (c *Compiler) method() {
	c.consume(TokenIdentifier, "Expect method name.")
	constant := c.identifierConstant(c.previous.Literal)
	ftype := TypeMethod
	if c.previous.Literal == "init" {
		ftype = TypeInitializer
	}
	c.function(ftype)
	c.emitOpByte(vm.OpMethod, constant)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	// A function may refer to itself recursively.
	c.markInitialized()
	c.function(TypeFunction)
	c.defineVariable(global)
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(TokenEqual) {
		c.expression()
	} else {
		c.emitOp(vm.OpNil)
	}
	c.consume(TokenSemicolon, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *Compiler) statement() {
	switch {
	case c.match(TokenPrint):
		c.printStatement()
	case c.match(TokenFor):
		c.forStatement()
	case c.match(TokenIf):
		c.ifStatement()
	case c.match(TokenReturn):
		c.returnStatement()
	case c.match(TokenWhile):
		c.whileStatement()
	case c.match(TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(TokenRightBrace) && !c.check(TokenEOF) {
		c.declaration()
	}
	c.consume(TokenRightBrace, "Expect '}' after block.")
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after value.")
	c.emitOp(vm.OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(vm.OpPop)
}

func (c *Compiler) returnStatement() {
	if c.fn.ftype == TypeScript {
		c.errorAtPrevious("Can't return from top-level code.")
	}
	if c.match(TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.fn.ftype == TypeInitializer {
		c.errorAtPrevious("Can't return a value from an initializer.")
	}
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after return value.")
	c.emitOp(vm.OpReturn)
}

func (c *Compiler) ifStatement() {
	c.consume(TokenLeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(TokenRightParen, "Expect ')' after condition.")

	thenJump := c.emitJump(vm.OpJumpIfFalse)
	c.emitOp(vm.OpPop)
	c.statement()
	elseJump := c.emitJump(vm.OpJump)

	c.patchJump(thenJump)
	c.emitOp(vm.OpPop)
	if c.match(TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := c.chunk().Len()
	c.consume(TokenLeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(TokenRightParen, "Expect ')' after condition.")

	exitJump := c.emitJump(vm.OpJumpIfFalse)
	c.emitOp(vm.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(vm.OpPop)
}

func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(TokenLeftParen, "Expect '(' after 'for'.")
	switch {
	case c.match(TokenSemicolon):
		// No initializer.
	case c.match(TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := c.chunk().Len()
	exitJump := -1
	if !c.match(TokenSemicolon) {
		c.expression()
		c.consume(TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(vm.OpJumpIfFalse)
		c.emitOp(vm.OpPop)
	}

	if !c.match(TokenRightParen) {
		bodyJump := c.emitJump(vm.OpJump)
		incrementStart := c.chunk().Len()
		c.expression()
		c.emitOp(vm.OpPop)
		c.consume(TokenRightParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(vm.OpPop)
	}
	c.endScope()
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (c *Compiler) expression() {
	c.parsePrecedence(precAssignment)
}

func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	prefix := getRule(c.previous.Type).prefix
	if prefix == nil {
		c.errorAtPrevious("Expect expression.")
		return
	}

	canAssign := prec <= precAssignment
	prefix(c, canAssign)

	for prec <= getRule(c.current.Type).precedence {
		c.advance()
		getRule(c.previous.Type).infix(c, canAssign)
	}

	if canAssign && c.match(TokenEqual) {
		c.errorAtPrevious("Invalid assignment target.")
	}
}

func (c *Compiler) number(canAssign bool) {
	value, err := strconv.ParseFloat(c.previous.Literal, 64)
	if err != nil {
		c.errorAtPrevious("Invalid number literal.")
		return
	}
	c.emitConstant(vm.Number(value))
}

func (c *Compiler) stringLiteral(canAssign bool) {
	lit := c.previous.Literal
	c.emitConstant(c.heap.CopyGoString(lit[1 : len(lit)-1]).Value())
}

func (c *Compiler) literal(canAssign bool) {
	switch c.previous.Type {
	case TokenFalse:
		c.emitOp(vm.OpFalse)
	case TokenNil:
		c.emitOp(vm.OpNil)
	case TokenTrue:
		c.emitOp(vm.OpTrue)
	}
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.consume(TokenRightParen, "Expect ')' after expression.")
}

func (c *Compiler) unary(canAssign bool) {
	operator := c.previous.Type
	c.parsePrecedence(precUnary)
	switch operator {
	case TokenBang:
		c.emitOp(vm.OpNot)
	case TokenMinus:
		c.emitOp(vm.OpNegate)
	}
}

func (c *Compiler) binary(canAssign bool) {
	operator := c.previous.Type
	c.parsePrecedence(getRule(operator).precedence + 1)

	switch operator {
	case TokenBangEqual:
		c.emitOp(vm.OpEqual)
		c.emitOp(vm.OpNot)
	case TokenEqualEqual:
		c.emitOp(vm.OpEqual)
	case TokenGreater:
		c.emitOp(vm.OpGreater)
	case TokenGreaterEqual:
		c.emitOp(vm.OpLess)
		c.emitOp(vm.OpNot)
	case TokenLess:
		c.emitOp(vm.OpLess)
	case TokenLessEqual:
		c.emitOp(vm.OpGreater)
		c.emitOp(vm.OpNot)
	case TokenPlus:
		c.emitOp(vm.OpAdd)
	case TokenMinus:
		c.emitOp(vm.OpSubtract)
	case TokenStar:
		c.emitOp(vm.OpMultiply)
	case TokenSlash:
		c.emitOp(vm.OpDivide)
	}
}

func (c *Compiler) and(canAssign bool) {
	endJump := c.emitJump(vm.OpJumpIfFalse)
	c.emitOp(vm.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or(canAssign bool) {
	elseJump := c.emitJump(vm.OpJumpIfFalse)
	endJump := c.emitJump(vm.OpJump)

	c.patchJump(elseJump)
	c.emitOp(vm.OpPop)

	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) argumentList() byte {
	argCount := 0
	if !c.check(TokenRightParen) {
		for {
			c.expression()
			if argCount == MaxArgs {
				c.errorAtPrevious("Can't have more than 255 arguments.")
			}
			argCount++
			if !c.match(TokenComma) {
				break
			}
		}
	}
	c.consume(TokenRightParen, "Expect ')' after arguments.")
	return byte(argCount)
}

func (c *Compiler) call(canAssign bool) {
	argCount := c.argumentList()
	c.emitOpByte(vm.OpCall, argCount)
}

func (c *Compiler) dot(canAssign bool) {
	c.consume(TokenIdentifier, "Expect property name after '.'.")
	name := c.identifierConstant(c.previous.Literal)

	switch {
	case canAssign && c.match(TokenEqual):
		c.expression()
		c.emitOpByte(vm.OpSetProperty, name)
	case c.match(TokenLeftParen):
		argCount := c.argumentList()
		c.emitOpByte(vm.OpInvoke, name)
		c.emitByte(argCount)
	default:
		c.emitOpByte(vm.OpGetProperty, name)
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous.Literal, canAssign)
}

func (c *Compiler) this(canAssign bool) {
	if c.class == nil {
		c.errorAtPrevious("Can't use 'this' outside of a class.")
		return
	}
	c.variable(false)
}

func (c *Compiler) super(canAssign bool) {
	switch {
	case c.class == nil:
		c.errorAtPrevious("Can't use 'super' outside of a class.")
	case !c.class.hasSuperclass:
		c.errorAtPrevious("Can't use 'super' in a class with no superclass.")
	}

	c.consume(TokenDot, "Expect '.' after 'super'.")
	c.consume(TokenIdentifier, "Expect superclass method name.")
	name := c.identifierConstant(c.previous.Literal)

	c.namedVariable("this", false)
	if c.match(TokenLeftParen) {
		argCount := c.argumentList()
		c.namedVariable("super", false)
		c.emitOpByte(vm.OpSuperInvoke, name)
		c.emitByte(argCount)
	} else {
		c.namedVariable("super", false)
		c.emitOpByte(vm.OpGetSuper, name)
	}
}
