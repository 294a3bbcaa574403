// Package compiler translates golox source into executable chunks.
//
// The compiler is single pass: it pulls tokens from the lexer and emits
// bytecode as it parses, with no AST in between. Expressions are parsed
// with a Pratt table (one row per token type carrying the prefix rule,
// the infix rule and the precedence); statements with straightforward
// recursive descent.
//
// The result of a compilation is a function object holding the
// top-level chunk. Nested function declarations compile with their own
// funcCompiler linked to the enclosing one, which is also how upvalue
// resolution walks outward when an identifier is not local.
//
// The compiler allocates names and function objects through the VM's
// heap so the runtime can treat them like any other object, but it never
// triggers a collection: only the VM's allocation sites do. That keeps
// compilation free of root-publishing concerns.
package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"golox/pkg/bytecode"
	"golox/pkg/lexer"
	"golox/pkg/vm"
)

// ErrorList is the set of compile errors found in one compilation, in
// source order.
type ErrorList []string

// Error implements the error interface.
func (e ErrorList) Error() string {
	return strings.Join(e, "\n")
}

// Compile translates source into a top-level function object allocated
// on the given heap. On failure it returns an ErrorList with every
// diagnostic.
func Compile(source string, heap *vm.Heap) (*vm.Object, error) {
	c := &compiler{
		lexer: lexer.New(source),
		heap:  heap,
	}
	c.beginFunction(funcScript)

	c.advance()
	for !c.match(lexer.TokenEOF) {
		c.declaration()
	}
	fun := c.endFunction()

	if c.hadError {
		return nil, ErrorList(c.errors)
	}
	return fun, nil
}

type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * /
	precUnary                 // ! -
	precCall                  // . ()
	precPrimary
)

type parseFn func(c *compiler, canAssign bool)

type parseRule struct {
	prefix parseFn
	infix  parseFn
	prec   precedence
}

// rules is the Pratt table. Initialized in init to break the reference
// cycle between the table and the rules that consult it.
var rules map[lexer.TokenType]parseRule

func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.TokenLeftParen:    {(*compiler).grouping, (*compiler).call, precCall},
		lexer.TokenDot:          {nil, (*compiler).dot, precCall},
		lexer.TokenMinus:        {(*compiler).unary, (*compiler).binary, precTerm},
		lexer.TokenPlus:         {nil, (*compiler).binary, precTerm},
		lexer.TokenSlash:        {nil, (*compiler).binary, precFactor},
		lexer.TokenStar:         {nil, (*compiler).binary, precFactor},
		lexer.TokenBang:         {(*compiler).unary, nil, precNone},
		lexer.TokenBangEqual:    {nil, (*compiler).binary, precEquality},
		lexer.TokenEqualEqual:   {nil, (*compiler).binary, precEquality},
		lexer.TokenGreater:      {nil, (*compiler).binary, precComparison},
		lexer.TokenGreaterEqual: {nil, (*compiler).binary, precComparison},
		lexer.TokenLess:         {nil, (*compiler).binary, precComparison},
		lexer.TokenLessEqual:    {nil, (*compiler).binary, precComparison},
		lexer.TokenIdentifier:   {(*compiler).variable, nil, precNone},
		lexer.TokenString:       {(*compiler).stringLiteral, nil, precNone},
		lexer.TokenNumber:       {(*compiler).number, nil, precNone},
		lexer.TokenAnd:          {nil, (*compiler).and, precAnd},
		lexer.TokenOr:           {nil, (*compiler).or, precOr},
		lexer.TokenFalse:        {(*compiler).literal, nil, precNone},
		lexer.TokenTrue:         {(*compiler).literal, nil, precNone},
		lexer.TokenNil:          {(*compiler).literal, nil, precNone},
		lexer.TokenSuper:        {(*compiler).super, nil, precNone},
		lexer.TokenThis:         {(*compiler).this, nil, precNone},
	}
}

func getRule(tt lexer.TokenType) parseRule {
	return rules[tt]
}

type funcKind int

const (
	funcScript funcKind = iota
	funcFunction
	funcMethod
	funcInitializer
)

const (
	maxLocals    = 256
	maxUpvalues  = 256
	maxConstants = 256
	maxJump      = 1<<16 - 1
)

// local is a variable slot in the function being compiled. depth is -1
// while the variable is declared but not yet initialized, which is what
// catches `var a = a;`.
type local struct {
	name       lexer.Token
	depth      int
	isCaptured bool
}

// upvalue records how a function reaches one captured variable: either a
// local slot of the directly enclosing function, or an upvalue slot of
// it.
type upvalue struct {
	index   byte
	isLocal bool
}

// funcCompiler carries the per-function compilation state. They form a
// stack through enclosing, mirroring the lexical nesting of function
// declarations.
type funcCompiler struct {
	enclosing  *funcCompiler
	function   *vm.ObjFunction
	kind       funcKind
	locals     []local
	upvalues   []upvalue
	scopeDepth int
}

// classCompiler tracks the innermost class declaration being compiled,
// for this/super resolution.
type classCompiler struct {
	enclosing     *classCompiler
	hasSuperclass bool
}

type compiler struct {
	lexer        *lexer.Lexer
	heap         *vm.Heap
	current      lexer.Token
	previous     lexer.Token
	hadError     bool
	panicMode    bool
	errors       []string
	fc           *funcCompiler
	currentClass *classCompiler
}

// beginFunction pushes a fresh funcCompiler for the function declaration
// whose name is in previous (except for the script, which is unnamed).
func (c *compiler) beginFunction(kind funcKind) {
	fc := &funcCompiler{
		enclosing: c.fc,
		function:  &vm.ObjFunction{},
		kind:      kind,
	}
	if kind != funcScript {
		fc.function.Name = c.heap.Intern(c.previous.Lexeme)
	}
	// Slot 0 belongs to the callee. Methods use it for the receiver, so
	// it is named "this" there; elsewhere it is unnameable.
	slotZero := local{depth: 0}
	if kind == funcMethod || kind == funcInitializer {
		slotZero.name = lexer.Token{Type: lexer.TokenThis, Lexeme: "this"}
	}
	fc.locals = append(fc.locals, slotZero)
	c.fc = fc
}

// endFunction seals the current function, registers it on the heap and
// pops back to the enclosing funcCompiler.
func (c *compiler) endFunction() *vm.Object {
	c.emitReturn()
	fun := c.heap.Alloc(c.fc.function)
	c.fc = c.fc.enclosing
	return fun
}

func (c *compiler) currentChunk() *vm.Chunk {
	return &c.fc.function.Chunk
}

// ---- token plumbing ----

func (c *compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.lexer.NextToken()
		if c.current.Type != lexer.TokenError {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *compiler) consume(tt lexer.TokenType, message string) {
	if c.current.Type == tt {
		c.advance()
		return
	}
	c.errorAtCurrent(message)
}

func (c *compiler) check(tt lexer.TokenType) bool {
	return c.current.Type == tt
}

func (c *compiler) match(tt lexer.TokenType) bool {
	if !c.check(tt) {
		return false
	}
	c.advance()
	return true
}

// ---- error reporting ----

func (c *compiler) errorAtCurrent(message string) {
	c.errorAt(c.current, message)
}

func (c *compiler) errorAtPrevious(message string) {
	c.errorAt(c.previous, message)
}

func (c *compiler) errorAt(token lexer.Token, message string) {
	if c.panicMode {
		return
	}
	c.panicMode = true

	var b strings.Builder
	fmt.Fprintf(&b, "[line %d] Error", token.Line)
	switch token.Type {
	case lexer.TokenEOF:
		b.WriteString(" at end")
	case lexer.TokenError:
		// The message already describes the scan error.
	default:
		fmt.Fprintf(&b, " at '%s'", token.Lexeme)
	}
	fmt.Fprintf(&b, ": %s", message)

	c.errors = append(c.errors, b.String())
	c.hadError = true
}

// synchronize skips tokens until a statement boundary so one mistake
// does not cascade into a wall of diagnostics.
func (c *compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != lexer.TokenEOF {
		if c.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch c.current.Type {
		case lexer.TokenClass, lexer.TokenFun, lexer.TokenVar, lexer.TokenFor,
			lexer.TokenIf, lexer.TokenWhile, lexer.TokenPrint, lexer.TokenReturn:
			return
		}
		c.advance()
	}
}

// ---- emit helpers ----

func (c *compiler) emitByte(b byte) {
	c.currentChunk().Write(b, c.previous.Line)
}

func (c *compiler) emitOp(op bytecode.Opcode) {
	c.currentChunk().WriteOp(op, c.previous.Line)
}

func (c *compiler) emitOpByte(op bytecode.Opcode, b byte) {
	c.emitOp(op)
	c.emitByte(b)
}

func (c *compiler) emitReturn() {
	// Function bodies without an explicit return produce nil;
	// initializers produce the receiver from slot 0.
	if c.fc.kind == funcInitializer {
		c.emitOpByte(bytecode.OpGetLocal, 0)
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.emitOp(bytecode.OpReturn)
}

func (c *compiler) makeConstant(v vm.Value) byte {
	index := c.currentChunk().AddConstant(v)
	if index >= maxConstants {
		c.errorAtPrevious("Too many constants in one chunk.")
		return 0
	}
	return byte(index)
}

func (c *compiler) emitConstant(v vm.Value) {
	c.emitOpByte(bytecode.OpConst, c.makeConstant(v))
}

// emitJump emits a forward jump with a placeholder offset and returns
// the offset operand's position for patchJump.
func (c *compiler) emitJump(op bytecode.Opcode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.currentChunk().Code) - 2
}

func (c *compiler) patchJump(operand int) {
	// The jump lands relative to the byte after the two-byte operand.
	jump := len(c.currentChunk().Code) - operand - 2
	if jump > maxJump {
		c.errorAtPrevious("Too much code to jump over.")
	}
	c.currentChunk().Code[operand] = byte(jump >> 8)
	c.currentChunk().Code[operand+1] = byte(jump)
}

func (c *compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)
	offset := len(c.currentChunk().Code) - loopStart + 2
	if offset > maxJump {
		c.errorAtPrevious("Loop body too large.")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset))
}

// ---- scopes and variables ----

func (c *compiler) beginScope() {
	c.fc.scopeDepth++
}

func (c *compiler) endScope() {
	c.fc.scopeDepth--
	for len(c.fc.locals) > 0 {
		l := c.fc.locals[len(c.fc.locals)-1]
		if l.depth <= c.fc.scopeDepth {
			break
		}
		// Captured locals are hoisted into their upvalues instead of
		// being discarded.
		if l.isCaptured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
		c.fc.locals = c.fc.locals[:len(c.fc.locals)-1]
	}
}

// identifierConstant interns the identifier and stores it in the
// constant pool, returning the pool index.
func (c *compiler) identifierConstant(name lexer.Token) byte {
	return c.makeConstant(vm.ObjectValue(c.heap.Intern(name.Lexeme)))
}

func (c *compiler) addLocal(name lexer.Token) {
	if len(c.fc.locals) == maxLocals {
		c.errorAtPrevious("Too many local variables in function.")
		return
	}
	c.fc.locals = append(c.fc.locals, local{name: name, depth: -1})
}

// declareVariable records a local declaration. Globals are late bound
// and need no declaration.
func (c *compiler) declareVariable() {
	if c.fc.scopeDepth == 0 {
		return
	}
	name := c.previous
	for i := len(c.fc.locals) - 1; i >= 0; i-- {
		l := c.fc.locals[i]
		if l.depth != -1 && l.depth < c.fc.scopeDepth {
			break
		}
		if l.name.Lexeme == name.Lexeme {
			c.errorAtPrevious("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(name)
}

func (c *compiler) parseVariable(message string) byte {
	c.consume(lexer.TokenIdentifier, message)
	c.declareVariable()
	if c.fc.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous)
}

func (c *compiler) markInitialized() {
	if c.fc.scopeDepth == 0 {
		return
	}
	c.fc.locals[len(c.fc.locals)-1].depth = c.fc.scopeDepth
}

func (c *compiler) defineVariable(global byte) {
	if c.fc.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(bytecode.OpDefineGlobal, global)
}

func (c *compiler) resolveLocal(fc *funcCompiler, name lexer.Token) int {
	for i := len(fc.locals) - 1; i >= 0; i-- {
		l := fc.locals[i]
		if l.name.Lexeme == name.Lexeme {
			if l.depth == -1 {
				c.errorAtPrevious("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (c *compiler) addUpvalue(fc *funcCompiler, index byte, isLocal bool) int {
	for i, uv := range fc.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(fc.upvalues) == maxUpvalues {
		c.errorAtPrevious("Too many closure variables in function.")
		return 0
	}
	fc.upvalues = append(fc.upvalues, upvalue{index: index, isLocal: isLocal})
	fc.function.UpvalueCount = len(fc.upvalues)
	return len(fc.upvalues) - 1
}

// resolveUpvalue walks outward through the enclosing functions looking
// for the variable. A hit in the direct parent captures that parent's
// local; a hit further out captures transitively through the parent's
// own upvalues.
func (c *compiler) resolveUpvalue(fc *funcCompiler, name lexer.Token) int {
	if fc.enclosing == nil {
		return -1
	}
	if localIndex := c.resolveLocal(fc.enclosing, name); localIndex != -1 {
		fc.enclosing.locals[localIndex].isCaptured = true
		return c.addUpvalue(fc, byte(localIndex), true)
	}
	if upvalueIndex := c.resolveUpvalue(fc.enclosing, name); upvalueIndex != -1 {
		return c.addUpvalue(fc, byte(upvalueIndex), false)
	}
	return -1
}

// namedVariable emits the load or store for an identifier, deciding
// between local, upvalue and global forms.
func (c *compiler) namedVariable(name lexer.Token, canAssign bool) {
	var getOp, setOp bytecode.Opcode
	var arg int
	if arg = c.resolveLocal(c.fc, name); arg != -1 {
		getOp, setOp = bytecode.OpGetLocal, bytecode.OpSetLocal
	} else if arg = c.resolveUpvalue(c.fc, name); arg != -1 {
		getOp, setOp = bytecode.OpGetUpvalue, bytecode.OpSetUpvalue
	} else {
		arg = int(c.identifierConstant(name))
		getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.expression()
		c.emitOpByte(setOp, byte(arg))
	} else {
		c.emitOpByte(getOp, byte(arg))
	}
}

func syntheticToken(lexeme string) lexer.Token {
	return lexer.Token{Type: lexer.TokenIdentifier, Lexeme: lexeme}
}

// ---- expressions ----

func (c *compiler) expression() {
	c.parsePrecedence(precAssignment)
}

func (c *compiler) parsePrecedence(prec precedence) {
	c.advance()
	prefix := getRule(c.previous.Type).prefix
	if prefix == nil {
		c.errorAtPrevious("Expect expression.")
		return
	}
	canAssign := prec <= precAssignment
	prefix(c, canAssign)

	for prec <= getRule(c.current.Type).prec {
		c.advance()
		infix := getRule(c.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.errorAtPrevious("Invalid assignment target.")
	}
}

func (c *compiler) grouping(bool) {
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after expression.")
}

func (c *compiler) number(bool) {
	value, _ := strconv.ParseFloat(c.previous.Lexeme, 64)
	c.emitConstant(vm.NumberValue(value))
}

func (c *compiler) stringLiteral(bool) {
	lexeme := c.previous.Lexeme
	chars := lexeme[1 : len(lexeme)-1] // trim the quotes
	c.emitConstant(vm.ObjectValue(c.heap.Intern(chars)))
}

func (c *compiler) literal(bool) {
	switch c.previous.Type {
	case lexer.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case lexer.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	case lexer.TokenNil:
		c.emitOp(bytecode.OpNil)
	}
}

func (c *compiler) variable(canAssign bool) {
	c.namedVariable(c.previous, canAssign)
}

func (c *compiler) unary(bool) {
	operator := c.previous.Type
	c.parsePrecedence(precUnary)
	switch operator {
	case lexer.TokenBang:
		c.emitOp(bytecode.OpNot)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpNegate)
	}
}

func (c *compiler) binary(bool) {
	operator := c.previous.Type
	c.parsePrecedence(getRule(operator).prec + 1)
	switch operator {
	case lexer.TokenBangEqual:
		c.emitOp(bytecode.OpNotEqual)
	case lexer.TokenEqualEqual:
		c.emitOp(bytecode.OpEqual)
	case lexer.TokenGreater:
		c.emitOp(bytecode.OpGreater)
	case lexer.TokenGreaterEqual:
		c.emitOp(bytecode.OpGreaterEqual)
	case lexer.TokenLess:
		c.emitOp(bytecode.OpLess)
	case lexer.TokenLessEqual:
		c.emitOp(bytecode.OpLessEqual)
	case lexer.TokenPlus:
		c.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpSub)
	case lexer.TokenStar:
		c.emitOp(bytecode.OpMul)
	case lexer.TokenSlash:
		c.emitOp(bytecode.OpDiv)
	}
}

// and short-circuits: with a falsey left operand the right one is never
// evaluated. The jump does not pop, so the falsey value itself is the
// expression result.
func (c *compiler) and(bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *compiler) or(bool) {
	endJump := c.emitJump(bytecode.OpJumpIfTrue)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *compiler) call(bool) {
	argc := c.argumentList()
	c.emitOpByte(bytecode.OpCall, argc)
}

func (c *compiler) dot(canAssign bool) {
	c.consume(lexer.TokenIdentifier, "Expect property name after '.'.")
	name := c.identifierConstant(c.previous)

	switch {
	case canAssign && c.match(lexer.TokenEqual):
		c.expression()
		c.emitOpByte(bytecode.OpSetProperty, name)
	case c.match(lexer.TokenLeftParen):
		argc := c.argumentList()
		c.emitOpByte(bytecode.OpInvoke, name)
		c.emitByte(argc)
	default:
		c.emitOpByte(bytecode.OpGetProperty, name)
	}
}

func (c *compiler) this(bool) {
	if c.currentClass == nil {
		c.errorAtPrevious("Can't use 'this' outside of a class.")
		return
	}
	c.variable(false)
}

func (c *compiler) super(bool) {
	if c.currentClass == nil {
		c.errorAtPrevious("Can't use 'super' outside of a class.")
	} else if !c.currentClass.hasSuperclass {
		c.errorAtPrevious("Can't use 'super' in a class with no superclass.")
	}

	c.consume(lexer.TokenDot, "Expect '.' after 'super'.")
	c.consume(lexer.TokenIdentifier, "Expect superclass method name.")
	name := c.identifierConstant(c.previous)

	c.namedVariable(syntheticToken("this"), false)
	if c.match(lexer.TokenLeftParen) {
		argc := c.argumentList()
		c.namedVariable(syntheticToken("super"), false)
		c.emitOpByte(bytecode.OpSuperInvoke, name)
		c.emitByte(argc)
	} else {
		c.namedVariable(syntheticToken("super"), false)
		c.emitOpByte(bytecode.OpGetSuper, name)
	}
}

func (c *compiler) argumentList() byte {
	argc := 0
	if !c.check(lexer.TokenRightParen) {
		for {
			c.expression()
			if argc == 255 {
				c.errorAtPrevious("Can't have more than 255 arguments.")
			}
			argc++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "Expect ')' after arguments.")
	return byte(argc)
}

// ---- statements ----

func (c *compiler) declaration() {
	switch {
	case c.match(lexer.TokenClass):
		c.classDeclaration()
	case c.match(lexer.TokenFun):
		c.funDeclaration()
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}

	if c.panicMode {
		c.synchronize()
	}
}

func (c *compiler) classDeclaration() {
	c.consume(lexer.TokenIdentifier, "Expect class name.")
	className := c.previous
	nameConstant := c.identifierConstant(c.previous)
	c.declareVariable()

	c.emitOpByte(bytecode.OpClass, nameConstant)
	c.defineVariable(nameConstant)

	cc := &classCompiler{enclosing: c.currentClass}
	c.currentClass = cc

	if c.match(lexer.TokenLess) {
		c.consume(lexer.TokenIdentifier, "Expect superclass name.")
		c.variable(false)
		if className.Lexeme == c.previous.Lexeme {
			c.errorAtPrevious("A class can't inherit from itself.")
		}

		// The superclass lives in a scoped local named "super" so
		// methods can capture it as an upvalue.
		c.beginScope()
		c.addLocal(syntheticToken("super"))
		c.defineVariable(0)

		c.namedVariable(className, false)
		c.emitOp(bytecode.OpInherit)
		cc.hasSuperclass = true
	}

	c.namedVariable(className, false)
	c.consume(lexer.TokenLeftBrace, "Expect '{' before class body.")
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.method()
	}
	c.consume(lexer.TokenRightBrace, "Expect '}' after class body.")
	c.emitOp(bytecode.OpPop)

	if cc.hasSuperclass {
		c.endScope()
	}
	c.currentClass = cc.enclosing
}

func (c *compiler) method() {
	c.consume(lexer.TokenIdentifier, "Expect method name.")
	name := c.identifierConstant(c.previous)
	kind := funcMethod
	if c.previous.Lexeme == "init" {
		kind = funcInitializer
	}
	c.function(kind)
	c.emitOpByte(bytecode.OpMethod, name)
}

func (c *compiler) funDeclaration() {
	global := c.parseVariable("Expect function name.")
	// A function may refer to itself; mark it initialized before the
	// body so recursion resolves.
	c.markInitialized()
	c.function(funcFunction)
	c.defineVariable(global)
}

// function compiles a parameter list and body with a fresh funcCompiler,
// then emits the closure creation in the enclosing function.
func (c *compiler) function(kind funcKind) {
	c.beginFunction(kind)
	c.beginScope()

	c.consume(lexer.TokenLeftParen, "Expect '(' after function name.")
	if !c.check(lexer.TokenRightParen) {
		for {
			c.fc.function.Arity++
			if c.fc.function.Arity > 255 {
				c.errorAtCurrent("Can't have more than 255 parameters.")
			}
			param := c.parseVariable("Expect parameter name.")
			c.defineVariable(param)
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "Expect ')' after parameters.")
	c.consume(lexer.TokenLeftBrace, "Expect '{' before function body.")
	c.block()

	upvalues := c.fc.upvalues
	fun := c.endFunction()

	c.emitOpByte(bytecode.OpClosure, c.makeConstant(vm.ObjectValue(fun)))
	for _, uv := range upvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(uv.index)
	}
}

func (c *compiler) varDeclaration() {
	global := c.parseVariable("Expect variable name.")
	if c.match(lexer.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.consume(lexer.TokenSemicolon, "Expect ';' after variable declaration.")
	c.defineVariable(global)
}

func (c *compiler) statement() {
	switch {
	case c.match(lexer.TokenPrint):
		c.printStatement()
	case c.match(lexer.TokenFor):
		c.forStatement()
	case c.match(lexer.TokenIf):
		c.ifStatement()
	case c.match(lexer.TokenReturn):
		c.returnStatement()
	case c.match(lexer.TokenWhile):
		c.whileStatement()
	case c.match(lexer.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *compiler) block() {
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.consume(lexer.TokenRightBrace, "Expect '}' after block.")
}

func (c *compiler) expressionStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(bytecode.OpPop)
}

func (c *compiler) printStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "Expect ';' after value.")
	c.emitOp(bytecode.OpPrint)
}

func (c *compiler) returnStatement() {
	if c.fc.kind == funcScript {
		c.errorAtPrevious("Can't return from top-level code.")
	}
	if c.match(lexer.TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.fc.kind == funcInitializer {
		c.errorAtPrevious("Can't return a value from an initializer.")
	}
	c.expression()
	c.consume(lexer.TokenSemicolon, "Expect ';' after return value.")
	c.emitOp(bytecode.OpReturn)
}

func (c *compiler) ifStatement() {
	c.consume(lexer.TokenLeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	elseJump := c.emitJump(bytecode.OpJump)

	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)
	if c.match(lexer.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *compiler) whileStatement() {
	loopStart := len(c.currentChunk().Code)
	c.consume(lexer.TokenLeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
}

func (c *compiler) forStatement() {
	// The whole statement gets a scope so a declared loop variable is
	// local to it.
	c.beginScope()
	c.consume(lexer.TokenLeftParen, "Expect '(' after 'for'.")
	switch {
	case c.match(lexer.TokenSemicolon):
		// No initializer.
	case c.match(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.currentChunk().Code)
	exitJump := -1
	if !c.match(lexer.TokenSemicolon) {
		c.expression()
		c.consume(lexer.TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
	}

	if !c.match(lexer.TokenRightParen) {
		// The increment textually precedes the body but runs after it:
		// jump over it now, run it after the body, then loop back to
		// the condition.
		bodyJump := c.emitJump(bytecode.OpJump)
		incrementStart := len(c.currentChunk().Code)
		c.expression()
		c.emitOp(bytecode.OpPop)
		c.consume(lexer.TokenRightParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(bytecode.OpPop)
	}
	c.endScope()
}
