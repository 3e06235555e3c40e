package vm

import "fmt"

// Opcode represents a bytecode instruction. Operands follow the opcode
// byte inline; their widths are noted next to each opcode.
type Opcode byte

const (
	// ========================================================================
	// Constants and literals
	// ========================================================================

	OpConstant Opcode = iota // Push constant: OpConstant <index:u8>
	OpNil                    // Push nil
	OpTrue                   // Push true
	OpFalse                  // Push false
	OpPop                    // Pop top of stack

	// ========================================================================
	// Variables
	// ========================================================================

	OpGetLocal     // Push local: OpGetLocal <slot:u8>
	OpSetLocal     // Store TOS to local: OpSetLocal <slot:u8>
	OpGetGlobal    // Push global: OpGetGlobal <name:u8>
	OpDefineGlobal // Pop into new global: OpDefineGlobal <name:u8>
	OpSetGlobal    // Store TOS to existing global: OpSetGlobal <name:u8>
	OpGetUpvalue   // Push upvalue: OpGetUpvalue <index:u8>
	OpSetUpvalue   // Store TOS to upvalue: OpSetUpvalue <index:u8>
	OpGetProperty  // Replace instance with field or bound method: OpGetProperty <name:u8>
	OpSetProperty  // Store TOS into instance field: OpSetProperty <name:u8>
	OpGetSuper     // Bind superclass method: OpGetSuper <name:u8>

	// ========================================================================
	// Operators
	// ========================================================================

	OpEqual
	OpGreater
	OpLess
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpNot
	OpNegate

	// ========================================================================
	// Statements and control flow
	// ========================================================================

	OpPrint       // Pop and print
	OpJump        // Unconditional forward jump: OpJump <offset:u16>
	OpJumpIfFalse // Forward jump if TOS falsey (TOS kept): OpJumpIfFalse <offset:u16>
	OpLoop        // Backward jump: OpLoop <offset:u16>

	// ========================================================================
	// Calls and closures
	// ========================================================================

	OpCall         // OpCall <argc:u8>
	OpInvoke       // OpInvoke <name:u8> <argc:u8>
	OpSuperInvoke  // OpSuperInvoke <name:u8> <argc:u8>
	OpClosure      // OpClosure <fn:u8> then <isLocal:u8 index:u8> per upvalue
	OpCloseUpvalue // Close the upvalue for TOS and pop
	OpReturn

	// ========================================================================
	// Classes
	// ========================================================================

	OpClass   // OpClass <name:u8>
	OpInherit // Copy superclass methods into subclass
	OpMethod  // OpMethod <name:u8>

	opcodeCount
)

var opcodeNames = [...]string{
	OpConstant:     "OP_CONSTANT",
	OpNil:          "OP_NIL",
	OpTrue:         "OP_TRUE",
	OpFalse:        "OP_FALSE",
	OpPop:          "OP_POP",
	OpGetLocal:     "OP_GET_LOCAL",
	OpSetLocal:     "OP_SET_LOCAL",
	OpGetGlobal:    "OP_GET_GLOBAL",
	OpDefineGlobal: "OP_DEFINE_GLOBAL",
	OpSetGlobal:    "OP_SET_GLOBAL",
	OpGetUpvalue:   "OP_GET_UPVALUE",
	OpSetUpvalue:   "OP_SET_UPVALUE",
	OpGetProperty:  "OP_GET_PROPERTY",
	OpSetProperty:  "OP_SET_PROPERTY",
	OpGetSuper:     "OP_GET_SUPER",
	OpEqual:        "OP_EQUAL",
	OpGreater:      "OP_GREATER",
	OpLess:         "OP_LESS",
	OpAdd:          "OP_ADD",
	OpSubtract:     "OP_SUBTRACT",
	OpMultiply:     "OP_MULTIPLY",
	OpDivide:       "OP_DIVIDE",
	OpNot:          "OP_NOT",
	OpNegate:       "OP_NEGATE",
	OpPrint:        "OP_PRINT",
	OpJump:         "OP_JUMP",
	OpJumpIfFalse:  "OP_JUMP_IF_FALSE",
	OpLoop:         "OP_LOOP",
	OpCall:         "OP_CALL",
	OpInvoke:       "OP_INVOKE",
	OpSuperInvoke:  "OP_SUPER_INVOKE",
	OpClosure:      "OP_CLOSURE",
	OpCloseUpvalue: "OP_CLOSE_UPVALUE",
	OpReturn:       "OP_RETURN",
	OpClass:        "OP_CLASS",
	OpInherit:      "OP_INHERIT",
	OpMethod:       "OP_METHOD",
}

// String returns the OP_ mnemonic.
func (op Opcode) String() string {
	if op < opcodeCount {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", byte(op))
}
