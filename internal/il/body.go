package il

import (
	"encoding/binary"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// TruncatedBytecodeError reports an instruction stream whose cursor ran past
// the end of the method's byte range. The affected method yields whatever
// statements were reconstructed before the fault; the run continues.
type TruncatedBytecodeError struct {
	Offset int
}

func (e *TruncatedBytecodeError) Error() string {
	return fmt.Sprintf("instruction stream truncated at offset 0x%x", e.Offset)
}

// CallSite describes a resolved method callee.
type CallSite struct {
	DeclaringType string
	Name          string
	TypeArgs      []string
	ParamNames    []string
}

// render synthesizes the call-site expression, excluding the receiver.
func (c CallSite) render() string {
	var b strings.Builder
	if c.DeclaringType != "" {
		b.WriteString(c.DeclaringType)
		b.WriteByte('.')
	}
	b.WriteString(c.Name)
	if len(c.TypeArgs) > 0 {
		b.WriteByte('<')
		b.WriteString(strings.Join(c.TypeArgs, ", "))
		b.WriteByte('>')
	}
	b.WriteByte('(')
	b.WriteString(strings.Join(c.ParamNames, ", "))
	b.WriteByte(')')
	return b.String()
}

// TokenResolver supplies names for the metadata tokens a method body
// references. Lookups that fail report found=false and the engine substitutes
// a sentinel, continuing.
type TokenResolver interface {
	// FieldName resolves a field token to the field's sanitized name.
	FieldName(token uint32) (string, bool)
	// CallSite resolves a method token (definition, member reference, or
	// generic specialization) to its callee description.
	CallSite(token uint32) (CallSite, bool)
	// StringLiteral resolves a string-load token to the literal it loads.
	StringLiteral(token uint32) (string, bool)
	// TokenLabel names an arbitrary token for ldtoken, best effort.
	TokenLabel(token uint32) string
	// FieldData reads a field token's static initial value as text, when the
	// declaring type's size is known.
	FieldData(token uint32) (string, bool)
}

// The sentinel substituted when a token does not resolve.
const unresolvedName = "unknown"

// Reconstructor folds one method's instruction stream into pseudo-statements.
// It borrows the body bytes read-only; the produced statements are owned by
// the caller.
type Reconstructor struct {
	body []byte
	args []string
	res  TokenResolver
	log  *zap.Logger
}

// NewReconstructor prepares a reconstruction over a method's byte range.
// args holds the method's argument names by load index, receiver included
// for instance methods.
func NewReconstructor(body []byte, args []string, res TokenResolver, log *zap.Logger) *Reconstructor {
	return &Reconstructor{body: body, args: args, res: res, log: log}
}

// Statements runs the state machine to the end of the byte range and returns
// the pseudo-statements in emission order. The sequence is empty for methods
// using unmodeled opcodes exclusively. A truncated stream returns the
// statements reconstructed so far alongside a TruncatedBytecodeError.
func (r *Reconstructor) Statements() ([]string, error) {
	one, two := OpcodeTables()

	var statements []string
	var stack []string
	pendingLoads := make(map[int]string)
	lastLoad := -1

	push := func(expr string) {
		stack = append(stack, expr)
	}
	pop := func() string {
		if len(stack) == 0 {
			return unresolvedName
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return top
	}

	pos := 0
	for pos < len(r.body) {
		opcodeOffset := pos
		code := r.body[pos]
		pos++

		var opcode Opcode
		if code == prefixByte {
			if pos >= len(r.body) {
				return statements, &TruncatedBytecodeError{Offset: opcodeOffset}
			}
			opcode = two[r.body[pos]]
			pos++
		} else {
			opcode = one[code]
		}

		if !opcode.Valid() {
			// Unassigned opcode: the operand width is unknowable, so the
			// rest of the stream cannot be decoded.
			r.log.Warn("unrecognized opcode, abandoning method body",
				zap.Int("offset", opcodeOffset),
				zap.Uint8("code", code))
			return statements, nil
		}

		width := opcode.Operand.width()
		if pos+width > len(r.body) {
			return statements, &TruncatedBytecodeError{Offset: opcodeOffset}
		}
		operand := r.body[pos : pos+width]
		pos += width

		switch {
		case opcode.Operand == OperandFieldToken:
			token := binary.LittleEndian.Uint32(operand)
			name, found := r.res.FieldName(token)
			if !found {
				r.log.Warn("unresolvable field token",
					zap.Int("offset", opcodeOffset),
					zap.Uint32("token", token))
				name = unresolvedName
			}
			push("this." + name)

		case opcode.Operand == OperandMethodToken:
			token := binary.LittleEndian.Uint32(operand)
			site, found := r.res.CallSite(token)
			if !found {
				r.log.Warn("unresolvable method token",
					zap.Int("offset", opcodeOffset),
					zap.Uint32("token", token))
				push(unresolvedName)
				break
			}
			push(site.render())

		case opcode.Operand == OperandStringToken:
			token := binary.LittleEndian.Uint32(operand)
			if literal, found := r.res.StringLiteral(token); found {
				push(fmt.Sprintf("%q", literal))
			} else {
				push(unresolvedName)
			}

		case opcode.Operand == OperandAnyToken:
			token := binary.LittleEndian.Uint32(operand)
			push(r.res.TokenLabel(token))
			if data, found := r.res.FieldData(token); found {
				r.log.Debug("field initial value",
					zap.Int("offset", opcodeOffset),
					zap.String("value", data))
			}

		case opcode.Name == "ret":
			if lastLoad >= 0 {
				statements = append(statements, fmt.Sprintf("%s = %s;", pop(), pendingLoads[lastLoad]))
				pendingLoads = make(map[int]string)
				lastLoad = -1
			} else if len(stack) > 0 {
				statements = append(statements, fmt.Sprintf("return %s;", pop()))
			}

		case strings.HasPrefix(opcode.Name, "ldarg"):
			index, ok := r.argIndex(opcode, operand)
			if ok && index < len(r.args) {
				pendingLoads[index] = r.args[index]
				lastLoad = index
			}

		case opcode.Operand == OperandSwitch:
			count := int(binary.LittleEndian.Uint32(operand))
			jumpTable := count * 4
			if pos+jumpTable > len(r.body) {
				return statements, &TruncatedBytecodeError{Offset: opcodeOffset}
			}
			pos += jumpTable

		default:
			// Unmodeled instruction: the operand was already skipped by its
			// declared width and the stack is left untouched.
		}
	}

	return statements, nil
}

// argIndex extracts the argument index of an ldarg-family opcode.
func (r *Reconstructor) argIndex(opcode Opcode, operand []byte) (int, bool) {
	switch opcode.Name {
	case "ldarg.0":
		return 0, true
	case "ldarg.1":
		return 1, true
	case "ldarg.2":
		return 2, true
	case "ldarg.3":
		return 3, true
	case "ldarg.s", "ldarga.s":
		return int(operand[0]), true
	case "ldarg", "ldarga":
		return int(binary.LittleEndian.Uint16(operand)), true
	}
	return 0, false
}
