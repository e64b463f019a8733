// Package il reconstructs method-body bytecode into symbolic
// pseudo-statements.
package il

import "sync"

// OperandKind declares the shape and width of an opcode's inline operand.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandInt8
	OperandUint8
	OperandUint16
	OperandInt32
	OperandInt64
	OperandFloat32
	OperandFloat64
	OperandBranch8
	OperandBranch32
	OperandFieldToken
	OperandMethodToken
	OperandTypeToken
	OperandStringToken
	OperandSigToken
	OperandAnyToken
	OperandSwitch
)

// width returns the fixed operand width in bytes; the switch operand is the
// one variable-width shape and is sized by its leading count.
func (k OperandKind) width() int {
	switch k {
	case OperandNone:
		return 0
	case OperandInt8, OperandUint8, OperandBranch8:
		return 1
	case OperandUint16:
		return 2
	case OperandInt32, OperandFloat32, OperandBranch32,
		OperandFieldToken, OperandMethodToken, OperandTypeToken,
		OperandStringToken, OperandSigToken, OperandAnyToken, OperandSwitch:
		return 4
	case OperandInt64, OperandFloat64:
		return 8
	}
	return 0
}

// isToken reports whether the operand is a metadata token.
func (k OperandKind) isToken() bool {
	switch k {
	case OperandFieldToken, OperandMethodToken, OperandTypeToken,
		OperandStringToken, OperandSigToken, OperandAnyToken:
		return true
	}
	return false
}

// Opcode is one entry of the instruction table.
type Opcode struct {
	Name    string
	Operand OperandKind
}

// Valid reports whether the table slot holds an assigned opcode.
func (o Opcode) Valid() bool {
	return o.Name != ""
}

// prefixByte escapes into the two-byte opcode page.
const prefixByte = 0xFE

var (
	tableOnce  sync.Once
	singleByte [256]Opcode
	twoByte    [256]Opcode
)

// OpcodeTables returns the two 256-entry instruction tables, building them on
// first use. The tables are read-only after initialization.
func OpcodeTables() (one, two *[256]Opcode) {
	tableOnce.Do(buildTables)
	return &singleByte, &twoByte
}

func op1(code byte, name string, operand OperandKind) {
	singleByte[code] = Opcode{Name: name, Operand: operand}
}

func op2(code byte, name string, operand OperandKind) {
	twoByte[code] = Opcode{Name: name, Operand: operand}
}

// buildTables populates both pages from the instruction set specification.
func buildTables() {
	op1(0x00, "nop", OperandNone)
	op1(0x01, "break", OperandNone)
	op1(0x02, "ldarg.0", OperandNone)
	op1(0x03, "ldarg.1", OperandNone)
	op1(0x04, "ldarg.2", OperandNone)
	op1(0x05, "ldarg.3", OperandNone)
	op1(0x06, "ldloc.0", OperandNone)
	op1(0x07, "ldloc.1", OperandNone)
	op1(0x08, "ldloc.2", OperandNone)
	op1(0x09, "ldloc.3", OperandNone)
	op1(0x0A, "stloc.0", OperandNone)
	op1(0x0B, "stloc.1", OperandNone)
	op1(0x0C, "stloc.2", OperandNone)
	op1(0x0D, "stloc.3", OperandNone)
	op1(0x0E, "ldarg.s", OperandUint8)
	op1(0x0F, "ldarga.s", OperandUint8)
	op1(0x10, "starg.s", OperandUint8)
	op1(0x11, "ldloc.s", OperandUint8)
	op1(0x12, "ldloca.s", OperandUint8)
	op1(0x13, "stloc.s", OperandUint8)
	op1(0x14, "ldnull", OperandNone)
	op1(0x15, "ldc.i4.m1", OperandNone)
	op1(0x16, "ldc.i4.0", OperandNone)
	op1(0x17, "ldc.i4.1", OperandNone)
	op1(0x18, "ldc.i4.2", OperandNone)
	op1(0x19, "ldc.i4.3", OperandNone)
	op1(0x1A, "ldc.i4.4", OperandNone)
	op1(0x1B, "ldc.i4.5", OperandNone)
	op1(0x1C, "ldc.i4.6", OperandNone)
	op1(0x1D, "ldc.i4.7", OperandNone)
	op1(0x1E, "ldc.i4.8", OperandNone)
	op1(0x1F, "ldc.i4.s", OperandInt8)
	op1(0x20, "ldc.i4", OperandInt32)
	op1(0x21, "ldc.i8", OperandInt64)
	op1(0x22, "ldc.r4", OperandFloat32)
	op1(0x23, "ldc.r8", OperandFloat64)
	op1(0x25, "dup", OperandNone)
	op1(0x26, "pop", OperandNone)
	op1(0x27, "jmp", OperandMethodToken)
	op1(0x28, "call", OperandMethodToken)
	op1(0x29, "calli", OperandSigToken)
	op1(0x2A, "ret", OperandNone)
	op1(0x2B, "br.s", OperandBranch8)
	op1(0x2C, "brfalse.s", OperandBranch8)
	op1(0x2D, "brtrue.s", OperandBranch8)
	op1(0x2E, "beq.s", OperandBranch8)
	op1(0x2F, "bge.s", OperandBranch8)
	op1(0x30, "bgt.s", OperandBranch8)
	op1(0x31, "ble.s", OperandBranch8)
	op1(0x32, "blt.s", OperandBranch8)
	op1(0x33, "bne.un.s", OperandBranch8)
	op1(0x34, "bge.un.s", OperandBranch8)
	op1(0x35, "bgt.un.s", OperandBranch8)
	op1(0x36, "ble.un.s", OperandBranch8)
	op1(0x37, "blt.un.s", OperandBranch8)
	op1(0x38, "br", OperandBranch32)
	op1(0x39, "brfalse", OperandBranch32)
	op1(0x3A, "brtrue", OperandBranch32)
	op1(0x3B, "beq", OperandBranch32)
	op1(0x3C, "bge", OperandBranch32)
	op1(0x3D, "bgt", OperandBranch32)
	op1(0x3E, "ble", OperandBranch32)
	op1(0x3F, "blt", OperandBranch32)
	op1(0x40, "bne.un", OperandBranch32)
	op1(0x41, "bge.un", OperandBranch32)
	op1(0x42, "bgt.un", OperandBranch32)
	op1(0x43, "ble.un", OperandBranch32)
	op1(0x44, "blt.un", OperandBranch32)
	op1(0x45, "switch", OperandSwitch)
	op1(0x46, "ldind.i1", OperandNone)
	op1(0x47, "ldind.u1", OperandNone)
	op1(0x48, "ldind.i2", OperandNone)
	op1(0x49, "ldind.u2", OperandNone)
	op1(0x4A, "ldind.i4", OperandNone)
	op1(0x4B, "ldind.u4", OperandNone)
	op1(0x4C, "ldind.i8", OperandNone)
	op1(0x4D, "ldind.i", OperandNone)
	op1(0x4E, "ldind.r4", OperandNone)
	op1(0x4F, "ldind.r8", OperandNone)
	op1(0x50, "ldind.ref", OperandNone)
	op1(0x51, "stind.ref", OperandNone)
	op1(0x52, "stind.i1", OperandNone)
	op1(0x53, "stind.i2", OperandNone)
	op1(0x54, "stind.i4", OperandNone)
	op1(0x55, "stind.i8", OperandNone)
	op1(0x56, "stind.r4", OperandNone)
	op1(0x57, "stind.r8", OperandNone)
	op1(0x58, "add", OperandNone)
	op1(0x59, "sub", OperandNone)
	op1(0x5A, "mul", OperandNone)
	op1(0x5B, "div", OperandNone)
	op1(0x5C, "div.un", OperandNone)
	op1(0x5D, "rem", OperandNone)
	op1(0x5E, "rem.un", OperandNone)
	op1(0x5F, "and", OperandNone)
	op1(0x60, "or", OperandNone)
	op1(0x61, "xor", OperandNone)
	op1(0x62, "shl", OperandNone)
	op1(0x63, "shr", OperandNone)
	op1(0x64, "shr.un", OperandNone)
	op1(0x65, "neg", OperandNone)
	op1(0x66, "not", OperandNone)
	op1(0x67, "conv.i1", OperandNone)
	op1(0x68, "conv.i2", OperandNone)
	op1(0x69, "conv.i4", OperandNone)
	op1(0x6A, "conv.i8", OperandNone)
	op1(0x6B, "conv.r4", OperandNone)
	op1(0x6C, "conv.r8", OperandNone)
	op1(0x6D, "conv.u4", OperandNone)
	op1(0x6E, "conv.u8", OperandNone)
	op1(0x6F, "callvirt", OperandMethodToken)
	op1(0x70, "cpobj", OperandTypeToken)
	op1(0x71, "ldobj", OperandTypeToken)
	op1(0x72, "ldstr", OperandStringToken)
	op1(0x73, "newobj", OperandMethodToken)
	op1(0x74, "castclass", OperandTypeToken)
	op1(0x75, "isinst", OperandTypeToken)
	op1(0x76, "conv.r.un", OperandNone)
	op1(0x79, "unbox", OperandTypeToken)
	op1(0x7A, "throw", OperandNone)
	op1(0x7B, "ldfld", OperandFieldToken)
	op1(0x7C, "ldflda", OperandFieldToken)
	op1(0x7D, "stfld", OperandFieldToken)
	op1(0x7E, "ldsfld", OperandFieldToken)
	op1(0x7F, "ldsflda", OperandFieldToken)
	op1(0x80, "stsfld", OperandFieldToken)
	op1(0x81, "stobj", OperandTypeToken)
	op1(0x82, "conv.ovf.i1.un", OperandNone)
	op1(0x83, "conv.ovf.i2.un", OperandNone)
	op1(0x84, "conv.ovf.i4.un", OperandNone)
	op1(0x85, "conv.ovf.i8.un", OperandNone)
	op1(0x86, "conv.ovf.u1.un", OperandNone)
	op1(0x87, "conv.ovf.u2.un", OperandNone)
	op1(0x88, "conv.ovf.u4.un", OperandNone)
	op1(0x89, "conv.ovf.u8.un", OperandNone)
	op1(0x8A, "conv.ovf.i.un", OperandNone)
	op1(0x8B, "conv.ovf.u.un", OperandNone)
	op1(0x8C, "box", OperandTypeToken)
	op1(0x8D, "newarr", OperandTypeToken)
	op1(0x8E, "ldlen", OperandNone)
	op1(0x8F, "ldelema", OperandTypeToken)
	op1(0x90, "ldelem.i1", OperandNone)
	op1(0x91, "ldelem.u1", OperandNone)
	op1(0x92, "ldelem.i2", OperandNone)
	op1(0x93, "ldelem.u2", OperandNone)
	op1(0x94, "ldelem.i4", OperandNone)
	op1(0x95, "ldelem.u4", OperandNone)
	op1(0x96, "ldelem.i8", OperandNone)
	op1(0x97, "ldelem.i", OperandNone)
	op1(0x98, "ldelem.r4", OperandNone)
	op1(0x99, "ldelem.r8", OperandNone)
	op1(0x9A, "ldelem.ref", OperandNone)
	op1(0x9B, "stelem.i", OperandNone)
	op1(0x9C, "stelem.i1", OperandNone)
	op1(0x9D, "stelem.i2", OperandNone)
	op1(0x9E, "stelem.i4", OperandNone)
	op1(0x9F, "stelem.i8", OperandNone)
	op1(0xA0, "stelem.r4", OperandNone)
	op1(0xA1, "stelem.r8", OperandNone)
	op1(0xA2, "stelem.ref", OperandNone)
	op1(0xA3, "ldelem", OperandTypeToken)
	op1(0xA4, "stelem", OperandTypeToken)
	op1(0xA5, "unbox.any", OperandTypeToken)
	op1(0xB3, "conv.ovf.i1", OperandNone)
	op1(0xB4, "conv.ovf.u1", OperandNone)
	op1(0xB5, "conv.ovf.i2", OperandNone)
	op1(0xB6, "conv.ovf.u2", OperandNone)
	op1(0xB7, "conv.ovf.i4", OperandNone)
	op1(0xB8, "conv.ovf.u4", OperandNone)
	op1(0xB9, "conv.ovf.i8", OperandNone)
	op1(0xBA, "conv.ovf.u8", OperandNone)
	op1(0xC2, "refanyval", OperandTypeToken)
	op1(0xC3, "ckfinite", OperandNone)
	op1(0xC6, "mkrefany", OperandTypeToken)
	op1(0xD0, "ldtoken", OperandAnyToken)
	op1(0xD1, "conv.u2", OperandNone)
	op1(0xD2, "conv.u1", OperandNone)
	op1(0xD3, "conv.i", OperandNone)
	op1(0xD4, "conv.ovf.i", OperandNone)
	op1(0xD5, "conv.ovf.u", OperandNone)
	op1(0xD6, "add.ovf", OperandNone)
	op1(0xD7, "add.ovf.un", OperandNone)
	op1(0xD8, "mul.ovf", OperandNone)
	op1(0xD9, "mul.ovf.un", OperandNone)
	op1(0xDA, "sub.ovf", OperandNone)
	op1(0xDB, "sub.ovf.un", OperandNone)
	op1(0xDC, "endfinally", OperandNone)
	op1(0xDD, "leave", OperandBranch32)
	op1(0xDE, "leave.s", OperandBranch8)
	op1(0xDF, "stind.i", OperandNone)
	op1(0xE0, "conv.u", OperandNone)

	op2(0x00, "arglist", OperandNone)
	op2(0x01, "ceq", OperandNone)
	op2(0x02, "cgt", OperandNone)
	op2(0x03, "cgt.un", OperandNone)
	op2(0x04, "clt", OperandNone)
	op2(0x05, "clt.un", OperandNone)
	op2(0x06, "ldftn", OperandMethodToken)
	op2(0x07, "ldvirtftn", OperandMethodToken)
	op2(0x09, "ldarg", OperandUint16)
	op2(0x0A, "ldarga", OperandUint16)
	op2(0x0B, "starg", OperandUint16)
	op2(0x0C, "ldloc", OperandUint16)
	op2(0x0D, "ldloca", OperandUint16)
	op2(0x0E, "stloc", OperandUint16)
	op2(0x0F, "localloc", OperandNone)
	op2(0x11, "endfilter", OperandNone)
	op2(0x12, "unaligned.", OperandUint8)
	op2(0x13, "volatile.", OperandNone)
	op2(0x14, "tail.", OperandNone)
	op2(0x15, "initobj", OperandTypeToken)
	op2(0x16, "constrained.", OperandTypeToken)
	op2(0x17, "cpblk", OperandNone)
	op2(0x18, "initblk", OperandNone)
	op2(0x19, "no.", OperandUint8)
	op2(0x1A, "rethrow", OperandNone)
	op2(0x1C, "sizeof", OperandTypeToken)
	op2(0x1D, "refanytype", OperandNone)
	op2(0x1E, "readonly.", OperandNone)
}
