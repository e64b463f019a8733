package internal

import "github.com/microsoft/go-winmd/flags"

// The map of metadata element types to target primitive names.
var builtInElementTypes = map[flags.ElementType]string{
	flags.ElementType_VOID:       "void",
	flags.ElementType_BOOLEAN:    "boolean",
	flags.ElementType_CHAR:       "string",
	flags.ElementType_STRING:     "string",
	flags.ElementType_I1:         "number",
	flags.ElementType_I2:         "number",
	flags.ElementType_I4:         "number",
	flags.ElementType_I8:         "number",
	flags.ElementType_U1:         "number",
	flags.ElementType_U2:         "number",
	flags.ElementType_U4:         "number",
	flags.ElementType_U8:         "number",
	flags.ElementType_R4:         "number",
	flags.ElementType_R8:         "number",
	flags.ElementType_I:          "number",
	flags.ElementType_U:          "number",
	flags.ElementType_OBJECT:     "any",
	flags.ElementType_TYPEDBYREF: "any",
}

// The map of well-known metadata type names to target primitives. Named
// references to these are rendered directly and never declared.
var builtInTypeNames = map[string]string{
	"System.Void":    "void",
	"System.Boolean": "boolean",
	"System.Char":    "string",
	"System.String":  "string",
	"System.SByte":   "number",
	"System.Int16":   "number",
	"System.Int32":   "number",
	"System.Int64":   "number",
	"System.Byte":    "number",
	"System.UInt16":  "number",
	"System.UInt32":  "number",
	"System.UInt64":  "number",
	"System.Single":  "number",
	"System.Double":  "number",
	"System.IntPtr":  "number",
	"System.UIntPtr": "number",
	"System.Object":  "any",
}

// PrimitiveName returns the target primitive for a metadata element type.
func PrimitiveName(kind flags.ElementType) (string, bool) {
	name, found := builtInElementTypes[kind]
	return name, found
}

// PrimitiveForTypeName returns the target primitive for a fully qualified
// metadata type name.
func PrimitiveForTypeName(fullName string) (string, bool) {
	name, found := builtInTypeNames[fullName]
	return name, found
}

// The byte widths of statically addressable primitive fields.
var platformSizes = map[flags.ElementType]uint32{
	flags.ElementType_BOOLEAN: 1,
	flags.ElementType_I1:      1,
	flags.ElementType_U1:      1,
	flags.ElementType_CHAR:    2,
	flags.ElementType_I2:      2,
	flags.ElementType_U2:      2,
	flags.ElementType_I4:      4,
	flags.ElementType_U4:      4,
	flags.ElementType_R4:      4,
	flags.ElementType_I8:      8,
	flags.ElementType_U8:      8,
	flags.ElementType_R8:      8,
}

// PlatformSize returns the byte width of a primitive element type, used to
// bound reads of static field initial values.
func PlatformSize(kind flags.ElementType) (uint32, bool) {
	size, found := platformSizes[kind]
	return size, found
}
