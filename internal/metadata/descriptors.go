package metadata

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strings"

	"github.com/microsoft/go-winmd/flags"
	"go.uber.org/zap"
)

// TypeKind classifies a declared type.
type TypeKind int

const (
	KindClass TypeKind = iota
	KindInterface
	KindEnum
	KindValueType
)

// Visibility is the target-facing access level of a member.
type Visibility int

const (
	VisibilityPrivate Visibility = iota
	VisibilityProtected
	VisibilityPublic
)

// MemberKind classifies a declared member.
type MemberKind int

const (
	MemberField MemberKind = iota
	MemberProperty
	MemberMethod
	MemberConstructor
)

// MemberDescriptor is one declared member of a type. It is owned by its
// TypeDescriptor and never shared.
type MemberDescriptor struct {
	Kind       MemberKind
	Name       string
	Static     bool
	Virtual    bool
	Abstract   bool
	Visibility Visibility

	// ExplicitInterface is the interface name qualifying an explicit
	// implementation; empty for implicitly named members.
	ExplicitInterface string

	// Type is the declared type of a field or property.
	Type SignatureNode

	// Method carries the full signature of a method or constructor.
	Method              *MethodSig
	ParamNames          []string
	MethodToken         Token
	MethodGenericParams []string

	HasGetter bool
	HasSetter bool

	// Enum members carry their underlying value.
	EnumValue    int64
	HasEnumValue bool
}

// TypeDescriptor describes one declared type. Descriptors are immutable once
// built and owned by the type graph that admits them.
type TypeDescriptor struct {
	Token         Token
	Name          string
	Namespace     string
	Kind          TypeKind
	Base          *SignatureNode
	Interfaces    []SignatureNode
	Members       []MemberDescriptor
	Nested        []Token
	Enclosing     Token
	GenericParams []string

	// FlagsEnum selects hexadecimal member rendering for bit-flag enums.
	FlagsEnum bool
}

// FullName joins the descriptor's namespace and name.
func (t *TypeDescriptor) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// GenericArity returns the number of generic parameters the type declares.
func (t *TypeDescriptor) GenericArity() int {
	return len(t.GenericParams)
}

// HasExplicitMembers reports whether any member is an explicit interface
// implementation.
func (t *TypeDescriptor) HasExplicitMembers() bool {
	for i := range t.Members {
		if t.Members[i].ExplicitInterface != "" {
			return true
		}
	}
	return false
}

// Type attribute bits.
const (
	typeAttrInterface = 0x0020
	typeAttrAbstract  = 0x0080
)

// Field attribute bits.
const (
	fieldAttrAccessMask = 0x0007
	fieldAttrStatic     = 0x0010
	fieldAttrLiteral    = 0x0040
)

// Method attribute bits.
const (
	methodAttrAccessMask = 0x0007
	methodAttrStatic     = 0x0010
	methodAttrVirtual    = 0x0040
	methodAttrAbstract   = 0x0400
)

const memberAccessPublic = 0x6

func visibilityOf(access uint32) Visibility {
	switch access {
	case memberAccessPublic:
		return VisibilityPublic
	case 0x4, 0x5: // family, famorassem
		return VisibilityProtected
	default:
		return VisibilityPrivate
	}
}

// TypeDescriptor builds the full descriptor of a TypeDef row: identity, kind,
// base, interfaces, members, nesting, and generic parameters.
func (r *Resolver) TypeDescriptor(typeDefIndex uint32) (*TypeDescriptor, error) {
	row, err := r.TypeDef(typeDefIndex)
	if err != nil {
		return nil, err
	}

	token := NewToken(TableTypeDef, typeDefIndex)
	desc := &TypeDescriptor{
		Token:         token,
		Name:          row.Name,
		Namespace:     row.Namespace,
		GenericParams: r.GenericParamNames(token),
	}

	baseName := r.TypeName(row.Extends)
	switch {
	case row.Flags&typeAttrInterface != 0:
		desc.Kind = KindInterface
	case baseName == "System.Enum":
		desc.Kind = KindEnum
	case baseName == "System.ValueType":
		desc.Kind = KindValueType
	default:
		desc.Kind = KindClass
		if row.Extends.Index() != 0 && baseName != "System.Object" {
			base := SignatureNode{Kind: SigNamed, Ref: row.Extends}
			desc.Base = &base
		}
	}

	impls, err := r.InterfaceImpls(typeDefIndex)
	if err != nil {
		return nil, err
	}
	for _, impl := range impls {
		desc.Interfaces = append(desc.Interfaces, SignatureNode{Kind: SigNamed, Ref: impl})
	}

	if err := r.appendFieldMembers(desc, row); err != nil {
		return nil, err
	}
	accessors := r.appendPropertyMembers(desc, row)
	if err := r.appendMethodMembers(desc, row, accessors); err != nil {
		return nil, err
	}

	for _, nested := range r.NestedTypes(typeDefIndex) {
		desc.Nested = append(desc.Nested, NewToken(TableTypeDef, nested))
	}
	if enclosing, nested := r.EnclosingType(typeDefIndex); nested {
		desc.Enclosing = enclosing
	}

	if desc.Kind == KindEnum {
		desc.FlagsEnum = isFlagsEnum(desc.Members)
	}

	return desc, nil
}

func (r *Resolver) appendFieldMembers(desc *TypeDescriptor, row TypeDefRow) error {
	for i := row.FieldStart; i < row.FieldEnd; i++ {
		field, err := r.Field(i)
		if err != nil {
			return err
		}
		sig, err := DecodeFieldSig(field.Signature)
		if err != nil {
			r.log.Warn("could not decode field signature",
				zap.String("type", desc.FullName()),
				zap.String("field", field.Name),
				zap.Error(err))
			continue
		}

		member := MemberDescriptor{
			Kind:       MemberField,
			Name:       field.Name,
			Static:     field.Flags&fieldAttrStatic != 0,
			Visibility: visibilityOf(field.Flags & fieldAttrAccessMask),
			Type:       sig,
		}

		if desc.Kind == KindEnum {
			// Only the literal fields are enum members; value__ is the
			// backing field and is not declared.
			if field.Flags&fieldAttrLiteral == 0 {
				continue
			}
			value, elementType, found := r.ConstantValue(NewToken(TableField, i))
			if found {
				member.EnumValue = decodeConstant(value, elementType)
				member.HasEnumValue = true
			}
		}

		desc.Members = append(desc.Members, member)
	}
	return nil
}

// appendPropertyMembers folds property rows and their accessor methods into
// property descriptors and returns the set of consumed accessor methods.
func (r *Resolver) appendPropertyMembers(desc *TypeDescriptor, row TypeDefRow) map[uint32]bool {
	accessors := make(map[uint32]bool)
	start, end, found := r.PropertyRange(row.Index)
	if !found {
		return accessors
	}

	for i := start; i < end; i++ {
		property, err := r.Property(i)
		if err != nil {
			return accessors
		}
		sig, err := DecodePropertySig(property.Signature)
		if err != nil {
			r.log.Warn("could not decode property signature",
				zap.String("type", desc.FullName()),
				zap.String("property", property.Name),
				zap.Error(err))
			continue
		}

		getter, setter := r.PropertyAccessors(i)
		member := MemberDescriptor{
			Kind:      MemberProperty,
			Name:      property.Name,
			Type:      sig.Type,
			HasGetter: getter != 0,
			HasSetter: setter != 0,
		}

		accessor := getter
		if accessor == 0 {
			accessor = setter
		}
		if accessor != 0 {
			accessors[getter] = true
			accessors[setter] = true
			if method, err := r.MethodDef(accessor); err == nil {
				member.Static = method.Flags&methodAttrStatic != 0
				member.Virtual = method.Flags&methodAttrVirtual != 0
				member.Abstract = method.Flags&methodAttrAbstract != 0
				member.Visibility = visibilityOf(method.Flags & methodAttrAccessMask)
			}
		}

		member.Name, member.ExplicitInterface = splitExplicitName(member.Name)
		desc.Members = append(desc.Members, member)
	}
	delete(accessors, 0)
	return accessors
}

func (r *Resolver) appendMethodMembers(desc *TypeDescriptor, row TypeDefRow, accessors map[uint32]bool) error {
	for i := row.MethodStart; i < row.MethodEnd; i++ {
		if accessors[i] {
			continue
		}
		method, err := r.MethodDef(i)
		if err != nil {
			return err
		}
		if method.Name == ".cctor" {
			continue
		}
		sig, err := DecodeMethodSig(method.Signature)
		if err != nil {
			r.log.Warn("could not decode method signature",
				zap.String("type", desc.FullName()),
				zap.String("method", method.Name),
				zap.Error(err))
			continue
		}

		token := NewToken(TableMethodDef, i)
		member := MemberDescriptor{
			Kind:                MemberMethod,
			Name:                method.Name,
			Static:              method.Flags&methodAttrStatic != 0,
			Virtual:             method.Flags&methodAttrVirtual != 0,
			Abstract:            method.Flags&methodAttrAbstract != 0,
			Visibility:          visibilityOf(method.Flags & methodAttrAccessMask),
			Method:              &sig,
			MethodToken:         token,
			MethodGenericParams: r.GenericParamNames(token),
		}
		if method.Name == ".ctor" {
			member.Kind = MemberConstructor
			member.Name = "constructor"
		} else {
			member.Name, member.ExplicitInterface = splitExplicitName(member.Name)
		}
		member.ParamNames = r.paramNames(method, len(sig.Params))

		desc.Members = append(desc.Members, member)
	}
	return nil
}

// paramNames collects a method's parameter names from the Param table,
// synthesizing argN for rows with no name.
func (r *Resolver) paramNames(method MethodDefRow, count int) []string {
	names := make([]string, count)
	for i := method.ParamStart; i < method.ParamEnd; i++ {
		param, err := r.Param(i)
		if err != nil {
			break
		}
		// Sequence 0 describes the return value.
		if param.Sequence == 0 || int(param.Sequence) > count {
			continue
		}
		names[param.Sequence-1] = param.Name
	}
	for i, name := range names {
		if name == "" {
			names[i] = fmt.Sprintf("arg%d", i+1)
		}
	}
	return names
}

// splitExplicitName detects interface-qualified member names
// ("Ns.IRunnable.Run") and splits them into the plain member name and the
// qualifying interface.
func splitExplicitName(name string) (member, explicitInterface string) {
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return name, ""
	}
	return parts[len(parts)-1], parts[len(parts)-2]
}

// TypeName resolves a TypeDef or TypeRef token to its full name. Other token
// kinds, and unresolvable tokens, yield the sentinel name.
func (r *Resolver) TypeName(tok Token) string {
	switch tok.Table() {
	case TableTypeDef:
		if row, err := r.TypeDef(tok.Index()); err == nil {
			return row.FullName()
		}
	case TableTypeRef:
		if row, err := r.TypeRef(tok.Index()); err == nil {
			return row.FullName()
		}
	}
	return "unknown"
}

// decodeConstant reads a little-endian constant blob, sign-extending the
// narrow signed element types so negative members survive the widening.
func decodeConstant(value []byte, elementType uint32) int64 {
	var buf [8]byte
	copy(buf[:], value)
	raw := binary.LittleEndian.Uint64(buf[:])
	switch flags.ElementType(elementType) {
	case flags.ElementType_I1:
		return int64(int8(raw))
	case flags.ElementType_I2:
		return int64(int16(raw))
	case flags.ElementType_I4:
		return int64(int32(raw))
	default:
		return int64(raw)
	}
}

// isFlagsEnum reports whether every nonzero member value is a single bit,
// the shape of a bit-flag set.
func isFlagsEnum(members []MemberDescriptor) bool {
	any := false
	for i := range members {
		if !members[i].HasEnumValue || members[i].EnumValue == 0 {
			continue
		}
		if bits.OnesCount64(uint64(members[i].EnumValue)) != 1 {
			return false
		}
		any = true
	}
	return any
}
