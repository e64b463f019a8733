package metadata

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"cil2ts/internal"
)

// UnknownTokenKindError reports a token whose table is outside the resolvable
// set. Callers treat this as non-fatal and substitute a sentinel name.
type UnknownTokenKindError struct {
	Token Token
}

func (e *UnknownTokenKindError) Error() string {
	return fmt.Sprintf("token 0x%08x references unresolvable table %s", uint32(e.Token), e.Token.Table())
}

// The tables a token may legally point into when handed to ResolveToken.
var resolvableTables = map[TableID]bool{
	TableTypeDef:    true,
	TableTypeRef:    true,
	TableTypeSpec:   true,
	TableField:      true,
	TableMethodDef:  true,
	TableMemberRef:  true,
	TableMethodSpec: true,
}

// TableRow is one decoded metadata row together with its origin token.
// Coded-index columns hold tokens, simple-index columns row indexes, heap
// columns heap offsets.
type TableRow struct {
	Token Token
	Cols  []uint32
}

// Resolver turns tokens and indexes into decoded metadata rows, and raw
// virtual addresses into image bytes.
type Resolver struct {
	img    *Image
	tables *tables
	log    *zap.Logger
}

// NewResolver loads an assembly and prepares its metadata tables.
func NewResolver(path string, log *zap.Logger) (*Resolver, error) {
	img, err := OpenImage(path)
	if err != nil {
		return nil, err
	}
	tables, err := newTables(img)
	if err != nil {
		return nil, err
	}
	return &Resolver{img: img, tables: tables, log: log}, nil
}

// Image exposes the underlying image for address mapping.
func (r *Resolver) Image() *Image {
	return r.img
}

// TableLen returns the number of rows in a table.
func (r *Resolver) TableLen(id TableID) uint32 {
	return r.tables.Len(id)
}

// ResolveToken returns the table row a token points at, or an
// UnknownTokenKindError when the token's table is not resolvable.
func (r *Resolver) ResolveToken(tok Token) (TableRow, error) {
	if !resolvableTables[tok.Table()] {
		return TableRow{}, &UnknownTokenKindError{Token: tok}
	}
	cols, err := r.tables.row(tok.Table(), tok.Index())
	if err != nil {
		return TableRow{}, err
	}
	return TableRow{Token: tok, Cols: cols}, nil
}

// TypeDefRow is a decoded TypeDef table row.
type TypeDefRow struct {
	Index       uint32
	Flags       uint32
	Name        string
	Namespace   string
	Extends     Token
	FieldStart  uint32
	FieldEnd    uint32
	MethodStart uint32
	MethodEnd   uint32
}

// FullName joins the row's namespace and name.
func (row TypeDefRow) FullName() string {
	if row.Namespace == "" {
		return row.Name
	}
	return row.Namespace + "." + row.Name
}

// TypeDef decodes a TypeDef row, including its field and method ranges.
func (r *Resolver) TypeDef(index uint32) (TypeDefRow, error) {
	cols, err := r.tables.row(TableTypeDef, index)
	if err != nil {
		return TypeDefRow{}, err
	}
	fieldEnd, err := r.tables.listEnd(TableTypeDef, index, 4, TableField)
	if err != nil {
		return TypeDefRow{}, err
	}
	methodEnd, err := r.tables.listEnd(TableTypeDef, index, 5, TableMethodDef)
	if err != nil {
		return TypeDefRow{}, err
	}
	return TypeDefRow{
		Index:       index,
		Flags:       cols[0],
		Name:        r.img.stringAt(cols[1]),
		Namespace:   r.img.stringAt(cols[2]),
		Extends:     Token(cols[3]),
		FieldStart:  cols[4],
		FieldEnd:    fieldEnd,
		MethodStart: cols[5],
		MethodEnd:   methodEnd,
	}, nil
}

// TypeRefRow is a decoded TypeRef table row.
type TypeRefRow struct {
	Index     uint32
	Scope     Token
	Name      string
	Namespace string
}

// FullName joins the row's namespace and name.
func (row TypeRefRow) FullName() string {
	if row.Namespace == "" {
		return row.Name
	}
	return row.Namespace + "." + row.Name
}

// TypeRef decodes a TypeRef row.
func (r *Resolver) TypeRef(index uint32) (TypeRefRow, error) {
	cols, err := r.tables.row(TableTypeRef, index)
	if err != nil {
		return TypeRefRow{}, err
	}
	return TypeRefRow{
		Index:     index,
		Scope:     Token(cols[0]),
		Name:      r.img.stringAt(cols[1]),
		Namespace: r.img.stringAt(cols[2]),
	}, nil
}

// FieldRow is a decoded Field table row.
type FieldRow struct {
	Index     uint32
	Flags     uint32
	Name      string
	Signature []byte
}

// Field decodes a Field row, including its signature blob.
func (r *Resolver) Field(index uint32) (FieldRow, error) {
	cols, err := r.tables.row(TableField, index)
	if err != nil {
		return FieldRow{}, err
	}
	blob, err := r.img.blobAt(cols[2])
	if err != nil {
		return FieldRow{}, fmt.Errorf("field %d: %w", index, err)
	}
	return FieldRow{
		Index:     index,
		Flags:     cols[0],
		Name:      r.img.stringAt(cols[1]),
		Signature: blob,
	}, nil
}

// MethodDefRow is a decoded MethodDef table row.
type MethodDefRow struct {
	Index      uint32
	RVA        uint32
	ImplFlags  uint32
	Flags      uint32
	Name       string
	Signature  []byte
	ParamStart uint32
	ParamEnd   uint32
}

// MethodDef decodes a MethodDef row, including its parameter range.
func (r *Resolver) MethodDef(index uint32) (MethodDefRow, error) {
	cols, err := r.tables.row(TableMethodDef, index)
	if err != nil {
		return MethodDefRow{}, err
	}
	blob, err := r.img.blobAt(cols[4])
	if err != nil {
		return MethodDefRow{}, fmt.Errorf("method %d: %w", index, err)
	}
	paramEnd, err := r.tables.listEnd(TableMethodDef, index, 5, TableParam)
	if err != nil {
		return MethodDefRow{}, err
	}
	return MethodDefRow{
		Index:      index,
		RVA:        cols[0],
		ImplFlags:  cols[1],
		Flags:      cols[2],
		Name:       r.img.stringAt(cols[3]),
		Signature:  blob,
		ParamStart: cols[5],
		ParamEnd:   paramEnd,
	}, nil
}

// ParamRow is a decoded Param table row.
type ParamRow struct {
	Index    uint32
	Flags    uint32
	Sequence uint32
	Name     string
}

// Param decodes a Param row.
func (r *Resolver) Param(index uint32) (ParamRow, error) {
	cols, err := r.tables.row(TableParam, index)
	if err != nil {
		return ParamRow{}, err
	}
	return ParamRow{
		Index:    index,
		Flags:    cols[0],
		Sequence: cols[1],
		Name:     r.img.stringAt(cols[2]),
	}, nil
}

// MemberRefRow is a decoded MemberRef table row.
type MemberRefRow struct {
	Index     uint32
	Class     Token
	Name      string
	Signature []byte
}

// MemberRef decodes a MemberRef row.
func (r *Resolver) MemberRef(index uint32) (MemberRefRow, error) {
	cols, err := r.tables.row(TableMemberRef, index)
	if err != nil {
		return MemberRefRow{}, err
	}
	blob, err := r.img.blobAt(cols[2])
	if err != nil {
		return MemberRefRow{}, fmt.Errorf("member reference %d: %w", index, err)
	}
	return MemberRefRow{
		Index:     index,
		Class:     Token(cols[0]),
		Name:      r.img.stringAt(cols[1]),
		Signature: blob,
	}, nil
}

// MethodSpecRow is a decoded MethodSpec table row.
type MethodSpecRow struct {
	Index         uint32
	Method        Token
	Instantiation []byte
}

// MethodSpec decodes a MethodSpec row.
func (r *Resolver) MethodSpec(index uint32) (MethodSpecRow, error) {
	cols, err := r.tables.row(TableMethodSpec, index)
	if err != nil {
		return MethodSpecRow{}, err
	}
	blob, err := r.img.blobAt(cols[1])
	if err != nil {
		return MethodSpecRow{}, fmt.Errorf("method specialization %d: %w", index, err)
	}
	return MethodSpecRow{
		Index:         index,
		Method:        Token(cols[0]),
		Instantiation: blob,
	}, nil
}

// TypeSpecBlob returns a TypeSpec row's signature blob.
func (r *Resolver) TypeSpecBlob(index uint32) ([]byte, error) {
	cols, err := r.tables.row(TableTypeSpec, index)
	if err != nil {
		return nil, err
	}
	return r.img.blobAt(cols[0])
}

// PropertyRow is a decoded Property table row.
type PropertyRow struct {
	Index     uint32
	Flags     uint32
	Name      string
	Signature []byte
}

// Property decodes a Property row.
func (r *Resolver) Property(index uint32) (PropertyRow, error) {
	cols, err := r.tables.row(TableProperty, index)
	if err != nil {
		return PropertyRow{}, err
	}
	blob, err := r.img.blobAt(cols[2])
	if err != nil {
		return PropertyRow{}, fmt.Errorf("property %d: %w", index, err)
	}
	return PropertyRow{
		Index:     index,
		Flags:     cols[0],
		Name:      r.img.stringAt(cols[1]),
		Signature: blob,
	}, nil
}

// PropertyRange returns the property rows declared by a type, resolved
// through the PropertyMap table.
func (r *Resolver) PropertyRange(typeDefIndex uint32) (start, end uint32, found bool) {
	for i := uint32(1); i <= r.tables.Len(TablePropertyMap); i++ {
		cols, err := r.tables.row(TablePropertyMap, i)
		if err != nil {
			return 0, 0, false
		}
		if cols[0] != typeDefIndex {
			continue
		}
		propEnd, err := r.tables.listEnd(TablePropertyMap, i, 1, TableProperty)
		if err != nil {
			return 0, 0, false
		}
		return cols[1], propEnd, true
	}
	return 0, 0, false
}

// Method-semantics bits.
const (
	semanticsSetter = 0x0001
	semanticsGetter = 0x0002
)

// PropertyAccessors returns the getter and setter MethodDef indexes attached
// to a property (zero when absent) via the MethodSemantics table.
func (r *Resolver) PropertyAccessors(propertyIndex uint32) (getter, setter uint32) {
	association := uint32(NewToken(TableProperty, propertyIndex))
	for i := uint32(1); i <= r.tables.Len(TableMethodSemantics); i++ {
		cols, err := r.tables.row(TableMethodSemantics, i)
		if err != nil {
			return getter, setter
		}
		if cols[2] != association {
			continue
		}
		if cols[0]&semanticsGetter != 0 {
			getter = cols[1]
		}
		if cols[0]&semanticsSetter != 0 {
			setter = cols[1]
		}
	}
	return getter, setter
}

// InterfaceImpls returns the interfaces a type declares, in row order.
func (r *Resolver) InterfaceImpls(typeDefIndex uint32) ([]Token, error) {
	var interfaces []Token
	for i := uint32(1); i <= r.tables.Len(TableInterfaceImpl); i++ {
		cols, err := r.tables.row(TableInterfaceImpl, i)
		if err != nil {
			return nil, err
		}
		if cols[0] == typeDefIndex {
			interfaces = append(interfaces, Token(cols[1]))
		}
	}
	return interfaces, nil
}

// NestedTypes returns the TypeDef indexes nested inside a type.
func (r *Resolver) NestedTypes(typeDefIndex uint32) []uint32 {
	var nested []uint32
	for i := uint32(1); i <= r.tables.Len(TableNestedClass); i++ {
		cols, err := r.tables.row(TableNestedClass, i)
		if err != nil {
			return nested
		}
		if cols[1] == typeDefIndex {
			nested = append(nested, cols[0])
		}
	}
	return nested
}

// EnclosingType returns the TypeDef token enclosing a nested type.
func (r *Resolver) EnclosingType(typeDefIndex uint32) (Token, bool) {
	for i := uint32(1); i <= r.tables.Len(TableNestedClass); i++ {
		cols, err := r.tables.row(TableNestedClass, i)
		if err != nil {
			return 0, false
		}
		if cols[0] == typeDefIndex {
			return NewToken(TableTypeDef, cols[1]), true
		}
	}
	return 0, false
}

// GenericParamNames returns the generic parameter names declared by a type or
// method, ordered by position.
func (r *Resolver) GenericParamNames(owner Token) []string {
	type numbered struct {
		number uint32
		name   string
	}
	var params []numbered
	for i := uint32(1); i <= r.tables.Len(TableGenericParam); i++ {
		cols, err := r.tables.row(TableGenericParam, i)
		if err != nil {
			return nil
		}
		if Token(cols[2]) != owner {
			continue
		}
		params = append(params, numbered{number: cols[0], name: r.img.stringAt(cols[3])})
	}
	names := make([]string, len(params))
	for _, p := range params {
		if p.number < uint32(len(names)) {
			names[p.number] = p.name
		}
	}
	return names
}

// ConstantValue returns the literal value blob and element type attached to a
// field, parameter, or property.
func (r *Resolver) ConstantValue(parent Token) (value []byte, elementType uint32, found bool) {
	target := uint32(parent)
	for i := uint32(1); i <= r.tables.Len(TableConstant); i++ {
		cols, err := r.tables.row(TableConstant, i)
		if err != nil {
			return nil, 0, false
		}
		if cols[1] != target {
			continue
		}
		blob, err := r.img.blobAt(cols[2])
		if err != nil {
			return nil, 0, false
		}
		return blob, cols[0], true
	}
	return nil, 0, false
}

// FindTypeDef scans the TypeDef table for a type with the given namespace and
// name.
func (r *Resolver) FindTypeDef(namespace, name string) (TypeDefRow, bool) {
	for i := uint32(1); i <= r.tables.Len(TableTypeDef); i++ {
		row, err := r.TypeDef(i)
		if err != nil {
			return TypeDefRow{}, false
		}
		if row.Name == name && row.Namespace == namespace {
			return row, true
		}
	}
	return TypeDefRow{}, false
}

// ResolveTypeRefToDef resolves a TypeRef to a TypeDef in the same image by
// namespace and name. External references report found=false.
func (r *Resolver) ResolveTypeRefToDef(index uint32) (Token, bool) {
	ref, err := r.TypeRef(index)
	if err != nil {
		return 0, false
	}
	def, found := r.FindTypeDef(ref.Namespace, ref.Name)
	if !found {
		return 0, false
	}
	return NewToken(TableTypeDef, def.Index), true
}

// DeclaringTypeOf returns the TypeDef row that declares a MethodDef or Field.
func (r *Resolver) DeclaringTypeOf(member Token) (TypeDefRow, bool) {
	for i := uint32(1); i <= r.tables.Len(TableTypeDef); i++ {
		row, err := r.TypeDef(i)
		if err != nil {
			return TypeDefRow{}, false
		}
		switch member.Table() {
		case TableMethodDef:
			if row.MethodStart <= member.Index() && member.Index() < row.MethodEnd {
				return row, true
			}
		case TableField:
			if row.FieldStart <= member.Index() && member.Index() < row.FieldEnd {
				return row, true
			}
		}
	}
	return TypeDefRow{}, false
}

// Method body header bits.
const (
	bodyFormatMask = 0x03
	bodyTinyFormat = 0x02
	bodyFatFormat  = 0x03
)

// MethodBody returns the raw instruction bytes of a method. Methods with no
// body (abstract, extern) yield an empty range.
func (r *Resolver) MethodBody(methodIndex uint32) ([]byte, error) {
	row, err := r.MethodDef(methodIndex)
	if err != nil {
		return nil, err
	}
	if row.RVA == 0 {
		return nil, nil
	}

	offset, err := r.img.MapAddressToOffset(row.RVA)
	if err != nil {
		return nil, fmt.Errorf("method %q body: %w", row.Name, err)
	}

	first, err := r.img.ReadAt(offset, 1)
	if err != nil {
		return nil, err
	}
	switch first[0] & bodyFormatMask {
	case bodyTinyFormat:
		size := uint32(first[0] >> 2)
		return r.img.ReadAt(offset+1, size)
	case bodyFatFormat:
		header, err := r.img.ReadAt(offset, 12)
		if err != nil {
			return nil, err
		}
		headerSize := uint32(binary.LittleEndian.Uint16(header)>>12) * 4
		codeSize := binary.LittleEndian.Uint32(header[4:])
		return r.img.ReadAt(offset+headerSize, codeSize)
	default:
		return nil, fmt.Errorf("method %q has unrecognized body format 0x%x", row.Name, first[0])
	}
}

// UserString reads a literal from the "#US" heap, addressed by the low bytes
// of a string-load token.
func (r *Resolver) UserString(offset uint32) (string, bool) {
	s, err := r.img.userStringAt(offset)
	if err != nil {
		return "", false
	}
	return s, true
}

// FieldInitialValue reads the statically addressed initial data of a field,
// sized by the field's resolved type. Fields without a FieldRVA row, or with
// a type outside the platform-size table, report found=false.
func (r *Resolver) FieldInitialValue(fieldIndex uint32) ([]byte, bool) {
	row, err := r.Field(fieldIndex)
	if err != nil {
		return nil, false
	}
	sig, err := DecodeFieldSig(row.Signature)
	if err != nil || sig.Kind != SigPrimitive {
		return nil, false
	}
	size, sized := internal.PlatformSize(sig.Element)
	if !sized {
		return nil, false
	}

	for i := uint32(1); i <= r.tables.Len(TableFieldRVA); i++ {
		cols, err := r.tables.row(TableFieldRVA, i)
		if err != nil {
			return nil, false
		}
		if cols[1] != fieldIndex {
			continue
		}
		offset, err := r.img.MapAddressToOffset(cols[0])
		if err != nil {
			r.log.Warn("could not map field initial value",
				zap.String("field", row.Name),
				zap.Uint32("rva", cols[0]),
				zap.Error(err))
			return nil, false
		}
		data, err := r.img.ReadAt(offset, size)
		if err != nil {
			return nil, false
		}
		return data, true
	}
	return nil, false
}
