package metadata

import (
	"encoding/binary"
	"fmt"
)

// TableID numbers a metadata table as assigned by ECMA-335 II.22.
type TableID uint8

const (
	TableModule                 TableID = 0x00
	TableTypeRef                TableID = 0x01
	TableTypeDef                TableID = 0x02
	TableFieldPtr               TableID = 0x03
	TableField                  TableID = 0x04
	TableMethodPtr              TableID = 0x05
	TableMethodDef              TableID = 0x06
	TableParamPtr               TableID = 0x07
	TableParam                  TableID = 0x08
	TableInterfaceImpl          TableID = 0x09
	TableMemberRef              TableID = 0x0A
	TableConstant               TableID = 0x0B
	TableCustomAttribute        TableID = 0x0C
	TableFieldMarshal           TableID = 0x0D
	TableDeclSecurity           TableID = 0x0E
	TableClassLayout            TableID = 0x0F
	TableFieldLayout            TableID = 0x10
	TableStandAloneSig          TableID = 0x11
	TableEventMap               TableID = 0x12
	TableEventPtr               TableID = 0x13
	TableEvent                  TableID = 0x14
	TablePropertyMap            TableID = 0x15
	TablePropertyPtr            TableID = 0x16
	TableProperty               TableID = 0x17
	TableMethodSemantics        TableID = 0x18
	TableMethodImpl             TableID = 0x19
	TableModuleRef              TableID = 0x1A
	TableTypeSpec               TableID = 0x1B
	TableImplMap                TableID = 0x1C
	TableFieldRVA               TableID = 0x1D
	TableAssembly               TableID = 0x20
	TableAssemblyProcessor      TableID = 0x21
	TableAssemblyOS             TableID = 0x22
	TableAssemblyRef            TableID = 0x23
	TableAssemblyRefProcessor   TableID = 0x24
	TableAssemblyRefOS          TableID = 0x25
	TableFile                   TableID = 0x26
	TableExportedType           TableID = 0x27
	TableManifestResource       TableID = 0x28
	TableNestedClass            TableID = 0x29
	TableGenericParam           TableID = 0x2A
	TableMethodSpec             TableID = 0x2B
	TableGenericParamConstraint TableID = 0x2C

	// tableNone fills unused coded-index tag slots.
	tableNone TableID = 0xFF
)

var tableNames = map[TableID]string{
	TableModule: "Module", TableTypeRef: "TypeRef", TableTypeDef: "TypeDef",
	TableFieldPtr: "FieldPtr", TableField: "Field", TableMethodPtr: "MethodPtr",
	TableMethodDef: "MethodDef", TableParamPtr: "ParamPtr", TableParam: "Param",
	TableInterfaceImpl: "InterfaceImpl", TableMemberRef: "MemberRef",
	TableConstant: "Constant", TableCustomAttribute: "CustomAttribute",
	TableFieldMarshal: "FieldMarshal", TableDeclSecurity: "DeclSecurity",
	TableClassLayout: "ClassLayout", TableFieldLayout: "FieldLayout",
	TableStandAloneSig: "StandAloneSig", TableEventMap: "EventMap",
	TableEventPtr: "EventPtr", TableEvent: "Event", TablePropertyMap: "PropertyMap",
	TablePropertyPtr: "PropertyPtr", TableProperty: "Property",
	TableMethodSemantics: "MethodSemantics", TableMethodImpl: "MethodImpl",
	TableModuleRef: "ModuleRef", TableTypeSpec: "TypeSpec", TableImplMap: "ImplMap",
	TableFieldRVA: "FieldRVA", TableAssembly: "Assembly",
	TableAssemblyProcessor: "AssemblyProcessor", TableAssemblyOS: "AssemblyOS",
	TableAssemblyRef: "AssemblyRef", TableAssemblyRefProcessor: "AssemblyRefProcessor",
	TableAssemblyRefOS: "AssemblyRefOS", TableFile: "File",
	TableExportedType: "ExportedType", TableManifestResource: "ManifestResource",
	TableNestedClass: "NestedClass", TableGenericParam: "GenericParam",
	TableMethodSpec: "MethodSpec", TableGenericParamConstraint: "GenericParamConstraint",
}

func (id TableID) String() string {
	if name, found := tableNames[id]; found {
		return name
	}
	return fmt.Sprintf("Table(0x%02x)", uint8(id))
}

// Token identifies a metadata table row: the table number in the top byte and
// a 1-based row index in the low three bytes.
type Token uint32

// NewToken builds a token from a table number and a 1-based row index.
func NewToken(table TableID, index uint32) Token {
	return Token(uint32(table)<<24 | index&0x00FFFFFF)
}

// Table returns the table number encoded in the token.
func (t Token) Table() TableID {
	return TableID(t >> 24)
}

// Index returns the 1-based row index encoded in the token.
func (t Token) Index() uint32 {
	return uint32(t) & 0x00FFFFFF
}

func (t Token) String() string {
	return fmt.Sprintf("%s[%d]", t.Table(), t.Index())
}

// codedKind numbers the coded-index families of ECMA-335 II.24.2.6.
type codedKind int

const (
	codedTypeDefOrRef codedKind = iota
	codedHasConstant
	codedHasCustomAttribute
	codedHasFieldMarshal
	codedHasDeclSecurity
	codedMemberRefParent
	codedHasSemantics
	codedMethodDefOrRef
	codedMemberForwarded
	codedImplementation
	codedCustomAttributeType
	codedResolutionScope
	codedTypeOrMethodDef
)

// The member tables of each coded-index family, in tag order.
var codedTables = map[codedKind][]TableID{
	codedTypeDefOrRef:        {TableTypeDef, TableTypeRef, TableTypeSpec},
	codedHasConstant:         {TableField, TableParam, TableProperty},
	codedHasFieldMarshal:     {TableField, TableParam},
	codedHasDeclSecurity:     {TableTypeDef, TableMethodDef, TableAssembly},
	codedMemberRefParent:     {TableTypeDef, TableTypeRef, TableModuleRef, TableMethodDef, TableTypeSpec},
	codedHasSemantics:        {TableEvent, TableProperty},
	codedMethodDefOrRef:      {TableMethodDef, TableMemberRef},
	codedMemberForwarded:     {TableField, TableMethodDef},
	codedImplementation:      {TableFile, TableAssemblyRef, TableExportedType},
	codedCustomAttributeType: {tableNone, tableNone, TableMethodDef, TableMemberRef, tableNone},
	codedResolutionScope:     {TableModule, TableModuleRef, TableAssemblyRef, TableTypeRef},
	codedTypeOrMethodDef:     {TableTypeDef, TableMethodDef},
	codedHasCustomAttribute: {
		TableMethodDef, TableField, TableTypeRef, TableTypeDef, TableParam,
		TableInterfaceImpl, TableMemberRef, TableModule, TableDeclSecurity,
		TableProperty, TableEvent, TableStandAloneSig, TableModuleRef,
		TableTypeSpec, TableAssembly, TableAssemblyRef, TableFile,
		TableExportedType, TableManifestResource, TableGenericParam,
		TableGenericParamConstraint, TableMethodSpec,
	},
}

func codedBits(kind codedKind) uint {
	count := len(codedTables[kind])
	bits := uint(0)
	for 1<<bits < count {
		bits++
	}
	return bits
}

type columnKind int

const (
	colUint16 columnKind = iota
	colUint32
	colString
	colGUID
	colBlob
	colIndex // 1-based index into one table
	colCoded // tagged index into a coded family
)

type column struct {
	kind  columnKind
	table TableID
	coded codedKind
}

func u16() column              { return column{kind: colUint16} }
func u32() column              { return column{kind: colUint32} }
func str() column              { return column{kind: colString} }
func guid() column             { return column{kind: colGUID} }
func blob() column             { return column{kind: colBlob} }
func idx(t TableID) column     { return column{kind: colIndex, table: t} }
func coded(k codedKind) column { return column{kind: colCoded, coded: k} }

// The row layout of every table that may appear in a compressed table stream.
var schemas = map[TableID][]column{
	TableModule:                 {u16(), str(), guid(), guid(), guid()},
	TableTypeRef:                {coded(codedResolutionScope), str(), str()},
	TableTypeDef:                {u32(), str(), str(), coded(codedTypeDefOrRef), idx(TableField), idx(TableMethodDef)},
	TableFieldPtr:               {idx(TableField)},
	TableField:                  {u16(), str(), blob()},
	TableMethodPtr:              {idx(TableMethodDef)},
	TableMethodDef:              {u32(), u16(), u16(), str(), blob(), idx(TableParam)},
	TableParamPtr:               {idx(TableParam)},
	TableParam:                  {u16(), u16(), str()},
	TableInterfaceImpl:          {idx(TableTypeDef), coded(codedTypeDefOrRef)},
	TableMemberRef:              {coded(codedMemberRefParent), str(), blob()},
	TableConstant:               {u16(), coded(codedHasConstant), blob()},
	TableCustomAttribute:        {coded(codedHasCustomAttribute), coded(codedCustomAttributeType), blob()},
	TableFieldMarshal:           {coded(codedHasFieldMarshal), blob()},
	TableDeclSecurity:           {u16(), coded(codedHasDeclSecurity), blob()},
	TableClassLayout:            {u16(), u32(), idx(TableTypeDef)},
	TableFieldLayout:            {u32(), idx(TableField)},
	TableStandAloneSig:          {blob()},
	TableEventMap:               {idx(TableTypeDef), idx(TableEvent)},
	TableEventPtr:               {idx(TableEvent)},
	TableEvent:                  {u16(), str(), coded(codedTypeDefOrRef)},
	TablePropertyMap:            {idx(TableTypeDef), idx(TableProperty)},
	TablePropertyPtr:            {idx(TableProperty)},
	TableProperty:               {u16(), str(), blob()},
	TableMethodSemantics:        {u16(), idx(TableMethodDef), coded(codedHasSemantics)},
	TableMethodImpl:             {idx(TableTypeDef), coded(codedMethodDefOrRef), coded(codedMethodDefOrRef)},
	TableModuleRef:              {str()},
	TableTypeSpec:               {blob()},
	TableImplMap:                {u16(), coded(codedMemberForwarded), str(), idx(TableModuleRef)},
	TableFieldRVA:               {u32(), idx(TableField)},
	TableAssembly:               {u32(), u16(), u16(), u16(), u16(), u32(), blob(), str(), str()},
	TableAssemblyProcessor:      {u32()},
	TableAssemblyOS:             {u32(), u32(), u32()},
	TableAssemblyRef:            {u16(), u16(), u16(), u16(), u32(), blob(), str(), str(), blob()},
	TableAssemblyRefProcessor:   {u32(), idx(TableAssemblyRef)},
	TableAssemblyRefOS:          {u32(), u32(), u32(), idx(TableAssemblyRef)},
	TableFile:                   {u32(), str(), blob()},
	TableExportedType:           {u32(), u32(), str(), str(), coded(codedImplementation)},
	TableManifestResource:       {u32(), u32(), str(), coded(codedImplementation)},
	TableNestedClass:            {idx(TableTypeDef), idx(TableTypeDef)},
	TableGenericParam:           {u16(), u16(), coded(codedTypeOrMethodDef), str()},
	TableMethodSpec:             {coded(codedMethodDefOrRef), blob()},
	TableGenericParamConstraint: {idx(TableGenericParam), coded(codedTypeDefOrRef)},
}

// tables gives positioned access to the rows of the "#~" stream.
type tables struct {
	img *Image

	rowCounts [64]uint32
	offsets   [64]uint32
	rowSizes  [64]uint32

	stringWidth uint32
	guidWidth   uint32
	blobWidth   uint32
}

func newTables(img *Image) (*tables, error) {
	stream := img.tables
	if len(stream) < 24 {
		return nil, fmt.Errorf("table stream is truncated")
	}

	t := &tables{img: img, stringWidth: 2, guidWidth: 2, blobWidth: 2}

	heapSizes := stream[6]
	if heapSizes&0x01 != 0 {
		t.stringWidth = 4
	}
	if heapSizes&0x02 != 0 {
		t.guidWidth = 4
	}
	if heapSizes&0x04 != 0 {
		t.blobWidth = 4
	}

	valid := binary.LittleEndian.Uint64(stream[8:])
	pos := 24
	for i := 0; i < 64; i++ {
		if valid&(1<<uint(i)) == 0 {
			continue
		}
		if pos+4 > len(stream) {
			return nil, fmt.Errorf("table stream row counts are truncated")
		}
		t.rowCounts[i] = binary.LittleEndian.Uint32(stream[pos:])
		pos += 4
	}

	for i := 0; i < 64; i++ {
		if t.rowCounts[i] == 0 {
			continue
		}
		schema, found := schemas[TableID(i)]
		if !found {
			return nil, fmt.Errorf("image uses unsupported table %s", TableID(i))
		}
		size := uint32(0)
		for _, col := range schema {
			size += t.columnWidth(col)
		}
		t.rowSizes[i] = size
		t.offsets[i] = uint32(pos)
		pos += int(size * t.rowCounts[i])
	}
	if pos > len(stream) {
		return nil, fmt.Errorf("table rows run past end of table stream")
	}

	return t, nil
}

func (t *tables) columnWidth(col column) uint32 {
	switch col.kind {
	case colUint16:
		return 2
	case colUint32:
		return 4
	case colString:
		return t.stringWidth
	case colGUID:
		return t.guidWidth
	case colBlob:
		return t.blobWidth
	case colIndex:
		if t.rowCounts[col.table] > 0xFFFF {
			return 4
		}
		return 2
	case colCoded:
		bits := codedBits(col.coded)
		for _, member := range codedTables[col.coded] {
			if member == tableNone {
				continue
			}
			if t.rowCounts[member] > (1<<(16-bits))-1 {
				return 4
			}
		}
		return 2
	}
	return 0
}

// Len returns the number of rows in a table.
func (t *tables) Len(id TableID) uint32 {
	return t.rowCounts[id]
}

// row decodes a row into one value per column. Coded-index columns decode to
// tokens, simple-index columns to row indexes, heap columns to heap offsets.
func (t *tables) row(id TableID, index uint32) ([]uint32, error) {
	if index == 0 || index > t.rowCounts[id] {
		return nil, fmt.Errorf("%s row %d out of range (table has %d rows)", id, index, t.rowCounts[id])
	}
	schema := schemas[id]
	stream := t.img.tables
	pos := t.offsets[id] + (index-1)*t.rowSizes[id]

	values := make([]uint32, len(schema))
	for i, col := range schema {
		width := t.columnWidth(col)
		var raw uint32
		if width == 2 {
			raw = uint32(binary.LittleEndian.Uint16(stream[pos:]))
		} else {
			raw = binary.LittleEndian.Uint32(stream[pos:])
		}
		pos += width

		if col.kind == colCoded {
			bits := codedBits(col.coded)
			members := codedTables[col.coded]
			tag := raw & ((1 << bits) - 1)
			if int(tag) >= len(members) || members[tag] == tableNone {
				return nil, fmt.Errorf("%s row %d has bad coded index tag %d", id, index, tag)
			}
			raw = uint32(NewToken(members[tag], raw>>bits))
		}
		values[i] = raw
	}
	return values, nil
}

// listEnd resolves the exclusive end of a run (field list, method list, param
// list) that starts at a row's index column: the next row's start, or one past
// the target table's last row.
func (t *tables) listEnd(owner TableID, ownerIndex uint32, columnIndex int, target TableID) (uint32, error) {
	if ownerIndex < t.rowCounts[owner] {
		next, err := t.row(owner, ownerIndex+1)
		if err != nil {
			return 0, err
		}
		return next[columnIndex], nil
	}
	return t.rowCounts[target] + 1, nil
}
