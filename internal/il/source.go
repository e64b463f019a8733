package il

import (
	"encoding/binary"
	"fmt"
	"strings"

	"cil2ts/internal"
	"cil2ts/internal/metadata"
)

// MetadataSource adapts a metadata resolver to the TokenResolver interface.
type MetadataSource struct {
	res *metadata.Resolver
}

// NewMetadataSource binds a resolver for token lookups during reconstruction.
func NewMetadataSource(res *metadata.Resolver) *MetadataSource {
	return &MetadataSource{res: res}
}

// FieldName resolves a Field or MemberRef token to a sanitized field name.
func (s *MetadataSource) FieldName(token uint32) (string, bool) {
	tok := metadata.Token(token)
	if _, err := s.res.ResolveToken(tok); err != nil {
		return "", false
	}
	switch tok.Table() {
	case metadata.TableField:
		row, err := s.res.Field(tok.Index())
		if err != nil {
			return "", false
		}
		return internal.SanitizeIdentifier(row.Name), true
	case metadata.TableMemberRef:
		row, err := s.res.MemberRef(tok.Index())
		if err != nil {
			return "", false
		}
		return internal.SanitizeIdentifier(row.Name), true
	}
	return "", false
}

// CallSite resolves a MethodDef, MemberRef, or MethodSpec token to its callee
// description.
func (s *MetadataSource) CallSite(token uint32) (CallSite, bool) {
	tok := metadata.Token(token)
	if _, err := s.res.ResolveToken(tok); err != nil {
		return CallSite{}, false
	}

	switch tok.Table() {
	case metadata.TableMethodDef:
		return s.methodDefCallSite(tok.Index())

	case metadata.TableMemberRef:
		row, err := s.res.MemberRef(tok.Index())
		if err != nil {
			return CallSite{}, false
		}
		sig, err := metadata.DecodeMethodSig(row.Signature)
		if err != nil {
			return CallSite{}, false
		}
		site := CallSite{
			DeclaringType: s.declaringName(row.Class),
			Name:          internal.SanitizeIdentifier(row.Name),
		}
		for i := range sig.Params {
			site.ParamNames = append(site.ParamNames, fmt.Sprintf("arg%d", i+1))
		}
		return site, true

	case metadata.TableMethodSpec:
		row, err := s.res.MethodSpec(tok.Index())
		if err != nil {
			return CallSite{}, false
		}
		site, found := s.CallSite(uint32(row.Method))
		if !found {
			return CallSite{}, false
		}
		args, err := metadata.DecodeMethodSpecSig(row.Instantiation)
		if err != nil {
			return CallSite{}, false
		}
		site.TypeArgs = site.TypeArgs[:0]
		for _, arg := range args {
			site.TypeArgs = append(site.TypeArgs, s.typeArgName(arg))
		}
		return site, true
	}
	return CallSite{}, false
}

func (s *MetadataSource) methodDefCallSite(index uint32) (CallSite, bool) {
	row, err := s.res.MethodDef(index)
	if err != nil {
		return CallSite{}, false
	}
	sig, err := metadata.DecodeMethodSig(row.Signature)
	if err != nil {
		return CallSite{}, false
	}

	site := CallSite{Name: internal.SanitizeIdentifier(row.Name)}
	if declaring, found := s.res.DeclaringTypeOf(metadata.NewToken(metadata.TableMethodDef, index)); found {
		site.DeclaringType = internal.SanitizeIdentifier(internal.StripArity(declaring.Name))
	}

	names := make([]string, len(sig.Params))
	for i := row.ParamStart; i < row.ParamEnd; i++ {
		param, err := s.res.Param(i)
		if err != nil {
			break
		}
		if param.Sequence == 0 || int(param.Sequence) > len(names) {
			continue
		}
		names[param.Sequence-1] = internal.SanitizeIdentifier(param.Name)
	}
	for i, name := range names {
		if name == "" {
			names[i] = fmt.Sprintf("arg%d", i+1)
		}
	}
	site.ParamNames = names
	return site, true
}

// declaringName renders a MemberRef parent token as a type name.
func (s *MetadataSource) declaringName(class metadata.Token) string {
	switch class.Table() {
	case metadata.TableTypeDef, metadata.TableTypeRef:
		return s.simpleTypeName(class)
	case metadata.TableTypeSpec:
		blob, err := s.res.TypeSpecBlob(class.Index())
		if err != nil {
			return unresolvedName
		}
		node, err := metadata.DecodeTypeSpecSig(blob)
		if err != nil {
			return unresolvedName
		}
		return s.typeArgName(node)
	}
	return unresolvedName
}

func (s *MetadataSource) simpleTypeName(tok metadata.Token) string {
	full := s.res.TypeName(tok)
	if full == unresolvedName {
		return unresolvedName
	}
	segments := strings.Split(full, ".")
	return internal.SanitizeIdentifier(internal.StripArity(segments[len(segments)-1]))
}

// typeArgName renders a signature node as a short type-argument name.
func (s *MetadataSource) typeArgName(node metadata.SignatureNode) string {
	switch node.Kind {
	case metadata.SigPrimitive:
		if name, found := internal.PrimitiveName(node.Element); found {
			return name
		}
	case metadata.SigNamed:
		return s.simpleTypeName(node.Ref)
	case metadata.SigGenericInst:
		args := make([]string, 0, len(node.Args))
		for _, arg := range node.Args {
			args = append(args, s.typeArgName(arg))
		}
		return s.typeArgName(*node.Def) + "<" + strings.Join(args, ", ") + ">"
	case metadata.SigSZArray, metadata.SigArray:
		return s.typeArgName(*node.Inner) + "[]"
	case metadata.SigPointer, metadata.SigByRef:
		return s.typeArgName(*node.Inner)
	case metadata.SigGenericParam:
		return fmt.Sprintf("T%d", node.Index)
	}
	return unresolvedName
}

// The token table selecting the "#US" heap rather than a metadata table.
const userStringTable = 0x70

// StringLiteral resolves a string-load token against the user-string heap.
func (s *MetadataSource) StringLiteral(token uint32) (string, bool) {
	tok := metadata.Token(token)
	if uint8(tok.Table()) != userStringTable {
		return "", false
	}
	return s.res.UserString(tok.Index())
}

// TokenLabel names an arbitrary resolvable token, best effort.
func (s *MetadataSource) TokenLabel(token uint32) string {
	tok := metadata.Token(token)
	if _, err := s.res.ResolveToken(tok); err != nil {
		return unresolvedName
	}
	switch tok.Table() {
	case metadata.TableTypeDef, metadata.TableTypeRef:
		return s.simpleTypeName(tok)
	case metadata.TableField:
		if row, err := s.res.Field(tok.Index()); err == nil {
			return internal.SanitizeIdentifier(row.Name)
		}
	case metadata.TableMethodDef:
		if row, err := s.res.MethodDef(tok.Index()); err == nil {
			return internal.SanitizeIdentifier(row.Name)
		}
	case metadata.TableMemberRef:
		if row, err := s.res.MemberRef(tok.Index()); err == nil {
			return internal.SanitizeIdentifier(row.Name)
		}
	}
	return unresolvedName
}

// FieldData reads a field token's static initial value, rendering it as a
// decimal literal.
func (s *MetadataSource) FieldData(token uint32) (string, bool) {
	tok := metadata.Token(token)
	if tok.Table() != metadata.TableField {
		return "", false
	}
	data, found := s.res.FieldInitialValue(tok.Index())
	if !found {
		return "", false
	}
	var buf [8]byte
	copy(buf[:], data)
	return fmt.Sprintf("%d", binary.LittleEndian.Uint64(buf[:])), true
}
