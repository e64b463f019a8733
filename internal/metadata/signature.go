package metadata

import (
	"fmt"

	"github.com/microsoft/go-winmd/flags"
)

// SigKind tags the shape of one signature node.
type SigKind int

const (
	SigPrimitive SigKind = iota
	SigNamed
	SigSZArray
	SigArray
	SigPointer
	SigByRef
	SigGenericInst
	SigGenericParam
)

// SignatureNode is one node of a decoded type signature. It is a pure value:
// it carries tokens rather than names, and rendering is left entirely to the
// declaration synthesizer.
type SignatureNode struct {
	Kind SigKind

	// SigPrimitive
	Element flags.ElementType

	// SigNamed: a TypeDef, TypeRef, or TypeSpec token. ValueType records
	// whether the reference was VALUETYPE-encoded.
	Ref       Token
	ValueType bool

	// SigSZArray, SigArray, SigPointer, SigByRef
	Inner *SignatureNode
	Rank  uint32

	// SigGenericInst
	Def  *SignatureNode
	Args []SignatureNode

	// SigGenericParam
	Index        uint32
	MethodScoped bool
}

// MethodSig is a decoded method signature.
type MethodSig struct {
	HasThis           bool
	GenericParamCount uint32
	Return            SignatureNode
	Params            []SignatureNode
}

// PropertySig is a decoded property signature.
type PropertySig struct {
	HasThis bool
	Type    SignatureNode
	Params  []SignatureNode
}

// Calling-convention bits of a signature's first byte.
const (
	sigConvMask     = 0x0F
	sigConvField    = 0x06
	sigConvProperty = 0x08
	sigConvGenInst  = 0x0A
	sigGeneric      = 0x10
	sigHasThis      = 0x20
)

type sigReader struct {
	b   []byte
	pos int
}

func (r *sigReader) byte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, fmt.Errorf("signature is truncated at byte %d", r.pos)
	}
	b := r.b[r.pos]
	r.pos++
	return b, nil
}

func (r *sigReader) compressed() (uint32, error) {
	value, n, err := compressedUint(r.b[r.pos:])
	if err != nil {
		return 0, fmt.Errorf("signature is truncated at byte %d: %w", r.pos, err)
	}
	r.pos += n
	return value, nil
}

// typeDefOrRefEncoded decodes the compressed type reference used inside
// signatures: the low two bits select the table, the rest is the row index.
func (r *sigReader) typeDefOrRefEncoded() (Token, error) {
	value, err := r.compressed()
	if err != nil {
		return 0, err
	}
	var table TableID
	switch value & 0x3 {
	case 0:
		table = TableTypeDef
	case 1:
		table = TableTypeRef
	case 2:
		table = TableTypeSpec
	default:
		return 0, fmt.Errorf("bad type reference tag in signature")
	}
	return NewToken(table, value>>2), nil
}

func (r *sigReader) decodeType() (SignatureNode, error) {
	b, err := r.byte()
	if err != nil {
		return SignatureNode{}, err
	}

	switch kind := flags.ElementType(b); kind {
	case flags.ElementType_CMOD_REQD, flags.ElementType_CMOD_OPT:
		// Custom modifiers decorate the type that follows; consume and drop.
		if _, err := r.typeDefOrRefEncoded(); err != nil {
			return SignatureNode{}, err
		}
		return r.decodeType()

	case flags.ElementType_PINNED, flags.ElementType_SENTINEL:
		return r.decodeType()

	case flags.ElementType_BYREF:
		inner, err := r.decodeType()
		if err != nil {
			return SignatureNode{}, err
		}
		return SignatureNode{Kind: SigByRef, Inner: &inner}, nil

	case flags.ElementType_PTR:
		inner, err := r.decodeType()
		if err != nil {
			return SignatureNode{}, err
		}
		return SignatureNode{Kind: SigPointer, Inner: &inner}, nil

	case flags.ElementType_SZARRAY:
		inner, err := r.decodeType()
		if err != nil {
			return SignatureNode{}, err
		}
		return SignatureNode{Kind: SigSZArray, Inner: &inner}, nil

	case flags.ElementType_ARRAY:
		inner, err := r.decodeType()
		if err != nil {
			return SignatureNode{}, err
		}
		rank, err := r.compressed()
		if err != nil {
			return SignatureNode{}, err
		}
		sizeCount, err := r.compressed()
		if err != nil {
			return SignatureNode{}, err
		}
		for i := uint32(0); i < sizeCount; i++ {
			if _, err := r.compressed(); err != nil {
				return SignatureNode{}, err
			}
		}
		boundCount, err := r.compressed()
		if err != nil {
			return SignatureNode{}, err
		}
		for i := uint32(0); i < boundCount; i++ {
			if _, err := r.compressed(); err != nil {
				return SignatureNode{}, err
			}
		}
		return SignatureNode{Kind: SigArray, Inner: &inner, Rank: rank}, nil

	case flags.ElementType_VALUETYPE, flags.ElementType_CLASS:
		ref, err := r.typeDefOrRefEncoded()
		if err != nil {
			return SignatureNode{}, err
		}
		return SignatureNode{Kind: SigNamed, Ref: ref, ValueType: kind == flags.ElementType_VALUETYPE}, nil

	case flags.ElementType_GENERICINST:
		defKind, err := r.byte()
		if err != nil {
			return SignatureNode{}, err
		}
		ref, err := r.typeDefOrRefEncoded()
		if err != nil {
			return SignatureNode{}, err
		}
		def := SignatureNode{
			Kind:      SigNamed,
			Ref:       ref,
			ValueType: flags.ElementType(defKind) == flags.ElementType_VALUETYPE,
		}
		argCount, err := r.compressed()
		if err != nil {
			return SignatureNode{}, err
		}
		args := make([]SignatureNode, 0, argCount)
		for i := uint32(0); i < argCount; i++ {
			arg, err := r.decodeType()
			if err != nil {
				return SignatureNode{}, err
			}
			args = append(args, arg)
		}
		return SignatureNode{Kind: SigGenericInst, Def: &def, Args: args}, nil

	case flags.ElementType_VAR, flags.ElementType_MVAR:
		index, err := r.compressed()
		if err != nil {
			return SignatureNode{}, err
		}
		return SignatureNode{
			Kind:         SigGenericParam,
			Index:        index,
			MethodScoped: kind == flags.ElementType_MVAR,
		}, nil

	case flags.ElementType_FNPTR:
		// Function pointers carry an embedded method signature; consume it
		// and surface the whole thing as an untyped value.
		if _, err := r.decodeMethod(); err != nil {
			return SignatureNode{}, err
		}
		return SignatureNode{Kind: SigPrimitive, Element: flags.ElementType_OBJECT}, nil

	case flags.ElementType_VOID, flags.ElementType_BOOLEAN, flags.ElementType_CHAR,
		flags.ElementType_I1, flags.ElementType_U1, flags.ElementType_I2,
		flags.ElementType_U2, flags.ElementType_I4, flags.ElementType_U4,
		flags.ElementType_I8, flags.ElementType_U8, flags.ElementType_R4,
		flags.ElementType_R8, flags.ElementType_STRING, flags.ElementType_I,
		flags.ElementType_U, flags.ElementType_OBJECT, flags.ElementType_TYPEDBYREF:
		return SignatureNode{Kind: SigPrimitive, Element: kind}, nil

	default:
		return SignatureNode{}, fmt.Errorf("unknown element type 0x%02x in signature", b)
	}
}

func (r *sigReader) decodeMethod() (MethodSig, error) {
	conv, err := r.byte()
	if err != nil {
		return MethodSig{}, err
	}

	sig := MethodSig{HasThis: conv&sigHasThis != 0}
	if conv&sigGeneric != 0 {
		sig.GenericParamCount, err = r.compressed()
		if err != nil {
			return MethodSig{}, err
		}
	}

	paramCount, err := r.compressed()
	if err != nil {
		return MethodSig{}, err
	}
	sig.Return, err = r.decodeType()
	if err != nil {
		return MethodSig{}, err
	}

	sig.Params = make([]SignatureNode, 0, paramCount)
	for i := uint32(0); i < paramCount; i++ {
		param, err := r.decodeType()
		if err != nil {
			return MethodSig{}, err
		}
		sig.Params = append(sig.Params, param)
	}
	return sig, nil
}

// DecodeFieldSig decodes a field signature blob into its type.
func DecodeFieldSig(blob []byte) (SignatureNode, error) {
	r := &sigReader{b: blob}
	conv, err := r.byte()
	if err != nil {
		return SignatureNode{}, err
	}
	if conv&sigConvMask != sigConvField {
		return SignatureNode{}, fmt.Errorf("blob is not a field signature (convention 0x%x)", conv)
	}
	return r.decodeType()
}

// DecodeMethodSig decodes a method definition or reference signature blob.
func DecodeMethodSig(blob []byte) (MethodSig, error) {
	r := &sigReader{b: blob}
	return r.decodeMethod()
}

// DecodePropertySig decodes a property signature blob.
func DecodePropertySig(blob []byte) (PropertySig, error) {
	r := &sigReader{b: blob}
	conv, err := r.byte()
	if err != nil {
		return PropertySig{}, err
	}
	if conv&sigConvMask != sigConvProperty {
		return PropertySig{}, fmt.Errorf("blob is not a property signature (convention 0x%x)", conv)
	}

	sig := PropertySig{HasThis: conv&sigHasThis != 0}
	paramCount, err := r.compressed()
	if err != nil {
		return PropertySig{}, err
	}
	sig.Type, err = r.decodeType()
	if err != nil {
		return PropertySig{}, err
	}
	for i := uint32(0); i < paramCount; i++ {
		param, err := r.decodeType()
		if err != nil {
			return PropertySig{}, err
		}
		sig.Params = append(sig.Params, param)
	}
	return sig, nil
}

// DecodeTypeSpecSig decodes a TypeSpec signature blob.
func DecodeTypeSpecSig(blob []byte) (SignatureNode, error) {
	r := &sigReader{b: blob}
	return r.decodeType()
}

// DecodeMethodSpecSig decodes a generic method instantiation blob into its
// ordered type arguments.
func DecodeMethodSpecSig(blob []byte) ([]SignatureNode, error) {
	r := &sigReader{b: blob}
	conv, err := r.byte()
	if err != nil {
		return nil, err
	}
	if conv&sigConvMask != sigConvGenInst {
		return nil, fmt.Errorf("blob is not a method instantiation (convention 0x%x)", conv)
	}
	argCount, err := r.compressed()
	if err != nil {
		return nil, err
	}
	args := make([]SignatureNode, 0, argCount)
	for i := uint32(0); i < argCount; i++ {
		arg, err := r.decodeType()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}
