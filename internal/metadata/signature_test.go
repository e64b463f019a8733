package metadata

import (
	"testing"

	"github.com/microsoft/go-winmd/flags"
)

func TestCompressedUint(t *testing.T) {
	tests := []struct {
		name  string
		in    []byte
		want  uint32
		wantN int
	}{
		{"one byte zero", []byte{0x00}, 0, 1},
		{"one byte max", []byte{0x7F}, 0x7F, 1},
		{"two bytes", []byte{0xAE, 0x57}, 0x2E57, 2},
		{"two bytes low", []byte{0x80, 0x80}, 0x80, 2},
		{"four bytes", []byte{0xC0, 0x00, 0x40, 0x00}, 0x4000, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := compressedUint(tt.in)
			if err != nil {
				t.Fatalf("compressedUint(%v) returned error: %v", tt.in, err)
			}
			if got != tt.want || n != tt.wantN {
				t.Errorf("compressedUint(%v) = (%#x, %d), want (%#x, %d)", tt.in, got, n, tt.want, tt.wantN)
			}
		})
	}
}

func TestCompressedUintErrors(t *testing.T) {
	for _, in := range [][]byte{nil, {0x80}, {0xC0, 0x00}, {0xFF}} {
		if _, _, err := compressedUint(in); err == nil {
			t.Errorf("compressedUint(%v) succeeded, want error", in)
		}
	}
}

func TestDecodeFieldSig(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
		want SignatureNode
	}{
		{
			name: "int32 field",
			blob: []byte{0x06, byte(flags.ElementType_I4)},
			want: SignatureNode{Kind: SigPrimitive, Element: flags.ElementType_I4},
		},
		{
			name: "string array field",
			blob: []byte{0x06, byte(flags.ElementType_SZARRAY), byte(flags.ElementType_STRING)},
			want: SignatureNode{
				Kind:  SigSZArray,
				Inner: &SignatureNode{Kind: SigPrimitive, Element: flags.ElementType_STRING},
			},
		},
		{
			name: "valuetype field",
			blob: []byte{0x06, byte(flags.ElementType_VALUETYPE), 0x08},
			want: SignatureNode{
				Kind:      SigNamed,
				Ref:       NewToken(TableTypeDef, 2),
				ValueType: true,
			},
		},
		{
			name: "class reference field",
			blob: []byte{0x06, byte(flags.ElementType_CLASS), 0x05},
			want: SignatureNode{
				Kind: SigNamed,
				Ref:  NewToken(TableTypeRef, 1),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFieldSig(tt.blob)
			if err != nil {
				t.Fatalf("DecodeFieldSig(%v) returned error: %v", tt.blob, err)
			}
			assertNodeEqual(t, got, tt.want)
		})
	}
}

func TestDecodeFieldSigRejectsOtherConventions(t *testing.T) {
	if _, err := DecodeFieldSig([]byte{0x08, byte(flags.ElementType_I4)}); err == nil {
		t.Fatal("property blob accepted as field signature")
	}
}

func TestDecodeMethodSig(t *testing.T) {
	// instance void (string)
	blob := []byte{0x20, 0x01, byte(flags.ElementType_VOID), byte(flags.ElementType_STRING)}
	sig, err := DecodeMethodSig(blob)
	if err != nil {
		t.Fatalf("DecodeMethodSig returned error: %v", err)
	}
	if !sig.HasThis {
		t.Error("HasThis = false, want true")
	}
	if sig.GenericParamCount != 0 {
		t.Errorf("GenericParamCount = %d, want 0", sig.GenericParamCount)
	}
	if sig.Return.Kind != SigPrimitive || sig.Return.Element != flags.ElementType_VOID {
		t.Errorf("Return = %+v, want void primitive", sig.Return)
	}
	if len(sig.Params) != 1 {
		t.Fatalf("len(Params) = %d, want 1", len(sig.Params))
	}
	if sig.Params[0].Element != flags.ElementType_STRING {
		t.Errorf("Params[0].Element = %v, want string", sig.Params[0].Element)
	}
}

func TestDecodeGenericMethodSig(t *testing.T) {
	// instance generic<1> void (!!0)
	blob := []byte{
		0x30, 0x01, 0x01,
		byte(flags.ElementType_VOID),
		byte(flags.ElementType_MVAR), 0x00,
	}
	sig, err := DecodeMethodSig(blob)
	if err != nil {
		t.Fatalf("DecodeMethodSig returned error: %v", err)
	}
	if sig.GenericParamCount != 1 {
		t.Errorf("GenericParamCount = %d, want 1", sig.GenericParamCount)
	}
	param := sig.Params[0]
	if param.Kind != SigGenericParam || !param.MethodScoped || param.Index != 0 {
		t.Errorf("Params[0] = %+v, want method-scoped generic parameter 0", param)
	}
}

func TestDecodeTypeSpecGenericInst(t *testing.T) {
	// class Base`1<int32> where Base`1 is TypeDef row 3
	blob := []byte{
		byte(flags.ElementType_GENERICINST),
		byte(flags.ElementType_CLASS), 0x0C,
		0x01,
		byte(flags.ElementType_I4),
	}
	node, err := DecodeTypeSpecSig(blob)
	if err != nil {
		t.Fatalf("DecodeTypeSpecSig returned error: %v", err)
	}
	if node.Kind != SigGenericInst {
		t.Fatalf("Kind = %v, want SigGenericInst", node.Kind)
	}
	if node.Def.Ref != NewToken(TableTypeDef, 3) {
		t.Errorf("Def.Ref = %v, want TypeDef[3]", node.Def.Ref)
	}
	if len(node.Args) != 1 || node.Args[0].Element != flags.ElementType_I4 {
		t.Errorf("Args = %+v, want one int32 argument", node.Args)
	}
}

func TestDecodeTypeSkipsCustomModifiers(t *testing.T) {
	// modopt(TypeRef 1) int32
	blob := []byte{
		0x06,
		byte(flags.ElementType_CMOD_OPT), 0x05,
		byte(flags.ElementType_I4),
	}
	node, err := DecodeFieldSig(blob)
	if err != nil {
		t.Fatalf("DecodeFieldSig returned error: %v", err)
	}
	if node.Kind != SigPrimitive || node.Element != flags.ElementType_I4 {
		t.Errorf("node = %+v, want int32 primitive", node)
	}
}

func TestDecodeMultiDimArray(t *testing.T) {
	// int32[,] with no explicit sizes or bounds
	blob := []byte{
		0x06,
		byte(flags.ElementType_ARRAY),
		byte(flags.ElementType_I4),
		0x02, 0x00, 0x00,
	}
	node, err := DecodeFieldSig(blob)
	if err != nil {
		t.Fatalf("DecodeFieldSig returned error: %v", err)
	}
	if node.Kind != SigArray || node.Rank != 2 {
		t.Errorf("node = %+v, want rank-2 array", node)
	}
	if node.Inner.Element != flags.ElementType_I4 {
		t.Errorf("Inner.Element = %v, want int32", node.Inner.Element)
	}
}

func TestDecodeMethodSpecSig(t *testing.T) {
	blob := []byte{0x0A, 0x02, byte(flags.ElementType_I4), byte(flags.ElementType_STRING)}
	args, err := DecodeMethodSpecSig(blob)
	if err != nil {
		t.Fatalf("DecodeMethodSpecSig returned error: %v", err)
	}
	if len(args) != 2 {
		t.Fatalf("len(args) = %d, want 2", len(args))
	}
	if args[0].Element != flags.ElementType_I4 || args[1].Element != flags.ElementType_STRING {
		t.Errorf("args = %+v, want [int32, string]", args)
	}
}

func TestDecodeTruncatedFieldSig(t *testing.T) {
	for _, blob := range [][]byte{
		{},
		{0x06},
		{0x06, byte(flags.ElementType_SZARRAY)},
		{0x06, byte(flags.ElementType_VALUETYPE)},
	} {
		if _, err := DecodeFieldSig(blob); err == nil {
			t.Errorf("DecodeFieldSig(%v) succeeded, want error", blob)
		}
	}
}

func TestDecodeTruncatedMethodSig(t *testing.T) {
	blob := []byte{0x20, 0x02, byte(flags.ElementType_VOID), byte(flags.ElementType_I4)}
	if _, err := DecodeMethodSig(blob); err == nil {
		t.Error("method signature missing a parameter decoded without error")
	}
}

// assertNodeEqual compares two signature trees structurally.
func assertNodeEqual(t *testing.T, got, want SignatureNode) {
	t.Helper()
	if got.Kind != want.Kind || got.Element != want.Element ||
		got.Ref != want.Ref || got.ValueType != want.ValueType ||
		got.Rank != want.Rank || got.Index != want.Index ||
		got.MethodScoped != want.MethodScoped {
		t.Fatalf("node = %+v, want %+v", got, want)
	}
	if (got.Inner == nil) != (want.Inner == nil) {
		t.Fatalf("Inner presence mismatch: got %+v, want %+v", got, want)
	}
	if got.Inner != nil {
		assertNodeEqual(t, *got.Inner, *want.Inner)
	}
}
