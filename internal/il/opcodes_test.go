package il

import "testing"

func TestOpcodeTableEntries(t *testing.T) {
	one, two := OpcodeTables()

	tests := []struct {
		page    string
		code    byte
		name    string
		operand OperandKind
	}{
		{"one", 0x00, "nop", OperandNone},
		{"one", 0x02, "ldarg.0", OperandNone},
		{"one", 0x0E, "ldarg.s", OperandUint8},
		{"one", 0x20, "ldc.i4", OperandInt32},
		{"one", 0x21, "ldc.i8", OperandInt64},
		{"one", 0x28, "call", OperandMethodToken},
		{"one", 0x2A, "ret", OperandNone},
		{"one", 0x2B, "br.s", OperandBranch8},
		{"one", 0x38, "br", OperandBranch32},
		{"one", 0x45, "switch", OperandSwitch},
		{"one", 0x6F, "callvirt", OperandMethodToken},
		{"one", 0x72, "ldstr", OperandStringToken},
		{"one", 0x73, "newobj", OperandMethodToken},
		{"one", 0x7B, "ldfld", OperandFieldToken},
		{"one", 0x7D, "stfld", OperandFieldToken},
		{"one", 0x8D, "newarr", OperandTypeToken},
		{"one", 0xD0, "ldtoken", OperandAnyToken},
		{"two", 0x00, "arglist", OperandNone},
		{"two", 0x06, "ldftn", OperandMethodToken},
		{"two", 0x09, "ldarg", OperandUint16},
		{"two", 0x15, "initobj", OperandTypeToken},
		{"two", 0x1C, "sizeof", OperandTypeToken},
	}
	for _, tt := range tests {
		var got Opcode
		if tt.page == "one" {
			got = one[tt.code]
		} else {
			got = two[tt.code]
		}
		if got.Name != tt.name || got.Operand != tt.operand {
			t.Errorf("%s[0x%02x] = {%q, %d}, want {%q, %d}",
				tt.page, tt.code, got.Name, got.Operand, tt.name, tt.operand)
		}
	}
}

func TestPrefixSlotIsUnassigned(t *testing.T) {
	one, _ := OpcodeTables()
	if one[prefixByte].Valid() {
		t.Errorf("one[0x%02x] = %q, the prefix byte must not carry an opcode", prefixByte, one[prefixByte].Name)
	}
}

func TestOpcodePagesAreDisjoint(t *testing.T) {
	one, two := OpcodeTables()
	if len(one) != 256 || len(two) != 256 {
		t.Fatalf("pages hold %d and %d slots, want 256 each", len(one), len(two))
	}
	assigned := make(map[string]bool)
	for code := 0; code < 256; code++ {
		if one[code].Valid() {
			assigned[one[code].Name] = true
		}
	}
	for code := 0; code < 256; code++ {
		if two[code].Valid() && assigned[two[code].Name] {
			t.Errorf("mnemonic %q is assigned on both pages", two[code].Name)
		}
	}
}

func TestOperandWidths(t *testing.T) {
	tests := []struct {
		kind OperandKind
		want int
	}{
		{OperandNone, 0},
		{OperandInt8, 1},
		{OperandUint8, 1},
		{OperandBranch8, 1},
		{OperandUint16, 2},
		{OperandInt32, 4},
		{OperandFloat32, 4},
		{OperandBranch32, 4},
		{OperandFieldToken, 4},
		{OperandMethodToken, 4},
		{OperandTypeToken, 4},
		{OperandStringToken, 4},
		{OperandSigToken, 4},
		{OperandAnyToken, 4},
		{OperandSwitch, 4},
		{OperandInt64, 8},
		{OperandFloat64, 8},
	}
	for _, tt := range tests {
		if got := tt.kind.width(); got != tt.want {
			t.Errorf("width(%d) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestEveryAssignedOpcodeHasBoundedWidth(t *testing.T) {
	one, two := OpcodeTables()
	for code := 0; code < 256; code++ {
		for page, table := range map[string]*[256]Opcode{"one": one, "two": two} {
			op := table[code]
			if !op.Valid() {
				continue
			}
			if w := op.Operand.width(); w < 0 || w > 8 {
				t.Errorf("%s[0x%02x] %s has operand width %d", page, code, op.Name, w)
			}
			if op.Operand.isToken() && op.Operand.width() != 4 {
				t.Errorf("%s[0x%02x] %s carries a token that is not 4 bytes", page, code, op.Name)
			}
		}
	}
}
