package metadata

import (
	"testing"

	"github.com/microsoft/go-winmd/flags"
)

func TestDecodeConstant(t *testing.T) {
	tests := []struct {
		name        string
		value       []byte
		elementType flags.ElementType
		want        int64
	}{
		{"int32 positive", []byte{0x2A, 0x00, 0x00, 0x00}, flags.ElementType_I4, 42},
		{"int32 negative", []byte{0xFF, 0xFF, 0xFF, 0xFF}, flags.ElementType_I4, -1},
		{"int16 negative", []byte{0x00, 0x80}, flags.ElementType_I2, -32768},
		{"int8 negative", []byte{0xFE}, flags.ElementType_I1, -2},
		{"uint8 high bit", []byte{0xFE}, flags.ElementType_U1, 254},
		{"uint32 high bit", []byte{0xFF, 0xFF, 0xFF, 0xFF}, flags.ElementType_U4, 0xFFFFFFFF},
		{"int64 negative", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, flags.ElementType_I8, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeConstant(tt.value, uint32(tt.elementType))
			if got != tt.want {
				t.Errorf("decodeConstant(% x, %v) = %d, want %d", tt.value, tt.elementType, got, tt.want)
			}
		})
	}
}

func TestIsFlagsEnumRejectsNegativeValues(t *testing.T) {
	members := []MemberDescriptor{
		{Kind: MemberField, Name: "None", EnumValue: 0, HasEnumValue: true},
		{Kind: MemberField, Name: "All", EnumValue: -1, HasEnumValue: true},
	}
	if isFlagsEnum(members) {
		t.Error("isFlagsEnum() = true for a set containing -1")
	}
}
