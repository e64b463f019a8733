package il

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

// stubResolver answers token lookups from fixed maps.
type stubResolver struct {
	fields   map[uint32]string
	calls    map[uint32]CallSite
	data     map[uint32]string
	literals map[uint32]string
}

func (s *stubResolver) FieldName(token uint32) (string, bool) {
	name, found := s.fields[token]
	return name, found
}

func (s *stubResolver) CallSite(token uint32) (CallSite, bool) {
	site, found := s.calls[token]
	return site, found
}

func (s *stubResolver) StringLiteral(token uint32) (string, bool) {
	literal, found := s.literals[token]
	return literal, found
}

func (s *stubResolver) TokenLabel(token uint32) string {
	return "token"
}

func (s *stubResolver) FieldData(token uint32) (string, bool) {
	data, found := s.data[token]
	return data, found
}

func token(b uint32) []byte {
	return []byte{byte(b), byte(b >> 8), byte(b >> 16), byte(b >> 24)}
}

func TestReconstructStatements(t *testing.T) {
	res := &stubResolver{
		fields: map[uint32]string{0x04000001: "count"},
		calls: map[uint32]CallSite{
			0x06000002: {DeclaringType: "Helper", Name: "Run", ParamNames: []string{"a"}},
			0x2B000001: {DeclaringType: "Helper", Name: "Pick", TypeArgs: []string{"number"}, ParamNames: []string{"a", "b"}},
		},
		literals: map[uint32]string{0x70000010: "ready"},
	}

	tests := []struct {
		name string
		body []byte
		args []string
		want []string
	}{
		{
			name: "string load then return",
			body: append(append([]byte{0x72}, token(0x70000010)...), 0x2A),
			args: nil,
			want: []string{`return "ready";`},
		},
		{
			name: "argument load then return",
			body: []byte{0x02, 0x2A},
			args: []string{"this"},
			want: []string{"unknown = this;"},
		},
		{
			name: "setter shape",
			body: append(append([]byte{0x02, 0x03, 0x7D}, token(0x04000001)...), 0x2A),
			args: []string{"this", "value"},
			want: []string{"this.count = value;"},
		},
		{
			name: "call then return",
			body: append(append([]byte{0x28}, token(0x06000002)...), 0x2A),
			args: nil,
			want: []string{"return Helper.Run(a);"},
		},
		{
			name: "generic call then return",
			body: append(append([]byte{0x28}, token(0x2B000001)...), 0x2A),
			args: nil,
			want: []string{"return Helper.Pick<number>(a, b);"},
		},
		{
			name: "field load then return",
			body: append(append([]byte{0x02, 0x7B}, token(0x04000001)...), 0x2A),
			args: []string{"this"},
			want: []string{"this.count = this;"},
		},
		{
			name: "unresolvable call token",
			body: append(append([]byte{0x28}, token(0x06000099)...), 0x2A),
			args: nil,
			want: []string{"return unknown;"},
		},
		{
			name: "unmodeled instructions only",
			body: []byte{0x00, 0x17, 0x58, 0x26},
			args: nil,
			want: nil,
		},
		{
			name: "bare return",
			body: []byte{0x2A},
			args: nil,
			want: nil,
		},
		{
			name: "switch operand skipped",
			body: []byte{
				0x45, 0x02, 0x00, 0x00, 0x00, // two targets follow
				0x00, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x00,
				0x02, 0x2A,
			},
			args: []string{"this"},
			want: []string{"unknown = this;"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewReconstructor(tt.body, tt.args, res, zap.NewNop()).Statements()
			if err != nil {
				t.Fatalf("Statements() returned error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("statements mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReconstructTruncatedStream(t *testing.T) {
	res := &stubResolver{}
	tests := []struct {
		name string
		body []byte
	}{
		{"operand cut short", []byte{0x28, 0x01, 0x00}},
		{"dangling prefix", []byte{0x00, 0xFE}},
		{"jump table cut short", []byte{0x45, 0x04, 0x00, 0x00, 0x00, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReconstructor(tt.body, nil, res, zap.NewNop()).Statements()
			var truncated *TruncatedBytecodeError
			if !errors.As(err, &truncated) {
				t.Fatalf("Statements() error = %v, want TruncatedBytecodeError", err)
			}
		})
	}
}

func TestReconstructKeepsStatementsBeforeFault(t *testing.T) {
	res := &stubResolver{
		calls: map[uint32]CallSite{0x06000001: {Name: "Go"}},
	}
	body := append(append([]byte{0x28}, token(0x06000001)...), 0x2A, 0x28, 0x01)
	got, err := NewReconstructor(body, nil, res, zap.NewNop()).Statements()
	var truncated *TruncatedBytecodeError
	if !errors.As(err, &truncated) {
		t.Fatalf("Statements() error = %v, want TruncatedBytecodeError", err)
	}
	want := []string{"return Go();"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("statements before fault mismatch (-want +got):\n%s", diff)
	}
}

func TestReconstructUnassignedOpcodeAbandonsBody(t *testing.T) {
	res := &stubResolver{
		calls: map[uint32]CallSite{0x06000001: {Name: "Go"}},
	}
	// 0x24 is unassigned; everything after it is undecodable.
	body := append(append([]byte{0x28}, token(0x06000001)...), 0x2A, 0x24, 0x02, 0x2A)
	got, err := NewReconstructor(body, []string{"this"}, res, zap.NewNop()).Statements()
	if err != nil {
		t.Fatalf("Statements() returned error: %v", err)
	}
	want := []string{"return Go();"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("statements mismatch (-want +got):\n%s", diff)
	}
}
