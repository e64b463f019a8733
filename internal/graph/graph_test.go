package graph

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/microsoft/go-winmd/flags"
	"go.uber.org/zap"

	"cil2ts/internal/metadata"
)

// stubLoader serves descriptors from fixed maps.
type stubLoader struct {
	defs  map[uint32]*metadata.TypeDescriptor
	refs  map[uint32]metadata.Token
	specs map[uint32][]byte
}

func (s *stubLoader) TypeDescriptor(index uint32) (*metadata.TypeDescriptor, error) {
	if desc, found := s.defs[index]; found {
		return desc, nil
	}
	return nil, fmt.Errorf("no type definition at row %d", index)
}

func (s *stubLoader) ResolveTypeRefToDef(index uint32) (metadata.Token, bool) {
	tok, found := s.refs[index]
	return tok, found
}

func (s *stubLoader) TypeSpecBlob(index uint32) ([]byte, error) {
	if blob, found := s.specs[index]; found {
		return blob, nil
	}
	return nil, fmt.Errorf("no type specification at row %d", index)
}

func (s *stubLoader) TypeName(tok metadata.Token) string {
	return "External.Thing"
}

func defToken(index uint32) metadata.Token {
	return metadata.NewToken(metadata.TableTypeDef, index)
}

func namedNode(tok metadata.Token) metadata.SignatureNode {
	return metadata.SignatureNode{Kind: metadata.SigNamed, Ref: tok}
}

func fieldOf(node metadata.SignatureNode) metadata.MemberDescriptor {
	return metadata.MemberDescriptor{Kind: metadata.MemberField, Name: "f", Type: node}
}

func classDef(index uint32, namespace, name string, members ...metadata.MemberDescriptor) *metadata.TypeDescriptor {
	return &metadata.TypeDescriptor{
		Token:     defToken(index),
		Name:      name,
		Namespace: namespace,
		Kind:      metadata.KindClass,
		Members:   members,
	}
}

func admittedNames(g *TypeGraph) []string {
	var names []string
	for _, desc := range g.Types() {
		names = append(names, desc.FullName())
	}
	return names
}

func TestBuilderCollectsClosure(t *testing.T) {
	loader := &stubLoader{
		defs: map[uint32]*metadata.TypeDescriptor{
			1: classDef(1, "App", "Widget",
				fieldOf(namedNode(defToken(2))),
				fieldOf(namedNode(defToken(2)))),
			2: classDef(2, "App", "Part"),
		},
	}
	b := NewBuilder(loader, zap.NewNop())
	if err := b.Add(defToken(1)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	want := []string{"App.Part", "App.Widget"}
	if diff := cmp.Diff(want, admittedNames(b.Graph())); diff != "" {
		t.Errorf("admitted types mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilderSkipsBuiltInsAndExternals(t *testing.T) {
	loader := &stubLoader{
		defs: map[uint32]*metadata.TypeDescriptor{
			1: classDef(1, "App", "Widget",
				fieldOf(namedNode(defToken(2))),
				fieldOf(namedNode(metadata.NewToken(metadata.TableTypeRef, 9))),
				fieldOf(metadata.SignatureNode{Kind: metadata.SigPrimitive, Element: flags.ElementType_I4})),
			2: classDef(2, "System", "String"),
		},
	}
	b := NewBuilder(loader, zap.NewNop())
	if err := b.Add(defToken(1)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	want := []string{"App.Widget"}
	if diff := cmp.Diff(want, admittedNames(b.Graph())); diff != "" {
		t.Errorf("admitted types mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilderReducesGenericInstantiations(t *testing.T) {
	inst := metadata.SignatureNode{
		Kind: metadata.SigGenericInst,
		Def:  &metadata.SignatureNode{Kind: metadata.SigNamed, Ref: defToken(2)},
		Args: []metadata.SignatureNode{
			{Kind: metadata.SigPrimitive, Element: flags.ElementType_I4},
		},
	}
	loader := &stubLoader{
		defs: map[uint32]*metadata.TypeDescriptor{
			1: classDef(1, "App", "Widget", fieldOf(inst)),
			2: {
				Token:         defToken(2),
				Name:          "Base`1",
				Namespace:     "App",
				Kind:          metadata.KindClass,
				GenericParams: []string{"T"},
			},
		},
	}
	b := NewBuilder(loader, zap.NewNop())
	if err := b.Add(defToken(1)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	want := []string{"App.Base`1", "App.Widget"}
	if diff := cmp.Diff(want, admittedNames(b.Graph())); diff != "" {
		t.Errorf("admitted types mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilderFollowsTypeRefsIntoSameImage(t *testing.T) {
	loader := &stubLoader{
		defs: map[uint32]*metadata.TypeDescriptor{
			1: classDef(1, "App", "Widget",
				fieldOf(namedNode(metadata.NewToken(metadata.TableTypeRef, 4)))),
			2: classDef(2, "App", "Part"),
		},
		refs: map[uint32]metadata.Token{4: defToken(2)},
	}
	b := NewBuilder(loader, zap.NewNop())
	if err := b.Add(defToken(1)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if !b.Graph().Contains(defToken(2)) {
		t.Error("type behind a same-image reference was not admitted")
	}
}

func TestBuilderSurvivesCycles(t *testing.T) {
	loader := &stubLoader{
		defs: map[uint32]*metadata.TypeDescriptor{
			1: classDef(1, "App", "Node", fieldOf(namedNode(defToken(2)))),
			2: classDef(2, "App", "Edge", fieldOf(namedNode(defToken(1)))),
		},
	}
	b := NewBuilder(loader, zap.NewNop())
	if err := b.Add(defToken(1)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	want := []string{"App.Edge", "App.Node"}
	if diff := cmp.Diff(want, admittedNames(b.Graph())); diff != "" {
		t.Errorf("admitted types mismatch (-want +got):\n%s", diff)
	}
}

func TestBuilderRejectsNameCollisions(t *testing.T) {
	loader := &stubLoader{
		defs: map[uint32]*metadata.TypeDescriptor{
			1: {Token: defToken(1), Name: "List`1", Namespace: "App", Kind: metadata.KindClass},
			2: {Token: defToken(2), Name: "List`2", Namespace: "App", Kind: metadata.KindClass},
		},
	}
	b := NewBuilder(loader, zap.NewNop())
	if err := b.Add(defToken(1)); err != nil {
		t.Fatalf("first Add returned error: %v", err)
	}

	err := b.Add(defToken(2))
	var collision *NameCollisionError
	if !errors.As(err, &collision) {
		t.Fatalf("second Add error = %v, want NameCollisionError", err)
	}
	if collision.Name != "App/List" {
		t.Errorf("collision name = %q, want %q", collision.Name, "App/List")
	}
}

func TestBuilderVisitsTypeSpecInterfaces(t *testing.T) {
	// interface reference encoded as a specification blob: Base`1<int32>
	// with Base`1 at TypeDef row 2.
	blob := []byte{
		byte(flags.ElementType_GENERICINST),
		byte(flags.ElementType_CLASS), 0x08,
		0x01,
		byte(flags.ElementType_I4),
	}
	loader := &stubLoader{
		defs: map[uint32]*metadata.TypeDescriptor{
			1: {
				Token:     defToken(1),
				Name:      "Widget",
				Namespace: "App",
				Kind:      metadata.KindClass,
				Interfaces: []metadata.SignatureNode{
					namedNode(metadata.NewToken(metadata.TableTypeSpec, 6)),
				},
			},
			2: {
				Token:         defToken(2),
				Name:          "Base`1",
				Namespace:     "App",
				Kind:          metadata.KindInterface,
				GenericParams: []string{"T"},
			},
		},
		specs: map[uint32][]byte{6: blob},
	}
	b := NewBuilder(loader, zap.NewNop())
	if err := b.Add(defToken(1)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if !b.Graph().Contains(defToken(2)) {
		t.Error("generic interface definition behind a specification was not admitted")
	}
}
