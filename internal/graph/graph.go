// Package graph discovers the transitive closure of types a root type needs
// declared.
package graph

import (
	"fmt"

	"go.uber.org/zap"

	"cil2ts/internal"
	"cil2ts/internal/metadata"
)

// NameCollisionError reports two distinct types whose sanitized target names
// coincide. The graph refuses the second type rather than silently merging.
type NameCollisionError struct {
	Name   string
	First  metadata.Token
	Second metadata.Token
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("types %s and %s both sanitize to %q", e.First, e.Second, e.Name)
}

// Loader supplies descriptors and reference resolution during discovery.
// *metadata.Resolver satisfies it.
type Loader interface {
	TypeDescriptor(typeDefIndex uint32) (*metadata.TypeDescriptor, error)
	ResolveTypeRefToDef(typeRefIndex uint32) (metadata.Token, bool)
	TypeSpecBlob(typeSpecIndex uint32) ([]byte, error)
	TypeName(tok metadata.Token) string
}

// TypeGraph owns the descriptors admitted during discovery, in admission
// order.
type TypeGraph struct {
	order   []*metadata.TypeDescriptor
	byToken map[metadata.Token]*metadata.TypeDescriptor
	byName  map[string]metadata.Token
}

// Types returns the admitted descriptors in admission order. Dependencies
// were visited before their dependents, so the order approximates a
// dependency order without guaranteeing one; emission does not rely on it.
func (g *TypeGraph) Types() []*metadata.TypeDescriptor {
	return g.order
}

// Lookup returns the admitted descriptor for a type token.
func (g *TypeGraph) Lookup(tok metadata.Token) (*metadata.TypeDescriptor, bool) {
	desc, found := g.byToken[tok]
	return desc, found
}

// Contains reports whether a type token was admitted.
func (g *TypeGraph) Contains(tok metadata.Token) bool {
	_, found := g.byToken[tok]
	return found
}

// unitKey is the sanitized output identity of a descriptor: two types may
// not collide on it, or their declarations would overwrite each other.
func unitKey(desc *metadata.TypeDescriptor) string {
	name := internal.SanitizeIdentifier(internal.StripArity(desc.Name))
	if desc.Namespace == "" {
		return name
	}
	return internal.SanitizeIdentifier(desc.Namespace) + "/" + name
}

// Builder performs the depth-first discovery.
type Builder struct {
	loader   Loader
	graph    *TypeGraph
	visiting map[metadata.Token]bool
	log      *zap.Logger
}

// NewBuilder prepares a builder over a descriptor loader.
func NewBuilder(loader Loader, log *zap.Logger) *Builder {
	return &Builder{
		loader: loader,
		graph: &TypeGraph{
			byToken: make(map[metadata.Token]*metadata.TypeDescriptor),
			byName:  make(map[string]metadata.Token),
		},
		visiting: make(map[metadata.Token]bool),
		log:      log,
	}
}

// Graph returns the graph built so far.
func (b *Builder) Graph() *TypeGraph {
	return b.graph
}

// Add discovers the closure of one root TypeDef token.
func (b *Builder) Add(root metadata.Token) error {
	return b.visitType(root)
}

func (b *Builder) visitType(tok metadata.Token) error {
	if tok.Table() != metadata.TableTypeDef {
		return nil
	}
	if b.visiting[tok] || b.graph.Contains(tok) {
		return nil
	}

	desc, err := b.loader.TypeDescriptor(tok.Index())
	if err != nil {
		return err
	}

	fullName := desc.FullName()
	if _, primitive := internal.PrimitiveForTypeName(fullName); primitive {
		return nil
	}
	// The universal enumeration base is a marker, never declared.
	if fullName == "System.Enum" {
		return nil
	}

	key := unitKey(desc)
	if first, taken := b.graph.byName[key]; taken && first != desc.Token {
		return &NameCollisionError{Name: key, First: first, Second: desc.Token}
	}

	b.visiting[tok] = true

	if desc.Base != nil {
		if err := b.visitNode(*desc.Base); err != nil {
			return err
		}
	}
	for _, iface := range desc.Interfaces {
		if err := b.visitNode(iface); err != nil {
			return err
		}
	}
	for i := range desc.Members {
		if err := b.visitMember(&desc.Members[i]); err != nil {
			return err
		}
	}
	for _, nested := range desc.Nested {
		if err := b.visitType(nested); err != nil {
			return err
		}
	}

	b.graph.order = append(b.graph.order, desc)
	b.graph.byToken[desc.Token] = desc
	b.graph.byName[key] = desc.Token
	b.log.Debug("admitted type", zap.String("type", fullName))
	return nil
}

func (b *Builder) visitMember(member *metadata.MemberDescriptor) error {
	switch member.Kind {
	case metadata.MemberField, metadata.MemberProperty:
		return b.visitNode(member.Type)
	case metadata.MemberMethod, metadata.MemberConstructor:
		if member.Method == nil {
			return nil
		}
		if err := b.visitNode(member.Method.Return); err != nil {
			return err
		}
		for _, param := range member.Method.Params {
			if err := b.visitNode(param); err != nil {
				return err
			}
		}
	}
	return nil
}

// visitNode unwraps a signature node down to the named types it references
// and visits each. Generic instantiations are reduced to their generic type
// definition so every instantiation shares one declaration.
func (b *Builder) visitNode(node metadata.SignatureNode) error {
	switch node.Kind {
	case metadata.SigPrimitive, metadata.SigGenericParam:
		return nil

	case metadata.SigSZArray, metadata.SigArray, metadata.SigPointer, metadata.SigByRef:
		return b.visitNode(*node.Inner)

	case metadata.SigGenericInst:
		if err := b.visitNode(*node.Def); err != nil {
			return err
		}
		for _, arg := range node.Args {
			if err := b.visitNode(arg); err != nil {
				return err
			}
		}
		return nil

	case metadata.SigNamed:
		return b.visitNamed(node.Ref)
	}
	return nil
}

func (b *Builder) visitNamed(ref metadata.Token) error {
	switch ref.Table() {
	case metadata.TableTypeDef:
		return b.visitType(ref)

	case metadata.TableTypeRef:
		def, found := b.loader.ResolveTypeRefToDef(ref.Index())
		if !found {
			// A reference into another assembly: rendered by name only,
			// never declared here.
			b.log.Debug("external type reference skipped",
				zap.String("type", b.loader.TypeName(ref)))
			return nil
		}
		return b.visitType(def)

	case metadata.TableTypeSpec:
		blob, err := b.loader.TypeSpecBlob(ref.Index())
		if err != nil {
			b.log.Warn("unresolvable type specification",
				zap.Uint32("index", ref.Index()),
				zap.Error(err))
			return nil
		}
		node, err := metadata.DecodeTypeSpecSig(blob)
		if err != nil {
			b.log.Warn("undecodable type specification",
				zap.Uint32("index", ref.Index()),
				zap.Error(err))
			return nil
		}
		return b.visitNode(node)
	}
	return nil
}
