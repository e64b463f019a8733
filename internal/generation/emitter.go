// Package generation renders admitted type descriptors as target-language
// declarations and writes them under the output root.
package generation

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"cil2ts/internal"
	"cil2ts/internal/metadata"
)

// NoExplicitMembersError reports proxy synthesis requested for a type that
// declares no explicit interface members. This is a caller-side contract
// violation, not a data error, and is fatal.
type NoExplicitMembersError struct {
	Type string
}

func (e *NoExplicitMembersError) Error() string {
	return fmt.Sprintf("type %s has no explicit interface members to proxy", e.Type)
}

// Source supplies descriptors and type names during rendering.
// *metadata.Resolver satisfies it.
type Source interface {
	TypeDescriptor(typeDefIndex uint32) (*metadata.TypeDescriptor, error)
	TypeName(tok metadata.Token) string
	TypeSpecBlob(typeSpecIndex uint32) ([]byte, error)
}

// BodySource reconstructs a method body into pseudo-statements. args holds
// the argument names by load index, receiver included for instance methods.
type BodySource func(method metadata.Token, args []string) []string

// Emitter renders one declaration block per type descriptor.
type Emitter struct {
	source Source
	bodies BodySource
	log    *zap.Logger
}

// NewEmitter prepares an emitter over a descriptor source. bodies may be nil
// when method bodies are not wanted.
func NewEmitter(source Source, bodies BodySource, log *zap.Logger) *Emitter {
	return &Emitter{source: source, bodies: bodies, log: log}
}

// Render produces the full declaration unit of a type: its own block
// followed by a nested-type grouping when the type encloses others.
func (e *Emitter) Render(desc *metadata.TypeDescriptor) (string, error) {
	var b strings.Builder
	if err := e.renderBlock(&b, desc); err != nil {
		return "", err
	}
	if len(desc.Nested) > 0 {
		if err := e.renderNestedGroup(&b, desc); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func (e *Emitter) renderBlock(b *strings.Builder, desc *metadata.TypeDescriptor) error {
	switch desc.Kind {
	case metadata.KindEnum:
		e.renderEnum(b, desc)
		return nil
	case metadata.KindInterface:
		e.renderInterface(b, desc)
		return nil
	default:
		return e.renderClass(b, desc)
	}
}

// typeHeaderName renders a descriptor's declared name with its generic
// parameter list.
func typeHeaderName(desc *metadata.TypeDescriptor) string {
	name := internal.SanitizeIdentifier(internal.StripArity(desc.Name))
	if len(desc.GenericParams) == 0 {
		return name
	}
	params := make([]string, len(desc.GenericParams))
	for i, p := range desc.GenericParams {
		params[i] = internal.SanitizeIdentifier(p)
	}
	return name + "<" + strings.Join(params, ", ") + ">"
}

func (e *Emitter) renderEnum(b *strings.Builder, desc *metadata.TypeDescriptor) {
	fmt.Fprintf(b, "export enum %s {\n", typeHeaderName(desc))
	for i := range desc.Members {
		member := &desc.Members[i]
		if !member.HasEnumValue {
			continue
		}
		if desc.FlagsEnum {
			fmt.Fprintf(b, "  %s = 0x%x,\n", internal.SanitizeIdentifier(member.Name), member.EnumValue)
		} else {
			fmt.Fprintf(b, "  %s = %d,\n", internal.SanitizeIdentifier(member.Name), member.EnumValue)
		}
	}
	b.WriteString("}\n")
}

func (e *Emitter) renderInterface(b *strings.Builder, desc *metadata.TypeDescriptor) {
	fmt.Fprintf(b, "export interface %s", typeHeaderName(desc))
	if extends := e.renderRefList(desc, desc.Interfaces); extends != "" {
		b.WriteString(" extends " + extends)
	}
	b.WriteString(" {\n")
	for i := range desc.Members {
		member := &desc.Members[i]
		switch member.Kind {
		case metadata.MemberProperty, metadata.MemberField:
			fmt.Fprintf(b, "  %s: %s;\n",
				internal.SanitizeIdentifier(member.Name),
				e.renderNode(member.Type, desc, member))
		case metadata.MemberMethod:
			fmt.Fprintf(b, "  %s;\n", e.methodHead(member, desc))
		}
	}
	b.WriteString("}\n")
}

func (e *Emitter) renderClass(b *strings.Builder, desc *metadata.TypeDescriptor) error {
	fmt.Fprintf(b, "export class %s", typeHeaderName(desc))
	if desc.Base != nil {
		b.WriteString(" extends " + e.renderNode(*desc.Base, desc, nil))
	}
	if implements := e.renderRefList(desc, desc.Interfaces); implements != "" {
		b.WriteString(" implements " + implements)
	}
	b.WriteString(" {\n")

	for i := range desc.Members {
		e.renderClassMember(b, desc, &desc.Members[i])
	}

	if desc.HasExplicitMembers() {
		proxies, err := e.DispatchProxies(desc)
		if err != nil {
			return err
		}
		b.WriteString(proxies)
		e.renderPassthroughs(b, desc)
	}

	b.WriteString("}\n")
	return nil
}

func (e *Emitter) renderClassMember(b *strings.Builder, desc *metadata.TypeDescriptor, member *metadata.MemberDescriptor) {
	prefix := "  "
	switch member.Visibility {
	case metadata.VisibilityPrivate:
		prefix += "private "
	case metadata.VisibilityProtected:
		prefix += "protected "
	}
	if member.Static {
		prefix += "static "
	}

	name := internal.SanitizeIdentifier(member.Name)
	if member.ExplicitInterface != "" {
		// Explicit implementations live under a mangled private name and are
		// only reachable through the dispatch proxy.
		name = mangledName(member)
		prefix = "  private "
		if member.Static {
			prefix += "static "
		}
	}

	switch member.Kind {
	case metadata.MemberField, metadata.MemberProperty:
		if member.Kind == metadata.MemberProperty && member.HasGetter && !member.HasSetter {
			prefix += "readonly "
		}
		fmt.Fprintf(b, "%s%s: %s;\n", prefix, name, e.renderNode(member.Type, desc, member))

	case metadata.MemberConstructor:
		fmt.Fprintf(b, "  constructor(%s) {\n", e.paramList(member, desc))
		e.renderBody(b, desc, member)
		b.WriteString("  }\n")

	case metadata.MemberMethod:
		if member.Abstract {
			fmt.Fprintf(b, "%sabstract %s;\n", prefix, e.methodHeadNamed(member, desc, name))
			return
		}
		fmt.Fprintf(b, "%s%s {\n", prefix, e.methodHeadNamed(member, desc, name))
		e.renderBody(b, desc, member)
		b.WriteString("  }\n")
	}
}

// renderBody reconstructs and writes a method's pseudo-statements.
func (e *Emitter) renderBody(b *strings.Builder, desc *metadata.TypeDescriptor, member *metadata.MemberDescriptor) {
	if e.bodies == nil || member.MethodToken == 0 {
		return
	}
	args := make([]string, 0, len(member.ParamNames)+1)
	if member.Method != nil && member.Method.HasThis {
		args = append(args, "this")
	}
	for _, name := range member.ParamNames {
		args = append(args, internal.SanitizeIdentifier(name))
	}
	for _, statement := range e.bodies(member.MethodToken, args) {
		fmt.Fprintf(b, "    %s\n", statement)
	}
}

// methodHead renders "name(params): ret" for an implicitly named member.
func (e *Emitter) methodHead(member *metadata.MemberDescriptor, desc *metadata.TypeDescriptor) string {
	return e.methodHeadNamed(member, desc, internal.SanitizeIdentifier(member.Name))
}

func (e *Emitter) methodHeadNamed(member *metadata.MemberDescriptor, desc *metadata.TypeDescriptor, name string) string {
	generics := ""
	if len(member.MethodGenericParams) > 0 {
		params := make([]string, len(member.MethodGenericParams))
		for i, p := range member.MethodGenericParams {
			params[i] = internal.SanitizeIdentifier(p)
		}
		generics = "<" + strings.Join(params, ", ") + ">"
	}
	ret := "void"
	if member.Method != nil {
		ret = e.renderNode(member.Method.Return, desc, member)
	}
	return fmt.Sprintf("%s%s(%s): %s", name, generics, e.paramList(member, desc), ret)
}

func (e *Emitter) paramList(member *metadata.MemberDescriptor, desc *metadata.TypeDescriptor) string {
	if member.Method == nil {
		return ""
	}
	params := make([]string, 0, len(member.Method.Params))
	for i, param := range member.Method.Params {
		name := fmt.Sprintf("arg%d", i+1)
		if i < len(member.ParamNames) {
			name = internal.SanitizeIdentifier(member.ParamNames[i])
		}
		params = append(params, name+": "+e.renderNode(param, desc, member))
	}
	return strings.Join(params, ", ")
}

// renderRefList renders an interface reference list.
func (e *Emitter) renderRefList(desc *metadata.TypeDescriptor, refs []metadata.SignatureNode) string {
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, e.renderNode(ref, desc, nil))
	}
	return strings.Join(names, ", ")
}

// renderNode renders a signature node as target-language type syntax.
func (e *Emitter) renderNode(node metadata.SignatureNode, desc *metadata.TypeDescriptor, member *metadata.MemberDescriptor) string {
	switch node.Kind {
	case metadata.SigPrimitive:
		if name, found := internal.PrimitiveName(node.Element); found {
			return name
		}
		return "any"

	case metadata.SigNamed:
		return e.renderNamed(node.Ref, desc, member)

	case metadata.SigGenericInst:
		args := make([]string, 0, len(node.Args))
		for _, arg := range node.Args {
			args = append(args, e.renderNode(arg, desc, member))
		}
		return e.renderNode(*node.Def, desc, member) + "<" + strings.Join(args, ", ") + ">"

	case metadata.SigSZArray:
		return e.renderNode(*node.Inner, desc, member) + "[]"

	case metadata.SigArray:
		rank := int(node.Rank)
		if rank < 1 {
			rank = 1
		}
		return e.renderNode(*node.Inner, desc, member) + strings.Repeat("[]", rank)

	case metadata.SigPointer:
		return "Ptr<" + e.renderNode(*node.Inner, desc, member) + ">"

	case metadata.SigByRef:
		// By-reference parameters pass unwrapped; the call convention is
		// adjusted at the call site.
		return e.renderNode(*node.Inner, desc, member)

	case metadata.SigGenericParam:
		return e.genericParamName(node, desc, member)
	}
	return "any"
}

func (e *Emitter) renderNamed(ref metadata.Token, desc *metadata.TypeDescriptor, member *metadata.MemberDescriptor) string {
	if ref.Table() == metadata.TableTypeSpec {
		blob, err := e.source.TypeSpecBlob(ref.Index())
		if err == nil {
			if node, err := metadata.DecodeTypeSpecSig(blob); err == nil {
				return e.renderNode(node, desc, member)
			}
		}
		return internal.MissingName
	}

	full := e.source.TypeName(ref)
	if primitive, found := internal.PrimitiveForTypeName(full); found {
		return primitive
	}
	segments := strings.Split(full, ".")
	return internal.SanitizeIdentifier(internal.StripArity(segments[len(segments)-1]))
}

func (e *Emitter) genericParamName(node metadata.SignatureNode, desc *metadata.TypeDescriptor, member *metadata.MemberDescriptor) string {
	if node.MethodScoped {
		if member != nil && int(node.Index) < len(member.MethodGenericParams) {
			return internal.SanitizeIdentifier(member.MethodGenericParams[node.Index])
		}
		return fmt.Sprintf("M%d", node.Index)
	}
	if int(node.Index) < len(desc.GenericParams) {
		return internal.SanitizeIdentifier(desc.GenericParams[node.Index])
	}
	return fmt.Sprintf("T%d", node.Index)
}

// mangledName is the private name an explicit interface implementation is
// declared under.
func mangledName(member *metadata.MemberDescriptor) string {
	return "__explicit__" +
		internal.SanitizeIdentifier(internal.StripArity(member.ExplicitInterface)) +
		"_" + internal.SanitizeIdentifier(member.Name)
}

// DispatchProxies synthesizes one dispatch proxy per implemented interface
// with explicit members: a property exposing a Proxy bound to the instance
// that forwards matching names to the mangled implementations and falls
// through to default resolution for everything else.
func (e *Emitter) DispatchProxies(desc *metadata.TypeDescriptor) (string, error) {
	if !desc.HasExplicitMembers() {
		return "", &NoExplicitMembersError{Type: desc.FullName()}
	}

	// Group explicit members under the interface qualifying them, keeping
	// interface declaration order.
	var order []string
	grouped := make(map[string][]*metadata.MemberDescriptor)
	for i := range desc.Members {
		member := &desc.Members[i]
		if member.ExplicitInterface == "" {
			continue
		}
		key := internal.SanitizeIdentifier(internal.StripArity(member.ExplicitInterface))
		if _, seen := grouped[key]; !seen {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], member)
	}

	var b strings.Builder
	for _, iface := range order {
		fmt.Fprintf(&b, "  get %s(): any {\n", iface)
		b.WriteString("    return new Proxy(this, {\n")
		b.WriteString("      get: (target: any, name: string) => {\n")
		b.WriteString("        switch (name) {\n")
		for _, member := range grouped[iface] {
			if member.Kind == metadata.MemberMethod {
				fmt.Fprintf(&b, "          case %q: return target.%s.bind(target);\n",
					internal.SanitizeIdentifier(member.Name), mangledName(member))
			} else {
				fmt.Fprintf(&b, "          case %q: return target.%s;\n",
					internal.SanitizeIdentifier(member.Name), mangledName(member))
			}
		}
		b.WriteString("        }\n")
		b.WriteString("        return target[name];\n")
		b.WriteString("      },\n")
		b.WriteString("    });\n")
		b.WriteString("  }\n")
	}
	return b.String(), nil
}

// renderPassthroughs emits, for every explicit member whose plain name is
// otherwise unused on the type, a public member that rejects direct calls
// and directs callers to the proxy.
func (e *Emitter) renderPassthroughs(b *strings.Builder, desc *metadata.TypeDescriptor) {
	implicit := make(map[string]bool)
	for i := range desc.Members {
		if desc.Members[i].ExplicitInterface == "" {
			implicit[internal.SanitizeIdentifier(desc.Members[i].Name)] = true
		}
	}

	emitted := make(map[string]bool)
	for i := range desc.Members {
		member := &desc.Members[i]
		if member.ExplicitInterface == "" {
			continue
		}
		name := internal.SanitizeIdentifier(member.Name)
		if implicit[name] || emitted[name] {
			continue
		}
		emitted[name] = true

		iface := internal.SanitizeIdentifier(internal.StripArity(member.ExplicitInterface))
		if member.Kind == metadata.MemberMethod {
			fmt.Fprintf(b, "  %s(): never {\n", name)
		} else {
			fmt.Fprintf(b, "  get %s(): never {\n", name)
		}
		fmt.Fprintf(b, "    throw new Error(\"invalid call: %s is only reachable through the %s proxy\");\n",
			name, iface)
		b.WriteString("  }\n")
	}
}

// renderNestedGroup appends the nested-type grouping block: every nested
// type rendered inside a namespace keyed by the enclosing type's name.
func (e *Emitter) renderNestedGroup(b *strings.Builder, desc *metadata.TypeDescriptor) error {
	fmt.Fprintf(b, "export namespace %s {\n", internal.SanitizeIdentifier(internal.StripArity(desc.Name)))
	for _, nested := range desc.Nested {
		inner, err := e.source.TypeDescriptor(nested.Index())
		if err != nil {
			e.log.Warn("could not load nested type",
				zap.String("enclosing", desc.FullName()),
				zap.Error(err))
			continue
		}
		text, err := e.Render(inner)
		if err != nil {
			return err
		}
		b.WriteString(indent(text, "  "))
	}
	b.WriteString("}\n")
	return nil
}

func indent(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n") + "\n"
}
