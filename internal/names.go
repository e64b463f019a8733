package internal

import "strings"

// ECMA-335 allows identifier characters that JavaScript does not. Each entry
// maps one offending character to its replacement; '@' is stripped entirely.
var identifierReplacer = strings.NewReplacer(
	"<", "_",
	">", "_",
	".", "_",
	" ", "_",
	"|", "_",
	",", "_",
	"@", "",
)

// Words reserved by the target language. An identifier matching one of these
// gets a trailing underscore so the emitted declaration stays parseable.
var reservedWords = map[string]bool{
	"break": true, "case": true, "catch": true, "class": true, "const": true,
	"continue": true, "debugger": true, "default": true, "delete": true,
	"do": true, "else": true, "enum": true, "export": true, "extends": true,
	"false": true, "finally": true, "for": true, "function": true, "if": true,
	"import": true, "in": true, "instanceof": true, "new": true, "null": true,
	"return": true, "super": true, "switch": true, "this": true, "throw": true,
	"true": true, "try": true, "typeof": true, "var": true, "void": true,
	"while": true, "with": true, "yield": true, "let": true, "static": true,
	"implements": true, "interface": true, "package": true, "private": true,
	"protected": true, "public": true,
}

// MissingName is substituted when a metadata row has no resolvable name at all.
const MissingName = "_"

// SanitizeIdentifier rewrites a metadata name into a valid target identifier.
// The rewrite is idempotent: sanitizing an already-sanitized name is a no-op.
func SanitizeIdentifier(name string) string {
	if name == "" {
		return "_null_"
	}
	sanitized := identifierReplacer.Replace(name)
	if reservedWords[sanitized] {
		sanitized += "_"
	}
	return sanitized
}

// StripArity removes the "`N" arity suffix carried by generic type
// definitions ("List`1" -> "List").
func StripArity(name string) string {
	if i := strings.IndexByte(name, '`'); i >= 0 {
		return name[:i]
	}
	return name
}
