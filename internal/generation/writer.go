package generation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"cil2ts/internal"
	"cil2ts/internal/graph"
	"cil2ts/internal/metadata"
)

// Writer lays rendered declaration units out on disk, one file per
// non-nested type, grouped into directories by sanitized namespace.
type Writer struct {
	root    string
	emitter *Emitter
	log     *zap.Logger
}

func NewWriter(root string, emitter *Emitter, log *zap.Logger) *Writer {
	return &Writer{root: root, emitter: emitter, log: log}
}

// UnitPath is the output file of a type relative to the root.
func UnitPath(desc *metadata.TypeDescriptor) string {
	name := internal.SanitizeIdentifier(internal.StripArity(desc.Name)) + ".ts"
	if desc.Namespace == "" {
		return name
	}
	segments := strings.Split(desc.Namespace, ".")
	for i, segment := range segments {
		segments[i] = internal.SanitizeIdentifier(segment)
	}
	return filepath.Join(filepath.Join(segments...), name)
}

// WriteAll renders every non-nested type of the graph in admission order.
// Nested types are rendered inside their enclosing type's unit.
func (w *Writer) WriteAll(g *graph.TypeGraph) error {
	for _, desc := range g.Types() {
		if desc.Enclosing != 0 {
			continue
		}
		if err := w.writeUnit(desc); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeUnit(desc *metadata.TypeDescriptor) error {
	text, err := w.emitter.Render(desc)
	if err != nil {
		return fmt.Errorf("rendering %s: %w", desc.FullName(), err)
	}

	path := filepath.Join(w.root, UnitPath(desc))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory for %s: %w", desc.FullName(), err)
	}
	// Units end with a trailing blank line.
	if err := os.WriteFile(path, []byte(text+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	w.log.Debug("wrote declaration unit",
		zap.String("type", desc.FullName()),
		zap.String("path", path))
	return nil
}
