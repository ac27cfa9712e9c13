// Package queryable holds the per-standard maps from searchable field names
// to the paths that feed them.
package queryable

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/path"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/value"
	"github.com/sdi-catalog/csw-indexer/internal/metadata"
	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
)

//go:embed queryables.yaml
var defaultQueryables []byte

// Path is a parsed expression and the standard its label names. Unknown
// means the path applies to every standard.
type Path struct {
	Expr     *path.Expression
	Standard metadata.Standard
}

// AppliesTo reports whether p may be evaluated against a record of std.
func (p Path) AppliesTo(std metadata.Standard) bool {
	return p.Standard == metadata.Unknown || p.Standard == std
}

// Field is one queryable.
type Field struct {
	Name  string
	Type  value.Hint
	Paths []Path
}

// Map is an ordered set of fields. Field order is the declaration order.
type Map struct {
	fields []Field
	index  map[string]int
}

// FieldSpec is the configuration form of a field.
type FieldSpec struct {
	Name  string   `yaml:"name"`
	Type  string   `yaml:"type"`
	Paths []string `yaml:"paths"`
}

// NewMap validates specs and parses every path.
func NewMap(specs []FieldSpec) (*Map, error) {
	m := &Map{index: make(map[string]int, len(specs))}
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, apperrors.Configf("queryable field without a name")
		}
		if strings.HasSuffix(name, SortSuffix) || IsReserved(name) {
			return nil, apperrors.Configf("queryable field name %q is reserved", name)
		}
		if _, dup := m.index[name]; dup {
			return nil, apperrors.Configf("duplicate queryable field %q", name)
		}
		hint, err := value.ParseHint(spec.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if len(spec.Paths) == 0 {
			return nil, apperrors.Configf("queryable field %q has no paths", name)
		}
		paths, err := parsePaths(spec.Paths)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		m.index[name] = len(m.fields)
		m.fields = append(m.fields, Field{Name: name, Type: hint, Paths: paths})
	}
	return m, nil
}

func parsePaths(raw []string) ([]Path, error) {
	paths := make([]Path, 0, len(raw))
	for _, r := range raw {
		expr, err := path.Parse(r)
		if err != nil {
			return nil, err
		}
		paths = append(paths, Path{Expr: expr, Standard: metadata.StandardForLabel(expr.Standard())})
	}
	return paths, nil
}

// Additional builds the map of extra fields contributed by a reader. Every
// additional field is text typed.
func Additional(fields map[string][]string) (*Map, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	specs := make([]FieldSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, FieldSpec{Name: name, Type: "text", Paths: fields[name]})
	}
	return NewMap(specs)
}

// Fields returns the fields in declaration order.
func (m *Map) Fields() []Field {
	if m == nil {
		return nil
	}
	return m.fields
}

// Lookup finds the field named name.
func (m *Map) Lookup(name string) (Field, bool) {
	if m == nil {
		return Field{}, false
	}
	i, ok := m.index[name]
	if !ok {
		return Field{}, false
	}
	return m.fields[i], true
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.fields)
}

// Set is the complete queryable configuration: one map per standard and the
// identifier paths for each.
type Set struct {
	maps        map[metadata.Standard]*Map
	identifiers map[metadata.Standard][]Path
}

// For returns the map of std, or nil.
func (s *Set) For(std metadata.Standard) *Map { return s.maps[std] }

// Baseline is the Dublin Core map applied to every record.
func (s *Set) Baseline() *Map { return s.maps[metadata.DublinCore] }

// Identifiers returns the paths tried, in order, to obtain a record's id.
func (s *Set) Identifiers(std metadata.Standard) []Path { return s.identifiers[std] }

// Maps returns the baseline map followed by the other standards' maps in
// detection order.
func (s *Set) Maps() []*Map {
	maps := []*Map{s.Baseline()}
	for _, std := range metadata.Standards {
		if m := s.maps[std]; m != nil && std != metadata.DublinCore {
			maps = append(maps, m)
		}
	}
	return maps
}

// Names lists every field name across all maps, each once.
func (s *Set) Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range s.Maps() {
		for _, f := range m.Fields() {
			if !seen[f.Name] {
				seen[f.Name] = true
				names = append(names, f.Name)
			}
		}
	}
	return names
}

type fileSpec struct {
	Identifiers map[string][]string    `yaml:"identifiers"`
	Standards   map[string][]FieldSpec `yaml:"standards"`
}

// Default parses the embedded queryable definitions.
func Default() (*Set, error) {
	return Parse(defaultQueryables)
}

// LoadFile reads queryable definitions from a YAML file.
func LoadFile(p string) (*Set, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, apperrors.KindConfiguration, err, "opening queryables "+p)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a queryables YAML document and compiles every path in it.
func Load(r io.Reader) (*Set, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, apperrors.KindConfiguration, err, "reading queryables")
	}
	return Parse(data)
}

// Parse decodes and validates queryable definitions.
func Parse(data []byte) (*Set, error) {
	var spec fileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfiguration, apperrors.KindConfiguration, err, "parsing queryables")
	}

	set := &Set{
		maps:        make(map[metadata.Standard]*Map),
		identifiers: make(map[metadata.Standard][]Path),
	}
	for key, fields := range spec.Standards {
		std, ok := metadata.ParseStandard(key)
		if !ok {
			return nil, apperrors.Configf("unknown standard %q in queryables", key)
		}
		m, err := NewMap(fields)
		if err != nil {
			return nil, fmt.Errorf("standard %s: %w", key, err)
		}
		set.maps[std] = m
	}
	if set.Baseline().Len() == 0 {
		return nil, apperrors.Configf("queryables define no %s fields", metadata.DublinCore)
	}

	for key, raw := range spec.Identifiers {
		std, ok := metadata.ParseStandard(key)
		if !ok {
			return nil, apperrors.Configf("unknown standard %q in identifiers", key)
		}
		paths, err := parsePaths(raw)
		if err != nil {
			return nil, fmt.Errorf("identifiers %s: %w", key, err)
		}
		set.identifiers[std] = paths
	}
	return set, nil
}
