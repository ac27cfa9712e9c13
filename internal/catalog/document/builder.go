package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/extract"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/path"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/queryable"
	"github.com/sdi-catalog/csw-indexer/internal/catalog/value"
	"github.com/sdi-catalog/csw-indexer/internal/metadata"
	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
	"github.com/sdi-catalog/csw-indexer/pkg/metrics"
)

// Builder turns one record into one Document. A Builder is safe for
// concurrent use; field extraction runs on the shared pool.
type Builder struct {
	set        *queryable.Set
	additional *queryable.Map
	pool       *extract.Pool
	logger     *slog.Logger
	metrics    *metrics.Metrics
	defaultCRS string
}

// Option configures a Builder.
type Option func(*Builder)

// WithAdditional sets the reader's additional queryables.
func WithAdditional(m *queryable.Map) Option {
	return func(b *Builder) { b.additional = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithDefaultCRS names the reference system of boxes whose record gives
// none. Blank keeps DefaultCRS.
func WithDefaultCRS(crs string) Option {
	return func(b *Builder) {
		if crs != "" {
			b.defaultCRS = crs
		}
	}
}

// NewBuilder returns a Builder over the queryable set. Path extraction runs
// on pool.
func NewBuilder(set *queryable.Set, pool *extract.Pool, opts ...Option) *Builder {
	b := &Builder{
		set:        set,
		pool:       pool,
		logger:     slog.Default().With("component", "document-builder"),
		defaultCRS: DefaultCRS,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// step is one queryable map applied to a record. Steps run in order: the
// detected standard, the Dublin Core baseline, then the reader's fields.
type step struct {
	name string
	m    *queryable.Map
}

func (b *Builder) steps(std metadata.Standard) []step {
	var steps []step
	if std != metadata.Unknown && std != metadata.DublinCore {
		if m := b.set.For(std); m != nil {
			steps = append(steps, step{name: std.String(), m: m})
		}
	}
	steps = append(steps, step{name: metadata.DublinCore.String(), m: b.set.Baseline()})
	if std != metadata.Unknown && b.additional.Len() > 0 {
		steps = append(steps, step{name: "additional", m: b.additional})
	}
	return steps
}

// Build extracts every queryable of rec. idHint is the identifier the reader
// knows the record by; it is used when the record itself yields none.
func (b *Builder) Build(ctx context.Context, rec metadata.Record, idHint string) (*Document, error) {
	std, ok := metadata.Detect(rec)
	if !ok {
		b.logger.Info("no metadata standard matched, indexing baseline fields only",
			"record_id", idHint,
			"root", rec.TypeName().Local,
		)
	}

	id := b.identifier(rec, std)
	if id == "" {
		id = strings.TrimSpace(idHint)
	}
	if id == "" {
		return nil, apperrors.Newf(apperrors.ErrUnknownIdentifier, apperrors.KindRecord,
			"%s record (root %s)", std, rec.TypeName().Local)
	}

	steps := b.steps(std)
	extracted, err := b.extract(ctx, rec, std, id, steps)
	if err != nil {
		return nil, err
	}

	doc := New(id)
	doc.Standard = std
	doc.Add(queryable.FieldID, Entry{Value: id, Stored: true})

	var anyText []string
	for si, st := range steps {
		for _, f := range st.m.Fields() {
			terms := extracted[resultKey(si, f.Name)]
			for _, t := range terms {
				doc.Add(f.Name, Entry{
					Value:    t.Text,
					Number:   t.Number,
					Numeric:  t.Numeric,
					Stored:   true,
					Analyzed: f.Type == value.HintText,
				})
				anyText = append(anyText, t.Text)
			}
		}
	}
	for _, name := range fieldNames(steps) {
		doc.Add(queryable.SortField(name), Entry{Value: sortValue(doc.Values(name)), Stored: true})
	}
	if len(anyText) > 0 {
		doc.Add(queryable.FieldAnyText, Entry{Value: strings.Join(anyText, " "), Analyzed: true})
	}

	spatiallyIndexed := false
	for si, st := range steps {
		spatiallyIndexed = b.spatial(doc, rec, std, st, si, extracted, spatiallyIndexed)
	}
	return doc, nil
}

// identifier returns the first non-blank value of the standard's identifier
// paths.
func (b *Builder) identifier(rec metadata.Record, std metadata.Standard) string {
	for _, p := range b.set.Identifiers(std) {
		if !p.AppliesTo(std) {
			continue
		}
		for _, v := range path.Resolve(p.Expr, rec) {
			terms, err := value.Normalize(v, value.HintText)
			if err != nil {
				continue
			}
			for _, t := range terms {
				if t.Text != "" {
					return t.Text
				}
			}
		}
	}
	return ""
}

func resultKey(step int, field string) string { return fmt.Sprintf("%d/%s", step, field) }

func fieldOf(key string) string {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}

// extract fans every field of every step out to the pool and gathers the
// normalized terms. A failing field is logged and left without values; a
// cancelled context or closed pool aborts the record.
func (b *Builder) extract(ctx context.Context, rec metadata.Record, std metadata.Standard, id string, steps []step) (map[string][]value.Term, error) {
	total := 0
	for _, st := range steps {
		total += st.m.Len()
	}
	g := extract.NewGroup[[]value.Term](ctx, b.pool, total)

	var submitErr error
	for si, st := range steps {
		for _, f := range st.m.Fields() {
			f := f
			if err := g.Go(resultKey(si, f.Name), func(ctx context.Context) ([]value.Term, error) {
				return extractField(rec, std, f)
			}); err != nil {
				submitErr = err
				g.Cancel()
				break
			}
		}
		if submitErr != nil {
			break
		}
	}

	results := g.Wait()
	if submitErr != nil {
		return nil, fmt.Errorf("extracting fields of %s: %w", id, submitErr)
	}

	out := make(map[string][]value.Term, len(results))
	for _, r := range results {
		if r.Err != nil {
			if aborts(r.Err) {
				return nil, fmt.Errorf("extracting fields of %s: %w", id, r.Err)
			}
			field := fieldOf(r.Key)
			b.logger.Warn("field extraction failed, indexing as no value",
				"record_id", id,
				"field", field,
				"error", r.Err,
			)
			b.metrics.FieldError(field)
			continue
		}
		out[r.Key] = r.Value
	}
	return out, nil
}

func aborts(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, extract.ErrPoolClosed)
}

// extractField resolves every applicable path of f and normalizes the union
// of their values.
func extractField(rec metadata.Record, std metadata.Standard, f queryable.Field) ([]value.Term, error) {
	var terms []value.Term
	for _, p := range f.Paths {
		if !p.AppliesTo(std) {
			continue
		}
		for _, v := range path.Resolve(p.Expr, rec) {
			ts, err := value.Normalize(v, f.Type)
			if err != nil {
				return nil, fmt.Errorf("path %s: %w", p.Expr, err)
			}
			terms = append(terms, ts...)
		}
	}
	return terms, nil
}

// fieldNames lists the queryable names of all steps, each once.
func fieldNames(steps []step) []string {
	seen := make(map[string]bool)
	var names []string
	for _, st := range steps {
		for _, f := range st.m.Fields() {
			if !seen[f.Name] {
				seen[f.Name] = true
				names = append(names, f.Name)
			}
		}
	}
	return names
}

func sortValue(values []string) string {
	if len(values) == 0 {
		return value.NoValue
	}
	return strings.Join(values, ",")
}

// spatial adds the bounding boxes found by one step unless an earlier step
// already did. It returns the updated flag.
func (b *Builder) spatial(doc *Document, rec metadata.Record, std metadata.Standard, st step, si int, extracted map[string][]value.Term, alreadySpatiallyIndexed bool) bool {
	if alreadySpatiallyIndexed {
		return true
	}
	for _, name := range []string{
		queryable.WestBoundLongitude, queryable.EastBoundLongitude,
		queryable.SouthBoundLatitude, queryable.NorthBoundLatitude,
	} {
		if _, ok := st.m.Lookup(name); !ok {
			return false
		}
	}

	west := extracted[resultKey(si, queryable.WestBoundLongitude)]
	east := extracted[resultKey(si, queryable.EastBoundLongitude)]
	south := extracted[resultKey(si, queryable.SouthBoundLatitude)]
	north := extracted[resultKey(si, queryable.NorthBoundLatitude)]

	n := min(len(west), len(east), len(south), len(north))
	crs := b.boxCRS(rec, std, st, n)
	for i := 0; i < n; i++ {
		if !west[i].Numeric || !east[i].Numeric || !south[i].Numeric || !north[i].Numeric {
			b.logger.Warn("skipping bounding box with non-numeric corner",
				"record_id", doc.ID,
				"step", st.name,
				"index", i,
			)
			continue
		}
		box := BoundingBox{
			MinX: west[i].Number,
			MaxX: east[i].Number,
			MinY: south[i].Number,
			MaxY: north[i].Number,
			CRS:  crs[i],
		}
		doc.Boxes = append(doc.Boxes, box)
		addBox(doc, box)
	}
	return len(doc.Boxes) > 0
}

// boxCRS returns the reference system of each of n boxes found by st. A CRS
// path that addresses a child of the box element itself is read box by box,
// so a box without its own crs never takes a sibling's. Any other CRS path
// names the record's reference system, whose first value applies to every
// box left without one. The builder default covers the rest.
func (b *Builder) boxCRS(rec metadata.Record, std metadata.Standard, st step, n int) []string {
	out := make([]string, n)
	f, ok := st.m.Lookup(queryable.CRS)
	if !ok {
		for i := range out {
			out[i] = b.defaultCRS
		}
		return out
	}
	west, _ := st.m.Lookup(queryable.WestBoundLongitude)

	var recordCRS string
	for _, p := range f.Paths {
		if !p.AppliesTo(std) {
			continue
		}
		if boxLevel(p, west, std) {
			for i, vals := range path.ResolveEach(p.Expr, rec) {
				if i < n && out[i] == "" {
					out[i] = firstText(vals, f.Type)
				}
			}
			continue
		}
		if recordCRS == "" {
			recordCRS = firstText(path.Resolve(p.Expr, rec), f.Type)
		}
	}
	for i := range out {
		if out[i] == "" {
			out[i] = recordCRS
		}
		if out[i] == "" {
			out[i] = b.defaultCRS
		}
	}
	return out
}

// boxLevel reports whether crs shares its parent element with one of the
// west-bound paths, which makes it an attribute of each box.
func boxLevel(crs queryable.Path, west queryable.Field, std metadata.Standard) bool {
	for _, w := range west.Paths {
		if w.AppliesTo(std) && path.SameParent(crs.Expr, w.Expr) {
			return true
		}
	}
	return false
}

func firstText(vals []value.Value, hint value.Hint) string {
	for _, v := range vals {
		terms, err := value.Normalize(v, hint)
		if err != nil {
			continue
		}
		for _, t := range terms {
			if t.Text != "" {
				return t.Text
			}
		}
	}
	return ""
}

func addBox(doc *Document, box BoundingBox) {
	for _, c := range []struct {
		name string
		v    float64
	}{
		{queryable.FieldMinX, box.MinX},
		{queryable.FieldMaxX, box.MaxX},
		{queryable.FieldMinY, box.MinY},
		{queryable.FieldMaxY, box.MaxY},
	} {
		doc.Add(c.name, Entry{Value: value.FormatNumber(c.v), Number: c.v, Numeric: true, Stored: true})
	}
	doc.Add(queryable.FieldCRS, Entry{Value: box.CRS, Stored: true})
}
