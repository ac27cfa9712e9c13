package indexer

import (
	"path/filepath"

	"github.com/sdi-catalog/csw-indexer/internal/catalog/queryable"
	"github.com/sdi-catalog/csw-indexer/internal/engine"
	"github.com/sdi-catalog/csw-indexer/internal/engine/bleveidx"
	"github.com/sdi-catalog/csw-indexer/internal/engine/segmented"
	"github.com/sdi-catalog/csw-indexer/pkg/config"
	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
	"github.com/sdi-catalog/csw-indexer/pkg/metrics"
)

// NewEngine builds the configured index engine. Each engine keeps its files
// in its own directory under cfg.Location so switching engines never reads
// the other's data. Nothing is opened yet.
func NewEngine(cfg config.IndexConfig, set *queryable.Set, additional *queryable.Map, m *metrics.Metrics) (engine.Engine, error) {
	switch cfg.Engine {
	case "segmented":
		return segmented.New(segmented.Config{
			Dir:            filepath.Join(cfg.Location, "segmented"),
			SegmentMaxSize: cfg.SegmentMaxSize,
			FlushInterval:  cfg.FlushInterval,
			MaxSegments:    cfg.MaxSegmentsBeforeMerge,
		}, segmented.WithMetrics(m)), nil
	case "bleve":
		maps := set.Maps()
		if additional.Len() > 0 {
			maps = append(maps, additional)
		}
		return bleveidx.New(filepath.Join(cfg.Location, "bleve"), maps...), nil
	}
	return nil, apperrors.Configf("unsupported index engine %q", cfg.Engine)
}
