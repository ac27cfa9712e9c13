// Package consumer applies catalog change events from Kafka to the index.
package consumer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sdi-catalog/csw-indexer/internal/indexer"
	"github.com/sdi-catalog/csw-indexer/internal/metadata"
	"github.com/sdi-catalog/csw-indexer/internal/metadata/reader"
	apperrors "github.com/sdi-catalog/csw-indexer/pkg/errors"
	"github.com/sdi-catalog/csw-indexer/pkg/kafka"
	"github.com/sdi-catalog/csw-indexer/pkg/metrics"
)

// Target is the part of *indexer.Indexer the consumer drives.
type Target interface {
	IndexByID(ctx context.Context, id string) error
	UpdateDocument(ctx context.Context, rec metadata.Record) (string, error)
	RemoveDocument(ctx context.Context, id string) error
	TryCreateIndex(ctx context.Context) (indexer.Stats, error)
}

// IndexConsumer wraps a Kafka consumer to drive incremental indexing.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// Applier turns change events into index operations.
type Applier struct {
	target  Target
	mode    reader.Mode
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewApplier returns an Applier. mode decodes records carried inline.
func NewApplier(target Target, mode reader.Mode, m *metrics.Metrics) *Applier {
	return &Applier{
		target:  target,
		mode:    mode,
		metrics: m,
		logger:  slog.Default().With("component", "index-consumer"),
	}
}

// Handler returns the Kafka MessageHandler for the record-changes topic.
func (a *Applier) Handler() kafka.MessageHandler {
	return kafka.JSONHandler(a.logger, a.Apply)
}

// Apply handles one event. Invalid events and records that can never be
// indexed are logged and dropped; only failures a retry could fix are
// returned, which leaves the message uncommitted.
func (a *Applier) Apply(ctx context.Context, key string, ev ChangeEvent) error {
	if err := ev.Validate(); err != nil {
		a.logger.Warn("dropping invalid change event", "key", key, "error", err)
		a.count(ev.Action, "invalid")
		return nil
	}
	log := a.logger.With("action", string(ev.Action), "record_id", ev.RecordID)

	var err error
	switch ev.Action {
	case ActionUpsert:
		err = a.upsert(ctx, ev)
		if apperrors.Is(err, apperrors.ErrRecordNotFound) {
			log.Info("record no longer exists, removing it from the index")
			err = a.target.RemoveDocument(ctx, strings.TrimSpace(ev.RecordID))
		}
	case ActionDelete:
		err = a.target.RemoveDocument(ctx, strings.TrimSpace(ev.RecordID))
	case ActionRebuild:
		var stats indexer.Stats
		stats, err = a.target.TryCreateIndex(ctx)
		if apperrors.Is(err, apperrors.ErrRebuildInProgress) {
			log.Info("rebuild already running, request ignored")
			a.count(ev.Action, "skipped")
			return nil
		}
		if err == nil {
			log.Info("rebuild requested by change event completed", "run_id", stats.RunID)
		}
	}

	switch {
	case err == nil:
		log.Debug("change event applied")
		a.count(ev.Action, "applied")
		return nil
	case apperrors.KindOf(err) == apperrors.KindRecord && !indexer.Transient(err):
		log.Warn("dropping change event for unindexable record", "error", err)
		a.count(ev.Action, "dropped")
		return nil
	default:
		a.count(ev.Action, "error")
		return err
	}
}

func (a *Applier) upsert(ctx context.Context, ev ChangeEvent) error {
	if ev.Record == "" {
		return a.target.IndexByID(ctx, strings.TrimSpace(ev.RecordID))
	}
	rec, err := reader.Decode([]byte(ev.Record), a.mode)
	if err != nil {
		return err
	}
	_, err = a.target.UpdateDocument(ctx, rec)
	return err
}

func (a *Applier) count(action Action, status string) {
	if a.metrics == nil {
		return
	}
	a.metrics.ChangeEventsTotal.WithLabelValues(string(action), status).Inc()
}
