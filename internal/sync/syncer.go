package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mschirtzinger/nvd-cache/internal/cacheerr"
	"github.com/mschirtzinger/nvd-cache/internal/feed"
	"github.com/mschirtzinger/nvd-cache/internal/logging"
	"github.com/mschirtzinger/nvd-cache/internal/metrics"
	"go.uber.org/zap"
)

// syncer implements the Syncer interface.
type syncer struct {
	store    Store
	source   feed.Source
	cfg      Config
	progress Progress
	logger   *zap.Logger
	now      func() time.Time
}

// Option customises a Syncer.
type Option func(*syncer)

// WithProgress sets the receiver of progress events.
func WithProgress(p Progress) Option {
	return func(s *syncer) {
		if p != nil {
			s.progress = p
		}
	}
}

// WithLogger overrides the module logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now, used for run durations.
func WithClock(now func() time.Time) Option {
	return func(s *syncer) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Syncer writing to st with records from src.
//
// cfg is copied, so later changes by the caller have no effect.
//
// Example:
//
//	st, err := store.Open(cfg.DB)
//	if err != nil {
//	    return err
//	}
//	src, err := feed.NewHTTPSource(cfg.URL)
//	if err != nil {
//	    return err
//	}
//	res, err := sync.New(st, src, cfg.SyncConfig()).Run(ctx)
func New(st Store, src feed.Source, cfg Config, opts ...Option) Syncer {
	s := &syncer{
		store:  st,
		source: src,
		cfg: Config{
			Partitions:  append([]string(nil), cfg.Partitions...),
			ForceUpdate: cfg.ForceUpdate,
		},
		progress: nopProgress{},
		logger:   logging.WithModule("sync"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run carries the per-run progress counter.
type run struct {
	*syncer
	id        string
	completed int
	total     int
}

func (r *run) emit(name string, stage Stage, detail string) {
	r.progress.Update(Event{
		Partition: name,
		Stage:     stage,
		Completed: r.completed,
		Total:     r.total,
		Detail:    detail,
	})
}

// Run implements Syncer.Run.
func (s *syncer) Run(ctx context.Context) (*Result, error) {
	start := s.now()
	r := &run{
		syncer: s,
		id:     uuid.NewString(),
		total:  CheckpointsPerPartition * len(s.cfg.Partitions),
	}
	res := &Result{RunID: r.id}
	log := s.logger.With(zap.String("run_id", r.id))

	log.Info("starting sync",
		zap.Int("partitions", len(s.cfg.Partitions)),
		zap.Bool("force", s.cfg.ForceUpdate))

	err := r.execute(ctx, log, res)
	res.Duration = s.now().Sub(start)

	if err != nil {
		metrics.SyncDuration.WithLabelValues("error").Observe(res.Duration.Seconds())
		log.Error("sync failed", zap.Error(err), zap.Duration("duration", res.Duration))
		return res, err
	}

	metrics.SyncDuration.WithLabelValues("success").Observe(res.Duration.Seconds())
	metrics.LastSuccess.Set(float64(s.now().Unix()))
	log.Info("sync complete",
		zap.Int("updated", res.Updated()),
		zap.Int("current", len(res.Partitions)-res.Updated()),
		zap.Int("skipped_records", res.Skipped()),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (r *run) execute(ctx context.Context, log *zap.Logger, res *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("prepare store: %w", err)
	}

	for _, name := range r.cfg.Partitions {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Read per partition so a repeated name sees the earlier commit.
		previous, err := r.storedMetadata(ctx, name)
		if err != nil {
			metrics.PartitionsSynced.WithLabelValues(metrics.OutcomeFailed).Inc()
			return fmt.Errorf("partition %s: load metadata: %w", name, err)
		}

		pr, err := r.partition(ctx, log.With(zap.String("partition", name)), name, previous)
		if err != nil {
			metrics.PartitionsSynced.WithLabelValues(metrics.OutcomeFailed).Inc()
			return fmt.Errorf("partition %s: %w", name, err)
		}
		res.Partitions = append(res.Partitions, *pr)
	}
	return nil
}

// storedMetadata returns the committed fingerprint of name, nil when unknown.
func (r *run) storedMetadata(ctx context.Context, name string) (*feed.Metadata, error) {
	states, err := r.store.GetPartitionMetadata(ctx, []string{name})
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, nil
	}
	return states[0].Metadata, nil
}

// partition applies the fetch, compare, upsert sequence to one partition.
func (r *run) partition(ctx context.Context, log *zap.Logger, name string, previous *feed.Metadata) (*PartitionResult, error) {
	raw, err := r.source.FetchMetadata(ctx, name)
	if err != nil {
		return nil, asTransport("fetch metadata", err)
	}
	current, err := feed.ParseMetadata(raw)
	if err != nil {
		return nil, err
	}
	r.completed++
	r.emit(name, StageMetadataFetched, "Fetching metadata")

	pr := &PartitionResult{Name: name, Previous: previous, Current: current}

	if previous != nil && current.LastModified.Before(previous.LastModified) {
		log.Warn("remote last_modified went backwards",
			zap.String("stored", previous.FormatLastModified()),
			zap.String("fetched", current.FormatLastModified()))
	}

	if previous != nil && !r.cfg.ForceUpdate && !previous.LastModified.Before(current.LastModified) {
		log.Debug("partition is current", zap.String("last_modified", current.FormatLastModified()))
		r.completed++
		r.emit(name, StageDecided, "Up to date")
		r.completed += CheckpointsPerPartition - 2
		r.emit(name, StageCommitted, "Up to date")
		metrics.PartitionsSynced.WithLabelValues(metrics.OutcomeCurrent).Inc()
		return pr, nil
	}

	r.completed++
	r.emit(name, StageDecided, fmt.Sprintf("Fetching feed (%s)", humanize.Bytes(current.GzSize)))

	batch, err := r.source.FetchBatch(ctx, name)
	if err != nil {
		return nil, asTransport("fetch batch", err)
	}
	pr.Records = batch.Len()
	r.completed++
	r.emit(name, StageBatchFetched, fmt.Sprintf("Syncing %d CVEs", pr.Records))

	var cutoff *time.Time
	if previous != nil {
		c := previous.LastModified
		cutoff = &c
	}
	skipped, err := r.store.UpsertRecords(ctx, batch, cutoff)
	if err != nil {
		return nil, err
	}
	pr.Skipped = skipped
	if skipped > 0 {
		log.Debug("skipped records newer than cutoff",
			zap.Int("skipped", skipped),
			zap.String("cutoff", feed.FormatTimestamp(*cutoff)))
	}

	if err := r.store.UpsertPartitionMetadata(ctx, name, current); err != nil {
		return nil, err
	}
	r.completed++
	r.emit(name, StageCommitted, fmt.Sprintf("Synced %d CVEs", pr.Records-skipped))

	pr.Updated = true
	metrics.PartitionsSynced.WithLabelValues(metrics.OutcomeUpdated).Inc()
	metrics.RecordsWritten.Add(float64(pr.Records - skipped))
	metrics.RecordsSkipped.Add(float64(skipped))

	log.Debug("partition synced",
		zap.Int("records", pr.Records),
		zap.Int("skipped", skipped),
		zap.String("last_modified", current.FormatLastModified()))
	return pr, nil
}

// asTransport classifies source errors that carry no kind yet.
func asTransport(op string, err error) error {
	var ce *cacheerr.Error
	if errors.As(err, &ce) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return cacheerr.Transport(op, err)
}
