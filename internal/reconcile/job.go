package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/riskcast/omen/internal/consumer"
	"github.com/riskcast/omen/internal/domain"
	"github.com/riskcast/omen/internal/ledger"
	"github.com/riskcast/omen/internal/metrics"
)

// Ingester is the slice of the consumer client the job needs.
type Ingester interface {
	Ingest(ctx context.Context, signal domain.Signal, replaySource string) (consumer.Ack, error)
}

// Config tunes the reconciliation job.
type Config struct {
	Interval     time.Duration `yaml:"interval"`
	PersistEvery int           `yaml:"persist_every"`
}

// DefaultConfig returns the job defaults: run every 5 minutes,
// checkpoint the cursor every 100 records.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Minute, PersistEvery: 100}
}

// Stats summarizes one reconciliation pass.
type Stats struct {
	Replayed   int `json:"replayed"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Partitions int `json:"partitions"`
}

// Job scans sealed partitions past the cursor and replays each record
// to the consumer.
type Job struct {
	cfg     Config
	reader  *ledger.Reader
	store   *OffsetStore
	ingest  Ingester
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New creates a reconciliation job.
func New(cfg Config, reader *ledger.Reader, store *OffsetStore, ingest Ingester,
	m *metrics.Metrics, log zerolog.Logger) *Job {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.PersistEvery <= 0 {
		cfg.PersistEvery = def.PersistEvery
	}
	return &Job{
		cfg:     cfg,
		reader:  reader,
		store:   store,
		ingest:  ingest,
		metrics: m,
		log:     log.With().Str("component", "reconcile").Logger(),
	}
}

// Run executes passes on the configured interval until ctx is
// cancelled.
func (j *Job) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.log.Warn().Err(err).Msg("reconcile pass stopped early")
			}
		}
	}
}

// RunOnce performs one full pass. A consumer outage stops the pass
// without advancing the cursor; the next pass resumes from the same
// record. Unrecoverable 4xx records are logged and skipped so one
// poison record cannot wedge the loop.
func (j *Job) RunOnce(ctx context.Context) (Stats, error) {
	runID := uuid.NewString()
	log := j.log.With().Str("run_id", runID).Logger()

	cursor, err := j.store.Load()
	if err != nil {
		return Stats{}, err
	}

	parts, err := j.reader.SealedPartitions()
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	sinceCheckpoint := 0

	for _, p := range parts {
		id := p.ID()
		if id < cursor.PartitionID {
			continue
		}
		fromOffset := int64(0)
		if id == cursor.PartitionID {
			fromOffset = cursor.ByteOffset
		}

		if err := j.replayPartition(ctx, p, fromOffset, &cursor, &stats, &sinceCheckpoint, log); err != nil {
			// Persist whatever we acknowledged before stopping.
			if serr := j.store.Save(cursor); serr != nil {
				log.Error().Err(serr).Msg("checkpoint save failed")
			}
			return stats, err
		}
		stats.Partitions++
	}

	if err := j.store.Save(cursor); err != nil {
		return stats, err
	}
	log.Info().Int("replayed", stats.Replayed).Int("duplicates", stats.Duplicates).
		Int("skipped", stats.Skipped).Int("partitions", stats.Partitions).
		Msg("reconcile pass complete")
	return stats, nil
}

func (j *Job) replayPartition(ctx context.Context, p ledger.Partition, fromOffset int64,
	cursor *Offset, stats *Stats, sinceCheckpoint *int, log zerolog.Logger) error {

	it, err := j.reader.Records(p, fromOffset)
	if err != nil {
		return err
	}
	defer it.Close()

	id := p.ID()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, ok := it.Next()
		if !ok {
			break
		}

		ack, err := j.ingest.Ingest(ctx, rec.Signal, consumer.ReplayReconcile)
		if err != nil {
			var se *consumer.StatusError
			if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 &&
				se.StatusCode != http.StatusConflict {
				// Unrecoverable record: advance past it, keep going.
				log.Warn().Str("signal_id", rec.Signal.SignalID).Int("status", se.StatusCode).
					Msg("consumer rejected replayed record, skipping")
				j.count("skipped")
				stats.Skipped++
				j.advance(cursor, id, rec, sinceCheckpoint, log)
				continue
			}
			// Outage: hold position, retry next pass.
			j.count("outage")
			return fmt.Errorf("%w: replay %s: %v", domain.ErrHotPathFailed, rec.Signal.SignalID, err)
		}

		if ack.Duplicate {
			j.count("duplicate")
			stats.Duplicates++
		} else {
			j.count("replayed")
			stats.Replayed++
		}
		j.advance(cursor, id, rec, sinceCheckpoint, log)
	}
	return it.Err()
}

func (j *Job) advance(cursor *Offset, partitionID string, rec ledger.Record,
	sinceCheckpoint *int, log zerolog.Logger) {

	cursor.PartitionID = partitionID
	cursor.ByteOffset = rec.Offset + int64(ledger.FrameSize(rec.Raw))
	cursor.LastSeenSignalID = rec.Signal.SignalID

	*sinceCheckpoint++
	if *sinceCheckpoint >= j.cfg.PersistEvery {
		*sinceCheckpoint = 0
		if err := j.store.Save(*cursor); err != nil {
			log.Error().Err(err).Msg("checkpoint save failed")
		}
	}
}

func (j *Job) count(result string) {
	if j.metrics != nil {
		j.metrics.ReconcileReplays.WithLabelValues(result).Inc()
	}
}
