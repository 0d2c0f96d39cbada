package ledger

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/riskcast/omen/internal/clock"
	"github.com/riskcast/omen/internal/domain"
)

// WriterConfig tunes the ledger writer.
type WriterConfig struct {
	BasePath         string        `yaml:"base_path"`
	HotMaxBytes      int64         `yaml:"hot_max_bytes"`
	HotMaxAge        time.Duration `yaml:"hot_max_age"`
	FlushEveryFrames int           `yaml:"flush_every_frames"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
}

// DefaultWriterConfig returns the writer defaults: 64 MiB partitions,
// 1 h roll interval, sync every 32 frames or 500 ms.
func DefaultWriterConfig(basePath string) WriterConfig {
	return WriterConfig{
		BasePath:         basePath,
		HotMaxBytes:      64 << 20,
		HotMaxAge:        time.Hour,
		FlushEveryFrames: 32,
		FlushInterval:    500 * time.Millisecond,
	}
}

// Writer appends signals to the single hot partition. One Writer owns
// the hot tier; appends serialize on its mutex.
type Writer struct {
	cfg   WriterConfig
	clock clock.Clock
	log   zerolog.Logger

	mu           sync.Mutex
	part         Partition
	file         *os.File
	size         int64
	records      uint32
	fileCRC      uint32
	unsyncedN    int
	closed       bool

	closeOnce   sync.Once
	stopFlusher chan struct{}
	flusherDone chan struct{}
}

// OpenWriter opens the ledger for appending. If a hot partition
// survives from a previous run its torn tail is truncated and writing
// resumes in place; any older hot partitions are sealed.
func OpenWriter(cfg WriterConfig, clk clock.Clock, log zerolog.Logger) (*Writer, error) {
	def := DefaultWriterConfig(cfg.BasePath)
	if cfg.HotMaxBytes <= 0 {
		cfg.HotMaxBytes = def.HotMaxBytes
	}
	if cfg.HotMaxAge <= 0 {
		cfg.HotMaxAge = def.HotMaxAge
	}
	if cfg.FlushEveryFrames <= 0 {
		cfg.FlushEveryFrames = def.FlushEveryFrames
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}

	w := &Writer{
		cfg:         cfg,
		clock:       clk,
		log:         log.With().Str("component", "ledger_writer").Logger(),
		stopFlusher: make(chan struct{}),
		flusherDone: make(chan struct{}),
	}

	if err := w.recover(); err != nil {
		return nil, err
	}

	go w.flushLoop()
	return w, nil
}

// recover adopts the newest leftover hot partition and seals the rest.
func (w *Writer) recover() error {
	hot, err := listPartitions(w.cfg.BasePath, TierHot)
	if err != nil {
		return err
	}
	for i, p := range hot {
		if i < len(hot)-1 {
			// Only one hot partition may stay open. Older leftovers
			// are repaired and sealed immediately.
			if err := w.sealPartition(p); err != nil {
				return fmt.Errorf("seal leftover partition %s: %w", p.ID(), err)
			}
			continue
		}
		if err := w.adopt(p); err != nil {
			return fmt.Errorf("adopt hot partition %s: %w", p.ID(), err)
		}
	}
	return nil
}

// adopt reopens an existing hot partition, applying the truncation
// rule: everything after the last complete, CRC-valid frame is
// discarded.
func (w *Writer) adopt(p Partition) error {
	offset, records, fileCRC, err := scanPartitionFile(p.Path)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(p.Path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("reopen hot partition: %w", err)
	}
	if err := f.Truncate(offset); err != nil {
		f.Close()
		return fmt.Errorf("truncate torn tail: %w", err)
	}
	if _, err := f.Seek(offset, 0); err != nil {
		f.Close()
		return fmt.Errorf("seek to tail: %w", err)
	}

	w.part = p
	w.file = f
	w.size = offset
	w.records = records
	w.fileCRC = fileCRC
	w.log.Info().Str("partition", p.ID()).Int64("offset", offset).Uint32("records", records).
		Msg("resumed hot partition after recovery")
	return nil
}

// Append writes one signal as a WAL frame and returns where it
// landed. The frame is either fully persisted or, per the truncation
// rule, discarded on the next open.
func (w *Writer) Append(signal domain.Signal) (partitionID string, offset int64, err error) {
	payload, err := signal.CanonicalJSON()
	if err != nil {
		return "", 0, fmt.Errorf("%w: encode: %v", domain.ErrLedgerWriteFailed, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return "", 0, fmt.Errorf("%w: writer closed", domain.ErrLedgerWriteFailed)
	}

	if err := w.rollIfDueLocked(); err != nil {
		return "", 0, err
	}
	if w.file == nil {
		if err := w.openHotLocked(); err != nil {
			return "", 0, err
		}
	}

	frame := EncodeFrame(payload)
	offset = w.size
	if _, err := w.file.Write(frame); err != nil {
		// The frame may be partially on disk; the truncation rule
		// disposes of it at next open. This signal is not written.
		return "", 0, fmt.Errorf("%w: %v", domain.ErrLedgerWriteFailed, err)
	}
	w.size += int64(len(frame))
	w.records++
	w.fileCRC = crc32.Update(w.fileCRC, crc32.IEEETable, frame)
	w.unsyncedN++

	if w.unsyncedN >= w.cfg.FlushEveryFrames {
		if err := w.syncLocked(); err != nil {
			return "", 0, fmt.Errorf("%w: sync: %v", domain.ErrLedgerWriteFailed, err)
		}
	}
	return w.part.ID(), offset, nil
}

// Sync forces the hot partition to stable storage.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	if w.file == nil || w.unsyncedN == 0 {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.unsyncedN = 0
	return nil
}

func (w *Writer) flushLoop() {
	defer close(w.flusherDone)
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopFlusher:
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.file != nil && w.unsyncedN > 0 {
				if err := w.syncLocked(); err != nil {
					w.log.Error().Err(err).Msg("periodic wal sync failed")
				}
			}
			w.mu.Unlock()
		}
	}
}

// rollIfDueLocked seals the hot partition when it outgrows the size
// or age threshold.
func (w *Writer) rollIfDueLocked() error {
	if w.file == nil {
		return nil
	}
	age := w.clock.Now().Sub(w.part.CreatedAt())
	if w.size < w.cfg.HotMaxBytes && age < w.cfg.HotMaxAge {
		return nil
	}
	return w.sealLocked()
}

// RollIfDue seals the hot partition if a threshold is exceeded.
// Called by the lifecycle manager.
func (w *Writer) RollIfDue() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rollIfDueLocked()
}

// Seal closes the current hot partition unconditionally.
func (w *Writer) Seal() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.sealLocked()
}

func (w *Writer) sealLocked() error {
	if err := w.syncLocked(); err != nil {
		return fmt.Errorf("seal: sync: %w", err)
	}

	trailer := EncodeTrailer(w.records, w.fileCRC)
	if _, err := w.file.Write(trailer); err != nil {
		return fmt.Errorf("seal: trailer: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("seal: trailer sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("seal: close: %w", err)
	}

	sealed := partitionPath(w.cfg.BasePath, TierWarm, w.part.EpochMS, w.part.Nonce, false)
	if err := os.MkdirAll(filepath.Dir(sealed), 0o755); err != nil {
		return fmt.Errorf("seal: mkdir: %w", err)
	}
	if err := os.Rename(w.part.Path, sealed); err != nil {
		return fmt.Errorf("seal: rename: %w", err)
	}

	w.log.Info().Str("partition", w.part.ID()).Uint32("records", w.records).
		Int64("bytes", w.size).Time("sealed_at", w.clock.Now()).Msg("partition sealed")

	w.file = nil
	w.size = 0
	w.records = 0
	w.fileCRC = 0
	w.unsyncedN = 0
	w.part = Partition{}
	return nil
}

// sealPartition repairs and seals a leftover hot partition that is
// not being adopted. Used during recovery only.
func (w *Writer) sealPartition(p Partition) error {
	offset, records, fileCRC, err := scanPartitionFile(p.Path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p.Path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	if err := f.Truncate(offset); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Seek(offset, 0); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(EncodeTrailer(records, fileCRC)); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	sealed := partitionPath(w.cfg.BasePath, TierWarm, p.EpochMS, p.Nonce, false)
	if err := os.MkdirAll(filepath.Dir(sealed), 0o755); err != nil {
		return err
	}
	return os.Rename(p.Path, sealed)
}

// openHotLocked creates a fresh hot partition.
func (w *Writer) openHotLocked() error {
	now := w.clock.Now()
	nonce, err := newNonce()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLedgerWriteFailed, err)
	}
	p := Partition{
		Tier:    TierHot,
		EpochMS: now.UnixMilli(),
		Nonce:   nonce,
	}
	p.Path = partitionPath(w.cfg.BasePath, TierHot, p.EpochMS, p.Nonce, false)

	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir: %v", domain.ErrLedgerWriteFailed, err)
	}
	f, err := os.OpenFile(p.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create partition: %v", domain.ErrLedgerWriteFailed, err)
	}

	w.part = p
	w.file = f
	w.size = 0
	w.records = 0
	w.fileCRC = 0
	w.unsyncedN = 0
	w.log.Info().Str("partition", p.ID()).Msg("opened hot partition")
	return nil
}

// HotPartitionID returns the open partition's id, or "" when none is
// open yet.
func (w *Writer) HotPartitionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ""
	}
	return w.part.ID()
}

// Close syncs and releases the hot partition without sealing it; the
// next open resumes appending to it. Safe to call more than once.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		close(w.stopFlusher)
	})
	<-w.flusherDone

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.file == nil {
		return nil
	}
	if err := w.syncLocked(); err != nil {
		w.file.Close()
		w.file = nil
		return err
	}
	err := w.file.Close()
	w.file = nil
	return err
}
