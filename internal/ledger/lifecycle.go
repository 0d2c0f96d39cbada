package ledger

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/riskcast/omen/internal/clock"
)

// LifecycleConfig sets the retention ladder.
type LifecycleConfig struct {
	WarmRetention   time.Duration `yaml:"warm_retention"`
	ColdRetention   time.Duration `yaml:"cold_retention"`
	DeleteAfter     time.Duration `yaml:"delete_after"`
	ArchivePath     string        `yaml:"archive_path"`
	RunInterval     time.Duration `yaml:"run_interval"`
}

// DefaultLifecycleConfig returns the retention defaults: warm for 7
// days, cold for 30, archived copies kept 365, one run per day.
func DefaultLifecycleConfig(basePath string) LifecycleConfig {
	return LifecycleConfig{
		WarmRetention: 7 * 24 * time.Hour,
		ColdRetention: 30 * 24 * time.Hour,
		DeleteAfter:   365 * 24 * time.Hour,
		ArchivePath:   filepath.Join(basePath, "archive"),
		RunInterval:   24 * time.Hour,
	}
}

// Lifecycle rolls partitions down the hot -> warm -> cold -> archive
// -> deleted ladder. Every task is idempotent: a crash mid-run leaves
// either the old file, the new file, or both (tmp), and the next run
// converges.
type Lifecycle struct {
	cfg    LifecycleConfig
	base   string
	writer *Writer
	clock  clock.Clock
	log    zerolog.Logger
}

// NewLifecycle creates the lifecycle manager for the ledger at
// basePath. writer may be nil for offline maintenance runs.
func NewLifecycle(cfg LifecycleConfig, basePath string, writer *Writer, clk clock.Clock, log zerolog.Logger) *Lifecycle {
	def := DefaultLifecycleConfig(basePath)
	if cfg.WarmRetention <= 0 {
		cfg.WarmRetention = def.WarmRetention
	}
	if cfg.ColdRetention <= 0 {
		cfg.ColdRetention = def.ColdRetention
	}
	if cfg.DeleteAfter <= 0 {
		cfg.DeleteAfter = def.DeleteAfter
	}
	if cfg.ArchivePath == "" {
		cfg.ArchivePath = def.ArchivePath
	}
	if cfg.RunInterval <= 0 {
		cfg.RunInterval = def.RunInterval
	}
	return &Lifecycle{
		cfg:    cfg,
		base:   basePath,
		writer: writer,
		clock:  clk,
		log:    log.With().Str("component", "lifecycle").Logger(),
	}
}

// RunOnce executes one full maintenance pass.
func (l *Lifecycle) RunOnce(ctx context.Context) error {
	runID := uuid.NewString()
	log := l.log.With().Str("run_id", runID).Logger()
	log.Info().Msg("lifecycle pass starting")

	if l.writer != nil {
		if err := l.writer.RollIfDue(); err != nil {
			log.Error().Err(err).Msg("seal task failed")
		}
	}
	if err := l.compressWarm(ctx, log); err != nil {
		return err
	}
	if err := l.archiveCold(ctx, log); err != nil {
		return err
	}
	if err := l.purgeArchive(ctx, log); err != nil {
		return err
	}
	log.Info().Msg("lifecycle pass complete")
	return nil
}

// Run executes maintenance passes on the configured interval until
// ctx is cancelled.
func (l *Lifecycle) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.RunInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.RunOnce(ctx); err != nil {
				l.log.Error().Err(err).Msg("lifecycle pass failed")
			}
		}
	}
}

// compressWarm moves warm partitions past retention into the cold
// tier, gzip-compressing the frame stream. Record boundaries survive:
// the compressed stream decompresses to the identical frame bytes.
func (l *Lifecycle) compressWarm(ctx context.Context, log zerolog.Logger) error {
	warm, err := listPartitions(l.base, TierWarm)
	if err != nil {
		return err
	}
	cutoff := l.clock.Now().Add(-l.cfg.WarmRetention)
	for _, p := range warm {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.CreatedAt().After(cutoff) {
			continue
		}
		if err := l.compressOne(p); err != nil {
			// Per-partition failures do not kill the pass.
			log.Error().Err(err).Str("partition", p.ID()).Msg("compress failed")
			continue
		}
		log.Info().Str("partition", p.ID()).Msg("compressed to cold tier")
	}
	return nil
}

func (l *Lifecycle) compressOne(p Partition) error {
	dst := partitionPath(l.base, TierCold, p.EpochMS, p.Nonce, true)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	tmp := dst + ".tmp"
	if err := gzipFile(p.Path, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(p.Path)
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// archiveCold copies cold partitions past retention into the archive
// store and removes the local file.
func (l *Lifecycle) archiveCold(ctx context.Context, log zerolog.Logger) error {
	cold, err := listPartitions(l.base, TierCold)
	if err != nil {
		return err
	}
	cutoff := l.clock.Now().Add(-l.cfg.ColdRetention)
	for _, p := range cold {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.CreatedAt().After(cutoff) {
			continue
		}
		if err := l.archiveOne(p); err != nil {
			log.Error().Err(err).Str("partition", p.ID()).Msg("archive failed")
			continue
		}
		log.Info().Str("partition", p.ID()).Msg("archived")
	}
	return nil
}

func (l *Lifecycle) archiveOne(p Partition) error {
	dst := filepath.Join(l.cfg.ArchivePath, filepath.Base(p.Path))
	if err := os.MkdirAll(l.cfg.ArchivePath, 0o755); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := copyFile(p.Path, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(p.Path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// purgeArchive deletes archive entries past the delete-after horizon.
func (l *Lifecycle) purgeArchive(ctx context.Context, log zerolog.Logger) error {
	entries, err := os.ReadDir(l.cfg.ArchivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	cutoff := l.clock.Now().Add(-l.cfg.DeleteAfter)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			continue
		}
		epochMS, _, _, perr := parsePartitionName(e.Name())
		if perr != nil {
			continue
		}
		if time.UnixMilli(epochMS).UTC().After(cutoff) {
			continue
		}
		path := filepath.Join(l.cfg.ArchivePath, e.Name())
		if err := os.Remove(path); err != nil {
			log.Error().Err(err).Str("file", e.Name()).Msg("archive delete failed")
			continue
		}
		log.Info().Str("file", e.Name()).Msg("archive entry deleted")
	}
	return nil
}
