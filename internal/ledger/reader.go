package ledger

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sort"
	"time"

	"github.com/riskcast/omen/internal/domain"
)

// Reader provides ordered access to ledger partitions and their
// records. Offsets are byte positions in the uncompressed frame
// stream, so they stay valid when a partition moves to the cold tier.
type Reader struct {
	basePath string
}

// NewReader creates a reader over the ledger at basePath.
func NewReader(basePath string) *Reader {
	return &Reader{basePath: basePath}
}

// IterPartitions lists a tier's partitions in creation order,
// optionally bounded by creation time.
func (r *Reader) IterPartitions(tier Tier, since, until time.Time) ([]Partition, error) {
	parts, err := listPartitions(r.basePath, tier)
	if err != nil {
		return nil, err
	}
	out := parts[:0]
	for _, p := range parts {
		created := p.CreatedAt()
		if !since.IsZero() && created.Before(since) {
			continue
		}
		if !until.IsZero() && created.After(until) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// SealedPartitions lists warm then cold partitions in one creation-
// ordered sequence. The hot partition is excluded: it is still
// mutable.
func (r *Reader) SealedPartitions() ([]Partition, error) {
	warm, err := listPartitions(r.basePath, TierWarm)
	if err != nil {
		return nil, err
	}
	cold, err := listPartitions(r.basePath, TierCold)
	if err != nil {
		return nil, err
	}
	all := append(cold, warm...)
	// Re-sort: cold partitions are older but the merge must hold for
	// any interleaving.
	sort.Slice(all, func(i, j int) bool {
		if all[i].EpochMS != all[j].EpochMS {
			return all[i].EpochMS < all[j].EpochMS
		}
		return all[i].Nonce < all[j].Nonce
	})
	return all, nil
}

// Record is one decoded ledger entry with its resume offset.
type Record struct {
	Offset int64
	Signal domain.Signal
	Raw    []byte
}

// Iterator walks a partition's records once. Not restartable; resume
// by opening a new iterator at the last offset's successor.
type Iterator struct {
	closer io.Closer
	stream io.Reader
	offset int64
	err    error
	done   bool
}

// Records opens an iterator over partition p starting at fromOffset
// (an offset previously returned by the iterator, or 0).
func (r *Reader) Records(p Partition, fromOffset int64) (*Iterator, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("open partition %s: %w", p.ID(), err)
	}

	var stream io.Reader = bufio.NewReader(f)
	if p.Compressed {
		gz, err := gzip.NewReader(stream)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open gzip partition %s: %w", p.ID(), err)
		}
		stream = gz
	}

	it := &Iterator{closer: f, stream: stream}
	if fromOffset > 0 {
		if _, err := io.CopyN(io.Discard, stream, fromOffset); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek partition %s to %d: %w", p.ID(), fromOffset, err)
		}
		it.offset = fromOffset
	}
	return it, nil
}

// Next returns the next record. ok is false at the end of the
// partition; check Err afterwards to distinguish a clean end (torn
// tails and trailers both end the stream cleanly) from an I/O error.
func (it *Iterator) Next() (Record, bool) {
	if it.done {
		return Record{}, false
	}

	start := it.offset
	payload, err := ReadFrame(it.stream)
	if err != nil {
		it.done = true
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, errTrailer),
			errors.Is(err, ErrTruncatedFrame), errors.Is(err, ErrCorruptFrame):
			// Truncation rule: the valid prefix is the partition.
		default:
			it.err = err
		}
		return Record{}, false
	}

	it.offset = start + int64(frameHeaderSize+len(payload))

	var signal domain.Signal
	if err := json.Unmarshal(payload, &signal); err != nil {
		it.done = true
		it.err = fmt.Errorf("decode record at offset %d: %w", start, err)
		return Record{}, false
	}
	return Record{Offset: start, Signal: signal, Raw: payload}, true
}

// Err reports a non-clean termination.
func (it *Iterator) Err() error { return it.err }

// Close releases the underlying file.
func (it *Iterator) Close() error { return it.closer.Close() }

// Tail validates partition p and returns the offset just past its
// last good frame, plus the record count.
func (r *Reader) Tail(p Partition) (offset int64, records uint32, err error) {
	it, err := r.Records(p, 0)
	if err != nil {
		return 0, 0, err
	}
	defer it.Close()

	for {
		rec, ok := it.Next()
		if !ok {
			break
		}
		offset = rec.Offset + int64(frameHeaderSize+len(rec.Raw))
		records++
	}
	return offset, records, it.Err()
}

// scanPartitionFile walks an uncompressed partition from byte zero
// and reports the last good offset, the record count, and the running
// CRC over the valid frame bytes. Used by writer recovery.
func scanPartitionFile(path string) (offset int64, records uint32, fileCRC uint32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("scan partition: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	for {
		payload, rerr := ReadFrame(br)
		if rerr != nil {
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, errTrailer) ||
				errors.Is(rerr, ErrTruncatedFrame) || errors.Is(rerr, ErrCorruptFrame) {
				return offset, records, fileCRC, nil
			}
			return 0, 0, 0, fmt.Errorf("scan partition %s: %w", path, rerr)
		}
		frame := EncodeFrame(payload)
		fileCRC = crc32.Update(fileCRC, crc32.IEEETable, frame)
		offset += int64(len(frame))
		records++
	}
}

// VerifySealed checks a sealed partition's trailer against its
// contents.
func (r *Reader) VerifySealed(p Partition) error {
	it, err := r.Records(p, 0)
	if err != nil {
		return err
	}
	var count uint32
	var fileCRC uint32
	for {
		rec, ok := it.Next()
		if !ok {
			break
		}
		fileCRC = crc32.Update(fileCRC, crc32.IEEETable, EncodeFrame(rec.Raw))
		count++
	}
	if err := it.Err(); err != nil {
		it.Close()
		return err
	}
	it.Close()

	wantCount, wantCRC, err := readTrailer(p)
	if err != nil {
		return err
	}
	if wantCount != count || wantCRC != fileCRC {
		return fmt.Errorf("%w: trailer mismatch in %s (count %d/%d, crc %08x/%08x)",
			ErrCorruptFrame, p.ID(), count, wantCount, fileCRC, wantCRC)
	}
	return nil
}

func readTrailer(p Partition) (recordCount uint32, fileCRC uint32, err error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	var stream io.Reader = bufio.NewReader(f)
	if p.Compressed {
		gz, gerr := gzip.NewReader(stream)
		if gerr != nil {
			return 0, 0, gerr
		}
		stream = gz
	}
	// The trailer is the last 14 bytes of the uncompressed stream.
	all, err := io.ReadAll(stream)
	if err != nil {
		return 0, 0, err
	}
	if len(all) < trailerSize {
		return 0, 0, fmt.Errorf("%w: partition %s has no trailer", ErrCorruptFrame, p.ID())
	}
	return DecodeTrailer(all[len(all)-trailerSize:])
}
