// Package ledger implements the WAL-framed append-only system of
// record. Signals are written as length-prefixed CRC-checked frames
// into partition files that move through hot, warm, and cold tiers.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Frame layout, bit-exact:
//
//	uint32_be length  (payload bytes)
//	uint32_be crc32   (IEEE, over payload only)
//	payload           (UTF-8 JSON)
//
// Sealed partitions end with the trailer:
//
//	"WALEND" uint32_be record_count uint32_be trailer_crc
const (
	frameHeaderSize = 8
	trailerMagic    = "WALEND"
	trailerSize     = len(trailerMagic) + 8
)

// MaxFrameSize rejects absurd length prefixes before allocating.
// A torn header can otherwise read as a multi-gigabyte payload.
const MaxFrameSize = 16 << 20

var (
	// ErrCorruptFrame marks a frame whose CRC or length check failed.
	ErrCorruptFrame = errors.New("corrupt wal frame")
	// ErrTruncatedFrame marks a frame cut short by EOF.
	ErrTruncatedFrame = errors.New("truncated wal frame")
)

// FrameSize returns the on-disk size of a frame with this payload.
func FrameSize(payload []byte) int { return frameHeaderSize + len(payload) }

// EncodeFrame renders one payload as a complete frame.
func EncodeFrame(payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(payload))
	copy(buf[frameHeaderSize:], payload)
	return buf
}

// ReadFrame reads the next frame from r. It distinguishes a clean end
// (io.EOF with no bytes read), a truncated tail (ErrTruncatedFrame),
// and corruption (ErrCorruptFrame). A trailer encountered mid-stream
// is reported as errTrailer.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, frameHeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		// A partial header could be a torn write or the start of a
		// trailer; the caller disambiguates via the magic.
		if isTrailerStart(header[:n]) {
			return nil, errTrailer
		}
		return nil, fmt.Errorf("%w: short header", ErrTruncatedFrame)
	}
	if isTrailerStart(header) {
		return nil, errTrailer
	}

	length := binary.BigEndian.Uint32(header[0:4])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: implausible length %d", ErrCorruptFrame, length)
	}
	wantCRC := binary.BigEndian.Uint32(header[4:8])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: short payload", ErrTruncatedFrame)
	}
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return nil, fmt.Errorf("%w: crc mismatch", ErrCorruptFrame)
	}
	return payload, nil
}

// errTrailer signals that the reader hit the sealed-partition trailer.
var errTrailer = errors.New("wal trailer")

func isTrailerStart(b []byte) bool {
	if len(b) < len(trailerMagic) {
		return false
	}
	return string(b[:len(trailerMagic)]) == trailerMagic
}

// EncodeTrailer renders the sealed-partition trailer.
func EncodeTrailer(recordCount uint32, fileCRC uint32) []byte {
	buf := make([]byte, trailerSize)
	copy(buf, trailerMagic)
	binary.BigEndian.PutUint32(buf[len(trailerMagic):], recordCount)
	binary.BigEndian.PutUint32(buf[len(trailerMagic)+4:], fileCRC)
	return buf
}

// DecodeTrailer parses a trailer buffer.
func DecodeTrailer(b []byte) (recordCount uint32, fileCRC uint32, err error) {
	if len(b) != trailerSize || !isTrailerStart(b) {
		return 0, 0, fmt.Errorf("%w: bad trailer", ErrCorruptFrame)
	}
	return binary.BigEndian.Uint32(b[len(trailerMagic):]),
		binary.BigEndian.Uint32(b[len(trailerMagic)+4:]), nil
}
