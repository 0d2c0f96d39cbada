package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Tier names the lifecycle stage of a partition.
type Tier string

const (
	// TierHot is the open, actively appended partition.
	TierHot Tier = "hot"
	// TierWarm holds sealed, uncompressed partitions.
	TierWarm Tier = "warm"
	// TierCold holds sealed, gzip-compressed partitions.
	TierCold Tier = "cold"
)

// nonceHexLen is the partition nonce width: 12 hex chars, 48 bits of
// randomness, enough to make same-millisecond collisions negligible.
const nonceHexLen = 12

// Partition identifies one WAL file on disk.
type Partition struct {
	Tier       Tier
	Path       string
	EpochMS    int64
	Nonce      string
	Compressed bool
}

// ID is the tier-independent partition identifier:
// "YYYY/MM/DD/<epoch_ms>-<nonce>". Lexicographic order on IDs equals
// creation order.
func (p Partition) ID() string {
	t := time.UnixMilli(p.EpochMS).UTC()
	return fmt.Sprintf("%04d/%02d/%02d/%d-%s", t.Year(), t.Month(), t.Day(), p.EpochMS, p.Nonce)
}

// CreatedAt returns the partition's creation instant.
func (p Partition) CreatedAt() time.Time {
	return time.UnixMilli(p.EpochMS).UTC()
}

// newNonce draws a fresh 12-hex-char partition nonce.
func newNonce() (string, error) {
	b := make([]byte, nonceHexLen/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// partitionPath builds the on-disk path for a partition in a tier.
func partitionPath(base string, tier Tier, epochMS int64, nonce string, compressed bool) string {
	t := time.UnixMilli(epochMS).UTC()
	name := fmt.Sprintf("%d-%s.wal", epochMS, nonce)
	if compressed {
		name += ".gz"
	}
	return filepath.Join(base, string(tier),
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", t.Month()),
		fmt.Sprintf("%02d", t.Day()),
		name)
}

// parsePartitionName extracts epoch and nonce from a file name of the
// form "<epoch_ms>-<nonce>.wal[.gz]".
func parsePartitionName(name string) (epochMS int64, nonce string, compressed bool, err error) {
	base := name
	if strings.HasSuffix(base, ".gz") {
		compressed = true
		base = strings.TrimSuffix(base, ".gz")
	}
	if !strings.HasSuffix(base, ".wal") {
		return 0, "", false, fmt.Errorf("not a wal file: %s", name)
	}
	base = strings.TrimSuffix(base, ".wal")
	dash := strings.IndexByte(base, '-')
	if dash <= 0 || len(base)-dash-1 != nonceHexLen {
		return 0, "", false, fmt.Errorf("malformed partition name: %s", name)
	}
	epochMS, err = strconv.ParseInt(base[:dash], 10, 64)
	if err != nil {
		return 0, "", false, fmt.Errorf("malformed partition epoch in %s: %w", name, err)
	}
	return epochMS, base[dash+1:], compressed, nil
}

// listPartitions walks one tier directory and returns its partitions
// in creation order.
func listPartitions(base string, tier Tier) ([]Partition, error) {
	root := filepath.Join(base, string(tier))
	var out []Partition

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		epochMS, nonce, compressed, perr := parsePartitionName(d.Name())
		if perr != nil {
			// Foreign files (tmp files mid-rename, editor droppings)
			// are skipped, not fatal.
			return nil
		}
		out = append(out, Partition{
			Tier:       tier,
			Path:       path,
			EpochMS:    epochMS,
			Nonce:      nonce,
			Compressed: compressed,
		})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("list %s partitions: %w", tier, err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].EpochMS != out[j].EpochMS {
			return out[i].EpochMS < out[j].EpochMS
		}
		return out[i].Nonce < out[j].Nonce
	})
	return out, nil
}
