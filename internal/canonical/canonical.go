// Package canonical produces the byte-stable JSON form used for all
// content addressing: event hashes, signal IDs, and trace IDs.
//
// Canonical form: keys sorted lexicographically, no whitespace, UTF-8,
// floats in shortest round-trip form, nulls omitted. Two processes
// marshaling the same value must produce identical bytes or every
// derived identifier breaks.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Marshal renders v in canonical JSON form.
func Marshal(v interface{}) ([]byte, error) {
	// Round-trip through encoding/json to get a generic value with the
	// struct's json tags applied, then re-render deterministically.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}

	var buf bytes.Buffer
	if err := encode(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the full lowercase hex SHA-256 of v's canonical form.
func Hash(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashTruncated returns the first n hex chars of the SHA-256 of v's
// canonical form. Event hashes use n=16, signal IDs n=10.
func HashTruncated(v interface{}, n int) (string, error) {
	h, err := Hash(v)
	if err != nil {
		return "", err
	}
	if n > len(h) {
		n = len(h)
	}
	return h[:n], nil
}

// FormatFloat renders f in shortest round-trip form, the same bytes
// encoding/json emits. Exported so hashing tests can pin the rule.
func FormatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		// JSON cannot carry these; callers validate ranges upstream.
		return "0"
	}
	abs := math.Abs(f)
	format := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	return string(appendFloat(nil, f, format))
}

func appendFloat(b []byte, f float64, format byte) []byte {
	b = strconv.AppendFloat(b, f, format, -1, 64)
	if format == 'e' {
		// Normalize exponent form to match encoding/json ("1e+21", not "1e21").
		if n := len(b); n >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
	}
	return b
}

// Timestamp renders t in the canonical wire form: RFC 3339 UTC with
// nanosecond precision trimmed to what the value carries.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		// Omitted by callers via omitempty; a literal null inside a
		// metadata map still has to render.
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("canonical: string: %w", err)
		}
		buf.Write(b)
	case json.Number:
		return encodeNumber(buf, val)
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("canonical: key: %w", err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical: unsupported type %T", v)
	}
	return nil
}

func encodeNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()
	// Integers pass through untouched; floats are re-rendered in
	// shortest round-trip form so "0.6200" and "0.62" hash identically.
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		buf.WriteString(strconv.FormatInt(i, 10))
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("canonical: number %q: %w", s, err)
	}
	buf.WriteString(FormatFloat(f))
	return nil
}
