package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/riskcast/omen/internal/canonical"
)

// Context carries the enrichment tags derived from an event.
type Context struct {
	GeographicTags []string `json:"geographic_tags,omitempty"`
	TemporalBucket string   `json:"temporal_bucket,omitempty"`
	SemanticClass  string   `json:"semantic_class,omitempty"`
	ContextHash    string   `json:"context_hash,omitempty"`
}

// SignalIDPrefix precedes every signal identifier.
const SignalIDPrefix = "OMEN-"

// SignalIDHashLength is the hex length of the content portion of a
// signal identifier.
const SignalIDHashLength = 10

// Signal is the durable output unit: a validated, enriched,
// content-addressed record derived from exactly one RawEvent.
type Signal struct {
	SignalID           string                 `json:"signal_id,omitempty"`
	InputEventHash     string                 `json:"input_event_hash"`
	TraceID            string                 `json:"deterministic_trace_id"`
	GeneratedAt        time.Time              `json:"generated_at"`
	EmittedAt          *time.Time             `json:"emitted_at,omitempty"`
	Probability        float64                `json:"probability"`
	ConfidenceLevel    ConfidenceLevel        `json:"confidence_level"`
	ValidationScores   []ValidationResult     `json:"validation_scores"`
	Evidence           map[string]interface{} `json:"evidence,omitempty"`
	Context            Context                `json:"context"`
	SourceEventID      string                 `json:"source_event_id"`
	SourceSystem       string                 `json:"source_system"`
}

// ComputeSignalID derives the deterministic identifier from every
// field except the identifier itself and emitted_at, which is stamped
// post-hoc at emission. Neither key appears in the hashed bytes.
func (s Signal) ComputeSignalID() (string, error) {
	clone := s
	clone.SignalID = ""
	clone.EmittedAt = nil
	h, err := canonical.HashTruncated(clone, SignalIDHashLength)
	if err != nil {
		return "", fmt.Errorf("signal id: %w", err)
	}
	return SignalIDPrefix + strings.ToUpper(h), nil
}

// TraceIDFromEventHash derives the deterministic trace identifier.
// Reprocessing the same event bytes always yields the same trace.
func TraceIDFromEventHash(eventHash string) (string, error) {
	h, err := canonical.HashTruncated(map[string]interface{}{"trace_of": eventHash}, EventHashLength)
	if err != nil {
		return "", fmt.Errorf("trace id: %w", err)
	}
	return "trace-" + h, nil
}

// CanonicalJSON renders the signal in the byte form that is hashed,
// ledgered, and posted to the consumer.
func (s Signal) CanonicalJSON() ([]byte, error) {
	return canonical.Marshal(s)
}
