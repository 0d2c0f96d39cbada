package domain

// RuleStatus is the outcome class of a single validation rule.
type RuleStatus string

const (
	RulePassed  RuleStatus = "PASSED"
	RuleFailed  RuleStatus = "FAILED"
	RuleWarning RuleStatus = "WARNING"
	RuleSkipped RuleStatus = "SKIPPED"
)

// ValidationResult records one rule's verdict. Results are emitted
// even when the rule passes so scores accumulate into the confidence
// level.
type ValidationResult struct {
	RuleName string                 `json:"rule_name"`
	Status   RuleStatus             `json:"status"`
	Score    float64                `json:"score"`
	Message  string                 `json:"message,omitempty"`
	Evidence map[string]interface{} `json:"evidence,omitempty"`
}

// ConfidenceLevel buckets the mean validation score.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "LOW"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceHigh   ConfidenceLevel = "HIGH"
)

// Confidence thresholds on the mean rule score.
const (
	ConfidenceHighMin   = 0.7
	ConfidenceMediumMin = 0.4
)

// ConfidenceFromScores derives the confidence level from the mean of
// the per-rule scores. Confidence is a pure function of the scores.
func ConfidenceFromScores(results []ValidationResult) ConfidenceLevel {
	if len(results) == 0 {
		return ConfidenceLow
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	mean := sum / float64(len(results))
	switch {
	case mean >= ConfidenceHighMin:
		return ConfidenceHigh
	case mean >= ConfidenceMediumMin:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
