package domain

// ProcessResult is the pipeline's answer for one RawEvent. Rejections
// are a normal outcome, not an error: Success is false and the reason
// names the rule family that rejected.
type ProcessResult struct {
	Signals         []Signal `json:"signals"`
	Cached          bool     `json:"cached"`
	Success         bool     `json:"success"`
	RejectionReason string   `json:"rejection_reason,omitempty"`
}

// EmitStatus classifies the outcome of one dual-path emission.
type EmitStatus string

const (
	// EmitDelivered: ledger append and hot-path 200.
	EmitDelivered EmitStatus = "DELIVERED"
	// EmitDuplicate: consumer had already seen the signal (409).
	EmitDuplicate EmitStatus = "DUPLICATE"
	// EmitRejected: consumer returned a non-409 4xx; no retry.
	EmitRejected EmitStatus = "REJECTED"
	// EmitHotPathFailed: retries exhausted or circuit open; the ledger
	// copy is authoritative and reconciliation catches up.
	EmitHotPathFailed EmitStatus = "HOT_PATH_FAILED"
	// EmitLedgerFailed: the append itself failed; nothing was emitted.
	EmitLedgerFailed EmitStatus = "LEDGER_FAILED"
)

// EmitResult reports where one signal landed.
type EmitResult struct {
	Status       EmitStatus `json:"status"`
	AckID        string     `json:"ack_id,omitempty"`
	PartitionID  string     `json:"partition_id,omitempty"`
	LedgerOffset int64      `json:"ledger_offset"`
	Err          error      `json:"-"`
}
