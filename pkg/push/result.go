package push

// Canonical per-target failure reasons. Provider adapters translate their own
// error representations into these codes.
const (
	ReasonUnregistered     = "UNREGISTERED"
	ReasonNotFound         = "NOT_FOUND"
	ReasonSenderIDMismatch = "SENDER_ID_MISMATCH"
	ReasonInvalidArgument  = "INVALID_ARGUMENT"
	ReasonQuotaExceeded    = "QUOTA_EXCEEDED"
	ReasonUnavailable      = "UNAVAILABLE"
	ReasonInternal         = "INTERNAL"
	ReasonThirdPartyAuth   = "THIRD_PARTY_AUTH_ERROR"
	ReasonTooManyTopics    = "TOO_MANY_TOPICS"
	ReasonProviderError    = "PROVIDER_ERROR"
	ReasonUnknown          = "UNKNOWN"
)

// Outcome is the provider's answer for one target token.
type Outcome struct {
	Token     string `json:"token"`
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Failed returns the outcomes that did not succeed, in input order.
func Failed(outcomes []Outcome) []Outcome {
	var failed []Outcome
	for _, o := range outcomes {
		if !o.Success {
			failed = append(failed, o)
		}
	}
	return failed
}

// SuccessCount counts successful outcomes.
func SuccessCount(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

// DispatchStatus is the aggregate status of one dispatch.
type DispatchStatus string

const (
	// StatusSent means every target succeeded.
	StatusSent DispatchStatus = "sent"
	// StatusPartialFailure means some, but not all, targets failed.
	StatusPartialFailure DispatchStatus = "partial_failure"
	// StatusFailed means no target succeeded.
	StatusFailed DispatchStatus = "failed"
	// StatusNoTargets means the audience resolved to nothing; the provider was not called.
	StatusNoTargets DispatchStatus = "no_targets"
)

// DispatchResult carries the aggregate status and the full per-target outcome list.
type DispatchResult struct {
	LogID        string         `json:"log_id,omitempty"`
	Status       DispatchStatus `json:"status"`
	Success      bool           `json:"success"`
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
	Outcomes     []Outcome      `json:"outcomes,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// NoTargetsResult is returned when there is nothing to send.
func NoTargetsResult() *DispatchResult {
	return &DispatchResult{
		Status:  StatusNoTargets,
		Message: "no device tokens found",
	}
}

// NewDispatchResult aggregates outcomes for targets. failure_count is derived
// from the target count so missing outcomes count as failures.
func NewDispatchResult(targets int, outcomes []Outcome) *DispatchResult {
	success := SuccessCount(outcomes)
	res := &DispatchResult{
		SuccessCount: success,
		FailureCount: targets - success,
		Outcomes:     outcomes,
	}
	switch {
	case res.FailureCount == 0:
		res.Status = StatusSent
		res.Success = true
	case success > 0:
		res.Status = StatusPartialFailure
	default:
		res.Status = StatusFailed
	}
	return res
}
