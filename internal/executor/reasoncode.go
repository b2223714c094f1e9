package executor

// ReasonCode is a member of the closed classification set every action
// execution ends in. Callers (the goal loop, human operators) branch on
// this value rather than parsing error strings, so the set is never
// extended ad hoc — a new failure mode gets mapped onto the closest
// existing code or the taxonomy is extended here, not at the call site.
type ReasonCode string

const (
	// ReasonOK means the action ran and produced the effect its kind predicts.
	ReasonOK ReasonCode = "ok"
	// ReasonRefRequired means the action needs an element ref and none was given.
	ReasonRefRequired ReasonCode = "ref_required"
	// ReasonSnapshotNotFound means the referenced snapshot_id is unknown to this session.
	ReasonSnapshotNotFound ReasonCode = "snapshot_not_found"
	// ReasonStaleSnapshot means the ref is not in the resolved snapshot and stale-ref
	// recovery failed: the ref had no known fingerprint, or no candidate in a fresh
	// snapshot matched it.
	ReasonStaleSnapshot ReasonCode = "stale_snapshot"
	// ReasonStaleRefRecovered means the ref no longer resolved directly but a
	// same-identity replacement was found and used automatically.
	ReasonStaleRefRecovered ReasonCode = "stale_ref_recovered"
	// ReasonNotFound means no element could be resolved for the ref, even after recovery.
	ReasonNotFound ReasonCode = "not_found"
	// ReasonNotActionable means the element was found but is disabled, hidden, or
	// otherwise not capable of receiving this action kind.
	ReasonNotActionable ReasonCode = "not_actionable"
	// ReasonNoStateChange means the action was delivered to the browser but no
	// observable effect matched what this action kind predicts.
	ReasonNoStateChange ReasonCode = "no_state_change"
	// ReasonAmbiguousRefTarget means the ref resolved to more than one live element.
	ReasonAmbiguousRefTarget ReasonCode = "ambiguous_ref_target"
	// ReasonTabScopeMismatch means the ref belongs to a tab other than the one addressed.
	ReasonTabScopeMismatch ReasonCode = "tab_scope_mismatch"
	// ReasonFrameScopeMismatch means the ref belongs to a frame other than the one addressed.
	ReasonFrameScopeMismatch ReasonCode = "frame_scope_mismatch"
	// ReasonAmbiguousTargetID means a non-ref target identifier (e.g. a tab id) was ambiguous.
	ReasonAmbiguousTargetID ReasonCode = "ambiguous_target_id"
	// ReasonActionTimeout means the action's budget elapsed before a terminal state was reached.
	ReasonActionTimeout ReasonCode = "action_timeout"
	// ReasonLegacySelectorForbidden means the caller passed a raw CSS/XPath selector
	// instead of a ref_id; the executor only accepts ref-addressed targets.
	ReasonLegacySelectorForbidden ReasonCode = "legacy_selector_forbidden"
	// ReasonInvalidInput means the action parameters themselves were malformed.
	ReasonInvalidInput ReasonCode = "invalid_input"
	// ReasonHTTP4xx surfaces a 4xx response from a network-observing action (e.g. a
	// navigation whose final response was a client error).
	ReasonHTTP4xx ReasonCode = "http_4xx"
	// ReasonHTTP5xx surfaces a 5xx response analogously.
	ReasonHTTP5xx ReasonCode = "http_5xx"
	// ReasonUnknownError is the last resort for failures that do not fit any other code.
	ReasonUnknownError ReasonCode = "unknown_error"
)

// Terminal reports whether a reason code ends the retry loop for an attempt,
// as opposed to leaving room for the budget/retry logic to try again.
func (r ReasonCode) Terminal() bool {
	switch r {
	case ReasonOK, ReasonStaleRefRecovered:
		return true
	case ReasonRefRequired, ReasonSnapshotNotFound, ReasonAmbiguousRefTarget,
		ReasonTabScopeMismatch, ReasonFrameScopeMismatch, ReasonAmbiguousTargetID,
		ReasonLegacySelectorForbidden, ReasonInvalidInput:
		// Caller error: retrying with the same parameters cannot change the outcome.
		return true
	case ReasonNoStateChange:
		// Reported, not retried — the outer loop decides policy.
		return true
	default:
		return false
	}
}

// Success reports whether a reason code represents an effective action.
func (r ReasonCode) Success() bool {
	return r == ReasonOK || r == ReasonStaleRefRecovered
}
