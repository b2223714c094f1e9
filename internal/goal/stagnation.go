package goal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gaia-qa/gaiabrowser/internal/browser"
)

// stagnationLimits are the consecutive-step thresholds that trip each
// detector. Values match the budget tuning an earlier iteration of this
// loop converged on: tight enough to bail out of a stuck run quickly,
// loose enough not to trip on a page that's merely slow to settle.
const (
	sameDecisionLimit   = 5
	sameDOMLimit        = 10
	noDOMLimit          = 3
	loginGateLoopLimit  = 3
	autoRecoveryFailLim = 2
)

// stagnationTracker watches the stream of decisions and snapshots for a
// single goal run and decides when the loop has stopped making progress.
type stagnationTracker struct {
	lastDecisionSig string
	sameDecision    int

	lastDOMSig string
	sameDOM    int

	noDOM int

	loginGateLoop   int
	autoRecoveryFail int

	stopReason string
}

func newStagnationTracker() *stagnationTracker {
	return &stagnationTracker{}
}

// stopped reports whether a detector has already fired.
func (t *stagnationTracker) stopped() bool {
	return t.stopReason != ""
}

// observeNoDOM is called when a snapshot could not be captured at all.
func (t *stagnationTracker) observeNoDOM() {
	t.noDOM++
	if t.noDOM >= noDOMLimit && t.stopReason == "" {
		t.stopReason = "DOM unreachable: snapshot failed for three consecutive steps"
	}
}

// observeSnapshot resets the no-DOM counter and checks for an unchanged
// screen across consecutive steps.
func (t *stagnationTracker) observeSnapshot(snap *browser.Snapshot) {
	t.noDOM = 0

	sig := snap.DOMHash
	if sig == t.lastDOMSig {
		t.sameDOM++
	} else {
		t.lastDOMSig = sig
		t.sameDOM = 1
	}

	if t.sameDOM >= sameDOMLimit && t.stopReason == "" {
		t.stopReason = "screen unchanged across ten consecutive steps"
	}
}

// decisionSignature normalizes a decision into a comparable string so
// repeated actions (same action, same target, same value) are detected
// even if the VLM's reasoning text differs step to step.
func decisionSignature(d Decision) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", d.Action, d.ElementID, strings.TrimSpace(d.Value))))
	return hex.EncodeToString(sum[:8])
}

// observeDecision checks the repeated-action detector and, when a login
// gate is visible and no credentials were supplied, the login-gate-loop
// detector.
func (t *stagnationTracker) observeDecision(d Decision, loginGateVisible, hasLoginTestData bool) {
	sig := decisionSignature(d)
	if sig == t.lastDecisionSig {
		t.sameDecision++
	} else {
		t.lastDecisionSig = sig
		t.sameDecision = 1
	}

	if t.sameDecision >= sameDecisionLimit && t.stopReason == "" {
		t.stopReason = "repeated action: same decision five consecutive steps"
	}

	looksLikeDismissal := d.Action == ActionClick &&
		(strings.Contains(strings.ToLower(d.Reasoning), "close") || strings.Contains(strings.ToLower(d.Reasoning), "dismiss"))

	if loginGateVisible && !hasLoginTestData && looksLikeDismissal {
		t.loginGateLoop++
	} else {
		t.loginGateLoop = 0
	}

	if t.loginGateLoop >= loginGateLoopLimit && t.stopReason == "" {
		t.stopReason = "login gate loop: credentials are required to proceed past the auth gate"
	}
}

// recordAutoRecovery tracks consecutive failures of an automatic
// recovery attempt (e.g. dismissing a blocking modal before retrying the
// decision) and stops the run if recovery itself keeps failing.
func (t *stagnationTracker) recordAutoRecovery(success bool) {
	if success {
		t.autoRecoveryFail = 0
		return
	}
	t.autoRecoveryFail++
	if t.autoRecoveryFail >= autoRecoveryFailLim && t.stopReason == "" {
		t.stopReason = "auto-recovery failed twice in a row"
	}
}
