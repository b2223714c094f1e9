package executor

import (
	"fmt"
	"time"

	"github.com/go-rod/rod"

	"github.com/gaia-qa/gaiabrowser/internal/browser"
)

// resolveTimeout bounds how long a single locator resolution attempt waits
// for the stamped element to appear before being treated as not found.
const resolveTimeout = 2 * time.Second

// resolveRef locates the live element for a ref_id by its stamped
// data-gaia-ref attribute, which the most recent walk overwrote on every
// included element. This is the only locator strategy the executor uses
// directly against the page — callers never pass raw CSS or XPath selectors
// (ReasonLegacySelectorForbidden rejects those upstream).
func resolveRef(page *rod.Page, refID string) (*rod.Element, error) {
	selector := fmt.Sprintf(`[data-gaia-ref=%q]`, refID)
	elements, err := page.Timeout(resolveTimeout).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("resolving ref %s: %w", refID, err)
	}
	switch len(elements) {
	case 0:
		return nil, errNotFound(refID)
	case 1:
		return elements[0], nil
	default:
		return nil, errAmbiguous(refID, len(elements))
	}
}

type locatorError struct {
	reason ReasonCode
	msg    string
}

func (e *locatorError) Error() string { return e.msg }

func errNotFound(ref string) error {
	return &locatorError{reason: ReasonNotFound, msg: fmt.Sprintf("no element stamped with ref %s", ref)}
}

func errAmbiguous(ref string, n int) error {
	return &locatorError{reason: ReasonAmbiguousRefTarget, msg: fmt.Sprintf("ref %s resolved to %d elements", ref, n)}
}

// reasonFromLocatorError extracts the ReasonCode a locator error carries, or
// ReasonUnknownError if err did not originate from resolveRef.
func reasonFromLocatorError(err error) ReasonCode {
	if le, ok := err.(*locatorError); ok {
		return le.reason
	}
	return ReasonUnknownError
}

// findByDOMRef looks for an exact dom_ref match in a fresh snapshot. dom_ref
// is a persistent marker stamped once per element and never reassigned on
// re-walk (unlike ref_id, which is walk-position-dependent), so an exact
// match here means the same underlying element, not merely a similar one —
// this is the primary stale-ref recovery step the similarity scorer falls
// back from.
func findByDOMRef(domRef string, fresh []browser.ElementMeta) (browser.ElementMeta, bool) {
	if domRef == "" {
		return browser.ElementMeta{}, false
	}
	for _, el := range fresh {
		if el.DOMRef == domRef {
			return el, true
		}
	}
	return browser.ElementMeta{}, false
}

// recoverStaleRef re-captures the session's DOM and looks for the best
// same-identity replacement for a stale fingerprint, stamping and resolving
// it if the similarity score clears the recovery threshold.
func recoverStaleRef(mgr *browser.SessionManager, sess *browser.Session, stale browser.ElementMeta) (*browser.Snapshot, *rod.Element, bool, error) {
	fresh, err := mgr.CaptureSnapshot(sess)
	if err != nil {
		return nil, nil, false, fmt.Errorf("re-capturing snapshot for recovery: %w", err)
	}

	candidate, ok := findByDOMRef(stale.DOMRef, fresh.Elements)
	if !ok {
		candidate, _, ok = browser.BestRecoveryCandidate(stale, fresh.Elements)
		if !ok {
			return fresh, nil, false, nil
		}
	}

	page, err := sess.ActivePage()
	if err != nil {
		return fresh, nil, false, err
	}

	el, err := resolveRef(page, candidate.RefID)
	if err != nil {
		return fresh, nil, false, nil
	}
	return fresh, el, true, nil
}
