package executor

import "strings"

// submitLikeTerms are accessible-name substrings (case-insensitive) that mark
// a click as submit-like: the kind of action whose natural effect is a full
// page navigation or form submission rather than an in-place DOM mutation.
// Submit-like clicks get a shorter probe schedule and a tighter action
// budget because waiting out the full multi-probe schedule after a page
// navigation just wastes the remaining time measuring a page that already
// unloaded.
var submitLikeTerms = []string{
	"로그인", "회원가입", "가입하기", "제출",
	"submit", "sign in", "sign up", "log in", "login", "register",
	"continue", "next", "confirm", "checkout", "place order",
}

// isSubmitLikeClick reports whether an element's accessible name matches the
// submit-like lexicon, or the element is itself a submit control
// (type="submit"), the other qualifying condition: a <button type="submit">
// with an unlisted label (e.g. an icon-only button) is just as likely to
// navigate away as one whose label matches the lexicon.
func isSubmitLikeClick(kind ActionKind, accessibleName, elementType string) bool {
	if kind != ActionClick {
		return false
	}
	if strings.EqualFold(elementType, "submit") {
		return true
	}
	lower := strings.ToLower(accessibleName)
	for _, term := range submitLikeTerms {
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
