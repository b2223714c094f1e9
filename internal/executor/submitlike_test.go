package executor

import "testing"

func TestIsSubmitLikeClick(t *testing.T) {
	cases := []struct {
		kind        ActionKind
		name        string
		elementType string
		want        bool
	}{
		{ActionClick, "Sign in", "", true},
		{ActionClick, "로그인", "", true},
		{ActionClick, "Continue", "", true},
		{ActionClick, "Delete account", "", false},
		{ActionType, "Submit", "", false},
		{ActionClick, "", "", false},
		{ActionClick, "Go", "submit", true},
		{ActionClick, "Go", "SUBMIT", true},
		{ActionClick, "Cancel", "button", false},
	}
	for _, c := range cases {
		got := isSubmitLikeClick(c.kind, c.name, c.elementType)
		if got != c.want {
			t.Errorf("isSubmitLikeClick(%s, %q, %q) = %v, want %v", c.kind, c.name, c.elementType, got, c.want)
		}
	}
}
