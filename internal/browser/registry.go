package browser

import "sync"

// ElementRegistry remembers the fingerprint of every element seen across
// recent snapshots, keyed by ref_id. When a ref goes stale (the DOM mutated
// between snapshot capture and action execution), the executor scores
// candidate replacement elements against the last known fingerprint here to
// decide whether a recovery is safe enough to attempt automatically.
type ElementRegistry struct {
	mu           sync.Mutex
	byRef        map[string]ElementMeta
	generationID int64
}

func newElementRegistry() *ElementRegistry {
	return &ElementRegistry{byRef: map[string]ElementMeta{}}
}

// RegisterBatch records every element from a freshly captured snapshot,
// overwriting any prior fingerprint under the same ref_id.
func (r *ElementRegistry) RegisterBatch(elements []ElementMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, el := range elements {
		r.byRef[el.RefID] = el
	}
	r.generationID++
}

// Get returns the last known fingerprint for a ref_id.
func (r *ElementRegistry) Get(ref string) (ElementMeta, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byRef[ref]
	return e, ok
}

// GenerationID returns a counter incremented each time a batch is registered,
// used to detect whether the DOM has been re-walked since a ref was resolved.
func (r *ElementRegistry) GenerationID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generationID
}

// recoveryScoreThreshold is the minimum similarity score (out of 10) a
// candidate element must reach against a stale fingerprint before the
// executor accepts it as the same logical element under a new ref_id.
const recoveryScoreThreshold = 6

// ScoreCandidate compares a candidate element against a stale fingerprint
// and returns a 0-10 similarity score used for stale-ref recovery. Each
// matching discriminating feature contributes independently rather than
// requiring an exact match, since attributes like bounding box shift by a
// few pixels on reflow without the element actually changing identity.
func ScoreCandidate(stale, candidate ElementMeta) int {
	score := 0
	if stale.TagName == candidate.TagName {
		score += 2
	}
	if stale.Attributes["id"] != "" && stale.Attributes["id"] == candidate.Attributes["id"] {
		score += 3
	}
	if stale.Attributes["data-testid"] != "" && stale.Attributes["data-testid"] == candidate.Attributes["data-testid"] {
		score += 3
	}
	if stale.Name != "" && stale.Name == candidate.Name {
		score += 2
	}
	if stale.Role != "" && stale.Role == candidate.Role {
		score += 1
	}
	if stale.Attributes["name"] != "" && stale.Attributes["name"] == candidate.Attributes["name"] {
		score += 2
	}
	if stale.BoundingBox != nil && candidate.BoundingBox != nil {
		dx := stale.BoundingBox.X - candidate.BoundingBox.X
		dy := stale.BoundingBox.Y - candidate.BoundingBox.Y
		if dx > -20 && dx < 20 && dy > -20 && dy < 20 {
			score += 1
		}
	}
	if score > 10 {
		score = 10
	}
	return score
}

// BestRecoveryCandidate finds the highest-scoring element in a fresh
// snapshot for a stale fingerprint, returning it only if the score clears
// recoveryScoreThreshold.
func BestRecoveryCandidate(stale ElementMeta, fresh []ElementMeta) (ElementMeta, int, bool) {
	var best ElementMeta
	bestScore := -1
	for _, cand := range fresh {
		s := ScoreCandidate(stale, cand)
		if s > bestScore {
			bestScore = s
			best = cand
		}
	}
	if bestScore < recoveryScoreThreshold {
		return ElementMeta{}, bestScore, false
	}
	return best, bestScore, true
}
