// Package guard classifies generated answers so callers can substitute the
// canned fallback message when the model admits it has nothing useful to say.
package guard

import (
	"strings"
	"sync"
)

// Verdict is the classifier's decision about a generated answer.
type Verdict string

const (
	// VerdictNone means the answer looks substantive and is served as-is.
	VerdictNone Verdict = "none"
	// VerdictFallback means the answer must be replaced with the canned
	// fallback message before it reaches the guest.
	VerdictFallback Verdict = "fallback"
	// VerdictFallbackLike flags answers that hedge without fully refusing;
	// they are served unchanged but surfaced to operators.
	VerdictFallbackLike Verdict = "fallback_like"
)

// Reasons attached to non-none verdicts.
const (
	ReasonNoResults    = "no_results"
	ReasonStrictPhrase = "strict_phrase"
	ReasonBroadPhrase  = "broad_phrase"
)

// Decision carries the verdict plus the evidence behind it.
type Decision struct {
	Verdict Verdict
	Reason  string
	// Phrase is the first list entry found in the answer, empty for
	// no-results decisions.
	Phrase string
}

// IsFallback reports whether the answer must be replaced.
func (d Decision) IsFallback() bool { return d.Verdict == VerdictFallback }

// Classifier scans answers against two ordered phrase lists. The strict list
// marks definite refusals; the broader list marks hedging language. Lists may
// overlap: the strict list always wins because it is checked first. Phrase
// updates are accepted at runtime, so all reads go through the lock.
type Classifier struct {
	mu           sync.RWMutex
	strict       []string
	fallbackLike []string
}

// NewClassifier builds a classifier over the given phrase lists. The slices
// are copied so callers can keep mutating theirs.
func NewClassifier(strict, fallbackLike []string) *Classifier {
	c := &Classifier{}
	c.UpdatePhrases(strict, fallbackLike)
	return c
}

// UpdatePhrases swaps in new phrase lists atomically. In-flight
// classifications finish against the lists they started with.
func (c *Classifier) UpdatePhrases(strict, fallbackLike []string) {
	strictCopy := append([]string(nil), strict...)
	likeCopy := append([]string(nil), fallbackLike...)
	c.mu.Lock()
	c.strict = strictCopy
	c.fallbackLike = likeCopy
	c.mu.Unlock()
}

// Classify decides the verdict for a generated answer. When retrieval found
// nothing above the relevance floor the answer is a fallback regardless of
// its wording, since the model had no grounding to answer from. Otherwise the
// answer is scanned for the first matching strict phrase, then the first
// matching broad phrase. Matching is exact substring containment; the phrase
// lists are curated in the answer language, so no case folding is applied.
func (c *Classifier) Classify(answer string, hasResults bool) Decision {
	if !hasResults {
		return Decision{Verdict: VerdictFallback, Reason: ReasonNoResults}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, phrase := range c.strict {
		if phrase != "" && strings.Contains(answer, phrase) {
			return Decision{Verdict: VerdictFallback, Reason: ReasonStrictPhrase, Phrase: phrase}
		}
	}
	for _, phrase := range c.fallbackLike {
		if phrase != "" && strings.Contains(answer, phrase) {
			return Decision{Verdict: VerdictFallbackLike, Reason: ReasonBroadPhrase, Phrase: phrase}
		}
	}
	return Decision{Verdict: VerdictNone}
}
