package guard

import "testing"

var (
	strictPhrases = []string{
		"정확한 안내가 어렵습니다",
		"문서에서 찾을 수 없습니다",
		"확인할 수 없습니다",
	}
	broadPhrases = []string{
		"정확한 안내가 어렵습니다",
		"명확하지 않습니다",
		"명시되어 있지 않습니다",
	}
)

func TestClassifyNoResults(t *testing.T) {
	classifier := NewClassifier(strictPhrases, broadPhrases)

	decision := classifier.Classify("체크아웃은 11시입니다.", false)
	if decision.Verdict != VerdictFallback {
		t.Fatalf("expected fallback verdict, got %s", decision.Verdict)
	}
	if decision.Reason != ReasonNoResults {
		t.Fatalf("expected no_results reason, got %s", decision.Reason)
	}
	if !decision.IsFallback() {
		t.Fatalf("expected IsFallback")
	}
}

func TestClassifyStrictPhrase(t *testing.T) {
	classifier := NewClassifier(strictPhrases, broadPhrases)

	decision := classifier.Classify("해당 내용은 문서에서 찾을 수 없습니다.", true)
	if decision.Verdict != VerdictFallback {
		t.Fatalf("expected fallback verdict, got %s", decision.Verdict)
	}
	if decision.Reason != ReasonStrictPhrase {
		t.Fatalf("expected strict_phrase reason, got %s", decision.Reason)
	}
	if decision.Phrase != "문서에서 찾을 수 없습니다" {
		t.Fatalf("unexpected matched phrase %q", decision.Phrase)
	}
}

func TestClassifyBroadPhrase(t *testing.T) {
	classifier := NewClassifier(strictPhrases, broadPhrases)

	decision := classifier.Classify("관련 규정이 명확하지 않습니다.", true)
	if decision.Verdict != VerdictFallbackLike {
		t.Fatalf("expected fallback_like verdict, got %s", decision.Verdict)
	}
	if decision.Reason != ReasonBroadPhrase {
		t.Fatalf("expected broad_phrase reason, got %s", decision.Reason)
	}
	if decision.IsFallback() {
		t.Fatalf("fallback_like must not replace the answer")
	}
}

func TestClassifyStrictWinsOverlap(t *testing.T) {
	classifier := NewClassifier(strictPhrases, broadPhrases)

	// "정확한 안내가 어렵습니다" appears in both lists.
	decision := classifier.Classify("죄송합니다. 정확한 안내가 어렵습니다.", true)
	if decision.Verdict != VerdictFallback {
		t.Fatalf("expected strict list to win for overlapping phrase, got %s", decision.Verdict)
	}
	if decision.Reason != ReasonStrictPhrase {
		t.Fatalf("expected strict_phrase reason, got %s", decision.Reason)
	}
}

func TestClassifyCleanAnswer(t *testing.T) {
	classifier := NewClassifier(strictPhrases, broadPhrases)

	decision := classifier.Classify("조식은 7시부터 10시까지 1층 레스토랑에서 제공됩니다.", true)
	if decision.Verdict != VerdictNone {
		t.Fatalf("expected none verdict, got %s", decision.Verdict)
	}
	if decision.Reason != "" || decision.Phrase != "" {
		t.Fatalf("expected empty evidence for clean answer: %#v", decision)
	}
}

func TestClassifyMatchingIsCaseSensitive(t *testing.T) {
	classifier := NewClassifier([]string{"I cannot help"}, nil)

	if d := classifier.Classify("i cannot help with that", true); d.Verdict != VerdictNone {
		t.Fatalf("expected case-sensitive matching to miss, got %s", d.Verdict)
	}
	if d := classifier.Classify("I cannot help with that", true); d.Verdict != VerdictFallback {
		t.Fatalf("expected exact-case phrase to match, got %s", d.Verdict)
	}
}

func TestUpdatePhrasesSwapsLists(t *testing.T) {
	classifier := NewClassifier(strictPhrases, broadPhrases)

	classifier.UpdatePhrases([]string{"neue Absage"}, nil)

	if d := classifier.Classify("확인할 수 없습니다", true); d.Verdict != VerdictNone {
		t.Fatalf("expected old phrases to be gone, got %s", d.Verdict)
	}
	if d := classifier.Classify("eine neue Absage bitte", true); d.Verdict != VerdictFallback {
		t.Fatalf("expected new phrase to match, got %s", d.Verdict)
	}
}

func TestClassifyIgnoresEmptyPhrases(t *testing.T) {
	classifier := NewClassifier([]string{""}, []string{""})

	if d := classifier.Classify("anything", true); d.Verdict != VerdictNone {
		t.Fatalf("expected empty phrases to never match, got %s", d.Verdict)
	}
}
