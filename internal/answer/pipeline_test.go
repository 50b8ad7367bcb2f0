package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stayops/concierge/internal/cache"
	"github.com/stayops/concierge/internal/guard"
	"github.com/stayops/concierge/internal/prompt"
	"github.com/stayops/concierge/internal/retrieval"
)

const testFallback = "죄송합니다. 02-1234-5678번으로 연락 주시면 도와드리겠습니다."

type stubSearcher struct {
	passages []retrieval.Result
	err      error
	calls    int
}

func (s *stubSearcher) Search(_ context.Context, _ string, _, _ *string) ([]retrieval.Result, error) {
	s.calls++
	return s.passages, s.err
}

type stubGenerator struct {
	answer     string
	err        error
	calls      int
	lastPrompt string
}

func (g *stubGenerator) Generate(_ context.Context, systemPrompt, _ string) (string, error) {
	g.calls++
	g.lastPrompt = systemPrompt
	return g.answer, g.err
}

func passage(content string) retrieval.Result {
	return retrieval.Result{Content: content, Score: 0.9}
}

func newTestPipeline(t *testing.T, search Searcher, generate Generator) *Pipeline {
	t.Helper()
	local, err := cache.NewLocal(16, time.Hour)
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	classifier := guard.NewClassifier(
		[]string{"문서에서 찾을 수 없습니다"},
		[]string{"명확하지 않습니다"},
	)
	p, err := New(cache.NewTiered(local, nil, nil, nil), search, generate, classifier, prompt.Default(), testFallback, nil, nil)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestAnswerFreshQuestionIsCached(t *testing.T) {
	search := &stubSearcher{passages: []retrieval.Result{passage("체크아웃은 오전 11시입니다.")}}
	generate := &stubGenerator{answer: "체크아웃 시간은 오전 11시입니다."}
	p := newTestPipeline(t, search, generate)
	ctx := context.Background()

	result, err := p.Answer(ctx, "체크아웃 언제인가요?", nil, nil)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if result.FromCache || result.IsFallback {
		t.Fatalf("expected fresh substantive answer, got %#v", result)
	}
	if result.Answer != "체크아웃 시간은 오전 11시입니다." {
		t.Fatalf("unexpected answer: %q", result.Answer)
	}
	if result.Verdict != guard.VerdictNone {
		t.Fatalf("expected none verdict, got %s", result.Verdict)
	}

	again, err := p.Answer(ctx, "체크아웃 언제인가요?", nil, nil)
	if err != nil {
		t.Fatalf("answer again: %v", err)
	}
	if !again.FromCache {
		t.Fatalf("expected cached answer on repeat")
	}
	if search.calls != 1 || generate.calls != 1 {
		t.Fatalf("expected collaborators called once, got search=%d generate=%d", search.calls, generate.calls)
	}
}

func TestAnswerNoPassagesFallsBack(t *testing.T) {
	search := &stubSearcher{}
	generate := &stubGenerator{answer: "should not be called"}
	p := newTestPipeline(t, search, generate)
	ctx := context.Background()

	result, err := p.Answer(ctx, "헬리콥터 착륙장이 있나요?", nil, nil)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !result.IsFallback || result.Answer != testFallback {
		t.Fatalf("expected fallback answer, got %#v", result)
	}
	if generate.calls != 0 {
		t.Fatalf("expected model to be skipped without passages")
	}

	// The no-results fallback is a stable verdict and is cached.
	again, err := p.Answer(ctx, "헬리콥터 착륙장이 있나요?", nil, nil)
	if err != nil {
		t.Fatalf("answer again: %v", err)
	}
	if !again.FromCache || !again.IsFallback {
		t.Fatalf("expected cached fallback, got %#v", again)
	}
}

func TestAnswerStrictPhraseReplacedWithFallback(t *testing.T) {
	search := &stubSearcher{passages: []retrieval.Result{passage("수하물 보관 규정.")}}
	generate := &stubGenerator{answer: "해당 내용은 문서에서 찾을 수 없습니다."}
	p := newTestPipeline(t, search, generate)

	result, err := p.Answer(context.Background(), "드론을 보관할 수 있나요?", nil, nil)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !result.IsFallback {
		t.Fatalf("expected fallback replacement, got %#v", result)
	}
	if result.Answer != testFallback {
		t.Fatalf("expected configured fallback message, got %q", result.Answer)
	}
	if result.Verdict != guard.VerdictFallback {
		t.Fatalf("expected fallback verdict, got %s", result.Verdict)
	}
}

func TestAnswerBroadPhraseServedUnchanged(t *testing.T) {
	search := &stubSearcher{passages: []retrieval.Result{passage("주차 정책.")}}
	generate := &stubGenerator{answer: "발렛 요금은 명확하지 않습니다. 프런트에 문의하세요."}
	p := newTestPipeline(t, search, generate)

	result, err := p.Answer(context.Background(), "발렛 요금이 얼마인가요?", nil, nil)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if result.IsFallback {
		t.Fatalf("fallback_like must not replace the answer")
	}
	if result.Verdict != guard.VerdictFallbackLike {
		t.Fatalf("expected fallback_like verdict, got %s", result.Verdict)
	}
	if result.Answer != generate.answer {
		t.Fatalf("expected answer served unchanged, got %q", result.Answer)
	}
}

func TestAnswerRetrievalErrorDegradesWithoutCaching(t *testing.T) {
	search := &stubSearcher{err: errors.New("connection refused")}
	p := newTestPipeline(t, search, &stubGenerator{})
	ctx := context.Background()

	result, err := p.Answer(ctx, "조식 시간 알려주세요", nil, nil)
	if err != nil {
		t.Fatalf("expected degradation, not error: %v", err)
	}
	if !result.IsFallback || result.Answer != testFallback {
		t.Fatalf("expected fallback on retrieval failure, got %#v", result)
	}

	// Transient failures must not poison the cache.
	if _, err := p.Answer(ctx, "조식 시간 알려주세요", nil, nil); err != nil {
		t.Fatalf("answer again: %v", err)
	}
	if search.calls != 2 {
		t.Fatalf("expected retrieval retried, got %d calls", search.calls)
	}
}

func TestAnswerGenerationErrorDegradesWithoutCaching(t *testing.T) {
	search := &stubSearcher{passages: []retrieval.Result{passage("수영장 규정.")}}
	generate := &stubGenerator{err: errors.New("rate limited")}
	p := newTestPipeline(t, search, generate)
	ctx := context.Background()

	result, err := p.Answer(ctx, "수영장 몇 시까지 하나요?", nil, nil)
	if err != nil {
		t.Fatalf("expected degradation, not error: %v", err)
	}
	if !result.IsFallback {
		t.Fatalf("expected fallback on generation failure, got %#v", result)
	}

	if _, err := p.Answer(ctx, "수영장 몇 시까지 하나요?", nil, nil); err != nil {
		t.Fatalf("answer again: %v", err)
	}
	if generate.calls != 2 {
		t.Fatalf("expected generation retried, got %d calls", generate.calls)
	}
}

func TestAnswerRejectsEmptyQuestion(t *testing.T) {
	p := newTestPipeline(t, &stubSearcher{}, &stubGenerator{})

	if _, err := p.Answer(context.Background(), "   ", nil, nil); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}
}

func TestAnswerPromptCarriesAssembledContext(t *testing.T) {
	category := "dining"
	section := "hours"
	search := &stubSearcher{passages: []retrieval.Result{
		{Content: "조식은 7시부터 10시까지입니다.", Category: &category, Section: &section, Score: 0.9},
		{Content: "룸서비스는 24시간 가능합니다.", Score: 0.8},
	}}
	generate := &stubGenerator{answer: "조식은 7시부터 10시까지 제공됩니다."}
	p := newTestPipeline(t, search, generate)

	if _, err := p.Answer(context.Background(), "조식 시간은요?", nil, nil); err != nil {
		t.Fatalf("answer: %v", err)
	}

	if !strings.Contains(generate.lastPrompt, "문서 1 [dining / hours]:\n조식은 7시부터 10시까지입니다.") {
		t.Fatalf("expected labeled first passage in prompt:\n%s", generate.lastPrompt)
	}
	if !strings.Contains(generate.lastPrompt, "문서 2:\n룸서비스는 24시간 가능합니다.") {
		t.Fatalf("expected unlabeled second passage in prompt:\n%s", generate.lastPrompt)
	}
}

func TestAnswerScopedQuestionsCachedSeparately(t *testing.T) {
	search := &stubSearcher{passages: []retrieval.Result{passage("정책 문서.")}}
	generate := &stubGenerator{answer: "규정에 따릅니다."}
	p := newTestPipeline(t, search, generate)
	ctx := context.Background()

	category := "policy"
	if _, err := p.Answer(ctx, "환불 규정은?", nil, nil); err != nil {
		t.Fatalf("answer: %v", err)
	}
	result, err := p.Answer(ctx, "환불 규정은?", &category, nil)
	if err != nil {
		t.Fatalf("scoped answer: %v", err)
	}
	if result.FromCache {
		t.Fatalf("expected scoped question to miss the unscoped cache entry")
	}
}
