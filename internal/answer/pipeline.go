// Package answer orchestrates one chat turn: cache lookup, retrieval, prompt
// rendering, generation, fallback classification, and cache write-back.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stayops/concierge/internal/cache"
	"github.com/stayops/concierge/internal/guard"
	"github.com/stayops/concierge/internal/metrics"
	"github.com/stayops/concierge/internal/prompt"
	"github.com/stayops/concierge/internal/retrieval"
)

// Searcher yields policy passages relevant to a question.
type Searcher interface {
	Search(ctx context.Context, question string, category, section *string) ([]retrieval.Result, error)
}

// Generator produces an answer from a system prompt and question.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, question string) (string, error)
}

// ErrEmptyQuestion rejects blank questions before any work happens.
var ErrEmptyQuestion = errors.New("answer: question required")

// Result is one answered chat turn.
type Result struct {
	Answer     string
	IsFallback bool
	FromCache  bool
	Verdict    guard.Verdict
	Passages   int
}

// Pipeline wires the chat collaborators together. Construct once in main and
// share; all methods are safe for concurrent use.
type Pipeline struct {
	cache      *cache.Tiered
	search     Searcher
	generate   Generator
	classifier *guard.Classifier
	prompt     *prompt.Prompt
	fallback   string
	logger     *slog.Logger
	metrics    *metrics.Recorder
	now        func() time.Time
}

// New assembles the pipeline. Every collaborator except metrics is required.
func New(tiered *cache.Tiered, search Searcher, generate Generator, classifier *guard.Classifier, p *prompt.Prompt, fallbackMessage string, rec *metrics.Recorder, logger *slog.Logger) (*Pipeline, error) {
	if tiered == nil || search == nil || generate == nil || classifier == nil || p == nil {
		return nil, errors.New("answer: missing pipeline collaborator")
	}
	if strings.TrimSpace(fallbackMessage) == "" {
		return nil, errors.New("answer: fallback message required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cache:      tiered,
		search:     search,
		generate:   generate,
		classifier: classifier,
		prompt:     p,
		fallback:   fallbackMessage,
		logger:     logger.With(slog.String("subsystem", "answer")),
		metrics:    rec,
		now:        time.Now,
	}, nil
}

// Answer runs one chat turn. Collaborator failures after the cache lookup
// degrade to the fallback message instead of surfacing as request errors;
// only contract violations (an empty question) are returned to the caller.
func (p *Pipeline) Answer(ctx context.Context, question string, category, section *string) (Result, error) {
	start := p.now()
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, ErrEmptyQuestion
	}

	if cached, ok := p.cache.Get(ctx, question, category, section); ok {
		result := Result{Answer: cached.Answer, IsFallback: cached.IsFallback, FromCache: true}
		p.metrics.ObserveChat(outcomeFor(result), true, p.now().Sub(start))
		return result, nil
	}

	passages, err := p.search.Search(ctx, question, category, section)
	if err != nil {
		p.logger.ErrorContext(ctx, "retrieval failed", slog.Any("error", err))
		// Transient failure: serve the fallback but do not cache it, so the
		// next attempt retries retrieval.
		result := Result{Answer: p.fallback, IsFallback: true, Verdict: guard.VerdictFallback}
		p.metrics.ObserveVerdict(string(guard.VerdictFallback), "retrieval_error")
		p.metrics.ObserveChat("degraded", false, p.now().Sub(start))
		return result, nil
	}

	if len(passages) == 0 {
		decision := p.classifier.Classify("", false)
		result := Result{Answer: p.fallback, IsFallback: true, Verdict: decision.Verdict}
		p.storeResult(ctx, question, category, section, result)
		p.metrics.ObserveVerdict(string(decision.Verdict), decision.Reason)
		p.metrics.ObserveChat(outcomeFor(result), false, p.now().Sub(start))
		return result, nil
	}

	systemPrompt, err := p.prompt.Render(prompt.Data{Context: assembleContext(passages), Question: question})
	if err != nil {
		return Result{}, fmt.Errorf("answer: render prompt: %w", err)
	}

	generated, err := p.generate.Generate(ctx, systemPrompt, question)
	if err != nil {
		p.logger.ErrorContext(ctx, "generation failed", slog.Any("error", err))
		result := Result{Answer: p.fallback, IsFallback: true, Verdict: guard.VerdictFallback, Passages: len(passages)}
		p.metrics.ObserveVerdict(string(guard.VerdictFallback), "generation_error")
		p.metrics.ObserveChat("degraded", false, p.now().Sub(start))
		return result, nil
	}

	decision := p.classifier.Classify(generated, true)
	result := Result{Answer: generated, Verdict: decision.Verdict, Passages: len(passages)}
	if decision.IsFallback() {
		p.logger.InfoContext(ctx, "answer replaced with fallback",
			slog.String("reason", decision.Reason),
			slog.String("phrase", decision.Phrase))
		result.Answer = p.fallback
		result.IsFallback = true
	}

	p.storeResult(ctx, question, category, section, result)
	p.metrics.ObserveVerdict(string(decision.Verdict), decision.Reason)
	p.metrics.ObserveChat(outcomeFor(result), false, p.now().Sub(start))
	return result, nil
}

// Invalidate drops cached answers whose question contains fragment.
func (p *Pipeline) Invalidate(ctx context.Context, fragment string) int {
	return p.cache.Invalidate(ctx, fragment)
}

// CacheStats snapshots the response cache.
func (p *Pipeline) CacheStats(ctx context.Context) cache.TieredStats {
	return p.cache.Stats(ctx)
}

func (p *Pipeline) storeResult(ctx context.Context, question string, category, section *string, result Result) {
	p.cache.Set(ctx, question, category, section, cache.Response{
		Answer:     result.Answer,
		IsFallback: result.IsFallback,
	})
}

func outcomeFor(result Result) string {
	if result.IsFallback {
		return "fallback"
	}
	return "answered"
}

// assembleContext formats retrieved passages the way the prompt expects:
// numbered blocks with their scope labels, blank-line separated.
func assembleContext(passages []retrieval.Result) string {
	var sb strings.Builder
	for i, passage := range passages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "문서 %d", i+1)
		if passage.Category != nil && *passage.Category != "" {
			fmt.Fprintf(&sb, " [%s", *passage.Category)
			if passage.Section != nil && *passage.Section != "" {
				fmt.Fprintf(&sb, " / %s", *passage.Section)
			}
			sb.WriteString("]")
		} else if passage.Section != nil && *passage.Section != "" {
			fmt.Fprintf(&sb, " [%s]", *passage.Section)
		}
		sb.WriteString(":\n")
		sb.WriteString(strings.TrimSpace(passage.Content))
	}
	return sb.String()
}
