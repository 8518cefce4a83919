// Package orchestrator runs the two-phase back-translation round trip:
// source -> intermediate -> source, consulting the translation memory before
// each phase and storing fresh results after each successful network call.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/language"

	"github.com/backtran/backtran/internal/memory"
	"github.com/backtran/backtran/internal/provider"
	"github.com/backtran/backtran/internal/retry"
)

// DefaultFuzzyThreshold is the similarity floor for fuzzy cache hits on the
// back-translation path. Stricter than the memory's general-purpose default:
// a false fuzzy match corrupts the quality signal the round trip exists to
// produce.
const DefaultFuzzyThreshold = 0.95

// Config wires a BackTranslator. Memory and Events are optional.
type Config struct {
	Provider       provider.Provider
	Memory         *memory.Memory
	Retry          retry.Policy
	FuzzyThreshold float64
	Logger         *slog.Logger
	Events         chan<- Event
}

// Event reports orchestration progress. Kind is one of the Event* constants;
// Attempt and Delay are set for retry events, Score for fuzzy hits.
type Event struct {
	Phase   int
	Kind    string
	Attempt int
	Delay   time.Duration
	Score   float64
	Err     error
}

const (
	EventPhaseStart = "phase_start"
	EventCacheHit   = "cache_hit"
	EventFuzzyHit   = "fuzzy_hit"
	EventRetry      = "retry"
	EventStored     = "stored"
	EventPhaseDone  = "phase_done"
)

// Result is one completed (or failed) back-translation. Immutable once
// returned; owned by the caller. Intermediate is kept even when Phase 2
// fails, for diagnostics.
type Result struct {
	Input            string
	Intermediate     string
	Final            string
	SourceLang       string
	IntermediateLang string
	Duration         time.Duration
	Err              error
}

// PhaseError wraps a phase failure with the phase number (1 or 2).
type PhaseError struct {
	Phase int
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %d failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// BackTranslator executes back-translation calls. Safe for concurrent use;
// the translation memory serializes its own mutations.
type BackTranslator struct {
	provider  provider.Provider
	memory    *memory.Memory
	policy    retry.Policy
	threshold float64
	logger    *slog.Logger
	events    chan<- Event
}

func New(cfg Config) *BackTranslator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultFuzzyThreshold
	}
	return &BackTranslator{
		provider:  cfg.Provider,
		memory:    cfg.Memory,
		policy:    cfg.Retry,
		threshold: cfg.FuzzyThreshold,
		logger:    cfg.Logger,
		events:    cfg.Events,
	}
}

// BackTranslate translates text source -> intermediate -> source. Phase 2
// never starts before Phase 1 completes. On failure the returned Result
// carries whatever was produced before the failing phase, and the error
// identifies the phase.
func (b *BackTranslator) BackTranslate(ctx context.Context, text, sourceLang, intermediateLang string) (*Result, error) {
	result := &Result{
		Input:            text,
		SourceLang:       sourceLang,
		IntermediateLang: intermediateLang,
	}

	if err := validateInput(text, sourceLang, intermediateLang); err != nil {
		result.Err = err
		return result, err
	}

	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	intermediate, err := b.phase(ctx, 1, text, sourceLang, intermediateLang)
	if err != nil {
		result.Err = &PhaseError{Phase: 1, Err: err}
		return result, result.Err
	}
	result.Intermediate = intermediate

	final, err := b.phase(ctx, 2, intermediate, intermediateLang, sourceLang)
	if err != nil {
		result.Err = &PhaseError{Phase: 2, Err: err}
		return result, result.Err
	}
	result.Final = final

	b.logger.Info("back-translation complete",
		"source_lang", sourceLang, "intermediate_lang", intermediateLang,
		"duration", time.Since(start))
	return result, nil
}

// phase resolves one leg: exact lookup, then fuzzy as a fallback, then the
// provider under retry. Fresh results are stored before the phase returns;
// cancelled or failed calls store nothing.
func (b *BackTranslator) phase(ctx context.Context, n int, text, from, to string) (string, error) {
	b.emit(Event{Phase: n, Kind: EventPhaseStart})
	b.logger.Debug("phase start", "phase", n, "from", from, "to", to)

	if b.memory != nil {
		if translated, ok := b.memory.LookupExact(text, to, b.provider.ID()); ok {
			b.logger.Info("cache hit", "phase", n, "target_lang", to)
			b.emit(Event{Phase: n, Kind: EventCacheHit})
			return translated, nil
		}
		if translated, score, ok := b.memory.LookupFuzzy(text, to, b.provider.ID(), b.threshold); ok {
			b.logger.Info("fuzzy cache hit", "phase", n, "target_lang", to, "score", score)
			b.emit(Event{Phase: n, Kind: EventFuzzyHit, Score: score})
			return translated, nil
		}
	}

	exec, cleanup := b.newExecutor(n)
	translated, err := exec.Do(ctx, func(ctx context.Context) (string, error) {
		return b.provider.Translate(ctx, text, from, to)
	})
	cleanup()
	if err != nil {
		return "", err
	}

	if b.memory != nil {
		b.memory.Store(text, to, b.provider.ID(), translated)
		b.emit(Event{Phase: n, Kind: EventStored})
	}
	b.emit(Event{Phase: n, Kind: EventPhaseDone})
	return translated, nil
}

// newExecutor builds a retry executor whose events are re-published on the
// orchestrator's channel annotated with the phase number. The returned
// cleanup drains the bridge goroutine.
func (b *BackTranslator) newExecutor(phase int) (*retry.Executor, func()) {
	if b.events == nil {
		return retry.New(b.policy, b.logger, nil), func() {}
	}

	bridge := make(chan retry.Event, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range bridge {
			b.emit(Event{
				Phase:   phase,
				Kind:    EventRetry,
				Attempt: ev.Attempt,
				Delay:   ev.Delay,
				Err:     ev.Err,
			})
		}
	}()
	cleanup := func() {
		close(bridge)
		<-done
	}
	return retry.New(b.policy, b.logger, bridge), cleanup
}

func (b *BackTranslator) emit(ev Event) {
	if b.events == nil {
		return
	}
	select {
	case b.events <- ev:
	default:
	}
}

// validateInput rejects empty text and malformed language tags before any
// network traffic.
func validateInput(text, sourceLang, intermediateLang string) error {
	if text == "" {
		return provider.Error{Code: provider.CodeInvalidInput, Message: "text cannot be empty"}
	}
	if _, err := language.Parse(sourceLang); err != nil {
		return provider.Error{Code: provider.CodeInvalidInput, Message: fmt.Sprintf("invalid source language %q", sourceLang)}
	}
	if _, err := language.Parse(intermediateLang); err != nil {
		return provider.Error{Code: provider.CodeInvalidInput, Message: fmt.Sprintf("invalid intermediate language %q", intermediateLang)}
	}
	if sourceLang == intermediateLang {
		return provider.Error{Code: provider.CodeInvalidInput, Message: "source and intermediate languages must differ"}
	}
	return nil
}
