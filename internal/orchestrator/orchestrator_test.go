package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/backtran/backtran/internal/memory"
	"github.com/backtran/backtran/internal/provider"
	"github.com/backtran/backtran/internal/retry"
)

type mockProvider struct {
	calls     atomic.Int64
	translate func(text, from, to string) (string, error)
}

func (m *mockProvider) ID() string { return "mock" }

func (m *mockProvider) Translate(ctx context.Context, text, from, to string) (string, error) {
	m.calls.Add(1)
	return m.translate(text, from, to)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Jitter:      time.Millisecond,
	}
}

// echoProvider round-trips between English and a fake intermediate form.
func echoProvider() *mockProvider {
	table := map[string]string{
		"Hello world": "こんにちは世界",
		"こんにちは世界":      "Hello world again",
	}
	return &mockProvider{translate: func(text, from, to string) (string, error) {
		if out, ok := table[text]; ok {
			return out, nil
		}
		return "", provider.Error{Code: provider.CodeInvalidInput, Message: "unknown text " + text}
	}}
}

func TestBackTranslator_BackTranslate(t *testing.T) {
	prov := echoProvider()
	mem := memory.New(memory.Options{MaxSize: 10})

	bt := New(Config{Provider: prov, Memory: mem, Retry: fastPolicy(), Logger: testLogger()})

	result, err := bt.BackTranslate(context.Background(), "Hello world", "en", "ja")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Intermediate != "こんにちは世界" {
		t.Errorf("unexpected intermediate %q", result.Intermediate)
	}
	if result.Final != "Hello world again" {
		t.Errorf("unexpected final %q", result.Final)
	}
	if result.SourceLang != "en" || result.IntermediateLang != "ja" {
		t.Errorf("result languages not populated: %+v", result)
	}
	if result.Duration <= 0 {
		t.Error("expected a positive duration")
	}
	if n := prov.calls.Load(); n != 2 {
		t.Errorf("expected 2 provider calls, got %d", n)
	}

	// Both legs must be cached under the provider's ID.
	if _, ok := mem.LookupExact("Hello world", "ja", "mock"); !ok {
		t.Error("expected phase 1 result in translation memory")
	}
	if _, ok := mem.LookupExact("こんにちは世界", "en", "mock"); !ok {
		t.Error("expected phase 2 result in translation memory")
	}
}

func TestBackTranslator_SecondRunServedFromCache(t *testing.T) {
	prov := echoProvider()
	mem := memory.New(memory.Options{MaxSize: 10})

	bt := New(Config{Provider: prov, Memory: mem, Retry: fastPolicy(), Logger: testLogger()})

	if _, err := bt.BackTranslate(context.Background(), "Hello world", "en", "ja"); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	before := prov.calls.Load()

	result, err := bt.BackTranslate(context.Background(), "Hello world", "en", "ja")
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if result.Final != "Hello world again" {
		t.Errorf("unexpected final %q", result.Final)
	}
	if n := prov.calls.Load(); n != before {
		t.Errorf("expected second run fully cached, provider calls went %d -> %d", before, n)
	}
}

func TestBackTranslator_WorksWithoutMemory(t *testing.T) {
	prov := echoProvider()
	bt := New(Config{Provider: prov, Retry: fastPolicy(), Logger: testLogger()})

	result, err := bt.BackTranslate(context.Background(), "Hello world", "en", "ja")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Final != "Hello world again" {
		t.Errorf("unexpected final %q", result.Final)
	}
}

func TestBackTranslator_RetriesTransientFailure(t *testing.T) {
	var failures atomic.Int64
	failures.Store(1)
	prov := &mockProvider{translate: func(text, from, to string) (string, error) {
		if failures.Add(-1) >= 0 {
			return "", provider.Error{Code: provider.CodeNetworkError, Message: "flaky"}
		}
		return "translated", nil
	}}

	bt := New(Config{Provider: prov, Retry: fastPolicy(), Logger: testLogger()})

	result, err := bt.BackTranslate(context.Background(), "Hello", "en", "ja")
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if result.Final != "translated" {
		t.Errorf("unexpected final %q", result.Final)
	}
}

func TestBackTranslator_FatalErrorNotRetried(t *testing.T) {
	prov := &mockProvider{translate: func(text, from, to string) (string, error) {
		return "", provider.Error{Code: provider.CodeBlocked, Message: "captcha"}
	}}

	bt := New(Config{Provider: prov, Retry: fastPolicy(), Logger: testLogger()})

	_, err := bt.BackTranslate(context.Background(), "Hello", "en", "ja")
	if err == nil {
		t.Fatal("expected error")
	}
	if n := prov.calls.Load(); n != 1 {
		t.Errorf("fatal provider error must not be retried, got %d calls", n)
	}

	var phaseErr *PhaseError
	if !errors.As(err, &phaseErr) || phaseErr.Phase != 1 {
		t.Errorf("expected phase 1 error, got %v", err)
	}
	var perr provider.Error
	if !errors.As(err, &perr) || perr.Code != provider.CodeBlocked {
		t.Errorf("expected wrapped provider error, got %v", err)
	}
}

func TestBackTranslator_Phase2FailureKeepsIntermediate(t *testing.T) {
	prov := &mockProvider{translate: func(text, from, to string) (string, error) {
		if to == "ja" {
			return "こんにちは", nil
		}
		return "", provider.Error{Code: provider.CodeInvalidAPIKey, Message: "expired"}
	}}

	bt := New(Config{Provider: prov, Retry: fastPolicy(), Logger: testLogger()})

	result, err := bt.BackTranslate(context.Background(), "Hello", "en", "ja")
	if err == nil {
		t.Fatal("expected error")
	}

	var phaseErr *PhaseError
	if !errors.As(err, &phaseErr) || phaseErr.Phase != 2 {
		t.Errorf("expected phase 2 error, got %v", err)
	}
	if result.Intermediate != "こんにちは" {
		t.Errorf("expected intermediate preserved on phase 2 failure, got %q", result.Intermediate)
	}
	if result.Final != "" {
		t.Errorf("expected empty final on failure, got %q", result.Final)
	}
	if result.Err == nil {
		t.Error("expected result.Err populated")
	}
}

func TestBackTranslator_ValidateInput(t *testing.T) {
	prov := echoProvider()
	bt := New(Config{Provider: prov, Retry: fastPolicy(), Logger: testLogger()})

	tests := []struct {
		name                   string
		text, source, intermed string
	}{
		{"empty text", "", "en", "ja"},
		{"bad source language", "Hello", "not a lang!", "ja"},
		{"bad intermediate language", "Hello", "en", "???"},
		{"identical languages", "Hello", "en", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bt.BackTranslate(context.Background(), tt.text, tt.source, tt.intermed)
			var perr provider.Error
			if !errors.As(err, &perr) || perr.Code != provider.CodeInvalidInput {
				t.Errorf("expected invalid_input, got %v", err)
			}
		})
	}
	if n := prov.calls.Load(); n != 0 {
		t.Errorf("validation failures must not reach the provider, got %d calls", n)
	}
}

func TestBackTranslator_EmitsEvents(t *testing.T) {
	prov := echoProvider()
	mem := memory.New(memory.Options{MaxSize: 10})
	events := make(chan Event, 64)

	bt := New(Config{
		Provider: prov, Memory: mem, Retry: fastPolicy(),
		Logger: testLogger(), Events: events,
	})

	if _, err := bt.BackTranslate(context.Background(), "Hello world", "en", "ja"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(events)

	kinds := make(map[string]int)
	for ev := range events {
		kinds[ev.Kind]++
		if ev.Phase != 1 && ev.Phase != 2 {
			t.Errorf("event with invalid phase: %+v", ev)
		}
	}
	if kinds[EventPhaseStart] != 2 {
		t.Errorf("expected 2 phase_start events, got %d", kinds[EventPhaseStart])
	}
	if kinds[EventStored] != 2 {
		t.Errorf("expected 2 stored events, got %d", kinds[EventStored])
	}
}

func TestBackTranslator_FuzzyHitSkipsProvider(t *testing.T) {
	prov := echoProvider()
	mem := memory.New(memory.Options{MaxSize: 10})
	mem.Store("Hello world, how are you today?", "ja", "mock", "cached translation")

	bt := New(Config{
		Provider: prov, Memory: mem, Retry: fastPolicy(),
		FuzzyThreshold: 0.9, Logger: testLogger(),
	})

	// One rune off from the cached source: similarity above 0.9.
	got, err := bt.phase(context.Background(), 1, "Hello world, how are you today!", "en", "ja")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "cached translation" {
		t.Errorf("expected fuzzy cache hit, got %q", got)
	}
	if n := prov.calls.Load(); n != 0 {
		t.Errorf("fuzzy hit must not call the provider, got %d calls", n)
	}
}
