/*
Copyright © 2025 The backtran authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/backtran/backtran/internal/orchestrator"
	"github.com/backtran/backtran/internal/provider"
	"github.com/backtran/backtran/internal/retry"
)

// retryPolicyFor returns the default policy with the attempt count overridden
// when the flag was set.
func retryPolicyFor(attempts int) retry.Policy {
	p := retry.DefaultPolicy()
	if attempts > 0 {
		p.MaxAttempts = attempts
	}
	return p
}

// newLogger builds the process logger once; every component receives it
// explicitly rather than reaching for a global.
func newLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if viper.GetBool("log.json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// providerOptions carries the per-provider settings collected from flags,
// config file, and environment.
type providerOptions struct {
	APIKey         string
	Credentials    string
	LocalURL       string
	LocalAutostart bool
	LocalCommand   string
}

// buildProvider constructs the named translation backend.
func buildProvider(name string, opts providerOptions, logger *slog.Logger) (provider.Provider, error) {
	switch name {
	case provider.IDUnofficial:
		return provider.NewUnofficialProvider(logger), nil
	case provider.IDOfficial:
		return provider.NewOfficialProvider(opts.APIKey, logger), nil
	case provider.IDGoogleCloud:
		return provider.NewGoogleCloudProvider(opts.Credentials, logger), nil
	case provider.IDLocal:
		var launcher provider.Launcher
		if opts.LocalCommand != "" {
			launcher = &provider.ExecLauncher{Command: opts.LocalCommand, Args: []string{"serve"}}
		}
		return provider.NewLocalProvider(opts.LocalURL, opts.LocalAutostart, launcher, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s (expected unofficial, official, googlecloud, or local)", name)
	}
}

// renderEvents prints orchestration progress to stderr until the channel is
// closed.
func renderEvents(events <-chan orchestrator.Event, done chan<- struct{}) {
	for ev := range events {
		switch ev.Kind {
		case orchestrator.EventPhaseStart:
			fmt.Fprintf(os.Stderr, "Phase %d...\n", ev.Phase)
		case orchestrator.EventCacheHit:
			fmt.Fprintf(os.Stderr, "Phase %d: cache hit\n", ev.Phase)
		case orchestrator.EventFuzzyHit:
			fmt.Fprintf(os.Stderr, "Phase %d: fuzzy cache hit (score %.2f)\n", ev.Phase, ev.Score)
		case orchestrator.EventRetry:
			if ev.Delay > 0 {
				fmt.Fprintf(os.Stderr, "Phase %d: attempt %d failed (%v), retrying in %v\n",
					ev.Phase, ev.Attempt, ev.Err, ev.Delay)
			} else {
				fmt.Fprintf(os.Stderr, "Phase %d: attempt %d failed (%v)\n", ev.Phase, ev.Attempt, ev.Err)
			}
		}
	}
	close(done)
}
