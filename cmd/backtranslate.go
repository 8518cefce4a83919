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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/backtran/backtran/internal/detector"
	"github.com/backtran/backtran/internal/history"
	"github.com/backtran/backtran/internal/memory"
	"github.com/backtran/backtran/internal/orchestrator"
	"github.com/backtran/backtran/internal/placeholder"
)

var (
	inputFile        string
	outputFile       string
	sourceLang       string
	intermediateLang string
	providerName     string
	apiKey           string
	credentials      string

	cachePath      string
	cacheSize      int
	fuzzyThreshold float64
	noCache        bool

	dbPath    string
	noHistory bool

	maxAttempts    int
	timeout        time.Duration
	preserveMarkup bool

	localURL       string
	localAutostart bool
	localCommand   string
)

var backtranslateCmd = &cobra.Command{
	Use:   "backtranslate [text]",
	Short: "Translate text to an intermediate language and back",
	Long: `Translate text into an intermediate language and back to the source
language, printing both legs of the round trip. Comparing the final text with
the input gives a rough idea of how much meaning the translation preserves.

Text is taken from the argument, or from a file with --input.

Examples:
  backtran backtranslate "Hello world"
  backtran backtranslate -i chapter.txt -s en -m ja --provider official`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(args)
		if err != nil {
			return err
		}

		logger := newLogger()

		var markers []string
		if preserveMarkup {
			text, markers = placeholder.Protect(text)
		}

		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if sourceLang == "auto" {
			det := detector.New()
			if detected, ok := det.DetectISO(text); ok {
				sourceLang = detected
				fmt.Fprintf(os.Stderr, "Detected source language: %s\n", sourceLang)
			} else {
				sourceLang = "en"
			}
		}

		prov, err := buildProvider(providerName, providerOptions{
			APIKey:         resolveAPIKey(),
			Credentials:    credentials,
			LocalURL:       localURL,
			LocalAutostart: localAutostart,
			LocalCommand:   localCommand,
		}, logger)
		if err != nil {
			return err
		}

		var mem *memory.Memory
		if !noCache {
			mem = memory.New(memory.Options{
				MaxSize:   cacheSize,
				Threshold: memory.DefaultThreshold,
				Path:      cachePath,
				Logger:    logger,
			})
			defer mem.Close()
		}

		events := make(chan orchestrator.Event, 32)
		eventsDone := make(chan struct{})
		go renderEvents(events, eventsDone)

		bt := orchestrator.New(orchestrator.Config{
			Provider:       prov,
			Memory:         mem,
			Retry:          retryPolicyFor(maxAttempts),
			FuzzyThreshold: fuzzyThreshold,
			Logger:         logger,
			Events:         events,
		})

		result, runErr := bt.BackTranslate(ctx, text, sourceLang, intermediateLang)
		close(events)
		<-eventsDone

		if len(markers) > 0 {
			if missing := placeholder.Validate(result.Final, markers); runErr == nil && len(missing) > 0 {
				fmt.Fprintf(os.Stderr, "Warning: %d protected markers lost in translation\n", len(missing))
			}
			result.Input = placeholder.Restore(result.Input, markers)
			result.Intermediate = placeholder.Restore(result.Intermediate, markers)
			result.Final = placeholder.Restore(result.Final, markers)
		}

		if !noHistory && dbPath != "" {
			saveHistory(logger, result, prov.ID(), runErr)
		}

		if runErr != nil {
			return runErr
		}

		if outputFile != "" {
			if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			if err := os.WriteFile(outputFile, []byte(result.Final), 0644); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
		}

		fmt.Printf("Input         (%s): %s\n", result.SourceLang, result.Input)
		fmt.Printf("Intermediate  (%s): %s\n", result.IntermediateLang, result.Intermediate)
		fmt.Printf("Back          (%s): %s\n", result.SourceLang, result.Final)
		fmt.Printf("Duration: %v\n", result.Duration.Round(time.Millisecond))

		if mem != nil {
			stats := mem.Stats()
			fmt.Fprintf(os.Stderr, "Cache: %d/%d entries, hit rate %.0f%%\n",
				stats.Size, stats.MaxSize, stats.HitRate*100)
		}
		return nil
	},
}

func readInput(args []string) (string, error) {
	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return "", fmt.Errorf("failed to read input file: %w", err)
		}
		return string(data), nil
	}
	if len(args) == 1 && args[0] != "" {
		return args[0], nil
	}
	return "", fmt.Errorf("no input: pass text as an argument or a file with --input")
}

func resolveAPIKey() string {
	if apiKey != "" {
		return apiKey
	}
	return viper.GetString("api_key")
}

func saveHistory(logger *slog.Logger, result *orchestrator.Result, providerID string, runErr error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Warn("failed to create history directory", "error", err)
			return
		}
	}
	db, err := history.New(dbPath)
	if err != nil {
		logger.Warn("failed to open history database", "error", err)
		return
	}
	defer db.Close()

	run := history.Run{
		ID:               uuid.New().String(),
		Input:            result.Input,
		SourceLang:       result.SourceLang,
		IntermediateLang: result.IntermediateLang,
		ProviderID:       providerID,
		Intermediate:     result.Intermediate,
		Final:            result.Final,
		Duration:         result.Duration,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := db.SaveRun(context.Background(), run); err != nil {
		logger.Warn("failed to save history", "error", err)
	}
}

func init() {
	rootCmd.AddCommand(backtranslateCmd)

	backtranslateCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input file to back-translate")
	backtranslateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Optional file for the final text")
	backtranslateCmd.Flags().StringVarP(&sourceLang, "source", "s", "en", "Source language code (or auto)")
	backtranslateCmd.Flags().StringVarP(&intermediateLang, "intermediate", "m", "ja", "Intermediate language code")
	backtranslateCmd.Flags().StringVar(&providerName, "provider", "unofficial", "Translation provider (unofficial, official, googlecloud, local)")
	backtranslateCmd.Flags().StringVar(&apiKey, "api-key", "", "API key for the official provider (or BACKTRAN_API_KEY)")
	backtranslateCmd.Flags().StringVarP(&credentials, "credentials", "c", "", "Path to Google Cloud credentials (googlecloud provider)")

	backtranslateCmd.Flags().StringVar(&cachePath, "cache", "tm_cache.json", "Translation memory snapshot path")
	backtranslateCmd.Flags().IntVar(&cacheSize, "cache-size", memory.DefaultMaxSize, "Maximum translation memory entries")
	backtranslateCmd.Flags().Float64Var(&fuzzyThreshold, "fuzzy-threshold", orchestrator.DefaultFuzzyThreshold, "Minimum similarity for fuzzy cache hits")
	backtranslateCmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable the translation memory")

	backtranslateCmd.Flags().StringVar(&dbPath, "db", "./data/backtran.db", "History database path")
	backtranslateCmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record this run in the history database")

	backtranslateCmd.Flags().BoolVar(&preserveMarkup, "preserve-markup", false, "Protect HTML tags and code spans from translation")
	backtranslateCmd.Flags().IntVar(&maxAttempts, "max-retries", 3, "Total attempts per phase including the first (1 = no retries)")
	backtranslateCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Overall deadline for the round trip (0 = none)")

	backtranslateCmd.Flags().StringVar(&localURL, "local-url", "http://127.0.0.1:5055", "Local translation service URL")
	backtranslateCmd.Flags().BoolVar(&localAutostart, "local-autostart", false, "Start the local service if it is not running")
	backtranslateCmd.Flags().StringVar(&localCommand, "local-command", "", "Command used to start the local service")

	viper.BindPFlag("api_key", backtranslateCmd.Flags().Lookup("api-key"))
	viper.BindPFlag("cache.path", backtranslateCmd.Flags().Lookup("cache"))
	viper.BindPFlag("cache.size", backtranslateCmd.Flags().Lookup("cache-size"))
	viper.BindPFlag("local.url", backtranslateCmd.Flags().Lookup("local-url"))
	viper.BindPFlag("local.autostart", backtranslateCmd.Flags().Lookup("local-autostart"))
}
