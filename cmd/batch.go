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
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/backtran/backtran/internal/history"
	"github.com/backtran/backtran/internal/memory"
	"github.com/backtran/backtran/internal/orchestrator"
)

var (
	batchOutputDir        string
	batchSourceLang       string
	batchIntermediateLang string
	batchProviderName     string
	batchAPIKey           string
	batchCredentials      string

	batchCachePath string
	batchCacheSize int
	batchNoCache   bool

	batchDBPath    string
	batchNoHistory bool

	batchWorkers     int
	batchMaxAttempts int
	batchTimeout     time.Duration

	batchLocalURL       string
	batchLocalAutostart bool
	batchLocalCommand   string
)

type batchResult struct {
	file   string
	result *orchestrator.Result
	err    error
}

var batchCmd = &cobra.Command{
	Use:   "batch <file>...",
	Short: "Back-translate multiple files",
	Long: `Back-translate each input file and write the results into an output
directory. Files are processed concurrently by a bounded worker pool; a failure
in one file does not stop the others.

All workers share a single translation memory, so repeated text across files
is only translated once.

Example:
  backtran batch -d out/ -s en -m ja chapters/*.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		ctx := context.Background()
		if batchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, batchTimeout)
			defer cancel()
		}

		prov, err := buildProvider(batchProviderName, providerOptions{
			APIKey:         batchAPIKey,
			Credentials:    batchCredentials,
			LocalURL:       batchLocalURL,
			LocalAutostart: batchLocalAutostart,
			LocalCommand:   batchLocalCommand,
		}, logger)
		if err != nil {
			return err
		}

		var mem *memory.Memory
		if !batchNoCache {
			mem = memory.New(memory.Options{
				MaxSize: batchCacheSize,
				Path:    batchCachePath,
				Logger:  logger,
			})
			defer mem.Close()
		}

		var db *history.Store
		if !batchNoHistory && batchDBPath != "" {
			if dir := filepath.Dir(batchDBPath); dir != "." {
				if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
					fmt.Fprintf(os.Stderr, "Warning: history disabled: %v\n", mkErr)
				}
			}
			db, err = history.New(batchDBPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: history disabled: %v\n", err)
				db = nil
			} else {
				defer db.Close()
			}
		}

		if batchOutputDir != "" {
			if err := os.MkdirAll(batchOutputDir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		bt := orchestrator.New(orchestrator.Config{
			Provider: prov,
			Memory:   mem,
			Retry:    retryPolicyFor(batchMaxAttempts),
			Logger:   logger,
		})

		workers := batchWorkers
		if workers < 1 {
			workers = 1
		}

		var mu sync.Mutex
		results := make([]batchResult, 0, len(args))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)

		for _, file := range args {
			file := file
			g.Go(func() error {
				res := processFile(gctx, bt, file)

				if res.err == nil && batchOutputDir != "" {
					outPath := filepath.Join(batchOutputDir, filepath.Base(res.file))
					if writeErr := os.WriteFile(outPath, []byte(res.result.Final), 0644); writeErr != nil {
						res.err = fmt.Errorf("failed to write output file: %w", writeErr)
					}
				}

				mu.Lock()
				results = append(results, res)
				mu.Unlock()

				if db != nil && res.result != nil {
					run := history.Run{
						ID:               uuid.New().String(),
						Input:            res.result.Input,
						SourceLang:       res.result.SourceLang,
						IntermediateLang: res.result.IntermediateLang,
						ProviderID:       prov.ID(),
						Intermediate:     res.result.Intermediate,
						Final:            res.result.Final,
						Duration:         res.result.Duration,
					}
					if res.err != nil {
						run.Error = res.err.Error()
					}
					if saveErr := db.SaveRun(context.Background(), run); saveErr != nil {
						logger.Warn("failed to save history", "file", res.file, "error", saveErr)
					}
				}

				if res.err != nil {
					fmt.Fprintf(os.Stderr, "FAIL %s: %v\n", res.file, res.err)
				} else {
					fmt.Fprintf(os.Stderr, "OK   %s (%v)\n", res.file, res.result.Duration.Round(time.Millisecond))
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}

		var failed int
		for _, r := range results {
			if r.err != nil {
				failed++
			}
		}

		fmt.Printf("Processed %d files: %d succeeded, %d failed\n",
			len(results), len(results)-failed, failed)
		if mem != nil {
			stats := mem.Stats()
			fmt.Fprintf(os.Stderr, "Cache: %d/%d entries, hit rate %.0f%%\n",
				stats.Size, stats.MaxSize, stats.HitRate*100)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(results))
		}
		return nil
	},
}

func processFile(ctx context.Context, bt *orchestrator.BackTranslator, file string) batchResult {
	data, err := os.ReadFile(file)
	if err != nil {
		return batchResult{file: file, err: fmt.Errorf("failed to read input file: %w", err)}
	}

	result, err := bt.BackTranslate(ctx, string(data), batchSourceLang, batchIntermediateLang)
	return batchResult{file: file, result: result, err: err}
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringVarP(&batchOutputDir, "output-dir", "d", "", "Directory for the back-translated files")
	batchCmd.Flags().StringVarP(&batchSourceLang, "source", "s", "en", "Source language code")
	batchCmd.Flags().StringVarP(&batchIntermediateLang, "intermediate", "m", "ja", "Intermediate language code")
	batchCmd.Flags().StringVar(&batchProviderName, "provider", "unofficial", "Translation provider (unofficial, official, googlecloud, local)")
	batchCmd.Flags().StringVar(&batchAPIKey, "api-key", "", "API key for the official provider")
	batchCmd.Flags().StringVarP(&batchCredentials, "credentials", "c", "", "Path to Google Cloud credentials (googlecloud provider)")

	batchCmd.Flags().StringVar(&batchCachePath, "cache", "tm_cache.json", "Translation memory snapshot path")
	batchCmd.Flags().IntVar(&batchCacheSize, "cache-size", memory.DefaultMaxSize, "Maximum translation memory entries")
	batchCmd.Flags().BoolVar(&batchNoCache, "no-cache", false, "Disable the translation memory")

	batchCmd.Flags().StringVar(&batchDBPath, "db", "./data/backtran.db", "History database path")
	batchCmd.Flags().BoolVar(&batchNoHistory, "no-history", false, "Do not record runs in the history database")

	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", 4, "Number of files to process concurrently")
	batchCmd.Flags().IntVar(&batchMaxAttempts, "max-retries", 3, "Total attempts per phase including the first (1 = no retries)")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "Overall deadline for the whole batch (0 = none)")

	batchCmd.Flags().StringVar(&batchLocalURL, "local-url", "http://127.0.0.1:5055", "Local translation service URL")
	batchCmd.Flags().BoolVar(&batchLocalAutostart, "local-autostart", false, "Start the local service if it is not running")
	batchCmd.Flags().StringVar(&batchLocalCommand, "local-command", "", "Command used to start the local service")
}
