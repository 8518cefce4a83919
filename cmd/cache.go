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
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/backtran/backtran/internal/memory"
)

var cacheSnapshotPath string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the translation memory",
	Long:  `List, inspect, and clear the persisted translation memory snapshot.`,
}

func openMemory() *memory.Memory {
	return memory.New(memory.Options{
		Path:   cacheSnapshotPath,
		Logger: newLogger(),
	})
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all translation memory entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		mem := openMemory()
		defer mem.Close()

		entries := mem.Entries()
		if len(entries) == 0 {
			fmt.Println("No entries in translation memory.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TARGET\tPROVIDER\tLAST USED\tSOURCE\tTRANSLATION")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.TargetLang, e.ProviderID,
				e.AccessTime.Format("2006-01-02 15:04"),
				snippet(e.Source), snippet(e.Translation))
		}
		return w.Flush()
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show translation memory statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		mem := openMemory()
		defer mem.Close()

		stats := mem.Stats()
		fmt.Printf("Entries:        %d / %d\n", stats.Size, stats.MaxSize)
		fmt.Printf("Exact hits:     %d\n", stats.Hits)
		fmt.Printf("Fuzzy hits:     %d\n", stats.FuzzyHits)
		fmt.Printf("Misses:         %d\n", stats.Misses)
		fmt.Printf("Total lookups:  %d\n", stats.TotalLookups)
		fmt.Printf("Hit rate:       %.0f%%\n", stats.HitRate*100)
		fmt.Printf("Avg lookup:     %.2fms\n", stats.AvgLookupTime*1000)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all entries from translation memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		mem := openMemory()
		defer mem.Close()

		n := mem.Size()
		mem.Clear()
		fmt.Printf("Cleared %d entries from translation memory.\n", n)
		return nil
	},
}

func snippet(s string) string {
	runes := []rune(s)
	if len(runes) > 40 {
		return string(runes[:37]) + "..."
	}
	return s
}

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheCmd.PersistentFlags().StringVar(&cacheSnapshotPath, "cache", "tm_cache.json", "Translation memory snapshot path")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
