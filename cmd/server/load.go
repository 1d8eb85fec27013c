package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JustJay7/juvenile-rep-analytics/internal/cache"
)

var loadForce bool

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load the dataset once and print a summary",
	Long: `load runs the same load the API runs on first request: snapshot, then local
raw files, then the remote file host. With --force the raw files are downloaded
again and the snapshot is rebuilt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		if loadForce {
			err = a.data.ForceReload(ctx)
		} else {
			err = a.data.EnsureLoaded(ctx)
		}
		if err != nil {
			return err
		}

		printSummary(a.data.CacheStats(), a.data.Status().Source)
		return nil
	},
}

func init() {
	loadCmd.Flags().BoolVarP(&loadForce, "force", "f", false, "Re-download raw files before loading")
}

func printSummary(stats cache.Stats, source string) {
	green := color.New(color.FgGreen, color.Bold)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	green.Printf("✅ Dataset loaded from %s\n\n", source)
	for _, key := range cache.Keys {
		n := stats.Counts[string(key)]
		if n == 0 {
			yellow.Printf("   %-20s %10d\n", key, n)
			continue
		}
		cyan.Printf("   %-20s", key)
		fmt.Printf(" %10d\n", n)
	}
}
