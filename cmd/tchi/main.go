// Command tchi runs the habitat-index pipeline and serves its query API.
//
// Usage:
//
//	tchi process --date 2024-06-01
//	tchi backfill --from 2024-06-01 --to 2024-06-30
//	tchi serve
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tchi",
		Short:         "Build and query the habitat-index rasters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newProcessCmd(), newBackfillCmd(), newServeCmd())
	return root
}
