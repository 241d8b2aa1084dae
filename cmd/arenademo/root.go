package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/vkngwrapper/arena/arena"
	"golang.org/x/exp/slog"
)

var (
	heapSize int
	count    int
	growTo   int
	mapped   bool
	jsonOut  bool
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "arenademo",
	Short: "Exercise a fixed-size arena allocator",
	Long: `arenademo allocates an array of 32-bit integers from a fixed-size arena,
fills it, grows it with Resize, fills the extension, prints the values and
releases the array. It then checks that the arena is back to a single free chunk.

Example:
  arenademo
  arenademo --count 100 --grow-to 1000 --json
  arenademo --heap-size 4096 --mapped --verbose`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo(cmd.OutOrStdout(), newLogger(cmd.ErrOrStderr()))
	},
}

func init() {
	rootCmd.Flags().IntVar(&heapSize, "heap-size", arena.DefaultHeapSize, "Arena size in bytes, rounded down to a multiple of 8")
	rootCmd.Flags().IntVar(&count, "count", 10, "Number of integers to allocate initially")
	rootCmd.Flags().IntVar(&growTo, "grow-to", 20, "Number of integers to resize the array to")
	rootCmd.Flags().BoolVar(&mapped, "mapped", false, "Back the arena with anonymous mapped memory")
	rootCmd.Flags().BoolVar(&jsonOut, "json", false, "Print allocator statistics as JSON")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every allocator operation to stderr")
}

func newLogger(w io.Writer) *slog.Logger {
	if !verbose {
		return nil
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
