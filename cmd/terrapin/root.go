package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terrapinhq/terrapin/internal/logging"
	"github.com/terrapinhq/terrapin/interp"
)

var rootCmd = &cobra.Command{
	Use:   "terrapin",
	Short: "Turtle-graphics coding playground engine",
	Long: `terrapin - Run learner scripts against a sandboxed WASM interpreter
with turtle graphics, lesson validation, and progress tracking.

The interpreter binary is external: point --interpreter (or the
TERRAPIN_INTERPRETER environment variable) at a tlang WASM build.`,
}

var log *zap.Logger

func Execute() {
	// A .env next to the binary is a development convenience; absence
	// is not an error.
	_ = godotenv.Load()
	log = logging.New()
	defer log.Sync()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("interpreter", "", "Path to the interpreter WASM binary (env: TERRAPIN_INTERPRETER)")
	rootCmd.PersistentFlags().String("cache-dir", "", "Compilation cache directory (empty disables the cache)")
	rootCmd.PersistentFlags().String("memory", "256mb", "Interpreter memory limit: 1mb, 16mb, 64mb, 256mb, 1gb")
}

func interpreterPath(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("interpreter")
	if path == "" {
		path = os.Getenv("TERRAPIN_INTERPRETER")
	}
	if path == "" {
		return "", fmt.Errorf("interpreter binary required: use --interpreter or set TERRAPIN_INTERPRETER")
	}
	return path, nil
}

// parseMemoryLimit maps the human flag value to wazero memory pages
// (64KiB each). Unknown values fall back to the runtime default.
func parseMemoryLimit(s string) uint32 {
	switch strings.ToLower(s) {
	case "1mb":
		return 16
	case "16mb":
		return 256
	case "64mb":
		return 1024
	case "256mb":
		return 4096
	case "1gb":
		return 16384
	default:
		return 0
	}
}

func clientOptions(cmd *cobra.Command, call interp.CallHandler) []interp.Option {
	cacheDir, _ := cmd.Flags().GetString("cache-dir")
	memory, _ := cmd.Flags().GetString("memory")

	opts := []interp.Option{interp.WithLogger(log.Named("interp"))}
	if call != nil {
		opts = append(opts, interp.WithCallHandler(call))
	}
	if cacheDir != "" {
		opts = append(opts, interp.WithCompilationCacheDir(cacheDir))
	}
	if pages := parseMemoryLimit(memory); pages > 0 {
		opts = append(opts, interp.WithMemoryLimit(pages))
	}
	return opts
}
