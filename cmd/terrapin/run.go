package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrapinhq/terrapin/engine"
	"github.com/terrapinhq/terrapin/engine/worker"
	"github.com/terrapinhq/terrapin/interp"
	"github.com/terrapinhq/terrapin/turtle"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run a script once",
	Long: `Execute a tlang script against the sandboxed interpreter.

Code can be provided via:
  - File argument: terrapin run script.tl
  - Inline flag: terrapin run -c 'forward(100)'
  - Stdin: echo 'forward(100)' | terrapin run`,
	Args: cobra.MaximumNArgs(1),
	Run:  runRun,
}

func init() {
	runCmd.Flags().StringP("code", "c", "", "Code to execute")
	runCmd.Flags().Duration("timeout", 30*time.Second, "Execution timeout (0 disables)")
	runCmd.Flags().Bool("worker", false, "Run in an isolated worker that can be hard-killed")
	runCmd.Flags().StringP("out", "o", "", "Write the turtle canvas to this PNG file")
	runCmd.Flags().String("canvas", "800x600", "Canvas size as WIDTHxHEIGHT")
	rootCmd.AddCommand(runCmd)
}

func parseCanvas(s string) (w, h int, err error) {
	parts := strings.SplitN(strings.ToLower(s), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid canvas size %q (expected WIDTHxHEIGHT)", s)
	}
	w, err = strconv.Atoi(parts[0])
	if err == nil {
		h, err = strconv.Atoi(parts[1])
	}
	if err != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid canvas size %q (expected WIDTHxHEIGHT)", s)
	}
	return w, h, nil
}

func readSource(cmd *cobra.Command, args []string) (string, bool) {
	code, _ := cmd.Flags().GetString("code")

	switch {
	case code != "":
		return code, true
	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return string(data), true
	default:
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) != 0 {
			return "", false
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return string(data), len(data) > 0
	}
}

func runRun(cmd *cobra.Command, args []string) {
	source, ok := readSource(cmd, args)
	if !ok {
		cmd.Help()
		return
	}

	path, err := interpreterPath(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	useWorker, _ := cmd.Flags().GetBool("worker")
	outPath, _ := cmd.Flags().GetString("out")
	canvas, _ := cmd.Flags().GetString("canvas")

	var t *turtle.Turtle
	if outPath != "" {
		width, height, err := parseCanvas(canvas)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		t = turtle.NewWithSurface(width, height)
	} else {
		t = turtle.New()
	}
	bind := turtle.Bind(t)

	profile := interp.DefaultProfile(path)

	var eng *engine.Engine
	if useWorker {
		// The worker's client relays turtle calls out as command
		// messages; the engine applies them via bind.Call here.
		factory := func(ctx context.Context, h interp.Handlers, call interp.CallHandler) (worker.Session, error) {
			c := interp.NewClient(profile, clientOptions(cmd, call)...)
			if err := c.Initialize(ctx, h); err != nil {
				return nil, err
			}
			return c, nil
		}
		eng = engine.New(nil,
			engine.WithWorkerFactory(factory),
			engine.WithCallHandler(bind.Call),
			engine.WithLogger(log.Named("engine")))
	} else {
		client := interp.NewClient(profile, clientOptions(cmd, bind.Call)...)
		eng = engine.New(client, engine.WithLogger(log.Named("engine")))
		if err := client.Initialize(cmd.Context(), eng.Handlers()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer client.Dispose()
	}
	defer eng.Close()

	res := eng.Execute(cmd.Context(), engine.Request{
		SourceText: source,
		Timeout:    timeout,
		UseWorker:  useWorker,
		OutputSink: func(text string) { fmt.Print(text) },
		ErrorSink: func(detail interp.ErrorDetail) {
			fmt.Fprintf(os.Stderr, "%s\n", detail.Error())
		},
	})

	if outPath != "" {
		if err := t.SavePNG(outPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing canvas: %v\n", err)
			os.Exit(1)
		}
	}

	if !res.Success {
		for _, detail := range res.Errors {
			fmt.Fprintf(os.Stderr, "Error: %s\n", detail.Error())
		}
		os.Exit(1)
	}
}
