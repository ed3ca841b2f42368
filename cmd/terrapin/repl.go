package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/terrapinhq/terrapin/engine"
	"github.com/terrapinhq/terrapin/interp"
	"github.com/terrapinhq/terrapin/turtle"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive session with persistent state",
	Long: `Start an interactive REPL against one persistent interpreter session.

Features:
  - Command history (up/down arrows)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)
  - :save FILE writes the turtle canvas as PNG

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	Run: runRepl,
}

func init() {
	replCmd.Flags().Duration("timeout", 30*time.Second, "Per-evaluation timeout")
	replCmd.Flags().String("history", "", "History file path (default: ~/.terrapin_history)")
	replCmd.Flags().String("canvas", "800x600", "Canvas size as WIDTHxHEIGHT")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) {
	path, err := interpreterPath(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	historyFile, _ := cmd.Flags().GetString("history")
	canvasSize, _ := cmd.Flags().GetString("canvas")

	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".terrapin_history")
	}

	width, height, err := parseCanvas(canvasSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	t := turtle.NewWithSurface(width, height)
	bind := turtle.Bind(t)

	client := interp.NewClient(interp.DefaultProfile(path), clientOptions(cmd, bind.Call)...)
	eng := engine.New(client, engine.WithLogger(log.Named("engine")))
	if err := client.Initialize(cmd.Context(), eng.Handlers()); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting session: %v\n", err)
		os.Exit(1)
	}
	defer client.Dispose()
	defer eng.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	if v, err := client.Version(cmd.Context()); err == nil {
		fmt.Fprintf(os.Stderr, "terrapin %s REPL (type 'exit' to quit, Ctrl+D to exit)\n", v)
	} else {
		fmt.Fprintln(os.Stderr, "terrapin REPL (type 'exit' to quit, Ctrl+D to exit)")
	}

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if err == io.EOF {
				fmt.Println()
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			break
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if target, ok := strings.CutPrefix(line, ":save "); ok {
			if err := t.SavePNG(strings.TrimSpace(target)); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			continue
		}

		res := eng.Execute(cmd.Context(), engine.Request{
			SourceText: line,
			Timeout:    timeout,
			OutputSink: func(text string) { fmt.Print(text) },
			ErrorSink: func(detail interp.ErrorDetail) {
				fmt.Fprintf(os.Stderr, "%s\n", detail.Error())
			},
		})
		if !res.Success {
			for _, detail := range res.Errors {
				fmt.Fprintf(os.Stderr, "%s\n", detail.Error())
			}
		}
	}
}
