package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	fyre_go "fyre-go"
	"fyre-go/fyre"
	"fyre-go/gonet"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

const (
	historyFileName = ".fyrectl_history"
	historySize     = 500
	shellPrompt     = "fyre> "
)

type lineReader interface {
	GetLine(prompt string) (string, error)
}

// lineEditor uses readline on a terminal and a plain scanner for piped input.
type lineEditor struct {
	rl      *readline.Instance
	scanner *bufio.Scanner
	out     io.Writer
}

func newLineEditor() *lineEditor {
	plain := &lineEditor{scanner: bufio.NewScanner(os.Stdin), out: os.Stdout}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return plain
	}

	var history string
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, historyFileName)
	}
	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:            history,
		HistoryLimit:           historySize,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline unavailable (%v), using basic input\n", err)
		return plain
	}
	return &lineEditor{rl: rl}
}

func (le *lineEditor) GetLine(prompt string) (string, error) {
	if le.rl == nil {
		fmt.Fprint(le.out, prompt)
		if !le.scanner.Scan() {
			if err := le.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return le.scanner.Text(), nil
	}

	le.rl.SetPrompt(prompt)
	line, err := le.rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) {
			return "", io.EOF
		}
		return "", err
	}
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		le.rl.SaveToHistory(trimmed)
	}
	return line, nil
}

func (le *lineEditor) Close() {
	if le.rl != nil {
		le.rl.Close()
		le.rl = nil
	}
}

// runShell sends every entered line as one query and prints the response.
// Lines starting with a dot are shell commands.
func runShell(ctx context.Context, cli *fyre_go.Client, in lineReader, out io.Writer) error {
	for {
		line, err := in.GetLine(shellPrompt)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case ".quit", ".exit":
			return nil
		case ".flush":
			err = cli.Flush(ctx)
			if err == nil {
				fmt.Fprintln(out, "ok")
			}
		case ".pending":
			for _, cmd := range cli.Pending() {
				fmt.Fprintln(out, cmd)
			}
		case ".help":
			fmt.Fprintln(out, "Each line is sent as one command and its response is printed.")
			fmt.Fprintln(out, ".flush .pending .quit")
		default:
			err = query(ctx, cli, line, out)
		}

		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			if connectionLost(err) {
				return err
			}
		}
	}
}

func query(ctx context.Context, cli *fyre_go.Client, line string, out io.Writer) error {
	fields := strings.Fields(line)
	tokens := make([]any, len(fields))
	for i, f := range fields {
		tokens[i] = f
	}

	resp, err := cli.Query(ctx, tokens...)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d %s\n", resp.Code, resp.Message)
	if resp.Code == fyre.Binary {
		fmt.Fprintf(out, "(%d bytes of binary data)\n", len(resp.Data))
	}
	return nil
}

func connectionLost(err error) bool {
	var terr *gonet.TransportError
	return errors.As(err, &terr) ||
		errors.Is(err, gonet.ErrConnClosed) ||
		errors.Is(err, gonet.ErrTimeout) ||
		errors.Is(err, context.Canceled)
}
