package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logLevelEnv = "FYRE_LOG_LEVEL"

// newLogger builds the console logger and, when cfg.File is set, a rotating
// file sink next to it. The returned closer releases the file.
func newLogger(cfg logConfig, trace bool, console io.Writer) (zerolog.Logger, io.Closer, error) {
	levelName := cfg.Level
	if env := os.Getenv(logLevelEnv); env != "" {
		levelName = env
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(levelName)))
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("log level %q: %w", levelName, err)
	}
	if trace {
		level = zerolog.TraceLevel
	}

	output := zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: time.RFC3339,
		NoColor:    cfg.NoColor || !isTerminal(console),
	}

	var closer io.Closer = io.NopCloser(nil)
	var w io.Writer = output
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		w = zerolog.MultiLevelWriter(output, file)
		closer = file
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Str("app", "fyrectl").Logger()
	return logger, closer, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
