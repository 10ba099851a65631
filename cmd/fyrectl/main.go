package main

import (
	"context"
	"fmt"
	fyre_go "fyre-go"
	"os"
	"os/signal"
	"syscall"

	"github.com/jimsnab/go-cmdline"
	"github.com/rs/zerolog"
)

func main() {
	cl := cmdline.NewCommandLine()

	cl.RegisterCommand(
		demoHandler,
		"~ [<string-host>]?Animates a scene on a Fyre server running in remote-control mode. <host> defaults to localhost, the port to 7931.",
		"[--config <string-file>]?Read settings from a TOML file",
		"[--scene <string-scene>]?YAML scene with the parameters to set and the ones to animate",
		"[--steps <int-steps>]?Stop after this many frames. The default runs until interrupted.",
		"[--trace]?Enable trace logging",
	)

	cl.RegisterCommand(
		shellHandler,
		"shell [<string-host>]?Sends each entered line as one command and prints the response",
		"[--config <string-file>]?Read settings from a TOML file",
		"[--trace]?Enable trace logging",
	)

	args := os.Args[1:] // exclude executable name in os.Args[0]
	err := cl.Process(args)
	if err != nil {
		cl.Help(err, "fyrectl", args)
		os.Exit(2)
	}
}

func demoHandler(args cmdline.Values) error {
	exitOnError(demo(args))
	return nil
}

func shellHandler(args cmdline.Values) error {
	exitOnError(shell(args))
	return nil
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "fyrectl: %v\n", err)
		os.Exit(1)
	}
}

// settings merges the optional config file with the command line.
func settings(args cmdline.Values) (appConfig, error) {
	cfg := defaultAppConfig()
	if file, _ := args["file"].(string); file != "" {
		var err error
		if cfg, err = loadAppConfig(file); err != nil {
			return appConfig{}, err
		}
	}
	if host, _ := args["host"].(string); host != "" {
		cfg.Host = host
	}
	if sc, _ := args["scene"].(string); sc != "" {
		cfg.Scene = sc
	}
	if steps, _ := args["steps"].(int); steps != 0 {
		if steps < 0 {
			return appConfig{}, fmt.Errorf("--steps must not be negative, got %d", steps)
		}
		cfg.Steps = steps
	}
	return cfg, nil
}

type session struct {
	log    zerolog.Logger
	cli    *fyre_go.Client
	ctx    context.Context
	closer func()
}

// open sets up logging and signal handling, then connects to cfg.Host.
func open(cfg appConfig, trace bool) (*session, error) {
	log, logFile, err := newLogger(cfg.Log, trace, os.Stderr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	clientCfg := cfg.Client
	clientCfg.Logger = &log
	cli, err := fyre_go.NewClient(ctx, cfg.Host, clientCfg)
	if err != nil {
		cancel()
		_ = logFile.Close()
		return nil, err
	}

	return &session{
		log:    log,
		cli:    cli,
		ctx:    ctx,
		closer: func() {
			_ = cli.Close()
			cancel()
			_ = logFile.Close()
		},
	}, nil
}

func demo(args cmdline.Values) error {
	cfg, err := settings(args)
	if err != nil {
		return err
	}
	sc, err := loadScene(cfg.Scene)
	if err != nil {
		return err
	}

	trace, _ := args["--trace"].(bool)
	s, err := open(cfg, trace)
	if err != nil {
		return err
	}
	defer s.closer()

	return runDemo(s.ctx, s.cli, cfg, sc, s.log)
}

func shell(args cmdline.Values) error {
	cfg, err := settings(args)
	if err != nil {
		return err
	}

	trace, _ := args["--trace"].(bool)
	s, err := open(cfg, trace)
	if err != nil {
		return err
	}
	defer s.closer()

	editor := newLineEditor()
	defer editor.Close()

	return runShell(s.ctx, s.cli, editor, os.Stdout)
}
