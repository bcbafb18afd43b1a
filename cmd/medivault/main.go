package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"medivault/internal/app"
	"medivault/internal/config"
	"medivault/internal/util"
)

func main() {
	configPath := flag.String("config", config.ConfigPath, "path to the client config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: medivault [-config path] <command> [args]\n\n%s", commandHelp)
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}
	logger := util.InitLoggerTo(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = util.ContextWithLogger(ctx, logger)

	core, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init client: %v\n", err)
		os.Exit(2)
	}
	core.Initialize(ctx)

	in := newPrompter(os.Stdin, os.Stdout)
	c := &cli{app: core, in: in, out: os.Stdout}
	code := c.run(ctx, flag.Args())

	_ = in.Close()
	if err := core.Close(); err != nil {
		logger.Warn("close client failed", "err", err)
	}
	os.Exit(code)
}
