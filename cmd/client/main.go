package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"shieldchat/internal/config"
	"shieldchat/internal/service/app"
	"shieldchat/internal/service/pipeline"
	"shieldchat/internal/utils/log"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config file] <channel> <sender>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}

	channel, err := solana.PublicKeyFromBase58(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid channel:", err)
		os.Exit(2)
	}
	sender := flag.Arg(1)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	// the terminal belongs to the UI; keep the log quiet
	log.SetLevel("error")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.Build(ctx, cfg, nil)
	if err != nil {
		log.Fatal("build pipeline failed", zap.Error(err))
	}
	defer p.Close()

	ui := app.NewApp(p.Session)
	go func() {
		<-ctx.Done()
		ui.Stop()
	}()

	if err := ui.Run(ctx, channel, sender); err != nil {
		log.Error("ui stopped", zap.Error(err))
	}
}
