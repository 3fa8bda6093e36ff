package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"shieldchat/internal/config"
	"shieldchat/internal/metrics"
	"shieldchat/internal/service/pipeline"
	"shieldchat/internal/service/server"
	"shieldchat/internal/utils/log"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	channel := flag.String("channel", "", "Channel to subscribe to at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	log.Init(cfg.Service.Development)
	log.SetLevel(cfg.Service.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	p, err := pipeline.Build(ctx, cfg, m)
	if err != nil {
		log.Fatal("build pipeline failed", zap.Error(err))
	}
	defer p.Close()

	if *channel != "" {
		ch, err := solana.PublicKeyFromBase58(*channel)
		if err != nil {
			log.Fatal("invalid channel", zap.String("channel", *channel), zap.Error(err))
		}
		if err := p.Session.Start(ctx, ch); err != nil {
			log.Fatal("start session failed", zap.Error(err))
		}
	}

	log.Info("syncd started",
		zap.String("rpc", cfg.Ledger.RPCURL),
		zap.String("program", p.ProgramID.String()),
		zap.Bool("push", p.Feed != nil),
		zap.String("cache", cfg.Cache.Backend))

	srv := server.NewHttpServer(p.Reconciler, reg)
	if err := srv.Run(ctx, cfg.Service.ListenAddr); err != nil {
		log.Error("http server stopped", zap.Error(err))
	}
	log.Info("syncd shutting down")
}
