package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/joho/godotenv"

	"cryptotrader/config"
	"cryptotrader/internal/metrics"
	"cryptotrader/logger"
	"cryptotrader/server"
	"cryptotrader/stream"
	"cryptotrader/trading"
	"cryptotrader/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Cryptotrader.Name,
		"version": cfg.Cryptotrader.Version,
	}).Info("starting cryptotrader")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	if cfg.Logging.DashboardName != "" {
		logger.InitCloudWatch("", cfg.Cryptotrader.Name, cfg.Logging.DashboardName)
	}

	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Address)
	}

	// UseTestnet must be set before the client is created.
	futures.UseTestnet = cfg.Binance.Testnet
	client := futures.NewClient(cfg.Binance.APIKey, cfg.Binance.APISecret)

	streamer := stream.NewBinanceStreamer(cfg, client)
	hub := stream.NewHub(cfg)
	mux := stream.NewMultiplexer(cfg, hub, streamer)
	bot := trading.NewBot(cfg, client)
	srv := server.NewServer(cfg, hub, mux, bot)

	var archiver *writer.TickerArchiver
	if cfg.Archive.Enabled {
		archiver, err = writer.NewTickerArchiver(cfg, streamer)
		if err != nil {
			log.WithError(err).Error("failed to create ticker archiver")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("archive disabled; skipping ticker archiver")
	}

	if err := streamer.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start binance streamer")
		os.Exit(1)
	}
	if err := mux.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start stream multiplexer")
		os.Exit(1)
	}
	if archiver != nil {
		if err := archiver.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start ticker archiver")
			os.Exit(1)
		}
	}

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			serverErr <- err
		}
	}()

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case err := <-serverErr:
		log.WithError(err).Error("http server failed")
	}

	log.Info("starting graceful shutdown")
	cancel()

	if archiver != nil {
		log.Info("stopping ticker archiver")
		archiver.Stop()
	}

	log.Info("stopping stream multiplexer")
	mux.Stop()

	log.Info("stopping client hub")
	hub.Stop()

	log.Info("stopping binance streamer")
	streamer.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(cfg.Server.ShutdownTimeout):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("cryptotrader stopped")
}
