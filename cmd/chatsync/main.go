package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"chatsync/internal/app"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")
	addrVal, cacheVal, cfgVal, setFlags := config.ParseCommandFlags()

	// Resolve config path (file flag wins over env)
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])

	cfg, _, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Flags explicitly set win over env/config.
	var addr string
	if setFlags["addr"] || cfg.Debug.Addr == "" {
		addr = addrVal
	} else {
		addr = cfg.DebugAddr()
	}
	if setFlags["cache"] {
		cfg.Cache.Path = cacheVal
	}

	if cfg.Logging.Sink != "" && os.Getenv("CHATSYNC_LOG_SINK") == "" {
		_ = os.Setenv("CHATSYNC_LOG_SINK", cfg.Logging.Sink)
	}
	if cfg.Logging.Level != "" {
		logger.InitWithLevel(cfg.Logging.Level)
	} else {
		logger.Init()
	}

	a, err := app.New(cfg, addr, version, commit, buildDate)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_received", "signal", s.String())
		cancel()
	}()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
