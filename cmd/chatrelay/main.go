package main

import (
	"context"

	"github.com/joho/godotenv"

	"chatrelay/internal/app"
	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/shutdown"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load(".env")

	flags := config.ParseConfigFlags()
	eff, err := config.LoadEffective(flags)
	if err != nil {
		logger.Init("")
		shutdown.Abort("config load failed", err, "")
	}

	logger.Init(eff.Config.Logging.Level)

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, eff.DBPath)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server failed", err, eff.DBPath)
	}
	logger.Sync()
}
