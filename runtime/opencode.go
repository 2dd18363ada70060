package main

import (
	ctx "context"
	"flag"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/requiem-ai/opencode-agent/config"
	"github.com/requiem-ai/opencode-agent/context"
	"github.com/requiem-ai/opencode-agent/services"
)

func main() {
	setupSkip := flag.Bool("setup-skip", false, "Skip the interactive setup wizard")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading configuration")
	}
	if *setupSkip {
		cfg.SetupSkip = true
	}

	setupLogging(cfg, os.Stdout)

	log.Info().Str("base_url", cfg.BaseURL).Str("storage", cfg.StoragePath).Msg("Starting OpenCode agent")

	appCtx, err := context.NewCtx(
		//Core
		&services.HostService{Config: cfg},
		&services.SetupService{Config: cfg},
		&services.AgentService{},
		//Front ends
		&services.TelegramService{Config: cfg},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Error building service context")
		return
	}

	if err := appCtx.Run(ctx.Background()); err != nil {
		log.Fatal().Err(err).Msg("Service context stopped with error")
	}
}

func setupLogging(cfg *config.Config, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	if strings.ToLower(cfg.LogFormat) == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		})
	}

	logLevel := strings.ToLower(cfg.LogLevel)
	switch logLevel {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "info":
		fallthrough
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Info().Str("level", logLevel).Msg("Setting Log Level")
}
