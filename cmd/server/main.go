package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/spothuman/spothuman/internal/ai"
	"github.com/spothuman/spothuman/internal/ai/openai"
	"github.com/spothuman/spothuman/internal/config"
	"github.com/spothuman/spothuman/internal/event"
	"github.com/spothuman/spothuman/internal/game"
	"github.com/spothuman/spothuman/internal/history"
	"github.com/spothuman/spothuman/internal/ws"
)

var version = "dev" // Set at build time via -ldflags

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`spothuman - spot-the-human match server

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables:
  PORT                Port to listen on (default: 8080)
  OPENAI_API_KEY      OpenAI API key (fallback responses without it)
  OPENAI_BASE_URL     Custom OpenAI API base URL (optional)
  OPENAI_MODEL        Model for automated responses (default: gpt-4o-mini)
  MATCH_PARTICIPANTS  Seats per match (default: 4)
  MATCH_HUMAN_SEATS   Human seats per match (default: 2)
  MATCH_ROUNDS        Rounds per match (default: 5)
  BOT_STAGGER         Delay between automated responses (default: 2s)
`, os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("spothuman %s\n", version)
		return
	}

	zerolog.TimeFieldFormat = time.RFC3339
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	port := *portFlag
	if port == "" {
		port = cfg.Port
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") {
			return
		}
		logger.Info().Str("path", path).Int("status", c.Writer.Status()).
			Dur("dur", time.Since(start)).Msg("http")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := game.NewEngine(game.NewMemoryRepository(), cfg.Template(), logger)
	eventLog := event.NewMemoryLog()
	engine.OnEvent(func(e event.Envelope) {
		if err := event.Validate(e); err != nil {
			logger.Error().Err(err).Str("type", string(e.EventType)).Msg("dropping invalid event")
			return
		}
		_ = eventLog.Append(ctx, e)
	})

	projector := history.NewProjector(logger)
	go projector.Run(ctx, eventLog.Subscribe())

	var gen ai.Generator
	if cfg.OpenAIKey != "" {
		gen = openai.New(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	} else {
		logger.Warn().Msg("OPENAI_API_KEY unset, automated responses use canned fallbacks")
	}

	hub := ws.New(engine, gen, cfg.BotStagger, logger)
	go hub.Run(ctx, eventLog.Subscribe())
	io := hub.Mount(r)
	defer io.Close()

	r.GET("/api/history", func(c *gin.Context) {
		if c.Query("status") == history.StatusCompleted {
			c.JSON(http.StatusOK, projector.ListCompleted())
			return
		}
		c.JSON(http.StatusOK, projector.ListAll())
	})
	r.GET("/api/history/:id", func(c *gin.Context) {
		rec := projector.Get(c.Param("id"))
		if rec == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	logger.Info().Str("port", port).Str("version", version).Msg("listening")
	if err := r.Run(":" + port); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}
