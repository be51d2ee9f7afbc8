package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/spothuman/spothuman/internal/ai"
	"github.com/spothuman/spothuman/internal/ai/openai"
	"github.com/spothuman/spothuman/internal/config"
	"github.com/spothuman/spothuman/internal/coordinator"
	"github.com/spothuman/spothuman/internal/event"
	"github.com/spothuman/spothuman/internal/game"
	"github.com/spothuman/spothuman/internal/history"
	"github.com/spothuman/spothuman/internal/queue"
	"github.com/spothuman/spothuman/internal/store"
)

var version = "dev" // Set at build time via -ldflags

// teeLog appends to the durable store and fans out to in-process subscribers.
type teeLog struct {
	db  event.Log
	mem *event.MemoryLog
}

func (t teeLog) Append(ctx context.Context, e event.Envelope) error {
	if err := t.db.Append(ctx, e); err != nil {
		return err
	}
	return t.mem.Append(ctx, e)
}

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
		fmt.Printf(`spothuman-worker - shared-store match coordinator

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     API port to listen on (default: 8080 or PORT env var)

Environment Variables:
  PORT                API port (default: 8080)
  DB_PATH             SQLite database path (default: spothuman.db)
  OPENAI_API_KEY      OpenAI API key (fallback responses without it)
  OPENAI_BASE_URL     Custom OpenAI API base URL (optional)
  OPENAI_MODEL        Model for automated responses (default: gpt-4o-mini)
  MATCH_PARTICIPANTS  Seats per match (default: 4)
  MATCH_HUMAN_SEATS   Human seats per match (default: 2)
  MATCH_ROUNDS        Rounds per match (default: 5)
  BOT_STAGGER         Delay step between automated responses (default: 2s)
  QUEUE_WORKERS       Concurrent queue consumers (default: 4)
`, os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("spothuman-worker %s\n", version)
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("opening store")
	}

	var gen ai.Generator
	if cfg.OpenAIKey != "" {
		gen = openai.New(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
	} else {
		logger.Warn().Msg("OPENAI_API_KEY unset, automated responses use canned fallbacks")
	}

	events := teeLog{db: st, mem: event.NewMemoryLog()}
	projector := history.NewProjector(logger)
	replayed, err := st.Events(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("replaying event log")
	}
	for _, e := range replayed {
		projector.Apply(e)
	}
	logger.Info().Int("events", len(replayed)).Msg("event log replayed")
	go projector.Run(ctx, events.mem.Subscribe())

	q := queue.NewMemory(cfg.QueueBuffer, logger)
	coord := coordinator.New(st, q, gen, events, cfg.Template(), logger,
		coordinator.WithStagger(cfg.BotStagger))
	q.Run(ctx, cfg.QueueWorkers, coord.HandleMessage)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info().Str("path", c.Request.URL.Path).Int("status", c.Writer.Status()).
			Dur("dur", time.Since(start)).Msg("http")
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	r.POST("/api/match", func(c *gin.Context) {
		m, err := coord.CreateMatch(c.Request.Context(), "")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"matchId": m.ID})
	})

	r.POST("/api/match/:id/join", func(c *gin.Context) {
		var req struct {
			Ref  string `json:"ref" binding:"required"`
			Name string `json:"name"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		p, err := coord.AddParticipant(c.Request.Context(), c.Param("id"), req.Ref, req.Name)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"identity": string(p.Identity)})
	})

	r.POST("/api/match/:id/start", func(c *gin.Context) {
		round, err := coord.StartMatch(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"round": round.Number, "prompt": round.Prompt})
	})

	r.POST("/api/match/:id/response", func(c *gin.Context) {
		var req struct {
			Identity string `json:"identity" binding:"required"`
			Text     string `json:"text" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		if err := coord.SubmitResponse(c.Request.Context(), c.Param("id"), game.Identity(req.Identity), req.Text); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	r.POST("/api/match/:id/vote", func(c *gin.Context) {
		var req struct {
			Voter string `json:"voter" binding:"required"`
			Guess string `json:"guess" binding:"required"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		if err := coord.SubmitVote(c.Request.Context(), c.Param("id"), game.Identity(req.Voter), game.Identity(req.Guess)); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	r.GET("/api/match/:id", func(c *gin.Context) {
		m, err := st.GetMatch(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, m)
	})

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

	srv := &http.Server{Addr: ":" + port, Handler: r}
	go func() {
		logger.Info().Str("port", port).Str("version", version).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server exited")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	q.Wait()
}

func statusFor(err error) int {
	switch err {
	case game.ErrMatchNotFound:
		return http.StatusNotFound
	case game.ErrMatchFull, game.ErrAlreadyStarted, game.ErrRosterIncomplete,
		game.ErrRoundNotResponding, game.ErrRoundNotVoting, game.ErrUnknownIdentity:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
