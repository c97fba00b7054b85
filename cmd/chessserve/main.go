// chessserve is the realtime chess server: websocket matchmaking and game
// play backed by BadgerDB, with an optional built-in engine opponent.
package main

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hailam/chessserve/internal/auth"
	"github.com/hailam/chessserve/internal/bot"
	"github.com/hailam/chessserve/internal/config"
	"github.com/hailam/chessserve/internal/game"
	"github.com/hailam/chessserve/internal/hub"
	"github.com/hailam/chessserve/internal/match"
	"github.com/hailam/chessserve/internal/server"
	"github.com/hailam/chessserve/internal/storage"
)

var (
	configPath = flag.String("config", "", "path to TOML config file")
	addr       = flag.String("addr", "", "listen address (overrides config)")
	dbDir      = flag.String("db", "", "BadgerDB directory (overrides config)")
	jwtSecret  = flag.String("secret", "", "JWT signing secret (overrides config)")
	logLevel   = flag.String("log-level", "", "log level (overrides config)")
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// sysRNG adapts math/rand, whose top-level functions are safe for
// concurrent use.
type sysRNG struct{}

func (sysRNG) Intn(n int) int { return rand.Intn(n) }
func (sysRNG) Bool() bool     { return rand.Intn(2) == 0 }

// gameRepo adapts the store to the repository port shared by hub and match.
type gameRepo struct {
	store *storage.Store
}

func (r gameRepo) Save(ctx context.Context, g *game.Game) error {
	return r.store.SaveGame(ctx, g)
}

func (r gameRepo) Find(ctx context.Context, id game.GameID) (*game.Game, error) {
	return r.store.FindGame(ctx, id)
}

// registrar adapts EnsureUser to the login endpoint's port.
type registrar struct {
	store *storage.Store
	clock realClock
}

func (r registrar) Register(ctx context.Context, username string) (game.UserID, error) {
	u, err := r.store.EnsureUser(ctx, username, false, r.clock.Now())
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func main() {
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			logrus.WithError(err).Fatal("load config")
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbDir != "" {
		cfg.DBDir = *dbDir
	}
	if *jwtSecret != "" {
		cfg.JWTSecret = *jwtSecret
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	log := newLogger(cfg.Log)

	secret := cfg.JWTSecret
	if secret == "" {
		secret = ephemeralSecret(log)
	}

	store, err := storage.Open(cfg.DBDir, log)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer store.Close()

	clock := realClock{}
	rng := sysRNG{}
	repo := gameRepo{store: store}

	hubDeps := hub.Deps{
		Repo:  repo,
		Clock: clock,
		Log:   log,
	}
	var selector *bot.Selector
	if cfg.Bot.Enabled {
		difficulty, err := bot.ParseDifficulty(cfg.Bot.Difficulty)
		if err != nil {
			log.WithError(err).Fatal("bot difficulty")
		}
		botUser, err := store.EnsureUser(context.Background(), cfg.Bot.Username, true, clock.Now())
		if err != nil {
			log.WithError(err).Fatal("seed bot user")
		}
		selector = &bot.Selector{BotUserID: botUser.ID}
		hubDeps.Bots = store
		hubDeps.Engine = bot.New(difficulty, rng, log)
		hubDeps.BotTimeout = cfg.Bot.MoveTimeout.Duration
		log.WithFields(logrus.Fields{
			"userId":     botUser.ID,
			"username":   cfg.Bot.Username,
			"difficulty": cfg.Bot.Difficulty,
		}).Info("bot opponent enabled")
	}
	hubDeps.Stats = store

	registry := hub.NewRegistry(hubDeps, cfg.HubIdleTTL.Duration)
	registry.Start()
	defer registry.Stop()

	conns := server.NewConnRegistry()
	factory := &hub.Factory{Repo: repo, Clock: clock}
	opts := match.Options{MatchTTL: cfg.MatchTTL.Duration}
	if selector != nil {
		opts.Bots = selector
	}
	mm := match.New(store, factory, conns, clock, rng, log, opts)

	srv := server.New(server.Deps{
		Auth:       auth.NewTokenAuthenticator([]byte(secret)),
		Issuer:     auth.NewIssuer([]byte(secret), cfg.TokenTTL.Duration),
		Users:      registrar{store: store, clock: clock},
		Matchmaker: mm,
		Games:      registry,
		Conns:      conns,
		Clock:      clock,
		Log:        log,
	})

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.WithField("addr", cfg.Addr).Info("listening")
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace.Duration)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		log.WithField("level", cfg.Level).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// ephemeralSecret generates a process-lifetime signing secret. Tokens stop
// working across restarts; set jwt_secret for anything beyond development.
func ephemeralSecret(log *logrus.Logger) string {
	buf := make([]byte, 32)
	if _, err := cryptorand.Read(buf); err != nil {
		log.WithError(err).Fatal("generate jwt secret")
	}
	log.Warn("no jwt_secret configured, using an ephemeral secret")
	return hex.EncodeToString(buf)
}
