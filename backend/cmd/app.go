package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/adwski/chat-backend/backend/auth"
	"github.com/adwski/chat-backend/backend/router"
	httpServer "github.com/adwski/chat-backend/backend/server/http"
	websocketServer "github.com/adwski/chat-backend/backend/server/websocket"
	"github.com/adwski/chat-backend/backend/service"
	"github.com/adwski/chat-backend/backend/storage/memory"
	"github.com/adwski/chat-backend/backend/storage/sqlite"
	sw "github.com/adwski/chat-backend/backend/switch"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		apiListenAddr = fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", ":8888", "websocket listen address")
		logLevel      = fs.StringP("log-level", "l", "debug", "log level")
		dbPath        = fs.String("db", "chat.db", "sqlite database file")
		dbDebug       = fs.Bool("db-debug", false, "log sql statements")
		jwtSecret     = fs.String("jwt-secret", os.Getenv("JWT_SECRET"), "token signing secret (defaults to $JWT_SECRET)")
		tokenTTL      = fs.Duration("token-ttl", 30*24*time.Hour, "token lifetime")
		bcryptCost    = fs.Int("bcrypt-cost", auth.DefaultBcryptCost, "password hashing cost")
		pongWait      = fs.Duration("pong-wait", time.Minute, "idle time after which connection is considered dead")
		pingInterval  = fs.Duration("ping-interval", 0, "websocket ping interval (defaults to 90% of pong wait)")
		allowedOrigin = fs.String("allowed-origin", "*", "allowed CORS and websocket origin")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	if *jwtSecret == "" {
		logger.Fatal().Msg("jwt secret is not set")
	}

	store, err := sqlite.Open(sqlite.Config{DSN: *dbPath, Debug: *dbDebug})
	if err != nil {
		logger.Fatal().Err(err).Str("db", *dbPath).Msg("failed to open database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close database")
		}
	}()

	var (
		reg   = memory.NewMemStore()
		swtch = sw.NewSwitch(&logger)
		rt    = router.NewRouter(router.Config{
			Logger:   &logger,
			Registry: reg,
			Switch:   swtch,
		})
	)
	svc := service.NewService(service.Config{
		Store:  store,
		Hasher: auth.NewPasswordHasher(*bcryptCost),
		Tokens: auth.NewTokens(auth.TokenConfig{
			Secret: *jwtSecret,
			TTL:    *tokenTTL,
		}),
		Registry: reg,
		Switch:   swtch,
		Router:   rt,
		Logger:   &logger,
	})
	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:        &logger,
		ChatService:   svc,
		Stats:         rt,
		ListenAddr:    *apiListenAddr,
		AllowedOrigin: *allowedOrigin,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:         &logger,
		SessionService: svc,
		ListenAddr:     *wsListenAddr,
		AllowedOrigin:  *allowedOrigin,
		PongWait:       *pongWait,
		PingInterval:   *pingInterval,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
