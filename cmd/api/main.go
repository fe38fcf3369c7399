package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tokenrelay/internal/chat"
	"tokenrelay/internal/database"
	"tokenrelay/internal/dispatch"
	"tokenrelay/internal/engine"
	"tokenrelay/internal/middleware"
	"tokenrelay/internal/routers"
	"tokenrelay/internal/session"
	"tokenrelay/internal/shared"
	"tokenrelay/internal/stats"
	"tokenrelay/internal/users"
)

func main() {
	// Flags / ENV Variables
	writeDSN := flag.String("dsn", "", "Write DSN")
	readDSN := flag.String("read-dsn", "", "Read replica DSN")
	redisAddr := flag.String("redis-addr", "", "Redis host:port")
	engineURL := flag.String("engine-url", "", "Generation engine base URL")
	listenAddr := flag.String("listen", ":8080", "Listen address")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key")
	maxSessions := flag.Int("max-sessions", shared.DefaultMaxSessions, "Max concurrent generations")
	debug := flag.Bool("debug", false, "Debug enabled: sim engine, in-memory chats, anonymous users")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	var logger *zap.Logger
	if !*debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if *debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()

	var (
		eng       engine.Engine
		chatStore chat.Store
		userMgr   *users.Manager
		usage     *stats.Recorder
	)

	if *debug {
		eng = &engine.SimEngine{StepDelay: 50 * time.Millisecond}
		chatStore = chat.NewMemStore()
		userMgr = users.NewManager(nil, nil, log)
		userMgr.AllowAnonymous = true
		usage = stats.NewRecorder(nil, log)
		log.Warn("debug mode: sim engine, in-memory chat store, anonymous access")
	} else {
		if *engineURL == "" {
			panic("engine-url is required outside debug mode")
		}

		// Write DB init
		writeDB, err := sql.Open("mysql", *writeDSN)
		if err != nil {
			panic(fmt.Sprintf("failed initializing sqlClient: %s", err))
		}
		err = writeDB.Ping()
		if err != nil {
			panic(fmt.Sprintf("failed ping to sql db: %s", err))
		}

		// Read db init
		readDB, err := sql.Open("mysql", *readDSN)
		if err != nil {
			panic(fmt.Sprintf("failed initializing readSqlClient: %s", err))
		}
		err = readDB.Ping()
		if err != nil {
			panic(fmt.Sprintf("failed to ping read replica sql db: %s", err))
		}

		// Load Redis connection
		redisClient := redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: "",
			DB:       0,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			panic(fmt.Sprintf("failed ping to redis db: %s", err))
		}

		defer func() {
			_ = redisClient.Close()
			_ = writeDB.Close()
			_ = readDB.Close()
		}()

		eng = engine.NewHTTPEngine(*engineURL, log)
		chatStore = chat.NewSQLStore(writeDB, readDB, redisClient, log)
		userMgr = users.NewManager(redisClient, readDB, log)
		usage = stats.NewRecorder(func(ctx context.Context, rows []stats.UsageRow) error {
			return database.SaveDailyUsage(ctx, writeDB, rows)
		}, log)
	}
	defer usage.Shutdown()

	registry := session.NewRegistry(*maxSessions, log)
	dispatcher := dispatch.NewManager(eng, registry, log)

	e := echo.New()
	e.GET("/ping", func(c echo.Context) error {
		return c.String(200, "")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey, err := shared.ExtractAPIKey(c)
			if err != nil {
				return c.String(401, "Missing or invalid API key")
			}

			if apiKey != *metricsAPIKey {
				return c.String(401, "Unauthorized API key")
			}
			return next(c)
		}
	})

	base := e.Group("")
	base.Use(emw.CORS())
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))

	if err := routers.RegisterRelayRoutes(base, dispatcher, chatStore, userMgr, usage, log); err != nil {
		panic(err)
	}

	go func() {
		if err := e.Start(*listenAddr); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Wait for interrupt signal to gracefully shut down the server.
	<-ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
}
