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

	"qa-api/internal/answers"
	"qa-api/internal/buckets"
	"qa-api/internal/database"
	"qa-api/internal/handlers/answer"
	"qa-api/internal/middleware"
	"qa-api/internal/routers"
	"qa-api/internal/setup"
	"qa-api/internal/shared"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Flags / ENV Variables
	addr := flag.String("addr", shared.DefaultAddr, "Listen address")
	writeDSN := flag.String("dsn", "", "Request log DSN, empty disables the request log")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key")
	redisAddr := flag.String("redis-addr", "", "Redis host:port, empty disables the answer cache")
	answerCacheTTL := flag.Duration("answer-cache-ttl", shared.AnswerCacheTTL, "Answer cache TTL")
	tokenizeModel := flag.String("tokenize-model", shared.DefaultTokenizeModel, "Tokenizer used by /tokenize")
	models := flag.String("models", "", "Comma separated tokenizer model ids requests may select, besides the defaults")
	modelPaths := flag.String("model-paths", "", "Comma separated ONNX model paths requests may select, besides the default")
	pf := setup.RegisterPipelineFlags(flag.CommandLine)

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	log, err := setup.NewLogger(*pf.Debug)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = log.Sync()
	}()

	var cache *answers.Cache
	if *redisAddr != "" {
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
		}()
		cache = answers.NewCache(redisClient, *answerCacheTTL, log)
		log.Infow("Answer cache enabled", "addr", *redisAddr, "ttl", answerCacheTTL.String())
	}

	var requestLog *buckets.RequestLog
	if *writeDSN != "" {
		writeDB, err := sql.Open("mysql", *writeDSN)
		if err != nil {
			panic(fmt.Sprintf("failed initializing sqlClient: %s", err))
		}
		if err := writeDB.Ping(); err != nil {
			panic(fmt.Sprintf("failed ping to sql db: %s", err))
		}
		defer func() {
			_ = writeDB.Close()
		}()
		requestLog = buckets.NewRequestLog(log, database.NewRequestStore(writeDB, log), buckets.DefaultConfig())
		log.Info("Request log enabled")
	}

	pipeline, eng, err := setup.NewPipeline(pf, log)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			log.Warnw("Failed to release model sessions", "error", err)
		}
	}()
	handler := answer.NewHandler(pipeline, cache, requestLog, answer.Config{
		TokenizeModel: *tokenizeModel,
		Models:        shared.SplitList(*models),
		ModelPaths:    shared.SplitList(*modelPaths),
	}, log)

	e := echo.New()
	e.HideBanner = true
	e.GET(("/ping"), func(c echo.Context) error {
		return c.String(200, "")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), middleware.RequireAPIKey(*metricsAPIKey))
	base := e.Group("")
	base.Use(emw.CORS())
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))

	routers.RegisterQARoutes(base, handler)

	go func() {
		log.Infow("Starting server", "addr", *addr, "model_path", *pf.ModelPath, "model_name", *pf.ModelName)
		if err := e.Start(*addr); err != nil && err != http.ErrServerClosed {
			log.Fatalw("shutting down the server", "error", err)
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Errorw("Failed graceful shutdown", "error", err)
	}
	requestLog.Shutdown()
}
