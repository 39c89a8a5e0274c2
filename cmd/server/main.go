package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/okhvat/account-sessions/internal/auth"
	"github.com/okhvat/account-sessions/internal/config"
	"github.com/okhvat/account-sessions/internal/database"
	"github.com/okhvat/account-sessions/internal/handler"
	"github.com/okhvat/account-sessions/internal/middleware"
	"github.com/okhvat/account-sessions/internal/queue"
	"github.com/okhvat/account-sessions/internal/repository"
	"github.com/okhvat/account-sessions/internal/router"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env wins
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := database.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	cancel()

	accounts := repository.NewAccountRepo(db)
	tokens := repository.NewTokenRepo(db)

	var opts []auth.Option
	if cfg.AMQPURL != "" {
		pub, err := queue.NewPublisher(cfg.AMQPURL)
		if err != nil {
			log.Printf("audit publisher unavailable, events disabled: %v", err)
		} else {
			defer pub.Close()
			opts = append(opts, auth.WithAudit(pub))
			go func() {
				if err := queue.StartAuditConsumer(cfg.AMQPURL); err != nil {
					log.Printf("audit consumer stopped: %v", err)
				}
			}()
		}
	}

	refreshTTL := time.Duration(cfg.RefreshTTLDays) * 24 * time.Hour
	engine, err := auth.NewEngine(accounts, tokens, refreshTTL, opts...)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	rdb := config.NewRedisClient() // nil when Redis is unreachable; limiter fails open
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, accounts, engine), cfg.JWTSecret, limiter)
	router.RegisterAdmin(e, handler.NewAdminHandler(engine), cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
