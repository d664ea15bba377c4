package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gridrun/internal/api"
	"gridrun/internal/config"
	"gridrun/internal/postgres"
	"gridrun/internal/redis"
	"gridrun/internal/service/conquest"
	"gridrun/internal/service/social"
	"gridrun/internal/service/territory"
	"gridrun/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	setupLogging()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	initializeDatabaseAndCache(cfg)
	defer closeConnections()

	setupSignalHandler()

	if err := initializeServices(cfg); err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}

	worker.StartAllWorkers()

	runAPIServer(cfg)
}

func setupLogging() {
	logFile, err := os.OpenFile("gridrun.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	// The file stays open for the application lifetime.

	// Use MultiWriter to output logs to both terminal and file
	multiWriter := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multiWriter)
}

func initializeDatabaseAndCache(cfg config.Config) {
	// Initialize PostgreSQL
	postgres.Init(cfg.DBUrl)

	// Initialize Redis
	redis.Init(cfg.RedisUrl)
}

func initializeServices(cfg config.Config) error {
	store := postgres.NewTerritoryStore(postgres.GetDB())
	socialService := social.GetSocialService()

	territory.GetTerritoryService().InitService(store, cfg.ClaimLogRefreshRows)

	if err := territory.GetQueryService().InitService(context.Background(), store, socialService); err != nil {
		return err
	}

	conquest.GetConquestService().InitService(socialService, conquest.NewRedisSink())
	return nil
}

func runAPIServer(cfg config.Config) {
	// Initialize Gin router
	r := gin.Default()

	// Configure API routes
	api.SetupRouter(r)

	// Start the server
	r.Run(cfg.Port)
}

func closeConnections() {
	if err := postgres.Close(); err != nil {
		log.Printf("Error closing PostgreSQL connection: %v", err)
	}

	if err := redis.Close(); err != nil {
		log.Printf("Error closing Redis connection: %v", err)
	}

	log.Println("PostgreSQL and Redis connections closed successfully")
}

func setupSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Println("Shutdown signal received, closing connections...")
		closeConnections()
		os.Exit(0)
	}()
}
