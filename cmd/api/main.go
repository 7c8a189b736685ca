package main

import (
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openmod-tracker/assume/internal/api/handlers"
	"github.com/openmod-tracker/assume/internal/api/middleware"
	"github.com/openmod-tracker/assume/internal/clock"
	"github.com/openmod-tracker/assume/internal/config"
	"github.com/openmod-tracker/assume/internal/logging"
	"github.com/openmod-tracker/assume/internal/sim"
)

func main() {
	log, err := logging.New()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfgPath := os.Getenv("ASSUME_CONFIG")
	if cfgPath == "" {
		cfgPath = "examples/twostage.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal("config load failed", zap.String("path", cfgPath), zap.Error(err))
	}
	cfg.LoadEnv("")

	coord, adapter, err := sim.Build(cfg, log, clock.Real{})
	if err != nil {
		log.Fatal("market setup failed", zap.Error(err))
	}

	hub := handlers.NewSettlementHub(log)
	adapter.Observe(hub)

	if os.Getenv("API_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Logger(log))
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.CORS())

	ordersHandler := handlers.NewOrdersHandler(adapter)
	roundsHandler := handlers.NewRoundsHandler(coord)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", ordersHandler.Submit)
		v1.POST("/rounds/open", roundsHandler.Open)
		v1.POST("/rounds/clear", roundsHandler.Clear)
		v1.GET("/tiers", roundsHandler.Tiers)
	}
	router.GET("/ws/settlements", hub.Serve)

	addr := ":" + cfg.API.Port
	log.Info("market API listening", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
