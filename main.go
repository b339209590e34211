package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	_ "net/http/pprof" // Для профилирования памяти
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aurorapos/server/internal/api"
	"aurorapos/server/internal/config"
	"aurorapos/server/internal/database"
	"aurorapos/server/internal/models"
	"aurorapos/server/internal/services"
	"aurorapos/server/internal/utils"
)

func main() {
	// Загружаем переменные окружения из .env файла (если существует)
	// Игнорируем ошибку, если файл не найден (для production окружений)
	if err := godotenv.Load(); err != nil {
		log.Printf("ℹ️ .env файл не найден, используем переменные окружения системы")
	} else {
		log.Printf("✅ Переменные окружения загружены из .env файла")
	}

	cfg := config.Load()

	// Контекст процесса: SIGINT/SIGTERM останавливают воркеры и HTTP сервер
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Логируем наличие DATABASE_URL (без пароля)
	if cfg.DatabaseURL != "" {
		safeURL := cfg.DatabaseURL
		if idx := strings.Index(safeURL, "@"); idx > 0 {
			if schemeIdx := strings.Index(safeURL, "://"); schemeIdx > 0 {
				safeURL = safeURL[:schemeIdx+3] + "***@" + safeURL[idx+1:]
			}
		}
		log.Printf("📋 DATABASE_URL установлен: %s", safeURL)
	}

	// Подключение к PostgreSQL
	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ PostgreSQL недоступен: %v", err)
	}
	defer database.ClosePostgres(db)

	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("❌ Миграции не прошли: %v", err)
	}
	log.Println("✅ Миграции базы данных выполнены")

	// Подключение к Redis (с поддержкой Sentinel)
	redisClient, err := database.ConnectRedis(
		cfg.RedisURL,
		cfg.RedisSentinelAddrs,
		cfg.RedisMasterName,
	)
	var redisUtil *utils.RedisClient
	if err != nil {
		log.Printf("⚠️ Redis недоступен: %v (кэш баллов отключен)", err)
		redisClient = nil
	} else {
		redisUtil = utils.NewRedisClient(redisClient)
	}
	defer database.CloseRedis(redisClient)

	// Издатель событий очередей (может быть nil без Kafka)
	eventPublisher := api.NewQueueEventPublisher(
		cfg.KafkaBrokers, cfg.KafkaQueueTopic,
		cfg.KafkaUsername, cfg.KafkaPassword, cfg.KafkaCACert,
	)
	if eventPublisher != nil {
		defer eventPublisher.Close()
	}
	publish := func(event string, payload map[string]interface{}) {
		eventPublisher.Publish(event, payload)
	}

	// Сервисы ядра
	deductionService := services.NewRecipeDeductionService(db, cfg)
	deductionService.SetEventPublisher(publish)

	flatInventoryService := services.NewInventoryService(db, cfg)
	flatInventoryService.SetEventPublisher(publish)

	pricingService := services.NewPricingRuleService(db, cfg)

	scoreService := services.NewPriorityScoreService(db, cfg)
	if redisUtil != nil {
		scoreService.SetRedisClient(redisUtil)
	}

	queueService := services.NewQueueService(db, cfg)
	queueService.SetPriorityScoreService(scoreService)
	queueService.SetEventPublisher(publish)
	if redisUtil != nil {
		queueService.SetRedisClient(redisUtil)
	}

	rebalanceService := services.NewQueueRebalanceService(db, cfg, queueService, scoreService)

	orderService := services.NewOrderLifecycleService(db, cfg)
	orderService.SetPricingService(pricingService)
	orderService.SetDeductionServices(deductionService, flatInventoryService)
	log.Println("✅ Сервисы ядра оркестрации инициализированы")

	// WebSocket хабы кухонных дисплеев и дашбордов
	go api.KitchenHub.Run()
	go api.DashboardHub.Run()
	log.Println("📱 WebSocket хабы запущены (кухня + дашборд)")

	// Консьюмер транслирует события из Kafka на подключенные дисплеи
	if cfg.KafkaBrokers != "" {
		consumer := api.NewQueueEventConsumer(
			cfg.KafkaBrokers, cfg.KafkaQueueTopic, "queue-display-group",
			cfg.KafkaUsername, cfg.KafkaPassword, cfg.KafkaCACert, redisUtil,
		)
		consumer.Start()
		defer consumer.Stop()
	}

	// Дашборды перезапрашивают снимок очереди по сигналу инвалидации
	if redisUtil != nil {
		invalidations, closeSub := redisUtil.Subscribe(services.QueueSnapshotChannel)
		defer closeSub()
		go func() {
			for msg := range invalidations {
				notice, _ := json.Marshal(map[string]string{
					"event":    "queue_snapshot_invalidated",
					"queue_id": msg.Payload,
				})
				api.DashboardHub.BroadcastMessage(notice)
			}
		}()
		log.Println("🔄 Подписка на инвалидацию снимков очередей активна")
	}

	// Фоновые воркеры, все останавливаются отменой контекста процесса
	go services.RunPeriodic(ctx, time.Duration(cfg.RebalanceIntervalMinutes)*time.Minute, "rebalance", func() error {
		rebalanceService.RebalanceAll()
		return nil
	})
	log.Printf("⚖️ Авторебаланс очередей запущен (каждые %d минут)", cfg.RebalanceIntervalMinutes)

	go services.RunPeriodic(ctx, 30*time.Second, "boost-expiry", rebalanceService.ExpireBoosts)
	go services.RunPeriodic(ctx, 5*time.Minute, "stale-scores", rebalanceService.RecomputeStaleScores)
	log.Println("⏰ Воркеры бустов и устаревших баллов запущены")

	go services.RunPeriodic(ctx, 1*time.Hour, "rule-expiry", pricingService.ExpireRules)
	// Чистка метрик: первый запуск через час после старта, затем раз в сутки
	go services.RunPeriodicAfter(ctx, 1*time.Hour, 24*time.Hour, "metrics-purge", pricingService.PurgeOldMetrics)
	log.Println("🧹 Воркеры истечения правил и чистки метрик запущены")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Health check endpoint (должен быть до CORS)
	r.GET("/api/v1/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "Order Orchestration Core",
			"version": "1.0.0",
		})
	})

	// Метрики Prometheus
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Логирование всех запросов
	r.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		log.Printf("🌐 %s %s - Status: %d - Latency: %v", method, path, status, latency)
	})

	// CORS для фронтенда
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// WebSocket кухонных дисплеев и дашбордов, вне таймаута запросов
	r.GET("/api/v1/ws/kitchen", api.ServeKitchenWS)
	r.GET("/api/v1/ws/dashboard", api.ServeDashboardWS)

	apiGroup := r.Group("/api/v1")
	apiGroup.Use(api.TimeoutMiddleware(time.Duration(cfg.RequestTimeoutSeconds) * time.Second))

	// Заказы
	orderController := api.NewOrderController(orderService)
	orderGroup := apiGroup.Group("/orders")
	{
		orderGroup.POST("", orderController.CreateOrder)
		orderGroup.GET("/:id", orderController.GetOrder)
		orderGroup.POST("/:id/transition", orderController.Transition)
	}

	// Ценовые правила
	pricingController := api.NewPricingController(pricingService)
	pricingGroup := apiGroup.Group("/pricing")
	{
		pricingGroup.POST("/evaluate", pricingController.Evaluate)
		pricingGroup.GET("/rules", pricingController.ListRules)
		pricingGroup.POST("/rules", pricingController.CreateRule)
		pricingGroup.GET("/rules/:id", pricingController.GetRule)
		pricingGroup.PUT("/rules/:id", pricingController.UpdateRule)
		pricingGroup.DELETE("/rules/:id", pricingController.DeleteRule)
	}

	// Очереди станций
	queueController := api.NewQueueController(queueService, rebalanceService)
	queueGroup := apiGroup.Group("/queues")
	{
		queueGroup.GET("/:queue_id", queueController.GetSnapshot)
		queueGroup.POST("/:queue_id/items", queueController.Admit)
		queueGroup.POST("/:queue_id/rebalance", queueController.Rebalance)
	}
	itemGroup := apiGroup.Group("/queue-items")
	{
		itemGroup.POST("/:item_id/move", queueController.Move)
		itemGroup.POST("/:item_id/transfer", queueController.Transfer)
		itemGroup.POST("/:item_id/expedite", queueController.Expedite)
		itemGroup.POST("/:item_id/hold", queueController.Hold)
		itemGroup.POST("/:item_id/release", queueController.ReleaseHold)
		itemGroup.POST("/:item_id/status", queueController.SetStatus)
		itemGroup.GET("/:item_id/suggested-sequence", queueController.SuggestedSequence)
	}
	apiGroup.POST("/queue-items/batch-status", queueController.BatchSetStatus)

	// Приоритеты
	priorityController := api.NewPriorityController(scoreService)
	priorityGroup := apiGroup.Group("/priority")
	{
		priorityGroup.POST("/items/:item_id/score", priorityController.ComputeScore)
		priorityGroup.POST("/items/:item_id/boost", priorityController.ApplyBoost)
		priorityGroup.POST("/bulk-score", priorityController.ComputeBulk)
	}

	// Склад
	inventoryController := api.NewInventoryController(deductionService, flatInventoryService)
	inventoryGroup := apiGroup.Group("/inventory")
	{
		inventoryGroup.GET("/items", inventoryController.ListItems)
		inventoryGroup.GET("/items/:id", inventoryController.GetItem)
		inventoryGroup.POST("/items/:id/adjust", inventoryController.ManualAdjust)
		inventoryGroup.GET("/items/:id/adjustments", inventoryController.ListAdjustments)
		inventoryGroup.POST("/preview", inventoryController.PreviewImpact)
		inventoryGroup.POST("/partial-fulfill", inventoryController.PartialFulfill)
		inventoryGroup.POST("/reverse", inventoryController.Reverse)
		inventoryGroup.POST("/orders/:order_id/synced", inventoryController.MarkSynced)
	}

	// pprof для профилирования памяти, доступен на localhost:6060/debug/pprof/
	go func() {
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			log.Printf("⚠️ pprof сервер не запустился: %v", err)
		}
	}()

	port := cfg.ServerPort
	log.Printf("🚀 Сервер запускается на порту %s", port)
	log.Printf("📡 API доступен на http://0.0.0.0:%s/api/v1", port)

	srv := &http.Server{Addr: "0.0.0.0:" + port, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Сервер не запустился: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Получен сигнал остановки, завершаем работу")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ Ошибка остановки HTTP сервера: %v", err)
	}
}
