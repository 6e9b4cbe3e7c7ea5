package main

import (
	"context"
	"flag"

	"fishquiz/cache"
	"fishquiz/config"
	"fishquiz/handlers"
	"fishquiz/routes"
	"fishquiz/services"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
)

func main() {
	flag.Set("logtostderr", "true")
	flag.Parse()
	defer glog.Flush()

	cfg := config.Load()

	policy, err := services.ParseDuplicatePolicy(cfg.DuplicateAnswerPolicy)
	if err != nil {
		glog.Fatalf("invalid configuration: %v", err)
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		glog.Fatalf("failed to connect to database: %v", err)
	}
	if err := config.Migrate(db); err != nil {
		glog.Fatalf("failed to migrate database: %v", err)
	}
	glog.Info("database migrated")

	var store cache.Store
	switch cfg.CacheBackend {
	case config.CacheBackendMemory:
		store = cache.NewMemoryStore()
	case config.CacheBackendRedis:
		redisClient := config.InitRedis(cfg)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			glog.Fatalf("failed to connect to redis: %v", err)
		}
		store = cache.NewRedisStore(redisClient, "fishquiz:cache")
	default:
		glog.Fatalf("unknown cache backend %q", cfg.CacheBackend)
	}
	glog.Infof("question cache: %s, ttl %s", cfg.CacheBackend, cfg.CacheTTL)

	hub := services.NewHub()
	go hub.Run()

	questionService := services.NewQuestionService(db, store, cfg.CacheTTL)
	categoryService := services.NewCategoryService(db)
	evaluationService := services.NewEvaluationService(db, services.NewAnswerKey(db), policy, hub)
	certificateService := services.NewCertificateService(db, hub)

	gin.SetMode(cfg.GinMode)
	router := gin.Default()
	router.Use(routes.CORS(cfg.CORSOrigins))

	routes.SetupRoutes(router,
		handlers.NewQuestionHandler(questionService),
		handlers.NewCategoryHandler(categoryService),
		handlers.NewEvaluationHandler(evaluationService),
		handlers.NewCertificateHandler(certificateService),
		hub,
	)

	glog.Infof("server starting on %s (duplicate answers: keep %s)", cfg.Addr(), policy)
	if err := router.Run(cfg.Addr()); err != nil {
		glog.Fatalf("failed to start server: %v", err)
	}
}
