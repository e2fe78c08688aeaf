package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/cyhinverse/YiBu-sub004/handlers"
	"github.com/cyhinverse/YiBu-sub004/internal/accounts"
	"github.com/cyhinverse/YiBu-sub004/internal/audit"
	"github.com/cyhinverse/YiBu-sub004/internal/auth"
	"github.com/cyhinverse/YiBu-sub004/internal/config"
	"github.com/cyhinverse/YiBu-sub004/internal/database"
	"github.com/cyhinverse/YiBu-sub004/internal/sessions"
	"github.com/cyhinverse/YiBu-sub004/internal/tokens"
	"github.com/cyhinverse/YiBu-sub004/pkg/logger"
	"github.com/cyhinverse/YiBu-sub004/pkg/metrics"
	"github.com/cyhinverse/YiBu-sub004/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// initialize logging (can be controlled with LOG_LEVEL env: debug|info|warn|error|fatal)
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: mongo=%v redis=%v jwt_secret_set=%v", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.JWT.Secret != "")

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	allowed := map[string]bool{}
	for _, origin := range cfg.CORS.AllowedOrigins {
		if origin != "" {
			allowed[origin] = true
		}
	}
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if len(allowed) == 0 {
				return true
			}
			return allowed[origin]
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	ctx := context.Background()

	// Connect to Redis early so the rate limiter and blacklist can use it
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			redisClient = nil
		} else {
			sessions.SetBlacklistClient(redisClient)
			logger.Infof("Connected to Redis: %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	// Connect to MongoDB with retry/backoff to tolerate startup races
	const maxAttempts = 5
	backoff := time.Second
	var client *mongo.Client
	var errConn error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client, errConn = database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
		if errConn == nil {
			break
		}
		logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, errConn)
		if attempt < maxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	var authSvc *auth.Service
	if errConn != nil {
		logger.Warnf("could not connect to MongoDB after %d attempts: %v", maxAttempts, errConn)
	} else {
		defer func() { _ = client.Disconnect(ctx) }()
		db := client.Database(cfg.MongoDB.Database)
		if err := database.EnsureIndexes(ctx, db); err != nil {
			logger.Warnf("failed to ensure indexes: %v", err)
		}

		accountRepo := accounts.NewMongoRepository(db.Collection("accounts"))

		// token records live in Redis when available, otherwise in Mongo
		var recordRepo sessions.Repository
		if redisClient != nil {
			recordRepo = sessions.NewRedisRepository(redisClient, "tokens:", cfg.JWT.RefreshTokenTTL)
			logger.Infof("Using Redis for refresh-token records")
		} else {
			recordRepo = sessions.NewMongoRepository(db.Collection("refresh_tokens"))
		}

		auditLog := audit.NewLogger(db.Collection("audit_log"))
		authSvc = auth.NewService(cfg, accountRepo, recordRepo, auditLog)
	}

	// Register auth routes when the service is available
	if authSvc != nil {
		verifier := tokens.NewAccessVerifier(cfg, sessions.IsAccessTokenBlacklisted)
		authn := middleware.AuthMiddleware(verifier)
		h := handlers.NewAuthHandler(cfg, authSvc)
		h.Register(r.Group("/"), authn)
	} else {
		logger.Warnf("auth routes not registered because MongoDB is unavailable")
	}
	handlers.RegisterSwagger(r)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness: 200 only when the session store is available
	r.GET("/ready", func(c *gin.Context) {
		ready := true
		deps := map[string]bool{}
		deps["storage"] = authSvc != nil
		if authSvc == nil {
			ready = false
		}
		deps["redis"] = redisClient != nil || cfg.Redis.Host == ""
		if !deps["redis"] {
			ready = false
		}
		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	// Expose Prometheus metrics
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("Starting auth service on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
