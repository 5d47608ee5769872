package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AnshRaj112/shadowmatch-backend/internal/config"
	"github.com/AnshRaj112/shadowmatch-backend/internal/database"
	"github.com/AnshRaj112/shadowmatch-backend/internal/handlers"
	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
	"github.com/AnshRaj112/shadowmatch-backend/internal/matching"
	"github.com/AnshRaj112/shadowmatch-backend/internal/metrics"
	"github.com/AnshRaj112/shadowmatch-backend/internal/ratelimit"
	"github.com/AnshRaj112/shadowmatch-backend/internal/routes"
	"github.com/AnshRaj112/shadowmatch-backend/internal/safety"
	"github.com/AnshRaj112/shadowmatch-backend/internal/services"
	"github.com/AnshRaj112/shadowmatch-backend/internal/store"
	"github.com/AnshRaj112/shadowmatch-backend/pkg/utils"
)

var version = "dev"

func main() {
	// Load env
	envErr := godotenv.Load()
	cfg := config.Load()

	logger.Init(logger.Config{Env: cfg.Environment, Level: cfg.LogLevel, ServiceName: "shadowmatch", Version: version})
	defer logger.Sync()
	log := logger.L()
	if envErr != nil {
		log.Debug("no .env file found")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", logger.Err(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if err := metrics.Register(nil); err != nil {
		return err
	}

	stores, closeStores, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	// Redis is optional; without it limits and ban verdicts stay in process
	var rdb *redis.Client
	if cfg.RedisURI != "" {
		rdb, err = database.ConnectRedis(cfg.RedisURI)
		if err != nil {
			return err
		}
		defer database.DisconnectRedis()
	} else {
		log.Warn("REDIS_URI not set, using in-process rate limits and ban cache")
	}

	opts := []services.Option{services.WithLogger(logger.Named("trust"))}
	if rdb != nil {
		opts = append(opts, services.WithBanCache(services.NewRedisBanCache(rdb, cfg.BanCacheTTL)))
	} else {
		opts = append(opts, services.WithBanCache(services.NewMemoryBanCache(cfg.BanCacheTTL)))
	}

	if cfg.EncryptionKey == "" {
		log.Warn("ENCRYPTION_KEY not set, report descriptions are stored in plain text")
	} else {
		cipher, err := utils.NewFieldCipher(cfg.EncryptionKey)
		if err != nil {
			return err
		}
		opts = append(opts, services.WithFieldCipher(cipher))
	}

	if cfg.CloudinaryName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cld, err := services.NewCloudinaryService(cfg.CloudinaryName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
		if err != nil {
			log.Warn("cloudinary unavailable, evidence uploads disabled", logger.Err(err))
		} else {
			opts = append(opts, services.WithEvidenceUploader(cld))
		}
	} else {
		log.Warn("cloudinary credentials not found, evidence uploads disabled")
	}

	moderator := safety.DefaultModerator()
	if cfg.SafetyWordlistPath != "" {
		if moderator, err = safety.LoadModerator(cfg.SafetyWordlistPath); err != nil {
			return err
		}
	}

	if cfg.AdminKeyHash == "" {
		log.Warn("ADMIN_KEY_HASH not set, admin routes are closed")
	}

	trust := services.NewTrustService(stores, opts...)
	mm := matching.NewMatchmaker(trust, matching.Config{
		Threshold: cfg.MatchThreshold,
		MaxWait:   cfg.MatchMaxWait,
		Workers:   cfg.MatchScanWorkers,
	})

	h := &handlers.Handler{Trust: trust, Match: mm, Moderator: moderator, TrustProxy: cfg.TrustProxy}
	r := chi.NewRouter()
	routes.SetupRoutes(r, h, cfg, limiterFactory(rdb))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := mm.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("shadowmatch backend running", zap.String("port", cfg.Port), zap.String("env", cfg.Environment), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStores wires the trust repositories. "postgres" keeps users and bans in
// Postgres and sessions and reports in MongoDB.
func openStores(cfg *config.Config, log *zap.Logger) (services.Stores, func(), error) {
	switch cfg.StoreDriver {
	case "memory", "":
		log.Warn("using in-memory store, data is lost on restart")
		return store.NewMemory().Stores(), func() {}, nil
	case "postgres":
	default:
		return services.Stores{}, nil, errors.New("unknown STORE_DRIVER " + cfg.StoreDriver)
	}

	db, err := database.ConnectPostgres(cfg.PostgresURI)
	if err != nil {
		return services.Stores{}, nil, err
	}
	if err := database.InitPostgresTables(db); err != nil {
		database.DisconnectPostgres()
		return services.Stores{}, nil, err
	}
	mdb, err := database.Connect(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		database.DisconnectPostgres()
		return services.Stores{}, nil, err
	}

	pg, mg := store.NewPostgres(db), store.NewMongo(mdb)
	closeFn := func() {
		if err := database.Disconnect(); err != nil {
			log.Warn("mongo disconnect", logger.Err(err))
		}
		if err := database.DisconnectPostgres(); err != nil {
			log.Warn("postgres disconnect", logger.Err(err))
		}
	}
	return services.Stores{Users: pg, Bans: pg, Sessions: mg, Reports: mg}, closeFn, nil
}

func limiterFactory(rdb *redis.Client) routes.LimiterFactory {
	if rdb == nil {
		return routes.MemoryLimiters
	}
	return func(_ string, max int, window time.Duration) ratelimit.Limiter {
		return ratelimit.NewRedisLimiter(rdb, "", max, window)
	}
}
