package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	echolib "github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	echoapi "go.adatlab.hu/idp/api/echo"
	"go.adatlab.hu/idp/config"
	"go.adatlab.hu/idp/domain"
	"go.adatlab.hu/idp/inmem"
	"go.adatlab.hu/idp/internal/auth"
	"go.adatlab.hu/idp/internal/federation"
	"go.adatlab.hu/idp/internal/nonce"
	"go.adatlab.hu/idp/internal/resolver"
	"go.adatlab.hu/idp/mongodb"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if parseErr != nil {
		log.Warn().Str("configured_log_level", cfg.LogLevel).
			Msg("Invalid LOG_LEVEL configured, defaulting to 'info'")
	}

	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("mongo_db_name", cfg.MongoDBName).
		Bool("embedded_stores", cfg.MongoURI == "").
		Msg("Starting identity provider server")

	ctx := context.Background()

	// Store selection. An empty MONGO_URI runs the embedded in-memory
	// stores, which is the single-process development mode.
	var (
		links     domain.FederatedIdentityRepository
		tokens    domain.TokenRepository
		users     domain.UserDirectory
		pending   domain.PendingRegistrationDirectory
		storePing func(context.Context) error
	)
	if cfg.MongoURI != "" {
		if initErr := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); initErr != nil {
			log.Fatal().Err(initErr).Msg("Failed to initialize MongoDB connection")
		}
		db := mongodb.GetDB()

		links, err = mongodb.NewFederatedIdentityRepository(ctx, db)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize FederatedIdentityRepository")
		}
		tokens, err = mongodb.NewTokenRepository(ctx, db)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize TokenRepository")
		}
		// The account directory is an external system in production; the
		// embedded one stands in until a directory adapter is configured.
		users = inmem.NewUserDirectory()
		pending = inmem.NewPendingRegistrations()
		storePing = mongodb.Ping
	} else {
		links = inmem.NewFederatedIdentityStore()
		tokens = inmem.NewTokenStore()
		users = inmem.NewUserDirectory()
		pending = inmem.NewPendingRegistrations()
	}

	// Nonce store selection. Redis lets the redirect and the callback land
	// on different nodes.
	nonceTTL := time.Duration(cfg.NonceTTLMin) * time.Minute
	if nonceTTL <= 0 {
		nonceTTL = nonce.DefaultTTL
	}
	var nonces nonce.Store
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if pingErr := redisClient.Ping(ctx).Err(); pingErr != nil {
			log.Fatal().Err(pingErr).Str("redis_addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
		}
		nonces = nonce.NewRedisStore(redisClient, cfg.RedisPrefix, nonceTTL)
	} else {
		memStore := nonce.NewMemoryStore(nonceTTL)
		defer memStore.Stop()
		nonces = memStore
	}

	fedService := federation.NewService(cfg.BaseRedirectURL)
	for _, pc := range []federation.ProviderConfig{
		{
			Name:         "google",
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Enabled:      cfg.GoogleClientID != "",
		},
		{
			Name:         "github",
			ClientID:     cfg.GithubClientID,
			ClientSecret: cfg.GithubClientSecret,
			Enabled:      cfg.GithubClientID != "",
		},
	} {
		if !pc.Enabled {
			continue
		}
		provider, provErr := federation.NewProviderFromConfig(pc)
		if provErr != nil {
			log.Fatal().Err(provErr).Str("provider", pc.Name).Msg("Failed to configure provider")
		}
		fedService.RegisterProvider(provider)
		log.Info().Str("provider", pc.Name).Msg("Registered identity provider")
	}

	hasher := auth.NewBcryptPasswordHasher(bcrypt.DefaultCost)
	idResolver := resolver.New(links, users, pending, hasher, nil)

	federationAPI := echoapi.NewFederationAPI(fedService, idResolver, nonces, links)
	defer federationAPI.Stop()
	tokensAPI := echoapi.NewTokensAPI(tokens)
	healthAPI := echoapi.NewHealthAPI(storePing)

	e := echolib.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	federationAPI.RegisterRoutes(e)
	tokensAPI.RegisterRoutes(e)
	healthAPI.RegisterRoutes(e)

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("HTTP server listening")
		if serveErr := e.Start(":" + cfg.HTTPPort); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Fatal().Err(serveErr).Msg("Failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down server")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("HTTP server shutdown error")
	}
	if cfg.MongoURI != "" {
		mongodb.CloseMongoDB(shutdownCtx)
	}

	log.Info().Msg("Server gracefully stopped")
}
