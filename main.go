package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"presence-backend/config"
	"presence-backend/contracts"
	"presence-backend/handlers"
	"presence-backend/store"
)

func connectToDatabase(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Println("Successfully connected to the database!")
	return pool, nil
}

func connectToRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	log.Println("Successfully connected to redis!")
	return client, nil
}

func connectToEthereum(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum client: %w", err)
	}

	log.Println("Successfully connected to Ethereum node!")
	return client, nil
}

func main() {
	config.LoadDotEnv()
	cfg := config.LoadServer()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database connection
	pool, err := connectToDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer pool.Close()

	pg := store.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		log.Fatalf("Unable to prepare schema: %v\n", err)
	}

	var checkins store.CheckInStore = pg
	if cfg.RedisURL != "" {
		rdb, err := connectToRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: redis unavailable, serving check-ins without cache: %v", err)
		} else {
			defer rdb.Close()
			checkins = store.NewCachedCheckIns(pg, rdb, cfg.CacheTTL)
		}
	}

	// Optional on-chain verification of recorded mints
	var verifier handlers.MintVerifier
	if cfg.VerifyOnchain {
		ethClient, err := connectToEthereum(ctx, cfg.RPCURL)
		if err != nil {
			log.Fatalf("Unable to connect to Ethereum node: %v\n", err)
		}
		defer ethClient.Close()

		poap, err := contracts.NewPOAPContract(ethClient, cfg.POAPContract)
		if err != nil {
			log.Fatalf("Unable to load POAP contract: %v\n", err)
		}
		verifier = poap
	}

	// Setup Gin
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.Register(router, handlers.Deps{
		CheckIns:      checkins,
		Events:        pg,
		Verifier:      verifier,
		Metrics:       handlers.NewMetrics(prometheus.DefaultRegisterer),
		Health:        pg,
		JWTSigningKey: cfg.JWTSigningKey,
		JWTIssuer:     cfg.JWTIssuer,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s\n", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v\n", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
}
