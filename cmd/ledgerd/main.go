package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/0gfoundation/0g-voucher-ledger/internal/api"
	"github.com/0gfoundation/0g-voucher-ledger/internal/auth"
	"github.com/0gfoundation/0g-voucher-ledger/internal/chain"
	"github.com/0gfoundation/0g-voucher-ledger/internal/config"
	"github.com/0gfoundation/0g-voucher-ledger/internal/deploy"
	"github.com/0gfoundation/0g-voucher-ledger/internal/ledger"
	"github.com/0gfoundation/0g-voucher-ledger/internal/relay"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis / state store ───────────────────────────────────────────────────
	var (
		rdb   *redis.Client
		store ledger.Store
	)
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis ping failed", zap.Error(err))
		}
		store = ledger.NewRedisStore(rdb, cfg.Redis.Prefix)
	} else {
		log.Warn("redis disabled: state is in memory and the relay is off")
		store = ledger.NewMemStore()
	}

	// ── Clock ─────────────────────────────────────────────────────────────────
	clock, closeClock, err := newClock(ctx, cfg, log)
	if err != nil {
		log.Fatal("clock init failed", zap.Error(err))
	}
	defer closeClock()

	// ── Signer key (optional unless the relay runs) ───────────────────────────
	var (
		signerKey  *ecdsa.PrivateKey
		signerAddr common.Address
	)
	if cfg.Signer.PrivateKey != "" {
		signerKey, err = crypto.HexToECDSA(strings.TrimPrefix(cfg.Signer.PrivateKey, "0x"))
		if err != nil {
			log.Fatal("parse SIGNER_KEY", zap.Error(err))
		}
		signerAddr = crypto.PubkeyToAddress(signerKey.PublicKey)
	}

	// ── Contracts ─────────────────────────────────────────────────────────────
	rate, _ := cfg.RewardRate()          // validated by config.Load
	dests, _ := cfg.BridgeDestinations() // validated by config.Load
	host := ledger.NewHost(store, clock)
	suite := deploy.Build(host, deploy.Plan{
		ChainID:            cfg.Chain.ChainID,
		StakingContract:    config.Address(cfg.Staking.Contract),
		StakingAssets:      config.Address(cfg.Staking.Assets),
		RewardToken:        config.Address(cfg.Staking.RewardToken),
		Rate:               rate,
		BridgeContract:     config.Address(cfg.Bridge.Contract),
		BridgeToken:        config.Address(cfg.Bridge.Token),
		CollectionContract: config.Address(cfg.Collection.Contract),
		CollectionAssets:   config.Address(cfg.Collection.Assets),
		MaxPerVoucher:      cfg.Collection.MaxPerVoucher,
		PreviewURI:         cfg.Collection.PreviewURI,
		VaultContract:      config.Address(cfg.Vault.Contract),
		VaultAssets:        config.Address(cfg.Vault.Assets),
	}, nil, log)
	deployed, err := suite.Deployed(ctx)
	if err != nil {
		log.Fatal("read deployment marker", zap.Error(err))
	}
	if deployed {
		log.Info("contracts already set up; keeping stored roles and destinations")
	}
	if err := suite.Setup(ctx, config.Address(cfg.Admin.Address), signerAddr, dests); err != nil {
		log.Fatal("contract setup failed", zap.Error(err))
	}
	log.Info("contracts ready",
		zap.Uint64("chain_id", cfg.Chain.ChainID),
		zap.String("staking", suite.Staking.Address().Hex()),
		zap.String("bridge", suite.Bridge.Address().Hex()),
		zap.String("collection", suite.Collection.Address().Hex()),
		zap.String("signer", signerAddr.Hex()),
	)

	// ── Relay goroutines ──────────────────────────────────────────────────────
	relay.RegisterMetrics(prometheus.DefaultRegisterer)
	if cfg.Relay.Enabled {
		signer := relay.NewSigner(signerKey, rdb)
		go relay.RunGenerator(ctx, cfg, rdb, suite.Bridge, signer, log)
		go relay.RunSettler(ctx, cfg, rdb, suite.Bridge, signer.Address(), log)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	metrics := api.NewMetrics(prometheus.DefaultRegisterer)

	r := gin.New()
	r.Use(gin.Recovery(), metrics.Middleware())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api", auth.Middleware(rdb))
	api.NewHandler(api.Ledgers{
		Host:       host,
		Staking:    suite.Staking,
		Bridge:     suite.Bridge,
		Collection: suite.Collection,
		Vault:      suite.Vault,
		Roles:      suite.RoleSets(),
	}, rdb, metrics, log).Register(apiGroup)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── gRPC health ───────────────────────────────────────────────────────────
	grpcSrv, healthSrv := grpc.NewServer(), health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal("gRPC listen failed", zap.Error(err))
	}
	go func() {
		log.Info("gRPC health server starting", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("gRPC server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	healthSrv.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	log.Info("shutdown complete")
}

// newClock returns the transition clock named by CLOCK_SOURCE. The returned
// func releases the RPC connection, if any.
func newClock(ctx context.Context, cfg *config.Config, log *zap.Logger) (ledger.Clock, func(), error) {
	if cfg.Chain.Clock != "chain" {
		return ledger.SystemClock{}, func() {}, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	client, err := chain.Dial(dialCtx, cfg.Chain.RPCURL, cfg.Chain.ChainID)
	if err != nil {
		return nil, nil, err
	}
	return chain.NewBlockClock(client, log), client.Close, nil
}
