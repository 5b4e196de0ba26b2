package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"defiapps/config"
	"defiapps/core"
	"defiapps/gateway/middleware"
	"defiapps/gateway/routes"
	"defiapps/native/oracle"
	"defiapps/observability/logging"
	telemetry "defiapps/observability/otel"
	"defiapps/services/keeper"
	"defiapps/storage"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to node configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.Setup(logging.Options{Service: "defid", Environment: cfg.Environment, Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("setup logging: %v", err)
	}

	telemetryCfg, err := telemetry.Config{
		ServiceName:    "defid",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		BaseToken:      cfg.BaseToken,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
	}.ApplyEnv(os.LookupEnv)
	if err != nil {
		log.Fatalf("telemetry env: %v", err)
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	logger.Info("telemetry configured",
		"endpoint", telemetryCfg.Endpoint,
		"traces", cfg.Telemetry.Traces,
		"metrics", cfg.Telemetry.Metrics,
		logging.MaskField("headers", cfg.Telemetry.Headers))
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("defid stopped", "error", err)
		stop()
		log.Fatalf("defid failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	admin, err := config.ParseAddress(cfg.AdminAddress)
	if err != nil {
		return fmt.Errorf("admin address: %w", err)
	}
	base, err := config.ParseAddress(cfg.BaseToken)
	if err != nil {
		return fmt.Errorf("base token: %w", err)
	}
	native, wrapped, err := cfg.Wrap.Parse()
	if err != nil {
		return fmt.Errorf("wrap tokens: %w", err)
	}
	kind, err := oracle.ParseKind(cfg.Oracle.Kind)
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	node, err := core.NewNode(db, core.Config{
		Admin:             admin,
		BaseToken:         base,
		NativeToken:       native,
		WrappedNative:     wrapped,
		FeeBps:            cfg.AMM.FeeBps,
		OracleWindow:      cfg.Oracle.WindowSeconds,
		OracleGranularity: cfg.Oracle.Granularity,
		Pauses:            cfg.Pauses.Modules(),
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	for _, pool := range cfg.Lending.Pools {
		asset, poolCfg, err := pool.Parse()
		if err != nil {
			return err
		}
		if err := node.BootstrapLendingPool(ctx, asset, poolCfg); err != nil {
			return fmt.Errorf("bootstrap lending pool %s: %w", asset.Hex(), err)
		}
	}
	if err := node.SetPriceOracle(ctx, admin, kind); err != nil {
		return fmt.Errorf("select %s oracle: %w", kind, err)
	}
	logger.Info("node ready",
		"router", node.RouterAddress().Hex(),
		"lending", node.LendingAddress().Hex(),
		"oracle", kind.String(),
		"lending_pools", len(cfg.Lending.Pools))

	errCh := make(chan error, 2)
	var history routes.PriceHistory
	if cfg.Keeper.Enabled {
		k, archive, err := newKeeper(cfg, node, logger)
		if err != nil {
			return err
		}
		defer archive.Close()
		history = archive
		go func() {
			if err := k.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("keeper: %w", err)
			}
		}()
	}

	limits := make(map[string]middleware.RateLimit, len(routes.Groups))
	for _, group := range routes.Groups {
		limits[group] = middleware.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		}
	}
	handler, err := routes.New(routes.Config{
		Node:          node,
		History:       history,
		RateLimiter:   middleware.NewRateLimiter(limits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: "defid", LogRequests: true}, logger),
	})
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		logger.Info("gateway listening", "address", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	return runErr
}

func newKeeper(cfg *config.Config, node *core.Node, logger *slog.Logger) (*keeper.Keeper, *keeper.Archive, error) {
	tokens := make([]common.Address, 0, len(cfg.Keeper.Tokens))
	for _, raw := range cfg.Keeper.Tokens {
		token, err := config.ParseAddress(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("keeper token: %w", err)
		}
		tokens = append(tokens, token)
	}
	archive, err := keeper.OpenArchive(cfg.Keeper.ArchiveDSN)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("price archive opened", logging.MaskDSN("archive_dsn", cfg.Keeper.ArchiveDSN), "tokens", len(tokens))
	k, err := keeper.New(node, tokens, time.Duration(cfg.Keeper.IntervalSeconds)*time.Second,
		keeper.WithArchive(archive),
		keeper.WithLogger(logger.With("component", "keeper")))
	if err != nil {
		_ = archive.Close()
		return nil, nil, err
	}
	return k, archive, nil
}
