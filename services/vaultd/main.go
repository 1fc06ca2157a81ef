package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"vaultguard/native/automation"
	ncommon "vaultguard/native/common"
	"vaultguard/native/pipeline"
	"vaultguard/observability/logging"
	telemetry "vaultguard/observability/otel"
	"vaultguard/services/vaultd/chain"
	"vaultguard/services/vaultd/config"
	"vaultguard/services/vaultd/journal"
	"vaultguard/services/vaultd/middleware"
	"vaultguard/services/vaultd/server"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/vaultd/config.yaml", "path to vaultd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VAULTGUARD_ENV"))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var fileSink *logging.FileConfig
	if cfg.Log.File != "" {
		fileSink = &logging.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
	}
	logger := logging.SetupWithFile("vaultd", env, fileSink)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "vaultd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	autoCfg := automation.Config{}
	if cfg.AutomationConfig != "" {
		autoCfg, err = automation.LoadConfig(cfg.AutomationConfig)
		if err != nil {
			log.Fatalf("load automation config: %v", err)
		}
	}
	autoCfg.EnsureDefaults()

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}

	deps := pipeline.Deps{
		Markets: server.StaticMarkets(cfg.Markets),
	}
	if cfg.Chain.RPCURL != "" {
		tokens := make(map[string]common.Address, len(cfg.TokenAddresses))
		for symbol, addr := range cfg.TokenAddresses {
			tokens[symbol] = common.HexToAddress(addr)
		}
		feeds := make(map[string]common.Address, len(cfg.Chain.PriceFeeds))
		for symbol, addr := range cfg.Chain.PriceFeeds {
			feeds[symbol] = common.HexToAddress(addr)
		}
		client, err := chain.Dial(context.Background(), chain.Config{
			RPCURL:        cfg.Chain.RPCURL,
			ProxyRegistry: common.HexToAddress(cfg.Chain.ProxyRegistry),
			Tokens:        tokens,
			PriceFeeds:    feeds,
			PriceDecimals: cfg.Chain.PriceDecimals,
		})
		if err != nil {
			log.Fatalf("dial chain: %v", err)
		}
		defer client.Close()
		deps.Prices = client
		deps.Proxies = client
		deps.Allowances = client
	}
	// Position sources and transaction submitters are deployment-specific;
	// without them pipeline starts report the missing dependency.

	pauses := ncommon.StaticPauses{}
	for _, module := range cfg.Paused {
		pauses[strings.TrimSpace(module)] = true
	}

	quota := ncommon.Quota{
		MaxRequestsPerWindow: cfg.Quota.MaxRequestsPerWindow,
		MaxStartsPerWindow:   cfg.Quota.MaxStartsPerWindow,
		WindowSeconds:        cfg.Quota.WindowSeconds,
	}
	manager := server.NewManager(deps, autoCfg, quota, j, logger)
	manager.SetPipelineTTL(cfg.PipelineTTL)

	srv := server.New(server.Config{
		Logger:     logger,
		Manager:    manager,
		Journal:    j,
		Automation: autoCfg,
		Pauses:     pauses,
		Auth: middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
		},
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("vaultd listening", "address", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		manager.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err.Error())
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}
}
