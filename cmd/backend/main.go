package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/deadhold/backend/internal/config"
	"github.com/deadhold/backend/internal/data"
	"github.com/deadhold/backend/internal/discovery"
	"github.com/deadhold/backend/internal/httpapi"
	"github.com/deadhold/backend/internal/inventory"
	"github.com/deadhold/backend/internal/lobby"
	"github.com/deadhold/backend/internal/market"
	"github.com/deadhold/backend/internal/metrics"
	"github.com/deadhold/backend/internal/orchestrator"
	"github.com/deadhold/backend/internal/raid"
	"github.com/deadhold/backend/internal/registry"
	"github.com/deadhold/backend/internal/social"
	"github.com/deadhold/backend/internal/trader"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(serverName string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m          Deadhold Backend  v0.1.0         \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m       survival shooter control plane      \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mServer:\033[0m %s\n\n", serverName)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main backend logic ─────────────────────────────────────────────

func run() error {
	// 1. Load .env and config
	godotenv.Load()
	cfgPath := "config/backend.toml"
	if p := os.Getenv("BACKEND_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name)

	// 3. Load static data tables
	printSection("Data")

	itemTable, err := data.LoadItemTable(cfg.Data.Items)
	if err != nil {
		return fmt.Errorf("load item table: %w", err)
	}
	printStat("Item definitions", itemTable.Count())

	traderTable, err := data.LoadTraderTable(cfg.Data.Traders, itemTable)
	if err != nil {
		return fmt.Errorf("load trader table: %w", err)
	}
	printStat("Traders", traderTable.Count())

	seeds, err := data.LoadCharacterSeed(cfg.Data.Characters, itemTable)
	if err != nil {
		return fmt.Errorf("load character seed: %w", err)
	}
	printStat("Seed characters", len(seeds))
	fmt.Println()

	// 4. Wire services
	printSection("Services")

	sessions := registry.New()
	met := metrics.New(sessions)
	ports := registry.NewPortPool(cfg.Orchestrator.PortBase, cfg.Orchestrator.PortCount)

	inv := inventory.NewService(itemTable, log)
	for _, seed := range seeds {
		if err := inv.Seed(seed); err != nil {
			return fmt.Errorf("seed character %s: %w", seed.ID, err)
		}
	}
	printOK("Inventory seeded")

	_, httpPort := splitBind(cfg.HTTP.BindAddress)
	orc := orchestrator.New(cfg.Orchestrator, cfg.Server.Host, httpPort, sessions, ports, met, log)
	socialDir := social.NewDirectory(log)
	lobbies := lobby.NewService(log)
	raids := raid.NewService(cfg.Server.Secret, inv, met, log)
	marketSvc := market.NewService(inv, met, log)
	traders := trader.NewService(traderTable, itemTable, inv, log)
	met.ObserveDomain(lobbies.Count, raids.ActiveCount, marketSvc.ActiveCount)
	printOK("Services wired")
	fmt.Println()

	// 5. HTTP API
	api := httpapi.New(cfg, sessions, orc, socialDir, lobbies, inv, raids, marketSvc, traders, met, log)
	httpServer := &http.Server{
		Addr:         cfg.HTTP.BindAddress,
		Handler:      api.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	httpErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErr <- err
		}
	}()

	// 6. Discovery listener
	var disc *discovery.Server
	if cfg.Discovery.Enabled {
		disc = discovery.NewServer(sessions, log)
		if err := disc.Listen(cfg.Discovery.BindAddress); err != nil {
			return fmt.Errorf("discovery listen: %w", err)
		}
	}

	// 7. Supervisory loops
	go orc.Run()
	marketTicker := time.NewTicker(time.Minute)
	lobbyTicker := time.NewTicker(5 * time.Minute)
	raidTicker := time.NewTicker(30 * time.Second)
	defer marketTicker.Stop()
	defer lobbyTicker.Stop()
	defer raidTicker.Stop()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	printSection("Ready")
	printReady(fmt.Sprintf("HTTP API on %s", cfg.HTTP.BindAddress))
	if cfg.Discovery.Enabled {
		printReady(fmt.Sprintf("Discovery on %s", cfg.Discovery.BindAddress))
	}
	printReady(fmt.Sprintf("Orchestrator tick %s, min pool %d", cfg.Orchestrator.Tick, cfg.Orchestrator.MinPool))
	fmt.Println()

	for {
		select {
		case <-marketTicker.C:
			marketSvc.ExpireStale(time.Now())
		case <-lobbyTicker.C:
			lobbies.CleanupStale(time.Now())
		case <-raidTicker.C:
			raids.CleanupExpired(time.Now())
		case err := <-httpErr:
			return fmt.Errorf("http server: %w", err)
		case sig := <-shutdownCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			httpServer.Shutdown(ctx)
			cancel()
			if disc != nil {
				disc.Close()
			}
			orc.Shutdown()
			log.Info("backend stopped")
			return nil
		}
	}
}

// splitBind extracts the port from a host:port bind address. Match servers
// get this port for their callbacks.
func splitBind(addr string) (string, int) {
	host := addr
	port := 8080
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		host = addr[:i]
		fmt.Sscanf(addr[i+1:], "%d", &port)
	}
	return host, port
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
