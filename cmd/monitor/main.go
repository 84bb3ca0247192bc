// Command monitor is the risk monitor's composition root: it wires every
// capability from config, then runs until signalled, following the
// teacher's cmd/server/main.go shape (logger -> config -> storage ->
// scheduler+jobs -> HTTP server goroutine -> signal-wait -> graceful
// shutdown).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/onchainrisk/monitor/internal/alerts"
	"github.com/onchainrisk/monitor/internal/cache"
	"github.com/onchainrisk/monitor/internal/chainclient"
	"github.com/onchainrisk/monitor/internal/config"
	"github.com/onchainrisk/monitor/internal/domain"
	"github.com/onchainrisk/monitor/internal/events"
	"github.com/onchainrisk/monitor/internal/httpapi"
	"github.com/onchainrisk/monitor/internal/metrics"
	"github.com/onchainrisk/monitor/internal/monitor"
	"github.com/onchainrisk/monitor/internal/persistence"
	"github.com/onchainrisk/monitor/internal/persistence/archive"
	"github.com/onchainrisk/monitor/internal/persistence/sqlite"
	"github.com/onchainrisk/monitor/internal/prices"
	"github.com/onchainrisk/monitor/internal/prices/sources/coingecko"
	"github.com/onchainrisk/monitor/internal/protocols"
	"github.com/onchainrisk/monitor/internal/protocols/aave"
	"github.com/onchainrisk/monitor/internal/protocols/compound"
	"github.com/onchainrisk/monitor/internal/protocols/liquidstaking"
	"github.com/onchainrisk/monitor/internal/protocols/makerdao"
	"github.com/onchainrisk/monitor/internal/protocols/uniswapv3"
	"github.com/onchainrisk/monitor/internal/protocols/vault"
	"github.com/onchainrisk/monitor/internal/reliability"
	"github.com/onchainrisk/monitor/internal/risk"
	"github.com/onchainrisk/monitor/internal/stream"
	"github.com/onchainrisk/monitor/pkg/logger"
)

// trackedChains is the closed set of chains the Monitor Loop discovers and
// refreshes positions on. Every RPC endpoint configured via CHAIN_RPC_<id>
// is dialed, but discovery only runs on the chains in this list.
var trackedChains = []domain.ChainId{
	domain.ChainEthereum, domain.ChainOptimism, domain.ChainBSC,
	domain.ChainPolygon, domain.ChainBase, domain.ChainArbitrum,
}

func main() {
	log := logger.New(logger.Config{Level: os.Getenv("LOG_LEVEL"), Pretty: os.Getenv("DEV_MODE") == "true"})
	log.Info().Msg("starting onchain risk monitor")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})

	db, err := sqlite.Open(sqlite.Config{Path: cfg.DataDir + "/monitor.db"})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()
	store := sqlite.NewStore(db, log)

	reg := metrics.New()

	memCache := buildCache(cfg, log)
	circuitRegistry := reliability.NewRegistry(cfg.Circuit)
	executor := reliability.NewExecutor(circuitRegistry, log)

	chainClient := chainclient.NewClient(log)
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 30*time.Second)
	for chainIDRaw, rpcURL := range cfg.ChainRPC {
		chain := domain.ChainId(chainIDRaw)
		if dialer, err := chainclient.DialEthClient(dialCtx, rpcURL); err != nil {
			log.Warn().Err(err).Uint32("chain", uint32(chain)).Msg("failed to dial chain RPC, adapters for this chain stay disabled")
		} else {
			chainClient.RegisterDialer(chain, dialer)
		}
	}
	dialCancel()

	registry := buildProtocolRegistry(chainClient, log)
	coordinator := protocols.NewCoordinator(registry, trackedChains, log)

	calculator := risk.MonitorAdapter{Calc: risk.NewCalculator(risk.DefaultConfig)}

	hub := stream.NewHub(stream.DefaultConfig, log)
	hub.SetDropRecorder(metrics.StreamDropRecorder{Reg: reg})
	defer hub.Close()

	// bus is the system-wide audit trail: every component logs structurally
	// on its own, but bus.Emit also forwards onto the Stream Hub's "system"
	// topic so a connected dashboard sees anomalies and adapter errors
	// alongside price/position updates, without the Hub ever calling back
	// into its publishers.
	bus := events.NewBus(hub, log)
	commandBus := events.NewCommandBus(64, log)
	coordinator.OnAdapterError(func(protocol string, chain domain.ChainId, err error) {
		bus.EmitError("protocols."+protocol, err, map[string]any{"chain": uint32(chain)})
	})
	circuitRegistry.OnTransition(func(serviceID string, from, to domain.CircuitStateKind, seq uint64) {
		bus.Emit(events.CircuitStateChanged, "reliability", map[string]any{
			"service_id": serviceID, "from": from, "to": to, "seq": seq,
		})
	})

	aggregator := buildPriceAggregator(cfg, memCache, executor, bus, log)

	alertSink := alerts.FanOutSink{
		metrics.AlertRecorder{Reg: reg, Inner: persistence.AlertSink{Facade: store, Log: log}},
		hub,
	}
	alertEngine := alerts.NewEngine(cfg.Alert, thresholdRulesFunc(store, log), alertSink, log)

	loop := monitor.NewLoop(cfg.Monitor, monitor.Deps{
		Adapters:    coordinator,
		Prices:      aggregator,
		Calculator:  calculator,
		Alerts:      alertEngine,
		Persistence: store,
		Publisher:   hub,
		Metrics:     metrics.TickRecorder{Reg: reg},
		Log:         log,
	})
	for _, owner := range cfg.Owners {
		loop.RegisterOwner(owner)
	}

	poller := metrics.NewPoller(reg, memCache, circuitRegistry, []string{"prices", "positions"})
	poller.Start(15 * time.Second)
	defer poller.Stop()

	// tier2Up reports "no tier-2 configured" as healthy; an actually
	// misbehaving Redis degrades through individual Get/Set warnings instead,
	// since the cache has no standalone ping probe exposed.
	healthMonitor := stream.NewHealthMonitor(hub, healthRecorder{circuits: circuitRegistry, tier2Up: true}, log)
	healthMonitor.Start(30 * time.Second)
	defer healthMonitor.Stop()

	scheduler := reliability.NewScheduler(log)
	scheduler.Start()
	defer scheduler.Stop()
	if err := registerRetentionJob(scheduler, store, cfg, log); err != nil {
		log.Error().Err(err).Msg("failed to register retention job, rows will accumulate unbounded")
	}

	wsBridge := httpapi.NewWSBridge(hub, log)
	httpServer := httpapi.New(httpapi.Config{
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
		Log:     log,
		Metrics: reg,
		Health:   circuitHealth{circuits: circuitRegistry},
		WS:       wsBridge,
		Commands: commandBus,
	})

	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	go runCommandLoop(ctx, loop, commandBus, bus)

	go func() {
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http surface failed")
		}
	}()

	log.Info().Int("port", cfg.Port).Int("owners", len(cfg.Owners)).Msg("onchain risk monitor started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()
	loop.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http surface forced to shutdown")
	}

	log.Info().Msg("onchain risk monitor stopped")
}

// buildCache wires the two-tier cache (§4.2), attaching a Redis tier-2 only
// when REDIS_ADDR is configured.
func buildCache(cfg *config.Config, log zerolog.Logger) *cache.Cache {
	var tier2 cache.Tier2
	if cfg.RedisAddr != "" {
		tier2 = cache.NewRedisTier2(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}
	c := cache.New(tier2, log)
	pricesCfg := cfg.Cache
	pricesCfg.ExternalEnabled = cfg.Cache.ExternalEnabled && tier2 != nil
	if err := c.ConfigureNamespace("prices", pricesCfg); err != nil {
		log.Warn().Err(err).Msg("failed to configure prices cache namespace")
	}
	if err := c.ConfigureNamespace("positions", pricesCfg); err != nil {
		log.Warn().Err(err).Msg("failed to configure positions cache namespace")
	}
	return c
}

// buildPriceAggregator wires the Price Aggregator (C4) with a single
// concrete HTTP source (CoinGecko). Production deployments would add DEX
// TWAP and CEX sources here too; this reference wiring ships one, so
// MinSourcesRequired is clamped down to what's actually available rather
// than failing Config.Validate() outright.
func buildPriceAggregator(cfg *config.Config, c *cache.Cache, executor *reliability.Executor, bus *events.Bus, log zerolog.Logger) *prices.Aggregator {
	source := coingecko.NewClient(log)
	sourceCfg := prices.SourceConfig{Name: source.Name(), Weight: 1.0, Timeout: 10 * time.Second, Enabled: true}

	priceCfg := cfg.Price
	priceCfg.Sources = []prices.SourceConfig{sourceCfg}
	if priceCfg.MinSourcesRequired > 1 {
		log.Warn().Int("configured", priceCfg.MinSourcesRequired).Msg("only one price source wired, clamping min_sources_required to 1")
		priceCfg.MinSourcesRequired = 1
	}
	if err := priceCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid price aggregator configuration")
	}

	agg := prices.NewAggregator(priceCfg, []prices.Source{source}, c, executor, log)
	agg.OnAnomaly(func(ev prices.AnomalyEvent) {
		log.Warn().Str("token", ev.Token.Key()).Float64("deviation_percent", ev.DeviationPercent).Msg("price anomaly detected")
		bus.Emit(events.PriceAnomaly, "prices", map[string]any{
			"token":             ev.Token.Key(),
			"deviation_percent": ev.DeviationPercent,
		})
	})
	return agg
}

// runCommandLoop dispatches Commands posted over HTTP (owner onboarding/
// offboarding) onto the Monitor Loop, keeping the httpapi package from
// depending on monitor.Loop directly.
func runCommandLoop(ctx context.Context, loop *monitor.Loop, commands *events.CommandBus, bus *events.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-commands.Commands():
			switch cmd.Type {
			case events.CommandRegisterOwner:
				loop.RegisterOwner(cmd.Owner)
				bus.Emit(events.PositionDiscovered, "monitor", map[string]any{"owner": cmd.Owner.String()})
			case events.CommandDeregisterOwner:
				loop.DeregisterOwner(cmd.Owner)
			case events.CommandTriggerTick:
				loop.TriggerTick(ctx, cmd.Owner)
			}
		}
	}
}

// buildProtocolRegistry registers every protocol family adapter. None of
// them are given contract addresses here: populating per-chain deployment
// addresses is an operational concern (see DESIGN.md), so every adapter's
// SupportedChains() is empty and protocols.Registry.EnabledFor skips them
// until an operator supplies a contracts config.
func buildProtocolRegistry(client *chainclient.Client, log zerolog.Logger) *protocols.Registry {
	registry := protocols.NewRegistry()
	registry.Register(aave.NewAdapter(client, map[domain.ChainId]aave.ContractSet{}, map[domain.ChainId][]domain.Address{}, log))
	registry.Register(compound.NewAdapter(client, map[domain.ChainId]compound.ContractSet{}, log))
	registry.Register(uniswapv3.NewAdapter(client, map[domain.ChainId]uniswapv3.ContractSet{}, log))
	registry.Register(makerdao.NewAdapter(client, map[domain.ChainId]makerdao.ContractSet{}, log))
	registry.Register(liquidstaking.NewAdapter(domain.ProtocolLido, client, map[domain.ChainId]liquidstaking.Config{}, log))
	registry.Register(liquidstaking.NewAdapter(domain.ProtocolEtherFi, client, map[domain.ChainId]liquidstaking.Config{}, log))
	registry.Register(vault.NewAdapter(domain.ProtocolYearn, client, map[domain.ChainId][]vault.Config{}, log))
	registry.Register(vault.NewAdapter(domain.ProtocolBeefy, client, map[domain.ChainId][]vault.Config{}, log))
	return registry
}

// thresholdRulesFunc adapts the Persistence Facade's ListThresholds to the
// Alert Engine's synchronous rules source; persistence errors degrade to
// "no rules this tick" rather than blocking evaluation.
func thresholdRulesFunc(store *sqlite.Store, log zerolog.Logger) func(owner domain.Address) []domain.ThresholdRule {
	return func(owner domain.Address) []domain.ThresholdRule {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rules, err := store.ListThresholds(ctx, owner)
		if err != nil {
			log.Warn().Err(err).Str("owner", owner.String()).Msg("failed to load threshold rules")
			return nil
		}
		return rules
	}
}

// registerRetentionJob wires the archival+pruning maintenance job. Archival
// to cold storage only runs when ARCHIVE_ENABLED is set; otherwise the job
// prunes directly once rows pass the retention window.
func registerRetentionJob(scheduler *reliability.Scheduler, store *sqlite.Store, cfg *config.Config, log zerolog.Logger) error {
	var archiver reliability.Archiver
	if cfg.ArchiveEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client, err := archive.NewClient(ctx, archive.ClientConfig{
			AccountID:       cfg.ArchiveAccountID,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
			Bucket:          cfg.ArchiveBucket,
		})
		if err != nil {
			return err
		}
		archiver = archive.NewArchiver(store, client, cfg.DataDir+"/archive-staging", log)
	}
	job := reliability.NewRetentionJob(store, archiver, cfg.RetentionWindow, log)
	return scheduler.AddJob(cfg.RetentionCron, job)
}

// circuitHealth reports the monitor unhealthy once any breaker trips open;
// used for the /healthz probe.
type circuitHealth struct {
	circuits *reliability.Registry
}

func (h circuitHealth) Healthy() bool {
	for _, snap := range h.circuits.Snapshots() {
		if snap.State == domain.CircuitOpen {
			return false
		}
	}
	return true
}

// healthRecorder adapts the circuit registry and cache tier-2 reachability
// to stream.Recorder for the periodic SystemEvent broadcast.
type healthRecorder struct {
	circuits *reliability.Registry
	tier2Up  bool
}

func (r healthRecorder) CircuitOpenCount() int {
	count := 0
	for _, snap := range r.circuits.Snapshots() {
		if snap.State == domain.CircuitOpen {
			count++
		}
	}
	return count
}

func (r healthRecorder) CacheTier2Up() bool { return r.tier2Up }
