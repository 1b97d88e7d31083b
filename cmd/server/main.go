package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Fantasim/minerstake/internal/action"
	"github.com/Fantasim/minerstake/internal/aggregate"
	"github.com/Fantasim/minerstake/internal/api"
	"github.com/Fantasim/minerstake/internal/api/handlers"
	"github.com/Fantasim/minerstake/internal/chain"
	"github.com/Fantasim/minerstake/internal/config"
	"github.com/Fantasim/minerstake/internal/db"
	"github.com/Fantasim/minerstake/internal/discovery"
	"github.com/Fantasim/minerstake/internal/logging"
	"github.com/Fantasim/minerstake/internal/models"
	"github.com/Fantasim/minerstake/internal/notify"
	"github.com/Fantasim/minerstake/internal/pool"
	"github.com/Fantasim/minerstake/internal/position"
	"github.com/Fantasim/minerstake/internal/tiers"
	"github.com/Fantasim/minerstake/internal/tracker"
	"github.com/Fantasim/minerstake/internal/wallet"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	case "positions":
		if err := runPositions(os.Args[2:]); err != nil {
			slog.Error("positions error", "error", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("minerstake %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: minerstake <command>

Commands:
  serve                                  Start the HTTP server
  positions <address> [--strategy name]  Print an account's positions and totals
  version                                Print version information
`)
}

// rpcStack is the shared chain access layer.
type rpcStack struct {
	conn     *chain.Conn
	fallback *chain.Conn
	eth      chain.EthClient
	reader   *chain.Reader
}

func (s *rpcStack) Close() {
	s.conn.Close()
	if s.fallback != nil {
		s.fallback.Close()
	}
}

func (s *rpcStack) probes() []chain.Probe {
	probes := []chain.Probe{{Name: s.conn.URL, Client: s.conn.Eth}}
	if s.fallback != nil {
		probes = append(probes, chain.Probe{Name: s.fallback.URL, Client: s.fallback.Eth})
	}
	return probes
}

func dialRPC(ctx context.Context, cfg *config.Config) (*rpcStack, error) {
	conn, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	stack := &rpcStack{conn: conn, eth: conn.Eth}

	if cfg.FallbackRPCURL != "" {
		fb, err := chain.Dial(ctx, cfg.FallbackRPCURL)
		if err != nil {
			slog.Warn("fallback RPC failed to connect, using primary only",
				"fallbackURL", cfg.FallbackRPCURL,
				"error", err,
			)
		} else {
			stack.fallback = fb
			stack.eth = chain.NewFallbackClient(conn.Eth, fb.Eth)
			slog.Info("broadcast fallback configured",
				"primary", cfg.RPCURL,
				"fallback", cfg.FallbackRPCURL,
			)
		}
	}

	rl := chain.NewRateLimiter(conn.URL, cfg.RPCRateLimit)
	cb := chain.NewCircuitBreaker(conn.URL, config.CircuitBreakerThreshold, config.CircuitBreakerCooldown)
	stack.reader = chain.NewReader(conn.RPC, rl, cb, cfg.BatchSize)
	return stack, nil
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("starting minerstake",
		"version", version,
		"chainID", cfg.ChainID,
		"port", cfg.Port,
		"dbPath", cfg.DBPath,
		"strategy", cfg.DiscoveryStrategy,
		"logLevel", cfg.LogLevel,
	)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	rpcs, err := dialRPC(appCtx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect rpc: %w", err)
	}
	defer rpcs.Close()

	// Non-blocking: failures are logged, startup continues.
	go chain.CheckEndpoints(appCtx, cfg.ChainID, rpcs.probes())

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	slog.Info("database ready", "path", cfg.DBPath)

	table, err := tiers.LoadOrCreate(cfg.TiersFile)
	if err != nil {
		return fmt.Errorf("failed to load tiers: %w", err)
	}

	key, err := wallet.LoadSigningKey(cfg)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	var watch common.Address
	if cfg.WatchAccount != "" {
		watch = common.HexToAddress(cfg.WatchAccount)
	}
	session := wallet.NewSession(appCtx, rpcs.eth, cfg.ChainID, key, watch)

	contracts := cfg.Contracts()
	strategy, err := discovery.New(cfg.DiscoveryStrategy, rpcs.reader, contracts, cfg.ScanCeiling)
	if err != nil {
		return fmt.Errorf("failed to setup discovery: %w", err)
	}
	fetcher := position.NewFetcher(rpcs.reader, contracts)

	hub := notify.NewHub()
	go hub.Run(appCtx)

	tr := tracker.New(tracker.Deps{
		Session:   session,
		Discovery: strategy,
		Fetcher:   fetcher,
		Reader:    rpcs.reader,
		Contracts: contracts,
		Events:    hub,
		Interval:  cfg.PollInterval,
	})
	go tr.Run(appCtx)

	poolSvc := pool.NewService(rpcs.reader, contracts)

	orch := action.New(action.Deps{
		Session:   session,
		Reader:    rpcs.reader,
		Sender:    chain.NewTransactor(rpcs.eth, cfg.ChainID),
		Receipts:  rpcs.eth,
		Contracts: contracts,
		State:     tr,
		Pool:      poolSvc,
		Events:    hub,
		Audit:     database,
	})

	if err := session.Connect(appCtx); err != nil {
		slog.Warn("wallet not connected at startup", "error", err)
	}

	router := api.NewRouter(&handlers.Deps{
		Config:       cfg,
		Version:      version,
		Session:      session,
		Tracker:      tr,
		Reader:       rpcs.reader,
		Fetcher:      fetcher,
		Pool:         poolSvc,
		Orchestrator: orch,
		DB:           database,
		Hub:          hub,
		Tiers:        table,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	srv := &http.Server{
		Addr:           addr,
		Handler:        router,
		ReadTimeout:    config.ServerReadTimeout,
		WriteTimeout:   config.ServerWriteTimeout,
		IdleTimeout:    config.ServerIdleTimeout,
		MaxHeaderBytes: config.ServerMaxHeaderBytes,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("initiating graceful shutdown",
		"timeout", config.ShutdownTimeout,
	)

	// 1. Stop the tracker and drain event stream clients.
	appCancel()

	// 2. Shut down HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	// 3. Abandon pending confirmations; their transactions stay on chain.
	session.Disconnect()
	orch.Wait()

	slog.Info("server stopped gracefully")
	return nil
}

func runPositions(args []string) error {
	fs := flag.NewFlagSet("positions", flag.ExitOnError)
	strategyName := fs.String("strategy", "", "Discovery strategy: enumerate or scan (default: from MINERSTAKE_DISCOVERY_STRATEGY)")
	verbose := fs.Bool("verbose", false, "Log at debug level")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("an account address is required")
	}
	rawAccount := fs.Arg(0)
	fs.Parse(fs.Args()[1:])

	if !common.IsHexAddress(rawAccount) {
		return fmt.Errorf("%w: %q is not a hex address", config.ErrInvalidInput, rawAccount)
	}
	account := common.HexToAddress(rawAccount)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *strategyName != "" {
		cfg.DiscoveryStrategy = *strategyName
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()
	if *verbose {
		if err := logging.SetLevel("debug"); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.RPCCallTimeout*2)
	defer cancel()

	rpcs, err := dialRPC(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect rpc: %w", err)
	}
	defer rpcs.Close()

	table, err := tiers.LoadOrCreate(cfg.TiersFile)
	if err != nil {
		slog.Warn("tiers file unusable, using defaults", "path", cfg.TiersFile, "error", err)
		table = tiers.Default()
	}

	contracts := cfg.Contracts()
	strategy, err := discovery.New(cfg.DiscoveryStrategy, rpcs.reader, contracts, cfg.ScanCeiling)
	if err != nil {
		return err
	}

	start := time.Now()
	snap, err := tracker.Load(ctx, strategy, position.NewFetcher(rpcs.reader, contracts), account, nil)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	agg := aggregate.Compute(snap.Positions())

	slog.Info("positions loaded",
		"account", account.Hex(),
		"strategy", strategy.Name(),
		"count", snap.Len(),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	printPositions(os.Stdout, snap, table)
	fmt.Printf("\nactive: %d  pending: %s  claimed: %s\n",
		agg.ActiveCount,
		aggregate.FormatUnits(agg.TotalPending, config.RewardTokenDecimals),
		aggregate.FormatUnits(agg.TotalClaimed, config.RewardTokenDecimals),
	)
	return nil
}

func printPositions(out io.Writer, snap *position.Snapshot, table *tiers.Table) {
	now := time.Now()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tTIER\tSTAKED\tUNLOCK IN\tPENDING\tCLAIMED")
	for _, p := range snap.Positions() {
		tier := "?"
		if d, ok := table.Lookup(p.Tier); ok && p.Has(models.KnownTier) {
			tier = d.Name
		}
		pending, claimed := "?", "?"
		if p.Has(models.KnownPending) {
			pending = aggregate.FormatUnits(p.PendingReward, config.RewardTokenDecimals)
		}
		if p.Has(models.KnownClaimed) {
			claimed = aggregate.FormatUnits(p.TotalClaimed, config.RewardTokenDecimals)
		}
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\t%s\n",
			p.TokenID, tier, p.IsStaked, p.UnlockIn(now).Round(time.Second), pending, claimed)
	}
	tw.Flush()
}
