package main

import (
	"context"
	"encoding/hex"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/memebot-trading/memebot/internal/analytics"
	"github.com/memebot-trading/memebot/internal/chain"
	"github.com/memebot-trading/memebot/internal/config"
	"github.com/memebot-trading/memebot/internal/ingest"
	"github.com/memebot-trading/memebot/internal/monitor"
	"github.com/memebot-trading/memebot/internal/observability"
	"github.com/memebot-trading/memebot/internal/price"
	"github.com/memebot-trading/memebot/internal/risk"
	"github.com/memebot-trading/memebot/internal/security"
	"github.com/memebot-trading/memebot/internal/sentiment"
	"github.com/memebot-trading/memebot/internal/strategy"
	"github.com/memebot-trading/memebot/internal/trade"
	"github.com/memebot-trading/memebot/internal/venue"
	"github.com/memebot-trading/memebot/internal/wallet"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML configuration file")
	stub := flag.Bool("stub", false, "run against an in-memory chain stub instead of live RPC")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	setupLogging(cfg.General)

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("strategy", cfg.Strategy.Name).
		Bool("stub", *stub).
		Msg("memebot starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	// Chain connectivity.
	var client *chain.Client
	if *stub {
		client = chain.NewStubClient(cfg.Chain.Build(), chain.NewStubBackend())
	} else {
		client = chain.NewClient(cfg.Chain.Build())
	}
	if err := client.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("chain connect failed")
	}
	defer client.Close()

	reader := venue.NewReader(client)
	listener := ingest.NewListener(client, cfg.Ingest.Build())
	tracker := price.NewTracker(reader, cfg.Price.Build())

	// Signing.
	keyHex := os.Getenv(cfg.General.PrivateKeyEnv)
	if keyHex == "" {
		if !*stub {
			log.Fatal().Str("env", cfg.General.PrivateKeyEnv).Msg("wallet private key not set")
		}
		keyHex = ephemeralKey()
		log.Warn().Msg("using ephemeral wallet key for stub run")
	}
	w, err := wallet.New(keyHex, venue.ChainID)
	if err != nil {
		log.Fatal().Err(err).Msg("wallet init failed")
	}
	nonces := wallet.NewNonceManager(client, w.Address())

	executor := trade.NewExecutor(client, reader, w, nonces, cfg.Trade.Build())

	// Risk engines.
	manager := risk.NewManager(cfg.Risk.Build(), tracker)
	stops := risk.NewStopLoss(manager, executor, tracker)
	profits := risk.NewTakeProfit(manager, executor)

	// Analysis surfaces.
	activity := analytics.NewService(analytics.DefaultConfig(), listener)
	var scanner security.Scanner = security.NoopScanner{}
	if cfg.Security.Enabled {
		scanner = security.NewCurveScanner(reader, client, cfg.Security)
	}
	social, err := buildSentiment(cfg.Sentiment)
	if err != nil {
		log.Fatal().Err(err).Msg("sentiment provider init failed")
	}

	strat := buildStrategy(cfg.Strategy, tracker, activity, client, listener)

	mon := monitor.NewMonitor(cfg.Monitor.Build(), listener, reader, scanner, social, strat, executor, manager, tracker)

	// Trades observed on chain feed the price history; fresh prices drive
	// the risk triggers.
	listener.OnTokenPurchase(func(e *venue.TokenPurchase) {
		tracker.ObserveTrade(e.Token, e.AmountIn, e.AmountOut, e.Timestamp)
	})
	listener.OnTokenSale(func(e *venue.TokenSale) {
		tracker.ObserveTrade(e.Token, e.AmountOut, e.AmountIn, e.Timestamp)
	})
	tracker.Subscribe(func(token common.Address, p decimal.Decimal, _ time.Time) {
		manager.UpdatePrice(token, p)
		stops.Evaluate(ctx, token, p)
		profits.Evaluate(ctx, token, p)
	})

	// Start order: ingest before the monitor so no creation event is missed
	// between the two.
	if err := listener.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("event listener start failed")
	}
	if err := tracker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("price tracker start failed")
	}
	if err := stops.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("stop-loss start failed")
	}
	if err := mon.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("monitor start failed")
	}

	go strategyExitLoop(ctx, strat, manager, executor, cfg.Risk.Build().SweepInterval)

	var metrics *observability.Server
	if cfg.Metrics.Enabled {
		metrics = observability.NewServer(cfg.Metrics.Port)
		metrics.Start()
	}

	log.Info().Msg("memebot running")
	<-ctx.Done()

	mon.Stop()
	stops.Stop()
	tracker.Stop()
	listener.Stop()
	if metrics != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metrics.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	log.Info().Msg("memebot shutdown complete")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro

	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if general.LogFormat == "text" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	log.Logger = logger.Level(level).With().
		Timestamp().
		Str("service", "memebot").
		Str("instance", general.InstanceID).
		Logger()
}

func buildSentiment(cfg config.SentimentConfig) (sentiment.Provider, error) {
	switch cfg.Provider {
	case "twitter":
		return sentiment.NewTwitterProvider(cfg.BuildTwitter())
	default:
		return sentiment.NoopProvider{}, nil
	}
}

func buildStrategy(cfg config.StrategyConfig, tracker *price.Tracker, activity *analytics.Service, client *chain.Client, listener *ingest.Listener) strategy.Strategy {
	switch cfg.Name {
	case "whale":
		whale := strategy.NewWhale(cfg.Whale.Build())
		listener.OnTokenPurchase(whale.ObservePurchase)
		listener.OnTokenSale(whale.ObserveSale)
		return whale
	case "momentum":
		momentumCfg := cfg.Momentum.Build()
		cursor := func() uint64 {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			head, err := client.BlockNumber(ctx)
			if err != nil || head <= momentumCfg.LookbackBlocks {
				return 0
			}
			return head - momentumCfg.LookbackBlocks
		}
		return strategy.NewMomentum(momentumCfg, tracker, activity, cursor)
	default:
		return strategy.NewSniper(cfg.Sniper.Build())
	}
}

// strategyExitLoop periodically offers every open position to the strategy's
// exit rule. The hard risk triggers (stop-loss, take-profit ladder) run on
// their own engines; this covers strategy-specific exits like timed sells.
func strategyExitLoop(ctx context.Context, strat strategy.Strategy, manager *risk.Manager, seller risk.Seller, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range manager.Positions() {
				decision := strat.ShouldSell(ctx, p)
				if !decision.Sell {
					continue
				}

				amount := decision.Amount
				if amount.IsZero() || amount.GreaterThan(p.Amount) {
					amount = p.Amount
				}

				log.Info().Str("position", p.ID).Str("token", p.Token.Hex()).
					Str("reason", decision.Reason).Str("amount", amount.String()).
					Msg("strategy exit triggered")

				result, err := seller.SellTokens(ctx, p.Token, amount)
				if err != nil {
					log.Error().Err(err).Str("position", p.ID).Msg("strategy exit failed")
					continue
				}
				if !result.Success {
					log.Error().Str("position", p.ID).Str("reason", result.Reason).Msg("strategy exit rejected")
					continue
				}

				if amount.Equal(p.Amount) {
					if err := manager.Close(p.ID, result); err != nil {
						log.Warn().Err(err).Str("position", p.ID).Msg("close after strategy exit")
					}
				} else {
					if err := manager.Reduce(p.ID, amount, venue.WeiToDecimal(result.AmountOut)); err != nil {
						log.Warn().Err(err).Str("position", p.ID).Msg("reduce after strategy exit")
					}
				}
			}
		}
	}
}

func ephemeralKey() string {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal().Err(err).Msg("generate ephemeral key")
	}
	return hex.EncodeToString(crypto.FromECDSA(key))
}
