package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/memebot-trading/memebot/internal/chain"
	"github.com/memebot-trading/memebot/internal/ingest"
	"github.com/memebot-trading/memebot/internal/monitor"
	"github.com/memebot-trading/memebot/internal/price"
	"github.com/memebot-trading/memebot/internal/risk"
	"github.com/memebot-trading/memebot/internal/security"
	"github.com/memebot-trading/memebot/internal/sentiment"
	"github.com/memebot-trading/memebot/internal/strategy"
	"github.com/memebot-trading/memebot/internal/trade"
)

// Config is the root configuration structure. Durations are expressed as
// unit-suffixed integers so the YAML stays plain; the Build methods convert
// each section into its package's config.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Chain     ChainConfig     `yaml:"chain"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Price     PriceConfig     `yaml:"price"`
	Risk      RiskConfig      `yaml:"risk"`
	Trade     TradeConfig     `yaml:"trade"`
	Security  security.Config `yaml:"security"`
	Sentiment SentimentConfig `yaml:"sentiment"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID string `yaml:"instance_id"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json|text
	// PrivateKeyEnv names the environment variable holding the wallet key.
	// The key itself never appears in the file.
	PrivateKeyEnv string `yaml:"private_key_env"`
}

type ChainConfig struct {
	RPCURLs          []string `yaml:"rpc_urls"`
	WSURL            string   `yaml:"ws_url"`
	TimeoutSeconds   int      `yaml:"timeout_seconds"`
	MaxRetries       int      `yaml:"max_retries"`
	RetryDelayMs     int      `yaml:"retry_delay_ms"`
	RateLimitRPS     float64  `yaml:"rate_limit_rps"`
	MaxReconnects    int      `yaml:"max_reconnects"`
	ReconnectDelayMs int      `yaml:"reconnect_delay_ms"`
}

type IngestConfig struct {
	Mode           string `yaml:"mode"` // auto|push|poll
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	BatchBlocks    uint64 `yaml:"batch_blocks"`
	StartBlock     uint64 `yaml:"start_block"`
	DedupDepth     int    `yaml:"dedup_depth"`
}

type PriceConfig struct {
	HistoryDepth          int `yaml:"history_depth"`
	CandleIntervalSeconds int `yaml:"candle_interval_seconds"`
	CandleDepth           int `yaml:"candle_depth"`
	CacheTTLSeconds       int `yaml:"cache_ttl_seconds"`
	SweepIntervalSeconds  int `yaml:"sweep_interval_seconds"`
}

type TakeProfitLevel struct {
	Percent     float64 `yaml:"percent"`
	SellPercent float64 `yaml:"sell_percent"`
}

type RiskConfig struct {
	StopLossPercent      float64           `yaml:"stop_loss_percent"`
	TrailingStop         bool              `yaml:"trailing_stop"`
	TrailingPercent      float64           `yaml:"trailing_percent"`
	MaxHoldMinutes       int               `yaml:"max_hold_minutes"`
	MaxPositions         int               `yaml:"max_positions"`
	MaxPositionSizeBNB   float64           `yaml:"max_position_size_bnb"`
	DailyVolumeCapBNB    float64           `yaml:"daily_volume_cap_bnb"`
	TakeProfitLevels     []TakeProfitLevel `yaml:"take_profit_levels"`
	SweepIntervalSeconds int               `yaml:"sweep_interval_seconds"`
}

type TradeConfig struct {
	SlippagePercent       float64 `yaml:"slippage_percent"`
	MaxSlippagePercent    float64 `yaml:"max_slippage_percent"`
	SlippageStep          float64 `yaml:"slippage_step"`
	GasMultiplier         float64 `yaml:"gas_multiplier"`
	GasLimit              uint64  `yaml:"gas_limit"`
	ReceiptTimeoutSeconds int     `yaml:"receipt_timeout_seconds"`
	ReceiptPollMs         int     `yaml:"receipt_poll_ms"`
	RetryDelayMs          int     `yaml:"retry_delay_ms"`
}

type SentimentConfig struct {
	Provider        string `yaml:"provider"` // noop|twitter
	BearerToken     string `yaml:"bearer_token"`
	MaxResults      int    `yaml:"max_results"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

type StrategyConfig struct {
	Name     string         `yaml:"name"` // sniper|momentum|whale
	Sniper   SniperConfig   `yaml:"sniper"`
	Momentum MomentumConfig `yaml:"momentum"`
	Whale    WhaleConfig    `yaml:"whale"`
}

type SniperConfig struct {
	MaxAgeMinutes       int      `yaml:"max_age_minutes"`
	BuyAmountBNB        float64  `yaml:"buy_amount_bnb"`
	MinReserveBNB       float64  `yaml:"min_reserve_bnb"`
	MaxReserveBNB       float64  `yaml:"max_reserve_bnb"`
	BlacklistedWords    []string `yaml:"blacklisted_words"`
	BlacklistedCreators []string `yaml:"blacklisted_creators"`
	WhitelistedCreators []string `yaml:"whitelisted_creators"`
	MinSentimentScore   int      `yaml:"min_sentiment_score"`
	AutoSellMinutes     int      `yaml:"auto_sell_minutes"`
}

type MomentumConfig struct {
	ShortWindowMinutes int     `yaml:"short_window_minutes"`
	LongWindowMinutes  int     `yaml:"long_window_minutes"`
	MinChangeShortPct  float64 `yaml:"min_change_short_pct"`
	MinChangeLongPct   float64 `yaml:"min_change_long_pct"`
	MinTrades          int     `yaml:"min_trades"`
	MinActivityScore   int     `yaml:"min_activity_score"`
	RequireBuyPressure bool    `yaml:"require_buy_pressure"`
	BuyAmountBNB       float64 `yaml:"buy_amount_bnb"`
	MomentumLossPct    float64 `yaml:"momentum_loss_pct"`
	LookbackBlocks     uint64  `yaml:"lookback_blocks"`
}

type WhaleConfig struct {
	ThresholdBNB      float64  `yaml:"threshold_bnb"`
	FollowPercent     float64  `yaml:"follow_percent"`
	MaxBuyAmountBNB   float64  `yaml:"max_buy_amount_bnb"`
	TrackedWallets    []string `yaml:"tracked_wallets"`
	TrackAnyWhale     bool     `yaml:"track_any_whale"`
	MaxFollowDelaySec int      `yaml:"max_follow_delay_seconds"`
	MaxDailyFollows   int      `yaml:"max_daily_follows"`
	SellWindowMinutes int      `yaml:"sell_window_minutes"`
}

type MonitorConfig struct {
	QueueSize       int     `yaml:"queue_size"`
	SeenLimit       int     `yaml:"seen_limit"`
	SlippagePercent float64 `yaml:"slippage_percent"`
	BuyAttempts     int     `yaml:"buy_attempts"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses a YAML configuration file, expanding environment
// variable references and applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a fully defaulted config without reading a file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "memebot-1"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.General.PrivateKeyEnv == "" {
		cfg.General.PrivateKeyEnv = "WALLET_PRIVATE_KEY"
	}

	chainDef := chain.DefaultConfig()
	if len(cfg.Chain.RPCURLs) == 0 {
		cfg.Chain.RPCURLs = chainDef.RPCURLs
	}
	if cfg.Chain.WSURL == "" {
		cfg.Chain.WSURL = chainDef.WSURL
	}
	if cfg.Chain.TimeoutSeconds == 0 {
		cfg.Chain.TimeoutSeconds = int(chainDef.Timeout / time.Second)
	}
	if cfg.Chain.MaxRetries == 0 {
		cfg.Chain.MaxRetries = chainDef.MaxRetries
	}
	if cfg.Chain.RetryDelayMs == 0 {
		cfg.Chain.RetryDelayMs = int(chainDef.RetryDelay / time.Millisecond)
	}
	if cfg.Chain.RateLimitRPS == 0 {
		cfg.Chain.RateLimitRPS = chainDef.RateLimitRPS
	}
	if cfg.Chain.MaxReconnects == 0 {
		cfg.Chain.MaxReconnects = chainDef.MaxReconnects
	}
	if cfg.Chain.ReconnectDelayMs == 0 {
		cfg.Chain.ReconnectDelayMs = int(chainDef.ReconnectDelay / time.Millisecond)
	}

	ingestDef := ingest.DefaultConfig()
	if cfg.Ingest.Mode == "" {
		cfg.Ingest.Mode = string(ingestDef.Mode)
	}
	if cfg.Ingest.PollIntervalMs == 0 {
		cfg.Ingest.PollIntervalMs = int(ingestDef.PollInterval / time.Millisecond)
	}
	if cfg.Ingest.BatchBlocks == 0 {
		cfg.Ingest.BatchBlocks = ingestDef.BatchBlocks
	}
	if cfg.Ingest.DedupDepth == 0 {
		cfg.Ingest.DedupDepth = ingestDef.DedupDepth
	}

	priceDef := price.DefaultConfig()
	if cfg.Price.HistoryDepth == 0 {
		cfg.Price.HistoryDepth = priceDef.HistoryDepth
	}
	if cfg.Price.CandleIntervalSeconds == 0 {
		cfg.Price.CandleIntervalSeconds = int(priceDef.CandleInterval / time.Second)
	}
	if cfg.Price.CandleDepth == 0 {
		cfg.Price.CandleDepth = priceDef.CandleDepth
	}
	if cfg.Price.CacheTTLSeconds == 0 {
		cfg.Price.CacheTTLSeconds = int(priceDef.CacheTTL / time.Second)
	}
	if cfg.Price.SweepIntervalSeconds == 0 {
		cfg.Price.SweepIntervalSeconds = int(priceDef.SweepInterval / time.Second)
	}

	riskDef := risk.DefaultConfig()
	if cfg.Risk.StopLossPercent == 0 {
		cfg.Risk.StopLossPercent = riskDef.StopLossPercent
	}
	if cfg.Risk.TrailingPercent == 0 {
		cfg.Risk.TrailingPercent = riskDef.TrailingPercent
	}
	if cfg.Risk.MaxHoldMinutes == 0 {
		cfg.Risk.MaxHoldMinutes = int(riskDef.MaxHoldTime / time.Minute)
	}
	if cfg.Risk.MaxPositions == 0 {
		cfg.Risk.MaxPositions = riskDef.MaxPositions
	}
	if cfg.Risk.MaxPositionSizeBNB == 0 {
		cfg.Risk.MaxPositionSizeBNB = riskDef.MaxPositionSize
	}
	if cfg.Risk.DailyVolumeCapBNB == 0 {
		cfg.Risk.DailyVolumeCapBNB = riskDef.DailyVolumeCap
	}
	if len(cfg.Risk.TakeProfitLevels) == 0 {
		for _, l := range riskDef.TakeProfitLevels {
			cfg.Risk.TakeProfitLevels = append(cfg.Risk.TakeProfitLevels, TakeProfitLevel{
				Percent: l.Percent, SellPercent: l.SellPercent,
			})
		}
	}
	if cfg.Risk.SweepIntervalSeconds == 0 {
		cfg.Risk.SweepIntervalSeconds = int(riskDef.SweepInterval / time.Second)
	}

	tradeDef := trade.DefaultConfig()
	if cfg.Trade.SlippagePercent == 0 {
		cfg.Trade.SlippagePercent = tradeDef.SlippagePercent
	}
	if cfg.Trade.MaxSlippagePercent == 0 {
		cfg.Trade.MaxSlippagePercent = tradeDef.MaxSlippagePercent
	}
	if cfg.Trade.SlippageStep == 0 {
		cfg.Trade.SlippageStep = tradeDef.SlippageStep
	}
	if cfg.Trade.GasMultiplier == 0 {
		cfg.Trade.GasMultiplier = tradeDef.GasMultiplier
	}
	if cfg.Trade.GasLimit == 0 {
		cfg.Trade.GasLimit = tradeDef.GasLimit
	}
	if cfg.Trade.ReceiptTimeoutSeconds == 0 {
		cfg.Trade.ReceiptTimeoutSeconds = int(tradeDef.ReceiptTimeout / time.Second)
	}
	if cfg.Trade.ReceiptPollMs == 0 {
		cfg.Trade.ReceiptPollMs = int(tradeDef.ReceiptPoll / time.Millisecond)
	}
	if cfg.Trade.RetryDelayMs == 0 {
		cfg.Trade.RetryDelayMs = int(tradeDef.RetryDelay / time.Millisecond)
	}

	secDef := security.DefaultConfig()
	if cfg.Security.MinReserveBNB == 0 {
		cfg.Security.MinReserveBNB = secDef.MinReserveBNB
	}
	if cfg.Security.MaxCreatorHoldPct == 0 {
		cfg.Security.MaxCreatorHoldPct = secDef.MaxCreatorHoldPct
	}
	if cfg.Security.ProbeSellTokens == 0 {
		cfg.Security.ProbeSellTokens = secDef.ProbeSellTokens
	}

	twitterDef := sentiment.DefaultTwitterConfig()
	if cfg.Sentiment.Provider == "" {
		cfg.Sentiment.Provider = "noop"
	}
	if cfg.Sentiment.MaxResults == 0 {
		cfg.Sentiment.MaxResults = twitterDef.MaxResults
	}
	if cfg.Sentiment.CacheTTLSeconds == 0 {
		cfg.Sentiment.CacheTTLSeconds = int(twitterDef.CacheTTL / time.Second)
	}

	if cfg.Strategy.Name == "" {
		cfg.Strategy.Name = "sniper"
	}
	sniperDef := strategy.DefaultSniperConfig()
	if cfg.Strategy.Sniper.MaxAgeMinutes == 0 {
		cfg.Strategy.Sniper.MaxAgeMinutes = int(sniperDef.MaxAge / time.Minute)
	}
	if cfg.Strategy.Sniper.BuyAmountBNB == 0 {
		cfg.Strategy.Sniper.BuyAmountBNB, _ = sniperDef.BuyAmountBNB.Float64()
	}
	if cfg.Strategy.Sniper.MinReserveBNB == 0 {
		cfg.Strategy.Sniper.MinReserveBNB, _ = sniperDef.MinReserveBNB.Float64()
	}
	if cfg.Strategy.Sniper.MaxReserveBNB == 0 {
		cfg.Strategy.Sniper.MaxReserveBNB, _ = sniperDef.MaxReserveBNB.Float64()
	}
	if len(cfg.Strategy.Sniper.BlacklistedWords) == 0 {
		cfg.Strategy.Sniper.BlacklistedWords = sniperDef.BlacklistedWords
	}
	momentumDef := strategy.DefaultMomentumConfig()
	if cfg.Strategy.Momentum.ShortWindowMinutes == 0 {
		cfg.Strategy.Momentum.ShortWindowMinutes = int(momentumDef.ShortWindow / time.Minute)
	}
	if cfg.Strategy.Momentum.LongWindowMinutes == 0 {
		cfg.Strategy.Momentum.LongWindowMinutes = int(momentumDef.LongWindow / time.Minute)
	}
	if cfg.Strategy.Momentum.MinChangeShortPct == 0 {
		cfg.Strategy.Momentum.MinChangeShortPct, _ = momentumDef.MinChangeShortPct.Float64()
	}
	if cfg.Strategy.Momentum.MinChangeLongPct == 0 {
		cfg.Strategy.Momentum.MinChangeLongPct, _ = momentumDef.MinChangeLongPct.Float64()
	}
	if cfg.Strategy.Momentum.MinTrades == 0 {
		cfg.Strategy.Momentum.MinTrades = momentumDef.MinTrades
	}
	if cfg.Strategy.Momentum.MinActivityScore == 0 {
		cfg.Strategy.Momentum.MinActivityScore = momentumDef.MinActivityScore
	}
	if cfg.Strategy.Momentum.BuyAmountBNB == 0 {
		cfg.Strategy.Momentum.BuyAmountBNB, _ = momentumDef.BuyAmountBNB.Float64()
	}
	if cfg.Strategy.Momentum.MomentumLossPct == 0 {
		cfg.Strategy.Momentum.MomentumLossPct, _ = momentumDef.MomentumLossPct.Float64()
	}
	if cfg.Strategy.Momentum.LookbackBlocks == 0 {
		cfg.Strategy.Momentum.LookbackBlocks = momentumDef.LookbackBlocks
	}
	whaleDef := strategy.DefaultWhaleConfig()
	if cfg.Strategy.Whale.ThresholdBNB == 0 {
		cfg.Strategy.Whale.ThresholdBNB, _ = whaleDef.ThresholdBNB.Float64()
		// The section was omitted; whale-follow mode defaults on.
		if len(cfg.Strategy.Whale.TrackedWallets) == 0 {
			cfg.Strategy.Whale.TrackAnyWhale = whaleDef.TrackAnyWhale
		}
	}
	if cfg.Strategy.Whale.FollowPercent == 0 {
		cfg.Strategy.Whale.FollowPercent = whaleDef.FollowPercent
	}
	if cfg.Strategy.Whale.MaxBuyAmountBNB == 0 {
		cfg.Strategy.Whale.MaxBuyAmountBNB, _ = whaleDef.MaxBuyAmountBNB.Float64()
	}
	if cfg.Strategy.Whale.MaxFollowDelaySec == 0 {
		cfg.Strategy.Whale.MaxFollowDelaySec = int(whaleDef.MaxFollowDelay / time.Second)
	}
	if cfg.Strategy.Whale.MaxDailyFollows == 0 {
		cfg.Strategy.Whale.MaxDailyFollows = whaleDef.MaxDailyFollows
	}
	if cfg.Strategy.Whale.SellWindowMinutes == 0 {
		cfg.Strategy.Whale.SellWindowMinutes = int(whaleDef.SellWindow / time.Minute)
	}

	monitorDef := monitor.DefaultConfig()
	if cfg.Monitor.QueueSize == 0 {
		cfg.Monitor.QueueSize = monitorDef.QueueSize
	}
	if cfg.Monitor.SeenLimit == 0 {
		cfg.Monitor.SeenLimit = monitorDef.SeenLimit
	}
	if cfg.Monitor.SlippagePercent == 0 {
		cfg.Monitor.SlippagePercent = monitorDef.SlippagePercent
	}
	if cfg.Monitor.BuyAttempts == 0 {
		cfg.Monitor.BuyAttempts = monitorDef.BuyAttempts
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if len(c.Chain.RPCURLs) == 0 {
		return fmt.Errorf("config: at least one RPC URL is required")
	}
	switch ingest.Mode(c.Ingest.Mode) {
	case ingest.ModeAuto, ingest.ModePush, ingest.ModePoll:
	default:
		return fmt.Errorf("config: unknown ingest mode %q", c.Ingest.Mode)
	}
	if c.Trade.SlippagePercent < 0 || c.Trade.SlippagePercent >= 100 {
		return fmt.Errorf("config: slippage_percent %.2f out of range", c.Trade.SlippagePercent)
	}
	if c.Risk.StopLossPercent <= 0 || c.Risk.StopLossPercent >= 100 {
		return fmt.Errorf("config: stop_loss_percent %.2f out of range", c.Risk.StopLossPercent)
	}
	for i, l := range c.Risk.TakeProfitLevels {
		if l.Percent <= 0 || l.SellPercent <= 0 || l.SellPercent > 100 {
			return fmt.Errorf("config: take_profit_levels[%d] is invalid", i)
		}
	}
	switch c.Strategy.Name {
	case "sniper", "momentum", "whale":
	default:
		return fmt.Errorf("config: unknown strategy %q", c.Strategy.Name)
	}
	switch c.Sentiment.Provider {
	case "noop", "twitter":
	default:
		return fmt.Errorf("config: unknown sentiment provider %q", c.Sentiment.Provider)
	}
	if c.Sentiment.Provider == "twitter" && c.Sentiment.BearerToken == "" {
		return fmt.Errorf("config: twitter sentiment requires bearer_token")
	}
	return nil
}

// ----------------------------------------------------------------------------
// Build methods
// ----------------------------------------------------------------------------

func (c ChainConfig) Build() chain.Config {
	return chain.Config{
		RPCURLs:        c.RPCURLs,
		WSURL:          c.WSURL,
		Timeout:        time.Duration(c.TimeoutSeconds) * time.Second,
		MaxRetries:     c.MaxRetries,
		RetryDelay:     time.Duration(c.RetryDelayMs) * time.Millisecond,
		RateLimitRPS:   c.RateLimitRPS,
		MaxReconnects:  c.MaxReconnects,
		ReconnectDelay: time.Duration(c.ReconnectDelayMs) * time.Millisecond,
	}
}

func (c IngestConfig) Build() ingest.Config {
	return ingest.Config{
		Mode:         ingest.Mode(c.Mode),
		PollInterval: time.Duration(c.PollIntervalMs) * time.Millisecond,
		BatchBlocks:  c.BatchBlocks,
		StartBlock:   c.StartBlock,
		DedupDepth:   c.DedupDepth,
	}
}

func (c PriceConfig) Build() price.Config {
	return price.Config{
		HistoryDepth:   c.HistoryDepth,
		CandleInterval: time.Duration(c.CandleIntervalSeconds) * time.Second,
		CandleDepth:    c.CandleDepth,
		CacheTTL:       time.Duration(c.CacheTTLSeconds) * time.Second,
		SweepInterval:  time.Duration(c.SweepIntervalSeconds) * time.Second,
	}
}

func (c RiskConfig) Build() risk.Config {
	levels := make([]risk.Level, 0, len(c.TakeProfitLevels))
	for _, l := range c.TakeProfitLevels {
		levels = append(levels, risk.Level{Percent: l.Percent, SellPercent: l.SellPercent})
	}
	return risk.Config{
		StopLossPercent:  c.StopLossPercent,
		TrailingStop:     c.TrailingStop,
		TrailingPercent:  c.TrailingPercent,
		MaxHoldTime:      time.Duration(c.MaxHoldMinutes) * time.Minute,
		MaxPositions:     c.MaxPositions,
		MaxPositionSize:  c.MaxPositionSizeBNB,
		DailyVolumeCap:   c.DailyVolumeCapBNB,
		TakeProfitLevels: levels,
		SweepInterval:    time.Duration(c.SweepIntervalSeconds) * time.Second,
	}
}

func (c TradeConfig) Build() trade.Config {
	return trade.Config{
		SlippagePercent:    c.SlippagePercent,
		MaxSlippagePercent: c.MaxSlippagePercent,
		SlippageStep:       c.SlippageStep,
		GasMultiplier:      c.GasMultiplier,
		GasLimit:           c.GasLimit,
		ReceiptTimeout:     time.Duration(c.ReceiptTimeoutSeconds) * time.Second,
		ReceiptPoll:        time.Duration(c.ReceiptPollMs) * time.Millisecond,
		RetryDelay:         time.Duration(c.RetryDelayMs) * time.Millisecond,
	}
}

// BuildTwitter returns the provider config for the twitter sentiment backend.
func (c SentimentConfig) BuildTwitter() sentiment.TwitterConfig {
	return sentiment.TwitterConfig{
		BearerToken: c.BearerToken,
		MaxResults:  c.MaxResults,
		CacheTTL:    time.Duration(c.CacheTTLSeconds) * time.Second,
	}
}

func (c SniperConfig) Build() strategy.SniperConfig {
	toAddrs := func(hexes []string) []common.Address {
		out := make([]common.Address, 0, len(hexes))
		for _, h := range hexes {
			out = append(out, common.HexToAddress(h))
		}
		return out
	}
	return strategy.SniperConfig{
		MaxAge:              time.Duration(c.MaxAgeMinutes) * time.Minute,
		BuyAmountBNB:        decimal.NewFromFloat(c.BuyAmountBNB),
		MinReserveBNB:       decimal.NewFromFloat(c.MinReserveBNB),
		MaxReserveBNB:       decimal.NewFromFloat(c.MaxReserveBNB),
		BlacklistedWords:    c.BlacklistedWords,
		BlacklistedCreators: toAddrs(c.BlacklistedCreators),
		WhitelistedCreators: toAddrs(c.WhitelistedCreators),
		MinSentimentScore:   c.MinSentimentScore,
		AutoSellAfter:       time.Duration(c.AutoSellMinutes) * time.Minute,
	}
}

func (c MomentumConfig) Build() strategy.MomentumConfig {
	return strategy.MomentumConfig{
		ShortWindow:        time.Duration(c.ShortWindowMinutes) * time.Minute,
		LongWindow:         time.Duration(c.LongWindowMinutes) * time.Minute,
		MinChangeShortPct:  decimal.NewFromFloat(c.MinChangeShortPct),
		MinChangeLongPct:   decimal.NewFromFloat(c.MinChangeLongPct),
		MinTrades:          c.MinTrades,
		MinActivityScore:   c.MinActivityScore,
		RequireBuyPressure: c.RequireBuyPressure,
		BuyAmountBNB:       decimal.NewFromFloat(c.BuyAmountBNB),
		MomentumLossPct:    decimal.NewFromFloat(c.MomentumLossPct),
		LookbackBlocks:     c.LookbackBlocks,
	}
}

func (c WhaleConfig) Build() strategy.WhaleConfig {
	wallets := make([]common.Address, 0, len(c.TrackedWallets))
	for _, h := range c.TrackedWallets {
		wallets = append(wallets, common.HexToAddress(h))
	}
	return strategy.WhaleConfig{
		ThresholdBNB:    decimal.NewFromFloat(c.ThresholdBNB),
		FollowPercent:   c.FollowPercent,
		MaxBuyAmountBNB: decimal.NewFromFloat(c.MaxBuyAmountBNB),
		TrackedWallets:  wallets,
		TrackAnyWhale:   c.TrackAnyWhale,
		MaxFollowDelay:  time.Duration(c.MaxFollowDelaySec) * time.Second,
		MaxDailyFollows: c.MaxDailyFollows,
		SellWindow:      time.Duration(c.SellWindowMinutes) * time.Minute,
	}
}

func (c MonitorConfig) Build() monitor.Config {
	return monitor.Config{
		QueueSize:       c.QueueSize,
		SeenLimit:       c.SeenLimit,
		SlippagePercent: c.SlippagePercent,
		BuyAttempts:     c.BuyAttempts,
	}
}
