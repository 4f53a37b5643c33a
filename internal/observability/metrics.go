package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memebot_events_ingested_total",
		Help: "Venue events ingested, by kind and delivery mode",
	}, []string{"kind", "mode"})

	EventsDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memebot_events_deduped_total",
		Help: "Venue logs dropped as duplicates of an already-delivered log",
	})

	RPCRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memebot_rpc_retries_total",
		Help: "RPC read attempts that failed and were retried",
	})

	EndpointSwitches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memebot_rpc_endpoint_switches_total",
		Help: "HTTP RPC endpoint failovers",
	})

	WSReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memebot_ws_reconnects_total",
		Help: "Push-subscription transport reconnect attempts",
	})

	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memebot_trades_total",
		Help: "Trade executions, by side and outcome",
	}, []string{"side", "outcome"})

	NonceResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memebot_nonce_resets_total",
		Help: "Account nonce re-syncs from the chain after a failed trade",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memebot_open_positions",
		Help: "Currently open positions",
	})

	StopLossTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memebot_stop_loss_triggers_total",
		Help: "Stop-loss triggers fired",
	})

	TakeProfitTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "memebot_take_profit_triggers_total",
		Help: "Take-profit levels fired",
	})

	LastBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memebot_last_processed_block",
		Help: "Highest block height the ingestion cursor has passed",
	})
)
