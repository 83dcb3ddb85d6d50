// Package metrics exposes prometheus counters for the trading loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_cycles_total", Help: "Completed scheduler cycles"},
		[]string{"mode"},
	)
	CycleErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_cycle_errors_total", Help: "Cycles aborted by an error"},
		[]string{"mode"},
	)
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trader_trades_total", Help: "Swap attempts by action and outcome"},
		[]string{"action", "result"},
	)
	OracleFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "oracle_fallback_total", Help: "Prices served from the synthetic fallback"},
		[]string{"reason"},
	)
	LedgerWriteErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ledger_write_errors_total", Help: "Failed ledger inserts"},
		[]string{"kind"},
	)
	ExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ledger_exports_total", Help: "Ledger export passes"},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal, CycleErrorsTotal, TradesTotal, OracleFallbacksTotal, LedgerWriteErrorsTotal, ExportsTotal)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
