package trader

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"dex-trade-bot-go/internal/config"
	"dex-trade-bot-go/internal/execution"
	"dex-trade-bot-go/internal/ledger"
	"dex-trade-bot-go/internal/metrics"
	"dex-trade-bot-go/internal/models"
	"dex-trade-bot-go/internal/strategy"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrAlreadyStarted  = errors.New("engine already started")
	ErrNegativeCadence = errors.New("export cadence must not be negative")
)

// State is the scheduler lifecycle. Transitions only move forward.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Ledger is what the scheduler persists to. *ledger.Ledger satisfies it.
type Ledger interface {
	RecordTrade(rec models.TradeRecord) error
	RecordSignal(mode string, payload any) error
	RecordProfit(asset string, estimated decimal.Decimal) error
	ExportAll() (ledger.Export, error)
}

// Executor submits swaps. *execution.Engine satisfies it.
type Executor interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ExecuteSwap(ctx context.Context, req execution.SwapRequest) execution.Result
}

// Options are the scheduler timings.
type Options struct {
	Name         string
	Interval     time.Duration
	ErrorBackoff time.Duration
	ExportEvery  int
}

// OptionsFrom maps the general and export sections.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Name:         "dex-trade-bot",
		Interval:     cfg.CycleInterval(),
		ErrorBackoff: cfg.ErrorBackoff(),
		ExportEvery:  cfg.Export.EveryNCycle,
	}
}

// Engine runs one strategy cycle at a time until stopped.
type Engine struct {
	UUID string
	Name string

	logger   *zap.Logger
	strategy strategy.Strategy
	ledger   Ledger
	executor Executor

	interval time.Duration
	backoff  time.Duration

	state       atomic.Int32
	cycles      atomic.Uint64
	exportEvery atomic.Int64
	startedAt   atomic.Pointer[time.Time]

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	obsMu     sync.RWMutex
	observers []Observer
}

// NewEngine wires a scheduler. Profit mode requires an executor.
func NewEngine(logger *zap.Logger, strat strategy.Strategy, l Ledger, exec Executor, opts Options) (*Engine, error) {
	if strat == nil {
		return nil, fmt.Errorf("%w: strategy", config.ErrMissing)
	}
	if l == nil {
		return nil, fmt.Errorf("%w: ledger", config.ErrMissing)
	}
	if strat.Mode() == config.ModeProfit && exec == nil {
		return nil, fmt.Errorf("%w: executor for profit mode", config.ErrMissing)
	}
	if opts.ExportEvery < 0 {
		return nil, ErrNegativeCadence
	}

	e := &Engine{
		UUID:     uuid.NewString(),
		Name:     opts.Name,
		logger:   logger.Named("engine"),
		strategy: strat,
		ledger:   l,
		executor: exec,
		interval: opts.Interval,
		backoff:  opts.ErrorBackoff,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	e.exportEvery.Store(int64(opts.ExportEvery))
	return e, nil
}

// Start launches the worker. Cycles run under ctx; cancelling it also ends the loop.
func (e *Engine) Start(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	now := time.Now()
	e.startedAt.Store(&now)
	e.logger.Info("Starting cycle loop",
		zap.String("uuid", e.UUID),
		zap.String("strategy", e.strategy.Name()),
		zap.String("mode", string(e.strategy.Mode())),
		zap.Duration("interval", e.interval),
		zap.Int64("export_every", e.exportEvery.Load()),
	)
	go e.run(ctx)
	return nil
}

// Stop asks the worker to finish and blocks until it has exited. The in-flight
// cycle is allowed to complete. Stop is safe to call more than once.
func (e *Engine) Stop() {
	if e.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		e.stopOnce.Do(func() { close(e.stopCh) })
		close(e.done)
		return
	}
	if e.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		e.logger.Info("Stop requested")
	}
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.done
}

// Done is closed once the worker has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) State() State { return State(e.state.Load()) }

// StartTime is when Start succeeded, or the zero time before that.
func (e *Engine) StartTime() time.Time {
	if t := e.startedAt.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

// Cycles is the number of completed cycles.
func (e *Engine) Cycles() uint64 { return e.cycles.Load() }

func (e *Engine) Mode() config.Mode { return e.strategy.Mode() }

func (e *Engine) StrategyName() string { return e.strategy.Name() }

// ExportEvery is the current export cadence; 0 disables periodic exports.
func (e *Engine) ExportEvery() int { return int(e.exportEvery.Load()) }

// SetExportEvery changes the cadence. The worker picks it up at its next cycle.
func (e *Engine) SetExportEvery(n int) error {
	if n < 0 {
		return ErrNegativeCadence
	}
	e.exportEvery.Store(int64(n))
	e.logger.Info("Export cadence changed", zap.Int("every", n))
	return nil
}

// ExportNow runs an export pass on the caller's goroutine.
func (e *Engine) ExportNow() (ledger.Export, error) {
	return e.export("manual")
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	defer e.state.Store(int32(StateStopped))

	for {
		if e.State() != StateRunning || ctx.Err() != nil {
			e.logger.Info("Cycle loop stopped", zap.Uint64("cycles", e.cycles.Load()))
			return
		}

		wait := e.interval
		if err := e.safeIterate(ctx); err != nil {
			metrics.CycleErrorsTotal.WithLabelValues(string(e.strategy.Mode())).Inc()
			e.logger.Error("Cycle failed", zap.Error(err))
			e.emit(Event{Kind: EventCycleError, Err: err, Message: err.Error()})
			wait = e.backoff
		}

		if !e.sleep(ctx, wait) {
			e.logger.Info("Cycle loop stopped", zap.Uint64("cycles", e.cycles.Load()))
			return
		}
	}
}

// sleep waits for d and reports false if woken by a stop request or ctx.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-e.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) safeIterate(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Cycle panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return e.iterate(ctx)
}

// iterate runs one cycle: evaluate, record, trade or report, count, export.
func (e *Engine) iterate(ctx context.Context) error {
	mode := e.strategy.Mode()
	res, err := e.strategy.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("evaluate %s strategy: %w", e.strategy.Name(), err)
	}

	e.logger.Info("Cycle result", zap.String("mode", string(mode)), zap.Stringer("result", res))
	e.emit(Event{Kind: EventResult, Result: &res, Message: res.String()})
	// Ledger failures are logged and counted by the ledger itself.
	_ = e.ledger.RecordSignal(string(mode), res.Payload())

	switch mode {
	case config.ModeProfit:
		for _, opp := range res.Opportunities {
			if err := e.trade(ctx, opp); err != nil {
				return err
			}
		}
	case config.ModeSignal:
		if res.Notable() {
			msg := fmt.Sprintf("signal decision: %s %s", res.Decision.Action, res.Decision.AmountBase)
			e.logger.Info("Signal decision",
				zap.String("action", string(res.Decision.Action)),
				zap.String("asset", res.Decision.Asset),
				zap.String("amount", res.Decision.AmountBase.String()),
			)
			e.emit(Event{Kind: EventDecision, Result: &res, Message: msg})
		}
	}

	n := e.cycles.Add(1)
	metrics.CyclesTotal.WithLabelValues(string(mode)).Inc()
	if every := e.exportEvery.Load(); every > 0 && n%uint64(every) == 0 {
		// Export failures do not fail the cycle.
		_, _ = e.export("periodic")
	}
	return nil
}

// trade gates one opportunity on gas cost, executes it and records the outcome.
func (e *Engine) trade(ctx context.Context, opp strategy.Opportunity) error {
	gasWei, err := e.executor.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}
	gasCost := decimal.NewFromBigInt(gasWei, -18)
	l := e.logger.With(
		zap.String("asset", opp.Asset),
		zap.String("action", string(opp.Action)),
		zap.String("delta", opp.Delta.String()),
		zap.String("gas_cost", gasCost.String()),
	)

	if !e.strategy.ShouldTrade(gasCost, opp.Delta.Abs()) {
		l.Info("Opportunity below gas margin, skipping")
		return nil
	}

	res := e.executor.ExecuteSwap(ctx, execution.SwapRequest{
		Asset:    common.HexToAddress(opp.Asset),
		Action:   opp.Action,
		GasPrice: gasWei,
	})
	rec := models.TradeRecord{
		Asset:    opp.Asset,
		Action:   string(opp.Action),
		Delta:    opp.Delta,
		GasPrice: decimal.NewFromBigInt(gasWei, 0),
		TxRef:    res.String(),
		Success:  !execution.IsFailure(res),
	}
	_ = e.ledger.RecordTrade(rec)

	outcome := "success"
	if !rec.Success {
		outcome = "failure"
	}
	metrics.TradesTotal.WithLabelValues(rec.Action, outcome).Inc()
	l.Info("Executed opportunity", zap.String("tx", rec.TxRef), zap.Bool("success", rec.Success))
	e.emit(Event{Kind: EventTrade, Trade: &rec, Message: fmt.Sprintf("executed %s %s -> tx %s", rec.Action, rec.Asset, rec.TxRef)})

	profit, err := e.strategy.EstimateProfit(opp)
	switch {
	case errors.Is(err, strategy.ErrProfitEstimateUnsupported):
	case err != nil:
		l.Warn("Profit estimation failed", zap.Error(err))
	default:
		_ = e.ledger.RecordProfit(opp.Asset, profit)
	}
	return nil
}

func (e *Engine) export(trigger string) (ledger.Export, error) {
	exp, err := e.ledger.ExportAll()
	if err != nil {
		e.logger.Error("Ledger export failed", zap.String("trigger", trigger), zap.Error(err))
		e.emit(Event{Kind: EventExport, Err: err, Message: err.Error()})
		return exp, err
	}
	e.logger.Info("Ledger exported", zap.String("trigger", trigger), zap.String("suffix", exp.Suffix), zap.Strings("files", exp.Files))
	e.emit(Event{Kind: EventExport, Export: &exp, Message: "exported " + exp.Suffix})
	return exp, nil
}
