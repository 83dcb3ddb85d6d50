package trader

import (
	"time"

	"dex-trade-bot-go/internal/ledger"
	"dex-trade-bot-go/internal/models"
	"dex-trade-bot-go/internal/strategy"
)

// EventKind classifies what an observer is told about.
type EventKind string

const (
	EventResult     EventKind = "result"
	EventDecision   EventKind = "decision"
	EventTrade      EventKind = "trade"
	EventCycleError EventKind = "cycle_error"
	EventExport     EventKind = "export"
)

// Event is one notification from the worker. Only the field matching Kind is set.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Cycle   uint64
	Message string
	Result  *strategy.Result
	Trade   *models.TradeRecord
	Export  *ledger.Export
	Err     error
}

// Observer receives events synchronously on the emitting goroutine. It must not block.
type Observer func(Event)

// Subscribe registers an observer for all subsequent events.
func (e *Engine) Subscribe(o Observer) {
	e.obsMu.Lock()
	e.observers = append(e.observers, o)
	e.obsMu.Unlock()
}

func (e *Engine) emit(ev Event) {
	ev.Time = time.Now()
	ev.Cycle = e.cycles.Load()
	e.obsMu.RLock()
	observers := e.observers
	e.obsMu.RUnlock()
	for _, o := range observers {
		o(ev)
	}
}
