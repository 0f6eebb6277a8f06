package linkage

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"carbonlink/core/events"
	"carbonlink/core/types"
	"carbonlink/native/common"
	"carbonlink/observability"
	"carbonlink/observability/metrics"
)

// DefaultBlockInterval converts wall-clock time into logical heights when no
// explicit height source is configured.
const DefaultBlockInterval = 600 * time.Second

// HeightAt returns the logical height for t given the block interval.
// Intervals below one second are treated as one second.
func HeightAt(t time.Time, interval time.Duration) uint64 {
	if interval <= 0 {
		interval = DefaultBlockInterval
	}
	seconds := uint64(interval / time.Second)
	if seconds == 0 {
		seconds = 1
	}
	unix := t.Unix()
	if unix <= 0 {
		return 0
	}
	return uint64(unix) / seconds
}

// Engine coordinates linkage lifecycle transitions on top of the configured
// state backend and external adapters.
type Engine struct {
	state    State
	adapters Adapters
	emitter  events.Emitter
	heightFn func() uint64
	vault    [20]byte
	reserve  [20]byte
	locks    *keyLocks
	adminMu  sync.Mutex
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *metrics.LinkageMetrics
}

// NewEngine creates a new linkage engine with a no-op emitter and the
// wall-clock height source.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		heightFn: defaultHeight,
		locks:    newKeyLocks(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("carbonlink/native/linkage"),
		metrics:  metrics.Linkage(),
	}
}

func defaultHeight() uint64 { return HeightAt(time.Now(), DefaultBlockInterval) }

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state State) { e.state = state }

// SetAdapters configures the ledger, registries and roster consumed by the
// engine.
func (e *Engine) SetAdapters(adapters Adapters) { e.adapters = adapters }

// SetVault configures the account that holds escrowed payments.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetDisputeReserve configures the account that refunds creators when a
// dispute is rejected after the escrow was already released.
func (e *Engine) SetDisputeReserve(addr [20]byte) { e.reserve = addr }

// SetHeightFunc overrides the logical clock. Passing nil restores the
// wall-clock derived height.
func (e *Engine) SetHeightFunc(fn func() uint64) {
	if fn == nil {
		e.heightFn = defaultHeight
		return
	}
	e.heightFn = fn
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the structured logger. Passing nil restores the default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	observability.Events().RecordEvent(event.Type)
	e.emitter.Emit(linkageEvent{evt: event})
}

func (e *Engine) height() uint64 {
	if e == nil || e.heightFn == nil {
		return defaultHeight()
	}
	return e.heightFn()
}

func (e *Engine) requireAdapters() error {
	if !e.adapters.complete() {
		return errNilAdapters
	}
	return nil
}

// operation is the scratch space of one engine call: the staged write set,
// the journal of executed transfers and the events to publish on commit.
type operation struct {
	ctx       context.Context
	engine    *Engine
	tx        StateTx
	height    uint64
	transfers []transfer
	events    []*types.Event
	statuses  []Status
	payouts   []string
	logAttrs  []any
}

func (op *operation) record(evt *types.Event) {
	op.events = append(op.events, evt)
}

func (op *operation) transitioned(l *Linkage, from Status) {
	op.statuses = append(op.statuses, l.Status)
	op.record(newStatusEvent(l, from))
}

// guard rejects the operation while the module is paused.
func (op *operation) guard() error {
	if err := common.Guard(op.tx); err != nil {
		if errors.Is(err, common.ErrModulePaused) {
			return ErrContractPaused
		}
		return err
	}
	return nil
}

// load fetches the linkage or fails with ErrEscrowNotFound.
func (op *operation) load(key Key) (*Linkage, error) {
	l, ok, err := op.tx.Linkage(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return l, nil
}

// run executes fn inside a fresh transaction. When key is non-nil the key's
// lock is held for the whole call. Any error discards the write set and
// reverses the transfers already executed; on success the write set is
// committed and the collected events are published.
func (e *Engine) run(ctx context.Context, name string, key *Key, fn func(op *operation) error) (err error) {
	if e == nil || e.state == nil {
		return errNilState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := e.tracer.Start(ctx, "linkage."+name)
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			if domain := DomainError(err); domain != nil {
				result = "rejected"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		e.metrics.ObserveOperation(name, result, time.Since(start).Seconds())
		span.End()
	}()
	if key != nil {
		span.SetAttributes(
			attribute.String("linkage.flight", key.FlightID),
			attribute.String("linkage.project", key.ProjectID),
		)
		release := e.locks.lock(*key)
		defer release()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := e.state.Begin()
	if err != nil {
		return err
	}
	op := &operation{ctx: ctx, engine: e, tx: tx, height: e.height()}
	if err := fn(op); err != nil {
		tx.Discard()
		op.rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		op.rollback()
		return err
	}

	for _, evt := range op.events {
		e.emit(evt)
	}
	for _, status := range op.statuses {
		e.metrics.ObserveTransition(status.String())
	}
	for _, kind := range op.payouts {
		e.metrics.ObservePayout(kind)
	}
	e.refreshGauges()

	attrs := []any{slog.String("op", name), slog.Uint64("height", op.height)}
	if key != nil {
		attrs = append(attrs, slog.String("flight", key.FlightID), slog.String("project", key.ProjectID))
	}
	attrs = append(attrs, op.logAttrs...)
	e.logger.Info("linkage operation committed", attrs...)
	return nil
}

func (e *Engine) refreshGauges() {
	tx, err := e.state.Begin()
	if err != nil {
		return
	}
	defer tx.Discard()
	if total, err := tx.EscrowTotal(); err == nil {
		f, _ := new(big.Float).SetInt(total).Float64()
		e.metrics.SetEscrowTotal(f)
	}
	if count, err := tx.TotalLinkages(); err == nil {
		e.metrics.SetLinkages(count)
	}
	if paused, err := tx.Paused(); err == nil {
		e.metrics.SetPaused(paused)
	}
}

// view runs a read-only function against a throwaway transaction.
func (e *Engine) view(fn func(tx StateTx) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	tx, err := e.state.Begin()
	if err != nil {
		return err
	}
	defer tx.Discard()
	return fn(tx)
}
