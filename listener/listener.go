// Package listener implements the contract event listeners. A listener persists every contract log it receives
// to the intake log before handling it, so events survive restarts and are handled at least once. It backfills
// from its cursor to the chain head at startup and after every reconnection, then follows new logs through a
// subscription or, when the node cannot push notifications, by polling.
package listener

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tarancss/movo/lib/block"
	"github.com/tarancss/movo/lib/block/types"
	"github.com/tarancss/movo/lib/event"
	"github.com/tarancss/movo/lib/metrics"
	"github.com/tarancss/movo/lib/store"
	"github.com/tarancss/movo/lib/util"
	"github.com/tarancss/movo/listener/cursor"
	"github.com/tarancss/movo/reconcile"
)

// Listener names.
const (
	SENDER   = "sender"
	RECEIVER = "receiver"
)

// Defaults applied to a zero Config.
const (
	DefaultWorkers      = 4
	DefaultChunk        = 2000
	DefaultPollInterval = 5 * time.Second
	DefaultMaxBlocks    = 16
	maxBackoff          = 30 * time.Second
)

// ErrEventNotFound is returned when replaying an unknown intake event.
var ErrEventNotFound = errors.New("intake event not found")

// Decoder identifies and decodes contract logs.
type Decoder interface {
	Topic(name string) (string, error)
	Name(l types.Log) (string, error)
	Decode(l types.Log) (event.Event, error)
}

// Config tunes one listener.
type Config struct {
	Name         string
	Contract     string
	Events       []string // event names handled by the listener
	Workers      int
	Chunk        uint64 // blocks per backfill query
	PollInterval time.Duration
	StartBlock   uint64
	MaxBlocks    int // size of the cursor ring of block hashes
	Timeout      time.Duration
}

// Listener follows the logs of some events of a contract and hands them to a reconcile.Handler.
type Listener struct {
	cfg    Config
	chain  block.Chain
	db     store.Intake
	dec    Decoder
	h      reconcile.Handler
	topics []string
	mu     sync.Mutex // guards cur
	cur    *cursor.Cursor
	jobs   chan store.IntakeEvent
	wg     sync.WaitGroup
}

// New returns a listener. It fails when an event is not in the contract ABI.
func New(cfg Config, chain block.Chain, db store.Intake, dec Decoder, h reconcile.Handler) (*Listener, error) {
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}

	if cfg.Chunk == 0 {
		cfg.Chunk = DefaultChunk
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.MaxBlocks < 1 {
		cfg.MaxBlocks = DefaultMaxBlocks
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = reconcile.DefaultTimeout
	}

	l := &Listener{cfg: cfg, chain: chain, db: db, dec: dec, h: h}

	for _, name := range cfg.Events {
		topic, err := dec.Topic(name)
		if err != nil {
			return nil, fmt.Errorf("listener %s: %w", cfg.Name, err)
		}

		l.topics = append(l.topics, topic)
	}

	return l, nil
}

// Name returns the listener name.
func (l *Listener) Name() string { return l.cfg.Name }

// Run ingests and handles events until ctx is done or the listener is stopped. It resumes the events left
// pending by a previous run first.
func (l *Listener) Run(ctx context.Context) error {
	cur, err := l.openCursor(ctx)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.cur = cur
	l.mu.Unlock()

	l.saveCursor()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.jobs = make(chan store.IntakeEvent, l.cfg.Workers*4) //nolint:gomnd // small queue per worker
	for i := 0; i < l.cfg.Workers; i++ {
		l.wg.Add(1)

		go l.work(ctx)
	}

	defer func() {
		close(l.jobs)
		l.wg.Wait()
		l.saveCursor()
	}()

	if err = l.resume(ctx); err != nil {
		return err
	}

	backoff := time.Second

	for l.cur.Status() == cursor.WORK {
		if err = l.follow(ctx); err == nil || ctx.Err() != nil {
			return nil
		}

		zap.L().Warn("Listener interrupted, reconnecting", zap.String("listener", l.cfg.Name),
			zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return nil
}

// Stop makes Run return once the current step is done.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cur != nil {
		l.cur.Stop()
	}
}

// Cursor returns the listener cursor as stored.
func (l *Listener) Cursor() store.Cursor {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cur == nil {
		return store.Cursor{Listener: l.cfg.Name}
	}

	return l.cur.ToStore()
}

func (l *Listener) openCursor(ctx context.Context) (*cursor.Cursor, error) {
	from := uint64(0)
	if l.cfg.StartBlock > 0 {
		from = l.cfg.StartBlock - 1
	} else {
		// without a start block a new listener begins at the head
		rctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()

		head, err := l.chain.HeadBlock(rctx)
		if err != nil {
			return nil, fmt.Errorf("listener %s: cannot get head block: %w", l.cfg.Name, err)
		}

		from = head
	}

	return cursor.New(ctx, l.cfg.Name, l.cfg.MaxBlocks, from, l.db)
}

// resume queues the events a previous run left pending.
func (l *Listener) resume(ctx context.Context) error {
	es, err := l.db.ListEvents(ctx, store.EventFilter{Listener: l.cfg.Name, Status: store.StatusPending})
	if err != nil {
		return fmt.Errorf("listener %s: cannot list pending events: %w", l.cfg.Name, err)
	}

	if len(es) > 0 {
		zap.L().Info("Resuming pending events", zap.String("listener", l.cfg.Name), zap.Int("events", len(es)))
	}

	for _, e := range es {
		if err = l.enqueue(ctx, e); err != nil {
			return err
		}
	}

	return nil
}

// follow backfills to the head and then follows new logs until an error occurs or ctx is done. Polling also
// sweeps behind the subscription so the cursor only moves over blocks whose logs were all queried.
func (l *Listener) follow(ctx context.Context) error {
	if err := l.backfill(ctx); err != nil {
		return err
	}

	logs := make(chan types.Log, l.cfg.Workers*4) //nolint:gomnd // buffered like the jobs queue

	sub, err := l.chain.SubscribeLogs(ctx, l.query(l.cur.Next(), nil), logs)
	if errors.Is(err, types.ErrNoNotifications) {
		zap.L().Info("Node has no notifications, polling", zap.String("listener", l.cfg.Name),
			zap.Duration("interval", l.cfg.PollInterval))
	} else if err != nil {
		return fmt.Errorf("cannot subscribe: %w", err)
	} else {
		defer sub.Unsubscribe()
	}

	var subErr <-chan error
	if sub != nil {
		subErr = sub.Err()
	}

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for l.cur.Status() == cursor.WORK {
		select {
		case <-ctx.Done():
			return nil
		case err = <-subErr:
			if err == nil {
				err = errors.New("subscription closed")
			}

			return err
		case lg := <-logs:
			if err = l.ingest(ctx, lg); err != nil {
				return err
			}
		case <-ticker.C:
			if err = l.backfill(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

func (l *Listener) query(from uint64, to *big.Int) types.LogQuery {
	return types.LogQuery{Contract: l.cfg.Contract, Topics: l.topics, From: from, To: to}
}

// backfill ingests the logs from the cursor to the head in chunks, advancing the cursor after each chunk.
func (l *Listener) backfill(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	t0 := time.Now()
	head, err := l.chain.HeadBlock(rctx)
	metrics.ObserveChainRead("headBlock", t0)
	cancel()

	if err != nil {
		return fmt.Errorf("cannot get head block: %w", err)
	}

	for from := l.cur.Next(); from <= head && ctx.Err() == nil; {
		to := from + l.cfg.Chunk - 1
		if to > head {
			to = head
		}

		rctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
		t0 = time.Now()
		logs, err := l.chain.FilterLogs(rctx, l.query(from, new(big.Int).SetUint64(to)))
		metrics.ObserveChainRead("filterLogs", t0)
		cancel()

		if err != nil {
			return fmt.Errorf("cannot filter logs %d-%d: %w", from, to, err)
		}

		for _, lg := range logs {
			if err = l.ingest(ctx, lg); err != nil {
				return err
			}
		}

		l.cur.Advance(to)
		l.saveCursor()

		if len(logs) > 0 {
			zap.L().Info("Backfilled", zap.String("listener", l.cfg.Name), zap.Uint64("from", from),
				zap.Uint64("to", to), zap.Int("logs", len(logs)))
		}

		from = to + 1
	}

	return nil
}

func (l *Listener) saveCursor() {
	c := l.cur.ToStore()
	metrics.CursorBlock.WithLabelValues(l.cfg.Name).Set(float64(c.Block))

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.Timeout)
	defer cancel()

	if err := l.db.SaveCursor(ctx, c); err != nil {
		zap.L().Error("Cannot save cursor", zap.String("listener", l.cfg.Name), zap.Error(err))
	}
}

// ingest adds a log to the intake log and queues it. Logs of other events and known logs are skipped. A log
// removed by a reorganisation drops its event unless it was already reconciled.
func (l *Listener) ingest(ctx context.Context, lg types.Log) error {
	name, err := l.dec.Name(lg)
	if err != nil || !util.In(l.cfg.Events, name) {
		zap.L().Debug("Skipping log", zap.String("listener", l.cfg.Name), zap.String("tx", lg.TxHash))

		return nil
	}

	key := event.Key(lg)
	fields := []zap.Field{zap.String("listener", l.cfg.Name), zap.String("event", name), zap.String("key", key)}

	if prev, changed := l.cur.Observe(lg.BlockNumber, lg.BlockHash); changed {
		zap.L().Warn("Block hash changed, chain reorganised", append(fields, zap.Uint64("block", lg.BlockNumber),
			zap.String("previous", prev), zap.String("hash", lg.BlockHash))...)
	}

	e := store.IntakeEvent{
		Key:         key,
		Listener:    l.cfg.Name,
		Name:        name,
		BlockNumber: lg.BlockNumber,
		BlockHash:   lg.BlockHash,
		TxHash:      lg.TxHash,
		LogIndex:    lg.LogIndex,
		Topics:      lg.Topics,
		Data:        lg.Data,
		Removed:     lg.Removed,
	}

	added, err := l.db.AddEvent(ctx, e)
	if err != nil {
		return fmt.Errorf("cannot add intake event %s: %w", key, err)
	}

	if lg.Removed {
		return l.remove(ctx, e, added, fields)
	}

	if !added {
		// a log removed by a reorganisation may be mined again in another block
		restored, err := l.db.RestoreEvent(ctx, e)
		if err != nil {
			return fmt.Errorf("cannot restore intake event %s: %w", key, err)
		}

		if !restored {
			metrics.Duplicates.WithLabelValues("intake").Inc()
			zap.L().Debug("Event already in intake log", fields...)

			return nil
		}

		zap.L().Warn("Removed event included again", append(fields, zap.Uint64("block", lg.BlockNumber))...)
	}

	metrics.EventsReceived.WithLabelValues(l.cfg.Name, name).Inc()
	zap.L().Info("Event received", append(fields, zap.Uint64("block", lg.BlockNumber))...)

	e.Status = store.StatusPending

	return l.enqueue(ctx, e)
}

func (l *Listener) remove(ctx context.Context, e store.IntakeEvent, added bool, fields []zap.Field) error {
	if !added {
		prev, err := l.db.GetEvent(ctx, e.Key)
		if err != nil {
			return fmt.Errorf("cannot get intake event %s: %w", e.Key, err)
		}

		if prev.Status == store.StatusDone {
			zap.L().Warn("Reconciled event removed by reorganisation", fields...)

			return nil
		}
	}

	zap.L().Warn("Event removed by reorganisation", fields...)

	return l.db.RemoveEvent(ctx, e.Key, "removed by chain reorganisation")
}

func (l *Listener) enqueue(ctx context.Context, e store.IntakeEvent) error {
	select {
	case l.jobs <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) work(ctx context.Context) {
	defer l.wg.Done()

	for e := range l.jobs {
		if ctx.Err() != nil {
			// left pending for the next run
			continue
		}

		cur, err := l.db.GetEvent(ctx, e.Key)
		if err == nil && cur.Status != store.StatusPending {
			continue
		}

		_, _ = l.Process(ctx, e)
	}
}

// Process handles one intake event and records its resulting status. Panics are recovered as failures.
func (l *Listener) Process(ctx context.Context, e store.IntakeEvent) (status string, err error) {
	fields := []zap.Field{zap.String("listener", l.cfg.Name), zap.String("event", e.Name), zap.String("key", e.Key)}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			zap.L().Error("Handler panicked", append(fields, zap.Error(err), zap.ByteString("stack", debug.Stack()))...)
		}

		status = Classify(err)
		msg := ""
		if err != nil {
			msg = err.Error()
		}

		if errSet := l.db.SetEventStatus(context.Background(), e.Key, status, msg); errSet != nil {
			zap.L().Error("Cannot record event status", append(fields, zap.Error(errSet))...)
		}

		metrics.EventsProcessed.WithLabelValues(l.cfg.Name, e.Name, status).Inc()
		l.report(status, err, fields)
	}()

	lg := types.Log{
		Address:     l.cfg.Contract,
		Topics:      e.Topics,
		Data:        e.Data,
		BlockNumber: e.BlockNumber,
		BlockHash:   e.BlockHash,
		TxHash:      e.TxHash,
		LogIndex:    e.LogIndex,
	}

	ev, err := l.dec.Decode(lg)
	if err != nil {
		return "", err
	}

	return "", l.h.Handle(ctx, reconcile.NewEventContext(l.cfg.Name, lg), ev)
}

func (l *Listener) report(status string, err error, fields []zap.Field) {
	switch status {
	case store.StatusDone:
		zap.L().Debug("Event reconciled", fields...)
	case store.StatusDropped:
		zap.L().Warn("Event dropped", append(fields, zap.Error(err))...)
	default:
		zap.L().Error("Event failed", append(fields, zap.Error(err))...)
	}
}

// Classify maps the error of a handler to the intake status of the event. Lookup misses and invalid payloads
// are dropped since handling them again gives the same result; anything else failed and may be replayed.
func Classify(err error) string {
	switch {
	case err == nil:
		return store.StatusDone
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, reconcile.ErrInvalidWithdraw),
		errors.Is(err, event.ErrUnknownEvent):
		return store.StatusDropped
	}

	return store.StatusFailed
}

// Replay handles the intake event with the given key again, whatever its status.
func (l *Listener) Replay(ctx context.Context, key string) (string, error) {
	e, err := l.db.GetEvent(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrEventNotFound, key)
	}

	if err != nil {
		return "", err
	}

	if e.Listener != l.cfg.Name {
		return "", fmt.Errorf("%w: %s belongs to listener %s", ErrEventNotFound, key, e.Listener)
	}

	if e.Removed {
		return e.Status, fmt.Errorf("event %s was removed from chain", key)
	}

	return l.Process(ctx, e)
}

// ReplayAll replays every event of the listener in the given status, returning how many ended done.
func (l *Listener) ReplayAll(ctx context.Context, status string) (done int, err error) {
	es, err := l.db.ListEvents(ctx, store.EventFilter{Listener: l.cfg.Name, Status: status})
	if err != nil {
		return 0, fmt.Errorf("cannot list %s events: %w", status, err)
	}

	for _, e := range es {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}

		if e.Removed {
			continue
		}

		if s, _ := l.Process(ctx, e); s == store.StatusDone {
			done++
		}
	}

	return done, nil
}
