// ABOUTME: Merges a snapshot read with the live change feed of one collection
// ABOUTME: Buffers early events, re-reads after reconnects, and degrades instead of failing

package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
	"github.com/Danieldaguy/Chatroom-Testing/internal/realtime"
)

// Status describes how trustworthy a reconciled view currently is.
type Status int

const (
	// StatusLoading means no snapshot has been merged yet.
	StatusLoading Status = iota
	// StatusLive means the view holds the snapshot plus every event since.
	StatusLive
	// StatusDegraded means the snapshot could not be read; the view shows
	// live events only and may be missing history.
	StatusDegraded
	// StatusReconnecting means the feed was lost and a new subscription is
	// being made.
	StatusReconnecting
	// StatusOffline means the resubscription budget is spent. The view
	// keeps what it has.
	StatusOffline
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusLive:
		return "live"
	case StatusDegraded:
		return "degraded"
	case StatusReconnecting:
		return "reconnecting"
	case StatusOffline:
		return "offline"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Delta is one change to apply to a collection's view. Inserts are sorted
// and unique by key; applying them with View.Insert is idempotent.
type Delta struct {
	Collection chat.Collection
	Inserts    []chat.Message
	Status     Status
}

// Subscription is a live feed subscription.
type Subscription interface {
	Close()
}

// Feed opens change-feed subscriptions.
type Feed interface {
	Subscribe(topic chat.Topic, h realtime.Handler) (Subscription, error)
}

// Loader reads a snapshot. Retryable failures wrap chat.ErrTransientFetch.
type Loader interface {
	Load(ctx context.Context, topic chat.Topic) ([]chat.Message, error)
}

// clientFeed adapts a realtime.Client to Feed.
type clientFeed struct {
	c *realtime.Client
}

// FeedFrom returns a Feed backed by c.
func FeedFrom(c *realtime.Client) Feed {
	return clientFeed{c: c}
}

func (f clientFeed) Subscribe(topic chat.Topic, h realtime.Handler) (Subscription, error) {
	return f.c.SubscribeTable(topic, h)
}

// Default retry budgets.
const (
	DefaultSnapshotAttempts    = 4
	DefaultResubscribeAttempts = 5
	DefaultBackoffMin          = 200 * time.Millisecond
	DefaultBackoffMax          = 5 * time.Second
)

// Config wires a Reconciler.
type Config struct {
	Topic  chat.Topic
	Feed   Feed
	Loader Loader

	// Post runs fn on the owner goroutine. Every Reconciler method and every
	// callback into Apply runs there.
	Post func(fn func())

	// Apply receives each Delta on the owner goroutine.
	Apply func(Delta)

	SnapshotAttempts    int
	ResubscribeAttempts int
	BackoffMin          time.Duration
	BackoffMax          time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Reconciler produces Deltas for one topic from a snapshot and the feed.
// It is driven entirely from the owner goroutine given by Config.Post.
type Reconciler struct {
	cfg     Config
	backoff func(time.Duration, int) time.Duration
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	loads  sync.WaitGroup

	// owner goroutine state
	sub          Subscription
	subGen       int
	snapGen      int
	live         bool
	buffer       []chat.Message
	degraded     bool
	reconnecting bool
	offline      bool
	resubs       int
	resubTimer   clock.Timer
	closed       bool
	status       Status
}

// New creates a Reconciler. Call Start on the owner goroutine.
func New(cfg Config) *Reconciler {
	if cfg.SnapshotAttempts <= 0 {
		cfg.SnapshotAttempts = DefaultSnapshotAttempts
	}
	if cfg.ResubscribeAttempts <= 0 {
		cfg.ResubscribeAttempts = DefaultResubscribeAttempts
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = DefaultBackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = max(DefaultBackoffMax, cfg.BackoffMin)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		cfg:     cfg,
		backoff: retry.ExpBackoff(cfg.BackoffMin, cfg.BackoffMax, 2, true),
		logger:  cfg.Logger.With("component", "reconcile", "topic", cfg.Topic.String()),
		ctx:     ctx,
		cancel:  cancel,
		status:  StatusLoading,
	}
}

// Start opens the subscription and issues the first snapshot read without
// waiting for either.
func (r *Reconciler) Start() {
	r.subscribe()
	r.requestSnapshot()
}

// Status returns the current status.
func (r *Reconciler) Status() Status {
	return r.status
}

// Close ends the subscription and abandons any snapshot in flight. No
// Delta is applied after Close returns.
func (r *Reconciler) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.status = StatusClosed
	r.cancel()
	if r.resubTimer != nil {
		r.resubTimer.Stop()
	}
	if r.sub != nil {
		r.sub.Close()
		r.sub = nil
	}
	r.loads.Wait()
}

// guard wraps a feed callback so it runs on the owner goroutine and only
// while gen is the current subscription.
func (r *Reconciler) guard(gen int, fn func()) {
	r.cfg.Post(func() {
		if r.closed || gen != r.subGen {
			return
		}
		fn()
	})
}

func (r *Reconciler) subscribe() {
	r.subGen++
	gen := r.subGen

	sub, err := r.cfg.Feed.Subscribe(r.cfg.Topic, realtime.Handler{
		OnInsert: func(m chat.Message) {
			r.guard(gen, func() { r.onInsert(m) })
		},
		OnActive: func(resumed bool) {
			r.guard(gen, func() { r.onActive(resumed) })
		},
		OnError: func(err error) {
			r.guard(gen, func() { r.onLost(err) })
		},
	})
	if err != nil {
		r.logger.Warn("subscribe failed", "error", err)
		r.sub = nil
		if errors.Is(err, realtime.ErrClosed) {
			r.offline = true
			r.reconnecting = false
			r.emit(nil)
			return
		}
		r.onLost(err)
		return
	}
	r.sub = sub
}

func (r *Reconciler) onInsert(m chat.Message) {
	if !r.live {
		r.buffer = append(r.buffer, m)
		return
	}
	r.emit([]chat.Message{m})
}

// onActive follows every confirmed join with a snapshot read, so rows
// committed before the join took effect are not lost.
func (r *Reconciler) onActive(resumed bool) {
	r.resubs = 0
	r.reconnecting = false
	r.offline = false
	if resumed {
		r.logger.Info("feed resumed, re-reading snapshot")
	}
	r.emit(nil)
	r.requestSnapshot()
}

func (r *Reconciler) onLost(err error) {
	r.sub = nil

	if r.resubs >= r.cfg.ResubscribeAttempts {
		r.logger.Warn("feed lost, resubscribe budget spent", "error", err)
		r.reconnecting = false
		r.offline = true
		r.emit(nil)
		return
	}

	r.resubs++
	delay := r.backoff(0, r.resubs)
	r.logger.Info("feed lost, resubscribing", "attempt", r.resubs, "delay", delay, "error", err)

	r.reconnecting = true
	r.emit(nil)

	r.resubTimer = r.cfg.Clock.AfterFunc(delay, func() {
		r.cfg.Post(func() {
			if r.closed || r.sub != nil {
				return
			}
			r.subscribe()
		})
	})
}

func (r *Reconciler) requestSnapshot() {
	r.snapGen++
	gen := r.snapGen

	r.loads.Add(1)
	go func() {
		defer r.loads.Done()
		rows, err := r.load()
		r.cfg.Post(func() {
			if r.closed {
				return
			}
			r.onSnapshot(gen, rows, err)
		})
	}()
}

// load reads the snapshot, retrying transient failures with backoff.
func (r *Reconciler) load() ([]chat.Message, error) {
	var rows []chat.Message
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			var err error
			rows, err = r.cfg.Loader.Load(r.ctx, r.cfg.Topic)
			return err
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, chat.ErrTransientFetch)
		},
		NotifyFunc: func(err error, attempt int) {
			r.logger.Debug("snapshot attempt failed", "attempt", attempt, "error", err)
		},
		Attempts:    r.cfg.SnapshotAttempts,
		Delay:       r.cfg.BackoffMin,
		MaxDelay:    r.cfg.BackoffMax,
		BackoffFunc: r.backoff,
		Clock:       r.cfg.Clock,
		Stop:        r.ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) {
		err = retry.LastError(err)
	}
	return rows, err
}

func (r *Reconciler) onSnapshot(gen int, rows []chat.Message, err error) {
	if err != nil {
		if gen != r.snapGen {
			return
		}
		r.logger.Warn("snapshot unavailable, showing live events only", "error", err)
		r.degraded = true
		batch := r.buffer
		r.buffer = nil
		r.live = true
		r.emit(merge(batch))
		return
	}

	batch := rows
	if !r.live {
		batch = merge(rows, r.buffer)
		r.buffer = nil
		r.live = true
	}
	if gen == r.snapGen {
		r.degraded = false
	}
	r.emit(merge(batch))
}

func (r *Reconciler) currentStatus() Status {
	switch {
	case r.closed:
		return StatusClosed
	case r.offline:
		return StatusOffline
	case r.reconnecting:
		return StatusReconnecting
	case !r.live:
		return StatusLoading
	case r.degraded:
		return StatusDegraded
	default:
		return StatusLive
	}
}

// emit applies inserts, or a bare status change when there are none.
func (r *Reconciler) emit(inserts []chat.Message) {
	status := r.currentStatus()
	if len(inserts) == 0 && status == r.status {
		return
	}
	r.status = status
	r.cfg.Apply(Delta{
		Collection: r.cfg.Topic.Collection,
		Inserts:    inserts,
		Status:     status,
	})
}
