// ABOUTME: Session state owned by a single goroutine: views, presence, draft and identity
// ABOUTME: Feed events, snapshot results and local sends are all queued onto that goroutine

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/Danieldaguy/Chatroom-Testing/internal/chat"
	"github.com/Danieldaguy/Chatroom-Testing/internal/presence"
	"github.com/Danieldaguy/Chatroom-Testing/internal/realtime"
	"github.com/Danieldaguy/Chatroom-Testing/internal/reconcile"
	"github.com/Danieldaguy/Chatroom-Testing/internal/snapshot"
)

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("session closed")

// Defaults for optional Config fields.
const (
	DefaultRoom       = "lobby"
	DefaultEchoWindow = 30 * time.Second
)

// collections are the views every session holds.
var collections = []chat.Collection{chat.CollectionMessages, chat.CollectionDirectMessages}

// Config wires a Session.
type Config struct {
	Backend   Backend
	Transport *realtime.Client

	Username  string
	AvatarURL string

	// Room is the presence channel joined as Username.
	Room string

	PageSize            int
	SnapshotAttempts    int
	ResubscribeAttempts int
	BackoffMin          time.Duration
	BackoffMax          time.Duration

	// EchoWindow bounds how far apart a provisional entry and a confirmed
	// row without a client token may be and still be matched.
	EchoWindow time.Duration

	Clock  clock.Clock
	Logger *slog.Logger

	// Callbacks run on the owner goroutine. They must not call Session
	// methods that wait for a result (CurrentView, Presence, Status, the
	// send commands); the data they need is passed in.
	OnViewChanged     func(chat.Collection, []chat.Message)
	OnPresenceChanged func([]string)
	OnStatusChanged   func(chat.Collection, reconcile.Status)
}

// Session holds the reconciled views of one user and everything the
// presentation layer reads or commands.
type Session struct {
	cfg     Config
	backend Backend
	rt      *realtime.Client
	loader  *snapshot.Loader
	backoff func(time.Duration, int) time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	inbox     []func()
	closed    bool
	done      chan struct{}
	closeOnce sync.Once

	// owner goroutine state
	views   map[chat.Collection]*reconcile.View
	status  map[chat.Collection]reconcile.Status
	recs    map[chat.Collection]*reconcile.Reconciler
	tracker *presence.Tracker

	presenceSub     *realtime.Subscription
	presenceGen     int
	presenceRetries int
	presenceTimer   clock.Timer

	username  string
	avatarURL string
	draft     string

	// provisional entries by client token
	pending map[string]chat.Message
	// failed is the last send that was not confirmed; resending its text
	// reuses its client token.
	failed chat.Message
}

// New creates a Session and starts loading its views in the background.
// The Session takes ownership of cfg.Transport and closes it in Close.
func New(cfg Config) (*Session, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("session: backend is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("session: transport is required")
	}
	if cfg.Room == "" {
		cfg.Room = DefaultRoom
	}
	if cfg.EchoWindow <= 0 {
		cfg.EchoWindow = DefaultEchoWindow
	}
	if cfg.ResubscribeAttempts <= 0 {
		cfg.ResubscribeAttempts = reconcile.DefaultResubscribeAttempts
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = reconcile.DefaultBackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = max(reconcile.DefaultBackoffMax, cfg.BackoffMin)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := newSession(cfg)
	s.backend = cfg.Backend
	s.rt = cfg.Transport
	s.loader = snapshot.New(cfg.Backend, cfg.PageSize, cfg.Logger)

	go s.loop()
	s.post(s.start)
	return s, nil
}

func newSession(cfg Config) *Session {
	s := &Session{
		cfg:       cfg,
		backoff:   retry.ExpBackoff(cfg.BackoffMin, cfg.BackoffMax, 2, true),
		logger:    cfg.Logger.With("component", "session", "user", cfg.Username),
		done:      make(chan struct{}),
		views:     make(map[chat.Collection]*reconcile.View),
		status:    make(map[chat.Collection]reconcile.Status),
		recs:      make(map[chat.Collection]*reconcile.Reconciler),
		tracker:   presence.New(),
		pending:   make(map[string]chat.Message),
		username:  strings.TrimSpace(cfg.Username),
		avatarURL: cfg.AvatarURL,
	}
	s.cond = sync.NewCond(&s.mu)
	for _, c := range collections {
		s.views[c] = reconcile.NewView()
		s.status[c] = reconcile.StatusLoading
	}
	return s
}

// loop runs queued work in order until Close.
func (s *Session) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.inbox) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.inbox = nil
			s.mu.Unlock()
			return
		}
		fn := s.inbox[0]
		s.inbox[0] = nil
		s.inbox = s.inbox[1:]
		s.mu.Unlock()

		fn()
	}
}

// post queues fn for the owner goroutine. It never blocks and reports
// false once the session is closed.
func (s *Session) post(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.inbox = append(s.inbox, fn)
	s.cond.Signal()
	return true
}

// call runs fn on the owner goroutine and waits for it. It reports false
// if the session closed first.
func (s *Session) call(fn func()) bool {
	ran := make(chan struct{})
	if !s.post(func() {
		fn()
		close(ran)
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-s.done:
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

func (s *Session) start() {
	s.startCollection(chat.CollectionMessages)
	if s.username == "" {
		s.logger.Info("no username, direct messages and presence disabled")
		s.setStatus(chat.CollectionDirectMessages, reconcile.StatusOffline)
		return
	}
	s.startCollection(chat.CollectionDirectMessages)
	s.joinPresence()
}

func (s *Session) topic(c chat.Collection) chat.Topic {
	t := chat.Topic{Collection: c}
	if c == chat.CollectionDirectMessages {
		t.Participant = s.username
	}
	return t
}

func (s *Session) startCollection(c chat.Collection) {
	s.setStatus(c, reconcile.StatusLoading)
	r := reconcile.New(reconcile.Config{
		Topic:               s.topic(c),
		Feed:                reconcile.FeedFrom(s.rt),
		Loader:              s.loader,
		Post:                func(fn func()) { s.post(fn) },
		Apply:               s.applyDelta,
		SnapshotAttempts:    s.cfg.SnapshotAttempts,
		ResubscribeAttempts: s.cfg.ResubscribeAttempts,
		BackoffMin:          s.cfg.BackoffMin,
		BackoffMax:          s.cfg.BackoffMax,
		Clock:               s.cfg.Clock,
		Logger:              s.cfg.Logger,
	})
	s.recs[c] = r
	r.Start()
}

func (s *Session) stopCollection(c chat.Collection) {
	if r := s.recs[c]; r != nil {
		r.Close()
		delete(s.recs, c)
	}
}

// applyDelta merges a reconciler's output into the matching view.
func (s *Session) applyDelta(d reconcile.Delta) {
	v := s.views[d.Collection]
	changed := false
	for _, m := range d.Inserts {
		if s.settle(v, m) {
			changed = true
		}
	}
	if changed {
		s.notifyView(d.Collection)
	}
	s.setStatus(d.Collection, d.Status)
}

func (s *Session) setStatus(c chat.Collection, st reconcile.Status) {
	if s.status[c] == st {
		return
	}
	s.status[c] = st
	s.logger.Debug("status changed", "collection", c, "status", st.String())
	if s.cfg.OnStatusChanged != nil {
		s.cfg.OnStatusChanged(c, st)
	}
}

func (s *Session) notifyView(c chat.Collection) {
	if s.cfg.OnViewChanged != nil {
		s.cfg.OnViewChanged(c, s.views[c].Messages())
	}
}

func (s *Session) notifyPresence() {
	if s.cfg.OnPresenceChanged != nil {
		s.cfg.OnPresenceChanged(s.tracker.Members())
	}
}

// ApplyLocalSend shows msg immediately as a provisional entry. The server's
// confirmed row replaces it when it arrives.
func (s *Session) ApplyLocalSend(msg chat.Message) {
	s.post(func() { s.applyLocal(msg) })
}

// CurrentView returns a copy of the view of collection c.
func (s *Session) CurrentView(c chat.Collection) []chat.Message {
	var out []chat.Message
	s.call(func() {
		if v := s.views[c]; v != nil {
			out = v.Messages()
		}
	})
	return out
}

// Presence returns the users currently present in the room, sorted.
func (s *Session) Presence() []string {
	var out []string
	s.call(func() { out = s.tracker.Members() })
	return out
}

// Status returns the reconciliation status of collection c.
func (s *Session) Status(c chat.Collection) reconcile.Status {
	st := reconcile.StatusClosed
	s.call(func() { st = s.status[c] })
	return st
}

// Draft returns the unsent text.
func (s *Session) Draft() string {
	var d string
	s.call(func() { d = s.draft })
	return d
}

// SetDraft replaces the unsent text.
func (s *Session) SetDraft(text string) {
	s.post(func() { s.draft = text })
}

// Username returns the name messages are sent as.
func (s *Session) Username() string {
	var u string
	s.call(func() { u = s.username })
	return u
}

// AvatarURL returns the profile picture attached to room messages.
func (s *Session) AvatarURL() string {
	var u string
	s.call(func() { u = s.avatarURL })
	return u
}

// SetUsername changes identity. Direct messages are reloaded for the new
// name and the presence channel is rejoined as it.
func (s *Session) SetUsername(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: username is required", chat.ErrValidation)
	}

	ok := s.call(func() {
		if name == s.username {
			return
		}
		s.logger.Info("username changed", "from", s.username, "to", name)
		s.username = name

		s.leavePresence()
		s.stopCollection(chat.CollectionDirectMessages)
		s.views[chat.CollectionDirectMessages].Reset()
		s.dropPending(chat.CollectionDirectMessages)
		s.notifyView(chat.CollectionDirectMessages)

		s.startCollection(chat.CollectionDirectMessages)
		s.joinPresence()
	})
	if !ok {
		return ErrClosed
	}
	return nil
}

// Close stops the owner goroutine, then closes every subscription and the
// transport. No callback runs after Close returns.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.cond.Broadcast()
		s.mu.Unlock()
		<-s.done

		// The owner goroutine has exited, so its state is ours.
		for _, c := range collections {
			s.stopCollection(c)
		}
		s.presenceGen++
		if s.presenceTimer != nil {
			s.presenceTimer.Stop()
		}
		if s.presenceSub != nil {
			s.presenceSub.Close()
			s.presenceSub = nil
		}
		s.tracker.Reset()
		s.rt.Close()
		s.logger.Debug("session closed")
	})
}
