// Package session owns the per-account connection state machine:
// connect, authenticate, open the mailbox, backfill a trailing window,
// then idle for server pushes, fetching incrementally on each one.
// Unplanned disconnects re-enter the connect path after a policy delay,
// indefinitely, until the session is explicitly stopped.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/parser"
)

// State is the connection state of a session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateBackfilling
	StateIdle
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateBackfilling:
		return "backfilling"
	case StateIdle:
		return "idle"
	default:
		return "disconnected"
	}
}

// ConnectError reports a failed connect, login or mailbox open. All
// three trigger the same reconnect policy; no distinction is made for
// retry purposes.
type ConnectError struct {
	AccountID string
	Op        string
	Err       error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("account %s: %s failed: %v", e.AccountID, e.Op, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Session drives one account's connection. It owns the connection
// handle exclusively and is the only writer of its own state.
type Session struct {
	account model.Account
	cfg     model.SyncConfig
	dial    Dialer
	policy  RetryPolicy
	events  chan<- model.Event
	log     *logrus.Entry

	mu           sync.Mutex
	state        State
	lastActivity time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a session for the account. Events are published onto the
// given manager-owned channel; the manager guarantees it is drained.
func New(
	acct model.Account,
	cfg model.SyncConfig,
	dial Dialer,
	policy RetryPolicy,
	events chan<- model.Event,
	log *logrus.Logger,
) *Session {
	return &Session{
		account: acct,
		cfg:     cfg,
		dial:    dial,
		policy:  policy,
		events:  events,
		log: log.WithFields(logrus.Fields{
			"component": "session",
			"account":   acct.ID,
		}),
		lastActivity: time.Now(),
		done:         make(chan struct{}),
	}
}

// Start launches the session's run loop. Call at most once.
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.run(s.ctx)
}

// Stop cancels the session and waits for its run loop to exit,
// closing the connection and any pending reconnect timer. Idempotent.
func (s *Session) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Done is closed when the run loop has fully exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Account returns the account this session synchronizes.
func (s *Session) Account() model.Account { return s.account }

// Connected reports whether the mailbox is currently open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateBackfilling || s.state == StateIdle
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status snapshots the session for the status query.
func (s *Session) Status() model.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.ConnectionStatus{
		AccountID:    s.account.ID,
		Connected:    s.state == StateBackfilling || s.state == StateIdle,
		LastActivity: s.lastActivity,
	}
}

// run is the recovery loop: one cycle per connection, a policy delay
// between unplanned disconnects. It only exits on context cancel.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateDisconnected)

	for attempt := 0; ; attempt++ {
		connected, err := s.cycle(ctx)
		s.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}
		if connected {
			attempt = 0
		}

		s.log.WithError(err).Warn("sync cycle failed")
		s.emit(ctx, model.Event{Kind: model.EventSyncError, Err: err})

		delay := s.policy.NextDelay(attempt)
		s.log.WithField("delay", delay).Info("scheduling reconnect")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle runs one full connection lifetime: dial, login, select,
// backfill, then idle/fetch until the connection fails or the context
// is cancelled. connected reports whether the mailbox was opened, so
// the caller can reset the retry counter.
func (s *Session) cycle(ctx context.Context) (connected bool, err error) {
	s.setState(StateConnecting)
	conn, err := s.dial(ctx, s.account)
	if err != nil {
		return false, &ConnectError{AccountID: s.account.ID, Op: "connect", Err: err}
	}
	defer conn.Close()

	s.setState(StateAuthenticating)
	if err := conn.Login(ctx); err != nil {
		return false, &ConnectError{AccountID: s.account.ID, Op: "login", Err: err}
	}
	if err := conn.Select(ctx, s.cfg.Mailbox); err != nil {
		return false, &ConnectError{AccountID: s.account.ID, Op: "select", Err: err}
	}

	s.setState(StateBackfilling)
	s.log.Info("mailbox open")
	s.emit(ctx, model.Event{Kind: model.EventConnected})
	defer s.emit(ctx, model.Event{Kind: model.EventDisconnected})

	// One date-bounded backfill per connection: a consistent starting
	// inventory independent of whatever pushes were missed while
	// disconnected.
	since := time.Now().Add(-s.cfg.BackfillWindow())
	uids, err := conn.SearchSince(ctx, since)
	if err != nil {
		return true, err
	}
	s.fetchBatch(ctx, conn, uids)

	for {
		s.setState(StateIdle)
		if err := conn.WaitForMail(ctx); err != nil {
			return true, err
		}
		if ctx.Err() != nil {
			return true, ctx.Err()
		}

		// Incremental delta only: just what the server hasn't marked
		// seen, never the full window again.
		s.setState(StateBackfilling)
		uids, err := conn.SearchUnseen(ctx)
		if err != nil {
			return true, err
		}
		s.fetchBatch(ctx, conn, uids)
	}
}

// fetchBatch retrieves and parses each UID, then emits the whole batch
// as a single new_emails event. An empty search emits nothing. A
// message that fails to fetch or parse is dropped and logged; it never
// aborts the batch.
func (s *Session) fetchBatch(ctx context.Context, conn Conn, uids []imap.UID) {
	if len(uids) == 0 {
		return
	}

	batch := make([]model.Message, 0, len(uids))
	for _, uid := range uids {
		if ctx.Err() != nil {
			break
		}

		raw, err := conn.Fetch(ctx, uid)
		if err != nil {
			s.log.WithError(err).WithField("uid", uid).Warn("fetch failed, skipping message")
			continue
		}

		msg, err := parser.Parse(parser.Input{
			AccountID: s.account.ID,
			Folder:    s.cfg.Mailbox,
			UID:       raw.UID,
			Envelope:  raw.Envelope,
			Flags:     raw.Flags,
			Body:      raw.Body,
			Date:      raw.Date,
		})
		if err != nil {
			s.log.WithError(err).WithField("uid", uid).Warn("dropping unparseable message")
			continue
		}
		batch = append(batch, *msg)
	}

	s.touch()
	s.log.WithField("count", len(batch)).Info("fetched messages")
	s.emit(ctx, model.Event{Kind: model.EventNewEmails, Messages: batch})
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// emit publishes an event, tagged with the account and timestamp. The
// manager keeps the channel drained; if the buffer is full during
// shutdown the event is dropped rather than blocking the stop.
func (s *Session) emit(ctx context.Context, ev model.Event) {
	ev.AccountID = s.account.ID
	ev.Time = time.Now()

	select {
	case s.events <- ev:
	default:
		select {
		case s.events <- ev:
		case <-ctx.Done():
			s.log.WithField("kind", ev.Kind).Debug("event dropped during shutdown")
		}
	}
}
