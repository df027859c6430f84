// Package manager owns the collection of per-account sessions. It is
// the only writer of the account-to-session map, serializes start and
// stop against each other, and multiplexes every session's events into
// one outbound stream.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/session"
)

// ErrClosed is returned by start operations after Close. A closed
// manager's event channel is gone; starting a session then would make
// it send on a closed channel.
var ErrClosed = errors.New("manager: closed")

// NotFoundError is returned when a control operation references an
// account identifier the manager does not know.
type NotFoundError struct {
	AccountID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("manager: account %s not found", e.AccountID)
}

// IsNotFound reports whether err (or any error in its chain) is a
// NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// eventBuffer sizes the shared event channel. Sessions block on a full
// buffer outside shutdown, so consumers must keep Events drained.
const eventBuffer = 128

// Option configures a Manager.
type Option func(*Manager)

// WithDialer overrides the connection dialer. Tests use this to
// substitute a fake transport.
func WithDialer(d session.Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// WithLogger sets the logger. Defaults to the standard logrus logger.
func WithLogger(log *logrus.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// Manager aggregates sessions and exposes the start/stop/status
// control surface.
type Manager struct {
	cfg    model.SyncConfig
	dial   session.Dialer
	policy session.RetryPolicy
	log    *logrus.Logger
	events chan model.Event

	// sem caps concurrent connection attempts when configured.
	sem *semaphore.Weighted

	mu       sync.Mutex
	accounts map[string]model.Account
	sessions map[string]*session.Session
	closed   bool
}

// New builds a manager over the given accounts. Accounts are
// registered whether or not they are active; StartAll skips inactive
// ones but StartOne can start any registered account.
func New(accounts []model.Account, cfg model.SyncConfig, opts ...Option) *Manager {
	m := &Manager{
		cfg:      cfg,
		dial:     session.DialIMAP,
		policy:   session.PolicyFromConfig(cfg),
		log:      logrus.StandardLogger(),
		events:   make(chan model.Event, eventBuffer),
		accounts: make(map[string]model.Account, len(accounts)),
		sessions: make(map[string]*session.Session),
	}
	for _, a := range accounts {
		m.accounts[a.ID] = a
	}
	if cfg.MaxConcurrentConnects > 0 {
		m.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentConnects))
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events is the multiplexed stream of session events. Consumers must
// keep it drained; events from different accounts interleave in no
// guaranteed order.
func (m *Manager) Events() <-chan model.Event { return m.events }

// StartAll starts a session per active account. A single account's
// connection failure is handled by that session's own reconnect policy
// and never prevents other accounts from starting.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.log.Warn("ignoring start on a closed manager")
		return
	}

	for id, acct := range m.accounts {
		if !acct.Active {
			m.log.WithField("account", id).Debug("skipping inactive account")
			continue
		}
		m.startLocked(ctx, acct)
	}
}

// StartOne starts or restarts the session for one account. Fails with
// a NotFoundError when the account identifier is unknown, leaving the
// session map untouched.
func (m *Manager) StartOne(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	acct, ok := m.accounts[accountID]
	if !ok {
		return &NotFoundError{AccountID: accountID}
	}

	if existing, ok := m.sessions[accountID]; ok {
		existing.Stop()
		delete(m.sessions, accountID)
	}
	m.startLocked(ctx, acct)
	return nil
}

// StopOne closes the account's connection and removes the session from
// the active set. Stopping an already-stopped or unknown account is a
// no-op, not an error.
func (m *Manager) StopOne(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[accountID]
	if !ok {
		return
	}
	sess.Stop()
	delete(m.sessions, accountID)
}

// StopAll stops every session, bounded by ctx. Used at shutdown so the
// process never exits with half-closed connections.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*session.Session)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			s.Stop()
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping sessions: %w", ctx.Err())
	}
}

// Close releases the event stream and refuses any later starts. Call
// only after StopAll. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.events)
}

// Status snapshots every currently tracked session. Accounts that were
// never started do not appear.
func (m *Manager) Status() []model.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]model.ConnectionStatus, 0, len(m.sessions))
	for _, s := range m.sessions {
		statuses = append(statuses, s.Status())
	}
	return statuses
}

// IsConnected reports whether the account's mailbox is open. False for
// unknown or stopped accounts; never an error.
func (m *Manager) IsConnected(accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[accountID]
	return ok && sess.Connected()
}

// Accounts lists the registered accounts in no particular order.
func (m *Manager) Accounts() []model.Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out
}

// startLocked creates and launches a session. Caller holds m.mu.
func (m *Manager) startLocked(ctx context.Context, acct model.Account) {
	sess := session.New(acct, m.cfg, m.dialer(), m.policy, m.events, m.log)
	m.sessions[acct.ID] = sess
	sess.Start(ctx)
	m.log.WithField("account", acct.ID).Info("session started")
}

// dialer wraps the configured dialer with the optional concurrency
// cap on in-flight connection attempts.
func (m *Manager) dialer() session.Dialer {
	if m.sem == nil {
		return m.dial
	}
	return func(ctx context.Context, acct model.Account) (session.Conn, error) {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer m.sem.Release(1)
		return m.dial(ctx, acct)
	}
}
