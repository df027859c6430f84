package session

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailsync/internal/model"
)

// RawMessage is one fetched payload before parsing: envelope, flags and
// the raw RFC 822 body bytes.
type RawMessage struct {
	UID      imap.UID
	Envelope *imap.Envelope
	Flags    []imap.Flag
	Body     []byte
	Date     time.Time
}

// Conn is the protocol surface a session needs from a live connection.
// The production implementation wraps an IMAP client; tests substitute
// a fake.
type Conn interface {
	// Login authenticates with the account credentials.
	Login(ctx context.Context) error

	// Select opens the named mailbox read-write.
	Select(ctx context.Context, mailbox string) error

	// SearchSince returns the UIDs of messages received since the
	// given time.
	SearchSince(ctx context.Context, since time.Time) ([]imap.UID, error)

	// SearchUnseen returns the UIDs of messages not yet marked seen.
	SearchUnseen(ctx context.Context) ([]imap.UID, error)

	// Fetch retrieves the full envelope and body for one UID.
	Fetch(ctx context.Context, uid imap.UID) (*RawMessage, error)

	// WaitForMail blocks until the server signals new mail (returns
	// nil), the context is cancelled (returns ctx.Err()), or the
	// connection fails (returns the transport error). A nil return
	// with no new mail is permitted; the session treats it as a
	// recheck and searches for unseen messages.
	WaitForMail(ctx context.Context) error

	// Close tears the connection down. Safe to call concurrently with
	// a blocked WaitForMail, which it must unblock promptly.
	Close() error
}

// Dialer opens a connection for an account. Dial failures are
// transport-level; login happens separately so the session can track
// the authenticating state.
type Dialer func(ctx context.Context, acct model.Account) (Conn, error)

// imapConn implements Conn over go-imap's client.
type imapConn struct {
	account model.Account
	client  *imapclient.Client

	// mailCh receives one token per unilateral EXISTS update while the
	// connection is idling.
	mailCh chan struct{}
}

// DialIMAP opens an IMAP connection honoring the account's security
// mode. It is the production Dialer.
func DialIMAP(_ context.Context, acct model.Account) (Conn, error) {
	c := &imapConn{
		account: acct,
		mailCh:  make(chan struct{}, 1),
	}

	opts := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages == nil {
					return
				}
				select {
				case c.mailCh <- struct{}{}:
				default:
				}
			},
		},
	}

	var (
		client *imapclient.Client
		err    error
	)
	if acct.Security == model.SecurityPlaintext {
		client, err = imapclient.DialInsecure(acct.Addr(), opts)
	} else {
		client, err = imapclient.DialTLS(acct.Addr(), opts)
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", acct.Addr(), err)
	}

	c.client = client
	return c, nil
}

func (c *imapConn) Login(_ context.Context) error {
	if err := c.client.Login(c.account.Address, c.account.Password).Wait(); err != nil {
		return fmt.Errorf("login %s: %w", c.account.Address, err)
	}
	return nil
}

func (c *imapConn) Select(_ context.Context, mailbox string) error {
	if _, err := c.client.Select(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", mailbox, err)
	}
	return nil
}

func (c *imapConn) SearchSince(_ context.Context, since time.Time) ([]imap.UID, error) {
	data, err := c.client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching since %s: %w", since.Format(time.DateOnly), err)
	}
	return data.AllUIDs(), nil
}

func (c *imapConn) SearchUnseen(_ context.Context) ([]imap.UID, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	data, err := c.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching unseen: %w", err)
	}
	return data.AllUIDs(), nil
}

func (c *imapConn) Fetch(_ context.Context, uid imap.UID) (*RawMessage, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		Envelope:     true,
		Flags:        true,
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := c.client.Fetch(imap.UIDSetNum(uid), fetchOpts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("uid %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting uid %d: %w", uid, err)
	}

	raw := &RawMessage{
		UID:      buf.UID,
		Envelope: buf.Envelope,
		Flags:    buf.Flags,
		Body:     buf.FindBodySection(bodySection),
		Date:     buf.InternalDate,
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching uid %d: %w", uid, err)
	}
	return raw, nil
}

func (c *imapConn) WaitForMail(ctx context.Context) error {
	idleCmd, err := c.client.Idle()
	if err != nil {
		return fmt.Errorf("starting idle: %w", err)
	}

	idleDone := make(chan error, 1)
	go func() { idleDone <- idleCmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = idleCmd.Close()
		<-idleDone
		return ctx.Err()
	case <-c.mailCh:
		if err := idleCmd.Close(); err != nil {
			return fmt.Errorf("ending idle: %w", err)
		}
		<-idleDone
		return nil
	case err := <-idleDone:
		// The server ended the idle on its own. Not an error: the
		// session rechecks for unseen mail and idles again.
		if err != nil {
			return fmt.Errorf("idle: %w", err)
		}
		return nil
	}
}

func (c *imapConn) Close() error {
	return c.client.Close()
}
