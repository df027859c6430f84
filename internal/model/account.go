package model

import (
	"net"
	"strconv"
	"time"
)

// Security identifies how the connection to a mail server is protected.
type Security string

const (
	// SecurityTLS dials the server over implicit TLS (usually port 993).
	SecurityTLS Security = "tls"

	// SecurityPlaintext dials the server without transport encryption.
	// Intended for local test servers only.
	SecurityPlaintext Security = "plaintext"
)

// Account holds the connection settings for one mail account.
// Accounts are loaded once per sync cycle and treated as immutable;
// sessions reference them by ID and never mutate them.
type Account struct {
	// ID is the unique identifier for this account.
	ID string `mapstructure:"id" yaml:"id"`

	// Address is the mailbox address, also used as the login name.
	Address string `mapstructure:"address" yaml:"address"`

	// Password is the login credential.
	Password string `mapstructure:"password" yaml:"password"`

	// Host is the mail server hostname.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the mail server port.
	Port int `mapstructure:"port" yaml:"port"`

	// Security selects the transport mode (tls or plaintext).
	Security Security `mapstructure:"security" yaml:"security"`

	// Active controls whether this account is synchronized.
	Active bool `mapstructure:"active" yaml:"active"`

	// LastSync is the time of the last successful synchronization,
	// if one is known. Zero when the account has never synced.
	LastSync time.Time `mapstructure:"-" yaml:"-"`
}

// Addr returns the host:port dial address for the account.
func (a Account) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ConnectionStatus is a point-in-time snapshot of one account's session,
// computed on demand from live session state.
type ConnectionStatus struct {
	AccountID    string    `json:"accountId"`
	Connected    bool      `json:"isConnected"`
	LastActivity time.Time `json:"lastActivity"`
}
