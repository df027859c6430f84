// Package account loads and validates the set of configured mail
// accounts. The registry is the only owner of Account records; sessions
// reference accounts by ID and never mutate them.
package account

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/model"
)

// envAccounts is a shorthand for configuring accounts without a config
// file: a comma-separated list of address:password pairs. Host, port
// and security come from the companion IMAP_* variables.
const (
	envAccounts = "EMAIL_ACCOUNTS"
	envHost     = "IMAP_HOST"
	envPort     = "IMAP_PORT"
	envTLS      = "IMAP_TLS"
)

// Registry turns raw configuration into validated Account records.
type Registry struct {
	cfg *model.AppConfig
	log *logrus.Entry
}

// NewRegistry creates a registry over the given configuration.
func NewRegistry(cfg *model.AppConfig, log *logrus.Logger) *Registry {
	return &Registry{
		cfg: cfg,
		log: log.WithField("component", "registry"),
	}
}

// Load returns the ordered sequence of valid accounts. Malformed
// entries are skipped with a warning, never fatal to the whole load.
// An empty result means there is nothing to synchronize; callers must
// not treat it as an error.
func (r *Registry) Load() []model.Account {
	var accounts []model.Account

	for i, a := range r.cfg.Accounts {
		if a.ID == "" {
			a.ID = fmt.Sprintf("account-%d", len(accounts)+1)
		}
		if err := validate(a); err != nil {
			r.log.WithError(err).WithField("entry", i).
				Warn("skipping malformed account entry")
			continue
		}
		accounts = append(accounts, a)
	}

	accounts = append(accounts, r.fromEnv(len(accounts))...)
	return accounts
}

// fromEnv parses the EMAIL_ACCOUNTS shorthand. Each entry is
// "address:password"; connection settings are shared via IMAP_HOST,
// IMAP_PORT and IMAP_TLS.
func (r *Registry) fromEnv(offset int) []model.Account {
	raw := os.Getenv(envAccounts)
	if raw == "" {
		return nil
	}

	host := os.Getenv(envHost)
	if host == "" {
		host = "imap.gmail.com"
	}
	port := 993
	if p := os.Getenv(envPort); p != "" {
		if _, err := fmt.Sscanf(p, "%d", &port); err != nil {
			r.log.WithField("value", p).Warn("invalid IMAP_PORT, using 993")
			port = 993
		}
	}
	security := model.SecurityTLS
	if os.Getenv(envTLS) == "false" {
		security = model.SecurityPlaintext
	}

	var accounts []model.Account
	for _, entry := range strings.Split(raw, ",") {
		addr, pass, ok := strings.Cut(entry, ":")
		a := model.Account{
			ID:       fmt.Sprintf("account-%d", offset+len(accounts)+1),
			Address:  strings.TrimSpace(addr),
			Password: strings.TrimSpace(pass),
			Host:     host,
			Port:     port,
			Security: security,
			Active:   true,
		}
		if !ok {
			r.log.WithField("entry", entry).
				Warn("skipping malformed EMAIL_ACCOUNTS entry")
			continue
		}
		if err := validate(a); err != nil {
			r.log.WithError(err).Warn("skipping malformed EMAIL_ACCOUNTS entry")
			continue
		}
		accounts = append(accounts, a)
	}
	return accounts
}

// validate enforces the registry contract: non-empty address, non-empty
// credential, valid port.
func validate(a model.Account) error {
	if a.Address == "" {
		return fmt.Errorf("account %s: empty address", a.ID)
	}
	if a.Password == "" {
		return fmt.Errorf("account %s: empty password", a.ID)
	}
	if a.Port < 1 || a.Port > 65535 {
		return fmt.Errorf("account %s: invalid port %d", a.ID, a.Port)
	}
	if a.Host == "" {
		return fmt.Errorf("account %s: empty host", a.ID)
	}
	return nil
}
