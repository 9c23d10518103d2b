// Package browser manages per-account Chrome sessions through go-rod.
// Each account keeps its own profile directory so platform logins
// persist across restarts. A weighted semaphore caps how many Chrome
// instances run at once.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"golang.org/x/sync/semaphore"

	"github.com/circadianhq/circadian/internal/config"
	"github.com/circadianhq/circadian/internal/domain"
	"github.com/circadianhq/circadian/internal/secrets"
)

const defaultMaxSessions = 4

// CredentialLogin is the store credential name holding an account's
// sealed platform login secret, written by `circadian admin
// set-credential`.
const CredentialLogin = "platform_password"

// CredentialSource provides sealed credential blobs, typically the
// persistence store.
type CredentialSource interface {
	GetCredential(ctx context.Context, account, name string) ([]byte, error)
}

// Pool caps concurrent Chrome instances across all accounts. When a
// credential source and seal key are set, each session unseals its
// account's platform login at Start.
type Pool struct {
	cfg     config.Browser
	sem     *semaphore.Weighted
	creds   CredentialSource // nil disables credential loading
	sealKey string
	log     *slog.Logger
}

// NewPool creates a pool sized by cfg.MaxSessions. creds may be nil and
// sealKey empty; sessions then run on persisted profiles alone.
func NewPool(cfg config.Browser, creds CredentialSource, sealKey string, log *slog.Logger) *Pool {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	return &Pool{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(maxSessions),
		creds:   creds,
		sealKey: sealKey,
		log:     log,
	}
}

// Session returns the lifecycle handle for one account. The handle owns
// a pool slot from the first successful Start until Close.
func (p *Pool) Session(account string) *Session {
	return &Session{
		pool:    p,
		account: account,
		log:     p.log.With("account", account),
	}
}

// Session is one account's Chrome instance. Implements session.Lifecycle.
type Session struct {
	pool    *Pool
	account string
	log     *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	launch  *launcher.Launcher
	holding bool   // owns a pool slot
	login   []byte // unsealed platform credential, wiped on Close
}

// Start launches Chrome and connects to it. Starting an already-healthy
// session is a no-op; a stale one is torn down and relaunched. The
// account's sealed platform credential, when stored, is unsealed here so
// it is ready before the first action needs it.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		if _, err := s.browser.Version(); err == nil {
			return nil
		}
		s.log.Warn("stale browser connection, relaunching")
		s.teardownLocked()
	}

	if !s.holding {
		if err := s.pool.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquire browser slot: %w", err)
		}
		s.holding = true
	}

	if err := s.loadCredentialLocked(ctx); err != nil {
		// The persisted profile may still carry a live login; browse-only
		// accounts never need the credential at all.
		s.log.Warn("platform credential unavailable", "error", err)
	}

	if err := s.launchLocked(); err != nil {
		s.pool.sem.Release(1)
		s.holding = false
		return err
	}

	s.log.Info("browser session started", "headless", s.pool.cfg.Headless)
	return nil
}

// Restart tears the session down and brings it back up, keeping the
// pool slot so recovery cannot be starved by other accounts.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	s.teardownLocked()
	s.mu.Unlock()

	return s.Start(ctx)
}

// Healthy reports whether Chrome still answers on the devtools socket.
func (s *Session) Healthy(_ context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil {
		return false
	}
	_, err := s.browser.Version()
	return err == nil
}

// Close shuts Chrome down, wipes the unsealed credential, and releases
// the pool slot.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()
	s.wipeCredentialLocked()
	if s.holding {
		s.pool.sem.Release(1)
		s.holding = false
	}
	return nil
}

// LoginSecret returns a copy of the account's unsealed platform
// credential. ok is false when no credential was stored or no seal key
// is configured.
func (s *Session) LoginSecret() (secret []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.login == nil {
		return nil, false
	}
	out := make([]byte, len(s.login))
	copy(out, s.login)
	return out, true
}

// loadCredentialLocked fetches and unseals the account's platform
// credential. A missing credential is not an error; restarts reuse the
// already-unsealed value.
func (s *Session) loadCredentialLocked(ctx context.Context) error {
	if s.pool.creds == nil || s.pool.sealKey == "" || s.login != nil {
		return nil
	}

	sealed, err := s.pool.creds.GetCredential(ctx, s.account, CredentialLogin)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load sealed credential: %w", err)
	}

	plain, err := secrets.Open(s.pool.sealKey, sealed)
	if err != nil {
		return fmt.Errorf("unseal credential %s: %w", CredentialLogin, err)
	}

	s.login = plain
	s.log.Debug("platform credential unsealed")
	return nil
}

func (s *Session) wipeCredentialLocked() {
	for i := range s.login {
		s.login[i] = 0
	}
	s.login = nil
}

func (s *Session) launchLocked() error {
	launch := launcher.New().Headless(s.pool.cfg.Headless)
	if s.pool.cfg.Bin != "" {
		launch = launch.Bin(s.pool.cfg.Bin)
	}
	launch = launch.Set(flags.Flag("user-data-dir"), s.profileDir())

	url, err := launch.Launch()
	if err != nil {
		return fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		launch.Kill()
		return fmt.Errorf("connect to chrome: %w", err)
	}

	s.browser = browser
	s.launch = launch
	return nil
}

func (s *Session) teardownLocked() {
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.log.Debug("browser close", "error", err)
		}
		s.browser = nil
	}
	if s.launch != nil {
		s.launch.Kill()
		s.launch = nil
	}
}

// profileDir is the persistent per-account Chrome profile location.
func (s *Session) profileDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, "circadian", "profiles", s.account)
}
