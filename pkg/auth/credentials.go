package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"feedharvest/pkg/config"
)

// Session is the browser session of one feed identity
type Session struct {
	Identity     string    `json:"identity"`
	Cookie       string    `json:"cookie"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// SessionStore is the interface for storing and retrieving sessions
type SessionStore interface {
	// Store saves the session for its identity
	Store(session *Session) error

	// Retrieve gets the session for identity
	Retrieve(identity string) (*Session, error)

	// List returns all stored sessions
	List() ([]*Session, error)

	// Delete removes the session for identity
	Delete(identity string) error

	// Exists checks if a session exists for identity
	Exists(identity string) bool
}

// Manager handles session storage with fallback mechanisms
type Manager struct {
	stores []SessionStore
}

// NewManager builds the store chain selected by cfg.Store:
// "keyring", "file", "env", or "auto" (keyring, then encrypted file, then
// environment).
func NewManager(cfg config.AuthConfig) (*Manager, error) {
	kind := strings.ToLower(cfg.Store)
	var stores []SessionStore

	if kind == "auto" || kind == "keyring" {
		keyringStore, err := NewKeyringStore()
		switch {
		case err == nil:
			stores = append(stores, keyringStore)
		case kind == "keyring":
			return nil, err
		}
	}

	if kind == "auto" || kind == "file" {
		path := cfg.FilePath
		if path == "" {
			configDir, err := getConfigDir()
			if err != nil {
				return nil, fmt.Errorf("failed to get config directory: %w", err)
			}
			path = filepath.Join(configDir, "sessions.enc")
		}
		encryptedStore, err := NewEncryptedFileStore(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create encrypted store: %w", err)
		}
		stores = append(stores, encryptedStore)
	}

	if kind == "auto" || kind == "env" {
		stores = append(stores, NewEnvironmentStore())
	}

	if len(stores) == 0 {
		return nil, fmt.Errorf("unknown auth store: %q", cfg.Store)
	}
	return &Manager{stores: stores}, nil
}

// Store saves the session in the first store that accepts it
func (m *Manager) Store(session *Session) error {
	if session == nil || session.Identity == "" {
		return errors.New("identity is required")
	}
	if session.Cookie == "" {
		return errors.New("session cookie is required")
	}

	session.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(session)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store session: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets the session from the first store that has it
func (m *Manager) Retrieve(identity string) (*Session, error) {
	for _, store := range m.stores {
		if session, err := store.Retrieve(identity); err == nil && session != nil {
			return session, nil
		}
	}
	return nil, fmt.Errorf("%w for identity: %s", ErrSessionNotFound, identity)
}

// Cookie returns the stored cookie value for identity
func (m *Manager) Cookie(ctx context.Context, identity string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	session, err := m.Retrieve(identity)
	if err != nil {
		return "", err
	}
	return session.Cookie, nil
}

// List returns the most recent session per identity across all stores
func (m *Manager) List() ([]*Session, error) {
	byIdentity := make(map[string]*Session)

	for _, store := range m.stores {
		sessions, err := store.List()
		if err != nil {
			continue
		}
		for _, s := range sessions {
			if existing, ok := byIdentity[s.Identity]; !ok || s.LastModified.After(existing.LastModified) {
				byIdentity[s.Identity] = s
			}
		}
	}

	result := make([]*Session, 0, len(byIdentity))
	for _, s := range byIdentity {
		result = append(result, s)
	}
	return result, nil
}

// Delete removes the session from every store
func (m *Manager) Delete(identity string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(identity); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if deleted {
		return nil
	}
	if lastErr != nil && !errors.Is(lastErr, ErrSessionNotFound) && !errors.Is(lastErr, ErrStoreUnavailable) {
		return fmt.Errorf("failed to delete session: %w", lastErr)
	}
	return fmt.Errorf("%w for identity: %s", ErrSessionNotFound, identity)
}

// NormalizeCookie accepts a bare cookie value, a "name=value" pair or a whole
// Cookie header and returns the value of the cookie called name
func NormalizeCookie(raw, name string) (string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "Cookie:")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidSession
	}

	if !strings.Contains(raw, "=") {
		return raw, validCookieValue(raw)
	}

	for _, part := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && k == name {
			v = strings.Trim(v, `"`)
			return v, validCookieValue(v)
		}
	}
	return "", fmt.Errorf("%w: no %s cookie found", ErrInvalidSession, name)
}

func validCookieValue(v string) error {
	if v == "" || strings.ContainsAny(v, " \t\r\n;,") {
		return ErrInvalidSession
	}
	return nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "feedharvest")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "feedharvest")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "feedharvest")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "feedharvest")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// SanitizeSession returns a copy of session with the cookie masked
func SanitizeSession(session *Session) *Session {
	if session == nil {
		return nil
	}
	out := *session
	out.Cookie = maskString(session.Cookie)
	return &out
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidSession   = errors.New("invalid session")
	ErrStoreUnavailable = errors.New("session store unavailable")
)
