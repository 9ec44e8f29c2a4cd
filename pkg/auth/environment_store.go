package auth

import (
	"os"
	"time"
)

const (
	envSessionCookie = "FEEDHARVEST_SESSION_COOKIE"
	envSessionAgent  = "FEEDHARVEST_SESSION_USER_AGENT"
)

// EnvironmentStore implements SessionStore over environment variables. It is
// read-only and serves the same cookie for every identity.
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Store(session *Session) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Retrieve(identity string) (*Session, error) {
	cookie := os.Getenv(envSessionCookie)
	if cookie == "" {
		return nil, ErrSessionNotFound
	}
	if identity == "" {
		identity = "default"
	}
	return &Session{
		Identity:     identity,
		Cookie:       cookie,
		UserAgent:    os.Getenv(envSessionAgent),
		LastModified: time.Now(),
	}, nil
}

func (e *EnvironmentStore) List() ([]*Session, error) {
	session, err := e.Retrieve("")
	if err != nil {
		return []*Session{}, nil
	}
	return []*Session{session}, nil
}

func (e *EnvironmentStore) Delete(identity string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(identity string) bool {
	return os.Getenv(envSessionCookie) != ""
}
