package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/fjod/go_cart/storefront/internal/remote"
	"github.com/fjod/go_cart/storefront/internal/repository"
	log "github.com/sirupsen/logrus"
)

// Repository is the durable slot behind the Store.
type Repository interface {
	SaveCredential(ctx context.Context, token string, profile []byte) error
	GetCredential(ctx context.Context) (*repository.StoredCredential, error)
	DeleteCredential(ctx context.Context) error
	PurgeAll(ctx context.Context) error
}

type Authenticator interface {
	Login(ctx context.Context, email, password string) (*remote.LoginResult, error)
}

// Store holds the bearer credential and the user profile. Reads are served from memory;
// every change is written through to the repository so it survives a restart.
type Store struct {
	mu      sync.RWMutex
	token   string
	profile *remote.UserProfile
	repo    Repository
	logger  *log.Entry
}

func NewStore(repo Repository, logger *log.Entry) *Store {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Store{repo: repo, logger: logger.WithField("component", "credential")}
}

// Restore loads a previously saved credential. Having none is not an error.
func (s *Store) Restore(ctx context.Context) error {
	stored, err := s.repo.GetCredential(ctx)
	if errors.Is(err, repository.ErrCredentialNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore credential: %w", err)
	}

	var profile remote.UserProfile
	if err := json.Unmarshal(stored.Profile, &profile); err != nil {
		// a credential without a readable profile is useless for checkout; drop both
		s.logger.WithError(err).Warn("stored profile unreadable, discarding credential")
		return s.Purge(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = stored.Token
	s.profile = &profile
	return nil
}

// Login authenticates against auth and keeps the issued credential.
func (s *Store) Login(ctx context.Context, auth Authenticator, email, password string) (*remote.UserProfile, error) {
	result, err := auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	profile, err := json.Marshal(result.User)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	if err := s.repo.SaveCredential(ctx, result.AccessToken, profile); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.token = result.AccessToken
	user := result.User
	s.profile = &user
	s.mu.Unlock()

	s.logger.WithField("email", user.Email).Info("logged in")
	return &user, nil
}

// Logout forgets the credential, the profile and any pending checkout snapshot.
func (s *Store) Logout(ctx context.Context) error {
	s.clear()
	if err := s.repo.PurgeAll(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	s.logger.Info("logged out")
	return nil
}

// Purge drops the credential and profile after the backend rejected them.
func (s *Store) Purge(ctx context.Context) error {
	s.clear()
	if err := s.repo.DeleteCredential(ctx); err != nil {
		return fmt.Errorf("purge credential: %w", err)
	}
	return nil
}

func (s *Store) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

func (s *Store) Profile() (remote.UserProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return remote.UserProfile{}, false
	}
	return *s.profile, true
}

func (s *Store) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.profile = nil
}
