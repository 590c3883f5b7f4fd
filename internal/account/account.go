// Package account registers users, authenticates them, and manages their
// per-user settings: the AI service key and the encrypted third-party
// credential pair.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/logging"
	"github.com/JakeFAU/qa-harvester/internal/validation"
	"github.com/JakeFAU/qa-harvester/internal/vault"
)

// Passwords hashes and verifies passwords.
type Passwords interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) error
}

// Tokens issues bearer tokens.
type Tokens interface {
	Issue(caller harvest.Caller) (string, time.Time, error)
}

// Registration is the sign-up request.
type Registration struct {
	Username string `json:"username" validate:"required,min=3,max=64,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// Session is returned by Login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      Profile   `json:"user"`
}

// Profile is the caller-visible view of a user. Secrets are reported by presence only.
type Profile struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	HasAPIKey      bool      `json:"has_api_key"`
	APIKeyHint     string    `json:"api_key_hint,omitempty"`
	HasCredentials bool      `json:"has_credentials"`
	CreatedAt      time.Time `json:"created_at"`
}

// Service implements the account operations.
type Service struct {
	users     harvest.UserStore
	passwords Passwords
	tokens    Tokens
	vault     harvest.Vault
	ids       harvest.IDGenerator
	clock     harvest.Clock
	logger    *zap.Logger
}

// Config wires the Service collaborators.
type Config struct {
	Users     harvest.UserStore
	Passwords Passwords
	Tokens    Tokens
	Vault     harvest.Vault
	IDs       harvest.IDGenerator
	Clock     harvest.Clock
	Logger    *zap.Logger
}

// New validates cfg and returns a Service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Users == nil:
		return nil, errors.New("account: user store is required")
	case cfg.Passwords == nil:
		return nil, errors.New("account: password service is required")
	case cfg.Tokens == nil:
		return nil, errors.New("account: token service is required")
	case cfg.Vault == nil:
		return nil, errors.New("account: vault is required")
	case cfg.IDs == nil:
		return nil, errors.New("account: id generator is required")
	case cfg.Clock == nil:
		return nil, errors.New("account: clock is required")
	}
	return &Service{
		users:     cfg.Users,
		passwords: cfg.Passwords,
		tokens:    cfg.Tokens,
		vault:     cfg.Vault,
		ids:       cfg.IDs,
		clock:     cfg.Clock,
		logger:    logging.OrNop(cfg.Logger).Named("account"),
	}, nil
}

// Register creates a user. Usernames are case-insensitive and must be unique.
func (s *Service) Register(ctx context.Context, reg Registration) (Profile, error) {
	reg.Username = strings.ToLower(strings.TrimSpace(reg.Username))
	if err := validation.Struct(reg); err != nil {
		return Profile{}, err
	}
	hash, err := s.passwords.Hash(reg.Password)
	if err != nil {
		return Profile{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Profile{}, fmt.Errorf("generate user id: %w", err)
	}
	user := harvest.User{ID: id, Username: reg.Username, PasswordHash: hash, CreatedAt: s.clock.Now()}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, harvest.ErrConflict) {
			return Profile{}, harvest.Conflict("username already taken")
		}
		return Profile{}, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user registered", logging.UserID(id))
	return profileOf(user), nil
}

// Login verifies the password and issues a token. Unknown users and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.users.GetUserByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		if errors.Is(err, harvest.ErrNotFound) {
			return Session{}, harvest.Unauthorized("invalid username or password")
		}
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return Session{}, err
	}
	token, expires, err := s.tokens.Issue(harvest.Caller{UserID: user.ID, Username: user.Username})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: token, ExpiresAt: expires, User: profileOf(user)}, nil
}

// Me returns the caller's profile.
func (s *Service) Me(ctx context.Context, caller harvest.Caller) (Profile, error) {
	user, err := s.load(ctx, caller)
	if err != nil {
		return Profile{}, err
	}
	return profileOf(user), nil
}

// SetAPIKey stores the caller's AI service key.
func (s *Service) SetAPIKey(ctx context.Context, caller harvest.Caller, key string) (Profile, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Profile{}, harvest.Validation("api_key", "api_key is required")
	}
	return s.updateAPIKey(ctx, caller, key)
}

// DeleteAPIKey clears the caller's AI service key.
func (s *Service) DeleteAPIKey(ctx context.Context, caller harvest.Caller) (Profile, error) {
	return s.updateAPIKey(ctx, caller, "")
}

func (s *Service) updateAPIKey(ctx context.Context, caller harvest.Caller, key string) (Profile, error) {
	if _, err := s.load(ctx, caller); err != nil {
		return Profile{}, err
	}
	if err := s.users.UpdateAPIKey(ctx, caller.UserID, key); err != nil {
		return Profile{}, fmt.Errorf("update api key: %w", err)
	}
	s.logger.Info("api key updated", logging.UserID(caller.UserID), zap.Bool("cleared", key == ""))
	return s.Me(ctx, caller)
}

// SetCredentials encrypts and stores the caller's third-party credential pair.
func (s *Service) SetCredentials(ctx context.Context, caller harvest.Caller, creds harvest.Credentials) (Profile, error) {
	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" || creds.Secret == "" {
		return Profile{}, harvest.Validation("credentials", "email and password are required")
	}
	return s.updateCredentials(ctx, caller, creds)
}

// DeleteCredentials removes the caller's stored credential pair.
func (s *Service) DeleteCredentials(ctx context.Context, caller harvest.Caller) (Profile, error) {
	return s.updateCredentials(ctx, caller, harvest.Credentials{})
}

func (s *Service) updateCredentials(ctx context.Context, caller harvest.Caller, creds harvest.Credentials) (Profile, error) {
	if _, err := s.load(ctx, caller); err != nil {
		return Profile{}, err
	}
	email, secret, err := vault.EncryptPair(s.vault, creds)
	if err != nil {
		return Profile{}, err
	}
	if err := s.users.UpdateCredentials(ctx, caller.UserID, email, secret); err != nil {
		return Profile{}, fmt.Errorf("update credentials: %w", err)
	}
	s.logger.Info("credentials updated", logging.UserID(caller.UserID), zap.Bool("cleared", creds.Empty()))
	return s.Me(ctx, caller)
}

func (s *Service) load(ctx context.Context, caller harvest.Caller) (harvest.User, error) {
	if !caller.Known() {
		return harvest.User{}, harvest.Unauthorized("authentication required")
	}
	user, err := s.users.GetUser(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, harvest.ErrNotFound) {
			return harvest.User{}, harvest.Unauthorized("account no longer exists")
		}
		return harvest.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func profileOf(u harvest.User) Profile {
	p := Profile{
		ID:             u.ID,
		Username:       u.Username,
		HasAPIKey:      u.APIKey != "",
		HasCredentials: u.HasCredentials(),
		CreatedAt:      u.CreatedAt,
	}
	if len(u.APIKey) > 8 {
		p.APIKeyHint = "…" + u.APIKey[len(u.APIKey)-4:]
	}
	return p
}
