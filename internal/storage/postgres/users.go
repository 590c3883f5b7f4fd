package postgres

import (
	"context"
	"time"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
)

const userColumns = `id, username, password_hash, api_key, encrypted_email, encrypted_secret, created_at`

// CreateUser inserts an account; a duplicate username is ErrConflict.
func (s *Store) CreateUser(ctx context.Context, user harvest.User) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (`+userColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		user.ID, user.Username, user.PasswordHash, user.APIKey,
		user.EncryptedEmail, user.EncryptedSecret, user.CreatedAt,
	)
	if err != nil {
		return classify("insert user", err, "user", user.Username)
	}
	return nil
}

// GetUser fetches a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (harvest.User, error) {
	return s.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

// GetUserByUsername fetches a user by login name.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (harvest.User, error) {
	return s.scanUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (s *Store) scanUser(ctx context.Context, query, key string) (harvest.User, error) {
	var (
		u         harvest.User
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.APIKey,
		&u.EncryptedEmail, &u.EncryptedSecret, &createdAt,
	)
	if err != nil {
		return harvest.User{}, classify("select user", err, "user", key)
	}
	u.CreatedAt = createdAt
	return u, nil
}

// UpdateAPIKey replaces the stored AI-service key.
func (s *Store) UpdateAPIKey(ctx context.Context, userID, apiKey string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET api_key = $2 WHERE id = $1`, userID, apiKey)
	if err != nil {
		return classify("update api key", err, "user", userID)
	}
	if tag.RowsAffected() == 0 {
		return harvest.NotFound("user", userID)
	}
	return nil
}

// UpdateCredentials replaces the encrypted credential pair in one statement.
func (s *Store) UpdateCredentials(ctx context.Context, userID, encryptedEmail, encryptedSecret string) error {
	if (encryptedEmail == "") != (encryptedSecret == "") {
		return harvest.Validation("credentials", "encrypted credentials must be set together")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET encrypted_email = $2, encrypted_secret = $3 WHERE id = $1`,
		userID, encryptedEmail, encryptedSecret,
	)
	if err != nil {
		return classify("update credentials", err, "user", userID)
	}
	if tag.RowsAffected() == 0 {
		return harvest.NotFound("user", userID)
	}
	return nil
}
