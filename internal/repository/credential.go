package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrCredentialNotFound = errors.New("no stored credential")

// StoredCredential is the persisted bearer token and the profile the backend returned with it.
type StoredCredential struct {
	Token     string
	Profile   []byte
	UpdatedAt time.Time
}

func (r *Repository) SaveCredential(ctx context.Context, token string, profile []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credential (slot, token, profile, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET token = excluded.token, profile = excluded.profile, updated_at = excluded.updated_at`,
		token, string(profile), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

func (r *Repository) GetCredential(ctx context.Context) (*StoredCredential, error) {
	var (
		cred      StoredCredential
		profile   string
		updatedAt int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT token, profile, updated_at FROM credential WHERE slot = 1`).
		Scan(&cred.Token, &profile, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}
	cred.Profile = []byte(profile)
	cred.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &cred, nil
}

func (r *Repository) DeleteCredential(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM credential`); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
