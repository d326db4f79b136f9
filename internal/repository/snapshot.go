package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
)

// SaveSnapshot stores s as the pending checkout, replacing whatever occupied the slot.
func (r *Repository) SaveSnapshot(ctx context.Context, s *domain.CheckoutSnapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO checkout_snapshot (slot, id, payload, state, captured_at, claimed_at) VALUES (1, ?, ?, ?, ?, NULL)
		ON CONFLICT(slot) DO UPDATE SET
			id = excluded.id, payload = excluded.payload, state = excluded.state,
			captured_at = excluded.captured_at, claimed_at = NULL`,
		s.ID.String(), string(payload), string(domain.FinalizeStatePending), s.CapturedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns the stored checkout snapshot or domain.ErrNoSnapshot.
func (r *Repository) GetSnapshot(ctx context.Context) (*domain.CheckoutSnapshot, error) {
	var (
		payload   string
		state     string
		claimedAt sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `SELECT payload, state, claimed_at FROM checkout_snapshot WHERE slot = 1`).
		Scan(&payload, &state, &claimedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}

	var s domain.CheckoutSnapshot
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	// the columns are authoritative for the lifecycle; the payload only holds what was captured
	s.State = domain.FinalizeState(state)
	s.ClaimedAt = nil
	if claimedAt.Valid {
		t := time.UnixMilli(claimedAt.Int64).UTC()
		s.ClaimedAt = &t
	}
	return &s, nil
}

// ClaimSnapshot moves snapshot id from Pending to Finalizing. A Finalizing claim older than
// lease is considered abandoned by a crashed process and may be taken over.
// Returns domain.ErrNoSnapshot when id is no longer stored and
// domain.ErrFinalizationInProgress when another finalization holds a live claim.
func (r *Repository) ClaimSnapshot(ctx context.Context, id uuid.UUID, now time.Time, lease time.Duration) (*domain.CheckoutSnapshot, error) {
	nowMs := now.UTC().UnixMilli()
	res, err := r.db.ExecContext(ctx, `
		UPDATE checkout_snapshot SET state = ?, claimed_at = ?
		WHERE slot = 1 AND id = ?
		  AND (state = ? OR (state = ? AND claimed_at < ?))`,
		string(domain.FinalizeStateFinalizing), nowMs, id.String(),
		string(domain.FinalizeStatePending), string(domain.FinalizeStateFinalizing), nowMs-lease.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("failed to claim snapshot: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to claim snapshot: %w", err)
	}
	if affected == 0 {
		current, err := r.GetSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		if current.ID != id {
			return nil, domain.ErrNoSnapshot
		}
		return nil, domain.ErrFinalizationInProgress
	}

	return r.GetSnapshot(ctx)
}

// ReleaseSnapshot hands a Finalizing snapshot back to Pending so it can be retried.
func (r *Repository) ReleaseSnapshot(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE checkout_snapshot SET state = ?, claimed_at = NULL
		WHERE slot = 1 AND id = ? AND state = ?`,
		string(domain.FinalizeStatePending), id.String(), string(domain.FinalizeStateFinalizing))
	if err != nil {
		return fmt.Errorf("failed to release snapshot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to release snapshot: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("release snapshot %s: %w", id, domain.ErrIllegalTransition)
	}
	return nil
}

// DeleteSnapshot removes snapshot id. A snapshot that has since been replaced by a newer
// checkout is left alone. Deleting an absent snapshot is not an error.
func (r *Repository) DeleteSnapshot(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM checkout_snapshot WHERE slot = 1 AND id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
