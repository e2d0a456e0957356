package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/photoremix/internal/database"
	"github.com/digkill/photoremix/internal/models"
)

type AssetRepository struct {
	q       database.Querier
	dialect database.Dialect
}

func NewAssetRepository(db *database.DB) *AssetRepository {
	return &AssetRepository{q: db, dialect: db.Dialect}
}

// WithTx returns a copy of the repository bound to tx.
func (r *AssetRepository) WithTx(tx *sql.Tx) *AssetRepository {
	return &AssetRepository{q: tx, dialect: r.dialect}
}

const assetColumns = `id, owner, storage_handle, content_type, width, height, size_bytes, is_generated,
COALESCE(original_id, ''), COALESCE(generation_status, ''), COALESCE(generation_error, ''), generation_attempts,
credit_held, sharing_enabled, share_expires_at, is_featured, featured_at, is_disabled_by_admin, created_at, updated_at`

func scanAsset(s scanner) (*models.Asset, error) {
	var (
		a        models.Asset
		status   string
		expires  sql.NullTime
		featured sql.NullTime
	)
	err := s.Scan(&a.ID, &a.Owner, &a.StorageHandle, &a.ContentType, &a.Width, &a.Height, &a.SizeBytes, &a.IsGenerated,
		&a.OriginalID, &status, &a.GenerationError, &a.GenerationAttempts,
		&a.CreditHeld, &a.SharingEnabled, &expires, &a.IsFeatured, &featured, &a.IsDisabledByAdmin, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.GenerationStatus = models.GenerationStatus(status)
	a.ShareExpiresAt = timePtr(expires)
	a.FeaturedAt = timePtr(featured)
	return &a, nil
}

func (r *AssetRepository) Insert(ctx context.Context, a *models.Asset) error {
	const query = `
INSERT INTO assets (id, owner, storage_handle, content_type, width, height, size_bytes, is_generated,
original_id, generation_status, generation_error, generation_attempts, credit_held, sharing_enabled,
share_expires_at, is_featured, featured_at, is_disabled_by_admin, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	ts := now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = ts
	}
	a.UpdatedAt = ts
	_, err := r.q.ExecContext(ctx, query, a.ID, a.Owner, a.StorageHandle, a.ContentType, a.Width, a.Height, a.SizeBytes, a.IsGenerated,
		a.OriginalID, string(a.GenerationStatus), a.GenerationError, a.GenerationAttempts, a.CreditHeld, a.SharingEnabled,
		nullTime(a.ShareExpiresAt), a.IsFeatured, nullTime(a.FeaturedAt), a.IsDisabledByAdmin, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

func (r *AssetRepository) Get(ctx context.Context, id string) (*models.Asset, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan asset: %w", err)
	}
	return a, nil
}

// GetGeneratedFor returns the generated record of an original, if any.
func (r *AssetRepository) GetGeneratedFor(ctx context.Context, originalID string) (*models.Asset, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE original_id = ?`, originalID)
	a, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan generated asset: %w", err)
	}
	return a, nil
}

func (r *AssetRepository) ListOriginalsByOwner(ctx context.Context, owner string, limit, offset int) ([]models.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE owner = ? AND is_generated = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	return r.list(ctx, query, owner, false, limit, offset)
}

// ListFeatured returns publicly listable assets, most recently featured first.
func (r *AssetRepository) ListFeatured(ctx context.Context, limit, offset int) ([]models.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE is_featured = ? AND is_disabled_by_admin = ? ORDER BY featured_at DESC, id DESC LIMIT ? OFFSET ?`
	return r.list(ctx, query, true, false, limit, offset)
}

func (r *AssetRepository) ListByStatus(ctx context.Context, status models.GenerationStatus) ([]models.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE is_generated = ? AND generation_status = ? ORDER BY created_at ASC`
	return r.list(ctx, query, false, string(status))
}

// ListStaleProcessing returns originals that entered processing before cutoff.
func (r *AssetRepository) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]models.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE is_generated = ? AND generation_status = ? AND updated_at < ? ORDER BY updated_at ASC`
	return r.list(ctx, query, false, string(models.GenerationProcessing), cutoff.UTC())
}

func (r *AssetRepository) list(ctx context.Context, query string, args ...any) ([]models.Asset, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, *a)
	}
	return assets, rows.Err()
}

// CountByStatus counts originals per generation status.
func (r *AssetRepository) CountByStatus(ctx context.Context) (map[models.GenerationStatus]int, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT generation_status, COUNT(*) FROM assets WHERE is_generated = ? GROUP BY generation_status`, false)
	if err != nil {
		return nil, fmt.Errorf("count assets: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.GenerationStatus]int)
	for rows.Next() {
		var (
			status sql.NullString
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan asset count: %w", err)
		}
		counts[models.GenerationStatus(status.String)] = n
	}
	return counts, rows.Err()
}

// Transition moves an original from one status to another. It reports false
// when the row is missing or is no longer in the expected status. Moving back
// to pending clears the previous error.
func (r *AssetRepository) Transition(ctx context.Context, id string, from, to models.GenerationStatus) (bool, error) {
	query := `UPDATE assets SET generation_status = ?, updated_at = ? WHERE id = ? AND is_generated = ? AND generation_status = ?`
	if to == models.GenerationPending {
		query = `UPDATE assets SET generation_status = ?, generation_error = NULL, updated_at = ? WHERE id = ? AND is_generated = ? AND generation_status = ?`
	}
	res, err := r.q.ExecContext(ctx, query, string(to), now(), id, false, string(from))
	if err != nil {
		return false, fmt.Errorf("transition asset: %w", err)
	}
	return affected(res)
}

// MarkCompleted consumes the reserved credit and clears any previous error.
func (r *AssetRepository) MarkCompleted(ctx context.Context, id string) (bool, error) {
	const query = `
UPDATE assets SET generation_status = ?, generation_error = NULL, credit_held = ?, updated_at = ?
WHERE id = ? AND is_generated = ? AND generation_status = ?`
	res, err := r.q.ExecContext(ctx, query, string(models.GenerationCompleted), false, now(), id, false, string(models.GenerationProcessing))
	if err != nil {
		return false, fmt.Errorf("mark asset completed: %w", err)
	}
	return affected(res)
}

// MarkFailed moves an original from `from` to failed, records reason and
// drops the reservation flag. Only one caller can win the transition for a
// given failure, so a true result is a distinct failure event.
func (r *AssetRepository) MarkFailed(ctx context.Context, id string, from models.GenerationStatus, reason string) (bool, error) {
	const query = `
UPDATE assets SET generation_status = ?, generation_error = ?, credit_held = ?, updated_at = ?
WHERE id = ? AND is_generated = ? AND generation_status = ?`
	res, err := r.q.ExecContext(ctx, query, string(models.GenerationFailed), reason, false, now(), id, false, string(from))
	if err != nil {
		return false, fmt.Errorf("mark asset failed: %w", err)
	}
	return affected(res)
}

// RecordAutoAttempt bumps the attempt counter of a failed original whose
// counter still equals expected, optionally putting it back to pending.
func (r *AssetRepository) RecordAutoAttempt(ctx context.Context, id string, expected int, requeue bool) (bool, error) {
	status := models.GenerationFailed
	if requeue {
		status = models.GenerationPending
	}
	const query = `
UPDATE assets SET generation_attempts = generation_attempts + 1, generation_status = ?, updated_at = ?
WHERE id = ? AND is_generated = ? AND generation_status = ? AND generation_attempts = ?`
	res, err := r.q.ExecContext(ctx, query, string(status), now(), id, false, string(models.GenerationFailed), expected)
	if err != nil {
		return false, fmt.Errorf("record auto attempt: %w", err)
	}
	return affected(res)
}

func (r *AssetRepository) UpdateSharing(ctx context.Context, id string, enabled bool, expiresAt *time.Time) error {
	const query = `UPDATE assets SET sharing_enabled = ?, share_expires_at = ?, updated_at = ? WHERE id = ?`
	if _, err := r.q.ExecContext(ctx, query, enabled, nullTime(expiresAt), now(), id); err != nil {
		return fmt.Errorf("update sharing: %w", err)
	}
	return nil
}

func (r *AssetRepository) SetFeatured(ctx context.Context, id string, featured bool) (bool, error) {
	var at *time.Time
	if featured {
		ts := now()
		at = &ts
	}
	const query = `UPDATE assets SET is_featured = ?, featured_at = ?, updated_at = ? WHERE id = ?`
	res, err := r.q.ExecContext(ctx, query, featured, nullTime(at), now(), id)
	if err != nil {
		return false, fmt.Errorf("set featured: %w", err)
	}
	return affected(res)
}

func (r *AssetRepository) SetDisabledByAdmin(ctx context.Context, id string, disabled bool) (bool, error) {
	const query = `UPDATE assets SET is_disabled_by_admin = ?, updated_at = ? WHERE id = ?`
	res, err := r.q.ExecContext(ctx, query, disabled, now(), id)
	if err != nil {
		return false, fmt.Errorf("set moderation: %w", err)
	}
	return affected(res)
}
