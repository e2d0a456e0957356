package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/digkill/photoremix/internal/database"
	"github.com/digkill/photoremix/internal/models"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db))
	return db
}

func newOriginal(owner string) *models.Asset {
	return &models.Asset{
		ID:               uuid.NewString(),
		Owner:            owner,
		StorageHandle:    "photos/" + uuid.NewString() + ".jpg",
		ContentType:      "image/jpeg",
		SizeBytes:        1024,
		GenerationStatus: models.GenerationPending,
		CreditHeld:       true,
		SharingEnabled:   true,
	}
}
