// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"clinicmsg/backend/internal/attachment"
	"clinicmsg/backend/internal/models"
	"clinicmsg/backend/internal/storage"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens an isolated in-memory SQLite database with the messaging schema.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite shared cache reports table locks under concurrent writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// NewStorage returns a storage.Service over NewDB with a disk attachment store.
func NewStorage(t *testing.T) *storage.Service {
	t.Helper()

	store, err := attachment.NewDiskStore(t.TempDir(), "http://media.test")
	require.NoError(t, err)
	return storage.NewStorageService(NewDB(t), nil, store)
}

// SeedUser inserts a user with the given role.
func SeedUser(t *testing.T, s *storage.Service, id, name string, role models.Role) *models.User {
	t.Helper()

	u := &models.User{ID: id, Name: name, Role: role, Status: models.StatusOffline}
	require.NoError(t, s.SaveUser(context.Background(), u))
	return u
}
