package config_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkos11/neon/config"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pageserver.toml")
	cfg := config.Default()
	cfg.WorkDir = t.TempDir()
	cfg.RemoteStorageKind = config.RemoteStorageS3
	cfg.RemoteStorageBucket = "layers"

	require.NoError(t, config.Save(path, cfg))

	got, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.WorkDir, got.WorkDir)
	require.Equal(t, config.RemoteStorageS3, got.RemoteStorageKind)
}

func TestOwnerReloadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pageserver.toml")
	cfg := config.Default()
	cfg.WorkDir = t.TempDir()
	require.NoError(t, config.Save(path, cfg))

	owner := config.NewOwner(path)
	require.NoError(t, owner.Reload())
	require.Equal(t, cfg.WorkDir, owner.Get().WorkDir)

	bad := config.Default()
	require.NoError(t, config.Save(path, bad))
	require.Error(t, owner.Reload(), "empty workdir on disk must fail validation")
	require.Equal(t, cfg.WorkDir, owner.Get().WorkDir, "a rejected reload must keep the working config")
}

func TestPersistValidatesBeforeSwap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pageserver.toml")
	owner := config.NewOwner(path)
	err := owner.Persist(func(c *config.Config) { c.WorkDir = "" })
	require.Error(t, err, "empty workdir must fail validation before the swap")
}
