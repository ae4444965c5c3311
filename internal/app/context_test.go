package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockline/internal/config"
)

func TestOpenUsesWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	yml := "propagation:\n  complete: sources\ndeletion:\n  token_ttl: 30s\n"
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(yml), 0o644))

	w, err := Open(context.Background(), Options{Dir: dir})
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, config.CompleteTowardSources, w.Config.Propagation.Complete)
	assert.Equal(t, 30*time.Second, w.Config.Deletion.TokenTTL)
	assert.Equal(t, "/v0", w.Config.Server.BasePath)
	assert.FileExists(t, filepath.Join(dir, ".blockline", "blockline.db"))
}

func TestOpenAppliesOverrides(t *testing.T) {
	w, err := Open(context.Background(), Options{
		Dir:      t.TempDir(),
		Override: func(c *config.Config) { c.Search.Limit = 7 },
	})
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, 7, w.Config.Search.Limit)
	assert.Equal(t, 7, w.Engine.Config.Search.Limit)

	_, err = Open(context.Background(), Options{
		Dir:      t.TempDir(),
		Override: func(c *config.Config) { c.Propagation.Complete = "sideways" },
	})
	assert.Error(t, err)
}

func TestOpenRequiresExplicitConfig(t *testing.T) {
	_, err := Open(context.Background(), Options{Dir: t.TempDir(), ConfigPath: filepath.Join(t.TempDir(), "missing.yml")})
	assert.Error(t, err)
}

func TestBootstrapOnlyFirstUser(t *testing.T) {
	ctx := context.Background()
	t.Setenv("TZ", "")
	w, err := Open(ctx, Options{Dir: t.TempDir()})
	require.NoError(t, err)
	defer w.Close()

	u, created, err := w.Bootstrap(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice", u.Name)
	assert.Equal(t, "UTC", u.TZ)

	u, created, err = w.Bootstrap(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "alice", u.Name)

	u, created, err = w.Bootstrap(ctx, "mallory")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, u.Name)
}
