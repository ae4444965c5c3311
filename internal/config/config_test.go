package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Equal(t, CompleteTowardTargets, cfg.Propagation.Complete)
	assert.Equal(t, 5*time.Minute, cfg.Deletion.TokenTTL)
	assert.Equal(t, 100, cfg.Search.Limit)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("server:\n  workers: 2\nsearch:\n  limit: 10\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Server.Workers)
	assert.Equal(t, 10, cfg.Search.Limit)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}

func TestFromYAMLRejects(t *testing.T) {
	tests := []struct {
		name string
		yml  string
		want string
	}{
		{"direction", "propagation:\n  complete: up\n", "complete"},
		{"ttl", "deletion:\n  token_ttl: 10ms\n", "token_ttl"},
		{"base path", "server:\n  base_path: v0\n", "base_path"},
		{"workers", "server:\n  workers: 0\n", "workers"},
		{"dev login without secret", "auth:\n  dev_login: true\n", "jwt_secret"},
		{"syntax", "server: [\n", "invalid config yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tt.yml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "blockline.yml"), []byte("auth:\n  allow_user_header: true\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.True(t, cfg.Auth.AllowUserHeader)
}
