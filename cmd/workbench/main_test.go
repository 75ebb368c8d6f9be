package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dcompose/workbench/internal/model"
	"github.com/stretchr/testify/require"
)

func TestStoreConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", configName)
	require.False(t, exists(path))

	require.NoError(t, storeConfig(path, model.DefaultConfig()))
	require.True(t, exists(path))
	require.False(t, exists(filepath.Dir(path)), "directories are not config files")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := model.LoadConfig(f)
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig(), cfg)
}

func TestServiceRefArgs(t *testing.T) {
	require.JSONEq(t, `{"sceneName":"shop"}`, string(serviceRef{SceneName: "shop"}.args()))
	require.JSONEq(t, `{"sceneName":"shop","serviceId":"web"}`, string(serviceRef{SceneName: "shop", ServiceID: "web"}.args()))
}
