package scene_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dcompose/workbench/internal/manifest"
	"github.com/dcompose/workbench/internal/model"
	"github.com/dcompose/workbench/internal/scene"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *scene.Store {
	t.Helper()
	s, err := scene.NewStore(filepath.Join(t.TempDir(), "scenes"))
	require.NoError(t, err)
	return s
}

// writeScene creates a scene with a raw manifest.
func writeScene(t *testing.T, s *scene.Store, name, yml string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(s.Dir(name), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(name), manifest.FileName), []byte(yml), 0o644))
}

func TestCreateListDelete(t *testing.T) {
	s := newStore(t)

	_, err := s.Create("shop")
	require.NoError(t, err)
	_, err = s.Create("blog")
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "not-a-scene"), 0o755))

	_, err = s.Create("shop")
	require.ErrorIs(t, err, model.ErrSceneExists)

	for _, bad := range []string{"", ".", "..", "a/b", `a\b`} {
		_, err = s.Create(bad)
		require.ErrorIs(t, err, model.ErrInvalidSceneName, bad)
	}

	scenes, err := s.List()
	require.NoError(t, err)
	require.Equal(t, []scene.Scene{
		{Name: "blog", Path: s.Dir("blog")},
		{Name: "shop", Path: s.Dir("shop")},
	}, scenes)

	ids, err := s.ServiceIDs("shop")
	require.NoError(t, err)
	require.Empty(t, ids)

	require.NoError(t, s.Delete("blog"))
	require.ErrorIs(t, s.Delete("blog"), model.ErrSceneNotFound)

	_, err = s.Manifest("blog")
	require.ErrorIs(t, err, model.ErrSceneNotFound)
}

func TestServiceIDs_transitive(t *testing.T) {
	s := newStore(t)
	// diamond: top includes left and right, both include base
	writeScene(t, s, "top", "include:\n  - ../left/docker-compose.yml\n  - path: ../right/docker-compose.yml\nservices:\n  web: {}\n")
	writeScene(t, s, "left", "include:\n  - ../base/docker-compose.yml\nservices:\n  api: {}\n")
	writeScene(t, s, "right", "include:\n  - ../base/docker-compose.yml\nservices:\n  worker: {}\n  api: {}\n")
	writeScene(t, s, "base", "services:\n  db: {}\n")

	ids, err := s.ServiceIDs("top")
	require.NoError(t, err)
	require.Equal(t, []string{"api", "db", "web", "worker"}, ids)

	services, err := s.Services("left")
	require.NoError(t, err)
	require.Equal(t, []scene.Service{
		{ID: "api", DependsOn: []string{}, SceneName: "left"},
		{ID: "db", DependsOn: []string{}, SceneName: "base"},
	}, services)

	included, err := s.Included("top")
	require.NoError(t, err)
	require.Equal(t, []scene.Scene{
		{Name: "left", Path: s.Dir("left")},
		{Name: "right", Path: s.Dir("right")},
	}, included)
}

func TestServiceIDs_cycle(t *testing.T) {
	s := newStore(t)
	writeScene(t, s, "a", "include:\n  - ../b/docker-compose.yml\nservices:\n  x: {}\n")
	writeScene(t, s, "b", "include:\n  - ../a/docker-compose.yml\nservices:\n  y: {}\n")
	writeScene(t, s, "self", "include:\n  - ./docker-compose.yml\n")

	_, err := s.ServiceIDs("a")
	require.ErrorIs(t, err, model.ErrCyclicInclude)

	// an include of the scene's own manifest resolves to itself
	_, err = s.ServiceIDs("self")
	require.ErrorIs(t, err, model.ErrCyclicInclude)
}

func TestServiceIDs_ignoresForeignIncludes(t *testing.T) {
	s := newStore(t)
	writeScene(t, s, "a", "include:\n  - /etc/compose/docker-compose.yml\n  - common/docker-compose.yml\nservices:\n  x: {}\n")

	ids, err := s.ServiceIDs("a")
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, ids)
}

func TestImportDetach(t *testing.T) {
	s := newStore(t)
	writeScene(t, s, "shop", "services:\n  web: {}\n")
	writeScene(t, s, "db", "services:\n  postgres: {}\n")
	writeScene(t, s, "clash", "services:\n  web: {}\n")

	require.NoError(t, s.Import("shop", "db"))
	ids, err := s.ServiceIDs("shop")
	require.NoError(t, err)
	require.Equal(t, []string{"postgres", "web"}, ids)

	err = s.Import("shop", "clash")
	require.ErrorIs(t, err, model.ErrOverlappingServices)
	require.ErrorContains(t, err, "web")

	require.ErrorIs(t, s.Import("shop", "shop"), model.ErrCyclicInclude)
	require.ErrorIs(t, s.Import("db", "shop"), model.ErrOverlappingServices)

	writeScene(t, s, "empty", "services: {}\n")
	require.NoError(t, s.Import("empty", "shop"))
	require.ErrorIs(t, s.Import("db", "empty"), model.ErrOverlappingServices)

	require.NoError(t, s.Detach("shop", "db"))
	ids, err = s.ServiceIDs("shop")
	require.NoError(t, err)
	require.Equal(t, []string{"web"}, ids)
	require.ErrorIs(t, s.Detach("shop", "db"), model.ErrSceneNotFound)

	f, err := s.Manifest("shop")
	require.NoError(t, err)
	require.Empty(t, f.Include)
}

func TestImport_cycleWithoutServices(t *testing.T) {
	s := newStore(t)
	writeScene(t, s, "a", "services: {}\n")
	writeScene(t, s, "b", "include:\n  - ../a/docker-compose.yml\nservices: {}\n")

	require.ErrorIs(t, s.Import("a", "b"), model.ErrCyclicInclude)
}

func TestNotify(t *testing.T) {
	s := newStore(t)
	_, err := s.Create("shop")
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[string]bool)
	done := make(chan error, 1)
	ctx := t.Context()
	go func() {
		done <- s.Notify(ctx, func(name string) {
			mu.Lock()
			seen[name] = true
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		writeScene(t, s, "shop", "services:\n  web: {}\n")
		mu.Lock()
		defer mu.Unlock()
		return seen["shop"]
	}, 5*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		_ = os.Mkdir(s.Dir("blog"), 0o755)
		mu.Lock()
		defer mu.Unlock()
		return seen["blog"]
	}, 5*time.Second, 50*time.Millisecond)
}
