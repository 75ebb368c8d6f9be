// Package scene manages the scenes directory: one sub-directory per scene
// with a compose manifest and an asset directory per service.
package scene

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/dcompose/workbench/internal/manifest"
	"github.com/dcompose/workbench/internal/model"
)

// Scene is a scene directory.
type Scene struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Service is a service reachable from a scene, directly or through includes.
type Service struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	DependsOn []string `json:"dependsOn"`
	SceneName string   `json:"sceneName"`
}

// Store is rooted at the scenes directory. It holds no state besides the
// root; every call reads the manifests from disk.
type Store struct {
	root string
}

func NewStore(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("scenes directory %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating scenes directory %s: %w", abs, err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory of the scene.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.root, name)
}

func (s *Store) manifestPath(name string) string {
	return filepath.Join(s.root, name, manifest.FileName)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", model.ErrInvalidSceneName, name)
	}
	return nil
}

// List returns every directory of the root holding a manifest, by name.
func (s *Store) List() ([]Scene, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading scenes directory: %w", err)
	}
	var out []Scene
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(s.manifestPath(e.Name())); err != nil {
			continue
		}
		out = append(out, Scene{Name: e.Name(), Path: s.Dir(e.Name())})
	}
	return out, nil
}

// Create makes an empty scene.
func (s *Store) Create(name string) (Scene, error) {
	if err := validName(name); err != nil {
		return Scene{}, err
	}
	dir := s.Dir(name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Scene{}, fmt.Errorf("%s: %w", name, model.ErrSceneExists)
		}
		return Scene{}, fmt.Errorf("creating scene %s: %w", name, err)
	}
	f := &manifest.File{Services: map[string]manifest.Service{}}
	if err := manifest.Save(s.manifestPath(name), f); err != nil {
		_ = os.RemoveAll(dir)
		return Scene{}, err
	}
	return Scene{Name: name, Path: dir}, nil
}

// Delete removes the scene directory with everything in it.
func (s *Store) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if _, err := os.Stat(s.Dir(name)); err != nil {
		return fmt.Errorf("%s: %w", name, model.ErrSceneNotFound)
	}
	if err := os.RemoveAll(s.Dir(name)); err != nil {
		return fmt.Errorf("deleting scene %s: %w", name, err)
	}
	return nil
}

// Manifest loads the manifest of the scene.
func (s *Store) Manifest(name string) (*manifest.File, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	f, err := manifest.Load(s.manifestPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, model.ErrSceneNotFound)
	}
	return f, err
}

func (s *Store) save(name string, f *manifest.File) error {
	return manifest.Save(s.manifestPath(name), f)
}

// includedScene maps an include path of scene name to the scene it points
// to. Includes resolving outside the root, or to the root itself, are not
// scenes.
func (s *Store) includedScene(name, path string) (string, bool) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.Dir(name), path)
	}
	dir := filepath.Dir(filepath.Clean(path))
	rel, err := filepath.Rel(s.root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return "", false
	}
	return rel, true
}

func includePath(name string) string {
	return filepath.ToSlash(filepath.Join("..", name, manifest.FileName))
}

// Included returns the scenes directly included by name.
func (s *Store) Included(name string) ([]Scene, error) {
	f, err := s.Manifest(name)
	if err != nil {
		return nil, err
	}
	var out []Scene
	for _, p := range f.IncludePaths() {
		if inc, ok := s.includedScene(name, p); ok {
			out = append(out, Scene{Name: inc, Path: s.Dir(inc)})
		}
	}
	return out, nil
}

// Import includes other into name. Scenes sharing a service id can not be
// combined.
func (s *Store) Import(name, other string) error {
	if name == other {
		return fmt.Errorf("%w: scene %s can not include itself", model.ErrCyclicInclude, name)
	}
	f, err := s.Manifest(name)
	if err != nil {
		return err
	}
	mine, err := s.ServiceIDs(name)
	if err != nil {
		return err
	}
	theirs, err := s.ServiceIDs(other)
	if err != nil {
		return err
	}
	var overlap []string
	for _, id := range theirs {
		if slices.Contains(mine, id) {
			overlap = append(overlap, id)
		}
	}
	if len(overlap) > 0 {
		return fmt.Errorf("%w: %s", model.ErrOverlappingServices, strings.Join(overlap, ", "))
	}

	// other must not reach name through its own includes
	reach, err := s.reachable(other)
	if err != nil {
		return err
	}
	if slices.Contains(reach, name) {
		return fmt.Errorf("%w: %s already includes %s", model.ErrCyclicInclude, other, name)
	}

	f.Include = append(f.Include, manifest.Include{Path: []string{includePath(other)}})
	return s.save(name, f)
}

// Detach removes the include of other from name.
func (s *Store) Detach(name, other string) error {
	f, err := s.Manifest(name)
	if err != nil {
		return err
	}
	removed := false
	for _, p := range f.IncludePaths() {
		if inc, ok := s.includedScene(name, p); ok && inc == other {
			removed = f.RemoveInclude(p) || removed
		}
	}
	if !removed {
		return fmt.Errorf("%s does not include %s: %w", name, other, model.ErrSceneNotFound)
	}
	return s.save(name, f)
}

// reachable returns the scenes included by name, transitively.
func (s *Store) reachable(name string) ([]string, error) {
	var out []string
	err := s.walk(name, func(scene string, _ *manifest.File) {
		if scene != name {
			out = append(out, scene)
		}
	})
	return out, err
}

// walk visits name and every scene it includes, depth first, each once.
// A scene including one of its ancestors yields model.ErrCyclicInclude.
func (s *Store) walk(name string, visit func(scene string, f *manifest.File)) error {
	visited := make(map[string]bool)
	var stack []string

	var rec func(scene string) error
	rec = func(scene string) error {
		if slices.Contains(stack, scene) {
			return fmt.Errorf("%w: %s", model.ErrCyclicInclude, strings.Join(append(stack, scene), " -> "))
		}
		if visited[scene] {
			return nil
		}
		visited[scene] = true

		f, err := s.Manifest(scene)
		if err != nil {
			return err
		}
		visit(scene, f)

		stack = append(stack, scene)
		defer func() { stack = stack[:len(stack)-1] }()
		for _, p := range f.IncludePaths() {
			inc, ok := s.includedScene(scene, p)
			if !ok {
				continue
			}
			if err := rec(inc); err != nil {
				return err
			}
		}
		return nil
	}
	return rec(name)
}

// Services returns every service reachable from name, tagged with the scene
// defining it.
func (s *Store) Services(name string) ([]Service, error) {
	var out []Service
	err := s.walk(name, func(scene string, f *manifest.File) {
		for _, id := range f.ServiceIDs() {
			svc := f.Services[id]
			out = append(out, Service{
				ID:        id,
				Type:      svc.Type(),
				DependsOn: svc.DependsOn.IDs(),
				SceneName: scene,
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ServiceIDs returns the deduplicated, sorted ids of Services.
func (s *Store) ServiceIDs(name string) ([]string, error) {
	services, err := s.Services(name)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(services))
	for _, svc := range services {
		ids = append(ids, svc.ID)
	}
	sort.Strings(ids)
	return slices.Compact(ids), nil
}
