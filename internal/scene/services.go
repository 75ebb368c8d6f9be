package scene

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dcompose/workbench/internal/manifest"
	"github.com/dcompose/workbench/internal/model"
)

// AssetsDir is the directory of a service's assets inside its scene.
func (s *Store) AssetsDir(scene, id string) string {
	return filepath.Join(s.Dir(scene), id)
}

func validServiceID(id string) error {
	if err := validName(id); err != nil {
		return fmt.Errorf("%w: service id %q", model.ErrInvalidArgument, id)
	}
	return nil
}

// Service returns the manifest entry of a service defined directly in scene.
func (s *Store) Service(scene, id string) (manifest.Service, error) {
	f, err := s.Manifest(scene)
	if err != nil {
		return manifest.Service{}, err
	}
	svc, ok := f.Services[id]
	if !ok {
		return manifest.Service{}, fmt.Errorf("%s/%s: %w", scene, id, model.ErrServiceNotFound)
	}
	return svc, nil
}

// ServiceCode returns the service body as YAML, the way the editor shows it.
func (s *Store) ServiceCode(scene, id string) (string, error) {
	svc, err := s.Service(scene, id)
	if err != nil {
		return "", err
	}
	return manifest.MarshalService(svc)
}

// CreateService adds the service parsed from code and its asset directory.
func (s *Store) CreateService(scene, id, code string) error {
	if err := validServiceID(id); err != nil {
		return err
	}
	svc, err := manifest.ParseService(code)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidArgument, err)
	}
	f, err := s.Manifest(scene)
	if err != nil {
		return err
	}
	if _, ok := f.Services[id]; ok {
		return fmt.Errorf("%s/%s: %w", scene, id, model.ErrServiceExists)
	}
	f.Services[id] = svc
	if err := os.MkdirAll(s.AssetsDir(scene, id), 0o755); err != nil {
		return fmt.Errorf("creating assets of %s: %w", id, err)
	}
	return s.save(scene, f)
}

// UpdateService replaces service prevID with id parsed from code. Renaming
// moves the asset directory and rewrites the depends_on entries of the
// other services.
func (s *Store) UpdateService(scene, id, prevID, code string) error {
	if err := validServiceID(id); err != nil {
		return err
	}
	svc, err := manifest.ParseService(code)
	if err != nil {
		return fmt.Errorf("%w: %w", model.ErrInvalidArgument, err)
	}
	f, err := s.Manifest(scene)
	if err != nil {
		return err
	}
	if _, ok := f.Services[prevID]; !ok {
		return fmt.Errorf("%s/%s: %w", scene, prevID, model.ErrServiceNotFound)
	}
	if id != prevID {
		if _, ok := f.Services[id]; ok {
			return fmt.Errorf("%s/%s: %w", scene, id, model.ErrServiceExists)
		}
		delete(f.Services, prevID)
		for other, o := range f.Services {
			if dep, ok := o.DependsOn[prevID]; ok {
				delete(o.DependsOn, prevID)
				o.DependsOn[id] = dep
				f.Services[other] = o
			}
		}
		if err := os.Rename(s.AssetsDir(scene, prevID), s.AssetsDir(scene, id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("renaming assets of %s: %w", prevID, err)
		}
	}
	f.Services[id] = svc
	return s.save(scene, f)
}

// DeleteService removes the service, references to it and its assets.
func (s *Store) DeleteService(scene, id string) error {
	f, err := s.Manifest(scene)
	if err != nil {
		return err
	}
	if _, ok := f.Services[id]; !ok {
		return fmt.Errorf("%s/%s: %w", scene, id, model.ErrServiceNotFound)
	}
	delete(f.Services, id)
	for other, o := range f.Services {
		if _, ok := o.DependsOn[id]; ok {
			delete(o.DependsOn, id)
			f.Services[other] = o
		}
	}
	if err := s.save(scene, f); err != nil {
		return err
	}
	if err := validServiceID(id); err == nil {
		if err := os.RemoveAll(s.AssetsDir(scene, id)); err != nil {
			return fmt.Errorf("removing assets of %s: %w", id, err)
		}
	}
	return nil
}

// Assets is a directory tree: a nil value is a file, a non nil map is a
// directory. Encoded as JSON files are null and directories objects.
type Assets map[string]Assets

// Assets returns the asset tree of a service. A service without an asset
// directory has an empty tree.
func (s *Store) Assets(scene, id string) (Assets, error) {
	if _, err := s.Service(scene, id); err != nil {
		return nil, err
	}
	tree, err := readTree(s.AssetsDir(scene, id))
	if errors.Is(err, fs.ErrNotExist) {
		return Assets{}, nil
	}
	return tree, err
}

func readTree(dir string) (Assets, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(Assets, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out[e.Name()] = nil
			continue
		}
		sub, err := readTree(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out[e.Name()] = sub
	}
	return out, nil
}

// AddDependency makes target depend on source with the started condition.
// Both must be reachable from scene; the entry is written to the scene
// defining target.
func (s *Store) AddDependency(scene, target, source string) error {
	return s.editDependency(scene, target, source, func(d manifest.DependsOn) error {
		if _, ok := d[source]; !ok {
			d[source] = manifest.Dependency{Condition: manifest.ConditionStarted}
		}
		return nil
	})
}

// RemoveDependency drops the depends_on entry of target on source.
func (s *Store) RemoveDependency(scene, target, source string) error {
	return s.editDependency(scene, target, source, func(d manifest.DependsOn) error {
		if _, ok := d[source]; !ok {
			return fmt.Errorf("%s does not depend on %s: %w", target, source, model.ErrServiceNotFound)
		}
		delete(d, source)
		return nil
	})
}

// SetDependencyCondition changes the condition of an existing dependency.
func (s *Store) SetDependencyCondition(scene, target, source string, cond manifest.Condition) error {
	if !cond.Valid() {
		return fmt.Errorf("%w: condition %q", model.ErrInvalidArgument, cond)
	}
	return s.editDependency(scene, target, source, func(d manifest.DependsOn) error {
		dep, ok := d[source]
		if !ok {
			return fmt.Errorf("%s does not depend on %s: %w", target, source, model.ErrServiceNotFound)
		}
		dep.Condition = cond
		d[source] = dep
		return nil
	})
}

func (s *Store) editDependency(scene, target, source string, edit func(manifest.DependsOn) error) error {
	if target == source {
		return fmt.Errorf("%w: %s can not depend on itself", model.ErrInvalidArgument, target)
	}
	services, err := s.Services(scene)
	if err != nil {
		return err
	}
	owner := ""
	sourceFound := false
	for _, svc := range services {
		if svc.ID == target && owner == "" {
			owner = svc.SceneName
		}
		if svc.ID == source {
			sourceFound = true
		}
	}
	if owner == "" {
		return fmt.Errorf("%s/%s: %w", scene, target, model.ErrServiceNotFound)
	}
	if !sourceFound {
		return fmt.Errorf("%s/%s: %w", scene, source, model.ErrServiceNotFound)
	}

	f, err := s.Manifest(owner)
	if err != nil {
		return err
	}
	svc := f.Services[target]
	if svc.DependsOn == nil {
		svc.DependsOn = make(manifest.DependsOn)
	}
	if err := edit(svc.DependsOn); err != nil {
		return err
	}
	f.Services[target] = svc
	return s.save(owner, f)
}
